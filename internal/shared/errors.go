package shared

import "fmt"

var (
	ErrNotImplemented = fmt.Errorf("not implemented")

	// Configuration errors
	ErrMissingConfig = fmt.Errorf("configuration not found")
	ErrInvalidConfig = fmt.Errorf("invalid configuration")

	// Lookup and validation errors, surfaced directly to callers
	ErrNotFound          = fmt.Errorf("not found")
	ErrValidation        = fmt.Errorf("validation failed")
	ErrInvalidTransition = fmt.Errorf("invalid status transition")

	// Run outcomes
	ErrCollaboratorFailure = fmt.Errorf("collaborator failure")
	ErrCancelled           = fmt.Errorf("sync cancelled")
	ErrItemSkipped         = fmt.Errorf("item skipped")

	// API and service errors
	ErrAPIRequest         = fmt.Errorf("API request failed")
	ErrServiceUnavailable = fmt.Errorf("service unavailable")

	// Input validation errors
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidArgument = fmt.Errorf("invalid argument")
)
