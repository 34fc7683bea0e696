package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/desertthunder/plsync/internal/shared"
)

var _ Catalog = (*BreakerCatalog)(nil)

// BreakerCatalog wraps a [Catalog] with a circuit breaker.
//
// The circuit opens after Failures consecutive listing errors and rejects calls with
// [shared.ErrServiceUnavailable] until Timeout elapses. Cancelled calls do not count as failures.
type BreakerCatalog struct {
	next Catalog
	cb   *gobreaker.CircuitBreaker[[]RemoteItem]
}

// BreakerOptions configures a [BreakerCatalog].
type BreakerOptions struct {
	Name     string
	Failures uint32
	Timeout  time.Duration
	Logger   *log.Logger
}

// NewBreakerCatalog wraps next in a circuit breaker.
func NewBreakerCatalog(next Catalog, opts BreakerOptions) *BreakerCatalog {
	if opts.Name == "" {
		opts.Name = "catalog"
	}
	if opts.Failures == 0 {
		opts.Failures = 5
	}
	if opts.Timeout <= 0 {
		opts.Timeout = time.Minute
	}
	logger := opts.Logger
	if logger == nil {
		logger = shared.NewLogger(nil)
	}

	cb := gobreaker.NewCircuitBreaker[[]RemoteItem](gobreaker.Settings{
		Name:        opts.Name,
		MaxRequests: 1,
		Timeout:     opts.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.Failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})

	return &BreakerCatalog{next: next, cb: cb}
}

// ListItems lists through the breaker.
func (b *BreakerCatalog) ListItems(ctx context.Context, remoteSourceID string) ([]RemoteItem, error) {
	items, err := b.cb.Execute(func() ([]RemoteItem, error) {
		return b.next.ListItems(ctx, remoteSourceID)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: catalog circuit %s", shared.ErrServiceUnavailable, b.cb.State())
	}
	return items, err
}

// State returns the breaker state name: closed, half-open or open.
func (b *BreakerCatalog) State() string {
	return b.cb.State().String()
}
