package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// StartStopper is a component with a Start/Stop lifecycle. scheduler.Scheduler implements it.
type StartStopper interface {
	Start(ctx context.Context) error
	Stop()
}

// SchedulerService adapts a [StartStopper] to suture's Serve pattern.
type SchedulerService struct {
	scheduler StartStopper
}

func NewSchedulerService(scheduler StartStopper) *SchedulerService {
	return &SchedulerService{scheduler: scheduler}
}

// Serve starts the scheduler, blocks until ctx is done, then stops it.
// A failed start is returned so suture restarts the service with backoff.
func (s *SchedulerService) Serve(ctx context.Context) error {
	if err := s.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("scheduler start failed: %w", err)
	}
	<-ctx.Done()
	s.scheduler.Stop()
	return ctx.Err()
}

func (s *SchedulerService) String() string { return "scheduler" }

// Drainer cancels and awaits background work. tasks.Orchestrator implements it.
type Drainer interface {
	CancelAll() int
	Wait(ctx context.Context) error
}

// OrchestratorService holds the orchestrator for the life of the tree and drains it on shutdown:
// every live run is cancelled and awaited for at most the drain timeout.
type OrchestratorService struct {
	orchestrator Drainer
	drainTimeout time.Duration
}

func NewOrchestratorService(orchestrator Drainer, drainTimeout time.Duration) *OrchestratorService {
	if drainTimeout <= 0 {
		drainTimeout = 10 * time.Second
	}
	return &OrchestratorService{orchestrator: orchestrator, drainTimeout: drainTimeout}
}

func (s *OrchestratorService) Serve(ctx context.Context) error {
	<-ctx.Done()

	s.orchestrator.CancelAll()
	drainCtx, cancel := context.WithTimeout(context.Background(), s.drainTimeout)
	defer cancel()
	if err := s.orchestrator.Wait(drainCtx); err != nil {
		return fmt.Errorf("orchestrator drain: %w", err)
	}
	return ctx.Err()
}

func (s *OrchestratorService) String() string { return "orchestrator" }

// HTTPServer matches the lifecycle methods of *http.Server.
type HTTPServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// HTTPService runs an [HTTPServer] until ctx is done, then shuts it down gracefully.
type HTTPService struct {
	server          HTTPServer
	shutdownTimeout time.Duration
}

func NewHTTPService(server HTTPServer, shutdownTimeout time.Duration) *HTTPService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &HTTPService{server: server, shutdownTimeout: shutdownTimeout}
}

func (h *HTTPService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
		defer cancel()
		if err := h.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown failed: %w", err)
		}
		<-errCh
		return ctx.Err()
	}
}

func (h *HTTPService) String() string { return "http-server" }
