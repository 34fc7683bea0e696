package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/desertthunder/plsync/internal/shared"
)

type stubCatalog struct {
	calls int
	err   error
	items []RemoteItem
}

func (s *stubCatalog) ListItems(ctx context.Context, remoteSourceID string) ([]RemoteItem, error) {
	s.calls++
	return s.items, s.err
}

func TestBreakerCatalog(t *testing.T) {
	t.Run("passes through", func(t *testing.T) {
		next := &stubCatalog{items: []RemoteItem{{ID: "a"}}}
		catalog := NewBreakerCatalog(next, BreakerOptions{Failures: 2})

		items, err := catalog.ListItems(context.Background(), "PL1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(items) != 1 {
			t.Errorf("expected 1 item, got %d", len(items))
		}
	})

	t.Run("opens after consecutive failures", func(t *testing.T) {
		next := &stubCatalog{err: fmt.Errorf("%w: status 502", shared.ErrAPIRequest)}
		catalog := NewBreakerCatalog(next, BreakerOptions{Failures: 2, Timeout: time.Hour})

		for range 2 {
			if _, err := catalog.ListItems(context.Background(), "PL1"); !errors.Is(err, shared.ErrAPIRequest) {
				t.Fatalf("expected underlying error, got %v", err)
			}
		}

		_, err := catalog.ListItems(context.Background(), "PL1")
		if !errors.Is(err, shared.ErrServiceUnavailable) {
			t.Fatalf("expected ErrServiceUnavailable once open, got %v", err)
		}
		if next.calls != 2 {
			t.Errorf("open circuit should not call through, got %d calls", next.calls)
		}
		if catalog.State() != "open" {
			t.Errorf("expected open state, got %s", catalog.State())
		}
	})

	t.Run("cancellation does not trip", func(t *testing.T) {
		next := &stubCatalog{err: context.Canceled}
		catalog := NewBreakerCatalog(next, BreakerOptions{Failures: 1, Timeout: time.Hour})

		for range 3 {
			catalog.ListItems(context.Background(), "PL1")
		}
		if catalog.State() != "closed" {
			t.Errorf("expected closed state, got %s", catalog.State())
		}
	})
}
