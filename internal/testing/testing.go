// package testing contains shared testing utilities
package testing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"

	"github.com/desertthunder/plsync/internal/models"
	"github.com/desertthunder/plsync/internal/services"
	"github.com/desertthunder/plsync/internal/shared"
)

// MockCatalog is a test double for [services.Catalog].
// Listings are keyed by remote source id; Err fails every call.
type MockCatalog struct {
	mu       sync.Mutex
	Listings map[string][]services.RemoteItem
	Err      error
	// Block, when non-nil, makes ListItems wait until it is closed or the context is done.
	Block chan struct{}
	calls int
}

func NewMockCatalog() *MockCatalog {
	return &MockCatalog{Listings: make(map[string][]services.RemoteItem)}
}

// Set replaces the listing for remoteID.
func (m *MockCatalog) Set(remoteID string, items ...services.RemoteItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Listings[remoteID] = items
}

func (m *MockCatalog) ListItems(ctx context.Context, remoteSourceID string) ([]services.RemoteItem, error) {
	m.mu.Lock()
	m.calls++
	block := m.Block
	err := m.Err
	items := append([]services.RemoteItem(nil), m.Listings[remoteSourceID]...)
	m.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return items, nil
}

// Calls returns how many times ListItems was called.
func (m *MockCatalog) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// MockMaterializer is a test double for [services.Materializer].
//
// It writes Size bytes per item into FS (when set) and records every call.
// Errors maps remote ids to the error returned for that item.
type MockMaterializer struct {
	FS     billy.Filesystem
	Size   int64
	Delay  time.Duration
	Errors map[string]error
	// Gate, when non-nil, makes every call wait until it is closed or the context is done.
	Gate chan struct{}

	mu       sync.Mutex
	calls    []string
	inFlight int
	peak     int
}

func NewMockMaterializer(fs billy.Filesystem) *MockMaterializer {
	return &MockMaterializer{FS: fs, Size: 1024, Errors: make(map[string]error)}
}

// Fail makes the materializer return err for remoteID.
func (m *MockMaterializer) Fail(remoteID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Errors[remoteID] = err
}

// Clear removes every configured failure.
func (m *MockMaterializer) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Errors = make(map[string]error)
}

func (m *MockMaterializer) Materialize(ctx context.Context, item *models.Item, targetDir string, progress services.ProgressFunc) (*services.Artifact, error) {
	m.mu.Lock()
	m.calls = append(m.calls, item.RemoteID)
	m.inFlight++
	if m.inFlight > m.peak {
		m.peak = m.inFlight
	}
	err := m.Errors[item.RemoteID]
	gate := m.Gate
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.inFlight--
		m.mu.Unlock()
	}()

	if progress != nil {
		progress(services.Progress{Stage: models.ItemFetching})
	}

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	if progress != nil {
		progress(services.Progress{Stage: models.ItemTranscoding, Bytes: m.Size, Expected: m.Size})
	}

	path := targetDir + "/" + item.RemoteID + ".m4a"
	if m.FS != nil {
		path = m.FS.Join(targetDir, item.RemoteID+".m4a")
		if err := util.WriteFile(m.FS, path, make([]byte, m.Size), 0o644); err != nil {
			return nil, fmt.Errorf("write artifact: %w", err)
		}
	}
	return &services.Artifact{Path: path, Size: m.Size}, nil
}

// Calls returns the remote ids materialized so far, in call order.
func (m *MockMaterializer) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// Peak returns the highest number of concurrent calls observed.
func (m *MockMaterializer) Peak() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peak
}

// ErrSkipped is a materializer error that marks an item skipped.
var ErrSkipped = fmt.Errorf("%w: removed upstream", shared.ErrItemSkipped)

// Eventually polls cond until it holds or timeout elapses.
func Eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s: %s", timeout, msg)
}

// FWriter always returns an error on Write
type FWriter struct{}

func (f *FWriter) Write(p []byte) (n int, err error) {
	return 0, errors.New("write failed")
}

// LimitedWriter fails after a certain number of writes
type LimitedWriter struct {
	maxWrites int
	written   int
	target    io.Writer
}

func (l *LimitedWriter) Write(p []byte) (n int, err error) {
	if l.written >= l.maxWrites {
		return 0, errors.New("write limit exceeded")
	}
	l.written++
	return l.target.Write(p)
}

func NewLimitedWriter(maxWrites, written int, target io.Writer) LimitedWriter {
	return LimitedWriter{maxWrites: maxWrites, written: written, target: target}
}

func AssertFileExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("File does not exist: %s", path)
	}
}

func MustReadFile(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file %s: %v", path, err)
	}
	return string(content)
}
