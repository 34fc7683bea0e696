package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/go-git/go-billy/v5"
	"golang.org/x/time/rate"

	"github.com/desertthunder/plsync/internal/models"
	"github.com/desertthunder/plsync/internal/shared"
)

var _ Materializer = (*HTTPMaterializer)(nil)

// ByteRecorder receives byte-level progress for in-flight items. The metrics aggregator implements it.
type ByteRecorder interface {
	Start(itemID string, expectedBytes int64)
	SetExpected(itemID string, expectedBytes int64)
	Progress(itemID string, deltaBytes int64)
	Complete(itemID string, totalBytes int64)
	Fail(itemID string)
	Reset(itemID string)
}

// HTTPMaterializerOptions configures an [HTTPMaterializer].
type HTTPMaterializerOptions struct {
	BaseURL    string
	HTTPClient *http.Client
	// FS is the artifact filesystem; target directories are relative to its root.
	FS       billy.Filesystem
	Recorder ByteRecorder
	// RateLimit is the maximum transfers started per second. Zero disables limiting.
	RateLimit float64
}

// HTTPMaterializer downloads item media from the catalog proxy into a billy filesystem.
type HTTPMaterializer struct {
	baseURL    string
	httpClient *http.Client
	fs         billy.Filesystem
	recorder   ByteRecorder
	limiter    *rate.Limiter
}

// NewHTTPMaterializer creates a materializer for the proxy at opts.BaseURL.
func NewHTTPMaterializer(opts HTTPMaterializerOptions) *HTTPMaterializer {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultProxyBaseURL
	}

	client := opts.HTTPClient
	if client == nil {
		// Transfers are bounded by the run's context rather than a fixed timeout
		client = &http.Client{Timeout: 0}
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), 1)
	}

	recorder := opts.Recorder
	if recorder == nil {
		recorder = nopRecorder{}
	}

	return &HTTPMaterializer{
		baseURL:    baseURL,
		httpClient: client,
		fs:         opts.FS,
		recorder:   recorder,
		limiter:    limiter,
	}
}

// Materialize streams GET /api/items/{remoteID}/media into targetDir/{remoteID}{ext}.
//
// The body is written to a ".part" file and renamed on success. HTTP 410 and 451 are reported as [shared.ErrItemSkipped].
func (m *HTTPMaterializer) Materialize(ctx context.Context, item *models.Item, targetDir string, progress ProgressFunc) (*Artifact, error) {
	if m.fs == nil {
		return nil, fmt.Errorf("%w: materializer has no artifact filesystem", shared.ErrMissingConfig)
	}
	if err := m.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	m.recorder.Start(item.ID, 0)
	report(progress, Progress{Stage: models.ItemFetching})

	artifact, err := m.fetch(ctx, item, targetDir, progress)
	switch {
	case err == nil:
		m.recorder.Complete(item.ID, artifact.Size)
	case ctx.Err() != nil || errors.Is(err, shared.ErrItemSkipped):
		m.recorder.Reset(item.ID)
	default:
		m.recorder.Fail(item.ID)
	}
	return artifact, err
}

func (m *HTTPMaterializer) fetch(ctx context.Context, item *models.Item, targetDir string, progress ProgressFunc) (*Artifact, error) {
	endpoint := m.baseURL + "/api/items/" + url.PathEscape(item.RemoteID) + "/media"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusUnavailableForLegalReasons:
		return nil, fmt.Errorf("%w: %s unavailable (status %d)", shared.ErrItemSkipped, item.RemoteID, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, proxyError(resp)
	}

	expected := resp.ContentLength
	if expected > 0 {
		m.recorder.SetExpected(item.ID, expected)
	} else {
		expected = 0
	}

	if err := m.fs.MkdirAll(targetDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", targetDir, err)
	}

	dest := m.fs.Join(targetDir, artifactName(item.RemoteID, resp.Header.Get("Content-Type")))
	tmp := dest + ".part"

	f, err := m.fs.Create(tmp)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", tmp, err)
	}

	w := &countingWriter{
		w:        f,
		itemID:   item.ID,
		expected: expected,
		recorder: m.recorder,
		progress: progress,
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		f.Close()
		m.fs.Remove(tmp)
		return nil, fmt.Errorf("transfer of %s interrupted: %w", item.RemoteID, err)
	}

	if err := f.Close(); err != nil {
		m.fs.Remove(tmp)
		return nil, fmt.Errorf("failed to close %s: %w", tmp, err)
	}

	if _, err := m.fs.Stat(dest); err == nil {
		m.fs.Remove(dest)
	}
	if err := m.fs.Rename(tmp, dest); err != nil {
		m.fs.Remove(tmp)
		return nil, fmt.Errorf("failed to move %s into place: %w", dest, err)
	}

	return &Artifact{Path: dest, Size: w.total}, nil
}

// RemoveArtifact deletes a stored artifact. A missing file is not an error.
func RemoveArtifact(fs billy.Filesystem, path string) error {
	if path == "" {
		return nil
	}
	if err := fs.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

type nopRecorder struct{}

func (nopRecorder) Start(string, int64)       {}
func (nopRecorder) SetExpected(string, int64) {}
func (nopRecorder) Progress(string, int64)    {}
func (nopRecorder) Complete(string, int64)    {}
func (nopRecorder) Fail(string)               {}
func (nopRecorder) Reset(string)              {}

type countingWriter struct {
	w        io.Writer
	itemID   string
	expected int64
	total    int64
	recorder ByteRecorder
	progress ProgressFunc
	lastSent time.Time
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	if n > 0 {
		c.total += int64(n)
		c.recorder.Progress(c.itemID, int64(n))

		// Callers persist stage changes, not bytes, so throttle the callback
		if now := time.Now(); now.Sub(c.lastSent) >= 250*time.Millisecond {
			c.lastSent = now
			report(c.progress, Progress{Stage: models.ItemFetching, Bytes: c.total, Expected: c.expected})
		}
	}
	return n, err
}

func report(fn ProgressFunc, p Progress) {
	if fn != nil {
		fn(p)
	}
}

// artifactName derives a file name from the remote id and the response content type.
func artifactName(remoteID, contentType string) string {
	name := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, remoteID)

	ext := ".bin"
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
		switch mediaType {
		case "audio/mp4", "audio/m4a", "audio/x-m4a":
			ext = ".m4a"
		case "audio/mpeg":
			ext = ".mp3"
		case "audio/webm", "video/webm":
			ext = ".webm"
		case "audio/ogg", "audio/opus":
			ext = ".opus"
		case "video/mp4":
			ext = ".mp4"
		}
	}
	return name + ext
}
