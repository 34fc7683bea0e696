// Catalog proxy client
//
// Lists playlist items through the HTTP proxy that fronts the remote catalog.
package services

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/desertthunder/plsync/internal/shared"
)

const defaultProxyBaseURL string = "http://localhost:8080"

type proxyImage struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

type proxyArtist struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

// proxyTrack is one playlist entry as returned by the proxy.
type proxyTrack struct {
	VideoID     string        `json:"videoId"`
	Title       string        `json:"title"`
	Artists     []proxyArtist `json:"artists"`
	DurationSec int           `json:"duration_seconds"`
	Thumbnails  []proxyImage  `json:"thumbnails"`
}

func (t proxyTrack) remoteItem() RemoteItem {
	names := make([]string, 0, len(t.Artists))
	for _, a := range t.Artists {
		if a.Name != "" {
			names = append(names, a.Name)
		}
	}

	// Thumbnails are ordered smallest first
	var thumb string
	if n := len(t.Thumbnails); n > 0 {
		thumb = t.Thumbnails[n-1].URL
	}

	return RemoteItem{
		ID:              t.VideoID,
		Title:           t.Title,
		Author:          strings.Join(names, ", "),
		DurationSeconds: t.DurationSec,
		ThumbnailURL:    thumb,
	}
}

// ProxyCatalogOptions configures a [ProxyCatalog].
type ProxyCatalogOptions struct {
	BaseURL    string
	HTTPClient *http.Client
	// RateLimit is the maximum requests per second. Zero disables limiting.
	RateLimit float64
	Timeout   time.Duration
}

// ProxyCatalog implements [Catalog] against the catalog proxy.
type ProxyCatalog struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewProxyCatalog creates a new catalog client for the proxy at opts.BaseURL.
func NewProxyCatalog(opts ProxyCatalogOptions) *ProxyCatalog {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultProxyBaseURL
	}

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), 1)
	}

	return &ProxyCatalog{baseURL: baseURL, httpClient: client, limiter: limiter}
}

// ListItems calls GET /api/playlists/{id}/items on the proxy.
func (c *ProxyCatalog) ListItems(ctx context.Context, remoteSourceID string) ([]RemoteItem, error) {
	if remoteSourceID == "" {
		return nil, fmt.Errorf("%w: remote source id", shared.ErrMissingArgument)
	}

	var tracks []proxyTrack
	endpoint := "/api/playlists/" + url.PathEscape(remoteSourceID) + "/items"
	if err := c.doRequest(ctx, endpoint, &tracks); err != nil {
		return nil, err
	}

	items := make([]RemoteItem, 0, len(tracks))
	for _, t := range tracks {
		if t.VideoID == "" {
			continue
		}
		items = append(items, t.remoteItem())
	}
	return items, nil
}

func (c *ProxyCatalog) doRequest(ctx context.Context, endpoint string, result any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return proxyError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}

// proxyError builds an [shared.ErrAPIRequest] from a non-2xx response, including the proxy's detail message if present.
func proxyError(resp *http.Response) error {
	var errResp struct {
		Detail string `json:"detail"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err == nil && errResp.Detail != "" {
		return fmt.Errorf("%w: status %d: %s", shared.ErrAPIRequest, resp.StatusCode, errResp.Detail)
	}
	return fmt.Errorf("%w: status %d", shared.ErrAPIRequest, resp.StatusCode)
}
