package services

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"

	"github.com/desertthunder/plsync/internal/metrics"
	"github.com/desertthunder/plsync/internal/models"
	"github.com/desertthunder/plsync/internal/shared"
)

func newMediaServer(t *testing.T) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/items/ok/media":
			w.Header().Set("Content-Type", "audio/mp4")
			w.Write([]byte(strings.Repeat("x", 4096)))
		case "/api/items/gone/media":
			w.WriteHeader(http.StatusGone)
		default:
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"detail": "extractor crashed"}`))
		}
	}))
}

func TestHTTPMaterializer(t *testing.T) {
	t.Run("Materialize", func(t *testing.T) {
		server := newMediaServer(t)
		defer server.Close()

		fs := memfs.New()
		agg := metrics.NewAggregator()
		m := NewHTTPMaterializer(HTTPMaterializerOptions{BaseURL: server.URL, FS: fs, Recorder: agg})

		item := &models.Item{ID: "item-1", SourceID: "src", RemoteID: "ok", Status: models.ItemPending}

		var stages []models.ItemStatus
		artifact, err := m.Materialize(context.Background(), item, "focus", func(p Progress) {
			stages = append(stages, p.Stage)
		})
		if err != nil {
			t.Fatalf("Materialize failed: %v", err)
		}

		if artifact.Path != fs.Join("focus", "ok.m4a") {
			t.Errorf("unexpected artifact path %s", artifact.Path)
		}
		if artifact.Size != 4096 {
			t.Errorf("expected 4096 bytes, got %d", artifact.Size)
		}

		data, err := util.ReadFile(fs, artifact.Path)
		if err != nil {
			t.Fatalf("artifact not written: %v", err)
		}
		if len(data) != 4096 {
			t.Errorf("expected 4096 bytes on disk, got %d", len(data))
		}

		if _, err := fs.Stat(artifact.Path + ".part"); err == nil {
			t.Error("temporary file should be renamed away")
		}

		if len(stages) == 0 || stages[0] != models.ItemFetching {
			t.Errorf("expected a fetching stage report, got %v", stages)
		}

		snap := agg.Snapshot()
		if snap.CompletedLastHour != 1 || snap.BytesLastHour != 4096 || snap.ActiveItems != 0 {
			t.Errorf("unexpected metrics snapshot: %+v", snap)
		}
	})

	t.Run("Gone is skipped", func(t *testing.T) {
		server := newMediaServer(t)
		defer server.Close()

		agg := metrics.NewAggregator()
		m := NewHTTPMaterializer(HTTPMaterializerOptions{BaseURL: server.URL, FS: memfs.New(), Recorder: agg})

		item := &models.Item{ID: "item-2", SourceID: "src", RemoteID: "gone", Status: models.ItemPending}
		_, err := m.Materialize(context.Background(), item, "focus", nil)
		if !errors.Is(err, shared.ErrItemSkipped) {
			t.Fatalf("expected ErrItemSkipped, got %v", err)
		}

		if snap := agg.Snapshot(); snap.FailedLastHour != 0 {
			t.Errorf("skipped items should not count as failures, got %d", snap.FailedLastHour)
		}
	})

	t.Run("Server error", func(t *testing.T) {
		server := newMediaServer(t)
		defer server.Close()

		fs := memfs.New()
		agg := metrics.NewAggregator()
		m := NewHTTPMaterializer(HTTPMaterializerOptions{BaseURL: server.URL, FS: fs, Recorder: agg})

		item := &models.Item{ID: "item-3", SourceID: "src", RemoteID: "broken", Status: models.ItemPending}
		_, err := m.Materialize(context.Background(), item, "focus", nil)
		if !errors.Is(err, shared.ErrAPIRequest) {
			t.Fatalf("expected ErrAPIRequest, got %v", err)
		}

		if snap := agg.Snapshot(); snap.FailedLastHour != 1 {
			t.Errorf("expected one failure, got %d", snap.FailedLastHour)
		}

		entries, _ := fs.ReadDir("focus")
		if len(entries) != 0 {
			t.Errorf("failed transfer should leave no files, got %d", len(entries))
		}
	})
}

func TestRemoveArtifact(t *testing.T) {
	fs := memfs.New()
	if err := util.WriteFile(fs, "focus/a.m4a", []byte("x"), 0o644); err != nil {
		t.Fatalf("failed to seed artifact: %v", err)
	}

	if err := RemoveArtifact(fs, "focus/a.m4a"); err != nil {
		t.Fatalf("RemoveArtifact failed: %v", err)
	}
	if err := RemoveArtifact(fs, "focus/a.m4a"); err != nil {
		t.Errorf("removing a missing artifact should not fail: %v", err)
	}
	if err := RemoveArtifact(fs, ""); err != nil {
		t.Errorf("empty path should be a no-op: %v", err)
	}
}

func TestArtifactName(t *testing.T) {
	tc := []struct {
		remoteID    string
		contentType string
		want        string
	}{
		{"abc", "audio/mp4", "abc.m4a"},
		{"abc", "audio/webm; codecs=opus", "abc.webm"},
		{"a/b:c", "audio/mpeg", "a_b_c.mp3"},
		{"abc", "", "abc.bin"},
	}

	for _, tt := range tc {
		if got := artifactName(tt.remoteID, tt.contentType); got != tt.want {
			t.Errorf("artifactName(%q, %q) = %q, want %q", tt.remoteID, tt.contentType, got, tt.want)
		}
	}
}
