package main

import (
	"bytes"
	"net/http"
	"os"
	"strings"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"

	"github.com/desertthunder/plsync/internal/shared"
	tu "github.com/desertthunder/plsync/internal/testing"
)

func TestRunner(t *testing.T) {
	t.Run("NewRunner", func(t *testing.T) {
		t.Run("with all dependencies provided", func(t *testing.T) {
			config := shared.DefaultConfig()
			logger := shared.NewLogger(nil)
			output := &bytes.Buffer{}
			httpClient := &http.Client{}
			library := memfs.New()
			catalog := tu.NewMockCatalog()
			materializer := tu.NewMockMaterializer(library)

			runner := NewRunner(RunnerOpts{
				Config:       config,
				Logger:       logger,
				Output:       output,
				HTTPClient:   httpClient,
				Catalog:      catalog,
				Materializer: materializer,
				Library:      library,
			})

			if runner.config != config {
				t.Error("expected config to be set")
			}
			if runner.logger != logger {
				t.Error("expected logger to be set")
			}
			if runner.output != output {
				t.Error("expected output to be set")
			}
			if runner.httpClient != httpClient {
				t.Error("expected httpClient to be set")
			}
			if runner.catalog != catalog {
				t.Error("expected catalog to be set")
			}
			if runner.materializer != materializer {
				t.Error("expected materializer to be set")
			}
			if runner.library != library {
				t.Error("expected library to be set")
			}
		})

		t.Run("with nil config uses defaults", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{
				Config: nil,
			})

			if runner.config == nil {
				t.Error("expected default config to be set")
			}
			if runner.config.Sync.MaxParallel != 3 {
				t.Errorf("expected default max_parallel 3, got %d", runner.config.Sync.MaxParallel)
			}
		})

		t.Run("with nil logger uses default", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{
				Logger: nil,
			})

			if runner.logger == nil {
				t.Error("expected default logger to be set")
			}
		})

		t.Run("with nil output uses stdout", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{
				Output: nil,
			})

			if runner.output != os.Stdout {
				t.Error("expected output to default to os.Stdout")
			}
		})

		t.Run("with nil httpClient uses default", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{
				HTTPClient: nil,
			})

			if runner.httpClient != http.DefaultClient {
				t.Error("expected httpClient to default to http.DefaultClient")
			}
		})

		t.Run("does not open the database", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{})

			if runner.db != nil || runner.orchestrator != nil {
				t.Error("expected the engine to be opened lazily")
			}
		})
	})

	t.Run("open", func(t *testing.T) {
		t.Run("wires the engine from config", func(t *testing.T) {
			config := shared.DefaultConfig()
			config.Database.Path = ":memory:"
			config.Sync.MaxParallel = 2

			runner := NewRunner(RunnerOpts{Config: config, Logger: shared.NewLogger(&bytes.Buffer{}), Library: memfs.New()})
			if err := runner.open(); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			defer runner.Close()

			if runner.orchestrator == nil || runner.scheduler == nil {
				t.Fatal("expected orchestrator and scheduler to be created")
			}
			if runner.orchestrator.MaxParallel() != 2 {
				t.Errorf("expected max parallel 2, got %d", runner.orchestrator.MaxParallel())
			}
			if runner.catalog == nil || runner.materializer == nil {
				t.Error("expected HTTP collaborators to be built from config")
			}

			orchestrator := runner.orchestrator
			if err := runner.open(); err != nil || runner.orchestrator != orchestrator {
				t.Error("expected a second open to be a no-op")
			}
		})

		t.Run("Close releases an owned database", func(t *testing.T) {
			config := shared.DefaultConfig()
			config.Database.Path = ":memory:"

			runner := NewRunner(RunnerOpts{Config: config, Logger: shared.NewLogger(&bytes.Buffer{}), Library: memfs.New()})
			if err := runner.open(); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if err := runner.Close(); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if runner.db != nil || runner.orchestrator != nil {
				t.Error("expected database and engine to be released")
			}
		})

		t.Run("Close keeps an injected database", func(t *testing.T) {
			db, err := shared.NewDatabase(":memory:")
			if err != nil {
				t.Fatal(err)
			}
			defer db.Close()

			runner := NewRunner(RunnerOpts{DB: db, Logger: shared.NewLogger(&bytes.Buffer{}), Library: memfs.New()})
			if err := runner.open(); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			runner.Close()

			if err := db.Ping(); err != nil {
				t.Errorf("expected injected database to stay open, got %v", err)
			}
		})
	})

	t.Run("writeJSON", func(t *testing.T) {
		t.Run("writes formatted JSON successfully", func(t *testing.T) {
			output := &bytes.Buffer{}
			runner := NewRunner(RunnerOpts{Output: output})

			data := map[string]string{"key": "value"}
			err := runner.writeJSON(data, true)

			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}

			result := output.String()
			if !strings.Contains(result, `"key": "value"`) {
				t.Errorf("expected formatted JSON, got %s", result)
			}
			if !strings.HasSuffix(result, "\n") {
				t.Error("expected output to end with newline")
			}
		})

		t.Run("writes compact JSON successfully", func(t *testing.T) {
			output := &bytes.Buffer{}
			runner := NewRunner(RunnerOpts{Output: output})

			data := map[string]string{"key": "value"}
			err := runner.writeJSON(data, false)

			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}

			result := output.String()
			expected := `{"key":"value"}` + "\n"
			if result != expected {
				t.Errorf("expected %q, got %q", expected, result)
			}
		})

		t.Run("handles marshal error with non-serializable data", func(t *testing.T) {
			output := &bytes.Buffer{}
			runner := NewRunner(RunnerOpts{Output: output})

			// channels cannot be marshaled to JSON
			data := make(chan int)
			err := runner.writeJSON(data, false)

			if err == nil {
				t.Fatal("expected error for non-serializable data")
			}
			if !strings.Contains(err.Error(), "failed to marshal JSON") {
				t.Errorf("expected marshal error, got %v", err)
			}
		})

		t.Run("handles write failure", func(t *testing.T) {
			failing := &tu.FWriter{}
			runner := NewRunner(RunnerOpts{Output: failing})

			data := map[string]string{"key": "value"}
			err := runner.writeJSON(data, false)

			if err == nil {
				t.Fatal("expected error from failing writer")
			}
			if !strings.Contains(err.Error(), "failed to write output") {
				t.Errorf("expected write error, got %v", err)
			}
		})

		t.Run("handles newline write failure", func(t *testing.T) {
			data := map[string]string{"key": "value"}
			limitedWriter := tu.NewLimitedWriter(1, 0, &bytes.Buffer{})
			runner := NewRunner(RunnerOpts{Output: &limitedWriter})

			err := runner.writeJSON(data, false)

			if err == nil {
				t.Fatal("expected error writing newline")
			}
			if !strings.Contains(err.Error(), "failed to write newline") {
				t.Errorf("expected newline write error, got %v", err)
			}
		})
	})

	t.Run("writePlain", func(t *testing.T) {
		t.Run("writes plain text successfully", func(t *testing.T) {
			output := &bytes.Buffer{}
			runner := NewRunner(RunnerOpts{Output: output})

			err := runner.writePlain("hello %s", "world")

			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}

			result := output.String()
			if result != "hello world" {
				t.Errorf("expected 'hello world', got %q", result)
			}
		})

		t.Run("handles write failure", func(t *testing.T) {
			failing := &tu.FWriter{}
			runner := NewRunner(RunnerOpts{Output: failing})

			err := runner.writePlain("test")

			if err == nil {
				t.Fatal("expected error from failing writer")
			}
			if !strings.Contains(err.Error(), "failed to write output") {
				t.Errorf("expected write error, got %v", err)
			}
		})
	})

	t.Run("register", func(t *testing.T) {
		runner := NewRunner(RunnerOpts{})
		commands := runner.register()

		if len(commands) != 6 {
			t.Errorf("expected 6 commands, got %d", len(commands))
		}

		for i, cmd := range commands {
			if cmd == nil {
				t.Errorf("command at index %d is nil", i)
			}
		}
	})
}
