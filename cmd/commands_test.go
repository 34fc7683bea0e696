package main

import (
	"bytes"
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/desertthunder/plsync/internal/models"
	"github.com/desertthunder/plsync/internal/server"
	"github.com/desertthunder/plsync/internal/services"
	"github.com/desertthunder/plsync/internal/shared"
	tu "github.com/desertthunder/plsync/internal/testing"
)

type cliFixture struct {
	runner  *Runner
	output  *bytes.Buffer
	catalog *tu.MockCatalog
	mat     *tu.MockMaterializer
	library billy.Filesystem
	exports billy.Filesystem
}

func newCLI(t *testing.T) *cliFixture {
	t.Helper()

	db, err := shared.NewDatabase(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	f := &cliFixture{
		output:  &bytes.Buffer{},
		catalog: tu.NewMockCatalog(),
		library: memfs.New(),
		exports: memfs.New(),
	}
	f.mat = tu.NewMockMaterializer(f.library)

	config := shared.DefaultConfig()
	config.Database.Path = ":memory:"

	f.runner = NewRunner(RunnerOpts{
		Config:       config,
		Logger:       shared.NewLogger(&bytes.Buffer{}),
		Output:       f.output,
		DB:           db,
		Catalog:      f.catalog,
		Materializer: f.mat,
		Library:      f.library,
		Exports:      f.exports,
	})
	return f
}

// run executes one CLI invocation and returns what it printed.
func (f *cliFixture) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	f.output.Reset()
	err := f.runner.app().Run(context.Background(), append([]string{"plsync"}, args...))
	return f.output.String(), err
}

func (f *cliFixture) addSource(t *testing.T, remoteID string, extra ...string) string {
	t.Helper()
	out, err := f.run(t, append([]string{"source", "add", "--name", "Focus", "--remote", remoteID, "--json"}, extra...)...)
	require.NoError(t, err)

	var source struct{ ID string }
	require.NoError(t, json.Unmarshal([]byte(out), &source))
	require.NotEmpty(t, source.ID)
	return source.ID
}

func TestSetupCommands(t *testing.T) {
	f := newCLI(t)

	out, err := f.run(t, "setup", "database")
	require.NoError(t, err)
	assert.Contains(t, out, "Database ready")
	assert.Contains(t, out, "schema version 0")

	out, err = f.run(t, "setup", "database", "--rollback")
	require.NoError(t, err)
	assert.Contains(t, out, "schema version -1")

	path := t.TempDir() + "/config.toml"
	out, err = f.run(t, "--config", path, "setup", "config")
	require.NoError(t, err)
	assert.Contains(t, out, "Config written")

	tu.AssertFileExists(t, path)
	assert.Contains(t, tu.MustReadFile(t, path), "max_parallel")

	config, err := shared.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 3, config.Sync.MaxParallel)

	_, err = f.run(t, "--config", path, "setup", "config")
	assert.ErrorContains(t, err, "already exists")
}

func TestSourceCommands(t *testing.T) {
	f := newCLI(t)

	id := f.addSource(t, "PL1", "--prune", "--min-duration", "30", "--schedule", "0 3 * * *")

	source, err := f.runner.sources.Get(id)
	require.NoError(t, err)
	assert.True(t, source.PruneRemoved)
	assert.Equal(t, 30, source.MinDurationSec)
	assert.Equal(t, []string{"0 3 * * *"}, source.Schedules)
	assert.True(t, source.AutoSchedule)

	out, err := f.run(t, "source", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Sources (1)")
	assert.Contains(t, out, id)

	out, err = f.run(t, "source", "show", id)
	require.NoError(t, err)
	assert.Contains(t, out, "PL1")
	assert.Contains(t, out, "0 completed, 0 pending")

	_, err = f.run(t, "source", "show", "missing")
	assert.ErrorIs(t, err, shared.ErrNotFound)

	_, err = f.run(t, "source", "add", "--name", "Bad", "--remote", "PL2", "--schedule", "bogus")
	assert.ErrorIs(t, err, shared.ErrValidation)

	out, err = f.run(t, "source", "remove", id)
	require.NoError(t, err)
	assert.Contains(t, out, "Source removed")

	out, err = f.run(t, "source", "list", "--json")
	require.NoError(t, err)
	assert.NotContains(t, out, id)

	_, err = f.run(t, "source", "remove", id)
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestSyncCommands(t *testing.T) {
	t.Run("run follows the job to completion", func(t *testing.T) {
		f := newCLI(t)
		id := f.addSource(t, "PL1")
		f.catalog.Set("PL1",
			services.RemoteItem{ID: "a", Title: "One", DurationSeconds: 120},
			services.RemoteItem{ID: "b", Title: "Two", DurationSeconds: 180},
		)

		out, err := f.run(t, "sync", "run", id)
		require.NoError(t, err)
		assert.Contains(t, out, "2 succeeded, 0 failed, 0 skipped")
		assert.Contains(t, out, "list_catalog")

		_, err = f.library.Stat(id + "/a.m4a")
		assert.NoError(t, err)

		out, err = f.run(t, "source", "show", "--items", id)
		require.NoError(t, err)
		assert.Contains(t, out, "a,One,,120,completed")
	})

	t.Run("run reports a failed job as an error", func(t *testing.T) {
		f := newCLI(t)
		id := f.addSource(t, "PL1")
		f.catalog.Err = errors.New("status 503")

		_, err := f.run(t, "sync", "run", "--quiet", id)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "sync failed")

		source, err := f.runner.sources.Get(id)
		require.NoError(t, err)
		assert.Equal(t, models.SourceError, source.Status)
	})

	t.Run("run with json", func(t *testing.T) {
		f := newCLI(t)
		id := f.addSource(t, "PL1")
		f.catalog.Set("PL1", services.RemoteItem{ID: "a", Title: "One"})

		out, err := f.run(t, "sync", "run", "--json", id)
		require.NoError(t, err)

		var job server.JobResponse
		require.NoError(t, json.Unmarshal([]byte(out), &job))
		assert.Equal(t, "completed", job.Status)
		assert.Equal(t, "manual", job.Trigger)
		assert.NotEmpty(t, job.Logs)
	})

	t.Run("unknown source", func(t *testing.T) {
		f := newCLI(t)
		_, err := f.run(t, "sync", "run", "missing")
		assert.ErrorIs(t, err, shared.ErrNotFound)

		_, err = f.run(t, "sync", "run")
		assert.ErrorIs(t, err, shared.ErrMissingArgument)
	})

	t.Run("history and log", func(t *testing.T) {
		f := newCLI(t)
		id := f.addSource(t, "PL1")
		f.catalog.Set("PL1", services.RemoteItem{ID: "a", Title: "One"})
		_, err := f.run(t, "sync", "run", "-q", id)
		require.NoError(t, err)

		out, err := f.run(t, "sync", "history", "--format", "csv", id)
		require.NoError(t, err)
		assert.Contains(t, out, "manual,completed")

		_, err = f.run(t, "sync", "history", "--format", "yaml", id)
		assert.ErrorIs(t, err, shared.ErrInvalidArgument)

		out, err = f.run(t, "sync", "history", "--format", "md", "--output", "exports/focus.md", id)
		require.NoError(t, err)
		assert.Contains(t, out, "Exported 1 jobs")
		data, err := util.ReadFile(f.exports, "exports/focus.md")
		require.NoError(t, err)
		assert.Contains(t, string(data), "# Focus")

		jobs, err := f.runner.jobs.List(map[string]any{"source_id": id})
		require.NoError(t, err)
		require.Len(t, jobs, 1)

		out, err = f.run(t, "sync", "log", jobs[0].ID)
		require.NoError(t, err)
		assert.Contains(t, out, "Sync queued (manual trigger)")
	})
}

func TestScheduleCommands(t *testing.T) {
	f := newCLI(t)
	id := f.addSource(t, "PL1")

	out, err := f.run(t, "schedule", "add", id, "0 3 * * *")
	require.NoError(t, err)
	assert.Contains(t, out, "next run")

	_, err = f.run(t, "schedule", "add", id, "61 * * * *")
	assert.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.run(t, "schedule", "add", id)
	assert.ErrorIs(t, err, shared.ErrMissingArgument)

	out, err = f.run(t, "schedule", "list", "--json")
	require.NoError(t, err)
	var entries []scheduleEntry
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, id, entries[0].SourceID)
	assert.Equal(t, 3, entries[0].Next.Hour())

	out, err = f.run(t, "schedule", "remove", id, "0 3 * * *")
	require.NoError(t, err)
	assert.Contains(t, out, "Removed")

	source, err := f.runner.sources.Get(id)
	require.NoError(t, err)
	assert.False(t, source.AutoSchedule)

	_, err = f.run(t, "schedule", "add", id, "*/15 * * * *")
	require.NoError(t, err)
	_, err = f.run(t, "schedule", "clear", id)
	require.NoError(t, err)

	out, err = f.run(t, "schedule", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No scheduled sources")

	out, err = f.run(t, "schedule", "next", "-n", "3", "*/30 * * * *")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	for _, line := range lines {
		next, err := time.Parse(time.RFC3339, line)
		require.NoError(t, err)
		assert.Zero(t, next.Minute()%30)
	}
}

func TestDaemonClientCommands(t *testing.T) {
	f := newCLI(t)
	require.NoError(t, f.runner.open())

	api := server.NewAPI(server.APIOptions{
		Syncer:    f.runner.orchestrator,
		Scheduler: f.runner.scheduler,
		Metrics:   f.runner.aggregator,
		Gatherer:  prometheus.NewRegistry(),
		Logger:    shared.NewLogger(&bytes.Buffer{}),
	})
	srv := httptest.NewServer(api)
	defer srv.Close()

	out, err := f.run(t, "metrics", "--url", srv.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "Active sync:      none")

	out, err = f.run(t, "metrics", "--url", srv.URL, "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"active_items"`)

	out, err = f.run(t, "sync", "active", "--url", srv.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "No jobs running")

	out, err = f.run(t, "sync", "active", "--url", srv.URL, "--json")
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, out)

	out, err = f.run(t, "sync", "cancel", "--url", srv.URL, "job-unknown")
	require.NoError(t, err)
	assert.Contains(t, out, "is not running")

	_, err = f.run(t, "metrics", "--url", "http://127.0.0.1:1")
	assert.ErrorIs(t, err, shared.ErrServiceUnavailable)
}

func TestServe(t *testing.T) {
	f := newCLI(t)
	id := f.addSource(t, "PL1")

	// A job left running by a previous process
	require.NoError(t, f.runner.open())
	orphan := models.NewJob(id, models.TriggerScheduled)
	require.NoError(t, f.runner.jobs.Create(orphan))
	orphan.Status = models.JobRunning
	require.NoError(t, f.runner.jobs.Update(orphan))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(300*time.Millisecond, cancel)

	f.output.Reset()
	err := f.runner.app().Run(ctx, []string{"plsync", "serve", "--addr", "127.0.0.1:0"})
	require.NoError(t, err)

	job, err := f.runner.jobs.Get(orphan.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCancelled, job.Status)
}
