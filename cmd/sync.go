package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"time"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/desertthunder/plsync/internal/formatter"
	"github.com/desertthunder/plsync/internal/models"
	"github.com/desertthunder/plsync/internal/server"
	"github.com/desertthunder/plsync/internal/shared"
	"github.com/desertthunder/plsync/internal/ui"
)

const drainTimeout = 30 * time.Second

// SyncRun starts a manual sync in this process and follows it to completion.
//
// Interrupting the command cancels the run. A failed job is returned as an error so the exit status reflects it.
func (r *Runner) SyncRun(ctx context.Context, cmd *cli.Command) error {
	sourceID := cmd.StringArg("source")
	if sourceID == "" {
		return fmt.Errorf("%w: source id", shared.ErrMissingArgument)
	}
	if err := r.open(); err != nil {
		return err
	}

	job, err := r.orchestrator.StartSync(ctx, sourceID, models.TriggerManual)
	if err != nil {
		return err
	}
	r.logger.Debug("sync started", "job", job.ID, "source", sourceID)

	var out io.Writer = r.output
	if cmd.Bool("quiet") || cmd.Bool("json") {
		out = io.Discard
	}
	printer := ui.NewProgressPrinter(out, r.palette)

	followCtx, stopFollow := context.WithCancel(context.Background())
	followed := make(chan struct{})
	go func() {
		defer close(followed)
		printer.Follow(followCtx, r.progress, job.ID)
	}()

	waitErr := r.orchestrator.Wait(ctx)
	if waitErr != nil {
		// ctx is gone; the run was cancelled with it and only needs to wind down
		drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		waitErr = r.orchestrator.Wait(drainCtx)
		cancel()
	}
	stopFollow()
	<-followed
	printer.Drain(r.progress, job.ID)
	if waitErr != nil {
		return fmt.Errorf("sync did not finish: %w", waitErr)
	}

	job, err = r.jobs.Get(job.ID)
	if err != nil {
		return err
	}
	if cmd.Bool("json") {
		if err := r.writeJSON(server.NewJobResponse(job, true), true); err != nil {
			return err
		}
	} else {
		r.writePlain("\n%s %d/%d processed, %d succeeded, %d failed, %d skipped in %s\n",
			r.palette.Status(string(job.Status)), job.Processed, job.Total,
			job.Succeeded, job.Failed, job.Skipped, formatter.FormatDuration(job.Duration))
	}

	if job.Status == models.JobFailed {
		return fmt.Errorf("sync failed: %s", job.Error)
	}
	return nil
}

// SyncCancel asks the daemon to cancel a job.
func (r *Runner) SyncCancel(ctx context.Context, cmd *cli.Command) error {
	jobID := cmd.StringArg("job")
	if jobID == "" {
		return fmt.Errorf("%w: job id", shared.ErrMissingArgument)
	}

	var resp struct {
		Cancelled bool `json:"cancelled"`
	}
	endpoint := r.apiURL(cmd) + "/api/jobs/" + url.PathEscape(jobID)
	if err := r.callAPI(ctx, http.MethodDelete, endpoint, &resp); err != nil {
		return err
	}

	if resp.Cancelled {
		r.writePlain("%s Job cancelled: %s\n", r.palette.OK("✓"), jobID)
	} else {
		r.writePlain("%s Job %s is not running\n", r.palette.Warn("!"), jobID)
	}
	return nil
}

// SyncActive lists the jobs the daemon is running right now.
func (r *Runner) SyncActive(ctx context.Context, cmd *cli.Command) error {
	var jobs []server.JobResponse
	if err := r.callAPI(ctx, http.MethodGet, r.apiURL(cmd)+"/api/jobs", &jobs); err != nil {
		return err
	}

	if cmd.Bool("json") {
		if jobs == nil {
			jobs = []server.JobResponse{}
		}
		return r.writeJSON(jobs, true)
	}
	if len(jobs) == 0 {
		r.writePlain("No jobs running.\n")
		return nil
	}

	r.writePlainHeader(fmt.Sprintf("Running jobs (%d)", len(jobs)))
	for _, job := range jobs {
		r.writePlain("%s  %s  %s  %d/%d  started %s\n",
			job.ID, job.SourceID, r.palette.Status(job.Status), job.Processed, job.Total,
			job.StartedAt.Local().Format(time.DateTime))
	}
	return nil
}

// SyncHistory renders a source's job history to stdout or, with --output, to a file.
func (r *Runner) SyncHistory(ctx context.Context, cmd *cli.Command) error {
	sourceID := cmd.StringArg("source")
	if sourceID == "" {
		return fmt.Errorf("%w: source id", shared.ErrMissingArgument)
	}
	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}
	if err := r.open(); err != nil {
		return err
	}

	source, err := r.sources.Get(sourceID)
	if err != nil {
		return err
	}
	jobs, err := r.orchestrator.GetHistory(sourceID, int(cmd.Int("limit")))
	if err != nil {
		return err
	}

	path := cmd.String("output")
	if path == "" {
		data, err := formatter.RenderHistory(source, jobs, format)
		if err != nil {
			return err
		}
		return r.writePlain("%s", data)
	}

	fs := r.exports
	if fs == nil {
		if path, err = filepath.Abs(path); err != nil {
			return err
		}
		fs = osfs.New("/")
	}
	if err := formatter.WriteHistoryExport(fs, source, jobs, format, path); err != nil {
		return err
	}
	r.writePlain("%s Exported %d jobs to %s\n", r.palette.OK("✓"), len(jobs), path)
	return nil
}

// SyncLog prints a job's persisted log trail.
func (r *Runner) SyncLog(ctx context.Context, cmd *cli.Command) error {
	jobID := cmd.StringArg("job")
	if jobID == "" {
		return fmt.Errorf("%w: job id", shared.ErrMissingArgument)
	}
	if err := r.open(); err != nil {
		return err
	}

	job, err := r.jobs.Get(jobID)
	if err != nil {
		return err
	}
	return r.writePlain("%s", formatter.JobLogToText(job))
}

// callAPI sends a request to the daemon and decodes a JSON response into result.
func (r *Runner) callAPI(ctx context.Context, method, endpoint string, result any) error {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v (is 'plsync serve' running?)", shared.ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%w: %s: %s", shared.ErrAPIRequest, resp.Status, apiErr.Error)
		}
		return fmt.Errorf("%w: %s", shared.ErrAPIRequest, resp.Status)
	}

	if result == nil {
		return nil
	}
	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
