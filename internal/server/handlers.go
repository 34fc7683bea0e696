package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/desertthunder/plsync/internal/metrics"
	"github.com/desertthunder/plsync/internal/models"
	"github.com/desertthunder/plsync/internal/shared"
)

const defaultHistoryLimit = 20

// Syncer is the orchestrator surface the API exposes.
type Syncer interface {
	StartSync(ctx context.Context, sourceID string, trigger models.TriggerKind) (*models.Job, error)
	CancelSync(jobID string) (bool, error)
	GetActiveJob(sourceID string) *models.Job
	ActiveJobs() []*models.Job
	GetHistory(sourceID string, limit int) ([]*models.Job, error)
}

// Scheduler is the scheduler surface the API exposes.
type Scheduler interface {
	ScheduleSource(sourceID, expr string) error
	UnscheduleSource(sourceID string) error
	GetScheduledSources() ([]string, error)
	NextOccurrence(expr string) (time.Time, error)
}

// Snapshotter provides the metrics snapshot.
type Snapshotter interface {
	Snapshot() metrics.Snapshot
}

// APIOptions wires the API handlers to the engine.
type APIOptions struct {
	Syncer    Syncer
	Scheduler Scheduler
	Metrics   Snapshotter
	// Gatherer serves /metrics. Defaults to the Prometheus default registry.
	Gatherer prometheus.Gatherer
	Logger   *log.Logger
}

// NewAPI builds the daemon router:
//
//	GET    /healthz
//	GET    /metrics                      Prometheus exposition
//	GET    /api/metrics                  throughput and active sync snapshot
//	POST   /api/sources/{id}/sync        start (or join) a manual sync
//	GET    /api/sources/{id}/jobs        job history, ?limit=N
//	GET    /api/sources/{id}/active      running job
//	GET    /api/jobs                     every running job
//	DELETE /api/jobs/{id}                cancel a job
//	GET    /api/schedules                scheduled source ids
//	GET    /api/schedules/next           next occurrence, ?expr=...
//	POST   /api/sources/{id}/schedules   add a cron expression
//	DELETE /api/sources/{id}/schedules   remove every schedule
func NewAPI(opts APIOptions) *BasicRouter {
	logger := opts.Logger
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	api := &api{syncer: opts.Syncer, scheduler: opts.Scheduler, metrics: opts.Metrics}

	r := NewBasicRouter()
	r.Use(Recoverer(logger), RequestLogger(logger))

	r.Handle(http.MethodGet, "/healthz", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}))
	r.Handle(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	if api.metrics != nil {
		r.Handle(http.MethodGet, "/api/metrics", http.HandlerFunc(api.snapshot))
	}
	if api.syncer != nil {
		r.Handle(http.MethodPost, "/api/sources/{id}/sync", http.HandlerFunc(api.startSync))
		r.Handle(http.MethodGet, "/api/sources/{id}/jobs", http.HandlerFunc(api.history))
		r.Handle(http.MethodGet, "/api/sources/{id}/active", http.HandlerFunc(api.active))
		r.Handle(http.MethodGet, "/api/jobs", http.HandlerFunc(api.running))
		r.Handle(http.MethodDelete, "/api/jobs/{id}", http.HandlerFunc(api.cancel))
	}
	if api.scheduler != nil {
		r.Handle(http.MethodGet, "/api/schedules", http.HandlerFunc(api.scheduled))
		r.Handle(http.MethodGet, "/api/schedules/next", http.HandlerFunc(api.next))
		r.Handle(http.MethodPost, "/api/sources/{id}/schedules", http.HandlerFunc(api.schedule))
		r.Handle(http.MethodDelete, "/api/sources/{id}/schedules", http.HandlerFunc(api.unschedule))
	}
	return r
}

type api struct {
	syncer    Syncer
	scheduler Scheduler
	metrics   Snapshotter
}

// JobResponse is the wire shape of a [models.Job].
type JobResponse struct {
	ID          string            `json:"id"`
	SourceID    string            `json:"source_id"`
	Trigger     string            `json:"trigger"`
	Status      string            `json:"status"`
	StartedAt   time.Time         `json:"started_at"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	DurationMS  int64             `json:"duration_ms"`
	Total       int               `json:"total"`
	Processed   int               `json:"processed"`
	Succeeded   int               `json:"succeeded"`
	Failed      int               `json:"failed"`
	Skipped     int               `json:"skipped"`
	Error       string            `json:"error,omitempty"`
	Logs        []models.LogEntry `json:"logs,omitempty"`
}

// NewJobResponse converts a job. Logs are included only when withLogs is set.
func NewJobResponse(job *models.Job, withLogs bool) JobResponse {
	resp := JobResponse{
		ID:          job.ID,
		SourceID:    job.SourceID,
		Trigger:     string(job.Trigger),
		Status:      string(job.Status),
		StartedAt:   job.StartedAt,
		CompletedAt: job.CompletedAt,
		DurationMS:  job.Duration.Milliseconds(),
		Total:       job.Total,
		Processed:   job.Processed,
		Succeeded:   job.Succeeded,
		Failed:      job.Failed,
		Skipped:     job.Skipped,
		Error:       job.Error,
	}
	if withLogs {
		resp.Logs = job.Logs
	}
	return resp
}

func (a *api) snapshot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.metrics.Snapshot())
}

func (a *api) startSync(w http.ResponseWriter, r *http.Request) {
	// The run outlives this request.
	job, err := a.syncer.StartSync(context.WithoutCancel(r.Context()), r.PathValue("id"), models.TriggerManual)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, NewJobResponse(job, true))
}

func (a *api) history(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, shared.ErrInvalidInput)
			return
		}
		limit = n
	}

	jobs, err := a.syncer.GetHistory(r.PathValue("id"), limit)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := make([]JobResponse, 0, len(jobs))
	for _, job := range jobs {
		resp = append(resp, NewJobResponse(job, false))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *api) active(w http.ResponseWriter, r *http.Request) {
	job := a.syncer.GetActiveJob(r.PathValue("id"))
	if job == nil {
		writeError(w, shared.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, NewJobResponse(job, true))
}

func (a *api) running(w http.ResponseWriter, _ *http.Request) {
	jobs := a.syncer.ActiveJobs()
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].StartedAt.Before(jobs[j].StartedAt) })

	resp := make([]JobResponse, 0, len(jobs))
	for _, job := range jobs {
		resp = append(resp, NewJobResponse(job, false))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *api) cancel(w http.ResponseWriter, r *http.Request) {
	cancelled, err := a.syncer.CancelSync(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": cancelled})
}

func (a *api) scheduled(w http.ResponseWriter, _ *http.Request) {
	ids, err := a.scheduler.GetScheduledSources()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"sources": ids})
}

func (a *api) next(w http.ResponseWriter, r *http.Request) {
	next, err := a.scheduler.NextOccurrence(r.URL.Query().Get("expr"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]time.Time{"next": next})
}

type scheduleRequest struct {
	Expression string `json:"expression"`
}

func (a *api) schedule(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<16))
	if err != nil {
		writeError(w, shared.ErrInvalidInput)
		return
	}
	var req scheduleRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, shared.ErrInvalidInput)
		return
	}

	if err := a.scheduler.ScheduleSource(r.PathValue("id"), req.Expression); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

func (a *api) unschedule(w http.ResponseWriter, r *http.Request) {
	if err := a.scheduler.UnscheduleSource(r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps engine errors onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, shared.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, shared.ErrValidation), errors.Is(err, shared.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, shared.ErrServiceUnavailable):
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
