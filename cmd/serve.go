package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v3"

	"github.com/desertthunder/plsync/internal/formatter"
	"github.com/desertthunder/plsync/internal/metrics"
	"github.com/desertthunder/plsync/internal/server"
	"github.com/desertthunder/plsync/internal/supervisor"
)

// Serve runs the daemon: the scheduler, the orchestrator's shutdown drain and the HTTP API under one supervisor tree.
// It returns when ctx is cancelled.
func (r *Runner) Serve(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(); err != nil {
		return err
	}

	if _, err := r.orchestrator.RecoverOrphans(); err != nil {
		return err
	}

	if err := prometheus.Register(metrics.NewCollector(r.aggregator)); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return err
		}
	}

	addr := cmd.String("addr")
	if addr == "" {
		addr = r.config.Server.Addr()
	}
	api := server.NewAPI(server.APIOptions{
		Syncer:    r.orchestrator,
		Scheduler: r.scheduler,
		Metrics:   r.aggregator,
		Logger:    r.logger,
	})
	r.logger.Debug("http routes", "routes", api.Routes())

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           api,
		ReadHeaderTimeout: 10 * time.Second,
	}

	tree := supervisor.NewTree(r.logger, supervisor.TreeConfig{})
	tree.AddSyncService(supervisor.NewSchedulerService(r.scheduler))
	tree.AddSyncService(supervisor.NewOrchestratorService(r.orchestrator, drainTimeout))
	tree.AddAPIService(supervisor.NewHTTPService(httpServer, 10*time.Second))

	r.logger.Info("plsync daemon starting", "addr", addr, "max_parallel", r.orchestrator.MaxParallel())
	err := tree.Serve(ctx)

	if unstopped, _ := tree.UnstoppedServiceReport(); len(unstopped) > 0 {
		for _, svc := range unstopped {
			r.logger.Warn("service failed to stop", "service", svc.Name)
		}
	}
	if err != nil && ctx.Err() == nil {
		return err
	}
	r.logger.Info("plsync daemon stopped")
	return nil
}

// Metrics fetches the daemon's metrics snapshot.
func (r *Runner) Metrics(ctx context.Context, cmd *cli.Command) error {
	var snap metrics.Snapshot
	if err := r.callAPI(ctx, http.MethodGet, r.apiURL(cmd)+"/api/metrics", &snap); err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(snap, true)
	}
	r.writePlainHeader("Metrics")
	return r.writePlain("%s", formatter.SnapshotToText(snap))
}
