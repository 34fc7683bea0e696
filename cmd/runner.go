package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/urfave/cli/v3"

	"github.com/desertthunder/plsync/internal/formatter"
	"github.com/desertthunder/plsync/internal/metrics"
	"github.com/desertthunder/plsync/internal/repositories"
	"github.com/desertthunder/plsync/internal/scheduler"
	"github.com/desertthunder/plsync/internal/services"
	"github.com/desertthunder/plsync/internal/shared"
	"github.com/desertthunder/plsync/internal/tasks"
	"github.com/desertthunder/plsync/internal/ui"
)

const progressBuffer = 256

// Runner holds all dependencies for CLI commands and provides methods for each command action.
//
// The database and engine are opened lazily by the first command that needs them, so "setup config" works without a
// database and tests can swap in fakes through [RunnerOpts].
type Runner struct {
	config     *shared.Config
	configPath string
	logger     *log.Logger
	output     io.Writer
	httpClient *http.Client
	palette    *ui.Palette

	db           *sql.DB
	ownsDB       bool
	catalog      services.Catalog
	materializer services.Materializer
	library      billy.Filesystem
	exports      billy.Filesystem

	sources      *repositories.SourceRepository
	items        *repositories.ItemRepository
	jobs         *repositories.JobRepository
	aggregator   *metrics.Aggregator
	orchestrator *tasks.Orchestrator
	scheduler    *scheduler.Scheduler
	progress     chan tasks.ProgressUpdate
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	Config     *shared.Config
	ConfigPath string
	Logger     *log.Logger
	Output     io.Writer
	HTTPClient *http.Client

	// DB, Catalog, Materializer and Library replace what the config would otherwise open.
	DB           *sql.DB
	Catalog      services.Catalog
	Materializer services.Materializer
	Library      billy.Filesystem
	// Exports is where history exports are written. Defaults to the host filesystem.
	Exports billy.Filesystem
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Config == nil {
		opts.Config = shared.DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}

	return &Runner{
		config:       opts.Config,
		configPath:   opts.ConfigPath,
		logger:       opts.Logger,
		output:       opts.Output,
		httpClient:   opts.HTTPClient,
		palette:      ui.Styles,
		db:           opts.DB,
		catalog:      opts.Catalog,
		materializer: opts.Materializer,
		library:      opts.Library,
		exports:      opts.Exports,
	}
}

// app builds the root command.
func (r *Runner) app() *cli.Command {
	return &cli.Command{
		Name:    "plsync",
		Usage:   "Keep local copies of remote playlists in sync, on demand or on a cron schedule",
		Version: "0.1.0",
		Writer:  r.output,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file",
				Value:   "config.toml",
				Sources: cli.EnvVars("PLSYNC_CONFIG"),
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Override logging.level (debug, info, warn, error)",
			},
		},
		Before:   r.before,
		After:    r.after,
		Commands: r.register(),
	}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, sourceCommand, syncCommand, scheduleCommand, metricsCommand, serveCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// before loads the config file when it exists and applies the log level. A missing file keeps the defaults.
func (r *Runner) before(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	path := cmd.String("config")
	if _, err := os.Stat(path); err == nil {
		config, err := shared.LoadConfig(path)
		if err != nil {
			return ctx, err
		}
		r.config = config
	} else if cmd.IsSet("config") {
		r.logger.Debug("config file not found, using defaults", "path", path)
	}
	r.configPath = path

	level := r.config.Logging.Level
	if cmd.IsSet("log-level") {
		level = cmd.String("log-level")
	}
	parsed, err := shared.ParseLogLevel(level)
	if err != nil {
		return ctx, err
	}
	shared.SetLogLevel(r.logger, parsed)
	return ctx, nil
}

func (r *Runner) after(context.Context, *cli.Command) error {
	return r.Close()
}

// open wires the database, repositories and engine. It is a no-op once the engine exists.
func (r *Runner) open() error {
	if r.orchestrator != nil {
		return nil
	}

	if r.db == nil {
		db, err := shared.NewDatabase(r.config.Database.Path)
		if err != nil {
			return err
		}
		// In-memory databases must stay on their single connection
		if r.config.Database.Path != ":memory:" {
			shared.ConfigureDatabase(db, r.config.Database.MaxOpenConns, r.config.Database.MaxIdleConns)
		}
		r.db = db
		r.ownsDB = true
	}
	if err := shared.RunMigrations(r.db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	r.sources = repositories.NewSourceRepository(r.db)
	r.items = repositories.NewItemRepository(r.db)
	r.jobs = repositories.NewJobRepository(r.db)
	r.aggregator = metrics.NewAggregator()

	if r.library == nil {
		r.library = osfs.New(r.config.Sync.LibraryDir)
	}
	if r.catalog == nil {
		proxy := services.NewProxyCatalog(services.ProxyCatalogOptions{
			BaseURL:   r.config.Catalog.BaseURL,
			RateLimit: r.config.Catalog.RateLimit,
			Timeout:   r.config.Catalog.Timeout(),
		})
		r.catalog = services.NewBreakerCatalog(proxy, services.BreakerOptions{
			Failures: r.config.Catalog.BreakerFailures,
			Logger:   r.logger,
		})
	}
	if r.materializer == nil {
		r.materializer = services.NewHTTPMaterializer(services.HTTPMaterializerOptions{
			BaseURL:   r.config.Catalog.BaseURL,
			FS:        r.library,
			Recorder:  r.aggregator,
			RateLimit: r.config.Catalog.RateLimit,
		})
	}

	r.progress = make(chan tasks.ProgressUpdate, progressBuffer)
	orchestrator, err := tasks.NewOrchestrator(tasks.Options{
		Sources:      r.sources,
		Items:        r.items,
		Jobs:         r.jobs,
		Catalog:      r.catalog,
		Materializer: r.materializer,
		Metrics:      r.aggregator,
		Artifacts:    r.library,
		Logger:       r.logger,
		MaxParallel:  r.config.Sync.MaxParallel,
		Progress:     r.progress,
	})
	if err != nil {
		return err
	}

	sched, err := scheduler.New(scheduler.Options{
		Sources:       r.sources,
		Syncer:        orchestrator,
		Logger:        r.logger,
		MinDelay:      r.config.Scheduler.MinDelay(),
		SweepInterval: r.config.Scheduler.SweepInterval(),
		StaleAfter:    r.config.Scheduler.StaleAfter(),
	})
	if err != nil {
		return err
	}

	r.orchestrator = orchestrator
	r.scheduler = sched
	return nil
}

// Close stops the scheduler's timers. A database the runner opened itself is closed and the engine dropped with it.
func (r *Runner) Close() error {
	if r.scheduler != nil {
		r.scheduler.Stop()
	}
	if r.db == nil || !r.ownsDB {
		return nil
	}

	err := r.db.Close()
	r.db = nil
	r.ownsDB = false
	r.orchestrator = nil
	r.scheduler = nil
	return err
}

// apiURL returns the daemon base URL: --url when given, else the configured server address.
func (r *Runner) apiURL(cmd *cli.Command) string {
	if u := cmd.String("url"); u != "" {
		return strings.TrimRight(u, "/")
	}
	return "http://" + r.config.Server.Addr()
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	output, err := formatter.ToJSON(data, pretty)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if _, err := r.output.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainHeader(title string) {
	r.writePlain("═══════════════════════════════════════\n")
	r.writePlain("%v\n", r.palette.Title(title))
	r.writePlain("═══════════════════════════════════════\n")
}
