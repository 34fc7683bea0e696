// submodule cmd contains command definitions
package main

import "github.com/urfave/cli/v3"

func jsonFlag() cli.Flag {
	return &cli.BoolFlag{
		Name:  "json",
		Usage: "Output raw JSON",
	}
}

func urlFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "url",
		Usage: "Daemon base URL (default: http://<server.host>:<server.port>)",
	}
}

// setupCommand handles setup operations for configuration and the database.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Setup and configuration commands",
		Commands: []*cli.Command{
			{
				Name:   "config",
				Usage:  "Write an example config.toml to the --config path",
				Action: r.SetupConfig,
			},
			{
				Name:  "database",
				Usage: "Initialize database and run migrations",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "rollback",
						Usage: "Revert the most recent migration instead",
					},
				},
				Action: r.SetupDatabase,
			},
		},
	}
}

// sourceCommand manages configured sources.
func sourceCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "source",
		Aliases: []string{"src"},
		Usage:   "Manage synchronized playlists",
		Commands: []*cli.Command{
			{
				Name:  "add",
				Usage: "Add a playlist to keep in sync",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "name",
						Usage:    "Display name",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "remote",
						Usage:    "Remote playlist ID on the catalog",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "target-dir",
						Usage: "Artifact directory relative to sync.library_dir (default: the source ID)",
					},
					&cli.IntFlag{
						Name:  "min-duration",
						Usage: "Skip items shorter than this many seconds",
					},
					&cli.IntFlag{
						Name:  "max-duration",
						Usage: "Skip items longer than this many seconds",
					},
					&cli.BoolFlag{
						Name:  "prune",
						Usage: "Delete local items that disappear from the remote playlist",
					},
					&cli.StringSliceFlag{
						Name:  "schedule",
						Usage: "Cron expression to sync on (repeatable)",
					},
					jsonFlag(),
				},
				Action: r.SourceAdd,
			},
			{
				Name:   "list",
				Usage:  "List sources and their sync state",
				Flags:  []cli.Flag{jsonFlag()},
				Action: r.SourceList,
			},
			{
				Name:      "show",
				Usage:     "Show a source and its items",
				Arguments: []cli.Argument{&cli.StringArg{Name: "id"}},
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "items",
						Usage: "Print the item listing as CSV",
					},
					jsonFlag(),
				},
				Action: r.SourceShow,
			},
			{
				Name:      "remove",
				Aliases:   []string{"rm"},
				Usage:     "Remove a source and its schedules",
				Arguments: []cli.Argument{&cli.StringArg{Name: "id"}},
				Action:    r.SourceRemove,
			},
		},
	}
}

// syncCommand runs and inspects sync jobs.
func syncCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Run and inspect sync jobs",
		Commands: []*cli.Command{
			{
				Name:      "run",
				Usage:     "Sync a source now and wait for the job to finish",
				Arguments: []cli.Argument{&cli.StringArg{Name: "source"}},
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:    "quiet",
						Aliases: []string{"q"},
						Usage:   "Do not print progress lines",
					},
					jsonFlag(),
				},
				Action: r.SyncRun,
			},
			{
				Name:      "cancel",
				Usage:     "Cancel a job running in the daemon",
				Arguments: []cli.Argument{&cli.StringArg{Name: "job"}},
				Flags:     []cli.Flag{urlFlag()},
				Action:    r.SyncCancel,
			},
			{
				Name:   "active",
				Usage:  "List jobs running in the daemon",
				Flags:  []cli.Flag{urlFlag(), jsonFlag()},
				Action: r.SyncActive,
			},
			{
				Name:      "history",
				Usage:     "Show a source's job history",
				Arguments: []cli.Argument{&cli.StringArg{Name: "source"}},
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of jobs (0 for all)",
						Value: 20,
					},
					&cli.StringFlag{
						Name:    "format",
						Aliases: []string{"f"},
						Usage:   "Output format: text, csv, markdown, json",
						Value:   "text",
					},
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Write the export to a file instead of stdout",
					},
				},
				Action: r.SyncHistory,
			},
			{
				Name:      "log",
				Usage:     "Print a job's log trail",
				Arguments: []cli.Argument{&cli.StringArg{Name: "job"}},
				Action:    r.SyncLog,
			},
		},
	}
}

// scheduleCommand manages cron schedules.
func scheduleCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "schedule",
		Usage: "Manage cron schedules (5 fields, UTC)",
		Commands: []*cli.Command{
			{
				Name:  "add",
				Usage: "Add a cron expression to a source",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "source"},
					&cli.StringArg{Name: "expr"},
				},
				Action: r.ScheduleAdd,
			},
			{
				Name:  "remove",
				Usage: "Remove one cron expression from a source",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "source"},
					&cli.StringArg{Name: "expr"},
				},
				Action: r.ScheduleRemove,
			},
			{
				Name:      "clear",
				Usage:     "Remove every schedule from a source",
				Arguments: []cli.Argument{&cli.StringArg{Name: "source"}},
				Action:    r.ScheduleClear,
			},
			{
				Name:   "list",
				Usage:  "List scheduled sources with their next run",
				Flags:  []cli.Flag{jsonFlag()},
				Action: r.ScheduleList,
			},
			{
				Name:      "next",
				Usage:     "Print the next occurrence of a cron expression",
				Arguments: []cli.Argument{&cli.StringArg{Name: "expr"}},
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:    "count",
						Aliases: []string{"n"},
						Usage:   "Number of occurrences to print",
						Value:   1,
					},
				},
				Action: r.ScheduleNext,
			},
		},
	}
}

// metricsCommand prints the daemon's live metrics snapshot.
func metricsCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "metrics",
		Usage:  "Show throughput and active sync progress from the daemon",
		Flags:  []cli.Flag{urlFlag(), jsonFlag()},
		Action: r.Metrics,
	}
}

// serveCommand runs the daemon.
func serveCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the scheduler and HTTP API until interrupted",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "Listen address (default: server.host:server.port)",
			},
		},
		Action: r.Serve,
	}
}
