package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/plsync/internal/shared"
)

// SetupConfig writes the embedded example config to the --config path.
func (r *Runner) SetupConfig(ctx context.Context, cmd *cli.Command) error {
	path := cmd.String("config")
	if err := shared.CreateConfigFile(path); err != nil {
		return err
	}
	r.logger.Info("config file created", "path", path)
	r.writePlain("%s Config written to %s\n", r.palette.OK("✓"), path)
	return nil
}

// SetupDatabase initializes the database and runs migrations, or reverts the latest one with --rollback.
func (r *Runner) SetupDatabase(ctx context.Context, cmd *cli.Command) error {
	r.logger.Info("initializing database", "path", r.config.Database.Path)

	if err := r.open(); err != nil {
		return fmt.Errorf("failed to set up database: %w", err)
	}

	if cmd.Bool("rollback") {
		if err := shared.RollbackMigration(r.db); err != nil {
			return fmt.Errorf("failed to roll back database: %w", err)
		}
		version, err := shared.MigrationVersion(r.db)
		if err != nil {
			return err
		}
		r.logger.Warn("rolled back database schema", "path", r.config.Database.Path, "version", version)
		r.writePlain("%s Rolled back %s to schema version %d\n", r.palette.Warn("!"), r.config.Database.Path, version)
		return nil
	}

	version, err := shared.MigrationVersion(r.db)
	if err != nil {
		return err
	}

	r.logger.Infof("setup complete for database: %v", r.config.Database.Path)
	r.writePlain("%s Database ready at %s (schema version %d)\n", r.palette.OK("✓"), r.config.Database.Path, version)
	return nil
}
