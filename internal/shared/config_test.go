package shared

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestConfig(t *testing.T) {
	t.Run("DefaultConfig", func(t *testing.T) {
		config := DefaultConfig()

		if config.Database.Path != "./plsync.db" {
			t.Errorf("expected database path ./plsync.db, got %s", config.Database.Path)
		}

		if config.Server.Port != 3000 {
			t.Errorf("expected server port 3000, got %d", config.Server.Port)
		}

		if config.Sync.MaxParallel != 3 {
			t.Errorf("expected max_parallel 3, got %d", config.Sync.MaxParallel)
		}

		if config.Scheduler.SweepInterval() != time.Minute {
			t.Errorf("expected sweep interval 1m, got %s", config.Scheduler.SweepInterval())
		}

		if config.Scheduler.MinDelay() != time.Second {
			t.Errorf("expected min delay 1s, got %s", config.Scheduler.MinDelay())
		}

		if err := config.Validate(); err != nil {
			t.Errorf("default config should validate: %v", err)
		}
	})

	t.Run("CreateConfigFile", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.toml")

		if err := CreateConfigFile(configPath); err != nil {
			t.Fatalf("failed to create config file: %v", err)
		}

		if _, err := os.Stat(configPath); err != nil {
			t.Fatalf("config file should exist: %v", err)
		}

		config, err := LoadConfig(configPath)
		if err != nil {
			t.Fatalf("failed to load created config: %v", err)
		}

		defaultConfig := DefaultConfig()
		if config.Database.Path != defaultConfig.Database.Path {
			t.Errorf("created config database path doesn't match default")
		}

		if err := CreateConfigFile(configPath); err == nil {
			t.Error("creating config file again should fail")
		}
	})

	t.Run("LoadConfig", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.toml")

		testConfig := `[database]
path = "/custom/path.db"
max_open_conns = 20
max_idle_conns = 10

[server]
host = "0.0.0.0"
port = 8080

[catalog]
base_url = "http://localhost:9090"

[sync]
max_parallel = 6
library_dir = "/srv/library"
`

		if err := os.WriteFile(configPath, []byte(testConfig), 0644); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}

		config, err := LoadConfig(configPath)
		if err != nil {
			t.Fatalf("failed to load config: %v", err)
		}

		if config.Database.Path != "/custom/path.db" {
			t.Errorf("expected database path /custom/path.db, got %s", config.Database.Path)
		}

		if config.Server.Addr() != "0.0.0.0:8080" {
			t.Errorf("expected addr 0.0.0.0:8080, got %s", config.Server.Addr())
		}

		if config.Sync.MaxParallel != 6 {
			t.Errorf("expected max_parallel 6, got %d", config.Sync.MaxParallel)
		}

		if config.Scheduler.SweepIntervalSeconds != 60 {
			t.Errorf("omitted scheduler section should keep defaults, got %d", config.Scheduler.SweepIntervalSeconds)
		}
	})

	t.Run("Validate", func(t *testing.T) {
		tt := []struct {
			name   string
			mutate func(*Config)
		}{
			{name: "zero parallelism", mutate: func(c *Config) { c.Sync.MaxParallel = 0 }},
			{name: "missing database path", mutate: func(c *Config) { c.Database.Path = "" }},
			{name: "zero sweep interval", mutate: func(c *Config) { c.Scheduler.SweepIntervalSeconds = 0 }},
			{name: "negative min delay", mutate: func(c *Config) { c.Scheduler.MinDelayMillis = -1 }},
			{name: "unknown log level", mutate: func(c *Config) { c.Logging.Level = "chatty" }},
		}

		for _, tc := range tt {
			t.Run(tc.name, func(t *testing.T) {
				config := DefaultConfig()
				tc.mutate(config)

				err := config.Validate()
				if !errors.Is(err, ErrInvalidConfig) {
					t.Errorf("expected ErrInvalidConfig, got %v", err)
				}
			})
		}
	})
}
