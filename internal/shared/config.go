package shared

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Database  DatabaseConfig  `toml:"database"`
	Server    ServerConfig    `toml:"server"`
	Catalog   CatalogConfig   `toml:"catalog"`
	Sync      SyncConfig      `toml:"sync"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Logging   LoggingConfig   `toml:"logging"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// CatalogConfig contains settings for the remote catalog proxy used to list and fetch items.
type CatalogConfig struct {
	BaseURL         string  `toml:"base_url"`
	RateLimit       float64 `toml:"rate_limit"`
	TimeoutSeconds  int     `toml:"timeout_seconds"`
	BreakerFailures uint32  `toml:"breaker_failures"`
}

// Timeout returns the per-request timeout for catalog calls.
func (c CatalogConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// SyncConfig contains orchestrator settings.
type SyncConfig struct {
	MaxParallel int    `toml:"max_parallel"`
	LibraryDir  string `toml:"library_dir"`
}

// SchedulerConfig contains cron scheduler settings.
type SchedulerConfig struct {
	SweepIntervalSeconds int `toml:"sweep_interval_seconds"`
	StaleAfterMinutes    int `toml:"stale_after_minutes"`
	MinDelayMillis       int `toml:"min_delay_ms"`
}

// SweepInterval returns how often the safety-net sweep runs.
func (s SchedulerConfig) SweepInterval() time.Duration {
	return time.Duration(s.SweepIntervalSeconds) * time.Second
}

// StaleAfter returns the age after which the sweep considers a source overdue.
func (s SchedulerConfig) StaleAfter() time.Duration {
	return time.Duration(s.StaleAfterMinutes) * time.Minute
}

// MinDelay returns the floor applied to every armed timer.
func (s SchedulerConfig) MinDelay() time.Duration {
	return time.Duration(s.MinDelayMillis) * time.Millisecond
}

// LoggingConfig contains logger settings.
type LoggingConfig struct {
	Level string `toml:"level"`
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// Validate checks values the engine cannot run with.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("%w: database.path is required", ErrInvalidConfig)
	}
	if c.Sync.MaxParallel <= 0 {
		return fmt.Errorf("%w: sync.max_parallel must be positive, got %d", ErrInvalidConfig, c.Sync.MaxParallel)
	}
	if c.Scheduler.SweepIntervalSeconds <= 0 {
		return fmt.Errorf("%w: scheduler.sweep_interval_seconds must be positive", ErrInvalidConfig)
	}
	if c.Scheduler.MinDelayMillis < 0 {
		return fmt.Errorf("%w: scheduler.min_delay_ms cannot be negative", ErrInvalidConfig)
	}
	if _, err := ParseLogLevel(c.Logging.Level); err != nil {
		return err
	}
	return nil
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	// Check if file already exists
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
