// Package config loads runtime settings from ROSTRUM_* environment
// variables and workflow definitions from YAML files.
package config

import (
	"time"

	"github.com/caarlos0/env/v10"

	"github.com/rostrum-oss/rostrum/internal/checkpoint"
	rostrumErrors "github.com/rostrum-oss/rostrum/internal/errors"
)

// Config is the runtime configuration. Every field has a default suitable
// for local use, so a zero environment yields a working setup.
type Config struct {
	Log        LogConfig        `yaml:"log"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Bus        BusConfig        `yaml:"bus"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	Recovery   RecoveryConfig   `yaml:"recovery"`
}

// LogConfig controls the logger.
type LogConfig struct {
	Level  string `env:"ROSTRUM_LOG_LEVEL" envDefault:"info" yaml:"level"`
	Format string `env:"ROSTRUM_LOG_FORMAT" envDefault:"text" yaml:"format"`
	// File mirrors log output into a file when non-empty.
	File string `env:"ROSTRUM_LOG_FILE" yaml:"file,omitempty"`
}

// MetricsConfig controls the optional metrics surfaces.
type MetricsConfig struct {
	// Addr exposes /metrics over HTTP when non-empty (host:port).
	Addr string `env:"ROSTRUM_METRICS_ADDR" yaml:"addr,omitempty"`
	// File appends JSONL metric snapshots when non-empty.
	File string `env:"ROSTRUM_METRICS_FILE" yaml:"file,omitempty"`
}

// BusConfig sizes the event bus.
type BusConfig struct {
	QueueSize    int           `env:"ROSTRUM_BUS_QUEUE_SIZE" envDefault:"1024" yaml:"queue_size"`
	PollInterval time.Duration `env:"ROSTRUM_BUS_POLL_INTERVAL" envDefault:"1s" yaml:"poll_interval"`
}

// SchedulerConfig bounds the workflow scheduler.
type SchedulerConfig struct {
	MaxConcurrentWorkflows int `env:"ROSTRUM_MAX_CONCURRENT_WORKFLOWS" envDefault:"5" yaml:"max_concurrent_workflows"`
}

// CheckpointConfig selects and parameterizes the checkpoint store.
type CheckpointConfig struct {
	Driver        string `env:"ROSTRUM_CHECKPOINT_DRIVER" envDefault:"file" yaml:"driver"`
	Dir           string `env:"ROSTRUM_CHECKPOINT_DIR" envDefault:".rostrum/checkpoints" yaml:"dir"`
	Path          string `env:"ROSTRUM_CHECKPOINT_PATH" envDefault:".rostrum/checkpoints.db" yaml:"path"`
	RedisAddr     string `env:"ROSTRUM_REDIS_ADDR" envDefault:"localhost:6379" yaml:"redis_addr"`
	RedisPassword string `env:"ROSTRUM_REDIS_PASSWORD" yaml:"redis_password,omitempty"`
	RedisDB       int    `env:"ROSTRUM_REDIS_DB" envDefault:"0" yaml:"redis_db"`
	// TTL lets the redis driver expire blobs on its own. Zero keeps them.
	TTL time.Duration `env:"ROSTRUM_CHECKPOINT_TTL" envDefault:"0" yaml:"ttl"`
	// Retention is the age past which `checkpoints prune` removes blobs.
	Retention time.Duration `env:"ROSTRUM_CHECKPOINT_RETENTION" envDefault:"720h" yaml:"retention"`
}

// RecoveryConfig tunes the recovery manager.
type RecoveryConfig struct {
	CacheSize int `env:"ROSTRUM_RECOVERY_CACHE_SIZE" envDefault:"32" yaml:"cache_size"`
}

// Load reads the configuration from the environment and validates it.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, rostrumErrors.Wrap(rostrumErrors.KindValidation, rostrumErrors.CodeConfigInvalid,
			"failed to parse environment", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validLogFormats = map[string]bool{
	"text": true,
	"json": true,
}

var validDrivers = map[string]bool{
	"memory": true,
	"file":   true,
	"sqlite": true,
	"redis":  true,
}

// Validate checks field ranges and enumerations.
func (c *Config) Validate() error {
	if !validLogLevels[c.Log.Level] {
		return rostrumErrors.Newf(rostrumErrors.KindValidation, rostrumErrors.CodeConfigInvalid,
			"invalid log level: %s", c.Log.Level).
			WithSuggestion("Use one of: debug, info, warn, error")
	}
	if !validLogFormats[c.Log.Format] {
		return rostrumErrors.Newf(rostrumErrors.KindValidation, rostrumErrors.CodeConfigInvalid,
			"invalid log format: %s", c.Log.Format).
			WithSuggestion("Use text or json")
	}
	if c.Bus.QueueSize <= 0 {
		return rostrumErrors.Newf(rostrumErrors.KindValidation, rostrumErrors.CodeConfigInvalid,
			"bus queue size must be positive, got %d", c.Bus.QueueSize)
	}
	if c.Bus.PollInterval <= 0 {
		return rostrumErrors.Newf(rostrumErrors.KindValidation, rostrumErrors.CodeConfigInvalid,
			"bus poll interval must be positive, got %s", c.Bus.PollInterval)
	}
	if c.Scheduler.MaxConcurrentWorkflows <= 0 {
		return rostrumErrors.Newf(rostrumErrors.KindValidation, rostrumErrors.CodeConfigInvalid,
			"max concurrent workflows must be positive, got %d", c.Scheduler.MaxConcurrentWorkflows)
	}
	if !validDrivers[c.Checkpoint.Driver] {
		return rostrumErrors.Newf(rostrumErrors.KindValidation, rostrumErrors.CodeConfigInvalid,
			"invalid checkpoint driver: %s", c.Checkpoint.Driver).
			WithSuggestion("Use one of: memory, file, sqlite, redis")
	}
	if c.Checkpoint.TTL < 0 {
		return rostrumErrors.Newf(rostrumErrors.KindValidation, rostrumErrors.CodeConfigInvalid,
			"checkpoint ttl must not be negative, got %s", c.Checkpoint.TTL)
	}
	if c.Checkpoint.Retention < 0 {
		return rostrumErrors.Newf(rostrumErrors.KindValidation, rostrumErrors.CodeConfigInvalid,
			"checkpoint retention must not be negative, got %s", c.Checkpoint.Retention)
	}
	if c.Recovery.CacheSize <= 0 {
		return rostrumErrors.Newf(rostrumErrors.KindValidation, rostrumErrors.CodeConfigInvalid,
			"recovery cache size must be positive, got %d", c.Recovery.CacheSize)
	}
	return nil
}

// Store maps the checkpoint section onto the store's own config type.
func (c *Config) Store() checkpoint.Config {
	return checkpoint.Config{
		Driver:        c.Checkpoint.Driver,
		Dir:           c.Checkpoint.Dir,
		Path:          c.Checkpoint.Path,
		RedisAddr:     c.Checkpoint.RedisAddr,
		RedisPassword: c.Checkpoint.RedisPassword,
		RedisDB:       c.Checkpoint.RedisDB,
		TTL:           c.Checkpoint.TTL,
	}
}
