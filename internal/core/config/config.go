package config

import (
	"time"

	"github.com/vietddude/ocrsweep/internal/engine"
	redisclient "github.com/vietddude/ocrsweep/internal/infra/redis"
	"github.com/vietddude/ocrsweep/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server   ServerConfig       `yaml:"server"`
	Sweep    SweepConfig        `yaml:"sweep"`
	Engine   engine.Config      `yaml:"engine"`
	Redis    redisclient.Config `yaml:"redis"`
	Logging  LoggingConfig      `yaml:"logging"`
	Database postgres.Config    `yaml:"database"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// SweepConfig holds settings for the sweep itself.
type SweepConfig struct {
	InputRoot   string        `yaml:"input_root"`
	OutRoot     string        `yaml:"out_root"`
	Recursive   bool          `yaml:"recursive"`
	Limit       int           `yaml:"limit"` // 0 = unlimited
	Pipeline    string        `yaml:"pipeline"`
	RunTag      string        `yaml:"run_tag"`
	PromptID    string        `yaml:"prompt_id"`
	Concurrency int           `yaml:"concurrency"`
	MaxAttempts int           `yaml:"max_attempts"` // 0 = unlimited
	Backoff     time.Duration `yaml:"backoff"`
	MaxBackoff  time.Duration `yaml:"max_backoff"`
	Retention   time.Duration `yaml:"retention"` // 0 = keep superseded runs forever
	RetryKinds  []string      `yaml:"retry_kinds"`
	Interval    time.Duration `yaml:"interval"` // 0 = run once and exit
}
