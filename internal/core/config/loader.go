package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

// ApplyDefaults fills in zero-valued settings.
func (cfg *AppConfig) ApplyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Sweep.OutRoot == "" {
		cfg.Sweep.OutRoot = "out"
	}
	if cfg.Sweep.Pipeline == "" {
		cfg.Sweep.Pipeline = "default"
	}
	if cfg.Sweep.Concurrency <= 0 {
		cfg.Sweep.Concurrency = 1
	}
	if cfg.Sweep.MaxAttempts == 0 {
		cfg.Sweep.MaxAttempts = 3
	}
	if cfg.Sweep.Backoff == 0 {
		cfg.Sweep.Backoff = 5 * time.Minute
	}
	if cfg.Sweep.MaxBackoff == 0 {
		cfg.Sweep.MaxBackoff = time.Hour
	}
	if len(cfg.Sweep.RetryKinds) == 0 {
		cfg.Sweep.RetryKinds = []string{"transient", "unknown"}
	}
}
