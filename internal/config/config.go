package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config carries the engine settings. Values come from an optional YAML
// file, then environment variables override field by field.
type Config struct {
	HTTPPort        int           `yaml:"http_port"`
	TickInterval    time.Duration `yaml:"tick_interval"`
	DispatchWorkers int           `yaml:"dispatch_workers"`
	DispatchTimeout time.Duration `yaml:"dispatch_timeout"`
	DatabaseURL     string        `yaml:"database_url"`
	LogLevel        string        `yaml:"log_level"`
}

func defaults() Config {
	return Config{
		HTTPPort:        8080,
		TickInterval:    10 * time.Second,
		DispatchWorkers: 4,
		DispatchTimeout: 5 * time.Second,
		LogLevel:        "info",
	}
}

// Load reads the config file at path (skipped when empty or missing)
// and applies environment overrides on top of the defaults.
func Load(path string) (Config, error) {
	cfg := defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config: %w", err)
			}
		}
	}
	applyEnv(&cfg)
	if cfg.HTTPPort <= 0 || cfg.HTTPPort > 65535 {
		return Config{}, fmt.Errorf("invalid http_port %d", cfg.HTTPPort)
	}
	if cfg.TickInterval <= 0 {
		return Config{}, fmt.Errorf("tick_interval must be positive")
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("HTTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.HTTPPort = port
		}
	}
	if v := os.Getenv("TICK_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.TickInterval = d
		}
	}
	if v := os.Getenv("DISPATCH_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.DispatchWorkers = n
		}
	}
	if v := os.Getenv("DISPATCH_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.DispatchTimeout = d
		}
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}
