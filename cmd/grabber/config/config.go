// Package config provides configuration structures for the grabber CLI.
package config

import (
	"fmt"
	"time"
)

// Config represents the runtime configuration of the grabber.
type Config struct {
	// Endpoint is the GraphQL API endpoint.
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`
	// Token is the API bearer token. Usually supplied via GRABBER_TOKEN.
	Token string `mapstructure:"token" yaml:"token"`
	// APIVersion pins the API-Version header when set.
	APIVersion string `mapstructure:"api_version" yaml:"api_version"`
	// QueriesDir holds the .graphql documents.
	QueriesDir string `mapstructure:"queries_dir" yaml:"queries_dir"`
	// QueriesConfig is the per-query YAML configuration file.
	QueriesConfig string `mapstructure:"queries_config" yaml:"queries_config"`
	// OutputDir is the default destination directory.
	OutputDir string `mapstructure:"output_dir" yaml:"output_dir"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `mapstructure:"log_level" yaml:"log_level"`
	// RequestTimeout bounds each API round-trip.
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	// MaxAttempts bounds transport retries on transient failures.
	MaxAttempts int `mapstructure:"max_attempts" yaml:"max_attempts"`
	// Concurrency bounds parallel entity fetches; 1 means sequential.
	Concurrency int `mapstructure:"concurrency" yaml:"concurrency"`
	// Metrics enables the Prometheus collector.
	Metrics bool `mapstructure:"metrics" yaml:"metrics"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		QueriesDir:     "queries",
		QueriesConfig:  "config/queries.yaml",
		OutputDir:      "output",
		LogLevel:       "info",
		RequestTimeout: 2 * time.Minute,
		MaxAttempts:    3,
		Concurrency:    1,
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Token == "" {
		return fmt.Errorf("token is required (set GRABBER_TOKEN or --token)")
	}
	if c.QueriesDir == "" {
		return fmt.Errorf("queries_dir is required")
	}
	if c.QueriesConfig == "" {
		return fmt.Errorf("queries_config is required")
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1, got %d", c.MaxAttempts)
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q", c.LogLevel)
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("request_timeout cannot be negative")
	}
	return nil
}
