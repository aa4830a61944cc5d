// Package config provides configuration loading and validation for the server.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// Config represents the server configuration that can be loaded from a JSON
// file. All fields are optional; missing values use defaults or environment
// variables.
type Config struct {
	// Server
	Port int `json:"port,omitempty"` // HTTP listen port

	// Collaborators
	DatabaseURL string `json:"database_url,omitempty"` // PostgreSQL connection URL
	RedisURL    string `json:"redis_url,omitempty"`    // Redis URL for task snapshots (optional)
	APIKey      string `json:"api_key,omitempty"`      // Gemini API key

	// Generation
	BulkConcurrency          int     `json:"bulk_concurrency,omitempty"`           // Worker pool cap for bulk dispatch
	CallTimeoutSeconds       int     `json:"call_timeout_seconds,omitempty"`       // Ceiling per backend call
	CompletenessThreshold    float64 `json:"completeness_threshold,omitempty"`     // Flagging threshold (0.0-1.0)
	EstimatedDurationSeconds int     `json:"estimated_duration_seconds,omitempty"` // Reported on start-generation

	// Task retention
	TaskRetentionMinutes int `json:"task_retention_minutes,omitempty"` // Terminal tasks kept this long
	SweepIntervalMinutes int `json:"sweep_interval_minutes,omitempty"` // Janitor sweep cadence
}

// Defaults returns the built-in defaults
func Defaults() Config {
	return Config{
		Port:                     8080,
		BulkConcurrency:          5,
		CallTimeoutSeconds:       60,
		CompletenessThreshold:    0.7,
		EstimatedDurationSeconds: 30,
		TaskRetentionMinutes:     60,
		SweepIntervalMinutes:     10,
	}
}

// LoadConfig loads configuration from a JSON file.
// Returns an error if the file cannot be read or parsed.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is empty")
	}

	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		path = filepath.Join(cwd, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	return &cfg, nil
}

// FromEnv fills a Config from environment variables
func FromEnv() Config {
	cfg := Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    os.Getenv("REDIS_URL"),
		APIKey:      os.Getenv("GEMINI_API_KEY"),
	}
	if port, err := strconv.Atoi(os.Getenv("PORT")); err == nil {
		cfg.Port = port
	}
	return cfg
}

// Validate checks that the configuration has valid values
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("config error: 'port' out of range: %d", c.Port)
	}
	if c.BulkConcurrency < 0 {
		return fmt.Errorf("config error: 'bulk_concurrency' must be non-negative")
	}
	if c.CallTimeoutSeconds < 0 {
		return fmt.Errorf("config error: 'call_timeout_seconds' must be non-negative")
	}
	if c.CompletenessThreshold < 0 || c.CompletenessThreshold > 1 {
		return fmt.Errorf("config error: 'completeness_threshold' must be in [0.0, 1.0]")
	}
	if c.TaskRetentionMinutes < 0 {
		return fmt.Errorf("config error: 'task_retention_minutes' must be non-negative")
	}
	return nil
}

// MergeWithDefaults returns a new Config with empty fields filled from defaults.
func (c *Config) MergeWithDefaults(defaults Config) Config {
	result := *c

	if result.Port == 0 {
		result.Port = defaults.Port
	}
	if result.DatabaseURL == "" {
		result.DatabaseURL = defaults.DatabaseURL
	}
	if result.RedisURL == "" {
		result.RedisURL = defaults.RedisURL
	}
	if result.APIKey == "" {
		result.APIKey = defaults.APIKey
	}
	if result.BulkConcurrency == 0 {
		result.BulkConcurrency = defaults.BulkConcurrency
	}
	if result.CallTimeoutSeconds == 0 {
		result.CallTimeoutSeconds = defaults.CallTimeoutSeconds
	}
	if result.CompletenessThreshold == 0 {
		result.CompletenessThreshold = defaults.CompletenessThreshold
	}
	if result.EstimatedDurationSeconds == 0 {
		result.EstimatedDurationSeconds = defaults.EstimatedDurationSeconds
	}
	if result.TaskRetentionMinutes == 0 {
		result.TaskRetentionMinutes = defaults.TaskRetentionMinutes
	}
	if result.SweepIntervalMinutes == 0 {
		result.SweepIntervalMinutes = defaults.SweepIntervalMinutes
	}

	return result
}
