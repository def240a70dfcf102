// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads the server's configuration from an optional YAML
// file, then applies defaults and environment overrides, read once at
// process start.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	orchestraerrors "github.com/orchestra-run/orchestra/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned when configuration validation fails.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Config is the complete server configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store"`
	Registry   RegistryConfig   `yaml:"registry"`
	Token      TokenConfig      `yaml:"token"`
	Log        LogConfig        `yaml:"log"`
	Lifecycle  LifecycleConfig  `yaml:"lifecycle"`
	Escalation EscalationConfig `yaml:"escalation"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
}

// TokenConfig configures continuation-token signing.
type TokenConfig struct {
	// Secret signs the HS256 continuation tokens minted for each step.
	// Environment: ORCHESTRA_TOKEN_SECRET (required; no YAML default,
	// since committing a signing secret to a config file defeats it).
	Secret string `yaml:"secret,omitempty"`
}

// RegistryConfig configures the workflow/agent content registry.
type RegistryConfig struct {
	// Path is the registry YAML file listing workflows and agents.
	// Environment: ORCHESTRA_REGISTRY_PATH
	Path string `yaml:"path,omitempty"`

	// Watch enables hot-reload when Path changes on disk.
	// Environment: ORCHESTRA_REGISTRY_WATCH
	Watch bool `yaml:"watch,omitempty"`
}

// StoreConfig configures the embedded relational store.
type StoreConfig struct {
	// Path is the SQLite database file path.
	// Environment: ORCHESTRA_STORE_PATH
	Path string `yaml:"path,omitempty"`

	// CacheSizeMB is the SQLite page cache size in megabytes.
	// Environment: ORCHESTRA_STORE_CACHE_SIZE_MB
	CacheSizeMB int `yaml:"cache_size_mb,omitempty"`

	// MigrationTimeout bounds how long startup waits to acquire the
	// per-database-path migration lock.
	// Environment: ORCHESTRA_STORE_MIGRATION_TIMEOUT
	MigrationTimeout time.Duration `yaml:"migration_timeout,omitempty"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	// Level is the minimum log level (debug, info, warn, error).
	// Environment: ORCHESTRA_LOG_LEVEL
	Level string `yaml:"level,omitempty"`

	// Format is the log encoding (json, text).
	// Environment: ORCHESTRA_LOG_FORMAT
	Format string `yaml:"format,omitempty"`
}

// LifecycleConfig configures the timeout sweep.
type LifecycleConfig struct {
	// SweepInterval is how often the Lifecycle Manager checks for
	// executions that have exceeded their timeout budget.
	// Environment: ORCHESTRA_TIMEOUT_SWEEP_INTERVAL
	SweepInterval time.Duration `yaml:"sweep_interval,omitempty"`
}

// EscalationConfig configures when an execution is escalated due to
// accumulated findings.
type EscalationConfig struct {
	// CriticalThreshold escalates on this many critical-severity findings.
	// Environment: ORCHESTRA_ESCALATION_CRITICAL_THRESHOLD
	CriticalThreshold int `yaml:"critical_threshold,omitempty"`

	// HighThreshold escalates on this many high-severity findings.
	// Environment: ORCHESTRA_ESCALATION_HIGH_THRESHOLD
	HighThreshold int `yaml:"high_threshold,omitempty"`

	// TotalBlockerThreshold escalates on this many blocker-tagged
	// artifacts, regardless of finding severity.
	// Environment: ORCHESTRA_ESCALATION_BLOCKER_THRESHOLD
	TotalBlockerThreshold int `yaml:"total_blocker_threshold,omitempty"`
}

// RateLimitConfig configures the tool-call token buckets: read-only tools
// draw from a bucket at this rate and burst, and the state-mutating tools
// (start_workflow, advance_step, resume_execution) from one at half of
// each (burst at least 1).
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate.
	// Environment: ORCHESTRA_RATE_LIMIT_RPS
	RequestsPerSecond float64 `yaml:"requests_per_second,omitempty"`

	// Burst is the maximum burst size.
	// Environment: ORCHESTRA_RATE_LIMIT_BURST
	Burst int `yaml:"burst,omitempty"`
}

// Default returns a Config with the values from spec's Configuration
// table.
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			Path:             "./shared/database/app.db",
			CacheSizeMB:      64,
			MigrationTimeout: 10 * time.Minute,
		},
		Registry: RegistryConfig{
			Path:  "./shared/registry/workflows.yaml",
			Watch: true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Lifecycle: LifecycleConfig{
			SweepInterval: 5 * time.Second,
		},
		Escalation: EscalationConfig{
			CriticalThreshold:     1,
			HighThreshold:         3,
			TotalBlockerThreshold: 2,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 10,
			Burst:             20,
		},
	}
}

// Load builds a Config from defaults, an optional YAML file, then
// environment overrides, in that order of increasing precedence.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		if err := cfg.loadFromFile(configPath); err != nil {
			return nil, &orchestraerrors.ConfigError{
				Key:    "config_file",
				Reason: fmt.Sprintf("failed to load from %s", configPath),
				Cause:  err,
			}
		}
	}

	cfg.applyDefaults()
	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, &orchestraerrors.ConfigError{
			Key:    "validation",
			Reason: "configuration validation failed",
			Cause:  err,
		}
	}

	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	return nil
}

// applyDefaults fills zero-valued fields left empty by a partial file,
// so a minimal config.yaml (or none at all) still produces a complete
// Config.
func (c *Config) applyDefaults() {
	d := Default()

	if c.Store.Path == "" {
		c.Store.Path = d.Store.Path
	}
	if c.Store.CacheSizeMB == 0 {
		c.Store.CacheSizeMB = d.Store.CacheSizeMB
	}
	if c.Store.MigrationTimeout == 0 {
		c.Store.MigrationTimeout = d.Store.MigrationTimeout
	}
	if c.Registry.Path == "" {
		c.Registry.Path = d.Registry.Path
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}
	if c.Lifecycle.SweepInterval == 0 {
		c.Lifecycle.SweepInterval = d.Lifecycle.SweepInterval
	}
	if c.Escalation.CriticalThreshold == 0 {
		c.Escalation.CriticalThreshold = d.Escalation.CriticalThreshold
	}
	if c.Escalation.HighThreshold == 0 {
		c.Escalation.HighThreshold = d.Escalation.HighThreshold
	}
	if c.Escalation.TotalBlockerThreshold == 0 {
		c.Escalation.TotalBlockerThreshold = d.Escalation.TotalBlockerThreshold
	}
	if c.RateLimit.RequestsPerSecond == 0 {
		c.RateLimit.RequestsPerSecond = d.RateLimit.RequestsPerSecond
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = d.RateLimit.Burst
	}
}

func (c *Config) loadFromEnv() {
	if val := os.Getenv("ORCHESTRA_STORE_PATH"); val != "" {
		c.Store.Path = val
	}
	if val := os.Getenv("ORCHESTRA_STORE_CACHE_SIZE_MB"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Store.CacheSizeMB = n
		}
	}
	if val := os.Getenv("ORCHESTRA_STORE_MIGRATION_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Store.MigrationTimeout = d
		}
	}
	if val := os.Getenv("ORCHESTRA_TOKEN_SECRET"); val != "" {
		c.Token.Secret = val
	}
	if val := os.Getenv("ORCHESTRA_REGISTRY_PATH"); val != "" {
		c.Registry.Path = val
	}
	if val := os.Getenv("ORCHESTRA_REGISTRY_WATCH"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			c.Registry.Watch = b
		}
	}
	if val := os.Getenv("ORCHESTRA_LOG_LEVEL"); val != "" {
		c.Log.Level = strings.ToLower(val)
	}
	if val := os.Getenv("ORCHESTRA_LOG_FORMAT"); val != "" {
		c.Log.Format = strings.ToLower(val)
	}
	if val := os.Getenv("ORCHESTRA_TIMEOUT_SWEEP_INTERVAL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Lifecycle.SweepInterval = d
		}
	}
	if val := os.Getenv("ORCHESTRA_ESCALATION_CRITICAL_THRESHOLD"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Escalation.CriticalThreshold = n
		}
	}
	if val := os.Getenv("ORCHESTRA_ESCALATION_HIGH_THRESHOLD"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Escalation.HighThreshold = n
		}
	}
	if val := os.Getenv("ORCHESTRA_ESCALATION_BLOCKER_THRESHOLD"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Escalation.TotalBlockerThreshold = n
		}
	}
	if val := os.Getenv("ORCHESTRA_RATE_LIMIT_RPS"); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			c.RateLimit.RequestsPerSecond = f
		}
	}
	if val := os.Getenv("ORCHESTRA_RATE_LIMIT_BURST"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.RateLimit.Burst = n
		}
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	var errs []string

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		errs = append(errs, fmt.Sprintf("log.level must be one of [debug, info, warn, error], got %q", c.Log.Level))
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Log.Format] {
		errs = append(errs, fmt.Sprintf("log.format must be one of [json, text], got %q", c.Log.Format))
	}
	if c.Store.Path == "" {
		errs = append(errs, "store.path must not be empty")
	}
	if c.Store.CacheSizeMB <= 0 {
		errs = append(errs, fmt.Sprintf("store.cache_size_mb must be positive, got %d", c.Store.CacheSizeMB))
	}
	if c.Registry.Path == "" {
		errs = append(errs, "registry.path must not be empty")
	}
	if len(c.Token.Secret) < 16 {
		errs = append(errs, "token.secret must be set via ORCHESTRA_TOKEN_SECRET (at least 16 bytes)")
	}
	if c.Lifecycle.SweepInterval <= 0 {
		errs = append(errs, fmt.Sprintf("lifecycle.sweep_interval must be positive, got %v", c.Lifecycle.SweepInterval))
	}
	if c.Escalation.CriticalThreshold <= 0 {
		errs = append(errs, "escalation.critical_threshold must be positive")
	}
	if c.Escalation.HighThreshold <= 0 {
		errs = append(errs, "escalation.high_threshold must be positive")
	}
	if c.Escalation.TotalBlockerThreshold <= 0 {
		errs = append(errs, "escalation.total_blocker_threshold must be positive")
	}
	if c.RateLimit.RequestsPerSecond <= 0 {
		errs = append(errs, "rate_limit.requests_per_second must be positive")
	}
	if c.RateLimit.Burst <= 0 {
		errs = append(errs, "rate_limit.burst must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w:\n  - %s", ErrInvalidConfig, strings.Join(errs, "\n  - "))
	}
	return nil
}
