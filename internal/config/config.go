// Copyright 2025 The takt authors
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

// Package config loads the daemon configuration from a YAML file with
// environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/takt-io/takt/internal/storage"
	"github.com/takt-io/takt/internal/timeutil"
	"github.com/takt-io/takt/pkg/errors"
)

// Mode selects the execution environment.
type Mode string

const (
	// ModeProduction runs against SQLite storage and the routing runner.
	ModeProduction Mode = "production"

	// ModeDevelopment runs fully in memory with the local runner.
	ModeDevelopment Mode = "development"
)

// Config is the complete daemon configuration.
type Config struct {
	Mode Mode `yaml:"mode"`

	HTTP       HTTPConfig       `yaml:"http"`
	Storage    StorageConfig    `yaml:"storage"`
	Auth       AuthConfig       `yaml:"auth"`
	Workflows  WorkflowsConfig  `yaml:"workflows"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Retry      RetryConfig      `yaml:"retry"`
	Submission SubmissionConfig `yaml:"submission"`
	Tracing    TracingConfig    `yaml:"tracing"`
	GKE        GKEConfig        `yaml:"gke"`

	// StaleStateTTLs maps run-state names to ISO-8601 durations after
	// which the scheduler times an instance out. The key "default"
	// covers unnamed states and is required when the map is present.
	StaleStateTTLs map[string]string `yaml:"stale_state_ttls"`
}

// HTTPConfig configures the API server.
type HTTPConfig struct {
	// ListenAddr is the address the HTTP server binds.
	ListenAddr string `yaml:"listen_addr"`
}

// StorageConfig configures the persistent store.
type StorageConfig struct {
	// Path is the SQLite database file. Required in production mode;
	// development mode ignores it and stays in memory.
	Path string `yaml:"path"`
}

// AuthConfig configures bearer-token authentication of mutating requests.
type AuthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Secret  string `yaml:"secret"`
}

// WorkflowsConfig configures the workflow definition source.
type WorkflowsConfig struct {
	// File is a YAML file of workflow definitions, watched for changes.
	// Empty disables the file source; workflows then come in over the
	// API only.
	File string `yaml:"file"`
}

// SchedulerConfig overrides the scheduling intervals.
type SchedulerConfig struct {
	// TickInterval is the timeout/dequeue sweep interval.
	TickInterval time.Duration `yaml:"tick_interval"`

	// TriggerTickInterval is the natural-trigger and backfill interval.
	TriggerTickInterval time.Duration `yaml:"trigger_tick_interval"`

	// RuntimeConfigInterval is how often storage-held runtime
	// configuration is re-read.
	RuntimeConfigInterval time.Duration `yaml:"runtime_config_interval"`
}

// RetryConfig overrides the retry backoff. Zero values select the
// built-in defaults.
type RetryConfig struct {
	BaseDelay        time.Duration `yaml:"base_delay"`
	MaxExponent      int           `yaml:"max_exponent"`
	MaxDelay         time.Duration `yaml:"max_delay"`
	MissingDepsDelay time.Duration `yaml:"missing_deps_delay"`
	MaxRetryCost     float64       `yaml:"max_retry_cost"`
}

// SubmissionConfig configures the global submission rate limiter.
type SubmissionConfig struct {
	// DefaultRatePerSec applies until storage-held runtime configuration
	// overrides it.
	DefaultRatePerSec float64 `yaml:"default_rate_per_sec"`
}

// TracingConfig configures span export.
type TracingConfig struct {
	// Enabled writes spans to stdout.
	Enabled bool `yaml:"enabled"`

	// Pretty formats exported spans for humans.
	Pretty bool `yaml:"pretty"`
}

// GKEConfig names the cluster executions are routed to in production.
type GKEConfig struct {
	ProjectID string `yaml:"project_id"`
	Zone      string `yaml:"zone"`
	ClusterID string `yaml:"cluster_id"`
	Namespace string `yaml:"namespace"`
}

// Default returns the development-mode defaults.
func Default() *Config {
	return &Config{
		Mode: ModeDevelopment,
		HTTP: HTTPConfig{ListenAddr: ":8080"},
		Scheduler: SchedulerConfig{
			TickInterval:          2 * time.Second,
			TriggerTickInterval:   time.Second,
			RuntimeConfigInterval: 5 * time.Second,
		},
		Submission: SubmissionConfig{
			DefaultRatePerSec: storage.DefaultSubmissionRatePerSec,
		},
	}
}

// Load reads the configuration file at path, overlays environment
// variables, and validates the result. An empty path loads defaults and
// environment only.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, &errors.ConfigError{
				Key:    "config_file",
				Reason: fmt.Sprintf("failed to read %s", path),
				Cause:  err,
			}
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, &errors.ConfigError{
				Key:    "config_file",
				Reason: fmt.Sprintf("failed to parse %s", path),
				Cause:  err,
			}
		}
	}

	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFromEnv overrides file values with environment variables.
func (c *Config) loadFromEnv() {
	if val := os.Getenv("TAKT_MODE"); val != "" {
		c.Mode = Mode(val)
	}
	if val := os.Getenv("TAKT_LISTEN_ADDR"); val != "" {
		c.HTTP.ListenAddr = val
	}
	if val := os.Getenv("TAKT_STORAGE_PATH"); val != "" {
		c.Storage.Path = val
	}
	if val := os.Getenv("TAKT_AUTH_ENABLED"); val != "" {
		if enabled, err := strconv.ParseBool(val); err == nil {
			c.Auth.Enabled = enabled
		}
	}
	if val := os.Getenv("TAKT_AUTH_SECRET"); val != "" {
		c.Auth.Secret = val
	}
	if val := os.Getenv("TAKT_WORKFLOWS_FILE"); val != "" {
		c.Workflows.File = val
	}
	if val := os.Getenv("TAKT_SUBMISSION_RATE"); val != "" {
		if rate, err := strconv.ParseFloat(val, 64); err == nil {
			c.Submission.DefaultRatePerSec = rate
		}
	}
}

// Validate checks the configuration for contradictions. It is called by
// Load; call it directly only for hand-built configs.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeProduction, ModeDevelopment:
	default:
		return &errors.ConfigError{
			Key:    "mode",
			Reason: fmt.Sprintf("must be %q or %q, got %q", ModeProduction, ModeDevelopment, c.Mode),
		}
	}

	if c.HTTP.ListenAddr == "" {
		return &errors.ConfigError{Key: "http.listen_addr", Reason: "must not be empty"}
	}

	if c.Mode == ModeProduction && c.Storage.Path == "" {
		return &errors.ConfigError{Key: "storage.path", Reason: "required in production mode"}
	}

	if c.Auth.Enabled && c.Auth.Secret == "" {
		return &errors.ConfigError{Key: "auth.secret", Reason: "required when auth is enabled"}
	}

	if len(c.StaleStateTTLs) > 0 {
		if _, ok := c.StaleStateTTLs["default"]; !ok {
			return &errors.ConfigError{
				Key:    "stale_state_ttls",
				Reason: "must contain the key \"default\"",
			}
		}
		for key, value := range c.StaleStateTTLs {
			if _, err := timeutil.ParseISODuration(value); err != nil {
				return &errors.ConfigError{
					Key:    "stale_state_ttls." + key,
					Reason: "not an ISO-8601 duration",
					Cause:  err,
				}
			}
		}
	}

	if c.Submission.DefaultRatePerSec <= 0 {
		return &errors.ConfigError{
			Key:    "submission.default_rate_per_sec",
			Reason: "must be positive",
		}
	}

	return nil
}

// Development reports whether the daemon runs in development mode.
func (c *Config) Development() bool {
	return c.Mode == ModeDevelopment
}
