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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/takt-io/takt/pkg/errors"
)

const fullConfig = `
mode: production
http:
  listen_addr: ":9090"
storage:
  path: /var/lib/takt/takt.db
auth:
  enabled: true
  secret: hush
workflows:
  file: /etc/takt/workflows.yaml
scheduler:
  tick_interval: 5s
  trigger_tick_interval: 2s
  runtime_config_interval: 10s
retry:
  base_delay: 1m
  max_exponent: 6
  max_delay: 30m
  missing_deps_delay: 10m
  max_retry_cost: 50
submission:
  default_rate_per_sec: 250
tracing:
  enabled: true
  pretty: true
gke:
  project_id: takt-prod
  zone: europe-west1-d
  cluster_id: takt
  namespace: workflows
stale_state_ttls:
  default: PT24H
  running: PT48H
  submitted: PT10M
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "takt.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, ModeDevelopment, cfg.Mode)
	assert.True(t, cfg.Development())
	assert.Equal(t, ":8080", cfg.HTTP.ListenAddr)
	assert.Equal(t, 2*time.Second, cfg.Scheduler.TickInterval)
	assert.Equal(t, time.Second, cfg.Scheduler.TriggerTickInterval)
	assert.Equal(t, 5*time.Second, cfg.Scheduler.RuntimeConfigInterval)
	assert.Equal(t, float64(1000), cfg.Submission.DefaultRatePerSec)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFullFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, fullConfig))
	require.NoError(t, err)

	assert.Equal(t, ModeProduction, cfg.Mode)
	assert.False(t, cfg.Development())
	assert.Equal(t, ":9090", cfg.HTTP.ListenAddr)
	assert.Equal(t, "/var/lib/takt/takt.db", cfg.Storage.Path)
	assert.True(t, cfg.Auth.Enabled)
	assert.Equal(t, "hush", cfg.Auth.Secret)
	assert.Equal(t, "/etc/takt/workflows.yaml", cfg.Workflows.File)
	assert.Equal(t, 5*time.Second, cfg.Scheduler.TickInterval)
	assert.Equal(t, 2*time.Second, cfg.Scheduler.TriggerTickInterval)
	assert.Equal(t, 10*time.Second, cfg.Scheduler.RuntimeConfigInterval)
	assert.Equal(t, time.Minute, cfg.Retry.BaseDelay)
	assert.Equal(t, 6, cfg.Retry.MaxExponent)
	assert.Equal(t, 30*time.Minute, cfg.Retry.MaxDelay)
	assert.Equal(t, 10*time.Minute, cfg.Retry.MissingDepsDelay)
	assert.Equal(t, float64(50), cfg.Retry.MaxRetryCost)
	assert.Equal(t, float64(250), cfg.Submission.DefaultRatePerSec)
	assert.True(t, cfg.Tracing.Enabled)
	assert.Equal(t, "takt-prod", cfg.GKE.ProjectID)
	assert.Equal(t, "PT48H", cfg.StaleStateTTLs["running"])
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/does/not/exist.yaml")

	var cerr *errors.ConfigError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "config_file", cerr.Key)
}

func TestLoadGarbageFile(t *testing.T) {
	_, err := Load(writeConfig(t, "mode: [not, a, string"))

	var cerr *errors.ConfigError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "config_file", cerr.Key)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("TAKT_MODE", "production")
	t.Setenv("TAKT_LISTEN_ADDR", ":7070")
	t.Setenv("TAKT_STORAGE_PATH", "/tmp/takt.db")
	t.Setenv("TAKT_AUTH_ENABLED", "true")
	t.Setenv("TAKT_AUTH_SECRET", "env-secret")
	t.Setenv("TAKT_WORKFLOWS_FILE", "/tmp/workflows.yaml")
	t.Setenv("TAKT_SUBMISSION_RATE", "42.5")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ModeProduction, cfg.Mode)
	assert.Equal(t, ":7070", cfg.HTTP.ListenAddr)
	assert.Equal(t, "/tmp/takt.db", cfg.Storage.Path)
	assert.True(t, cfg.Auth.Enabled)
	assert.Equal(t, "env-secret", cfg.Auth.Secret)
	assert.Equal(t, "/tmp/workflows.yaml", cfg.Workflows.File)
	assert.Equal(t, 42.5, cfg.Submission.DefaultRatePerSec)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.Mode = ModeProduction
		cfg.Storage.Path = "/var/lib/takt/takt.db"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantKey string
	}{
		{
			name:    "unknown mode",
			mutate:  func(c *Config) { c.Mode = "staging" },
			wantKey: "mode",
		},
		{
			name:    "empty listen addr",
			mutate:  func(c *Config) { c.HTTP.ListenAddr = "" },
			wantKey: "http.listen_addr",
		},
		{
			name:    "production without storage path",
			mutate:  func(c *Config) { c.Storage.Path = "" },
			wantKey: "storage.path",
		},
		{
			name:    "auth without secret",
			mutate:  func(c *Config) { c.Auth.Enabled = true },
			wantKey: "auth.secret",
		},
		{
			name:    "ttls without default",
			mutate:  func(c *Config) { c.StaleStateTTLs = map[string]string{"running": "PT1H"} },
			wantKey: "stale_state_ttls",
		},
		{
			name: "ttl not a duration",
			mutate: func(c *Config) {
				c.StaleStateTTLs = map[string]string{"default": "24 hours"}
			},
			wantKey: "stale_state_ttls.default",
		},
		{
			name:    "zero submission rate",
			mutate:  func(c *Config) { c.Submission.DefaultRatePerSec = 0 },
			wantKey: "submission.default_rate_per_sec",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)

			err := cfg.Validate()

			var cerr *errors.ConfigError
			require.ErrorAs(t, err, &cerr)
			assert.Equal(t, tt.wantKey, cerr.Key)
		})
	}

	assert.NoError(t, valid().Validate())
}

func TestValidateAcceptsTTLMap(t *testing.T) {
	cfg := Default()
	cfg.StaleStateTTLs = map[string]string{
		"default":   "PT24H",
		"RUNNING":   "P2D",
		"submitted": "PT10M",
	}

	assert.NoError(t, cfg.Validate())
}
