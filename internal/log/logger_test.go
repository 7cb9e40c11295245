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

package log

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// envKeys are all variables FromEnv reads; tests pin every one of them so
// the surrounding environment cannot leak in.
var envKeys = []string{"TAKT_DEBUG", "TAKT_LOG_LEVEL", "LOG_LEVEL", "LOG_FORMAT", "LOG_SOURCE"}

func setEnv(t *testing.T, env map[string]string) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, env[k])
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, FormatJSON, cfg.Format)
	assert.False(t, cfg.AddSource)
	assert.NotNil(t, cfg.Output)
}

func TestFromEnv(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want Config
	}{
		{
			name: "defaults",
			env:  nil,
			want: Config{Level: "info", Format: FormatJSON},
		},
		{
			name: "LOG_LEVEL normalized",
			env:  map[string]string{"LOG_LEVEL": "DEBUG"},
			want: Config{Level: "debug", Format: FormatJSON},
		},
		{
			name: "TAKT_LOG_LEVEL wins over LOG_LEVEL",
			env:  map[string]string{"TAKT_LOG_LEVEL": "warn", "LOG_LEVEL": "error"},
			want: Config{Level: "warn", Format: FormatJSON},
		},
		{
			name: "TAKT_DEBUG wins over everything",
			env:  map[string]string{"TAKT_DEBUG": "1", "TAKT_LOG_LEVEL": "error"},
			want: Config{Level: "debug", Format: FormatJSON, AddSource: true},
		},
		{
			name: "text format",
			env:  map[string]string{"LOG_FORMAT": "TEXT"},
			want: Config{Level: "info", Format: FormatText},
		},
		{
			name: "source opt-in",
			env:  map[string]string{"LOG_SOURCE": "1"},
			want: Config{Level: "info", Format: FormatJSON, AddSource: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setEnv(t, tt.env)
			cfg := FromEnv()
			assert.Equal(t, tt.want.Level, cfg.Level)
			assert.Equal(t, tt.want.Format, cfg.Format)
			assert.Equal(t, tt.want.AddSource, cfg.AddSource)
		})
	}
}

func TestNewEmitsJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "info", Format: FormatJSON, Output: &buf})

	logger.Info("daemon started", slog.String(WorkflowKey, "daily-report"))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "daemon started", entry["msg"])
	assert.Equal(t, "daily-report", entry[WorkflowKey])
}

func TestNewEmitsText(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "info", Format: FormatText, Output: &buf})

	logger.Info("daemon started", slog.String(WorkflowKey, "daily-report"))

	out := buf.String()
	assert.Contains(t, out, "daemon started")
	assert.Contains(t, out, WorkflowKey+"=daily-report")
}

func TestNewNilConfigUsesDefaults(t *testing.T) {
	logger := New(nil)
	require.NotNil(t, logger)
	assert.False(t, logger.Enabled(nil, slog.LevelDebug))
	assert.True(t, logger.Enabled(nil, slog.LevelInfo))
}

func TestNewFiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "warn", Format: FormatJSON, Output: &buf})

	logger.Debug("dropped")
	logger.Info("dropped too")
	logger.Warn("kept")

	out := buf.String()
	assert.NotContains(t, out, "dropped")
	assert.Contains(t, out, "kept")
}

func TestNewAddSource(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "info", Format: FormatJSON, Output: &buf, AddSource: true})

	logger.Info("located")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	source, ok := entry[slog.SourceKey].(map[string]any)
	require.True(t, ok, "expected a source group, got %v", entry[slog.SourceKey])
	assert.Contains(t, source["file"], "logger_test.go")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"trace", LevelTrace},
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"ERROR", slog.LevelError},
		{"nonsense", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseLevel(tt.in), "parseLevel(%q)", tt.in)
	}
}

func TestContextHelpers(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "info", Format: FormatJSON, Output: &buf})

	WithRequestID(WithComponent(logger, "scheduler"), "req-7").Info("tick")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "scheduler", entry["subsystem"])
	assert.Equal(t, "req-7", entry["request_id"])
}

func TestAttrHelpers(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		attr slog.Attr
		key  string
		want string
	}{
		{String(WorkflowKey, "daily"), WorkflowKey, "daily"},
		{Int("shards", 16), "shards", "16"},
		{Int64(CounterKey, 41), CounterKey, "41"},
		{Bool("enabled", true), "enabled", "true"},
		{Attr(StateKey, "QUEUED"), StateKey, "QUEUED"},
		{Error(boom), "error", "boom"},
		{Duration("apply", 12), "apply_ms", "12"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.key, tt.attr.Key)
		assert.Equal(t, tt.want, tt.attr.Value.String(), "value for %s", tt.key)
	}
}

func TestTraceGatedByLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "debug", Format: FormatJSON, Output: &buf})
	Trace(logger, "replay step", Int64(CounterKey, 3))
	assert.Empty(t, buf.String(), "trace must stay silent below the trace level")

	buf.Reset()
	logger = New(&Config{Level: "trace", Format: FormatJSON, Output: &buf})
	Trace(logger, "replay step", Int64(CounterKey, 3))
	assert.Contains(t, buf.String(), "replay step")
}

func BenchmarkJSONLogger(b *testing.B) {
	logger := New(&Config{Level: "info", Format: FormatJSON, Output: &bytes.Buffer{}})
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		logger.Info("event applied",
			String(WorkflowKey, "daily-report"),
			String(ParameterKey, "2025-06-01"),
			Int64(CounterKey, int64(i)),
		)
	}
}
