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

// Package log builds the slog loggers used by taktd and the takt CLI.
// The daemon logs JSON to stderr; everything tunable comes from the
// environment so containers need no logging flags.
package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Format selects the handler New installs.
type Format string

const (
	// FormatJSON writes one JSON object per line. Daemon default.
	FormatJSON Format = "json"
	// FormatText writes logfmt-style lines for terminals.
	FormatText Format = "text"
)

// LevelTrace sits below slog.LevelDebug for per-event output, such as
// every transition applied while restoring state at boot. Enable with
// TAKT_LOG_LEVEL=trace.
const LevelTrace = slog.Level(-8)

// Config holds the logging setup. The zero value is not useful; start
// from DefaultConfig or FromEnv.
type Config struct {
	// Level is the minimum level emitted: trace, debug, info, warn, error.
	Level string

	// Format picks json or text output.
	Format Format

	// Output receives the log lines. Defaults to os.Stderr.
	Output io.Writer

	// AddSource stamps records with the emitting file and line.
	AddSource bool
}

// DefaultConfig is info-level JSON on stderr.
func DefaultConfig() *Config {
	return &Config{
		Level:  "info",
		Format: FormatJSON,
		Output: os.Stderr,
	}
}

// FromEnv reads the logging setup from the environment:
//
//	TAKT_LOG_LEVEL  minimum level, wins over LOG_LEVEL
//	LOG_LEVEL       minimum level (default info)
//	LOG_FORMAT      json or text (default json)
//	LOG_SOURCE      1 to stamp file and line
//	TAKT_DEBUG      true/1 forces debug level and source stamping
func FromEnv() *Config {
	cfg := DefaultConfig()

	if level := firstEnv("TAKT_LOG_LEVEL", "LOG_LEVEL"); level != "" {
		cfg.Level = strings.ToLower(level)
	}
	if format := os.Getenv("LOG_FORMAT"); format != "" {
		cfg.Format = Format(strings.ToLower(format))
	}
	if os.Getenv("LOG_SOURCE") == "1" {
		cfg.AddSource = true
	}

	if debug := os.Getenv("TAKT_DEBUG"); debug == "true" || debug == "1" {
		cfg.Level = "debug"
		cfg.AddSource = true
	}

	return cfg
}

func firstEnv(keys ...string) string {
	for _, key := range keys {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	return ""
}

// New builds a logger from cfg. A nil cfg means DefaultConfig.
func New(cfg *Config) *slog.Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	opts := &slog.HandlerOptions{
		Level:     parseLevel(cfg.Level),
		AddSource: cfg.AddSource,
	}

	if cfg.Format == FormatText {
		return slog.New(slog.NewTextHandler(out, opts))
	}
	return slog.New(slog.NewJSONHandler(out, opts))
}

// parseLevel maps a level name to its slog.Level. Unknown names fall
// back to info rather than erroring: a typo in LOG_LEVEL should not
// keep the daemon from booting.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return LevelTrace
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithComponent names the daemon subsystem emitting the records, such
// as scheduler or api.
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	return logger.With("subsystem", component)
}

// WithRequestID correlates records with one API request.
func WithRequestID(logger *slog.Logger, requestID string) *slog.Logger {
	return logger.With("request_id", requestID)
}

// Trace emits msg at LevelTrace. The Enabled check keeps disabled trace
// calls cheap on hot paths like the per-event restore loop.
func Trace(logger *slog.Logger, msg string, attrs ...slog.Attr) {
	if !logger.Enabled(nil, LevelTrace) {
		return
	}
	logger.LogAttrs(nil, LevelTrace, msg, attrs...)
}
