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

// Package httpclient builds http.Clients with retry, request logging and
// header hygiene shared by everything in takt that talks HTTP. The returned
// client retries idempotent requests with exponential backoff, stamps a
// User-Agent, forwards the request id from the context for cross-service
// correlation, and logs each request with sensitive query values redacted.
package httpclient

import (
	"crypto/tls"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/takt-io/takt/pkg/errors"
)

// Config tunes the client. DefaultConfig gives values suitable for calls to
// a taktd on the same network.
type Config struct {
	// Timeout bounds one logical request including all retries.
	Timeout time.Duration

	// RetryAttempts is the number of retries after the initial attempt.
	// Zero disables retrying.
	RetryAttempts int

	// RetryBackoff is the delay before the first retry; later retries
	// double it up to MaxBackoff.
	RetryBackoff time.Duration

	// MaxBackoff caps the backoff growth.
	MaxBackoff time.Duration

	// UserAgent is stamped on requests that do not carry one.
	UserAgent string

	// AllowNonIdempotentRetry also retries POST/PUT/PATCH/DELETE. Leave
	// this off unless every mutation the client performs is safe to
	// repeat.
	AllowNonIdempotentRetry bool

	// Logger receives one line per request. Nil means slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns the standard client configuration.
func DefaultConfig() Config {
	return Config{
		Timeout:       30 * time.Second,
		RetryAttempts: 3,
		RetryBackoff:  100 * time.Millisecond,
		MaxBackoff:    30 * time.Second,
		UserAgent:     "takt-http-client/1.0",
	}
}

// Validate checks the configuration for contradictions.
func (c *Config) Validate() error {
	if c.Timeout <= 0 {
		return &errors.ConfigError{Key: "timeout", Reason: "must be positive"}
	}
	if c.RetryAttempts < 0 {
		return &errors.ConfigError{Key: "retry_attempts", Reason: "must not be negative"}
	}
	if c.RetryAttempts > 0 {
		if c.RetryBackoff <= 0 {
			return &errors.ConfigError{Key: "retry_backoff", Reason: "must be positive when retries are enabled"}
		}
		if c.MaxBackoff < c.RetryBackoff {
			return &errors.ConfigError{Key: "max_backoff", Reason: "must not be below retry_backoff"}
		}
	}
	if c.UserAgent == "" {
		return &errors.ConfigError{Key: "user_agent", Reason: "must not be empty"}
	}
	return nil
}

// New creates an http.Client from cfg. The transport stack is, outermost
// first: retry, logging/header stamping, then a pooled TLS 1.2+ transport.
func New(cfg Config) (*http.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	base := &http.Transport{
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.Timeout,
		ExpectContinueTimeout: 1 * time.Second,
	}

	var rt http.RoundTripper = newLoggingTransport(base, cfg.UserAgent, logger)
	if cfg.RetryAttempts > 0 {
		rt = newRetryTransport(rt, cfg)
	}

	return &http.Client{
		Transport: rt,
		Timeout:   cfg.Timeout,
	}, nil
}
