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

package httpclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/takt-io/takt/internal/tracing"
)

func fastRetryConfig() Config {
	cfg := DefaultConfig()
	cfg.RetryBackoff = time.Millisecond
	cfg.MaxBackoff = 5 * time.Millisecond
	return cfg
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero timeout", func(c *Config) { c.Timeout = 0 }},
		{"negative retries", func(c *Config) { c.RetryAttempts = -1 }},
		{"zero backoff with retries", func(c *Config) { c.RetryBackoff = 0 }},
		{"max below base backoff", func(c *Config) { c.MaxBackoff = c.RetryBackoff / 2 }},
		{"empty user agent", func(c *Config) { c.UserAgent = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())

			_, err := New(cfg)
			assert.Error(t, err)
		})
	}

	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())
}

func TestRetriesUntilSuccess(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, err := New(fastRetryConfig())
	require.NoError(t, err)

	resp, err := c.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRetriesExhaustedReturnLastResponse(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, "upstream exploded")
	}))
	defer srv.Close()

	cfg := fastRetryConfig()
	cfg.RetryAttempts = 2
	c, err := New(cfg)
	require.NoError(t, err)

	resp, err := c.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, int32(3), calls.Load())

	// The exhausted response is handed to the caller with its body intact.
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "upstream exploded", string(body))
}

func TestMutationsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, err := New(fastRetryConfig())
	require.NoError(t, err)

	resp, err := c.Post(srv.URL, "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, int32(1), calls.Load())
}

func TestMutationRetryOptIn(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	cfg := fastRetryConfig()
	cfg.AllowNonIdempotentRetry = true
	c, err := New(cfg)
	require.NoError(t, err)

	resp, err := c.Post(srv.URL, "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, int32(2), calls.Load())
}

func TestStampsUserAgentAndRequestID(t *testing.T) {
	var gotAgent, gotRequestID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAgent = r.Header.Get("User-Agent")
		gotRequestID = r.Header.Get(tracing.HeaderRequestID)
	}))
	defer srv.Close()

	c, err := New(DefaultConfig())
	require.NoError(t, err)

	ctx := tracing.WithRequestID(context.Background(), "req-123")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	resp, err := c.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "takt-http-client/1.0", gotAgent)
	assert.Equal(t, "req-123", gotRequestID)
}

func TestRetryableStatus(t *testing.T) {
	assert.True(t, retryableStatus(http.StatusInternalServerError))
	assert.True(t, retryableStatus(http.StatusBadGateway))
	assert.True(t, retryableStatus(http.StatusRequestTimeout))
	assert.True(t, retryableStatus(http.StatusTooManyRequests))
	assert.False(t, retryableStatus(http.StatusOK))
	assert.False(t, retryableStatus(http.StatusNotFound))
	assert.False(t, retryableStatus(http.StatusConflict))
}

func TestParseRetryAfter(t *testing.T) {
	resp := &http.Response{Header: http.Header{}}
	assert.Equal(t, time.Duration(0), parseRetryAfter(resp))

	resp.Header.Set("Retry-After", "2")
	assert.Equal(t, 2*time.Second, parseRetryAfter(resp))

	resp.Header.Set("Retry-After", "nonsense")
	assert.Equal(t, time.Duration(0), parseRetryAfter(resp))
}

func TestSanitizeURL(t *testing.T) {
	u, err := url.Parse("http://localhost:8080/api/v3/workflows?component=analytics&token=sesame")
	require.NoError(t, err)
	got := sanitizeURL(u)
	assert.Contains(t, got, "component=analytics")
	assert.Contains(t, got, "token=%5BREDACTED%5D")
	assert.NotContains(t, got, "sesame")

	plain, err := url.Parse("http://localhost:8080/healthz")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/healthz", sanitizeURL(plain))
}
