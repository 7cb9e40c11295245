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
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/takt-io/takt/internal/tracing"
)

// loggingTransport stamps the User-Agent, forwards the context's request id
// so server logs line up with client logs, and writes one line per request
// with the URL sanitized.
type loggingTransport struct {
	base      http.RoundTripper
	userAgent string
	logger    *slog.Logger
}

func newLoggingTransport(base http.RoundTripper, userAgent string, logger *slog.Logger) *loggingTransport {
	return &loggingTransport{base: base, userAgent: userAgent, logger: logger}
}

func (t *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()

	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", t.userAgent)
	}
	if id := tracing.RequestIDFrom(req.Context()); id != "" {
		req.Header.Set(tracing.HeaderRequestID, id)
	}

	resp, err := t.base.RoundTrip(req)
	duration := time.Since(start).Milliseconds()

	logURL := sanitizeURL(req.URL)
	if err != nil {
		t.logger.Warn("http request failed",
			slog.String("method", req.Method),
			slog.String("url", logURL),
			slog.Int64("duration_ms", duration),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	level := slog.LevelDebug
	if resp.StatusCode >= 400 {
		level = slog.LevelWarn
	}
	t.logger.Log(req.Context(), level, "http request",
		slog.String("method", req.Method),
		slog.String("url", logURL),
		slog.Int("status", resp.StatusCode),
		slog.Int64("duration_ms", duration),
	)
	return resp, nil
}

// sensitiveParams are query parameter name fragments whose values never
// belong in a log line. Matched case-insensitively as substrings.
var sensitiveParams = []string{
	"token",
	"secret",
	"password",
	"auth",
	"key",
	"credential",
}

// sanitizeURL redacts sensitive query values before logging.
func sanitizeURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	q := u.Query()
	changed := false
	for param := range q {
		if sensitiveParam(param) {
			q.Set(param, "[REDACTED]")
			changed = true
		}
	}
	if !changed {
		return u.String()
	}
	safe := *u
	safe.RawQuery = q.Encode()
	return safe.String()
}

func sensitiveParam(param string) bool {
	lower := strings.ToLower(param)
	for _, s := range sensitiveParams {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}
