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
	"errors"
	"math"
	"math/rand/v2"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// retryTransport retries failed round trips with exponential backoff and
// jitter. Only idempotent methods are retried unless the config opts in for
// the rest; a response's Retry-After shortens the computed delay, never
// stretches it.
type retryTransport struct {
	base           http.RoundTripper
	maxAttempts    int
	baseBackoff    time.Duration
	maxBackoff     time.Duration
	retryMutations bool
}

func newRetryTransport(base http.RoundTripper, cfg Config) *retryTransport {
	return &retryTransport{
		base:           base,
		maxAttempts:    cfg.RetryAttempts + 1,
		baseBackoff:    cfg.RetryBackoff,
		maxBackoff:     cfg.MaxBackoff,
		retryMutations: cfg.AllowNonIdempotentRetry,
	}
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if !idempotent(req.Method) && !t.retryMutations {
		return t.base.RoundTrip(req)
	}

	var lastErr error
	var lastResp *http.Response

	for attempt := 1; attempt <= t.maxAttempts; attempt++ {
		if attempt > 1 {
			delay := t.backoff(attempt - 1)
			if lastResp != nil {
				if after := parseRetryAfter(lastResp); after > 0 && after < delay {
					delay = after
				}
			}
			select {
			case <-time.After(delay):
			case <-req.Context().Done():
				return nil, req.Context().Err()
			}
		}

		resp, err := t.base.RoundTrip(req)
		if err == nil && !retryableStatus(resp.StatusCode) {
			return resp, nil
		}
		if err != nil && !retryableError(err) {
			return nil, err
		}

		lastErr = err
		lastResp = resp
		// Keep the final attempt's body open: it is the response the
		// caller gets once attempts run out.
		if attempt < t.maxAttempts && resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		if req.Context().Err() != nil {
			return nil, req.Context().Err()
		}
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return lastResp, nil
}

// idempotent keeps the retryable set conservative: PUT and DELETE are
// idempotent by contract but retrying them here would repeat mutations the
// caller may have observed failing.
func idempotent(method string) bool {
	switch strings.ToUpper(method) {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}

func retryableStatus(code int) bool {
	switch {
	case code >= 500 && code < 600:
		return true
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests:
		return true
	default:
		return false
	}
}

func retryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return retryableError(urlErr.Err)
	}

	msg := strings.ToLower(err.Error())
	for _, transient := range []string{
		"connection refused",
		"connection reset",
		"no such host",
		"network unreachable",
		"eof",
	} {
		if strings.Contains(msg, transient) {
			return true
		}
	}
	return false
}

// backoff is baseBackoff doubled per attempt, capped, plus up to 20% jitter.
func (t *retryTransport) backoff(attempt int) time.Duration {
	d := float64(t.baseBackoff) * math.Pow(2, float64(attempt-1))
	if d > float64(t.maxBackoff) {
		d = float64(t.maxBackoff)
	}
	return time.Duration(d + rand.Float64()*d*0.2)
}

// parseRetryAfter reads a Retry-After header in either seconds or HTTP-date
// form. Zero means absent or unusable.
func parseRetryAfter(resp *http.Response) time.Duration {
	header := resp.Header.Get("Retry-After")
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(header); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
