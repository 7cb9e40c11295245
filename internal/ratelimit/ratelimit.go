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

// Package ratelimit throttles container submissions to the rate set in
// runtime configuration.
package ratelimit

import (
	"context"
	"math"
	"sync"

	"golang.org/x/time/rate"
)

// SubmissionLimiter is a token bucket sized for one second of submissions at
// the configured rate. The rate can be changed while submitters are blocked
// in Acquire; the new limit applies to their remaining wait.
type SubmissionLimiter struct {
	mu      sync.Mutex
	perSec  float64
	limiter *rate.Limiter
}

// NewSubmissionLimiter creates a limiter allowing perSec submissions per
// second. Rates below one still admit single submissions, just further apart.
func NewSubmissionLimiter(perSec float64) *SubmissionLimiter {
	return &SubmissionLimiter{
		perSec:  perSec,
		limiter: rate.NewLimiter(rate.Limit(perSec), burst(perSec)),
	}
}

func burst(perSec float64) int {
	b := int(math.Ceil(perSec))
	if b < 1 {
		b = 1
	}
	return b
}

// Acquire blocks until a submission token is available or ctx is done.
func (l *SubmissionLimiter) Acquire(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}

// SetRate changes the submission rate. A no-op when the rate is unchanged,
// so the runtime-config refresh can call it every tick.
func (l *SubmissionLimiter) SetRate(perSec float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if perSec == l.perSec {
		return
	}
	l.perSec = perSec
	l.limiter.SetLimit(rate.Limit(perSec))
	l.limiter.SetBurst(burst(perSec))
}

// Rate returns the current submissions-per-second limit.
func (l *SubmissionLimiter) Rate() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.perSec
}

// Tokens estimates how many submissions would currently proceed without
// waiting. The scheduler uses it to cap a dequeue batch; it is advisory and
// consumes nothing.
func (l *SubmissionLimiter) Tokens() int {
	t := int(l.limiter.Tokens())
	if t < 0 {
		return 0
	}
	return t
}
