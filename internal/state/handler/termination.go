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

package handler

import (
	"context"
	"log/slog"
	"time"

	"github.com/takt-io/takt/internal/log"
	"github.com/takt-io/takt/internal/metrics"
	"github.com/takt-io/takt/internal/model"
	"github.com/takt-io/takt/internal/state"
)

const (
	// DefaultRetryBaseDelay is doubled per accumulated unit of retry cost.
	DefaultRetryBaseDelay = 3 * time.Minute

	// DefaultRetryMaxExponent caps the doubling.
	DefaultRetryMaxExponent = 4

	// DefaultRetryMaxDelay is the ceiling on any computed delay.
	DefaultRetryMaxDelay = time.Hour

	// DefaultMissingDepsDelay is the fixed delay after a missing-deps exit;
	// waiting for late upstream data does not back off.
	DefaultMissingDepsDelay = 10 * time.Minute

	// DefaultMaxRetryCost stops an instance once its accumulated cost
	// crosses it.
	DefaultMaxRetryCost = 50.0
)

// TerminationConfig tunes retry scheduling. Zero values select defaults.
type TerminationConfig struct {
	BaseDelay        time.Duration
	MaxExponent      int
	MaxDelay         time.Duration
	MissingDepsDelay time.Duration
	MaxRetryCost     float64
}

func (c TerminationConfig) withDefaults() TerminationConfig {
	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultRetryBaseDelay
	}
	if c.MaxExponent <= 0 {
		c.MaxExponent = DefaultRetryMaxExponent
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = DefaultRetryMaxDelay
	}
	if c.MissingDepsDelay <= 0 {
		c.MissingDepsDelay = DefaultMissingDepsDelay
	}
	if c.MaxRetryCost <= 0 {
		c.MaxRetryCost = DefaultMaxRetryCost
	}
	return c
}

// Termination decides what happens after TERMINATED and FAILED: schedule a
// retry with exponential backoff, or stop the instance once its retry budget
// is spent.
type Termination struct {
	cfg    TerminationConfig
	logger *slog.Logger
}

// NewTermination creates the handler.
func NewTermination(cfg TerminationConfig, logger *slog.Logger) *Termination {
	if logger == nil {
		logger = slog.Default()
	}
	return &Termination{
		cfg:    cfg.withDefaults(),
		logger: log.WithComponent(logger, "termination"),
	}
}

var _ state.OutputHandler = (*Termination)(nil)

// TransitionInto acts on TERMINATED and FAILED.
func (h *Termination) TransitionInto(ctx context.Context, rs state.RunState, router state.EventRouter) {
	if rs.State != state.StateTerminated && rs.State != state.StateFailed {
		return
	}

	if rs.Data.RetryCost > h.cfg.MaxRetryCost {
		metrics.RecordExhausted()
		h.logger.Warn("retry budget exhausted",
			append(instanceAttrs(rs),
				log.Int("tries", rs.Data.Tries),
				log.Attr("retry_cost", rs.Data.RetryCost))...)
		post(ctx, router, h.logger, "termination", model.Stop(rs.Instance))
		return
	}

	delay, cause := h.delay(rs)
	metrics.RecordRetry(cause)
	post(ctx, router, h.logger, "termination",
		model.RetryAfter(rs.Instance, delay.Milliseconds()))
}

// delay computes the backoff for the instance's next attempt.
func (h *Termination) delay(rs state.RunState) (time.Duration, string) {
	if exit := rs.Data.LastExit; rs.State == state.StateTerminated &&
		exit != nil && *exit == state.MissingDepsExitCode {
		return h.cfg.MissingDepsDelay, "missing_deps"
	}

	exponent := int(rs.Data.RetryCost)
	if exponent > h.cfg.MaxExponent {
		exponent = h.cfg.MaxExponent
	}
	delay := h.cfg.BaseDelay * time.Duration(1<<exponent)
	if delay > h.cfg.MaxDelay {
		delay = h.cfg.MaxDelay
	}
	return delay, "failure"
}
