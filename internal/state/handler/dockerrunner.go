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
	"github.com/takt-io/takt/internal/ratelimit"
	"github.com/takt-io/takt/internal/runner"
	"github.com/takt-io/takt/internal/state"
)

// DockerRunner submits SUBMITTING instances to the container runner, rate
// limited by the submission limiter, and cleans the runner up after every
// terminal or failure transition. The blocking limiter wait happens here on
// the handler pool, never on a state-manager shard.
type DockerRunner struct {
	runner   runner.Runner
	limiter  *ratelimit.SubmissionLimiter
	runnerID func() string
	logger   *slog.Logger
}

// NewDockerRunner creates the handler. runnerID labels metrics with the
// execution backend currently selected for new submissions.
func NewDockerRunner(run runner.Runner, limiter *ratelimit.SubmissionLimiter, runnerID func() string, logger *slog.Logger) *DockerRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &DockerRunner{
		runner:   run,
		limiter:  limiter,
		runnerID: runnerID,
		logger:   log.WithComponent(logger, "docker-runner"),
	}
}

var _ state.OutputHandler = (*DockerRunner)(nil)

// TransitionInto acts on SUBMITTING, TERMINATED, FAILED, DONE and ERROR.
func (h *DockerRunner) TransitionInto(ctx context.Context, rs state.RunState, router state.EventRouter) {
	switch rs.State {
	case state.StateSubmitting:
		h.submit(ctx, rs, router)
	case state.StateTerminated, state.StateFailed, state.StateDone, state.StateError:
		h.cleanup(ctx, rs)
	}
}

func (h *DockerRunner) submit(ctx context.Context, rs state.RunState, router state.EventRouter) {
	if rs.Data.ExecutionDescription == nil {
		post(ctx, router, h.logger, "docker-runner",
			model.RunError(rs.Instance, "Missing execution description"))
		return
	}

	if err := h.limiter.Acquire(ctx); err != nil {
		// Shutdown while waiting for a token. The instance stays in
		// SUBMITTING and is resubmitted after restart via replay.
		h.logger.Warn("submission token wait aborted",
			append(instanceAttrs(rs), log.Error(err))...)
		return
	}

	spec := runner.Spec{
		Instance:          rs.Instance,
		ExecutionID:       rs.Data.ExecutionID,
		Description:       *rs.Data.ExecutionDescription,
		TriggerID:         rs.Data.TriggerID,
		TriggerParameters: rs.Data.TriggerParameters,
	}

	begin := time.Now()
	err := h.runner.Start(ctx, spec)
	metrics.RecordSubmission(h.runnerID(), err, time.Since(begin))
	if err != nil {
		h.logger.Error("starting execution failed",
			append(instanceAttrs(rs),
				log.String(log.ExecutionKey, spec.ExecutionID), log.Error(err))...)
		post(ctx, router, h.logger, "docker-runner",
			model.RunError(rs.Instance, err.Error()))
		return
	}

	post(ctx, router, h.logger, "docker-runner",
		model.Submitted(rs.Instance, spec.ExecutionID))
}

func (h *DockerRunner) cleanup(ctx context.Context, rs state.RunState) {
	if rs.Data.ExecutionID == "" {
		return
	}
	if err := h.runner.Cleanup(ctx, rs.Data.ExecutionID); err != nil {
		metrics.RecordHandlerFailure("docker-runner")
		h.logger.Error("cleaning up execution failed",
			append(instanceAttrs(rs),
				log.String(log.ExecutionKey, rs.Data.ExecutionID), log.Error(err))...)
	}
}
