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

	"github.com/google/uuid"

	"github.com/takt-io/takt/internal/log"
	"github.com/takt-io/takt/internal/metrics"
	"github.com/takt-io/takt/internal/model"
	"github.com/takt-io/takt/internal/state"
	"github.com/takt-io/takt/internal/storage"
	"github.com/takt-io/takt/pkg/errors"
)

// executionIDPrefix namespaces execution ids minted by this daemon.
const executionIDPrefix = "takt-run-"

// NewExecutionID mints a globally unique execution id.
func NewExecutionID() string {
	return executionIDPrefix + uuid.New().String()
}

// ExecutionDescription resolves a PREPARE instance's workflow configuration
// into the concrete execution recipe and submits it. Instances of workflows
// that vanished or were never configured are failed with a runError so the
// retry machinery owns them.
type ExecutionDescription struct {
	workflows storage.WorkflowStore
	logger    *slog.Logger
	newID     func() string
}

// NewExecutionDescription creates the handler.
func NewExecutionDescription(workflows storage.WorkflowStore, logger *slog.Logger) *ExecutionDescription {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecutionDescription{
		workflows: workflows,
		logger:    log.WithComponent(logger, "execution-description"),
		newID:     NewExecutionID,
	}
}

var _ state.OutputHandler = (*ExecutionDescription)(nil)

// TransitionInto acts on PREPARE.
func (h *ExecutionDescription) TransitionInto(ctx context.Context, rs state.RunState, router state.EventRouter) {
	if rs.State != state.StatePrepare {
		return
	}

	wf, err := h.workflows.Workflow(ctx, rs.Instance.WorkflowID)
	if err != nil {
		var notFound *errors.NotFoundError
		if errors.As(err, &notFound) {
			post(ctx, router, h.logger, "execution-description",
				model.RunError(rs.Instance, "Workflow not found"))
			return
		}
		// Transient storage trouble; the stale-state timeout will bring the
		// instance back if this never resolves.
		metrics.RecordHandlerFailure("execution-description")
		h.logger.Error("reading workflow failed",
			append(instanceAttrs(rs), log.Error(err))...)
		return
	}

	if !wf.Config.Configured() {
		post(ctx, router, h.logger, "execution-description",
			model.RunError(rs.Instance, "Workflow has no docker image"))
		return
	}

	desc := model.ExecutionDescription{
		Image:            wf.Config.Image,
		Args:             wf.Config.Args,
		Env:              wf.Config.Env,
		Resources:        wf.Config.Resources,
		SuccessExitCodes: wf.Config.SuccessExitCodes,
	}
	post(ctx, router, h.logger, "execution-description",
		model.Submit(rs.Instance, desc, h.newID()))
}
