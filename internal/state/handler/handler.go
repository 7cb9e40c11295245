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

// Package handler contains the output handlers that react to committed
// state transitions: logging, execution description resolution, container
// submission, retry scheduling, outcome publishing and metrics.
//
// Handlers run after the transition is durable. They must tolerate
// redelivery and must never block the state manager's shards; anything
// slow happens on the handler pool they are invoked from.
package handler

import (
	"context"
	"log/slog"

	"github.com/takt-io/takt/internal/log"
	"github.com/takt-io/takt/internal/metrics"
	"github.com/takt-io/takt/internal/model"
	"github.com/takt-io/takt/internal/state"
	"github.com/takt-io/takt/pkg/errors"
)

// post feeds a follow-up event back into the machine. An IllegalTransition
// here is not a failure: it means another actor moved the instance between
// our transition and this reaction, and the machine's answer wins.
func post(ctx context.Context, router state.EventRouter, logger *slog.Logger, handler string, ev model.Event) {
	err := router.ReceiveIgnoreClosed(ctx, ev)
	if err == nil {
		return
	}
	var illegal *errors.IllegalTransitionError
	if errors.As(err, &illegal) {
		logger.Debug("follow-up event outrun",
			log.String(log.EventKey, ev.String()), log.Error(err))
		return
	}
	metrics.RecordHandlerFailure(handler)
	logger.Error("posting follow-up event failed",
		log.String(log.EventKey, ev.String()), log.Error(err))
}

// instanceAttrs renders rs's coordinates as log attributes.
func instanceAttrs(rs state.RunState) []any {
	return []any{
		log.String(log.ComponentKey, rs.Instance.Component),
		log.String(log.WorkflowKey, rs.Instance.Name),
		log.String(log.ParameterKey, rs.Instance.Parameter),
	}
}

// TransitionLogger writes one structured line per committed transition.
type TransitionLogger struct {
	logger *slog.Logger
}

// NewTransitionLogger creates the logging handler.
func NewTransitionLogger(logger *slog.Logger) *TransitionLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &TransitionLogger{logger: log.WithComponent(logger, "transitions")}
}

var _ state.OutputHandler = (*TransitionLogger)(nil)

// TransitionInto logs the entered state.
func (h *TransitionLogger) TransitionInto(_ context.Context, rs state.RunState, _ state.EventRouter) {
	attrs := append(instanceAttrs(rs),
		log.String(log.StateKey, string(rs.State)),
		log.Int64(log.CounterKey, rs.Counter),
		log.String(log.TriggerKey, rs.Data.TriggerID))
	if rs.Data.ExecutionID != "" {
		attrs = append(attrs, log.String(log.ExecutionKey, rs.Data.ExecutionID))
	}
	if rs.Data.Tries > 0 {
		attrs = append(attrs, log.Int("tries", rs.Data.Tries))
	}
	h.logger.Info("transition", attrs...)
}
