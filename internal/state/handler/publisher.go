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

	"github.com/takt-io/takt/internal/log"
	"github.com/takt-io/takt/internal/metrics"
	"github.com/takt-io/takt/internal/publish"
	"github.com/takt-io/takt/internal/state"
)

// Publisher forwards instance outcomes to the configured publisher.
// Publishing is best effort; a delivery failure never touches the machine.
type Publisher struct {
	publisher publish.Publisher
	logger    *slog.Logger
}

// NewPublisher creates the handler.
func NewPublisher(p publish.Publisher, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		publisher: p,
		logger:    log.WithComponent(logger, "publisher"),
	}
}

var _ state.OutputHandler = (*Publisher)(nil)

// TransitionInto acts on DONE, FAILED and ERROR.
func (h *Publisher) TransitionInto(ctx context.Context, rs state.RunState, _ state.EventRouter) {
	var typ publish.OutcomeType
	switch rs.State {
	case state.StateDone:
		typ = publish.OutcomeCompleted
	case state.StateFailed:
		typ = publish.OutcomeFailed
	case state.StateError:
		typ = publish.OutcomeErrored
	default:
		return
	}

	out := publish.Outcome{
		Type:        typ,
		Component:   rs.Instance.Component,
		Workflow:    rs.Instance.Name,
		Parameter:   rs.Instance.Parameter,
		TriggerID:   rs.Data.TriggerID,
		ExecutionID: rs.Data.ExecutionID,
		ExitCode:    rs.Data.LastExit,
		Tries:       rs.Data.Tries,
		Timestamp:   rs.Timestamp,
	}
	if err := h.publisher.Publish(ctx, out); err != nil {
		metrics.RecordHandlerFailure("publisher")
		h.logger.Error("publishing outcome failed",
			append(instanceAttrs(rs),
				log.String("outcome", string(typ)), log.Error(err))...)
	}
}
