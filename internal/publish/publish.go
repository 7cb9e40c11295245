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

// Package publish delivers workflow instance outcomes to external audiences.
package publish

import (
	"context"
	"log/slog"
	"time"

	"github.com/takt-io/takt/internal/log"
)

// OutcomeType classifies a published instance outcome.
type OutcomeType string

const (
	// OutcomeCompleted marks an instance that reached DONE.
	OutcomeCompleted OutcomeType = "instance_completed"

	// OutcomeFailed marks an instance that entered FAILED. The instance may
	// still be retried; subscribers use this for alerting on flakiness.
	OutcomeFailed OutcomeType = "instance_failed"

	// OutcomeErrored marks an instance that reached ERROR with its retry
	// budget exhausted.
	OutcomeErrored OutcomeType = "instance_errored"
)

// Outcome is one domain event about a workflow instance.
type Outcome struct {
	Type        OutcomeType `json:"type"`
	Component   string      `json:"component"`
	Workflow    string      `json:"workflow"`
	Parameter   string      `json:"parameter"`
	TriggerID   string      `json:"triggerId,omitempty"`
	ExecutionID string      `json:"executionId,omitempty"`
	ExitCode    *int        `json:"exitCode,omitempty"`
	Tries       int         `json:"tries,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
}

// Publisher delivers outcomes. Implementations must be safe for concurrent
// use; delivery failures are the caller's to log, never to retry through
// the state machine.
type Publisher interface {
	Publish(ctx context.Context, o Outcome) error
}

// LogPublisher writes outcomes as structured log lines. It is the default
// publisher; deployments with a message broker wrap or replace it.
type LogPublisher struct {
	logger *slog.Logger
}

// NewLog creates a publisher logging through logger.
func NewLog(logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPublisher{logger: log.WithComponent(logger, "publisher")}
}

// Publish logs the outcome.
func (p *LogPublisher) Publish(_ context.Context, o Outcome) error {
	attrs := []any{
		log.String("outcome", string(o.Type)),
		log.String(log.ComponentKey, o.Component),
		log.String(log.WorkflowKey, o.Workflow),
		log.String(log.ParameterKey, o.Parameter),
		log.String("trigger_id", o.TriggerID),
		log.Int("tries", o.Tries),
	}
	if o.ExecutionID != "" {
		attrs = append(attrs, log.String(log.ExecutionKey, o.ExecutionID))
	}
	if o.ExitCode != nil {
		attrs = append(attrs, log.Int("exit_code", *o.ExitCode))
	}
	p.logger.Info("instance outcome", attrs...)
	return nil
}

// Noop discards outcomes.
type Noop struct{}

// Publish discards o.
func (Noop) Publish(context.Context, Outcome) error { return nil }
