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

// Package storage provides persistence backends for the takt control plane.
//
// # Interface Hierarchy
//
// The storage package uses interface segregation to allow minimal implementations:
//
//   - EventLog (core, required): append-only per-instance event history
//   - ActiveIndex (core, required): the set of live workflow instances
//   - WorkflowStore: workflow definitions and per-workflow scheduling state
//   - BackfillStore: backfill entities and their cursors
//   - ConfigStore: runtime configuration shared across the cluster
//   - Transactioner: atomic multi-store writes
//   - io.Closer: lifecycle management
//
// The Backend interface composes all of these for full-featured implementations.
// Components should accept the narrowest interface that covers their needs.
package storage

import (
	"context"
	"io"
	"time"

	"github.com/takt-io/takt/internal/model"
)

// ActiveEntry records a live workflow instance in the active index: its
// last applied event counter and the trigger that started it.
type ActiveEntry struct {
	Instance  model.WorkflowInstance `json:"instance"`
	Counter   int64                  `json:"counter"`
	TriggerID string                 `json:"triggerId"`
}

// WorkflowWithState couples a workflow definition with its mutable
// scheduling state.
type WorkflowWithState struct {
	Workflow model.Workflow      `json:"workflow"`
	State    model.WorkflowState `json:"state"`
}

// BackfillFilter narrows backfill listings.
type BackfillFilter struct {
	// Workflow restricts results to one workflow when non-zero.
	Workflow model.WorkflowID

	// ShowAll includes halted and fully triggered backfills.
	ShowAll bool
}

// RuntimeConfig is cluster-wide configuration read back from storage on a
// fixed interval, so operators can change it without restarting the daemon.
type RuntimeConfig struct {
	// Enabled gates all triggering and submission when false.
	Enabled bool `json:"enabled"`

	// SubmissionRatePerSec caps executions submitted per second across
	// all workflows.
	SubmissionRatePerSec float64 `json:"submissionRatePerSec"`

	// RunnerID selects the execution backend new submissions route to.
	// Empty means the daemon's built-in default.
	RunnerID string `json:"runnerId,omitempty"`
}

// DefaultSubmissionRatePerSec is the submission rate used until storage
// says otherwise.
const DefaultSubmissionRatePerSec = 1000

// DefaultRuntimeConfig returns the runtime configuration assumed when
// storage holds none.
func DefaultRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{
		Enabled:              true,
		SubmissionRatePerSec: DefaultSubmissionRatePerSec,
	}
}

// EventLog is the append-only event history, fanned out per workflow
// instance. Counters start at 0 for the first event of an instance and
// increase by exactly one per event, across triggers.
type EventLog interface {
	// Events returns the instance's full event history in counter order.
	Events(ctx context.Context, wi model.WorkflowInstance) ([]model.SequencedEvent, error)

	// LatestCounter returns the counter of the last event appended for the
	// instance, or -1 when the instance has no history.
	LatestCounter(ctx context.Context, wi model.WorkflowInstance) (int64, error)
}

// ActiveIndex tracks which instances are live. Entries are written and
// removed in the same transaction as the event that moved them.
type ActiveIndex interface {
	// ActiveEntries returns the entire active index.
	ActiveEntries(ctx context.Context) ([]ActiveEntry, error)

	// ActiveEntriesByTrigger returns the active entries started by the
	// given trigger, e.g. one backfill's live instances.
	ActiveEntriesByTrigger(ctx context.Context, triggerID string) ([]ActiveEntry, error)

	// ActiveEntry returns the entry for one instance, or a NotFoundError.
	ActiveEntry(ctx context.Context, wi model.WorkflowInstance) (*ActiveEntry, error)
}

// WorkflowStore persists workflow definitions and their scheduling state.
type WorkflowStore interface {
	// StoreWorkflow creates or replaces a workflow definition, leaving its
	// scheduling state untouched for existing workflows.
	StoreWorkflow(ctx context.Context, wf model.Workflow) error

	// Workflow returns a workflow by id, or a NotFoundError.
	Workflow(ctx context.Context, id model.WorkflowID) (*model.Workflow, error)

	// Workflows returns all workflow definitions.
	Workflows(ctx context.Context) ([]model.Workflow, error)

	// DeleteWorkflow removes a workflow definition and its state.
	DeleteWorkflow(ctx context.Context, id model.WorkflowID) error

	// WorkflowState returns the scheduling state of a workflow.
	WorkflowState(ctx context.Context, id model.WorkflowID) (*model.WorkflowState, error)

	// SetEnabled flips the enabled flag of a workflow.
	SetEnabled(ctx context.Context, id model.WorkflowID, enabled bool) error

	// UpdateNextNaturalTrigger moves the workflow's natural trigger cursor.
	UpdateNextNaturalTrigger(ctx context.Context, id model.WorkflowID, next time.Time) error

	// WorkflowsWithNextNaturalTrigger returns every workflow together with
	// its scheduling state, for the trigger manager's tick.
	WorkflowsWithNextNaturalTrigger(ctx context.Context) ([]WorkflowWithState, error)
}

// BackfillStore persists backfills.
type BackfillStore interface {
	// StoreBackfill creates or replaces a backfill.
	StoreBackfill(ctx context.Context, b model.Backfill) error

	// Backfill returns a backfill by id, or a NotFoundError.
	Backfill(ctx context.Context, id string) (*model.Backfill, error)

	// Backfills lists backfills matching the filter, newest first.
	Backfills(ctx context.Context, filter BackfillFilter) ([]model.Backfill, error)
}

// ConfigStore reads and writes cluster-wide runtime configuration.
type ConfigStore interface {
	// RuntimeConfig returns the stored runtime configuration, or the
	// default when none has been written.
	RuntimeConfig(ctx context.Context) (RuntimeConfig, error)

	// StoreRuntimeConfig replaces the runtime configuration.
	StoreRuntimeConfig(ctx context.Context, cfg RuntimeConfig) error
}

// Transaction exposes the writes that must commit atomically with an event
// append. Reads through a transaction observe its own pending writes.
type Transaction interface {
	// AppendEvent appends ev to its instance's log if and only if the
	// instance's current counter equals expectedCounter (-1 for an
	// instance with no history). Returns the counter assigned to the
	// event. A lost race yields a ConflictError.
	AppendEvent(ctx context.Context, ev model.Event, expectedCounter int64) (int64, error)

	// WriteActiveEntry creates or replaces the instance's active entry.
	WriteActiveEntry(ctx context.Context, entry ActiveEntry) error

	// DeleteActiveEntry removes the instance from the active index.
	DeleteActiveEntry(ctx context.Context, wi model.WorkflowInstance) error

	// Backfill returns a backfill by id, or a NotFoundError.
	Backfill(ctx context.Context, id string) (*model.Backfill, error)

	// StoreBackfill creates or replaces a backfill.
	StoreBackfill(ctx context.Context, b model.Backfill) error

	// UpdateNextNaturalTrigger moves the workflow's natural trigger cursor.
	UpdateNextNaturalTrigger(ctx context.Context, id model.WorkflowID, next time.Time) error
}

// TxFunc is the body of a storage transaction.
type TxFunc func(tx Transaction) error

// Transactioner runs multi-store writes atomically. The function either
// commits as a whole or leaves storage untouched.
type Transactioner interface {
	RunInTransaction(ctx context.Context, fn TxFunc) error
}

// Backend defines the full interface for control-plane storage.
// This is a composite interface that embeds all segregated interfaces
// plus io.Closer for lifecycle management.
type Backend interface {
	EventLog
	ActiveIndex
	WorkflowStore
	BackfillStore
	ConfigStore
	Transactioner
	io.Closer
}
