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

// Package trigger emits workflow triggers: natural ones when wall clock
// passes a workflow's next trigger instant, and backfill ones as capacity
// frees up under each backfill's concurrency cap.
package trigger

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/takt-io/takt/internal/log"
	"github.com/takt-io/takt/internal/metrics"
	"github.com/takt-io/takt/internal/model"
	"github.com/takt-io/takt/internal/storage"
	"github.com/takt-io/takt/internal/timeutil"
	"github.com/takt-io/takt/pkg/errors"
)

// DefaultTickInterval is how often due triggers are looked for.
const DefaultTickInterval = time.Second

// Events is the slice of the state manager the trigger paths drive. ReceiveTx
// joins the trigger event and the cursor advancement into one transaction, so
// a crash never triggers a partition twice or skips one.
type Events interface {
	ReceiveTx(ctx context.Context, ev model.Event, extra storage.TxFunc) error
}

// NewTriggerID mints a globally unique trigger id with the given prefix.
func NewTriggerID(prefix string) string {
	return prefix + "-" + uuid.New().String()
}

// Config tunes the trigger manager. Zero values select defaults.
type Config struct {
	TickInterval time.Duration
	Logger       *slog.Logger
}

// Manager scans workflows for due natural triggers on a fixed interval and
// runs the backfill advancer on the same beat.
type Manager struct {
	events    Events
	workflows storage.WorkflowStore
	advancer  *Advancer
	enabled   func() bool
	interval  time.Duration
	logger    *slog.Logger
	newID     func() string
	now       func() time.Time

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewManager creates a trigger manager. advancer may be nil to run natural
// triggers only; enabled gates all triggering and is consulted every tick.
func NewManager(events Events, workflows storage.WorkflowStore, advancer *Advancer, enabled func() bool, cfg Config) *Manager {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if enabled == nil {
		enabled = func() bool { return true }
	}
	return &Manager{
		events:    events,
		workflows: workflows,
		advancer:  advancer,
		enabled:   enabled,
		interval:  cfg.TickInterval,
		logger:    log.WithComponent(cfg.Logger, "trigger-manager"),
		newID:     func() string { return NewTriggerID("natural") },
		now:       time.Now,
	}
}

// Start begins ticking. Repeated calls are no-ops while running.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	m.mu.Unlock()

	go m.run(ctx)
}

// Stop halts ticking and waits for an in-flight tick to finish.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stopCh)
	m.mu.Unlock()

	<-m.doneCh
}

func (m *Manager) run(ctx context.Context) {
	defer close(m.doneCh)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.guardedTick(ctx)
		}
	}
}

func (m *Manager) guardedTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("tick panicked", log.Attr("panic", r))
		}
	}()
	m.tick(ctx, m.now())
}

func (m *Manager) tick(ctx context.Context, now time.Time) {
	if !m.enabled() {
		return
	}

	rows, err := m.workflows.WorkflowsWithNextNaturalTrigger(ctx)
	if err != nil {
		m.logger.Warn("reading workflows failed", log.Error(err))
	} else {
		for _, row := range rows {
			m.progress(ctx, row, now)
		}
	}

	if m.advancer != nil {
		m.advancer.Tick(ctx)
	}
}

// progress moves one workflow's natural trigger cursor: it initializes a
// missing cursor, and when the cursor is due it triggers the partition and
// advances to the successor in the same transaction. At most one partition
// per workflow per tick; a long outage is caught up one tick at a time.
func (m *Manager) progress(ctx context.Context, row storage.WorkflowWithState, now time.Time) {
	wf := row.Workflow
	next := row.State.NextNaturalTrigger

	if next == nil {
		first, err := timeutil.NextAlignedInstant(now, wf.Schedule)
		if err != nil {
			m.logger.Warn("invalid schedule", workflowAttrs(wf.ID, log.Error(err))...)
			return
		}
		if err := m.workflows.UpdateNextNaturalTrigger(ctx, wf.ID, first); err != nil {
			m.logger.Warn("initializing natural trigger failed", workflowAttrs(wf.ID, log.Error(err))...)
		}
		return
	}
	if next.After(now) {
		return
	}

	successor, err := timeutil.NextInstant(*next, wf.Schedule)
	if err != nil {
		m.logger.Warn("invalid schedule", workflowAttrs(wf.ID, log.Error(err))...)
		return
	}

	if !row.State.Enabled || !wf.Config.Configured() {
		// The partition is skipped, not deferred: the cursor moves on so a
		// re-enabled workflow resumes with current partitions instead of
		// replaying everything it slept through.
		m.advanceCursor(ctx, wf.ID, successor)
		return
	}

	parameter := timeutil.ToParameter(wf.Schedule, *next)
	wi := model.NewInstance(wf.ID, parameter)
	ev := model.TriggerExecution(wi, m.newID(), nil)

	err = m.events.ReceiveTx(ctx, ev, func(tx storage.Transaction) error {
		return tx.UpdateNextNaturalTrigger(ctx, wf.ID, successor)
	})
	var illegal *errors.IllegalTransitionError
	switch {
	case err == nil:
		metrics.RecordTrigger("natural")
		m.logger.Info("triggered partition",
			workflowAttrs(wf.ID,
				log.String(log.ParameterKey, parameter),
				log.String(log.TriggerKey, ev.TriggerID))...)
	case errors.As(err, &illegal):
		// The partition is already active, likely from a backfill or an
		// operator trigger. Move on without a second run.
		m.advanceCursor(ctx, wf.ID, successor)
	default:
		// Cursor untouched, the next tick retries.
		metrics.RecordEventFailure(string(ev.Type), errors.TypeOf(err))
		m.logger.Warn("natural trigger failed",
			workflowAttrs(wf.ID,
				log.String(log.ParameterKey, parameter),
				log.Error(err))...)
	}
}

func (m *Manager) advanceCursor(ctx context.Context, id model.WorkflowID, next time.Time) {
	if err := m.workflows.UpdateNextNaturalTrigger(ctx, id, next); err != nil {
		m.logger.Warn("advancing natural trigger failed", workflowAttrs(id, log.Error(err))...)
	}
}

// RegisterWorkflow stores a workflow definition and keeps its natural
// trigger cursor coherent: a new workflow's cursor starts at the first
// aligned instant from now, and a schedule change re-initializes it so the
// cursor stays aligned with the new partitioning.
func RegisterWorkflow(ctx context.Context, store storage.WorkflowStore, wf model.Workflow, now time.Time) error {
	existing, err := store.Workflow(ctx, wf.ID)
	var notFound *errors.NotFoundError
	fresh := errors.As(err, &notFound)
	if err != nil && !fresh {
		return err
	}

	if err := store.StoreWorkflow(ctx, wf); err != nil {
		return err
	}

	if !fresh && existing.Schedule == wf.Schedule {
		return nil
	}
	first, err := timeutil.NextAlignedInstant(now, wf.Schedule)
	if err != nil {
		return errors.Wrapf(err, "initializing natural trigger for %s", wf.ID)
	}
	return store.UpdateNextNaturalTrigger(ctx, wf.ID, first)
}

func workflowAttrs(id model.WorkflowID, extra ...slog.Attr) []any {
	attrs := []any{
		log.String(log.ComponentKey, id.Component),
		log.String(log.WorkflowKey, id.Name),
	}
	for _, a := range extra {
		attrs = append(attrs, a)
	}
	return attrs
}
