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

// Package memory provides an in-memory storage backend, used in dev mode
// and in tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/takt-io/takt/internal/model"
	"github.com/takt-io/takt/internal/storage"
	"github.com/takt-io/takt/pkg/errors"
)

// Compile-time interface assertions.
// Ensures Backend implements all segregated interfaces.
var (
	_ storage.EventLog      = (*Backend)(nil)
	_ storage.ActiveIndex   = (*Backend)(nil)
	_ storage.WorkflowStore = (*Backend)(nil)
	_ storage.BackfillStore = (*Backend)(nil)
	_ storage.ConfigStore   = (*Backend)(nil)
	_ storage.Transactioner = (*Backend)(nil)
	_ storage.Backend       = (*Backend)(nil)
)

type workflowRow struct {
	workflow model.Workflow
	state    model.WorkflowState
}

// Backend is an in-memory storage backend.
type Backend struct {
	mu        sync.RWMutex
	events    map[model.WorkflowInstance][]model.SequencedEvent
	active    map[model.WorkflowInstance]storage.ActiveEntry
	workflows map[model.WorkflowID]*workflowRow
	backfills map[string]model.Backfill
	runtime   *storage.RuntimeConfig
}

// New creates a new in-memory backend.
func New() *Backend {
	return &Backend{
		events:    make(map[model.WorkflowInstance][]model.SequencedEvent),
		active:    make(map[model.WorkflowInstance]storage.ActiveEntry),
		workflows: make(map[model.WorkflowID]*workflowRow),
		backfills: make(map[string]model.Backfill),
	}
}

// Events returns the instance's event history in counter order.
func (b *Backend) Events(ctx context.Context, wi model.WorkflowInstance) ([]model.SequencedEvent, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	history := b.events[wi]
	out := make([]model.SequencedEvent, len(history))
	copy(out, history)
	return out, nil
}

// LatestCounter returns the last event counter for the instance, -1 if none.
func (b *Backend) LatestCounter(ctx context.Context, wi model.WorkflowInstance) (int64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.latestCounterLocked(wi), nil
}

func (b *Backend) latestCounterLocked(wi model.WorkflowInstance) int64 {
	history := b.events[wi]
	if len(history) == 0 {
		return -1
	}
	return history[len(history)-1].Counter
}

// ActiveEntries returns the active index sorted by instance.
func (b *Backend) ActiveEntries(ctx context.Context) ([]storage.ActiveEntry, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	entries := make([]storage.ActiveEntry, 0, len(b.active))
	for _, entry := range b.active {
		entries = append(entries, entry)
	}
	sortEntries(entries)
	return entries, nil
}

// ActiveEntriesByTrigger returns the active entries started by a trigger.
func (b *Backend) ActiveEntriesByTrigger(ctx context.Context, triggerID string) ([]storage.ActiveEntry, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var entries []storage.ActiveEntry
	for _, entry := range b.active {
		if entry.TriggerID == triggerID {
			entries = append(entries, entry)
		}
	}
	sortEntries(entries)
	return entries, nil
}

// ActiveEntry returns the entry for one instance.
func (b *Backend) ActiveEntry(ctx context.Context, wi model.WorkflowInstance) (*storage.ActiveEntry, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	entry, ok := b.active[wi]
	if !ok {
		return nil, &errors.NotFoundError{Resource: "active state", ID: wi.String()}
	}
	return &entry, nil
}

// StoreWorkflow creates or replaces a workflow definition. Scheduling state
// of an existing workflow is preserved.
func (b *Backend) StoreWorkflow(ctx context.Context, wf model.Workflow) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if row, ok := b.workflows[wf.ID]; ok {
		row.workflow = wf
		return nil
	}
	b.workflows[wf.ID] = &workflowRow{workflow: wf}
	return nil
}

// Workflow returns a workflow by id.
func (b *Backend) Workflow(ctx context.Context, id model.WorkflowID) (*model.Workflow, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	row, ok := b.workflows[id]
	if !ok {
		return nil, &errors.NotFoundError{Resource: "workflow", ID: id.String()}
	}
	wf := row.workflow
	return &wf, nil
}

// Workflows returns all workflow definitions sorted by id.
func (b *Backend) Workflows(ctx context.Context) ([]model.Workflow, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]model.Workflow, 0, len(b.workflows))
	for _, row := range b.workflows {
		out = append(out, row.workflow)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

// DeleteWorkflow removes a workflow definition and its state.
func (b *Backend) DeleteWorkflow(ctx context.Context, id model.WorkflowID) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.workflows, id)
	return nil
}

// WorkflowState returns the scheduling state of a workflow.
func (b *Backend) WorkflowState(ctx context.Context, id model.WorkflowID) (*model.WorkflowState, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	row, ok := b.workflows[id]
	if !ok {
		return nil, &errors.NotFoundError{Resource: "workflow", ID: id.String()}
	}
	state := row.state
	return &state, nil
}

// SetEnabled flips the enabled flag of a workflow.
func (b *Backend) SetEnabled(ctx context.Context, id model.WorkflowID, enabled bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	row, ok := b.workflows[id]
	if !ok {
		return &errors.NotFoundError{Resource: "workflow", ID: id.String()}
	}
	row.state.Enabled = enabled
	return nil
}

// UpdateNextNaturalTrigger moves the workflow's natural trigger cursor.
func (b *Backend) UpdateNextNaturalTrigger(ctx context.Context, id model.WorkflowID, next time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.updateNextNaturalTriggerLocked(id, next)
}

func (b *Backend) updateNextNaturalTriggerLocked(id model.WorkflowID, next time.Time) error {
	row, ok := b.workflows[id]
	if !ok {
		return &errors.NotFoundError{Resource: "workflow", ID: id.String()}
	}
	next = next.UTC()
	row.state.NextNaturalTrigger = &next
	return nil
}

// WorkflowsWithNextNaturalTrigger returns every workflow with its state.
func (b *Backend) WorkflowsWithNextNaturalTrigger(ctx context.Context) ([]storage.WorkflowWithState, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]storage.WorkflowWithState, 0, len(b.workflows))
	for _, row := range b.workflows {
		out = append(out, storage.WorkflowWithState{Workflow: row.workflow, State: row.state})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Workflow.ID.String() < out[j].Workflow.ID.String()
	})
	return out, nil
}

// StoreBackfill creates or replaces a backfill.
func (b *Backend) StoreBackfill(ctx context.Context, bf model.Backfill) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.backfills[bf.ID] = bf
	return nil
}

// Backfill returns a backfill by id.
func (b *Backend) Backfill(ctx context.Context, id string) (*model.Backfill, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	bf, ok := b.backfills[id]
	if !ok {
		return nil, &errors.NotFoundError{Resource: "backfill", ID: id}
	}
	return &bf, nil
}

// Backfills lists backfills matching the filter, newest first.
func (b *Backend) Backfills(ctx context.Context, filter storage.BackfillFilter) ([]model.Backfill, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []model.Backfill
	for _, bf := range b.backfills {
		if !filter.ShowAll && !bf.Active() {
			continue
		}
		if filter.Workflow != (model.WorkflowID{}) && bf.Workflow != filter.Workflow {
			continue
		}
		out = append(out, bf)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Created.Equal(out[j].Created) {
			return out[i].ID < out[j].ID
		}
		return out[i].Created.After(out[j].Created)
	})
	return out, nil
}

// RuntimeConfig returns the stored runtime configuration or the default.
func (b *Backend) RuntimeConfig(ctx context.Context) (storage.RuntimeConfig, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.runtime == nil {
		return storage.DefaultRuntimeConfig(), nil
	}
	return *b.runtime, nil
}

// StoreRuntimeConfig replaces the runtime configuration.
func (b *Backend) StoreRuntimeConfig(ctx context.Context, cfg storage.RuntimeConfig) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.runtime = &cfg
	return nil
}

// RunInTransaction stages writes and applies them all or not at all.
func (b *Backend) RunInTransaction(ctx context.Context, fn storage.TxFunc) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	tx := &transaction{backend: b}
	if err := fn(tx); err != nil {
		return err
	}
	tx.apply()
	return nil
}

// Close closes the backend.
func (b *Backend) Close() error {
	return nil
}

// transaction stages writes against the backend, which stays locked for the
// transaction's whole lifetime. Reads observe staged writes.
type transaction struct {
	backend   *Backend
	events    []model.SequencedEvent
	counters  map[model.WorkflowInstance]int64
	active    map[model.WorkflowInstance]*storage.ActiveEntry
	backfills map[string]model.Backfill
	triggers  []triggerUpdate
}

type triggerUpdate struct {
	id   model.WorkflowID
	next time.Time
}

func (tx *transaction) AppendEvent(ctx context.Context, ev model.Event, expectedCounter int64) (int64, error) {
	current, staged := tx.counters[ev.Instance]
	if !staged {
		current = tx.backend.latestCounterLocked(ev.Instance)
	}
	if current != expectedCounter {
		return 0, &errors.ConflictError{
			Resource: "event log",
			ID:       ev.Instance.String(),
			Expected: expectedCounter,
			Actual:   current,
		}
	}

	counter := expectedCounter + 1
	if tx.counters == nil {
		tx.counters = make(map[model.WorkflowInstance]int64)
	}
	tx.counters[ev.Instance] = counter
	tx.events = append(tx.events, model.SequencedEvent{
		Event:     ev,
		Counter:   counter,
		Timestamp: time.Now().UnixMilli(),
	})
	return counter, nil
}

func (tx *transaction) WriteActiveEntry(ctx context.Context, entry storage.ActiveEntry) error {
	if tx.active == nil {
		tx.active = make(map[model.WorkflowInstance]*storage.ActiveEntry)
	}
	tx.active[entry.Instance] = &entry
	return nil
}

func (tx *transaction) DeleteActiveEntry(ctx context.Context, wi model.WorkflowInstance) error {
	if tx.active == nil {
		tx.active = make(map[model.WorkflowInstance]*storage.ActiveEntry)
	}
	tx.active[wi] = nil
	return nil
}

func (tx *transaction) Backfill(ctx context.Context, id string) (*model.Backfill, error) {
	if bf, ok := tx.backfills[id]; ok {
		return &bf, nil
	}
	bf, ok := tx.backend.backfills[id]
	if !ok {
		return nil, &errors.NotFoundError{Resource: "backfill", ID: id}
	}
	return &bf, nil
}

func (tx *transaction) StoreBackfill(ctx context.Context, bf model.Backfill) error {
	if tx.backfills == nil {
		tx.backfills = make(map[string]model.Backfill)
	}
	tx.backfills[bf.ID] = bf
	return nil
}

func (tx *transaction) UpdateNextNaturalTrigger(ctx context.Context, id model.WorkflowID, next time.Time) error {
	if _, ok := tx.backend.workflows[id]; !ok {
		return &errors.NotFoundError{Resource: "workflow", ID: id.String()}
	}
	tx.triggers = append(tx.triggers, triggerUpdate{id: id, next: next})
	return nil
}

func (tx *transaction) apply() {
	b := tx.backend
	for _, ev := range tx.events {
		b.events[ev.Event.Instance] = append(b.events[ev.Event.Instance], ev)
	}
	for wi, entry := range tx.active {
		if entry == nil {
			delete(b.active, wi)
		} else {
			b.active[wi] = *entry
		}
	}
	for id, bf := range tx.backfills {
		b.backfills[id] = bf
	}
	for _, upd := range tx.triggers {
		// Validated at staging time; the workflow cannot vanish while the
		// backend is locked.
		_ = b.updateNextNaturalTriggerLocked(upd.id, upd.next)
	}
}

func sortEntries(entries []storage.ActiveEntry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Instance.String() < entries[j].Instance.String()
	})
}
