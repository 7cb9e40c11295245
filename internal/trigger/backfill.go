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

package trigger

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/takt-io/takt/internal/log"
	"github.com/takt-io/takt/internal/metrics"
	"github.com/takt-io/takt/internal/model"
	"github.com/takt-io/takt/internal/state"
	"github.com/takt-io/takt/internal/storage"
	"github.com/takt-io/takt/internal/timeutil"
	"github.com/takt-io/takt/pkg/errors"
)

// BackfillStorage is the slice of storage the backfill paths need.
type BackfillStorage interface {
	storage.BackfillStore
	storage.ActiveIndex
	storage.Transactioner
}

// errHalted aborts a trigger transaction when a concurrent halt won the race.
var errHalted = errors.New("backfill halted concurrently")

// Advancer walks each active backfill's partition range, triggering
// instances while the backfill's concurrency cap has headroom. The cursor
// only ever moves toward the range bound, in the same transaction as the
// trigger it accounts for.
type Advancer struct {
	events Events
	store  BackfillStorage
	logger *slog.Logger
}

// NewAdvancer creates an advancer driving events through the state manager.
func NewAdvancer(events Events, store BackfillStorage, logger *slog.Logger) *Advancer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Advancer{
		events: events,
		store:  store,
		logger: log.WithComponent(logger, "backfill-advancer"),
	}
}

// Tick advances every backfill that can still trigger partitions.
func (a *Advancer) Tick(ctx context.Context) {
	backfills, err := a.store.Backfills(ctx, storage.BackfillFilter{})
	if err != nil {
		a.logger.Warn("reading backfills failed", log.Error(err))
		return
	}
	for _, b := range backfills {
		if err := a.advance(ctx, b); err != nil {
			a.logger.Warn("advancing backfill failed",
				log.String(log.BackfillKey, b.ID), log.Error(err))
		}
	}
}

// advance triggers partitions until the backfill's concurrency is saturated
// or its range is exhausted.
func (a *Advancer) advance(ctx context.Context, b model.Backfill) error {
	entries, err := a.store.ActiveEntriesByTrigger(ctx, b.ID)
	if err != nil {
		return errors.Wrap(err, "counting live instances")
	}

	capacity := b.Concurrency - len(entries)
	for capacity > 0 && b.Active() {
		triggered, err := a.step(ctx, &b)
		if err != nil {
			if errors.Is(err, errHalted) {
				return nil
			}
			return err
		}
		if triggered {
			capacity--
		}
	}
	return nil
}

// step handles the partition at the cursor: it triggers the instance and
// advances the cursor in one transaction, or advances past a partition that
// is already active under another trigger. b tracks the stored copy.
func (a *Advancer) step(ctx context.Context, b *model.Backfill) (bool, error) {
	if beyondBound(*b, b.NextTrigger) {
		// The flag normally flips with the last trigger; this covers
		// cursors left exactly at the bound by older writes.
		return false, a.finish(ctx, b)
	}

	parameter := timeutil.ToParameter(b.Schedule, b.NextTrigger)
	wi := model.NewInstance(b.Workflow, parameter)
	next, err := successor(*b, b.NextTrigger)
	if err != nil {
		return false, err
	}

	ev := model.TriggerExecution(wi, b.ID, b.TriggerParameters)
	err = a.events.ReceiveTx(ctx, ev, func(tx storage.Transaction) error {
		return advanceTx(ctx, tx, b, next)
	})
	var illegal *errors.IllegalTransitionError
	switch {
	case err == nil:
		metrics.RecordTrigger("backfill")
		a.logger.Info("triggered partition",
			log.String(log.BackfillKey, b.ID),
			log.String(log.ComponentKey, wi.Component),
			log.String(log.WorkflowKey, wi.Name),
			log.String(log.ParameterKey, wi.Parameter))
		return true, nil
	case errors.As(err, &illegal):
		// Already active under another trigger. Skip the partition without
		// burning capacity on it.
		return false, a.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
			return advanceTx(ctx, tx, b, next)
		})
	case errors.Is(err, errHalted):
		return false, err
	default:
		metrics.RecordEventFailure(string(ev.Type), errors.TypeOf(err))
		return false, err
	}
}

// advanceTx moves the cursor on a freshly read row so a concurrent halt or
// edit is never clobbered, and flips allTriggered when the cursor leaves the
// range. b is updated to the stored copy.
func advanceTx(ctx context.Context, tx storage.Transaction, b *model.Backfill, next time.Time) error {
	cur, err := tx.Backfill(ctx, b.ID)
	if err != nil {
		return err
	}
	if cur.Halted {
		return errHalted
	}
	cur.NextTrigger = next
	if beyondBound(*cur, next) {
		cur.AllTriggered = true
	}
	if err := tx.StoreBackfill(ctx, *cur); err != nil {
		return err
	}
	*b = *cur
	return nil
}

func (a *Advancer) finish(ctx context.Context, b *model.Backfill) error {
	err := a.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		cur, err := tx.Backfill(ctx, b.ID)
		if err != nil {
			return err
		}
		cur.AllTriggered = true
		if err := tx.StoreBackfill(ctx, *cur); err != nil {
			return err
		}
		*b = *cur
		return nil
	})
	if err == nil {
		a.logger.Info("backfill fully triggered", log.String(log.BackfillKey, b.ID))
	}
	return err
}

// beyondBound reports whether the cursor left the backfill's range.
func beyondBound(b model.Backfill, cursor time.Time) bool {
	if b.Reverse {
		return cursor.Before(b.Start)
	}
	return !cursor.Before(b.End)
}

// successor is the next cursor position: forward backfills ascend, reverse
// ones descend.
func successor(b model.Backfill, cursor time.Time) (time.Time, error) {
	if b.Reverse {
		return timeutil.PreviousInstant(cursor, b.Schedule)
	}
	return timeutil.NextInstant(cursor, b.Schedule)
}

// AlreadyActiveError rejects a backfill whose range overlaps live instances.
type AlreadyActiveError struct {
	// Parameters are the colliding partitions, in range order.
	Parameters []string
}

// Error implements the error interface.
func (e *AlreadyActiveError) Error() string {
	return "these partitions are already active: " + strings.Join(e.Parameters, ", ")
}

// ErrorType implements errors.ErrorClassifier.
func (e *AlreadyActiveError) ErrorType() string { return "conflict" }

// IsRetryable implements errors.ErrorClassifier. The collision clears only
// once the live instances finish.
func (e *AlreadyActiveError) IsRetryable() bool { return false }

// States is the slice of the state manager the backfill service reads and
// drives: live states for status and halting, Receive for halt events.
type States interface {
	ActiveStates() map[model.WorkflowInstance]state.RunState
	Receive(ctx context.Context, ev model.Event) error
}

// Backfills implements the management operations behind the backfill API.
type Backfills struct {
	store     BackfillStorage
	workflows storage.WorkflowStore
	events    storage.EventLog
	states    States
	logger    *slog.Logger
	newID     func() string
	now       func() time.Time
}

// NewBackfills creates the backfill management service.
func NewBackfills(store BackfillStorage, workflows storage.WorkflowStore, events storage.EventLog, states States, logger *slog.Logger) *Backfills {
	if logger == nil {
		logger = slog.Default()
	}
	return &Backfills{
		store:     store,
		workflows: workflows,
		events:    events,
		states:    states,
		logger:    log.WithComponent(logger, "backfills"),
		newID:     func() string { return NewTriggerID("backfill") },
		now:       time.Now,
	}
}

// Create validates the input against the workflow's schedule and the active
// index, then stores a new backfill with its cursor at the range's first
// partition (last for reverse). allowFuture admits partitions that have not
// closed yet.
func (s *Backfills) Create(ctx context.Context, in model.BackfillInput, allowFuture bool) (*model.Backfill, error) {
	wf, err := s.workflows.Workflow(ctx, in.WorkflowID())
	if err != nil {
		return nil, err
	}
	if !wf.Config.Configured() {
		return nil, &errors.ValidationError{Message: "Workflow is missing docker image"}
	}
	if !in.Start.Before(in.End) {
		return nil, &errors.ValidationError{Message: "start must be before end"}
	}
	if aligned, err := timeutil.IsAligned(in.Start, wf.Schedule); err != nil {
		return nil, err
	} else if !aligned {
		return nil, &errors.ValidationError{Message: "start parameter not aligned with schedule"}
	}
	if aligned, err := timeutil.IsAligned(in.End, wf.Schedule); err != nil {
		return nil, err
	} else if !aligned {
		return nil, &errors.ValidationError{Message: "end parameter not aligned with schedule"}
	}

	now := s.now()
	if !allowFuture {
		lastPartition, err := timeutil.PreviousInstant(in.End, wf.Schedule)
		if err != nil {
			return nil, err
		}
		if in.Start.After(now) || lastPartition.After(now) {
			return nil, &errors.ValidationError{Message: "Cannot backfill future partitions"}
		}
	}

	instants, err := timeutil.InstantsInRange(in.Start, in.End, wf.Schedule)
	if err != nil {
		return nil, err
	}

	collisions, err := s.activeParameters(ctx, in.WorkflowID(), instants, wf.Schedule)
	if err != nil {
		return nil, err
	}
	if len(collisions) > 0 {
		return nil, &AlreadyActiveError{Parameters: collisions}
	}

	cursor := in.Start
	if in.Reverse {
		cursor = instants[len(instants)-1]
	}
	b := model.Backfill{
		ID:                s.newID(),
		Workflow:          in.WorkflowID(),
		Start:             in.Start.UTC(),
		End:               in.End.UTC(),
		Schedule:          wf.Schedule,
		Concurrency:       in.Concurrency,
		NextTrigger:       cursor.UTC(),
		Description:       in.Description,
		TriggerParameters: in.TriggerParameters,
		Reverse:           in.Reverse,
		Created:           now.UTC(),
	}
	if err := s.store.StoreBackfill(ctx, b); err != nil {
		return nil, err
	}

	s.logger.Info("backfill created",
		log.String(log.BackfillKey, b.ID),
		log.String(log.ComponentKey, b.Workflow.Component),
		log.String(log.WorkflowKey, b.Workflow.Name),
		log.Int("partitions", len(instants)))
	return &b, nil
}

// activeParameters returns the parameters among instants whose instances
// are currently live, in range order.
func (s *Backfills) activeParameters(ctx context.Context, id model.WorkflowID, instants []time.Time, schedule model.Schedule) ([]string, error) {
	entries, err := s.store.ActiveEntries(ctx)
	if err != nil {
		return nil, err
	}
	live := make(map[model.WorkflowInstance]struct{}, len(entries))
	for _, entry := range entries {
		live[entry.Instance] = struct{}{}
	}

	var collisions []string
	for _, t := range instants {
		wi := model.NewInstance(id, timeutil.ToParameter(schedule, t))
		if _, ok := live[wi]; ok {
			collisions = append(collisions, wi.Parameter)
		}
	}
	return collisions, nil
}

// Update edits a stored backfill. Only concurrency and description may
// change; a non-empty payload id must match the addressed one.
func (s *Backfills) Update(ctx context.Context, id string, in model.EditableBackfillInput) (*model.Backfill, error) {
	if in.ID != "" && in.ID != id {
		return nil, &errors.ValidationError{Message: "ID of payload does not match ID in uri."}
	}

	var updated *model.Backfill
	err := s.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		cur, err := tx.Backfill(ctx, id)
		if err != nil {
			return err
		}
		if in.Concurrency != nil {
			cur.Concurrency = *in.Concurrency
		}
		if in.Description != nil {
			cur.Description = *in.Description
		}
		if err := tx.StoreBackfill(ctx, *cur); err != nil {
			return err
		}
		updated = cur
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Halt marks the backfill halted, which stops all further triggering, and
// posts a halt for each of its live instances. It returns the instances
// whose halt could not be delivered; those keep running to completion.
func (s *Backfills) Halt(ctx context.Context, id string) ([]model.WorkflowInstance, error) {
	err := s.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		cur, err := tx.Backfill(ctx, id)
		if err != nil {
			return err
		}
		cur.Halted = true
		return tx.StoreBackfill(ctx, *cur)
	})
	if err != nil {
		return nil, err
	}

	var failed []model.WorkflowInstance
	for wi, rs := range s.states.ActiveStates() {
		if rs.Data.TriggerID != id {
			continue
		}
		if err := s.states.Receive(ctx, model.Halt(wi)); err != nil {
			var illegal *errors.IllegalTransitionError
			if errors.As(err, &illegal) {
				continue
			}
			s.logger.Warn("halting instance failed",
				log.String(log.BackfillKey, id),
				log.String(log.ComponentKey, wi.Component),
				log.String(log.WorkflowKey, wi.Name),
				log.String(log.ParameterKey, wi.Parameter),
				log.Error(err))
			failed = append(failed, wi)
		}
	}
	return failed, nil
}

// Status reports one entry per partition of the backfill's range, in range
// order: live instances verbatim, finished runs replayed from the log,
// WAITING where the cursor has not arrived and UNKNOWN where no run of this
// backfill left a trace.
func (s *Backfills) Status(ctx context.Context, b model.Backfill) ([]state.RunState, error) {
	active := make(map[model.WorkflowInstance]state.RunState)
	for wi, rs := range s.states.ActiveStates() {
		if rs.Data.TriggerID == b.ID {
			active[wi] = rs
		}
	}

	processed, waiting, err := splitRange(b)
	if err != nil {
		return nil, err
	}

	handled := make([]state.RunState, 0, len(processed))
	for _, t := range processed {
		wi := model.NewInstance(b.Workflow, timeutil.ToParameter(b.Schedule, t))
		if rs, ok := active[wi]; ok {
			handled = append(handled, rs)
			continue
		}
		rs, found, err := state.BackfillRunState(ctx, s.events, wi, b.ID)
		if err != nil {
			return nil, err
		}
		if !found {
			rs = pseudoState(wi, state.StateUnknown)
		}
		handled = append(handled, rs)
	}

	pending := make([]state.RunState, 0, len(waiting))
	for _, t := range waiting {
		wi := model.NewInstance(b.Workflow, timeutil.ToParameter(b.Schedule, t))
		pending = append(pending, pseudoState(wi, state.StateWaiting))
	}

	if b.Reverse {
		return append(pending, handled...), nil
	}
	return append(handled, pending...), nil
}

// splitRange partitions the backfill's range into instants the cursor has
// passed and instants it has not, both ascending.
func splitRange(b model.Backfill) (processed, waiting []time.Time, err error) {
	split := b.NextTrigger
	if b.Reverse {
		// The cursor descends, so everything strictly above it is handled.
		split, err = timeutil.NextInstant(b.NextTrigger, b.Schedule)
		if err != nil {
			return nil, nil, err
		}
		if b.Start.Before(split) {
			waiting, err = timeutil.InstantsInRange(b.Start, split, b.Schedule)
			if err != nil {
				return nil, nil, err
			}
		}
		if split.Before(b.End) {
			processed, err = timeutil.InstantsInRange(split, b.End, b.Schedule)
			if err != nil {
				return nil, nil, err
			}
		}
		return processed, waiting, nil
	}

	if b.Start.Before(split) {
		processed, err = timeutil.InstantsInRange(b.Start, split, b.Schedule)
		if err != nil {
			return nil, nil, err
		}
	}
	if split.Before(b.End) {
		waiting, err = timeutil.InstantsInRange(split, b.End, b.Schedule)
		if err != nil {
			return nil, nil, err
		}
	}
	return processed, waiting, nil
}

func pseudoState(wi model.WorkflowInstance, st state.State) state.RunState {
	return state.RunState{Instance: wi, State: st, Counter: -1}
}
