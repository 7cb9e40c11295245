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

package state

import (
	"context"
	"fmt"
	"time"

	"github.com/takt-io/takt/internal/model"
	"github.com/takt-io/takt/internal/storage"
	"github.com/takt-io/takt/pkg/errors"
)

// ReplayEvents folds an instance's event history into its current RunState.
// Folding is deterministic: the same sequence always yields the same state.
//
// A terminal state followed by a trigger event marks the start of a new run
// of the same partition; the fold resets to the NEW base (preserving the
// counter) and continues, mirroring how live triggers revive an instance
// that already has history.
func ReplayEvents(wi model.WorkflowInstance, events []model.SequencedEvent) (RunState, error) {
	return foldEvents(wi, events, nil)
}

// foldEvents walks the history, calling observe after every applied event.
func foldEvents(wi model.WorkflowInstance, events []model.SequencedEvent, observe func(RunState)) (RunState, error) {
	rs := Fresh(wi, -1)
	for _, se := range events {
		if se.Counter != rs.Counter+1 {
			return RunState{}, fmt.Errorf("event log for %s skips from counter %d to %d",
				wi, rs.Counter, se.Counter)
		}
		if rs.State.Terminal() && isTrigger(se.Event.Type) {
			rs = Fresh(wi, rs.Counter)
		}
		next, err := Transition(rs, se.Event, time.UnixMilli(se.Timestamp))
		if err != nil {
			return RunState{}, errors.Wrapf(err, "replaying %s at counter %d", wi, se.Counter)
		}
		rs = next
		if observe != nil {
			observe(rs)
		}
	}
	return rs, nil
}

func isTrigger(t model.EventType) bool {
	return t == model.EventTriggerExecution || t == model.EventTimeTrigger
}

// Replay reads the instance's full event log and folds it.
func Replay(ctx context.Context, log storage.EventLog, wi model.WorkflowInstance) (RunState, error) {
	events, err := log.Events(ctx, wi)
	if err != nil {
		return RunState{}, errors.Wrapf(err, "reading events for %s", wi)
	}
	return ReplayEvents(wi, events)
}

// BackfillRunState folds the instance's log and returns the last state
// belonging to the given trigger. An instance that was re-triggered since
// still reports the outcome of the backfill's own run. The bool is false
// when no run of that trigger appears in the history.
func BackfillRunState(ctx context.Context, log storage.EventLog, wi model.WorkflowInstance, triggerID string) (RunState, bool, error) {
	events, err := log.Events(ctx, wi)
	if err != nil {
		return RunState{}, false, errors.Wrapf(err, "reading events for %s", wi)
	}

	var match RunState
	var found bool
	_, err = foldEvents(wi, events, func(rs RunState) {
		if rs.Data.TriggerID == triggerID {
			match = rs
			found = true
		}
	})
	if err != nil {
		return RunState{}, false, err
	}
	return match, found, nil
}

// RestoreActive rebuilds the RunState of every instance in the active index
// by replaying its log. Used at boot to reconstruct the state manager's
// in-memory view; the index itself is the source of truth for which
// instances are live.
func RestoreActive(ctx context.Context, be storage.Backend) (map[model.WorkflowInstance]RunState, error) {
	entries, err := be.ActiveEntries(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "reading active index")
	}

	states := make(map[model.WorkflowInstance]RunState, len(entries))
	for _, entry := range entries {
		rs, err := Replay(ctx, be, entry.Instance)
		if err != nil {
			return nil, err
		}
		if rs.State.Terminal() {
			// Stale index entry: the log already ended. Skip it; the next
			// write for the instance will clean the entry up.
			continue
		}
		states[entry.Instance] = rs
	}
	return states, nil
}
