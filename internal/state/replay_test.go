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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/takt-io/takt/internal/model"
	"github.com/takt-io/takt/internal/storage"
	"github.com/takt-io/takt/internal/storage/memory"
)

func sequence(events ...model.Event) []model.SequencedEvent {
	out := make([]model.SequencedEvent, len(events))
	base := time.Date(2025, 6, 10, 8, 0, 0, 0, time.UTC).UnixMilli()
	for i, ev := range events {
		out[i] = model.SequencedEvent{Event: ev, Counter: int64(i), Timestamp: base + int64(i)*1000}
	}
	return out
}

func fullLifecycle(wi model.WorkflowInstance) []model.Event {
	desc := model.ExecutionDescription{Image: "img"}
	return []model.Event{
		model.TriggerExecution(wi, "backfill-7", nil),
		model.Dequeue(wi),
		model.Submit(wi, desc, "exec-1"),
		model.Submitted(wi, "exec-1"),
		model.Started(wi),
		model.Terminate(wi, intp(0)),
	}
}

func TestReplayEventsFullLifecycle(t *testing.T) {
	events := sequence(fullLifecycle(testWI)...)

	rs, err := ReplayEvents(testWI, events)
	require.NoError(t, err)
	assert.Equal(t, StateDone, rs.State)
	assert.Equal(t, int64(5), rs.Counter)
	assert.Equal(t, "backfill-7", rs.Data.TriggerID)
	assert.Equal(t, "exec-1", rs.Data.ExecutionID)
	// Timestamp is that of the last applied event.
	assert.Equal(t, time.UnixMilli(events[5].Timestamp), rs.Timestamp)
}

func TestReplayEventsEmptyLog(t *testing.T) {
	rs, err := ReplayEvents(testWI, nil)
	require.NoError(t, err)
	assert.Equal(t, StateNew, rs.State)
	assert.Equal(t, int64(-1), rs.Counter)
}

func TestReplayEventsMatchesIncrementalFold(t *testing.T) {
	events := sequence(fullLifecycle(testWI)...)

	// Fold the full log in one pass.
	full, err := ReplayEvents(testWI, events)
	require.NoError(t, err)

	// Fold a prefix, then continue with the suffix one event at a time.
	prefix, err := ReplayEvents(testWI, events[:3])
	require.NoError(t, err)
	rs := prefix
	for _, se := range events[3:] {
		rs, err = Transition(rs, se.Event, time.UnixMilli(se.Timestamp))
		require.NoError(t, err)
	}

	assert.Equal(t, full, rs)
}

func TestReplayEventsRetrigger(t *testing.T) {
	first := fullLifecycle(testWI)
	again := []model.Event{
		model.TriggerExecution(testWI, "backfill-8", nil),
		model.Dequeue(testWI),
	}
	events := sequence(append(first, again...)...)

	rs, err := ReplayEvents(testWI, events)
	require.NoError(t, err)
	assert.Equal(t, StatePrepare, rs.State)
	assert.Equal(t, int64(7), rs.Counter)
	// The new run starts from a clean slate.
	assert.Equal(t, "backfill-8", rs.Data.TriggerID)
	assert.Empty(t, rs.Data.ExecutionID)
}

func TestReplayEventsGapInLog(t *testing.T) {
	events := sequence(fullLifecycle(testWI)...)
	events[2].Counter = 7

	_, err := ReplayEvents(testWI, events[:3])
	require.Error(t, err)
	assert.Contains(t, err.Error(), "skips")
}

func TestReplayEventsIllegalHistory(t *testing.T) {
	events := sequence(
		model.TriggerExecution(testWI, "t", nil),
		model.Started(testWI),
	)

	_, err := ReplayEvents(testWI, events)
	require.Error(t, err)
}

func TestRestoreActive(t *testing.T) {
	ctx := context.Background()
	be := memory.New()

	live := testWI
	finished := model.WorkflowInstance{
		WorkflowID: live.WorkflowID,
		Parameter:  "2025-06-09",
	}

	seed := func(wi model.WorkflowInstance, events []model.Event, keepActive bool) {
		err := be.RunInTransaction(ctx, func(tx storage.Transaction) error {
			for i, ev := range events {
				if _, err := tx.AppendEvent(ctx, ev, int64(i)-1); err != nil {
					return err
				}
			}
			if keepActive {
				return tx.WriteActiveEntry(ctx, storage.ActiveEntry{
					Instance: wi, Counter: int64(len(events)) - 1, TriggerID: "t",
				})
			}
			return nil
		})
		require.NoError(t, err)
	}

	seed(live, []model.Event{
		model.TriggerExecution(live, "t", nil),
		model.Dequeue(live),
	}, true)
	// A stale index entry pointing at a finished instance is skipped.
	seed(finished, fullLifecycle(finished), true)

	states, err := RestoreActive(ctx, be)
	require.NoError(t, err)
	require.Len(t, states, 1)
	rs, ok := states[live]
	require.True(t, ok)
	assert.Equal(t, StatePrepare, rs.State)
	assert.Equal(t, int64(1), rs.Counter)
}

func TestBackfillRunState(t *testing.T) {
	ctx := context.Background()
	be := memory.New()

	// One finished backfill run, then a natural re-trigger still in flight.
	events := append(fullLifecycle(testWI),
		model.TriggerExecution(testWI, "natural-9", nil),
		model.Dequeue(testWI),
	)
	err := be.RunInTransaction(ctx, func(tx storage.Transaction) error {
		for i, ev := range events {
			if _, err := tx.AppendEvent(ctx, ev, int64(i)-1); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	rs, found, err := BackfillRunState(ctx, be, testWI, "backfill-7")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, StateDone, rs.State)
	assert.Equal(t, "backfill-7", rs.Data.TriggerID)
	assert.Equal(t, "exec-1", rs.Data.ExecutionID)

	rs, found, err = BackfillRunState(ctx, be, testWI, "natural-9")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, StatePrepare, rs.State)

	_, found, err = BackfillRunState(ctx, be, testWI, "backfill-8")
	require.NoError(t, err)
	assert.False(t, found)
}
