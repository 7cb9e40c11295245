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
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/takt-io/takt/internal/model"
	"github.com/takt-io/takt/internal/storage"
	"github.com/takt-io/takt/internal/storage/memory"
	"github.com/takt-io/takt/pkg/errors"
)

func testManager(t *testing.T, be *memory.Backend, handlers ...OutputHandler) *Manager {
	t.Helper()

	m := NewManager(be, handlers, ManagerConfig{
		Shards:         4,
		QueueSize:      16,
		HandlerWorkers: 2,
		DrainGrace:     time.Second,
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	t.Cleanup(func() { m.Close() })
	return m
}

// collectHandler records every transition it sees.
type collectHandler struct {
	mu     sync.Mutex
	states []RunState
}

func (h *collectHandler) TransitionInto(ctx context.Context, rs RunState, router EventRouter) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.states = append(h.states, rs)
}

func (h *collectHandler) seen(s State) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, rs := range h.states {
		if rs.State == s {
			return true
		}
	}
	return false
}

// dequeueHandler releases queued instances immediately, the way the real
// scheduler does on its tick.
type dequeueHandler struct{}

func (dequeueHandler) TransitionInto(ctx context.Context, rs RunState, router EventRouter) {
	if rs.State == StateQueued {
		router.ReceiveIgnoreClosed(ctx, model.Dequeue(rs.Instance))
	}
}

func TestManagerLifecycle(t *testing.T) {
	ctx := context.Background()
	be := memory.New()
	m := testManager(t, be)
	m.Open()

	require.NoError(t, m.Receive(ctx, model.TriggerExecution(testWI, "natural-trigger", nil)))

	rs, ok := m.RunState(testWI)
	require.True(t, ok)
	assert.Equal(t, StateQueued, rs.State)
	assert.Equal(t, int64(0), rs.Counter)

	entry, err := be.ActiveEntry(ctx, testWI)
	require.NoError(t, err)
	assert.Equal(t, int64(0), entry.Counter)
	assert.Equal(t, "natural-trigger", entry.TriggerID)

	desc := model.ExecutionDescription{Image: "img"}
	for _, ev := range []model.Event{
		model.Dequeue(testWI),
		model.Submit(testWI, desc, "exec-1"),
		model.Submitted(testWI, "exec-1"),
		model.Started(testWI),
		model.Terminate(testWI, intp(0)),
	} {
		require.NoError(t, m.Receive(ctx, ev))
	}

	_, ok = m.RunState(testWI)
	assert.False(t, ok, "terminal instance must leave the active map")
	assert.Empty(t, m.ActiveStates())

	_, err = be.ActiveEntry(ctx, testWI)
	var notFound *errors.NotFoundError
	assert.True(t, errors.As(err, &notFound), "terminal instance must leave the index")

	events, err := be.Events(ctx, testWI)
	require.NoError(t, err)
	require.Len(t, events, 6)
	assert.Equal(t, int64(5), events[5].Counter)
	assert.Equal(t, model.EventTerminate, events[5].Event.Type)
}

func TestManagerRetriggerContinuesCounter(t *testing.T) {
	ctx := context.Background()
	be := memory.New()
	m := testManager(t, be)
	m.Open()

	desc := model.ExecutionDescription{Image: "img"}
	for _, ev := range []model.Event{
		model.TriggerExecution(testWI, "t1", nil),
		model.Dequeue(testWI),
		model.Submit(testWI, desc, "exec-1"),
		model.Submitted(testWI, "exec-1"),
		model.Started(testWI),
		model.Terminate(testWI, intp(0)),
	} {
		require.NoError(t, m.Receive(ctx, ev))
	}

	require.NoError(t, m.Receive(ctx, model.TriggerExecution(testWI, "t2", nil)))

	rs, ok := m.RunState(testWI)
	require.True(t, ok)
	assert.Equal(t, StateQueued, rs.State)
	assert.Equal(t, int64(6), rs.Counter, "counters continue across runs")
	assert.Equal(t, "t2", rs.Data.TriggerID)
}

func TestManagerRejectsEventsForUnknownInstance(t *testing.T) {
	be := memory.New()
	m := testManager(t, be)
	m.Open()

	err := m.Receive(context.Background(), model.Dequeue(testWI))
	var notFound *errors.NotFoundError
	require.True(t, errors.As(err, &notFound), "got %v", err)
}

func TestManagerRejectsIllegalTransition(t *testing.T) {
	ctx := context.Background()
	be := memory.New()
	m := testManager(t, be)
	m.Open()

	require.NoError(t, m.Receive(ctx, model.TriggerExecution(testWI, "t", nil)))

	err := m.Receive(ctx, model.Started(testWI))
	var illegal *errors.IllegalTransitionError
	require.True(t, errors.As(err, &illegal), "got %v", err)

	// A double trigger on a live instance is rejected the same way.
	err = m.Receive(ctx, model.TriggerExecution(testWI, "t2", nil))
	require.True(t, errors.As(err, &illegal), "got %v", err)
}

func TestManagerClosedStates(t *testing.T) {
	ctx := context.Background()
	be := memory.New()
	m := testManager(t, be)

	// Not yet open.
	err := m.Receive(ctx, model.TriggerExecution(testWI, "t", nil))
	assert.ErrorIs(t, err, ErrClosed)

	m.Open()
	require.NoError(t, m.Receive(ctx, model.TriggerExecution(testWI, "t", nil)))

	require.NoError(t, m.Close())
	err = m.Receive(ctx, model.Dequeue(testWI))
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, m.ReceiveIgnoreClosed(ctx, model.Dequeue(testWI)))

	// Closing twice is fine.
	assert.NoError(t, m.Close())
}

func TestManagerRestore(t *testing.T) {
	ctx := context.Background()
	be := memory.New()

	// Seed the log with a run cut short by a crash.
	err := be.RunInTransaction(ctx, func(tx storage.Transaction) error {
		events := []model.Event{
			model.TriggerExecution(testWI, "t", nil),
			model.Dequeue(testWI),
		}
		for i, ev := range events {
			if _, err := tx.AppendEvent(ctx, ev, int64(i)-1); err != nil {
				return err
			}
		}
		return tx.WriteActiveEntry(ctx, storage.ActiveEntry{Instance: testWI, Counter: 1, TriggerID: "t"})
	})
	require.NoError(t, err)

	states, err := RestoreActive(ctx, be)
	require.NoError(t, err)

	m := testManager(t, be)
	require.NoError(t, m.Restore(states))
	m.Open()

	// Restore after open is rejected.
	assert.ErrorIs(t, m.Restore(states), ErrClosed)

	rs, ok := m.RunState(testWI)
	require.True(t, ok)
	assert.Equal(t, StatePrepare, rs.State)

	// The restored run picks up where the log left off.
	desc := model.ExecutionDescription{Image: "img"}
	require.NoError(t, m.Receive(ctx, model.Submit(testWI, desc, "exec-1")))
	rs, _ = m.RunState(testWI)
	assert.Equal(t, StateSubmitting, rs.State)
	assert.Equal(t, int64(2), rs.Counter)
}

func TestManagerReceiveTxJoinsTransaction(t *testing.T) {
	ctx := context.Background()
	be := memory.New()
	m := testManager(t, be)
	m.Open()

	bf := model.Backfill{
		ID:          "backfill-tx",
		Workflow:    testWI.WorkflowID,
		Start:       time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		End:         time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC),
		Schedule:    model.ScheduleDays,
		Concurrency: 1,
		NextTrigger: time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC),
		Created:     time.Now().UTC(),
	}

	err := m.ReceiveTx(ctx, model.TriggerExecution(testWI, "backfill-tx", nil), func(tx storage.Transaction) error {
		return tx.StoreBackfill(ctx, bf)
	})
	require.NoError(t, err)

	stored, err := be.Backfill(ctx, "backfill-tx")
	require.NoError(t, err)
	assert.Equal(t, bf.NextTrigger, stored.NextTrigger)

	rs, ok := m.RunState(testWI)
	require.True(t, ok)
	assert.Equal(t, StateQueued, rs.State)

	// A failing join rolls back the event too.
	boom := errors.New("boom")
	wi2 := model.WorkflowInstance{WorkflowID: testWI.WorkflowID, Parameter: "2025-06-02"}
	err = m.ReceiveTx(ctx, model.TriggerExecution(wi2, "backfill-tx", nil), func(tx storage.Transaction) error {
		return boom
	})
	require.ErrorIs(t, err, boom)
	_, ok = m.RunState(wi2)
	assert.False(t, ok)
	counter, err := be.LatestCounter(ctx, wi2)
	require.NoError(t, err)
	assert.Equal(t, int64(-1), counter)
}

func TestManagerConflictReloadsAndRetries(t *testing.T) {
	ctx := context.Background()
	be := memory.New()
	m := testManager(t, be)
	m.Open()

	require.NoError(t, m.Receive(ctx, model.TriggerExecution(testWI, "t", nil)))

	// Corrupt the in-memory counter to simulate a stale view of the log.
	m.mu.Lock()
	rs := m.states[testWI]
	rs.Counter = 5
	m.states[testWI] = rs
	m.mu.Unlock()

	require.NoError(t, m.Receive(ctx, model.Dequeue(testWI)))

	got, ok := m.RunState(testWI)
	require.True(t, ok)
	assert.Equal(t, StatePrepare, got.State)
	assert.Equal(t, int64(1), got.Counter, "retry must append at the real counter")
}

func TestManagerFansOutToHandlers(t *testing.T) {
	ctx := context.Background()
	be := memory.New()
	collect := &collectHandler{}
	m := testManager(t, be, dequeueHandler{}, collect)
	m.Open()

	require.NoError(t, m.Receive(ctx, model.TriggerExecution(testWI, "t", nil)))

	// The dequeue handler drives QUEUED to PREPARE asynchronously.
	require.Eventually(t, func() bool {
		rs, ok := m.RunState(testWI)
		return ok && rs.State == StatePrepare
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return collect.seen(StateQueued) && collect.seen(StatePrepare)
	}, 2*time.Second, 10*time.Millisecond)
}
