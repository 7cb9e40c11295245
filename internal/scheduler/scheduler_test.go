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

package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/takt-io/takt/internal/model"
	"github.com/takt-io/takt/internal/ratelimit"
	"github.com/takt-io/takt/internal/state"
	"github.com/takt-io/takt/internal/storage/memory"
	"github.com/takt-io/takt/pkg/errors"
)

var testNow = time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

type fakeManager struct {
	mu     sync.Mutex
	states map[model.WorkflowInstance]state.RunState
	events []model.Event
	fail   map[model.EventType]error
}

func newFakeManager() *fakeManager {
	return &fakeManager{
		states: make(map[model.WorkflowInstance]state.RunState),
		fail:   make(map[model.EventType]error),
	}
}

func (f *fakeManager) ActiveStates() map[model.WorkflowInstance]state.RunState {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[model.WorkflowInstance]state.RunState, len(f.states))
	for wi, rs := range f.states {
		out[wi] = rs
	}
	return out
}

func (f *fakeManager) ReceiveIgnoreClosed(_ context.Context, ev model.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[ev.Type]; err != nil {
		return err
	}
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeManager) byType(t model.EventType) []model.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Event
	for _, ev := range f.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func (f *fakeManager) add(wi model.WorkflowInstance, st state.State, age time.Duration, data state.StateData) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states[wi] = state.RunState{
		Instance:  wi,
		State:     st,
		Data:      data,
		Timestamp: testNow.Add(-age),
		Counter:   1,
	}
}

func instance(component, name, parameter string) model.WorkflowInstance {
	return model.NewInstance(model.NewWorkflowID(component, name), parameter)
}

func testScheduler(m Manager, ws *memory.Backend, perSec float64, enabled bool) *Scheduler {
	s := New(m, ws, ratelimit.NewSubmissionLimiter(perSec), func() bool { return enabled }, Config{})
	s.now = func() time.Time { return testNow }
	return s
}

func storeWorkflow(t *testing.T, ws *memory.Backend, id model.WorkflowID, concurrency int) {
	t.Helper()
	err := ws.StoreWorkflow(context.Background(), model.Workflow{
		ID:       id,
		Schedule: model.ScheduleDays,
		Config: model.WorkflowConfig{
			Image:       "report-builder:1.4",
			Concurrency: concurrency,
		},
	})
	require.NoError(t, err)
}

func TestTimeoutConfigTTL(t *testing.T) {
	cfg := NewTimeoutConfig(time.Hour, map[state.State]time.Duration{
		state.StateRunning: 48 * time.Hour,
	})

	assert.Equal(t, 48*time.Hour, cfg.TTL(state.StateRunning))
	assert.Equal(t, time.Hour, cfg.TTL(state.StateQueued))

	var zero TimeoutConfig
	assert.Equal(t, DefaultStateTTL, zero.TTL(state.StateRunning))
}

func TestParseTimeoutConfig(t *testing.T) {
	cfg, err := ParseTimeoutConfig(map[string]string{
		"default": "PT1H",
		"running": "P1D",
	})
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, cfg.TTL(state.StateRunning))
	assert.Equal(t, time.Hour, cfg.TTL(state.StateSubmitted))

	_, err = ParseTimeoutConfig(map[string]string{"running": "tomorrow"})
	var cfgErr *errors.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "stale-state-ttls.running", cfgErr.Key)
}

func TestTickTimesOutStaleInstances(t *testing.T) {
	m := newFakeManager()
	stale := instance("analytics", "daily-report", "2025-06-01")
	fresh := instance("analytics", "daily-report", "2025-06-10")
	m.add(stale, state.StateRunning, 25*time.Hour, state.StateData{})
	m.add(fresh, state.StateRunning, time.Hour, state.StateData{})

	s := testScheduler(m, memory.New(), 1000, true)
	s.tick(context.Background(), testNow)

	timeouts := m.byType(model.EventTimeout)
	require.Len(t, timeouts, 1)
	assert.Equal(t, stale, timeouts[0].Instance)
}

func TestTickHonorsPerStateTTL(t *testing.T) {
	m := newFakeManager()
	wi := instance("analytics", "daily-report", "2025-06-09")
	m.add(wi, state.StateSubmitted, 20*time.Minute, state.StateData{})

	s := testScheduler(m, memory.New(), 1000, true)
	s.timeouts = NewTimeoutConfig(DefaultStateTTL, map[state.State]time.Duration{
		state.StateSubmitted: 10 * time.Minute,
	})
	s.tick(context.Background(), testNow)

	require.Len(t, m.byType(model.EventTimeout), 1)
}

func TestTickReleasesDueRetries(t *testing.T) {
	m := newFakeManager()
	due := instance("analytics", "daily-report", "2025-06-08")
	early := instance("analytics", "daily-report", "2025-06-09")
	m.add(due, state.StateAwaitingRetry, 10*time.Minute, state.StateData{RetryDelayMillis: (6 * time.Minute).Milliseconds()})
	m.add(early, state.StateAwaitingRetry, time.Minute, state.StateData{RetryDelayMillis: (6 * time.Minute).Milliseconds()})

	s := testScheduler(m, memory.New(), 1000, true)
	s.tick(context.Background(), testNow)

	retries := m.byType(model.EventRetry)
	require.Len(t, retries, 1)
	assert.Equal(t, due, retries[0].Instance)
}

func TestTickDequeuesOldestFirst(t *testing.T) {
	m := newFakeManager()
	older := instance("analytics", "daily-report", "2025-06-08")
	newer := instance("analytics", "daily-report", "2025-06-09")
	m.add(newer, state.StateQueued, time.Minute, state.StateData{})
	m.add(older, state.StateQueued, 2*time.Minute, state.StateData{})

	ws := memory.New()
	storeWorkflow(t, ws, older.WorkflowID, 0)

	s := testScheduler(m, ws, 1000, true)
	s.tick(context.Background(), testNow)

	dequeues := m.byType(model.EventDequeue)
	require.Len(t, dequeues, 2)
	assert.Equal(t, older, dequeues[0].Instance)
	assert.Equal(t, newer, dequeues[1].Instance)
}

func TestTickHonorsConcurrencyGate(t *testing.T) {
	m := newFakeManager()
	id := model.NewWorkflowID("analytics", "daily-report")
	m.add(instance("analytics", "daily-report", "2025-06-07"), state.StateRunning, time.Minute, state.StateData{})
	m.add(instance("analytics", "daily-report", "2025-06-08"), state.StateSubmitted, time.Minute, state.StateData{})
	m.add(instance("analytics", "daily-report", "2025-06-09"), state.StateQueued, time.Minute, state.StateData{})

	ws := memory.New()
	storeWorkflow(t, ws, id, 2)

	s := testScheduler(m, ws, 1000, true)
	s.tick(context.Background(), testNow)
	assert.Empty(t, m.byType(model.EventDequeue))

	storeWorkflow(t, ws, id, 3)
	s.tick(context.Background(), testNow)
	assert.Len(t, m.byType(model.EventDequeue), 1)
}

func TestTickCountsDequeuesAgainstConcurrency(t *testing.T) {
	m := newFakeManager()
	id := model.NewWorkflowID("analytics", "daily-report")
	first := instance("analytics", "daily-report", "2025-06-08")
	second := instance("analytics", "daily-report", "2025-06-09")
	m.add(first, state.StateQueued, 2*time.Minute, state.StateData{})
	m.add(second, state.StateQueued, time.Minute, state.StateData{})

	ws := memory.New()
	storeWorkflow(t, ws, id, 1)

	s := testScheduler(m, ws, 1000, true)
	s.tick(context.Background(), testNow)

	dequeues := m.byType(model.EventDequeue)
	require.Len(t, dequeues, 1)
	assert.Equal(t, first, dequeues[0].Instance)
}

func TestTickStopsAtTokenBudget(t *testing.T) {
	m := newFakeManager()
	for i := 0; i < 5; i++ {
		wi := instance("analytics", "daily-report", time.Date(2025, 6, 1+i, 0, 0, 0, 0, time.UTC).Format("2006-01-02"))
		m.add(wi, state.StateQueued, time.Duration(5-i)*time.Minute, state.StateData{})
	}

	ws := memory.New()
	storeWorkflow(t, ws, model.NewWorkflowID("analytics", "daily-report"), 0)

	s := testScheduler(m, ws, 2, true)
	s.tick(context.Background(), testNow)

	assert.Len(t, m.byType(model.EventDequeue), 2)
}

func TestTickSkipsDequeueWhenDisabled(t *testing.T) {
	m := newFakeManager()
	m.add(instance("analytics", "daily-report", "2025-06-09"), state.StateQueued, time.Minute, state.StateData{})
	m.add(instance("analytics", "daily-report", "2025-06-01"), state.StateRunning, 25*time.Hour, state.StateData{})

	s := testScheduler(m, memory.New(), 1000, false)
	s.tick(context.Background(), testNow)

	assert.Empty(t, m.byType(model.EventDequeue))
	assert.Len(t, m.byType(model.EventTimeout), 1, "timeouts still fire while dequeueing is disabled")
}

func TestTickDequeuesMissingWorkflow(t *testing.T) {
	m := newFakeManager()
	wi := instance("analytics", "gone", "2025-06-09")
	m.add(wi, state.StateQueued, time.Minute, state.StateData{})

	s := testScheduler(m, memory.New(), 1000, true)
	s.tick(context.Background(), testNow)

	dequeues := m.byType(model.EventDequeue)
	require.Len(t, dequeues, 1)
	assert.Equal(t, wi, dequeues[0].Instance)
}

func TestTickToleratesRejectedEvents(t *testing.T) {
	m := newFakeManager()
	m.fail[model.EventTimeout] = &errors.IllegalTransitionError{
		State: string(state.StateDone), Event: string(model.EventTimeout),
	}
	m.add(instance("analytics", "daily-report", "2025-06-01"), state.StateRunning, 25*time.Hour, state.StateData{})
	m.add(instance("analytics", "daily-report", "2025-06-09"), state.StateQueued, time.Minute, state.StateData{})

	s := testScheduler(m, memory.New(), 1000, true)
	s.tick(context.Background(), testNow)

	assert.Len(t, m.byType(model.EventDequeue), 1, "a rejected timeout must not stop the sweep")
}

func TestStartStop(t *testing.T) {
	m := newFakeManager()
	m.add(instance("analytics", "daily-report", "2025-06-09"), state.StateQueued, time.Minute, state.StateData{})

	s := New(m, memory.New(), ratelimit.NewSubmissionLimiter(1000), nil, Config{TickInterval: 5 * time.Millisecond})
	s.Start(context.Background())
	defer s.Stop()

	require.Eventually(t, func() bool {
		return len(m.byType(model.EventDequeue)) > 0
	}, 2*time.Second, 5*time.Millisecond)

	s.Stop()
	s.Stop() // idempotent
}
