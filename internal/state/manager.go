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
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/takt-io/takt/internal/log"
	"github.com/takt-io/takt/internal/model"
	"github.com/takt-io/takt/internal/storage"
	"github.com/takt-io/takt/pkg/errors"
)

// ErrClosed is returned for events received before Open or after Close.
var ErrClosed = errors.New("state manager is closed")

const (
	// DefaultShards is the number of single-threaded event workers.
	// Instances hash to a shard, which gives per-instance ordering.
	DefaultShards = 16

	// DefaultQueueSize bounds each shard's pending event queue.
	DefaultQueueSize = 1024

	// DefaultHandlerWorkers sizes the pool that runs output handlers, kept
	// separate from the shards so handler latency cannot stall event flow.
	DefaultHandlerWorkers = 64

	// DefaultDrainGrace bounds how long Close waits for queued events.
	DefaultDrainGrace = 30 * time.Second
)

// EventRouter is the surface through which output handlers feed events back
// into the machine. Handlers only ever post events; they never touch
// RunStates directly.
type EventRouter interface {
	Receive(ctx context.Context, ev model.Event) error
	ReceiveIgnoreClosed(ctx context.Context, ev model.Event) error
}

// OutputHandler reacts to a committed transition. Implementations must
// tolerate redelivery: a transition is durable before its handlers run, so
// a crash between the two replays the handlers on restart.
type OutputHandler interface {
	TransitionInto(ctx context.Context, rs RunState, router EventRouter)
}

// Store is the slice of the storage interface the manager needs.
type Store interface {
	storage.EventLog
	storage.Transactioner
}

// ManagerConfig tunes the manager's pools. Zero values select defaults.
type ManagerConfig struct {
	Shards         int
	QueueSize      int
	HandlerWorkers int
	DrainGrace     time.Duration
	Logger         *slog.Logger
}

type task struct {
	ctx   context.Context
	event model.Event
	extra storage.TxFunc
	reply chan error
}

// Manager owns every live RunState. Events flow in through Receive, are
// serialized per instance by shard hashing, transition the state machine,
// commit to the event log and active index in one storage transaction, and
// finally fan out to output handlers on a separate worker pool.
type Manager struct {
	store    Store
	handlers []OutputHandler
	logger   *slog.Logger

	shards     []chan task
	drainGrace time.Duration

	mu     sync.RWMutex
	states map[model.WorkflowInstance]RunState

	lifeMu sync.RWMutex
	opened bool
	closed bool

	shardWG sync.WaitGroup

	handlerWorkers int
	handlerCh      chan RunState
	handlerWG      sync.WaitGroup
	handlerCtx     context.Context
	handlerCancel  context.CancelFunc

	now func() time.Time
}

// NewManager creates a manager. It accepts no events until Open is called;
// Restore may seed it with replayed states before that.
func NewManager(store Store, handlers []OutputHandler, cfg ManagerConfig) *Manager {
	if cfg.Shards <= 0 {
		cfg.Shards = DefaultShards
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.HandlerWorkers <= 0 {
		cfg.HandlerWorkers = DefaultHandlerWorkers
	}
	if cfg.DrainGrace <= 0 {
		cfg.DrainGrace = DefaultDrainGrace
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	shards := make([]chan task, cfg.Shards)
	for i := range shards {
		shards[i] = make(chan task, cfg.QueueSize)
	}

	hctx, hcancel := context.WithCancel(context.Background())

	return &Manager{
		store:          store,
		handlers:       handlers,
		logger:         log.WithComponent(cfg.Logger, "state-manager"),
		shards:         shards,
		drainGrace:     cfg.DrainGrace,
		states:         make(map[model.WorkflowInstance]RunState),
		handlerWorkers: cfg.HandlerWorkers,
		handlerCh:      make(chan RunState, cfg.QueueSize),
		handlerCtx:     hctx,
		handlerCancel:  hcancel,
		now:            time.Now,
	}
}

// Restore seeds the in-memory state map with replayed RunStates. Only legal
// before Open; afterwards the event flow owns the map exclusively.
func (m *Manager) Restore(states map[model.WorkflowInstance]RunState) error {
	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()
	if m.opened || m.closed {
		return ErrClosed
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for wi, rs := range states {
		m.states[wi] = rs
		log.Trace(m.logger, "restored instance",
			log.String(log.ComponentKey, wi.Component),
			log.String(log.WorkflowKey, wi.Name),
			log.String(log.ParameterKey, wi.Parameter),
			log.String(log.StateKey, string(rs.State)),
			log.Int64(log.CounterKey, rs.Counter))
	}
	return nil
}

// Open starts the shard and handler workers and begins accepting events.
func (m *Manager) Open() {
	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()
	if m.opened || m.closed {
		return
	}
	m.opened = true

	for _, shard := range m.shards {
		m.shardWG.Add(1)
		go m.shardLoop(shard)
	}
	for i := 0; i < m.handlerWorkers; i++ {
		m.handlerWG.Add(1)
		go m.handlerLoop()
	}

	m.logger.Info("state manager open",
		log.Int("shards", len(m.shards)),
		log.Int("restored_states", m.instanceCount()))
}

// Receive applies one event. It returns once the event is durably logged and
// the in-memory state reflects it; output handlers are scheduled but may
// still be running. Fails with ErrClosed, IllegalTransitionError, or a
// storage error.
func (m *Manager) Receive(ctx context.Context, ev model.Event) error {
	return m.ReceiveTx(ctx, ev, nil)
}

// ReceiveTx is Receive with extra storage operations joined into the same
// transaction as the event append. The backfill advancer uses this to move
// its cursor atomically with the trigger it emits.
func (m *Manager) ReceiveTx(ctx context.Context, ev model.Event, extra storage.TxFunc) error {
	m.lifeMu.RLock()
	if !m.opened || m.closed {
		m.lifeMu.RUnlock()
		return ErrClosed
	}

	t := task{ctx: ctx, event: ev, extra: extra, reply: make(chan error, 1)}
	shard := m.shards[m.shardFor(ev.Instance)]
	select {
	case shard <- t:
		m.lifeMu.RUnlock()
	case <-ctx.Done():
		m.lifeMu.RUnlock()
		return ctx.Err()
	}

	select {
	case err := <-t.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ReceiveIgnoreClosed is Receive for callers that outlive the manager, such
// as output handlers running during shutdown. ErrClosed is swallowed.
func (m *Manager) ReceiveIgnoreClosed(ctx context.Context, ev model.Event) error {
	err := m.Receive(ctx, ev)
	if errors.Is(err, ErrClosed) {
		m.logger.Debug("dropped event, manager closed", log.String(log.EventKey, ev.String()))
		return nil
	}
	return err
}

// ActiveStates returns a snapshot of every live RunState.
func (m *Manager) ActiveStates() map[model.WorkflowInstance]RunState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[model.WorkflowInstance]RunState, len(m.states))
	for wi, rs := range m.states {
		out[wi] = rs
	}
	return out
}

// RunState returns the live state of one instance.
func (m *Manager) RunState(wi model.WorkflowInstance) (RunState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rs, ok := m.states[wi]
	return rs, ok
}

// QueuedEvents reports how many events are waiting across all shards.
func (m *Manager) QueuedEvents() int {
	n := 0
	for _, shard := range m.shards {
		n += len(shard)
	}
	return n
}

// Close stops intake, drains queued events within the grace period, then
// stops the handler pool. Events arriving after Close fail with ErrClosed.
func (m *Manager) Close() error {
	m.lifeMu.Lock()
	if m.closed {
		m.lifeMu.Unlock()
		return nil
	}
	m.closed = true
	opened := m.opened
	m.lifeMu.Unlock()

	for _, shard := range m.shards {
		close(shard)
	}
	if !opened {
		m.handlerCancel()
		return nil
	}

	drained := make(chan struct{})
	go func() {
		m.shardWG.Wait()
		close(drained)
	}()

	select {
	case <-drained:
	case <-time.After(m.drainGrace):
		m.logger.Warn("drain grace elapsed with events still queued",
			log.Int("queued", m.QueuedEvents()))
		go func() {
			<-drained
			m.handlerCancel()
		}()
		return &errors.TimeoutError{Operation: "state manager drain", Duration: m.drainGrace}
	}

	m.handlerCancel()
	m.handlerWG.Wait()
	m.logger.Info("state manager closed")
	return nil
}

func (m *Manager) shardFor(wi model.WorkflowInstance) int {
	h := fnv.New32a()
	h.Write([]byte(wi.Component))
	h.Write([]byte{0})
	h.Write([]byte(wi.Name))
	h.Write([]byte{0})
	h.Write([]byte(wi.Parameter))
	return int(h.Sum32() % uint32(len(m.shards)))
}

func (m *Manager) shardLoop(shard chan task) {
	defer m.shardWG.Done()
	for t := range shard {
		t.reply <- m.process(t)
	}
}

// process runs on a shard goroutine, the only writer for its instances.
func (m *Manager) process(t task) error {
	ev := t.event
	wi := ev.Instance

	rs, err := m.currentState(t.ctx, ev)
	if err != nil {
		return err
	}

	next, err := Transition(rs, ev, m.now())
	if err != nil {
		return err
	}

	err = m.commit(t.ctx, ev, rs.Counter, next, t.extra)
	var conflict *errors.ConflictError
	if errors.As(err, &conflict) {
		// The in-memory view lost track of the log. Reload once and retry.
		m.logger.Warn("counter conflict, replaying instance",
			log.String(log.EventKey, ev.String()),
			log.Int64("expected", conflict.Expected),
			log.Int64("actual", conflict.Actual))

		rs, err = Replay(t.ctx, m.store, wi)
		if err != nil {
			return errors.Wrap(err, "reloading after conflict")
		}
		m.swap(wi, rs)
		if rs.State.Terminal() && isTrigger(ev.Type) {
			rs = Fresh(wi, rs.Counter)
		}
		next, err = Transition(rs, ev, m.now())
		if err != nil {
			return err
		}
		err = m.commit(t.ctx, ev, rs.Counter, next, t.extra)
	}
	if err != nil {
		return err
	}

	m.swap(wi, next)
	m.dispatch(next)
	return nil
}

// currentState resolves the state an event applies to. Trigger events may
// address instances with no live state; those start fresh from NEW at the
// counter where the instance's log left off.
func (m *Manager) currentState(ctx context.Context, ev model.Event) (RunState, error) {
	wi := ev.Instance

	m.mu.RLock()
	rs, ok := m.states[wi]
	m.mu.RUnlock()
	if ok {
		return rs, nil
	}

	if !isTrigger(ev.Type) {
		return RunState{}, &errors.NotFoundError{Resource: "active workflow instance", ID: wi.String()}
	}

	counter, err := m.store.LatestCounter(ctx, wi)
	if err != nil {
		return RunState{}, errors.Wrap(err, "reading latest counter")
	}
	return Fresh(wi, counter), nil
}

// commit persists the event, the updated active index entry and any caller
// supplied operations in a single transaction.
func (m *Manager) commit(ctx context.Context, ev model.Event, expected int64, next RunState, extra storage.TxFunc) error {
	return m.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		if _, err := tx.AppendEvent(ctx, ev, expected); err != nil {
			return err
		}
		if next.State.Terminal() {
			if err := tx.DeleteActiveEntry(ctx, ev.Instance); err != nil {
				return err
			}
		} else {
			entry := storage.ActiveEntry{
				Instance:  ev.Instance,
				Counter:   next.Counter,
				TriggerID: next.Data.TriggerID,
			}
			if err := tx.WriteActiveEntry(ctx, entry); err != nil {
				return err
			}
		}
		if extra != nil {
			return extra(tx)
		}
		return nil
	})
}

func (m *Manager) swap(wi model.WorkflowInstance, next RunState) {
	m.mu.Lock()
	if next.State.Terminal() {
		delete(m.states, wi)
	} else {
		m.states[wi] = next
	}
	m.mu.Unlock()
}

// dispatch schedules the output handlers for a committed transition. It
// never blocks the calling shard: handlers themselves post events back into
// the shards, so a blocking hand-off here could cycle into deadlock when
// both queues are saturated.
func (m *Manager) dispatch(rs RunState) {
	select {
	case m.handlerCh <- rs:
		return
	default:
	}
	go func() {
		select {
		case m.handlerCh <- rs:
		case <-m.handlerCtx.Done():
		}
	}()
}

func (m *Manager) handlerLoop() {
	defer m.handlerWG.Done()
	for {
		select {
		case rs := <-m.handlerCh:
			for _, h := range m.handlers {
				m.runHandler(h, rs)
			}
		case <-m.handlerCtx.Done():
			// Drain what is already buffered, then exit.
			for {
				select {
				case rs := <-m.handlerCh:
					for _, h := range m.handlers {
						m.runHandler(h, rs)
					}
				default:
					return
				}
			}
		}
	}
}

// runHandler isolates one handler invocation. Panics are logged; the
// transition is already durable and later handlers must still run.
func (m *Manager) runHandler(h OutputHandler, rs RunState) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("output handler panicked",
				slog.Any("panic", r),
				log.String(log.StateKey, string(rs.State)),
				log.String(log.ComponentKey, rs.Instance.Component),
				log.String(log.WorkflowKey, rs.Instance.Name),
				log.String(log.ParameterKey, rs.Instance.Parameter))
		}
	}()
	h.TransitionInto(m.handlerCtx, rs, m)
}

func (m *Manager) instanceCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.states)
}
