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

// Package scheduler owns the periodic sweep over active instances: it times
// out stale states, releases elapsed retries and dequeues instances toward
// submission within the rate and concurrency budgets.
package scheduler

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/takt-io/takt/internal/log"
	"github.com/takt-io/takt/internal/metrics"
	"github.com/takt-io/takt/internal/model"
	"github.com/takt-io/takt/internal/ratelimit"
	"github.com/takt-io/takt/internal/state"
	"github.com/takt-io/takt/internal/storage"
	"github.com/takt-io/takt/internal/timeutil"
	"github.com/takt-io/takt/pkg/errors"
)

const (
	// DefaultTickInterval is how often the sweep runs.
	DefaultTickInterval = 2 * time.Second

	// DefaultStateTTL times out instances whose state has no explicit TTL.
	DefaultStateTTL = 24 * time.Hour
)

// TimeoutConfig maps run states to the maximum time an instance may sit in
// them before the scheduler times it out.
type TimeoutConfig struct {
	ttls map[state.State]time.Duration
	def  time.Duration
}

// NewTimeoutConfig builds a TimeoutConfig with explicit per-state TTLs.
func NewTimeoutConfig(def time.Duration, ttls map[state.State]time.Duration) TimeoutConfig {
	if def <= 0 {
		def = DefaultStateTTL
	}
	copied := make(map[state.State]time.Duration, len(ttls))
	for st, d := range ttls {
		copied[st] = d
	}
	return TimeoutConfig{ttls: copied, def: def}
}

// ParseTimeoutConfig reads TTLs from configuration, state name to ISO-8601
// duration. The key "default" sets the TTL for unnamed states; state names
// are matched case-insensitively.
func ParseTimeoutConfig(raw map[string]string) (TimeoutConfig, error) {
	def := DefaultStateTTL
	ttls := make(map[state.State]time.Duration, len(raw))
	for key, value := range raw {
		iso, err := timeutil.ParseISODuration(value)
		if err != nil {
			return TimeoutConfig{}, &errors.ConfigError{
				Key:    "stale-state-ttls." + key,
				Reason: "not an ISO-8601 duration",
				Cause:  err,
			}
		}
		d, err := iso.Duration()
		if err != nil {
			return TimeoutConfig{}, &errors.ConfigError{
				Key:    "stale-state-ttls." + key,
				Reason: "duration not convertible",
				Cause:  err,
			}
		}
		if strings.EqualFold(key, "default") {
			def = d
			continue
		}
		ttls[state.State(strings.ToUpper(key))] = d
	}
	return NewTimeoutConfig(def, ttls), nil
}

// TTL returns the timeout for instances sitting in s.
func (c TimeoutConfig) TTL(s state.State) time.Duration {
	if d, ok := c.ttls[s]; ok {
		return d
	}
	if c.def > 0 {
		return c.def
	}
	return DefaultStateTTL
}

// Manager is the slice of the state manager the scheduler drives.
type Manager interface {
	ActiveStates() map[model.WorkflowInstance]state.RunState
	ReceiveIgnoreClosed(ctx context.Context, ev model.Event) error
}

// Config tunes the scheduler. Zero values select defaults.
type Config struct {
	TickInterval time.Duration
	Timeouts     TimeoutConfig
	Logger       *slog.Logger
}

// Scheduler sweeps the active states on a fixed interval. Each tick works on
// one immutable snapshot; instances that move concurrently reject our events
// as illegal transitions, which the sweep treats as benign.
type Scheduler struct {
	manager   Manager
	workflows storage.WorkflowStore
	limiter   *ratelimit.SubmissionLimiter
	enabled   func() bool
	timeouts  TimeoutConfig
	interval  time.Duration
	logger    *slog.Logger
	now       func() time.Time

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	tickBusy atomic.Bool
	tickWG   sync.WaitGroup
}

// New creates a scheduler. enabled gates dequeueing; it is consulted every
// tick so runtime configuration changes take effect without a restart.
func New(manager Manager, workflows storage.WorkflowStore, limiter *ratelimit.SubmissionLimiter, enabled func() bool, cfg Config) *Scheduler {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if enabled == nil {
		enabled = func() bool { return true }
	}
	return &Scheduler{
		manager:   manager,
		workflows: workflows,
		limiter:   limiter,
		enabled:   enabled,
		timeouts:  cfg.Timeouts,
		interval:  cfg.TickInterval,
		logger:    log.WithComponent(cfg.Logger, "scheduler"),
		now:       time.Now,
	}
}

// Start begins ticking. Safe to call once; repeated calls are no-ops while
// running.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	go s.run(ctx)
}

// Stop halts ticking and waits for an in-flight tick to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	<-s.doneCh
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.tickWG.Wait()
			return
		case <-s.stopCh:
			s.tickWG.Wait()
			return
		case <-ticker.C:
			if !s.tickBusy.CompareAndSwap(false, true) {
				s.logger.Warn("previous tick still running, skipping")
				continue
			}
			s.tickWG.Add(1)
			go func() {
				defer s.tickWG.Done()
				defer s.tickBusy.Store(false)
				s.guardedTick(ctx)
			}()
		}
	}
}

// guardedTick keeps a panicking tick from killing the loop.
func (s *Scheduler) guardedTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("tick panicked", log.Attr("panic", r))
		}
	}()
	s.tick(ctx, s.now())
}

func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	states := s.manager.ActiveStates()

	s.expireStale(ctx, states, now)
	s.releaseRetries(ctx, states, now)
	s.dequeue(ctx, states)
}

// expireStale times out instances that sat in one state beyond its TTL.
func (s *Scheduler) expireStale(ctx context.Context, states map[model.WorkflowInstance]state.RunState, now time.Time) {
	for _, rs := range states {
		age := now.Sub(rs.Timestamp)
		if age < s.timeouts.TTL(rs.State) {
			continue
		}
		if s.post(ctx, model.Timeout(rs.Instance)) {
			s.logger.Info("timed out stale instance",
				append(instanceAttrs(rs),
					log.String(log.StateKey, string(rs.State)),
					log.Duration("age", age.Milliseconds()))...)
		}
	}
}

// releaseRetries re-enqueues instances whose retry delay elapsed.
func (s *Scheduler) releaseRetries(ctx context.Context, states map[model.WorkflowInstance]state.RunState, now time.Time) {
	for _, rs := range states {
		if rs.State != state.StateAwaitingRetry {
			continue
		}
		due := rs.Timestamp.Add(time.Duration(rs.Data.RetryDelayMillis) * time.Millisecond)
		if now.Before(due) {
			continue
		}
		s.post(ctx, model.Retry(rs.Instance))
	}
}

// dequeue releases queued instances oldest first, while submission tokens
// are available and each workflow's concurrency gate is open.
func (s *Scheduler) dequeue(ctx context.Context, states map[model.WorkflowInstance]state.RunState) {
	if !s.enabled() {
		return
	}

	var queued []state.RunState
	inFlightCount := make(map[model.WorkflowID]int)
	for _, rs := range states {
		switch {
		case rs.State == state.StateQueued:
			queued = append(queued, rs)
		case inFlight(rs.State):
			inFlightCount[rs.Instance.WorkflowID]++
		}
	}
	if len(queued) == 0 {
		return
	}

	sort.Slice(queued, func(i, j int) bool {
		if !queued[i].Timestamp.Equal(queued[j].Timestamp) {
			return queued[i].Timestamp.Before(queued[j].Timestamp)
		}
		return queued[i].Instance.String() < queued[j].Instance.String()
	})

	// Tokens is advisory; the docker-runner handler still blocks on the
	// limiter per submission. The estimate keeps one tick from dequeueing
	// far more than the rate allows.
	budget := s.limiter.Tokens()
	workflows := make(map[model.WorkflowID]*model.Workflow)
	for _, rs := range queued {
		if budget <= 0 {
			return
		}

		id := rs.Instance.WorkflowID
		wf, seen := workflows[id]
		if !seen {
			var err error
			wf, err = s.workflows.Workflow(ctx, id)
			if err != nil {
				var notFound *errors.NotFoundError
				if !errors.As(err, &notFound) {
					s.logger.Warn("reading workflow failed",
						append(instanceAttrs(rs), log.Error(err))...)
					continue
				}
				// Deleted workflow: dequeue anyway, the execution
				// description handler fails the instance properly.
				wf = nil
			}
			workflows[id] = wf
		}

		if wf != nil && wf.Config.Concurrency > 0 && inFlightCount[id] >= wf.Config.Concurrency {
			continue
		}

		if !s.post(ctx, model.Dequeue(rs.Instance)) {
			continue
		}
		budget--
		inFlightCount[id]++
	}
}

// post submits one event, tolerating the benign races of sweeping a
// snapshot. Returns whether the event was applied.
func (s *Scheduler) post(ctx context.Context, ev model.Event) bool {
	err := s.manager.ReceiveIgnoreClosed(ctx, ev)
	if err == nil {
		return true
	}
	var illegal *errors.IllegalTransitionError
	if errors.As(err, &illegal) {
		s.logger.Debug("event outrun by concurrent transition",
			log.String(log.EventKey, ev.String()), log.Error(err))
		return false
	}
	metrics.RecordEventFailure(string(ev.Type), errors.TypeOf(err))
	s.logger.Warn("submitting event failed",
		log.String(log.EventKey, ev.String()), log.Error(err))
	return false
}

// inFlight reports whether a state occupies a submission slot for the
// concurrency gate.
func inFlight(s state.State) bool {
	switch s {
	case state.StatePrepare, state.StateSubmitting, state.StateSubmitted, state.StateRunning:
		return true
	}
	return false
}

func instanceAttrs(rs state.RunState) []any {
	return []any{
		log.String(log.ComponentKey, rs.Instance.Component),
		log.String(log.WorkflowKey, rs.Instance.Name),
		log.String(log.ParameterKey, rs.Instance.Parameter),
	}
}
