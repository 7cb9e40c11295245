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

// Package daemon wires the takt control plane together: storage, the state
// manager and its output handlers, the scheduler and trigger ticks, the
// workflow file source, and the HTTP API.
package daemon

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/takt-io/takt/internal/api"
	"github.com/takt-io/takt/internal/config"
	"github.com/takt-io/takt/internal/log"
	"github.com/takt-io/takt/internal/metrics"
	"github.com/takt-io/takt/internal/publish"
	"github.com/takt-io/takt/internal/ratelimit"
	"github.com/takt-io/takt/internal/runner"
	"github.com/takt-io/takt/internal/scheduler"
	"github.com/takt-io/takt/internal/source"
	"github.com/takt-io/takt/internal/state"
	"github.com/takt-io/takt/internal/state/handler"
	"github.com/takt-io/takt/internal/storage"
	"github.com/takt-io/takt/internal/storage/memory"
	"github.com/takt-io/takt/internal/storage/sqlite"
	"github.com/takt-io/takt/internal/tracing"
	"github.com/takt-io/takt/internal/trigger"
	"github.com/takt-io/takt/pkg/errors"
)

const (
	// gaugeInterval is how often active-state and workflow gauges are
	// recomputed from the manager and storage.
	gaugeInterval = 10 * time.Second

	// shutdownTimeout bounds each stage of graceful shutdown.
	shutdownTimeout = 30 * time.Second
)

// Options contains daemon options set at build time.
type Options struct {
	Version   string
	Commit    string
	BuildDate string
}

// Daemon is the taktd control plane process.
type Daemon struct {
	cfg    *config.Config
	opts   Options
	logger *slog.Logger

	backend  storage.Backend
	manager  *state.Manager
	limiter  *ratelimit.SubmissionLimiter
	sched    *scheduler.Scheduler
	triggers *trigger.Manager
	src      *source.FileSource
	tracer   *tracing.Provider
	server   *http.Server

	// enabled and runnerID mirror the storage-held runtime configuration
	// between refresh ticks.
	enabled  atomic.Bool
	runnerID atomic.Value

	tickersStop chan struct{}
	tickersWG   sync.WaitGroup

	mu      sync.Mutex
	ln      net.Listener
	started bool
}

// New creates a daemon instance. Nothing runs until Start.
func New(cfg *config.Config, opts Options) (*Daemon, error) {
	logger := log.WithComponent(log.New(log.FromEnv()), "daemon")

	d := &Daemon{
		cfg:         cfg,
		opts:        opts,
		logger:      logger,
		tickersStop: make(chan struct{}),
	}
	d.enabled.Store(true)
	d.runnerID.Store(defaultRunnerID(cfg))

	var be storage.Backend
	if cfg.Development() {
		be = memory.New()
	} else {
		sq, err := sqlite.New(sqlite.Config{Path: cfg.Storage.Path, WAL: true})
		if err != nil {
			return nil, errors.Wrap(err, "opening storage")
		}
		be = sq
	}
	d.backend = be

	d.limiter = ratelimit.NewSubmissionLimiter(cfg.Submission.DefaultRatePerSec)

	// The routing runner resolves the execution backend per submission, so
	// a storage-side runner id change takes effect without a restart. The
	// factory is a method value reading d.manager lazily, which breaks the
	// construction cycle between runner and manager.
	run := runner.NewRouting(d.newRunner, d.currentRunnerID)

	handlers := []state.OutputHandler{
		handler.NewTransitionLogger(logger),
		handler.NewExecutionDescription(be, logger),
		handler.NewDockerRunner(run, d.limiter, d.currentRunnerID, logger),
		handler.NewTermination(handler.TerminationConfig{
			BaseDelay:        cfg.Retry.BaseDelay,
			MaxExponent:      cfg.Retry.MaxExponent,
			MaxDelay:         cfg.Retry.MaxDelay,
			MissingDepsDelay: cfg.Retry.MissingDepsDelay,
			MaxRetryCost:     cfg.Retry.MaxRetryCost,
		}, logger),
		handler.NewMonitoring(),
		handler.NewPublisher(publish.NewLog(logger), logger),
	}
	d.manager = state.NewManager(be, handlers, state.ManagerConfig{Logger: logger})

	advancer := trigger.NewAdvancer(d.manager, be, logger)
	d.triggers = trigger.NewManager(d.manager, be, advancer, d.isEnabled, trigger.Config{
		TickInterval: cfg.Scheduler.TriggerTickInterval,
		Logger:       logger,
	})

	timeouts, err := scheduler.ParseTimeoutConfig(cfg.StaleStateTTLs)
	if err != nil {
		return nil, errors.Wrap(err, "parsing stale state ttls")
	}
	d.sched = scheduler.New(d.manager, be, d.limiter, d.isEnabled, scheduler.Config{
		TickInterval: cfg.Scheduler.TickInterval,
		Timeouts:     timeouts,
		Logger:       logger,
	})

	if cfg.Workflows.File != "" {
		d.src = source.New(be, cfg.Workflows.File, source.Config{Logger: logger})
	}

	backfills := trigger.NewBackfills(be, be, be, d.manager, logger)
	router := api.NewRouter(api.Deps{
		Backfills:     backfills,
		BackfillStore: be,
		Workflows:     be,
		Events:        be,
		States:        d.manager,
	}, api.Config{
		Auth: api.AuthConfig{
			Enabled: cfg.Auth.Enabled,
			Secret:  []byte(cfg.Auth.Secret),
		},
		Logger: logger,
	})
	router.SetMetricsHandler(metrics.Handler())

	d.server = &http.Server{
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return d, nil
}

// Start restores persisted state, starts the schedulers and the API server,
// and blocks until ctx is cancelled or the server fails.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return errors.New("daemon already started")
	}
	d.started = true
	d.mu.Unlock()

	if d.cfg.Tracing.Enabled {
		tp, err := tracing.Setup(tracing.Config{
			ServiceName:    "taktd",
			ServiceVersion: d.opts.Version,
			Writer:         os.Stdout,
			PrettyPrint:    d.cfg.Tracing.Pretty,
		})
		if err != nil {
			return errors.Wrap(err, "setting up tracing")
		}
		d.tracer = tp
	}

	// Replay the event log before accepting anything new, so every live
	// instance resumes exactly where its last committed event left it.
	states, err := state.RestoreActive(ctx, d.backend)
	if err != nil {
		return errors.Wrap(err, "restoring active states")
	}
	if err := d.manager.Restore(states); err != nil {
		return errors.Wrap(err, "seeding state manager")
	}
	d.manager.Open()
	d.logger.Info("state restored", log.Int("active_instances", len(states)))

	// Apply runtime configuration once before the first trigger tick.
	d.applyRuntimeConfig(ctx)

	if d.src != nil {
		if err := d.src.Start(ctx); err != nil {
			return errors.Wrap(err, "starting workflow source")
		}
	}

	d.triggers.Start(ctx)
	d.sched.Start(ctx)

	d.tickersWG.Add(2)
	go d.runtimeConfigLoop()
	go d.gaugeLoop()

	ln, err := net.Listen("tcp", d.cfg.HTTP.ListenAddr)
	if err != nil {
		return errors.Wrapf(err, "listening on %s", d.cfg.HTTP.ListenAddr)
	}
	d.mu.Lock()
	d.ln = ln
	d.mu.Unlock()

	d.logger.Info("taktd starting",
		log.String("version", d.opts.Version),
		log.String("mode", string(d.cfg.Mode)),
		log.String("listen_addr", ln.Addr().String()),
		log.String("runner_id", d.currentRunnerID()))

	errCh := make(chan error, 1)
	go func() {
		if err := d.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown stops the daemon gracefully: the API server first so no new
// events arrive, then the tickers and schedulers, then the state manager
// drain, and storage last.
func (d *Daemon) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.started {
		return nil
	}

	d.logger.Info("graceful shutdown initiated",
		log.Int("active_instances", len(d.manager.ActiveStates())))

	if d.ln != nil {
		d.server.SetKeepAlivesEnabled(false)
		shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
		defer cancel()
		if err := d.server.Shutdown(shutdownCtx); err != nil {
			d.logger.Error("HTTP server shutdown error", log.Error(err))
		}
	}

	close(d.tickersStop)
	d.tickersWG.Wait()

	d.sched.Stop()
	d.triggers.Stop()
	if d.src != nil {
		d.src.Stop()
	}

	if err := d.manager.Close(); err != nil {
		d.logger.Error("state manager shutdown error", log.Error(err))
	}

	if d.tracer != nil {
		flushCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
		defer cancel()
		if err := d.tracer.Shutdown(flushCtx); err != nil {
			d.logger.Error("tracer shutdown error", log.Error(err))
		}
	}

	if err := d.backend.Close(); err != nil {
		d.logger.Error("storage shutdown error", log.Error(err))
	}

	return nil
}

// Addr returns the address the API server is bound to, or nil before Start
// has created the listener.
func (d *Daemon) Addr() net.Addr {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ln == nil {
		return nil
	}
	return d.ln.Addr()
}

func (d *Daemon) isEnabled() bool {
	return d.enabled.Load()
}

func (d *Daemon) currentRunnerID() string {
	return d.runnerID.Load().(string)
}

// newRunner creates the execution backend for a runner id. Only the local
// docker runner is built in; submissions routed to any other id fail and
// retry until an operator points the runtime configuration back at a
// built-in adapter.
func (d *Daemon) newRunner(id string) (runner.Runner, error) {
	switch id {
	case "local":
		return runner.NewLocal(d.manager, d.logger), nil
	default:
		return nil, &errors.RunnerError{
			Runner:  id,
			Message: "no adapter built in for this runner id",
		}
	}
}

// defaultRunnerID picks the execution backend used until the storage-held
// runtime configuration names one.
func defaultRunnerID(cfg *config.Config) string {
	if !cfg.Development() && cfg.GKE.ClusterID != "" {
		return "gke"
	}
	return "local"
}

// runtimeConfigLoop re-reads the storage-held runtime configuration on a
// fixed interval so operator changes land without a restart.
func (d *Daemon) runtimeConfigLoop() {
	defer d.tickersWG.Done()

	interval := d.cfg.Scheduler.RuntimeConfigInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-d.tickersStop:
			return
		case <-t.C:
			d.applyRuntimeConfig(context.Background())
		}
	}
}

// applyRuntimeConfig reads the runtime configuration and applies it to the
// enable flag, the submission limiter, and the runner id.
func (d *Daemon) applyRuntimeConfig(ctx context.Context) {
	rc, err := d.backend.RuntimeConfig(ctx)
	if err != nil {
		d.logger.Warn("failed to read runtime config", log.Error(err))
		return
	}

	if was := d.enabled.Swap(rc.Enabled); was != rc.Enabled {
		d.logger.Info("global triggering and submission toggled",
			log.Bool("enabled", rc.Enabled))
	}

	if rc.SubmissionRatePerSec > 0 && rc.SubmissionRatePerSec != d.limiter.Rate() {
		d.limiter.SetRate(rc.SubmissionRatePerSec)
		d.logger.Info("submission rate updated",
			slog.Float64("rate_per_sec", rc.SubmissionRatePerSec))
	}
	metrics.SetSubmissionRate(d.limiter.Rate())

	id := rc.RunnerID
	if id == "" {
		id = defaultRunnerID(d.cfg)
	}
	if prev := d.runnerID.Swap(id); prev != id {
		d.logger.Info("runner id updated",
			log.String("previous", prev.(string)),
			log.String("runner_id", id))
	}
}

// gaugeLoop recomputes the active-state, queue, and workflow gauges.
func (d *Daemon) gaugeLoop() {
	defer d.tickersWG.Done()

	t := time.NewTicker(gaugeInterval)
	defer t.Stop()

	for {
		select {
		case <-d.tickersStop:
			return
		case <-t.C:
			d.updateGauges(context.Background())
		}
	}
}

func (d *Daemon) updateGauges(ctx context.Context) {
	counts := make(map[string]int)
	for _, rs := range d.manager.ActiveStates() {
		counts[string(rs.State)]++
	}
	metrics.SetActiveStates(counts)
	metrics.SetQueuedEvents(d.manager.QueuedEvents())

	rows, err := d.backend.WorkflowsWithNextNaturalTrigger(ctx)
	if err != nil {
		d.logger.Warn("failed to read workflows for gauges", log.Error(err))
		return
	}
	enabled, disabled := 0, 0
	for _, row := range rows {
		if row.State.Enabled {
			enabled++
		} else {
			disabled++
		}
	}
	metrics.SetWorkflows(enabled, disabled)
}
