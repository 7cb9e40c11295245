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

// Package api provides the HTTP API for the scheduler daemon.
//
// All routes live under /api/v3. Mutating requests are authenticated with
// bearer tokens when auth is enabled, audited, and traced; reads are open.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/takt-io/takt/internal/httputil"
	"github.com/takt-io/takt/internal/log"
	"github.com/takt-io/takt/internal/metrics"
	"github.com/takt-io/takt/internal/model"
	"github.com/takt-io/takt/internal/state"
	"github.com/takt-io/takt/internal/storage"
	"github.com/takt-io/takt/internal/tracing"
	"github.com/takt-io/takt/internal/trigger"
)

// States is the slice of the state manager the API drives: event injection
// and the live-state snapshot.
type States interface {
	Receive(ctx context.Context, ev model.Event) error
	ActiveStates() map[model.WorkflowInstance]state.RunState
}

// Deps are the domain services the API exposes.
type Deps struct {
	Backfills     *trigger.Backfills
	BackfillStore storage.BackfillStore
	Workflows     storage.WorkflowStore
	Events        storage.EventLog
	States        States
}

// Config holds configuration for the API router.
type Config struct {
	// Service names tracing spans. Defaults to "takt-api".
	Service string

	// Auth configures bearer-token authentication for mutating requests.
	Auth AuthConfig

	// Logger receives request and audit logs. Defaults to slog.Default.
	Logger *slog.Logger

	// Now is the clock used for schedule checks. Defaults to time.Now.
	Now func() time.Time
}

// Router wraps an http.ServeMux with request identification, audit logging,
// tracing, and authentication.
type Router struct {
	mux     *http.ServeMux
	service string
	auth    AuthConfig
	logger  *slog.Logger

	backfills *BackfillHandler
	trigger   *TriggerHandler
	events    *EventHandler
	status    *StatusHandler
	workflows *WorkflowHandler
}

// NewRouter creates an HTTP router with all API endpoints registered.
func NewRouter(deps Deps, cfg Config) *Router {
	if cfg.Service == "" {
		cfg.Service = "takt-api"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	r := &Router{
		mux:     http.NewServeMux(),
		service: cfg.Service,
		auth:    cfg.Auth,
		logger:  cfg.Logger,

		backfills: NewBackfillHandler(deps.Backfills, deps.BackfillStore, cfg.Logger),
		trigger:   NewTriggerHandler(deps.Workflows, deps.States, cfg.Logger),
		events:    NewEventHandler(deps.States, deps.Events, cfg.Logger),
		status:    NewStatusHandler(deps.States),
		workflows: NewWorkflowHandler(deps.Workflows, cfg.Now, cfg.Logger),
	}

	r.backfills.RegisterRoutes(r.mux)
	r.trigger.RegisterRoutes(r.mux)
	r.events.RegisterRoutes(r.mux)
	r.status.RegisterRoutes(r.mux)
	r.workflows.RegisterRoutes(r.mux)

	r.mux.HandleFunc("GET /healthz", r.handleHealth)

	return r
}

// SetMetricsHandler registers the Prometheus scrape endpoint.
func (r *Router) SetMetricsHandler(handler http.Handler) {
	if handler != nil {
		r.mux.Handle("GET /metrics", handler)
	}
}

// Mux returns the underlying ServeMux for registering additional routes.
func (r *Router) Mux() *http.ServeMux {
	return r.mux
}

// ServeHTTP implements http.Handler.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	// Build the middleware chain from innermost to outermost:
	// 1. Route dispatch (innermost)
	// 2. Authentication of mutating requests
	// 3. Tracing spans
	// 4. Audit logging of mutating requests
	// 5. Request identification and panic recovery (outermost)
	var handler http.Handler = r.mux
	handler = r.authenticate(handler)
	handler = tracing.Middleware(r.service, handler)
	handler = r.auditRequests(handler)
	handler = r.identifyRequests(handler)

	handler.ServeHTTP(w, req)
}

// identifyRequests tags every request with an id, recovers panics into 500
// responses carrying that id, and emits the completion log line.
func (r *Router) identifyRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		id := req.Header.Get(tracing.HeaderRequestID)
		if id == "" {
			id = tracing.NewRequestID()
		}
		w.Header().Set(tracing.HeaderRequestID, id)

		ctx := tracing.WithRequestID(req.Context(), id)
		req = req.WithContext(ctx)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		logger := log.WithRequestID(r.logger, id)

		defer func() {
			if cause := recover(); cause != nil {
				logger.Error("panic in request handler",
					slog.Any("panic", cause),
					slog.String("method", req.Method),
					slog.String("path", req.URL.Path),
				)
				if !rec.wrote {
					httputil.WriteError(rec, http.StatusInternalServerError,
						internalErrorReason(id, cause))
				}
			}
			logger.Info("request completed",
				slog.String("method", req.Method),
				slog.String("path", req.URL.Path),
				slog.Int("status", rec.status),
				slog.Int64(log.DurationKey, time.Since(start).Milliseconds()),
			)
			metrics.RecordHTTPRequest(req.Method, rec.status, time.Since(start))
		}()

		next.ServeHTTP(rec, req)
	})
}

func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusRecorder captures the response status code for logs and metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func (w *statusRecorder) WriteHeader(code int) {
	if w.wrote {
		return
	}
	w.status = code
	w.wrote = true
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	w.wrote = true
	return w.ResponseWriter.Write(b)
}
