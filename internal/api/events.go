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

package api

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/takt-io/takt/internal/httputil"
	"github.com/takt-io/takt/internal/log"
	"github.com/takt-io/takt/internal/model"
	"github.com/takt-io/takt/internal/storage"
	"github.com/takt-io/takt/pkg/errors"
)

// EventHandler serves event injection and event-log reads.
type EventHandler struct {
	states States
	events storage.EventLog
	logger *slog.Logger
}

// NewEventHandler creates an event handler.
func NewEventHandler(states States, events storage.EventLog, logger *slog.Logger) *EventHandler {
	return &EventHandler{states: states, events: events, logger: logger}
}

// RegisterRoutes registers event routes on the mux.
func (h *EventHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v3/events", h.handleInject)
	mux.HandleFunc("GET /api/v3/events/{component}/{workflow}/{parameter}", h.handleList)
}

// handleInject feeds an operator-supplied event into the state machine,
// e.g. retry, halt, or timeout. The machine decides whether the event is
// legal for the instance's current state.
func (h *EventHandler) handleInject(w http.ResponseWriter, r *http.Request) {
	var ev model.Event
	if err := httputil.ReadJSON(r, &ev); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	if !model.KnownEventType(ev.Type) {
		writeDomainError(w, r, h.logger, &errors.ValidationError{
			Field:   "type",
			Message: fmt.Sprintf("unknown event type: %s", ev.Type),
		})
		return
	}
	if ev.Instance.Component == "" || ev.Instance.Name == "" || ev.Instance.Parameter == "" {
		writeDomainError(w, r, h.logger, &errors.ValidationError{
			Field:   "instance",
			Message: "event must name a workflow instance",
		})
		return
	}

	if err := h.states.Receive(r.Context(), ev); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	h.logger.Info("injected event",
		log.String(log.EventKey, string(ev.Type)),
		log.String(log.ComponentKey, ev.Instance.Component),
		log.String(log.WorkflowKey, ev.Instance.Name),
		log.String(log.ParameterKey, ev.Instance.Parameter),
	)
	httputil.WriteJSON(w, http.StatusAccepted, ev)
}

// handleList returns the full event history of one instance in counter
// order. Instances with no history yet, including waiting backfill
// partitions, produce a 404.
func (h *EventHandler) handleList(w http.ResponseWriter, r *http.Request) {
	wi := model.NewInstance(
		model.WorkflowID{Component: r.PathValue("component"), Name: r.PathValue("workflow")},
		r.PathValue("parameter"),
	)

	events, err := h.events.Events(r.Context(), wi)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	if len(events) == 0 {
		writeDomainError(w, r, h.logger, &errors.NotFoundError{
			Resource: "workflow instance",
			ID:       wi.String(),
		})
		return
	}

	httputil.WriteJSON(w, http.StatusOK, EventsPayload{Events: events})
}
