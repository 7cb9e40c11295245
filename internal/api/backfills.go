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
	"log/slog"
	"net/http"

	"github.com/takt-io/takt/internal/httputil"
	"github.com/takt-io/takt/internal/model"
	"github.com/takt-io/takt/internal/storage"
	"github.com/takt-io/takt/internal/trigger"
)

// BackfillHandler serves the backfill lifecycle: create, list, inspect,
// edit, and halt.
type BackfillHandler struct {
	service *trigger.Backfills
	store   storage.BackfillStore
	logger  *slog.Logger
}

// NewBackfillHandler creates a backfill handler.
func NewBackfillHandler(service *trigger.Backfills, store storage.BackfillStore, logger *slog.Logger) *BackfillHandler {
	return &BackfillHandler{service: service, store: store, logger: logger}
}

// RegisterRoutes registers backfill routes on the mux.
func (h *BackfillHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v3/backfills", h.handleList)
	mux.HandleFunc("POST /api/v3/backfills", h.handleCreate)
	mux.HandleFunc("GET /api/v3/backfills/{id}", h.handleGet)
	mux.HandleFunc("PUT /api/v3/backfills/{id}", h.handleUpdate)
	mux.HandleFunc("DELETE /api/v3/backfills/{id}", h.handleHalt)
}

// handleList returns backfills, optionally filtered by component and
// workflow. Halted and exhausted backfills are hidden unless showAll is
// set; per-partition statuses are attached only when status=true, since
// they cost an event-log replay per done partition.
func (h *BackfillHandler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	component := q.Get("component")
	workflow := q.Get("workflow")
	includeStatuses := q.Get("status") == "true"

	filter := storage.BackfillFilter{ShowAll: q.Get("showAll") == "true"}
	if component != "" && workflow != "" {
		filter.Workflow = model.WorkflowID{Component: component, Name: workflow}
	}

	backfills, err := h.store.Backfills(r.Context(), filter)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	payload := BackfillsPayload{Backfills: []BackfillPayload{}}
	for _, b := range backfills {
		if component != "" && b.Workflow.Component != component {
			continue
		}
		if workflow != "" && b.Workflow.Name != workflow {
			continue
		}
		p := BackfillPayload{Backfill: b}
		if includeStatuses {
			statuses, err := h.service.Status(r.Context(), b)
			if err != nil {
				writeDomainError(w, r, h.logger, err)
				return
			}
			p.Statuses = &StatusesPayload{ActiveStates: statuses}
		}
		payload.Backfills = append(payload.Backfills, p)
	}

	httputil.WriteJSON(w, http.StatusOK, payload)
}

func (h *BackfillHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	allowFuture := r.URL.Query().Get("allowFuture") == "true"

	var in model.BackfillInput
	if err := httputil.ReadJSON(r, &in); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	b, err := h.service.Create(r.Context(), in, allowFuture)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, b)
}

// handleGet returns one backfill. Statuses are attached unless status=false.
func (h *BackfillHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	includeStatuses := r.URL.Query().Get("status") != "false"

	b, err := h.store.Backfill(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	payload := BackfillPayload{Backfill: *b}
	if includeStatuses {
		statuses, err := h.service.Status(r.Context(), *b)
		if err != nil {
			writeDomainError(w, r, h.logger, err)
			return
		}
		payload.Statuses = &StatusesPayload{ActiveStates: statuses}
	}

	httputil.WriteJSON(w, http.StatusOK, payload)
}

func (h *BackfillHandler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var in model.EditableBackfillInput
	if err := httputil.ReadJSON(r, &in); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	b, err := h.service.Update(r.Context(), r.PathValue("id"), in)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, b)
}

// handleHalt stops a backfill. The backfill is marked halted even when some
// live instances cannot be reached, so no new partitions start either way.
func (h *BackfillHandler) handleHalt(w http.ResponseWriter, r *http.Request) {
	failed, err := h.service.Halt(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	if len(failed) > 0 {
		httputil.WriteError(w, http.StatusInternalServerError,
			"some active instances cannot be halted, however no new ones will be triggered")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
