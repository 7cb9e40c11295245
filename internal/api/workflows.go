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
	"sort"
	"time"

	"github.com/takt-io/takt/internal/httputil"
	"github.com/takt-io/takt/internal/log"
	"github.com/takt-io/takt/internal/model"
	"github.com/takt-io/takt/internal/storage"
	"github.com/takt-io/takt/internal/timeutil"
	"github.com/takt-io/takt/internal/trigger"
	"github.com/takt-io/takt/pkg/errors"
)

// WorkflowHandler serves workflow registration and scheduling state.
type WorkflowHandler struct {
	store  storage.WorkflowStore
	now    func() time.Time
	logger *slog.Logger
}

// NewWorkflowHandler creates a workflow handler.
func NewWorkflowHandler(store storage.WorkflowStore, now func() time.Time, logger *slog.Logger) *WorkflowHandler {
	return &WorkflowHandler{store: store, now: now, logger: logger}
}

// RegisterRoutes registers workflow routes on the mux.
func (h *WorkflowHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v3/workflows", h.handleListAll)
	mux.HandleFunc("GET /api/v3/workflows/{component}", h.handleListComponent)
	mux.HandleFunc("GET /api/v3/workflows/{component}/{workflow}", h.handleGet)
	mux.HandleFunc("PUT /api/v3/workflows/{component}/{workflow}", h.handleRegister)
	mux.HandleFunc("DELETE /api/v3/workflows/{component}/{workflow}", h.handleDelete)
	mux.HandleFunc("GET /api/v3/workflows/{component}/{workflow}/state", h.handleGetState)
	mux.HandleFunc("PATCH /api/v3/workflows/{component}/{workflow}/state", h.handlePatchState)
}

func (h *WorkflowHandler) handleListAll(w http.ResponseWriter, r *http.Request) {
	workflows, err := h.store.Workflows(r.Context())
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	sortWorkflows(workflows)
	httputil.WriteJSON(w, http.StatusOK, workflows)
}

func (h *WorkflowHandler) handleListComponent(w http.ResponseWriter, r *http.Request) {
	component := r.PathValue("component")

	all, err := h.store.Workflows(r.Context())
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	workflows := make([]model.Workflow, 0, len(all))
	for _, wf := range all {
		if wf.ID.Component == component {
			workflows = append(workflows, wf)
		}
	}
	sortWorkflows(workflows)
	httputil.WriteJSON(w, http.StatusOK, workflows)
}

func (h *WorkflowHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	wf, err := h.store.Workflow(r.Context(), pathWorkflowID(r))
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, wf)
}

// handleRegister creates or replaces a workflow definition. A new workflow
// starts disabled with its natural trigger cursor at the next aligned
// instant; replacing one keeps its state unless the schedule changed.
func (h *WorkflowHandler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var in WorkflowInput
	if err := httputil.ReadJSON(r, &in); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	if err := validateSchedule(in.Schedule); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	wf := model.Workflow{
		ID:       pathWorkflowID(r),
		Schedule: in.Schedule,
		Config:   in.Config,
	}
	if err := trigger.RegisterWorkflow(r.Context(), h.store, wf, h.now()); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	h.logger.Info("registered workflow",
		log.String(log.ComponentKey, wf.ID.Component),
		log.String(log.WorkflowKey, wf.ID.Name),
		log.String("schedule", wf.Schedule.String()),
	)
	httputil.WriteJSON(w, http.StatusOK, wf)
}

func (h *WorkflowHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := pathWorkflowID(r)
	if _, err := h.store.Workflow(r.Context(), id); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	if err := h.store.DeleteWorkflow(r.Context(), id); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	h.logger.Info("deleted workflow",
		log.String(log.ComponentKey, id.Component),
		log.String(log.WorkflowKey, id.Name),
	)
	w.WriteHeader(http.StatusNoContent)
}

func (h *WorkflowHandler) handleGetState(w http.ResponseWriter, r *http.Request) {
	st, err := h.store.WorkflowState(r.Context(), pathWorkflowID(r))
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, st)
}

func (h *WorkflowHandler) handlePatchState(w http.ResponseWriter, r *http.Request) {
	var patch WorkflowStatePatch
	if err := httputil.ReadJSON(r, &patch); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	if patch.Enabled == nil {
		writeDomainError(w, r, h.logger, &errors.ValidationError{
			Field:   "enabled",
			Message: "enabled must be provided",
		})
		return
	}

	id := pathWorkflowID(r)
	if err := h.store.SetEnabled(r.Context(), id, *patch.Enabled); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	h.logger.Info("changed workflow state",
		log.String(log.ComponentKey, id.Component),
		log.String(log.WorkflowKey, id.Name),
		log.Bool("enabled", *patch.Enabled),
	)
	st, err := h.store.WorkflowState(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, st)
}

func pathWorkflowID(r *http.Request) model.WorkflowID {
	return model.WorkflowID{
		Component: r.PathValue("component"),
		Name:      r.PathValue("workflow"),
	}
}

func validateSchedule(s model.Schedule) error {
	if s == "" {
		return &errors.ValidationError{Field: "schedule", Message: "schedule must not be empty"}
	}
	if !s.WellKnown() {
		if _, err := timeutil.ParseCron(s.String()); err != nil {
			return &errors.ValidationError{
				Field:   "schedule",
				Message: "schedule is not a partitioning unit or cron expression",
			}
		}
	}
	return nil
}

func sortWorkflows(workflows []model.Workflow) {
	sort.Slice(workflows, func(i, j int) bool {
		if workflows[i].ID.Component != workflows[j].ID.Component {
			return workflows[i].ID.Component < workflows[j].ID.Component
		}
		return workflows[i].ID.Name < workflows[j].ID.Name
	})
}
