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
	"github.com/takt-io/takt/internal/metrics"
	"github.com/takt-io/takt/internal/model"
	"github.com/takt-io/takt/internal/storage"
	"github.com/takt-io/takt/internal/timeutil"
	"github.com/takt-io/takt/internal/trigger"
	"github.com/takt-io/takt/pkg/errors"
)

// TriggerHandler serves ad-hoc triggering of single partitions.
type TriggerHandler struct {
	workflows storage.WorkflowStore
	states    States
	logger    *slog.Logger
	newID     func(prefix string) string
}

// NewTriggerHandler creates a trigger handler.
func NewTriggerHandler(workflows storage.WorkflowStore, states States, logger *slog.Logger) *TriggerHandler {
	return &TriggerHandler{
		workflows: workflows,
		states:    states,
		logger:    logger,
		newID:     trigger.NewTriggerID,
	}
}

// RegisterRoutes registers trigger routes on the mux.
func (h *TriggerHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v3/trigger", h.handleTrigger)
}

// handleTrigger starts one partition immediately under a fresh adhoc
// trigger id. The partition must align with the workflow's schedule; the
// enabled flag is ignored since the operator asked explicitly.
func (h *TriggerHandler) handleTrigger(w http.ResponseWriter, r *http.Request) {
	var req TriggerRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	if err := req.validate(); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	id := model.WorkflowID{Component: req.Component, Name: req.Workflow}
	wf, err := h.workflows.Workflow(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	if wf.Config.Image == "" {
		writeDomainError(w, r, h.logger, &errors.ValidationError{
			Field:   "image",
			Message: "Workflow is missing docker image",
		})
		return
	}

	instant, err := timeutil.ParseParameter(req.Parameter)
	if err != nil {
		writeDomainError(w, r, h.logger, &errors.ValidationError{
			Field:   "parameter",
			Message: fmt.Sprintf("cannot parse parameter %s", req.Parameter),
		})
		return
	}
	aligned, err := timeutil.IsAligned(instant, wf.Schedule)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	if !aligned {
		writeDomainError(w, r, h.logger, &errors.ValidationError{
			Field:   "parameter",
			Message: "parameter not aligned with schedule",
		})
		return
	}

	wi := model.NewInstance(id, req.Parameter)
	triggerID := h.newID("adhoc")
	if err := h.states.Receive(r.Context(), model.TriggerExecution(wi, triggerID, req.TriggerParameters)); err != nil {
		var illegal *errors.IllegalTransitionError
		if errors.As(err, &illegal) {
			httputil.WriteError(w, http.StatusConflict,
				fmt.Sprintf("workflow instance already triggered: %s", wi))
			return
		}
		writeDomainError(w, r, h.logger, err)
		return
	}

	metrics.RecordTrigger("adhoc")
	h.logger.Info("triggered instance",
		log.String(log.ComponentKey, wi.Component),
		log.String(log.WorkflowKey, wi.Name),
		log.String(log.ParameterKey, wi.Parameter),
		log.String(log.TriggerKey, triggerID),
	)
	httputil.WriteJSON(w, http.StatusOK, TriggerResponse{TriggerID: triggerID})
}

func (r TriggerRequest) validate() error {
	if r.Component == "" {
		return &errors.ValidationError{Field: "component", Message: "component must not be empty"}
	}
	if r.Workflow == "" {
		return &errors.ValidationError{Field: "workflow", Message: "workflow must not be empty"}
	}
	if r.Parameter == "" {
		return &errors.ValidationError{Field: "parameter", Message: "parameter must not be empty"}
	}
	return nil
}
