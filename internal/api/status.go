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
	"net/http"
	"sort"

	"github.com/takt-io/takt/internal/httputil"
	"github.com/takt-io/takt/internal/state"
)

// StatusHandler serves the live run-state snapshot.
type StatusHandler struct {
	states States
}

// NewStatusHandler creates a status handler.
func NewStatusHandler(states States) *StatusHandler {
	return &StatusHandler{states: states}
}

// RegisterRoutes registers status routes on the mux.
func (h *StatusHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v3/status", h.handleStatus)
}

// handleStatus returns every active instance's run state, optionally
// narrowed by component and workflow. The snapshot is taken from memory,
// so it reflects the manager's view at this instant.
func (h *StatusHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	component := q.Get("component")
	workflow := q.Get("workflow")

	snapshot := h.states.ActiveStates()
	states := make([]state.RunState, 0, len(snapshot))
	for wi, rs := range snapshot {
		if component != "" && wi.Component != component {
			continue
		}
		if workflow != "" && wi.Name != workflow {
			continue
		}
		states = append(states, rs)
	}
	sort.Slice(states, func(i, j int) bool {
		return states[i].Instance.String() < states[j].Instance.String()
	})

	httputil.WriteJSON(w, http.StatusOK, StatusesPayload{ActiveStates: states})
}
