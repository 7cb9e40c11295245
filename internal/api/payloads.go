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
	"github.com/takt-io/takt/internal/model"
	"github.com/takt-io/takt/internal/state"
)

// BackfillPayload pairs a backfill with the run state of each partition in
// its range, when statuses were requested.
type BackfillPayload struct {
	Backfill model.Backfill   `json:"backfill"`
	Statuses *StatusesPayload `json:"statuses,omitempty"`
}

// BackfillsPayload is the list envelope for backfill queries.
type BackfillsPayload struct {
	Backfills []BackfillPayload `json:"backfills"`
}

// StatusesPayload lists run states, one per workflow instance.
type StatusesPayload struct {
	ActiveStates []state.RunState `json:"activeStates"`
}

// TriggerRequest asks for an immediate one-off trigger of a single
// partition.
type TriggerRequest struct {
	Component         string                   `json:"component"`
	Workflow          string                   `json:"workflow"`
	Parameter         string                   `json:"parameter"`
	TriggerParameters *model.TriggerParameters `json:"triggerParameters,omitempty"`
}

// TriggerResponse reports the trigger id minted for an ad-hoc trigger.
type TriggerResponse struct {
	TriggerID string `json:"triggerId"`
}

// EventsPayload is the event-log envelope for one workflow instance.
type EventsPayload struct {
	Events []model.SequencedEvent `json:"events"`
}

// WorkflowInput is the payload for registering a workflow over HTTP. The
// workflow id comes from the request path.
type WorkflowInput struct {
	Schedule model.Schedule       `json:"schedule"`
	Config   model.WorkflowConfig `json:"config"`
}

// WorkflowStatePatch flips parts of a workflow's scheduling state. Absent
// fields are left untouched.
type WorkflowStatePatch struct {
	Enabled *bool `json:"enabled"`
}
