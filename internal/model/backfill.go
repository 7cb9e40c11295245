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

package model

import "time"

// BackfillIDPrefix starts every generated backfill id.
const BackfillIDPrefix = "backfill-"

// Backfill is a bounded re-run of a workflow over [Start, End). NextTrigger
// is the cursor: the next partition instant to trigger, moving from Start
// towards End (or from the last partition towards Start when Reverse). Once
// every partition has been triggered AllTriggered is set and the cursor rests
// at End (or at Start minus one partition when Reverse).
type Backfill struct {
	ID          string     `json:"id"`
	Workflow    WorkflowID `json:"workflow"`
	Start       time.Time  `json:"start"`
	End         time.Time  `json:"end"`
	Schedule    Schedule   `json:"schedule"`
	Concurrency int        `json:"concurrency"`
	NextTrigger time.Time  `json:"nextTrigger"`

	Description       string             `json:"description,omitempty"`
	TriggerParameters *TriggerParameters `json:"triggerParameters,omitempty"`

	Reverse      bool      `json:"reverse"`
	AllTriggered bool      `json:"allTriggered"`
	Halted       bool      `json:"halted"`
	Created      time.Time `json:"created"`
}

// Active reports whether the backfill can still trigger new partitions.
func (b Backfill) Active() bool {
	return !b.Halted && !b.AllTriggered
}

// BackfillInput is the request payload for creating a backfill.
type BackfillInput struct {
	Component         string             `json:"component"`
	Workflow          string             `json:"workflow"`
	Start             time.Time          `json:"start"`
	End               time.Time          `json:"end"`
	Concurrency       int                `json:"concurrency"`
	Description       string             `json:"description,omitempty"`
	Reverse           bool               `json:"reverse,omitempty"`
	TriggerParameters *TriggerParameters `json:"triggerParameters,omitempty"`
}

// WorkflowID returns the workflow the input addresses.
func (in BackfillInput) WorkflowID() WorkflowID {
	return WorkflowID{Component: in.Component, Name: in.Workflow}
}

// EditableBackfillInput is the request payload for updating a backfill. Only
// concurrency and description can change after creation; nil means keep.
type EditableBackfillInput struct {
	ID          string  `json:"id,omitempty"`
	Concurrency *int    `json:"concurrency,omitempty"`
	Description *string `json:"description,omitempty"`
}
