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

import (
	"fmt"
	"strings"
)

// EventType enumerates every event the run-state machine understands.
type EventType string

const (
	// EventTimeTrigger is the legacy natural trigger event. It behaves like
	// a triggerExecution with the well-known natural trigger id.
	EventTimeTrigger EventType = "timeTrigger"
	// EventTriggerExecution starts the lifecycle of an instance.
	EventTriggerExecution EventType = "triggerExecution"
	// EventDequeue releases a queued instance towards submission.
	EventDequeue EventType = "dequeue"
	// EventSubmit carries the resolved execution description and fresh
	// execution id into SUBMITTING.
	EventSubmit EventType = "submit"
	// EventSubmitted acknowledges that the runner accepted the submission.
	EventSubmitted EventType = "submitted"
	// EventCreated is the legacy form of submitted, carrying the execution id.
	EventCreated EventType = "created"
	// EventStarted reports that the container began running.
	EventStarted EventType = "started"
	// EventTerminate reports container termination with an exit code.
	EventTerminate EventType = "terminate"
	// EventRunError reports an execution error with a message.
	EventRunError EventType = "runError"
	// EventSuccess marks the instance as successfully completed.
	EventSuccess EventType = "success"
	// EventRetryAfter schedules a retry after the given delay.
	EventRetryAfter EventType = "retryAfter"
	// EventRetry re-enqueues an instance whose retry delay has elapsed.
	EventRetry EventType = "retry"
	// EventStop gives up on an instance, driving it to the terminal ERROR.
	EventStop EventType = "stop"
	// EventTimeout expires an instance that has been stale for too long.
	EventTimeout EventType = "timeout"
	// EventHalt abandons an instance without recording an error, removing it
	// from the active set.
	EventHalt EventType = "halt"
	// EventInfo attaches an informational message to a running instance.
	EventInfo EventType = "info"
)

// NaturalTriggerID is the trigger id recorded for schedule-driven triggers.
// Ad-hoc and backfill triggers carry their own ids.
const NaturalTriggerID = "natural-trigger"

// Event is one occurrence in the life of a workflow instance. Type selects
// which of the payload fields are meaningful; the rest are zero. Events
// round-trip through JSON for the event log.
type Event struct {
	Type     EventType        `json:"type"`
	Instance WorkflowInstance `json:"instance"`

	TriggerID            string                `json:"triggerId,omitempty"`
	TriggerParameters    *TriggerParameters    `json:"triggerParameters,omitempty"`
	ExecutionID          string                `json:"executionId,omitempty"`
	ExecutionDescription *ExecutionDescription `json:"executionDescription,omitempty"`
	ExitCode             *int                  `json:"exitCode,omitempty"`
	Message              string                `json:"message,omitempty"`
	DelayMillis          int64                 `json:"delayMillis,omitempty"`
}

// TimeTrigger creates the legacy natural trigger event.
func TimeTrigger(wi WorkflowInstance) Event {
	return Event{Type: EventTimeTrigger, Instance: wi}
}

// TriggerExecution creates the event that starts an instance lifecycle.
func TriggerExecution(wi WorkflowInstance, triggerID string, params *TriggerParameters) Event {
	return Event{Type: EventTriggerExecution, Instance: wi, TriggerID: triggerID, TriggerParameters: params}
}

// Dequeue releases a queued instance for submission.
func Dequeue(wi WorkflowInstance) Event {
	return Event{Type: EventDequeue, Instance: wi}
}

// Submit carries the execution description and execution id into SUBMITTING.
func Submit(wi WorkflowInstance, desc ExecutionDescription, executionID string) Event {
	d := desc
	return Event{Type: EventSubmit, Instance: wi, ExecutionDescription: &d, ExecutionID: executionID}
}

// Submitted acknowledges a runner submission.
func Submitted(wi WorkflowInstance, executionID string) Event {
	return Event{Type: EventSubmitted, Instance: wi, ExecutionID: executionID}
}

// Created is the legacy spelling of Submitted.
func Created(wi WorkflowInstance, executionID string) Event {
	return Event{Type: EventCreated, Instance: wi, ExecutionID: executionID}
}

// Started reports that the container is running.
func Started(wi WorkflowInstance) Event {
	return Event{Type: EventStarted, Instance: wi}
}

// Terminate reports container exit. A nil exit code means the code could not
// be determined and is treated as a failure.
func Terminate(wi WorkflowInstance, exitCode *int) Event {
	return Event{Type: EventTerminate, Instance: wi, ExitCode: exitCode}
}

// RunError reports an execution error.
func RunError(wi WorkflowInstance, message string) Event {
	return Event{Type: EventRunError, Instance: wi, Message: message}
}

// Success marks an instance as done.
func Success(wi WorkflowInstance) Event {
	return Event{Type: EventSuccess, Instance: wi}
}

// RetryAfter schedules a retry after delay milliseconds.
func RetryAfter(wi WorkflowInstance, delayMillis int64) Event {
	return Event{Type: EventRetryAfter, Instance: wi, DelayMillis: delayMillis}
}

// Retry re-enqueues an instance in AWAITING_RETRY.
func Retry(wi WorkflowInstance) Event {
	return Event{Type: EventRetry, Instance: wi}
}

// Stop abandons an instance, driving it to ERROR.
func Stop(wi WorkflowInstance) Event {
	return Event{Type: EventStop, Instance: wi}
}

// Timeout expires a stale instance.
func Timeout(wi WorkflowInstance) Event {
	return Event{Type: EventTimeout, Instance: wi}
}

// Halt abandons an instance without error.
func Halt(wi WorkflowInstance) Event {
	return Event{Type: EventHalt, Instance: wi}
}

// Info attaches a message to a running instance without changing state.
func Info(wi WorkflowInstance, message string) Event {
	return Event{Type: EventInfo, Instance: wi, Message: message}
}

// String renders the event the way it appears in transition logs:
// type(instance)[payload].
func (e Event) String() string {
	var payload []string
	switch e.Type {
	case EventTriggerExecution:
		payload = append(payload, e.TriggerID)
	case EventSubmit:
		if e.ExecutionDescription != nil {
			payload = append(payload, e.ExecutionDescription.Image)
		}
		payload = append(payload, e.ExecutionID)
	case EventSubmitted, EventCreated:
		payload = append(payload, e.ExecutionID)
	case EventTerminate:
		if e.ExitCode != nil {
			payload = append(payload, fmt.Sprintf("%d", *e.ExitCode))
		} else {
			payload = append(payload, "-")
		}
	case EventRunError, EventInfo:
		payload = append(payload, e.Message)
	case EventRetryAfter:
		payload = append(payload, fmt.Sprintf("%dms", e.DelayMillis))
	}
	if len(payload) == 0 {
		return fmt.Sprintf("%s(%s)", e.Type, e.Instance)
	}
	return fmt.Sprintf("%s(%s, %s)", e.Type, e.Instance, strings.Join(payload, ", "))
}

// KnownEventType reports whether t is one of the event types the state
// machine understands.
func KnownEventType(t EventType) bool {
	switch t {
	case EventTimeTrigger, EventTriggerExecution, EventDequeue, EventSubmit,
		EventSubmitted, EventCreated, EventStarted, EventTerminate,
		EventRunError, EventSuccess, EventRetryAfter, EventRetry,
		EventStop, EventTimeout, EventHalt, EventInfo:
		return true
	}
	return false
}

// SequencedEvent is an event as persisted in the event log, stamped with its
// per-instance counter and wall-clock time.
type SequencedEvent struct {
	Event     Event `json:"event"`
	Counter   int64 `json:"counter"`
	Timestamp int64 `json:"timestamp"`
}
