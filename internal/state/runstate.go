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

// Package state drives workflow instances through their run lifecycle.
//
// The core is a pure transition function over (RunState, Event). Everything
// stateful sits in Manager, which serializes events per instance, persists
// them to the event log and fans completed transitions out to output
// handlers. Replay rebuilds RunStates from the log after a restart.
package state

import (
	"time"

	"github.com/takt-io/takt/internal/model"
	"github.com/takt-io/takt/pkg/errors"
)

// State names one position in the run lifecycle.
type State string

const (
	StateNew           State = "NEW"
	StateQueued        State = "QUEUED"
	StatePrepare       State = "PREPARE"
	StateSubmitting    State = "SUBMITTING"
	StateSubmitted     State = "SUBMITTED"
	StateRunning       State = "RUNNING"
	StateTerminated    State = "TERMINATED"
	StateFailed        State = "FAILED"
	StateError         State = "ERROR"
	StateAwaitingRetry State = "AWAITING_RETRY"
	StateDone          State = "DONE"

	// StateWaiting and StateUnknown are reporting pseudo-states used when
	// describing backfill progress. The machine itself never holds them:
	// WAITING marks partitions not yet triggered, UNKNOWN partitions whose
	// history could not be reconstructed.
	StateWaiting State = "WAITING"
	StateUnknown State = "UNKNOWN"
)

// Terminal reports whether no further events are accepted in s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateError
}

// MissingDepsExitCode is the conventional exit code a container uses to
// signal that its input data is not yet available. Such exits are retried
// at a fraction of the usual cost so instances can wait out late data
// without exhausting their retry budget.
const MissingDepsExitCode = 20

const (
	costFailure     = 1.0
	costMissingDeps = 0.1
)

// MessageLevel grades messages attached to an instance.
type MessageLevel string

const (
	MessageInfo    MessageLevel = "INFO"
	MessageWarning MessageLevel = "WARNING"
	MessageError   MessageLevel = "ERROR"
)

// Message is one line of operator-visible history on an instance.
type Message struct {
	Level MessageLevel `json:"level"`
	Line  string       `json:"line"`
}

// InfoMessage creates an INFO level message.
func InfoMessage(line string) Message { return Message{Level: MessageInfo, Line: line} }

// WarningMessage creates a WARNING level message.
func WarningMessage(line string) Message { return Message{Level: MessageWarning, Line: line} }

// ErrorMessage creates an ERROR level message.
func ErrorMessage(line string) Message { return Message{Level: MessageError, Line: line} }

// StateData accumulates everything an instance has learned across its
// lifecycle: how it was triggered, what is executing it, and its retry
// history. It travels with the RunState and is rebuilt verbatim by replay.
type StateData struct {
	TriggerID            string                      `json:"triggerId,omitempty"`
	TriggerParameters    *model.TriggerParameters    `json:"triggerParameters,omitempty"`
	ExecutionID          string                      `json:"executionId,omitempty"`
	ExecutionDescription *model.ExecutionDescription `json:"executionDescription,omitempty"`
	Tries                int                         `json:"tries,omitempty"`
	RetryCost            float64                     `json:"retryCost,omitempty"`
	LastExit             *int                        `json:"lastExit,omitempty"`
	RetryDelayMillis     int64                       `json:"retryDelayMillis,omitempty"`
	Messages             []Message                   `json:"messages,omitempty"`
}

// withMessage returns a copy of d with m appended. The message slice is
// duplicated so successor states never alias a predecessor's history.
func (d StateData) withMessage(m Message) StateData {
	msgs := make([]Message, len(d.Messages), len(d.Messages)+1)
	copy(msgs, d.Messages)
	d.Messages = append(msgs, m)
	return d
}

// successExit reports whether exit counts as success, consulting the
// execution description's configured set when one was resolved.
func (d StateData) successExit(exit int) bool {
	if d.ExecutionDescription != nil {
		return d.ExecutionDescription.SuccessExit(exit)
	}
	return exit == 0
}

// RunState is the full condition of one workflow instance: its position in
// the lifecycle, accumulated data, the wall-clock time of the last applied
// event, and the counter of that event. Counter doubles as the optimistic
// concurrency token for the next append; a fresh instance carries -1.
type RunState struct {
	Instance  model.WorkflowInstance `json:"instance"`
	State     State                  `json:"state"`
	Data      StateData              `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
	Counter   int64                  `json:"counter"`
}

// Fresh returns the NEW base state for an instance whose last logged event
// counter is counter (-1 when the log is empty).
func Fresh(wi model.WorkflowInstance, counter int64) RunState {
	return RunState{Instance: wi, State: StateNew, Counter: counter}
}

// Transition applies ev to rs and returns the successor. It is a pure
// function of its inputs; the caller owns persisting the event and
// publishing the result. The successor's counter is rs.Counter+1 and its
// timestamp is at. Events not legal in the current state return
// IllegalTransitionError, as does any event on a terminal state.
func Transition(rs RunState, ev model.Event, at time.Time) (RunState, error) {
	if rs.State.Terminal() {
		return RunState{}, illegal(rs, ev)
	}

	next := func(s State, data StateData) (RunState, error) {
		return RunState{
			Instance:  rs.Instance,
			State:     s,
			Data:      data,
			Timestamp: at,
			Counter:   rs.Counter + 1,
		}, nil
	}

	switch ev.Type {
	// Events accepted in every non-terminal state.
	case model.EventInfo:
		return next(rs.State, rs.Data.withMessage(InfoMessage(ev.Message)))

	case model.EventHalt:
		return next(StateDone, rs.Data)

	case model.EventTimeout:
		return next(StateFailed, rs.Data)

	case model.EventTriggerExecution:
		if rs.State != StateNew {
			return RunState{}, illegal(rs, ev)
		}
		data := rs.Data
		data.TriggerID = ev.TriggerID
		data.TriggerParameters = ev.TriggerParameters
		return next(StateQueued, data)

	case model.EventTimeTrigger:
		// Legacy trigger, skips the queue and submission phases.
		if rs.State != StateNew {
			return RunState{}, illegal(rs, ev)
		}
		data := rs.Data
		data.TriggerID = model.NaturalTriggerID
		return next(StateSubmitted, data)

	case model.EventDequeue:
		if rs.State != StateQueued {
			return RunState{}, illegal(rs, ev)
		}
		return next(StatePrepare, rs.Data)

	case model.EventSubmit:
		if rs.State != StatePrepare {
			return RunState{}, illegal(rs, ev)
		}
		data := rs.Data
		data.ExecutionDescription = ev.ExecutionDescription
		data.ExecutionID = ev.ExecutionID
		return next(StateSubmitting, data)

	case model.EventSubmitted, model.EventCreated:
		if rs.State != StateSubmitting {
			return RunState{}, illegal(rs, ev)
		}
		data := rs.Data
		if ev.ExecutionID != "" {
			data.ExecutionID = ev.ExecutionID
		}
		return next(StateSubmitted, data)

	case model.EventStarted:
		if rs.State != StateSubmitted {
			return RunState{}, illegal(rs, ev)
		}
		return next(StateRunning, rs.Data)

	case model.EventTerminate:
		if rs.State != StateRunning {
			return RunState{}, illegal(rs, ev)
		}
		data := rs.Data
		data.Tries++
		if ev.ExitCode == nil {
			// The runner lost the exit code; treat as a plain failure.
			data.LastExit = nil
			data.RetryCost += costFailure
			return next(StateFailed, data)
		}
		exit := *ev.ExitCode
		data.LastExit = &exit
		if data.successExit(exit) {
			return next(StateDone, data)
		}
		if exit == MissingDepsExitCode {
			data.RetryCost += costMissingDeps
		} else {
			data.RetryCost += costFailure
		}
		return next(StateTerminated, data)

	case model.EventSuccess:
		if rs.State != StateRunning {
			return RunState{}, illegal(rs, ev)
		}
		return next(StateDone, rs.Data)

	case model.EventRunError:
		switch rs.State {
		case StateQueued, StatePrepare, StateSubmitting, StateSubmitted, StateRunning:
			data := rs.Data.withMessage(ErrorMessage(ev.Message))
			data.Tries++
			data.RetryCost += costFailure
			return next(StateFailed, data)
		}
		return RunState{}, illegal(rs, ev)

	case model.EventRetryAfter:
		if rs.State != StateTerminated && rs.State != StateFailed {
			return RunState{}, illegal(rs, ev)
		}
		data := rs.Data
		data.RetryDelayMillis = ev.DelayMillis
		return next(StateAwaitingRetry, data)

	case model.EventStop:
		if rs.State != StateTerminated && rs.State != StateFailed {
			return RunState{}, illegal(rs, ev)
		}
		return next(StateError, rs.Data)

	case model.EventRetry:
		if rs.State != StateAwaitingRetry {
			return RunState{}, illegal(rs, ev)
		}
		return next(StateQueued, rs.Data)
	}

	return RunState{}, illegal(rs, ev)
}

func illegal(rs RunState, ev model.Event) error {
	return &errors.IllegalTransitionError{
		State: string(rs.State),
		Event: ev.String(),
	}
}
