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

package errors

import (
	"fmt"
	"time"
)

// ValidationError rejects user input: a malformed workflow definition,
// a backfill range that does not align with the schedule, a bad query
// parameter. Never retryable.
type ValidationError struct {
	// Field names the offending input field, empty when the failure
	// spans fields.
	Field string

	Message string

	// Hint carries actionable guidance for fixing the input, shown to
	// users alongside the message.
	Hint string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// ErrorType implements ErrorClassifier.
func (e *ValidationError) ErrorType() string { return "validation" }

// IsRetryable implements ErrorClassifier.
func (e *ValidationError) IsRetryable() bool { return false }

// IsUserVisible implements UserVisibleError. Validation failures describe
// the user's own input and are always shown.
func (e *ValidationError) IsUserVisible() bool { return true }

// UserMessage implements UserVisibleError.
func (e *ValidationError) UserMessage() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

// Suggestion implements UserVisibleError.
func (e *ValidationError) Suggestion() string { return e.Hint }

// NotFoundError reports a missing resource: a workflow, backfill or
// instance addressed by an id that storage has no row for.
type NotFoundError struct {
	// Resource is the kind of thing that was looked up, lowercase
	// ("workflow", "backfill", "instance").
	Resource string

	// ID is the identifier the lookup used.
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrorType implements ErrorClassifier.
func (e *NotFoundError) ErrorType() string { return "not_found" }

// IsRetryable implements ErrorClassifier.
func (e *NotFoundError) IsRetryable() bool { return false }

// ConflictError is an optimistic concurrency failure: a writer lost the
// race on an instance's event log. Callers should re-read and retry.
type ConflictError struct {
	// Resource is the contended resource (e.g., "event log")
	Resource string

	// ID identifies the contended entity, typically a workflow instance
	ID string

	// Expected is the counter the writer assumed
	Expected int64

	// Actual is the counter found in storage
	Actual int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s conflict on %s: expected counter %d, found %d",
		e.Resource, e.ID, e.Expected, e.Actual)
}

// ErrorType implements ErrorClassifier.
func (e *ConflictError) ErrorType() string { return "conflict" }

// IsRetryable implements ErrorClassifier. Conflicts resolve by re-reading
// the contended state and retrying.
func (e *ConflictError) IsRetryable() bool { return true }

// IllegalTransitionError reports an event that the run-state machine
// cannot apply in the instance's current state.
type IllegalTransitionError struct {
	// State is the current run state name
	State string

	// Event is the rejected event, rendered as type(instance)
	Event string
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal transition: %s not valid in state %s", e.Event, e.State)
}

// ErrorType implements ErrorClassifier.
func (e *IllegalTransitionError) ErrorType() string { return "illegal_transition" }

// IsRetryable implements ErrorClassifier. The machine rejected the event
// for its current state; retrying the same event cannot succeed.
func (e *IllegalTransitionError) IsRetryable() bool { return false }

// RunnerError is a failure from an execution backend while submitting,
// polling or halting a container run.
type RunnerError struct {
	// Runner is the name of the backend (e.g., "local", "gke").
	Runner string

	// ExecutionID correlates this error with an execution.
	ExecutionID string

	Message string

	// Fatal marks failures no retry can fix, such as a rejected
	// execution description.
	Fatal bool

	// Cause is the underlying error.
	Cause error
}

func (e *RunnerError) Error() string {
	msg := fmt.Sprintf("runner %s error", e.Runner)

	if e.ExecutionID != "" {
		msg = fmt.Sprintf("%s (execution %s)", msg, e.ExecutionID)
	}

	return fmt.Sprintf("%s: %s", msg, e.Message)
}

// Unwrap exposes the cause to Is and As.
func (e *RunnerError) Unwrap() error {
	return e.Cause
}

// ErrorType implements ErrorClassifier.
func (e *RunnerError) ErrorType() string { return "runner" }

// IsRetryable implements ErrorClassifier.
func (e *RunnerError) IsRetryable() bool { return !e.Fatal }

// ConfigError rejects the daemon's configuration: an unreadable file,
// a missing required key, a value outside its range.
type ConfigError struct {
	// Key is the dotted configuration key at fault
	// (e.g., "storage.path", "http.listen_addr").
	Key string

	// Reason says what is wrong with the value.
	Reason string

	// Cause is the underlying error, such as a parse failure.
	Cause error
}

func (e *ConfigError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("config error at %s: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("config error: %s", e.Reason)
}

// Unwrap exposes the cause to Is and As.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// ErrorType implements ErrorClassifier.
func (e *ConfigError) ErrorType() string { return "config" }

// IsRetryable implements ErrorClassifier.
func (e *ConfigError) IsRetryable() bool { return false }

// TimeoutError reports an operation that ran past its deadline.
type TimeoutError struct {
	// Operation says what timed out (e.g., "runner submission",
	// "storage read").
	Operation string

	// Duration is how long the operation ran.
	Duration time.Duration

	// Cause is the underlying error, usually context.DeadlineExceeded.
	Cause error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s operation timed out after %v", e.Operation, e.Duration)
}

// Unwrap exposes the cause to Is and As.
func (e *TimeoutError) Unwrap() error {
	return e.Cause
}

// ErrorType implements ErrorClassifier.
func (e *TimeoutError) ErrorType() string { return "timeout" }

// IsRetryable implements ErrorClassifier.
func (e *TimeoutError) IsRetryable() bool { return true }

var (
	_ ErrorClassifier = (*ValidationError)(nil)
	_ ErrorClassifier = (*NotFoundError)(nil)
	_ ErrorClassifier = (*ConflictError)(nil)
	_ ErrorClassifier = (*IllegalTransitionError)(nil)
	_ ErrorClassifier = (*RunnerError)(nil)
	_ ErrorClassifier = (*ConfigError)(nil)
	_ ErrorClassifier = (*TimeoutError)(nil)

	_ UserVisibleError = (*ValidationError)(nil)
)

// TypeOf returns err's classified category, or "internal" when no error in
// the tree carries a classification.
func TypeOf(err error) string {
	var c ErrorClassifier
	if As(err, &c) {
		return c.ErrorType()
	}
	return "internal"
}

// Retryable reports whether err is worth retrying. Unclassified errors are
// treated as retryable, matching how transient storage trouble surfaces.
func Retryable(err error) bool {
	var c ErrorClassifier
	if As(err, &c) {
		return c.IsRetryable()
	}
	return true
}
