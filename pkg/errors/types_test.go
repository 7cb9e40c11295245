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

package errors_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/takt-io/takt/pkg/errors"
)

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "validation with field",
			err:  &errors.ValidationError{Field: "start", Message: "not aligned with the workflow schedule"},
			want: "validation failed on start: not aligned with the workflow schedule",
		},
		{
			name: "validation without field",
			err:  &errors.ValidationError{Message: "start must be before end"},
			want: "validation failed: start must be before end",
		},
		{
			name: "not found",
			err:  &errors.NotFoundError{Resource: "workflow", ID: "etl#nightly"},
			want: "workflow not found: etl#nightly",
		},
		{
			name: "counter conflict",
			err:  &errors.ConflictError{Resource: "event log", ID: "etl#nightly#2025-06-01", Expected: 4, Actual: 5},
			want: "event log conflict on etl#nightly#2025-06-01: expected counter 4, found 5",
		},
		{
			name: "illegal transition",
			err:  &errors.IllegalTransitionError{State: "QUEUED", Event: "started(etl#nightly#2025-06-01)"},
			want: "illegal transition: started(etl#nightly#2025-06-01) not valid in state QUEUED",
		},
		{
			name: "runner with execution id",
			err:  &errors.RunnerError{Runner: "gke", ExecutionID: "exec-7f3a", Message: "pod rejected by admission webhook"},
			want: "runner gke error (execution exec-7f3a): pod rejected by admission webhook",
		},
		{
			name: "runner before submission",
			err:  &errors.RunnerError{Runner: "local", Message: "docker daemon unreachable"},
			want: "runner local error: docker daemon unreachable",
		},
		{
			name: "config with key",
			err:  &errors.ConfigError{Key: "storage.path", Reason: "directory does not exist"},
			want: "config error at storage.path: directory does not exist",
		},
		{
			name: "config without key",
			err:  &errors.ConfigError{Reason: "empty configuration file"},
			want: "config error: empty configuration file",
		},
		{
			name: "timeout",
			err:  &errors.TimeoutError{Operation: "runner submission", Duration: 30 * time.Second},
			want: "runner submission operation timed out after 30s",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestCausesUnwrap(t *testing.T) {
	cause := errors.New("connection refused")

	tests := []struct {
		name string
		err  error
	}{
		{name: "runner", err: &errors.RunnerError{Runner: "local", Message: "submission failed", Cause: cause}},
		{name: "config", err: &errors.ConfigError{Key: "storage.path", Reason: "unreadable", Cause: cause}},
		{name: "timeout", err: &errors.TimeoutError{Operation: "storage read", Duration: time.Second, Cause: cause}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.err, cause)
		})
	}
}

// Classification drives retry decisions and the failure-reason label on
// event metrics, so each type's category and retryability are pinned here.
func TestClassification(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantType      string
		wantRetryable bool
	}{
		{name: "validation", err: &errors.ValidationError{Message: "bad input"}, wantType: "validation", wantRetryable: false},
		{name: "not found", err: &errors.NotFoundError{Resource: "backfill", ID: "backfill-1"}, wantType: "not_found", wantRetryable: false},
		{name: "conflict", err: &errors.ConflictError{Resource: "event log"}, wantType: "conflict", wantRetryable: true},
		{name: "illegal transition", err: &errors.IllegalTransitionError{State: "DONE"}, wantType: "illegal_transition", wantRetryable: false},
		{name: "runner transient", err: &errors.RunnerError{Runner: "local"}, wantType: "runner", wantRetryable: true},
		{name: "runner fatal", err: &errors.RunnerError{Runner: "local", Fatal: true}, wantType: "runner", wantRetryable: false},
		{name: "config", err: &errors.ConfigError{Key: "auth.secret"}, wantType: "config", wantRetryable: false},
		{name: "timeout", err: &errors.TimeoutError{Operation: "poll"}, wantType: "timeout", wantRetryable: true},
		{name: "classified through wrapping", err: errors.Wrap(&errors.ConflictError{}, "applying event"), wantType: "conflict", wantRetryable: true},
		{name: "unclassified", err: errors.New("boom"), wantType: "internal", wantRetryable: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantType, errors.TypeOf(tt.err))
			assert.Equal(t, tt.wantRetryable, errors.Retryable(tt.err))
		})
	}
}

func TestValidationErrorUserFacing(t *testing.T) {
	err := &errors.ValidationError{
		Field:   "schedule",
		Message: "not a partitioning unit or cron expression",
		Hint:    "use hours, days, weeks, months, years or a cron expression",
	}
	assert.True(t, err.IsUserVisible())
	assert.Equal(t, "schedule: not a partitioning unit or cron expression", err.UserMessage())
	assert.Equal(t, "use hours, days, weeks, months, years or a cron expression", err.Suggestion())

	bare := &errors.ValidationError{Message: "start must be before end"}
	assert.Equal(t, "start must be before end", bare.UserMessage())
	assert.Empty(t, bare.Suggestion())
}
