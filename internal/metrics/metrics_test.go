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

package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordEvent(t *testing.T) {
	initial := testutil.ToFloat64(eventsTotal.With(prometheus.Labels{"type": "dequeue"}))

	RecordEvent("dequeue")
	RecordEvent("dequeue")

	got := testutil.ToFloat64(eventsTotal.With(prometheus.Labels{"type": "dequeue"}))
	if got != initial+2 {
		t.Errorf("expected count to increment by 2, got initial=%f, new=%f", initial, got)
	}
}

func TestRecordEventFailure(t *testing.T) {
	labels := prometheus.Labels{"type": "started", "reason": "illegal"}
	initial := testutil.ToFloat64(eventFailures.With(labels))

	RecordEventFailure("started", "illegal")

	got := testutil.ToFloat64(eventFailures.With(labels))
	if got != initial+1 {
		t.Errorf("expected count to increment by 1, got initial=%f, new=%f", initial, got)
	}
}

func TestRecordExitCode(t *testing.T) {
	exit := 20
	tests := []struct {
		name  string
		code  *int
		label string
	}{
		{name: "known code", code: &exit, label: "20"},
		{name: "lost code", code: nil, label: "none"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			initial := testutil.ToFloat64(exitCodesTotal.With(prometheus.Labels{"exit_code": tt.label}))

			RecordExitCode(tt.code)

			got := testutil.ToFloat64(exitCodesTotal.With(prometheus.Labels{"exit_code": tt.label}))
			if got != initial+1 {
				t.Errorf("expected count to increment by 1, got initial=%f, new=%f", initial, got)
			}
		})
	}
}

func TestRecordSubmissionOutcomes(t *testing.T) {
	okLabels := prometheus.Labels{"runner": "local", "outcome": "ok"}
	errLabels := prometheus.Labels{"runner": "local", "outcome": "error"}
	initialOK := testutil.ToFloat64(submissionsTotal.With(okLabels))
	initialErr := testutil.ToFloat64(submissionsTotal.With(errLabels))

	RecordSubmission("local", nil, 50*time.Millisecond)
	RecordSubmission("local", errors.New("image missing"), time.Millisecond)

	if got := testutil.ToFloat64(submissionsTotal.With(okLabels)); got != initialOK+1 {
		t.Errorf("expected ok count to increment by 1, got initial=%f, new=%f", initialOK, got)
	}
	if got := testutil.ToFloat64(submissionsTotal.With(errLabels)); got != initialErr+1 {
		t.Errorf("expected error count to increment by 1, got initial=%f, new=%f", initialErr, got)
	}
}

func TestSetActiveStatesResetsVanished(t *testing.T) {
	SetActiveStates(map[string]int{"RUNNING": 3, "QUEUED": 1})

	if got := testutil.ToFloat64(activeStates.With(prometheus.Labels{"state": "RUNNING"})); got != 3 {
		t.Errorf("expected RUNNING gauge 3, got %f", got)
	}

	SetActiveStates(map[string]int{"QUEUED": 2})

	if got := testutil.ToFloat64(activeStates.With(prometheus.Labels{"state": "RUNNING"})); got != 0 {
		t.Errorf("expected RUNNING gauge reset to 0, got %f", got)
	}
	if got := testutil.ToFloat64(activeStates.With(prometheus.Labels{"state": "QUEUED"})); got != 2 {
		t.Errorf("expected QUEUED gauge 2, got %f", got)
	}
}

func TestGauges(t *testing.T) {
	SetQueuedEvents(7)
	if got := testutil.ToFloat64(queuedEvents); got != 7 {
		t.Errorf("expected queued events gauge 7, got %f", got)
	}

	SetWorkflows(4, 1)
	if got := testutil.ToFloat64(workflows.With(prometheus.Labels{"enabled": "true"})); got != 4 {
		t.Errorf("expected enabled workflows gauge 4, got %f", got)
	}
	if got := testutil.ToFloat64(workflows.With(prometheus.Labels{"enabled": "false"})); got != 1 {
		t.Errorf("expected disabled workflows gauge 1, got %f", got)
	}

	SetSubmissionRate(1000)
	if got := testutil.ToFloat64(submissionRate); got != 1000 {
		t.Errorf("expected submission rate gauge 1000, got %f", got)
	}
}
