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
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSchedule(t *testing.T) {
	tests := []struct {
		in   string
		want Schedule
	}{
		{"hours", ScheduleHours},
		{"@hourly", ScheduleHours},
		{"Hourly", ScheduleHours},
		{"days", ScheduleDays},
		{"daily", ScheduleDays},
		{"@weekly", ScheduleWeeks},
		{"monthly", ScheduleMonths},
		{"@annually", ScheduleYears},
		{"yearly", ScheduleYears},
		{"45 23 * * 6", Schedule("45 23 * * 6")},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseSchedule(tt.in))
		})
	}
}

func TestScheduleWellKnown(t *testing.T) {
	assert.True(t, ScheduleDays.WellKnown())
	assert.False(t, Schedule("0 * * * *").WellKnown())
}

func TestSuccessExit(t *testing.T) {
	var def WorkflowConfig
	assert.True(t, def.SuccessExit(0))
	assert.False(t, def.SuccessExit(1))

	custom := WorkflowConfig{SuccessExitCodes: []int{0, 20}}
	assert.True(t, custom.SuccessExit(20))
	assert.False(t, custom.SuccessExit(1))

	odd := WorkflowConfig{SuccessExitCodes: []int{20}}
	assert.False(t, odd.SuccessExit(0), "explicit success set replaces the default")
}

func TestEventRoundTrip(t *testing.T) {
	wi := NewInstance(NewWorkflowID("etl", "nightly"), "2025-06-01")
	exit := 20
	events := []Event{
		TriggerExecution(wi, "backfill-1", &TriggerParameters{Env: map[string]string{"MODE": "full"}}),
		Submit(wi, ExecutionDescription{Image: "gcr.io/acme/nightly:1", Args: []string{"--day", "{}"}}, "exec-1"),
		Terminate(wi, &exit),
		RetryAfter(wi, 180000),
		Info(wi, "pulling image"),
	}
	for _, ev := range events {
		t.Run(string(ev.Type), func(t *testing.T) {
			raw, err := json.Marshal(ev)
			require.NoError(t, err)
			var got Event
			require.NoError(t, json.Unmarshal(raw, &got))
			assert.Equal(t, ev, got)
		})
	}
}

func TestEventString(t *testing.T) {
	wi := NewInstance(NewWorkflowID("etl", "nightly"), "2025-06-01")
	exit := 1
	assert.Equal(t, "triggerExecution(etl#nightly#2025-06-01, natural-trigger)",
		TriggerExecution(wi, NaturalTriggerID, nil).String())
	assert.Equal(t, "terminate(etl#nightly#2025-06-01, 1)", Terminate(wi, &exit).String())
	assert.Equal(t, "terminate(etl#nightly#2025-06-01, -)", Terminate(wi, nil).String())
	assert.Equal(t, "halt(etl#nightly#2025-06-01)", Halt(wi).String())
}

func TestBackfillRoundTrip(t *testing.T) {
	b := Backfill{
		ID:          "backfill-8f2a9c31",
		Workflow:    NewWorkflowID("etl", "nightly"),
		Start:       time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		End:         time.Date(2025, 6, 8, 0, 0, 0, 0, time.UTC),
		Schedule:    ScheduleDays,
		Concurrency: 2,
		NextTrigger: time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC),
		Description: "reprocess after bad deploy",
		Reverse:     false,
		Created:     time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC),
	}
	raw, err := json.Marshal(b)
	require.NoError(t, err)
	var got Backfill
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, b, got)
	assert.True(t, got.Active())

	got.Halted = true
	assert.False(t, got.Active())
}
