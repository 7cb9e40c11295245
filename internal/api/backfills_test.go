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
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/takt-io/takt/internal/model"
	"github.com/takt-io/takt/internal/state"
)

func backfillDay(d int) time.Time {
	return time.Date(2025, 6, d, 0, 0, 0, 0, time.UTC)
}

func validBackfillInput() model.BackfillInput {
	return model.BackfillInput{
		Component:   "analytics",
		Workflow:    "daily-report",
		Start:       backfillDay(1),
		End:         backfillDay(5),
		Concurrency: 2,
		Description: "reprocess early june",
	}
}

// createBackfill drives the POST endpoint and returns the created backfill.
func createBackfill(t *testing.T, f *fixture, in model.BackfillInput) model.Backfill {
	t.Helper()
	w := f.do(t, http.MethodPost, "/api/v3/backfills", in)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var b model.Backfill
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &b))
	return b
}

func decodeBackfillPayload(t *testing.T, w *httptest.ResponseRecorder) BackfillPayload {
	t.Helper()
	var p BackfillPayload
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &p))
	return p
}

func TestCreateBackfillEndpoint(t *testing.T) {
	f := newFixture(t, Config{})
	storedWorkflow(t, f.store, "analytics", "daily-report", "gcr.io/takt/report:1")

	b := createBackfill(t, f, validBackfillInput())

	assert.NotEmpty(t, b.ID)
	assert.Equal(t, model.WorkflowID{Component: "analytics", Name: "daily-report"}, b.Workflow)
	assert.Equal(t, model.ScheduleDays, b.Schedule)
	assert.Equal(t, 2, b.Concurrency)
	assert.True(t, b.NextTrigger.Equal(backfillDay(1)))
	assert.False(t, b.Halted)
}

func TestCreateBackfillRejectsBadRange(t *testing.T) {
	f := newFixture(t, Config{})
	storedWorkflow(t, f.store, "analytics", "daily-report", "gcr.io/takt/report:1")

	in := validBackfillInput()
	in.Start, in.End = in.End, in.Start
	w := f.do(t, http.MethodPost, "/api/v3/backfills", in)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "start must be before end", errorMessage(t, w))
}

func TestCreateBackfillUnknownWorkflow(t *testing.T) {
	f := newFixture(t, Config{})

	w := f.do(t, http.MethodPost, "/api/v3/backfills", validBackfillInput())

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateBackfillMissingPayload(t *testing.T) {
	f := newFixture(t, Config{})

	w := f.do(t, http.MethodPost, "/api/v3/backfills", nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Missing payload.", errorMessage(t, w))
}

func TestCreateBackfillInvalidPayload(t *testing.T) {
	f := newFixture(t, Config{})

	req := httptest.NewRequest(http.MethodPost, "/api/v3/backfills", strings.NewReader("{nope"))
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Invalid payload.", errorMessage(t, w))
}

func TestCreateBackfillCollision(t *testing.T) {
	f := newFixture(t, Config{})
	storedWorkflow(t, f.store, "analytics", "daily-report", "gcr.io/takt/report:1")
	createBackfill(t, f, validBackfillInput())

	w := f.do(t, http.MethodPost, "/api/v3/backfills", validBackfillInput())

	// The first backfill has not run yet, so no partitions are active and
	// the overlapping range is accepted.
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGetBackfillIncludesStatuses(t *testing.T) {
	f := newFixture(t, Config{})
	storedWorkflow(t, f.store, "analytics", "daily-report", "gcr.io/takt/report:1")
	b := createBackfill(t, f, validBackfillInput())

	w := f.do(t, http.MethodGet, "/api/v3/backfills/"+b.ID, nil)

	require.Equal(t, http.StatusOK, w.Code)
	p := decodeBackfillPayload(t, w)
	assert.Equal(t, b.ID, p.Backfill.ID)
	require.NotNil(t, p.Statuses)
	require.Len(t, p.Statuses.ActiveStates, 4)
	for _, rs := range p.Statuses.ActiveStates {
		assert.Equal(t, state.StateWaiting, rs.State)
	}
}

func TestGetBackfillWithoutStatuses(t *testing.T) {
	f := newFixture(t, Config{})
	storedWorkflow(t, f.store, "analytics", "daily-report", "gcr.io/takt/report:1")
	b := createBackfill(t, f, validBackfillInput())

	w := f.do(t, http.MethodGet, "/api/v3/backfills/"+b.ID+"?status=false", nil)

	require.Equal(t, http.StatusOK, w.Code)
	p := decodeBackfillPayload(t, w)
	assert.Nil(t, p.Statuses)
}

func TestGetBackfillNotFound(t *testing.T) {
	f := newFixture(t, Config{})

	w := f.do(t, http.MethodGet, "/api/v3/backfills/backfill-unknown", nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListBackfillsFilters(t *testing.T) {
	f := newFixture(t, Config{})
	storedWorkflow(t, f.store, "analytics", "daily-report", "gcr.io/takt/report:1")
	storedWorkflow(t, f.store, "billing", "invoice-rollup", "gcr.io/takt/billing:1")

	analytics := createBackfill(t, f, validBackfillInput())
	in := validBackfillInput()
	in.Component, in.Workflow = "billing", "invoice-rollup"
	billing := createBackfill(t, f, in)

	var payload BackfillsPayload

	w := f.do(t, http.MethodGet, "/api/v3/backfills", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload))
	assert.Len(t, payload.Backfills, 2)

	w = f.do(t, http.MethodGet, "/api/v3/backfills?component=analytics", nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload))
	require.Len(t, payload.Backfills, 1)
	assert.Equal(t, analytics.ID, payload.Backfills[0].Backfill.ID)
	assert.Nil(t, payload.Backfills[0].Statuses)

	w = f.do(t, http.MethodGet, "/api/v3/backfills?component=billing&workflow=invoice-rollup", nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload))
	require.Len(t, payload.Backfills, 1)
	assert.Equal(t, billing.ID, payload.Backfills[0].Backfill.ID)
}

func TestListBackfillsHidesHalted(t *testing.T) {
	f := newFixture(t, Config{})
	storedWorkflow(t, f.store, "analytics", "daily-report", "gcr.io/takt/report:1")
	b := createBackfill(t, f, validBackfillInput())

	w := f.do(t, http.MethodDelete, "/api/v3/backfills/"+b.ID, nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	var payload BackfillsPayload
	w = f.do(t, http.MethodGet, "/api/v3/backfills", nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload))
	assert.Empty(t, payload.Backfills)

	w = f.do(t, http.MethodGet, "/api/v3/backfills?showAll=true", nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload))
	require.Len(t, payload.Backfills, 1)
	assert.True(t, payload.Backfills[0].Backfill.Halted)
}

func TestUpdateBackfillEndpoint(t *testing.T) {
	f := newFixture(t, Config{})
	storedWorkflow(t, f.store, "analytics", "daily-report", "gcr.io/takt/report:1")
	b := createBackfill(t, f, validBackfillInput())

	concurrency := 7
	w := f.do(t, http.MethodPut, "/api/v3/backfills/"+b.ID, model.EditableBackfillInput{
		ID:          b.ID,
		Concurrency: &concurrency,
	})

	require.Equal(t, http.StatusOK, w.Code)
	var updated model.Backfill
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &updated))
	assert.Equal(t, 7, updated.Concurrency)
}

func TestUpdateBackfillIDMismatch(t *testing.T) {
	f := newFixture(t, Config{})
	storedWorkflow(t, f.store, "analytics", "daily-report", "gcr.io/takt/report:1")
	b := createBackfill(t, f, validBackfillInput())

	w := f.do(t, http.MethodPut, "/api/v3/backfills/"+b.ID, model.EditableBackfillInput{
		ID: "backfill-other",
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "ID of payload does not match ID in uri.", errorMessage(t, w))
}

func TestHaltBackfillStopsLiveInstances(t *testing.T) {
	f := newFixture(t, Config{})
	storedWorkflow(t, f.store, "analytics", "daily-report", "gcr.io/takt/report:1")
	b := createBackfill(t, f, validBackfillInput())

	wi := model.NewInstance(b.Workflow, "2025-06-01")
	f.states.addLive(wi, state.StateRunning, b.ID)

	w := f.do(t, http.MethodDelete, "/api/v3/backfills/"+b.ID, nil)

	assert.Equal(t, http.StatusNoContent, w.Code)
	events := f.states.received()
	require.Len(t, events, 1)
	assert.Equal(t, model.EventHalt, events[0].Type)
	assert.Equal(t, wi, events[0].Instance)
}

func TestHaltBackfillPartialFailure(t *testing.T) {
	f := newFixture(t, Config{})
	storedWorkflow(t, f.store, "analytics", "daily-report", "gcr.io/takt/report:1")
	b := createBackfill(t, f, validBackfillInput())

	wi := model.NewInstance(b.Workflow, "2025-06-01")
	f.states.addLive(wi, state.StateRunning, b.ID)
	f.states.fail[wi] = fmt.Errorf("event channel saturated")

	w := f.do(t, http.MethodDelete, "/api/v3/backfills/"+b.ID, nil)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t,
		"some active instances cannot be halted, however no new ones will be triggered",
		errorMessage(t, w))

	// The backfill itself is halted regardless.
	stored := f.mustBackfill(t, b.ID)
	assert.True(t, stored.Halted)
}

func TestHaltBackfillNotFound(t *testing.T) {
	f := newFixture(t, Config{})

	w := f.do(t, http.MethodDelete, "/api/v3/backfills/backfill-unknown", nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
}
