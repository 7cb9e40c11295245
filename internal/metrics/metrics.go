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

// Package metrics exposes the daemon's Prometheus instrumentation. Counters
// are recorded at the call sites that own the fact; gauges are refreshed by
// the daemon's periodic snapshot.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// eventsTotal counts events accepted into the state machine by type.
	eventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "takt_events_total",
			Help: "Total events applied to workflow instances by event type",
		},
		[]string{"type"},
	)

	// eventFailures counts events the state machine rejected.
	eventFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "takt_event_failures_total",
			Help: "Total rejected events by event type and reason",
		},
		[]string{"type", "reason"},
	)

	// transitionsTotal counts committed transitions by the state entered.
	transitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "takt_transitions_total",
			Help: "Total committed state transitions by state entered",
		},
		[]string{"state"},
	)

	// exitCodesTotal counts container terminations by exit code.
	exitCodesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "takt_exit_codes_total",
			Help: "Total container terminations by exit code",
		},
		[]string{"exit_code"},
	)

	// submissionsTotal counts container submissions by runner and outcome.
	submissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "takt_submissions_total",
			Help: "Total container submissions by runner and outcome",
		},
		[]string{"runner", "outcome"},
	)

	// retriesTotal counts retry-after decisions.
	retriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "takt_retries_total",
			Help: "Total scheduled retries by cause",
		},
		[]string{"cause"},
	)

	// exhaustedTotal counts instances stopped after exceeding the retry budget.
	exhaustedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "takt_retries_exhausted_total",
			Help: "Total instances stopped after exhausting their retry budget",
		},
	)

	// handlerFailures counts output handler errors by handler name.
	handlerFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "takt_handler_failures_total",
			Help: "Total output handler failures by handler",
		},
		[]string{"handler"},
	)

	// triggersTotal counts issued triggers by kind.
	triggersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "takt_triggers_total",
			Help: "Total issued triggers by kind",
		},
		[]string{"kind"},
	)

	// sourceReloads counts workflow definition file reloads.
	sourceReloads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "takt_workflow_source_reloads_total",
			Help: "Total workflow definition file reloads by outcome",
		},
		[]string{"outcome"},
	)

	// activeStates gauges the number of live instances per state.
	activeStates = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "takt_active_states",
			Help: "Live workflow instances by state",
		},
		[]string{"state"},
	)

	// queuedEvents gauges events waiting in the state manager's shards.
	queuedEvents = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "takt_queued_events",
			Help: "Events queued in the state manager",
		},
	)

	// workflows gauges registered workflow definitions.
	workflows = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "takt_workflows",
			Help: "Registered workflows by enabled flag",
		},
		[]string{"enabled"},
	)

	// submissionRate gauges the effective submission rate limit.
	submissionRate = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "takt_submission_rate_limit",
			Help: "Current container submission rate limit per second",
		},
	)

	// runnerStartDuration times runner.Start calls.
	runnerStartDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "takt_runner_start_duration_seconds",
			Help:    "Duration of container start calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"runner"},
	)

	// httpRequestDuration times API requests.
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "takt_http_request_duration_seconds",
			Help:    "Duration of API requests by method and status",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "status"},
	)
)

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordEvent increments the accepted-event counter.
func RecordEvent(eventType string) {
	eventsTotal.WithLabelValues(eventType).Inc()
}

// RecordEventFailure increments the rejected-event counter. reason should be
// one of: illegal, closed, conflict, not_found, storage.
func RecordEventFailure(eventType, reason string) {
	eventFailures.WithLabelValues(eventType, reason).Inc()
}

// RecordTransition increments the transition counter for the entered state.
func RecordTransition(state string) {
	transitionsTotal.WithLabelValues(state).Inc()
}

// RecordExitCode increments the termination counter. A nil code is recorded
// under the "none" label.
func RecordExitCode(code *int) {
	label := "none"
	if code != nil {
		label = strconv.Itoa(*code)
	}
	exitCodesTotal.WithLabelValues(label).Inc()
}

// RecordSubmission increments the submission counter and times the start call.
func RecordSubmission(runner string, err error, elapsed time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	submissionsTotal.WithLabelValues(runner, outcome).Inc()
	runnerStartDuration.WithLabelValues(runner).Observe(elapsed.Seconds())
}

// RecordRetry increments the retry counter. cause is "failure" or
// "missing_deps".
func RecordRetry(cause string) {
	retriesTotal.WithLabelValues(cause).Inc()
}

// RecordExhausted increments the exhausted-retries counter.
func RecordExhausted() {
	exhaustedTotal.Inc()
}

// RecordHandlerFailure increments the handler failure counter.
func RecordHandlerFailure(handler string) {
	handlerFailures.WithLabelValues(handler).Inc()
}

// RecordTrigger increments the trigger counter. kind is "natural",
// "backfill" or "adhoc".
func RecordTrigger(kind string) {
	triggersTotal.WithLabelValues(kind).Inc()
}

// RecordSourceReload increments the workflow-source reload counter.
func RecordSourceReload(err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	sourceReloads.WithLabelValues(outcome).Inc()
}

// RecordHTTPRequest times one API request.
func RecordHTTPRequest(method string, status int, elapsed time.Duration) {
	httpRequestDuration.WithLabelValues(method, strconv.Itoa(status)).Observe(elapsed.Seconds())
}

// SetActiveStates replaces the per-state instance gauge with counts. States
// missing from counts are reset to zero, so vanished states do not linger.
func SetActiveStates(counts map[string]int) {
	activeStates.Reset()
	for state, n := range counts {
		activeStates.WithLabelValues(state).Set(float64(n))
	}
}

// SetQueuedEvents updates the queued-events gauge.
func SetQueuedEvents(n int) {
	queuedEvents.Set(float64(n))
}

// SetWorkflows updates the workflow gauges.
func SetWorkflows(enabled, disabled int) {
	workflows.WithLabelValues("true").Set(float64(enabled))
	workflows.WithLabelValues("false").Set(float64(disabled))
}

// SetSubmissionRate updates the submission-rate gauge.
func SetSubmissionRate(perSec float64) {
	submissionRate.Set(perSec)
}
