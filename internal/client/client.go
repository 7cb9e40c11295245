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

// Package client is the HTTP client for the taktd API, used by the takt CLI.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/takt-io/takt/internal/model"
	"github.com/takt-io/takt/internal/state"
	"github.com/takt-io/takt/internal/tracing"
	"github.com/takt-io/takt/pkg/errors"
	"github.com/takt-io/takt/pkg/httpclient"
)

// DefaultBaseURL is where a development taktd listens.
const DefaultBaseURL = "http://127.0.0.1:8080"

// APIError is a non-2xx response from the daemon, with the request id the
// daemon stamped on it for log correlation.
type APIError struct {
	Status    int
	Message   string
	RequestID string
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	if e.RequestID != "" {
		return fmt.Sprintf("api error %d: %s (request id %s)", e.Status, msg, e.RequestID)
	}
	return fmt.Sprintf("api error %d: %s", e.Status, msg)
}

// IsUserVisible implements errors.UserVisibleError. The daemon's error
// envelope is written for operators and is shown as-is.
func (e *APIError) IsUserVisible() bool { return true }

// UserMessage implements errors.UserVisibleError.
func (e *APIError) UserMessage() string {
	if e.Message != "" {
		return e.Message
	}
	return http.StatusText(e.Status)
}

// Suggestion implements errors.UserVisibleError.
func (e *APIError) Suggestion() string {
	switch e.Status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return "pass --token or set TAKT_TOKEN to a token the daemon accepts"
	default:
		return ""
	}
}

var _ errors.UserVisibleError = (*APIError)(nil)

// Client talks to the taktd API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

// Option configures a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = hc
		return nil
	}
}

// WithToken sets the bearer token sent with mutating requests.
func WithToken(token string) Option {
	return func(c *Client) error {
		c.token = token
		return nil
	}
}

// New creates a client for the daemon at baseURL. An empty baseURL targets
// the development default. Unless WithHTTPClient overrides it, requests go
// through the shared retrying client, so reads survive daemon restarts and
// transient network faults.
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{baseURL: strings.TrimRight(baseURL, "/")}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}

	if c.httpClient == nil {
		hc, err := httpclient.New(httpclient.DefaultConfig())
		if err != nil {
			return nil, err
		}
		c.httpClient = hc
	}
	return c, nil
}

// BackfillStatus pairs a backfill with the run states of its partitions,
// when statuses were requested.
type BackfillStatus struct {
	Backfill model.Backfill `json:"backfill"`
	Statuses *Statuses      `json:"statuses,omitempty"`
}

// Statuses lists run states, one per workflow instance.
type Statuses struct {
	ActiveStates []state.RunState `json:"activeStates"`
}

type backfillsEnvelope struct {
	Backfills []BackfillStatus `json:"backfills"`
}

// TriggerRequest asks for an immediate one-off trigger of a single
// partition.
type TriggerRequest struct {
	Component         string                   `json:"component"`
	Workflow          string                   `json:"workflow"`
	Parameter         string                   `json:"parameter"`
	TriggerParameters *model.TriggerParameters `json:"triggerParameters,omitempty"`
}

type triggerResponse struct {
	TriggerID string `json:"triggerId"`
}

type eventsEnvelope struct {
	Events []model.SequencedEvent `json:"events"`
}

// WorkflowInput registers or replaces a workflow definition. The workflow id
// comes from the request path.
type WorkflowInput struct {
	Schedule model.Schedule       `json:"schedule"`
	Config   model.WorkflowConfig `json:"config"`
}

// ListBackfillsOptions narrow a backfill listing.
type ListBackfillsOptions struct {
	Component string
	Workflow  string

	// ShowAll includes halted and fully triggered backfills.
	ShowAll bool

	// Status fetches the run states of each backfill's partitions.
	Status bool
}

// ListBackfills returns backfills, newest first.
func (c *Client) ListBackfills(ctx context.Context, opts ListBackfillsOptions) ([]BackfillStatus, error) {
	q := url.Values{}
	if opts.Component != "" {
		q.Set("component", opts.Component)
	}
	if opts.Workflow != "" {
		q.Set("workflow", opts.Workflow)
	}
	if opts.ShowAll {
		q.Set("showAll", "true")
	}
	if opts.Status {
		q.Set("status", "true")
	}

	var env backfillsEnvelope
	if err := c.getJSON(ctx, "/api/v3/backfills?"+q.Encode(), &env); err != nil {
		return nil, err
	}
	return env.Backfills, nil
}

// Backfill returns one backfill by id.
func (c *Client) Backfill(ctx context.Context, id string, status bool) (*BackfillStatus, error) {
	path := "/api/v3/backfills/" + url.PathEscape(id) + "?status=" + strconv.FormatBool(status)
	var bs BackfillStatus
	if err := c.getJSON(ctx, path, &bs); err != nil {
		return nil, err
	}
	return &bs, nil
}

// CreateBackfill submits a new backfill. allowFuture permits partitions
// beyond the workflow's next natural trigger.
func (c *Client) CreateBackfill(ctx context.Context, in model.BackfillInput, allowFuture bool) (*model.Backfill, error) {
	path := "/api/v3/backfills"
	if allowFuture {
		path += "?allowFuture=true"
	}
	var b model.Backfill
	if err := c.doJSON(ctx, http.MethodPost, path, in, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// UpdateBackfill changes the concurrency or description of a backfill.
func (c *Client) UpdateBackfill(ctx context.Context, id string, in model.EditableBackfillInput) (*model.Backfill, error) {
	var b model.Backfill
	if err := c.doJSON(ctx, http.MethodPut, "/api/v3/backfills/"+url.PathEscape(id), in, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// HaltBackfill stops a backfill from triggering new instances and halts the
// instances it already started.
func (c *Client) HaltBackfill(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/v3/backfills/"+url.PathEscape(id), nil, nil)
}

// Trigger requests an immediate one-off execution of a single partition and
// returns the minted trigger id.
func (c *Client) Trigger(ctx context.Context, req TriggerRequest) (string, error) {
	var resp triggerResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/v3/trigger", req, &resp); err != nil {
		return "", err
	}
	return resp.TriggerID, nil
}

// InjectEvent posts a raw event into the state manager.
func (c *Client) InjectEvent(ctx context.Context, ev model.Event) error {
	return c.doJSON(ctx, http.MethodPost, "/api/v3/events", ev, nil)
}

// Events returns the ordered event log of a workflow instance.
func (c *Client) Events(ctx context.Context, wi model.WorkflowInstance) ([]model.SequencedEvent, error) {
	path := fmt.Sprintf("/api/v3/events/%s/%s/%s",
		url.PathEscape(wi.Component), url.PathEscape(wi.Name), url.PathEscape(wi.Parameter))
	var env eventsEnvelope
	if err := c.getJSON(ctx, path, &env); err != nil {
		return nil, err
	}
	return env.Events, nil
}

// ActiveStates returns a snapshot of live run states, optionally filtered
// by component and workflow.
func (c *Client) ActiveStates(ctx context.Context, component, workflow string) ([]state.RunState, error) {
	q := url.Values{}
	if component != "" {
		q.Set("component", component)
	}
	if workflow != "" {
		q.Set("workflow", workflow)
	}
	var env Statuses
	if err := c.getJSON(ctx, "/api/v3/status?"+q.Encode(), &env); err != nil {
		return nil, err
	}
	return env.ActiveStates, nil
}

// Workflows returns every registered workflow.
func (c *Client) Workflows(ctx context.Context) ([]model.Workflow, error) {
	var wfs []model.Workflow
	if err := c.getJSON(ctx, "/api/v3/workflows", &wfs); err != nil {
		return nil, err
	}
	return wfs, nil
}

// ComponentWorkflows returns the workflows of one component.
func (c *Client) ComponentWorkflows(ctx context.Context, component string) ([]model.Workflow, error) {
	var wfs []model.Workflow
	if err := c.getJSON(ctx, "/api/v3/workflows/"+url.PathEscape(component), &wfs); err != nil {
		return nil, err
	}
	return wfs, nil
}

// Workflow returns one workflow definition.
func (c *Client) Workflow(ctx context.Context, id model.WorkflowID) (*model.Workflow, error) {
	var wf model.Workflow
	if err := c.getJSON(ctx, workflowPath(id), &wf); err != nil {
		return nil, err
	}
	return &wf, nil
}

// RegisterWorkflow creates or replaces a workflow definition.
func (c *Client) RegisterWorkflow(ctx context.Context, id model.WorkflowID, in WorkflowInput) (*model.Workflow, error) {
	var wf model.Workflow
	if err := c.doJSON(ctx, http.MethodPut, workflowPath(id), in, &wf); err != nil {
		return nil, err
	}
	return &wf, nil
}

// DeleteWorkflow removes a workflow definition.
func (c *Client) DeleteWorkflow(ctx context.Context, id model.WorkflowID) error {
	return c.doJSON(ctx, http.MethodDelete, workflowPath(id), nil, nil)
}

// WorkflowState returns the scheduling state of a workflow.
func (c *Client) WorkflowState(ctx context.Context, id model.WorkflowID) (*model.WorkflowState, error) {
	var st model.WorkflowState
	if err := c.getJSON(ctx, workflowPath(id)+"/state", &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// SetWorkflowEnabled flips the enabled flag of a workflow and returns the
// resulting state.
func (c *Client) SetWorkflowEnabled(ctx context.Context, id model.WorkflowID, enabled bool) (*model.WorkflowState, error) {
	patch := struct {
		Enabled *bool `json:"enabled"`
	}{Enabled: &enabled}

	var st model.WorkflowState
	if err := c.doJSON(ctx, http.MethodPatch, workflowPath(id)+"/state", patch, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Health checks that the daemon is reachable.
func (c *Client) Health(ctx context.Context) error {
	return c.getJSON(ctx, "/healthz", nil)
}

func workflowPath(id model.WorkflowID) string {
	return fmt.Sprintf("/api/v3/workflows/%s/%s",
		url.PathEscape(id.Component), url.PathEscape(id.Name))
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	return c.doJSON(ctx, http.MethodGet, path, nil, out)
}

// doJSON performs one API request. A nil out discards the response body;
// non-2xx responses come back as *APIError.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "encoding request body")
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return errors.Wrap(err, "building request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "sending request")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return apiError(resp)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "decoding response")
	}
	return nil
}

func apiError(resp *http.Response) error {
	apiErr := &APIError{
		Status:    resp.StatusCode,
		RequestID: resp.Header.Get(tracing.HeaderRequestID),
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	var envelope struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &envelope) == nil && envelope.Error != "" {
		apiErr.Message = envelope.Error
	} else {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	return apiErr
}
