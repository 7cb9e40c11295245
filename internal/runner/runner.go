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

// Package runner starts container executions for workflow instances and
// reports their lifecycle back as events.
package runner

import (
	"context"
	"sort"
	"strings"

	"github.com/takt-io/takt/internal/model"
)

// ParameterPlaceholder in a configured argument is replaced with the
// instance's partition parameter when the container is launched.
const ParameterPlaceholder = "{}"

// Spec describes one container execution.
type Spec struct {
	Instance          model.WorkflowInstance
	ExecutionID       string
	Description       model.ExecutionDescription
	TriggerID         string
	TriggerParameters *model.TriggerParameters
}

// Args returns the container arguments with the parameter placeholder
// substituted.
func (s Spec) Args() []string {
	args := make([]string, len(s.Description.Args))
	for i, a := range s.Description.Args {
		args[i] = strings.ReplaceAll(a, ParameterPlaceholder, s.Instance.Parameter)
	}
	return args
}

// Env returns the container environment as sorted KEY=VALUE pairs: the
// instance coordinates, the workflow's configured environment, and the
// trigger parameter overrides, in increasing precedence.
func (s Spec) Env() []string {
	env := map[string]string{
		"TAKT_COMPONENT_ID": s.Instance.Component,
		"TAKT_WORKFLOW_ID":  s.Instance.Name,
		"TAKT_PARAMETER":    s.Instance.Parameter,
		"TAKT_TRIGGER_ID":   s.TriggerID,
		"TAKT_EXECUTION_ID": s.ExecutionID,
	}
	for k, v := range s.Description.Env {
		env[k] = v
	}
	if s.TriggerParameters != nil {
		for k, v := range s.TriggerParameters.Env {
			env[k] = v
		}
	}

	pairs := make([]string, 0, len(env))
	for k, v := range env {
		pairs = append(pairs, k+"="+v)
	}
	sort.Strings(pairs)
	return pairs
}

// EventRouter receives the lifecycle events a runner reports: started once
// the container runs, terminate or runError when it ends.
type EventRouter interface {
	Receive(ctx context.Context, ev model.Event) error
}

// Runner launches and reaps container executions. Start returns once the
// execution is accepted; progress comes back asynchronously through the
// EventRouter the implementation was built with. Cleanup releases whatever
// the runner still holds for an execution and must tolerate unknown ids,
// since it runs on every terminal transition.
type Runner interface {
	Start(ctx context.Context, spec Spec) error
	Cleanup(ctx context.Context, executionID string) error
}
