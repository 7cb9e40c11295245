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

// Package model defines the domain types of the takt control plane: workflows,
// schedules, workflow instances, triggers, events and backfills.
package model

import (
	"fmt"
	"time"
)

// WorkflowID identifies a workflow by the component that owns it and its name.
type WorkflowID struct {
	Component string `json:"component" yaml:"component"`
	Name      string `json:"workflow" yaml:"workflow"`
}

// NewWorkflowID creates a WorkflowID.
func NewWorkflowID(component, name string) WorkflowID {
	return WorkflowID{Component: component, Name: name}
}

// String renders the id as component#name, the form used in logs and errors.
func (id WorkflowID) String() string {
	return id.Component + "#" + id.Name
}

// ResourceSpec declares the container resources a workflow execution requests.
type ResourceSpec struct {
	CPU    string `json:"cpu,omitempty" yaml:"cpu,omitempty"`
	Memory string `json:"memory,omitempty" yaml:"memory,omitempty"`
}

// WorkflowConfig is the execution configuration of a workflow. A workflow is
// runnable ("configured") only when Image is set.
type WorkflowConfig struct {
	Image            string            `json:"image,omitempty" yaml:"image,omitempty"`
	Args             []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Env              map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	Resources        ResourceSpec      `json:"resources,omitempty" yaml:"resources,omitempty"`
	Concurrency      int               `json:"concurrency,omitempty" yaml:"concurrency,omitempty"`
	SuccessExitCodes []int             `json:"successExitCodes,omitempty" yaml:"success_exit_codes,omitempty"`
}

// Configured reports whether the workflow has enough configuration to run.
func (c WorkflowConfig) Configured() bool {
	return c.Image != ""
}

// SuccessExit reports whether the given container exit code counts as success
// for this workflow. Exit code 0 is always a success unless the workflow
// declares an explicit success set.
func (c WorkflowConfig) SuccessExit(code int) bool {
	if len(c.SuccessExitCodes) == 0 {
		return code == 0
	}
	for _, ok := range c.SuccessExitCodes {
		if code == ok {
			return true
		}
	}
	return false
}

// Workflow couples an id with its schedule and execution configuration.
type Workflow struct {
	ID       WorkflowID     `json:"id"`
	Schedule Schedule       `json:"schedule"`
	Config   WorkflowConfig `json:"config"`
}

// WorkflowState is the mutable per-workflow scheduling state kept in storage.
type WorkflowState struct {
	Enabled            bool       `json:"enabled"`
	NextNaturalTrigger *time.Time `json:"nextNaturalTrigger,omitempty"`
}

// WorkflowInstance identifies one partition of a workflow. Parameter is the
// canonical textual rendering of the partition instant under the workflow's
// schedule (e.g. 2017-01-02 for days, 2017-01-02T03 for hours). Instances are
// comparable and used as map keys.
type WorkflowInstance struct {
	WorkflowID
	Parameter string `json:"parameter"`
}

// NewInstance creates a WorkflowInstance.
func NewInstance(id WorkflowID, parameter string) WorkflowInstance {
	return WorkflowInstance{WorkflowID: id, Parameter: parameter}
}

// String renders the instance as component#name#parameter.
func (wi WorkflowInstance) String() string {
	return fmt.Sprintf("%s#%s#%s", wi.Component, wi.Name, wi.Parameter)
}

// TriggerParameters carries user-supplied overrides attached to a trigger,
// injected into the container environment of every execution it starts.
type TriggerParameters struct {
	Env map[string]string `json:"env,omitempty"`
}

// ExecutionDescription is the resolved recipe for one container execution,
// produced from the workflow configuration when an instance reaches PREPARE.
type ExecutionDescription struct {
	Image            string            `json:"image"`
	Args             []string          `json:"args,omitempty"`
	Env              map[string]string `json:"env,omitempty"`
	Resources        ResourceSpec      `json:"resources,omitempty"`
	SuccessExitCodes []int             `json:"successExitCodes,omitempty"`
}

// SuccessExit reports whether code counts as a successful termination under
// this description. Zero is the only success when no set was configured.
func (d ExecutionDescription) SuccessExit(code int) bool {
	if len(d.SuccessExitCodes) == 0 {
		return code == 0
	}
	for _, ok := range d.SuccessExitCodes {
		if code == ok {
			return true
		}
	}
	return false
}
