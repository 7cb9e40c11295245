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

package source

import (
	"gopkg.in/yaml.v3"

	"github.com/takt-io/takt/internal/model"
	"github.com/takt-io/takt/internal/timeutil"
	"github.com/takt-io/takt/pkg/errors"
)

// Definition is one workflow entry in the definition file.
//
//	workflows:
//	  - component: analytics
//	    name: daily-report
//	    schedule: days
//	    image: gcr.io/analytics/report-builder:1.4
//	    args: ["--date", "{}"]
//	    env:
//	      MODE: batch
//	    concurrency: 3
//	    enabled: true
type Definition struct {
	Component        string             `yaml:"component"`
	Name             string             `yaml:"name"`
	Schedule         model.Schedule     `yaml:"schedule"`
	Image            string             `yaml:"image"`
	Args             []string           `yaml:"args"`
	Env              map[string]string  `yaml:"env"`
	Resources        model.ResourceSpec `yaml:"resources"`
	Concurrency      int                `yaml:"concurrency"`
	SuccessExitCodes []int              `yaml:"success_exit_codes"`

	// Enabled, when present, is applied to the workflow state on every
	// reload. When absent the stored flag is left alone, so workflows
	// enabled through the API stay enabled across file edits.
	Enabled *bool `yaml:"enabled"`
}

type definitionFile struct {
	Workflows []Definition `yaml:"workflows"`
}

// ParseDefinitions decodes a workflow definition document.
func ParseDefinitions(data []byte) ([]Definition, error) {
	var f definitionFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrap(err, "parsing workflow definitions")
	}
	return f.Workflows, nil
}

// ID returns the workflow id the definition describes.
func (d Definition) ID() model.WorkflowID {
	return model.NewWorkflowID(d.Component, d.Name)
}

// Validate checks the definition is registrable. The image is not required
// here: a workflow may be declared before its first deployment and stays
// unrunnable until the image lands.
func (d Definition) Validate() error {
	if d.Component == "" {
		return &errors.ValidationError{Field: "component", Message: "must not be empty"}
	}
	if d.Name == "" {
		return &errors.ValidationError{Field: "name", Message: "must not be empty"}
	}
	if d.Schedule == "" {
		return &errors.ValidationError{Field: "schedule", Message: "must not be empty"}
	}
	if !d.Schedule.WellKnown() {
		if _, err := timeutil.ParseCron(string(d.Schedule)); err != nil {
			return &errors.ValidationError{
				Field:   "schedule",
				Message: "not a partitioning unit or cron expression",
				Hint:    "use hours, days, weeks, months, years or a cron expression such as 0 6 * * *",
			}
		}
	}
	return nil
}

// Workflow converts the definition to the stored workflow shape.
func (d Definition) Workflow() model.Workflow {
	return model.Workflow{
		ID:       d.ID(),
		Schedule: d.Schedule,
		Config: model.WorkflowConfig{
			Image:            d.Image,
			Args:             d.Args,
			Env:              d.Env,
			Resources:        d.Resources,
			Concurrency:      d.Concurrency,
			SuccessExitCodes: d.SuccessExitCodes,
		},
	}
}
