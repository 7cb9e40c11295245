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

package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/takt-io/takt/internal/model"
)

func newHaltCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "halt <component> <workflow> <parameter>",
		Short: "Halt an active workflow instance",
		Long: `Halt an active instance. The instance is retired without error and
will not retry; its running container, if any, is torn down.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return injectInstanceEvent(cmd, args, model.Halt, "halt requested for")
		},
	}
}

func newRetryCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "retry <component> <workflow> <parameter>",
		Short: "Retry an instance waiting in backoff",
		Long: `Move an instance out of its retry backoff immediately. The instance
must be in the AWAITING_RETRY state.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return injectInstanceEvent(cmd, args, model.Retry, "retry requested for")
		},
	}
}

func injectInstanceEvent(cmd *cobra.Command, args []string, event func(model.WorkflowInstance) model.Event, verb string) error {
	c, err := apiClient(cmd)
	if err != nil {
		return err
	}
	wi := model.NewInstance(model.NewWorkflowID(args[0], args[1]), args[2])
	if err := c.InjectEvent(cmd.Context(), event(wi)); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderOK(fmt.Sprintf("%s %s", verb, wi)))
	return nil
}
