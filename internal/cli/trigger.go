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

	"github.com/takt-io/takt/internal/client"
	"github.com/takt-io/takt/internal/model"
)

func newTriggerCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trigger <component> <workflow> <parameter>",
		Short: "Trigger one workflow instance",
		Long: `Trigger a single instance of a workflow for the given partition
parameter, independent of its natural schedule. The instance must not
already be active.`,
		Example: `  # Re-run the June 1st partition of a daily workflow
  takt trigger analytics daily-report 2025-06-01

  # Pass extra environment to the triggered run
  takt trigger analytics daily-report 2025-06-01 --env MODE=repair`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := apiClient(cmd)
			if err != nil {
				return err
			}
			envPairs, _ := cmd.Flags().GetStringArray("env")
			env, err := parseEnv(envPairs)
			if err != nil {
				return err
			}

			req := client.TriggerRequest{
				Component: args[0],
				Workflow:  args[1],
				Parameter: args[2],
			}
			if len(env) > 0 {
				req.TriggerParameters = &model.TriggerParameters{Env: env}
			}

			triggerID, err := c.Trigger(cmd.Context(), req)
			if err != nil {
				return err
			}

			if jsonOutput(cmd) {
				return printJSON(cmd, struct {
					TriggerID string `json:"triggerId"`
				}{triggerID})
			}
			wi := model.NewInstance(model.NewWorkflowID(args[0], args[1]), args[2])
			fmt.Fprintln(cmd.OutOrStdout(), renderOK(fmt.Sprintf("triggered %s (trigger id %s)", wi, triggerID)))
			return nil
		},
	}

	cmd.Flags().StringArray("env", nil, "Environment variable for the triggered instance, repeatable")

	return cmd
}
