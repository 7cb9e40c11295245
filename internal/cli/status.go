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
)

func newStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "List active workflow instances",
		Long: `List every instance the scheduler is currently driving, optionally
narrowed to one component or workflow. Terminated instances do not
appear; use events to inspect those.`,
		Example: `  # Everything the scheduler is working on
  takt status

  # One workflow only
  takt status -c analytics -w daily-report`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := apiClient(cmd)
			if err != nil {
				return err
			}
			component, _ := cmd.Flags().GetString("component")
			workflow, _ := cmd.Flags().GetString("workflow")

			states, err := c.ActiveStates(cmd.Context(), component, workflow)
			if err != nil {
				return err
			}

			if jsonOutput(cmd) {
				return printJSON(cmd, states)
			}

			out := cmd.OutOrStdout()
			if len(states) == 0 {
				fmt.Fprintln(out, muted.Render("(no active instances)"))
				return nil
			}
			printStates(out, states)
			return nil
		},
	}

	cmd.Flags().StringP("component", "c", "", "Only instances of this component")
	cmd.Flags().StringP("workflow", "w", "", "Only instances of this workflow")

	return cmd
}
