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
	"time"

	"github.com/spf13/cobra"

	"github.com/takt-io/takt/internal/model"
)

func newEventsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "events <component> <workflow> <parameter>",
		Short: "Show the event log of a workflow instance",
		Long: `Show every event logged for an instance, oldest first. The log is
kept after the instance terminates, so finished runs can be inspected
too.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := apiClient(cmd)
			if err != nil {
				return err
			}
			wi := model.NewInstance(model.NewWorkflowID(args[0], args[1]), args[2])

			events, err := c.Events(cmd.Context(), wi)
			if err != nil {
				return err
			}

			if jsonOutput(cmd) {
				return printJSON(cmd, events)
			}

			out := cmd.OutOrStdout()
			if len(events) == 0 {
				fmt.Fprintln(out, muted.Render("(no events)"))
				return nil
			}
			fmt.Fprintf(out, "%-20s  %7s  %s\n", "TIME", "COUNTER", "EVENT")
			for _, se := range events {
				ts := time.UnixMilli(se.Timestamp).UTC().Format(time.RFC3339)
				fmt.Fprintf(out, "%-20s  %7d  %s\n", ts, se.Counter, se.Event)
			}
			return nil
		},
	}
}
