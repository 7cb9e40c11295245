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
	"io"

	"github.com/spf13/cobra"

	"github.com/takt-io/takt/internal/client"
	"github.com/takt-io/takt/internal/model"
	"github.com/takt-io/takt/internal/timeutil"
)

func newBackfillCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "backfill",
		Aliases: []string{"bf"},
		Short:   "Manage backfills",
		Long: `Backfills re-run a workflow over a bounded partition range. The
scheduler triggers the range one partition at a time, holding at most
the configured concurrency in flight.`,
	}

	cmd.AddCommand(
		newBackfillListCommand(),
		newBackfillShowCommand(),
		newBackfillCreateCommand(),
		newBackfillEditCommand(),
		newBackfillHaltCommand(),
	)

	return cmd
}

func newBackfillListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List backfills",
		Long: `List backfills, most recent first. Finished and halted backfills are
hidden unless --show-all is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := apiClient(cmd)
			if err != nil {
				return err
			}
			component, _ := cmd.Flags().GetString("component")
			workflow, _ := cmd.Flags().GetString("workflow")
			showAll, _ := cmd.Flags().GetBool("show-all")
			withStatus, _ := cmd.Flags().GetBool("status")

			bs, err := c.ListBackfills(cmd.Context(), client.ListBackfillsOptions{
				Component: component,
				Workflow:  workflow,
				ShowAll:   showAll,
				Status:    withStatus,
			})
			if err != nil {
				return err
			}

			if jsonOutput(cmd) {
				return printJSON(cmd, bs)
			}

			out := cmd.OutOrStdout()
			if len(bs) == 0 {
				fmt.Fprintln(out, muted.Render("(no backfills)"))
				return nil
			}
			idWidth, wfWidth := len("ID"), len("WORKFLOW")
			for _, b := range bs {
				if l := len(b.Backfill.ID); l > idWidth {
					idWidth = l
				}
				if l := len(b.Backfill.Workflow.String()); l > wfWidth {
					wfWidth = l
				}
			}
			fmt.Fprintf(out, "%-*s  %-*s  %-12s  %-12s  %-12s  %s\n",
				idWidth, "ID", wfWidth, "WORKFLOW", "START", "END", "NEXT", "STATE")
			for _, b := range bs {
				bf := b.Backfill
				fmt.Fprintf(out, "%-*s  %-*s  %-12s  %-12s  %-12s  %s\n",
					idWidth, bf.ID,
					wfWidth, bf.Workflow,
					timeutil.ToParameter(bf.Schedule, bf.Start),
					timeutil.ToParameter(bf.Schedule, bf.End),
					timeutil.ToParameter(bf.Schedule, bf.NextTrigger),
					renderBackfillState(bf))
				if withStatus && b.Statuses != nil {
					fmt.Fprintf(out, "%s %s\n", muted.Render("  instances:"), summarizeStates(b.Statuses.ActiveStates))
				}
			}
			return nil
		},
	}

	cmd.Flags().StringP("component", "c", "", "Only backfills of this component")
	cmd.Flags().StringP("workflow", "w", "", "Only backfills of this workflow")
	cmd.Flags().Bool("show-all", false, "Include halted and completed backfills")
	cmd.Flags().Bool("status", false, "Include per-instance status counts")

	return cmd
}

func newBackfillShowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a backfill and its instances",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := apiClient(cmd)
			if err != nil {
				return err
			}
			noStatus, _ := cmd.Flags().GetBool("no-status")

			b, err := c.Backfill(cmd.Context(), args[0], !noStatus)
			if err != nil {
				return err
			}

			if jsonOutput(cmd) {
				return printJSON(cmd, b)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s\n", label("Backfill:"), bold.Render(b.Backfill.ID))
			printBackfill(out, b.Backfill)
			if b.Statuses != nil && len(b.Statuses.ActiveStates) > 0 {
				fmt.Fprintln(out)
				printStates(out, b.Statuses.ActiveStates)
			}
			return nil
		},
	}

	cmd.Flags().Bool("no-status", false, "Skip fetching per-instance statuses")

	return cmd
}

func newBackfillCreateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create <component> <workflow> <start> <end>",
		Short: "Create a backfill",
		Long: `Create a backfill over the half-open partition range [start, end).
Bounds are partition parameters in the workflow's schedule, for example
2025-06-01 for a daily workflow or 2025-06-01T06 for an hourly one.`,
		Example: `  # Re-run four days of a daily workflow, two at a time
  takt backfill create analytics daily-report 2025-06-01 2025-06-05 \
    --concurrency 2 --description "reprocess early june"

  # Newest partitions first
  takt backfill create analytics daily-report 2025-06-01 2025-06-05 --reverse`,
		Args: cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := apiClient(cmd)
			if err != nil {
				return err
			}
			start, err := timeutil.ParseParameter(args[2])
			if err != nil {
				return fmt.Errorf("invalid start: %w", err)
			}
			end, err := timeutil.ParseParameter(args[3])
			if err != nil {
				return fmt.Errorf("invalid end: %w", err)
			}
			concurrency, _ := cmd.Flags().GetInt("concurrency")
			description, _ := cmd.Flags().GetString("description")
			reverse, _ := cmd.Flags().GetBool("reverse")
			allowFuture, _ := cmd.Flags().GetBool("allow-future")
			envPairs, _ := cmd.Flags().GetStringArray("env")
			env, err := parseEnv(envPairs)
			if err != nil {
				return err
			}

			in := model.BackfillInput{
				Component:   args[0],
				Workflow:    args[1],
				Start:       start,
				End:         end,
				Concurrency: concurrency,
				Description: description,
				Reverse:     reverse,
			}
			if len(env) > 0 {
				in.TriggerParameters = &model.TriggerParameters{Env: env}
			}

			b, err := c.CreateBackfill(cmd.Context(), in, allowFuture)
			if err != nil {
				return err
			}

			if jsonOutput(cmd) {
				return printJSON(cmd, b)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderOK("created backfill "+b.ID))
			printBackfill(out, *b)
			return nil
		},
	}

	cmd.Flags().Int("concurrency", 1, "Instances to keep in flight")
	cmd.Flags().String("description", "", "Human readable reason for the backfill")
	cmd.Flags().Bool("reverse", false, "Trigger newest partitions first")
	cmd.Flags().Bool("allow-future", false, "Allow the range to extend beyond now")
	cmd.Flags().StringArray("env", nil, "Environment variable for every triggered instance, repeatable")

	return cmd
}

func newBackfillEditCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Change a backfill's concurrency or description",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := apiClient(cmd)
			if err != nil {
				return err
			}
			var in model.EditableBackfillInput
			if cmd.Flags().Changed("concurrency") {
				v, _ := cmd.Flags().GetInt("concurrency")
				in.Concurrency = &v
			}
			if cmd.Flags().Changed("description") {
				v, _ := cmd.Flags().GetString("description")
				in.Description = &v
			}
			if in.Concurrency == nil && in.Description == nil {
				return fmt.Errorf("nothing to change, pass --concurrency or --description")
			}

			b, err := c.UpdateBackfill(cmd.Context(), args[0], in)
			if err != nil {
				return err
			}

			if jsonOutput(cmd) {
				return printJSON(cmd, b)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderOK("updated backfill "+b.ID))
			printBackfill(out, *b)
			return nil
		},
	}

	cmd.Flags().Int("concurrency", 0, "New concurrency")
	cmd.Flags().String("description", "", "New description")

	return cmd
}

func newBackfillHaltCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "halt <id>",
		Short: "Halt a backfill",
		Long: `Halt a backfill: no further partitions are triggered and its active
instances are halted. Already completed partitions are untouched.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := apiClient(cmd)
			if err != nil {
				return err
			}
			if err := c.HaltBackfill(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderOK("halted backfill "+args[0]))
			return nil
		},
	}
}

// printBackfill writes the key-value block shared by show, create and edit.
func printBackfill(out io.Writer, b model.Backfill) {
	rangeNote := string(b.Schedule)
	if b.Reverse {
		rangeNote += ", reverse"
	}
	fmt.Fprintf(out, "%s %s\n", label("Workflow:"), b.Workflow)
	fmt.Fprintf(out, "%s %s -> %s (%s)\n", label("Range:"),
		timeutil.ToParameter(b.Schedule, b.Start),
		timeutil.ToParameter(b.Schedule, b.End),
		rangeNote)
	fmt.Fprintf(out, "%s %s\n", label("Next trigger:"), timeutil.ToParameter(b.Schedule, b.NextTrigger))
	fmt.Fprintf(out, "%s %d\n", label("Concurrency:"), b.Concurrency)
	if b.Description != "" {
		fmt.Fprintf(out, "%s %s\n", label("Description:"), b.Description)
	}
	if b.TriggerParameters != nil && len(b.TriggerParameters.Env) > 0 {
		fmt.Fprintf(out, "%s %s\n", label("Env:"), formatEnv(b.TriggerParameters.Env))
	}
	fmt.Fprintf(out, "%s %s\n", label("State:"), renderBackfillState(b))
}
