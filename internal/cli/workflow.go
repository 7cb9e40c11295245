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
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/takt-io/takt/internal/client"
	"github.com/takt-io/takt/internal/model"
	"github.com/takt-io/takt/internal/source"
)

func newWorkflowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "workflow",
		Aliases: []string{"wf"},
		Short:   "Manage workflow definitions",
	}

	cmd.AddCommand(
		newWorkflowListCommand(),
		newWorkflowShowCommand(),
		newWorkflowRegisterCommand(),
		newWorkflowDeleteCommand(),
		newWorkflowEnableCommand(),
		newWorkflowDisableCommand(),
	)

	return cmd
}

func newWorkflowListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list [component]",
		Short: "List registered workflows",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := apiClient(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			var workflows []model.Workflow
			if len(args) == 1 {
				workflows, err = c.ComponentWorkflows(ctx, args[0])
			} else {
				workflows, err = c.Workflows(ctx)
			}
			if err != nil {
				return err
			}

			if jsonOutput(cmd) {
				return printJSON(cmd, workflows)
			}

			out := cmd.OutOrStdout()
			if len(workflows) == 0 {
				fmt.Fprintln(out, muted.Render("(no workflows)"))
				return nil
			}
			width := len("WORKFLOW")
			for _, wf := range workflows {
				if l := len(wf.ID.String()); l > width {
					width = l
				}
			}
			fmt.Fprintf(out, "%-*s  %-10s  %s\n", width, "WORKFLOW", "SCHEDULE", "IMAGE")
			for _, wf := range workflows {
				image := wf.Config.Image
				if image == "" {
					image = muted.Render("(not configured)")
				}
				fmt.Fprintf(out, "%-*s  %-10s  %s\n", width, wf.ID, wf.Schedule, image)
			}
			return nil
		},
	}
}

func newWorkflowShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <component> <name>",
		Short: "Show a workflow definition and its scheduling state",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := apiClient(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			id := model.NewWorkflowID(args[0], args[1])

			wf, err := c.Workflow(ctx, id)
			if err != nil {
				return err
			}
			st, err := c.WorkflowState(ctx, id)
			if err != nil {
				return err
			}

			if jsonOutput(cmd) {
				return printJSON(cmd, struct {
					Workflow *model.Workflow      `json:"workflow"`
					State    *model.WorkflowState `json:"state"`
				}{wf, st})
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s\n", label("Workflow:"), bold.Render(wf.ID.String()))
			fmt.Fprintf(out, "%s %s\n", label("Schedule:"), wf.Schedule)
			if wf.Config.Image != "" {
				fmt.Fprintf(out, "%s %s\n", label("Image:"), wf.Config.Image)
			}
			if len(wf.Config.Args) > 0 {
				fmt.Fprintf(out, "%s %s\n", label("Args:"), strings.Join(wf.Config.Args, " "))
			}
			if len(wf.Config.Env) > 0 {
				fmt.Fprintf(out, "%s %s\n", label("Env:"), formatEnv(wf.Config.Env))
			}
			if wf.Config.Concurrency > 0 {
				fmt.Fprintf(out, "%s %d\n", label("Concurrency:"), wf.Config.Concurrency)
			}
			fmt.Fprintf(out, "%s %s\n", label("State:"), renderEnabled(st.Enabled))
			if st.NextNaturalTrigger != nil {
				fmt.Fprintf(out, "%s %s\n", label("Next trigger:"), st.NextNaturalTrigger.UTC().Format(time.RFC3339))
			}
			return nil
		},
	}
}

func newWorkflowRegisterCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "register [component name]",
		Short: "Register or update workflows",
		Long: `Register a single workflow from flags, or every workflow in a
definition file with --file. Registering an existing workflow replaces
its definition; its enabled flag and trigger position are kept.`,
		Example: `  # Register one workflow from flags
  takt workflow register analytics daily-report --schedule days \
    --image gcr.io/analytics/report:1.4 --arg --date --arg {}

  # Register every workflow declared in a definition file
  takt workflow register --file workflows.yaml`,
		Args: cobra.MaximumNArgs(2),
		RunE: runWorkflowRegister,
	}

	cmd.Flags().StringP("file", "f", "", "Definition file to register workflows from")
	cmd.Flags().String("schedule", "", "Partitioning schedule (hours, days, weeks, months, years or a cron expression)")
	cmd.Flags().String("image", "", "Container image to run")
	cmd.Flags().StringArray("arg", nil, "Container argument, repeatable ({} expands to the partition parameter)")
	cmd.Flags().StringArray("env", nil, "Environment variable as KEY=VALUE, repeatable")
	cmd.Flags().Int("concurrency", 0, "Maximum concurrently running instances (0 means unlimited)")

	return cmd
}

func runWorkflowRegister(cmd *cobra.Command, args []string) error {
	c, err := apiClient(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	var registered []model.Workflow
	if file, _ := cmd.Flags().GetString("file"); file != "" {
		if len(args) != 0 {
			return fmt.Errorf("--file registers workflows by their declared ids, positional arguments are not allowed")
		}
		data, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("reading definition file: %w", err)
		}
		defs, err := source.ParseDefinitions(data)
		if err != nil {
			return err
		}
		if len(defs) == 0 {
			return fmt.Errorf("no workflows declared in %s", file)
		}
		for _, def := range defs {
			if err := def.Validate(); err != nil {
				return fmt.Errorf("invalid definition %s: %w", def.ID(), err)
			}
			wf := def.Workflow()
			stored, err := c.RegisterWorkflow(ctx, wf.ID, client.WorkflowInput{Schedule: wf.Schedule, Config: wf.Config})
			if err != nil {
				return err
			}
			registered = append(registered, *stored)
		}
	} else {
		if len(args) != 2 {
			return fmt.Errorf("expected <component> <name> arguments (or --file)")
		}
		schedule, _ := cmd.Flags().GetString("schedule")
		if schedule == "" {
			return fmt.Errorf("--schedule is required")
		}
		image, _ := cmd.Flags().GetString("image")
		wfArgs, _ := cmd.Flags().GetStringArray("arg")
		envPairs, _ := cmd.Flags().GetStringArray("env")
		env, err := parseEnv(envPairs)
		if err != nil {
			return err
		}
		concurrency, _ := cmd.Flags().GetInt("concurrency")

		id := model.NewWorkflowID(args[0], args[1])
		in := client.WorkflowInput{
			Schedule: model.Schedule(schedule),
			Config: model.WorkflowConfig{
				Image:       image,
				Args:        wfArgs,
				Env:         env,
				Concurrency: concurrency,
			},
		}
		stored, err := c.RegisterWorkflow(ctx, id, in)
		if err != nil {
			return err
		}
		registered = append(registered, *stored)
	}

	if jsonOutput(cmd) {
		return printJSON(cmd, registered)
	}
	out := cmd.OutOrStdout()
	for _, wf := range registered {
		fmt.Fprintln(out, renderOK("registered "+wf.ID.String()))
	}
	return nil
}

func newWorkflowDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <component> <name>...",
		Short: "Delete workflows",
		Long: `Delete one or more workflows of a component. Active instances keep
running until they terminate; only the definition and scheduling state
are removed.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := apiClient(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			component := args[0]
			for _, name := range args[1:] {
				id := model.NewWorkflowID(component, name)
				if err := c.DeleteWorkflow(ctx, id); err != nil {
					return err
				}
				fmt.Fprintln(out, renderOK("deleted "+id.String()))
			}
			return nil
		},
	}
}

func newWorkflowEnableCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "enable <component> <name>",
		Short: "Enable natural scheduling for a workflow",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return setWorkflowEnabled(cmd, args, true)
		},
	}
}

func newWorkflowDisableCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "disable <component> <name>",
		Short: "Disable natural scheduling for a workflow",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return setWorkflowEnabled(cmd, args, false)
		},
	}
}

func setWorkflowEnabled(cmd *cobra.Command, args []string, enabled bool) error {
	c, err := apiClient(cmd)
	if err != nil {
		return err
	}
	id := model.NewWorkflowID(args[0], args[1])
	st, err := c.SetWorkflowEnabled(cmd.Context(), id, enabled)
	if err != nil {
		return err
	}
	if jsonOutput(cmd) {
		return printJSON(cmd, st)
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderOK(id.String()+" is now "+renderEnabled(st.Enabled)))
	return nil
}
