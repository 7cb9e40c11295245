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

// Package cli implements the takt command line client. Every command is a
// thin wrapper over the taktd HTTP API: parse arguments, call the client,
// render the response as a table or as JSON with --json.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/takt-io/takt/internal/client"
	"github.com/takt-io/takt/internal/state"
	"github.com/takt-io/takt/pkg/errors"
)

// Version information (injected from main via SetVersion).
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// SetVersion sets the version information (called from main).
func SetVersion(v, c, b string) {
	version, commit, buildDate = v, c, b
}

// NewRootCommand creates the root Cobra command for the takt CLI.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "takt",
		Short: "takt - workflow scheduler CLI",
		Long: `takt is the command line client for taktd, the takt workflow
scheduler daemon. It registers workflows, triggers instances, runs
backfills and inspects the scheduler's view of the world over the
daemon's HTTP API.

The daemon to talk to is taken from --host or the TAKT_HOST
environment variable and defaults to ` + client.DefaultBaseURL + `.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().String("host", envOr("TAKT_HOST", client.DefaultBaseURL), "Base URL of the taktd API")
	cmd.PersistentFlags().String("token", os.Getenv("TAKT_TOKEN"), "Bearer token sent with every request")
	cmd.PersistentFlags().Bool("json", false, "Output in JSON format")

	cmd.AddCommand(
		newStatusCommand(),
		newTriggerCommand(),
		newHaltCommand(),
		newRetryCommand(),
		newEventsCommand(),
		newWorkflowCommand(),
		newBackfillCommand(),
		newPingCommand(),
	)

	return cmd
}

// HandleExitError prints err and exits non-zero. Called from main after
// Execute so errors carry a uniform prefix and exit code. When the error
// chain carries an actionable suggestion it is printed on its own line.
func HandleExitError(err error) {
	if err == nil {
		return
	}
	fmt.Fprintln(os.Stderr, renderFail("Error: "+err.Error()))
	if hint := userHint(err); hint != "" {
		fmt.Fprintln(os.Stderr, muted.Render("  hint: "+hint))
	}
	os.Exit(1)
}

// userHint extracts a suggestion from the first user-visible error in the
// chain. Empty when no error in the chain has one to offer.
func userHint(err error) string {
	var uv errors.UserVisibleError
	if errors.As(err, &uv) && uv.IsUserVisible() {
		return uv.Suggestion()
	}
	return ""
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// apiClient builds an API client from the persistent connection flags.
func apiClient(cmd *cobra.Command) (*client.Client, error) {
	host, _ := cmd.Flags().GetString("host")
	token, _ := cmd.Flags().GetString("token")
	var opts []client.Option
	if token != "" {
		opts = append(opts, client.WithToken(token))
	}
	return client.New(host, opts...)
}

func jsonOutput(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseEnv parses repeated KEY=VALUE flags into a map.
func parseEnv(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	env := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid env %q, expected KEY=VALUE", p)
		}
		env[k] = v
	}
	return env, nil
}

// formatEnv renders an env map as sorted KEY=VALUE pairs.
func formatEnv(env map[string]string) string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+env[k])
	}
	return strings.Join(pairs, " ")
}

const stateColumnWidth = len("AWAITING_RETRY")

// printStates writes one line per instance with a colored state column.
func printStates(out io.Writer, states []state.RunState) {
	width := len("INSTANCE")
	for _, rs := range states {
		if l := len(rs.Instance.String()); l > width {
			width = l
		}
	}
	fmt.Fprintf(out, "%-*s  %-*s  %5s  %s\n", width, "INSTANCE", stateColumnWidth, "STATE", "TRIES", "EXECUTION")
	for _, rs := range states {
		exec := rs.Data.ExecutionID
		if exec == "" {
			exec = "-"
		}
		fmt.Fprintf(out, "%-*s  %s  %5d  %s\n",
			width, rs.Instance, renderState(rs.State, stateColumnWidth), rs.Data.Tries, exec)
	}
}

// stateSummaryOrder fixes the rendering order of per-state counts, following
// the instance lifecycle. WAITING comes first: backfill statuses report
// not-yet-triggered partitions that way.
var stateSummaryOrder = []state.State{
	state.StateWaiting,
	state.StateNew,
	state.StateQueued,
	state.StatePrepare,
	state.StateSubmitting,
	state.StateSubmitted,
	state.StateRunning,
	state.StateTerminated,
	state.StateFailed,
	state.StateAwaitingRetry,
	state.StateDone,
	state.StateError,
}

// summarizeStates condenses instance states into "STATE=count" pairs.
func summarizeStates(states []state.RunState) string {
	if len(states) == 0 {
		return muted.Render("(none)")
	}
	counts := make(map[state.State]int, len(states))
	for _, rs := range states {
		counts[rs.State]++
	}
	var parts []string
	for _, s := range stateSummaryOrder {
		if n := counts[s]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s=%d", s, n))
			delete(counts, s)
		}
	}
	var rest []string
	for s, n := range counts {
		rest = append(rest, fmt.Sprintf("%s=%d", s, n))
	}
	sort.Strings(rest)
	parts = append(parts, rest...)
	return strings.Join(parts, " ")
}
