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

	"github.com/charmbracelet/lipgloss"

	"github.com/takt-io/takt/internal/model"
	"github.com/takt-io/takt/internal/state"
)

// CLI style palette.
var (
	statusOK    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))  // green
	statusWarn  = lipgloss.NewStyle().Foreground(lipgloss.Color("214")) // orange
	statusError = lipgloss.NewStyle().Foreground(lipgloss.Color("196")) // red
	statusInfo  = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))  // blue
	muted       = lipgloss.NewStyle().Foreground(lipgloss.Color("245")) // gray
	bold        = lipgloss.NewStyle().Bold(true)
)

// Symbols for status indicators.
const (
	symbolOK   = "✓"
	symbolFail = "✗"
)

// renderOK renders a success message with a green checkmark.
func renderOK(msg string) string {
	return statusOK.Render(symbolOK) + " " + msg
}

// renderFail renders a failure message with a red cross.
func renderFail(msg string) string {
	return statusError.Render(symbolFail) + " " + msg
}

// label renders a dim key label for key-value blocks.
func label(name string) string {
	return muted.Render(fmt.Sprintf("%-14s", name))
}

// renderState pads the state name to width and colors it. Padding happens
// before styling so the ANSI escapes do not skew column alignment.
func renderState(s state.State, width int) string {
	padded := fmt.Sprintf("%-*s", width, string(s))
	switch s {
	case state.StateDone:
		return statusOK.Render(padded)
	case state.StateError, state.StateFailed:
		return statusError.Render(padded)
	case state.StateAwaitingRetry:
		return statusWarn.Render(padded)
	case state.StateRunning, state.StateSubmitted, state.StateSubmitting, state.StatePrepare, state.StateTerminated:
		return statusInfo.Render(padded)
	default:
		return muted.Render(padded)
	}
}

// renderBackfillState renders the lifecycle word for a backfill.
func renderBackfillState(b model.Backfill) string {
	switch {
	case b.Halted:
		return statusError.Render("halted")
	case b.AllTriggered:
		return statusOK.Render("all triggered")
	default:
		return statusInfo.Render("active")
	}
}

// renderEnabled renders a workflow enabled flag.
func renderEnabled(enabled bool) string {
	if enabled {
		return statusOK.Render("enabled")
	}
	return muted.Render("disabled")
}
