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

package handler

import (
	"context"

	"github.com/takt-io/takt/internal/metrics"
	"github.com/takt-io/takt/internal/state"
)

// Monitoring counts committed transitions and termination exit codes. It
// must stay last in the handler chain so its counts reflect transitions the
// other handlers already saw.
type Monitoring struct{}

// NewMonitoring creates the handler.
func NewMonitoring() *Monitoring {
	return &Monitoring{}
}

var _ state.OutputHandler = (*Monitoring)(nil)

// TransitionInto meters the entered state.
func (Monitoring) TransitionInto(_ context.Context, rs state.RunState, _ state.EventRouter) {
	metrics.RecordTransition(string(rs.State))

	switch rs.State {
	case state.StateTerminated:
		metrics.RecordExitCode(rs.Data.LastExit)
	case state.StateDone:
		// Exit codes on DONE come from success terminations only; a halt
		// carries a stale exit from an earlier attempt.
		if exit := rs.Data.LastExit; exit != nil && successExit(rs, *exit) {
			metrics.RecordExitCode(exit)
		}
	}
}

func successExit(rs state.RunState, exit int) bool {
	if d := rs.Data.ExecutionDescription; d != nil {
		return d.SuccessExit(exit)
	}
	return exit == 0
}
