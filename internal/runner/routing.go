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

package runner

import (
	"context"
	"sync"

	"github.com/takt-io/takt/pkg/errors"
)

// Factory builds the runner registered under id.
type Factory func(id string) (Runner, error)

// RoutingRunner delegates to the runner named by a supplier, creating
// instances lazily and caching them. Flipping the supplier's value moves
// new submissions to another execution backend without a restart; cleanups
// route the same way, so backends must tolerate unknown execution ids.
type RoutingRunner struct {
	factory  Factory
	runnerID func() string

	mu      sync.Mutex
	runners map[string]Runner
}

// NewRouting creates a routing runner. runnerID is consulted on every call.
func NewRouting(factory Factory, runnerID func() string) *RoutingRunner {
	return &RoutingRunner{
		factory:  factory,
		runnerID: runnerID,
		runners:  make(map[string]Runner),
	}
}

func (r *RoutingRunner) runner() (Runner, error) {
	id := r.runnerID()

	r.mu.Lock()
	defer r.mu.Unlock()
	if ru, ok := r.runners[id]; ok {
		return ru, nil
	}
	ru, err := r.factory(id)
	if err != nil {
		return nil, errors.Wrapf(err, "creating runner %q", id)
	}
	r.runners[id] = ru
	return ru, nil
}

// Start routes to the currently selected runner.
func (r *RoutingRunner) Start(ctx context.Context, spec Spec) error {
	ru, err := r.runner()
	if err != nil {
		return err
	}
	return ru.Start(ctx, spec)
}

// Cleanup routes to the currently selected runner.
func (r *RoutingRunner) Cleanup(ctx context.Context, executionID string) error {
	ru, err := r.runner()
	if err != nil {
		return err
	}
	return ru.Cleanup(ctx, executionID)
}
