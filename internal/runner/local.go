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
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/takt-io/takt/internal/log"
	"github.com/takt-io/takt/internal/model"
	"github.com/takt-io/takt/pkg/errors"
)

const (
	localRunnerID = "local"

	// containerPrefix namespaces this process's containers so cleanup can
	// address them by execution id.
	containerPrefix = "takt-"

	// startedRetries bounds how often the watcher re-offers the started
	// event while waiting for the submitted transition to land.
	startedRetries  = 10
	startedInterval = 200 * time.Millisecond
)

// LocalRunner executes workflow instances as containers through the local
// docker CLI. It is the development-mode runner: one watcher goroutine per
// execution follows the container and reports started and terminate events.
type LocalRunner struct {
	docker string
	router EventRouter
	logger *slog.Logger
}

// NewLocal creates a docker CLI backed runner reporting into router.
func NewLocal(router EventRouter, logger *slog.Logger) *LocalRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalRunner{
		docker: "docker",
		router: router,
		logger: log.WithComponent(logger, "local-runner"),
	}
}

// Start launches the container detached and spawns a watcher for it.
func (r *LocalRunner) Start(ctx context.Context, spec Spec) error {
	if spec.Description.Image == "" {
		return &errors.RunnerError{
			Runner:      localRunnerID,
			ExecutionID: spec.ExecutionID,
			Message:     "execution description has no image",
			Fatal:       true,
		}
	}

	args := []string{"run", "--detach", "--name", containerPrefix + spec.ExecutionID}
	for _, pair := range spec.Env() {
		args = append(args, "--env", pair)
	}
	args = append(args, spec.Description.Image)
	args = append(args, spec.Args()...)

	cmd := exec.CommandContext(ctx, r.docker, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return &errors.RunnerError{
			Runner:      localRunnerID,
			ExecutionID: spec.ExecutionID,
			Message:     fmt.Sprintf("docker run failed: %s", firstLine(stderr.String())),
			Cause:       err,
		}
	}

	r.logger.Info("container started",
		log.String(log.ExecutionKey, spec.ExecutionID),
		log.String("image", spec.Description.Image))

	go r.watch(spec)
	return nil
}

// watch follows one container to completion. It runs detached from the
// caller: containers outlive requests and even graceful shutdowns, and a
// restarted daemon re-attaches through replay rather than through watchers.
func (r *LocalRunner) watch(spec Spec) {
	ctx := context.Background()

	// The submitted transition races with very fast containers; offer
	// started a few times until the machine is ready for it.
	var err error
	for attempt := 0; attempt < startedRetries; attempt++ {
		err = r.router.Receive(ctx, model.Started(spec.Instance))
		var illegal *errors.IllegalTransitionError
		if errors.As(err, &illegal) {
			time.Sleep(startedInterval)
			continue
		}
		break
	}
	if err != nil {
		r.logger.Error("reporting started failed",
			log.String(log.ExecutionKey, spec.ExecutionID), log.Error(err))
		return
	}

	exit, err := r.wait(ctx, spec.ExecutionID)
	if err != nil {
		r.logger.Error("waiting for container failed",
			log.String(log.ExecutionKey, spec.ExecutionID), log.Error(err))
		if rerr := r.router.Receive(ctx, model.RunError(spec.Instance, err.Error())); rerr != nil {
			r.logger.Error("reporting run error failed",
				log.String(log.ExecutionKey, spec.ExecutionID), log.Error(rerr))
		}
		return
	}

	if err := r.router.Receive(ctx, model.Terminate(spec.Instance, &exit)); err != nil {
		r.logger.Error("reporting termination failed",
			log.String(log.ExecutionKey, spec.ExecutionID),
			log.Int("exit_code", exit), log.Error(err))
	}
}

// wait blocks until the container exits and returns its exit code.
func (r *LocalRunner) wait(ctx context.Context, executionID string) (int, error) {
	cmd := exec.CommandContext(ctx, r.docker, "wait", containerPrefix+executionID)
	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("docker wait: %w", err)
	}
	exit, err := strconv.Atoi(strings.TrimSpace(string(out)))
	if err != nil {
		return 0, fmt.Errorf("parsing exit code %q: %w", strings.TrimSpace(string(out)), err)
	}
	return exit, nil
}

// Cleanup force-removes the execution's container. Unknown containers are
// fine: cleanup runs on every terminal transition, including ones that
// never got as far as starting a container.
func (r *LocalRunner) Cleanup(ctx context.Context, executionID string) error {
	if executionID == "" {
		return nil
	}
	cmd := exec.CommandContext(ctx, r.docker, "rm", "--force", containerPrefix+executionID)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if strings.Contains(stderr.String(), "No such container") {
			return nil
		}
		return &errors.RunnerError{
			Runner:      localRunnerID,
			ExecutionID: executionID,
			Message:     fmt.Sprintf("docker rm failed: %s", firstLine(stderr.String())),
			Cause:       err,
		}
	}
	return nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
