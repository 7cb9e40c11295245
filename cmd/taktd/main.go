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

// taktd is the workflow scheduler daemon. It restores instance state
// from the event log, starts the trigger and scheduling loops, and
// serves the HTTP API until SIGINT or SIGTERM.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/takt-io/takt/internal/config"
	"github.com/takt-io/takt/internal/daemon"
	"github.com/takt-io/takt/internal/log"
)

// Set at build time via ldflags.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	var (
		configPath    = flag.String("config", "", "Path to the configuration file")
		mode          = flag.String("mode", "", "Run mode: development or production")
		listenAddr    = flag.String("listen", "", "HTTP listen address")
		storagePath   = flag.String("storage", "", "SQLite database file")
		workflowsFile = flag.String("workflows", "", "Workflow definitions YAML file to watch")
		showVersion   = flag.Bool("version", false, "Print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("taktd %s (commit: %s, built: %s)\n", version, commit, buildDate)
		return
	}

	logger := log.New(log.FromEnv())
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("cannot load configuration", log.Error(err))
		os.Exit(1)
	}

	// Flags win over the file and the environment.
	if *mode != "" {
		cfg.Mode = config.Mode(*mode)
	}
	if *listenAddr != "" {
		cfg.HTTP.ListenAddr = *listenAddr
	}
	if *storagePath != "" {
		cfg.Storage.Path = *storagePath
	}
	if *workflowsFile != "" {
		cfg.Workflows.File = *workflowsFile
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("configuration rejected", log.Error(err))
		os.Exit(1)
	}

	d, err := daemon.New(cfg, daemon.Options{
		Version:   version,
		Commit:    commit,
		BuildDate: buildDate,
	})
	if err != nil {
		logger.Error("daemon construction failed", log.Error(err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start blocks until the serve loop fails or the run context is
	// canceled by a signal.
	if err := d.Start(ctx); err != nil {
		logger.Error("daemon exited", log.Error(err))
		os.Exit(1)
	}

	// A second signal past this point kills the process the default way.
	stop()
	logger.Info("shutdown signal received")
	if err := d.Shutdown(context.Background()); err != nil {
		logger.Error("shutdown failed", log.Error(err))
		os.Exit(1)
	}
}
