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

package main

import (
	"log/slog"
	"os"

	"github.com/takt-io/takt/internal/cli"
	"github.com/takt-io/takt/internal/log"
)

// Version information (injected via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	slog.SetDefault(log.New(cliLogConfig()))
	cli.SetVersion(version, commit, buildDate)

	rootCmd := cli.NewRootCommand()
	if err := rootCmd.Execute(); err != nil {
		cli.HandleExitError(err)
	}
}

// cliLogConfig quiets the transport logging a terminal user should not see.
// TAKT_DEBUG and the usual level variables still win, so --host mishaps can
// be debugged with the same knobs as the daemon.
func cliLogConfig() *log.Config {
	cfg := log.FromEnv()
	if os.Getenv("TAKT_DEBUG") == "" && os.Getenv("TAKT_LOG_LEVEL") == "" && os.Getenv("LOG_LEVEL") == "" {
		cfg.Level = "error"
	}
	if os.Getenv("LOG_FORMAT") == "" {
		cfg.Format = log.FormatText
	}
	return cfg
}
