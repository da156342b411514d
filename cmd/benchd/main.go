// Copyright 2025 Tom Barlow
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

// Command benchd is the Event Router + Core Observer daemon: one
// long-lived process that owns the sqlite store, accepts worker
// connections, and runs the dispatcher until the campaign drains (or
// forever, with --serve-forever). The actual wiring lives in
// internal/daemon so benchctl's "serve" subcommand can share it.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/runbench/bench/internal/config"
	"github.com/runbench/bench/internal/daemon"
	"github.com/runbench/bench/internal/log"
	"github.com/runbench/bench/pkg/berrors"
)

// Version information (injected via ldflags at build time).
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Path to bench.yaml")
		listen      = flag.String("listen", "", "Override config's listen address")
		serveForver = flag.Bool("serve-forever", false, "Never self-terminate on campaign drain")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("benchd %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "benchd: load config:", err)
		os.Exit(berrors.ExitCode(err))
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	if *serveForver {
		cfg.ServeForever = true
	}

	logger := log.New(&cfg.Log)
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	d, err := daemon.New(ctx, cfg, logger, daemon.Options{Version: version})
	if err != nil {
		logger.Error("benchd setup failed", slog.Any("error", err))
		os.Exit(berrors.ExitCode(err))
	}

	runErr := d.Start(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := d.Shutdown(shutdownCtx); err != nil {
		logger.Warn("benchd shutdown reported an error", slog.Any("error", err))
	}

	if runErr != nil {
		logger.Error("benchd exited with error", slog.Any("error", runErr))
		os.Exit(berrors.ExitCode(runErr))
	}
}
