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

// Package serve implements "benchctl serve": an embedded Event Router and
// Core Observer for local/dev use, so an operator doesn't need a separate
// benchd binary running.
package serve

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/runbench/bench/internal/commands/shared"
	"github.com/runbench/bench/internal/config"
	"github.com/runbench/bench/internal/daemon"
	"github.com/runbench/bench/internal/log"
)

// NewCommand creates the serve command.
func NewCommand() *cobra.Command {
	var (
		listen       string
		serveForever bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start an embedded Event Router and Core Observer",
		Long: `Start the Event Router to accept worker connections.

  # Start with default settings
  benchctl serve

  # Never self-terminate on campaign drain
  benchctl serve --serve-forever`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(shared.GetConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if listen != "" {
				cfg.Listen = listen
			}
			if serveForever {
				cfg.ServeForever = true
			}

			logger := log.New(&cfg.Log)
			version, _, _ := shared.GetVersion()
			logger.Info("benchctl serve starting", slog.String("version", version))

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			d, err := daemon.New(ctx, cfg, logger, daemon.Options{Version: version})
			if err != nil {
				return fmt.Errorf("daemon setup: %w", err)
			}

			runErr := d.Start(ctx)

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			if err := d.Shutdown(shutdownCtx); err != nil {
				logger.Warn("shutdown reported an error", slog.Any("error", err))
			}

			if runErr != nil {
				return runErr
			}
			fmt.Println("Goodbye!")
			return nil
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "Override config's listen address")
	cmd.Flags().BoolVar(&serveForever, "serve-forever", false, "Never self-terminate on campaign drain")

	return cmd
}
