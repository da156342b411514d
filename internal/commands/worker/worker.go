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

// Package worker implements "benchctl worker": runs the join/request/
// step/finish loop against a server. This is the binary a cluster
// manager (internal/cluster) spawns, once per array task or pool slot.
package worker

import (
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/zalando/go-keyring"

	"github.com/runbench/bench/internal/commands/shared"
	"github.com/runbench/bench/internal/workerclient"
)

// keyringService is the system keychain service name under which a
// worker's bearer token is stored.
const keyringService = "bench-worker"

// NewCommand creates the worker command.
func NewCommand() *cobra.Command {
	var (
		runID     string
		saveToken bool
	)

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the benchmark worker loop against a server",
		RunE: func(cmd *cobra.Command, args []string) error {
			token := shared.GetToken()
			if token == "" {
				stored, err := keyring.Get(keyringService, shared.GetServerAddress())
				if err != nil && !errors.Is(err, keyring.ErrNotFound) {
					return fmt.Errorf("read token from system keychain: %w", err)
				}
				token = stored
			} else if saveToken {
				if err := keyring.Set(keyringService, shared.GetServerAddress(), token); err != nil {
					return fmt.Errorf("save token to system keychain: %w", err)
				}
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			w := workerclient.New(workerclient.Config{
				ServerAddress:    shared.GetServerAddress(),
				AuthToken:        token,
				PreAssignedRunID: runID,
				Logger:           slog.Default(),
			})
			return w.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&runID, "run-id", "", "Process exactly this run then exit (array mode)")
	cmd.Flags().BoolVar(&saveToken, "save-token", false, "Save --token in the system keychain for future runs against this server")

	return cmd
}
