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

// Package cli builds benchctl's root Cobra command: persistent flags
// bound to package-level variables in internal/commands/shared, with
// SilenceUsage/SilenceErrors set so the root command can report its own
// exit codes.
package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/runbench/bench/internal/commands/shared"
	"github.com/runbench/bench/pkg/berrors"
)

// SetVersion sets the version information (called from main).
func SetVersion(v, c, b string) {
	shared.SetVersion(v, c, b)
}

// NewRootCommand creates the root Cobra command for benchctl.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "benchctl",
		Short: "benchctl drives a benchmark campaign engine",
		Long: `benchctl is the operator CLI for the benchmark campaign engine: bootstrap
a campaign spec against a running server, launch workers locally or on a
cluster, and check status.

Run 'benchctl serve' to start an embedded server.
Run 'benchctl bootstrap <campaign.yaml>' to plan one against it.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	jsonFlag, configFlag, serverFlag, tokenFlag := shared.RegisterFlagPointers()
	cmd.PersistentFlags().BoolVar(jsonFlag, "json", false, "Output in JSON format")
	cmd.PersistentFlags().StringVar(configFlag, "config", "", "Path to bench.yaml")
	cmd.PersistentFlags().StringVar(serverFlag, "server", "127.0.0.1:31313", "Event Router address")
	cmd.PersistentFlags().StringVar(tokenFlag, "token", "", "Bearer token for the server's auth check")

	return cmd
}

// HandleExitError prints err (if any) and exits with the exit code
// pkg/berrors.ExitCode derives from it.
func HandleExitError(err error) {
	if err == nil {
		return
	}
	os.Stderr.WriteString("Error: " + err.Error() + "\n")
	os.Exit(berrors.ExitCode(err))
}
