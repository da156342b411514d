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

// Package bootstrap implements "benchctl bootstrap": send a campaign spec
// to a running server's BOOTSTRAP event and report the resulting pending
// run count
package bootstrap

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/runbench/bench/internal/commands/shared"
	"github.com/runbench/bench/internal/wire"
)

// NewCommand creates the bootstrap command.
func NewCommand() *cobra.Command {
	var (
		outputDir string
		repeat    int
	)

	cmd := &cobra.Command{
		Use:   "bootstrap <campaign.yaml>",
		Short: "Plan a campaign against a running server",
		Long: `Bootstrap reads a campaign spec, sends it to the server's BOOTSTRAP event,
and prints the number of runs now pending.

Safe to run more than once against the same output directory: the server's
planner is idempotent .`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read campaign spec: %w", err)
			}

			payload := map[string]wire.Value{
				"config":     string(data),
				"output_dir": outputDir,
				"repeat":     int64(repeat),
			}

			reply, err := shared.CallServer(shared.GetServerAddress(), wire.EventBootstrap, payload, 30*time.Second)
			if err != nil {
				return err
			}
			pending, _ := reply.(int64)

			if shared.GetJSON() {
				return json.NewEncoder(os.Stdout).Encode(map[string]any{
					"pending":    pending,
					"output_dir": outputDir,
				})
			}
			fmt.Printf("bootstrapped: %d runs pending in %s\n", pending, outputDir)
			return nil
		},
	}

	cmd.Flags().StringVar(&outputDir, "output-dir", ".", "Directory for run artifacts")
	cmd.Flags().IntVar(&repeat, "repeat", 1, "Repetitions per (parameter group, task)")

	return cmd
}
