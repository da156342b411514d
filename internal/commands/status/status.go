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

// Package status implements "benchctl status": opens the campaign's
// sqlite store directly (WAL mode allows a concurrent reader alongside
// benchd's writer) and prints the per-(tool, parameter group, verdict) run
// counts internal/metrics also exposes as Prometheus gauges.
package status

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/runbench/bench/internal/commands/shared"
	"github.com/runbench/bench/internal/store/sqlite"
)

var statusHeader = lipgloss.NewStyle().Bold(true)

// NewCommand creates the status command.
func NewCommand() *cobra.Command {
	var storePath string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show per-tool, per-verdict run counts for a campaign",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			backend, err := sqlite.New(ctx, sqlite.Config{Path: storePath, WAL: true})
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer backend.Close()

			rows, err := backend.StatsSummary(ctx)
			if err != nil {
				return fmt.Errorf("stats summary: %w", err)
			}

			if shared.GetJSON() {
				return json.NewEncoder(os.Stdout).Encode(rows)
			}

			printer := message.NewPrinter(language.English)
			tw := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
			fmt.Fprintln(tw, statusHeader.Render("TOOL\tPARAMETER GROUP\tVERDICT\tCOUNT"))
			for _, r := range rows {
				printer.Fprintf(tw, "%s\t%s\t%s\t%d\n", r.Tool, r.ParameterGroup, r.Verdict, r.Count)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&storePath, "store", "./bench.db", "Path to the campaign's sqlite database")
	cmd.AddCommand(newRerunCommand())

	return cmd
}

// newRerunCommand creates "benchctl status rerun": puts one run back to
// PENDING without resetting its last_step, so a worker resumes it past
// whatever steps it already completed instead of redoing them. Useful
// when a run's verdict needs reproducing or a fixed tool build needs
// re-exercising a run that already finished its earlier steps.
func newRerunCommand() *cobra.Command {
	var storePath string

	cmd := &cobra.Command{
		Use:   "rerun <run-id>",
		Short: "Requeue a run, keeping its completed-steps checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			backend, err := sqlite.New(ctx, sqlite.Config{Path: storePath, WAL: true})
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer backend.Close()

			if err := backend.ExtendSteps(ctx, args[0]); err != nil {
				return fmt.Errorf("rerun %s: %w", args[0], err)
			}
			fmt.Printf("run %s is pending again, resuming past its last completed step\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&storePath, "store", "./bench.db", "Path to the campaign's sqlite database")

	return cmd
}
