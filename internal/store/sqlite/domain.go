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

package sqlite

import (
	"context"
	"fmt"

	"github.com/runbench/bench/internal/campaign"
	"github.com/runbench/bench/pkg/berrors"
)

// SaveSATVerdict writes a run's satisfiability verdict exactly once.
func (b *Backend) SaveSATVerdict(ctx context.Context, v campaign.SATVerdict) error {
	res, err := b.db.ExecContext(ctx,
		`INSERT INTO sat_verdicts (run_id, valid)
		 VALUES (?, ?)
		 ON CONFLICT(run_id) DO NOTHING`,
		v.Run, v.Valid)
	if err != nil {
		return fmt.Errorf("save sat verdict for %q: %w", v.Run, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: sat verdict for %q already recorded", berrors.ErrStoreConflict, v.Run)
	}
	return nil
}

// SaveSudokuVerdict writes a run's constraint-validation verdict exactly
// once.
func (b *Backend) SaveSudokuVerdict(ctx context.Context, v campaign.SudokuVerdict) error {
	res, err := b.db.ExecContext(ctx,
		`INSERT INTO sudoku_verdicts (run_id, valid)
		 VALUES (?, ?)
		 ON CONFLICT(run_id) DO NOTHING`,
		v.Run, v.Valid)
	if err != nil {
		return fmt.Errorf("save sudoku verdict for %q: %w", v.Run, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: sudoku verdict for %q already recorded", berrors.ErrStoreConflict, v.Run)
	}
	return nil
}

// EnsureNode inserts the Node row for node.Hostname if absent, then links
// runID to it with a RunNode junction row. Both inserts are
// conflict-ignore: a machine that has already run benchmarks, or a run
// that has already been linked (a worker restarting on the same host),
// leaves existing rows untouched.
func (b *Backend) EnsureNode(ctx context.Context, runID string, node campaign.Node) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ensure node: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO nodes (hostname, platform, arch, cpu_model, cpu_count, memory_bytes, swap_bytes)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(hostname) DO NOTHING`,
		node.Hostname, node.Platform, node.Arch, node.CPUModel, node.CPUCount, node.MemoryBytes, node.SwapBytes); err != nil {
		return fmt.Errorf("ensure node: insert node: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO run_nodes (run_id, hostname) VALUES (?, ?)
		 ON CONFLICT(run_id, hostname) DO NOTHING`,
		runID, node.Hostname); err != nil {
		return fmt.Errorf("ensure node: insert run_node: %w", err)
	}
	return tx.Commit()
}
