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

package observer

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/runbench/bench/internal/campaign"
	"github.com/runbench/bench/internal/server"
	"github.com/runbench/bench/internal/store"
	"github.com/runbench/bench/internal/wire"
)

func init() {
	Register("SudokuValidator", func(raw string) (Step, error) {
		return sudokuValidator{checkConsistency: strings.Contains(raw, `"check_consistency":true`)}, nil
	})
}

// sudokuValidator is the sudoku step (examples/sudokusat/sudoku/validate.py's
// Validator): it parses the solver's grid output, optionally checks it
// against the task's fixed cells, then checks row/column/block
// uniqueness for a generic N² board.
type sudokuValidator struct {
	checkConsistency bool
}

func (v sudokuValidator) Execute(ctx context.Context, sc *Context) error {
	task, err := readGridLines(sc.Task)
	if err != nil {
		return fmt.Errorf("sudoku validator: read task: %w", err)
	}
	output, err := readGridLines(filepath.Join(sc.Directory, "run.out"))
	if err != nil {
		return fmt.Errorf("sudoku validator: read output: %w", err)
	}

	valid := len(output) >= len(task)

	if valid && v.checkConsistency {
		valid = checkConsistency(task, output)
	}

	if valid {
		board := parseSudokuBoard(output)
		valid = checkSudokuConstraints(board)
	}

	return sc.Emit(wire.EventSudokuVerdictStore, map[string]wire.Value{
		"run_id": sc.RunID,
		"valid":  valid,
	})
}

// readGridLines reads path and keeps only the ASCII-art grid lines (those
// starting with "+" or "|"), matching _filter_empty_lines.
func readGridLines(path string) ([]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var lines []string
	for _, line := range strings.Split(string(raw), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if strings.HasPrefix(line, "+") || strings.HasPrefix(line, "|") {
			lines = append(lines, line)
		}
	}
	return lines, nil
}

// checkConsistency reports whether every non-blank ("_") cell in task
// matches the same cell in output.
func checkConsistency(task, output []string) bool {
	for i := range task {
		if i >= len(output) {
			return false
		}
		for j, ch := range task[i] {
			if ch != '_' && j < len(output[i]) && rune(output[i][j]) != ch {
				return false
			}
		}
	}
	return true
}

// parseSudokuBoard turns the "+---+" bordered grid lines into a flat
// board of cell strings, one row per "|"-prefixed line.
func parseSudokuBoard(lines []string) [][]string {
	var board [][]string
	for _, line := range lines {
		if strings.HasPrefix(line, "+") {
			continue
		}
		trimmed := line
		if len(trimmed) >= 2 {
			trimmed = trimmed[2 : len(trimmed)-2]
		}
		var row []string
		for _, block := range strings.Split(trimmed, " | ") {
			row = append(row, strings.Fields(block)...)
		}
		board = append(board, row)
	}
	return board
}

// checkSudokuConstraints checks row, column, and block uniqueness for a
// generic N² board, size derived from the row count.
func checkSudokuConstraints(board [][]string) bool {
	n := len(board)
	if n == 0 {
		return false
	}
	size := int(math.Sqrt(float64(n)))
	if size*size != n {
		return false
	}

	for _, row := range board {
		if !unique(row) {
			return false
		}
	}
	for col := 0; col < n; col++ {
		var column []string
		for _, row := range board {
			if col >= len(row) {
				return false
			}
			column = append(column, row[col])
		}
		if !unique(column) {
			return false
		}
	}
	for brow := 0; brow < size; brow++ {
		for bcol := 0; bcol < size; bcol++ {
			var block []string
			for i := brow * size; i < (brow+1)*size; i++ {
				if i >= len(board) {
					return false
				}
				for j := bcol * size; j < (bcol+1)*size; j++ {
					if j >= len(board[i]) {
						return false
					}
					block = append(block, board[i][j])
				}
			}
			if !unique(block) {
				return false
			}
		}
	}
	return true
}

func unique(vals []string) bool {
	seen := make(map[string]struct{}, len(vals))
	for _, v := range vals {
		if _, ok := seen[v]; ok {
			return false
		}
		seen[v] = struct{}{}
	}
	return true
}

// SudokuVerdictCollector persists sudokuverdict:store events
func SudokuVerdictCollector(st store.DomainStore, logger *slog.Logger) *Collector {
	return &Collector{
		Kind:   wire.EventSudokuVerdictStore,
		Logger: logger,
		Handle: func(ctx context.Context, ev server.Event) error {
			payload, ok := ev.Payload.(map[string]wire.Value)
			if !ok {
				return fmt.Errorf("sudokuverdict:store payload: expected map, got %T", ev.Payload)
			}
			runID, _ := payload["run_id"].(string)
			valid, _ := payload["valid"].(bool)
			return st.SaveSudokuVerdict(ctx, campaign.SudokuVerdict{Run: runID, Valid: valid})
		},
	}
}
