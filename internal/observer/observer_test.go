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

package observer_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/runbench/bench/internal/campaign"
	"github.com/runbench/bench/internal/observer"
	"github.com/runbench/bench/internal/server"
	"github.com/runbench/bench/internal/store/sqlite"
	"github.com/runbench/bench/internal/wire"
)

func newBackend(t *testing.T) *sqlite.Backend {
	t.Helper()
	ctx := context.Background()
	b, err := sqlite.New(ctx, sqlite.Config{Path: filepath.Join(t.TempDir(), "bench.db"), WAL: true})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, b.Close()) })
	return b
}

func seedRun(t *testing.T, b *sqlite.Backend) string {
	t.Helper()
	ctx := context.Background()
	toolID, err := b.EnsureTool(ctx, campaign.Tool{ModuleID: "MiniSAT"})
	require.NoError(t, err)
	pgID, err := b.EnsureParameterGroup(ctx, toolID, campaign.ParameterGroup{Tool: "minisat", Name: "default"}, nil)
	require.NoError(t, err)
	tgID, err := b.EnsureTaskGroup(ctx, campaign.TaskGroup{Name: "cnf"})
	require.NoError(t, err)
	taskID, err := b.EnsureTask(ctx, tgID, campaign.Task{Path: "/tasks/a.cnf", Group: "cnf"})
	require.NoError(t, err)
	runID, _, err := b.EnsureRun(ctx, toolID, pgID, taskID, 0, filepath.Join(t.TempDir(), "run-a"))
	require.NoError(t, err)
	return runID
}

func TestSATValidatorPublishesValidVerdictForSatisfiableMatch(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "run.out"), []byte("s SATISFIABLE\n1 2 0\n"), 0o644))
	taskPath := filepath.Join(dir, "task.cnf")
	require.NoError(t, os.WriteFile(taskPath, []byte("c NOTE: Satisfiable\np cnf 2 1\n1 2 0\n"), 0o644))

	step, err := observer.New("SATValidator", "")
	require.NoError(t, err)

	var published map[string]wire.Value
	sc := &observer.Context{
		RunID:     "run-1",
		Directory: dir,
		Task:      taskPath,
		Publish: func(kind wire.EventKind, payload wire.Value) error {
			require.Equal(t, wire.EventSATVerdictStore, kind)
			published = payload.(map[string]wire.Value)
			return nil
		},
	}
	require.NoError(t, step.Execute(context.Background(), sc))
	require.Equal(t, true, published["valid"])
	require.Equal(t, "run-1", published["run_id"])
}

func TestSATValidatorPublishesInvalidVerdictOnMismatch(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "run.out"), []byte("s UNSATISFIABLE\n"), 0o644))
	taskPath := filepath.Join(dir, "task.cnf")
	require.NoError(t, os.WriteFile(taskPath, []byte("c NOTE: Satisfiable\np cnf 2 1\n1 2 0\n"), 0o644))

	step, err := observer.New("SATValidator", "")
	require.NoError(t, err)

	var valid bool
	sc := &observer.Context{
		RunID: "run-1", Directory: dir, Task: taskPath,
		Publish: func(_ wire.EventKind, payload wire.Value) error {
			valid = payload.(map[string]wire.Value)["valid"].(bool)
			return nil
		},
	}
	require.NoError(t, step.Execute(context.Background(), sc))
	require.False(t, valid)
}

const validSudokuGrid = "" +
	"+---+---+\n" +
	"| 1 2 | 3 4 |\n" +
	"| 3 4 | 1 2 |\n" +
	"+---+---+\n" +
	"| 2 1 | 4 3 |\n" +
	"| 4 3 | 2 1 |\n" +
	"+---+---+\n"

func TestSudokuValidatorAcceptsConsistentValidGrid(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "run.out"), []byte(validSudokuGrid), 0o644))
	taskPath := filepath.Join(dir, "task.txt")
	require.NoError(t, os.WriteFile(taskPath, []byte(validSudokuGrid), 0o644))

	step, err := observer.New("SudokuValidator", `{"check_consistency":true}`)
	require.NoError(t, err)

	var valid bool
	sc := &observer.Context{
		RunID: "run-2", Directory: dir, Task: taskPath,
		Publish: func(kind wire.EventKind, payload wire.Value) error {
			require.Equal(t, wire.EventSudokuVerdictStore, kind)
			valid = payload.(map[string]wire.Value)["valid"].(bool)
			return nil
		},
	}
	require.NoError(t, step.Execute(context.Background(), sc))
	require.True(t, valid)
}

func TestSudokuValidatorRejectsDuplicateInRow(t *testing.T) {
	dir := t.TempDir()
	broken := "" +
		"+---+---+\n" +
		"| 1 1 | 3 4 |\n" +
		"| 3 4 | 1 2 |\n" +
		"+---+---+\n" +
		"| 2 1 | 4 3 |\n" +
		"| 4 3 | 2 1 |\n" +
		"+---+---+\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "run.out"), []byte(broken), 0o644))
	taskPath := filepath.Join(dir, "task.txt")
	require.NoError(t, os.WriteFile(taskPath, []byte(broken), 0o644))

	step, err := observer.New("SudokuValidator", "")
	require.NoError(t, err)

	var valid bool
	sc := &observer.Context{
		RunID: "run-3", Directory: dir, Task: taskPath,
		Publish: func(_ wire.EventKind, payload wire.Value) error {
			valid = payload.(map[string]wire.Value)["valid"].(bool)
			return nil
		},
	}
	require.NoError(t, step.Execute(context.Background(), sc))
	require.False(t, valid)
}

func TestUnknownStepModuleReturnsErrUnknownModule(t *testing.T) {
	_, err := observer.New("NoSuchStep", "")
	require.Error(t, err)
}

func TestSATVerdictCollectorPersistsExactlyOnce(t *testing.T) {
	b := newBackend(t)
	runID := seedRun(t, b)
	c := observer.SATVerdictCollector(b, nil)

	events := make(chan server.Event, 1)
	events <- server.NewEvent(wire.EventSATVerdictStore, map[string]wire.Value{"run_id": runID, "valid": true}, "worker-1", nil)
	close(events)

	require.NoError(t, c.Run(context.Background(), events))
	// The verdict is now recorded, so a second write for the run is refused.
	require.Error(t, b.SaveSATVerdict(context.Background(), campaign.SATVerdict{Run: runID, Valid: true}))
}

func TestRunStatsCollectorPersistsVerdict(t *testing.T) {
	b := newBackend(t)
	runID := seedRun(t, b)
	c := observer.RunStatsCollector(b, nil)

	events := make(chan server.Event, 1)
	events <- server.NewEvent(wire.EventRunStatsStore, map[string]wire.Value{
		"run_id": runID, "verdict": "OK", "cpu_time": 1.5, "return_code": int64(0),
	}, "worker-1", nil)
	close(events)

	require.NoError(t, c.Run(context.Background(), events))

	stat, err := b.GetRunStatistic(context.Background(), runID)
	require.NoError(t, err)
	require.NotNil(t, stat)
	require.Equal(t, campaign.VerdictOK, stat.Verdict)
}

func TestAnalyzerRunsAnalysisStepsInOrdinalOrder(t *testing.T) {
	b := newBackend(t)
	ctx := context.Background()
	require.NoError(t, b.EnsureSteps(ctx, []campaign.Step{
		{Category: campaign.StepCategoryAnalysis, Ordinal: 0, Module: "SATValidator"},
	}))

	// SATValidator requires sc.Task/sc.Directory to read files; an
	// analysis-phase context has neither, so it must fail cleanly rather
	// than panic.
	a := observer.NewAnalyzer(b, t.TempDir(), filepath.Join(t.TempDir(), "bench.db"), nil)
	require.Error(t, a.Run(ctx))
}
