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

package sqlite_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/runbench/bench/internal/campaign"
	"github.com/runbench/bench/internal/store/sqlite"
	"github.com/runbench/bench/pkg/berrors"
)

func newBackend(t *testing.T) *sqlite.Backend {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "bench.db")
	b, err := sqlite.New(ctx, sqlite.Config{Path: path, WAL: true})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, b.Close()) })
	return b
}

func seedOneRun(t *testing.T, b *sqlite.Backend) string {
	t.Helper()
	ctx := context.Background()

	toolID, err := b.EnsureTool(ctx, campaign.Tool{ModuleID: "Echo", Version: "1.0"})
	require.NoError(t, err)

	groupID, err := b.EnsureParameterGroup(ctx, toolID, campaign.ParameterGroup{Tool: "Echo", Name: "default"}, nil)
	require.NoError(t, err)

	taskGroupID, err := b.EnsureTaskGroup(ctx, campaign.TaskGroup{Name: "t"})
	require.NoError(t, err)

	taskID, err := b.EnsureTask(ctx, taskGroupID, campaign.Task{Path: "/inputs/a.txt", Group: "t"})
	require.NoError(t, err)

	id, created, err := b.EnsureRun(ctx, toolID, groupID, taskID, 0, "/out/Echo/default/t/a.txt")
	require.NoError(t, err)
	require.True(t, created)
	return id
}

func TestEnsureRunIsIdempotent(t *testing.T) {
	b := newBackend(t)
	ctx := context.Background()

	toolID, err := b.EnsureTool(ctx, campaign.Tool{ModuleID: "Echo"})
	require.NoError(t, err)
	groupID, err := b.EnsureParameterGroup(ctx, toolID, campaign.ParameterGroup{Name: "default"}, nil)
	require.NoError(t, err)
	taskGroupID, err := b.EnsureTaskGroup(ctx, campaign.TaskGroup{Name: "t"})
	require.NoError(t, err)
	taskID, err := b.EnsureTask(ctx, taskGroupID, campaign.Task{Path: "/a.txt"})
	require.NoError(t, err)

	_, created1, err := b.EnsureRun(ctx, toolID, groupID, taskID, 0, "/out/a")
	require.NoError(t, err)
	require.True(t, created1)

	_, created2, err := b.EnsureRun(ctx, toolID, groupID, taskID, 0, "/out/a")
	require.NoError(t, err)
	require.False(t, created2)

	ids, err := b.RecomputePendingRunIDs(ctx)
	require.NoError(t, err)
	require.Len(t, ids, 1)
}

func TestClaimNextPendingRunNoDoubleDispatch(t *testing.T) {
	b := newBackend(t)
	ctx := context.Background()
	runID := seedOneRun(t, b)

	var wg sync.WaitGroup
	claimed := make([]string, 4)
	errs := make([]error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rc, err := b.ClaimNextPendingRun(ctx)
			if err == nil {
				claimed[i] = rc.ID
			}
			errs[i] = err
		}(i)
	}
	wg.Wait()

	var successes int
	for i, err := range errs {
		if err == nil {
			successes++
			require.Equal(t, runID, claimed[i])
		} else {
			require.ErrorIs(t, err, berrors.ErrNoPendingRun)
		}
	}
	require.Equal(t, 1, successes)
}

func TestSaveRunStatisticExactlyOnce(t *testing.T) {
	b := newBackend(t)
	ctx := context.Background()
	runID := seedOneRun(t, b)

	cpu := 1.5
	err := b.SaveRunStatistic(ctx, campaign.RunStatistic{Run: runID, Verdict: campaign.VerdictOK, CPUTime: &cpu})
	require.NoError(t, err)

	err = b.SaveRunStatistic(ctx, campaign.RunStatistic{Run: runID, Verdict: campaign.VerdictOK})
	require.ErrorIs(t, err, berrors.ErrStoreConflict)

	stat, err := b.GetRunStatistic(ctx, runID)
	require.NoError(t, err)
	require.NotNil(t, stat)
	require.Equal(t, campaign.VerdictOK, stat.Verdict)
}

func TestRecomputePendingRunIDsRequeuesRunning(t *testing.T) {
	b := newBackend(t)
	ctx := context.Background()
	runID := seedOneRun(t, b)

	_, err := b.ClaimNextPendingRun(ctx)
	require.NoError(t, err)
	require.NoError(t, b.SetRunStatus(ctx, runID, campaign.StatusRunning, -1))

	ids, err := b.RecomputePendingRunIDs(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{runID}, ids)

	run, err := b.GetRun(ctx, runID)
	require.NoError(t, err)
	require.Equal(t, campaign.StatusPending, run.Status)
}

func TestRecomputePendingRunIDsRePendsDoneRunsWhenStepsExtended(t *testing.T) {
	b := newBackend(t)
	ctx := context.Background()
	runID := seedOneRun(t, b)

	require.NoError(t, b.EnsureSteps(ctx, []campaign.Step{{Category: campaign.StepCategoryRun, Ordinal: 0, Module: "run"}}))
	_, err := b.ClaimNextPendingRun(ctx)
	require.NoError(t, err)
	require.NoError(t, b.SetRunStatus(ctx, runID, campaign.StatusDone, 0))

	// No new steps yet: the run's last_step (0) matches the tail (0), and
	// it's already DONE, so nothing should be re-PENDINGed.
	ids, err := b.RecomputePendingRunIDs(ctx)
	require.NoError(t, err)
	require.Empty(t, ids)

	// Tail-extend the run-category step list; the DONE run now lags the
	// new tail ordinal and must be re-PENDINGed.
	require.NoError(t, b.EnsureSteps(ctx, []campaign.Step{{Category: campaign.StepCategoryRun, Ordinal: 1, Module: "run2"}}))
	ids, err = b.RecomputePendingRunIDs(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{runID}, ids)

	run, err := b.GetRun(ctx, runID)
	require.NoError(t, err)
	require.Equal(t, campaign.StatusPending, run.Status)
}

func TestMaxStepOrdinalEmpty(t *testing.T) {
	b := newBackend(t)
	ord, err := b.MaxStepOrdinal(context.Background(), campaign.StepCategoryRun)
	require.NoError(t, err)
	require.Equal(t, -1, ord)
}

func TestSaveRunStatisticUpdatesStatsSummary(t *testing.T) {
	b := newBackend(t)
	ctx := context.Background()
	runID := seedOneRun(t, b)

	require.NoError(t, b.SaveRunStatistic(ctx, campaign.RunStatistic{Run: runID, Verdict: campaign.VerdictOK}))

	rows, err := b.StatsSummary(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "Echo", rows[0].Tool)
	require.Equal(t, "default", rows[0].ParameterGroup)
	require.Equal(t, campaign.VerdictOK, rows[0].Verdict)
	require.Equal(t, 1, rows[0].Count)
}

func TestDomainStoreSATAndSudokuVerdictsAreWriteOnce(t *testing.T) {
	b := newBackend(t)
	ctx := context.Background()
	runID := seedOneRun(t, b)

	require.NoError(t, b.SaveSATVerdict(ctx, campaign.SATVerdict{Run: runID, Valid: true}))
	err := b.SaveSATVerdict(ctx, campaign.SATVerdict{Run: runID, Valid: false})
	require.ErrorIs(t, err, berrors.ErrStoreConflict)

	require.NoError(t, b.SaveSudokuVerdict(ctx, campaign.SudokuVerdict{Run: runID, Valid: false}))
	err = b.SaveSudokuVerdict(ctx, campaign.SudokuVerdict{Run: runID, Valid: true})
	require.ErrorIs(t, err, berrors.ErrStoreConflict)
}

func TestEnsureNodeSharesNodeRowAcrossRuns(t *testing.T) {
	b := newBackend(t)
	ctx := context.Background()
	runID := seedOneRun(t, b)

	node := campaign.Node{Hostname: "worker-1", Platform: "linux", Arch: "amd64", CPUModel: "generic", CPUCount: 8, MemoryBytes: 1 << 30}
	require.NoError(t, b.EnsureNode(ctx, runID, node))
	// Re-running EnsureNode for the same host and run is idempotent:
	// neither the node row nor the junction row duplicate.
	require.NoError(t, b.EnsureNode(ctx, runID, node))
}
