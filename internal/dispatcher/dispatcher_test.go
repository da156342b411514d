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

package dispatcher_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/runbench/bench/internal/bootstrap"
	"github.com/runbench/bench/internal/campaign"
	"github.com/runbench/bench/internal/dispatcher"
	"github.com/runbench/bench/internal/server"
	"github.com/runbench/bench/internal/store/sqlite"
	"github.com/runbench/bench/internal/wire"
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

type fakeJobs struct{ n int }

func (f *fakeJobs) SetJobsWaited(n int) { f.n = n }

func seedPlannedCampaign(t *testing.T, b *sqlite.Backend) {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("x"), 0o644))

	planner := bootstrap.New(b, nil)
	spec := &campaign.Spec{
		Title:  "t",
		Limits: campaign.LimitsSpec{TimeSeconds: 10},
		Tools:  map[string]campaign.ToolSpec{"echo": {Module: "Echo", Parameters: map[string]campaign.ParamGroup{"default": {Values: map[string]any{}}}}},
		Tasks:  map[string]campaign.TaskSpec{"t": {Type: "local", Path: dir, Patterns: []string{"*.txt"}}},
	}
	_, err := planner.Plan(ctx, spec, t.TempDir(), 1)
	require.NoError(t, err)
}

func TestWorkerJoinRepliesWithRunContextThenNullWhenExhausted(t *testing.T) {
	b := newBackend(t)
	seedPlannedCampaign(t, b)

	d := dispatcher.New(b, bootstrap.New(b, nil), nil, nil)

	var reply wire.Value
	ev := server.NewEvent(wire.EventWorkerJoin, nil, "worker-1", func(v wire.Value) error {
		reply = v
		return nil
	})
	d.Run(context.Background(), eventsOf(ev))

	m, ok := reply.(map[string]wire.Value)
	require.True(t, ok, "expected run context map, got %T", reply)
	require.Equal(t, "Echo", m["tool"])

	var second wire.Value
	ev2 := server.NewEvent(wire.EventWorkerJoin, nil, "worker-1", func(v wire.Value) error {
		second = v
		return nil
	})
	d.Run(context.Background(), eventsOf(ev2))
	require.Nil(t, second)
}

func TestBootstrapEventRunsPlannerAndReportsJobsWaited(t *testing.T) {
	b := newBackend(t)
	jobs := &fakeJobs{}
	d := dispatcher.New(b, bootstrap.New(b, nil), jobs, nil)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("x"), 0o644))

	configYAML := `
title: t
limits:
  time: 10
tools:
  echo:
    module: Echo
    parameters:
      default: {}
tasks:
  t:
    type: local
    path: ` + dir + `
    patterns: ["*.txt"]
`
	var reply wire.Value
	ev := server.NewEvent(wire.EventBootstrap, map[string]wire.Value{
		"config":     configYAML,
		"output_dir": t.TempDir(),
		"repeat":     int64(1),
	}, "manager", func(v wire.Value) error {
		reply = v
		return nil
	})
	d.Run(context.Background(), eventsOf(ev))

	require.Equal(t, int64(1), reply)
	require.Equal(t, 1, jobs.n)
}

func TestRunLifecycleTransitionsStatus(t *testing.T) {
	b := newBackend(t)
	seedPlannedCampaign(t, b)
	d := dispatcher.New(b, bootstrap.New(b, nil), nil, nil)

	var runCtx wire.Value
	join := server.NewEvent(wire.EventWorkerJoin, nil, "w", func(v wire.Value) error { runCtx = v; return nil })
	d.Run(context.Background(), eventsOf(join))
	runID := runCtx.(map[string]wire.Value)["id"].(string)

	start := server.NewEvent(wire.EventRunStart, map[string]wire.Value{"run_id": runID, "tool_version": "1.2.3"}, "w", nil)
	d.Run(context.Background(), eventsOf(start))

	run, err := b.GetRun(context.Background(), runID)
	require.NoError(t, err)
	require.Equal(t, campaign.StatusRunning, run.Status)
	require.Equal(t, "1.2.3", run.ToolVersion)

	require.NoError(t, b.EnsureSteps(context.Background(), []campaign.Step{{Category: campaign.StepCategoryRun, Ordinal: 0, Module: "run"}}))
	step := server.NewEvent(wire.EventRunStep, map[string]wire.Value{"run_id": runID, "step": "run"}, "w", nil)
	d.Run(context.Background(), eventsOf(step))

	run, err = b.GetRun(context.Background(), runID)
	require.NoError(t, err)
	require.Equal(t, 0, run.LastStep)

	finish := server.NewEvent(wire.EventRunFinish, runID, "w", nil)
	d.Run(context.Background(), eventsOf(finish))

	run, err = b.GetRun(context.Background(), runID)
	require.NoError(t, err)
	require.Equal(t, campaign.StatusDone, run.Status)

	interrupt := server.NewEvent(wire.EventRunInterrupt, runID, "w", nil)
	d.Run(context.Background(), eventsOf(interrupt))

	run, err = b.GetRun(context.Background(), runID)
	require.NoError(t, err)
	require.Equal(t, campaign.StatusPending, run.Status)
}

func TestRequestPendingRepliesWithFullIDList(t *testing.T) {
	b := newBackend(t)
	seedPlannedCampaign(t, b)
	d := dispatcher.New(b, bootstrap.New(b, nil), nil, nil)

	var reply wire.Value
	ev := server.NewEvent(wire.EventRequestPending, nil, "manager", func(v wire.Value) error {
		reply = v
		return nil
	})
	d.Run(context.Background(), eventsOf(ev))

	ids, ok := reply.([]wire.Value)
	require.True(t, ok)
	require.Len(t, ids, 1)
}

// eventsOf lets each test drive the dispatcher through exactly one event
// by closing its channel right after, since Dispatcher.Run only returns
// once its input channel is drained and closed.
func eventsOf(ev server.Event) <-chan server.Event {
	c := make(chan server.Event, 1)
	c <- ev
	close(c)
	return c
}
