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

// Package dispatcher implements the Core Observer: the
// single authority over Run status transitions. It owns no socket of its
// own; it is driven by events an internal/server.Server publishes, and
// answers through each event's Reply closure: a small struct wrapping a
// store with one handler method per event kind, and a claim-then-submit
// shape for WORKER_REQUEST/WORKER_JOIN.
package dispatcher

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/runbench/bench/internal/bootstrap"
	"github.com/runbench/bench/internal/campaign"
	"github.com/runbench/bench/internal/server"
	"github.com/runbench/bench/internal/store"
	"github.com/runbench/bench/internal/wire"
)

// JobsWaitedSetter is the subset of *server.Server the dispatcher needs in
// order to report the total run count once bootstrap completes.
type JobsWaitedSetter interface {
	SetJobsWaited(n int)
}

// Dispatcher is the Core Observer.
type Dispatcher struct {
	store   store.RunStore
	planner *bootstrap.Planner
	jobs    JobsWaitedSetter
	logger  *slog.Logger
}

// New constructs a Dispatcher. jobs may be nil (e.g. in tests driving the
// dispatcher directly without a running Server), in which case jobs-waited
// reporting is skipped.
func New(runStore store.RunStore, planner *bootstrap.Planner, jobs JobsWaitedSetter, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{store: runStore, planner: planner, jobs: jobs, logger: logger}
}

// Subscriptions lists the event kinds the dispatcher must be subscribed to:
// BOOTSTRAP, WORKER_JOIN, RUN_START, RUN_STEP, RUN_FINISH, RUN_INTERRUPT,
// REQUEST_PENDING.
func Subscriptions() []wire.EventKind {
	return []wire.EventKind{
		wire.EventBootstrap,
		wire.EventWorkerJoin,
		wire.EventRunStart,
		wire.EventRunStep,
		wire.EventRunFinish,
		wire.EventRunInterrupt,
		wire.EventRequestPending,
	}
}

// Run drains events until the channel closes or ctx is canceled.
func (d *Dispatcher) Run(ctx context.Context, events <-chan server.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			d.handle(ctx, ev)
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, ev server.Event) {
	var err error
	switch ev.Kind {
	case wire.EventBootstrap:
		err = d.handleBootstrap(ctx, ev)
	case wire.EventWorkerJoin:
		err = d.handleWorkerJoin(ctx, ev)
	case wire.EventRunStart:
		err = d.handleRunStart(ctx, ev)
	case wire.EventRunStep:
		err = d.handleRunStep(ctx, ev)
	case wire.EventRunFinish:
		err = d.handleRunFinish(ctx, ev)
	case wire.EventRunInterrupt:
		err = d.handleRunInterrupt(ctx, ev)
	case wire.EventRequestPending:
		err = d.handleRequestPending(ctx, ev)
	}
	if err != nil {
		d.logger.Error("dispatcher event handler failed", "kind", ev.Kind, "client", ev.ClientID, "error", err)
	}
}

// handleBootstrap invokes the planner with a wire-carried campaign and
// replies with the resulting pending-run count, letting a manager drive a
// remote server.
func (d *Dispatcher) handleBootstrap(ctx context.Context, ev server.Event) error {
	payload, ok := ev.Payload.(map[string]wire.Value)
	if !ok {
		return fmt.Errorf("bootstrap payload: expected map, got %T", ev.Payload)
	}
	configText, _ := payload["config"].(string)
	outputDir, _ := payload["output_dir"].(string)
	repeat := 1
	if r, ok := payload["repeat"].(int64); ok {
		repeat = int(r)
	}

	spec, err := campaign.Parse([]byte(configText))
	if err != nil {
		return fmt.Errorf("bootstrap: parse campaign: %w", err)
	}

	result, err := d.planner.Plan(ctx, spec, outputDir, repeat)
	if err != nil {
		return fmt.Errorf("bootstrap: plan: %w", err)
	}
	if d.jobs != nil {
		d.jobs.SetJobsWaited(result.Pending)
	}
	return ev.Reply(int64(result.Pending))
}

// handleWorkerJoin atomically claims one PENDING run and replies with
// its run context, or null if the campaign is exhausted.
func (d *Dispatcher) handleWorkerJoin(ctx context.Context, ev server.Event) error {
	rc, err := d.store.ClaimNextPendingRun(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		// No pending run is the expected "campaign exhausted" case, not a
		// failure: reply null so the worker exits cleanly
		return ev.Reply(nil)
	}
	return ev.Reply(runContextToWire(rc))
}

func (d *Dispatcher) handleRunStart(_ context.Context, ev server.Event) error {
	payload, ok := ev.Payload.(map[string]wire.Value)
	if !ok {
		return fmt.Errorf("run_start payload: expected map, got %T", ev.Payload)
	}
	runID, _ := payload["run_id"].(string)
	toolVersion, _ := payload["tool_version"].(string)

	run, err := d.store.GetRun(context.Background(), runID)
	if err != nil {
		return err
	}
	if err := d.store.SetRunStatus(context.Background(), runID, campaign.StatusRunning, run.LastStep); err != nil {
		return err
	}
	return d.store.SetToolVersion(context.Background(), runID, toolVersion)
}

func (d *Dispatcher) handleRunStep(_ context.Context, ev server.Event) error {
	payload, ok := ev.Payload.(map[string]wire.Value)
	if !ok {
		return fmt.Errorf("run_step payload: expected map, got %T", ev.Payload)
	}
	runID, _ := payload["run_id"].(string)
	module, _ := payload["step"].(string)

	ordinal, err := d.store.StepOrdinal(context.Background(), campaign.StepCategoryRun, module)
	if err != nil {
		return err
	}
	return d.store.SetRunStatus(context.Background(), runID, campaign.StatusRunning, ordinal)
}

func (d *Dispatcher) handleRunFinish(_ context.Context, ev server.Event) error {
	runID, _ := ev.Payload.(string)
	run, err := d.store.GetRun(context.Background(), runID)
	if err != nil {
		return err
	}
	return d.store.SetRunStatus(context.Background(), runID, campaign.StatusDone, run.LastStep)
}

func (d *Dispatcher) handleRunInterrupt(_ context.Context, ev server.Event) error {
	runID, _ := ev.Payload.(string)
	return d.store.RequeueRun(context.Background(), runID)
}

// handleRequestPending is get_pending_run_ids: it recomputes the
// run-category step tail and re-PENDINGs any run the recompute finds
// stale before replying, so a manager sizing a job array off this list
// never undercounts a campaign that just had a step appended.
func (d *Dispatcher) handleRequestPending(_ context.Context, ev server.Event) error {
	ids, err := d.store.RecomputePendingRunIDs(context.Background())
	if err != nil {
		return err
	}
	vals := make([]wire.Value, len(ids))
	for i, id := range ids {
		vals[i] = id
	}
	return ev.Reply(vals)
}

func runContextToWire(rc *campaign.RunContext) wire.Value {
	params := make(map[string]wire.Value, len(rc.Parameters))
	for k, v := range rc.Parameters {
		params[k] = v
	}
	limits := make(map[string]wire.Value, len(rc.Limits))
	for k, v := range rc.Limits {
		limits[k] = v
	}
	steps := make([]wire.Value, len(rc.Steps))
	for i, s := range rc.Steps {
		steps[i] = map[string]wire.Value{
			"module":  s.Module,
			"ordinal": int64(s.Ordinal),
			"config":  s.Config,
		}
	}
	return map[string]wire.Value{
		"id":          rc.ID,
		"task":        rc.Task,
		"tool":        rc.Tool,
		"tool_config": rc.ToolConfig,
		"directory":   rc.Directory,
		"parameters":  params,
		"steps":       steps,
		"limits":      limits,
	}
}
