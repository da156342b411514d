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

// Package store declares the persistent-store interfaces the bootstrap
// planner, dispatcher, and observers depend on. The segregation follows
// the system's write-ownership split: the server process holds sole
// write authority on Run status; Parameter and Task rows are immutable
// after bootstrap; RunStatistic rows are written at most once per run.
//
// Interfaces are segregated (BootstrapStore / RunStore / StatisticsStore)
// so a caller that only dispatches runs never needs to see the planner's
// write surface.
package store

import (
	"context"
	"io"

	"github.com/runbench/bench/internal/campaign"
)

// BootstrapStore is the write surface the Bootstrap Planner uses to
// idempotently materialize a campaign.Spec. Every method is
// insert-on-conflict-ignore (or insert-ignore/replace for Parameters),
// never destructive.
type BootstrapStore interface {
	// EnsureLimits tail-appends any limit names not already present.
	EnsureLimits(ctx context.Context, limits []campaign.Limit) error

	// EnsureSteps inserts each step at the ordinal it carries (callers
	// derive it from MaxStepOrdinal), leaving existing ordinals untouched.
	EnsureSteps(ctx context.Context, steps []campaign.Step) error

	// EnsureObservers tail-appends observers not already registered by
	// module id.
	EnsureObservers(ctx context.Context, observers []campaign.Observer) error

	// EnsureTool inserts the tool if absent and returns its stable id.
	EnsureTool(ctx context.Context, tool campaign.Tool) (int64, error)

	// EnsureParameterGroup inserts (or replaces) a parameter group and its
	// parameters for the given tool id.
	EnsureParameterGroup(ctx context.Context, toolID int64, group campaign.ParameterGroup, params []campaign.Parameter) (int64, error)

	// EnsureTaskGroup inserts the task group if absent and returns its id.
	EnsureTaskGroup(ctx context.Context, group campaign.TaskGroup) (int64, error)

	// EnsureTask inserts the task if its path is not already present
	// (unique by path) and returns its id.
	EnsureTask(ctx context.Context, taskGroupID int64, task campaign.Task) (int64, error)

	// EnsureRun inserts a Run row for (parameterGroupID, taskID, iteration)
	// if the composite key is not already present, defaulting status to
	// PENDING and last_step to none. The run's id is its directory path,
	// the runs table's primary key; (parameterGroupID, taskID, iteration)
	// is a separate unique key. Reports whether a new row was created.
	EnsureRun(ctx context.Context, toolID, parameterGroupID, taskID int64, iteration int, directory string) (id string, created bool, err error)

	// MaxStepOrdinal returns the current tail ordinal for the given step
	// category, used by resume logic to know where appended steps begin.
	MaxStepOrdinal(ctx context.Context, category campaign.StepCategory) (int, error)

	// RecomputePendingRunIDs recomputes the current tail ordinal of the
	// run-category step list, re-PENDINGs every run whose status is below
	// DONE or whose last_step does not match that tail (so a freshly
	// tail-extended step list is re-run against already-DONE runs too),
	// and returns the resulting pending id list, lowest id first. This is
	// what a resuming bootstrap and a REQUEST_PENDING reply both need:
	// neither can trust a plain PENDING scan once steps have been added.
	RecomputePendingRunIDs(ctx context.Context) ([]string, error)

	// ListSteps returns every step registered for category, ordinal
	// ascending. Used by the analysis-step runner to walk the
	// ANALYSIS-category pipeline after a campaign's runs complete.
	ListSteps(ctx context.Context, category campaign.StepCategory) ([]campaign.Step, error)
}

// RunStore is the dispatcher's write surface over Run rows
type RunStore interface {
	// ClaimNextPendingRun atomically selects the lowest-id run with
	// status=PENDING, sets it to SUBMITTED, and returns its full run
	// context. Returns berrors.ErrNoPendingRun if none is available.
	// Concurrent callers are guaranteed distinct runs or ErrNoPendingRun:
	// the single-row CAS equivalent a claim-and-flip requires.
	ClaimNextPendingRun(ctx context.Context) (*campaign.RunContext, error)

	// GetRun retrieves a run by id.
	GetRun(ctx context.Context, id string) (*campaign.Run, error)

	// RecomputePendingRunIDs recomputes the run-category step tail ordinal
	// and re-PENDINGs every run whose status is below DONE or whose
	// last_step doesn't match that tail, then returns the pending id list.
	// Same operation as BootstrapStore's method of the same name; declared
	// here too since the dispatcher only holds a RunStore.
	RecomputePendingRunIDs(ctx context.Context) ([]string, error)

	// SetRunStatus transitions a run's status and last_step. Valid edges
	// are enforced by the dispatcher, not the store.
	SetRunStatus(ctx context.Context, id string, status campaign.RunStatus, lastStep int) error

	// SetToolVersion records the tool_version a RUN_START event reported.
	SetToolVersion(ctx context.Context, id, version string) error

	// RequeueRun resets one run from RUNNING (or SUBMITTED) back to
	// PENDING, used on worker crash/interrupt detection.
	RequeueRun(ctx context.Context, id string) error

	// ExtendSteps resets a run back to PENDING, retaining its prior
	// last_step so the worker resumes past already-completed steps. Used
	// by "benchctl status rerun" to replay a single run without redoing
	// the steps it already finished.
	ExtendSteps(ctx context.Context, id string) error

	// StepOrdinal resolves a step's ordinal from its module id, used by
	// the dispatcher's RUN_STEP handler (payload carries the step module,
	// not its ordinal).
	StepOrdinal(ctx context.Context, category campaign.StepCategory, module string) (int, error)
}

// StatisticsStore persists the executor's resource-statistics events. It is
// segregated from RunStore because only the Bounded Executor writes
// RunStatistic rows, and at most once per run.
type StatisticsStore interface {
	// SaveRunStatistic writes the run's RunStatistic row. Calling it twice
	// for the same run is a programmer error; the store returns
	// berrors.ErrStoreConflict rather than overwriting silently.
	SaveRunStatistic(ctx context.Context, stat campaign.RunStatistic) error

	// GetRunStatistic retrieves the statistics row for a run, if any.
	GetRunStatistic(ctx context.Context, runID string) (*campaign.RunStatistic, error)

	// StatsSummary returns the live per-(tool, parameter group, verdict)
	// run counts SaveRunStatistic maintains incrementally, for `status`
	// reporting and Prometheus gauge export.
	StatsSummary(ctx context.Context) ([]campaign.StatsSummaryRow, error)
}

// DomainStore persists the example benchmark domains' verdict and
// machine-inventory events. Segregated from
// StatisticsStore because these are optional, campaign-specific
// observers, not part of the core run lifecycle.
type DomainStore interface {
	// SaveSATVerdict writes a run's satisfiability verdict. At most once
	// per run, same conflict semantics as SaveRunStatistic.
	SaveSATVerdict(ctx context.Context, v campaign.SATVerdict) error

	// SaveSudokuVerdict writes a run's constraint-validation verdict.
	SaveSudokuVerdict(ctx context.Context, v campaign.SudokuVerdict) error

	// EnsureNode inserts (or leaves untouched) the Node row for
	// node.Hostname, then records a RunNode junction row linking runID to
	// it. Node rows are collected once per physical machine, not once
	// per run.
	EnsureNode(ctx context.Context, runID string, node campaign.Node) error
}

// Store composes every segregated interface for a full-featured backend.
// Components that only need bootstrap or dispatch can depend on the
// narrower interfaces instead.
type Store interface {
	BootstrapStore
	RunStore
	StatisticsStore
	DomainStore
	io.Closer
}
