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

// Package campaign defines the persistent data model of a benchmark
// campaign: tools, parameter groups, tasks, steps, observers, limits, runs
// and run statistics.
package campaign

import "time"

// RunStatus is the run state machine's status value
type RunStatus int

const (
	StatusFailed    RunStatus = -2
	StatusCanceled  RunStatus = -1
	StatusPending   RunStatus = 0
	StatusSubmitted RunStatus = 1
	StatusRunning   RunStatus = 2
	StatusDone      RunStatus = 3
)

func (s RunStatus) String() string {
	switch s {
	case StatusFailed:
		return "FAILED"
	case StatusCanceled:
		return "CANCELED"
	case StatusPending:
		return "PENDING"
	case StatusSubmitted:
		return "SUBMITTED"
	case StatusRunning:
		return "RUNNING"
	case StatusDone:
		return "DONE"
	default:
		return "UNKNOWN"
	}
}

// Verdict classifies a completed run's outcome.
type Verdict string

const (
	VerdictTLE Verdict = "TLE"
	VerdictMEM Verdict = "MEM"
	VerdictRTE Verdict = "RTE"
	VerdictOLE Verdict = "OLE"
	VerdictOK  Verdict = "OK"
)

// StepCategory distinguishes run-time steps from post-hoc analysis steps.
type StepCategory string

const (
	StepCategoryRun      StepCategory = "run"
	StepCategoryAnalysis StepCategory = "analysis"
)

// Limit is a named resource ceiling (time_s, memory_bytes, output_bytes,
// cores).
type Limit struct {
	Name  string
	Value float64
}

// TaskGroup names a collection of Task rows sharing one task source.
type TaskGroup struct {
	Name string
}

// Task is one input file resolved from a TaskGroup's source.
type Task struct {
	Path  string
	Group string
}

// Basename returns the task's file name, used in run directory derivation.
func (t Task) Basename() string {
	i := len(t.Path) - 1
	for i >= 0 && t.Path[i] != '/' {
		i--
	}
	return t.Path[i+1:]
}

// Tool is an external solver/program under benchmark.
type Tool struct {
	ModuleID string
	Version  string
	Config   string // raw JSON, opaque to the store; the tool adapter's own config
}

// ParameterGroup is a named, concrete assignment of tool parameters.
type ParameterGroup struct {
	Tool string
	Name string
}

// Parameter is one key/value pair belonging to a ParameterGroup.
type Parameter struct {
	Key   string
	Value string
}

// Step is one pluggable unit executed as part of a run, in ordinal order
// within its category.
type Step struct {
	Category StepCategory
	Ordinal  int
	Module   string
	Config   string // raw JSON, opaque to the store
}

// Observer is a registered event consumer loaded at server start.
type Observer struct {
	ModuleID string
	Config   string // raw JSON
}

// Run is one execution of one Tool with one ParameterGroup on one Task,
// for one iteration.
type Run struct {
	ID             string
	Tool           string
	ParameterGroup string
	Task           string
	Iteration      int
	Directory      string
	Status         RunStatus
	LastStep       int // highest completed run-category step ordinal; -1 = none
	ToolVersion    string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// RunStatistic is the 1:1 resource-usage record for a completed Run,
// not keyed by (run, key).
type RunStatistic struct {
	Run        string
	Verdict    Verdict
	CPUTime    *float64
	WallTime   *float64
	MaxMemory  *int64
	ReturnCode *int
	OutputSize int64
}

// SATVerdict is the validity result of one SAT run: whether the solver's
// reported satisfiability matches the task's expected answer.
type SATVerdict struct {
	Run   string
	Valid bool
}

// SudokuVerdict is the constraint-validation result of one sudoku run.
type SudokuVerdict struct {
	Run   string
	Valid bool
}

// StatsSummaryRow is one (tool, parameter group, verdict) count, the
// incremental aggregate the statistics observer maintains as each run
// finishes
type StatsSummaryRow struct {
	Tool           string
	ParameterGroup string
	Verdict        Verdict
	Count          int
}

// Node is one physical machine a worker has run on, identified by
// hostname. Collected once per machine, not once per run.
type Node struct {
	Hostname    string
	Platform    string
	Arch        string
	CPUModel    string
	CPUCount    int
	MemoryBytes int64
	SwapBytes   int64
}

// RunContext is the immutable payload handed to a worker when it claims a
// pending run
type RunContext struct {
	ID         string
	Task       string
	Tool       string
	ToolConfig string
	Directory  string
	Parameters map[string]string
	Steps      []Step
	Limits     map[string]float64
}
