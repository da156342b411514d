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

// Package bootstrap implements the Bootstrap Planner: it
// idempotently expands a campaign.Spec into the persistent store's Tools,
// ParameterGroups, Parameters, TaskGroups, Tasks, Steps, Observers, Limits,
// and Run rows, and is safe to re-run against an already-planned campaign.
package bootstrap

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"

	"github.com/runbench/bench/internal/campaign"
	"github.com/runbench/bench/internal/paramexpand"
	"github.com/runbench/bench/internal/store"
	"github.com/runbench/bench/internal/tasksource"
	"github.com/runbench/bench/pkg/berrors"
)

// Planner runs the bootstrap expansion against a Store.
type Planner struct {
	Store  store.BootstrapStore
	Logger *slog.Logger
}

// New constructs a Planner. A nil logger falls back to slog.Default().
func New(s store.BootstrapStore, logger *slog.Logger) *Planner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{Store: s, Logger: logger}
}

// Result summarizes one bootstrap run, returned to the caller (e.g. as the
// BOOTSTRAP event's reply payload: pending count).
type Result struct {
	RunsCreated int
	RunsTotal   int
	Pending     int
}

// Plan expands spec into persistent rows under outputDir, creating repeat
// runs per (ParameterGroup, Task). It is safe to call repeatedly: every
// write is insert-on-conflict-ignore (or insert-ignore/replace for
// Parameters), giving repeated calls an idempotence guarantee.
func (p *Planner) Plan(ctx context.Context, spec *campaign.Spec, outputDir string, repeat int) (*Result, error) {
	if repeat <= 0 {
		repeat = 1
	}

	if err := p.ensureLimits(ctx, spec.Limits); err != nil {
		return nil, err
	}
	if err := p.ensureSteps(ctx, campaign.StepCategoryRun, spec.Steps.Run); err != nil {
		return nil, err
	}
	if err := p.ensureSteps(ctx, campaign.StepCategoryAnalysis, spec.Steps.Analysis); err != nil {
		return nil, err
	}
	if err := p.ensureObservers(ctx, spec.Observers); err != nil {
		return nil, err
	}

	result := &Result{}

	for taskGroupName, taskSpec := range spec.Tasks {
		taskPaths, err := p.resolveTasks(ctx, taskGroupName, taskSpec)
		if err != nil {
			return nil, err
		}
		taskGroupID, err := p.Store.EnsureTaskGroup(ctx, campaign.TaskGroup{Name: taskGroupName})
		if err != nil {
			return nil, err
		}

		taskIDs := make([]int64, 0, len(taskPaths))
		for _, path := range taskPaths {
			id, err := p.Store.EnsureTask(ctx, taskGroupID, campaign.Task{Path: path, Group: taskGroupName})
			if err != nil {
				return nil, err
			}
			taskIDs = append(taskIDs, id)
		}

		for toolName, toolSpec := range spec.Tools {
			toolID, err := p.Store.EnsureTool(ctx, campaign.Tool{ModuleID: toolSpec.Module})
			if err != nil {
				return nil, err
			}

			groups, err := p.expandToolParameters(toolName, toolSpec)
			if err != nil {
				return nil, err
			}

			for _, group := range groups {
				params := make([]campaign.Parameter, 0, len(group.Parameters))
				for k, v := range group.Parameters {
					params = append(params, campaign.Parameter{Key: k, Value: v})
				}
				groupID, err := p.Store.EnsureParameterGroup(ctx, toolID,
					campaign.ParameterGroup{Tool: toolName, Name: group.Name}, params)
				if err != nil {
					return nil, err
				}

				for i, taskID := range taskIDs {
					basename := campaign.Task{Path: taskPaths[i]}.Basename()
					for iteration := 0; iteration < repeat; iteration++ {
						directory := filepath.Join(outputDir, toolName, group.Name, taskGroupName, basename,
							strconv.Itoa(iteration))
						_, created, err := p.Store.EnsureRun(ctx, toolID, groupID, taskID, iteration, directory)
						if err != nil {
							return nil, err
						}
						result.RunsTotal++
						if created {
							result.RunsCreated++
						}
					}
				}
			}
		}
	}

	pending, err := p.Store.RecomputePendingRunIDs(ctx)
	if err != nil {
		return nil, err
	}
	result.Pending = len(pending)

	p.Logger.Info("bootstrap complete", "runs_created", result.RunsCreated, "runs_total", result.RunsTotal, "pending", result.Pending)
	return result, nil
}

func (p *Planner) ensureLimits(ctx context.Context, limits campaign.LimitsSpec) error {
	entries := []campaign.Limit{
		{Name: "time_s", Value: limits.TimeSeconds},
		{Name: "memory_bytes", Value: limits.MemoryMiB * 1024 * 1024},
	}
	if limits.OutputBytes != nil {
		entries = append(entries, campaign.Limit{Name: "output_bytes", Value: float64(*limits.OutputBytes)})
	}
	if limits.Cores != nil {
		entries = append(entries, campaign.Limit{Name: "cores", Value: float64(*limits.Cores)})
	}
	return p.Store.EnsureLimits(ctx, entries)
}

// ensureSteps tail-appends plugin specs as Step rows, deriving each new
// step's ordinal from the store's current tail, so re-running bootstrap
// after adding steps to the campaign only appends
func (p *Planner) ensureSteps(ctx context.Context, category campaign.StepCategory, specs []campaign.PluginSpec) error {
	maxOrdinal, err := p.Store.MaxStepOrdinal(ctx, category)
	if err != nil {
		return err
	}
	existing := maxOrdinal + 1
	if existing >= len(specs) {
		return nil
	}

	var steps []campaign.Step
	for i := existing; i < len(specs); i++ {
		cfg, err := json.Marshal(specs[i].Config)
		if err != nil {
			return fmt.Errorf("%w: marshal step config: %v", berrors.ErrConfigInvalid, err)
		}
		steps = append(steps, campaign.Step{
			Category: category,
			Ordinal:  i,
			Module:   specs[i].Module,
			Config:   string(cfg),
		})
	}
	return p.Store.EnsureSteps(ctx, steps)
}

func (p *Planner) ensureObservers(ctx context.Context, specs []campaign.PluginSpec) error {
	var observers []campaign.Observer
	for _, s := range specs {
		cfg, err := json.Marshal(s.Config)
		if err != nil {
			return fmt.Errorf("%w: marshal observer config: %v", berrors.ErrConfigInvalid, err)
		}
		observers = append(observers, campaign.Observer{ModuleID: s.Module, Config: string(cfg)})
	}
	return p.Store.EnsureObservers(ctx, observers)
}

// resolveTasks looks up the registered TaskSource for the group's declared
// type and resolves its file list. Unknown source types are fatal.
func (p *Planner) resolveTasks(ctx context.Context, groupName string, spec campaign.TaskSpec) ([]string, error) {
	source, ok := tasksource.Lookup(spec.Type)
	if !ok {
		return nil, fmt.Errorf("%w: task group %q has unregistered source type %q", berrors.ErrTaskSource, groupName, spec.Type)
	}
	paths, err := source.Resolve(ctx, tasksource.Config{
		Type:     spec.Type,
		Path:     spec.Path,
		Patterns: spec.Patterns,
		URLs:     spec.URLs,
		DOI:      spec.DOI,
	})
	if err != nil {
		return nil, fmt.Errorf("task group %q: %w", groupName, err)
	}
	return paths, nil
}

// expandToolParameters runs paramexpand.Expand (and, for groups carrying a
// __pcs block, paramexpand.ExpandPCS first) over a tool's declared
// parameter groups.
func (p *Planner) expandToolParameters(toolName string, spec campaign.ToolSpec) ([]paramexpand.Group, error) {
	var all []paramexpand.Group
	for groupName, params := range spec.Parameters {
		merged := params.Values
		order := params.Order
		if pcsRaw, ok := params.Values[paramexpand.PCSKey]; ok {
			pcsText, ok := pcsRaw.(string)
			if !ok {
				return nil, fmt.Errorf("%w: tool %q group %q: __pcs must be a string", berrors.ErrConfigInvalid, toolName, groupName)
			}
			ranged, pcsOrder, err := paramexpand.ExpandPCS(pcsText)
			if err != nil {
				return nil, fmt.Errorf("tool %q group %q: %w", toolName, groupName, err)
			}
			cs, err := paramexpand.ParseConfigSpace(pcsText)
			if err != nil {
				return nil, fmt.Errorf("tool %q group %q: %w", toolName, groupName, err)
			}
			merged = make(map[string]any, len(params.Values)+len(ranged))
			order = make([]string, 0, len(params.Order)+len(pcsOrder))
			for _, k := range params.Order {
				if k == paramexpand.PCSKey {
					continue
				}
				merged[k] = params.Values[k]
				order = append(order, k)
			}
			for _, k := range pcsOrder {
				values := ranged[k]
				vals := make([]any, len(values))
				for i, v := range values {
					vals[i] = v
				}
				merged[k] = vals
				order = append(order, k)
			}
			if err := validateAllCombinations(cs, merged, order); err != nil {
				return nil, fmt.Errorf("tool %q group %q: %w", toolName, groupName, err)
			}
		}

		groups, err := paramexpand.Expand(groupName, merged, order)
		if err != nil {
			return nil, fmt.Errorf("tool %q group %q: %w", toolName, groupName, err)
		}
		all = append(all, groups...)
	}
	if len(all) == 0 {
		all = append(all, paramexpand.Group{Name: "default"})
	}
	return all, nil
}

// validateAllCombinations expands merged once purely to enumerate
// candidate combinations against the PCS configuration space, surfacing a
// fatal error before any Run rows are created.
func validateAllCombinations(cs *paramexpand.ConfigSpace, merged map[string]any, order []string) error {
	groups, err := paramexpand.Expand("__validate", merged, order)
	if err != nil {
		return err
	}
	for _, g := range groups {
		if err := cs.Validate(g.Parameters); err != nil {
			return err
		}
	}
	return nil
}
