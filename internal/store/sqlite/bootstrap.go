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
	"database/sql"
	"fmt"
	"time"

	"github.com/runbench/bench/internal/campaign"
)

// EnsureLimits tail-appends limits not already present by name.
func (b *Backend) EnsureLimits(ctx context.Context, limits []campaign.Limit) error {
	for _, l := range limits {
		if _, err := b.db.ExecContext(ctx,
			`INSERT INTO limits (name, value) VALUES (?, ?) ON CONFLICT(name) DO NOTHING`,
			l.Name, l.Value); err != nil {
			return fmt.Errorf("ensure limit %q: %w", l.Name, err)
		}
	}
	return nil
}

// EnsureSteps tail-appends steps, one insert per (category, ordinal) pair.
// Callers derive ordinal from MaxStepOrdinal before calling, so existing
// rows are left untouched by the ON CONFLICT DO NOTHING.
func (b *Backend) EnsureSteps(ctx context.Context, steps []campaign.Step) error {
	for _, s := range steps {
		if _, err := b.db.ExecContext(ctx,
			`INSERT INTO steps (category, ordinal, module, config) VALUES (?, ?, ?, ?)
			 ON CONFLICT(category, ordinal) DO NOTHING`,
			string(s.Category), s.Ordinal, s.Module, s.Config); err != nil {
			return fmt.Errorf("ensure step %s[%d]: %w", s.Category, s.Ordinal, err)
		}
	}
	return nil
}

// EnsureObservers tail-appends observers not already registered by module id.
func (b *Backend) EnsureObservers(ctx context.Context, observers []campaign.Observer) error {
	for _, o := range observers {
		if _, err := b.db.ExecContext(ctx,
			`INSERT INTO observers (module, config) VALUES (?, ?) ON CONFLICT(module) DO NOTHING`,
			o.ModuleID, o.Config); err != nil {
			return fmt.Errorf("ensure observer %q: %w", o.ModuleID, err)
		}
	}
	return nil
}

// EnsureTool inserts the tool if absent and returns its stable id.
func (b *Backend) EnsureTool(ctx context.Context, tool campaign.Tool) (int64, error) {
	if _, err := b.db.ExecContext(ctx,
		`INSERT INTO tools (module, version, config) VALUES (?, ?, ?)
		 ON CONFLICT(module) DO UPDATE SET version=excluded.version, config=excluded.config`,
		tool.ModuleID, tool.Version, tool.Config); err != nil {
		return 0, fmt.Errorf("ensure tool %q: %w", tool.ModuleID, err)
	}
	var id int64
	err := b.db.QueryRowContext(ctx, `SELECT id FROM tools WHERE module = ?`, tool.ModuleID).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("lookup tool %q: %w", tool.ModuleID, err)
	}
	return id, nil
}

// EnsureParameterGroup inserts (or replaces) a parameter group and its
// parameters, returning the group's stable id.
func (b *Backend) EnsureParameterGroup(ctx context.Context, toolID int64, group campaign.ParameterGroup, params []campaign.Parameter) (int64, error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO parameter_groups (tool_id, name) VALUES (?, ?) ON CONFLICT(tool_id, name) DO NOTHING`,
		toolID, group.Name); err != nil {
		return 0, fmt.Errorf("ensure parameter group %q: %w", group.Name, err)
	}

	var id int64
	if err := tx.QueryRowContext(ctx,
		`SELECT id FROM parameter_groups WHERE tool_id = ? AND name = ?`, toolID, group.Name).Scan(&id); err != nil {
		return 0, fmt.Errorf("lookup parameter group %q: %w", group.Name, err)
	}

	for _, p := range params {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO parameters (parameter_group_id, key, value) VALUES (?, ?, ?)
			 ON CONFLICT(parameter_group_id, key) DO UPDATE SET value=excluded.value`,
			id, p.Key, p.Value); err != nil {
			return 0, fmt.Errorf("ensure parameter %q: %w", p.Key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

// EnsureTaskGroup inserts the task group if absent and returns its id.
func (b *Backend) EnsureTaskGroup(ctx context.Context, group campaign.TaskGroup) (int64, error) {
	if _, err := b.db.ExecContext(ctx,
		`INSERT INTO task_groups (name) VALUES (?) ON CONFLICT(name) DO NOTHING`, group.Name); err != nil {
		return 0, fmt.Errorf("ensure task group %q: %w", group.Name, err)
	}
	var id int64
	if err := b.db.QueryRowContext(ctx, `SELECT id FROM task_groups WHERE name = ?`, group.Name).Scan(&id); err != nil {
		return 0, fmt.Errorf("lookup task group %q: %w", group.Name, err)
	}
	return id, nil
}

// EnsureTask inserts the task if its path is not already present and
// returns its id.
func (b *Backend) EnsureTask(ctx context.Context, taskGroupID int64, task campaign.Task) (int64, error) {
	if _, err := b.db.ExecContext(ctx,
		`INSERT INTO tasks (task_group_id, path) VALUES (?, ?) ON CONFLICT(path) DO NOTHING`,
		taskGroupID, task.Path); err != nil {
		return 0, fmt.Errorf("ensure task %q: %w", task.Path, err)
	}
	var id int64
	if err := b.db.QueryRowContext(ctx, `SELECT id FROM tasks WHERE path = ?`, task.Path).Scan(&id); err != nil {
		return 0, fmt.Errorf("lookup task %q: %w", task.Path, err)
	}
	return id, nil
}

// EnsureRun inserts a Run row keyed by (parameter_group_id, task_id,
// iteration), using directory as the natural id, and reports whether the
// row was newly created.
func (b *Backend) EnsureRun(ctx context.Context, toolID, parameterGroupID, taskID int64, iteration int, directory string) (string, bool, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := b.db.ExecContext(ctx,
		`INSERT INTO runs (id, tool_id, parameter_group_id, task_id, iteration, directory, status, last_step, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, -1, ?, ?)
		 ON CONFLICT(parameter_group_id, task_id, iteration) DO NOTHING`,
		directory, toolID, parameterGroupID, taskID, iteration, directory, int(campaign.StatusPending), now, now)
	if err != nil {
		return "", false, fmt.Errorf("ensure run %q: %w", directory, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "", false, err
	}
	return directory, n > 0, nil
}

// MaxStepOrdinal returns the current tail ordinal for category, or -1 if
// no steps of that category exist yet.
func (b *Backend) MaxStepOrdinal(ctx context.Context, category campaign.StepCategory) (int, error) {
	var max sql.NullInt64
	if err := b.db.QueryRowContext(ctx,
		`SELECT MAX(ordinal) FROM steps WHERE category = ?`, string(category)).Scan(&max); err != nil {
		return 0, fmt.Errorf("max step ordinal for %q: %w", category, err)
	}
	if !max.Valid {
		return -1, nil
	}
	return int(max.Int64), nil
}

// ListSteps returns every step registered for category, ordinal
// ascending.
func (b *Backend) ListSteps(ctx context.Context, category campaign.StepCategory) ([]campaign.Step, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT category, ordinal, module, config FROM steps WHERE category = ? ORDER BY ordinal ASC`,
		string(category))
	if err != nil {
		return nil, fmt.Errorf("list steps for %q: %w", category, err)
	}
	defer rows.Close()

	var steps []campaign.Step
	for rows.Next() {
		var s campaign.Step
		var cat string
		var config sql.NullString
		if err := rows.Scan(&cat, &s.Ordinal, &s.Module, &config); err != nil {
			return nil, err
		}
		s.Category = campaign.StepCategory(cat)
		s.Config = config.String
		steps = append(steps, s)
	}
	return steps, rows.Err()
}
