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
	"errors"
	"fmt"
	"time"

	"github.com/runbench/bench/internal/campaign"
	"github.com/runbench/bench/pkg/berrors"
)

// ClaimNextPendingRun atomically selects the lowest-id PENDING run, flips
// it to SUBMITTED, and returns its full run context. The single open
// connection (db.SetMaxOpenConns(1)) together with the transaction gives
// the single-row CAS guarantee a claim-and-flip requires: two concurrent
// callers serialize through SQLite's own write lock and each observes a
// distinct row, or the second sees no PENDING rows left.
func (b *Backend) ClaimNextPendingRun(ctx context.Context) (*campaign.RunContext, error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var (
		id, directory, taskPath, toolModule string
		toolConfig                          sql.NullString
		toolID, parameterGroupID, taskID    int64
		lastStep                            int
	)
	err = tx.QueryRowContext(ctx, `
		SELECT r.id, r.directory, t.path, tl.module, tl.config, r.tool_id, r.parameter_group_id, r.task_id, r.last_step
		FROM runs r
		JOIN tasks t ON t.id = r.task_id
		JOIN tools tl ON tl.id = r.tool_id
		WHERE r.status = ?
		ORDER BY r.id ASC
		LIMIT 1
	`, int(campaign.StatusPending)).Scan(&id, &directory, &taskPath, &toolModule, &toolConfig, &toolID, &parameterGroupID, &taskID, &lastStep)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, berrors.ErrNoPendingRun
	}
	if err != nil {
		return nil, fmt.Errorf("claim pending run: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	if _, err := tx.ExecContext(ctx,
		`UPDATE runs SET status = ?, updated_at = ? WHERE id = ?`,
		int(campaign.StatusSubmitted), now, id); err != nil {
		return nil, fmt.Errorf("claim pending run: %w", err)
	}

	params, err := b.loadParameters(ctx, tx, parameterGroupID)
	if err != nil {
		return nil, err
	}
	steps, err := b.loadSteps(ctx, tx, campaign.StepCategoryRun, lastStep)
	if err != nil {
		return nil, err
	}
	limits, err := b.loadLimits(ctx, tx)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &campaign.RunContext{
		ID:         id,
		Task:       taskPath,
		Tool:       toolModule,
		ToolConfig: toolConfig.String,
		Directory:  directory,
		Parameters: params,
		Steps:      steps,
		Limits:     limits,
	}, nil
}

func (b *Backend) loadParameters(ctx context.Context, tx *sql.Tx, parameterGroupID int64) (map[string]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT key, value FROM parameters WHERE parameter_group_id = ?`, parameterGroupID)
	if err != nil {
		return nil, fmt.Errorf("load parameters: %w", err)
	}
	defer rows.Close()

	params := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		params[k] = v
	}
	return params, rows.Err()
}

func (b *Backend) loadSteps(ctx context.Context, tx *sql.Tx, category campaign.StepCategory, afterOrdinal int) ([]campaign.Step, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT category, ordinal, module, config FROM steps WHERE category = ? AND ordinal > ? ORDER BY ordinal ASC`,
		string(category), afterOrdinal)
	if err != nil {
		return nil, fmt.Errorf("load steps: %w", err)
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

func (b *Backend) loadLimits(ctx context.Context, tx *sql.Tx) (map[string]float64, error) {
	rows, err := tx.QueryContext(ctx, `SELECT name, value FROM limits`)
	if err != nil {
		return nil, fmt.Errorf("load limits: %w", err)
	}
	defer rows.Close()

	limits := map[string]float64{}
	for rows.Next() {
		var name string
		var value float64
		if err := rows.Scan(&name, &value); err != nil {
			return nil, err
		}
		limits[name] = value
	}
	return limits, rows.Err()
}

// GetRun retrieves a run by id.
func (b *Backend) GetRun(ctx context.Context, id string) (*campaign.Run, error) {
	var (
		run                   campaign.Run
		status                int
		createdAt, updatedAt  string
		toolModule, groupName string
		taskPath              string
	)
	err := b.db.QueryRowContext(ctx, `
		SELECT r.id, tl.module, pg.name, t.path, r.iteration, r.directory, r.status, r.last_step, r.tool_version, r.created_at, r.updated_at
		FROM runs r
		JOIN tools tl ON tl.id = r.tool_id
		JOIN parameter_groups pg ON pg.id = r.parameter_group_id
		JOIN tasks t ON t.id = r.task_id
		WHERE r.id = ?
	`, id).Scan(&run.ID, &toolModule, &groupName, &taskPath, &run.Iteration, &run.Directory, &status, &run.LastStep, &run.ToolVersion, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: run %q not found", berrors.ErrStoreConflict, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get run %q: %w", id, err)
	}
	run.Tool = toolModule
	run.ParameterGroup = groupName
	run.Task = taskPath
	run.Status = campaign.RunStatus(status)
	run.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	run.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &run, nil
}

// RecomputePendingRunIDs recomputes the run-category step tail ordinal and
// re-PENDINGs every run whose status is below DONE or whose last_step
// doesn't match that tail, then returns the pending id list.
func (b *Backend) RecomputePendingRunIDs(ctx context.Context) ([]string, error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var maxOrdinal sql.NullInt64
	if err := tx.QueryRowContext(ctx,
		`SELECT MAX(ordinal) FROM steps WHERE category = ?`, string(campaign.StepCategoryRun)).Scan(&maxOrdinal); err != nil {
		return nil, fmt.Errorf("recompute pending run ids: max ordinal: %w", err)
	}
	tail := -1
	if maxOrdinal.Valid {
		tail = int(maxOrdinal.Int64)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	if _, err := tx.ExecContext(ctx,
		`UPDATE runs SET status = ?, updated_at = ? WHERE status < ? OR last_step != ?`,
		int(campaign.StatusPending), now, int(campaign.StatusDone), tail); err != nil {
		return nil, fmt.Errorf("recompute pending run ids: requeue: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT id FROM runs WHERE status = ? ORDER BY id ASC`, int(campaign.StatusPending))
	if err != nil {
		return nil, fmt.Errorf("recompute pending run ids: select: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ids, nil
}

// SetRunStatus transitions a run's status and last_step.
func (b *Backend) SetRunStatus(ctx context.Context, id string, status campaign.RunStatus, lastStep int) error {
	res, err := b.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, last_step = ?, updated_at = ? WHERE id = ?`,
		int(status), lastStep, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("set run status %q: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: run %q not found", berrors.ErrStoreConflict, id)
	}
	return nil
}

// StepOrdinal resolves a step's ordinal from its module id within category.
func (b *Backend) StepOrdinal(ctx context.Context, category campaign.StepCategory, module string) (int, error) {
	var ordinal int
	err := b.db.QueryRowContext(ctx,
		`SELECT ordinal FROM steps WHERE category = ? AND module = ?`, string(category), module).Scan(&ordinal)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: step %q not registered in category %q", berrors.ErrUnknownModule, module, category)
	}
	if err != nil {
		return 0, fmt.Errorf("step ordinal for %q: %w", module, err)
	}
	return ordinal, nil
}

// SetToolVersion records the tool_version reported in a RUN_START event.
func (b *Backend) SetToolVersion(ctx context.Context, id, version string) error {
	res, err := b.db.ExecContext(ctx,
		`UPDATE runs SET tool_version = ?, updated_at = ? WHERE id = ?`,
		version, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("set tool version for run %q: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: run %q not found", berrors.ErrStoreConflict, id)
	}
	return nil
}

// RequeueRun resets one run from RUNNING/SUBMITTED back to PENDING.
func (b *Backend) RequeueRun(ctx context.Context, id string) error {
	return b.SetRunStatus(ctx, id, campaign.StatusPending, -1)
}

// ExtendSteps resets a run back to PENDING, retaining its prior last_step
// so the worker resumes past already-completed steps.
func (b *Backend) ExtendSteps(ctx context.Context, id string) error {
	res, err := b.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, updated_at = ? WHERE id = ?`,
		int(campaign.StatusPending), time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("extend steps for run %q: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: run %q not found", berrors.ErrStoreConflict, id)
	}
	return nil
}

// SaveRunStatistic writes the run's RunStatistic row exactly once, and
// folds its verdict into the run's (tool, parameter group) summary
// counts.
func (b *Backend) SaveRunStatistic(ctx context.Context, stat campaign.RunStatistic) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save run statistic: begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO run_statistics (run_id, verdict, cpu_time, wall_time, max_memory, return_code, output_size)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id) DO NOTHING`,
		stat.Run, string(stat.Verdict), nullFloat(stat.CPUTime), nullFloat(stat.WallTime),
		nullInt64(stat.MaxMemory), nullInt(stat.ReturnCode), stat.OutputSize)
	if err != nil {
		return fmt.Errorf("save run statistic for %q: %w", stat.Run, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: run statistic for %q already recorded", berrors.ErrStoreConflict, stat.Run)
	}

	var toolID, parameterGroupID int64
	if err := tx.QueryRowContext(ctx,
		`SELECT tool_id, parameter_group_id FROM runs WHERE id = ?`, stat.Run).
		Scan(&toolID, &parameterGroupID); err != nil {
		return fmt.Errorf("save run statistic for %q: locate run: %w", stat.Run, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO stats_summary (tool_id, parameter_group_id, verdict, count)
		 VALUES (?, ?, ?, 1)
		 ON CONFLICT(tool_id, parameter_group_id, verdict)
		 DO UPDATE SET count = count + 1`,
		toolID, parameterGroupID, string(stat.Verdict)); err != nil {
		return fmt.Errorf("save run statistic for %q: update summary: %w", stat.Run, err)
	}
	return tx.Commit()
}

// GetRunStatistic retrieves the statistics row for a run, if any.
func (b *Backend) GetRunStatistic(ctx context.Context, runID string) (*campaign.RunStatistic, error) {
	var (
		stat               campaign.RunStatistic
		verdict            string
		cpuTime, wallTime  sql.NullFloat64
		maxMemory          sql.NullInt64
		returnCode         sql.NullInt64
	)
	err := b.db.QueryRowContext(ctx,
		`SELECT run_id, verdict, cpu_time, wall_time, max_memory, return_code, output_size FROM run_statistics WHERE run_id = ?`,
		runID).Scan(&stat.Run, &verdict, &cpuTime, &wallTime, &maxMemory, &returnCode, &stat.OutputSize)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run statistic for %q: %w", runID, err)
	}
	stat.Verdict = campaign.Verdict(verdict)
	if cpuTime.Valid {
		stat.CPUTime = &cpuTime.Float64
	}
	if wallTime.Valid {
		stat.WallTime = &wallTime.Float64
	}
	if maxMemory.Valid {
		stat.MaxMemory = &maxMemory.Int64
	}
	if returnCode.Valid {
		v := int(returnCode.Int64)
		stat.ReturnCode = &v
	}
	return &stat, nil
}

// StatsSummary returns every (tool, parameter group, verdict) count row,
// joined back to their human-readable tool/group names.
func (b *Backend) StatsSummary(ctx context.Context) ([]campaign.StatsSummaryRow, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT tl.module, pg.name, ss.verdict, ss.count
		 FROM stats_summary ss
		 JOIN tools tl ON tl.id = ss.tool_id
		 JOIN parameter_groups pg ON pg.id = ss.parameter_group_id
		 ORDER BY tl.module, pg.name, ss.verdict`)
	if err != nil {
		return nil, fmt.Errorf("stats summary: %w", err)
	}
	defer rows.Close()

	var out []campaign.StatsSummaryRow
	for rows.Next() {
		var row campaign.StatsSummaryRow
		var verdict string
		if err := rows.Scan(&row.Tool, &row.ParameterGroup, &verdict, &row.Count); err != nil {
			return nil, err
		}
		row.Verdict = campaign.Verdict(verdict)
		out = append(out, row)
	}
	return out, rows.Err()
}
