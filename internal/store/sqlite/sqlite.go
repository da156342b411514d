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

// Package sqlite provides the single-node SQLite store backend: the sole
// persisted database file under a campaign's output directory.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/runbench/bench/internal/campaign"
	"github.com/runbench/bench/internal/store"
)

var _ store.Store = (*Backend)(nil)

// Backend is the SQLite-backed Store implementation. It owns the sole
// writer connection: the store is single-writer by design ,
// so the pool is capped at one open connection.
type Backend struct {
	db *sql.DB
}

// Config is SQLite connection configuration.
type Config struct {
	// Path is the database file path.
	Path string

	// WAL enables Write-Ahead Logging, allowing concurrent readers
	// alongside the single writer.
	WAL bool
}

// New opens (creating if absent) the SQLite database at cfg.Path, applies
// pragmas, and runs migrations.
func New(ctx context.Context, cfg Config) (*Backend, error) {
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	b := &Backend{db: db}
	if err := b.configurePragmas(ctx, cfg.WAL); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure pragmas: %w", err)
	}
	if err := b.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return b, nil
}

func (b *Backend) configurePragmas(ctx context.Context, enableWAL bool) error {
	pragmas := []string{
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	if enableWAL {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}
	for _, pragma := range pragmas {
		if _, err := b.db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return nil
}

func (b *Backend) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS limits (
			name TEXT PRIMARY KEY,
			value REAL NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS steps (
			category TEXT NOT NULL,
			ordinal INTEGER NOT NULL,
			module TEXT NOT NULL,
			config TEXT,
			PRIMARY KEY (category, ordinal)
		)`,
		`CREATE TABLE IF NOT EXISTS observers (
			module TEXT PRIMARY KEY,
			config TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS tools (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			module TEXT NOT NULL UNIQUE,
			version TEXT,
			config TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS parameter_groups (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			tool_id INTEGER NOT NULL REFERENCES tools(id),
			name TEXT NOT NULL,
			UNIQUE(tool_id, name)
		)`,
		`CREATE TABLE IF NOT EXISTS parameters (
			parameter_group_id INTEGER NOT NULL REFERENCES parameter_groups(id),
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			PRIMARY KEY (parameter_group_id, key)
		)`,
		`CREATE TABLE IF NOT EXISTS task_groups (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE
		)`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			task_group_id INTEGER NOT NULL REFERENCES task_groups(id),
			path TEXT NOT NULL UNIQUE
		)`,
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			tool_id INTEGER NOT NULL REFERENCES tools(id),
			parameter_group_id INTEGER NOT NULL REFERENCES parameter_groups(id),
			task_id INTEGER NOT NULL REFERENCES tasks(id),
			iteration INTEGER NOT NULL,
			directory TEXT NOT NULL,
			status INTEGER NOT NULL,
			last_step INTEGER NOT NULL DEFAULT -1,
			tool_version TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			UNIQUE(parameter_group_id, task_id, iteration)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status)`,
		`CREATE TABLE IF NOT EXISTS run_statistics (
			run_id TEXT PRIMARY KEY REFERENCES runs(id),
			verdict TEXT NOT NULL,
			cpu_time REAL,
			wall_time REAL,
			max_memory INTEGER,
			return_code INTEGER,
			output_size INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS stats_summary (
			tool_id INTEGER NOT NULL REFERENCES tools(id),
			parameter_group_id INTEGER NOT NULL REFERENCES parameter_groups(id),
			verdict TEXT NOT NULL,
			count INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (tool_id, parameter_group_id, verdict)
		)`,
		`CREATE TABLE IF NOT EXISTS sat_verdicts (
			run_id TEXT PRIMARY KEY REFERENCES runs(id),
			valid INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS sudoku_verdicts (
			run_id TEXT PRIMARY KEY REFERENCES runs(id),
			valid INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS nodes (
			hostname TEXT PRIMARY KEY,
			platform TEXT NOT NULL,
			arch TEXT NOT NULL,
			cpu_model TEXT NOT NULL,
			cpu_count INTEGER NOT NULL,
			memory_bytes INTEGER NOT NULL,
			swap_bytes INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS run_nodes (
			run_id TEXT NOT NULL REFERENCES runs(id),
			hostname TEXT NOT NULL REFERENCES nodes(hostname),
			PRIMARY KEY (run_id, hostname)
		)`,
	}
	for _, migration := range migrations {
		if _, err := b.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database connection.
func (b *Backend) Close() error {
	return b.db.Close()
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}
