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

package observer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/runbench/bench/internal/campaign"
	"github.com/runbench/bench/internal/store"
)

// Analyzer runs the ANALYSIS-category step pipeline once a campaign's
// runs are done. Unlike a RUN-category step, an analysis step runs
// in-process against {output_dir, db_path} rather than one claimed run's
// directory — the distinction between per-run execution and a
// single post-hoc pass over the whole campaign.
type Analyzer struct {
	store     store.BootstrapStore
	outputDir string
	dbPath    string
	logger    *slog.Logger
}

// NewAnalyzer constructs an Analyzer over outputDir/dbPath, the two
// values every ANALYSIS step's Context carries.
func NewAnalyzer(st store.BootstrapStore, outputDir, dbPath string, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{store: st, outputDir: outputDir, dbPath: dbPath, logger: logger}
}

// Run executes every registered ANALYSIS step in ordinal order, stopping
// at the first error.
func (a *Analyzer) Run(ctx context.Context) error {
	steps, err := a.store.ListSteps(ctx, campaign.StepCategoryAnalysis)
	if err != nil {
		return fmt.Errorf("analyzer: list steps: %w", err)
	}
	sc := &Context{OutputDir: a.outputDir, DBPath: a.dbPath}
	for _, s := range steps {
		step, err := New(s.Module, s.Config)
		if err != nil {
			return fmt.Errorf("analyzer: step %q: %w", s.Module, err)
		}
		a.logger.Info("running analysis step", "module", s.Module, "ordinal", s.Ordinal)
		if err := step.Execute(ctx, sc); err != nil {
			return fmt.Errorf("analyzer: step %q: %w", s.Module, err)
		}
	}
	return nil
}
