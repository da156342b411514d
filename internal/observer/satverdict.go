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
	"os"
	"path/filepath"
	"strings"

	"github.com/runbench/bench/internal/campaign"
	"github.com/runbench/bench/internal/server"
	"github.com/runbench/bench/internal/store"
	"github.com/runbench/bench/internal/wire"
)

const satTaskMarker = "c note: satisfiable"

func init() {
	Register("SATValidator", func(string) (Step, error) { return satValidator{}, nil })
}

// satValidator is the SAT step (examples/sat/sat/validate.py's
// SATValidator): it compares the solver's reported satisfiability against
// the task file's own satisfiable/unsatisfiable marker comment and
// publishes the verdict.
type satValidator struct{}

func (satValidator) Execute(ctx context.Context, sc *Context) error {
	task, err := os.ReadFile(sc.Task)
	if err != nil {
		return fmt.Errorf("sat validator: read task: %w", err)
	}
	output, err := os.ReadFile(filepath.Join(sc.Directory, "run.out"))
	if err != nil {
		return fmt.Errorf("sat validator: read output: %w", err)
	}

	satisfiable := strings.Contains(strings.ToLower(string(task)), satTaskMarker)
	out := string(output)
	valid := (satisfiable && strings.Contains(out, "s SATISFIABLE")) ||
		(!satisfiable && strings.Contains(out, "s UNSATISFIABLE"))

	return sc.Emit(wire.EventSATVerdictStore, map[string]wire.Value{
		"run_id": sc.RunID,
		"valid":  valid,
	})
}

// SATVerdictCollector persists satverdict:store events
func SATVerdictCollector(st store.DomainStore, logger *slog.Logger) *Collector {
	return &Collector{
		Kind:   wire.EventSATVerdictStore,
		Logger: logger,
		Handle: func(ctx context.Context, ev server.Event) error {
			payload, ok := ev.Payload.(map[string]wire.Value)
			if !ok {
				return fmt.Errorf("satverdict:store payload: expected map, got %T", ev.Payload)
			}
			runID, _ := payload["run_id"].(string)
			valid, _ := payload["valid"].(bool)
			return st.SaveSATVerdict(ctx, campaign.SATVerdict{Run: runID, Valid: valid})
		},
	}
}
