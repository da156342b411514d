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

package workerclient

import (
	"fmt"

	"github.com/runbench/bench/internal/campaign"
	"github.com/runbench/bench/internal/wire"
)

// decodeRunContext turns WORKER_JOIN's reply payload back into the run
// context dispatcher.runContextToWire produced.
func decodeRunContext(v wire.Value) (*campaign.RunContext, error) {
	m, ok := v.(map[string]wire.Value)
	if !ok {
		return nil, fmt.Errorf("workerclient: run context: expected map, got %T", v)
	}

	rc := &campaign.RunContext{
		ID:         stringField(m, "id"),
		Task:       stringField(m, "task"),
		Tool:       stringField(m, "tool"),
		ToolConfig: stringField(m, "tool_config"),
		Directory:  stringField(m, "directory"),
		Parameters: map[string]string{},
		Limits:     map[string]float64{},
	}

	if params, ok := m["parameters"].(map[string]wire.Value); ok {
		for k, val := range params {
			if s, ok := val.(string); ok {
				rc.Parameters[k] = s
			}
		}
	}

	if limits, ok := m["limits"].(map[string]wire.Value); ok {
		for k, val := range limits {
			rc.Limits[k] = floatField(val)
		}
	}

	if steps, ok := m["steps"].([]wire.Value); ok {
		rc.Steps = make([]campaign.Step, 0, len(steps))
		for _, raw := range steps {
			sm, ok := raw.(map[string]wire.Value)
			if !ok {
				continue
			}
			rc.Steps = append(rc.Steps, campaign.Step{
				Category: campaign.StepCategoryRun,
				Ordinal:  int(intField(sm["ordinal"])),
				Module:   stringField(sm, "module"),
				Config:   stringField(sm, "config"),
			})
		}
	}

	return rc, nil
}

func stringField(m map[string]wire.Value, key string) string {
	s, _ := m[key].(string)
	return s
}

func intField(v wire.Value) int64 {
	switch x := v.(type) {
	case int64:
		return x
	case float64:
		return int64(x)
	default:
		return 0
	}
}

func floatField(v wire.Value) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case int64:
		return float64(x)
	default:
		return 0
	}
}
