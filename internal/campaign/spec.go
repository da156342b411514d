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

package campaign

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/runbench/bench/pkg/berrors"
)

// Spec is the decoded campaign specification.
type Spec struct {
	Title       string              `yaml:"title"`
	Description string              `yaml:"description"`
	Limits      LimitsSpec          `yaml:"limits"`
	Steps       StepsSpec           `yaml:"steps"`
	Observers   []PluginSpec        `yaml:"observers"`
	Tools       map[string]ToolSpec `yaml:"tools"`
	Tasks       map[string]TaskSpec `yaml:"tasks"`
}

// LimitsSpec is the declared resource ceiling for every run in the
// campaign.
type LimitsSpec struct {
	TimeSeconds float64 `yaml:"time"`
	MemoryMiB   float64 `yaml:"memory"`
	OutputBytes *int64  `yaml:"output"`
	Cores       *int    `yaml:"cores"`
}

// PluginSpec references a statically registered Step/Observer/TaskSource
// module by id, with opaque configuration.
type PluginSpec struct {
	Module string         `yaml:"module"`
	Config map[string]any `yaml:"config"`
}

// StepsSpec is the ordered run/analysis step lists.
type StepsSpec struct {
	Run      []PluginSpec `yaml:"run"`
	Analysis []PluginSpec `yaml:"analysis"`
}

// ToolSpec is one tool entry: its module id and parameter groups.
type ToolSpec struct {
	Module     string                `yaml:"module"`
	Parameters map[string]ParamGroup `yaml:"parameters"`
}

// ParamGroup is one named {key: value} parameter mapping, decoded so it
// retains the declaration order of its keys: paramexpand.Expand walks
// that order (enum-then-range) to name enumerated groups, rather than
// resorting it alphabetically.
type ParamGroup struct {
	Values map[string]any
	Order  []string
}

// UnmarshalYAML decodes a mapping node into Values while recording each
// key's position in Order.
func (g *ParamGroup) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("%w: parameter group must be a mapping", berrors.ErrConfigInvalid)
	}
	g.Values = make(map[string]any, len(node.Content)/2)
	g.Order = make([]string, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		var key string
		if err := node.Content[i].Decode(&key); err != nil {
			return fmt.Errorf("%w: parameter key: %v", berrors.ErrConfigInvalid, err)
		}
		var value any
		if err := node.Content[i+1].Decode(&value); err != nil {
			return fmt.Errorf("%w: parameter %q: %v", berrors.ErrConfigInvalid, key, err)
		}
		g.Values[key] = value
		g.Order = append(g.Order, key)
	}
	return nil
}

// TaskSpec describes one task group's source.
type TaskSpec struct {
	Type     string   `yaml:"type"` // local, url, doi
	Path     string   `yaml:"path"`
	Patterns []string `yaml:"patterns"`
	URLs     []string `yaml:"urls"`
	DOI      string   `yaml:"doi"`
}

const defaultMemoryMiB = 8192

// Parse decodes a campaign spec from YAML bytes and applies defaults.
func Parse(data []byte) (*Spec, error) {
	var spec Spec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("%w: %v", berrors.ErrConfigInvalid, err)
	}
	spec.applyDefaults()
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return &spec, nil
}

func (s *Spec) applyDefaults() {
	if s.Limits.MemoryMiB == 0 {
		s.Limits.MemoryMiB = defaultMemoryMiB
	}
}

// Validate checks the recognized-key invariants a campaign requires: a
// title, a positive limits.time, at least one tool, a module on every
// tool, and a known type (local, url, doi) on every task source. Unknown
// task-source types pass the YAML decoder and are rejected here. It
// returns the first violation it finds; tool parameter groups are not
// inspected.
func (s *Spec) Validate() error {
	if s.Title == "" {
		return fmt.Errorf("%w: title is required", berrors.ErrConfigInvalid)
	}
	if s.Limits.TimeSeconds <= 0 {
		return fmt.Errorf("%w: limits.time must be positive", berrors.ErrConfigInvalid)
	}
	if len(s.Tools) == 0 {
		return fmt.Errorf("%w: at least one tool is required", berrors.ErrConfigInvalid)
	}
	for name, tool := range s.Tools {
		if tool.Module == "" {
			return fmt.Errorf("%w: tool %q missing module", berrors.ErrConfigInvalid, name)
		}
	}
	for name, task := range s.Tasks {
		switch task.Type {
		case "local", "url", "doi":
		default:
			return fmt.Errorf("%w: task group %q has unknown source type %q", berrors.ErrConfigInvalid, name, task.Type)
		}
	}
	return nil
}
