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

// Package tasksource resolves a campaign's declared task groups into an
// ordered sequence of filesystem paths. Per , task-source
// adapters are external collaborators: the bootstrap planner only ever
// consumes this interface, never a concrete download/resolve mechanism.
package tasksource

import "context"

// TaskSource resolves one task group's declared source into an ordered,
// deterministic sequence of file paths on the worker-visible filesystem.
type TaskSource interface {
	// Resolve returns the task paths for the given group configuration.
	// Implementations should be idempotent: paths already materialized on
	// disk should not be re-fetched.
	Resolve(ctx context.Context, cfg Config) ([]string, error)
}

// Config is the subset of campaign.TaskSpec a TaskSource needs, kept
// independent of the campaign package to avoid an import cycle between
// bootstrap, campaign, and tasksource.
type Config struct {
	Type     string
	Path     string
	Patterns []string
	URLs     []string
	DOI      string
}

// registry is the static plugin registry for task sources, keyed by the
// campaign spec's `tasks.<group>.type` value.
var registry = map[string]TaskSource{
	"local": Local{},
}

// Register adds or replaces a TaskSource implementation under id. Intended
// to be called from an init() in a package that wires in its own adapter
// for "url" or "doi", since this module deliberately ships neither.
func Register(id string, source TaskSource) {
	registry[id] = source
}

// Lookup returns the TaskSource registered for id, or false if none is.
func Lookup(id string) (TaskSource, bool) {
	source, ok := registry[id]
	return source, ok
}
