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

package tasksource

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/runbench/bench/pkg/berrors"
)

// Local resolves a task group from a directory already present on the
// worker-visible filesystem, matching one or more gitwildmatch-equivalent
// glob patterns.
type Local struct{}

// Resolve implements TaskSource.
func (Local) Resolve(ctx context.Context, cfg Config) ([]string, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("%w: local task source requires a path", berrors.ErrTaskSource)
	}
	patterns := cfg.Patterns
	if len(patterns) == 0 {
		patterns = []string{"**"}
	}

	root := os.DirFS(cfg.Path)
	seen := map[string]bool{}
	var matches []string

	for _, pattern := range patterns {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("%w: invalid glob pattern %q", berrors.ErrTaskSource, pattern)
		}
		found, err := doublestar.Glob(root, pattern, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("%w: glob %q under %q: %v", berrors.ErrTaskSource, pattern, cfg.Path, err)
		}
		for _, rel := range found {
			abs := filepath.Join(cfg.Path, rel)
			if seen[abs] {
				continue
			}
			seen[abs] = true
			matches = append(matches, abs)
		}
	}

	sort.Strings(matches)
	return matches, nil
}
