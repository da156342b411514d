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

package paramexpand_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/runbench/bench/internal/paramexpand"
)

func TestExpandNoRangedDimensionsReturnsSingleGroup(t *testing.T) {
	groups, err := paramexpand.Expand("default", map[string]any{
		"timeout": "30",
		"mode":    "fast",
	}, nil)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	require.Equal(t, "default", groups[0].Name)
	require.Equal(t, "30", groups[0].Parameters["timeout"])
	require.Equal(t, "fast", groups[0].Parameters["mode"])
}

func TestExpandCardinalityIsProductOfDimensionSizes(t *testing.T) {
	groups, err := paramexpand.Expand("sweep", map[string]any{
		"seed":      []any{1, 2, 3},
		"threshold": []any{"0.1", "0.2"},
		"label":     "constant",
	}, nil)
	require.NoError(t, err)
	require.Len(t, groups, 6) // 3 * 2

	seen := map[string]bool{}
	for _, g := range groups {
		require.False(t, seen[g.Name], "duplicate group name %q", g.Name)
		seen[g.Name] = true
		require.Equal(t, "constant", g.Parameters["label"])
	}
}

func TestExpandNumericRangeString(t *testing.T) {
	groups, err := paramexpand.Expand("grp", map[string]any{
		"n": "1..5",
	}, nil)
	require.NoError(t, err)
	require.Len(t, groups, 5)
}

func TestExpandNumericRangeWithStep(t *testing.T) {
	groups, err := paramexpand.Expand("grp", map[string]any{
		"n": "0..10..2",
	}, nil)
	require.NoError(t, err)
	require.Len(t, groups, 6) // 0,2,4,6,8,10
}

func TestExpandNumericRangeNegativeStep(t *testing.T) {
	groups, err := paramexpand.Expand("grp", map[string]any{
		"n": "10..0..-5",
	}, nil)
	require.NoError(t, err)
	require.Len(t, groups, 3) // 10,5,0
}

func TestExpandRejectsZeroStepRange(t *testing.T) {
	_, err := paramexpand.Expand("grp", map[string]any{
		"n": "0..10..0",
	}, nil)
	require.Error(t, err)
}

func TestExpandGroupNamingIsDeterministic(t *testing.T) {
	params := map[string]any{
		"b": []any{1, 2},
		"a": []any{"x", "y"},
	}
	first, err := paramexpand.Expand("g", params, nil)
	require.NoError(t, err)
	second, err := paramexpand.Expand("g", params, nil)
	require.NoError(t, err)
	require.Len(t, first, 4)
	for i := range first {
		require.Equal(t, first[i].Name, second[i].Name)
	}
	// No declared order given: keys fall back to sorted (a before b)
	// regardless of map iteration order.
	require.Contains(t, first[0].Name, "a=")
}

func TestExpandGroupNamingPreservesDeclaredOrder(t *testing.T) {
	params := map[string]any{
		"solver": []any{"glucose", "minisat"},
		"seed":   "1..3",
	}
	groups, err := paramexpand.Expand("g", params, []string{"solver", "seed"})
	require.NoError(t, err)
	require.Equal(t, "g[solver=glucose,seed=1]", groups[0].Name)
}
