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

// Package paramexpand expands a tool's declared parameter mapping into
// one or more concrete ParameterGroups, enumerating every ranged
// dimension's cartesian product.
package paramexpand

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/runbench/bench/pkg/berrors"
)

// Group is one expanded parameter assignment, ready to become a
// campaign.ParameterGroup + campaign.Parameter rows.
type Group struct {
	Name       string
	Parameters map[string]string
}

var rangeRe = regexp.MustCompile(`^(-?\d+)\.\.(-?\d+)(?:\.\.(-?\d+))?$`)

// isRangeString reports whether value matches start..end[..step].
func isRangeString(value string) bool {
	return rangeRe.MatchString(strings.TrimSpace(value))
}

// parseRangeString expands "start..end[..step]" into an inclusive integer
// sequence, rendered back to strings to match the other dimension kinds.
func parseRangeString(value string) ([]string, error) {
	m := rangeRe.FindStringSubmatch(strings.TrimSpace(value))
	if m == nil {
		return nil, fmt.Errorf("%w: not a range: %q", berrors.ErrConfigInvalid, value)
	}
	start, _ := strconv.Atoi(m[1])
	end, _ := strconv.Atoi(m[2])
	step := 1
	if m[3] != "" {
		step, _ = strconv.Atoi(m[3])
	}
	if step == 0 {
		return nil, fmt.Errorf("%w: range step cannot be zero: %q", berrors.ErrConfigInvalid, value)
	}
	var out []string
	if step > 0 {
		for v := start; v <= end; v += step {
			out = append(out, strconv.Itoa(v))
		}
	} else {
		for v := start; v >= end; v += step {
			out = append(out, strconv.Itoa(v))
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: empty range: %q", berrors.ErrConfigInvalid, value)
	}
	return out, nil
}

// toStringValues renders a raw YAML-decoded parameter value to its string
// form for storage, and reports whether it is itself a ranged dimension
// (a YAML sequence).
func toStringValues(value any) (values []string, ranged bool, err error) {
	switch v := value.(type) {
	case []any:
		out := make([]string, len(v))
		for i, item := range v {
			out[i] = fmt.Sprintf("%v", item)
		}
		return out, true, nil
	case string:
		if isRangeString(v) {
			vals, err := parseRangeString(v)
			return vals, true, err
		}
		return []string{v}, false, nil
	case nil:
		return []string{""}, false, nil
	default:
		return []string{fmt.Sprintf("%v", v)}, false, nil
	}
}

// Expand turns a tool's raw parameter mapping into one or more Groups.
// groupName is the declared group's name (the key in the campaign spec's
// `parameters` map); parameters is that group's {key: value} mapping,
// where a value may be a plain scalar, a YAML sequence (enum), a
// "start..end[..step]" numeric range string, or the reserved "__pcs" key
// holding a PCS text block (handled by ExpandPCS, called separately by the
// bootstrap planner before Expand sees the remaining keys). order gives
// the keys' declaration order (enum-then-range, matching how the caller
// assembled parameters); keys it omits fall back to alphabetical order
// after it, and a nil order sorts every key, which is what a direct call
// without a declared source gets.
func Expand(groupName string, parameters map[string]any, order []string) ([]Group, error) {
	ranged := map[string][]string{}
	constant := map[string]string{}

	keys := orderedKeys(parameters, order)

	for _, key := range keys {
		values, isRanged, err := toStringValues(parameters[key])
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", key, err)
		}
		if isRanged {
			ranged[key] = values
		} else {
			constant[key] = values[0]
		}
	}

	if len(ranged) == 0 {
		return []Group{{Name: groupName, Parameters: constant}}, nil
	}

	rangedKeys := make([]string, 0, len(ranged))
	for _, key := range keys {
		if _, ok := ranged[key]; ok {
			rangedKeys = append(rangedKeys, key)
		}
	}

	combos := cartesianProduct(rangedKeys, ranged)
	groups := make([]Group, 0, len(combos))
	for _, combo := range combos {
		params := make(map[string]string, len(constant)+len(combo))
		for k, v := range constant {
			params[k] = v
		}
		var parts []string
		for _, k := range rangedKeys {
			v := combo[k]
			params[k] = v
			parts = append(parts, fmt.Sprintf("%s=%s", k, v))
		}
		groups = append(groups, Group{
			Name:       fmt.Sprintf("%s[%s]", groupName, strings.Join(parts, ",")),
			Parameters: params,
		})
	}
	return groups, nil
}

// orderedKeys walks order first, keeping only the keys parameters
// actually has and skipping duplicates, then appends any remaining
// parameters keys order didn't mention, sorted for determinism.
func orderedKeys(parameters map[string]any, order []string) []string {
	seen := make(map[string]bool, len(parameters))
	keys := make([]string, 0, len(parameters))
	for _, k := range order {
		if seen[k] {
			continue
		}
		if _, ok := parameters[k]; !ok {
			continue
		}
		seen[k] = true
		keys = append(keys, k)
	}

	var rest []string
	for k := range parameters {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	return append(keys, rest...)
}

// cartesianProduct enumerates every combination across the ranged
// dimensions, preserving the order of rangedKeys and each dimension's own
// value order so output is deterministic.
func cartesianProduct(rangedKeys []string, ranged map[string][]string) []map[string]string {
	combos := []map[string]string{{}}
	for _, key := range rangedKeys {
		values := ranged[key]
		next := make([]map[string]string, 0, len(combos)*len(values))
		for _, combo := range combos {
			for _, v := range values {
				extended := make(map[string]string, len(combo)+1)
				for k, existing := range combo {
					extended[k] = existing
				}
				extended[key] = v
				next = append(next, extended)
			}
		}
		combos = next
	}
	return combos
}
