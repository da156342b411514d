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

package paramexpand

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/runbench/bench/pkg/berrors"
)

// ConfigSpace is a minimal PCS configuration-space reader: enough to
// validate that a parameter combination assigns each declared key a value
// within its declared domain and does not match a forbidden clause.
//
// This replaces a dependency on an external configuration-space solver
// (none exists in the Go ecosystem, to the author's knowledge) with the
// subset of PCS semantics a parameter expansion actually requires:
// assigning each key rejects invalid values.
type ConfigSpace struct {
	categorical map[string]map[string]bool
	numeric     map[string][2]float64
	forbidden   []map[string]string
}

// ParseConfigSpace reads a PCS text block's declarations (ignoring the
// range-tag comments, which paramexpand.ExpandPCS already turned into
// enumerated dimensions) into a ConfigSpace.
func ParseConfigSpace(pcsText string) (*ConfigSpace, error) {
	cs := &ConfigSpace{
		categorical: map[string]map[string]bool{},
		numeric:     map[string][2]float64{},
	}

	for _, raw := range strings.Split(pcsText, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "{") {
			clause, err := parseForbidden(line)
			if err != nil {
				return nil, err
			}
			cs.forbidden = append(cs.forbidden, clause)
			continue
		}

		decl := line
		if idx := strings.Index(decl, "#"); idx >= 0 {
			decl = strings.TrimSpace(decl[:idx])
		}
		fields := strings.Fields(decl)
		if len(fields) == 0 {
			continue
		}
		key := fields[0]

		if choices, ok := parseCategorical(decl); ok {
			set := make(map[string]bool, len(choices))
			for _, c := range choices {
				set[c] = true
			}
			cs.categorical[key] = set
			continue
		}

		if lo, hi, ok := parseNumericBounds(decl); ok {
			cs.numeric[key] = [2]float64{lo, hi}
		}
	}

	return cs, nil
}

// parseNumericBounds recognizes "key [min, max] [default]".
func parseNumericBounds(decl string) (lo, hi float64, ok bool) {
	open := strings.Index(decl, "[")
	close_ := strings.Index(decl, "]")
	if open < 0 || close_ < 0 || close_ < open {
		return 0, 0, false
	}
	body := decl[open+1 : close_]
	parts := strings.Split(body, ",")
	if len(parts) != 2 {
		return 0, 0, false
	}
	lo, errLo := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	hi, errHi := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if errLo != nil || errHi != nil {
		return 0, 0, false
	}
	return lo, hi, true
}

// parseForbidden recognizes "{key1=v1, key2=v2}" forbidden clauses.
func parseForbidden(line string) (map[string]string, error) {
	open := strings.Index(line, "{")
	close_ := strings.LastIndex(line, "}")
	if open < 0 || close_ < 0 || close_ < open {
		return nil, fmt.Errorf("%w: malformed forbidden clause: %q", berrors.ErrConfigInvalid, line)
	}
	body := line[open+1 : close_]
	clause := map[string]string{}
	for _, pair := range strings.Split(body, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("%w: malformed forbidden pair: %q", berrors.ErrConfigInvalid, pair)
		}
		clause[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
	}
	return clause, nil
}

// Validate checks that every value params gives a declared key lies in
// that key's domain, and that no forbidden clause is fully satisfied.
// Declared keys that params omits are not checked.
func (cs *ConfigSpace) Validate(params map[string]string) error {
	for key, value := range params {
		if choices, declared := cs.categorical[key]; declared {
			if !choices[value] {
				return fmt.Errorf("%w: %q is not a valid value for %q", berrors.ErrConfigInvalid, value, key)
			}
			continue
		}
		if bounds, declared := cs.numeric[key]; declared {
			f, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return fmt.Errorf("%w: %q is not numeric for %q", berrors.ErrConfigInvalid, value, key)
			}
			if f < bounds[0] || f > bounds[1] {
				return fmt.Errorf("%w: %v out of bounds [%v,%v] for %q", berrors.ErrConfigInvalid, f, bounds[0], bounds[1], key)
			}
		}
	}

	for _, clause := range cs.forbidden {
		matches := true
		for key, value := range clause {
			if params[key] != value {
				matches = false
				break
			}
		}
		if matches {
			return fmt.Errorf("%w: combination matches forbidden clause %v", berrors.ErrConfigInvalid, clause)
		}
	}

	return nil
}
