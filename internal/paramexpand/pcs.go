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
	"math"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"

	"github.com/runbench/bench/pkg/berrors"
)

// PCSKey is the reserved parameter key carrying a PCS (parameter
// configuration space) text block.
const PCSKey = "__pcs"

// rangeTagEnv registers the range-generating functions a PCS line's
// trailing "# --> func(args)" comment may call. Each returns a []float64;
// the caller renders it to strings. Argument literal-eval is handled by
// expr-lang's own numeric literal parsing, which is what the spec asks for
// in place of Python's ast.literal_eval.
var rangeTagEnv = map[string]any{
	"range": func(args ...float64) []float64 {
		start, end, step := rangeArgs(args)
		var out []float64
		if step > 0 {
			for v := start; v < end; v += step {
				out = append(out, v)
			}
		}
		return out
	},
	"arange": func(args ...float64) []float64 {
		start, end, step := rangeArgs(args)
		var out []float64
		if step > 0 {
			for v := start; v < end; v += step {
				out = append(out, v)
			}
		}
		return out
	},
	"linspace": func(start, end float64, num int) []float64 {
		if num <= 1 {
			return []float64{start}
		}
		step := (end - start) / float64(num-1)
		out := make([]float64, num)
		for i := 0; i < num; i++ {
			out[i] = start + step*float64(i)
		}
		return out
	},
	"logspace": func(start, end float64, num int) []float64 {
		lin := rangeTagEnv["linspace"].(func(float64, float64, int) []float64)(start, end, num)
		out := make([]float64, len(lin))
		for i, v := range lin {
			out[i] = math.Pow(10, v)
		}
		return out
	},
	"geomspace": func(start, end float64, num int) []float64 {
		if start <= 0 || end <= 0 || num <= 1 {
			return []float64{start}
		}
		ratio := end / start
		out := make([]float64, num)
		for i := 0; i < num; i++ {
			out[i] = start * math.Pow(ratio, float64(i)/float64(num-1))
		}
		return out
	},
}

func rangeArgs(args []float64) (start, end, step float64) {
	step = 1
	switch len(args) {
	case 1:
		end = args[0]
	case 2:
		start, end = args[0], args[1]
	case 3:
		start, end, step = args[0], args[1], args[2]
	}
	return
}

// ExpandPCS parses a PCS text block, expands any "# --> func(args)"
// range tags found on a declaration line into a ranged dimension, and
// returns those alongside the block's plain categorical/numeric
// declarations as a {key: []value} ranged-dimension map suitable for
// merging into paramexpand.Expand's ranged set, plus the keys in the
// block's declaration order so callers can preserve it in group names.
func ExpandPCS(pcsText string) (ranged map[string][]string, order []string, err error) {
	lines := strings.Split(pcsText, "\n")
	ranged = map[string][]string{}

	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		// Conditionals/forbidden clauses (begin with '{' or contain '|')
		// don't declare a dimension; forbidden clauses are checked
		// separately by ConfigSpace.Validate.
		if strings.HasPrefix(line, "{") || strings.Contains(line, "|") {
			continue
		}

		tagIdx := strings.Index(line, "# -->")
		var tag string
		decl := line
		if tagIdx >= 0 {
			tag = strings.TrimSpace(line[tagIdx+len("# -->"):])
			decl = strings.TrimSpace(line[:tagIdx])
		} else if hashIdx := strings.Index(line, "#"); hashIdx >= 0 {
			decl = strings.TrimSpace(line[:hashIdx])
		}

		fields := strings.Fields(decl)
		if len(fields) == 0 {
			continue
		}
		key := fields[0]

		if tag != "" {
			values, err := evalRangeTag(tag)
			if err != nil {
				return nil, nil, fmt.Errorf("pcs key %q: %w", key, err)
			}
			ranged[key] = values
			order = append(order, key)
			continue
		}

		if choices, ok := parseCategorical(decl); ok {
			ranged[key] = choices
			order = append(order, key)
		}
		// Plain numeric range declarations without a range tag (e.g.
		// "key [0, 100] [10]") are bounds for ConfigSpace.Validate only;
		// they do not themselves enumerate a dimension, matching the
		// source's ConfigSpace semantics where an untagged real/integer
		// parameter is a single free value, not an expansion.
	}

	return ranged, order, nil
}

// evalRangeTag evaluates a "func(args...)" string against rangeTagEnv and
// renders the resulting []float64 to strings.
func evalRangeTag(tag string) ([]string, error) {
	out, err := expr.Eval(tag, rangeTagEnv)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid range expression %q: %v", berrors.ErrConfigInvalid, tag, err)
	}
	values, ok := out.([]float64)
	if !ok {
		return nil, fmt.Errorf("%w: range expression %q did not return a sequence", berrors.ErrConfigInvalid, tag)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("%w: range expression %q produced no values", berrors.ErrConfigInvalid, tag)
	}
	rendered := make([]string, len(values))
	for i, v := range values {
		rendered[i] = formatFloat(v)
	}
	return rendered, nil
}

// parseCategorical recognizes "key {a, b, c} [default]" declarations.
func parseCategorical(decl string) ([]string, bool) {
	open := strings.Index(decl, "{")
	close_ := strings.Index(decl, "}")
	if open < 0 || close_ < 0 || close_ < open {
		return nil, false
	}
	body := decl[open+1 : close_]
	parts := strings.Split(body, ",")
	choices := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			choices = append(choices, p)
		}
	}
	if len(choices) == 0 {
		return nil, false
	}
	return choices, true
}

func formatFloat(v float64) string {
	if v == float64(int64(v)) {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}
