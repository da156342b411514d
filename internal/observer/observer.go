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

// Package observer holds the pluggable Step capability and the domain
// observers that consume the satverdict:store, sudokuverdict:store,
// sysinfo:store and runstats:store events a Step publishes: a
// subscribe-then-persist shape shared by every observer in this
// package, plus the domain-specific verdict steps themselves.
package observer

import (
	"context"
	"fmt"
	"sync"

	"github.com/runbench/bench/internal/wire"
	"github.com/runbench/bench/pkg/berrors"
)

// Context is the state a Step executes against: the claimed run's
// identity and directory, its resolved tool parameters, and a Publish
// hook the step uses to emit a domain event back to the server over the
// worker's own connection. OutputDir
// and DBPath are set only for ANALYSIS-category steps;
// a RUN step must not read them.
type Context struct {
	RunID      string
	Directory  string
	Task       string
	Tool       string // tool adapter module id (campaign.Tool.ModuleID)
	ToolConfig string // tool adapter's own raw config, opaque here
	Parameters map[string]string
	Limits     map[string]float64

	OutputDir string
	DBPath    string

	Publish func(kind wire.EventKind, payload wire.Value) error
}

// Emit is a nil-safe convenience so a Step doesn't have to guard
// ctx.Publish itself (ANALYSIS steps that run in-process, e.g. via the
// Analyzer, may leave it unset because they have no server round trip to
// make).
func (c *Context) Emit(kind wire.EventKind, payload wire.Value) error {
	if c.Publish == nil {
		return nil
	}
	return c.Publish(kind, payload)
}

// Step is one pluggable unit of run or analysis work. Implementations
// are registered by module id at program start and referenced from
// campaign YAML by that id, never by import path.
type Step interface {
	Execute(ctx context.Context, sc *Context) error
}

// Factory builds a Step from its raw (JSON, opaque here) campaign.Step
// config.
type Factory func(config string) (Step, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register adds moduleID to the static Step registry. Called from each
// step implementation's package init.
func Register(moduleID string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[moduleID] = factory
}

// New constructs the Step registered under moduleID. Returns
// berrors.ErrUnknownModule if nothing is registered under that id.
func New(moduleID, config string) (Step, error) {
	registryMu.RLock()
	factory, ok := registry[moduleID]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: step %q", berrors.ErrUnknownModule, moduleID)
	}
	return factory(config)
}
