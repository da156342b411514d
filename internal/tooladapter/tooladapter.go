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

// Package tooladapter holds the Tool capability and its
// static registry. A tool is a polymorphic external
// program: setup/is_ready/version lifecycle hooks around one
// pre_run/cmdline/post_run invocation.
package tooladapter

import (
	"context"
	"fmt"
	"sync"

	"github.com/runbench/bench/internal/observer"
	"github.com/runbench/bench/pkg/berrors"
)

// Tool is an external solver/program under benchmark, addressed by its
// campaign.Tool.ModuleID. setup() and teardown() are the tool-install
// lifecycle (left as no-ops by the default adapter: the download/compile
// scripts themselves are an external collaborator, not this engine's
// concern); pre_run/cmdline/post_run bracket one run.
type Tool interface {
	Setup(ctx context.Context) error
	IsReady(ctx context.Context) bool
	Version(ctx context.Context) (string, error)
	PreRun(ctx context.Context, rc *observer.Context) error
	Cmdline(ctx context.Context, rc *observer.Context) ([]string, error)
	PostRun(ctx context.Context, rc *observer.Context) error
	Teardown(ctx context.Context) error
}

// Factory builds a Tool from its raw (JSON, opaque here) campaign.Tool
// config.
type Factory func(config string) (Tool, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register adds moduleID to the static Tool registry. Called from each
// tool adapter's package init.
func Register(moduleID string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[moduleID] = factory
}

// New constructs the Tool registered under moduleID. Returns
// berrors.ErrUnknownModule if nothing is registered under that id.
func New(moduleID, config string) (Tool, error) {
	registryMu.RLock()
	factory, ok := registry[moduleID]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: tool %q", berrors.ErrUnknownModule, moduleID)
	}
	return factory(config)
}
