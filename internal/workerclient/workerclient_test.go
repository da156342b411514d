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

package workerclient_test

import (
	"context"
	"errors"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/runbench/bench/internal/campaign"
	"github.com/runbench/bench/internal/dispatcher"
	"github.com/runbench/bench/internal/observer"
	"github.com/runbench/bench/internal/server"
	"github.com/runbench/bench/internal/store/sqlite"
	"github.com/runbench/bench/internal/tooladapter"
	"github.com/runbench/bench/internal/workerclient"
)

// fakeTool is a minimal tooladapter.Tool; workerclient calls IsReady,
// Setup and Version directly , ahead of any step.
type fakeTool struct{ ready bool }

func (f fakeTool) Setup(ctx context.Context) error                        { return nil }
func (f fakeTool) IsReady(ctx context.Context) bool                       { return f.ready }
func (f fakeTool) Version(ctx context.Context) (string, error)            { return "9.9", nil }
func (f fakeTool) PreRun(ctx context.Context, rc *observer.Context) error  { return nil }
func (f fakeTool) PostRun(ctx context.Context, rc *observer.Context) error { return nil }
func (f fakeTool) Teardown(ctx context.Context) error                     { return nil }
func (f fakeTool) Cmdline(ctx context.Context, rc *observer.Context) ([]string, error) {
	return []string{"/bin/true"}, nil
}

// fakeStep records the contexts it was invoked with, or fails when told
// to, so a test can exercise the crash-safety RUN_INTERRUPT path.
type fakeStep struct {
	fail bool
	seen chan *observer.Context
}

func (s *fakeStep) Execute(ctx context.Context, sc *observer.Context) error {
	if s.seen != nil {
		s.seen <- sc
	}
	if s.fail {
		return errors.New("fakeStep: induced failure")
	}
	return nil
}

func newLoopbackServer(t *testing.T) (*server.Server, string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	s := server.New(server.Config{Address: addr, ServeForever: true})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = s.Serve(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		s.Shutdown()
		<-done
	})

	require.Eventually(t, func() bool {
		c, err := net.Dial("tcp", addr)
		if err != nil {
			return false
		}
		c.Close()
		return true
	}, 2*time.Second, 10*time.Millisecond)

	return s, addr
}

func seedPendingRun(t *testing.T, toolModule, stepModule string) (*sqlite.Backend, string) {
	t.Helper()
	ctx := context.Background()
	b, err := sqlite.New(ctx, sqlite.Config{Path: filepath.Join(t.TempDir(), "bench.db"), WAL: true})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, b.Close()) })

	require.NoError(t, b.EnsureSteps(ctx, []campaign.Step{
		{Category: campaign.StepCategoryRun, Ordinal: 0, Module: stepModule, Config: ""},
	}))

	toolID, err := b.EnsureTool(ctx, campaign.Tool{ModuleID: toolModule})
	require.NoError(t, err)
	pgID, err := b.EnsureParameterGroup(ctx, toolID, campaign.ParameterGroup{Tool: toolModule, Name: "default"},
		[]campaign.Parameter{{Key: "k", Value: "v"}})
	require.NoError(t, err)
	tgID, err := b.EnsureTaskGroup(ctx, campaign.TaskGroup{Name: "g"})
	require.NoError(t, err)
	taskID, err := b.EnsureTask(ctx, tgID, campaign.Task{Path: "/tasks/a.in", Group: "g"})
	require.NoError(t, err)
	runID, _, err := b.EnsureRun(ctx, toolID, pgID, taskID, 0, filepath.Join(t.TempDir(), "run-a"))
	require.NoError(t, err)

	return b, runID
}

func runDispatcher(t *testing.T, s *server.Server, b *sqlite.Backend) {
	t.Helper()
	d := dispatcher.New(b, nil, s, nil)
	events := s.Subscribe(dispatcher.Subscriptions()...)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = d.Run(ctx, events)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestWorkerRunsOneRunToCompletionThenExitsOnExhaustedCampaign(t *testing.T) {
	tooladapter.Register("fake-tool-ok", func(string) (tooladapter.Tool, error) {
		return fakeTool{ready: true}, nil
	})
	seen := make(chan *observer.Context, 1)
	observer.Register("fake-step-ok", func(string) (observer.Step, error) {
		return &fakeStep{seen: seen}, nil
	})

	s, addr := newLoopbackServer(t)
	b, runID := seedPendingRun(t, "fake-tool-ok", "fake-step-ok")
	runDispatcher(t, s, b)

	w := workerclient.New(workerclient.Config{ServerAddress: addr, RequestTimeout: 2 * time.Second})

	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background()) }()

	select {
	case sc := <-seen:
		require.Equal(t, "fake-tool-ok", sc.Tool)
		require.Equal(t, "v", sc.Parameters["k"])
	case <-time.After(3 * time.Second):
		t.Fatal("step was never invoked")
	}

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("worker did not exit after campaign exhausted")
	}

	run, err := b.GetRun(context.Background(), runID)
	require.NoError(t, err)
	require.Equal(t, campaign.StatusDone, run.Status)
	require.Equal(t, "9.9", run.ToolVersion)
}

func TestWorkerSendsRunInterruptWhenStepFails(t *testing.T) {
	tooladapter.Register("fake-tool-fail", func(string) (tooladapter.Tool, error) {
		return fakeTool{ready: true}, nil
	})
	observer.Register("fake-step-fail", func(string) (observer.Step, error) {
		return &fakeStep{fail: true}, nil
	})

	s, addr := newLoopbackServer(t)
	b, runID := seedPendingRun(t, "fake-tool-fail", "fake-step-fail")
	runDispatcher(t, s, b)

	w := workerclient.New(workerclient.Config{ServerAddress: addr, RequestTimeout: 2 * time.Second})
	err := w.Run(context.Background())
	require.Error(t, err)

	require.Eventually(t, func() bool {
		run, err := b.GetRun(context.Background(), runID)
		require.NoError(t, err)
		return run.Status == campaign.StatusPending
	}, 2*time.Second, 20*time.Millisecond)
}
