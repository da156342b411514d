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

// Package workerclient implements the Worker: the
// join/request/step/finish loop a benchmark worker runs against the Event
// Router's frontend socket, over the length-delimited TCP frame
// protocol in internal/wire: a join-then-loop shape, an is_ready/setup/
// version tool bring-up before RUN_START, and a terminal RUN_INTERRUPT
// safety net. Transport retries use
// github.com/cenkalti/backoff/v5 with an unbounded attempt count: an
// exponential backoff, unlimited retries policy for event sends.
package workerclient

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/runbench/bench/internal/campaign"
	"github.com/runbench/bench/internal/observer"
	"github.com/runbench/bench/internal/tooladapter"
	"github.com/runbench/bench/internal/wire"
	"github.com/runbench/bench/pkg/berrors"
)

// defaultRequestTimeout is the default REQUEST_TIMEOUT.
const defaultRequestTimeout = 15 * time.Second

// Config configures a Worker.
type Config struct {
	// ServerAddress is the Event Router's frontend TCP address.
	ServerAddress string

	// AuthToken is the bearer token presented in WORKER_JOIN's payload, if
	// the router has authentication enabled. Empty sends no token.
	AuthToken string

	// RequestTimeout bounds how long WORKER_JOIN waits for its reply
	// before concluding the server is dead. Default 15s.
	RequestTimeout time.Duration

	// PreAssignedRunID puts the worker in array mode: it processes exactly
	// one run (claimed by this id) then sends WORKER_LEAVE and returns,
	// instead of looping for more work.
	PreAssignedRunID string

	Logger *slog.Logger
}

// Worker runs the join/request/step/finish loop against one Event Router
// connection.
type Worker struct {
	cfg      Config
	clientID string
	logger   *slog.Logger

	nc net.Conn
}

// New constructs a Worker. It does not connect until Run is called.
func New(cfg Config) *Worker {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Worker{cfg: cfg, clientID: uuid.NewString(), logger: cfg.Logger}
}

// Run dials the server and processes runs until the campaign is exhausted,
// the server stops answering WORKER_JOIN, or ctx is canceled. In array
// mode (PreAssignedRunID set) it processes exactly one run.
func (w *Worker) Run(ctx context.Context) error {
	nc, err := (&net.Dialer{}).DialContext(ctx, "tcp", w.cfg.ServerAddress)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %v", berrors.ErrTransport, w.cfg.ServerAddress, err)
	}
	w.nc = nc
	defer nc.Close()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		rc, err := w.join(ctx)
		if err != nil {
			return err
		}
		if rc == nil {
			w.logger.Info("campaign exhausted", "client", w.clientID)
			return nil
		}

		if err := w.processRun(ctx, rc); err != nil {
			return err
		}

		if w.cfg.PreAssignedRunID != "" {
			return w.sendEvent(ctx, wire.EventWorkerLeave, nil)
		}
	}
}

// join sends WORKER_JOIN and returns the claimed run context, nil if the
// campaign is exhausted.
func (w *Worker) join(ctx context.Context) (*campaign.RunContext, error) {
	payload := wire.Value(nil)
	if w.cfg.PreAssignedRunID != "" {
		payload = w.cfg.PreAssignedRunID
	}
	if w.cfg.AuthToken != "" {
		payload = map[string]wire.Value{"run_id": payload, "token": w.cfg.AuthToken}
	}

	if err := w.sendEvent(ctx, wire.EventWorkerJoin, payload); err != nil {
		return nil, err
	}

	w.nc.SetReadDeadline(time.Now().Add(w.cfg.RequestTimeout))
	defer w.nc.SetReadDeadline(time.Time{})

	reply, err := wire.ReadReply(w.nc)
	if err != nil {
		return nil, fmt.Errorf("%w: worker_join reply: %v", berrors.ErrTransport, err)
	}
	if reply.Payload == nil {
		return nil, nil
	}
	return decodeRunContext(reply.Payload)
}

// processRun builds the execution context and drives the step list
// , guarded by a crash-safety hook that emits
// RUN_INTERRUPT if the process is killed or a step fails while the run is
// still claimed.
func (w *Worker) processRun(ctx context.Context, rc *campaign.RunContext) error {
	if err := os.MkdirAll(rc.Directory, 0o755); err != nil {
		return fmt.Errorf("workerclient: create run directory %s: %w", rc.Directory, err)
	}

	tool, err := tooladapter.New(rc.Tool, rc.ToolConfig)
	if err != nil {
		return err
	}
	if !tool.IsReady(ctx) {
		if err := tool.Setup(ctx); err != nil {
			return fmt.Errorf("workerclient: tool setup: %w", err)
		}
	}
	version, err := tool.Version(ctx)
	if err != nil {
		return fmt.Errorf("workerclient: tool version: %w", err)
	}

	claimed := &atomic.Bool{}
	claimed.Store(true)
	stopSignals := w.installCrashHook(rc.ID, claimed)
	defer stopSignals()

	var runErr error
	defer func() {
		if runErr != nil && claimed.CompareAndSwap(true, false) {
			w.sendEvent(context.Background(), wire.EventRunInterrupt, rc.ID)
		}
	}()

	if err := w.sendEvent(ctx, wire.EventRunStart, map[string]wire.Value{
		"run_id":       rc.ID,
		"tool_version": version,
	}); err != nil {
		runErr = err
		return err
	}

	sc := &observer.Context{
		RunID:      rc.ID,
		Directory:  rc.Directory,
		Task:       rc.Task,
		Tool:       rc.Tool,
		ToolConfig: rc.ToolConfig,
		Parameters: rc.Parameters,
		Limits:     rc.Limits,
		Publish: func(kind wire.EventKind, payload wire.Value) error {
			return w.sendEvent(ctx, kind, payload)
		},
	}

	for _, step := range rc.Steps {
		impl, err := observer.New(step.Module, step.Config)
		if err != nil {
			runErr = err
			return err
		}
		if err := impl.Execute(ctx, sc); err != nil {
			runErr = fmt.Errorf("workerclient: step %s: %w", step.Module, err)
			return runErr
		}
		if err := w.sendEvent(ctx, wire.EventRunStep, map[string]wire.Value{
			"run_id": rc.ID,
			"step":   step.Module,
		}); err != nil {
			runErr = err
			return err
		}
	}

	if err := w.sendEvent(ctx, wire.EventRunFinish, rc.ID); err != nil {
		runErr = err
		return err
	}
	claimed.Store(false)
	return nil
}

// installCrashHook registers SIGTERM/SIGINT handling so a killed worker
// still emits RUN_INTERRUPT before dying. The returned func unregisters
// it.
func (w *Worker) installCrashHook(runID string, claimed *atomic.Bool) func() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	done := make(chan struct{})

	go func() {
		select {
		case <-sigCh:
			if claimed.CompareAndSwap(true, false) {
				w.sendEvent(context.Background(), wire.EventRunInterrupt, runID)
				w.sendEvent(context.Background(), wire.EventWorkerLeave, nil)
			}
			os.Exit(1)
		case <-done:
		}
	}()

	return func() {
		signal.Stop(sigCh)
		close(done)
	}
}

// sendEvent writes an event frame with no reply expected, retrying
// transient write failures with unbounded exponential backoff.
func (w *Worker) sendEvent(ctx context.Context, kind wire.EventKind, payload wire.Value) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, w.writeFrame(kind, payload)
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(0), backoff.WithMaxElapsedTime(0))
	return err
}

func (w *Worker) writeFrame(kind wire.EventKind, payload wire.Value) error {
	return wire.WriteFrontend(w.nc, wire.Frontend{ClientID: w.clientID, Kind: kind, Payload: payload})
}
