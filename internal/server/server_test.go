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

package server_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/runbench/bench/internal/server"
	"github.com/runbench/bench/internal/wire"
	"github.com/runbench/bench/internal/wire/auth"
)

// newLoopback starts the router on an explicit loopback address so the
// test can dial it directly, sidestepping port-0 ephemeral assignment.
func newLoopback(t *testing.T, cfg server.Config) (*server.Server, string, func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	cfg.Address = addr
	s := server.New(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = s.Serve(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		c, err := net.Dial("tcp", addr)
		if err != nil {
			return false
		}
		c.Close()
		return true
	}, 2*time.Second, 10*time.Millisecond)

	return s, addr, func() {
		cancel()
		s.Shutdown()
		<-done
	}
}

func TestPingReceivesPongReply(t *testing.T) {
	_, addr, stop := newLoopback(t, server.Config{ServeForever: true})
	defer stop()

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, wire.WriteFrontend(conn, wire.Frontend{ClientID: "worker-1", Kind: wire.EventServerPing}))
	rep, err := wire.ReadReply(conn)
	require.NoError(t, err)
	require.Equal(t, "pong", rep.Payload)
}

func TestSubscriberReceivesRepublishedFrame(t *testing.T) {
	s, addr, stop := newLoopback(t, server.Config{ServeForever: true})
	defer stop()

	events := s.Subscribe(wire.EventRunStart)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, wire.WriteFrontend(conn, wire.Frontend{
		ClientID: "worker-2",
		Kind:     wire.EventRunStart,
		Payload:  map[string]wire.Value{"run_id": "r1"},
	}))

	select {
	case ev := <-events:
		require.Equal(t, wire.EventRunStart, ev.Kind)
		require.Equal(t, "worker-2", ev.ClientID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for republished event")
	}
}

func TestSubscriberCanReplyThroughFrontend(t *testing.T) {
	s, addr, stop := newLoopback(t, server.Config{ServeForever: true})
	defer stop()

	events := s.Subscribe(wire.EventWorkerJoin)
	go func() {
		ev := <-events
		_ = ev.Reply(map[string]wire.Value{"id": "run-42"})
	}()

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, wire.WriteFrontend(conn, wire.Frontend{ClientID: "worker-3", Kind: wire.EventWorkerJoin}))
	rep, err := wire.ReadReply(conn)
	require.NoError(t, err)
	m, ok := rep.Payload.(map[string]wire.Value)
	require.True(t, ok)
	require.Equal(t, "run-42", m["id"])
}

func TestTerminatesOnJobsWaitedWorkerCountAndPing(t *testing.T) {
	s, addr, stop := newLoopback(t, server.Config{ServeForever: false})
	defer stop()

	s.SetJobsWaited(1)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, wire.WriteFrontend(conn, wire.Frontend{ClientID: "w", Kind: wire.EventWorkerJoin}))
	require.NoError(t, wire.WriteFrontend(conn, wire.Frontend{ClientID: "w", Kind: wire.EventServerPing}))
	_, err = wire.ReadReply(conn) // pong
	require.NoError(t, err)
	require.NoError(t, wire.WriteFrontend(conn, wire.Frontend{ClientID: "w", Kind: wire.EventRunFinish, Payload: "run-1"}))
	require.NoError(t, wire.WriteFrontend(conn, wire.Frontend{ClientID: "w", Kind: wire.EventWorkerLeave}))

	// The server should shut itself down now that jobs-waited, worker
	// count and ping-seen have all settled; the connection drops.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	_, err = conn.Read(buf)
	require.Error(t, err)
}

func TestDoesNotTerminateWithoutAPing(t *testing.T) {
	s, addr, stop := newLoopback(t, server.Config{ServeForever: false})
	defer stop()

	s.SetJobsWaited(0)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, wire.WriteFrontend(conn, wire.Frontend{ClientID: "w", Kind: wire.EventWorkerJoin}))
	require.NoError(t, wire.WriteFrontend(conn, wire.Frontend{ClientID: "w", Kind: wire.EventWorkerLeave}))

	// No ping was ever sent: the server must still be alive.
	conn2, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn2.Close()
	require.NoError(t, wire.WriteFrontend(conn2, wire.Frontend{ClientID: "w2", Kind: wire.EventServerPing}))
	rep, err := wire.ReadReply(conn2)
	require.NoError(t, err)
	require.Equal(t, "pong", rep.Payload)
}

func TestWorkerJoinRejectsMissingToken(t *testing.T) {
	validator := auth.NewValidator([]byte("shared-secret"))
	_, addr, stop := newLoopback(t, server.Config{ServeForever: true, Auth: validator})
	defer stop()

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, wire.WriteFrontend(conn, wire.Frontend{ClientID: "w", Kind: wire.EventWorkerJoin}))
	rep, err := wire.ReadReply(conn)
	require.NoError(t, err)
	require.Nil(t, rep.Payload)
}

func TestWorkerJoinAcceptsValidToken(t *testing.T) {
	key := []byte("shared-secret")
	validator := auth.NewValidator(key)
	s, addr, stop := newLoopback(t, server.Config{ServeForever: true, Auth: validator})
	defer stop()

	events := s.Subscribe(wire.EventWorkerJoin)

	token, err := auth.Sign(key, "worker-1", time.Minute)
	require.NoError(t, err)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	payload := map[string]wire.Value{"run_id": nil, "token": token}
	require.NoError(t, wire.WriteFrontend(conn, wire.Frontend{ClientID: "w", Kind: wire.EventWorkerJoin, Payload: payload}))

	select {
	case ev := <-events:
		require.Equal(t, wire.EventWorkerJoin, ev.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("worker_join was not republished")
	}
}
