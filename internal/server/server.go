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

// Package server is the Event Router: a frontend TCP socket
// that workers connect to, and an in-process publish bus that observers
// (the dispatcher, statistics collectors, and so on) subscribe to. The
// router itself never classifies payloads; it republishes every frontend
// frame verbatim on the backend and does a small amount of direct
// bookkeeping (ping replies, worker join/leave counts, jobs-waited) over
// the length-delimited frame protocol in internal/wire rather than a
// JSON-over-websocket envelope.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/runbench/bench/internal/wire"
	"github.com/runbench/bench/internal/wire/auth"
	"github.com/runbench/bench/pkg/berrors"
)

var (
	// ErrClosed is returned when an operation is attempted on a closed server.
	ErrClosed = errors.New("server: closed")
)

// Config configures the Event Router.
type Config struct {
	// Address is the TCP address the frontend socket binds to, e.g. ":31334".
	Address string

	// ServeForever disables the jobs-waited/worker-count/ping termination
	// policy; only an operator Shutdown (or ctx cancellation) stops the
	// loop. Default: false.
	ServeForever bool

	// Logger is the structured logger for router events.
	Logger *slog.Logger

	// Auth validates the bearer token a worker presents with WORKER_JOIN.
	// Nil (or a Validator with an empty key) disables authentication.
	Auth *auth.Validator
}

// Event is one frame published on the backend bus, widened with a Reply
// closure so a subscriber can answer directly through the frontend
// connection the frame originated from.
type Event struct {
	Kind     wire.EventKind
	Payload  wire.Value
	ClientID string

	reply func(wire.Value) error
}

// NewEvent constructs an Event carrying reply as its Reply closure. It lets
// a subscriber's handler be driven directly — in tests, or when wiring the
// dispatcher to the bootstrap planner in-process — without a live
// frontend connection behind it.
func NewEvent(kind wire.EventKind, payload wire.Value, clientID string, reply func(wire.Value) error) Event {
	return Event{Kind: kind, Payload: payload, ClientID: clientID, reply: reply}
}

// Reply sends payload back to the client that produced this event. It is a
// no-op returning nil if the client has since disconnected.
func (e Event) Reply(payload wire.Value) error {
	if e.reply == nil {
		return nil
	}
	return e.reply(payload)
}

// subscription is one observer's filtered view of the backend bus.
type subscription struct {
	kinds map[wire.EventKind]struct{}
	c     chan Event
}

func (s *subscription) wants(kind wire.EventKind) bool {
	if len(s.kinds) == 0 {
		return true
	}
	_, ok := s.kinds[kind]
	return ok
}

// Server is the Event Router.
type Server struct {
	cfg    Config
	logger *slog.Logger

	mu        sync.Mutex
	listener  net.Listener
	conns     map[string]*clientConn
	subs      []*subscription
	closed    bool
	closeOnce sync.Once
	stopCh    chan struct{}

	jobsWaited  int
	workerCount int
	pingSeen    bool
}

type clientConn struct {
	mu sync.Mutex
	nc net.Conn
}

func (c *clientConn) writeReply(rep wire.Reply) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return wire.WriteReply(c.nc, rep)
}

// New constructs an Event Router. It does not start listening until Serve
// is called.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Server{
		cfg:    cfg,
		logger: cfg.Logger,
		conns:  make(map[string]*clientConn),
		stopCh: make(chan struct{}),
	}
}

// Subscribe returns a channel of backend events matching kinds (all events
// if kinds is empty), mirroring a worker's SUBSCRIBED_EVENTS filter. The
// caller must drain the channel promptly: publishing blocks the
// publishing connection for up to 5 seconds per subscriber, after which
// the event is dropped for that subscriber.
func (s *Server) Subscribe(kinds ...wire.EventKind) <-chan Event {
	set := make(map[wire.EventKind]struct{}, len(kinds))
	for _, k := range kinds {
		set[k] = struct{}{}
	}
	sub := &subscription{kinds: set, c: make(chan Event, 64)}

	s.mu.Lock()
	s.subs = append(s.subs, sub)
	s.mu.Unlock()
	return sub.c
}

// SetJobsWaited sets the total number of runs the router expects to see
// RUN_FINISH for before it may terminate. The core observer calls this
// once it knows the pending-run count, after handling BOOTSTRAP.
func (s *Server) SetJobsWaited(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobsWaited = n
	s.checkTerminateLocked()
}

// Serve binds the frontend socket and runs the accept loop until ctx is
// canceled, Shutdown is called, or the termination policy
// fires.
func (s *Server) Serve(ctx context.Context) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("%w: listen %s: %v", berrors.ErrTransport, s.cfg.Address, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info("event router listening", "address", ln.Addr().String(), "serveForever", s.cfg.ServeForever)

	go func() {
		select {
		case <-ctx.Done():
			s.Shutdown()
		case <-s.stopCh:
		}
	}()

	var wg sync.WaitGroup
	acceptErr := make(chan error, 1)
	go func() {
		for {
			nc, err := ln.Accept()
			if err != nil {
				acceptErr <- err
				return
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				s.handleConn(nc)
			}()
		}
	}()

	select {
	case <-s.stopCh:
	case err := <-acceptErr:
		s.mu.Lock()
		closed := s.closed
		s.mu.Unlock()
		if !closed {
			return fmt.Errorf("%w: accept: %v", berrors.ErrTransport, err)
		}
	}

	ln.Close()
	wg.Wait()
	s.logger.Info("event router stopped")
	return nil
}

// Shutdown stops the accept loop and closes tracked subscriptions. Safe to
// call more than once.
func (s *Server) Shutdown() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		for _, c := range s.conns {
			c.nc.Close()
		}
		subs := s.subs
		s.mu.Unlock()

		close(s.stopCh)
		for _, sub := range subs {
			close(sub.c)
		}
	})
}

func (s *Server) handleConn(nc net.Conn) {
	cc := &clientConn{nc: nc}
	var clientID string
	defer func() {
		nc.Close()
		if clientID != "" {
			s.mu.Lock()
			delete(s.conns, clientID)
			s.mu.Unlock()
		}
	}()

	for {
		frame, err := wire.ReadFrontend(nc)
		if err != nil {
			if clientID != "" {
				s.logger.Debug("frontend connection closed", "client", clientID, "error", err)
			}
			return
		}
		clientID = frame.ClientID

		s.mu.Lock()
		s.conns[clientID] = cc
		s.mu.Unlock()

		s.logger.Debug("frontend frame", "client", clientID, "kind", frame.Kind)
		s.dispatch(cc, *frame)
	}
}

// dispatch performs the router's direct bookkeeping, then republishes the
// frame verbatim on the backend bus.
func (s *Server) dispatch(cc *clientConn, f wire.Frontend) {
	switch f.Kind {
	case wire.EventServerPing:
		s.mu.Lock()
		s.pingSeen = true
		s.checkTerminateLocked()
		s.mu.Unlock()
		if err := cc.writeReply(wire.Reply{ClientID: f.ClientID, Payload: "pong"}); err != nil {
			s.logger.Warn("ping reply failed", "client", f.ClientID, "error", err)
		}
	case wire.EventWorkerJoin:
		if s.cfg.Auth != nil && s.cfg.Auth.Enabled() {
			if _, err := s.cfg.Auth.Validate(f.ClientID, tokenFromPayload(f.Payload)); err != nil {
				s.logger.Warn("worker_join rejected", "client", f.ClientID, "error", err)
				if err := cc.writeReply(wire.Reply{ClientID: f.ClientID, Payload: nil}); err != nil {
					s.logger.Warn("worker_join rejection reply failed", "client", f.ClientID, "error", err)
				}
				return
			}
		}
		s.mu.Lock()
		s.workerCount++
		s.mu.Unlock()
	case wire.EventWorkerLeave:
		s.mu.Lock()
		s.workerCount--
		s.checkTerminateLocked()
		s.mu.Unlock()
	case wire.EventRunFinish:
		s.mu.Lock()
		s.jobsWaited--
		s.checkTerminateLocked()
		s.mu.Unlock()
	}

	ev := Event{
		Kind:     f.Kind,
		Payload:  f.Payload,
		ClientID: f.ClientID,
		reply: func(payload wire.Value) error {
			return cc.writeReply(wire.Reply{ClientID: f.ClientID, Payload: payload})
		},
	}

	s.mu.Lock()
	subs := s.subs
	s.mu.Unlock()
	for _, sub := range subs {
		if !sub.wants(f.Kind) {
			continue
		}
		select {
		case sub.c <- ev:
		case <-time.After(5 * time.Second):
			s.logger.Warn("subscriber did not drain event, dropping", "kind", f.Kind, "client", f.ClientID)
		}
	}
}

// tokenFromPayload extracts the bearer token a worker embeds in its
// WORKER_JOIN payload (internal/workerclient wraps run_id and token
// together in a map once AuthToken is set; an unwrapped payload carries no
// token at all).
func tokenFromPayload(payload wire.Value) string {
	m, ok := payload.(map[string]wire.Value)
	if !ok {
		return ""
	}
	token, _ := m["token"].(string)
	return token
}

// checkTerminateLocked implements the shutdown policy: if ServeForever is
// false, the loop exits once jobs-waited == 0 AND worker-count == 0 AND at
// least one ping has been observed. Callers must hold s.mu.
func (s *Server) checkTerminateLocked() {
	if s.cfg.ServeForever || s.closed {
		return
	}
	if s.jobsWaited <= 0 && s.workerCount <= 0 && s.pingSeen {
		go s.Shutdown()
	}
}
