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

package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/runbench/bench/pkg/berrors"
)

// maxFrameSize bounds each part of a frame so a corrupt or hostile peer
// cannot force an unbounded allocation.
const maxFrameSize = 64 << 20 // 64 MiB

// EventKind names the event carried by a frame
type EventKind string

const (
	EventServerPing     EventKind = "SERVER_PING"
	EventWorkerJoin     EventKind = "WORKER_JOIN"
	EventWorkerLeave    EventKind = "WORKER_LEAVE"
	EventBootstrap      EventKind = "BOOTSTRAP"
	EventRequestPending EventKind = "REQUEST_PENDING"
	EventRunStart       EventKind = "RUN_START"
	EventRunStep        EventKind = "RUN_STEP"
	EventRunFinish      EventKind = "RUN_FINISH"
	EventRunInterrupt   EventKind = "RUN_INTERRUPT"

	// Domain event kinds: published by steps, consumed by
	// the matching storage observer, same decoupling as RUN_STATS_STORE.
	EventRunStatsStore      EventKind = "runstats:store"
	EventSATVerdictStore    EventKind = "satverdict:store"
	EventSudokuVerdictStore EventKind = "sudokuverdict:store"
	EventSysInfoStore       EventKind = "sysinfo:store"
)

// Frontend is an inbound frame from a worker: [client_id, event_kind, payload].
type Frontend struct {
	ClientID string
	Kind     EventKind
	Payload  Value
}

// Backend is an outbound frame published to observers:
// [event_kind, payload, client_id].
type Backend struct {
	Kind     EventKind
	Payload  Value
	ClientID string
}

// Reply is a direct response routed back through the frontend to one
// client: [client_id, reply].
type Reply struct {
	ClientID string
	Payload  Value
}

// WriteFrontend writes a Frontend frame as one length-delimited message.
func WriteFrontend(w io.Writer, f Frontend) error {
	payload, err := EncodePayload(f.Payload)
	if err != nil {
		return err
	}
	return writeFrame(w, [][]byte{[]byte(f.ClientID), []byte(f.Kind), payload})
}

// ReadFrontend reads one Frontend frame.
func ReadFrontend(r io.Reader) (*Frontend, error) {
	parts, err := readFrame(r, 3)
	if err != nil {
		return nil, err
	}
	payload, err := DecodePayload(parts[2])
	if err != nil {
		return nil, err
	}
	return &Frontend{ClientID: string(parts[0]), Kind: EventKind(parts[1]), Payload: payload}, nil
}

// WriteBackend writes a Backend frame as one length-delimited message.
func WriteBackend(w io.Writer, f Backend) error {
	payload, err := EncodePayload(f.Payload)
	if err != nil {
		return err
	}
	return writeFrame(w, [][]byte{[]byte(f.Kind), payload, []byte(f.ClientID)})
}

// ReadBackend reads one Backend frame.
func ReadBackend(r io.Reader) (*Backend, error) {
	parts, err := readFrame(r, 3)
	if err != nil {
		return nil, err
	}
	payload, err := DecodePayload(parts[1])
	if err != nil {
		return nil, err
	}
	return &Backend{Kind: EventKind(parts[0]), Payload: payload, ClientID: string(parts[2])}, nil
}

// WriteReply writes a Reply frame as one length-delimited message.
func WriteReply(w io.Writer, rep Reply) error {
	payload, err := EncodePayload(rep.Payload)
	if err != nil {
		return err
	}
	return writeFrame(w, [][]byte{[]byte(rep.ClientID), payload})
}

// ReadReply reads one Reply frame.
func ReadReply(r io.Reader) (*Reply, error) {
	parts, err := readFrame(r, 2)
	if err != nil {
		return nil, err
	}
	payload, err := DecodePayload(parts[1])
	if err != nil {
		return nil, err
	}
	return &Reply{ClientID: string(parts[0]), Payload: payload}, nil
}

// writeFrame writes parts as a single message: a 4-byte big-endian part
// count, then each part as a 4-byte big-endian length followed by its
// bytes. Writing the header, each length and each part directly (two
// io.Writer calls per part) keeps this allocation-light; callers
// needing atomic multi-goroutine writes must serialize their own writer
// (e.g. with a mutex).
func writeFrame(w io.Writer, parts [][]byte) error {
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(parts)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("%w: write frame header: %v", berrors.ErrTransport, err)
	}
	for _, part := range parts {
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(part)))
		if _, err := w.Write(lenBuf[:]); err != nil {
			return fmt.Errorf("%w: write frame part length: %v", berrors.ErrTransport, err)
		}
		if _, err := w.Write(part); err != nil {
			return fmt.Errorf("%w: write frame part: %v", berrors.ErrTransport, err)
		}
	}
	return nil
}

func readFrame(r io.Reader, wantParts int) ([][]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("%w: read frame header: %v", berrors.ErrTransport, err)
	}
	n := binary.BigEndian.Uint32(header[:])
	if int(n) != wantParts {
		return nil, fmt.Errorf("%w: expected %d frame parts, got %d", berrors.ErrTransport, wantParts, n)
	}

	parts := make([][]byte, n)
	for i := range parts {
		var lenBuf [4]byte
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			return nil, fmt.Errorf("%w: read frame part length: %v", berrors.ErrTransport, err)
		}
		partLen := binary.BigEndian.Uint32(lenBuf[:])
		if partLen > maxFrameSize {
			return nil, fmt.Errorf("%w: frame part exceeds %d bytes", berrors.ErrTransport, maxFrameSize)
		}
		buf := make([]byte, partLen)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("%w: read frame part: %v", berrors.ErrTransport, err)
		}
		parts[i] = buf
	}
	return parts, nil
}
