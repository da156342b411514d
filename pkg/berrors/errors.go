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

// Package berrors defines the sentinel error kinds used across the bench
// campaign engine so callers can classify failures with errors.Is instead
// of string matching.
package berrors

import "errors"

var (
	// ErrConfigInvalid marks a campaign or server configuration that failed
	// schema validation. Fatal at startup.
	ErrConfigInvalid = errors.New("bench: invalid configuration")

	// ErrUnknownModule marks a reference to a step/observer/tool module id
	// that is not present in the static registry. Fatal at startup.
	ErrUnknownModule = errors.New("bench: unknown module")

	// ErrTaskSource marks a failure resolving a task group's source.
	ErrTaskSource = errors.New("bench: task source error")

	// ErrExternalAdapterRequired marks a task source type that is an
	// external collaborator by design (url, doi) and not implemented here.
	ErrExternalAdapterRequired = errors.New("bench: external adapter required")

	// ErrStoreConflict marks an unexpected write conflict on the store.
	// The store is single-writer, so this should never surface in
	// practice; it is still classified distinctly from other store errors.
	ErrStoreConflict = errors.New("bench: store write conflict")

	// ErrTransport marks a recoverable transport-layer failure between a
	// worker and the server; the caller should retry with backoff.
	ErrTransport = errors.New("bench: transport error")

	// ErrNoPendingRun marks an empty pending-run claim: not itself an
	// error condition, but distinguishable from a genuine store failure.
	ErrNoPendingRun = errors.New("bench: no pending run")
)

// ExitCode maps an error to its process exit code: 0 on orderly
// completion, 1 on bootstrap/config errors, 2 on any other fatal store
// error.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrConfigInvalid), errors.Is(err, ErrUnknownModule), errors.Is(err, ErrTaskSource):
		return 1
	default:
		return 2
	}
}
