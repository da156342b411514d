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

// Package auth validates the optional bearer token a worker presents in
// its WORKER_JOIN payload: a rate-limited validator generalized from a
// static shared secret to signed JWTs, so a cluster manager can mint one
// token per worker process with its own expiry.
package auth

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrAuthenticationFailed is returned when a worker's bearer token
	// fails validation.
	ErrAuthenticationFailed = errors.New("wire: worker authentication failed")

	// ErrRateLimitExceeded is returned when a client has exceeded the
	// allowed number of failed authentication attempts.
	ErrRateLimitExceeded = errors.New("wire: authentication rate limit exceeded")
)

const (
	maxFailedAttempts = 5
	rateLimitWindow   = time.Minute
	rateLimitLockout  = 60 * time.Second
)

// Claims is the payload of a worker's bearer token.
type Claims struct {
	jwt.RegisteredClaims
	WorkerID string `json:"worker_id"`
}

// Validator verifies worker bearer tokens against a shared signing key.
// A nil/empty key disables authentication entirely: WORKER_JOIN is
// accepted unconditionally.
type Validator struct {
	key []byte

	mu      sync.Mutex
	entries map[string]*rateLimitEntry
}

type rateLimitEntry struct {
	count       int
	firstFail   time.Time
	lockedUntil time.Time
}

// NewValidator constructs a Validator. Pass a nil key to disable auth.
func NewValidator(key []byte) *Validator {
	return &Validator{key: key, entries: map[string]*rateLimitEntry{}}
}

// Enabled reports whether authentication is configured.
func (v *Validator) Enabled() bool {
	return len(v.key) > 0
}

// Validate checks token for clientID, locking the client out once it has
// failed maxFailedAttempts times within rateLimitWindow of its first
// failure, and returns the worker id embedded in its claims.
func (v *Validator) Validate(clientID, token string) (string, error) {
	if !v.Enabled() {
		return clientID, nil
	}

	if err := v.checkRateLimit(clientID); err != nil {
		return "", err
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.key, nil
	})
	if err != nil || !parsed.Valid {
		v.recordFailure(clientID)
		return "", fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
	}

	v.clearFailures(clientID)
	if claims.WorkerID != "" {
		return claims.WorkerID, nil
	}
	return clientID, nil
}

func (v *Validator) checkRateLimit(clientID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	entry, ok := v.entries[clientID]
	if !ok {
		return nil
	}
	if time.Now().Before(entry.lockedUntil) {
		return ErrRateLimitExceeded
	}
	return nil
}

func (v *Validator) recordFailure(clientID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	now := time.Now()
	entry, ok := v.entries[clientID]
	if !ok || now.Sub(entry.firstFail) > rateLimitWindow {
		entry = &rateLimitEntry{firstFail: now}
		v.entries[clientID] = entry
	}
	entry.count++
	if entry.count >= maxFailedAttempts {
		entry.lockedUntil = now.Add(rateLimitLockout)
	}
}

func (v *Validator) clearFailures(clientID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.entries, clientID)
}

// Sign mints a bearer token for workerID, for a worker process pointed at
// an authenticated server. No command in this module calls it.
func Sign(key []byte, workerID string, ttl time.Duration) (string, error) {
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		WorkerID: workerID,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(key)
}
