// Copyright 2026 The Foreman Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for foreman packages.
//
// [RequireReceive], [RequireNoReceive], and [RequireClosed] wrap the
// select-with-timeout safety valve so individual tests do not reach
// for time.After directly; these are the only wall-clock timeouts in
// the test suite. [UniqueID] hands out monotonically increasing
// identifiers for transaction IDs and message bodies that must stay
// distinguishable within a test run.
//
// All helpers call t.Fatalf on failure: test setup failures are not
// recoverable.
package testutil

import (
	"fmt"
	"sync/atomic"
	"time"
)

// failer is the subset of *testing.T these helpers need. Declared
// locally to keep the package free of a testing import in its API.
type failer interface {
	Helper()
	Fatalf(format string, args ...any)
}

// receiveTimeout bounds how long RequireReceive and RequireClosed wait
// before declaring the test hung.
const receiveTimeout = 10 * time.Second

// quietWindow is how long RequireNoReceive watches the channel before
// declaring it silent.
const quietWindow = 100 * time.Millisecond

// RequireReceive reads a value from the channel or fails the test
// after a timeout. The description names what was expected, for the
// failure message.
func RequireReceive[T any](t failer, channel <-chan T, description string) T {
	t.Helper()
	select {
	case value := <-channel:
		return value
	case <-time.After(receiveTimeout):
		t.Fatalf("timed out waiting for %s", description)
		panic("unreachable")
	}
}

// RequireNoReceive fails the test if the channel delivers a value
// within the quiet window. Use it to assert that an event did NOT
// happen (a run that must not start, a message that must not send).
func RequireNoReceive[T any](t failer, channel <-chan T, description string) {
	t.Helper()
	select {
	case value := <-channel:
		t.Fatalf("unexpected %s: %v", description, value)
	case <-time.After(quietWindow):
	}
}

// RequireClosed waits for the channel to be closed or fails the test.
// A value arriving before close also fails: closed means drained.
func RequireClosed[T any](t failer, channel <-chan T, description string) {
	t.Helper()
	select {
	case value, ok := <-channel:
		if ok {
			t.Fatalf("expected %s to be closed, got value %v", description, value)
		}
	case <-time.After(receiveTimeout):
		t.Fatalf("timed out waiting for %s to close", description)
	}
}

var uniqueCounter atomic.Uint64

// UniqueID returns "prefix-N" with N monotonically increasing across
// the test binary. Use it instead of time.Now() for identifiers that
// must not collide.
func UniqueID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, uniqueCounter.Add(1))
}
