// Copyright 2026 The Foreman Authors
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"context"
	"sync"
	"time"

	"github.com/foreman-chat/foreman/lib/clock"
)

// Gate is a token bucket bounding the request rate for one provider
// identity. Every room running the same agent shares one Gate, so
// concurrent runs cannot multiply the configured rate.
//
// The bucket starts full (capacity = requests per minute) and refills
// one token per interval. Wait takes a token or blocks until one
// accrues.
type Gate struct {
	clk      clock.Clock
	interval time.Duration
	capacity int

	mu     sync.Mutex
	tokens int
	last   time.Time
}

// NewGate creates a gate admitting requestsPerMinute calls. A rate of
// zero or less means unlimited: Wait never blocks.
func NewGate(requestsPerMinute int, clk clock.Clock) *Gate {
	if requestsPerMinute <= 0 {
		return &Gate{}
	}
	return &Gate{
		clk:      clk,
		interval: time.Minute / time.Duration(requestsPerMinute),
		capacity: requestsPerMinute,
		tokens:   requestsPerMinute,
		last:     clk.Now(),
	}
}

// Wait takes a token, blocking until one is available or ctx is done.
// Nil and unlimited gates return immediately.
func (gate *Gate) Wait(ctx context.Context) error {
	if gate == nil || gate.interval == 0 {
		return nil
	}

	for {
		gate.mu.Lock()
		now := gate.clk.Now()
		gate.refillLocked(now)
		if gate.tokens > 0 {
			gate.tokens--
			gate.mu.Unlock()
			return nil
		}
		wait := gate.last.Add(gate.interval).Sub(now)
		gate.mu.Unlock()

		// Another waiter may take the refilled token first; loop and
		// measure again.
		if err := gate.clk.Sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// refillLocked credits tokens for the time since the last refill.
// last advances in whole intervals so partial progress toward the
// next token is never lost.
func (gate *Gate) refillLocked(now time.Time) {
	elapsed := now.Sub(gate.last)
	if elapsed < gate.interval {
		return
	}
	refilled := int(elapsed / gate.interval)
	gate.tokens = min(gate.tokens+refilled, gate.capacity)
	gate.last = gate.last.Add(time.Duration(refilled) * gate.interval)
}

// GateSet hands out the shared [Gate] for each provider identity,
// creating it on first use. Identity is the agent name from the
// config: rooms running the same agent share a bucket, distinct
// agents do not.
type GateSet struct {
	clk clock.Clock

	mu    sync.Mutex
	gates map[string]*Gate
}

// NewGateSet creates an empty GateSet.
func NewGateSet(clk clock.Clock) *GateSet {
	return &GateSet{clk: clk, gates: make(map[string]*Gate)}
}

// Gate returns the gate for identity, creating it with the given rate
// on first use. The rate is fixed at creation; later calls return the
// existing gate unchanged.
func (set *GateSet) Gate(identity string, requestsPerMinute int) *Gate {
	set.mu.Lock()
	defer set.mu.Unlock()

	gate, ok := set.gates[identity]
	if !ok {
		gate = NewGate(requestsPerMinute, set.clk)
		set.gates[identity] = gate
	}
	return gate
}
