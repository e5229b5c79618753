// Copyright 2026 The Foreman Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts time for the pieces of foreman that wait:
// retry backoff, the provider rate gate, typing keepalive, and the
// delay between executed actions.
//
// Production code injects Real(). Tests inject Fake(initial) and drive
// time explicitly:
//
//	fake := clock.Fake(time.Unix(0, 0))
//	go func() { _ = fake.Sleep(ctx, 5*time.Second) }()
//	fake.WaitForWaiters(1)
//	fake.Advance(5 * time.Second)
//
// Sleep takes a context because every foreman wait happens under a run
// context that a user can cancel with .stop; an uncancellable sleep
// would hold a room hostage for the length of a backoff.
package clock
