// Copyright 2026 The Foreman Authors
// SPDX-License-Identifier: Apache-2.0

// Package state persists per-room bot state across restarts.
//
// The unit of persistence is the whole BotState snapshot: every room's
// project binding, task, phase, conversation history, and wizard
// progress, serialized as one JSON document. Writes are atomic (write
// to a temporary file in the same directory, fsync, rename) so a crash
// mid-save never leaves a truncated state file behind.
//
// The Store's mutex guards in-memory mutation only. Mutation callbacks
// passed to Update must not block: chat sends, provider calls, and the
// state file write itself all happen outside the lock.
package state
