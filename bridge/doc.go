// Copyright 2026 The Foreman Authors
// SPDX-License-Identifier: Apache-2.0

// Package bridge routes chat messages to command handlers and run
// launches.
//
// The bridge is the layer between the chat transport and the engine:
// it parses dot-commands (".task", ".start", ".agent"), drives the
// project and task setup wizards, gates the admin shell, resolves the
// room's active agent into a bound provider client, and enforces the
// one-live-run-per-room invariant when it hands a task to the engine.
// Everything user-visible goes through the injected catalog so the
// bridge itself contains no message literals.
//
// [Bridge.HandleMessage] routes a single message and is the unit
// tests exercise. [Bridge.Serve] consumes a messaging watcher's event
// stream, giving each room its own ordered mailbox so one room's slow
// command never delays another room.
package bridge
