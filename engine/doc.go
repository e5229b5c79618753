// Copyright 2026 The Foreman Authors
// SPDX-License-Identifier: Apache-2.0

// Package engine drives the think-act-observe loop: build a prompt
// from room state and project documents, call the model, parse the
// actions out of its response, execute them, feed the observations
// back, repeat. A run continues until the model signals completion,
// the user stops it, a command parks for approval, the step cap hits,
// or the provider fails beyond retry and model fallback.
//
// Every iteration persists its exchange to the room's history before
// the next prompt is built, so a crash or restart loses at most the
// in-flight model call. Parallel to room state, each run appends a
// digest journal for audit without duplicating the project tree.
//
// The model's side of the loop is deliberately unprivileged: its
// output is parsed permissively, its paths re-root into the sandbox,
// and its commands pass policy before execution. Nothing the model
// emits can widen what the engine was configured to allow.
package engine
