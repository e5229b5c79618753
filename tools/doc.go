// Copyright 2026 The Foreman Authors
// SPDX-License-Identifier: Apache-2.0

// Package tools executes the agent's effects: shell commands and
// filesystem operations. Every target path passes through the sandbox
// policy before any process or filesystem call happens; a rejection
// short-circuits the operation.
//
// A command that runs and exits non-zero is a successful execution
// with interesting data — the exit code travels in the CommandResult,
// not in an error. Errors from this package mean the operation itself
// could not happen: policy refusal, spawn failure, timeout, I/O.
package tools
