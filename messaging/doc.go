// Copyright 2026 The Foreman Authors
// SPDX-License-Identifier: Apache-2.0

// Package messaging wraps the Matrix client-server API for foreman's
// chat surface.
//
// [Login] authenticates with m.login.password and returns a [Client]
// bound to one bot account. The client sends markdown messages (rendered
// to org.matrix.custom.html via lib/markdown), edits them in place with
// the m.replace relation, posts m.notice notifications, and manages
// typing indicators. Event sends use Matrix's idempotent PUT with a
// monotonic transaction ID.
//
// [Watcher] runs the /sync long-poll loop: it delivers timeline events
// from all joined rooms on a channel, auto-joins rooms the bot is
// invited to, and skips the bot's own echoes. Consecutive sync failures
// back off and are capped; the watcher surfaces the last error when the
// cap is reached.
//
// [Client.Room] binds the client to a single room, giving the engine
// and bridge a per-room send/edit/notify/typing surface without
// threading room IDs through every call.
//
// All API errors decode the Matrix envelope into [*MatrixError] with
// the standard error code (M_FORBIDDEN, M_UNKNOWN_TOKEN, ...) and HTTP
// status. [IsMatrixError] tests for a specific code. Request URLs are
// built by string concatenation rather than url.URL to avoid
// double-encoding of path segments that contain URL-encoded characters.
package messaging
