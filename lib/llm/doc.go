// Copyright 2026 The Foreman Authors
// SPDX-License-Identifier: Apache-2.0

// Package llm provides provider clients for the model APIs foreman
// drives, plus the retry policy and rate gate that wrap every call.
//
// The engine consumes the [Provider] interface: a single blocking
// [Provider.Complete] that turns a prompt into text. The concrete
// clients ([Anthropic], [OpenAI]) also stream via Server-Sent Events,
// parsed by [SSEScanner] and surfaced through [EventStream].
//
// Each client is constructed with its own API key, base URL, and
// [http.Client]. Nothing in this package reads the process
// environment, so two agents with different keys for the same
// provider coexist in one process.
//
// [CallWithRetry] retries transient failures with exponential backoff
// and routes every attempt through a [Gate], the token bucket shared
// by all rooms using the same provider identity. Both take a
// [clock.Clock] so tests drive time explicitly.
package llm
