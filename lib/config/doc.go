// Copyright 2026 The Foreman Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for the bot.
//
// Configuration is loaded from a single file specified by either the
// FOREMAN_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There are no fallbacks, no ~/.config discovery,
// and no automatic file search. This ensures deterministic, auditable
// configuration with no hidden overrides.
//
// Unknown keys in the file are errors: a typoed field name fails at
// startup instead of silently falling back to a default.
//
// Variable expansion is performed on path and secret fields after
// loading: ${HOME}, ${VAR}, and ${VAR:-default} patterns are expanded
// from the environment. No other environment variables override
// config values.
//
// Agent entries may name a preset. Presets are JSONC files embedded
// at compile time that carry per-provider defaults (base URL, API key
// environment variable, models, rate limit); explicit config values
// win over preset values.
//
// Key exports:
//
//   - [Config] -- master struct with Services, Agents, Commands, System
//   - [Default] -- returns a Config with usable defaults
//   - [Load] and [LoadFile] -- the two entry points for loading
//   - [Presets] -- the embedded per-provider defaults
//
// This package depends on no other foreman packages.
package config
