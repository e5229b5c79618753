// Copyright 2026 The Foreman Authors
// SPDX-License-Identifier: Apache-2.0

// Package action extracts executable actions from raw model output.
// The parser is permissive by contract: unrecognized text is ignored,
// malformed blocks yield fewer actions, and Parse never returns an
// error — a response with zero actions is a conversational turn, not
// a failure.
package action

import "fmt"

// Kind identifies what an Action does.
type Kind int

const (
	// KindShell runs a shell command block verbatim.
	KindShell Kind = iota
	// KindWrite writes Content to Path.
	KindWrite
	// KindRead reads the file at Path.
	KindRead
	// KindList lists the directory at Path.
	KindList
	// KindFind searches under Path for names matching Pattern.
	KindFind
	// KindSwitchMode switches the engine phase to Mode.
	KindSwitchMode
	// KindDone signals task completion (sentinel in the response).
	KindDone
)

// String returns the journal/log name for the kind.
func (k Kind) String() string {
	switch k {
	case KindShell:
		return "shell"
	case KindWrite:
		return "write"
	case KindRead:
		return "read"
	case KindList:
		return "list"
	case KindFind:
		return "find"
	case KindSwitchMode:
		return "switch_mode"
	case KindDone:
		return "done"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Action is one extracted instruction. Start and End are byte offsets
// of the matched span in the source text, used for stripping action
// blocks out of the final chat message.
type Action struct {
	Kind Kind

	Path    string // Write, Read, List; search root for Find
	Content string // Write: literal block body
	Command string // Shell: whole block, trimmed
	Pattern string // Find: filename glob
	Mode    string // SwitchMode target phase

	Start, End int
}
