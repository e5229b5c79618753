// Copyright 2026 The Foreman Authors
// SPDX-License-Identifier: Apache-2.0

package engine

// Phase is the engine's operating mode. It decides which prompt the
// model sees and which actions it may take. Stored in room state as a
// plain string so runs survive restarts.
type Phase string

const (
	// PhaseNewProject bootstraps a fresh project's document set.
	PhaseNewProject Phase = "new_project"

	// PhasePlanning writes and revises planning documents. Shell
	// commands are denied and writes are restricted to documentation
	// files.
	PhasePlanning Phase = "planning"

	// PhaseExecution implements the approved plan with full tool
	// access.
	PhaseExecution Phase = "execution"

	// PhaseAssistant answers questions conversationally with
	// read-mostly tool access.
	PhaseAssistant Phase = "assistant"
)

// ParsePhase maps a mode name, including the persona aliases models
// tend to produce, to a Phase. Matching is case-insensitive upstream;
// callers lowercase before parsing.
func ParsePhase(name string) (Phase, bool) {
	switch name {
	case "planning", "architect":
		return PhasePlanning, true
	case "execution", "developer":
		return PhaseExecution, true
	case "assistant", "conversational":
		return PhaseAssistant, true
	case "new_project":
		return PhaseNewProject, true
	}
	return "", false
}

// Title returns the persona name shown in the live feed.
func (p Phase) Title() string {
	switch p {
	case PhasePlanning, PhaseNewProject:
		return "Architect"
	case PhaseExecution:
		return "Developer"
	case PhaseAssistant:
		return "Assistant"
	default:
		return "Engineer"
	}
}

// documentationOnly reports whether the phase restricts writes to
// documentation files and denies shell commands.
func (p Phase) documentationOnly() bool {
	return p == PhasePlanning || p == PhaseNewProject
}
