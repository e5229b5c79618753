// Copyright 2026 The Foreman Authors
// SPDX-License-Identifier: Apache-2.0

package state

import (
	"maps"
	"slices"
	"time"
)

// schemaVersion is stamped into every saved snapshot. Loads tolerate
// older versions; a newer version than this means the file was written
// by a newer binary and is refused rather than silently misread.
const schemaVersion = 1

// WizardMode selects which flow the setup wizard is collecting input
// for.
type WizardMode string

const (
	WizardProject WizardMode = "project"
	WizardTask    WizardMode = "task"
)

// WizardStep identifies the question the wizard is currently asking.
type WizardStep string

const (
	StepProjectName     WizardStep = "project_name"
	StepDescription     WizardStep = "description"
	StepConfirmation    WizardStep = "confirmation"
	StepTaskDescription WizardStep = "task_description"
)

// WizardState tracks an in-flight setup wizard. Wizard progress is
// conversational and does not survive a restart: Load resets it.
type WizardState struct {
	Active bool              `json:"active,omitempty"`
	Mode   WizardMode        `json:"mode,omitempty"`
	Step   WizardStep        `json:"step,omitempty"`
	Data   map[string]string `json:"data,omitempty"`

	// Buffer accumulates multi-message answers until the user
	// confirms the step.
	Buffer string `json:"buffer,omitempty"`
}

func (wizard *WizardState) reset() {
	*wizard = WizardState{}
}

// Exchange is one model turn: the response text and the observations
// the executed actions produced. Prompts are rebuilt from templates and
// project files each iteration, so only the dialogue that cannot be
// reconstructed is kept.
type Exchange struct {
	// Task is the user input that started the turn. Set on the first
	// exchange of a run; empty on the follow-up iterations of the same
	// task.
	Task     string    `json:"task,omitempty"`
	Response string    `json:"response"`
	Results  []string  `json:"results,omitempty"`
	Time     time.Time `json:"time"`
}

// RoomState is everything the bot remembers about one room.
type RoomState struct {
	ProjectPath string `json:"project_path,omitempty"`
	WorkingDir  string `json:"working_dir,omitempty"`

	ActiveTask  string `json:"active_task,omitempty"`
	ActiveAgent string `json:"active_agent,omitempty"`
	ActiveModel string `json:"active_model,omitempty"`

	// Phase is the engine phase name. Stored as a plain string so
	// this package stays independent of the engine's phase enum.
	Phase string `json:"phase,omitempty"`

	// StopRequested asks the room's live run to halt at its next
	// polling point. Cleared on load: a stop aimed at a run that
	// died with the process has nothing left to stop.
	StopRequested bool `json:"stop_requested,omitempty"`

	TaskCompleted bool `json:"task_completed,omitempty"`

	History []Exchange `json:"history,omitempty"`

	// FeedEventID is the live status message edited in place during
	// a run. LastEventID is the most recent bot message, used to
	// detect stale feeds after unrelated chatter.
	FeedEventID string `json:"feed_event_id,omitempty"`
	LastEventID string `json:"last_event_id,omitempty"`

	// PendingCommand holds a shell command that failed the sandbox
	// safety check and awaits .approve or .deny.
	PendingCommand string `json:"pending_command,omitempty"`

	// LastAgentList and LastModelList are the numbered listings most
	// recently shown in the room, so ".agent 2" can resolve an index
	// against what the user actually saw.
	LastAgentList []string `json:"last_agent_list,omitempty"`
	LastModelList []string `json:"last_model_list,omitempty"`

	Wizard WizardState `json:"wizard"`

	// CooldownUntil delays the next run's provider calls after a
	// rate-limited failure.
	CooldownUntil time.Time `json:"cooldown_until"`
}

// clone returns a deep copy so snapshot readers never alias live
// state.
func (room *RoomState) clone() *RoomState {
	copied := *room
	copied.History = make([]Exchange, len(room.History))
	for i, exchange := range room.History {
		copied.History[i] = exchange
		copied.History[i].Results = slices.Clone(exchange.Results)
	}
	copied.LastAgentList = slices.Clone(room.LastAgentList)
	copied.LastModelList = slices.Clone(room.LastModelList)
	if room.Wizard.Data != nil {
		copied.Wizard.Data = maps.Clone(room.Wizard.Data)
	}
	return &copied
}

// TrimHistory drops the oldest exchanges beyond keep entries.
func (room *RoomState) TrimHistory(keep int) {
	if keep < 0 || len(room.History) <= keep {
		return
	}
	room.History = slices.Clone(room.History[len(room.History)-keep:])
}

// BotState is the full persisted snapshot.
type BotState struct {
	SchemaVersion int                   `json:"schema_version"`
	Rooms         map[string]*RoomState `json:"rooms"`
}
