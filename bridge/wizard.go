// Copyright 2026 The Foreman Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"fmt"
	"strings"

	"github.com/foreman-chat/foreman/engine"
	"github.com/foreman-chat/foreman/state"
)

// The wizards collect multi-message input conversationally: while one
// is active every room message that is not a bypass command feeds the
// current step. Progress lives in room state but deliberately does
// not survive a restart (the store resets it on load) — a half-asked
// question with nobody waiting behind it is noise, not state.

// startProjectWizard begins the guided project setup: name, then
// description, then confirmation.
func (b *Bridge) startProjectWizard(ctx context.Context, chat engine.Chat) {
	if err := b.store.Update(chat.RoomID(), func(room *state.RoomState) {
		room.Wizard = state.WizardState{
			Active: true,
			Mode:   state.WizardProject,
			Step:   state.StepProjectName,
			Data:   make(map[string]string),
		}
	}); err != nil {
		b.logger.Warn("state not persisted", "room", chat.RoomID(), "error", err)
	}
	b.send(ctx, chat, b.catalog.WizardProjectName)
}

// startTaskWizard begins the guided task setup: a multi-message
// description closed by ".ok".
func (b *Bridge) startTaskWizard(ctx context.Context, chat engine.Chat) {
	room := b.store.Room(chat.RoomID())
	if room.WorkingDir == "" && room.ProjectPath == "" {
		b.send(ctx, chat, b.catalog.NoProjectSet)
		return
	}
	if err := b.store.Update(chat.RoomID(), func(room *state.RoomState) {
		room.Wizard = state.WizardState{
			Active: true,
			Mode:   state.WizardTask,
			Step:   state.StepTaskDescription,
			Data:   make(map[string]string),
		}
	}); err != nil {
		b.logger.Warn("state not persisted", "room", chat.RoomID(), "error", err)
	}
	b.send(ctx, chat, b.catalog.WizardTaskDescription)
}

func (b *Bridge) wizardActive(roomID string) bool {
	return b.store.Room(roomID).Wizard.Active
}

// wizardStep feeds one message to the active wizard.
func (b *Bridge) wizardStep(ctx context.Context, chat engine.Chat, message string) {
	roomID := chat.RoomID()
	room := b.store.Room(roomID)

	if message == ".cancel" {
		b.resetWizard(roomID)
		b.send(ctx, chat, b.catalog.WizardCancelled)
		return
	}

	switch room.Wizard.Step {
	case state.StepProjectName:
		if !projectNamePattern.MatchString(message) {
			b.notify(ctx, chat, b.catalog.InvalidProjectName)
			return
		}
		if err := b.store.Update(roomID, func(room *state.RoomState) {
			room.Wizard.Data["name"] = message
			room.Wizard.Step = state.StepDescription
			room.Wizard.Buffer = ""
		}); err != nil {
			b.logger.Warn("state not persisted", "room", roomID, "error", err)
		}
		b.send(ctx, chat, b.catalog.WizardDescription)

	case state.StepDescription:
		if message == ".ok" {
			if err := b.store.Update(roomID, func(room *state.RoomState) {
				room.Wizard.Data["description"] = room.Wizard.Buffer
				room.Wizard.Step = state.StepConfirmation
			}); err != nil {
				b.logger.Warn("state not persisted", "room", roomID, "error", err)
			}
			summary := fmt.Sprintf(b.catalog.WizardInputHeader,
				room.Wizard.Data["name"]+"\n\n"+room.Wizard.Buffer)
			b.send(ctx, chat, b.catalog.WizardConfirmation+summary)
			return
		}
		b.bufferInput(ctx, chat, message)

	case state.StepConfirmation:
		if message != ".ok" {
			b.send(ctx, chat, b.catalog.WizardConfirmation)
			return
		}
		name := room.Wizard.Data["name"]
		description := room.Wizard.Data["description"]
		b.resetWizard(roomID)

		path, created, err := b.createProject(ctx, chat, name)
		if err != nil || path == "" {
			return
		}
		if !created {
			b.send(ctx, chat, fmt.Sprintf(b.catalog.ProjectExists, path))
		} else {
			b.send(ctx, chat, fmt.Sprintf(b.catalog.ProjectCreated, path))
		}
		if description == "" {
			description = "(no description provided)"
		}
		b.bootstrapProject(ctx, chat, name, path, description)

	case state.StepTaskDescription:
		if message == ".ok" {
			task := strings.TrimSpace(room.Wizard.Buffer)
			b.resetWizard(roomID)
			if task == "" {
				b.send(ctx, chat, b.catalog.WizardCancelled)
				return
			}
			b.startTask(ctx, chat, task)
			return
		}
		b.bufferInput(ctx, chat, message)

	default:
		// Unknown step: a state file older than this binary's wizard
		// flow. Drop the wizard rather than wedge the room.
		b.resetWizard(roomID)
	}
}

// bufferInput appends one message to the wizard's multi-line buffer
// and echoes the accumulated input.
func (b *Bridge) bufferInput(ctx context.Context, chat engine.Chat, message string) {
	roomID := chat.RoomID()
	var buffer string
	if err := b.store.Update(roomID, func(room *state.RoomState) {
		if room.Wizard.Buffer != "" {
			room.Wizard.Buffer += "\n"
		}
		room.Wizard.Buffer += message
		buffer = room.Wizard.Buffer
	}); err != nil {
		b.logger.Warn("state not persisted", "room", roomID, "error", err)
	}
	b.send(ctx, chat, fmt.Sprintf(b.catalog.WizardInputHeader, buffer)+b.catalog.WizardOkHint)
}

func (b *Bridge) resetWizard(roomID string) {
	if err := b.store.Update(roomID, func(room *state.RoomState) {
		room.Wizard = state.WizardState{}
	}); err != nil {
		b.logger.Warn("state not persisted", "room", roomID, "error", err)
	}
}
