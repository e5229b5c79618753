// Copyright 2026 The Foreman Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/foreman-chat/foreman/engine"
	"github.com/foreman-chat/foreman/state"
	"github.com/foreman-chat/foreman/tools"
)

// adminOutputLimit caps how much command output the admin shell posts
// back to the room.
const adminOutputLimit = 4000

// status reports the room's execution context.
func (b *Bridge) status(ctx context.Context, chat engine.Chat) {
	room := b.store.Room(chat.RoomID())

	display := func(value, absent string) string {
		if value == "" {
			return absent
		}
		return value
	}
	var out strings.Builder
	out.WriteString(b.catalog.StatusHeader)
	fmt.Fprintf(&out, "\n**ID**: `%s`", chat.RoomID())
	fmt.Fprintf(&out, "\n**Project**: `%s`", display(room.ProjectPath, "None"))
	fmt.Fprintf(&out, "\n**Task**: `%s`", display(room.ActiveTask, "None"))
	fmt.Fprintf(&out, "\n**Phase**: `%s`", display(room.Phase, "planning"))
	fmt.Fprintf(&out, "\n**Agent**: `%s`", display(room.ActiveAgent, "default"))
	fmt.Fprintf(&out, "\n**Model**: `%s`", display(room.ActiveModel, "default"))
	b.send(ctx, chat, out.String())
}

// project shows or switches the room's project directory. Relative
// arguments resolve under the projects directory; switching clears the
// previous project's task context.
func (b *Bridge) project(ctx context.Context, chat engine.Chat, args string) {
	if args == "" {
		room := b.store.Room(chat.RoomID())
		if room.ProjectPath == "" {
			b.send(ctx, chat, b.catalog.NoProjectSet)
			return
		}
		b.send(ctx, chat, fmt.Sprintf(b.catalog.ProjectSet, room.ProjectPath))
		return
	}

	path := args
	if !filepath.IsAbs(path) {
		path = filepath.Join(b.config.System.ProjectsDir, path)
	}
	validated, err := b.policy.ValidatePath(path)
	if err != nil {
		b.notify(ctx, chat, b.catalog.AccessDenied)
		return
	}
	if !b.isDirectory(validated) {
		b.notify(ctx, chat, fmt.Sprintf(b.catalog.PathNotDirectory, path))
		return
	}

	if err := b.store.Update(chat.RoomID(), func(room *state.RoomState) {
		room.ProjectPath = validated
		room.WorkingDir = validated
		room.ActiveTask = ""
		room.History = nil
		room.TaskCompleted = false
		room.PendingCommand = ""
	}); err != nil {
		b.logger.Warn("state not persisted", "room", chat.RoomID(), "error", err)
	}
	b.send(ctx, chat, fmt.Sprintf(b.catalog.ProjectSet, validated))
}

// listProjects lists the non-hidden directories under the projects
// directory.
func (b *Bridge) listProjects(ctx context.Context, chat engine.Chat) {
	names, err := b.projectNames()
	if err != nil {
		b.notify(ctx, chat, fmt.Sprintf(b.catalog.ListProjectsFailed, err))
		return
	}
	if len(names) == 0 {
		b.send(ctx, chat, b.catalog.NoProjectsFound)
		return
	}
	var out strings.Builder
	out.WriteString(b.catalog.ProjectsHeader)
	for _, name := range names {
		fmt.Fprintf(&out, "* `%s`\n", name)
	}
	b.send(ctx, chat, out.String())
}

// readFiles prints the requested project files, sandbox permitting.
func (b *Bridge) readFiles(ctx context.Context, chat engine.Chat, args string) {
	if args == "" {
		b.notify(ctx, chat, b.catalog.SpecifyFiles)
		return
	}
	room := b.store.Room(chat.RoomID())

	var out strings.Builder
	for _, name := range strings.Fields(args) {
		path := name
		if !filepath.IsAbs(path) && room.ProjectPath != "" {
			path = filepath.Join(room.ProjectPath, name)
		}
		content, err := b.tools.ReadFile(path)
		if err != nil {
			fmt.Fprintf(&out, b.catalog.ReadFileError, name, err)
			continue
		}
		fmt.Fprintf(&out, b.catalog.FileHeader, name, content)
	}
	b.send(ctx, chat, out.String())
}

// openDocument serves the .1-.4 shortcuts: architecture, roadmap, and
// the active task's plan and checklist.
func (b *Bridge) openDocument(ctx context.Context, chat engine.Chat, command string) {
	room := b.store.Room(chat.RoomID())
	if room.ProjectPath == "" {
		b.send(ctx, chat, b.catalog.NoProjectSet)
		return
	}

	taskRelative := func(name string) string {
		if room.ActiveTask != "" {
			return filepath.Join(room.ActiveTask, name)
		}
		return name
	}
	var relative string
	switch command {
	case ".1":
		relative = "architecture.md"
	case ".2":
		relative = "roadmap.md"
	case ".3":
		relative = taskRelative("plan.md")
	case ".4":
		relative = taskRelative("tasks.md")
	}

	content, err := b.tools.ReadFile(filepath.Join(room.ProjectPath, relative))
	if err != nil {
		b.notify(ctx, chat, fmt.Sprintf(b.catalog.ReadFileError, relative, err))
		return
	}
	b.send(ctx, chat, content)
}

// agent shows the configured agents or switches the active one. The
// shown numbering is stored so a later ".agent 2" resolves against
// what the user actually saw.
func (b *Bridge) agent(ctx context.Context, chat engine.Chat, args string) {
	names := b.agentNames()
	room := b.store.Room(chat.RoomID())

	if args != "" {
		selected := selectFromList(args, room.LastAgentList, names)
		if selected == "" {
			b.notify(ctx, chat, b.catalog.InvalidAgent)
		} else {
			if err := b.store.Update(chat.RoomID(), func(room *state.RoomState) {
				room.ActiveAgent = selected
				// The model override belongs to the previous agent.
				room.ActiveModel = ""
			}); err != nil {
				b.logger.Warn("state not persisted", "room", chat.RoomID(), "error", err)
			}
			b.send(ctx, chat, fmt.Sprintf(b.catalog.AgentSet, selected))
			return
		}
	}

	if err := b.store.Update(chat.RoomID(), func(room *state.RoomState) {
		room.LastAgentList = slices.Clone(names)
	}); err != nil {
		b.logger.Warn("state not persisted", "room", chat.RoomID(), "error", err)
	}

	current := room.ActiveAgent
	if current == "" {
		current = b.defaultAgentName()
	}
	var out strings.Builder
	out.WriteString(b.catalog.AgentsHeader)
	if len(names) == 0 {
		out.WriteString(b.catalog.NoAgents)
	}
	for index, name := range names {
		marker := ""
		if name == current {
			marker = "✅"
		}
		fmt.Fprintf(&out, "%s %d. **%s**\n", marker, index+1, name)
	}
	out.WriteString(b.catalog.AgentSwitchHint)
	b.send(ctx, chat, out.String())
}

// model shows the active agent's models or switches the active one.
// "default" resets to the agent's configured model.
func (b *Bridge) model(ctx context.Context, chat engine.Chat, args string) {
	room := b.store.Room(chat.RoomID())
	agentName := room.ActiveAgent
	if agentName == "" {
		agentName = b.defaultAgentName()
	}
	agentConfig, ok := b.config.Agents[agentName]
	if !ok {
		b.notify(ctx, chat, b.catalog.InvalidAgent)
		return
	}
	models := append([]string{agentConfig.Model}, agentConfig.ModelFallbacks...)

	if args == "default" {
		if err := b.store.Update(chat.RoomID(), func(room *state.RoomState) {
			room.ActiveModel = ""
		}); err != nil {
			b.logger.Warn("state not persisted", "room", chat.RoomID(), "error", err)
		}
		b.send(ctx, chat, b.catalog.ModelReset)
		return
	}
	if args != "" {
		selected := selectFromList(args, room.LastModelList, models)
		if selected == "" {
			b.notify(ctx, chat, b.catalog.InvalidModel)
			return
		}
		if err := b.store.Update(chat.RoomID(), func(room *state.RoomState) {
			room.ActiveModel = selected
		}); err != nil {
			b.logger.Warn("state not persisted", "room", chat.RoomID(), "error", err)
		}
		b.send(ctx, chat, fmt.Sprintf(b.catalog.ModelSet, selected))
		return
	}

	if err := b.store.Update(chat.RoomID(), func(room *state.RoomState) {
		room.LastModelList = slices.Clone(models)
	}); err != nil {
		b.logger.Warn("state not persisted", "room", chat.RoomID(), "error", err)
	}

	current := room.ActiveModel
	if current == "" {
		current = agentConfig.Model
	}
	var out strings.Builder
	fmt.Fprintf(&out, b.catalog.ModelsHeader, agentName)
	if len(models) == 0 {
		out.WriteString(b.catalog.NoModels)
	}
	for index, name := range models {
		marker := ""
		if name == current {
			marker = "✅"
		}
		fmt.Fprintf(&out, "%s %d. **%s**\n", marker, index+1, name)
	}
	out.WriteString(b.catalog.ModelSwitchHint)
	b.send(ctx, chat, out.String())
}

// selectFromList resolves a user selection: a 1-based index into the
// listing last shown in the room, or a literal name from the current
// set. Returns "" when nothing matches.
func selectFromList(args string, shown, current []string) string {
	if index, err := strconv.Atoi(args); err == nil {
		if index >= 1 && index <= len(shown) {
			return shown[index-1]
		}
		return ""
	}
	if slices.Contains(current, args) {
		return args
	}
	return ""
}

// adminShell runs an arbitrary command for an allow-listed sender.
// The sandbox still applies: admin passthrough widens who may run
// commands, never where they may reach.
func (b *Bridge) adminShell(ctx context.Context, chat engine.Chat, sender, command string) {
	if !b.isAdmin(sender) {
		b.notify(ctx, chat, fmt.Sprintf(b.catalog.PermissionDenied, sender))
		return
	}

	room := b.store.Room(chat.RoomID())
	workdir := room.WorkingDir
	if workdir == "" {
		workdir = b.config.System.ProjectsDir
	}
	result, err := b.tools.ExecuteCommand(ctx, command, workdir)
	if err != nil {
		b.notify(ctx, chat, fmt.Sprintf(b.catalog.AdminError, err))
		return
	}
	output := tools.FormatResult(result)
	if output == "" {
		output = b.catalog.CommandNoOutput
	}
	if len(output) > adminOutputLimit {
		output = fmt.Sprintf(b.catalog.OutputTruncated, output[:adminOutputLimit])
	}
	b.send(ctx, chat, fmt.Sprintf(b.catalog.AdminOutput, command, output))
}

// isAdmin reports allow-list membership, case-insensitive.
func (b *Bridge) isAdmin(sender string) bool {
	for _, admin := range b.config.System.Admin {
		if strings.EqualFold(admin, sender) {
			return true
		}
	}
	return false
}

// agentNames returns the configured agent names, sorted.
func (b *Bridge) agentNames() []string {
	names := make([]string, 0, len(b.config.Agents))
	for name := range b.config.Agents {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// defaultAgentName picks the agent used when the room has not chosen:
// the one literally named "default" when configured, else the first by
// name.
func (b *Bridge) defaultAgentName() string {
	if _, ok := b.config.Agents["default"]; ok {
		return "default"
	}
	names := b.agentNames()
	if len(names) == 0 {
		return ""
	}
	return names[0]
}
