// Copyright 2026 The Foreman Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"fmt"

	"github.com/foreman-chat/foreman/engine"
	"github.com/foreman-chat/foreman/lib/llm"
	"github.com/foreman-chat/foreman/state"
	"github.com/foreman-chat/foreman/tools"
)

// runSpec is what a command handler knows about the run it wants; the
// bridge fills in the resolved agent before handing it to the engine.
type runSpec struct {
	task        string
	displayTask string
	phase       engine.Phase
	workDir     string
}

// startRun resolves the room's agent, registers the run (enforcing
// one live run per room), and launches the engine loop in its own
// goroutine. Returns false when the room already has a live run or
// the agent could not be resolved.
func (b *Bridge) startRun(ctx context.Context, chat engine.Chat, spec runSpec) bool {
	roomID := chat.RoomID()
	room := b.store.Room(roomID)

	agent, err := b.resolveAgent(room)
	if err != nil {
		b.notify(ctx, chat, fmt.Sprintf(b.catalog.AgentError, err))
		return false
	}

	// The run outlives the triggering message's context; cancellation
	// comes from .stop through the store's run registry.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	if !b.store.BeginRun(roomID, cancel) {
		cancel()
		b.notify(ctx, chat, b.catalog.RunActive)
		return false
	}

	run := engine.Run{
		Agent:         agent,
		Task:          spec.task,
		DisplayTask:   spec.displayTask,
		PhaseOverride: spec.phase,
		WorkDir:       spec.workDir,
	}

	b.running.Add(1)
	go func() {
		defer b.running.Done()
		defer b.store.EndRun(roomID)
		defer cancel()
		b.executeRun(runCtx, chat, run)
	}()
	return true
}

// executeRun drives the engine, retrying with the configured fallback
// agent chain when a run fails beyond the engine's own model
// fallbacks. Visited agents are tracked so a fallback cycle cannot
// loop forever.
func (b *Bridge) executeRun(ctx context.Context, chat engine.Chat, run engine.Run) {
	visited := map[string]bool{run.Agent.Name: true}
	for {
		result, err := b.engine.Run(ctx, chat, run)
		if result.Outcome != engine.OutcomeFailed || ctx.Err() != nil {
			return
		}
		b.logger.Error("run failed",
			"room", chat.RoomID(),
			"agent", run.Agent.Name,
			"error", err)

		nextName := b.config.Agents[run.Agent.Name].FallbackAgent
		if nextName == "" || visited[nextName] {
			return
		}
		visited[nextName] = true

		next, resolveErr := b.agentByName(nextName, "")
		if resolveErr != nil {
			b.logger.Error("fallback agent unavailable", "agent", nextName, "error", resolveErr)
			return
		}
		if err := b.store.Update(chat.RoomID(), func(room *state.RoomState) {
			room.ActiveAgent = nextName
			room.ActiveModel = ""
		}); err != nil {
			b.logger.Warn("state not persisted", "room", chat.RoomID(), "error", err)
		}
		b.notify(ctx, chat, fmt.Sprintf(b.catalog.AgentFallback, nextName))
		run.Agent = next
	}
}

// resolveAgent binds the room's active agent (or the default) to a
// provider client.
func (b *Bridge) resolveAgent(room state.RoomState) (engine.Agent, error) {
	name := room.ActiveAgent
	if name == "" {
		name = b.defaultAgentName()
	}
	return b.agentByName(name, room.ActiveModel)
}

// agentByName builds an engine.Agent from configuration. modelOverride
// replaces the configured model when non-empty.
func (b *Bridge) agentByName(name, modelOverride string) (engine.Agent, error) {
	agentConfig, ok := b.config.Agents[name]
	if !ok {
		return engine.Agent{}, fmt.Errorf("bridge: agent %q is not configured", name)
	}
	key, err := agentConfig.ResolveAPIKey()
	if err != nil {
		return engine.Agent{}, fmt.Errorf("bridge: agent %q: %w", name, err)
	}

	var provider llm.Provider
	switch agentConfig.Provider {
	case "anthropic":
		provider = llm.NewAnthropic(b.httpClient, agentConfig.BaseURL, key)
	case "openai":
		provider = llm.NewOpenAI(b.httpClient, agentConfig.BaseURL, key)
	default:
		return engine.Agent{}, fmt.Errorf("bridge: agent %q: unknown provider %q", name, agentConfig.Provider)
	}

	model := agentConfig.Model
	if modelOverride != "" {
		model = modelOverride
	}
	return engine.Agent{
		Name:              name,
		Provider:          provider,
		Model:             model,
		ModelFallbacks:    agentConfig.ModelFallbacks,
		RequestsPerMinute: agentConfig.RequestsPerMinute,
	}, nil
}

// start handles ".start" and the resume half of ".ok": planning rooms
// move to execution and the loop resumes; execution rooms resume
// where they left off.
func (b *Bridge) start(ctx context.Context, chat engine.Chat) {
	roomID := chat.RoomID()
	if b.store.RunActive(roomID) {
		b.notify(ctx, chat, b.catalog.RunActive)
		return
	}
	room := b.store.Room(roomID)
	workdir := room.WorkingDir
	if workdir == "" {
		workdir = room.ProjectPath
	}
	if workdir == "" {
		b.send(ctx, chat, b.catalog.NoProjectSet)
		return
	}

	task := resumeTask(room)
	switch room.Phase {
	case string(engine.PhasePlanning), string(engine.PhaseNewProject):
		if err := b.store.Update(roomID, func(room *state.RoomState) {
			room.Phase = string(engine.PhaseExecution)
			room.StopRequested = false
		}); err != nil {
			b.logger.Warn("state not persisted", "room", roomID, "error", err)
		}
		b.send(ctx, chat, fmt.Sprintf(b.catalog.TaskApproved, task))
	default:
		if len(room.History) == 0 {
			b.send(ctx, chat, b.catalog.NoHistory)
			return
		}
		if err := b.store.Update(roomID, func(room *state.RoomState) {
			room.StopRequested = false
		}); err != nil {
			b.logger.Warn("state not persisted", "room", roomID, "error", err)
		}
		b.notify(ctx, chat, b.catalog.Resuming)
	}
	b.startRun(ctx, chat, runSpec{task: task, workDir: workdir})
}

// resumeTask recovers the task text a resumed run should carry: the
// most recent exchange that recorded one, else the active task path.
func resumeTask(room state.RoomState) string {
	for i := len(room.History) - 1; i >= 0; i-- {
		if room.History[i].Task != "" {
			return room.History[i].Task
		}
	}
	if room.ActiveTask != "" {
		return "Continue working on " + room.ActiveTask + "."
	}
	return "Continue the active task."
}

// stop requests cooperative cancellation of the room's live run and
// aborts any in-flight provider call.
func (b *Bridge) stop(ctx context.Context, chat engine.Chat) {
	roomID := chat.RoomID()
	if !b.store.RunActive(roomID) {
		b.notify(ctx, chat, b.catalog.NoRunToStop)
		return
	}
	if err := b.store.Update(roomID, func(room *state.RoomState) {
		room.StopRequested = true
	}); err != nil {
		b.logger.Warn("state not persisted", "room", roomID, "error", err)
	}
	b.store.CancelRun(roomID)
	b.send(ctx, chat, b.catalog.StopWait)
}

// ask handles ".ask": a one-shot assistant conversation in the
// project context.
func (b *Bridge) ask(ctx context.Context, chat engine.Chat, args string) {
	if args == "" {
		b.notify(ctx, chat, b.catalog.AskUsage)
		return
	}
	room := b.store.Room(chat.RoomID())
	workdir := room.WorkingDir
	if workdir == "" {
		workdir = room.ProjectPath
	}
	b.startRun(ctx, chat, runSpec{
		task:    args,
		phase:   engine.PhaseAssistant,
		workDir: workdir,
	})
}

// resolveApproval settles a parked command. Approval runs it — still
// inside the sandbox, which approval never overrides — and feeds the
// output into history; denial records the refusal. Either way the run
// resumes so the model sees the outcome. Returns false when nothing
// was pending.
func (b *Bridge) resolveApproval(ctx context.Context, chat engine.Chat, approved bool) bool {
	roomID := chat.RoomID()
	room := b.store.Room(roomID)
	if room.PendingCommand == "" {
		return false
	}
	command := room.PendingCommand
	if err := b.store.Update(roomID, func(room *state.RoomState) {
		room.PendingCommand = ""
	}); err != nil {
		b.logger.Warn("state not persisted", "room", roomID, "error", err)
	}

	var observation string
	if approved {
		b.send(ctx, chat, fmt.Sprintf(b.catalog.CommandApproved, command))
		workdir := room.WorkingDir
		if workdir == "" {
			workdir = room.ProjectPath
		}
		if workdir == "" {
			workdir = b.config.System.ProjectsDir
		}
		result, err := b.tools.ExecuteCommand(ctx, command, workdir)
		if err != nil {
			observation = "Output:\n" + err.Error()
			b.notify(ctx, chat, fmt.Sprintf(b.catalog.AdminError, err))
		} else {
			output := tools.FormatResult(result)
			if output == "" {
				output = b.catalog.CommandNoOutput
			}
			observation = "Output:\n" + output
			if len(output) > adminOutputLimit {
				output = fmt.Sprintf(b.catalog.OutputTruncated, output[:adminOutputLimit])
			}
			b.send(ctx, chat, fmt.Sprintf(b.catalog.ApprovedOutput, output))
		}
	} else {
		observation = fmt.Sprintf("System: the user denied command `%s`. Do not retry it; choose another approach or ask.", command)
		b.send(ctx, chat, b.catalog.CommandDenied)
	}

	if err := b.store.Update(roomID, func(room *state.RoomState) {
		if len(room.History) == 0 {
			room.History = append(room.History, state.Exchange{Time: b.clk.Now()})
		}
		last := &room.History[len(room.History)-1]
		last.Results = append(last.Results, observation)
	}); err != nil {
		b.logger.Warn("state not persisted", "room", roomID, "error", err)
	}

	workdir := room.WorkingDir
	if workdir == "" {
		workdir = room.ProjectPath
	}
	b.startRun(ctx, chat, runSpec{task: resumeTask(room), workDir: workdir})
	return true
}
