// Copyright 2026 The Foreman Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/foreman-chat/foreman/action"
	"github.com/foreman-chat/foreman/catalog"
	"github.com/foreman-chat/foreman/lib/clock"
	"github.com/foreman-chat/foreman/lib/config"
	"github.com/foreman-chat/foreman/lib/journal"
	"github.com/foreman-chat/foreman/lib/llm"
	"github.com/foreman-chat/foreman/prompts"
	"github.com/foreman-chat/foreman/sandbox"
	"github.com/foreman-chat/foreman/state"
	"github.com/foreman-chat/foreman/tools"
)

// defaultMaxSteps caps iterations per run.
const defaultMaxSteps = 20

// historyWindow is how many exchanges the prompt shows the model.
// The store keeps historyKeep so context survives a few runs back;
// the journal keeps everything.
const (
	historyWindow = 10
	historyKeep   = 40
)

// completionLimit caps how much of a closing response is posted to
// the room verbatim.
const completionLimit = 1000

// documentExtensions are what the planning phases may write.
var documentExtensions = []string{".md", ".txt", ".yaml", ".json"}

// Chat is the messaging capability the engine drives a room through.
// messaging.Room implements it; tests implement it in-memory.
type Chat interface {
	RoomID() string
	SendMessage(ctx context.Context, body string) (string, error)
	EditMessage(ctx context.Context, targetEventID, body string) error
	SendNotification(ctx context.Context, body string) error
	Typing(ctx context.Context, active bool) error
}

// Agent is one resolved provider identity: the bridge looks the
// configuration up by name and binds the provider client.
type Agent struct {
	Name     string
	Provider llm.Provider

	// Model is the active model; ModelFallbacks are tried in order
	// when it fails beyond retry.
	Model          string
	ModelFallbacks []string

	// RequestsPerMinute keys the shared rate gate. Zero means
	// unlimited.
	RequestsPerMinute int
}

// models returns the try-order: active model first, then fallbacks.
func (agent Agent) models() []string {
	models := []string{agent.Model}
	for _, model := range agent.ModelFallbacks {
		if model != agent.Model {
			models = append(models, model)
		}
	}
	return models
}

// Run describes one engine run in a room.
type Run struct {
	Agent Agent

	// Task is the user text driving the run.
	Task string

	// DisplayTask overrides what the feed shows; defaults to Task.
	DisplayTask string

	// PhaseOverride pins the phase for the whole run (assistant
	// conversations). Empty means follow room state.
	PhaseOverride Phase

	// WorkDir is the project directory actions resolve against.
	WorkDir string
}

// Outcome says how a run ended.
type Outcome string

const (
	// OutcomeDone: the model signalled completion.
	OutcomeDone Outcome = "done"

	// OutcomeStopped: stop request, cancellation, or the step cap.
	OutcomeStopped Outcome = "stopped"

	// OutcomeWaiting: conversational break; the run ended cleanly and
	// the next user message decides what happens.
	OutcomeWaiting Outcome = "waiting"

	// OutcomePendingApproval: a command is parked in room state until
	// the user approves or denies it.
	OutcomePendingApproval Outcome = "pending_approval"

	// OutcomeFailed: the provider failed beyond retry and fallback.
	// Phase is preserved; the run is resumable.
	OutcomeFailed Outcome = "failed"
)

// RunResult is what a finished run reports back to the bridge.
type RunResult struct {
	Outcome Outcome

	// Message is the user-facing closing text, when the outcome has
	// one (assistant replies, completion summaries).
	Message string
}

// Options configures an Engine. Store, Tools, Policy, and Gates are
// required; the rest defaults.
type Options struct {
	Store    *state.Store
	Tools    *tools.Executor
	Policy   *sandbox.Policy
	Gates    *llm.GateSet
	Commands config.CommandsConfig
	Catalog  *catalog.Catalog
	Clock    clock.Clock
	Logger   *slog.Logger

	// JournalDir receives one CBOR journal per run. Empty disables
	// journalling.
	JournalDir string

	// ActionDelay paces consecutive actions for rooms where humans
	// read along.
	ActionDelay time.Duration

	MaxSteps int
}

// Engine runs the think-act-observe loop for one room at a time. The
// bridge enforces the one-run-per-room invariant; the engine itself
// is stateless across runs and safe for concurrent use by different
// rooms.
type Engine struct {
	store    *state.Store
	tools    *tools.Executor
	policy   *sandbox.Policy
	gates    *llm.GateSet
	commands config.CommandsConfig
	catalog  *catalog.Catalog
	clk      clock.Clock
	logger   *slog.Logger

	journalDir  string
	actionDelay time.Duration
	maxSteps    int
}

// New creates an Engine.
func New(options Options) *Engine {
	if options.Catalog == nil {
		options.Catalog = catalog.Default()
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	if options.MaxSteps <= 0 {
		options.MaxSteps = defaultMaxSteps
	}
	return &Engine{
		store:       options.Store,
		tools:       options.Tools,
		policy:      options.Policy,
		gates:       options.Gates,
		commands:    options.Commands,
		catalog:     options.Catalog,
		clk:         options.Clock,
		logger:      options.Logger,
		journalDir:  options.JournalDir,
		actionDelay: options.ActionDelay,
		maxSteps:    options.MaxSteps,
	}
}

// Run executes the loop until completion, stop, conversational break,
// parked approval, or failure. The returned error reports provider or
// infrastructure failure already surfaced to the room; the bridge
// logs it.
func (e *Engine) Run(ctx context.Context, chat Chat, run Run) (RunResult, error) {
	if run.DisplayTask == "" {
		run.DisplayTask = run.Task
	}

	r := &runner{
		engine: e,
		chat:   chat,
		run:    run,
		roomID: chat.RoomID(),
		runID:  uuid.NewString(),
		feed:   newFeed(chat, e.store, e.clk, e.logger, run.DisplayTask, e.maxSteps),
	}

	if e.journalDir != "" {
		writer, err := journal.Create(e.journalDir, r.runID)
		if err != nil {
			e.logger.Warn("run journal unavailable", "run", r.runID, "error", err)
		} else {
			r.journal = writer
			defer func() {
				if err := writer.Close(); err != nil {
					e.logger.Warn("closing run journal", "run", r.runID, "error", err)
				}
			}()
		}
	}

	e.logger.Info("run started",
		"run", r.runID,
		"room", r.roomID,
		"agent", run.Agent.Name,
		"workdir", run.WorkDir)

	result, err := r.loop(ctx)

	e.logger.Info("run finished",
		"run", r.runID,
		"room", r.roomID,
		"outcome", result.Outcome,
		"error", err)
	return result, err
}

// runner is the per-run state.
type runner struct {
	engine  *Engine
	chat    Chat
	run     Run
	roomID  string
	runID   string
	feed    *feed
	journal *journal.Writer

	// taskRecorded marks that the run's first persisted exchange
	// carried the task text.
	taskRecorded bool
}

func (r *runner) loop(ctx context.Context) (RunResult, error) {
	e := r.engine

	for step := 1; ; step++ {
		if step > e.maxSteps {
			r.notify(ctx, e.catalog.LimitReached)
			r.feed.complete(ctx, "**⚠️ Limit reached**", "")
			return RunResult{Outcome: OutcomeStopped}, nil
		}
		if r.stopRequested() {
			return r.stopped(ctx), nil
		}

		phase := r.phase()
		r.feed.setRole(phase.Title())
		r.feed.setStep(step)
		r.feed.update(ctx)

		system, userPrompt := r.buildPrompt(phase)

		if err := r.chat.Typing(ctx, true); err != nil {
			e.logger.Debug("typing indicator failed", "room", r.roomID, "error", err)
		}
		response, err := r.callModel(ctx, system, userPrompt)
		if typingErr := r.chat.Typing(ctx, false); typingErr != nil {
			e.logger.Debug("typing indicator failed", "room", r.roomID, "error", typingErr)
		}
		if err != nil {
			if ctx.Err() != nil || r.stopRequested() {
				return r.stopped(ctx), nil
			}
			r.notify(ctx, fmt.Sprintf(e.catalog.AgentError, err))
			r.feed.complete(ctx, "**⚠️ Agent error**", "")
			return RunResult{Outcome: OutcomeFailed}, fmt.Errorf("engine: model call: %w", err)
		}

		prompt := system + "\n" + userPrompt
		actions := action.Parse(response)
		r.feed.setThought(thoughtOf(response))

		if len(actions) == 0 {
			return r.conversationalBreak(ctx, step, phase, prompt, response)
		}

		result, done, err := r.executeActions(ctx, step, phase, prompt, response, actions)
		if done || err != nil {
			return result, err
		}
	}
}

// conversationalBreak handles a response with no actions. Assistant
// turns are answers; working phases treat the text as an agent note
// and leave room state untouched, so an idle reply cannot perturb a
// paused task.
func (r *runner) conversationalBreak(ctx context.Context, step int, phase Phase, prompt, response string) (RunResult, error) {
	e := r.engine
	if phase == PhaseAssistant {
		if _, err := r.chat.SendMessage(ctx, response); err != nil {
			e.logger.Warn("assistant reply dropped", "room", r.roomID, "error", err)
		}
		r.persistExchange(response, nil)
		r.journalStep(step, phase, prompt, response, nil)
		r.feed.complete(ctx, "**💬 Answered**", "")
		return RunResult{Outcome: OutcomeWaiting, Message: response}, nil
	}

	r.notify(ctx, fmt.Sprintf(e.catalog.AgentSays, response))
	r.journalStep(step, phase, prompt, response, nil)
	r.feed.complete(ctx, "**💬 Waiting for input**", "")
	return RunResult{Outcome: OutcomeWaiting, Message: response}, nil
}

// executeActions runs one iteration's actions in order, then persists
// and journals the exchange. done reports that the run is over and
// result is final; otherwise the loop re-prompts with the collected
// observations in history.
func (r *runner) executeActions(ctx context.Context, step int, phase Phase, prompt, response string, actions []action.Action) (RunResult, bool, error) {
	e := r.engine

	var results []string
	var records []journal.ActionRecord

	finish := func() {
		r.persistExchange(response, results)
		r.journalStep(step, phase, prompt, response, records)
	}
	record := func(kind action.Kind, target, observation string) {
		rec := journal.ActionRecord{Kind: kind.String(), Target: target}
		if observation != "" {
			rec.OutputSize = len(observation)
			rec.OutputDigest = journal.DigestString(observation)
		}
		records = append(records, rec)
	}

	for index, act := range actions {
		if r.stopRequested() {
			finish()
			return r.stopped(ctx), true, nil
		}

		switch act.Kind {
		case action.KindDone:
			record(act.Kind, "", "")
			finish()
			return r.completed(ctx, phase, response), true, nil

		case action.KindSwitchMode:
			observation, switched := r.switchMode(ctx, phase, act.Mode)
			results = append(results, observation)
			record(act.Kind, act.Mode, observation)
			if switched {
				finish()
				// Re-prompt under the new phase immediately.
				return RunResult{}, false, nil
			}

		case action.KindShell:
			observation, parked := r.shellCommand(ctx, phase, act.Command)
			record(act.Kind, act.Command, observation)
			if parked {
				results = append(results, fmt.Sprintf("System: command `%s` held for user approval.", act.Command))
				finish()
				return RunResult{Outcome: OutcomePendingApproval}, true, nil
			}
			results = append(results, observation)

		default:
			observation := r.fileAction(phase, act)
			results = append(results, observation)
			record(act.Kind, act.Path, observation)
		}

		if e.actionDelay > 0 && index < len(actions)-1 {
			if err := e.clk.Sleep(ctx, e.actionDelay); err != nil {
				finish()
				return r.stopped(ctx), true, nil
			}
		}
	}

	finish()
	r.feed.update(ctx)
	return RunResult{}, false, nil
}

// completed handles the Done action. Planning phases park the run for
// plan review; execution and assistant runs close out with the
// response's prose.
func (r *runner) completed(ctx context.Context, phase Phase, response string) RunResult {
	e := r.engine

	if phase.documentationOnly() {
		if err := e.store.Update(r.roomID, func(room *state.RoomState) {
			room.Phase = string(PhasePlanning)
		}); err != nil {
			e.logger.Warn("state not persisted", "room", r.roomID, "error", err)
		}
		if _, err := r.chat.SendMessage(ctx, e.catalog.PlanningComplete); err != nil {
			e.logger.Warn("planning menu dropped", "room", r.roomID, "error", err)
		}
		r.feed.note(true, "Planning complete")
		r.feed.complete(ctx, "**📋 Plan ready**", "")
		return RunResult{Outcome: OutcomeDone, Message: e.catalog.PlanningComplete}
	}

	summary := clip(action.Strip(response), completionLimit)
	closing := summary
	if phase != PhaseAssistant {
		closing = fmt.Sprintf(e.catalog.ExecutionComplete, summary)
	}
	if closing != "" {
		if _, err := r.chat.SendMessage(ctx, closing); err != nil {
			e.logger.Warn("completion message dropped", "room", r.roomID, "error", err)
		}
	}
	if err := e.store.Update(r.roomID, func(room *state.RoomState) {
		room.TaskCompleted = true
	}); err != nil {
		e.logger.Warn("state not persisted", "room", r.roomID, "error", err)
	}
	r.feed.complete(ctx, "**🏁 Task complete**", "")
	return RunResult{Outcome: OutcomeDone, Message: closing}
}

// switchMode validates and applies a phase switch. The returned
// observation feeds back to the model either way.
func (r *runner) switchMode(ctx context.Context, current Phase, target string) (observation string, switched bool) {
	e := r.engine
	next, ok := ParsePhase(target)
	if !ok {
		return fmt.Sprintf("System: invalid mode %q. Use `switch_mode planning` or `switch_mode execution`.", target), false
	}

	// Leaving the bootstrap phase publishes the generated documents
	// so the room sees what was planned.
	if current == PhaseNewProject {
		r.publishDocuments(ctx)
	}

	if err := e.store.Update(r.roomID, func(room *state.RoomState) {
		room.Phase = string(next)
	}); err != nil {
		e.logger.Warn("state not persisted", "room", r.roomID, "error", err)
	}
	r.feed.note(true, "Switched to "+next.Title())
	return fmt.Sprintf("System: switched to %s mode.", next), true
}

// publishDocuments sends the bootstrap documents to the room.
func (r *runner) publishDocuments(ctx context.Context) {
	for _, name := range []string{"architecture.md", "roadmap.md"} {
		content, err := r.engine.tools.ReadFile(filepath.Join(r.run.WorkDir, name))
		if err != nil {
			continue
		}
		if _, err := r.chat.SendMessage(ctx, content); err != nil {
			r.engine.logger.Warn("document publish dropped", "room", r.roomID, "file", name, "error", err)
		}
	}
}

// shellCommand applies phase and policy checks, then executes. parked
// means the command was held for approval and the run must end.
func (r *runner) shellCommand(ctx context.Context, phase Phase, command string) (observation string, parked bool) {
	e := r.engine

	if phase.documentationOnly() {
		r.feed.note(false, "Blocked command (planning)")
		return "System: PERMISSION DENIED: the planning phase cannot run commands (`" + command +
			"`). Write the planning documents; output NO_MORE_STEPS when the plan is finished.", false
	}

	display := firstLine(command)

	switch e.commands.Decide(command) {
	case config.DecisionBlocked:
		r.feed.note(false, "Blocked "+display)
		return fmt.Sprintf("System: command `%s` is blocked by policy and was not run.", command), false
	case config.DecisionAsk:
		return r.park(ctx, command), true
	}

	if !e.policy.IsCommandSafe(command) {
		return r.park(ctx, command), true
	}

	r.feed.activity("Running " + display)
	result, err := e.tools.ExecuteCommand(ctx, command, r.run.WorkDir)
	if err != nil {
		r.feed.finish(false, display)
		return "Output:\n" + err.Error(), false
	}

	output := tools.FormatResult(result)
	if output == "" {
		output = e.catalog.CommandNoOutput
	}
	r.feed.finish(result.ExitCode == 0, "Ran "+display)
	return "Output:\n" + output, false
}

// park stores the command for approval and alerts the room.
func (r *runner) park(ctx context.Context, command string) string {
	e := r.engine
	if err := e.store.Update(r.roomID, func(room *state.RoomState) {
		room.PendingCommand = command
	}); err != nil {
		e.logger.Warn("state not persisted", "room", r.roomID, "error", err)
	}
	r.notify(ctx, fmt.Sprintf(e.catalog.ApprovalRequest, command))
	r.feed.note(false, "Awaiting approval: "+firstLine(command))
	r.feed.complete(ctx, "**⏸️ Awaiting approval**", "")
	return ""
}

// fileAction executes Read, Write, List, and Find actions.
func (r *runner) fileAction(phase Phase, act action.Action) string {
	e := r.engine
	path := r.resolvePath(act.Path)
	display := e.policy.Display(path)

	switch act.Kind {
	case action.KindWrite:
		if phase.documentationOnly() && !isDocument(path) {
			r.feed.note(false, "Blocked write to "+display+" (planning)")
			return "System: PERMISSION DENIED: the planning phase writes documentation only (" +
				strings.Join(documentExtensions, ", ") + "), not `" + act.Path +
				"`. Output NO_MORE_STEPS when the plan is finished."
		}
		r.feed.activity("Writing " + display)
		if err := e.tools.WriteFile(path, act.Content); err != nil {
			r.feed.finish(false, "Write "+display)
			return "Output: error writing file: " + err.Error()
		}
		r.feed.finish(true, "Wrote "+display)
		return "Output: File written successfully"

	case action.KindRead:
		r.feed.activity("Reading " + display)
		content, err := e.tools.ReadFile(path)
		if err != nil {
			r.feed.finish(false, "Read "+display)
			return "Output: error reading file: " + err.Error()
		}
		r.feed.finish(true, "Read "+display)
		return "Output:\n" + content

	case action.KindList:
		r.feed.activity("Listing " + display)
		listing, err := e.tools.ListDir(path)
		if err != nil {
			r.feed.finish(false, "List "+display)
			return "System: error listing directory: " + err.Error()
		}
		r.feed.finish(true, "Listed "+display)
		return "System:\n" + listing

	case action.KindFind:
		r.feed.activity("Finding " + act.Pattern + " in " + display)
		found, err := e.tools.FindFiles(path, act.Pattern)
		if err != nil {
			r.feed.finish(false, "Find "+act.Pattern)
			return "System: error finding files: " + err.Error()
		}
		r.feed.finish(true, "Found "+act.Pattern+" in "+display)
		return "System:\n" + found
	}
	return ""
}

// resolvePath maps an action path into the sandbox: relative paths
// resolve against the working directory, and absolute paths that fall
// outside the sandbox re-root onto it. Models tend to address the
// project as if it were the whole filesystem, so their "/src/main.py"
// lands inside the tree. Full validation still happens in tools.
func (r *runner) resolvePath(path string) string {
	path = strings.TrimSpace(path)
	if !filepath.IsAbs(path) {
		base := r.run.WorkDir
		if base == "" {
			base = r.engine.policy.Root()
		}
		return filepath.Join(base, path)
	}
	if _, err := r.engine.policy.ValidatePath(path); err == nil {
		return path
	}
	return filepath.Join(r.engine.policy.Root(), strings.TrimPrefix(path, "/"))
}

// callModel calls the provider with retry, falling back through the
// agent's model list when a model fails beyond retry. A successful
// fallback is persisted as the room's active model.
func (r *runner) callModel(ctx context.Context, system, userPrompt string) (string, error) {
	e := r.engine
	agent := r.run.Agent
	gate := e.gates.Gate(agent.Name, agent.RequestsPerMinute)
	policy := retryPolicy(agent)

	var lastErr error
	models := agent.models()
	for index, model := range models {
		text, err := llm.CallWithRetry(ctx, e.clk, policy, gate, e.logger, func(ctx context.Context) (*llm.Response, error) {
			return agent.Provider.Complete(ctx, llm.Request{
				Model:  model,
				System: system,
				Prompt: userPrompt,
			})
		})
		if err == nil {
			if index > 0 {
				if err := e.store.Update(r.roomID, func(room *state.RoomState) {
					room.ActiveModel = model
				}); err != nil {
					e.logger.Warn("state not persisted", "room", r.roomID, "error", err)
				}
			}
			return text, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return "", err
		}
		if index < len(models)-1 {
			e.logger.Warn("model failed, falling back",
				"run", r.runID,
				"model", model,
				"next", models[index+1],
				"error", err)
			r.notify(ctx, fmt.Sprintf(e.catalog.ModelFallback, models[index+1]))
		}
	}
	return "", lastErr
}

// retryPolicy derives the retry spacing from the agent's rate: gated
// agents wait at least one token interval before retrying so the
// retry does not immediately re-hit the limit.
func retryPolicy(agent Agent) llm.RetryPolicy {
	policy := llm.DefaultRetryPolicy()
	if agent.RequestsPerMinute > 0 {
		policy.BaseDelay = max(time.Minute/time.Duration(agent.RequestsPerMinute), time.Second)
	}
	return policy
}

// buildPrompt assembles the system prompt from the phase template and
// project documents, and the user prompt from the history window and
// the task.
func (r *runner) buildPrompt(phase Phase) (system, userPrompt string) {
	e := r.engine
	room := e.store.Room(r.roomID)

	c := r.promptContext(room)
	switch phase {
	case PhaseNewProject:
		system = prompts.NewProject(filepath.Base(r.run.WorkDir), r.run.Task, r.run.WorkDir, c.Date)
	case PhaseExecution:
		system = prompts.Execution(c)
	case PhaseAssistant:
		system = prompts.Assistant(c)
	default:
		system = prompts.Planning(c)
	}

	var prompt strings.Builder
	if history := renderHistory(room.History, historyWindow); history != "" {
		prompt.WriteString("History:\n")
		prompt.WriteString(history)
		prompt.WriteString("\n")
	}
	prompt.WriteString("User Question/Task: ")
	prompt.WriteString(r.run.Task)
	return system, prompt.String()
}

// promptContext reads the project documents for template rendering.
// Missing files render as explicit absence markers so the model never
// sees a silently empty section.
func (r *runner) promptContext(room state.RoomState) prompts.Context {
	e := r.engine
	workDir := r.run.WorkDir

	read := func(path, absent string) string {
		if workDir == "" {
			return "(no project set)"
		}
		content, err := e.tools.ReadFile(path)
		if err != nil {
			return absent
		}
		return content
	}

	c := prompts.Context{
		WorkDir:      workDir,
		Date:         e.clk.Now().Format("2006-01-02 15:04"),
		ActiveTask:   room.ActiveTask,
		Request:      r.run.Task,
		Roadmap:      read(filepath.Join(workDir, "roadmap.md"), "(no roadmap.md)"),
		Architecture: read(filepath.Join(workDir, "architecture.md"), "(no architecture.md)"),
		Progress:     read(filepath.Join(workDir, "progress.md"), "(no progress history yet)"),
		Guidelines:   read(filepath.Join(workDir, "guidelines.md"), "(no guidelines.md)"),
	}
	if c.WorkDir == "" {
		c.WorkDir = "."
	}
	if c.ActiveTask == "" {
		c.ActiveTask = "tasks/current"
		c.Plan = "(no active task plan)"
		c.Tasks = "(no active task checklist)"
		return c
	}
	c.Plan = read(filepath.Join(workDir, room.ActiveTask, "plan.md"), "(no plan.md)")
	c.Tasks = read(filepath.Join(workDir, room.ActiveTask, "tasks.md"), "(no tasks.md)")
	return c
}

// renderHistory renders the last window exchanges the way the model
// reads them.
func renderHistory(history []state.Exchange, window int) string {
	if len(history) > window {
		history = history[len(history)-window:]
	}
	var out strings.Builder
	for _, exchange := range history {
		if exchange.Task != "" {
			out.WriteString("User: " + exchange.Task + "\n")
		}
		out.WriteString("Agent: " + exchange.Response + "\n")
		for _, result := range exchange.Results {
			out.WriteString(result + "\n")
		}
	}
	return out.String()
}

// persistExchange appends the iteration to room history. The first
// exchange of the run carries the task text so later runs see what
// was asked. Phase changes persist where they happen; this only grows
// history. Persist failures are logged, never fatal to the run.
func (r *runner) persistExchange(response string, results []string) {
	e := r.engine
	task := ""
	if !r.taskRecorded {
		task = r.run.Task
		r.taskRecorded = true
	}
	if err := e.store.Update(r.roomID, func(room *state.RoomState) {
		room.History = append(room.History, state.Exchange{
			Task:     task,
			Response: response,
			Results:  results,
			Time:     e.clk.Now(),
		})
		room.TrimHistory(historyKeep)
	}); err != nil {
		e.logger.Warn("state not persisted", "room", r.roomID, "error", err)
	}
}

// journalStep appends the iteration record. Journalling is
// best-effort: a nil writer or append failure only logs.
func (r *runner) journalStep(step int, phase Phase, prompt, response string, records []journal.ActionRecord) {
	if r.journal == nil {
		return
	}
	record := journal.Record{
		RunID:          r.runID,
		Step:           step,
		Phase:          string(phase),
		Time:           r.engine.clk.Now(),
		PromptDigest:   journal.DigestString(prompt),
		ResponseDigest: journal.DigestString(response),
		Actions:        records,
	}
	if err := r.journal.Append(record); err != nil {
		r.engine.logger.Warn("journal append failed", "run", r.runID, "error", err)
	}
}

// phase resolves the iteration's phase: the override when pinned,
// else room state, else planning.
func (r *runner) phase() Phase {
	if r.run.PhaseOverride != "" {
		return r.run.PhaseOverride
	}
	room := r.engine.store.Room(r.roomID)
	if parsed, ok := ParsePhase(room.Phase); ok {
		return parsed
	}
	return PhasePlanning
}

func (r *runner) stopRequested() bool {
	return r.engine.store.Room(r.roomID).StopRequested
}

// stopped clears the stop flag, persists, and tells the room. Phase
// and task state are preserved so the run can resume. The stop notice
// must reach the room even when the stop arrived as context
// cancellation, so sends detach from the run context.
func (r *runner) stopped(ctx context.Context) RunResult {
	e := r.engine
	if err := e.store.Update(r.roomID, func(room *state.RoomState) {
		room.StopRequested = false
	}); err != nil {
		e.logger.Warn("state not persisted", "room", r.roomID, "error", err)
	}
	ctx = context.WithoutCancel(ctx)
	r.notify(ctx, e.catalog.StopRequested)
	r.feed.complete(ctx, "**🛑 Stopped**", "")
	return RunResult{Outcome: OutcomeStopped}
}

// notify sends a best-effort notice; failures log as dropped
// notifications.
func (r *runner) notify(ctx context.Context, body string) {
	if err := r.chat.SendNotification(ctx, body); err != nil {
		r.engine.logger.Warn("notification dropped", "room", r.roomID, "error", err)
	}
}

// thoughtOf extracts the model's commentary: the text before its
// first fenced block.
func thoughtOf(response string) string {
	if index := strings.Index(response, "```"); index >= 0 {
		response = response[:index]
	}
	return strings.TrimSpace(response)
}

func firstLine(text string) string {
	if index := strings.IndexByte(text, '\n'); index >= 0 {
		return text[:index] + " …"
	}
	return text
}

func clip(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	cut := text[:limit]
	if index := strings.LastIndexByte(cut, ' '); index > 0 {
		cut = cut[:index]
	}
	return cut + " …"
}

func isDocument(path string) bool {
	extension := strings.ToLower(filepath.Ext(path))
	for _, allowed := range documentExtensions {
		if extension == allowed {
			return true
		}
	}
	return false
}
