// Copyright 2026 The Foreman Authors
// SPDX-License-Identifier: Apache-2.0

// Package catalog holds every string foreman sends to a chat room.
//
// The bridge and engine receive a *Catalog instead of reaching for
// package-level literals, so tests can assert against their own
// phrasing and deployments can reword messages without forking the
// code. [Default] is the stock English set.
//
// Fields whose text embeds values are fmt.Sprintf templates; the
// comment on each field names the verbs in order.
package catalog

// Catalog is the message table. All fields must be non-empty in a
// usable catalog; Validate in tests enforces that for Default.
type Catalog struct {
	// Help is the full .help reply.
	Help string

	// Router replies.
	UnknownCommand   string // %s: the command as typed
	PermissionDenied string // %s: sender user ID
	RunActive        string
	NoRunToStop      string

	// Project commands.
	ProjectsHeader     string
	NoProjectsFound    string
	ListProjectsFailed string // %s: error
	InvalidProjectName string
	ProvideProjectName string
	ProjectExists      string // %s: path
	ProjectCreated     string // %s: path
	CreateDirFailed    string // %s: path, %s: error
	UseTaskToStart     string
	NoProjectSet       string
	ProjectSet         string // %s: path
	PathNotDirectory   string // %s: path

	// File access.
	AccessDenied  string
	SpecifyFiles  string
	FileHeader    string // %s: file name, %s: content
	ReadFileError string // %s: file name, %s: error

	// Run lifecycle.
	TaskStarted       string // %s: task text
	StopRequested     string
	StopWait          string
	LimitReached      string
	PlanningComplete  string
	ExecutionComplete string // %s: closing summary
	AgentSays         string // %s: agent text
	AgentError        string // %s: error
	Resuming          string
	NoHistory         string
	NoTaskToApprove   string
	TaskApproved      string // %s: task text
	AskUsage          string
	ProjectDocsTask   string // %s: project name

	// Command approvals.
	ApprovalRequest  string // %s: the command awaiting approval
	CommandApproved  string // %s: the approved command
	ApprovedOutput   string // %s: command output
	CommandDenied    string
	NoPendingCommand string
	CommandNoOutput  string
	OutputTruncated  string // %s: truncated output

	// Admin shell.
	AdminOutput string // %s: command, %s: output
	AdminError  string // %s: error

	// Provider failover.
	ModelFallback string // %s: model switched to
	AgentFallback string // %s: agent switched to

	// Agent and model selection.
	AgentsHeader    string
	NoAgents        string
	AgentSwitchHint string
	InvalidAgent    string
	AgentSet        string // %s: agent name
	ModelsHeader    string // %s: agent name
	NoModels        string
	ModelSwitchHint string
	ModelSet        string // %s: model name
	ModelReset      string
	InvalidModel    string

	// Status.
	StatusHeader string

	// Project and task wizards.
	WizardProjectName     string
	WizardDescription     string
	WizardTaskDescription string
	WizardConfirmation    string
	WizardCancelled       string
	WizardInputHeader     string
	WizardOkHint          string
}

// Default returns the stock English catalog.
func Default() *Catalog {
	return &Catalog{
		Help: `**🤖 Foreman Help**
Use: .command _args_

**📂 Project**
* project [path]: Set project directory
* list: List projects
* new [name]: Create a project (wizard when no name)
* task [text]: Start a task (wizard when empty)
* start: Start or resume the run
* stop: Stop the run
* ask [msg]: Chat with the agent

**🤖 Agent**
* agent [name|number]: Show or switch agents
* model [name|number]: Show or switch models

**📄 Files**
* read [files]: Show project files
* 1-4: Open architecture/roadmap/plan/tasks
* status: Show room status

**⚡ Misc**
* , [cmd]: Terminal command (admin)
* ok / deny: Approve or reject a pending command`,

		UnknownCommand:   "⚠️ Unknown command `%s`. Try `.help`.",
		PermissionDenied: "%s you do not have permission to run terminal commands.",
		RunActive:        "⚠️ **A run is already active in this room**. Use `.stop` first.",
		NoRunToStop:      "⚠️ **No active run to stop**.",

		ProjectsHeader:     "**📂 Available Projects**\n",
		NoProjectsFound:    "📂 **No projects found**.",
		ListProjectsFailed: "⚠️ Failed to list projects: %s",
		InvalidProjectName: "⚠️ **Invalid project name**.",
		ProvideProjectName: "⚠️ **Please provide a project name**: `.new _name_`",
		ProjectExists:      "📂 **Project already exists**. Switched to: `%s`",
		ProjectCreated:     "📂 **Created and set project directory to**: `%s`\n📄 **Initialized specs**: `roadmap.md`, `changelog.md`",
		CreateDirFailed:    "❌ **Failed to create directory** `%s`: %s",
		UseTaskToStart:     "\n\nUse `.task` to start a new workflow.",
		NoProjectSet:       "📂 **No project set**. Use `.project _path_`",
		ProjectSet:         "📂 **Project set to**: `%s`",
		PathNotDirectory:   "⚠️ `%s` is not a directory or does not exist.",

		AccessDenied:  "❌ Access denied: Path outside the sandbox.",
		SpecifyFiles:  "⚠️ **Please specify files**: `.read _file1_ _file2_`",
		FileHeader:    "**📄 `%s`**\n```\n%s\n```\n\n",
		ReadFileError: "❌ Failed to read `%s`: %s\n\n",

		TaskStarted:       "📋 **Task**: _%s_\n🔄 Planning...",
		StopRequested:     "🛑 **Execution stopped by user.**",
		StopWait:          "🛑 **Stop requested**. Waiting for current step to finish...",
		LimitReached:      "⚠️ **Limit Reached**: Stopped to prevent infinite loop.",
		PlanningComplete:  "✅ **Planning Complete**\nOpen: `.1` Architecture | `.2` Roadmap | `.3` Plan | `.4` Tasks\nType `.continue` to start execution, `.task` to revise.",
		ExecutionComplete: "🏁 **Execution Complete**\n\n%s",
		AgentSays:         "🤔 **Agent says**:\n%s",
		AgentError:        "⚠️ **Agent error**: %s",
		Resuming:          "🔄 **Resuming execution**...",
		NoHistory:         "⚠️ **No execution history found to continue**. Start a new task.",
		NoTaskToApprove:   "⚠️ **No task to approve**.",
		TaskApproved:      "✅ Plan approved for: **%s**\nStarting interactive execution...",
		AskUsage:          "⚠️ **Usage**: `.ask _message_`",
		ProjectDocsTask:   "Generating documentation for project '%s'.",

		ApprovalRequest:  "⚠️ **Approval required** to run:\n```\n%s\n```\n`.ok` to run it, `.deny` to skip.",
		CommandApproved:  "✅ **Approved**: `%s`",
		ApprovedOutput:   "**Output**:\n```\n%s\n```",
		CommandDenied:    "🚫 **Command denied by user**.",
		NoPendingCommand: "⚠️ **No pending command to approve/deny**.",
		CommandNoOutput:  "✅ (Command executed successfully, no output)",
		OutputTruncated:  "%s\n... (output truncated)",

		AdminOutput: "```sh\n$ %s\n%s\n```",
		AdminError:  "❌ **Command failed**: %s",

		ModelFallback: "⚠️ Provider error. Switching model to `%s` and retrying...",
		AgentFallback: "⚠️ Provider error. Switching agent to `%s` and retrying...",

		AgentsHeader:    "**🤖 Available Agents**\n\n",
		NoAgents:        "No agents available.\n",
		AgentSwitchHint: "\nUse `.agent <name|number>` to switch.",
		InvalidAgent:    "⚠️ Invalid agent selection.",
		AgentSet:        "✅ **Agent set to**: `%s`",
		ModelsHeader:    "**🤖 Models for Agent: %s**\n\n",
		NoModels:        "No models configured for this agent.\n",
		ModelSwitchHint: "\nUse `.model <name|number>` to switch active model.",
		ModelSet:        "✅ **Model set to**: `%s`",
		ModelReset:      "✅ **Model reset to default**.",
		InvalidModel:    "⚠️ **Invalid model index or name**.",

		StatusHeader: "**🤖 Foreman Status**\n",

		WizardProjectName:     "### 🧙 New Project Wizard\n**Step 1: Project Name**\nPlease enter a name for your new project.",
		WizardDescription:     "### 📝 Project Description\n**Step 2: Description**\nDescribe your project.\n`.ok` to confirm.",
		WizardTaskDescription: "### 🧙 New Task Wizard\n**Describe the task.**\nSend one or more messages, then `.ok` to continue.",
		WizardConfirmation:    "### ✅ Confirmation\nReady to proceed? Type `.ok` to start or `.cancel` to abort.",
		WizardCancelled:       "🧙 **Wizard cancelled**.",
		WizardInputHeader:     "\n\n**Current Input:**\n```\n%s\n```",
		WizardOkHint:          "\n\nType `.ok` to finish this step.",
	}
}
