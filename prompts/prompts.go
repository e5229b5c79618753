// Copyright 2026 The Foreman Authors
// SPDX-License-Identifier: Apache-2.0

// Package prompts renders the phase prompts sent to the model and
// exposes the embedded project document templates.
//
// Phase prompts are markdown files under phase/ with {{NAME}}
// placeholders; rendering is literal substitution, so template text
// needs no escaping and absent placeholders are simply left alone.
// Document templates under docs/ are the skeletons the agent is told
// to fill in (roadmap, plan, tasks, ...) and the files project
// creation seeds a new directory with.
package prompts

import (
	"embed"
	"path"
	"strings"
)

//go:embed phase/architect.md
var architectTemplate string

//go:embed phase/developer.md
var developerTemplate string

//go:embed phase/assistant.md
var assistantTemplate string

//go:embed phase/new_project.md
var newProjectTemplate string

//go:embed docs/*.md
var docFiles embed.FS

// Context carries everything a phase template can reference. Zero
// fields render as empty text; callers substitute their own "(no
// roadmap yet)" style markers before rendering so the model sees an
// explicit absence rather than a blank section.
type Context struct {
	WorkDir    string
	Date       string
	ActiveTask string

	// Request is the user's task text (the original requirements).
	Request string

	// Project document contents, as read from the working directory.
	Roadmap      string
	Architecture string
	Plan         string
	Tasks        string
	Progress     string
	Guidelines   string
}

func (c Context) replacer() *strings.Replacer {
	return strings.NewReplacer(
		"{{CWD}}", c.WorkDir,
		"{{DATE}}", c.Date,
		"{{ACTIVE_TASK}}", c.ActiveTask,
		"{{ORIGINAL_REQUIREMENTS}}", c.Request,
		"{{ROADMAP}}", c.Roadmap,
		"{{ARCHITECTURE}}", c.Architecture,
		"{{PLAN}}", c.Plan,
		"{{TASKS}}", c.Tasks,
		"{{PROGRESS}}", c.Progress,
		"{{GUIDELINES}}", c.Guidelines,
		"{{TEMPLATE_ROADMAP}}", Doc("roadmap"),
		"{{TEMPLATE_ARCHITECTURE}}", Doc("architecture"),
		"{{TEMPLATE_PLAN}}", Doc("plan"),
		"{{TEMPLATE_WALKTHROUGH}}", Doc("walkthrough"),
	)
}

// Planning renders the architect prompt for a planning-phase turn.
func Planning(c Context) string {
	return c.replacer().Replace(architectTemplate)
}

// Execution renders the developer prompt for an execution-phase turn.
func Execution(c Context) string {
	return c.replacer().Replace(developerTemplate)
}

// Assistant renders the conversational prompt.
func Assistant(c Context) string {
	return c.replacer().Replace(assistantTemplate)
}

// NewProject renders the bootstrap prompt: the architect persona plus
// project-specific instructions for seeding the document set. The
// planning context is stubbed because a new project has none yet.
func NewProject(name, requirements, workDir, date string) string {
	const initialTask = "tasks/001-init"

	architect := Context{
		WorkDir:      workDir,
		Date:         date,
		ActiveTask:   initialTask,
		Request:      requirements,
		Roadmap:      "(new project: no roadmap yet)",
		Architecture: "(new project: no architecture yet)",
		Plan:         "(new project: no plan yet)",
		Tasks:        "(new project: no tasks yet)",
		Progress:     "(new project: no progress yet)",
		Guidelines:   "(none)",
	}.replacer().Replace(architectTemplate)

	specific := strings.NewReplacer(
		"{{NAME}}", name,
		"{{REQUIREMENTS}}", requirements,
		"{{WORKDIR}}", workDir,
		"{{ACTIVE_TASK}}", initialTask,
		"{{DATE}}", date,
		"{{TEMPLATE_ROADMAP}}", Doc("roadmap"),
		"{{TEMPLATE_ARCHITECTURE}}", Doc("architecture"),
		"{{TEMPLATE_PLAN}}", Doc("plan"),
		"{{TEMPLATE_WALKTHROUGH}}", Doc("walkthrough"),
	).Replace(newProjectTemplate)

	return architect + "\n\n# SPECIFIC INSTRUCTIONS FOR NEW PROJECT\n\n" + specific
}

// Doc returns the embedded document template by bare name ("roadmap"
// for docs/roadmap.md), or "" for an unknown name. Embedded files are
// fixed at compile time, so a miss is a programming error and callers
// treat "" accordingly.
func Doc(name string) string {
	data, err := docFiles.ReadFile(path.Join("docs", name+".md"))
	if err != nil {
		return ""
	}
	return string(data)
}

// DocNames lists the embedded document templates by bare name, sorted.
func DocNames() []string {
	entries, err := docFiles.ReadDir("docs")
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, strings.TrimSuffix(entry.Name(), ".md"))
	}
	return names
}
