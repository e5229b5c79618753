// Copyright 2026 The Foreman Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/foreman-chat/foreman/engine"
	"github.com/foreman-chat/foreman/prompts"
	"github.com/foreman-chat/foreman/state"
)

// projectNamePattern accepts the directory names ".new" will create.
var projectNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// taskSlugLimit bounds the descriptive part of a task folder name.
const taskSlugLimit = 30

// newProject handles ".new". Without arguments it starts the setup
// wizard; with a name (and optional requirements) it creates the
// project directly and, when requirements were given, launches the
// bootstrap run.
func (b *Bridge) newProject(ctx context.Context, chat engine.Chat, args string) {
	if args == "" {
		b.startProjectWizard(ctx, chat)
		return
	}

	name, requirements := splitCommand(args)
	path, created, err := b.createProject(ctx, chat, name)
	if err != nil || path == "" {
		return
	}
	if !created {
		b.send(ctx, chat, fmt.Sprintf(b.catalog.ProjectExists, path))
		return
	}
	if requirements == "" {
		b.send(ctx, chat, fmt.Sprintf(b.catalog.ProjectCreated, path)+b.catalog.UseTaskToStart)
		return
	}
	b.send(ctx, chat, fmt.Sprintf(b.catalog.ProjectCreated, path))
	b.bootstrapProject(ctx, chat, name, path, requirements)
}

// createProject validates the name and builds the project skeleton:
// the directory, the seed documents, and the initial task folder. The
// returned created flag is false when the directory already existed,
// in which case the room is switched to it instead.
func (b *Bridge) createProject(ctx context.Context, chat engine.Chat, name string) (path string, created bool, err error) {
	if !projectNamePattern.MatchString(name) {
		b.notify(ctx, chat, b.catalog.InvalidProjectName)
		return "", false, fmt.Errorf("bridge: invalid project name %q", name)
	}
	path = filepath.Join(b.config.System.ProjectsDir, name)
	validated, err := b.policy.ValidatePath(path)
	if err != nil {
		b.notify(ctx, chat, b.catalog.AccessDenied)
		return "", false, err
	}
	path = validated

	exists := b.isDirectory(path)
	if !exists {
		if err := os.MkdirAll(path, 0o755); err != nil {
			b.notify(ctx, chat, fmt.Sprintf(b.catalog.CreateDirFailed, path, err))
			return "", false, err
		}
		for _, name := range []string{"roadmap", "changelog"} {
			if err := b.tools.WriteFile(filepath.Join(path, name+".md"), prompts.Doc(name)); err != nil {
				b.logger.Warn("seed document not written", "project", path, "doc", name, "error", err)
			}
		}
	}

	if err := b.store.Update(chat.RoomID(), func(room *state.RoomState) {
		room.ProjectPath = path
		room.WorkingDir = path
		room.ActiveTask = ""
		room.History = nil
		room.TaskCompleted = false
		room.PendingCommand = ""
		room.Phase = string(engine.PhaseNewProject)
	}); err != nil {
		b.logger.Warn("state not persisted", "room", chat.RoomID(), "error", err)
	}
	return path, !exists, nil
}

// bootstrapProject seeds the initial task folder with the user's
// requirements and launches the new-project documentation run.
func (b *Bridge) bootstrapProject(ctx context.Context, chat engine.Chat, name, path, requirements string) {
	const initialTask = "tasks/001-init"
	taskDir := filepath.Join(path, initialTask)
	if err := b.tools.CreateDir(taskDir); err != nil {
		b.logger.Warn("task folder not created", "path", taskDir, "error", err)
	}
	if err := b.tools.WriteFile(filepath.Join(taskDir, "request.md"), requestDocument(requirements)); err != nil {
		b.logger.Warn("request document not written", "path", taskDir, "error", err)
	}
	if err := b.store.Update(chat.RoomID(), func(room *state.RoomState) {
		room.ActiveTask = initialTask
		room.StopRequested = false
	}); err != nil {
		b.logger.Warn("state not persisted", "room", chat.RoomID(), "error", err)
	}

	b.startRun(ctx, chat, runSpec{
		task:        requirements,
		displayTask: fmt.Sprintf(b.catalog.ProjectDocsTask, name),
		workDir:     path,
	})
}

// startTask handles ".task <text>": creates a numbered task folder
// seeded with the planning skeletons, points the room at it, and
// launches a planning run.
func (b *Bridge) startTask(ctx context.Context, chat engine.Chat, task string) {
	if b.store.RunActive(chat.RoomID()) {
		b.notify(ctx, chat, b.catalog.RunActive)
		return
	}
	room := b.store.Room(chat.RoomID())
	workdir := room.WorkingDir
	if workdir == "" {
		workdir = room.ProjectPath
	}
	if workdir == "" {
		b.send(ctx, chat, b.catalog.NoProjectSet)
		return
	}

	taskRelative, err := b.createTaskFolder(workdir, task)
	if err != nil {
		b.notify(ctx, chat, fmt.Sprintf(b.catalog.CreateDirFailed, workdir, err))
		return
	}
	if err := b.store.Update(chat.RoomID(), func(room *state.RoomState) {
		room.ActiveTask = taskRelative
		room.StopRequested = false
		room.TaskCompleted = false
		// A task started from the project wizard keeps the bootstrap
		// phase; everything else plans first.
		if room.Phase != string(engine.PhaseNewProject) {
			room.Phase = string(engine.PhasePlanning)
		}
	}); err != nil {
		b.logger.Warn("state not persisted", "room", chat.RoomID(), "error", err)
	}

	b.send(ctx, chat, fmt.Sprintf(b.catalog.TaskStarted, task))
	b.startRun(ctx, chat, runSpec{task: task, workDir: workdir})
}

// createTaskFolder allocates the next tasks/NNN-slug directory and
// seeds it with the request, plan, tasks, and walkthrough skeletons.
// Returns the project-relative path.
func (b *Bridge) createTaskFolder(workdir, task string) (string, error) {
	tasksDir := filepath.Join(workdir, "tasks")
	if err := b.tools.CreateDir(tasksDir); err != nil {
		return "", err
	}

	next := 1
	if entries, err := os.ReadDir(tasksDir); err == nil {
		for _, entry := range entries {
			prefix, _, _ := strings.Cut(entry.Name(), "-")
			if id, err := strconv.Atoi(prefix); err == nil && id >= next {
				next = id + 1
			}
		}
	}

	folder := fmt.Sprintf("%03d-%s", next, taskSlug(task))
	taskDir := filepath.Join(tasksDir, folder)
	if err := b.tools.CreateDir(taskDir); err != nil {
		return "", err
	}

	seeds := map[string]string{
		"request.md":     requestDocument(task),
		"plan.md":        prompts.Doc("plan"),
		"tasks.md":       prompts.Doc("tasks"),
		"walkthrough.md": prompts.Doc("walkthrough"),
	}
	for name, content := range seeds {
		if err := b.tools.WriteFile(filepath.Join(taskDir, name), content); err != nil {
			return "", err
		}
	}
	return filepath.Join("tasks", folder), nil
}

// taskSlug derives a folder-name fragment from the task text:
// lowercase alphanumerics with dashes for spaces, bounded length.
func taskSlug(task string) string {
	var out strings.Builder
	for _, r := range strings.ToLower(task) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			out.WriteRune(r)
		case r == ' ':
			out.WriteByte('-')
		}
		if out.Len() >= taskSlugLimit {
			break
		}
	}
	slug := strings.Trim(out.String(), "-")
	if slug == "" {
		slug = "task"
	}
	return slug
}

// requestDocument renders the request.md seeded into a new task
// folder: the user's words, kept verbatim for later runs to re-read.
func requestDocument(task string) string {
	return "# Request\n\n## What the user asked for\n\n" + task + "\n"
}

// projectNames lists the non-hidden directories under the projects
// directory, sorted.
func (b *Bridge) projectNames() ([]string, error) {
	entries, err := os.ReadDir(b.config.System.ProjectsDir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() && !strings.HasPrefix(entry.Name(), ".") {
			names = append(names, entry.Name())
		}
	}
	slices.Sort(names)
	return names, nil
}

func (b *Bridge) isDirectory(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
