// Copyright 2026 The Foreman Authors
// SPDX-License-Identifier: Apache-2.0

package prompts

import (
	"slices"
	"strings"
	"testing"
)

func sampleContext() Context {
	return Context{
		WorkDir:      "/srv/projects/demo",
		Date:         "2026-03-14 09:00",
		ActiveTask:   "tasks/002-auth",
		Request:      "add login sessions",
		Roadmap:      "ROADMAP-BODY",
		Architecture: "ARCH-BODY",
		Plan:         "PLAN-BODY",
		Tasks:        "TASKS-BODY",
		Progress:     "PROGRESS-BODY",
		Guidelines:   "GUIDELINES-BODY",
	}
}

// renderedClean fails the test if any placeholder survived rendering.
func renderedClean(t *testing.T, name, rendered string) {
	t.Helper()
	if strings.Contains(rendered, "{{") {
		at := strings.Index(rendered, "{{")
		end := min(at+40, len(rendered))
		t.Errorf("%s: unsubstituted placeholder near %q", name, rendered[at:end])
	}
}

func TestPhaseRendering(t *testing.T) {
	c := sampleContext()

	for _, test := range []struct {
		name     string
		rendered string
		want     []string
	}{
		{
			name:     "planning",
			rendered: Planning(c),
			want: []string{
				"/srv/projects/demo", "tasks/002-auth", "ROADMAP-BODY",
				"PLAN-BODY", "TASKS-BODY", "GUIDELINES-BODY",
				"NO_MORE_STEPS", "switch_mode execution",
			},
		},
		{
			name:     "execution",
			rendered: Execution(c),
			want: []string{
				"/srv/projects/demo", "ARCH-BODY", "PROGRESS-BODY",
				"```bash", "switch_mode planning", "NO_MORE_STEPS",
			},
		},
		{
			name:     "assistant",
			rendered: Assistant(c),
			want:     []string{"/srv/projects/demo", "ROADMAP-BODY", "read "},
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			renderedClean(t, test.name, test.rendered)
			for _, needle := range test.want {
				if !strings.Contains(test.rendered, needle) {
					t.Errorf("%s prompt missing %q", test.name, needle)
				}
			}
		})
	}
}

func TestNewProject(t *testing.T) {
	rendered := NewProject("demo", "a todo list CLI", "/srv/projects/demo", "2026-03-14")
	renderedClean(t, "new_project", rendered)

	for _, needle := range []string{
		"# SPECIFIC INSTRUCTIONS FOR NEW PROJECT",
		"a todo list CLI",
		"tasks/001-init",
		"/srv/projects/demo",
		"# Roadmap",
		"NO_MORE_STEPS",
	} {
		if !strings.Contains(rendered, needle) {
			t.Errorf("new project prompt missing %q", needle)
		}
	}

	// The architect layer comes first, the bootstrap instructions after.
	architectAt := strings.Index(rendered, "# ROLE")
	specificAt := strings.Index(rendered, "# SPECIFIC INSTRUCTIONS")
	if architectAt < 0 || specificAt < 0 || architectAt > specificAt {
		t.Errorf("layer order wrong: architect at %d, specific at %d", architectAt, specificAt)
	}
}

func TestDocTemplates(t *testing.T) {
	names := DocNames()
	want := []string{
		"architecture", "changelog", "guidelines", "plan",
		"progress", "request", "roadmap", "tasks", "walkthrough",
	}
	if !slices.Equal(names, want) {
		t.Fatalf("DocNames() = %v, want %v", names, want)
	}

	for _, name := range names {
		if Doc(name) == "" {
			t.Errorf("Doc(%q) is empty", name)
		}
	}
	if Doc("nonexistent") != "" {
		t.Error("Doc of unknown name should be empty")
	}

	if !strings.HasPrefix(Doc("roadmap"), "# Roadmap") {
		t.Errorf("roadmap template has unexpected head: %q", Doc("roadmap")[:20])
	}
}
