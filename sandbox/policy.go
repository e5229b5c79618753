// Copyright 2026 The Foreman Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
)

// Policy validates paths and commands against a single project root.
// The zero value (no root) rejects every path and every command that
// mentions an absolute path.
type Policy struct {
	// root is absolute and symlink-resolved, or empty when no project
	// is configured.
	root string
}

// NewPolicy returns a Policy rooted at root. The root must be an
// absolute path; it is cleaned and, where it exists, symlink-resolved
// so that later containment checks compare like with like. An empty
// root yields the reject-everything policy.
func NewPolicy(root string) (*Policy, error) {
	if root == "" {
		return &Policy{}, nil
	}
	if !filepath.IsAbs(root) {
		return nil, &ViolationError{Path: root, Reason: "project root must be absolute"}
	}
	resolved, err := resolveSymlinks(filepath.Clean(root))
	if err != nil {
		return nil, fmt.Errorf("sandbox: resolving root %q: %w", root, err)
	}
	return &Policy{root: resolved}, nil
}

// Root returns the resolved project root, or "" when none is set.
func (p *Policy) Root() string { return p.root }

// ViolationError reports a path or command the policy refused. It is
// domain data, not a program failure: the engine feeds the message
// back to the model as an observation.
type ViolationError struct {
	Path   string
	Root   string
	Reason string
}

func (e *ViolationError) Error() string {
	if e.Root == "" {
		return fmt.Sprintf("sandbox: %s: %q", e.Reason, e.Path)
	}
	return fmt.Sprintf("sandbox: %s: %q (root %q)", e.Reason, e.Path, e.Root)
}

// IsViolation reports whether err is a policy rejection.
func IsViolation(err error) bool {
	var violation *ViolationError
	return errors.As(err, &violation)
}

// ValidatePath normalizes candidate and requires the result to be the
// root itself or to have the root as a path-component prefix. Relative
// candidates resolve against the root. Any ".." segment in the raw
// input is rejected before normalization — a legitimate request never
// needs one. On success the returned path is absolute, cleaned, and
// symlink-resolved as far as the filesystem exists.
func (p *Policy) ValidatePath(candidate string) (string, error) {
	if candidate == "" {
		return "", &ViolationError{Path: candidate, Root: p.root, Reason: "empty path"}
	}
	if hasTraversalSegment(candidate) {
		return "", &ViolationError{Path: candidate, Root: p.root, Reason: "parent-directory traversal"}
	}
	if p.root == "" {
		return "", &ViolationError{Path: candidate, Reason: "no project root configured"}
	}

	absolute := candidate
	if !filepath.IsAbs(absolute) {
		absolute = filepath.Join(p.root, absolute)
	}
	resolved, err := resolveSymlinks(filepath.Clean(absolute))
	if err != nil {
		return "", fmt.Errorf("sandbox: resolving %q: %w", candidate, err)
	}

	if !contains(p.root, resolved) {
		return "", &ViolationError{Path: resolved, Root: p.root, Reason: "path outside project root"}
	}
	return resolved, nil
}

// Display maps a validated path to its root-relative display form:
// "/" for the root itself, "/src/main.go" for children. Mirrors what
// users see in chat instead of leaking host paths.
func (p *Policy) Display(validated string) string {
	if p.root == "" {
		return validated
	}
	relative, err := filepath.Rel(p.root, validated)
	if err != nil || relative == "." {
		return "/"
	}
	return "/" + filepath.ToSlash(relative)
}

// IsCommandSafe tokenizes command on whitespace and rejects it when
// any token (after stripping surrounding quotes) contains a traversal
// marker, is an absolute path outside the root, or redirects output
// into an absolute path. With no root configured every absolute path
// is out of bounds. Empty commands are safe here — the executor
// rejects them as empty input, which is a different complaint.
//
// This is advisory inspection, not a shell parser: it exists to refuse
// the obviously out-of-bound command, not to model shell grammar.
func (p *Policy) IsCommandSafe(command string) bool {
	for _, token := range strings.Fields(command) {
		token = strings.Trim(token, `"'`)
		if token == "" {
			continue
		}
		if strings.Contains(token, "..") {
			return false
		}
		target := token
		// Redirections fused to their target: ">/etc/x", "2>>/var/log".
		if stripped := strings.TrimLeft(target, "0123456789>&"); stripped != target {
			target = stripped
		}
		if !strings.HasPrefix(target, "/") {
			continue
		}
		if _, err := p.ValidatePath(target); err != nil {
			return false
		}
	}
	return true
}

// CheckCommand wraps IsCommandSafe for callers that want the refusal
// as an error value.
func (p *Policy) CheckCommand(command string) error {
	if p.IsCommandSafe(command) {
		return nil
	}
	return &ViolationError{Path: command, Root: p.root, Reason: "command references paths outside the project root"}
}

// hasTraversalSegment reports whether any slash-separated segment of
// the raw input is exactly "..".
func hasTraversalSegment(path string) bool {
	for _, segment := range strings.Split(path, "/") {
		if segment == ".." {
			return true
		}
	}
	return false
}

// contains reports whether candidate equals root or sits below it,
// comparing whole path components.
func contains(root, candidate string) bool {
	if candidate == root {
		return true
	}
	prefix := root
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return strings.HasPrefix(candidate, prefix)
}

// resolveSymlinks resolves symlinks for the deepest existing ancestor
// of path and rejoins the nonexistent tail lexically. Tool targets
// routinely do not exist yet (files about to be written), so plain
// EvalSymlinks is not enough.
func resolveSymlinks(path string) (string, error) {
	tail := ""
	current := path
	for {
		resolved, err := filepath.EvalSymlinks(current)
		if err == nil {
			return filepath.Join(resolved, tail), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(current)
		if parent == current {
			// Ran out of ancestors; nothing on this path exists.
			return filepath.Join(current, tail), nil
		}
		tail = filepath.Join(filepath.Base(current), tail)
		current = parent
	}
}
