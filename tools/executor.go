// Copyright 2026 The Foreman Authors
// SPDX-License-Identifier: Apache-2.0

package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/foreman-chat/foreman/sandbox"
)

// Default command timeouts. Builds, installs, and test runs get the
// long timeout; everything else gets the default.
const (
	DefaultTimeout     = 60 * time.Second
	DefaultLongTimeout = 10 * time.Minute
)

// defaultLongRunning lists binaries that routinely outlive the default
// timeout.
var defaultLongRunning = []string{
	"cargo", "npm", "npx", "yarn", "pnpm", "go", "make", "cmake",
	"pip", "pip3", "flutter", "gradle", "mvn", "dotnet", "bundle",
}

// findMaxDepth caps recursive find traversal.
const findMaxDepth = 10

// Options configures an Executor. Zero values take defaults.
type Options struct {
	Timeout     time.Duration
	LongTimeout time.Duration
	LongRunning []string // binary names; nil means the built-in set
	Logger      *slog.Logger
}

// Executor runs commands and filesystem operations under a sandbox
// policy.
type Executor struct {
	policy      *sandbox.Policy
	timeout     time.Duration
	longTimeout time.Duration
	longRunning map[string]bool
	logger      *slog.Logger
}

// NewExecutor returns an Executor bound to policy.
func NewExecutor(policy *sandbox.Policy, options Options) *Executor {
	if options.Timeout <= 0 {
		options.Timeout = DefaultTimeout
	}
	if options.LongTimeout <= 0 {
		options.LongTimeout = DefaultLongTimeout
	}
	names := options.LongRunning
	if names == nil {
		names = defaultLongRunning
	}
	longRunning := make(map[string]bool, len(names))
	for _, name := range names {
		longRunning[name] = true
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	return &Executor{
		policy:      policy,
		timeout:     options.Timeout,
		longTimeout: options.LongTimeout,
		longRunning: longRunning,
		logger:      options.Logger,
	}
}

// CommandResult is the outcome of a command that actually ran.
type CommandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// TimeoutError reports a command the executor had to kill. The message
// is written for the model, which sees it as an observation.
type TimeoutError struct {
	Command string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("command timed out after %s. Consider breaking this into smaller steps or running it in the background", e.Timeout)
}

// ExecuteCommand runs command through `sh -c` in workdir. The command
// text reaches the shell verbatim so pipes and redirects keep working;
// safety comes from the policy check before anything is spawned. The
// child runs in its own process group and the whole group is killed on
// timeout or context cancellation.
func (e *Executor) ExecuteCommand(ctx context.Context, command, workdir string) (CommandResult, error) {
	if strings.TrimSpace(command) == "" {
		return CommandResult{}, fmt.Errorf("tools: empty command")
	}
	if err := e.policy.CheckCommand(command); err != nil {
		return CommandResult{}, err
	}
	safeWorkdir, err := e.policy.ValidatePath(workdir)
	if err != nil {
		return CommandResult{}, fmt.Errorf("tools: working directory: %w", err)
	}

	cmd := exec.Command("sh", "-c", command)
	cmd.Dir = safeWorkdir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return CommandResult{}, fmt.Errorf("tools: starting command: %w", err)
	}

	timeout := e.timeoutFor(command)
	e.logger.Debug("command started",
		"pid", cmd.Process.Pid,
		"timeout", timeout,
		"workdir", e.policy.Display(safeWorkdir),
	)

	waited := make(chan error, 1)
	go func() { waited <- cmd.Wait() }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-waited:
		return resultFrom(&stdout, &stderr, err)
	case <-ctx.Done():
		killGroup(cmd)
		<-waited
		return CommandResult{}, fmt.Errorf("tools: command cancelled: %w", ctx.Err())
	case <-timer.C:
		killGroup(cmd)
		<-waited
		e.logger.Warn("command timed out", "timeout", timeout)
		return CommandResult{}, &TimeoutError{Command: command, Timeout: timeout}
	}
}

// timeoutFor picks the timeout by the command's leading binary word.
func (e *Executor) timeoutFor(command string) time.Duration {
	fields := strings.Fields(command)
	if len(fields) > 0 && e.longRunning[filepath.Base(fields[0])] {
		return e.longTimeout
	}
	return e.timeout
}

// killGroup kills the command's process group. With Setpgid the
// child's group ID equals its PID, so -pid reaches the shell and
// everything it spawned.
func killGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	_ = unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
}

// resultFrom assembles a CommandResult from captured output and the
// Wait error. A non-zero exit is data, not an error.
func resultFrom(stdout, stderr *bytes.Buffer, err error) (CommandResult, error) {
	result := CommandResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if err == nil {
		return result, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		return result, nil
	}
	return CommandResult{}, fmt.Errorf("tools: waiting for command: %w", err)
}

// FormatResult renders a CommandResult the way the model sees it:
// stdout, a stderr section when present, and the exit code when it is
// non-zero. An entirely quiet success renders as the empty string;
// callers substitute their own placeholder.
func FormatResult(result CommandResult) string {
	var out strings.Builder
	if result.Stdout != "" {
		out.WriteString(result.Stdout)
	}
	if result.Stderr != "" {
		if out.Len() > 0 {
			out.WriteString("\n--- STDERR ---\n")
		}
		out.WriteString(result.Stderr)
	}
	if result.ExitCode != 0 {
		if out.Len() > 0 {
			out.WriteString("\n")
		}
		fmt.Fprintf(&out, "[Exit Code: %d]", result.ExitCode)
	}
	return out.String()
}

// ReadFile returns the contents of a file inside the sandbox.
func (e *Executor) ReadFile(path string) (string, error) {
	safePath, err := e.policy.ValidatePath(path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(safePath)
	if err != nil {
		return "", fmt.Errorf("tools: reading %q: %w", e.policy.Display(safePath), err)
	}
	return string(data), nil
}

// WriteFile writes content to a file inside the sandbox, creating
// parent directories as needed.
func (e *Executor) WriteFile(path, content string) error {
	safePath, err := e.policy.ValidatePath(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(safePath), 0o755); err != nil {
		return fmt.Errorf("tools: creating parent directories for %q: %w", e.policy.Display(safePath), err)
	}
	if err := os.WriteFile(safePath, []byte(content), 0o644); err != nil {
		return fmt.Errorf("tools: writing %q: %w", e.policy.Display(safePath), err)
	}
	return nil
}

// CreateDir creates a directory (and parents) inside the sandbox.
func (e *Executor) CreateDir(path string) error {
	safePath, err := e.policy.ValidatePath(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(safePath, 0o755); err != nil {
		return fmt.Errorf("tools: creating directory %q: %w", e.policy.Display(safePath), err)
	}
	return nil
}

// DeleteFile removes a file or empty directory inside the sandbox.
// Recursive deletion stays with the shell, where the policy can see
// the paths being passed.
func (e *Executor) DeleteFile(path string) error {
	safePath, err := e.policy.ValidatePath(path)
	if err != nil {
		return err
	}
	if err := os.Remove(safePath); err != nil {
		return fmt.Errorf("tools: deleting %q: %w", e.policy.Display(safePath), err)
	}
	return nil
}

// ListDir renders a directory listing, one "name [DIR]" or
// "name [FILE]" line per entry, sorted by name.
func (e *Executor) ListDir(path string) (string, error) {
	safePath, err := e.policy.ValidatePath(path)
	if err != nil {
		return "", err
	}
	entries, err := os.ReadDir(safePath)
	if err != nil {
		return "", fmt.Errorf("tools: listing %q: %w", e.policy.Display(safePath), err)
	}
	var listing strings.Builder
	for _, entry := range entries {
		kind := "FILE"
		if entry.IsDir() {
			kind = "DIR"
		}
		fmt.Fprintf(&listing, "%s [%s]\n", entry.Name(), kind)
	}
	return listing.String(), nil
}

// FindFiles walks root (depth-capped, symlinks not followed) and
// returns the relative paths whose base name matches pattern, one
// "path [TYPE]" line each. A pattern containing a separator is also
// tried against the whole relative path. No matches yields the
// conventional sentence rather than emptiness, since the text goes
// straight back to the model.
func (e *Executor) FindFiles(root, pattern string) (string, error) {
	safeRoot, err := e.policy.ValidatePath(root)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(safeRoot)
	if err != nil {
		return "", fmt.Errorf("tools: find root %q: %w", e.policy.Display(safeRoot), err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("tools: find target %q is not a directory", e.policy.Display(safeRoot))
	}
	if _, err := filepath.Match(pattern, "probe"); err != nil {
		return "", fmt.Errorf("tools: invalid pattern %q: %w", pattern, err)
	}

	var matches []string
	walkErr := filepath.WalkDir(safeRoot, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable subtrees are skipped, not fatal.
			if entry != nil && entry.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		relative, relErr := filepath.Rel(safeRoot, path)
		if relErr != nil || relative == "." {
			return nil
		}
		if strings.Count(relative, string(filepath.Separator)) >= findMaxDepth {
			if entry.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		matched, _ := filepath.Match(pattern, entry.Name())
		if !matched && strings.Contains(pattern, "/") {
			matched, _ = filepath.Match(pattern, filepath.ToSlash(relative))
		}
		if matched {
			kind := "FILE"
			if entry.IsDir() {
				kind = "DIR"
			}
			matches = append(matches, fmt.Sprintf("%s [%s]", relative, kind))
		}
		return nil
	})
	if walkErr != nil {
		return "", fmt.Errorf("tools: walking %q: %w", e.policy.Display(safeRoot), walkErr)
	}
	if len(matches) == 0 {
		return "No matching files found.", nil
	}
	sort.Strings(matches)
	return strings.Join(matches, "\n") + "\n", nil
}
