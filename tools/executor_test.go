// Copyright 2026 The Foreman Authors
// SPDX-License-Identifier: Apache-2.0

package tools

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/foreman-chat/foreman/sandbox"
)

func testExecutor(t *testing.T) (*Executor, string) {
	t.Helper()
	root := t.TempDir()
	policy, err := sandbox.NewPolicy(root)
	if err != nil {
		t.Fatalf("NewPolicy: %v", err)
	}
	return NewExecutor(policy, Options{}), policy.Root()
}

func TestExecuteCommandCapturesOutput(t *testing.T) {
	t.Parallel()

	executor, root := testExecutor(t)
	result, err := executor.ExecuteCommand(context.Background(), "echo hello", root)
	if err != nil {
		t.Fatalf("ExecuteCommand: %v", err)
	}
	if result.Stdout != "hello\n" {
		t.Errorf("stdout = %q, want %q", result.Stdout, "hello\n")
	}
	if result.ExitCode != 0 {
		t.Errorf("exit code = %d, want 0", result.ExitCode)
	}
}

func TestExecuteCommandNonZeroExitIsData(t *testing.T) {
	t.Parallel()

	executor, root := testExecutor(t)
	result, err := executor.ExecuteCommand(context.Background(), "echo oops >&2; exit 3", root)
	if err != nil {
		t.Fatalf("ExecuteCommand returned error for non-zero exit: %v", err)
	}
	if result.ExitCode != 3 {
		t.Errorf("exit code = %d, want 3", result.ExitCode)
	}
	if !strings.Contains(result.Stderr, "oops") {
		t.Errorf("stderr = %q, want it to contain %q", result.Stderr, "oops")
	}
}

func TestExecuteCommandRefusesUnsafe(t *testing.T) {
	t.Parallel()

	executor, root := testExecutor(t)
	_, err := executor.ExecuteCommand(context.Background(), "rm -rf /etc", root)
	if err == nil {
		t.Fatal("unsafe command was executed")
	}
	if !sandbox.IsViolation(err) {
		t.Errorf("error = %v, want sandbox violation", err)
	}
}

func TestExecuteCommandEmptyCommand(t *testing.T) {
	t.Parallel()

	executor, root := testExecutor(t)
	if _, err := executor.ExecuteCommand(context.Background(), "   ", root); err == nil {
		t.Error("empty command was executed")
	}
}

func TestExecuteCommandTimeout(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	policy, err := sandbox.NewPolicy(root)
	if err != nil {
		t.Fatalf("NewPolicy: %v", err)
	}
	executor := NewExecutor(policy, Options{Timeout: 100 * time.Millisecond})

	start := time.Now()
	_, err = executor.ExecuteCommand(context.Background(), "sleep 30", policy.Root())
	if err == nil {
		t.Fatal("timed-out command returned no error")
	}
	var timeoutErr *TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("error = %v, want TimeoutError", err)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("timeout took %s, the process group was not killed", elapsed)
	}
}

func TestExecuteCommandCancellation(t *testing.T) {
	t.Parallel()

	executor, root := testExecutor(t)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := executor.ExecuteCommand(ctx, "sleep 30", root)
	if err == nil {
		t.Fatal("cancelled command returned no error")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled in the chain", err)
	}
}

func TestExecuteCommandVerbatimShell(t *testing.T) {
	t.Parallel()

	executor, root := testExecutor(t)
	// Pipes and redirects must survive: the command reaches sh
	// untouched.
	result, err := executor.ExecuteCommand(context.Background(), "printf 'a\\nb\\n' | wc -l", root)
	if err != nil {
		t.Fatalf("ExecuteCommand: %v", err)
	}
	if strings.TrimSpace(result.Stdout) != "2" {
		t.Errorf("stdout = %q, want 2", result.Stdout)
	}
}

func TestFormatResult(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		result CommandResult
		want   string
	}{
		{"stdout only", CommandResult{Stdout: "ok\n"}, "ok\n"},
		{"quiet success", CommandResult{}, ""},
		{
			"stderr section",
			CommandResult{Stdout: "out\n", Stderr: "warn\n"},
			"out\n\n--- STDERR ---\nwarn\n",
		},
		{
			"exit code appended",
			CommandResult{Stderr: "bad\n", ExitCode: 2},
			"bad\n\n[Exit Code: 2]",
		},
		{"exit code alone", CommandResult{ExitCode: 1}, "[Exit Code: 1]"},
	}
	for _, testCase := range cases {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()
			if got := FormatResult(testCase.result); got != testCase.want {
				t.Errorf("FormatResult = %q, want %q", got, testCase.want)
			}
		})
	}
}

func TestWriteFileCreatesParents(t *testing.T) {
	t.Parallel()

	executor, root := testExecutor(t)
	target := filepath.Join(root, "deep", "nested", "file.txt")
	if err := executor.WriteFile(target, "content"); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("reading back: %v", err)
	}
	if string(data) != "content" {
		t.Errorf("content = %q", data)
	}
}

func TestWriteFileOutsideRoot(t *testing.T) {
	t.Parallel()

	executor, _ := testExecutor(t)
	outside := filepath.Join(t.TempDir(), "escape.txt")
	if err := executor.WriteFile(outside, "x"); err == nil {
		t.Error("write outside the root succeeded")
	}
}

func TestReadFileRoundTrip(t *testing.T) {
	t.Parallel()

	executor, root := testExecutor(t)
	target := filepath.Join(root, "note.md")
	if err := executor.WriteFile(target, "hello"); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	content, err := executor.ReadFile("note.md") // relative resolves against root
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if content != "hello" {
		t.Errorf("content = %q", content)
	}
}

func TestListDir(t *testing.T) {
	t.Parallel()

	executor, root := testExecutor(t)
	if err := executor.CreateDir(filepath.Join(root, "src")); err != nil {
		t.Fatalf("CreateDir: %v", err)
	}
	if err := executor.WriteFile(filepath.Join(root, "main.go"), "package main"); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	listing, err := executor.ListDir(root)
	if err != nil {
		t.Fatalf("ListDir: %v", err)
	}
	if !strings.Contains(listing, "src [DIR]") {
		t.Errorf("listing missing directory entry: %q", listing)
	}
	if !strings.Contains(listing, "main.go [FILE]") {
		t.Errorf("listing missing file entry: %q", listing)
	}
}

func TestDeleteFile(t *testing.T) {
	t.Parallel()

	executor, root := testExecutor(t)
	target := filepath.Join(root, "junk.txt")
	if err := executor.WriteFile(target, "x"); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := executor.DeleteFile(target); err != nil {
		t.Fatalf("DeleteFile: %v", err)
	}
	if _, err := os.Stat(target); !os.IsNotExist(err) {
		t.Error("file still exists after DeleteFile")
	}
}

func TestFindFiles(t *testing.T) {
	t.Parallel()

	executor, root := testExecutor(t)
	for _, path := range []string{"src/a.go", "src/b.txt", "docs/c.go"} {
		if err := executor.WriteFile(filepath.Join(root, path), "x"); err != nil {
			t.Fatalf("WriteFile(%s): %v", path, err)
		}
	}

	found, err := executor.FindFiles(root, "*.go")
	if err != nil {
		t.Fatalf("FindFiles: %v", err)
	}
	if !strings.Contains(found, filepath.Join("src", "a.go")) {
		t.Errorf("missing src/a.go in %q", found)
	}
	if !strings.Contains(found, filepath.Join("docs", "c.go")) {
		t.Errorf("missing docs/c.go in %q", found)
	}
	if strings.Contains(found, "b.txt") {
		t.Errorf("unexpected b.txt in %q", found)
	}
}

func TestFindFilesNoMatches(t *testing.T) {
	t.Parallel()

	executor, root := testExecutor(t)
	found, err := executor.FindFiles(root, "*.zig")
	if err != nil {
		t.Fatalf("FindFiles: %v", err)
	}
	if found != "No matching files found." {
		t.Errorf("got %q, want the no-match sentence", found)
	}
}

func TestLongRunningTimeoutSelection(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	policy, err := sandbox.NewPolicy(root)
	if err != nil {
		t.Fatalf("NewPolicy: %v", err)
	}
	executor := NewExecutor(policy, Options{
		Timeout:     time.Second,
		LongTimeout: time.Hour,
	})
	if got := executor.timeoutFor("cargo build --release"); got != time.Hour {
		t.Errorf("cargo timeout = %s, want 1h", got)
	}
	if got := executor.timeoutFor("echo hi"); got != time.Second {
		t.Errorf("echo timeout = %s, want 1s", got)
	}
}
