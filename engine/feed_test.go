// Copyright 2026 The Foreman Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func newTestFeed(t *testing.T, h *harness, task string) *feed {
	t.Helper()
	return newFeed(h.chat, h.store, h.clk, discardLogger(), task, 20)
}

func TestFeedRender(t *testing.T) {
	h := newHarness(t)
	f := newTestFeed(t, h, "fix the flaky test\nwith more detail below")
	f.setRole("Developer")
	f.setStep(3)
	f.activity("Running tests")
	h.clk.Advance(90 * time.Second)

	body := f.render()
	for _, want := range []string{
		"**🚀 [Developer] Thinking & doing...**",
		"fix the flaky test",
		"Step 3/20 · 1m30s",
		"🔄 Running tests",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("render missing %q in:\n%s", want, body)
		}
	}
	if strings.Contains(body, "with more detail below") {
		t.Error("render shows more than the task's first line")
	}

	f.finish(true, "Ran tests")
	f.note(false, "Lint failed")
	body = f.render()
	if !strings.Contains(body, "✅ Ran tests") {
		t.Errorf("finished entry not settled in:\n%s", body)
	}
	if !strings.Contains(body, "❌ Lint failed") {
		t.Errorf("failed note missing in:\n%s", body)
	}
}

func TestFeedEntryWindow(t *testing.T) {
	h := newHarness(t)
	f := newTestFeed(t, h, "task")
	for i := 1; i <= 13; i++ {
		f.note(true, fmt.Sprintf("step %d", i))
	}

	body := f.render()
	if !strings.Contains(body, "… 3 earlier") {
		t.Errorf("window header missing in:\n%s", body)
	}
	if strings.Contains(body, "step 3\n") {
		t.Error("window shows entries older than the cutoff")
	}
	if !strings.Contains(body, "step 4") || !strings.Contains(body, "step 13") {
		t.Errorf("window dropped entries it should keep:\n%s", body)
	}
}

func TestFeedThought(t *testing.T) {
	h := newHarness(t)
	f := newTestFeed(t, h, "task")

	f.setThought("Let me look at the config.\nThen wire it up.")
	if f.thought != "Let me look at the config. Then wire it up." {
		t.Errorf("thought = %q, want flattened to one line", f.thought)
	}
	if body := f.render(); !strings.Contains(body, "> Let me look at the config.") {
		t.Errorf("thought not quoted in:\n%s", body)
	}

	// Empty commentary keeps the previous thought on screen.
	f.setThought("   ")
	if f.thought == "" {
		t.Error("blank commentary cleared the previous thought")
	}

	f.setThought(strings.Repeat("think ", 80))
	if len(f.thought) > thoughtLimit+4 {
		t.Errorf("thought length = %d, want at most %d", len(f.thought), thoughtLimit+4)
	}
	if !strings.HasSuffix(f.thought, " ...") {
		t.Errorf("truncated thought %q lacks ellipsis", f.thought)
	}
}

func TestFeedFinalSettlesPending(t *testing.T) {
	h := newHarness(t)
	f := newTestFeed(t, h, "task")
	f.setStep(4)
	f.activity("Writing /src/main.go")

	body := f.renderFinal("**🏁 Task complete**", "All wrapped up.")
	if !strings.HasPrefix(body, "**🏁 Task complete**\n") {
		t.Errorf("final render does not open with the header:\n%s", body)
	}
	if !strings.Contains(body, "✅ Writing /src/main.go") {
		t.Errorf("pending entry not settled in:\n%s", body)
	}
	if !strings.Contains(body, "4 steps") {
		t.Errorf("step count missing in:\n%s", body)
	}
	if !strings.Contains(body, "All wrapped up.") {
		t.Errorf("closing message missing in:\n%s", body)
	}
}

func TestFeedSendsThenEdits(t *testing.T) {
	h := newHarness(t)
	f := newTestFeed(t, h, "task")
	ctx := context.Background()

	f.setStep(1)
	f.update(ctx)
	f.note(true, "Read /plan.md")
	f.update(ctx)
	f.complete(ctx, "**🏁 Task complete**", "")

	if len(h.chat.sends) != 1 {
		t.Fatalf("sends = %d, want 1 (later updates edit in place)", len(h.chat.sends))
	}
	if len(h.chat.edits) != 2 {
		t.Fatalf("edits = %d, want 2", len(h.chat.edits))
	}
	if got := h.room().FeedEventID; got != "$event-1" {
		t.Errorf("FeedEventID = %q, want %q", got, "$event-1")
	}
	if final := h.chat.edits[len(h.chat.edits)-1]; !strings.Contains(final, "Task complete") {
		t.Errorf("final edit = %q", final)
	}
}

func TestFeedEditFailureSendsFresh(t *testing.T) {
	h := newHarness(t)
	f := newTestFeed(t, h, "task")
	ctx := context.Background()

	f.update(ctx)
	h.chat.editErr = errors.New("event redacted")
	f.update(ctx)

	if len(h.chat.sends) != 2 {
		t.Fatalf("sends = %d, want 2 (edit failure falls back to a fresh message)", len(h.chat.sends))
	}
	if got := h.room().FeedEventID; got != "$event-2" {
		t.Errorf("FeedEventID = %q, want the fresh message", got)
	}
}

func TestFeedDiesAfterSendFailure(t *testing.T) {
	h := newHarness(t)
	f := newTestFeed(t, h, "task")
	ctx := context.Background()

	h.chat.sendErr = errors.New("gateway down")
	f.update(ctx)
	f.update(ctx)
	f.complete(ctx, "**🏁 Task complete**", "")

	if h.chat.sendCalls != 1 {
		t.Errorf("send attempts = %d, want 1 (dead feed stops pushing)", h.chat.sendCalls)
	}
}
