// Copyright 2026 The Foreman Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/foreman-chat/foreman/lib/clock"
	"github.com/foreman-chat/foreman/state"
)

// feedEntryLimit bounds how many activity lines a feed message shows.
const feedEntryLimit = 10

// thoughtLimit bounds the quoted model commentary in the feed.
const thoughtLimit = 300

type feedEntry struct {
	text string
	ok   bool

	// pending marks the activity currently executing. At most the
	// last entry is pending.
	pending bool
}

// feed is the live status message for a run: one chat message, edited
// in place as the run progresses. Updates are best-effort; when both
// editing and re-sending fail the feed goes dead and the run continues
// without it.
type feed struct {
	chat   Chat
	store  *state.Store
	clk    clock.Clock
	logger *slog.Logger

	task     string
	role     string
	started  time.Time
	step     int
	maxSteps int

	entries []feedEntry
	thought string

	eventID string
	dead    bool
}

func newFeed(chat Chat, store *state.Store, clk clock.Clock, logger *slog.Logger, task string, maxSteps int) *feed {
	return &feed{
		chat:     chat,
		store:    store,
		clk:      clk,
		logger:   logger,
		task:     task,
		started:  clk.Now(),
		maxSteps: maxSteps,
	}
}

func (f *feed) setRole(role string) { f.role = role }
func (f *feed) setStep(step int)    { f.step = step }

// activity starts a new in-flight entry. The previous pending entry,
// if any, is settled as successful first.
func (f *feed) activity(text string) {
	f.settle()
	f.entries = append(f.entries, feedEntry{text: text, pending: true})
}

// finish resolves the in-flight entry with its outcome, rewording it.
func (f *feed) finish(ok bool, text string) {
	if len(f.entries) == 0 {
		f.entries = append(f.entries, feedEntry{})
	}
	f.entries[len(f.entries)-1] = feedEntry{text: text, ok: ok}
}

// note appends an already-settled entry.
func (f *feed) note(ok bool, text string) {
	f.settle()
	f.entries = append(f.entries, feedEntry{text: text, ok: ok})
}

func (f *feed) settle() {
	if n := len(f.entries); n > 0 && f.entries[n-1].pending {
		f.entries[n-1].pending = false
		f.entries[n-1].ok = true
	}
}

// setThought stores the model's latest commentary (the prose before
// its first action), shown quoted under the activity log.
func (f *feed) setThought(text string) {
	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		return
	}
	if len(text) > thoughtLimit {
		cut := strings.LastIndex(text[:thoughtLimit], " ")
		if cut <= 0 {
			cut = thoughtLimit
		}
		text = text[:cut] + " ..."
	}
	f.thought = text
}

func (f *feed) render() string {
	var out strings.Builder
	if f.role != "" {
		fmt.Fprintf(&out, "**🚀 [%s] Thinking & doing...**\n", f.role)
	} else {
		out.WriteString("**🚀 Thinking & doing...**\n")
	}
	f.renderTask(&out)
	fmt.Fprintf(&out, "Step %d/%d · %s\n", f.step, f.maxSteps, f.elapsed())
	f.renderEntries(&out, true)
	if f.thought != "" {
		fmt.Fprintf(&out, "\n> %s\n", f.thought)
	}
	return out.String()
}

// renderFinal renders the run's closing state: header is the outcome
// line, message an optional footer (planning menu, summary).
func (f *feed) renderFinal(header, message string) string {
	f.settle()
	var out strings.Builder
	out.WriteString(header)
	out.WriteString("\n")
	f.renderTask(&out)
	fmt.Fprintf(&out, "%d steps · %s\n", f.step, f.elapsed())
	f.renderEntries(&out, false)
	if message != "" {
		out.WriteString("\n" + message + "\n")
	}
	return out.String()
}

func (f *feed) renderTask(out *strings.Builder) {
	if f.task == "" {
		return
	}
	first := f.task
	if index := strings.IndexByte(first, '\n'); index >= 0 {
		first = first[:index]
	}
	out.WriteString(first + "\n")
}

func (f *feed) renderEntries(out *strings.Builder, active bool) {
	if len(f.entries) == 0 {
		return
	}
	out.WriteString("\n")
	start := max(len(f.entries)-feedEntryLimit, 0)
	if start > 0 {
		fmt.Fprintf(out, "… %d earlier\n", start)
	}
	for _, entry := range f.entries[start:] {
		icon := "✅"
		switch {
		case entry.pending && active:
			icon = "🔄"
		case !entry.ok && !entry.pending:
			icon = "❌"
		}
		fmt.Fprintf(out, "%s %s\n", icon, entry.text)
	}
}

func (f *feed) elapsed() time.Duration {
	return f.clk.Now().Sub(f.started).Truncate(time.Second)
}

// update pushes the current state into the room. The first update
// sends the feed message and records its event ID in room state;
// later updates edit it in place. A failed edit falls back to sending
// a fresh message (the original may have been redacted); a failed
// send kills the feed for the rest of the run.
func (f *feed) update(ctx context.Context) {
	f.push(ctx, f.render())
}

// complete pushes the final rendering.
func (f *feed) complete(ctx context.Context, header, message string) {
	f.push(ctx, f.renderFinal(header, message))
}

func (f *feed) push(ctx context.Context, body string) {
	if f.dead {
		return
	}
	if f.eventID != "" {
		err := f.chat.EditMessage(ctx, f.eventID, body)
		if err == nil {
			return
		}
		f.logger.Warn("feed edit failed, sending fresh message",
			"room", f.chat.RoomID(), "error", err)
	}

	eventID, err := f.chat.SendMessage(ctx, body)
	if err != nil {
		f.logger.Warn("feed dropped", "room", f.chat.RoomID(), "error", err)
		f.dead = true
		return
	}
	f.eventID = eventID
	if err := f.store.Update(f.chat.RoomID(), func(room *state.RoomState) {
		room.FeedEventID = eventID
		room.LastEventID = eventID
	}); err != nil {
		f.logger.Warn("feed pointer not persisted", "room", f.chat.RoomID(), "error", err)
	}
}
