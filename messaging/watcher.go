// Copyright 2026 The Foreman Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/foreman-chat/foreman/lib/clock"
)

// longPollTimeout is the server-side long-poll hold in milliseconds for
// /sync calls. The server holds the connection for up to this duration,
// returning immediately when new events arrive. 30 seconds matches the
// Matrix client-server spec recommendation.
const longPollTimeout = 30000

// syncRetryDelay is the client-side pause after a failed /sync before
// the next attempt. Without it, a refused connection turns the loop
// into a hot spin.
const syncRetryDelay = time.Second

// maxSyncFailures is the number of consecutive /sync failures allowed
// before Run gives up and returns the last error.
const maxSyncFailures = 5

// Watcher runs the /sync long-poll loop and delivers timeline events
// from all joined rooms on a channel. The bot's own echoes are
// filtered out, and rooms the bot is invited to are joined
// automatically. Create one per process; room fan-out happens in the
// consumer.
type Watcher struct {
	client *Client
	clk    clock.Clock
	filter string
	events chan Event

	nextBatch string
}

// NewWatcher creates a watcher for the client's account. Events start
// flowing once Run is called.
func NewWatcher(client *Client, clk clock.Clock) *Watcher {
	return &Watcher{
		client: client,
		clk:    clk,
		filter: buildSyncFilter(),
		events: make(chan Event, 16),
	}
}

// Events returns the channel Run delivers timeline events on. The
// channel is closed when Run returns.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Run performs an initial position-fixing sync, then long-polls until
// ctx is cancelled or too many consecutive sync calls fail. Events that
// arrived before Run was called are never delivered.
func (w *Watcher) Run(ctx context.Context) error {
	defer close(w.events)

	// Zero-timeout sync to fix the stream position. Everything before
	// this point is history the bot must not replay.
	response, err := w.client.Sync(ctx, SyncOptions{SetTimeout: true, Filter: w.filter})
	if err != nil {
		return fmt.Errorf("messaging: initial sync: %w", err)
	}
	w.nextBatch = response.NextBatch

	var failures int
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		response, err := w.client.Sync(ctx, SyncOptions{
			Since:      w.nextBatch,
			SetTimeout: true,
			Timeout:    longPollTimeout,
			Filter:     w.filter,
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failures++
			if failures > maxSyncFailures {
				return fmt.Errorf("messaging: sync failed %d consecutive times: %w", failures, err)
			}
			w.client.logger.Warn("sync failed, backing off",
				"attempt", failures,
				"max_attempts", maxSyncFailures,
				"error", err,
			)
			// TCP-level errors often indicate a poisoned connection in
			// the HTTP pool. Drop idle connections so the next attempt
			// opens a fresh socket.
			w.client.CloseIdleConnections()
			if err := w.clk.Sleep(ctx, syncRetryDelay); err != nil {
				return err
			}
			continue
		}
		failures = 0
		w.nextBatch = response.NextBatch
		if err := w.dispatch(ctx, response); err != nil {
			return err
		}
	}
}

// dispatch joins invited rooms and forwards new timeline events.
func (w *Watcher) dispatch(ctx context.Context, response *SyncResponse) error {
	for roomID := range response.Rooms.Invite {
		if _, err := w.client.JoinRoom(ctx, roomID); err != nil {
			w.client.logger.Warn("failed to join room on invite",
				"room_id", roomID,
				"error", err,
			)
			continue
		}
		w.client.logger.Info("joined room on invite", "room_id", roomID)
	}

	for roomID, room := range response.Rooms.Join {
		for _, event := range room.Timeline.Events {
			if event.Sender == w.client.UserID() {
				continue
			}
			event.RoomID = roomID
			select {
			case w.events <- event:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return nil
}

// buildSyncFilter constructs the inline JSON filter for /sync: message
// timeline events only, no state, no presence, no account data.
func buildSyncFilter() string {
	filter := map[string]any{
		"room": map[string]any{
			"timeline": map[string]any{"types": []string{"m.room.message"}},
			"state":    map[string]any{"types": []string{}},
		},
		"presence":     map[string]any{"types": []string{}},
		"account_data": map[string]any{"types": []string{}},
	}
	data, _ := json.Marshal(filter)
	return string(data)
}
