// Copyright 2026 The Foreman Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import "context"

// Room binds a Client to a single room. The engine and bridge work
// against this per-room surface so they never carry room IDs through
// their call chains.
type Room struct {
	client *Client
	roomID string
}

// Room returns a room-bound view of the client.
func (c *Client) Room(roomID string) *Room {
	return &Room{client: c, roomID: roomID}
}

// RoomID returns the Matrix room ID this view is bound to.
func (r *Room) RoomID() string {
	return r.roomID
}

// SendMessage sends a markdown message and returns its event ID.
func (r *Room) SendMessage(ctx context.Context, body string) (string, error) {
	return r.client.SendMessage(ctx, r.roomID, body)
}

// EditMessage replaces a previously sent message with new markdown.
func (r *Room) EditMessage(ctx context.Context, targetEventID, body string) error {
	return r.client.EditMessage(ctx, r.roomID, targetEventID, body)
}

// SendNotification sends an m.notice message.
func (r *Room) SendNotification(ctx context.Context, body string) error {
	return r.client.SendNotification(ctx, r.roomID, body)
}

// Typing switches the bot's typing indicator.
func (r *Room) Typing(ctx context.Context, active bool) error {
	return r.client.Typing(ctx, r.roomID, active)
}

// LatestEventID returns the newest timeline event ID, or "" for an
// empty room.
func (r *Room) LatestEventID(ctx context.Context) (string, error) {
	return r.client.LatestEventID(ctx, r.roomID)
}
