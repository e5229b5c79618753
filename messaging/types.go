// Copyright 2026 The Foreman Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

// LoginRequest is the request body for password login.
type LoginRequest struct {
	Type                     string `json:"type"`
	User                     string `json:"user"`
	Password                 string `json:"password"`
	InitialDeviceDisplayName string `json:"initial_device_display_name,omitempty"`
}

// AuthResponse is returned by the login endpoint.
type AuthResponse struct {
	UserID      string `json:"user_id"`
	AccessToken string `json:"access_token"`
	DeviceID    string `json:"device_id"`
}

// MessageContent is the content body of an m.room.message event.
// Markdown-rendered messages carry both the plain Body and an HTML
// FormattedBody with format "org.matrix.custom.html". Edits nest the
// replacement content under m.new_content and point at the edited
// event via m.relates_to with rel_type m.replace.
type MessageContent struct {
	MsgType       string          `json:"msgtype"`
	Body          string          `json:"body"`
	Format        string          `json:"format,omitempty"`
	FormattedBody string          `json:"formatted_body,omitempty"`
	NewContent    *MessageContent `json:"m.new_content,omitempty"`
	RelatesTo     *RelatesTo      `json:"m.relates_to,omitempty"`
}

// RelatesTo expresses a relationship between events. For edits, RelType
// is "m.replace" and EventID is the event being replaced.
type RelatesTo struct {
	RelType string `json:"rel_type"`
	EventID string `json:"event_id"`
}

// Event is a Matrix event from the server. RoomID is filled in from the
// sync response's room grouping; individual events in /sync payloads do
// not carry it.
type Event struct {
	EventID        string       `json:"event_id"`
	Type           string       `json:"type"`
	Sender         string       `json:"sender"`
	OriginServerTS int64        `json:"origin_server_ts"`
	Content        EventContent `json:"content"`
	RoomID         string       `json:"room_id,omitempty"`
}

// EventContent holds the content fields foreman reads from incoming
// events: message body and type for m.room.message, membership for
// m.room.member.
type EventContent struct {
	MsgType    string     `json:"msgtype,omitempty"`
	Body       string     `json:"body,omitempty"`
	Membership string     `json:"membership,omitempty"`
	RelatesTo  *RelatesTo `json:"m.relates_to,omitempty"`
}

// SyncOptions controls the behavior of the /sync endpoint.
type SyncOptions struct {
	Since      string // next_batch token from previous sync; empty for initial sync
	Timeout    int    // long-poll timeout in milliseconds; 0 for immediate return
	SetTimeout bool   // if true, send the timeout parameter (needed to distinguish "not set" from "0")
	Filter     string // filter ID or inline JSON filter
}

// SyncResponse is the top-level response from /sync.
type SyncResponse struct {
	NextBatch string       `json:"next_batch"`
	Rooms     RoomsSection `json:"rooms"`
}

// RoomsSection contains per-room sync data grouped by membership state.
type RoomsSection struct {
	Join   map[string]JoinedRoom  `json:"join,omitempty"`
	Invite map[string]InvitedRoom `json:"invite,omitempty"`
}

// JoinedRoom contains sync data for a room the bot has joined.
type JoinedRoom struct {
	Timeline TimelineSection `json:"timeline"`
}

// InvitedRoom contains sync data for a room the bot was invited to.
// The watcher only needs the room key to auto-join; the invite state
// events are not inspected.
type InvitedRoom struct {
	InviteState StateSection `json:"invite_state"`
}

// TimelineSection contains timeline events from a sync response.
type TimelineSection struct {
	Events    []Event `json:"events"`
	PrevBatch string  `json:"prev_batch"`
	Limited   bool    `json:"limited"`
}

// StateSection contains state events from a sync response.
type StateSection struct {
	Events []Event `json:"events"`
}

// SendEventResponse is returned by the event send endpoints.
type SendEventResponse struct {
	EventID string `json:"event_id"`
}

// JoinedRoomsResponse is returned by the /joined_rooms endpoint.
type JoinedRoomsResponse struct {
	JoinedRooms []string `json:"joined_rooms"`
}

// RoomMessagesResponse is returned by the /messages endpoint.
type RoomMessagesResponse struct {
	Start string  `json:"start"`
	End   string  `json:"end"`
	Chunk []Event `json:"chunk"`
}

// TypingRequest is the request body for the typing notification endpoint.
// Timeout is in milliseconds and only sent while typing is active.
type TypingRequest struct {
	Typing  bool `json:"typing"`
	Timeout int  `json:"timeout,omitempty"`
}

// DisplayNameRequest is the request body for setting the bot's profile
// display name.
type DisplayNameRequest struct {
	DisplayName string `json:"displayname"`
}
