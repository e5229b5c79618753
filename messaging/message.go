// Copyright 2026 The Foreman Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/foreman-chat/foreman/lib/markdown"
)

// typingTimeout is how long a typing indicator stays lit without being
// refreshed. The engine refreshes it at the start of every iteration.
const typingTimeout = 30 * time.Second

// htmlFormat is the Matrix content format for HTML-rendered bodies.
const htmlFormat = "org.matrix.custom.html"

// newMarkdownContent builds message content carrying both the raw
// markdown body and its HTML rendering.
func newMarkdownContent(msgType, body string) MessageContent {
	return MessageContent{
		MsgType:       msgType,
		Body:          body,
		Format:        htmlFormat,
		FormattedBody: markdown.ToHTML(body),
	}
}

// newEditContent wraps replacement content in the m.replace relation.
// The top-level body is the fallback rendering ("* <new text>") shown
// by clients that do not understand edits.
func newEditContent(targetEventID string, replacement MessageContent) MessageContent {
	content := replacement
	content.Body = "* " + replacement.Body
	if replacement.FormattedBody != "" {
		content.FormattedBody = "* " + replacement.FormattedBody
	}
	content.NewContent = &replacement
	content.RelatesTo = &RelatesTo{
		RelType: "m.replace",
		EventID: targetEventID,
	}
	return content
}

// SendMessage sends a markdown message to a room and returns the event
// ID of the sent message.
func (c *Client) SendMessage(ctx context.Context, roomID, body string) (string, error) {
	return c.sendEvent(ctx, roomID, newMarkdownContent("m.text", body))
}

// EditMessage replaces the content of a previously sent message with
// new markdown. The edited message keeps its original event ID; Matrix
// delivers the replacement as a new event related via m.replace.
func (c *Client) EditMessage(ctx context.Context, roomID, targetEventID, body string) error {
	content := newEditContent(targetEventID, newMarkdownContent("m.text", body))
	_, err := c.sendEvent(ctx, roomID, content)
	return err
}

// SendNotification sends an m.notice message. Notices render like
// regular messages but do not trigger client notifications, which suits
// foreman's progress chatter. Callers treat errors as a dropped
// notification, not a failure of the operation being reported.
func (c *Client) SendNotification(ctx context.Context, roomID, body string) error {
	_, err := c.sendEvent(ctx, roomID, newMarkdownContent("m.notice", body))
	return err
}

// Typing switches the bot's typing indicator in a room. An active
// indicator expires server-side after 30 seconds unless refreshed.
func (c *Client) Typing(ctx context.Context, roomID string, active bool) error {
	path := fmt.Sprintf("/_matrix/client/v3/rooms/%s/typing/%s",
		url.PathEscape(roomID),
		url.PathEscape(c.userID),
	)
	request := TypingRequest{Typing: active}
	if active {
		request.Timeout = int(typingTimeout.Milliseconds())
	}
	if _, err := c.doRequest(ctx, http.MethodPut, path, true, request); err != nil {
		return fmt.Errorf("messaging: typing update in %s failed: %w", roomID, err)
	}
	return nil
}

// sendEvent PUTs an m.room.message event with a fresh transaction ID
// and returns the event ID assigned by the server.
func (c *Client) sendEvent(ctx context.Context, roomID string, content MessageContent) (string, error) {
	path := fmt.Sprintf("/_matrix/client/v3/rooms/%s/send/m.room.message/%s",
		url.PathEscape(roomID),
		url.PathEscape(c.nextTransactionID()),
	)

	body, err := c.doRequest(ctx, http.MethodPut, path, true, content)
	if err != nil {
		return "", fmt.Errorf("messaging: send to %s failed: %w", roomID, err)
	}

	var response SendEventResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return "", fmt.Errorf("messaging: failed to parse send response: %w", err)
	}
	return response.EventID, nil
}
