// Copyright 2026 The Foreman Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// testClient creates an authenticated client against the given test
// server without a login round-trip.
func testClient(t *testing.T, server *httptest.Server) *Client {
	t.Helper()
	client, err := FromToken(ClientConfig{
		HomeserverURL: server.URL,
		HTTPClient:    server.Client(),
		Logger:        discardLogger(),
	}, "@foreman:test.local", "syt_foreman_token")
	if err != nil {
		t.Fatalf("FromToken failed: %v", err)
	}
	return client
}

func TestLogin(t *testing.T) {
	t.Run("successful login", func(t *testing.T) {
		var displayNameSet bool
		server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			switch {
			case request.URL.Path == "/_matrix/client/v3/login":
				var body LoginRequest
				if err := json.NewDecoder(request.Body).Decode(&body); err != nil {
					t.Fatalf("failed to decode login body: %v", err)
				}
				if body.Type != "m.login.password" {
					t.Errorf("unexpected login type: %s", body.Type)
				}
				if body.User != "foreman" {
					t.Errorf("unexpected username: %s", body.User)
				}
				if body.Password != "hunter2" {
					t.Errorf("unexpected password: %s", body.Password)
				}
				if body.InitialDeviceDisplayName != "foreman" {
					t.Errorf("unexpected device display name: %s", body.InitialDeviceDisplayName)
				}
				writer.Header().Set("Content-Type", "application/json")
				json.NewEncoder(writer).Encode(AuthResponse{
					UserID:      "@foreman:test.local",
					AccessToken: "syt_foreman_token",
					DeviceID:    "DEVICE1",
				})
			case strings.HasSuffix(request.URL.Path, "/displayname"):
				if request.Method != http.MethodPut {
					t.Errorf("unexpected display name method: %s", request.Method)
				}
				if got := request.Header.Get("Authorization"); got != "Bearer syt_foreman_token" {
					t.Errorf("unexpected authorization header: %s", got)
				}
				displayNameSet = true
				writer.Header().Set("Content-Type", "application/json")
				writer.Write([]byte("{}"))
			default:
				t.Errorf("unexpected path: %s", request.URL.Path)
				writer.WriteHeader(http.StatusNotFound)
			}
		}))
		defer server.Close()

		client, err := Login(context.Background(), ClientConfig{
			HomeserverURL: server.URL,
			DisplayName:   "Foreman",
			HTTPClient:    server.Client(),
			Logger:        discardLogger(),
		}, "foreman", "hunter2")
		if err != nil {
			t.Fatalf("Login failed: %v", err)
		}

		if client.UserID() != "@foreman:test.local" {
			t.Errorf("unexpected user ID: %s", client.UserID())
		}
		if client.DeviceID() != "DEVICE1" {
			t.Errorf("unexpected device ID: %s", client.DeviceID())
		}
		if !displayNameSet {
			t.Error("expected display name to be set after login")
		}
	})

	t.Run("display name failure is not fatal", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			writer.Header().Set("Content-Type", "application/json")
			if request.URL.Path == "/_matrix/client/v3/login" {
				json.NewEncoder(writer).Encode(AuthResponse{
					UserID:      "@foreman:test.local",
					AccessToken: "syt_token",
				})
				return
			}
			writer.WriteHeader(http.StatusForbidden)
			json.NewEncoder(writer).Encode(MatrixError{Code: ErrCodeForbidden, Message: "no"})
		}))
		defer server.Close()

		client, err := Login(context.Background(), ClientConfig{
			HomeserverURL: server.URL,
			DisplayName:   "Foreman",
			HTTPClient:    server.Client(),
			Logger:        discardLogger(),
		}, "foreman", "hunter2")
		if err != nil {
			t.Fatalf("Login failed: %v", err)
		}
		if client.UserID() != "@foreman:test.local" {
			t.Errorf("unexpected user ID: %s", client.UserID())
		}
	})

	t.Run("invalid credentials", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, _ *http.Request) {
			writer.Header().Set("Content-Type", "application/json")
			writer.WriteHeader(http.StatusForbidden)
			json.NewEncoder(writer).Encode(MatrixError{
				Code:    ErrCodeForbidden,
				Message: "Invalid password",
			})
		}))
		defer server.Close()

		_, err := Login(context.Background(), ClientConfig{
			HomeserverURL: server.URL,
			HTTPClient:    server.Client(),
			Logger:        discardLogger(),
		}, "foreman", "wrong")
		if err == nil {
			t.Fatal("expected error for invalid credentials")
		}
		if !IsMatrixError(err, ErrCodeForbidden) {
			t.Errorf("expected M_FORBIDDEN error, got: %v", err)
		}
	})

	t.Run("validation errors", func(t *testing.T) {
		config := ClientConfig{HomeserverURL: "http://localhost:1", Logger: discardLogger()}

		if _, err := Login(context.Background(), config, "", "password"); err == nil {
			t.Fatal("expected error for empty username")
		}
		if _, err := Login(context.Background(), config, "foreman", ""); err == nil {
			t.Fatal("expected error for empty password")
		}
		if _, err := Login(context.Background(), ClientConfig{}, "foreman", "pw"); err == nil {
			t.Fatal("expected error for missing homeserver URL")
		}
	})
}

func TestSendMessage(t *testing.T) {
	type sent struct {
		path    string
		content MessageContent
	}
	var sends []sent
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if request.Method != http.MethodPut {
			t.Errorf("unexpected method: %s", request.Method)
		}
		var content MessageContent
		if err := json.NewDecoder(request.Body).Decode(&content); err != nil {
			t.Fatalf("failed to decode message content: %v", err)
		}
		sends = append(sends, sent{path: request.URL.Path, content: content})
		writer.Header().Set("Content-Type", "application/json")
		json.NewEncoder(writer).Encode(SendEventResponse{EventID: "$event1"})
	}))
	defer server.Close()

	client := testClient(t, server)

	eventID, err := client.SendMessage(context.Background(), "!room:test.local", "**bold** move")
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if eventID != "$event1" {
		t.Errorf("unexpected event ID: %s", eventID)
	}
	if _, err := client.SendMessage(context.Background(), "!room:test.local", "second"); err != nil {
		t.Fatalf("second SendMessage failed: %v", err)
	}

	if len(sends) != 2 {
		t.Fatalf("expected 2 sends, got %d", len(sends))
	}
	first := sends[0]
	// The handler sees the decoded path; the wire form escapes "!".
	if !strings.HasPrefix(first.path, "/_matrix/client/v3/rooms/!room:test.local/send/m.room.message/") {
		t.Errorf("unexpected send path: %s", first.path)
	}
	if first.content.MsgType != "m.text" {
		t.Errorf("unexpected msgtype: %s", first.content.MsgType)
	}
	if first.content.Body != "**bold** move" {
		t.Errorf("unexpected body: %q", first.content.Body)
	}
	if first.content.Format != "org.matrix.custom.html" {
		t.Errorf("unexpected format: %q", first.content.Format)
	}
	if !strings.Contains(first.content.FormattedBody, "<strong>bold</strong>") {
		t.Errorf("formatted body missing HTML rendering: %q", first.content.FormattedBody)
	}

	// Transaction IDs must differ between sends for idempotency to work.
	txn := func(path string) string {
		parts := strings.Split(path, "/")
		return parts[len(parts)-1]
	}
	if txn(sends[0].path) == txn(sends[1].path) {
		t.Errorf("transaction IDs must be unique, both were %s", txn(sends[0].path))
	}
}

func TestEditMessage(t *testing.T) {
	var content MessageContent
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if err := json.NewDecoder(request.Body).Decode(&content); err != nil {
			t.Fatalf("failed to decode edit content: %v", err)
		}
		writer.Header().Set("Content-Type", "application/json")
		json.NewEncoder(writer).Encode(SendEventResponse{EventID: "$edit1"})
	}))
	defer server.Close()

	client := testClient(t, server)
	if err := client.EditMessage(context.Background(), "!room:test.local", "$orig", "updated text"); err != nil {
		t.Fatalf("EditMessage failed: %v", err)
	}

	if content.Body != "* updated text" {
		t.Errorf("fallback body should carry the edit marker, got %q", content.Body)
	}
	if content.RelatesTo == nil || content.RelatesTo.RelType != "m.replace" {
		t.Fatalf("expected m.replace relation, got %+v", content.RelatesTo)
	}
	if content.RelatesTo.EventID != "$orig" {
		t.Errorf("relation should point at the edited event, got %s", content.RelatesTo.EventID)
	}
	if content.NewContent == nil {
		t.Fatal("expected m.new_content with the replacement")
	}
	if content.NewContent.Body != "updated text" {
		t.Errorf("unexpected replacement body: %q", content.NewContent.Body)
	}
	if content.NewContent.Format != "org.matrix.custom.html" {
		t.Errorf("replacement should carry HTML format, got %q", content.NewContent.Format)
	}
}

func TestSendNotification(t *testing.T) {
	var content MessageContent
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if err := json.NewDecoder(request.Body).Decode(&content); err != nil {
			t.Fatalf("failed to decode notice content: %v", err)
		}
		writer.Header().Set("Content-Type", "application/json")
		json.NewEncoder(writer).Encode(SendEventResponse{EventID: "$notice1"})
	}))
	defer server.Close()

	client := testClient(t, server)
	if err := client.SendNotification(context.Background(), "!room:test.local", "run finished"); err != nil {
		t.Fatalf("SendNotification failed: %v", err)
	}
	if content.MsgType != "m.notice" {
		t.Errorf("notifications must be m.notice, got %s", content.MsgType)
	}
	if content.Body != "run finished" {
		t.Errorf("unexpected body: %q", content.Body)
	}
}

func TestTyping(t *testing.T) {
	var requests []TypingRequest
	var paths []string
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		var body TypingRequest
		if err := json.NewDecoder(request.Body).Decode(&body); err != nil {
			t.Fatalf("failed to decode typing body: %v", err)
		}
		requests = append(requests, body)
		paths = append(paths, request.URL.Path)
		writer.Header().Set("Content-Type", "application/json")
		writer.Write([]byte("{}"))
	}))
	defer server.Close()

	client := testClient(t, server)
	if err := client.Typing(context.Background(), "!room:test.local", true); err != nil {
		t.Fatalf("Typing(true) failed: %v", err)
	}
	if err := client.Typing(context.Background(), "!room:test.local", false); err != nil {
		t.Fatalf("Typing(false) failed: %v", err)
	}

	if len(requests) != 2 {
		t.Fatalf("expected 2 typing requests, got %d", len(requests))
	}
	if !requests[0].Typing || requests[0].Timeout != 30000 {
		t.Errorf("active typing should carry a 30s timeout, got %+v", requests[0])
	}
	if requests[1].Typing || requests[1].Timeout != 0 {
		t.Errorf("inactive typing should carry no timeout, got %+v", requests[1])
	}
	wantPath := "/_matrix/client/v3/rooms/!room:test.local/typing/@foreman:test.local"
	if paths[0] != wantPath {
		t.Errorf("unexpected typing path: %s", paths[0])
	}
}

func TestLatestEventID(t *testing.T) {
	t.Run("returns newest event", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			if got := request.URL.Query().Get("dir"); got != "b" {
				t.Errorf("expected backward pagination, got dir=%q", got)
			}
			if got := request.URL.Query().Get("limit"); got != "1" {
				t.Errorf("expected limit=1, got %q", got)
			}
			writer.Header().Set("Content-Type", "application/json")
			json.NewEncoder(writer).Encode(RoomMessagesResponse{
				Chunk: []Event{{EventID: "$newest"}},
			})
		}))
		defer server.Close()

		eventID, err := testClient(t, server).LatestEventID(context.Background(), "!room:test.local")
		if err != nil {
			t.Fatalf("LatestEventID failed: %v", err)
		}
		if eventID != "$newest" {
			t.Errorf("unexpected event ID: %s", eventID)
		}
	})

	t.Run("empty room", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, _ *http.Request) {
			writer.Header().Set("Content-Type", "application/json")
			json.NewEncoder(writer).Encode(RoomMessagesResponse{})
		}))
		defer server.Close()

		eventID, err := testClient(t, server).LatestEventID(context.Background(), "!room:test.local")
		if err != nil {
			t.Fatalf("LatestEventID failed: %v", err)
		}
		if eventID != "" {
			t.Errorf("expected empty event ID for empty room, got %s", eventID)
		}
	})
}

func TestRoomBinding(t *testing.T) {
	var path string
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		path = request.URL.Path
		writer.Header().Set("Content-Type", "application/json")
		json.NewEncoder(writer).Encode(SendEventResponse{EventID: "$e"})
	}))
	defer server.Close()

	room := testClient(t, server).Room("!bound:test.local")
	if room.RoomID() != "!bound:test.local" {
		t.Errorf("unexpected room ID: %s", room.RoomID())
	}
	if _, err := room.SendMessage(context.Background(), "hello"); err != nil {
		t.Fatalf("room SendMessage failed: %v", err)
	}
	if !strings.Contains(path, "!bound:test.local") {
		t.Errorf("send should target the bound room, path was %s", path)
	}
}

func TestDoRequestErrors(t *testing.T) {
	t.Run("matrix error envelope", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, _ *http.Request) {
			writer.Header().Set("Content-Type", "application/json")
			writer.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(writer).Encode(MatrixError{
				Code:    ErrCodeLimitExceeded,
				Message: "Too many requests",
			})
		}))
		defer server.Close()

		_, err := testClient(t, server).SendMessage(context.Background(), "!room:test.local", "hi")
		if err == nil {
			t.Fatal("expected error")
		}
		if !IsMatrixError(err, ErrCodeLimitExceeded) {
			t.Errorf("expected M_LIMIT_EXCEEDED, got: %v", err)
		}
		var matrixErr *MatrixError
		if !errors.As(err, &matrixErr) || matrixErr.StatusCode != http.StatusTooManyRequests {
			t.Errorf("expected status 429 on the error, got: %v", err)
		}
	})

	t.Run("non-JSON error body", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, _ *http.Request) {
			writer.WriteHeader(http.StatusBadGateway)
			writer.Write([]byte("upstream exploded"))
		}))
		defer server.Close()

		_, err := testClient(t, server).SendMessage(context.Background(), "!room:test.local", "hi")
		if err == nil {
			t.Fatal("expected error")
		}
		if !strings.Contains(err.Error(), "upstream exploded") {
			t.Errorf("error should carry the raw body, got: %v", err)
		}
	})
}

func TestMatrixError(t *testing.T) {
	err := &MatrixError{
		Code:       ErrCodeForbidden,
		Message:    "Access denied",
		StatusCode: 403,
	}
	expected := "matrix: M_FORBIDDEN (403): Access denied"
	if err.Error() != expected {
		t.Errorf("unexpected error message: %s", err.Error())
	}

	if !IsMatrixError(err, ErrCodeForbidden) {
		t.Error("IsMatrixError should match M_FORBIDDEN")
	}
	if IsMatrixError(err, ErrCodeNotFound) {
		t.Error("IsMatrixError should not match M_NOT_FOUND")
	}
	if IsMatrixError(context.Canceled, ErrCodeNotFound) {
		t.Error("IsMatrixError should return false for non-matrix errors")
	}
}
