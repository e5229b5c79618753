// Copyright 2026 The Foreman Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/foreman-chat/foreman/lib/clock"
	"github.com/foreman-chat/foreman/lib/testutil"
)

// syncStep is one scripted /sync response: either a payload to serve or
// an HTTP status to fail with.
type syncStep struct {
	response *SyncResponse
	status   int
}

// syncScript serves scripted /sync responses in order. Once the script
// is exhausted it serves empty syncs with a short real delay so the
// watcher idles instead of spinning. Join calls are recorded on a
// channel.
type syncScript struct {
	mu    sync.Mutex
	steps []syncStep
	idle  SyncResponse
	joins chan string
}

func (s *syncScript) handler(t *testing.T) http.HandlerFunc {
	return func(writer http.ResponseWriter, request *http.Request) {
		writer.Header().Set("Content-Type", "application/json")

		if strings.HasPrefix(request.URL.Path, "/_matrix/client/v3/join/") {
			roomID := strings.TrimPrefix(request.URL.Path, "/_matrix/client/v3/join/")
			s.joins <- roomID
			json.NewEncoder(writer).Encode(map[string]string{"room_id": roomID})
			return
		}
		if request.URL.Path != "/_matrix/client/v3/sync" {
			t.Errorf("unexpected path: %s", request.URL.Path)
			writer.WriteHeader(http.StatusNotFound)
			return
		}

		s.mu.Lock()
		var step syncStep
		if len(s.steps) > 0 {
			step = s.steps[0]
			s.steps = s.steps[1:]
		}
		s.mu.Unlock()

		switch {
		case step.status != 0:
			writer.WriteHeader(step.status)
			json.NewEncoder(writer).Encode(MatrixError{Code: ErrCodeUnknown, Message: "boom"})
		case step.response != nil:
			json.NewEncoder(writer).Encode(step.response)
		default:
			time.Sleep(20 * time.Millisecond)
			json.NewEncoder(writer).Encode(s.idle)
		}
	}
}

// startWatcher runs a watcher against the scripted server and returns
// the watcher plus Run's eventual result.
func startWatcher(t *testing.T, script *syncScript, clk clock.Clock) (*Watcher, <-chan error, context.CancelFunc) {
	t.Helper()
	server := httptest.NewServer(script.handler(t))
	t.Cleanup(server.Close)

	watcher := NewWatcher(testClient(t, server), clk)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	errs := make(chan error, 1)
	go func() { errs <- watcher.Run(ctx) }()
	return watcher, errs, cancel
}

func timeline(events ...Event) JoinedRoom {
	return JoinedRoom{Timeline: TimelineSection{Events: events}}
}

func TestWatcherDeliversEvents(t *testing.T) {
	script := &syncScript{
		steps: []syncStep{
			// Position fix: history in the initial response must not
			// be replayed.
			{response: &SyncResponse{
				NextBatch: "s1",
				Rooms: RoomsSection{Join: map[string]JoinedRoom{
					"!room:test.local": timeline(Event{
						EventID: "$history",
						Type:    "m.room.message",
						Sender:  "@alice:test.local",
						Content: EventContent{MsgType: "m.text", Body: "old news"},
					}),
				}},
			}},
			{response: &SyncResponse{
				NextBatch: "s2",
				Rooms: RoomsSection{Join: map[string]JoinedRoom{
					"!room:test.local": timeline(
						Event{
							EventID: "$echo",
							Type:    "m.room.message",
							Sender:  "@foreman:test.local",
							Content: EventContent{MsgType: "m.text", Body: "my own message"},
						},
						Event{
							EventID: "$incoming",
							Type:    "m.room.message",
							Sender:  "@alice:test.local",
							Content: EventContent{MsgType: "m.text", Body: ".status"},
						},
					),
				}},
			}},
		},
		idle:  SyncResponse{NextBatch: "s2"},
		joins: make(chan string, 4),
	}

	watcher, errs, cancel := startWatcher(t, script, clock.Fake(time.Now()))

	event := testutil.RequireReceive(t, watcher.Events(), "timeline event")
	if event.EventID != "$incoming" {
		t.Errorf("expected the incoming event, got %s", event.EventID)
	}
	if event.RoomID != "!room:test.local" {
		t.Errorf("room ID should be filled from the sync grouping, got %q", event.RoomID)
	}
	if event.Content.Body != ".status" {
		t.Errorf("unexpected body: %q", event.Content.Body)
	}

	// The bot's own echo and the pre-Run history must never surface.
	testutil.RequireNoReceive(t, watcher.Events(), "extra event")

	cancel()
	err := testutil.RequireReceive(t, errs, "Run result")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	testutil.RequireClosed(t, watcher.Events(), "events channel")
}

func TestWatcherAutoJoinsInvites(t *testing.T) {
	script := &syncScript{
		steps: []syncStep{
			{response: &SyncResponse{NextBatch: "s1"}},
			{response: &SyncResponse{
				NextBatch: "s2",
				Rooms: RoomsSection{Invite: map[string]InvitedRoom{
					"!newroom:test.local": {},
				}},
			}},
		},
		idle:  SyncResponse{NextBatch: "s2"},
		joins: make(chan string, 4),
	}

	_, _, cancel := startWatcher(t, script, clock.Fake(time.Now()))
	defer cancel()

	joined := testutil.RequireReceive(t, script.joins, "join call")
	if joined != "!newroom:test.local" {
		t.Errorf("unexpected joined room: %s", joined)
	}
}

func TestWatcherBacksOffAndRecovers(t *testing.T) {
	script := &syncScript{
		steps: []syncStep{
			{response: &SyncResponse{NextBatch: "s1"}},
			{status: http.StatusInternalServerError},
			{response: &SyncResponse{
				NextBatch: "s2",
				Rooms: RoomsSection{Join: map[string]JoinedRoom{
					"!room:test.local": timeline(Event{
						EventID: "$after-recovery",
						Type:    "m.room.message",
						Sender:  "@alice:test.local",
						Content: EventContent{MsgType: "m.text", Body: "back"},
					}),
				}},
			}},
		},
		idle:  SyncResponse{NextBatch: "s2"},
		joins: make(chan string, 4),
	}

	fake := clock.Fake(time.Now())
	watcher, _, cancel := startWatcher(t, script, fake)
	defer cancel()

	// The failed sync parks the watcher in a 1-second backoff.
	fake.WaitForWaiters(1)
	fake.Advance(time.Second)

	event := testutil.RequireReceive(t, watcher.Events(), "event after recovery")
	if event.EventID != "$after-recovery" {
		t.Errorf("unexpected event: %s", event.EventID)
	}
}

func TestWatcherGivesUpAfterRepeatedFailures(t *testing.T) {
	script := &syncScript{
		steps: []syncStep{
			{response: &SyncResponse{NextBatch: "s1"}},
			{status: http.StatusInternalServerError},
			{status: http.StatusInternalServerError},
			{status: http.StatusInternalServerError},
			{status: http.StatusInternalServerError},
			{status: http.StatusInternalServerError},
			{status: http.StatusInternalServerError},
		},
		idle:  SyncResponse{NextBatch: "s1"},
		joins: make(chan string, 4),
	}

	fake := clock.Fake(time.Now())
	watcher, errs, _ := startWatcher(t, script, fake)

	// Five failures back off and retry; the sixth exceeds the cap.
	for range maxSyncFailures {
		fake.WaitForWaiters(1)
		fake.Advance(syncRetryDelay)
	}

	err := testutil.RequireReceive(t, errs, "Run result")
	if err == nil || !strings.Contains(err.Error(), "consecutive times") {
		t.Errorf("expected a consecutive-failure error, got %v", err)
	}
	testutil.RequireClosed(t, watcher.Events(), "events channel")
}

func TestWatcherInitialSyncFailure(t *testing.T) {
	script := &syncScript{
		steps: []syncStep{{status: http.StatusServiceUnavailable}},
		idle:  SyncResponse{},
		joins: make(chan string, 1),
	}

	_, errs, _ := startWatcher(t, script, clock.Fake(time.Now()))
	err := testutil.RequireReceive(t, errs, "Run result")
	if err == nil || !strings.Contains(err.Error(), "initial sync") {
		t.Errorf("expected an initial sync error, got %v", err)
	}
}

func TestBuildSyncFilter(t *testing.T) {
	filter := buildSyncFilter()
	var parsed map[string]any
	if err := json.Unmarshal([]byte(filter), &parsed); err != nil {
		t.Fatalf("filter is not valid JSON: %v", err)
	}
	if !strings.Contains(filter, "m.room.message") {
		t.Errorf("filter should restrict the timeline to messages: %s", filter)
	}
	if _, ok := parsed["presence"]; !ok {
		t.Errorf("filter should suppress presence: %s", filter)
	}
}
