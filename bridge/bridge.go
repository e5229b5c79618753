// Copyright 2026 The Foreman Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/foreman-chat/foreman/catalog"
	"github.com/foreman-chat/foreman/engine"
	"github.com/foreman-chat/foreman/lib/clock"
	"github.com/foreman-chat/foreman/lib/config"
	"github.com/foreman-chat/foreman/messaging"
	"github.com/foreman-chat/foreman/sandbox"
	"github.com/foreman-chat/foreman/state"
	"github.com/foreman-chat/foreman/tools"
)

// mailboxDepth is the per-room event buffer. A room that falls this
// far behind blocks the dispatcher rather than dropping commands.
const mailboxDepth = 16

// wizardBypass lists the commands a live wizard does not intercept:
// help stays reachable, .cancel must reach the wizard's own cancel
// handling, and .new restarts setup from scratch.
var wizardBypass = map[string]bool{".new": true, ".help": true}

// Options configures a Bridge. Config, Store, Engine, Tools, and
// Policy are required; the rest defaults.
type Options struct {
	Config  *config.Config
	Store   *state.Store
	Engine  *engine.Engine
	Tools   *tools.Executor
	Policy  *sandbox.Policy
	Catalog *catalog.Catalog
	Clock   clock.Clock
	Logger  *slog.Logger

	// HTTPClient is used for the provider clients the bridge
	// constructs per agent. Nil means http.DefaultClient.
	HTTPClient *http.Client
}

// Bridge owns command routing for all rooms. Safe for concurrent use;
// per-room ordering is the caller's job (Serve provides it).
type Bridge struct {
	config     *config.Config
	store      *state.Store
	engine     *engine.Engine
	tools      *tools.Executor
	policy     *sandbox.Policy
	catalog    *catalog.Catalog
	clk        clock.Clock
	logger     *slog.Logger
	httpClient *http.Client

	// running tracks spawned run goroutines so Wait can drain them
	// on shutdown.
	running sync.WaitGroup
}

// New creates a Bridge.
func New(options Options) *Bridge {
	if options.Catalog == nil {
		options.Catalog = catalog.Default()
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	if options.HTTPClient == nil {
		options.HTTPClient = http.DefaultClient
	}
	return &Bridge{
		config:     options.Config,
		store:      options.Store,
		engine:     options.Engine,
		tools:      options.Tools,
		policy:     options.Policy,
		catalog:    options.Catalog,
		clk:        options.Clock,
		logger:     options.Logger,
		httpClient: options.HTTPClient,
	}
}

// Wait blocks until every spawned run goroutine has finished. Call
// after cancelling the runs' context during shutdown.
func (b *Bridge) Wait() {
	b.running.Wait()
}

// Serve consumes watcher events until ctx is cancelled or the channel
// closes. Each room gets a dedicated mailbox goroutine, so commands
// within a room are handled in arrival order while rooms never block
// each other.
func (b *Bridge) Serve(ctx context.Context, client *messaging.Client, events <-chan messaging.Event) {
	mailboxes := make(map[string]chan messaging.Event)
	var rooms sync.WaitGroup
	defer func() {
		for _, mailbox := range mailboxes {
			close(mailbox)
		}
		rooms.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if event.Type != "m.room.message" || event.Content.MsgType != "m.text" {
				continue
			}
			// Edits arrive as fresh events carrying a relation; the
			// bridge only acts on original messages.
			if event.Content.RelatesTo != nil {
				continue
			}
			mailbox, ok := mailboxes[event.RoomID]
			if !ok {
				mailbox = make(chan messaging.Event, mailboxDepth)
				mailboxes[event.RoomID] = mailbox
				room := client.Room(event.RoomID)
				rooms.Add(1)
				go func() {
					defer rooms.Done()
					for event := range mailbox {
						b.HandleMessage(ctx, room, event.Sender, event.Content.Body)
					}
				}()
			}
			select {
			case mailbox <- event:
			case <-ctx.Done():
				return
			}
		}
	}
}

// HandleMessage routes one chat message. Non-command chatter is
// ignored unless a wizard is collecting input. Handler failures are
// logged; routing itself never fails.
func (b *Bridge) HandleMessage(ctx context.Context, chat engine.Chat, sender, body string) {
	message := strings.TrimSpace(body)
	if message == "" {
		return
	}
	command, args := splitCommand(message)

	b.logger.Debug("routing message",
		"room", chat.RoomID(),
		"sender", sender,
		"command", command)

	if b.wizardActive(chat.RoomID()) && !wizardBypass[command] {
		b.wizardStep(ctx, chat, message)
		return
	}

	// Comma prefix is the admin shell shortcut.
	if rest, ok := strings.CutPrefix(message, ","); ok {
		if command := strings.TrimSpace(rest); command != "" {
			b.adminShell(ctx, chat, sender, command)
		}
		return
	}
	if !strings.HasPrefix(message, ".") {
		// Chatter pushes any settled feed message up the timeline;
		// drop the pointer so the next run posts a fresh feed instead
		// of editing one nobody is looking at. A live run keeps its
		// feed.
		if !b.store.RunActive(chat.RoomID()) {
			b.clearFeedPointer(chat.RoomID())
		}
		return
	}

	switch command {
	case ".help":
		b.send(ctx, chat, b.catalog.Help)
	case ".status":
		b.status(ctx, chat)
	case ".project":
		b.project(ctx, chat, args)
	case ".list":
		b.listProjects(ctx, chat)
	case ".new":
		b.newProject(ctx, chat, args)
	case ".task":
		if args == "" {
			b.startTaskWizard(ctx, chat)
		} else {
			b.startTask(ctx, chat, args)
		}
	case ".start":
		b.start(ctx, chat)
	case ".stop":
		b.stop(ctx, chat)
	case ".ask":
		b.ask(ctx, chat, args)
	case ".read":
		b.readFiles(ctx, chat, args)
	case ".1", ".2", ".3", ".4":
		b.openDocument(ctx, chat, command)
	case ".agent", ".agents":
		b.agent(ctx, chat, args)
	case ".model", ".models":
		b.model(ctx, chat, args)
	case ".ok", ".yes", ".approve", ".continue":
		if b.resolveApproval(ctx, chat, true) {
			return
		}
		b.start(ctx, chat)
	case ".deny", ".no":
		if !b.resolveApproval(ctx, chat, false) {
			b.notify(ctx, chat, b.catalog.NoPendingCommand)
		}
	case ".cancel":
		// Outside a wizard, .cancel only withdraws a pending
		// approval; with nothing pending it is a silent no-op.
		b.resolveApproval(ctx, chat, false)
	case ".run", ".exec":
		b.adminShell(ctx, chat, sender, args)
	default:
		b.notify(ctx, chat, fmt.Sprintf(b.catalog.UnknownCommand, command))
	}
}

// splitCommand separates the leading word from the rest.
func splitCommand(message string) (command, args string) {
	if index := strings.IndexByte(message, ' '); index >= 0 {
		return message[:index], strings.TrimSpace(message[index+1:])
	}
	return message, ""
}

// clearFeedPointer forgets the room's settled feed message.
func (b *Bridge) clearFeedPointer(roomID string) {
	room := b.store.Room(roomID)
	if room.FeedEventID == "" {
		return
	}
	if err := b.store.Update(roomID, func(room *state.RoomState) {
		room.FeedEventID = ""
	}); err != nil {
		b.logger.Warn("state not persisted", "room", roomID, "error", err)
	}
}

// send posts a message, logging a dropped delivery.
func (b *Bridge) send(ctx context.Context, chat engine.Chat, body string) {
	if _, err := chat.SendMessage(ctx, body); err != nil {
		b.logger.Warn("message dropped", "room", chat.RoomID(), "error", err)
	}
}

// notify posts a notice, logging a dropped delivery.
func (b *Bridge) notify(ctx context.Context, chat engine.Chat, body string) {
	if err := chat.SendNotification(ctx, body); err != nil {
		b.logger.Warn("notification dropped", "room", chat.RoomID(), "error", err)
	}
}
