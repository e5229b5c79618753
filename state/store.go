// Copyright 2026 The Foreman Authors
// SPDX-License-Identifier: Apache-2.0

package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// PersistError reports a failed state save. The in-memory mutation has
// already been applied when this is returned; callers log it and
// continue rather than unwinding room state.
type PersistError struct {
	Path string
	Err  error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("state: persisting %s: %v", e.Path, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }

// Store owns the persisted BotState and the in-memory run registry.
//
// Lock order: persistMu before mu. The state mutex is held only for
// in-memory reads and mutation; the persist mutex serializes file
// writes so snapshots reach the disk in the order they were taken.
type Store struct {
	path string

	mu    sync.Mutex
	state BotState

	// runs maps room ID to the cancel function of its live run.
	// Presence means a run is active. Never serialized.
	runs map[string]context.CancelFunc

	persistMu sync.Mutex
}

// Open loads the snapshot at path, creating an empty store when the
// file does not exist yet. Transient fields (wizard progress, stop
// flags) are reset: they describe conversations and runs that did not
// survive the restart.
func Open(path string) (*Store, error) {
	store := &Store{
		path: path,
		state: BotState{
			SchemaVersion: schemaVersion,
			Rooms:         make(map[string]*RoomState),
		},
		runs: make(map[string]context.CancelFunc),
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return store, nil
	}
	if err != nil {
		return nil, fmt.Errorf("state: reading %s: %w", path, err)
	}

	var loaded BotState
	if err := json.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("state: parsing %s: %w", path, err)
	}
	if loaded.SchemaVersion > schemaVersion {
		return nil, fmt.Errorf("state: %s has schema version %d, this binary understands up to %d",
			path, loaded.SchemaVersion, schemaVersion)
	}
	if loaded.Rooms == nil {
		loaded.Rooms = make(map[string]*RoomState)
	}
	loaded.SchemaVersion = schemaVersion
	for _, room := range loaded.Rooms {
		room.Wizard.reset()
		room.StopRequested = false
	}
	store.state = loaded
	return store, nil
}

// Room returns a snapshot of the room's state, creating the room if it
// is new. The snapshot is a deep copy: mutating it does not touch the
// store. All writes go through Update.
func (store *Store) Room(roomID string) RoomState {
	store.mu.Lock()
	defer store.mu.Unlock()
	return *store.room(roomID).clone()
}

// room returns the live entry. Callers hold store.mu.
func (store *Store) room(roomID string) *RoomState {
	room, ok := store.state.Rooms[roomID]
	if !ok {
		room = &RoomState{}
		store.state.Rooms[roomID] = room
	}
	return room
}

// Update applies mutate to the room under the lock, then persists the
// whole snapshot. The callback must not block: no chat sends, no
// provider calls, no file I/O. A *PersistError return means the
// mutation took effect in memory but the save failed.
func (store *Store) Update(roomID string, mutate func(*RoomState)) error {
	store.mu.Lock()
	mutate(store.room(roomID))
	store.mu.Unlock()
	return store.Save()
}

// Save writes the current snapshot to the state file atomically:
// marshal under the lock, then write-temp, fsync, rename outside it.
func (store *Store) Save() error {
	store.persistMu.Lock()
	defer store.persistMu.Unlock()

	store.mu.Lock()
	data, err := json.MarshalIndent(store.state, "", "  ")
	store.mu.Unlock()
	if err != nil {
		return &PersistError{Path: store.path, Err: err}
	}
	data = append(data, '\n')

	if err := writeFileAtomic(store.path, data); err != nil {
		return &PersistError{Path: store.path, Err: err}
	}
	return nil
}

// BeginRun registers a live run for the room. Returns false when a run
// is already active: at most one run per room, enforced here rather
// than by every caller. The cancel function is invoked by CancelRun
// for instant aborts.
func (store *Store) BeginRun(roomID string, cancel context.CancelFunc) bool {
	store.mu.Lock()
	defer store.mu.Unlock()
	if _, active := store.runs[roomID]; active {
		return false
	}
	store.runs[roomID] = cancel
	return true
}

// EndRun clears the room's live-run registration. Idempotent.
func (store *Store) EndRun(roomID string) {
	store.mu.Lock()
	defer store.mu.Unlock()
	delete(store.runs, roomID)
}

// RunActive reports whether the room has a live run.
func (store *Store) RunActive(roomID string) bool {
	store.mu.Lock()
	defer store.mu.Unlock()
	_, active := store.runs[roomID]
	return active
}

// CancelRun invokes the live run's cancel function, aborting any
// in-flight provider call. The registration stays until the run
// goroutine observes the cancellation and calls EndRun. Returns false
// when no run is active.
func (store *Store) CancelRun(roomID string) bool {
	store.mu.Lock()
	cancel, active := store.runs[roomID]
	store.mu.Unlock()
	if !active {
		return false
	}
	cancel()
	return true
}

// writeFileAtomic writes data to a temporary file in path's directory,
// fsyncs it, renames it over path, and fsyncs the directory so the
// rename survives power loss.
func writeFileAtomic(path string, data []byte) error {
	temporaryPath := path + ".tmp"

	file, err := os.OpenFile(temporaryPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating temporary file: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("writing temporary file: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("syncing temporary file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("closing temporary file: %w", err)
	}

	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("renaming into place: %w", err)
	}

	directory, err := os.Open(filepath.Dir(path))
	if err == nil {
		directory.Sync()
		directory.Close()
	}
	return nil
}
