// Copyright 2026 The Foreman Authors
// SPDX-License-Identifier: Apache-2.0

package journal

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"
)

// encMode is the CBOR encoder configured with Core Deterministic
// Encoding: sorted map keys, smallest integer encoding, no
// indefinite-length items.
var encMode cbor.EncMode

// decMode accepts standard CBOR and ignores unknown fields for
// forward compatibility.
var decMode cbor.DecMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("journal: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("journal: CBOR decoder initialization failed: " + err.Error())
	}
}

// ActionRecord summarizes one executed action. Outputs and written
// content are recorded as sizes and digests, not bodies: the journal
// tracks what happened without duplicating the project tree.
type ActionRecord struct {
	Kind         string `cbor:"kind"`
	Target       string `cbor:"target,omitempty"`
	OutputSize   int    `cbor:"output_size,omitempty"`
	OutputDigest string `cbor:"output_digest,omitempty"`
}

// Record is one engine iteration.
type Record struct {
	RunID          string         `cbor:"run_id"`
	Step           int            `cbor:"step"`
	Phase          string         `cbor:"phase"`
	Time           time.Time      `cbor:"time"`
	PromptDigest   string         `cbor:"prompt_digest,omitempty"`
	ResponseDigest string         `cbor:"response_digest,omitempty"`
	Actions        []ActionRecord `cbor:"actions,omitempty"`
}

// Digest returns the hex BLAKE3 digest used throughout journal
// records.
func Digest(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// DigestString is Digest over a string, saving the conversion at call
// sites.
func DigestString(data string) string {
	return Digest([]byte(data))
}

// Path returns the raw journal path for a run inside dir.
func Path(dir, runID string) string {
	return filepath.Join(dir, runID+".journal")
}

// Writer appends records to a run's journal file.
type Writer struct {
	file *os.File
}

// Create opens the journal for a run, creating the directory as
// needed. The file is opened append-only: concurrent historical reads
// see a consistent prefix.
func Create(dir, runID string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("journal: creating directory %s: %w", dir, err)
	}
	file, err := os.OpenFile(Path(dir, runID), os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("journal: opening journal for run %s: %w", runID, err)
	}
	return &Writer{file: file}, nil
}

// Append encodes the record and writes it with a uvarint length
// prefix. The prefix and payload go out in one write call so a crash
// tears at most the final record.
func (w *Writer) Append(record Record) error {
	payload, err := encMode.Marshal(record)
	if err != nil {
		return fmt.Errorf("journal: encoding record: %w", err)
	}
	framed := binary.AppendUvarint(nil, uint64(len(payload)))
	framed = append(framed, payload...)
	if _, err := w.file.Write(framed); err != nil {
		return fmt.Errorf("journal: appending record: %w", err)
	}
	return nil
}

// Close syncs and closes the journal file.
func (w *Writer) Close() error {
	if err := w.file.Sync(); err != nil {
		w.file.Close()
		return fmt.Errorf("journal: syncing journal: %w", err)
	}
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("journal: closing journal: %w", err)
	}
	return nil
}

// Reader iterates the records of a loaded journal.
type Reader struct {
	data      []byte
	offset    int
	truncated bool
}

// Open loads a journal, raw or archived, and returns a Reader over its
// records.
func Open(path string) (*Reader, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("journal: reading %s: %w", path, err)
	}
	if isArchivePath(path) {
		data, err = decodeContainer(data)
		if err != nil {
			return nil, fmt.Errorf("journal: unpacking archive %s: %w", path, err)
		}
	}
	return &Reader{data: data}, nil
}

// Next returns the next record. io.EOF signals the end; a torn final
// record (crash mid-append) also ends iteration and sets Truncated.
func (r *Reader) Next() (Record, error) {
	if r.offset >= len(r.data) {
		return Record{}, io.EOF
	}
	length, prefixSize := binary.Uvarint(r.data[r.offset:])
	if prefixSize <= 0 || length > uint64(len(r.data)-r.offset-prefixSize) {
		r.truncated = true
		r.offset = len(r.data)
		return Record{}, io.EOF
	}
	start := r.offset + prefixSize
	end := start + int(length)

	var record Record
	if err := decMode.Unmarshal(r.data[start:end], &record); err != nil {
		return Record{}, fmt.Errorf("journal: decoding record at offset %d: %w", r.offset, err)
	}
	r.offset = end
	return record, nil
}

// Truncated reports whether the journal ended mid-record. Valid after
// Next has returned io.EOF.
func (r *Reader) Truncated() bool {
	return r.truncated
}

// Entry describes one journal found by List.
type Entry struct {
	RunID    string
	Path     string
	Archived bool
	Size     int64
	ModTime  time.Time
}

// List returns the journals in dir, newest first.
func List(dir string) ([]Entry, error) {
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("journal: listing %s: %w", dir, err)
	}
	var entries []Entry
	for _, dirEntry := range dirEntries {
		if dirEntry.IsDir() {
			continue
		}
		name := dirEntry.Name()
		runID, archived, ok := parseJournalName(name)
		if !ok {
			continue
		}
		info, err := dirEntry.Info()
		if err != nil {
			continue
		}
		entries = append(entries, Entry{
			RunID:    runID,
			Path:     filepath.Join(dir, name),
			Archived: archived,
			Size:     info.Size(),
			ModTime:  info.ModTime(),
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].ModTime.After(entries[j].ModTime)
	})
	return entries, nil
}

// parseJournalName splits a directory entry into run ID and archive
// flag. Returns ok=false for files that are not journals.
func parseJournalName(name string) (runID string, archived bool, ok bool) {
	if runID, found := strings.CutSuffix(name, ".journal"+archiveSuffix); found {
		return runID, true, true
	}
	if runID, found := strings.CutSuffix(name, ".journal"); found {
		return runID, false, true
	}
	return "", false, false
}

func isArchivePath(path string) bool {
	return strings.HasSuffix(path, archiveSuffix)
}
