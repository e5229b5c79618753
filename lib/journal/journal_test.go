// Copyright 2026 The Foreman Authors
// SPDX-License-Identifier: Apache-2.0

package journal

import (
	"crypto/rand"
	"errors"
	"io"
	"os"
	"testing"
	"time"
)

func writeTestJournal(t *testing.T, dir, runID string, steps int) {
	t.Helper()
	writer, err := Create(dir, runID)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	for step := 1; step <= steps; step++ {
		err := writer.Append(Record{
			RunID:        runID,
			Step:         step,
			Phase:        "execution",
			Time:         time.Date(2026, 3, 1, 12, 0, step, 0, time.UTC),
			PromptDigest: DigestString("prompt"),
			Actions: []ActionRecord{{
				Kind:         "shell",
				Target:       "go test ./...",
				OutputSize:   42,
				OutputDigest: DigestString("ok\n"),
			}},
		})
		if err != nil {
			t.Fatalf("Append step %d: %v", step, err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func readAll(t *testing.T, path string) ([]Record, *Reader) {
	t.Helper()
	reader, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	var records []Record
	for {
		record, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return records, reader
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		records = append(records, record)
	}
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeTestJournal(t, dir, "run-1", 3)

	records, reader := readAll(t, Path(dir, "run-1"))
	if len(records) != 3 {
		t.Fatalf("read %d records, want 3", len(records))
	}
	if reader.Truncated() {
		t.Error("clean journal reported as truncated")
	}
	for index, record := range records {
		if record.Step != index+1 {
			t.Errorf("record %d has step %d", index, record.Step)
		}
		if record.RunID != "run-1" || record.Phase != "execution" {
			t.Errorf("record %d = %+v", index, record)
		}
		if len(record.Actions) != 1 || record.Actions[0].Kind != "shell" {
			t.Errorf("record %d actions = %+v", index, record.Actions)
		}
	}
}

func TestTornTailStopsCleanly(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeTestJournal(t, dir, "run-1", 3)
	path := Path(dir, "run-1")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	// Chop into the final record, as a crash mid-append would.
	if err := os.WriteFile(path, data[:len(data)-5], 0o600); err != nil {
		t.Fatal(err)
	}

	records, reader := readAll(t, path)
	if len(records) != 2 {
		t.Fatalf("read %d records from torn journal, want 2", len(records))
	}
	if !reader.Truncated() {
		t.Error("torn journal not reported as truncated")
	}
}

func TestArchiveZstdRoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeTestJournal(t, dir, "run-1", 20)
	path := Path(dir, "run-1")

	archivePath, err := Archive(path, CodecZstd)
	if err != nil {
		t.Fatalf("Archive: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("original journal survived archiving")
	}

	records, _ := readAll(t, archivePath)
	if len(records) != 20 {
		t.Errorf("archived journal yielded %d records, want 20", len(records))
	}
}

func TestArchiveLZ4RoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeTestJournal(t, dir, "run-1", 20)

	archivePath, err := Archive(Path(dir, "run-1"), CodecLZ4)
	if err != nil {
		t.Fatalf("Archive: %v", err)
	}
	records, _ := readAll(t, archivePath)
	if len(records) != 20 {
		t.Errorf("archived journal yielded %d records, want 20", len(records))
	}
}

func TestIncompressiblePayloadStoredRaw(t *testing.T) {
	t.Parallel()

	noise := make([]byte, 512)
	if _, err := rand.Read(noise); err != nil {
		t.Fatal(err)
	}

	for _, codec := range []Codec{CodecZstd, CodecLZ4} {
		container, err := encodeContainer(noise, codec)
		if err != nil {
			t.Fatalf("encodeContainer(%s): %v", codec, err)
		}
		if Codec(container[0]) != CodecRaw {
			t.Errorf("%s container of random bytes uses tag %s, want raw", codec, Codec(container[0]))
		}
		unpacked, err := decodeContainer(container)
		if err != nil {
			t.Fatalf("decodeContainer: %v", err)
		}
		if string(unpacked) != string(noise) {
			t.Error("raw container did not round-trip")
		}
	}
}

func TestDecodeContainerRejectsGarbage(t *testing.T) {
	t.Parallel()

	if _, err := decodeContainer([]byte{9, 4, 'a', 'b'}); err == nil {
		t.Error("unknown codec tag accepted")
	}
	if _, err := decodeContainer([]byte{0}); err == nil {
		t.Error("short container accepted")
	}
	if _, err := decodeContainer([]byte{0, 10, 'a'}); err == nil {
		t.Error("size mismatch accepted")
	}
}

func TestDeterministicEncoding(t *testing.T) {
	t.Parallel()

	record := Record{
		RunID: "run-1",
		Step:  1,
		Phase: "planning",
		Time:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	first, err := encMode.Marshal(record)
	if err != nil {
		t.Fatal(err)
	}
	second, err := encMode.Marshal(record)
	if err != nil {
		t.Fatal(err)
	}
	if string(first) != string(second) {
		t.Error("identical records encoded differently")
	}
}

func TestList(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeTestJournal(t, dir, "run-old", 2)
	writeTestJournal(t, dir, "run-new", 2)
	if _, err := Archive(Path(dir, "run-old"), CodecZstd); err != nil {
		t.Fatalf("Archive: %v", err)
	}
	// Not a journal; List skips it.
	if err := os.WriteFile(dir+"/notes.txt", []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	entries, err := List(dir)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("List returned %d entries, want 2", len(entries))
	}
	byID := map[string]Entry{}
	for _, entry := range entries {
		byID[entry.RunID] = entry
	}
	if !byID["run-old"].Archived {
		t.Error("archived journal not flagged")
	}
	if byID["run-new"].Archived {
		t.Error("raw journal flagged as archived")
	}
}

func TestDigestStable(t *testing.T) {
	t.Parallel()

	first := DigestString("content")
	second := DigestString("content")
	if first != second {
		t.Error("same input produced different digests")
	}
	if len(first) != 64 {
		t.Errorf("digest length = %d, want 64 hex chars", len(first))
	}
	if DigestString("other") == first {
		t.Error("different inputs produced the same digest")
	}
}
