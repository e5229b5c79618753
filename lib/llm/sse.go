// Copyright 2026 The Foreman Authors
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"bufio"
	"io"
	"strings"
)

// SSEEvent is one Server-Sent Event.
type SSEEvent struct {
	// Type is the value of the "event:" field, or empty for the
	// default event type.
	Type string

	// Data is the payload. Multiple "data:" lines in one event are
	// joined with newlines per the SSE specification.
	Data string
}

// SSEScanner reads Server-Sent Events from a stream. Events are
// blocks of "field: value" lines separated by blank lines; comment
// lines (leading ":") and fields other than event/data are ignored.
//
//	scanner := NewSSEScanner(body)
//	for scanner.Next() {
//	    event := scanner.Event()
//	    ...
//	}
//	if err := scanner.Err(); err != nil { ... }
type SSEScanner struct {
	lines   *bufio.Scanner
	current SSEEvent
	err     error
	done    bool
}

// sseMaxLineSize bounds a single SSE line. Model responses arrive as
// many small deltas; a line near this size means a broken stream.
const sseMaxLineSize = 1 << 20

// NewSSEScanner creates a scanner reading from reader.
func NewSSEScanner(reader io.Reader) *SSEScanner {
	lines := bufio.NewScanner(reader)
	lines.Buffer(make([]byte, 0, 64*1024), sseMaxLineSize)
	return &SSEScanner{lines: lines}
}

// Next advances to the next event. Returns false at end of stream or
// on error; check [Err] afterwards to tell the two apart.
func (scanner *SSEScanner) Next() bool {
	if scanner.done {
		return false
	}

	var eventType string
	var data []string

	flush := func() bool {
		if len(data) == 0 {
			eventType = ""
			return false
		}
		scanner.current = SSEEvent{Type: eventType, Data: strings.Join(data, "\n")}
		return true
	}

	for scanner.lines.Scan() {
		// bufio.ScanLines strips \n and \r\n endings.
		line := scanner.lines.Text()

		// Blank line dispatches the accumulated event.
		if line == "" {
			if flush() {
				return true
			}
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		if field == "" {
			continue // comment line
		}
		// One leading space after the colon is part of the syntax.
		value = strings.TrimPrefix(value, " ")

		switch field {
		case "data":
			data = append(data, value)
		case "event":
			eventType = value
		}
	}

	scanner.done = true
	scanner.err = scanner.lines.Err()

	// A stream that ends without a final blank line still dispatches
	// its last event.
	return scanner.err == nil && flush()
}

// Event returns the event parsed by the last successful [Next].
func (scanner *SSEScanner) Event() SSEEvent {
	return scanner.current
}

// Err returns the first read error, or nil if the stream ended
// cleanly.
func (scanner *SSEScanner) Err() error {
	return scanner.err
}
