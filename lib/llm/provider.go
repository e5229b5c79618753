// Copyright 2026 The Foreman Authors
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Provider is the interface the engine calls models through.
// Implementations translate between these common types and each
// vendor's wire format.
type Provider interface {
	// Complete sends a request and blocks until the full response is
	// available.
	Complete(ctx context.Context, request Request) (*Response, error)
}

// Request is a single-turn completion request. Foreman builds a fresh
// prompt every engine iteration, so there is no message history here:
// prior exchanges are rendered into Prompt by the caller.
type Request struct {
	Model  string
	System string
	Prompt string

	// MaxTokens bounds the response. Zero lets the client pick its
	// default.
	MaxTokens int
}

// Response is a completed model turn.
type Response struct {
	Text  string
	Usage Usage
}

// Usage reports token consumption for one request.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

// ProviderError is returned when a model API responds with an error.
type ProviderError struct {
	// StatusCode is the HTTP status code.
	StatusCode int

	// Type is the provider's error type string
	// (e.g. "rate_limit_error", "invalid_request_error").
	Type string

	// Message is the human-readable description.
	Message string
}

func (err *ProviderError) Error() string {
	if err.Type != "" {
		return fmt.Sprintf("llm: HTTP %d: %s: %s", err.StatusCode, err.Type, err.Message)
	}
	return fmt.Sprintf("llm: HTTP %d: %s", err.StatusCode, err.Message)
}

// Transient reports whether retrying the request can help. Rate
// limits, overload, and server errors are transient; authentication
// and malformed-request errors are not.
func (err *ProviderError) Transient() bool {
	return err.StatusCode == http.StatusTooManyRequests || err.StatusCode >= 500
}

// IsRateLimited reports whether the error is a rate limit response.
func (err *ProviderError) IsRateLimited() bool {
	return err.StatusCode == http.StatusTooManyRequests
}

// EventStream reads text deltas from a streaming response while
// accumulating the complete [Response]. After [Next] returns
// [io.EOF], call [Response] for the accumulated result. Not safe for
// concurrent use.
type EventStream struct {
	next   func() (string, error)
	closer io.Closer

	text  strings.Builder
	usage Usage
	done  bool
}

// newEventStream wraps a provider-specific iteration function and the
// HTTP response body it reads from. The next function returns one
// text delta per call and io.EOF when the stream is complete.
func newEventStream(next func() (string, error), closer io.Closer) *EventStream {
	return &EventStream{next: next, closer: closer}
}

// Next returns the next text delta. Returns io.EOF when the stream is
// complete; any other error means the stream is broken and the
// accumulated response is partial.
func (stream *EventStream) Next() (string, error) {
	if stream.done {
		return "", io.EOF
	}

	delta, err := stream.next()
	if err != nil {
		if err == io.EOF {
			stream.done = true
		}
		return "", err
	}

	stream.text.WriteString(delta)
	return delta, nil
}

// Response returns the response accumulated so far. Complete only
// after [Next] has returned io.EOF.
func (stream *EventStream) Response() *Response {
	return &Response{Text: stream.text.String(), Usage: stream.usage}
}

// Close releases the underlying HTTP response body. Must be called
// even when iteration ended early.
func (stream *EventStream) Close() error {
	if stream.closer != nil {
		return stream.closer.Close()
	}
	return nil
}

// doRequest marshals wire as JSON and POSTs it. headers are set on
// the request after Content-Type (and Accept, when streaming). A
// non-200 status is decoded into a [ProviderError] and the body is
// closed; on success the caller owns the body.
func doRequest(ctx context.Context, httpClient *http.Client, endpoint string, wire any, headers map[string]string, prefix string, streaming bool) (*http.Response, error) {
	body, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("%s: marshaling request: %w", prefix, err)
	}

	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodPost,
		endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s: creating request: %w", prefix, err)
	}
	httpRequest.Header.Set("Content-Type", "application/json")
	if streaming {
		httpRequest.Header.Set("Accept", "text/event-stream")
	}
	for name, value := range headers {
		httpRequest.Header.Set(name, value)
	}

	httpResponse, err := httpClient.Do(httpRequest)
	if err != nil {
		return nil, fmt.Errorf("%s: sending request: %w", prefix, err)
	}

	if httpResponse.StatusCode != http.StatusOK {
		defer httpResponse.Body.Close()
		return nil, readProviderError(httpResponse)
	}

	return httpResponse, nil
}

// readProviderError parses the error envelope shared by Anthropic,
// OpenAI, and compatible APIs: {"error":{"type":"...","message":"..."}}.
// Bodies that don't match are carried verbatim in Message.
func readProviderError(httpResponse *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(httpResponse.Body, 4096))

	var envelope struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &envelope) == nil && envelope.Error.Message != "" {
		return &ProviderError{
			StatusCode: httpResponse.StatusCode,
			Type:       envelope.Error.Type,
			Message:    envelope.Error.Message,
		}
	}

	return &ProviderError{
		StatusCode: httpResponse.StatusCode,
		Message:    strings.TrimSpace(string(body)),
	}
}
