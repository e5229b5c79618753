// Copyright 2026 The Foreman Authors
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// anthropicVersion is the API version header every request carries.
const anthropicVersion = "2023-06-01"

// defaultMaxTokens is used when a request does not set MaxTokens. The
// Messages API requires the field.
const defaultMaxTokens = 8192

// Anthropic implements [Provider] for the Anthropic Messages API.
type Anthropic struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// NewAnthropic creates a client for the Messages API at baseURL
// (typically "https://api.anthropic.com"). The API key is sent as the
// x-api-key header; it is never read from the environment here.
func NewAnthropic(httpClient *http.Client, baseURL, apiKey string) *Anthropic {
	return &Anthropic{
		httpClient: httpClient,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
	}
}

// Complete sends a non-streaming request and returns the full response.
func (provider *Anthropic) Complete(ctx context.Context, request Request) (*Response, error) {
	httpResponse, err := doRequest(ctx, provider.httpClient, provider.endpoint(),
		provider.buildRequest(request, false), provider.headers(), "llm/anthropic", false)
	if err != nil {
		return nil, err
	}
	defer httpResponse.Body.Close()

	var wire anthropicResponse
	if err := json.NewDecoder(httpResponse.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("llm/anthropic: decoding response: %w", err)
	}
	return wire.toResponse(), nil
}

// Stream sends a streaming request and returns an [EventStream] of
// text deltas.
func (provider *Anthropic) Stream(ctx context.Context, request Request) (*EventStream, error) {
	httpResponse, err := doRequest(ctx, provider.httpClient, provider.endpoint(),
		provider.buildRequest(request, true), provider.headers(), "llm/anthropic", true)
	if err != nil {
		return nil, err
	}
	return provider.newEventStream(httpResponse.Body), nil
}

func (provider *Anthropic) endpoint() string {
	return provider.baseURL + "/v1/messages"
}

func (provider *Anthropic) headers() map[string]string {
	return map[string]string{
		"x-api-key":         provider.apiKey,
		"anthropic-version": anthropicVersion,
	}
}

// buildRequest converts a Request to Messages API wire format. The
// prompt becomes a single user message.
func (provider *Anthropic) buildRequest(request Request, stream bool) anthropicRequest {
	maxTokens := request.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}
	return anthropicRequest{
		Model:     request.Model,
		MaxTokens: maxTokens,
		System:    request.System,
		Stream:    stream,
		Messages: []anthropicMessage{{
			Role:    "user",
			Content: []anthropicContentBlock{{Type: "text", Text: request.Prompt}},
		}},
	}
}

// newEventStream parses Anthropic SSE events into text deltas. Usage
// arrives split across message_start (input tokens) and message_delta
// (output tokens).
func (provider *Anthropic) newEventStream(body io.ReadCloser) *EventStream {
	sseScanner := NewSSEScanner(body)

	var stream *EventStream
	stream = newEventStream(func() (string, error) {
		for {
			if !sseScanner.Next() {
				if err := sseScanner.Err(); err != nil {
					return "", fmt.Errorf("llm/anthropic: reading SSE: %w", err)
				}
				return "", io.EOF
			}

			sseEvent := sseScanner.Event()
			switch sseEvent.Type {
			case "message_start":
				var envelope struct {
					Message struct {
						Usage anthropicUsage `json:"usage"`
					} `json:"message"`
				}
				if err := json.Unmarshal([]byte(sseEvent.Data), &envelope); err != nil {
					return "", fmt.Errorf("llm/anthropic: parsing message_start: %w", err)
				}
				stream.usage.InputTokens = envelope.Message.Usage.InputTokens

			case "content_block_delta":
				var envelope struct {
					Delta struct {
						Type string `json:"type"`
						Text string `json:"text"`
					} `json:"delta"`
				}
				if err := json.Unmarshal([]byte(sseEvent.Data), &envelope); err != nil {
					return "", fmt.Errorf("llm/anthropic: parsing content_block_delta: %w", err)
				}
				if envelope.Delta.Type == "text_delta" && envelope.Delta.Text != "" {
					return envelope.Delta.Text, nil
				}

			case "message_delta":
				var envelope struct {
					Usage struct {
						OutputTokens int64 `json:"output_tokens"`
					} `json:"usage"`
				}
				if err := json.Unmarshal([]byte(sseEvent.Data), &envelope); err != nil {
					return "", fmt.Errorf("llm/anthropic: parsing message_delta: %w", err)
				}
				stream.usage.OutputTokens += envelope.Usage.OutputTokens

			case "message_stop":
				return "", io.EOF

			case "error":
				var envelope struct {
					Error struct {
						Type    string `json:"type"`
						Message string `json:"message"`
					} `json:"error"`
				}
				if json.Unmarshal([]byte(sseEvent.Data), &envelope) == nil && envelope.Error.Message != "" {
					return "", fmt.Errorf("llm/anthropic: stream error: %s: %s",
						envelope.Error.Type, envelope.Error.Message)
				}
				return "", fmt.Errorf("llm/anthropic: stream error: %s", sseEvent.Data)

			default:
				// ping, content_block_start/stop, and any event types
				// the API adds later carry no text.
			}
		}
	}, body)

	return stream
}

// Wire types for the Messages API. Separate from the public types:
// the wire format is snake_case and represents content as a
// discriminated union.

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
	Stream    bool               `json:"stream,omitempty"`
}

type anthropicMessage struct {
	Role    string                  `json:"role"`
	Content []anthropicContentBlock `json:"content"`
}

type anthropicContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type anthropicResponse struct {
	Content    []anthropicContentBlock `json:"content"`
	StopReason string                  `json:"stop_reason"`
	Usage      anthropicUsage          `json:"usage"`
}

type anthropicUsage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

func (wire *anthropicResponse) toResponse() *Response {
	var text strings.Builder
	for _, block := range wire.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return &Response{
		Text: text.String(),
		Usage: Usage{
			InputTokens:  wire.Usage.InputTokens,
			OutputTokens: wire.Usage.OutputTokens,
		},
	}
}
