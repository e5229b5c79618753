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

// OpenAI implements [Provider] for the OpenAI Chat Completions API
// and everything wire-compatible with it (OpenRouter, vLLM, Ollama,
// llama.cpp). The base URL selects the deployment; by OpenAI SDK
// convention it already contains the version segment
// ("https://api.openai.com/v1").
type OpenAI struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// NewOpenAI creates a chat-completions client. The API key is sent as
// a bearer token.
func NewOpenAI(httpClient *http.Client, baseURL, apiKey string) *OpenAI {
	return &OpenAI{
		httpClient: httpClient,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
	}
}

// Complete sends a non-streaming request and returns the full response.
func (provider *OpenAI) Complete(ctx context.Context, request Request) (*Response, error) {
	httpResponse, err := doRequest(ctx, provider.httpClient, provider.endpoint(),
		provider.buildRequest(request, false), provider.headers(), "llm/openai", false)
	if err != nil {
		return nil, err
	}
	defer httpResponse.Body.Close()

	var wire openaiResponse
	if err := json.NewDecoder(httpResponse.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("llm/openai: decoding response: %w", err)
	}
	return wire.toResponse(), nil
}

// Stream sends a streaming request and returns an [EventStream] of
// text deltas.
func (provider *OpenAI) Stream(ctx context.Context, request Request) (*EventStream, error) {
	httpResponse, err := doRequest(ctx, provider.httpClient, provider.endpoint(),
		provider.buildRequest(request, true), provider.headers(), "llm/openai", true)
	if err != nil {
		return nil, err
	}
	return provider.newEventStream(httpResponse.Body), nil
}

func (provider *OpenAI) endpoint() string {
	return provider.baseURL + "/chat/completions"
}

func (provider *OpenAI) headers() map[string]string {
	return map[string]string{
		"Authorization": "Bearer " + provider.apiKey,
	}
}

// buildRequest converts a Request to chat-completions wire format.
// The system prompt becomes the first message.
func (provider *OpenAI) buildRequest(request Request, stream bool) openaiRequest {
	wire := openaiRequest{
		Model:     request.Model,
		MaxTokens: request.MaxTokens,
	}
	if request.System != "" {
		wire.Messages = append(wire.Messages, openaiMessage{Role: "system", Content: request.System})
	}
	wire.Messages = append(wire.Messages, openaiMessage{Role: "user", Content: request.Prompt})
	if stream {
		wire.Stream = true
		wire.StreamOptions = &openaiStreamOptions{IncludeUsage: true}
	}
	return wire
}

// newEventStream parses chat-completion SSE chunks into text deltas.
// The protocol ends with a literal "data: [DONE]" line; when
// stream_options.include_usage is set, the chunk before it carries
// usage with an empty choices array.
func (provider *OpenAI) newEventStream(body io.ReadCloser) *EventStream {
	sseScanner := NewSSEScanner(body)

	var stream *EventStream
	stream = newEventStream(func() (string, error) {
		for {
			if !sseScanner.Next() {
				if err := sseScanner.Err(); err != nil {
					return "", fmt.Errorf("llm/openai: reading SSE: %w", err)
				}
				return "", io.EOF
			}

			sseEvent := sseScanner.Event()
			if sseEvent.Data == "[DONE]" {
				return "", io.EOF
			}

			var chunk openaiStreamChunk
			if err := json.Unmarshal([]byte(sseEvent.Data), &chunk); err != nil {
				return "", fmt.Errorf("llm/openai: parsing stream chunk: %w", err)
			}

			// Errors arrive as plain data lines with an "error" field
			// rather than an SSE event type.
			if len(chunk.Choices) == 0 && chunk.Usage == nil {
				var envelope struct {
					Error struct {
						Type    string `json:"type"`
						Message string `json:"message"`
					} `json:"error"`
				}
				if json.Unmarshal([]byte(sseEvent.Data), &envelope) == nil && envelope.Error.Message != "" {
					return "", fmt.Errorf("llm/openai: stream error: %s: %s",
						envelope.Error.Type, envelope.Error.Message)
				}
			}

			if chunk.Usage != nil {
				stream.usage.InputTokens = chunk.Usage.PromptTokens
				stream.usage.OutputTokens = chunk.Usage.CompletionTokens
			}

			if len(chunk.Choices) > 0 {
				if delta := chunk.Choices[0].Delta.Content; delta != "" {
					return delta, nil
				}
			}
		}
	}, body)

	return stream
}

// Wire types for the Chat Completions API.

type openaiRequest struct {
	Model         string               `json:"model"`
	Messages      []openaiMessage      `json:"messages"`
	MaxTokens     int                  `json:"max_tokens,omitempty"`
	Stream        bool                 `json:"stream,omitempty"`
	StreamOptions *openaiStreamOptions `json:"stream_options,omitempty"`
}

type openaiStreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiResponse struct {
	Choices []openaiChoice `json:"choices"`
	Usage   openaiUsage    `json:"usage"`
}

type openaiChoice struct {
	Message      openaiMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type openaiUsage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
}

// Streaming chunks use "delta" in place of "message".

type openaiStreamChunk struct {
	Choices []openaiStreamChoice `json:"choices"`
	Usage   *openaiUsage         `json:"usage,omitempty"`
}

type openaiStreamChoice struct {
	Delta        openaiStreamDelta `json:"delta"`
	FinishReason *string           `json:"finish_reason"`
}

type openaiStreamDelta struct {
	Content string `json:"content,omitempty"`
}

func (wire *openaiResponse) toResponse() *Response {
	response := &Response{
		Usage: Usage{
			InputTokens:  wire.Usage.PromptTokens,
			OutputTokens: wire.Usage.CompletionTokens,
		},
	}
	if len(wire.Choices) > 0 {
		response.Text = wire.Choices[0].Message.Content
	}
	return response
}
