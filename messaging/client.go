// Copyright 2026 The Foreman Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// maxResponseSize caps how much of a homeserver response body is read.
// Sync responses for busy rooms are the largest payloads foreman sees;
// 10 MiB leaves generous headroom.
const maxResponseSize = 10 << 20

// ClientConfig holds configuration for connecting to a homeserver.
type ClientConfig struct {
	// HomeserverURL is the base URL of the Matrix homeserver
	// (e.g., "https://matrix.example.org").
	HomeserverURL string
	// DisplayName, when set, is applied to the bot's profile after
	// login. Failures are logged, not fatal.
	DisplayName string
	// HTTPClient is used for all requests. If nil, http.DefaultClient
	// is used. Long-poll sync calls require a client without a global
	// timeout (or one comfortably above 30s).
	HTTPClient *http.Client
	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Client is an authenticated Matrix client bound to one bot account.
// Create one with Login or FromToken. Methods are safe for concurrent
// use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger

	userID      string
	accessToken string
	deviceID    string

	// transactionCounter generates unique transaction IDs for
	// idempotent event sends.
	transactionCounter atomic.Int64
}

// Login authenticates with m.login.password and returns a ready Client.
// When config.DisplayName is set it is applied best-effort after login.
func Login(ctx context.Context, config ClientConfig, username, password string) (*Client, error) {
	if username == "" {
		return nil, fmt.Errorf("messaging: username is required for login")
	}
	if password == "" {
		return nil, fmt.Errorf("messaging: password is required for login")
	}

	client, err := newClient(config)
	if err != nil {
		return nil, err
	}

	loginRequest := LoginRequest{
		Type:                     "m.login.password",
		User:                     username,
		Password:                 password,
		InitialDeviceDisplayName: "foreman",
	}
	body, err := client.doRequest(ctx, http.MethodPost, "/_matrix/client/v3/login", false, loginRequest)
	if err != nil {
		return nil, fmt.Errorf("messaging: login failed: %w", err)
	}

	var auth AuthResponse
	if err := json.Unmarshal(body, &auth); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse login response: %w", err)
	}
	client.userID = auth.UserID
	client.accessToken = auth.AccessToken
	client.deviceID = auth.DeviceID

	client.logger.Info("logged in to matrix",
		"user_id", auth.UserID,
		"device_id", auth.DeviceID,
	)

	if config.DisplayName != "" {
		if err := client.SetDisplayName(ctx, config.DisplayName); err != nil {
			client.logger.Warn("failed to set display name",
				"display_name", config.DisplayName,
				"error", err,
			)
		}
	}
	return client, nil
}

// FromToken creates a Client from an existing access token. The token
// is not validated; the first API call fails if it is invalid or
// expired. userID must be the fully-qualified Matrix user ID
// (e.g., "@foreman:example.org").
func FromToken(config ClientConfig, userID, accessToken string) (*Client, error) {
	client, err := newClient(config)
	if err != nil {
		return nil, err
	}
	client.userID = userID
	client.accessToken = accessToken
	return client, nil
}

func newClient(config ClientConfig) (*Client, error) {
	if config.HomeserverURL == "" {
		return nil, fmt.Errorf("messaging: HomeserverURL is required")
	}

	// Validate the URL structure. We store the string form (with
	// trailing slash stripped) and build request URLs by direct
	// concatenation. This avoids double-encoding issues with Go's
	// url.URL.String(), which re-encodes Path even when RawPath is set
	// if it doesn't consider RawPath a valid encoding of Path.
	if _, err := url.Parse(config.HomeserverURL); err != nil {
		return nil, fmt.Errorf("messaging: invalid HomeserverURL %q: %w", config.HomeserverURL, err)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:    strings.TrimRight(config.HomeserverURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// UserID returns the fully-qualified Matrix user ID of the bot account.
func (c *Client) UserID() string {
	return c.userID
}

// DeviceID returns the device ID issued at login. Empty for clients
// created with FromToken.
func (c *Client) DeviceID() string {
	return c.deviceID
}

// CloseIdleConnections closes idle HTTP connections in the underlying
// transport's pool. Called after a sync error to force the next request
// onto a fresh TCP connection instead of a poisoned pooled one.
func (c *Client) CloseIdleConnections() {
	c.httpClient.CloseIdleConnections()
}

// SetDisplayName sets the bot account's profile display name.
func (c *Client) SetDisplayName(ctx context.Context, name string) error {
	path := "/_matrix/client/v3/profile/" + url.PathEscape(c.userID) + "/displayname"
	_, err := c.doRequest(ctx, http.MethodPut, path, true, DisplayNameRequest{DisplayName: name})
	if err != nil {
		return fmt.Errorf("messaging: set display name failed: %w", err)
	}
	return nil
}

// JoinRoom joins a room by ID. Returns the server's canonical room ID.
func (c *Client) JoinRoom(ctx context.Context, roomID string) (string, error) {
	path := "/_matrix/client/v3/join/" + url.PathEscape(roomID)
	body, err := c.doRequest(ctx, http.MethodPost, path, true, struct{}{})
	if err != nil {
		return "", fmt.Errorf("messaging: join room %s failed: %w", roomID, err)
	}

	var response struct {
		RoomID string `json:"room_id"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return "", fmt.Errorf("messaging: failed to parse join response: %w", err)
	}
	return response.RoomID, nil
}

// JoinedRooms returns the room IDs the bot account has joined.
func (c *Client) JoinedRooms(ctx context.Context) ([]string, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/_matrix/client/v3/joined_rooms", true, nil)
	if err != nil {
		return nil, fmt.Errorf("messaging: joined rooms failed: %w", err)
	}

	var response JoinedRoomsResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse joined rooms response: %w", err)
	}
	return response.JoinedRooms, nil
}

// Sync performs one /sync call. For the initial position-fixing sync,
// leave options.Since empty and set a zero timeout. For long-polling,
// set options.Timeout to the desired hold in milliseconds.
func (c *Client) Sync(ctx context.Context, options SyncOptions) (*SyncResponse, error) {
	query := url.Values{}
	if options.Since != "" {
		query.Set("since", options.Since)
	}
	if options.SetTimeout {
		query.Set("timeout", strconv.Itoa(options.Timeout))
	}
	if options.Filter != "" {
		query.Set("filter", options.Filter)
	}

	body, err := c.doRequest(ctx, http.MethodGet, "/_matrix/client/v3/sync", true, nil, query)
	if err != nil {
		return nil, fmt.Errorf("messaging: sync failed: %w", err)
	}

	var response SyncResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse sync response: %w", err)
	}
	return &response, nil
}

// LatestEventID returns the event ID of the newest timeline event in a
// room, or "" when the room has no timeline events yet.
func (c *Client) LatestEventID(ctx context.Context, roomID string) (string, error) {
	path := fmt.Sprintf("/_matrix/client/v3/rooms/%s/messages", url.PathEscape(roomID))
	query := url.Values{}
	query.Set("dir", "b")
	query.Set("limit", "1")

	body, err := c.doRequest(ctx, http.MethodGet, path, true, nil, query)
	if err != nil {
		return "", fmt.Errorf("messaging: room messages for %s failed: %w", roomID, err)
	}

	var response RoomMessagesResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return "", fmt.Errorf("messaging: failed to parse messages response: %w", err)
	}
	if len(response.Chunk) == 0 {
		return "", nil
	}
	return response.Chunk[0].EventID, nil
}

// doRequest performs an HTTP request to the homeserver and returns the
// response body. On 2xx, returns the body. On 4xx/5xx, returns a
// *MatrixError. authenticated adds the Authorization header; the login
// endpoint is the one caller that goes without.
func (c *Client) doRequest(ctx context.Context, method, path string, authenticated bool, requestBody any, query ...url.Values) ([]byte, error) {
	requestURL := c.baseURL + path
	if len(query) > 0 && query[0] != nil {
		requestURL += "?" + query[0].Encode()
	}

	var bodyReader io.Reader
	if requestBody != nil {
		encoded, err := json.Marshal(requestBody)
		if err != nil {
			return nil, fmt.Errorf("messaging: failed to encode request body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, requestURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("messaging: failed to create request: %w", err)
	}
	if requestBody != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if authenticated {
		request.Header.Set("Authorization", "Bearer "+c.accessToken)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("messaging: request to %s %s failed: %w", method, path, err)
	}
	defer response.Body.Close()

	responseBody, err := io.ReadAll(io.LimitReader(response.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("messaging: failed to read response body: %w", err)
	}

	if response.StatusCode >= 200 && response.StatusCode < 300 {
		return responseBody, nil
	}

	// All Matrix error responses use the same JSON shape.
	var matrixErr MatrixError
	if jsonErr := json.Unmarshal(responseBody, &matrixErr); jsonErr != nil || matrixErr.Code == "" {
		// Server returned non-JSON error. This should not happen with
		// a spec-compliant server, but fail loud with the raw body.
		return nil, fmt.Errorf("messaging: unexpected %d response from %s %s: %s",
			response.StatusCode, method, path, string(responseBody))
	}
	matrixErr.StatusCode = response.StatusCode
	return nil, &matrixErr
}

// nextTransactionID generates a unique transaction ID for idempotent
// event sending. Format: "foreman-<timestamp_ms>-<counter>" to keep IDs
// unique across restarts.
func (c *Client) nextTransactionID() string {
	counter := c.transactionCounter.Add(1)
	return fmt.Sprintf("foreman-%d-%d", time.Now().UnixMilli(), counter)
}
