// Copyright (C) 2025 Saraswati AI (research@saraswati.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// This file contains the Client implementation.
//
// # File Organization
//
//  1. Interfaces (contracts first)
//  2. Configuration structs
//  3. Implementation struct
//  4. Constructor functions
//  5. Methods
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/SaraswatiAI/SaraswatiCanvas/pkg/auth"
)

var tracer = otel.Tracer("saraswati.backend")

// =============================================================================
// INTERFACES
// =============================================================================

// HTTPClient abstracts HTTP execution so tests can inject mock
// transports without a network.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// defaultHTTPClient wraps the standard http.Client.
type defaultHTTPClient struct {
	client *http.Client
}

func (c *defaultHTTPClient) Do(req *http.Request) (*http.Response, error) {
	return c.client.Do(req)
}

var _ HTTPClient = (*defaultHTTPClient)(nil)

// =============================================================================
// CONFIGURATION
// =============================================================================

// Config holds Client configuration.
//
// BaseURL is required. Streaming requests get no client timeout (the
// caller's context bounds them); non-streaming requests use Timeout.
type Config struct {
	// BaseURL of the backend, e.g. "http://localhost:8000".
	BaseURL string

	// Tokens supplies the bearer token for every request. Optional;
	// when nil or empty, requests go out without an Authorization
	// header (local dev backend).
	Tokens auth.TokenSource

	// Timeout for non-streaming requests. Default: 30s.
	Timeout time.Duration

	// Logger for request diagnostics. Default: slog.Default().
	Logger *slog.Logger
}

// =============================================================================
// IMPLEMENTATION
// =============================================================================

// Client talks to the Saraswati backend.
//
// # Thread Safety
//
// Client is immutable after construction and safe for concurrent use.
//
// # Limitations
//
//   - Does not validate BaseURL format
//   - Does not retry; callers own retry policy
type Client struct {
	stream  HTTPClient
	rest    HTTPClient
	baseURL string
	tokens  auth.TokenSource
	logger  *slog.Logger
}

// New creates a Client with production HTTP transports.
func New(config Config) *Client {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	// No timeout on the stream client: an exchange lasts as long as
	// the agent streams, bounded by the caller's context.
	return newClient(
		&defaultHTTPClient{client: &http.Client{}},
		&defaultHTTPClient{client: &http.Client{Timeout: timeout}},
		config,
	)
}

// NewWithClient creates a Client with an injected HTTPClient, used by
// tests to mock the backend. The same client serves streaming and
// REST calls.
func NewWithClient(httpClient HTTPClient, config Config) *Client {
	return newClient(httpClient, httpClient, config)
}

func newClient(streamClient, restClient HTTPClient, config Config) *Client {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		stream:  streamClient,
		rest:    restClient,
		baseURL: config.BaseURL,
		tokens:  config.Tokens,
		logger:  logger,
	}
}

// =============================================================================
// Streaming Endpoints
// =============================================================================

// OpenResearchStream opens the SSE research stream for one exchange.
//
// Returns the response body; the caller must close it when the stream
// ends. A non-200 status is returned as an error with the body
// logged.
func (c *Client) OpenResearchStream(ctx context.Context, req ResearchChatRequest) (io.ReadCloser, error) {
	ctx, span := tracer.Start(ctx, "backend.OpenResearchStream")
	defer span.End()
	span.SetAttributes(attribute.String("project_id", req.ProjectID))

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal research request: %w", err)
	}

	httpReq, err := c.newRequest(ctx, http.MethodPost, "/api/v1/chat/research", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	return c.doStream(httpReq)
}

// OpenGreetingStream opens the greeting SSE stream for a fresh
// canvas. The caller must close the returned body.
func (c *Client) OpenGreetingStream(ctx context.Context, projectID, projectTitle string) (io.ReadCloser, error) {
	ctx, span := tracer.Start(ctx, "backend.OpenGreetingStream")
	defer span.End()
	span.SetAttributes(attribute.String("project_id", projectID))

	query := url.Values{}
	query.Set("project_id", projectID)
	if projectTitle != "" {
		query.Set("project_title", projectTitle)
	}

	httpReq, err := c.newRequest(ctx, http.MethodGet, "/api/v1/chat/research/greeting?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	return c.doStream(httpReq)
}

// doStream executes a streaming request and hands back the open body.
func (c *Client) doStream(req *http.Request) (io.ReadCloser, error) {
	requestID := req.Header.Get("X-Request-ID")

	resp, err := c.stream.Do(req)
	if err != nil {
		c.logger.Error("stream request failed",
			"request_id", requestID,
			"url", req.URL.String(),
			"error", err,
		)
		return nil, fmt.Errorf("open stream: %w", err)
	}

	if err := c.validateResponse(requestID, resp); err != nil {
		return nil, err
	}

	return resp.Body, nil
}

// =============================================================================
// Message History Endpoints
// =============================================================================

// ListMessages fetches all persisted rows for a project. The backend
// returns them oldest-first; callers re-sort on SequenceID anyway.
func (c *Client) ListMessages(ctx context.Context, projectID string) ([]PersistedEvent, error) {
	ctx, span := tracer.Start(ctx, "backend.ListMessages")
	defer span.End()
	span.SetAttributes(attribute.String("project_id", projectID))

	var rows []PersistedEvent
	err := c.doJSON(ctx, http.MethodGet, "/api/v1/projects/"+url.PathEscape(projectID)+"/messages", nil, &rows)
	if err != nil {
		return nil, fmt.Errorf("list messages for %s: %w", projectID, err)
	}
	return rows, nil
}

// SaveMessage persists one row for a project.
func (c *Client) SaveMessage(ctx context.Context, projectID string, row PersistedEvent) error {
	ctx, span := tracer.Start(ctx, "backend.SaveMessage")
	defer span.End()
	span.SetAttributes(
		attribute.String("project_id", projectID),
		attribute.String("msg_type", row.MsgType),
	)

	err := c.doJSON(ctx, http.MethodPost, "/api/v1/projects/"+url.PathEscape(projectID)+"/messages", row, nil)
	if err != nil {
		return fmt.Errorf("save %s message for %s: %w", row.MsgType, projectID, err)
	}
	return nil
}

// ClearMessages deletes all history rows for a project ("start
// fresh").
func (c *Client) ClearMessages(ctx context.Context, projectID string) error {
	ctx, span := tracer.Start(ctx, "backend.ClearMessages")
	defer span.End()
	span.SetAttributes(attribute.String("project_id", projectID))

	err := c.doJSON(ctx, http.MethodDelete, "/api/v1/projects/"+url.PathEscape(projectID)+"/messages", nil, nil)
	if err != nil {
		return fmt.Errorf("clear messages for %s: %w", projectID, err)
	}
	return nil
}

// =============================================================================
// Project Endpoints
// =============================================================================

// ListProjects returns all projects for the authenticated user.
func (c *Client) ListProjects(ctx context.Context) ([]Project, error) {
	var projects []Project
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/projects/", nil, &projects); err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	return projects, nil
}

// CreateProject creates a research project.
func (c *Client) CreateProject(ctx context.Context, body ProjectCreate) (*Project, error) {
	var project Project
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/projects/", body, &project); err != nil {
		return nil, fmt.Errorf("create project: %w", err)
	}
	return &project, nil
}

// GetProject fetches a single project.
func (c *Client) GetProject(ctx context.Context, projectID string) (*Project, error) {
	var project Project
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/projects/"+url.PathEscape(projectID), nil, &project); err != nil {
		return nil, fmt.Errorf("get project %s: %w", projectID, err)
	}
	return &project, nil
}

// =============================================================================
// Note Endpoints
// =============================================================================

// ListNotes fetches all notes for a project.
func (c *Client) ListNotes(ctx context.Context, projectID string) ([]Note, error) {
	var notes []Note
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/projects/"+url.PathEscape(projectID)+"/notes", nil, &notes); err != nil {
		return nil, fmt.Errorf("list notes for %s: %w", projectID, err)
	}
	return notes, nil
}

// AddNote saves a note to a project.
func (c *Client) AddNote(ctx context.Context, projectID string, body NoteCreate) (*Note, error) {
	var note Note
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/projects/"+url.PathEscape(projectID)+"/notes", body, &note); err != nil {
		return nil, fmt.Errorf("add note for %s: %w", projectID, err)
	}
	return &note, nil
}

// =============================================================================
// Internals
// =============================================================================

// newRequest builds a request with request id and bearer header.
func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request %s %s: %w", method, path, err)
	}
	req.Header.Set("X-Request-ID", uuid.New().String())

	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err == nil && token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		} else if err != nil {
			c.logger.Debug("proceeding without bearer token", "error", err)
		}
	}

	return req, nil
}

// doJSON executes a REST request with optional JSON body and decodes
// the response into out when out is non-nil.
func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := c.newRequest(ctx, method, path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.rest.Do(req)
	if err != nil {
		return fmt.Errorf("http %s: %w", method, err)
	}
	defer resp.Body.Close()

	if err := c.validateResponse(req.Header.Get("X-Request-ID"), resp); err != nil {
		return err
	}

	if out == nil {
		// Drain so the connection can be reused
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// validateResponse checks for 200 OK. Reads and logs the error body
// for non-200 responses, consuming it.
func (c *Client) validateResponse(requestID string, resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}

	bodyBytes, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		c.logger.Error("backend returned error (failed to read body)",
			"request_id", requestID,
			"status_code", resp.StatusCode,
			"read_error", err,
		)
		return fmt.Errorf("server error (%d): failed to read response body", resp.StatusCode)
	}

	c.logger.Error("backend returned error",
		"request_id", requestID,
		"status_code", resp.StatusCode,
		"response_body", string(bodyBytes),
	)
	return fmt.Errorf("server error (%d): %s", resp.StatusCode, string(bodyBytes))
}
