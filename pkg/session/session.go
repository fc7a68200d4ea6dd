// Copyright (C) 2025 Saraswati AI (research@saraswati.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package session orchestrates one research chat: it rehydrates
// history on open, runs the send/stream/reduce loop, and keeps the
// persistence synchronizer fed. All network and stream failures are
// contained here; callers see them as transcript entries, not errors.
package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/SaraswatiAI/SaraswatiCanvas/pkg/backend"
	"github.com/SaraswatiAI/SaraswatiCanvas/pkg/conversation"
	"github.com/SaraswatiAI/SaraswatiCanvas/pkg/persist"
	"github.com/SaraswatiAI/SaraswatiCanvas/pkg/stream"
)

var tracer = otel.Tracer("saraswati.session")

var (
	// ErrStreamInFlight is returned by SendMessage while a previous
	// exchange is still streaming.
	ErrStreamInFlight = errors.New("session: a stream is already in flight")

	// ErrEmptyMessage is returned by SendMessage for blank input.
	ErrEmptyMessage = errors.New("session: message is empty")

	// ErrSessionClosed is returned by operations on a closed session.
	ErrSessionClosed = errors.New("session: session is closed")
)

// streamFailureText is shown inline when the research stream cannot
// be opened or dies mid-exchange.
const streamFailureText = "Sorry, I lost the connection to the research service. Please try again."

// =============================================================================
// Interfaces
// =============================================================================

// Backend is the slice of the API client the session drives.
type Backend interface {
	// OpenResearchStream starts one research exchange and returns
	// its SSE body.
	OpenResearchStream(ctx context.Context, req backend.ResearchChatRequest) (io.ReadCloser, error)

	// OpenGreetingStream returns the SSE body of the project
	// greeting.
	OpenGreetingStream(ctx context.Context, projectID, projectTitle string) (io.ReadCloser, error)

	// ListMessages fetches every persisted history row for a
	// project.
	ListMessages(ctx context.Context, projectID string) ([]backend.PersistedEvent, error)
}

// EntryObserver is called after each entry lands in the transcript,
// including rehydrated ones. Called from the streaming goroutine's
// call stack; implementations must not block.
type EntryObserver func(entry conversation.Entry)

// =============================================================================
// Session
// =============================================================================

// Config holds Session configuration.
type Config struct {
	// ProjectID scopes the conversation. Required.
	ProjectID string

	// ProjectTitle is interpolated into the greeting.
	ProjectTitle string

	// Backend performs all API calls. Required.
	Backend Backend

	// Synchronizer receives every terminal entry. Required.
	Synchronizer persist.Synchronizer

	// IDs generates entry IDs. Default: the monotonic generator.
	IDs conversation.IDGenerator

	// Reader decodes SSE bodies. Default: the standard reader.
	Reader stream.StreamReader

	// Observer is notified of appended entries. Optional.
	Observer EntryObserver

	// Logger for session diagnostics. Default: slog.Default().
	Logger *slog.Logger
}

// Session owns one conversation and the single in-flight stream that
// may be mutating it.
type Session struct {
	projectID    string
	projectTitle string
	backend      Backend
	sync         persist.Synchronizer
	reader       stream.StreamReader
	conv         *conversation.Conversation
	observer     EntryObserver
	logger       *slog.Logger

	mu           sync.Mutex
	streaming    bool
	closed       bool
	cancelStream context.CancelFunc
	activePaper  *stream.Paper
}

// New creates a Session. Call Open before SendMessage.
func New(config Config) (*Session, error) {
	if config.ProjectID == "" {
		return nil, errors.New("project ID is required")
	}
	if config.Backend == nil {
		return nil, errors.New("backend is required")
	}
	if config.Synchronizer == nil {
		return nil, errors.New("synchronizer is required")
	}

	ids := config.IDs
	if ids == nil {
		ids = conversation.NewIDGenerator()
	}
	reader := config.Reader
	if reader == nil {
		reader = stream.NewSSEStreamReader(stream.NewSSEParser())
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Session{
		projectID:    config.ProjectID,
		projectTitle: config.ProjectTitle,
		backend:      config.Backend,
		sync:         config.Synchronizer,
		reader:       reader,
		conv:         conversation.NewConversation(ids),
		observer:     config.Observer,
		logger:       logger.With("project_id", config.ProjectID),
	}, nil
}

// =============================================================================
// Open / rehydration
// =============================================================================

// Open loads the project's conversation. Persisted rows are installed
// directly; a brand-new project streams its greeting instead. Open
// never leaves the canvas empty: when both the history fetch and the
// greeting stream fail, a default greeting is synthesized locally.
func (s *Session) Open(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "session.Open")
	defer span.End()
	span.SetAttributes(attribute.String("project_id", s.projectID))

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.mu.Unlock()

	rows, err := s.backend.ListMessages(ctx, s.projectID)
	if err != nil {
		span.RecordError(err)
		s.logger.Warn("history fetch failed, treating project as new", "error", err)
		rows = nil
	}

	if len(rows) > 0 {
		s.installRows(rows)
		span.SetAttributes(attribute.Int("history_rows", len(rows)))
		return nil
	}

	s.streamGreeting(ctx)
	return nil
}

// installRows maps history rows back to entries in sequence order.
func (s *Session) installRows(rows []backend.PersistedEvent) {
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].SequenceID < rows[j].SequenceID
	})

	entries := make([]conversation.Entry, 0, len(rows))
	for _, row := range rows {
		entry, ok := persist.EntryFromRow(row)
		if !ok {
			s.logger.Debug("skipping history row with unknown type",
				"msg_type", row.MsgType,
				"sequence_id", row.SequenceID,
			)
			continue
		}
		entries = append(entries, entry)
	}

	s.conv.InstallHistory(entries)
	for _, entry := range entries {
		s.notify(entry)
	}
	s.logger.Info("history rehydrated", "entries", len(entries))
}

// streamGreeting runs the greeting exchange through the normal
// decoder path, falling back to a local greeting when unreachable.
// It holds the streaming flag like SendMessage does, so sends racing
// the greeting get ErrStreamInFlight instead of interleaving.
func (s *Session) streamGreeting(ctx context.Context) {
	s.mu.Lock()
	s.streaming = true
	streamCtx, cancel := context.WithCancel(ctx)
	s.cancelStream = cancel
	s.mu.Unlock()

	defer func() {
		cancel()
		s.mu.Lock()
		s.streaming = false
		s.cancelStream = nil
		s.mu.Unlock()
	}()

	body, err := s.backend.OpenGreetingStream(streamCtx, s.projectID, s.projectTitle)
	if err != nil {
		s.logger.Warn("greeting stream unavailable", "error", err)
		s.installFallbackGreeting()
		return
	}
	defer body.Close()

	s.conv.OpenAssistant()
	err = s.reader.Read(streamCtx, body, func(ev stream.StreamEvent) error {
		s.applyEvent(ev, false)
		return nil
	})
	if err != nil {
		s.logger.Warn("greeting stream failed mid-read", "error", err)
		s.conv.DiscardAssistant()
		if s.conv.Len() == 0 {
			s.installFallbackGreeting()
		}
		return
	}

	if entry, ok := s.conv.SealAssistant(); ok {
		s.notify(entry)
	}
}

// =============================================================================
// Message exchange
// =============================================================================

// SendMessage runs one full exchange: append the user entry, open the
// research stream, and fold every event into the conversation. It
// returns when the stream terminates. Transport failures surface as a
// single error entry in the transcript, not as a returned error.
func (s *Session) SendMessage(ctx context.Context, text string) error {
	ctx, span := tracer.Start(ctx, "session.SendMessage")
	defer span.End()
	span.SetAttributes(attribute.String("project_id", s.projectID))

	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.streaming {
		s.mu.Unlock()
		return ErrStreamInFlight
	}
	s.streaming = true
	streamCtx, cancel := context.WithCancel(ctx)
	s.cancelStream = cancel
	active := s.activePaper
	s.mu.Unlock()

	defer func() {
		cancel()
		s.mu.Lock()
		s.streaming = false
		s.cancelStream = nil
		s.mu.Unlock()
	}()

	// History is the transcript before this message
	req := backend.ResearchChatRequest{
		ProjectID:   s.projectID,
		Message:     text,
		History:     s.conv.Turns(),
		ActivePaper: backend.ActivePaperFrom(active),
	}

	userEntry := s.conv.AppendUser(text)
	s.sync.Persist(userEntry)
	s.notify(userEntry)

	s.conv.OpenAssistant()

	body, err := s.backend.OpenResearchStream(streamCtx, req)
	if err != nil {
		span.RecordError(err)
		s.logger.Error("research stream open failed", "error", err)
		s.failExchange()
		return nil
	}
	defer body.Close()

	err = s.reader.Read(streamCtx, body, func(ev stream.StreamEvent) error {
		s.applyEvent(ev, true)
		return nil
	})
	if err != nil {
		span.RecordError(err)
		s.logger.Error("research stream failed mid-read", "error", err)
		s.failExchange()
		return nil
	}

	if entry, ok := s.conv.SealAssistant(); ok {
		s.sync.Persist(entry)
		s.notify(entry)
	}
	return nil
}

// failExchange replaces the open assistant buffer with one error
// entry carrying the fixed user-facing message.
func (s *Session) failExchange() {
	s.conv.DiscardAssistant()
	entry := s.conv.AppendError(streamFailureText)
	s.sync.Persist(entry)
	s.notify(entry)
}

// applyEvent folds one decoded event into the conversation. Events
// racing past Close are dropped.
func (s *Session) applyEvent(ev stream.StreamEvent, persistRows bool) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}

	entry := s.conv.Apply(ev)
	if entry == nil {
		return
	}
	if persistRows {
		s.sync.Persist(*entry)
	}
	s.notify(*entry)
}

func (s *Session) notify(entry conversation.Entry) {
	if s.observer != nil {
		s.observer(entry)
	}
}

// =============================================================================
// Viewer context
// =============================================================================

// SetActivePaper records the paper the user is currently viewing; it
// rides on the next research request.
func (s *Session) SetActivePaper(paper *stream.Paper) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activePaper = paper
}

// ClearActivePaper drops the viewer context.
func (s *Session) ClearActivePaper() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activePaper = nil
}

// =============================================================================
// Accessors / lifecycle
// =============================================================================

// Entries returns a snapshot of the transcript.
func (s *Session) Entries() []conversation.Entry {
	return s.conv.Entries()
}

// Streaming reports whether an exchange is in flight.
func (s *Session) Streaming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streaming
}

// Close cancels any in-flight stream, flushes pending writes, and
// closes the synchronizer. Events racing past Close are dropped.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if s.cancelStream != nil {
		s.cancelStream()
	}
	s.mu.Unlock()

	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.sync.Flush(flushCtx); err != nil {
		s.logger.Warn("flush on close incomplete", "error", err)
	}
	return s.sync.Close()
}
