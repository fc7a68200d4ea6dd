// Copyright (C) 2025 Saraswati AI (research@saraswati.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package persist writes conversation entries to the backend's
// per-project history store.
//
// The Synchronizer is the only writer of history rows. Entries are
// queued in append order and drained by a single worker goroutine;
// writes are fire-and-forget from the caller's perspective. A failed
// write is logged and dropped (or spooled to the outbox when one is
// configured) and never surfaces into the live conversation.
package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/SaraswatiAI/SaraswatiCanvas/pkg/backend"
	"github.com/SaraswatiAI/SaraswatiCanvas/pkg/conversation"
	"github.com/SaraswatiAI/SaraswatiCanvas/pkg/stream"
)

var tracer = otel.Tracer("saraswati.persist")

// ErrClosed is returned by Flush after Close.
var ErrClosed = errors.New("persist: synchronizer is closed")

// =============================================================================
// Row Codec
// =============================================================================

// msg_type values in the chat_messages store.
const (
	rowUser      = "user"
	rowAssistant = "assistant"
	rowStatus    = "status"
	rowChips     = "chips"
	rowPaper     = "paper_artifact"
	rowError     = "error"
)

// RowFromEntry converts a terminal conversation entry to its wire
// row. The entry Seq rides as sequence_id so rehydration reproduces
// live append order; chips and papers ride under metadata.
func RowFromEntry(entry conversation.Entry) backend.PersistedEvent {
	row := backend.PersistedEvent{
		SequenceID: entry.Seq,
	}

	switch entry.Kind {
	case conversation.EntryUser:
		row.MsgType = rowUser
		row.Content = entry.Text
	case conversation.EntryAssistant:
		row.MsgType = rowAssistant
		row.Content = entry.Text
	case conversation.EntryStatus:
		row.MsgType = rowStatus
		row.Content = entry.Text
	case conversation.EntrySuggestions:
		row.MsgType = rowChips
		row.Metadata = map[string]any{"chips": entry.Chips}
	case conversation.EntryArtifact:
		row.MsgType = rowPaper
		row.Metadata = map[string]any{"paper": entry.Paper}
	case conversation.EntryError:
		row.MsgType = rowError
		row.Content = entry.Text
	}

	return row
}

// EntryFromRow converts a wire row back to a conversation entry.
//
// The id derives deterministically from the row's sequence_id, so
// rehydrating the same history twice yields identical entries. Rows
// with an unknown msg_type are reported with ok=false and skipped by
// callers.
// EntryID derives the stable entry ID for a persisted sequence
// number. The same row always rehydrates to the same ID.
func EntryID(seq uint64) string {
	return fmt.Sprintf("hist-%d", seq)
}

func EntryFromRow(row backend.PersistedEvent) (conversation.Entry, bool) {
	entry := conversation.Entry{
		ID:  EntryID(row.SequenceID),
		Seq: row.SequenceID,
	}

	switch row.MsgType {
	case rowUser:
		entry.Kind = conversation.EntryUser
		entry.Text = row.Content
	case rowAssistant:
		entry.Kind = conversation.EntryAssistant
		entry.Text = row.Content
	case rowStatus:
		entry.Kind = conversation.EntryStatus
		entry.Text = row.Content
	case rowChips:
		entry.Kind = conversation.EntrySuggestions
		entry.Chips = chipsFromMetadata(row.Metadata)
	case rowPaper:
		entry.Kind = conversation.EntryArtifact
		entry.Paper = paperFromMetadata(row.Metadata)
	case rowError:
		entry.Kind = conversation.EntryError
		entry.Text = row.Content
	default:
		return conversation.Entry{}, false
	}

	return entry, true
}

// chipsFromMetadata pulls the chips list out of a metadata map.
func chipsFromMetadata(metadata map[string]any) []string {
	raw, ok := metadata["chips"]
	if !ok {
		return nil
	}
	// Fast path: typed slice survived (in-process round trip)
	if chips, ok := raw.([]string); ok {
		return append([]string(nil), chips...)
	}
	// JSON decoding yields []any
	items, ok := raw.([]any)
	if !ok {
		return nil
	}
	chips := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			chips = append(chips, s)
		}
	}
	return chips
}

// paperFromMetadata pulls the paper dict out of a metadata map.
func paperFromMetadata(metadata map[string]any) *stream.Paper {
	raw, ok := metadata["paper"]
	if !ok {
		return nil
	}
	if paper, ok := raw.(*stream.Paper); ok {
		return paper
	}
	// JSON decoding yields map[string]any; round-trip into the type
	data, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var paper stream.Paper
	if err := json.Unmarshal(data, &paper); err != nil {
		return nil
	}
	return &paper
}

// =============================================================================
// Synchronizer
// =============================================================================

// Store is the write surface the synchronizer needs from the backend
// client.
type Store interface {
	SaveMessage(ctx context.Context, projectID string, row backend.PersistedEvent) error
}

// Synchronizer persists conversation entries.
//
// Persist never blocks the conversation and never returns an error;
// durability problems are the synchronizer's to log, not the
// session's to handle. Flush waits until every entry queued before
// the call has been attempted.
type Synchronizer interface {
	Persist(entry conversation.Entry)
	Flush(ctx context.Context) error
	Close() error
}

// Config holds Synchronizer configuration.
type Config struct {
	// ProjectID scopes every row written.
	ProjectID string

	// Store receives the rows. Required.
	Store Store

	// QueueSize bounds the pending queue. When the queue is full,
	// Persist logs and drops. Default: 256.
	QueueSize int

	// WriteTimeout bounds each store write. Default: 10s.
	WriteTimeout time.Duration

	// Outbox optionally spools rows whose write failed, for retry on
	// the next Flush. Default: nil (failed rows are dropped).
	Outbox *Outbox

	// Logger for write diagnostics. Default: slog.Default().
	Logger *slog.Logger
}

// job is one queue element: either a row to write or a flush marker.
type job struct {
	row   backend.PersistedEvent
	flush chan struct{}
}

// storeSynchronizer implements Synchronizer with an in-order queue
// and one worker goroutine.
type storeSynchronizer struct {
	projectID    string
	store        Store
	outbox       *Outbox
	writeTimeout time.Duration
	logger       *slog.Logger

	queue chan job

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// New creates a Synchronizer and starts its worker.
func New(config Config) Synchronizer {
	queueSize := config.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	writeTimeout := config.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &storeSynchronizer{
		projectID:    config.ProjectID,
		store:        config.Store,
		outbox:       config.Outbox,
		writeTimeout: writeTimeout,
		logger:       logger,
		queue:        make(chan job, queueSize),
	}

	s.wg.Add(1)
	go s.run()

	return s
}

// Persist queues one terminal entry for writing. Non-blocking: a
// full queue or a closed synchronizer logs and drops the entry.
func (s *storeSynchronizer) Persist(entry conversation.Entry) {
	row := RowFromEntry(entry)
	if row.MsgType == "" {
		s.logger.Warn("skipping entry with unknown kind", "kind", string(entry.Kind))
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.logger.Warn("dropping entry: synchronizer closed",
			"project_id", s.projectID,
			"msg_type", row.MsgType,
			"sequence_id", row.SequenceID,
		)
		return
	}

	select {
	case s.queue <- job{row: row}:
	default:
		s.logger.Warn("dropping entry: persistence queue full",
			"project_id", s.projectID,
			"msg_type", row.MsgType,
			"sequence_id", row.SequenceID,
		)
	}
}

// Flush waits until every row queued before the call has been
// attempted, then retries any spooled outbox rows.
func (s *storeSynchronizer) Flush(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "persist.Flush")
	defer span.End()
	span.SetAttributes(attribute.String("project_id", s.projectID))

	marker := make(chan struct{})

	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrClosed
	}
	select {
	case s.queue <- job{flush: marker}:
		s.mu.RUnlock()
	default:
		s.mu.RUnlock()
		return errors.New("persist: queue full, cannot flush")
	}

	select {
	case <-marker:
	case <-ctx.Done():
		return ctx.Err()
	}

	if s.outbox != nil {
		if err := s.outbox.Drain(ctx, s.store, s.projectID); err != nil {
			s.logger.Warn("outbox drain incomplete", "error", err)
		}
	}

	return nil
}

// Close stops the worker after draining the queue. Entries persisted
// after Close are dropped.
func (s *storeSynchronizer) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	s.wg.Wait()
	return nil
}

// run is the single worker draining the queue in order.
func (s *storeSynchronizer) run() {
	defer s.wg.Done()

	for j := range s.queue {
		if j.flush != nil {
			close(j.flush)
			continue
		}
		s.write(j.row)
	}
}

// write attempts one store write. Failures are logged and, when an
// outbox is configured, spooled for later retry.
func (s *storeSynchronizer) write(row backend.PersistedEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
	defer cancel()

	if err := s.store.SaveMessage(ctx, s.projectID, row); err != nil {
		s.logger.Warn("history write failed",
			"project_id", s.projectID,
			"msg_type", row.MsgType,
			"sequence_id", row.SequenceID,
			"error", err,
		)
		if s.outbox != nil {
			if spoolErr := s.outbox.Spool(row); spoolErr != nil {
				s.logger.Error("outbox spool failed", "error", spoolErr)
			}
		}
		return
	}

	s.logger.Debug("history row written",
		"project_id", s.projectID,
		"msg_type", row.MsgType,
		"sequence_id", row.SequenceID,
	)
}

// =============================================================================
// Compile-time Interface Check
// =============================================================================

var _ Synchronizer = (*storeSynchronizer)(nil)
