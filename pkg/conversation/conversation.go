// Copyright (C) 2025 Saraswati AI (research@saraswati.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package conversation

import (
	"strings"
	"sync"

	"github.com/SaraswatiAI/SaraswatiCanvas/pkg/stream"
)

// =============================================================================
// Conversation Reducer
// =============================================================================

// Conversation folds decoded stream events into an append-only entry
// list.
//
// At most one assistant accumulation buffer is open at a time. The
// buffer is owned exclusively by the goroutine driving the stream;
// text deltas write into it, and it is sealed into an immutable
// Entry when the stream completes. Seq values are assigned when an
// entry (or the open buffer) is created, so an assistant reply keeps
// its position ahead of artifacts that arrive mid-stream even though
// its row is finalized last.
//
// Thread Safety:
//
//	All methods are safe for concurrent use. In practice a single
//	session goroutine is the only writer.
type Conversation struct {
	mu      sync.Mutex
	ids     IDGenerator
	entries []Entry
	nextSeq uint64
	open    *openAssistant
}

// openAssistant is the in-flight accumulation buffer. ID and Seq are
// fixed at open time; only the text grows.
type openAssistant struct {
	id  string
	seq uint64
	buf strings.Builder
}

// NewConversation creates an empty conversation using the given id
// generator.
func NewConversation(ids IDGenerator) *Conversation {
	return &Conversation{
		ids:     ids,
		nextSeq: 1,
	}
}

// =============================================================================
// Appending
// =============================================================================

// AppendUser appends a user entry and returns it.
func (c *Conversation) AppendUser(text string) Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.appendLocked(Entry{Kind: EntryUser, Text: text})
}

// AppendError appends an error entry and returns it. Used both for
// soft backend error events and for the transport-failure fallback.
func (c *Conversation) AppendError(text string) Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.appendLocked(Entry{Kind: EntryError, Text: text})
}

// appendLocked assigns id and seq and appends. Caller holds c.mu.
func (c *Conversation) appendLocked(entry Entry) Entry {
	entry.ID = c.ids.NextID()
	entry.Seq = c.nextSeq
	c.nextSeq++
	c.entries = append(c.entries, entry)
	return entry
}

// =============================================================================
// Assistant Buffer
// =============================================================================

// OpenAssistant opens the assistant accumulation buffer, reserving
// its id and seq ahead of any event that arrives during the stream.
// An already-open buffer is discarded; at most one buffer exists.
func (c *Conversation) OpenAssistant() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = &openAssistant{
		id:  c.ids.NextID(),
		seq: c.nextSeq,
	}
	c.nextSeq++
}

// SealAssistant closes the open buffer into an immutable assistant
// entry, inserted at its reserved position so the transcript stays
// in seq order even when status or artifact entries arrived during
// the stream. Returns false when no buffer is open or the buffer
// never received text; a reserved seq is consumed either way
// (ordering depends on relative seq, not density).
func (c *Conversation) SealAssistant() (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	open := c.open
	c.open = nil
	if open == nil || open.buf.Len() == 0 {
		return Entry{}, false
	}

	entry := Entry{
		ID:   open.id,
		Seq:  open.seq,
		Kind: EntryAssistant,
		Text: open.buf.String(),
	}

	// Walk back past entries appended while the buffer was open
	i := len(c.entries)
	for i > 0 && c.entries[i-1].Seq > entry.Seq {
		i--
	}
	c.entries = append(c.entries, Entry{})
	copy(c.entries[i+1:], c.entries[i:])
	c.entries[i] = entry
	return entry, true
}

// DiscardAssistant drops the open buffer without producing an entry.
// Used when the transport fails and the partial reply must not
// survive. Returns true if a buffer was open.
func (c *Conversation) DiscardAssistant() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	open := c.open
	c.open = nil
	return open != nil
}

// AssistantOpen reports whether an accumulation buffer is open.
func (c *Conversation) AssistantOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open != nil
}

// =============================================================================
// Event Application
// =============================================================================

// Apply folds one decoded event into the conversation.
//
// Transitions:
//   - text: appended to the open buffer; ignored when none is open
//     (a delta without a home has nowhere sane to go)
//   - status, paper_artifact, suggestion_chips, error: appended as
//     terminal entries immediately
//   - done and unknown types: no-ops
//
// Returns the entry that was appended, or nil when the event only
// mutated the buffer or was a no-op.
func (c *Conversation) Apply(ev stream.StreamEvent) *Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch ev.Type {
	case stream.StreamEventText:
		if c.open != nil {
			c.open.buf.WriteString(ev.Content)
		}
		return nil

	case stream.StreamEventStatus:
		entry := c.appendLocked(Entry{Kind: EntryStatus, Text: ev.Content})
		return &entry

	case stream.StreamEventPaper:
		if ev.Paper == nil {
			return nil
		}
		entry := c.appendLocked(Entry{Kind: EntryArtifact, Paper: ev.Paper})
		return &entry

	case stream.StreamEventChips:
		entry := c.appendLocked(Entry{Kind: EntrySuggestions, Chips: append([]string(nil), ev.Chips...)})
		return &entry

	case stream.StreamEventError:
		entry := c.appendLocked(Entry{Kind: EntryError, Text: ev.Content})
		return &entry

	default:
		// done and unknown types produce no entry
		return nil
	}
}

// =============================================================================
// Reading and Rehydration
// =============================================================================

// Entries returns a copy of the transcript in seq order.
func (c *Conversation) Entries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Len returns the number of appended entries.
func (c *Conversation) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Turns extracts the user/assistant exchanges in the compact form
// the backend expects as request history. Status lines, chips,
// artifacts, and errors are presentation state, not dialogue.
func (c *Conversation) Turns() []Turn {
	c.mu.Lock()
	defer c.mu.Unlock()

	turns := make([]Turn, 0, len(c.entries))
	for _, entry := range c.entries {
		switch entry.Kind {
		case EntryUser:
			turns = append(turns, Turn{Role: "user", Content: entry.Text})
		case EntryAssistant:
			turns = append(turns, Turn{Role: "assistant", Content: entry.Text})
		}
	}
	return turns
}

// InstallHistory replaces the transcript with rehydrated entries.
// Entries must already be sorted; their Seq values are trusted, and
// nextSeq resumes after the highest one. Any open buffer is dropped.
func (c *Conversation) InstallHistory(entries []Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make([]Entry, len(entries))
	copy(c.entries, entries)
	c.open = nil

	c.nextSeq = 1
	for _, entry := range entries {
		if entry.Seq >= c.nextSeq {
			c.nextSeq = entry.Seq + 1
		}
	}
}
