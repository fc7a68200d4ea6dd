// Copyright (C) 2025 Saraswati AI (research@saraswati.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package stream decodes the Server-Sent Events wire format used by
// the Saraswati research backend.
//
// This file defines the event taxonomy. The wire protocol is a closed
// set of JSON payloads discriminated by a "type" field:
//
//	data: {"type":"text","content":"Retrieval-augmented "}
//	data: {"type":"status","content":"🔍 Scanning ArXiv for: RAG"}
//	data: {"type":"paper_artifact","paper":{...}}
//	data: {"type":"suggestion_chips","chips":["...","..."]}
//	data: {"type":"error","content":"..."}
//	data: {"type":"done"}
//
// Unknown type values decode without error; downstream consumers
// ignore them, which keeps old clients compatible with newer backends.
package stream

// StreamEventType discriminates the wire payloads.
type StreamEventType string

const (
	// StreamEventText carries an assistant text delta.
	StreamEventText StreamEventType = "text"

	// StreamEventStatus carries a transient progress line.
	StreamEventStatus StreamEventType = "status"

	// StreamEventPaper carries a structured paper payload.
	StreamEventPaper StreamEventType = "paper_artifact"

	// StreamEventChips carries suggested replies.
	StreamEventChips StreamEventType = "suggestion_chips"

	// StreamEventError carries a soft backend error. The stream may
	// continue after it.
	StreamEventError StreamEventType = "error"

	// StreamEventDone marks the end of an exchange.
	StreamEventDone StreamEventType = "done"
)

// Credibility tiers assigned by the backend's ranking heuristic.
const (
	CredibilityHigh      = "HIGH"
	CredibilityMedium    = "MEDIUM"
	CredibilityUncertain = "UNCERTAIN"
)

// Paper is the structured artifact emitted when the agent surfaces an
// ArXiv result. Field names match the backend's paper dict.
type Paper struct {
	ArxivID         string   `json:"arxiv_id"`
	Title           string   `json:"title"`
	Authors         []string `json:"authors,omitempty"`
	Abstract        string   `json:"abstract,omitempty"`
	AbstractSnippet string   `json:"abstract_snippet,omitempty"`
	Published       string   `json:"published,omitempty"`
	PdfURL          string   `json:"pdf_url,omitempty"`
	Categories      []string `json:"categories,omitempty"`
	Credibility     string   `json:"credibility,omitempty"`
}

// StreamEvent is a single decoded frame from the research stream.
type StreamEvent struct {
	Type    StreamEventType `json:"type"`
	Content string          `json:"content,omitempty"`
	Paper   *Paper          `json:"paper,omitempty"`
	Chips   []string        `json:"chips,omitempty"`

	// Index is the zero-based position of this event within its
	// stream, assigned by the reader.
	Index int `json:"-"`
}

// IsTerminal reports whether the event ends the stream. Only done is
// terminal; error events are soft and the stream may continue.
func (e *StreamEvent) IsTerminal() bool {
	return e.Type == StreamEventDone
}
