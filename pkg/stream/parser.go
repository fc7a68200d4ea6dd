// Copyright (C) 2025 Saraswati AI (research@saraswati.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// This file contains the parser for the SSE wire format.
// Parsers ONLY parse. They do not perform I/O, rendering, or state
// management; that separation keeps them trivially testable.
package stream

import (
	"encoding/json"
	"strings"
)

// =============================================================================
// SSE Parser Interface
// =============================================================================

// SSEParser parses Server-Sent Events lines into StreamEvent structs.
//
// SSE Format Reference (https://developer.mozilla.org/en-US/docs/Web/API/Server-sent_events):
//
//	data: {"type":"text","content":"Hello"}\n
//	\n
//
// Only "data:" lines carry payloads. Empty lines are event delimiters,
// ":" lines are comments, and any other field line ("event:", "id:",
// "retry:", garbage) carries nothing this protocol uses. All of those
// produce (nil, nil).
//
// Thread Safety:
//
//	SSEParser implementations must be safe for concurrent use.
//	The default implementation is stateless and inherently thread-safe.
//
// Example:
//
//	parser := NewSSEParser()
//	event, err := parser.ParseLine(`data: {"type":"text","content":"Hi"}`)
//	if event != nil {
//	    fmt.Println(event.Content) // "Hi"
//	}
type SSEParser interface {
	// ParseLine parses a single line of SSE input (without trailing
	// newline).
	//
	// Returns:
	//   - *StreamEvent: The parsed event, or nil for lines that carry
	//     no payload (blanks, comments, non-data fields)
	//   - error: Non-nil if a data line's JSON payload failed to parse
	ParseLine(line string) (*StreamEvent, error)

	// ParseRawJSON parses a raw JSON payload (without the "data: "
	// prefix) into a StreamEvent.
	ParseRawJSON(jsonData []byte) (*StreamEvent, error)
}

// =============================================================================
// SSE Parser Implementation
// =============================================================================

// sseParser implements SSEParser. Stateless and safe for concurrent
// use.
type sseParser struct{}

// NewSSEParser creates a new SSE parser. The returned parser can be
// safely shared across goroutines.
func NewSSEParser() SSEParser {
	return &sseParser{}
}

// ParseLine parses a single SSE line.
//
// Handles the following line types:
//   - Empty: Returns nil (event boundary)
//   - Comment (starts with ":"): Returns nil (ignored)
//   - Data (starts with "data: " or "data:"): Parses JSON after prefix
//   - Other: Returns nil (no payload for this protocol)
func (p *sseParser) ParseLine(line string) (*StreamEvent, error) {
	line = strings.TrimSpace(line)

	// Empty lines are event delimiters
	if line == "" {
		return nil, nil
	}

	// Comments start with ":"
	if strings.HasPrefix(line, ":") {
		return nil, nil
	}

	// Data lines start with "data: "
	if strings.HasPrefix(line, "data: ") {
		return p.ParseRawJSON([]byte(strings.TrimPrefix(line, "data: ")))
	}

	// Also handle "data:" without space (some servers do this)
	if strings.HasPrefix(line, "data:") {
		return p.ParseRawJSON([]byte(strings.TrimPrefix(line, "data:")))
	}

	// Any other field line carries nothing this protocol uses
	return nil, nil
}

// ParseRawJSON parses a JSON payload into a StreamEvent.
//
// The JSON must have a "type" field; unknown type values still decode
// successfully. Missing fields are handled gracefully with zero
// values.
//
// Example JSON:
//
//	{"type":"text","content":"Hello"}
//	{"type":"paper_artifact","paper":{"arxiv_id":"2310.11511v1",...}}
//	{"type":"done"}
func (p *sseParser) ParseRawJSON(jsonData []byte) (*StreamEvent, error) {
	var event StreamEvent
	if err := json.Unmarshal(jsonData, &event); err != nil {
		return nil, err
	}
	return &event, nil
}

// =============================================================================
// Compile-time Interface Check
// =============================================================================

var _ SSEParser = (*sseParser)(nil)
