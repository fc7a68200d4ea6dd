// Copyright (C) 2025 Saraswati AI (research@saraswati.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package conversation holds the durable state of one research chat:
// an append-only list of entries folded from decoded stream events.
//
// Entries are immutable once appended. The only mutable state is the
// single open assistant buffer that accumulates text deltas during a
// stream; it is sealed into an immutable entry when the stream ends.
package conversation

import (
	"github.com/SaraswatiAI/SaraswatiCanvas/pkg/stream"
)

// EntryKind classifies conversation entries.
type EntryKind string

const (
	// EntryUser is a message typed by the user.
	EntryUser EntryKind = "user"

	// EntryAssistant is a completed assistant reply, sealed from the
	// accumulation buffer when its stream ends.
	EntryAssistant EntryKind = "assistant"

	// EntryStatus is a transient progress line from the agent.
	EntryStatus EntryKind = "status"

	// EntrySuggestions is a set of suggested replies.
	EntrySuggestions EntryKind = "suggestions"

	// EntryArtifact is a structured paper surfaced by the agent.
	EntryArtifact EntryKind = "artifact"

	// EntryError is a failure notice shown inline in the transcript.
	EntryError EntryKind = "error"
)

// Entry is one immutable row of the conversation transcript.
//
// ID is opaque and unique within the conversation. Seq is the append
// order and the only ordering authority; timestamps are never used
// for ordering. Exactly one of Text, Chips, or Paper is meaningful
// depending on Kind.
type Entry struct {
	ID    string
	Seq   uint64
	Kind  EntryKind
	Text  string
	Chips []string
	Paper *stream.Paper
}

// Turn is one user or assistant exchange in the compact form the
// backend expects as request history.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
