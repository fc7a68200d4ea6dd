// Copyright (C) 2025 Saraswati AI (research@saraswati.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package backend is the HTTP client for the Saraswati research
// backend: the SSE chat endpoints, per-project message history, and
// project/note CRUD.
//
// This file holds the wire types. Field names and JSON tags match the
// backend's request and row models exactly.
package backend

import (
	"github.com/SaraswatiAI/SaraswatiCanvas/pkg/conversation"
	"github.com/SaraswatiAI/SaraswatiCanvas/pkg/stream"
)

// ActivePaper is the viewer context forwarded with a research
// request: the paper currently open next to the chat.
type ActivePaper struct {
	ArxivID         string   `json:"arxiv_id"`
	Title           string   `json:"title"`
	Authors         []string `json:"authors,omitempty"`
	AbstractSnippet string   `json:"abstract_snippet,omitempty"`
	Published       string   `json:"published,omitempty"`
	Categories      []string `json:"categories,omitempty"`
	Credibility     string   `json:"credibility,omitempty"`
}

// ActivePaperFrom converts a streamed Paper artifact into the request
// form. Returns nil for nil input.
func ActivePaperFrom(p *stream.Paper) *ActivePaper {
	if p == nil {
		return nil
	}
	snippet := p.AbstractSnippet
	if snippet == "" && p.Abstract != "" {
		snippet = p.Abstract
		if len(snippet) > 400 {
			snippet = snippet[:400]
		}
	}
	return &ActivePaper{
		ArxivID:         p.ArxivID,
		Title:           p.Title,
		Authors:         p.Authors,
		AbstractSnippet: snippet,
		Published:       p.Published,
		Categories:      p.Categories,
		Credibility:     p.Credibility,
	}
}

// ResearchChatRequest is the POST body for the research stream.
type ResearchChatRequest struct {
	ProjectID   string              `json:"project_id"`
	Message     string              `json:"message"`
	History     []conversation.Turn `json:"history"`
	ActivePaper *ActivePaper        `json:"active_paper,omitempty"`
}

// PersistedEvent is one chat_messages row on the wire.
//
// SequenceID is the client-assigned append order; history fetches
// sort on it, so rows replay in live order regardless of write order.
// Metadata carries chips or the paper dict depending on MsgType.
type PersistedEvent struct {
	SequenceID uint64         `json:"sequence_id"`
	MsgType    string         `json:"msg_type"`
	Content    string         `json:"content,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Project is a research project row.
type Project struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// ProjectCreate is the POST body for creating a project.
type ProjectCreate struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// Note is a per-project research note, optionally tied to the paper
// it was taken from.
type Note struct {
	ID               string `json:"id"`
	ProjectID        string `json:"project_id"`
	Content          string `json:"content"`
	SourcePaperID    string `json:"source_paper_id,omitempty"`
	SourcePaperTitle string `json:"source_paper_title,omitempty"`
	CreatedAt        string `json:"created_at,omitempty"`
}

// NoteCreate is the POST body for adding a note.
type NoteCreate struct {
	Content          string `json:"content"`
	SourcePaperID    string `json:"source_paper_id,omitempty"`
	SourcePaperTitle string `json:"source_paper_title,omitempty"`
}
