// Copyright (C) 2025 Saraswati AI (research@saraswati.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/SaraswatiAI/SaraswatiCanvas/pkg/backend"
)

// memoryStore is the in-memory stand-in for the real backend's
// database. Messages are kept per project and served in sequence_id
// order regardless of arrival order.
type memoryStore struct {
	mu       sync.RWMutex
	projects map[string]backend.Project
	messages map[string][]backend.PersistedEvent
	notes    map[string][]backend.Note
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		projects: make(map[string]backend.Project),
		messages: make(map[string][]backend.PersistedEvent),
		notes:    make(map[string][]backend.Note),
	}
}

func (s *memoryStore) listProjects() []backend.Project {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]backend.Project, 0, len(s.projects))
	for _, p := range s.projects {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *memoryStore) createProject(body backend.ProjectCreate) backend.Project {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := backend.Project{
		ID:          uuid.NewString(),
		Title:       body.Title,
		Description: body.Description,
	}
	s.projects[p.ID] = p
	return p
}

func (s *memoryStore) getProject(id string) (backend.Project, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[id]
	return p, ok
}

func (s *memoryStore) listMessages(projectID string) []backend.PersistedEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := make([]backend.PersistedEvent, len(s.messages[projectID]))
	copy(rows, s.messages[projectID])
	sort.Slice(rows, func(i, j int) bool { return rows[i].SequenceID < rows[j].SequenceID })
	return rows
}

func (s *memoryStore) saveMessage(projectID string, row backend.PersistedEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[projectID] = append(s.messages[projectID], row)
}

func (s *memoryStore) clearMessages(projectID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.messages, projectID)
}

func (s *memoryStore) listNotes(projectID string) []backend.Note {
	s.mu.RLock()
	defer s.mu.RUnlock()
	notes := make([]backend.Note, len(s.notes[projectID]))
	copy(notes, s.notes[projectID])
	return notes
}

func (s *memoryStore) addNote(projectID string, body backend.NoteCreate) backend.Note {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := backend.Note{
		ID:               uuid.NewString(),
		ProjectID:        projectID,
		Content:          body.Content,
		SourcePaperID:    body.SourcePaperID,
		SourcePaperTitle: body.SourcePaperTitle,
	}
	s.notes[projectID] = append(s.notes[projectID], n)
	return n
}
