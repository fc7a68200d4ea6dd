// Copyright (C) 2025 Saraswati AI (research@saraswati.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SaraswatiAI/SaraswatiCanvas/pkg/backend"
	"github.com/SaraswatiAI/SaraswatiCanvas/pkg/conversation"
	"github.com/SaraswatiAI/SaraswatiCanvas/pkg/persist"
	"github.com/SaraswatiAI/SaraswatiCanvas/pkg/stream"
)

// =============================================================================
// Fakes
// =============================================================================

type fakeBackend struct {
	mu sync.Mutex

	rows    []backend.PersistedEvent
	listErr error

	greetingBody   string
	greetingStream io.ReadCloser
	greetingErr    error

	researchBody io.ReadCloser
	researchErr  error

	lastRequest *backend.ResearchChatRequest
}

func (f *fakeBackend) OpenResearchStream(ctx context.Context, req backend.ResearchChatRequest) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastRequest = &req
	if f.researchErr != nil {
		return nil, f.researchErr
	}
	return f.researchBody, nil
}

func (f *fakeBackend) OpenGreetingStream(ctx context.Context, projectID, projectTitle string) (io.ReadCloser, error) {
	if f.greetingErr != nil {
		return nil, f.greetingErr
	}
	if f.greetingStream != nil {
		return f.greetingStream, nil
	}
	return io.NopCloser(strings.NewReader(f.greetingBody)), nil
}

func (f *fakeBackend) ListMessages(ctx context.Context, projectID string) ([]backend.PersistedEvent, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.rows, nil
}

func (f *fakeBackend) request(t *testing.T) backend.ResearchChatRequest {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotNil(t, f.lastRequest)
	return *f.lastRequest
}

// recordingSynchronizer captures persisted entries as wire rows.
type recordingSynchronizer struct {
	mu   sync.Mutex
	rows []backend.PersistedEvent
}

func (r *recordingSynchronizer) Persist(entry conversation.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = append(r.rows, persist.RowFromEntry(entry))
}

func (r *recordingSynchronizer) Flush(ctx context.Context) error { return nil }
func (r *recordingSynchronizer) Close() error                    { return nil }

func (r *recordingSynchronizer) saved() []backend.PersistedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]backend.PersistedEvent, len(r.rows))
	copy(out, r.rows)
	return out
}

var _ persist.Synchronizer = (*recordingSynchronizer)(nil)

func sseLine(t *testing.T, payload any) string {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return "data: " + string(data) + "\n"
}

func sseBody(t *testing.T, payloads ...any) string {
	t.Helper()
	var b strings.Builder
	for _, p := range payloads {
		b.WriteString(sseLine(t, p))
		b.WriteString("\n")
	}
	return b.String()
}

func newTestSession(t *testing.T, be *fakeBackend, sync persist.Synchronizer) *Session {
	t.Helper()
	s, err := New(Config{
		ProjectID:    "proj-1",
		ProjectTitle: "Retrieval-Augmented Generation",
		Backend:      be,
		Synchronizer: sync,
		IDs:          conversation.NewSequentialIDGenerator("msg-"),
	})
	require.NoError(t, err)
	return s
}

// =============================================================================
// Open / rehydration
// =============================================================================

func TestSession_Open_RehydratesHistory(t *testing.T) {
	be := &fakeBackend{rows: []backend.PersistedEvent{
		// Rows arrive unsorted; sequence_id is the only order
		{SequenceID: 3, MsgType: "assistant", Content: "Here are two papers."},
		{SequenceID: 1, MsgType: "user", Content: "find RAG papers"},
		{SequenceID: 2, MsgType: "status", Content: "Searching arXiv..."},
	}}
	s := newTestSession(t, be, &recordingSynchronizer{})

	require.NoError(t, s.Open(context.Background()))

	entries := s.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, conversation.EntryUser, entries[0].Kind)
	assert.Equal(t, "find RAG papers", entries[0].Text)
	assert.Equal(t, conversation.EntryStatus, entries[1].Kind)
	assert.Equal(t, conversation.EntryAssistant, entries[2].Kind)
	assert.False(t, s.Streaming())
}

func TestSession_Open_RehydrationIsIdempotent(t *testing.T) {
	be := &fakeBackend{rows: []backend.PersistedEvent{
		{SequenceID: 1, MsgType: "user", Content: "hello"},
		{SequenceID: 2, MsgType: "assistant", Content: "hi"},
		{SequenceID: 3, MsgType: "chips", Metadata: map[string]any{"chips": []any{"a", "b"}}},
	}}

	first := newTestSession(t, be, &recordingSynchronizer{})
	require.NoError(t, first.Open(context.Background()))

	second := newTestSession(t, be, &recordingSynchronizer{})
	require.NoError(t, second.Open(context.Background()))

	assert.Equal(t, first.Entries(), second.Entries())
	assert.Equal(t, "hist-1", first.Entries()[0].ID)
}

func TestSession_Open_ZeroRowsStreamsGreeting(t *testing.T) {
	be := &fakeBackend{}
	be.greetingBody = sseBody(t,
		map[string]any{"type": "text", "content": "## Welcome to your research canvas! 👋\n"},
		map[string]any{"type": "text", "content": "\n"},
		map[string]any{"type": "suggestion_chips", "chips": GreetingChips},
		map[string]any{"type": "done"},
	)
	sync := &recordingSynchronizer{}
	s := newTestSession(t, be, sync)

	require.NoError(t, s.Open(context.Background()))

	entries := s.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, conversation.EntryAssistant, entries[0].Kind)
	assert.Contains(t, entries[0].Text, "Welcome to your research canvas")
	assert.Equal(t, conversation.EntrySuggestions, entries[1].Kind)
	assert.Equal(t, GreetingChips, entries[1].Chips)

	// The greeting is regenerated on each fresh open, never persisted
	assert.Empty(t, sync.saved())
}

func TestSession_Open_GreetingFallback(t *testing.T) {
	be := &fakeBackend{greetingErr: errors.New("connection refused")}
	s := newTestSession(t, be, &recordingSynchronizer{})

	require.NoError(t, s.Open(context.Background()))

	entries := s.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, conversation.EntryAssistant, entries[0].Kind)
	assert.Contains(t, entries[0].Text, "Retrieval-Augmented Generation")
	assert.Equal(t, conversation.EntrySuggestions, entries[1].Kind)
	require.Len(t, entries[1].Chips, 4)
	for _, e := range entries {
		assert.NotEqual(t, conversation.EntryError, e.Kind)
	}
}

func TestSession_Open_HistoryFetchFailureFallsBackToGreeting(t *testing.T) {
	be := &fakeBackend{
		listErr:     errors.New("504 gateway timeout"),
		greetingErr: errors.New("connection refused"),
	}
	s := newTestSession(t, be, &recordingSynchronizer{})

	require.NoError(t, s.Open(context.Background()))
	require.Len(t, s.Entries(), 2)
}

func TestSession_Open_GreetingGatesSends(t *testing.T) {
	pr, pw := io.Pipe()
	be := &fakeBackend{greetingStream: pr}
	s := newTestSession(t, be, &recordingSynchronizer{})

	opened := make(chan struct{})
	go func() {
		defer close(opened)
		_ = s.Open(context.Background())
	}()

	require.Eventually(t, s.Streaming, time.Second, time.Millisecond)

	// The greeting holds the stream slot like any exchange
	err := s.SendMessage(context.Background(), "too early")
	assert.ErrorIs(t, err, ErrStreamInFlight)

	textLine := sseLine(t, map[string]any{"type": "text", "content": "Welcome!"})
	doneLine := sseLine(t, map[string]any{"type": "done"})
	fmt.Fprint(pw, textLine)
	fmt.Fprint(pw, doneLine)
	pw.Close()
	<-opened

	assert.False(t, s.Streaming())
	entries := s.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, conversation.EntryAssistant, entries[0].Kind)
	assert.Equal(t, "Welcome!", entries[0].Text)
}

// =============================================================================
// SendMessage
// =============================================================================

func TestSession_SendMessage_FullExchange(t *testing.T) {
	be := &fakeBackend{}
	chunks := []any{
		map[string]any{"type": "status", "content": "Searching papers…"},
		map[string]any{"type": "paper_artifact", "paper": map[string]any{
			"arxiv_id": "2310.11511v1", "title": "Self-RAG", "credibility": "HIGH",
		}},
	}
	for _, piece := range []string{"F", "o", "u", "n", "d", " a ", "great", " ", "match", "."} {
		chunks = append(chunks, map[string]any{"type": "text", "content": piece})
	}
	chunks = append(chunks, map[string]any{"type": "done"})
	be.researchBody = io.NopCloser(strings.NewReader(sseBody(t, chunks...)))

	sync := &recordingSynchronizer{}
	s := newTestSession(t, be, sync)

	require.NoError(t, s.SendMessage(context.Background(), "find me a RAG paper"))

	entries := s.Entries()
	require.Len(t, entries, 4)
	assert.Equal(t, conversation.EntryUser, entries[0].Kind)
	assert.Equal(t, conversation.EntryAssistant, entries[1].Kind)
	assert.Equal(t, "Found a great match.", entries[1].Text)
	assert.Equal(t, conversation.EntryStatus, entries[2].Kind)
	assert.Equal(t, conversation.EntryArtifact, entries[3].Kind)
	require.NotNil(t, entries[3].Paper)
	assert.Equal(t, "2310.11511v1", entries[3].Paper.ArxivID)
	assert.False(t, s.Streaming())

	// Every terminal entry was persisted, assistant last in wall
	// clock but carrying its reserved sequence.
	rows := sync.saved()
	require.Len(t, rows, 4)
	assert.Equal(t, "user", rows[0].MsgType)
	assert.Equal(t, "status", rows[1].MsgType)
	assert.Equal(t, "paper_artifact", rows[2].MsgType)
	assert.Equal(t, "assistant", rows[3].MsgType)
	assert.Less(t, rows[3].SequenceID, rows[1].SequenceID)

	req := be.request(t)
	assert.Equal(t, "proj-1", req.ProjectID)
	assert.Equal(t, "find me a RAG paper", req.Message)
	assert.Empty(t, req.History)
}

func TestSession_SendMessage_HistoryExcludesCurrentMessage(t *testing.T) {
	be := &fakeBackend{rows: []backend.PersistedEvent{
		{SequenceID: 1, MsgType: "user", Content: "hello"},
		{SequenceID: 2, MsgType: "status", Content: "thinking"},
		{SequenceID: 3, MsgType: "assistant", Content: "hi there"},
	}}
	be.researchBody = io.NopCloser(strings.NewReader(sseBody(t,
		map[string]any{"type": "text", "content": "sure"},
		map[string]any{"type": "done"},
	)))
	s := newTestSession(t, be, &recordingSynchronizer{})
	require.NoError(t, s.Open(context.Background()))

	require.NoError(t, s.SendMessage(context.Background(), "tell me more"))

	// History carries only user/assistant turns from before this send
	req := be.request(t)
	require.Len(t, req.History, 2)
	assert.Equal(t, conversation.Turn{Role: "user", Content: "hello"}, req.History[0])
	assert.Equal(t, conversation.Turn{Role: "assistant", Content: "hi there"}, req.History[1])
}

func TestSession_SendMessage_EmptyInput(t *testing.T) {
	s := newTestSession(t, &fakeBackend{}, &recordingSynchronizer{})

	for _, input := range []string{"", "   ", "\n\t"} {
		err := s.SendMessage(context.Background(), input)
		assert.ErrorIs(t, err, ErrEmptyMessage)
	}
	assert.Empty(t, s.Entries())
}

func TestSession_SendMessage_ConnectionRefused(t *testing.T) {
	be := &fakeBackend{researchErr: errors.New("dial tcp 127.0.0.1:8000: connection refused")}
	sync := &recordingSynchronizer{}
	s := newTestSession(t, be, sync)

	require.NoError(t, s.SendMessage(context.Background(), "hello"))

	entries := s.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, conversation.EntryUser, entries[0].Kind)
	assert.Equal(t, conversation.EntryError, entries[1].Kind)
	assert.Equal(t, streamFailureText, entries[1].Text)
	assert.False(t, s.Streaming())
}

func TestSession_SendMessage_MidStreamFailure(t *testing.T) {
	pr, pw := io.Pipe()
	be := &fakeBackend{researchBody: pr}
	s := newTestSession(t, be, &recordingSynchronizer{})

	line := sseLine(t, map[string]any{"type": "text", "content": "partial "})
	go func() {
		fmt.Fprint(pw, line)
		pw.CloseWithError(errors.New("connection reset by peer"))
	}()

	require.NoError(t, s.SendMessage(context.Background(), "hello"))

	// The partial reply is discarded, never shown
	entries := s.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, conversation.EntryError, entries[1].Kind)
	assert.Equal(t, streamFailureText, entries[1].Text)
	assert.False(t, s.Streaming())
}

func TestSession_SendMessage_SoftErrorContinues(t *testing.T) {
	be := &fakeBackend{}
	be.researchBody = io.NopCloser(strings.NewReader(sseBody(t,
		map[string]any{"type": "error", "content": "arXiv rate limited, retrying"},
		map[string]any{"type": "text", "content": "Recovered. Here you go."},
		map[string]any{"type": "done"},
	)))
	s := newTestSession(t, be, &recordingSynchronizer{})

	require.NoError(t, s.SendMessage(context.Background(), "hello"))

	entries := s.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, conversation.EntryAssistant, entries[1].Kind)
	assert.Equal(t, "Recovered. Here you go.", entries[1].Text)
	assert.Equal(t, conversation.EntryError, entries[2].Kind)
}

func TestSession_SendMessage_RejectedWhileStreaming(t *testing.T) {
	pr, pw := io.Pipe()
	be := &fakeBackend{researchBody: pr}
	s := newTestSession(t, be, &recordingSynchronizer{})

	done := make(chan error, 1)
	go func() { done <- s.SendMessage(context.Background(), "first") }()

	// Wait for the first exchange to be visibly in flight
	require.Eventually(t, func() bool {
		return s.Streaming() && len(s.Entries()) == 1
	}, time.Second, time.Millisecond)

	err := s.SendMessage(context.Background(), "second")
	assert.ErrorIs(t, err, ErrStreamInFlight)
	// No duplicate user entry
	assert.Len(t, s.Entries(), 1)

	textLine := sseLine(t, map[string]any{"type": "text", "content": "ok"})
	doneLine := sseLine(t, map[string]any{"type": "done"})
	fmt.Fprint(pw, textLine)
	fmt.Fprint(pw, doneLine)
	pw.Close()
	require.NoError(t, <-done)
	assert.False(t, s.Streaming())
}

func TestSession_SendMessage_ActivePaperForwarded(t *testing.T) {
	be := &fakeBackend{}
	be.researchBody = io.NopCloser(strings.NewReader(sseBody(t,
		map[string]any{"type": "text", "content": "about that paper"},
		map[string]any{"type": "done"},
	)))
	s := newTestSession(t, be, &recordingSynchronizer{})

	s.SetActivePaper(&stream.Paper{ArxivID: "2310.11511v1", Title: "Self-RAG", Abstract: "We introduce Self-RAG."})
	require.NoError(t, s.SendMessage(context.Background(), "summarize this"))

	req := be.request(t)
	require.NotNil(t, req.ActivePaper)
	assert.Equal(t, "2310.11511v1", req.ActivePaper.ArxivID)

	s.ClearActivePaper()
	be.researchBody = io.NopCloser(strings.NewReader(sseBody(t,
		map[string]any{"type": "done"},
	)))
	require.NoError(t, s.SendMessage(context.Background(), "and in general?"))
	assert.Nil(t, be.request(t).ActivePaper)
}

// =============================================================================
// Equivalence and lifecycle
// =============================================================================

func TestSession_RehydrationMatchesLiveStream(t *testing.T) {
	be := &fakeBackend{}
	be.researchBody = io.NopCloser(strings.NewReader(sseBody(t,
		map[string]any{"type": "status", "content": "Searching…"},
		map[string]any{"type": "paper_artifact", "paper": map[string]any{"arxiv_id": "2401.1", "title": "T", "credibility": "MEDIUM"}},
		map[string]any{"type": "text", "content": "Found it."},
		map[string]any{"type": "suggestion_chips", "chips": []string{"More like this"}},
		map[string]any{"type": "done"},
	)))
	sync := &recordingSynchronizer{}
	live := newTestSession(t, be, sync)
	require.NoError(t, live.SendMessage(context.Background(), "find papers"))

	replayed := newTestSession(t, &fakeBackend{rows: sync.saved()}, &recordingSynchronizer{})
	require.NoError(t, replayed.Open(context.Background()))

	liveEntries := live.Entries()
	replayedEntries := replayed.Entries()
	require.Equal(t, len(liveEntries), len(replayedEntries))
	for i := range liveEntries {
		assert.Equal(t, liveEntries[i].Kind, replayedEntries[i].Kind, "entry %d", i)
		assert.Equal(t, liveEntries[i].Seq, replayedEntries[i].Seq, "entry %d", i)
		assert.Equal(t, liveEntries[i].Text, replayedEntries[i].Text, "entry %d", i)
		assert.Equal(t, liveEntries[i].Chips, replayedEntries[i].Chips, "entry %d", i)
		if liveEntries[i].Paper != nil {
			require.NotNil(t, replayedEntries[i].Paper)
			assert.Equal(t, *liveEntries[i].Paper, *replayedEntries[i].Paper)
		}
	}
}

func TestSession_CloseRejectsFurtherSends(t *testing.T) {
	s := newTestSession(t, &fakeBackend{}, &recordingSynchronizer{})
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	err := s.SendMessage(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrSessionClosed)
	err = s.Open(context.Background())
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestSession_CloseCancelsInFlightStream(t *testing.T) {
	pr, pw := io.Pipe()
	be := &fakeBackend{researchBody: pr}
	s := newTestSession(t, be, &recordingSynchronizer{})

	done := make(chan error, 1)
	go func() { done <- s.SendMessage(context.Background(), "hello") }()
	require.Eventually(t, s.Streaming, time.Second, time.Millisecond)

	require.NoError(t, s.Close())
	pw.Close()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("send did not return after close")
	}
	assert.False(t, s.Streaming())
}
