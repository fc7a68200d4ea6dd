// Copyright (C) 2025 Saraswati AI (research@saraswati.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/SaraswatiAI/SaraswatiCanvas/pkg/backend"
	"github.com/SaraswatiAI/SaraswatiCanvas/pkg/session"
	"github.com/SaraswatiAI/SaraswatiCanvas/pkg/stream"
)

// Handlers serves the canvas API surface with canned agent behavior.
// No reasoning happens here; streams are scripted so clients can be
// developed and integration-tested offline.
type Handlers struct {
	store *memoryStore

	// streamDelay paces SSE events so terminal rendering looks
	// live. Zero in tests.
	streamDelay time.Duration
}

func NewHandlers(streamDelay time.Duration) *Handlers {
	return &Handlers{store: newMemoryStore(), streamDelay: streamDelay}
}

// RegisterRoutes registers the API surface under /api/v1.
//
//	POST   /api/v1/chat/research            - scripted research stream (SSE)
//	GET    /api/v1/chat/research/greeting   - greeting stream (SSE)
//	GET    /api/v1/projects/                - list projects
//	POST   /api/v1/projects/                - create a project
//	GET    /api/v1/projects/:id             - fetch one project
//	GET    /api/v1/projects/:id/messages    - list history rows
//	POST   /api/v1/projects/:id/messages    - append a history row
//	DELETE /api/v1/projects/:id/messages    - clear history
//	GET    /api/v1/projects/:id/notes       - list notes
//	POST   /api/v1/projects/:id/notes       - add a note
func (h *Handlers) RegisterRoutes(rg *gin.RouterGroup) {
	chat := rg.Group("/chat")
	{
		chat.POST("/research", h.HandleResearchStream)
		chat.GET("/research/greeting", h.HandleGreetingStream)
	}

	projects := rg.Group("/projects")
	{
		projects.GET("/", h.HandleListProjects)
		projects.POST("/", h.HandleCreateProject)
		projects.GET("/:id", h.HandleGetProject)
		projects.GET("/:id/messages", h.HandleListMessages)
		projects.POST("/:id/messages", h.HandleSaveMessage)
		projects.DELETE("/:id/messages", h.HandleClearMessages)
		projects.GET("/:id/notes", h.HandleListNotes)
		projects.POST("/:id/notes", h.HandleAddNote)
	}
}

// =============================================================================
// SSE streams
// =============================================================================

func sseHeaders(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
}

// emit writes one SSE data frame and flushes it.
func (h *Handlers) emit(c *gin.Context, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(c.Writer, "data: %s\n\n", data)
	c.Writer.Flush()
	if h.streamDelay > 0 {
		time.Sleep(h.streamDelay)
	}
}

// HandleGreetingStream streams the project greeting line by line,
// then the onboarding chips.
func (h *Handlers) HandleGreetingStream(c *gin.Context) {
	title := c.Query("project_title")
	sseHeaders(c)

	for _, line := range strings.Split(strings.TrimRight(session.GreetingText(title), "\n"), "\n") {
		h.emit(c, stream.StreamEvent{Type: stream.StreamEventText, Content: line + "\n"})
	}
	h.emit(c, stream.StreamEvent{Type: stream.StreamEventChips, Chips: session.GreetingChips})
	h.emit(c, stream.StreamEvent{Type: stream.StreamEventDone})
}

// cannedPaper is the artifact every research exchange surfaces.
var cannedPaper = stream.Paper{
	ArxivID:         "2310.11511v1",
	Title:           "Self-RAG: Learning to Retrieve, Generate, and Critique through Self-Reflection",
	Authors:         []string{"Akari Asai", "Zeqiu Wu", "Yizhong Wang", "Avirup Sil", "Hannaneh Hajishirzi"},
	AbstractSnippet: "We introduce a new framework called Self-Reflective Retrieval-Augmented Generation (Self-RAG) that enhances an LM's quality and factuality through retrieval and self-reflection.",
	Published:       "2023-10-17",
	PdfURL:          "https://arxiv.org/pdf/2310.11511v1",
	Categories:      []string{"cs.CL", "cs.AI", "cs.LG"},
	Credibility:     "HIGH",
}

// HandleResearchStream streams a scripted exchange: a status line, a
// paper artifact mid-answer, the answer in small text deltas, and a
// set of follow-up chips.
func (h *Handlers) HandleResearchStream(c *gin.Context) {
	var req backend.ResearchChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}
	if req.ProjectID == "" || req.Message == "" {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "project_id and message are required"})
		return
	}

	sseHeaders(c)
	h.emit(c, stream.StreamEvent{Type: stream.StreamEventStatus, Content: "Searching arXiv..."})
	h.emit(c, stream.StreamEvent{Type: stream.StreamEventStatus, Content: "Reading abstracts..."})
	h.emit(c, stream.StreamEvent{Type: stream.StreamEventPaper, Paper: &cannedPaper})

	answer := fmt.Sprintf(
		"You asked: *%s*\n\nA strong starting point is **%s** — it covers exactly this ground. I've pinned it to your canvas.",
		req.Message, cannedPaper.Title,
	)
	for _, word := range strings.SplitAfter(answer, " ") {
		h.emit(c, stream.StreamEvent{Type: stream.StreamEventText, Content: word})
	}

	h.emit(c, stream.StreamEvent{Type: stream.StreamEventChips, Chips: []string{
		"Summarize this paper",
		"Find similar papers",
		"Explain the methodology",
	}})
	h.emit(c, stream.StreamEvent{Type: stream.StreamEventDone})
}

// =============================================================================
// Projects, messages, notes
// =============================================================================

func (h *Handlers) HandleListProjects(c *gin.Context) {
	c.JSON(http.StatusOK, h.store.listProjects())
}

func (h *Handlers) HandleCreateProject(c *gin.Context) {
	var body backend.ProjectCreate
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}
	if body.Title == "" {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "title is required"})
		return
	}
	c.JSON(http.StatusOK, h.store.createProject(body))
}

func (h *Handlers) HandleGetProject(c *gin.Context) {
	p, ok := h.store.getProject(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"detail": "project not found"})
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handlers) HandleListMessages(c *gin.Context) {
	c.JSON(http.StatusOK, h.store.listMessages(c.Param("id")))
}

func (h *Handlers) HandleSaveMessage(c *gin.Context) {
	var row backend.PersistedEvent
	if err := c.ShouldBindJSON(&row); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}
	if row.MsgType == "" {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "msg_type is required"})
		return
	}
	h.store.saveMessage(c.Param("id"), row)
	c.JSON(http.StatusOK, row)
}

func (h *Handlers) HandleClearMessages(c *gin.Context) {
	h.store.clearMessages(c.Param("id"))
	c.JSON(http.StatusOK, gin.H{"cleared": true})
}

func (h *Handlers) HandleListNotes(c *gin.Context) {
	c.JSON(http.StatusOK, h.store.listNotes(c.Param("id")))
}

func (h *Handlers) HandleAddNote(c *gin.Context) {
	var body backend.NoteCreate
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.store.addNote(c.Param("id"), body))
}
