// Copyright (C) 2025 Saraswati AI (research@saraswati.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/SaraswatiAI/SaraswatiCanvas/pkg/conversation"
)

// Brand colors.
var (
	ColorSaffron = lipgloss.Color("#E8A33D")
	ColorIndigo  = lipgloss.Color("#5B6ABF")
	ColorSlate   = lipgloss.Color("#8A8F98")
	ColorCrimson = lipgloss.Color("#D64550")
)

var (
	statusStyle = lipgloss.NewStyle().Foreground(ColorSlate).Italic(true)
	chipStyle   = lipgloss.NewStyle().Foreground(ColorIndigo)
	errorStyle  = lipgloss.NewStyle().Foreground(ColorCrimson).Bold(true)
	userStyle   = lipgloss.NewStyle().Foreground(ColorSaffron).Bold(true)
	hintStyle   = lipgloss.NewStyle().Foreground(ColorSlate)
	paperStyle  = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorIndigo).
			Padding(0, 1)
)

// Renderer paints transcript entries to the terminal. In machine
// mode (non-TTY output) it emits "KIND: value" lines with no
// styling, one entry per line where possible.
type Renderer struct {
	mu      sync.Mutex
	out     io.Writer
	machine bool
}

func NewRenderer(out *os.File) *Renderer {
	machine := !isatty.IsTerminal(out.Fd()) && !isatty.IsCygwinTerminal(out.Fd())
	return &Renderer{out: out, machine: machine}
}

// RenderEntry paints one entry. Safe to call from the streaming
// goroutine; entries arrive in transcript order.
func (r *Renderer) RenderEntry(entry conversation.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch entry.Kind {
	case conversation.EntryUser:
		// The user just typed this; re-echoing it is noise.
		if r.machine {
			fmt.Fprintf(r.out, "USER: %s\n", entry.Text)
		}

	case conversation.EntryAssistant:
		if r.machine {
			fmt.Fprintf(r.out, "ASSISTANT: %s\n", strings.ReplaceAll(entry.Text, "\n", "\\n"))
			return
		}
		fmt.Fprintf(r.out, "\n%s\n", strings.TrimRight(entry.Text, "\n"))

	case conversation.EntryStatus:
		if r.machine {
			fmt.Fprintf(r.out, "STATUS: %s\n", entry.Text)
			return
		}
		fmt.Fprintln(r.out, statusStyle.Render("· "+entry.Text))

	case conversation.EntrySuggestions:
		if r.machine {
			fmt.Fprintf(r.out, "CHIPS: %s\n", strings.Join(entry.Chips, " | "))
			return
		}
		fmt.Fprintln(r.out)
		for _, chip := range entry.Chips {
			fmt.Fprintln(r.out, chipStyle.Render("  ▸ "+chip))
		}

	case conversation.EntryArtifact:
		r.renderPaper(entry)

	case conversation.EntryError:
		if r.machine {
			fmt.Fprintf(r.out, "ERROR: %s\n", entry.Text)
			return
		}
		fmt.Fprintln(r.out, errorStyle.Render("✗ "+entry.Text))
	}
}

func (r *Renderer) renderPaper(entry conversation.Entry) {
	p := entry.Paper
	if p == nil {
		return
	}
	if r.machine {
		fmt.Fprintf(r.out, "PAPER: %s | %s | %s\n", p.ArxivID, p.Title, p.Credibility)
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", userStyle.Render(p.Title))
	if len(p.Authors) > 0 {
		authors := p.Authors
		if len(authors) > 3 {
			authors = append(append([]string{}, authors[:3]...), "et al.")
		}
		fmt.Fprintf(&b, "%s\n", strings.Join(authors, ", "))
	}
	if p.AbstractSnippet != "" {
		fmt.Fprintf(&b, "%s\n", p.AbstractSnippet)
	}
	meta := []string{p.ArxivID}
	if p.Published != "" {
		meta = append(meta, p.Published)
	}
	if p.Credibility != "" {
		meta = append(meta, p.Credibility)
	}
	fmt.Fprintf(&b, "%s", hintStyle.Render(strings.Join(meta, " · ")))

	fmt.Fprintln(r.out, paperStyle.Render(b.String()))
}

// Prompt prints the input prompt marker.
func (r *Renderer) Prompt() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.machine {
		return
	}
	fmt.Fprint(r.out, userStyle.Render("\n> "))
}

// Hint prints a quiet instructional line.
func (r *Renderer) Hint(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.machine {
		return
	}
	fmt.Fprintln(r.out, hintStyle.Render(text))
}
