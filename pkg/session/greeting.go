// Copyright (C) 2025 Saraswati AI (research@saraswati.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package session

import (
	"fmt"

	"github.com/SaraswatiAI/SaraswatiCanvas/pkg/stream"
)

// GreetingChips are the onboarding suggestions shown with the
// greeting, both streamed and synthesized.
var GreetingChips = []string{
	"I'm a complete beginner",
	"I know the basics",
	"I'm an expert — go deep",
	"Just show me the top papers",
}

// GreetingText renders the default greeting for a project. It matches
// what the greeting endpoint streams, so the local fallback is
// indistinguishable from a served greeting.
func GreetingText(projectTitle string) string {
	if projectTitle == "" {
		projectTitle = "your project"
	}
	return fmt.Sprintf(
		"## Welcome to your research canvas! 👋\n\n"+
			"I'm **Saraswati**, your AI research guide for *%s*. "+
			"I can help you discover papers, understand concepts, compare ideas, and build knowledge.\n\n"+
			"To get started — **what's your current familiarity** with this topic?\n",
		projectTitle,
	)
}

// installFallbackGreeting builds the greeting locally when the
// greeting endpoint is unreachable. It runs through the same reducer
// path a served greeting would, and is never persisted: the next
// successful open streams the real greeting.
func (s *Session) installFallbackGreeting() {
	s.conv.OpenAssistant()
	s.conv.Apply(stream.StreamEvent{
		Type:    stream.StreamEventText,
		Content: GreetingText(s.projectTitle),
	})
	if entry, ok := s.conv.SealAssistant(); ok {
		s.notify(entry)
	}
	if entry := s.conv.Apply(stream.StreamEvent{
		Type:  stream.StreamEventChips,
		Chips: GreetingChips,
	}); entry != nil {
		s.notify(*entry)
	}
	s.logger.Info("installed local greeting fallback")
}
