// Copyright (C) 2025 Saraswati AI (research@saraswati.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/SaraswatiAI/SaraswatiCanvas/pkg/auth"
	"github.com/SaraswatiAI/SaraswatiCanvas/pkg/backend"
	"github.com/SaraswatiAI/SaraswatiCanvas/pkg/cache"
	"github.com/SaraswatiAI/SaraswatiCanvas/pkg/config"
	"github.com/SaraswatiAI/SaraswatiCanvas/pkg/logging"
	"github.com/SaraswatiAI/SaraswatiCanvas/pkg/observability"
	"github.com/SaraswatiAI/SaraswatiCanvas/pkg/persist"
	"github.com/SaraswatiAI/SaraswatiCanvas/pkg/session"
)

// bearerCacheKey holds the backend bearer token between requests.
const bearerCacheKey = "token/backend"

// runChatCommand wires the whole engine together and runs the
// interactive loop until EOF or /exit.
func runChatCommand(cmd *cobra.Command, args []string) {
	cfg := config.Global

	level := cfg.Logging.Level
	if logLevel != "" {
		level = logLevel
	}
	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(level),
		LogDir:  cfg.Logging.Dir,
		Service: "saraswati-cli",
		JSON:    cfg.Logging.JSON,
	})
	defer logger.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Tracing.Enabled {
		obsCfg := observability.DefaultConfig()
		obsCfg.TraceExporter = "stdout"
		shutdown, err := observability.Init(ctx, obsCfg)
		if err != nil {
			logger.Warn("tracing disabled", "error", err)
		} else {
			defer shutdown(context.Background())
		}
	}

	tokens := auth.NewEnvSource(cfg.Backend.TokenEnv)
	store, err := cache.Open(cache.DefaultConfig(cfg.Cache.Dir))
	if err != nil {
		logger.Warn("token cache unavailable, reading the token per request", "error", err)
	} else {
		defer store.Close()
		tokens = auth.NewCachedSource(tokens, store, bearerCacheKey, cfg.Cache.TTL)
	}

	client := backend.New(backend.Config{
		BaseURL: cfg.Backend.BaseURL,
		Tokens:  tokens,
		Timeout: cfg.Backend.Timeout,
		Logger:  logger.Slog(),
	})

	if freshStart {
		if err := client.ClearMessages(ctx, projectID); err != nil {
			fmt.Fprintf(os.Stderr, "Error: could not clear history: %v\n", err)
			os.Exit(1)
		}
	}

	outbox, err := persist.NewOutbox(persist.OutboxConfig{
		Path:   filepath.Join(cfg.Cache.Dir, "outbox", projectID),
		Logger: logger.Slog(),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: could not open the outbox: %v\n", err)
		os.Exit(1)
	}
	defer outbox.Close()

	synchronizer := persist.New(persist.Config{
		ProjectID: projectID,
		Store:     client,
		Outbox:    outbox,
		Logger:    logger.Slog(),
	})

	renderer := NewRenderer(os.Stdout)

	sess, err := session.New(session.Config{
		ProjectID:    projectID,
		ProjectTitle: projectTitle,
		Backend:      client,
		Synchronizer: synchronizer,
		Observer:     renderer.RenderEntry,
		Logger:       logger.Slog(),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer sess.Close()

	if err := sess.Open(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: could not open the session: %v\n", err)
		os.Exit(1)
	}

	runChatLoop(ctx, sess, renderer)
}

// runChatLoop reads user input and drives exchanges until the user
// leaves or stdin closes.
func runChatLoop(ctx context.Context, sess *session.Session, renderer *Renderer) {
	reader := NewInteractiveInputReader(50)
	renderer.Hint("Type a question, or /exit to leave.")

	for {
		if ctx.Err() != nil {
			return
		}

		renderer.Prompt()
		line, err := reader.ReadLine()
		if err == io.EOF {
			return
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading input: %v\n", err)
			return
		}

		switch strings.TrimSpace(line) {
		case "":
			continue
		case "/exit", "/quit":
			return
		}

		err = sess.SendMessage(ctx, line)
		switch {
		case errors.Is(err, session.ErrStreamInFlight):
			renderer.Hint("Still streaming the previous answer, hold on.")
		case errors.Is(err, session.ErrEmptyMessage):
			continue
		case err != nil:
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return
		}
	}
}
