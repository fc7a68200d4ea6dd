// Copyright (C) 2025 Saraswati AI (research@saraswati.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/SaraswatiAI/SaraswatiCanvas/pkg/auth"
	"github.com/SaraswatiAI/SaraswatiCanvas/pkg/backend"
	"github.com/SaraswatiAI/SaraswatiCanvas/pkg/cache"
	"github.com/SaraswatiAI/SaraswatiCanvas/pkg/config"
)

const projectListCacheKey = "projects/list"

func newBackendClient() *backend.Client {
	cfg := config.Global
	return backend.New(backend.Config{
		BaseURL: cfg.Backend.BaseURL,
		Tokens:  auth.NewEnvSource(cfg.Backend.TokenEnv),
		Timeout: cfg.Backend.Timeout,
	})
}

// runProjectsList prints the project list, serving from the local
// cache when the backend was asked recently.
func runProjectsList(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	cfg := config.Global

	var projects []backend.Project

	store, err := cache.Open(cache.DefaultConfig(cfg.Cache.Dir))
	if err == nil {
		defer store.Close()
		if data, cerr := store.Get(projectListCacheKey); cerr == nil {
			if json.Unmarshal(data, &projects) == nil {
				printProjects(projects)
				return
			}
		}
	}

	projects, err = newBackendClient().ListProjects(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: could not list projects: %v\n", err)
		os.Exit(1)
	}

	if store != nil {
		if data, merr := json.Marshal(projects); merr == nil {
			store.Set(projectListCacheKey, data, cfg.Cache.TTL)
		}
	}
	printProjects(projects)
}

func printProjects(projects []backend.Project) {
	if jsonOutput {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		encoder.Encode(projects)
		return
	}
	if len(projects) == 0 {
		fmt.Println("No projects yet. Create one with: saraswati projects create \"My topic\"")
		return
	}
	for _, p := range projects {
		fmt.Printf("%-38s %s\n", p.ID, p.Title)
	}
}

func runProjectsCreate(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	cfg := config.Global

	title := strings.Join(args, " ")
	project, err := newBackendClient().CreateProject(ctx, backend.ProjectCreate{Title: title})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: could not create the project: %v\n", err)
		os.Exit(1)
	}

	// The cached list is now stale
	if store, cerr := cache.Open(cache.DefaultConfig(cfg.Cache.Dir)); cerr == nil {
		store.Delete(projectListCacheKey)
		store.Close()
	}

	fmt.Printf("Created project %s (%s)\n", project.Title, project.ID)
	fmt.Printf("Start chatting: saraswati chat --project %s\n", project.ID)
}
