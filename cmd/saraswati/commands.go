// Copyright (C) 2025 Saraswati AI (research@saraswati.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags.
var Version = "dev"

// --- Global Command Variables ---
var (
	projectID    string
	projectTitle string
	logLevel     string
	jsonOutput   bool
	freshStart   bool

	rootCmd = &cobra.Command{
		Use:   "saraswati",
		Short: "A cli for the Saraswati research canvas",
		Long: `Saraswati is a research assistant: chat with an agent that
				searches arXiv, surfaces papers inline, and keeps every
				conversation durably attached to its project.`,
	}

	// --- Chat ---
	chatCmd = &cobra.Command{
		Use:   "chat",
		Short: "Open the research chat for a project",
		Run:   runChatCommand, // Defined in chat_runner.go
	}

	// --- Projects ---
	projectsCmd = &cobra.Command{
		Use:   "projects",
		Short: "Manage research projects",
	}
	projectsListCmd = &cobra.Command{
		Use:   "list",
		Short: "List your research projects",
		Run:   runProjectsList, // Defined in cmd_projects.go
	}
	projectsCreateCmd = &cobra.Command{
		Use:   "create [title]",
		Short: "Create a new research project",
		Args:  cobra.MinimumNArgs(1),
		Run:   runProjectsCreate, // Defined in cmd_projects.go
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("saraswati", Version)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the configured log level")

	chatCmd.Flags().StringVarP(&projectID, "project", "p", "", "Project ID to chat in (required)")
	chatCmd.Flags().StringVar(&projectTitle, "title", "", "Project title shown in the greeting")
	chatCmd.Flags().BoolVar(&freshStart, "fresh", false, "Clear persisted history before opening")
	chatCmd.MarkFlagRequired("project")
	rootCmd.AddCommand(chatCmd)

	projectsListCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	projectsCmd.AddCommand(projectsListCmd)
	projectsCmd.AddCommand(projectsCreateCmd)
	rootCmd.AddCommand(projectsCmd)

	rootCmd.AddCommand(versionCmd)
}
