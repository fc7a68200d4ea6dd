// Copyright (C) 2025 Saraswati AI (research@saraswati.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package logging

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// =============================================================================
// Level Tests
// =============================================================================

func TestLevel_String(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(99), "UNKNOWN"},
		{Level(-1), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			got := tt.level.String()
			if got != tt.want {
				t.Errorf("Level.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name string
		want Level
	}{
		{"debug", LevelDebug},
		{"DEBUG", LevelDebug},
		{"info", LevelInfo},
		{"warn", LevelWarn},
		{"warning", LevelWarn},
		{"error", LevelError},
		{" Error ", LevelError},
		{"verbose", LevelInfo}, // unknown falls back to Info
		{"", LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseLevel(tt.name); got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

func TestLevel_toSlogLevel(t *testing.T) {
	tests := []struct {
		level Level
		want  slog.Level
	}{
		{LevelDebug, slog.LevelDebug},
		{LevelInfo, slog.LevelInfo},
		{LevelWarn, slog.LevelWarn},
		{LevelError, slog.LevelError},
		{Level(99), slog.LevelInfo}, // Unknown defaults to Info
	}

	for _, tt := range tests {
		t.Run(tt.level.String(), func(t *testing.T) {
			if got := tt.level.toSlogLevel(); got != tt.want {
				t.Errorf("Level.toSlogLevel() = %v, want %v", got, tt.want)
			}
		})
	}
}

// =============================================================================
// Logger Constructor Tests
// =============================================================================

func TestNew_DefaultConfig(t *testing.T) {
	logger := New(Config{})
	if logger == nil {
		t.Fatal("New() returned nil")
	}
	if logger.slog == nil {
		t.Error("logger.slog is nil")
	}
	defer logger.Close()
}

func TestNew_FileLogging(t *testing.T) {
	dir := t.TempDir()

	logger := New(Config{
		Level:   LevelDebug,
		LogDir:  dir,
		Service: "canvas-test",
		Quiet:   true,
	})
	logger.Info("hydration complete", "entries", 4)
	if err := logger.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	filename := "canvas-test_" + time.Now().Format("2006-01-02") + ".log"
	data, err := os.ReadFile(filepath.Join(dir, filename))
	if err != nil {
		t.Fatalf("log file not written: %v", err)
	}
	content := string(data)
	if !strings.Contains(content, "hydration complete") {
		t.Errorf("log file missing message, got: %s", content)
	}
	if !strings.Contains(content, `"service":"canvas-test"`) {
		t.Errorf("log file missing service attribute, got: %s", content)
	}
}

func TestDefault(t *testing.T) {
	logger := Default()
	if logger == nil {
		t.Fatal("Default() returned nil")
	}
	defer logger.Close()
}

// =============================================================================
// Exporter Tests
// =============================================================================

func TestLogger_Exporter(t *testing.T) {
	exporter := NewBufferedExporter()
	logger := New(Config{
		Level:    LevelInfo,
		Service:  "canvas-test",
		Quiet:    true,
		Exporter: exporter,
	})
	defer logger.Close()

	logger.Info("stream opened", "project_id", "proj-1")
	logger.Debug("filtered out") // below Info, not exported

	// Export is async; poll briefly
	deadline := time.Now().Add(2 * time.Second)
	var entries []LogEntry
	for time.Now().Before(deadline) {
		entries = exporter.Entries()
		if len(entries) >= 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if len(entries) != 1 {
		t.Fatalf("expected 1 exported entry, got %d", len(entries))
	}
	if entries[0].Message != "stream opened" {
		t.Errorf("Message = %q, want %q", entries[0].Message, "stream opened")
	}
	if entries[0].Attrs["project_id"] != "proj-1" {
		t.Errorf("Attrs[project_id] = %v, want proj-1", entries[0].Attrs["project_id"])
	}
}

func TestNopExporter(t *testing.T) {
	var e NopExporter
	if err := e.Export(context.Background(), LogEntry{}); err != nil {
		t.Errorf("Export() error: %v", err)
	}
	if err := e.Flush(context.Background()); err != nil {
		t.Errorf("Flush() error: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
}

// =============================================================================
// Child Logger Tests
// =============================================================================

func TestLogger_With(t *testing.T) {
	logger := New(Config{Quiet: true})
	defer logger.Close()

	child := logger.With("project_id", "proj-42")
	if child == nil {
		t.Fatal("With() returned nil")
	}
	if child == logger {
		t.Error("With() should return a new logger")
	}
	// Child shares config and file handle
	if child.config != logger.config {
		t.Error("child should share parent config")
	}
}

// =============================================================================
// Helper Tests
// =============================================================================

func TestArgsToMap(t *testing.T) {
	m := argsToMap([]any{"key1", "value1", "key2", 123})
	if m["key1"] != "value1" {
		t.Errorf("m[key1] = %v, want value1", m["key1"])
	}
	if m["key2"] != 123 {
		t.Errorf("m[key2] = %v, want 123", m["key2"])
	}

	// Odd trailing arg is dropped
	m = argsToMap([]any{"key1", "value1", "orphan"})
	if len(m) != 1 {
		t.Errorf("len(m) = %d, want 1", len(m))
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory available")
	}

	got := expandPath("~/.saraswati/logs")
	want := filepath.Join(home, ".saraswati/logs")
	if got != want {
		t.Errorf("expandPath() = %v, want %v", got, want)
	}

	if got := expandPath("/var/log"); got != "/var/log" {
		t.Errorf("expandPath(/var/log) = %v, unchanged expected", got)
	}
}
