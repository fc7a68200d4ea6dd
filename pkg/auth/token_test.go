// Copyright (C) 2025 Saraswati AI (research@saraswati.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package auth

import (
	"context"
	"errors"
	"testing"
)

// =============================================================================
// Static Source
// =============================================================================

func TestStaticSource(t *testing.T) {
	token, err := NewStaticSource("abc123").Token(context.Background())
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if token != "abc123" {
		t.Errorf("Token() = %q, want %q", token, "abc123")
	}
}

func TestStaticSource_Empty(t *testing.T) {
	_, err := NewStaticSource("").Token(context.Background())
	if !errors.Is(err, ErrNoToken) {
		t.Errorf("Token() error = %v, want ErrNoToken", err)
	}
}

// =============================================================================
// Environment Source
// =============================================================================

func TestEnvSource(t *testing.T) {
	t.Setenv("SARASWATI_TEST_TOKEN", "from-env")

	src := NewEnvSource("SARASWATI_TEST_TOKEN")
	token, err := src.Token(context.Background())
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if token != "from-env" {
		t.Errorf("Token() = %q, want %q", token, "from-env")
	}
}

func TestEnvSource_Unset(t *testing.T) {
	_, err := NewEnvSource("SARASWATI_TEST_TOKEN_UNSET").Token(context.Background())
	if !errors.Is(err, ErrNoToken) {
		t.Errorf("Token() error = %v, want ErrNoToken", err)
	}
}

func TestEnvSource_PicksUpRefresh(t *testing.T) {
	t.Setenv("SARASWATI_TEST_TOKEN", "first")
	src := NewEnvSource("SARASWATI_TEST_TOKEN")

	if token, _ := src.Token(context.Background()); token != "first" {
		t.Fatalf("Token() = %q, want %q", token, "first")
	}

	t.Setenv("SARASWATI_TEST_TOKEN", "second")
	if token, _ := src.Token(context.Background()); token != "second" {
		t.Errorf("Token() = %q, want %q", token, "second")
	}
}

// =============================================================================
// Chain Source
// =============================================================================

func TestChainSource_FallsThrough(t *testing.T) {
	src := NewChainSource(
		NewStaticSource(""),
		NewEnvSource("SARASWATI_TEST_TOKEN_UNSET"),
		NewStaticSource("fallback"),
	)
	token, err := src.Token(context.Background())
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if token != "fallback" {
		t.Errorf("Token() = %q, want %q", token, "fallback")
	}
}

func TestChainSource_Exhausted(t *testing.T) {
	src := NewChainSource(NewStaticSource(""), NewStaticSource(""))
	_, err := src.Token(context.Background())
	if !errors.Is(err, ErrNoToken) {
		t.Errorf("Token() error = %v, want ErrNoToken", err)
	}
}

type failingSource struct{ err error }

func (f failingSource) Token(ctx context.Context) (string, error) { return "", f.err }

func TestChainSource_StopsOnHardError(t *testing.T) {
	hard := errors.New("keyring locked")
	src := NewChainSource(failingSource{err: hard}, NewStaticSource("never"))
	_, err := src.Token(context.Background())
	if !errors.Is(err, hard) {
		t.Errorf("Token() error = %v, want %v", err, hard)
	}
}
