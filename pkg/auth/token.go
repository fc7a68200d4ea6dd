// Copyright (C) 2025 Saraswati AI (research@saraswati.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package auth supplies bearer tokens for backend requests.
//
// The backend verifies Supabase-issued JWTs; this package does not
// mint or validate tokens, it only sources them for the Authorization
// header. Token issuance is out of scope for this client.
package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"
)

// ErrNoToken is returned when a source has no token to offer.
var ErrNoToken = errors.New("auth: no token available")

// TokenSource yields the bearer token for outgoing requests.
//
// Implementations must be safe for concurrent use. Token must return
// ErrNoToken (possibly wrapped) when nothing is available rather than
// an empty string.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// =============================================================================
// Static Source
// =============================================================================

// staticSource returns a fixed token.
type staticSource struct {
	token string
}

// NewStaticSource creates a TokenSource around a fixed token string.
func NewStaticSource(token string) TokenSource {
	return &staticSource{token: token}
}

func (s *staticSource) Token(ctx context.Context) (string, error) {
	if s.token == "" {
		return "", ErrNoToken
	}
	return s.token, nil
}

var _ TokenSource = (*staticSource)(nil)

// =============================================================================
// Environment Source
// =============================================================================

// envSource reads the token from an environment variable on every
// call, so external refreshes are picked up without restart.
type envSource struct {
	envVar string
}

// NewEnvSource creates a TokenSource reading the named environment
// variable.
func NewEnvSource(envVar string) TokenSource {
	return &envSource{envVar: envVar}
}

func (s *envSource) Token(ctx context.Context) (string, error) {
	token := os.Getenv(s.envVar)
	if token == "" {
		return "", fmt.Errorf("%w: %s is unset", ErrNoToken, s.envVar)
	}
	return token, nil
}

var _ TokenSource = (*envSource)(nil)

// =============================================================================
// Chain Source
// =============================================================================

// chainSource tries each source in order and returns the first token
// found.
type chainSource struct {
	sources []TokenSource
}

// NewChainSource creates a TokenSource that consults sources in
// order. A source failing with ErrNoToken falls through to the next;
// any other error stops the chain.
func NewChainSource(sources ...TokenSource) TokenSource {
	return &chainSource{sources: sources}
}

func (s *chainSource) Token(ctx context.Context) (string, error) {
	for _, src := range s.sources {
		token, err := src.Token(ctx)
		if err == nil {
			return token, nil
		}
		if !errors.Is(err, ErrNoToken) {
			return "", err
		}
	}
	return "", ErrNoToken
}

var _ TokenSource = (*chainSource)(nil)

// =============================================================================
// Cached Source
// =============================================================================

// TokenCache is the slice of the cache surface the cached source
// needs. pkg/cache.Cache satisfies it.
type TokenCache interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte, ttl time.Duration) error
}

// cachedSource keeps the bearer in a TTL cache so the inner source is
// consulted only when the cached token has expired.
type cachedSource struct {
	inner TokenSource
	store TokenCache
	key   string
	ttl   time.Duration
}

// NewCachedSource creates a TokenSource that caches the inner
// source's token under key for ttl. Cache write failures are ignored;
// the token from the inner source is still returned.
func NewCachedSource(inner TokenSource, store TokenCache, key string, ttl time.Duration) TokenSource {
	return &cachedSource{inner: inner, store: store, key: key, ttl: ttl}
}

func (s *cachedSource) Token(ctx context.Context) (string, error) {
	if cached, err := s.store.Get(s.key); err == nil && len(cached) > 0 {
		return string(cached), nil
	}

	token, err := s.inner.Token(ctx)
	if err != nil {
		return "", err
	}
	_ = s.store.Set(s.key, []byte(token), s.ttl)
	return token, nil
}

var _ TokenSource = (*cachedSource)(nil)
