// Copyright (C) 2025 Saraswati AI (research@saraswati.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package cache provides a small TTL cache backed by BadgerDB.
//
// Every Set carries an explicit TTL; there are no implicit lifetimes
// and no global invalidation, which keeps expiry behavior auditable.
// Used for project metadata and cached bearer tokens.
//
// License: BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).
package cache

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// ErrNotFound is returned when a key is absent or its TTL expired.
var ErrNotFound = errors.New("cache: key not found")

// Cache is a byte-oriented key-value store with explicit expiry.
//
// Thread Safety: implementations must be safe for concurrent use.
type Cache interface {
	// Get returns the value for key, or ErrNotFound when the key is
	// absent or expired.
	Get(key string) ([]byte, error)

	// Set stores value under key for the given TTL. A non-positive
	// TTL stores the value without expiry. Expiry granularity is one
	// second; shorter positive TTLs are rounded up to one second.
	Set(key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(key string) error

	// Close releases the underlying store.
	Close() error
}

// =============================================================================
// Configuration
// =============================================================================

// Config holds configuration for a BadgerDB-backed cache.
type Config struct {
	// Path is the directory for BadgerDB files.
	// Required unless InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence).
	// Useful for testing.
	InMemory bool

	// SyncWrites enables synchronous writes. A cache tolerates loss,
	// so this defaults off.
	SyncWrites bool

	// Logger is the logger for BadgerDB operations.
	// If nil, BadgerDB's internal logging is disabled.
	Logger *slog.Logger
}

// DefaultConfig returns the production configuration rooted at path.
func DefaultConfig(path string) Config {
	return Config{
		Path: path,
	}
}

// InMemoryConfig returns a configuration for testing: in-memory, no
// disk I/O.
func InMemoryConfig() Config {
	return Config{
		InMemory: true,
	}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// =============================================================================
// BadgerDB Cache
// =============================================================================

// badgerCache implements Cache on a BadgerDB instance, using Badger's
// native entry TTL for expiry.
type badgerCache struct {
	db *badger.DB
}

// Open creates a cache with the given configuration.
//
// Description:
//
//	Opens a BadgerDB database at the configured path, or in memory
//	when InMemory is true. Creates the directory if it doesn't exist.
//
// Inputs:
//
//	cfg - Cache configuration. Path is required unless InMemory is true.
//
// Outputs:
//
//	Cache - The opened cache. Caller must call Close() when done.
//	error - Non-nil if the path is invalid or the database cannot open.
//
// Thread Safety: The returned Cache is safe for concurrent use.
func Open(cfg Config) (Cache, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent cache")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create cache directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}

	opts = opts.WithSyncWrites(cfg.SyncWrites)
	opts = opts.WithNumVersionsToKeep(1)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open cache database: %w", err)
	}

	return &badgerCache{db: db}, nil
}

// OpenInMemory opens an in-memory cache for testing. Data is lost
// when closed.
func OpenInMemory() (Cache, error) {
	return Open(InMemoryConfig())
}

// Get returns the value for key.
func (c *badgerCache) Get(key string) ([]byte, error) {
	var value []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("cache get %s: %w", key, err)
	}
	return value, nil
}

// Set stores value under key with the given TTL. Badger tracks
// expiry in unix seconds, so a positive TTL below one second would
// expire immediately; such TTLs are rounded up to one second.
func (c *badgerCache) Set(key string, value []byte, ttl time.Duration) error {
	if ttl > 0 && ttl < time.Second {
		ttl = time.Second
	}
	err := c.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(key), value)
		if ttl > 0 {
			entry = entry.WithTTL(ttl)
		}
		return txn.SetEntry(entry)
	})
	if err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}

// Delete removes key.
func (c *badgerCache) Delete(key string) error {
	err := c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("cache delete %s: %w", key, err)
	}
	return nil
}

// Close releases the underlying database.
func (c *badgerCache) Close() error {
	return c.db.Close()
}

// =============================================================================
// Compile-time Interface Check
// =============================================================================

var _ Cache = (*badgerCache)(nil)
