// Copyright (C) 2025 Saraswati AI (research@saraswati.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"

	"github.com/SaraswatiAI/SaraswatiCanvas/pkg/backend"
)

// ErrOutboxClosed is returned when operations are called on a closed
// outbox.
var ErrOutboxClosed = errors.New("persist: outbox is closed")

// =============================================================================
// Outbox
// =============================================================================

// Outbox spools history rows whose backend write failed, in a local
// BadgerDB, and replays them in spool order on Drain. It upgrades
// fire-and-forget persistence to eventual durability across backend
// outages and process restarts.
//
// Keys are zero-padded sequence numbers, so Badger's lexicographic
// iteration order is spool order.
type Outbox struct {
	db     *badger.DB
	seq    atomic.Uint64
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
}

// OutboxConfig holds Outbox configuration.
type OutboxConfig struct {
	// Path is the directory for BadgerDB files.
	// Required unless InMemory is true.
	Path string

	// InMemory uses in-memory BadgerDB (for testing). Spooled rows
	// do not survive the process in this mode.
	InMemory bool

	// Logger for spool diagnostics. Default: slog.Default().
	Logger *slog.Logger
}

// NewOutbox opens an outbox with the given configuration. Spooled
// rows from previous runs are preserved; the sequence counter resumes
// after the highest existing key.
func NewOutbox(config OutboxConfig) (*Outbox, error) {
	if !config.InMemory && config.Path == "" {
		return nil, errors.New("path is required for persistent outbox")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var opts badger.Options
	if config.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(config.Path, 0750); err != nil {
			return nil, fmt.Errorf("create outbox directory %s: %w", config.Path, err)
		}
		opts = badger.DefaultOptions(config.Path)
	}
	// Spool writes must survive a crash
	opts = opts.WithSyncWrites(!config.InMemory)
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open outbox database: %w", err)
	}

	o := &Outbox{
		db:     db,
		logger: logger,
	}
	if err := o.initSeq(); err != nil {
		db.Close()
		return nil, err
	}
	return o, nil
}

// initSeq resumes the sequence counter after the highest spooled key.
func (o *Outbox) initSeq() error {
	return o.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		// Seek past the prefix range to land on the highest key
		it.Seek([]byte("row/~"))
		if !it.ValidForPrefix([]byte("row/")) {
			return nil
		}
		var seq uint64
		if _, err := fmt.Sscanf(string(it.Item().Key()), "row/%020d", &seq); err != nil {
			return nil
		}
		o.seq.Store(seq)
		return nil
	})
}

func outboxKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("row/%020d", seq))
}

// Spool stores one failed row for later replay.
func (o *Outbox) Spool(row backend.PersistedEvent) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrOutboxClosed
	}

	data, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("encode outbox row: %w", err)
	}

	key := outboxKey(o.seq.Add(1))
	err = o.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
	if err != nil {
		return fmt.Errorf("spool outbox row: %w", err)
	}

	o.logger.Debug("row spooled to outbox",
		"msg_type", row.MsgType,
		"sequence_id", row.SequenceID,
	)
	return nil
}

// Pending returns the number of spooled rows.
func (o *Outbox) Pending() (int, error) {
	count := 0
	err := o.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek([]byte("row/")); it.ValidForPrefix([]byte("row/")); it.Next() {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("count outbox rows: %w", err)
	}
	return count, nil
}

// Drain replays spooled rows through the store in spool order,
// deleting each on success. Stops at the first failed write (the
// backend is presumably still down) or on context cancellation; the
// remaining rows stay spooled.
func (o *Outbox) Drain(ctx context.Context, store Store, projectID string) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrOutboxClosed
	}
	o.mu.Unlock()

	// Snapshot the pending keys and rows
	type spooled struct {
		key []byte
		row backend.PersistedEvent
	}
	var rows []spooled

	err := o.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek([]byte("row/")); it.ValidForPrefix([]byte("row/")); it.Next() {
			item := it.Item()
			data, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			var row backend.PersistedEvent
			if err := json.Unmarshal(data, &row); err != nil {
				o.logger.Warn("skipping corrupt outbox row", "key", string(item.Key()))
				continue
			}
			rows = append(rows, spooled{key: item.KeyCopy(nil), row: row})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("read outbox: %w", err)
	}

	for _, r := range rows {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := store.SaveMessage(ctx, projectID, r.row); err != nil {
			return fmt.Errorf("replay outbox row seq %d: %w", r.row.SequenceID, err)
		}
		if err := o.db.Update(func(txn *badger.Txn) error {
			return txn.Delete(r.key)
		}); err != nil {
			return fmt.Errorf("delete replayed outbox row: %w", err)
		}
		o.logger.Debug("outbox row replayed",
			"project_id", projectID,
			"msg_type", r.row.MsgType,
			"sequence_id", r.row.SequenceID,
		)
	}

	return nil
}

// Close releases the underlying database.
func (o *Outbox) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil
	}
	o.closed = true
	return o.db.Close()
}
