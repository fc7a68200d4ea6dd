// Copyright (C) 2025 Saraswati AI (research@saraswati.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package conversation

import (
	"fmt"
	"sync/atomic"
	"time"
)

// IDGenerator produces opaque entry ids. Injected at construction so
// tests can substitute a deterministic implementation.
//
// Implementations must be safe for concurrent use, and ids must never
// collide even when many are drawn within the same instant.
type IDGenerator interface {
	NextID() string
}

// monotonicIDGenerator combines the wall clock with a strictly
// increasing counter. The counter disambiguates ids drawn within one
// nanosecond tick, so uniqueness never depends on clock resolution.
type monotonicIDGenerator struct {
	counter atomic.Uint64
}

// NewIDGenerator returns the production IDGenerator.
func NewIDGenerator() IDGenerator {
	return &monotonicIDGenerator{}
}

func (g *monotonicIDGenerator) NextID() string {
	return fmt.Sprintf("msg-%d-%d", time.Now().UnixNano(), g.counter.Add(1))
}

var _ IDGenerator = (*monotonicIDGenerator)(nil)

// SequentialIDGenerator yields "<prefix>1", "<prefix>2", ... in call
// order. Deterministic, for tests and for contexts where ids must be
// reproducible.
type SequentialIDGenerator struct {
	prefix  string
	counter atomic.Uint64
}

// NewSequentialIDGenerator creates a SequentialIDGenerator with the
// given prefix.
func NewSequentialIDGenerator(prefix string) *SequentialIDGenerator {
	return &SequentialIDGenerator{prefix: prefix}
}

func (g *SequentialIDGenerator) NextID() string {
	return fmt.Sprintf("%s%d", g.prefix, g.counter.Add(1))
}

var _ IDGenerator = (*SequentialIDGenerator)(nil)
