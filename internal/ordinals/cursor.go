// Copyright (c) 2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package ordinals

import "sync"

// CursorStore persists the three sequence counters. Implemented by
// internal/ordinalsdb against the sequence_counters table.
type CursorStore interface {
	LoadCursor() (classic, jubilee int64, unbound uint64, err error)
	SaveCursor(classic, jubilee int64, unbound uint64) error
}

// SequenceCursor is the read-through, DB-synchronized counter set spec.md
// §3 describes: next classic number (signed, can run negative from cursed
// assignment), next jubilee number (monotonic non-negative), next unbound
// sequence (monotonic non-negative). A single sequencer goroutine owns an
// instance per chain tip; mutation is not safe for concurrent callers
// beyond the mutex below, which only guards against accidental concurrent
// use, not genuine parallel sequencing (spec.md never calls for that).
type SequenceCursor struct {
	mu      sync.Mutex
	store   CursorStore
	classic int64
	jubilee int64
	unbound uint64
}

// LoadSequenceCursor reads the persisted counters from store.
func LoadSequenceCursor(store CursorStore) (*SequenceCursor, error) {
	classic, jubilee, unbound, err := store.LoadCursor()
	if err != nil {
		return nil, err
	}
	return &SequenceCursor{store: store, classic: classic, jubilee: jubilee, unbound: unbound}, nil
}

// NextJubilee returns the next jubilee number and advances the counter.
func (c *SequenceCursor) NextJubilee() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.jubilee
	c.jubilee++
	return n
}

// NextClassic returns the next classic number for a cursed or blessed
// inscription and advances the counter in the appropriate direction:
// decrementing (more negative) when cursed, incrementing otherwise
// (spec.md §4.5 step 3).
func (c *SequenceCursor) NextClassic(cursed bool) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cursed {
		c.classic--
		return c.classic
	}
	n := c.classic
	c.classic++
	return n
}

// IncrementUnbound returns the next unbound sequence number and advances
// the counter (spec.md §4.5 step 7).
func (c *SequenceCursor) IncrementUnbound() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.unbound
	c.unbound++
	return n
}

// Snapshot returns the current counter values without advancing them.
func (c *SequenceCursor) Snapshot() (classic, jubilee int64, unbound uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.classic, c.jubilee, c.unbound
}

// Rewind decrements the counters by the number of classic/jubilee/unbound
// assignments made at a rolled-back height, per spec.md §4.9's rollback
// semantics. classicDelta is signed: positive if the rolled-back block's
// blessed assignments outnumbered its cursed ones, negative otherwise.
func (c *SequenceCursor) Rewind(classicDelta int64, jubileeCount int64, unboundCount uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.classic -= classicDelta
	c.jubilee -= jubileeCount
	c.unbound -= unboundCount
}

// Persist flushes the current counters to the backing store.
func (c *SequenceCursor) Persist() error {
	c.mu.Lock()
	classic, jubilee, unbound := c.classic, c.jubilee, c.unbound
	c.mu.Unlock()
	return c.store.SaveCursor(classic, jubilee, unbound)
}

// Reload re-reads the counters from the backing store, discarding whatever
// this in-memory cursor currently holds. Used after a rollback, where the
// store has already been rewound directly by SQL and this process's cursor
// needs to catch up rather than apply a second decrement (spec.md §4.9).
func (c *SequenceCursor) Reload() error {
	classic, jubilee, unbound, err := c.store.LoadCursor()
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.classic, c.jubilee, c.unbound = classic, jubilee, unbound
	c.mu.Unlock()
	return nil
}
