// Copyright (c) 2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package chainmodel defines the block identifier, header, and chain-event
// types shared by the fork scratch pad, download pipeline, and service
// runloop.
package chainmodel

import "github.com/hirosystems/ordhookd/internal/blockhash"

// BlockIdentifier uniquely names a block by height and hash. Equality is
// defined by hash alone (spec.md §3); height is carried for convenience and
// for the tie-break ordering used by heaviest-path selection.
type BlockIdentifier struct {
	Height uint64
	Hash   blockhash.Hash
}

// Equal reports whether two identifiers name the same block.
func (b BlockIdentifier) Equal(other BlockIdentifier) bool {
	return b.Hash == other.Hash
}

// Less implements the strict (height, hash) descending tie-break ordering
// spec.md §3 requires for canonical-tip selection: higher height wins, and
// among equal heights the lexicographically greater hash wins.
func (b BlockIdentifier) Less(other BlockIdentifier) bool {
	if b.Height != other.Height {
		return b.Height < other.Height
	}
	return b.Hash.Less(other.Hash)
}

// BlockHeader is the minimal header the fork scratch pad tracks: its own
// identifier and its parent's.
type BlockHeader struct {
	ID     BlockIdentifier
	Parent BlockIdentifier
}

// ChainEventKind distinguishes a simple extension from a reorg.
type ChainEventKind int

// Kinds of chain event emitted by the fork scratch pad.
const (
	ChainUpdatedWithHeaders ChainEventKind = iota
	ChainUpdatedWithReorg
)

// ChainEvent is emitted by forkpad.ScratchPad.ProcessHeader whenever a
// processed header changes the canonical tip.
type ChainEvent struct {
	Kind ChainEventKind

	// NewHeaders is populated for ChainUpdatedWithHeaders: the headers
	// appended to the previously canonical tip, in ascending height
	// order.
	NewHeaders []BlockHeader

	// HeadersToRollback and HeadersToApply are populated for
	// ChainUpdatedWithReorg: the suffix of the old canonical chain to
	// undo (in descending height order, tip first) and the suffix of the
	// new canonical chain to apply (in ascending height order).
	HeadersToRollback []BlockHeader
	HeadersToApply    []BlockHeader

	// ConfirmedHeaders are headers that fell out of the sliding
	// confirmation window as a result of this update. They are never
	// retracted by a later event.
	ConfirmedHeaders []BlockHeader
}
