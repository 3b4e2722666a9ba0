// Copyright (c) 2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package forkpad implements the fork scratch pad: a streaming header DAG
// that tracks competing chain tips and emits canonical apply/rollback
// deltas, as specified in spec.md §4.1.
package forkpad

import (
	"github.com/pkg/errors"

	"github.com/hirosystems/ordhookd/internal/blockhash"
	"github.com/hirosystems/ordhookd/internal/chainmodel"
	"github.com/hirosystems/ordhookd/internal/logs"
)

var log = logs.Subsystem("SCRP")

// ErrUnknownParent is returned by ProcessHeader when a header's parent is
// neither the current tip nor already known to the scratch pad. The caller
// must fetch and process the parent first.
var ErrUnknownParent = errors.New("forkpad: header's parent is unknown")

// ErrReorgTooDeep is returned when a reorg would roll back past the
// confirmation window, meaning the scratch pad no longer holds the common
// ancestor. Per spec.md §7 this is fatal; the operator must restart with a
// larger window.
var ErrReorgTooDeep = errors.New("forkpad: reorg depth exceeds scratch pad window")

type blockNode struct {
	header    chainmodel.BlockHeader
	parent    *blockNode
	children  []*blockNode
	confirmed bool
}

func (n *blockNode) id() chainmodel.BlockIdentifier { return n.header.ID }

// ScratchPad tracks the set of candidate headers forming a tree rooted at
// an arbitrary in-memory genesis point, bounded to the last Window blocks.
// It is not safe for concurrent use; the service runloop serializes access
// through a single owning goroutine (spec.md §5).
type ScratchPad struct {
	window int

	nodes map[blockhash.Hash]*blockNode
	root  *blockNode // oldest retained ancestor on the canonical chain
	tip   *blockNode // current canonical tip

	confirmedHeight int64 // -1 until at least one block is confirmed
}

// New creates an empty scratch pad bounded to the given confirmation
// window. Window should be 7 for the ZMQ live path and larger for catch-up,
// per spec.md §4.1.
func New(window int) *ScratchPad {
	if window < 1 {
		window = 1
	}
	return &ScratchPad{
		window:          window,
		nodes:           make(map[blockhash.Hash]*blockNode),
		confirmedHeight: -1,
	}
}

// Seed installs a header as the scratch pad's root without emitting an
// event. Used to bootstrap the pad from the last confirmed tip known to the
// block store.
func (s *ScratchPad) Seed(h chainmodel.BlockHeader) {
	n := &blockNode{header: h}
	s.nodes[h.ID.Hash] = n
	s.root = n
	s.tip = n
	s.confirmedHeight = int64(h.ID.Height)
}

// Tip returns the current canonical tip, or the zero value and false if the
// pad is empty.
func (s *ScratchPad) Tip() (chainmodel.BlockIdentifier, bool) {
	if s.tip == nil {
		return chainmodel.BlockIdentifier{}, false
	}
	return s.tip.id(), true
}

// CanProcessHeader reports whether h.Parent is either the current tip or
// already known to the pad (spec.md §4.1).
func (s *ScratchPad) CanProcessHeader(h chainmodel.BlockHeader) bool {
	if s.tip != nil && h.Parent.Equal(s.tip.id()) {
		return true
	}
	_, known := s.nodes[h.Parent.Hash]
	return known
}

// ProcessHeader inserts h into the pad, recomputes the heaviest path, and
// returns the resulting ChainEvent. Duplicate headers are rejected silently
// (nil event, nil error). A header whose parent is unknown returns
// ErrUnknownParent; the caller must re-fetch the parent and process it
// first.
func (s *ScratchPad) ProcessHeader(h chainmodel.BlockHeader) (*chainmodel.ChainEvent, error) {
	if _, exists := s.nodes[h.ID.Hash]; exists {
		log.Debugf("ignoring duplicate header %s at height %d", h.ID.Hash, h.ID.Height)
		return nil, nil
	}

	var parent *blockNode
	if s.tip == nil {
		// Bootstrapping an empty pad: accept any header as a new root.
	} else if h.Parent.Equal(s.tip.id()) {
		parent = s.tip
	} else if p, ok := s.nodes[h.Parent.Hash]; ok {
		parent = p
	} else {
		return nil, errors.Wrapf(ErrUnknownParent, "header %s (parent %s)", h.ID.Hash, h.Parent.Hash)
	}

	node := &blockNode{header: h, parent: parent}
	s.nodes[h.ID.Hash] = node
	if parent != nil {
		parent.children = append(parent.children, node)
	}
	if s.root == nil {
		s.root = node
	}
	if s.tip == nil {
		s.tip = node
		return nil, nil
	}

	oldTip := s.tip
	if !node.id().Less(oldTip.id()) {
		// node is not strictly heavier than the current tip; no change
		// to the canonical chain, just retained as a candidate fork.
		return nil, nil
	}

	newTip := node
	event, err := s.buildEvent(oldTip, newTip)
	if err != nil {
		return nil, err
	}
	s.tip = newTip
	s.pruneStaleForks()
	return event, nil
}

// buildEvent walks from oldTip and newTip back to their common ancestor and
// produces the corresponding ChainEvent, along with any newly confirmed
// headers as the tip advances.
func (s *ScratchPad) buildEvent(oldTip, newTip *blockNode) (*chainmodel.ChainEvent, error) {
	oldAncestors := ancestorSet(oldTip)

	// Walk newTip back until we hit a node on oldTip's ancestor chain.
	var applyPath []*blockNode
	cursor := newTip
	for cursor != nil {
		if _, onOld := oldAncestors[cursor.id().Hash]; onOld {
			break
		}
		applyPath = append(applyPath, cursor)
		cursor = cursor.parent
	}
	if cursor == nil {
		return nil, errors.New("forkpad: new tip shares no ancestor with current tip")
	}
	commonAncestor := cursor

	if int64(commonAncestor.id().Height) < s.confirmedHeight-int64(s.window) {
		return nil, errors.Wrapf(ErrReorgTooDeep, "common ancestor height %d below confirmed window", commonAncestor.id().Height)
	}

	// Reverse applyPath into ascending height order.
	for i, j := 0, len(applyPath)-1; i < j; i, j = i+1, j-1 {
		applyPath[i], applyPath[j] = applyPath[j], applyPath[i]
	}
	applyHeaders := make([]chainmodel.BlockHeader, len(applyPath))
	for i, n := range applyPath {
		applyHeaders[i] = n.header
	}

	var event *chainmodel.ChainEvent
	if commonAncestor == oldTip {
		event = &chainmodel.ChainEvent{
			Kind:       chainmodel.ChainUpdatedWithHeaders,
			NewHeaders: applyHeaders,
		}
	} else {
		var rollbackPath []chainmodel.BlockHeader
		for n := oldTip; n != commonAncestor; n = n.parent {
			rollbackPath = append(rollbackPath, n.header)
		}
		event = &chainmodel.ChainEvent{
			Kind:              chainmodel.ChainUpdatedWithReorg,
			HeadersToRollback: rollbackPath,
			HeadersToApply:    applyHeaders,
		}
		log.Warnf("reorg detected: rolling back %d header(s) to height %d, applying %d header(s) to height %d",
			len(rollbackPath), commonAncestor.id().Height, len(applyHeaders), newTip.id().Height)
	}

	event.ConfirmedHeaders = s.confirmHeaders(newTip)
	return event, nil
}

// confirmHeaders walks the canonical chain from newTip back, marking as
// confirmed every node older than the sliding window that has not already
// been confirmed, and returns them in ascending height order.
func (s *ScratchPad) confirmHeaders(newTip *blockNode) []chainmodel.BlockHeader {
	threshold := int64(newTip.id().Height) - int64(s.window)
	if threshold < 0 {
		return nil
	}

	var newlyConfirmed []*blockNode
	for n := newTip; n != nil; n = n.parent {
		if int64(n.id().Height) > threshold {
			continue
		}
		if n.confirmed {
			break
		}
		n.confirmed = true
		newlyConfirmed = append(newlyConfirmed, n)
	}

	if len(newlyConfirmed) == 0 {
		return nil
	}
	if int64(newlyConfirmed[0].id().Height) > s.confirmedHeight {
		s.confirmedHeight = int64(newlyConfirmed[0].id().Height)
	}

	headers := make([]chainmodel.BlockHeader, len(newlyConfirmed))
	for i, n := range newlyConfirmed {
		headers[len(newlyConfirmed)-1-i] = n.header
	}
	return headers
}

// ancestorSet returns the set of hashes on the chain from n back to the
// pad's root, inclusive.
func ancestorSet(n *blockNode) map[blockhash.Hash]struct{} {
	set := make(map[blockhash.Hash]struct{})
	for ; n != nil; n = n.parent {
		set[n.id().Hash] = struct{}{}
	}
	return set
}

// pruneStaleForks discards nodes that fell off every surviving chain more
// than window blocks ago, bounding the pad's memory use.
func (s *ScratchPad) pruneStaleForks() {
	floor := int64(s.tip.id().Height) - int64(s.window)*2
	if floor < 0 {
		return
	}
	for hash, n := range s.nodes {
		if int64(n.id().Height) < floor && !n.confirmed {
			delete(s.nodes, hash)
		}
	}
}
