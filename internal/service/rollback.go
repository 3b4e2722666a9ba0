// Copyright (c) 2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package service

import (
	"context"

	"github.com/pkg/errors"

	"github.com/hirosystems/ordhookd/internal/bitcoind"
	"github.com/hirosystems/ordhookd/internal/blockhash"
	"github.com/hirosystems/ordhookd/internal/chainmodel"
	"github.com/hirosystems/ordhookd/internal/pipeline"
)

// maxHeaderWalk bounds how far RunLive will walk back through
// getblockheader looking for a header the scratch pad already knows,
// before giving up. The scratch pad's own window (spec.md §4.1) would
// reject a deeper reorg anyway; this just prevents an unbounded RPC loop
// if the pad and the node disagree about what's known.
const maxHeaderWalk = 200

// BlockFetcher resolves one block by height into its decoded form, reusing
// the pipeline's fetch/decode path for the live ingestion path.
type BlockFetcher func(ctx context.Context, height uint64) (pipeline.DecodedBlock, error)

// SeedScratchPad primes the fork scratch pad with the chain's current tip
// before RunLive starts, so the first hashblock notification has a known
// ancestor to walk back to.
func (s *Service) SeedScratchPad(ctx context.Context, client *bitcoind.Client, tipHash blockhash.Hash) error {
	h, err := s.headerFor(ctx, client, tipHash)
	if err != nil {
		return errors.Wrapf(err, "fetching header for scratch pad seed %s", tipHash)
	}
	s.pad.Seed(h)
	return nil
}

// RunLive subscribes to bitcoind's ZMQ hashblock feed and threads every
// notified block through the fork scratch pad, applying new headers or
// unwinding and reapplying a reorg as the pad's ChainEvent directs (spec.md
// §4.1, §4.9, §5).
func (s *Service) RunLive(ctx context.Context, client *bitcoind.Client, sub *bitcoind.ZMQSubscriber, fetch BlockFetcher) error {
	return sub.Run(ctx, func(n bitcoind.HashBlockNotification) {
		if err := s.handleNotification(ctx, client, n.Hash, fetch); err != nil {
			log.Warnf("failed to handle hashblock notification for %s: %v", n.Hash, err)
		}
	})
}

func (s *Service) handleNotification(ctx context.Context, client *bitcoind.Client, hash blockhash.Hash, fetch BlockFetcher) error {
	headers, err := s.collectHeaders(ctx, client, hash)
	if err != nil {
		return err
	}

	for _, h := range headers {
		event, err := s.pad.ProcessHeader(h)
		if err != nil {
			return errors.Wrapf(err, "processing header %s", h.ID.Hash)
		}
		if event == nil {
			continue
		}
		if err := s.applyChainEvent(ctx, event, fetch); err != nil {
			return errors.Wrapf(err, "applying chain event for header %s", h.ID.Hash)
		}
	}
	return nil
}

// collectHeaders walks backward from tipHash through getblockheader until
// it reaches a header the scratch pad can already place, then returns the
// walked path in ascending height order ready to feed to ProcessHeader one
// at a time.
func (s *Service) collectHeaders(ctx context.Context, client *bitcoind.Client, tipHash blockhash.Hash) ([]chainmodel.BlockHeader, error) {
	h, err := s.headerFor(ctx, client, tipHash)
	if err != nil {
		return nil, err
	}
	headers := []chainmodel.BlockHeader{h}

	for i := 0; i < maxHeaderWalk && !s.pad.CanProcessHeader(h); i++ {
		parent, err := s.headerFor(ctx, client, h.Parent.Hash)
		if err != nil {
			return nil, err
		}
		headers = append(headers, parent)
		h = parent
	}
	if !s.pad.CanProcessHeader(h) {
		return nil, errors.Errorf("service: no known ancestor for %s within %d headers", tipHash, maxHeaderWalk)
	}

	for i, j := 0, len(headers)-1; i < j; i, j = i+1, j-1 {
		headers[i], headers[j] = headers[j], headers[i]
	}
	return headers, nil
}

func (s *Service) headerFor(ctx context.Context, client *bitcoind.Client, hash blockhash.Hash) (chainmodel.BlockHeader, error) {
	info, err := client.GetBlockHeader(ctx, hash.String())
	if err != nil {
		return chainmodel.BlockHeader{}, errors.Wrapf(err, "fetching header %s", hash)
	}

	id := chainmodel.BlockIdentifier{Height: info.Height, Hash: hash}
	var parent chainmodel.BlockIdentifier
	if info.Height > 0 {
		prevHash, err := blockhash.NewFromString(info.PreviousBlockHash)
		if err != nil {
			return chainmodel.BlockHeader{}, errors.Wrapf(err, "parsing parent hash of %s", hash)
		}
		parent = chainmodel.BlockIdentifier{Height: info.Height - 1, Hash: prevHash}
	}
	return chainmodel.BlockHeader{ID: id, Parent: parent}, nil
}

// applyChainEvent unwinds a reorg's stale suffix (if any) and applies the
// new canonical headers' blocks in ascending height order, per spec.md
// §4.9: rollback first, then replay.
func (s *Service) applyChainEvent(ctx context.Context, event *chainmodel.ChainEvent, fetch BlockFetcher) error {
	applyHeaders := event.NewHeaders
	if event.Kind == chainmodel.ChainUpdatedWithReorg {
		if len(event.HeadersToApply) == 0 || len(event.HeadersToRollback) == 0 {
			return errors.New("service: reorg event missing rollback or apply headers")
		}
		rollbackFloor := event.HeadersToApply[0].ID.Height
		oldTipHeight := event.HeadersToRollback[0].ID.Height // descending order: first is the stale tip

		if err := s.rollbackToHeight(ctx, rollbackFloor, oldTipHeight); err != nil {
			return err
		}
		if s.met != nil {
			s.met.ChainReorgTotal.Inc()
			s.met.RollbackDepthBlocks.Observe(float64(len(event.HeadersToRollback)))
		}
		applyHeaders = event.HeadersToApply
	}

	for _, h := range applyHeaders {
		blk, err := fetch(ctx, h.ID.Height)
		if err != nil {
			return errors.Wrapf(err, "fetching block at height %d", h.ID.Height)
		}
		if err := s.applyBlock(ctx, blk); err != nil {
			return errors.Wrapf(err, "applying block at height %d", h.ID.Height)
		}
	}
	return nil
}

// Rollback unwinds every durable index to height, for the `index rollback`
// CLI command. Unlike the reorg path, there is no known stale tip to bound
// the block-store delete by, so it reads the current chain tip first.
func (s *Service) Rollback(ctx context.Context, height uint64) error {
	tip, ok, err := s.ords.ChainTip(ctx)
	if err != nil {
		return errors.Wrap(err, "reading chain tip")
	}
	if !ok || tip < height {
		return errors.Errorf("service: nothing to roll back, chain tip %d is below target height %d", tip, height)
	}
	return s.rollbackToHeight(ctx, height, tip)
}

// rollbackToHeight unwinds every durable index to just below height,
// deleting the archived compact blocks through oldTipHeight and reloading
// the in-process sequence cursor to match the store's rewound counters
// (spec.md §4.9).
func (s *Service) rollbackToHeight(ctx context.Context, height, oldTipHeight uint64) error {
	log.Warnf("rolling back to height %d (stale tip was at %d)", height-1, oldTipHeight)

	if err := s.ords.RollbackToHeight(ctx, height); err != nil {
		return errors.Wrapf(err, "rolling back ordinals index to height %d", height)
	}
	if err := s.brc20db.RollbackToHeight(ctx, height); err != nil {
		return errors.Wrapf(err, "rolling back brc20 index to height %d", height)
	}
	if err := s.blocks.Delete(height, oldTipHeight); err != nil {
		return errors.Wrapf(err, "deleting archived blocks [%d,%d]", height, oldTipHeight)
	}
	if err := s.cursor.Reload(); err != nil {
		return errors.Wrap(err, "reloading sequence cursor after rollback")
	}
	return nil
}
