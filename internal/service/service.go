// Copyright (c) 2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package service wires the download pipeline, fork scratch pad,
// inscription sequencer, transfer detector, and BRC-20 engine into one
// runloop: catch-up against the download pipeline, then live indexing off
// the ZMQ hashblock feed, per spec.md §5.
package service

import (
	"context"

	"github.com/pkg/errors"

	"github.com/hirosystems/ordhookd/internal/blockhash"
	"github.com/hirosystems/ordhookd/internal/blockstore"
	"github.com/hirosystems/ordhookd/internal/brc20"
	"github.com/hirosystems/ordhookd/internal/brc20db"
	"github.com/hirosystems/ordhookd/internal/compactblock"
	"github.com/hirosystems/ordhookd/internal/dagconfig"
	"github.com/hirosystems/ordhookd/internal/envelope"
	"github.com/hirosystems/ordhookd/internal/forkpad"
	"github.com/hirosystems/ordhookd/internal/logs"
	"github.com/hirosystems/ordhookd/internal/metrics"
	"github.com/hirosystems/ordhookd/internal/ordinals"
	"github.com/hirosystems/ordhookd/internal/ordinalsdb"
	"github.com/hirosystems/ordhookd/internal/pipeline"
	"github.com/hirosystems/ordhookd/internal/satoshi"
)

var log = logs.Subsystem("SRVC")

// Service owns every durable and in-memory index this indexer
// materializes, and drives them from decoded blocks.
type Service struct {
	params *dagconfig.Params

	blocks    *blockstore.Store
	ords      *ordinalsdb.Store
	brc20db   *brc20db.Store
	brc20c    *brc20.Cache
	brc20e    *brc20.Engine
	cursor    *ordinals.SequenceCursor
	sequencer *ordinals.Sequencer
	tracer    *satoshi.Tracer
	pad       *forkpad.ScratchPad
	met       *metrics.Collectors
}

// New builds a Service over its durable stores. The caller supplies
// already-open stores and an already-loaded SequenceCursor (see
// ordinals.LoadSequenceCursor).
func New(params *dagconfig.Params, blocks *blockstore.Store, ords *ordinalsdb.Store, bdb *brc20db.Store,
	cursor *ordinals.SequenceCursor, tracer *satoshi.Tracer, window int, met *metrics.Collectors) *Service {

	cache := brc20.NewCache(bdb)
	activation := brc20.Activation{Height: params.BRC20ActivationHeight, SelfMintHeight: params.BRC20SelfMintActivationHeight}

	return &Service{
		params:    params,
		blocks:    blocks,
		ords:      ords,
		brc20db:   bdb,
		brc20c:    cache,
		brc20e:    brc20.NewEngine(cache, activation),
		cursor:    cursor,
		sequencer: ordinals.NewSequencer(tracer, cursor, ords, params.BTCParams, params.JubileeHeight),
		tracer:    tracer,
		pad:       forkpad.New(window),
		met:       met,
	}
}

// Process implements pipeline.Processor: every in-order batch is applied
// block by block; out-of-order (below start_sequencing_at) batches are
// only archived to the block store.
func (s *Service) Process(batch pipeline.Batch) (pipeline.Outcome, error) {
	if batch.Terminate {
		return pipeline.Terminated, nil
	}

	ctx := context.Background()
	for _, blk := range batch.Blocks {
		if !batch.InOrder {
			if err := s.archiveCompact(blk.Compact); err != nil {
				return 0, err
			}
			continue
		}
		if err := s.applyBlock(ctx, blk); err != nil {
			return 0, err
		}
	}
	return pipeline.Terminated, nil
}

func (s *Service) archiveCompact(compact *compactblock.Block) error {
	return errors.Wrap(s.blocks.Insert(compact.Height, compactblock.Encode(compact)), "service: archiving compact block")
}

// applyBlock runs the full sequencing/transfer/brc20 pipeline for one
// standardized block and persists every resulting row, per spec.md §4.5-
// §4.8's per-block processing order: reveals sequenced first, transfers
// detected second, BRC-20 operations interleaved from both.
func (s *Service) applyBlock(ctx context.Context, blk pipeline.DecodedBlock) error {
	if err := s.archiveCompact(blk.Compact); err != nil {
		return err
	}
	if blk.Standardized == nil {
		return errors.Errorf("service: block %d at/above sequencing threshold arrived without a standardized form", blk.Height)
	}
	std := *blk.Standardized

	var reveals []ordinals.Reveal
	for _, tx := range std.Txs {
		if tx.IsCoinbase() {
			continue
		}
		reveals = append(reveals, envelope.Extract(tx)...)
	}

	inscriptions, err := s.sequencer.SequenceBlock(blk.Height, reveals)
	if err != nil {
		return errors.Wrapf(err, "sequencing block %d", blk.Height)
	}

	revealedThisBlock := make(map[blockhash.Hash]bool, len(reveals))
	for _, r := range reveals {
		revealedThisBlock[r.Tx.TxID] = true
	}
	transfers, err := ordinals.DetectTransfers(std, s.ords, revealedThisBlock, s.params.BTCParams, s.cursor)
	if err != nil {
		return errors.Wrapf(err, "detecting transfers at block %d", blk.Height)
	}

	if err := s.ords.InsertInscriptions(ctx, inscriptions); err != nil {
		return errors.Wrapf(err, "persisting inscriptions at block %d", blk.Height)
	}
	for _, ins := range inscriptions {
		addr := ins.InscriberAddress
		if err := s.ords.UpsertCurrentLocation(ctx, ins.InscriptionID, ins.OrdinalNumber, ins.BlockHeight, ins.TxIndex, ins.SatpointPostInscription, addr); err != nil {
			return errors.Wrapf(err, "updating location for %s", ins.InscriptionID)
		}
	}
	for _, tr := range transfers {
		addr := ""
		if tr.Destination.Kind == ordinals.DestAddress {
			addr = tr.Destination.Address
		}
		if err := s.ords.UpsertCurrentLocation(ctx, tr.InscriptionID, tr.OrdinalNumber, blk.Height, tr.TxIndex, tr.Satpoint, addr); err != nil {
			return errors.Wrapf(err, "updating location for transfer of %s", tr.InscriptionID)
		}
	}

	if err := s.runBrc20(ctx, blk.Height, inscriptions, transfers); err != nil {
		return err
	}

	if err := s.cursor.Persist(); err != nil {
		return errors.Wrap(err, "persisting sequence cursor")
	}
	if err := s.ords.SetChainTip(ctx, blk.Height); err != nil {
		return errors.Wrap(err, "setting chain tip")
	}

	if s.met != nil {
		s.met.LatestBlockIndexed.Set(float64(blk.Height))
		s.met.BlocksProcessedTotal.Inc()
		classic, _, _ := s.cursor.Snapshot()
		s.met.LatestInscriptionNumber.Set(float64(classic))
	}
	return nil
}

func (s *Service) runBrc20(ctx context.Context, height uint64, inscriptions []ordinals.Inscription, transfers []ordinals.Transfer) error {
	reveals := make([]brc20.RevealEvent, len(inscriptions))
	for i, ins := range inscriptions {
		reveals[i] = brc20.RevealEvent{
			TxIndex:       ins.TxIndex,
			InscriptionID: ins.InscriptionID,
			OrdinalNumber: ins.OrdinalNumber,
			ContentType:   ins.ContentType,
			Content:       ins.ContentBytes,
			Address:       ins.InscriberAddress,
		}
	}

	ops, err := s.brc20e.ProcessBlock(height, reveals, transfers)
	if err != nil {
		return errors.Wrapf(err, "running brc20 engine at block %d", height)
	}
	if len(ops) == 0 && len(s.brc20c.DirtyTokens()) == 0 && len(s.brc20c.DirtyBalances()) == 0 {
		return nil
	}
	if err := s.brc20db.FlushCache(ctx, s.brc20c, ops); err != nil {
		return errors.Wrapf(err, "flushing brc20 cache at block %d", height)
	}
	if s.met != nil {
		for _, op := range ops {
			s.met.Brc20OperationsTotal.WithLabelValues(opKindLabel(op.Kind)).Inc()
		}
	}
	return nil
}

func opKindLabel(k brc20.OperationKind) string {
	switch k {
	case brc20.OpDeploy:
		return "deploy"
	case brc20.OpMint:
		return "mint"
	case brc20.OpTransfer:
		return "transfer"
	case brc20.OpTransferSend:
		return "transfer_send"
	default:
		return "unknown"
	}
}

// CatchUp runs the download pipeline from the last recorded chain tip (or
// genesis) through the bitcoind node's current height.
func (s *Service) CatchUp(ctx context.Context, fetcher pipeline.RawFetcher, decoder pipeline.Decoder, cfg pipeline.Config) error {
	tip, ok, err := s.ords.ChainTip(ctx)
	if err != nil {
		return errors.Wrap(err, "reading chain tip")
	}
	if ok {
		cfg.Start = tip + 1
	}
	if cfg.Start > cfg.End {
		log.Infof("chain tip %d already at or past target height %d, nothing to catch up", tip, cfg.End)
		return nil
	}
	return pipeline.Run(ctx, cfg, fetcher, decoder, s)
}

// RunLive is implemented in rollback.go: it threads ZMQ hashblock
// notifications through the fork scratch pad rather than applying blocks
// directly, so a reorg unwinds and replays instead of silently forking the
// durable indexes.
