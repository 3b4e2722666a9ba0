// Copyright (c) 2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package satoshi implements the satoshi tracer of spec.md §4.4: given a
// (tx, input, offset), walk input UTXO history back to coinbase and
// compute the exact sat ordinal it carries, the height and offset at which
// that sat was minted, and the number of transfer hops traversed.
package satoshi

import (
	"runtime"
	"sync"

	"github.com/pkg/errors"

	"github.com/hirosystems/ordhookd/internal/blockhash"
	"github.com/hirosystems/ordhookd/internal/compactblock"
	"github.com/hirosystems/ordhookd/internal/dagconfig"
	"github.com/hirosystems/ordhookd/internal/logs"
)

var log = logs.Subsystem("SATS")

// ErrMissingPredecessor is fatal per spec.md §7: the catch-up subsystem
// must have archived the predecessor block before tracing can proceed.
var ErrMissingPredecessor = errors.New("satoshi: missing predecessor block")

// ErrPointerOutOfRange is reported per-inscription (not fatal); the
// sequencer logs a warning, emits no inscription for that reveal, and
// continues indexing the rest of the block.
var ErrPointerOutOfRange = errors.New("satoshi: pointer out of range")

// ErrMalformedBlock is fatal per spec.md §7.
var ErrMalformedBlock = errors.New("satoshi: malformed compact block")

// BlockStore is the subset of blockstore.Store the tracer needs: reading a
// compact block's bytes by height.
type BlockStore interface {
	Get(height uint64) ([]byte, error)
}

// HeightIndex resolves a full txid to the height of the block that
// confirmed it. The tracer needs this to follow a prevout back to its
// owning block before it can look the transaction up in the block store or
// L2 cache (spec.md §4.4 step 3 "predecessor lookup").
type HeightIndex interface {
	HeightOf(txid blockhash.Hash) (uint64, bool, error)
}

// Result is the output of a satoshi trace.
type Result struct {
	OrdinalNumber      uint64
	OrdinalBlockHeight uint64
	OrdinalOffset      uint64
	Transfers          uint32
}

// Tracer implements the tracing algorithm of spec.md §4.4, backed by an L1
// per-block cache, an L2 cross-block LRU, and the on-disk block store as
// the ultimate source of truth.
type Tracer struct {
	store       BlockStore
	heightIndex HeightIndex
	l2          *l2Cache
	l1          *l1Cache
	l1mu        sync.Mutex

	workers int
}

// NewTracer constructs a Tracer. l2Capacity bounds the number of cached
// transaction cursors kept across blocks; workers bounds the size of the
// tracer's dedicated worker pool (0 selects max(cpu-2, 1), per spec.md
// §4.4/§5).
func NewTracer(store BlockStore, heightIndex HeightIndex, l2Capacity int, workers int) *Tracer {
	if workers <= 0 {
		if n := runtime.NumCPU() - 2; n > 0 {
			workers = n
		} else {
			workers = 1
		}
	}
	return &Tracer{
		store:       store,
		heightIndex: heightIndex,
		l2:          newL2Cache(l2Capacity),
		l1:          newL1Cache(),
		workers:     workers,
	}
}

// ResetL1 clears the per-block L1 cache; callers invoke this once per block
// before sequencing its reveals.
func (t *Tracer) ResetL1() {
	t.l1mu.Lock()
	defer t.l1mu.Unlock()
	t.l1.reset()
}

// Trace computes the sat ordinal carried at absolutePointer within the
// concatenation of revealTx's inputs, confirmed at revealHeight. revealTx
// is supplied directly (the block currently being indexed, not yet
// archived to the block store); every hop after the first resolves through
// the L2 cache or block store.
func (t *Tracer) Trace(revealHeight uint64, revealTx compactblock.Tx, inputIndex uint32, absolutePointer uint64) (Result, error) {
	if key, ok := t.l1Lookup(revealTx.TxID, inputIndex, absolutePointer); ok {
		return key, nil
	}

	result, err := t.trace(revealHeight, revealTx, absolutePointer)
	if err != nil {
		return Result{}, err
	}

	t.l1mu.Lock()
	t.l1.put(revealTx.TxID, inputIndex, absolutePointer, result)
	t.l1mu.Unlock()
	return result, nil
}

func (t *Tracer) l1Lookup(txid blockhash.Hash, inputIndex uint32, pointer uint64) (Result, bool) {
	t.l1mu.Lock()
	defer t.l1mu.Unlock()
	return t.l1.get(txid, inputIndex, pointer)
}

func (t *Tracer) trace(_ uint64, tx compactblock.Tx, offset uint64) (Result, error) {
	var transfers uint32

	for {
		inputIdx, relOffset, err := inputAtOffset(tx.Inputs, offset)
		if err != nil {
			return Result{}, errors.Wrapf(ErrPointerOutOfRange, "tx %s: %v", tx.TxID, err)
		}
		in := tx.Inputs[inputIdx]

		if tx.IsCoinbase() {
			// A coinbase's single input carries no real prevout;
			// reaching here without resolving means offset walked
			// past the real mint boundary.
			return Result{}, errors.Wrapf(ErrPointerOutOfRange, "tx %s: offset past coinbase mint", tx.TxID)
		}

		prevHeight, ok, err := t.heightIndex.HeightOf(in.PrevTxID)
		if err != nil {
			return Result{}, errors.Wrap(err, "resolving predecessor height")
		}
		if !ok {
			return Result{}, errors.Wrapf(ErrMissingPredecessor, "txid %s", in.PrevTxID)
		}

		prevTx, err := t.fetchTx(prevHeight, in.PrevTxID)
		if err != nil {
			return Result{}, err
		}

		if int(in.PrevVout) >= len(prevTx.Outputs) {
			return Result{}, errors.Wrapf(ErrMalformedBlock, "prevout %d out of range in tx %s", in.PrevVout, prevTx.TxID)
		}

		var outputPrefix uint64
		for i := uint32(0); i < in.PrevVout; i++ {
			outputPrefix += prevTx.Outputs[i].Value
		}
		nextOffset := outputPrefix + relOffset

		if prevTx.IsCoinbase() {
			ordinal := satFromCoinbaseOffset(prevHeight, nextOffset)
			return Result{
				OrdinalNumber:      ordinal,
				OrdinalBlockHeight: prevHeight,
				OrdinalOffset:      nextOffset,
				Transfers:          transfers,
			}, nil
		}

		transfers++
		tx = prevTx
		offset = nextOffset
	}
}

// inputAtOffset resolves an absolute offset into the concatenation of
// inputs[].Value to the input index containing it and the offset relative
// to that input's start (spec.md §4.4 step 1-2).
func inputAtOffset(inputs []compactblock.Input, offset uint64) (int, uint64, error) {
	remaining := offset
	for i, in := range inputs {
		if remaining < in.Value {
			return i, remaining, nil
		}
		remaining -= in.Value
	}
	return 0, 0, errors.Errorf("offset %d exceeds total input value", offset)
}

// fetchTx resolves a transaction by (height, txid) through the L2 cache,
// falling back to a block-store read on miss. The L2 cache takes its own
// mutex; the block-store read itself runs without any lock held by the
// tracer.
func (t *Tracer) fetchTx(height uint64, txid blockhash.Hash) (compactblock.Tx, error) {
	prefix := txid.Truncate()
	if tx, ok := t.l2.get(height, prefix); ok {
		if tx.TxID == txid {
			return tx, nil
		}
		// Prefix collision against the cached entry; fall through to
		// the authoritative block-store decode below.
	}

	raw, err := t.store.Get(height)
	if err != nil {
		return compactblock.Tx{}, errors.Wrapf(ErrMissingPredecessor, "height %d: %v", height, err)
	}
	block, err := compactblock.Decode(raw)
	if err != nil {
		return compactblock.Tx{}, errors.Wrapf(ErrMalformedBlock, "height %d: %v", height, err)
	}
	tx, ok := block.TxByID(txid)
	if !ok {
		return compactblock.Tx{}, errors.Wrapf(ErrMalformedBlock, "txid %s not found at height %d", txid, height)
	}
	t.l2.put(height, prefix, tx)
	return tx, nil
}

// Job is one unit of tracing work submitted to a worker pool.
type Job struct {
	RevealHeight uint64
	RevealTx     compactblock.Tx
	InputIndex   uint32
	Pointer      uint64
}

// JobResult pairs a Job's index with its outcome, so callers can collate
// results back into submission order even though workers complete out of
// order.
type JobResult struct {
	Index  int
	Result Result
	Err    error
}

// TraceBatch fans jobs out across the tracer's worker pool and collates
// results in submission order (spec.md §4.4's "collated by the owning
// thread in order of submission"). currentBlockJobs are prioritized ahead
// of warmupJobs, modeling the current-block/warmup priority queue split;
// both batches still appear together in the returned slice, ordered by
// their position within their own input slice (current-block jobs first).
func (t *Tracer) TraceBatch(currentBlockJobs, warmupJobs []Job) []JobResult {
	all := make([]Job, 0, len(currentBlockJobs)+len(warmupJobs))
	all = append(all, currentBlockJobs...)
	all = append(all, warmupJobs...)

	results := make([]JobResult, len(all))
	jobCh := make(chan int, len(all))
	for i := range all {
		jobCh <- i
	}
	close(jobCh)

	var wg sync.WaitGroup
	workers := t.workers
	if workers > len(all) && len(all) > 0 {
		workers = len(all)
	}
	if workers < 1 {
		workers = 1
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobCh {
				job := all[idx]
				res, err := t.Trace(job.RevealHeight, job.RevealTx, job.InputIndex, job.Pointer)
				results[idx] = JobResult{Index: idx, Result: res, Err: err}
			}
		}()
	}
	wg.Wait()
	return results
}

// SubsidyAt exposes the subsidy schedule used by coinbase resolution, for
// callers (e.g. the inscription sequencer) that need to validate a
// CompactBlock's coinbase output sum against its subsidy (spec.md §3).
func SubsidyAt(height uint64) uint64 {
	return dagconfig.SubsidyAt(height)
}
