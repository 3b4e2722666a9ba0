// Copyright (c) 2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package pipeline implements the bounded-concurrency block download and
// decode pipeline described in spec.md §4.2: a producer task fetching raw
// blocks, a decoder worker pool compact-encoding (and, above a threshold,
// standardizing) them, and a single dispatcher delivering them to a
// processor in strict ascending height order.
package pipeline

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/hirosystems/ordhookd/internal/compactblock"
	"github.com/hirosystems/ordhookd/internal/logs"
	"github.com/hirosystems/ordhookd/internal/ordinals"
)

var log = logs.Subsystem("PIPE")

// stagger is the delay between the pipeline's initial fetch requests, to
// avoid a thundering herd against bitcoind (spec.md §4.2 step 1).
const stagger = 500 * time.Millisecond

// retryDelay is how long a decoder worker waits before retrying a send to a
// full downstream channel (spec.md §4.2 "Backpressure").
const retryDelay = 500 * time.Millisecond

// RawFetcher fetches one block's raw bytes by height. Implemented by
// internal/bitcoind's Client in production, stubbed in tests.
type RawFetcher interface {
	FetchRawBlock(ctx context.Context, height uint64) ([]byte, error)
}

// Decoder parses raw block bytes into a compact block, and — when
// standardize is true — also into the canonical in-memory Standardized
// form.
type Decoder interface {
	Decode(raw []byte, height uint64, standardize bool) (DecodedBlock, error)
}

// DecodedBlock is one decoder's output: always a compact encoding, plus an
// optional standardized form for heights at or above the sequencing
// threshold.
type DecodedBlock struct {
	Height         uint64
	Compact        *compactblock.Block
	Standardized   *ordinals.StdBlock // nil below the sequencing threshold
	IsStandardized bool
}

// Outcome is what the processor returns after being handed a Terminate
// signal: Terminated for a clean shutdown, Expired for a shutdown that the
// pipeline should also treat as successful (spec.md §4.2).
type Outcome int

// Processor outcomes.
const (
	Terminated Outcome = iota
	Expired
)

// Batch is a group of decoded blocks delivered to the processor. Blocks at
// or above start_sequencing_at are delivered in the longest strictly
// increasing prefix starting at the dispatcher cursor; blocks below that
// threshold may be delivered out of order, compact-only (empty
// Standardized), in their own batch.
type Batch struct {
	Blocks    []DecodedBlock
	InOrder   bool // false for out-of-order compact-only batches
	Terminate bool
}

// Processor receives batches and, upon a terminating batch, reports how it
// shut down.
type Processor interface {
	Process(batch Batch) (Outcome, error)
}

// ErrDecodeFailed is wrapped around a decode error once the retry budget is
// exhausted (spec.md §7: "Block decode failure ... if still failing,
// fatal").
var ErrDecodeFailed = errors.New("pipeline: block decode failed after retry budget")

const maxDecodeRetries = 10

// Config configures one pipeline run.
type Config struct {
	Start              uint64
	End                uint64
	StartSequencingAt  uint64
	BitcoindRPCThreads int
	DecoderWorkers     int // 0 => max(cpu-2, 1)
	BatchSize          int // 0 => 10000
}

func (c Config) decoderWorkers() int {
	if c.DecoderWorkers > 0 {
		return c.DecoderWorkers
	}
	if n := runtime.NumCPU() - 2; n > 0 {
		return n
	}
	return 1
}

func (c Config) batchSize() int {
	if c.BatchSize > 0 {
		return c.BatchSize
	}
	return 10_000
}

// Run drives heights [cfg.Start, cfg.End] through fetch -> decode ->
// dispatch -> processor, blocking until the processor acknowledges
// termination or the context is cancelled.
func Run(ctx context.Context, cfg Config, fetcher RawFetcher, decoder Decoder, processor Processor) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	rawCh := make(chan rawBlock, cfg.BitcoindRPCThreads)
	decodedCh := make(chan DecodedBlock, cfg.decoderWorkers()*2)

	var wg sync.WaitGroup
	errCh := make(chan error, cfg.decoderWorkers()+2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := produce(ctx, cfg, fetcher, rawCh); err != nil {
			errCh <- errors.Wrap(err, "producer")
		}
	}()

	var decodeWG sync.WaitGroup
	for i := 0; i < cfg.decoderWorkers(); i++ {
		decodeWG.Add(1)
		go func(workerID int) {
			defer decodeWG.Done()
			if err := decodeWorker(ctx, cfg, decoder, rawCh, decodedCh); err != nil {
				errCh <- errors.Wrapf(err, "decoder worker %d", workerID)
			}
		}(i)
	}
	go func() {
		decodeWG.Wait()
		close(decodedCh)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := dispatch(ctx, cfg, processor, decodedCh); err != nil {
			errCh <- errors.Wrap(err, "dispatcher")
		}
	}()

	wg.Wait()
	close(errCh)
	for err := range errCh {
		if err != nil {
			cancel()
			return err
		}
	}
	return nil
}

type rawBlock struct {
	height uint64
	bytes  []byte
}

// produce owns all outbound RPC fetches, maintaining a sliding window of up
// to BitcoindRPCThreads in-flight requests, staggered by 500ms, and only
// requesting a new height after the previous fetch's result has been
// handed off (spec.md §4.2 step 1, §5).
func produce(ctx context.Context, cfg Config, fetcher RawFetcher, out chan<- rawBlock) error {
	defer close(out)

	type result struct {
		height uint64
		bytes  []byte
		err    error
	}
	sem := make(chan struct{}, cfg.BitcoindRPCThreads)
	results := make(chan result, cfg.BitcoindRPCThreads)

	go func() {
		for h := cfg.Start; h <= cfg.End; h++ {
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			height := h
			if h > cfg.Start && h < cfg.Start+uint64(max64(1, int64(cfg.BitcoindRPCThreads))) {
				time.Sleep(stagger)
			}
			go func() {
				raw, err := fetchWithRetry(ctx, fetcher, height)
				results <- result{height: height, bytes: raw, err: err}
			}()
		}
	}()

	delivered := uint64(0)
	total := cfg.End - cfg.Start + 1
	for delivered < total {
		select {
		case r := <-results:
			if r.err != nil {
				return errors.Wrapf(r.err, "fetching height %d", r.height)
			}
			select {
			case out <- rawBlock{height: r.height, bytes: r.bytes}:
			case <-ctx.Done():
				return ctx.Err()
			}
			<-sem
			delivered++
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func fetchWithRetry(ctx context.Context, fetcher RawFetcher, height uint64) ([]byte, error) {
	for attempt := 0; ; attempt++ {
		raw, err := fetcher.FetchRawBlock(ctx, height)
		if err == nil {
			return raw, nil
		}
		log.Warnf("transient fetch error at height %d (attempt %d): %v", height, attempt+1, err)
		select {
		case <-time.After(time.Second):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// decodeWorker owns a bounded channel of depth 2 to its downstream
// consumer implicitly via decodedCh's shared buffer; retries sends every
// 500ms when downstream is full (spec.md §4.2 step 2-3, "Backpressure").
func decodeWorker(ctx context.Context, cfg Config, decoder Decoder, in <-chan rawBlock, out chan<- DecodedBlock) error {
	for {
		select {
		case rb, ok := <-in:
			if !ok {
				return nil
			}
			standardize := rb.height >= cfg.StartSequencingAt
			decoded, err := decodeWithRetry(decoder, rb, standardize)
			if err != nil {
				return errors.Wrapf(ErrDecodeFailed, "height %d: %v", rb.height, err)
			}
			if err := sendWithBackoff(ctx, out, decoded); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func decodeWithRetry(decoder Decoder, rb rawBlock, standardize bool) (DecodedBlock, error) {
	var lastErr error
	for attempt := 0; attempt < maxDecodeRetries; attempt++ {
		decoded, err := decoder.Decode(rb.bytes, rb.height, standardize)
		if err == nil {
			return decoded, nil
		}
		lastErr = err
	}
	return DecodedBlock{}, lastErr
}

func sendWithBackoff(ctx context.Context, out chan<- DecodedBlock, decoded DecodedBlock) error {
	for {
		select {
		case out <- decoded:
			return nil
		case <-time.After(retryDelay):
			continue
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// dispatch accumulates decoded blocks in a height-keyed buffer and emits
// the longest strictly-increasing prefix starting at the dispatcher
// cursor, in batches of up to cfg.batchSize(); blocks below
// StartSequencingAt are emitted out of order in their own batch as soon as
// decoded (spec.md §4.2 step 4-5).
func dispatch(ctx context.Context, cfg Config, processor Processor, in <-chan DecodedBlock) error {
	cursor := cfg.Start
	pending := make(map[uint64]DecodedBlock)

	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		var run []DecodedBlock
		for {
			blk, ok := pending[cursor]
			if !ok {
				break
			}
			run = append(run, blk)
			delete(pending, cursor)
			cursor++
			if len(run) >= cfg.batchSize() {
				if _, err := processor.Process(Batch{Blocks: run, InOrder: true}); err != nil {
					return err
				}
				run = nil
			}
		}
		if len(run) > 0 {
			if _, err := processor.Process(Batch{Blocks: run, InOrder: true}); err != nil {
				return err
			}
		}
		return nil
	}

	for {
		select {
		case blk, ok := <-in:
			if !ok {
				if err := flush(); err != nil {
					return err
				}
				outcome, err := processor.Process(Batch{Terminate: true})
				if err != nil {
					return err
				}
				if outcome != Terminated && outcome != Expired {
					return errors.New("pipeline: processor returned unknown outcome on terminate")
				}
				return nil
			}
			if blk.Height < cfg.StartSequencingAt {
				if _, err := processor.Process(Batch{Blocks: []DecodedBlock{blk}, InOrder: false}); err != nil {
					return err
				}
				continue
			}
			pending[blk.Height] = blk
			if err := flush(); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
