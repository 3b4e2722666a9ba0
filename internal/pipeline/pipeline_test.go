package pipeline

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/hirosystems/ordhookd/internal/compactblock"
)

type fakeFetcher struct{}

func (fakeFetcher) FetchRawBlock(ctx context.Context, height uint64) ([]byte, error) {
	return []byte(fmt.Sprintf("raw-%d", height)), nil
}

type fakeDecoder struct{}

func (fakeDecoder) Decode(raw []byte, height uint64, standardize bool) (DecodedBlock, error) {
	blk := &compactblock.Block{Height: height}
	return DecodedBlock{Height: height, Compact: blk, IsStandardized: standardize}, nil
}

type recordingProcessor struct {
	mu         sync.Mutex
	seen       []uint64
	terminated bool
}

func (p *recordingProcessor) Process(batch Batch) (Outcome, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if batch.Terminate {
		p.terminated = true
		return Terminated, nil
	}
	for _, b := range batch.Blocks {
		p.seen = append(p.seen, b.Height)
	}
	return Terminated, nil
}

// TestInOrderDelivery verifies the pipeline delivers heights in strictly
// ascending order starting at start_sequencing_at (spec.md §4.2).
func TestInOrderDelivery(t *testing.T) {
	cfg := Config{
		Start:              100,
		End:                120,
		StartSequencingAt:  100,
		BitcoindRPCThreads: 4,
		DecoderWorkers:     3,
		BatchSize:          5,
	}
	proc := &recordingProcessor{}
	err := Run(context.Background(), cfg, fakeFetcher{}, fakeDecoder{}, proc)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !proc.terminated {
		t.Fatal("expected processor to receive a terminate batch")
	}
	if len(proc.seen) != 21 {
		t.Fatalf("expected 21 heights, got %d: %v", len(proc.seen), proc.seen)
	}
	for i, h := range proc.seen {
		if h != uint64(100+i) {
			t.Fatalf("out of order delivery at index %d: %v", i, proc.seen)
		}
	}
}

// TestBelowThresholdOutOfOrder verifies blocks below start_sequencing_at
// may be delivered out of order, compact-only.
func TestBelowThresholdOutOfOrder(t *testing.T) {
	cfg := Config{
		Start:              1,
		End:                10,
		StartSequencingAt:  1000, // nothing reaches the sequencing threshold
		BitcoindRPCThreads: 4,
		DecoderWorkers:     4,
	}
	proc := &recordingProcessor{}
	err := Run(context.Background(), cfg, fakeFetcher{}, fakeDecoder{}, proc)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(proc.seen) != 10 {
		t.Fatalf("expected 10 heights delivered, got %d", len(proc.seen))
	}
	seenSet := make(map[uint64]bool)
	for _, h := range proc.seen {
		seenSet[h] = true
	}
	for h := uint64(1); h <= 10; h++ {
		if !seenSet[h] {
			t.Fatalf("missing height %d in out-of-order delivery", h)
		}
	}
}
