package forkpad

import (
	"testing"

	"github.com/hirosystems/ordhookd/internal/blockhash"
	"github.com/hirosystems/ordhookd/internal/chainmodel"
)

func hashFromByte(b byte) blockhash.Hash {
	var h blockhash.Hash
	h[0] = b
	return h
}

func header(height uint64, self, parent byte) chainmodel.BlockHeader {
	return chainmodel.BlockHeader{
		ID:     chainmodel.BlockIdentifier{Height: height, Hash: hashFromByte(self)},
		Parent: chainmodel.BlockIdentifier{Height: height - 1, Hash: hashFromByte(parent)},
	}
}

// TestSimpleExtension verifies that processing a header that extends the
// current tip emits ChainUpdatedWithHeaders.
func TestSimpleExtension(t *testing.T) {
	pad := New(7)
	pad.Seed(chainmodel.BlockHeader{ID: chainmodel.BlockIdentifier{Height: 0, Hash: hashFromByte(0xAA)}})

	h1 := header(1, 0x01, 0xAA)
	event, err := pad.ProcessHeader(h1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if event == nil || event.Kind != chainmodel.ChainUpdatedWithHeaders {
		t.Fatalf("expected ChainUpdatedWithHeaders, got %+v", event)
	}
	if len(event.NewHeaders) != 1 || event.NewHeaders[0].ID.Hash != h1.ID.Hash {
		t.Fatalf("unexpected new headers: %+v", event.NewHeaders)
	}
	tip, ok := pad.Tip()
	if !ok || tip.Hash != h1.ID.Hash {
		t.Fatalf("expected tip %s, got %+v", h1.ID.Hash, tip)
	}
}

// TestDuplicateHeaderIgnored verifies duplicate headers are rejected
// silently.
func TestDuplicateHeaderIgnored(t *testing.T) {
	pad := New(7)
	pad.Seed(chainmodel.BlockHeader{ID: chainmodel.BlockIdentifier{Height: 0, Hash: hashFromByte(0xAA)}})

	h1 := header(1, 0x01, 0xAA)
	if _, err := pad.ProcessHeader(h1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	event, err := pad.ProcessHeader(h1)
	if err != nil {
		t.Fatalf("unexpected error on duplicate: %v", err)
	}
	if event != nil {
		t.Fatalf("expected nil event for duplicate header, got %+v", event)
	}
}

// TestUnknownParentRejected verifies a header whose parent is neither the
// tip nor known is rejected with ErrUnknownParent.
func TestUnknownParentRejected(t *testing.T) {
	pad := New(7)
	pad.Seed(chainmodel.BlockHeader{ID: chainmodel.BlockIdentifier{Height: 0, Hash: hashFromByte(0xAA)}})

	orphan := header(5, 0x05, 0x04)
	_, err := pad.ProcessHeader(orphan)
	if err == nil {
		t.Fatal("expected error for unknown parent")
	}
}

// TestReorgTwoDeep reproduces spec.md §8 scenario S6: a ZMQ-observed chain
// A->B1->C1 is replaced by A->B2->C2->D2, with D2 arriving before its
// parent is known. After feeding C2 then D2, processing should report a
// reorg rolling back [C1, B1] and applying [B2, C2, D2].
//
// B1/C1 use a higher hash byte than B2/C2 so the original chain keeps the
// tie-break at equal height; D2 only overtakes it once its chain is
// strictly taller.
func TestReorgTwoDeep(t *testing.T) {
	pad := New(7)
	pad.Seed(chainmodel.BlockHeader{ID: chainmodel.BlockIdentifier{Height: 0, Hash: hashFromByte(0xA0)}})

	b1 := header(1, 0xF1, 0xA0)
	c1 := header(2, 0xF2, 0xF1)
	if _, err := pad.ProcessHeader(b1); err != nil {
		t.Fatalf("b1: %v", err)
	}
	if _, err := pad.ProcessHeader(c1); err != nil {
		t.Fatalf("c1: %v", err)
	}
	if tip, _ := pad.Tip(); tip.Hash != hashFromByte(0xF2) {
		t.Fatalf("expected tip C1, got %s", tip.Hash)
	}

	d2 := header(3, 0x03, 0x02)
	if pad.CanProcessHeader(d2) {
		t.Fatal("expected CanProcessHeader(D2) to be false before C2 is known")
	}
	if _, err := pad.ProcessHeader(d2); err == nil {
		t.Fatal("expected ErrUnknownParent for D2 before C2 is processed")
	}

	b2 := header(1, 0x01, 0xA0)
	if _, err := pad.ProcessHeader(b2); err != nil {
		t.Fatalf("b2: %v", err)
	}
	c2 := header(2, 0x02, 0x01)
	if _, err := pad.ProcessHeader(c2); err != nil {
		t.Fatalf("c2: %v", err)
	}
	// B2/C2 are lighter than the current C1 tip (same height, smaller
	// hash byte), so the tip should not have moved yet.
	if tip, _ := pad.Tip(); tip.Hash != hashFromByte(0xF2) {
		t.Fatalf("expected tip still C1, got %s", tip.Hash)
	}

	if !pad.CanProcessHeader(d2) {
		t.Fatal("expected CanProcessHeader(D2) to be true once C2 is known")
	}
	event, err := pad.ProcessHeader(d2)
	if err != nil {
		t.Fatalf("d2: %v", err)
	}
	if event == nil || event.Kind != chainmodel.ChainUpdatedWithReorg {
		t.Fatalf("expected reorg event, got %+v", event)
	}
	if len(event.HeadersToRollback) != 2 {
		t.Fatalf("expected 2 headers to roll back, got %d", len(event.HeadersToRollback))
	}
	if event.HeadersToRollback[0].ID.Hash != hashFromByte(0xF2) || event.HeadersToRollback[1].ID.Hash != hashFromByte(0xF1) {
		t.Fatalf("unexpected rollback order: %+v", event.HeadersToRollback)
	}
	if len(event.HeadersToApply) != 3 {
		t.Fatalf("expected 3 headers to apply, got %d", len(event.HeadersToApply))
	}
	wantApply := []byte{0x01, 0x02, 0x03}
	for i, want := range wantApply {
		if event.HeadersToApply[i].ID.Hash != hashFromByte(want) {
			t.Fatalf("unexpected apply order at %d: %+v", i, event.HeadersToApply)
		}
	}

	tip, _ := pad.Tip()
	if tip.Hash != hashFromByte(0x03) {
		t.Fatalf("expected tip D2 after reorg, got %s", tip.Hash)
	}
}

// TestConfirmedHeadersNeverRetracted verifies property 1 from spec.md §8: a
// long run of simple extensions confirms headers that fall outside the
// window and never un-confirms them.
func TestConfirmedHeadersNeverRetracted(t *testing.T) {
	pad := New(3)
	pad.Seed(chainmodel.BlockHeader{ID: chainmodel.BlockIdentifier{Height: 0, Hash: hashFromByte(0x00)}})

	var allConfirmed []chainmodel.BlockHeader
	prev := byte(0x00)
	for h := byte(1); h <= 10; h++ {
		event, err := pad.ProcessHeader(header(uint64(h), h, prev))
		if err != nil {
			t.Fatalf("height %d: %v", h, err)
		}
		allConfirmed = append(allConfirmed, event.ConfirmedHeaders...)
		prev = h
	}
	if len(allConfirmed) != 8 {
		t.Fatalf("expected 8 confirmed headers (heights 0..7), got %d", len(allConfirmed))
	}
	for i, h := range allConfirmed {
		if h.ID.Height != uint64(i) {
			t.Fatalf("confirmed headers out of order: %+v", allConfirmed)
		}
	}
}
