package blockstore

import (
	"bytes"
	"testing"

	"github.com/hirosystems/ordhookd/internal/blockhash"
	"github.com/hirosystems/ordhookd/internal/compactblock"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// blockWithTxid builds a minimal one-coinbase-tx compact block at height,
// with the coinbase txid derived from seed so callers can construct
// distinguishable blocks.
func blockWithTxid(height uint64, seed byte) (*compactblock.Block, blockhash.Hash) {
	var txid blockhash.Hash
	txid[0] = seed
	coinbase := compactblock.Tx{
		TxID:    txid,
		Inputs:  []compactblock.Input{{PrevTxID: blockhash.Hash{}, PrevVout: 0xffffffff}},
		Outputs: []compactblock.Output{{Value: 5000000000}},
	}
	return &compactblock.Block{Height: height, Txs: []compactblock.Tx{coinbase}}, txid
}

func TestInsertGet(t *testing.T) {
	s := openTestStore(t)
	block, _ := blockWithTxid(42, 1)
	payload := compactblock.Encode(block)
	if err := s.Insert(42, payload); err != nil {
		t.Fatalf("insert: %v", err)
	}
	got, err := s.Get(42)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("got %q, want %q", got, payload)
	}
	if _, err := s.Get(43); err == nil {
		t.Fatal("expected error for missing height")
	}
}

func TestHeightOf(t *testing.T) {
	s := openTestStore(t)
	block, txid := blockWithTxid(7, 9)
	if err := s.Insert(7, compactblock.Encode(block)); err != nil {
		t.Fatalf("insert: %v", err)
	}

	height, ok, err := s.HeightOf(txid)
	if err != nil {
		t.Fatalf("height of: %v", err)
	}
	if !ok || height != 7 {
		t.Fatalf("got (%d, %v), want (7, true)", height, ok)
	}

	var unknown blockhash.Hash
	unknown[0] = 0xee
	if _, ok, err := s.HeightOf(unknown); err != nil || ok {
		t.Fatalf("expected unknown txid to miss, got ok=%v err=%v", ok, err)
	}
}

func TestReorgReinsertOverwrites(t *testing.T) {
	s := openTestStore(t)
	forkA, _ := blockWithTxid(10, 0xa)
	forkB, _ := blockWithTxid(10, 0xb)
	if err := s.Insert(10, compactblock.Encode(forkA)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.Insert(10, compactblock.Encode(forkB)); err != nil {
		t.Fatalf("reinsert: %v", err)
	}
	got, err := s.Get(10)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	decoded, err := compactblock.Decode(got)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Txs[0].TxID[0] != 0xb {
		t.Fatalf("expected reinsert to overwrite, got txid byte %x", decoded.Txs[0].TxID[0])
	}
}

func TestIterAndDelete(t *testing.T) {
	s := openTestStore(t)
	txids := make([]blockhash.Hash, 5)
	for h := uint64(0); h < 5; h++ {
		block, txid := blockWithTxid(h, byte(h)+1)
		txids[h] = txid
		if err := s.Insert(h, compactblock.Encode(block)); err != nil {
			t.Fatalf("insert %d: %v", h, err)
		}
	}

	var seen []uint64
	err := s.Iter(1, 3, func(height uint64, _ []byte) error {
		seen = append(seen, height)
		return nil
	})
	if err != nil {
		t.Fatalf("iter: %v", err)
	}
	if len(seen) != 3 || seen[0] != 1 || seen[2] != 3 {
		t.Fatalf("unexpected iteration result: %v", seen)
	}

	if err := s.Delete(1, 3); err != nil {
		t.Fatalf("delete: %v", err)
	}
	for _, h := range []uint64{1, 2, 3} {
		if ok, _ := s.Has(h); ok {
			t.Fatalf("height %d should have been deleted", h)
		}
		if _, ok, _ := s.HeightOf(txids[h]); ok {
			t.Fatalf("txid index for height %d should have been deleted", h)
		}
	}
	if ok, _ := s.Has(0); !ok {
		t.Fatal("height 0 should remain")
	}
	if ok, _ := s.Has(4); !ok {
		t.Fatal("height 4 should remain")
	}
	if _, ok, _ := s.HeightOf(txids[0]); !ok {
		t.Fatal("txid index for height 0 should remain")
	}
}

func TestMissingHeights(t *testing.T) {
	s := openTestStore(t)
	for _, h := range []uint64{0, 1, 3, 4} {
		block, _ := blockWithTxid(h, byte(h)+1)
		if err := s.Insert(h, compactblock.Encode(block)); err != nil {
			t.Fatalf("insert %d: %v", h, err)
		}
	}
	missing, err := s.MissingHeights(6)
	if err != nil {
		t.Fatalf("missing heights: %v", err)
	}
	want := []uint64{2, 5, 6}
	if len(missing) != len(want) {
		t.Fatalf("got %v, want %v", missing, want)
	}
	for i := range want {
		if missing[i] != want[i] {
			t.Fatalf("got %v, want %v", missing, want)
		}
	}
}
