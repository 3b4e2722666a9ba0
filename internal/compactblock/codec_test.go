package compactblock

import (
	"math/rand"
	"testing"

	"github.com/davecgh/go-spew/spew"

	"github.com/hirosystems/ordhookd/internal/blockhash"
)

func randHash(r *rand.Rand) blockhash.Hash {
	var h blockhash.Hash
	r.Read(h[:])
	return h
}

func randomBlock(r *rand.Rand, height uint64, txCount int) *Block {
	b := &Block{Height: height}
	for i := 0; i < txCount; i++ {
		tx := Tx{TxID: randHash(r)}
		if i == 0 {
			tx.Inputs = []Input{{PrevTxID: blockhash.Hash{}, PrevVout: 0xffffffff, Value: 0}}
		} else {
			inCount := 1 + r.Intn(3)
			for j := 0; j < inCount; j++ {
				tx.Inputs = append(tx.Inputs, Input{
					PrevTxID: randHash(r),
					PrevVout: uint32(r.Intn(8)),
					Value:    uint64(r.Intn(1_000_000)),
				})
			}
		}
		outCount := 1 + r.Intn(3)
		for j := 0; j < outCount; j++ {
			tx.Outputs = append(tx.Outputs, Output{Value: uint64(r.Intn(1_000_000))})
		}
		b.Txs = append(b.Txs, tx)
	}
	return b
}

// TestRoundTrip verifies spec.md §4.3/§8's codec round-trip invariant:
// decode(encode(b)) preserves txids, input tuples, and output values for
// randomly shaped synthetic blocks.
func TestRoundTrip(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	for trial := 0; trial < 20; trial++ {
		original := randomBlock(r, uint64(100+trial), 1+r.Intn(12))
		encoded := Encode(original)
		decoded, err := Decode(encoded)
		if err != nil {
			t.Fatalf("trial %d: decode error: %v", trial, err)
		}
		if decoded.Height != original.Height {
			t.Fatalf("trial %d: height mismatch: %d != %d", trial, decoded.Height, original.Height)
		}
		if len(decoded.Txs) != len(original.Txs) {
			t.Fatalf("trial %d: tx count mismatch", trial)
		}
		for i := range original.Txs {
			want, got := original.Txs[i], decoded.Txs[i]
			if want.TxID != got.TxID {
				t.Fatalf("trial %d tx %d: txid mismatch\nwant %s\ngot  %s", trial, i, spew.Sdump(want), spew.Sdump(got))
			}
			if len(want.Inputs) != len(got.Inputs) {
				t.Fatalf("trial %d tx %d: input count mismatch", trial, i)
			}
			for j := range want.Inputs {
				if want.Inputs[j] != got.Inputs[j] {
					t.Fatalf("trial %d tx %d input %d: mismatch\nwant %+v\ngot  %+v", trial, i, j, want.Inputs[j], got.Inputs[j])
				}
			}
			if len(want.Outputs) != len(got.Outputs) {
				t.Fatalf("trial %d tx %d: output count mismatch", trial, i)
			}
			for j := range want.Outputs {
				if want.Outputs[j] != got.Outputs[j] {
					t.Fatalf("trial %d tx %d output %d: mismatch\nwant %+v\ngot  %+v", trial, i, j, want.Outputs[j], got.Outputs[j])
				}
			}
		}
	}
}

// TestLookupByPrefix verifies O(1) prefix-keyed lookup resolves to the
// correct transaction, and that full-id disambiguation works even when two
// txids happen to share an 8-byte prefix.
func TestLookupByPrefix(t *testing.T) {
	r := rand.New(rand.NewSource(2))
	original := randomBlock(r, 500, 5)

	// Force a prefix collision between tx 0 and tx 1.
	copy(original.Txs[1].TxID[:8], original.Txs[0].TxID[:8])
	original.Txs[1].TxID[31] ^= 0xff // keep the full ids distinct

	decoded, err := Decode(Encode(original))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	matches := decoded.Lookup(original.Txs[0].TxID.Truncate())
	if len(matches) != 2 {
		t.Fatalf("expected 2 colliding txs, got %d", len(matches))
	}

	tx, ok := decoded.TxByID(original.Txs[1].TxID)
	if !ok {
		t.Fatal("expected TxByID to resolve the colliding txid")
	}
	if tx.TxID != original.Txs[1].TxID {
		t.Fatalf("resolved wrong tx: %s != %s", tx.TxID, original.Txs[1].TxID)
	}
}

// TestCoinbaseDetection verifies the all-zero prev-txid sentinel marks the
// coinbase transaction (spec.md §4.3).
func TestCoinbaseDetection(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	b := randomBlock(r, 1, 3)
	if !b.Txs[0].IsCoinbase() {
		t.Fatal("expected first tx to be detected as coinbase")
	}
	for i := 1; i < len(b.Txs); i++ {
		if b.Txs[i].IsCoinbase() {
			t.Fatalf("tx %d should not be a coinbase", i)
		}
	}
}

// TestDecodeTruncated verifies truncated bytes are rejected rather than
// panicking.
func TestDecodeTruncated(t *testing.T) {
	r := rand.New(rand.NewSource(4))
	b := randomBlock(r, 1, 2)
	encoded := Encode(b)
	if _, err := Decode(encoded[:len(encoded)-3]); err == nil {
		t.Fatal("expected error decoding truncated bytes")
	}
}
