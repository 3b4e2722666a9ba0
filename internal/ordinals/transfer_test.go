package ordinals

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg"

	"github.com/hirosystems/ordhookd/internal/blockhash"
)

func TestComputeNextSatpointLandsOnOutput(t *testing.T) {
	res := ComputeNextSatpoint(1, []uint64{1000, 2000}, []uint64{500, 3000}, 100)
	// abs = 1000 (input 0) + 100 = 1100; output 0 has 500 (1100 >= 500,
	// remaining 600); output 1 has 3000 (600 < 3000) -> lands at offset 600.
	if res.InFees {
		t.Fatal("expected output landing, not fees")
	}
	if res.Output != 1 || res.Offset != 600 {
		t.Fatalf("expected output 1 offset 600, got output %d offset %d", res.Output, res.Offset)
	}
}

func TestComputeNextSatpointFeeSpend(t *testing.T) {
	res := ComputeNextSatpoint(0, []uint64{1000}, []uint64{400}, 999)
	if !res.InFees {
		t.Fatal("expected fee spend")
	}
	if res.FeeOffset != 999-400 {
		t.Fatalf("expected fee offset %d, got %d", 999-400, res.FeeOffset)
	}
}

type fakeLocationIndex struct {
	byOutpoint map[outpointKey][]WatchedLocation
}

type outpointKey struct {
	txid blockhash.Hash
	vout uint32
}

func (f *fakeLocationIndex) WatchedAt(txid blockhash.Hash, vout uint32) ([]WatchedLocation, error) {
	return f.byOutpoint[outpointKey{txid: txid, vout: vout}], nil
}

// TestDetectTransfersSkipsSameBlockReveal verifies an input matching the
// watch set is skipped when the spending transaction is itself a reveal in
// this same block, avoiding double-counting per spec.md §4.6.
func TestDetectTransfersSkipsSameBlockReveal(t *testing.T) {
	spender := hashByte(0x10)
	watchedTx := hashByte(0x01)

	idx := &fakeLocationIndex{byOutpoint: map[outpointKey][]WatchedLocation{
		{txid: watchedTx, vout: 0}: {{InscriptionID: "abc", OrdinalNumber: 42, Offset: 0}},
	}}

	block := StdBlock{Txs: []StdTx{{
		TxID:    spender,
		TxIndex: 1,
		Inputs:  []StdInput{{PrevTxID: watchedTx, PrevVout: 0, Value: 1000}},
		Outputs: []StdOutput{{Value: 1000, PkScript: pkScriptStub()}},
	}}}

	cursor := &SequenceCursor{store: &memCursorStore{}}
	transfers, err := DetectTransfers(block, idx, map[blockhash.Hash]bool{spender: true}, &chaincfg.MainNetParams, cursor)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(transfers) != 0 {
		t.Fatalf("expected no transfers for same-block reveal, got %d", len(transfers))
	}
}

// TestDetectTransfersEmitsMovement verifies a normal spend of a watched
// outpoint emits a transfer with the destination resolved from the
// receiving output's script.
func TestDetectTransfersEmitsMovement(t *testing.T) {
	spender := hashByte(0x11)
	watchedTx := hashByte(0x02)

	idx := &fakeLocationIndex{byOutpoint: map[outpointKey][]WatchedLocation{
		{txid: watchedTx, vout: 0}: {{InscriptionID: "xyz", OrdinalNumber: 7, Offset: 0}},
	}}

	block := StdBlock{Txs: []StdTx{{
		TxID:    spender,
		TxIndex: 2,
		Inputs:  []StdInput{{PrevTxID: watchedTx, PrevVout: 0, Value: 1000}},
		Outputs: []StdOutput{{Value: 1000, PkScript: pkScriptStub()}},
	}}}

	cursor := &SequenceCursor{store: &memCursorStore{}}
	transfers, err := DetectTransfers(block, idx, map[blockhash.Hash]bool{}, &chaincfg.MainNetParams, cursor)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(transfers) != 1 {
		t.Fatalf("expected 1 transfer, got %d", len(transfers))
	}
	tr := transfers[0]
	if tr.OrdinalNumber != 7 || tr.InscriptionID != "xyz" {
		t.Fatalf("unexpected transfer: %+v", tr)
	}
	if tr.Destination.Kind != DestAddress {
		t.Fatalf("expected address destination, got %v", tr.Destination.Kind)
	}
	if tr.Satpoint.TxID != spender || tr.Satpoint.Vout != 0 {
		t.Fatalf("expected satpoint at spender:0, got %+v", tr.Satpoint)
	}
}

func pkScriptStub() []byte {
	script := make([]byte, 0, 25)
	script = append(script, 0x76, 0xa9, 0x14)
	script = append(script, make([]byte, 20)...)
	script = append(script, 0x88, 0xac)
	return script
}
