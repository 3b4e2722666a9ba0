// Copyright (c) 2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package ordinals

import (
	"encoding/hex"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"

	"github.com/hirosystems/ordhookd/internal/blockhash"
)

// NextSatpointResult is the outcome of compute_next_satpoint: either the
// sat lands in a real output, or it falls past every output into fees.
type NextSatpointResult struct {
	Output    uint32
	Offset    uint64
	InFees    bool
	FeeOffset uint64
}

// ComputeNextSatpoint implements spec.md §4.7:
//
//	abs = sum(inputs[0..input_index]) + pointer
//	iterate outputs accumulating values; if abs < sum(outputs), result is
//	Output(k, abs - sum(outputs[0..k])); else Fee(abs - sum(outputs)).
func ComputeNextSatpoint(inputIndex uint32, inputValues []uint64, outputValues []uint64, pointer uint64) NextSatpointResult {
	var abs uint64
	for i := uint32(0); i < inputIndex; i++ {
		abs += inputValues[i]
	}
	abs += pointer

	var outputTotal uint64
	remaining := abs
	for k, v := range outputValues {
		if remaining < v {
			return NextSatpointResult{Output: uint32(k), Offset: remaining}
		}
		remaining -= v
		outputTotal += v
	}
	return NextSatpointResult{InFees: true, FeeOffset: abs - outputTotal}
}

// DestinationFor derives the destination of a transferred sat landing on
// output k's script, per spec.md §4.6: decode an address against the
// configured network; on decoding failure (non-standard script, bare
// OP_RETURN, etc.) the destination is Burnt(script_hex).
//
// Grounded on the teacher's address-extraction pattern
// (ExtractPkScriptAddrs over a tx output's PkScript, as in
// monetas-btcwallet's notification handler), using the real upstream
// btcsuite/btcd txscript package rather than the Kaspa-specific address
// scheme daglabs-btcd carries internally.
func DestinationFor(pkScript []byte, params *chaincfg.Params) Destination {
	_, addrs, _, err := txscript.ExtractPkScriptAddrs(pkScript, params)
	if err != nil || len(addrs) == 0 {
		return Destination{Kind: DestBurnt, ScriptHex: hex.EncodeToString(pkScript)}
	}
	return Destination{Kind: DestAddress, Address: addrs[0].EncodeAddress()}
}

// WatchedLocation is one inscription's current location, as tracked by the
// ordinals DB's current_locations table and consulted by transfer
// detection's inscribed_satpoints_at_inputs query (spec.md §4.6).
type WatchedLocation struct {
	InscriptionID string
	OrdinalNumber uint64
	TxID          blockhash.Hash
	Vout          uint32
	Offset        uint64
}

// LocationIndex resolves which inscriptions currently sit at a given
// outpoint (inscribed_satpoints_at_inputs). Implemented by internal/ordinalsdb
// against the current_locations table.
type LocationIndex interface {
	WatchedAt(txid blockhash.Hash, vout uint32) ([]WatchedLocation, error)
}

// Transfer is one detected movement of an already-inscribed sat.
type Transfer struct {
	InscriptionID string
	OrdinalNumber uint64
	TxIndex       uint32
	Destination   Destination
	Satpoint      Satpoint
	OutputValue   uint64
}

// DetectTransfers scans every input of every transaction in block for a
// match against the location index, per spec.md §4.6. revealedThisBlock
// excludes inputs belonging to a reveal transaction in this same block
// ("skip if the sat was inscribed in this same transaction, to avoid
// double-counting"). unboundSeq mints a fresh unbound sequence for each
// fee-spent sat via the supplied cursor.
func DetectTransfers(block StdBlock, locations LocationIndex, revealedThisBlock map[blockhash.Hash]bool, params *chaincfg.Params, cursor *SequenceCursor) ([]Transfer, error) {
	var out []Transfer

	for _, tx := range block.Txs {
		if tx.IsCoinbase() || revealedThisBlock[tx.TxID] {
			continue
		}
		inputValues := make([]uint64, len(tx.Inputs))
		for i, in := range tx.Inputs {
			inputValues[i] = in.Value
		}
		outputValues := make([]uint64, len(tx.Outputs))
		for i, o := range tx.Outputs {
			outputValues[i] = o.Value
		}

		for inputIdx, in := range tx.Inputs {
			watched, err := locations.WatchedAt(in.PrevTxID, in.PrevVout)
			if err != nil {
				return nil, err
			}
			for _, w := range watched {
				next := ComputeNextSatpoint(uint32(inputIdx), inputValues, outputValues, w.Offset)

				var dest Destination
				var satpoint Satpoint
				var outputValue uint64
				if next.InFees {
					dest = Destination{Kind: DestSpentInFees}
					satpoint = Unbound(cursor.IncrementUnbound())
				} else {
					txOut := tx.Outputs[next.Output]
					dest = DestinationFor(txOut.PkScript, params)
					satpoint = Satpoint{TxID: tx.TxID, Vout: next.Output, Offset: next.Offset}
					outputValue = txOut.Value
				}

				out = append(out, Transfer{
					InscriptionID: w.InscriptionID,
					OrdinalNumber: w.OrdinalNumber,
					TxIndex:       tx.TxIndex,
					Destination:   dest,
					Satpoint:      satpoint,
					OutputValue:   outputValue,
				})
			}
		}
	}

	return out, nil
}
