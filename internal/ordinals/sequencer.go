// Copyright (c) 2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package ordinals

import (
	"strconv"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/pkg/errors"

	"github.com/hirosystems/ordhookd/internal/blockhash"
	"github.com/hirosystems/ordhookd/internal/compactblock"
	"github.com/hirosystems/ordhookd/internal/logs"
	"github.com/hirosystems/ordhookd/internal/satoshi"
)

var log = logs.Subsystem("ORDS")

// ReinscriptionIndex reports whether a sat already carries a blessed
// inscription, consulted by curse detection (spec.md §4.5 step 4).
// Implemented against the ordinals DB in production; the sequencer also
// consults an in-block set directly so reveals earlier in the same block
// are visible without a round trip.
type ReinscriptionIndex interface {
	HasBlessedInscription(ordinalNumber uint64) (bool, error)
}

// Sequencer assigns inscription numbers, charms, and post-transfer
// satpoints to each reveal in a block, per spec.md §4.5.
type Sequencer struct {
	tracer      *satoshi.Tracer
	cursor      *SequenceCursor
	reinscribed ReinscriptionIndex
	params      *chaincfg.Params
	jubilee     uint64
}

// NewSequencer constructs a Sequencer for one chain's parameters.
func NewSequencer(tracer *satoshi.Tracer, cursor *SequenceCursor, reinscribed ReinscriptionIndex, params *chaincfg.Params, jubileeHeight uint64) *Sequencer {
	return &Sequencer{
		tracer:      tracer,
		cursor:      cursor,
		reinscribed: reinscribed,
		params:      params,
		jubilee:     jubileeHeight,
	}
}

// SequenceBlock processes every reveal in block order and, within a
// transaction, envelope order, per spec.md §4.5 steps 1-7. blockHeight is
// the reveal block's height.
func (s *Sequencer) SequenceBlock(blockHeight uint64, reveals []Reveal) ([]Inscription, error) {
	blessedThisBlock := make(map[uint64]bool)
	var deferred []int
	out := make([]Inscription, 0, len(reveals))
	s.tracer.ResetL1()

	for _, r := range reveals {
		ins, unboundDeferred, err := s.sequenceOne(blockHeight, r, blessedThisBlock)
		if err != nil {
			if !errors.Is(err, satoshi.ErrPointerOutOfRange) {
				return nil, err
			}
			log.Warnf("reveal %s input %d: %v", r.Tx.TxID, r.InputIndex, err)
			continue
		}
		out = append(out, ins)
		if unboundDeferred {
			deferred = append(deferred, len(out)-1)
		}
	}

	// Drain the unbound queue in submission order (spec.md §4.5 step 7):
	// assign each deferred inscription's unbound_sequence now that every
	// other reveal in the block has already claimed its classic/jubilee
	// number.
	for _, idx := range deferred {
		seq := s.cursor.IncrementUnbound()
		out[idx].UnboundSequence = &seq
		out[idx].SatpointPostInscription = Unbound(seq)
		out[idx].OrdinalOffset = seq
		out[idx].Charms = out[idx].Charms.Set(CharmUnbound)
	}

	return out, nil
}

// sequenceOne implements one reveal's full pipeline (steps 1-6); the
// caller defers unbound_sequence assignment to the post-block drain.
func (s *Sequencer) sequenceOne(blockHeight uint64, r Reveal, blessedThisBlock map[uint64]bool) (Inscription, bool, error) {
	pointer := uint64(0)
	if r.Pointer != nil {
		pointer = *r.Pointer
	}

	trace, err := s.tracer.Trace(blockHeight, toCompactTx(r.Tx), r.InputIndex, pointer)
	if err != nil {
		return Inscription{}, false, err
	}

	// Above jubilee, envelope-rule violations are vindicated rather than
	// cursed; only reinscription can still force a cursed number (spec.md
	// §4.5 step 3).
	cursed := !r.EnvelopeValid && blockHeight < s.jubilee
	curseType := r.Curse

	reinscribed := blessedThisBlock[trace.OrdinalNumber]
	if !reinscribed {
		var err error
		reinscribed, err = s.reinscribed.HasBlessedInscription(trace.OrdinalNumber)
		if err != nil {
			return Inscription{}, false, err
		}
	}
	if reinscribed {
		cursed = true
		curseType = CurseReinscription
	}

	jubileeNumber := s.cursor.NextJubilee()
	classicNumber := s.cursor.NextClassic(cursed)

	charms := SatCharms(trace.OrdinalNumber)
	vindicated := !r.EnvelopeValid && !cursed && blockHeight >= s.jubilee
	if vindicated {
		charms = charms.Set(CharmVindicated)
	} else if cursed {
		charms = charms.Set(CharmCursed)
	}
	if curseType == CurseReinscription {
		charms = charms.Set(CharmReinscription)
	}
	if !cursed {
		blessedThisBlock[trace.OrdinalNumber] = true
	}

	ins := Inscription{
		InscriptionID:      inscriptionID(r.Tx.TxID, r.InputIndex),
		ContentType:        r.ContentType,
		ContentBytes:       r.ContentBytes,
		ContentLength:      len(r.ContentBytes),
		Parents:            r.Parents,
		Delegate:           r.Delegate,
		Metaprotocol:       r.Metaprotocol,
		Metadata:           r.Metadata,
		Pointer:            r.Pointer,
		CurseType:          curseType,
		Charms:             charms,
		ClassicNumber:      classicNumber,
		JubileeNumber:      jubileeNumber,
		OrdinalNumber:      trace.OrdinalNumber,
		OrdinalBlockHeight: trace.OrdinalBlockHeight,
		OrdinalOffset:      trace.OrdinalOffset,
		TransfersPre:       trace.Transfers,
		BlockHeight:        blockHeight,
		TxIndex:            r.TxIndex,
	}

	inputValues := make([]uint64, len(r.Tx.Inputs))
	for i, in := range r.Tx.Inputs {
		inputValues[i] = in.Value
	}
	outputValues := make([]uint64, len(r.Tx.Outputs))
	for i, o := range r.Tx.Outputs {
		outputValues[i] = o.Value
	}
	next := ComputeNextSatpoint(r.InputIndex, inputValues, outputValues, pointer)

	if next.InFees {
		// Deferred: unbound_sequence assigned after every reveal in the
		// block has been processed (spec.md §4.5 step 7).
		return ins, true, nil
	}

	txOut := r.Tx.Outputs[next.Output]
	dest := DestinationFor(txOut.PkScript, s.params)
	ins.SatpointPostInscription = Satpoint{TxID: r.Tx.TxID, Vout: next.Output, Offset: next.Offset}
	ins.OutputValue = txOut.Value
	switch dest.Kind {
	case DestAddress:
		ins.InscriberAddress = dest.Address
	case DestBurnt:
		ins.Charms = ins.Charms.Set(CharmBurned)
	}

	return ins, false, nil
}

func inscriptionID(txid blockhash.Hash, inputIndex uint32) string {
	return txid.String() + "i" + strconv.FormatUint(uint64(inputIndex), 10)
}

// toCompactTx adapts a standardized transaction to the compact form the
// satoshi tracer operates on (input/output values only); the tracer never
// needs scripts or witnesses.
func toCompactTx(tx StdTx) compactblock.Tx {
	inputs := make([]compactblock.Input, len(tx.Inputs))
	for i, in := range tx.Inputs {
		inputs[i] = compactblock.Input{PrevTxID: in.PrevTxID, PrevVout: in.PrevVout, Value: in.Value}
	}
	outputs := make([]compactblock.Output, len(tx.Outputs))
	for i, o := range tx.Outputs {
		outputs[i] = compactblock.Output{Value: o.Value}
	}
	return compactblock.Tx{TxID: tx.TxID, Inputs: inputs, Outputs: outputs}
}
