// Copyright (c) 2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package ordinals implements the inscription sequencer, transfer
// detector, and post-transfer satpoint arithmetic of spec.md §4.5-§4.7: it
// consumes the standardized in-memory block the pipeline produces above
// the sequencing threshold (full scripts and witnesses, unlike the
// archival compactblock form) and materializes inscriptions and their
// current locations.
package ordinals

import "github.com/hirosystems/ordhookd/internal/blockhash"

// StdBlock is the canonical in-memory block the download pipeline
// standardizes above start_sequencing_at: unlike compactblock.Block, it
// retains output scripts and input witnesses, the fields the compact
// archival form intentionally drops (spec.md §4.3) but the sequencer needs
// for envelope parsing and destination address derivation.
type StdBlock struct {
	Height uint64
	Hash   blockhash.Hash
	Txs    []StdTx
}

// StdTx is one transaction in its standardized form.
type StdTx struct {
	TxID    blockhash.Hash
	TxIndex uint32
	Inputs  []StdInput
	Outputs []StdOutput
}

// IsCoinbase reports whether this is the block's coinbase transaction.
func (t StdTx) IsCoinbase() bool {
	return len(t.Inputs) == 1 && t.Inputs[0].PrevTxID.IsZero()
}

// StdInput is one transaction input with its witness stack, the envelope
// carrier for taproot-script-path inscriptions.
type StdInput struct {
	PrevTxID blockhash.Hash
	PrevVout uint32
	Value    uint64
	Witness  [][]byte
}

// StdOutput is one transaction output with its locking script retained.
type StdOutput struct {
	Value    uint64
	PkScript []byte
}

// CurseType enumerates why an inscription is cursed, per the reference
// envelope-validation rules (spec.md §4.5, Glossary "Curse / Jubilee").
type CurseType int

// Curse types. Unset means the reveal is blessed.
const (
	CurseNone CurseType = iota
	CurseDuplicateField
	CurseIncompleteField
	CurseNotAtOffsetZero
	CurseNotInFirstInput
	CursePointer
	CursePushnum
	CurseReinscription
	CurseStutter
	CurseUnrecognizedEvenField
)

// Inscription is the materialized, sequenced inscription row produced by
// the sequencer, matching spec.md §3's glossary entry.
type Inscription struct {
	InscriptionID string // txid + "i" + input_index

	ContentType   string
	ContentBytes  []byte
	ContentLength int
	Parents       []string
	Delegate      string
	Metaprotocol  string
	Metadata      []byte
	Pointer       *uint64
	CurseType     CurseType
	Charms        Charms

	ClassicNumber int64
	JubileeNumber int64

	OrdinalNumber      uint64
	OrdinalBlockHeight uint64
	OrdinalOffset      uint64
	TransfersPre       uint32

	InscriberAddress string
	Fee              uint64
	OutputValue      uint64

	SatpointPostInscription Satpoint
	BlockHeight             uint64
	TxIndex                 uint32
	UnboundSequence         *uint64
}

// Satpoint is a sat's location: (txid, output index, offset within that
// output). The all-zero txid with vout 0 is the unbound sentinel, in which
// case Offset carries unbound_sequence rather than a real intra-output
// offset (spec.md §3, Open Questions).
type Satpoint struct {
	TxID   blockhash.Hash
	Vout   uint32
	Offset uint64
}

// Unbound is the sentinel satpoint assigned to inscriptions that never
// resolve to a real output (spent to fees, or consumed inputs summing to
// nothing).
func Unbound(sequence uint64) Satpoint {
	return Satpoint{Offset: sequence}
}

// IsUnbound reports whether s is the unbound sentinel.
func (s Satpoint) IsUnbound() bool {
	return s.TxID.IsZero() && s.Vout == 0
}

// Destination is where a transferred sat ends up.
type Destination struct {
	Kind DestinationKind
	// Address is set when Kind is DestAddress.
	Address string
	// ScriptHex is set when Kind is DestBurnt (script failed to decode to
	// a known address form).
	ScriptHex string
}

// DestinationKind enumerates the three possible transfer outcomes.
type DestinationKind int

// Destination kinds.
const (
	DestAddress DestinationKind = iota
	DestBurnt
	DestSpentInFees
)

// Reveal is one inscription envelope extracted from a reveal transaction's
// witness, ready for sequencing. Parsing the envelope itself (taproot
// script-path parsing, tag/field decoding) is outside sequencer scope; the
// sequencer consumes already-decoded reveals.
type Reveal struct {
	TxIndex      uint32
	EnvelopeIdx  uint32
	InputIndex   uint32
	Tx           StdTx
	ContentType  string
	ContentBytes []byte
	Parents      []string
	Delegate     string
	Metaprotocol string
	Metadata     []byte
	Pointer      *uint64

	// EnvelopeValid is false when the envelope itself violates the
	// taproot-script encoding rules the reference implementation checks
	// (duplicate/incomplete fields, wrong input/offset, non-zero
	// OP_PUSHNUM before the content tag, stuttered envelope). When false,
	// Curse names which rule was broken.
	EnvelopeValid bool
	Curse         CurseType
}
