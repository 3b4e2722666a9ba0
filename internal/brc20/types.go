// Copyright (c) 2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package brc20 implements the BRC-20 token-ledger state machine of
// spec.md §4.8: deploy/mint/transfer/transfer-send against inscription
// reveals and transfers, backed by a write-through memory cache flushed
// once per block.
package brc20

// Token is a deployed BRC-20 ticker's state.
type Token struct {
	Ticker        string
	DisplayTicker string // case-preserved form from the deploy inscription
	InscriptionID string
	Max           uint64 // fixed-point, scaled by 10^Decimals
	Limit         uint64 // per-mint cap, 0 means unlimited
	Decimals      uint8
	SelfMint      bool
	Address       string
	MintedSupply  uint64
	BurnedSupply  uint64
	BlockHeight   uint64
	TxIndex       uint32
}

// Balance is one (ticker, address) pair's available and in-transfer
// amounts.
type Balance struct {
	Ticker       string
	Address      string
	AvailBalance uint64
	TransBalance uint64
}

// OperationKind enumerates the four BRC-20 operation types.
type OperationKind int

// Operation kinds.
const (
	OpDeploy OperationKind = iota
	OpMint
	OpTransfer
	OpTransferSend
)

// Operation is one materialized ledger event, the unit that gets
// persisted to the operations table and later replayed in reverse for
// rollback (spec.md §4.9).
type Operation struct {
	Kind          OperationKind
	InscriptionID string
	OrdinalNumber uint64
	Ticker        string
	Amount        uint64
	Address       string // deploy/mint recipient, transfer sender
	Receiver      string // transfer_send receiver; empty otherwise
	BlockHeight   uint64
	TxIndex       uint32
}

// ParsedOperation is the result of parsing an inscription's content as a
// BRC-20 JSON payload, keyed by inscription_id before on-chain
// verification (spec.md §4.8 step 1).
type ParsedOperation struct {
	Kind     OperationKind
	Ticker   string
	Amount   uint64 // fixed-point, scaled by 10^Decimals once the token is known
	Decimals uint8  // only meaningful for Deploy
	Max      uint64
	Limit    uint64
	SelfMint bool
}

// PendingTransfer is a verified `transfer` operation awaiting a matching
// ordinal transfer (to become transfer_send) in the same or a later block,
// keyed by the sat it rides on.
type PendingTransfer struct {
	InscriptionID string
	OrdinalNumber uint64
	Ticker        string
	Amount        uint64
	Sender        string
	TxIndex       uint32
}
