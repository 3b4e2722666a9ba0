// Copyright (c) 2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package brc20

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/hirosystems/ordhookd/internal/logs"
	"github.com/hirosystems/ordhookd/internal/ordinals"
)

var log = logs.Subsystem("BR20")

// Activation gates the whole engine off below a network's BRC-20
// activation point (spec.md §4.8 "Activation").
type Activation struct {
	Height         uint64
	SelfMintHeight uint64
}

// RevealEvent is one inscription reveal, tagged with the tx_index/envelope
// position the engine needs to interleave it against transfers.
type RevealEvent struct {
	TxIndex       uint32
	EnvelopeIndex uint32
	InscriptionID string
	OrdinalNumber uint64
	ContentType   string
	Content       []byte
	// Address is the inscribing output's destination address, i.e. the
	// recipient of a deploy/mint/transfer op (the inscription's
	// InscriberAddress, already resolved by the ordinals sequencer).
	Address string
}

// Engine runs the deploy/mint/transfer/transfer-send state machine of
// spec.md §4.8 against one block's reveals and transfers, against a Cache
// that write-throughs to durable storage once per block.
type Engine struct {
	cache      *Cache
	activation Activation
	pending    map[uint64]PendingTransfer // keyed by ordinal_number, kept across blocks
}

// NewEngine builds an Engine over cache, gated by activation.
func NewEngine(cache *Cache, activation Activation) *Engine {
	return &Engine{cache: cache, activation: activation, pending: make(map[uint64]PendingTransfer)}
}

func opKindName(k OperationKind) string {
	switch k {
	case OpDeploy:
		return "deploy"
	case OpMint:
		return "mint"
	case OpTransfer:
		return "transfer"
	case OpTransferSend:
		return "transfer_send"
	default:
		return "unknown"
	}
}

type opEvent struct {
	txIndex  uint32
	envIndex uint32
	isReveal bool
	reveal   RevealEvent
	transfer ordinals.Transfer
}

// ProcessBlock runs one block's brc-20 activity: reveals and ordinal
// transfers are merged into a single tx_index-ordered stream (reveals
// before transfers when indices tie, since a transfer event names a sat
// moved by a spend, never the reveal transaction that created it), then
// replayed per spec.md §4.8 steps 2-4. It returns the ledger operations
// produced, in tx_index order, ready to persist alongside the dirty cache
// rows.
func (e *Engine) ProcessBlock(blockHeight uint64, reveals []RevealEvent, transfers []ordinals.Transfer) ([]Operation, error) {
	if blockHeight < e.activation.Height {
		return nil, nil
	}

	events := make([]opEvent, 0, len(reveals)+len(transfers))
	for _, r := range reveals {
		events = append(events, opEvent{txIndex: r.TxIndex, envIndex: r.EnvelopeIndex, isReveal: true, reveal: r})
	}
	for _, t := range transfers {
		events = append(events, opEvent{txIndex: t.TxIndex, isReveal: false, transfer: t})
	}
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].txIndex != events[j].txIndex {
			return events[i].txIndex < events[j].txIndex
		}
		if events[i].isReveal != events[j].isReveal {
			return events[i].isReveal // reveals before transfers at equal tx_index
		}
		return events[i].envIndex < events[j].envIndex
	})

	var (
		ops     []Operation
		pending = e.pending
		queue   []ordinals.Transfer // buffered InscriptionTransferred, undrained
	)

	drain := func() error {
		for _, t := range queue {
			pt, ok := pending[t.OrdinalNumber]
			if !ok {
				continue // movement of a sat with no outstanding brc-20 transfer
			}
			delete(pending, t.OrdinalNumber)

			op, err := e.settleTransferSend(blockHeight, t, pt)
			if err != nil {
				return err
			}
			ops = append(ops, op)
		}
		queue = queue[:0]
		return nil
	}

	for _, ev := range events {
		if !ev.isReveal {
			queue = append(queue, ev.transfer)
			continue
		}

		if err := drain(); err != nil {
			return nil, err
		}

		parsed, err := ParseOperation(ev.reveal.ContentType, ev.reveal.Content)
		if err != nil {
			continue // not a brc-20 envelope, or malformed: silently skip (spec.md §7)
		}

		op, ok, err := e.verify(blockHeight, ev.reveal, parsed, pending)
		if err != nil {
			return nil, err
		}
		if !ok {
			log.Debugf("brc20: %s op on %q rejected by verification, ignoring", opKindName(parsed.Kind), ev.reveal.InscriptionID)
			e.cache.Ignore(ev.reveal.InscriptionID)
			continue
		}
		ops = append(ops, op)
	}

	if err := drain(); err != nil {
		return nil, err
	}

	sort.SliceStable(ops, func(i, j int) bool { return ops[i].TxIndex < ops[j].TxIndex })
	return ops, nil
}

// verify implements spec.md §4.8 step 2's three operation checks, mutating
// cache state and recording a pending transfer for verified Transfer ops.
func (e *Engine) verify(blockHeight uint64, rev RevealEvent, parsed ParsedOperation, pending map[uint64]PendingTransfer) (Operation, bool, error) {
	switch parsed.Kind {
	case OpDeploy:
		return e.verifyDeploy(blockHeight, rev, parsed)
	case OpMint:
		return e.verifyMint(blockHeight, rev, parsed)
	case OpTransfer:
		return e.verifyTransfer(blockHeight, rev, parsed, pending)
	default:
		return Operation{}, false, errors.Errorf("brc20: unexpected parsed op kind %d", parsed.Kind)
	}
}

func (e *Engine) verifyDeploy(blockHeight uint64, rev RevealEvent, parsed ParsedOperation) (Operation, bool, error) {
	if _, exists, err := e.cache.GetToken(parsed.Ticker); err != nil {
		return Operation{}, false, err
	} else if exists {
		return Operation{}, false, nil
	}
	if parsed.SelfMint && blockHeight < e.activation.SelfMintHeight {
		return Operation{}, false, nil
	}

	e.cache.PutToken(Token{
		Ticker:        parsed.Ticker,
		DisplayTicker: parsed.Ticker,
		InscriptionID: rev.InscriptionID,
		Max:           parsed.Max,
		Limit:         parsed.Limit,
		Decimals:      parsed.Decimals,
		SelfMint:      parsed.SelfMint,
		BlockHeight:   blockHeight,
		TxIndex:       rev.TxIndex,
	})

	return Operation{
		Kind:          OpDeploy,
		InscriptionID: rev.InscriptionID,
		OrdinalNumber: rev.OrdinalNumber,
		Ticker:        parsed.Ticker,
		BlockHeight:   blockHeight,
		TxIndex:       rev.TxIndex,
	}, true, nil
}

func (e *Engine) verifyMint(blockHeight uint64, rev RevealEvent, parsed ParsedOperation) (Operation, bool, error) {
	tok, exists, err := e.cache.GetToken(parsed.Ticker)
	if err != nil {
		return Operation{}, false, err
	}
	if !exists || tok.MintedSupply >= tok.Max {
		return Operation{}, false, nil
	}

	amt := RescaleAmount(parsed.Amount, maxDecimals, tok.Decimals)
	if tok.Limit > 0 && amt > tok.Limit {
		amt = tok.Limit
	}
	if remaining := tok.Max - tok.MintedSupply; amt > remaining {
		amt = remaining
	}
	if amt == 0 {
		return Operation{}, false, nil
	}

	address := rev.Address
	bal, err := e.cache.GetBalance(parsed.Ticker, address)
	if err != nil {
		return Operation{}, false, err
	}
	bal.AvailBalance += amt
	e.cache.PutBalance(bal)

	tok.MintedSupply += amt
	e.cache.PutToken(tok)

	return Operation{
		Kind:          OpMint,
		InscriptionID: rev.InscriptionID,
		OrdinalNumber: rev.OrdinalNumber,
		Ticker:        parsed.Ticker,
		Amount:        amt,
		Address:       address,
		BlockHeight:   blockHeight,
		TxIndex:       rev.TxIndex,
	}, true, nil
}

func (e *Engine) verifyTransfer(blockHeight uint64, rev RevealEvent, parsed ParsedOperation, pending map[uint64]PendingTransfer) (Operation, bool, error) {
	tok, exists, err := e.cache.GetToken(parsed.Ticker)
	if err != nil {
		return Operation{}, false, err
	}
	if !exists {
		return Operation{}, false, nil
	}

	address := rev.Address
	amt := RescaleAmount(parsed.Amount, maxDecimals, tok.Decimals)
	bal, err := e.cache.GetBalance(parsed.Ticker, address)
	if err != nil {
		return Operation{}, false, err
	}
	if bal.AvailBalance < amt {
		return Operation{}, false, nil
	}

	bal.AvailBalance -= amt
	bal.TransBalance += amt
	e.cache.PutBalance(bal)

	pending[rev.OrdinalNumber] = PendingTransfer{
		InscriptionID: rev.InscriptionID,
		OrdinalNumber: rev.OrdinalNumber,
		Ticker:        parsed.Ticker,
		Amount:        amt,
		Sender:        address,
		TxIndex:       rev.TxIndex,
	}

	return Operation{
		Kind:          OpTransfer,
		InscriptionID: rev.InscriptionID,
		OrdinalNumber: rev.OrdinalNumber,
		Ticker:        parsed.Ticker,
		Amount:        amt,
		Address:       address,
		BlockHeight:   blockHeight,
		TxIndex:       rev.TxIndex,
	}, true, nil
}

// settleTransferSend resolves a drained ordinal movement against its
// pending brc-20 transfer, per spec.md §4.8 step 3: a move to a real
// address completes the send; a move back to the sender (spent to fees)
// returns the amount to avail_balance; a burnt destination burns it.
func (e *Engine) settleTransferSend(blockHeight uint64, t ordinals.Transfer, pt PendingTransfer) (Operation, error) {
	bal, err := e.cache.GetBalance(pt.Ticker, pt.Sender)
	if err != nil {
		return Operation{}, err
	}
	if bal.TransBalance < pt.Amount {
		bal.TransBalance = 0
	} else {
		bal.TransBalance -= pt.Amount
	}

	// receiver stays empty for a burn (distinguishing it from the
	// fee-spend case below, where the credit returns to the sender).
	var receiver string
	switch t.Destination.Kind {
	case ordinals.DestBurnt:
		tok, _, err := e.cache.GetToken(pt.Ticker)
		if err != nil {
			return Operation{}, err
		}
		tok.BurnedSupply += pt.Amount
		e.cache.PutToken(tok)
		e.cache.PutBalance(bal)
	case ordinals.DestSpentInFees:
		receiver = pt.Sender
		bal.AvailBalance += pt.Amount
		e.cache.PutBalance(bal)
	default:
		receiver = t.Destination.Address
		e.cache.PutBalance(bal)
		recvBal, err := e.cache.GetBalance(pt.Ticker, receiver)
		if err != nil {
			return Operation{}, err
		}
		recvBal.AvailBalance += pt.Amount
		e.cache.PutBalance(recvBal)
	}

	return Operation{
		Kind:          OpTransferSend,
		InscriptionID: pt.InscriptionID,
		OrdinalNumber: pt.OrdinalNumber,
		Ticker:        pt.Ticker,
		Amount:        pt.Amount,
		Address:       pt.Sender,
		Receiver:      receiver,
		BlockHeight:   blockHeight,
		TxIndex:       t.TxIndex,
	}, nil
}
