// Copyright (c) 2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package brc20

import (
	"testing"

	"github.com/hirosystems/ordhookd/internal/ordinals"
)

// memLoader is an empty-by-default TokenLoader, since engine_test exercises
// the cache against fresh tickers with no prior durable state.
type memLoader struct{}

func (memLoader) GetToken(string) (Token, bool, error)           { return Token{}, false, nil }
func (memLoader) GetBalance(string, string) (Balance, bool, error) { return Balance{}, false, nil }

func deployContent(ticker, max, lim, dec string) []byte {
	s := `{"p":"brc-20","op":"deploy","tick":"` + ticker + `","max":"` + max + `"`
	if lim != "" {
		s += `,"lim":"` + lim + `"`
	}
	if dec != "" {
		s += `,"dec":"` + dec + `"`
	}
	s += `}`
	return []byte(s)
}

func mintContent(ticker, amt string) []byte {
	return []byte(`{"p":"brc-20","op":"mint","tick":"` + ticker + `","amt":"` + amt + `"}`)
}

func transferContent(ticker, amt string) []byte {
	return []byte(`{"p":"brc-20","op":"transfer","tick":"` + ticker + `","amt":"` + amt + `"}`)
}

// TestEngineDeployThenMint covers scenario S1: a deploy followed by a mint
// within the same block credits the minter's available balance and the
// token's minted supply.
func TestEngineDeployThenMint(t *testing.T) {
	cache := NewCache(memLoader{})
	eng := NewEngine(cache, Activation{Height: 0})

	reveals := []RevealEvent{
		{TxIndex: 0, InscriptionID: "a:0", OrdinalNumber: 1, ContentType: "text/plain", Content: deployContent("test", "1000", "100", "0")},
		{TxIndex: 1, InscriptionID: "b:0", OrdinalNumber: 2, ContentType: "text/plain", Content: mintContent("test", "100"), Address: "bc1qminter"},
	}

	ops, err := eng.ProcessBlock(1, reveals, nil)
	if err != nil {
		t.Fatalf("process block: %v", err)
	}
	if len(ops) != 2 {
		t.Fatalf("expected 2 ops, got %d: %+v", len(ops), ops)
	}
	if ops[0].Kind != OpDeploy || ops[1].Kind != OpMint {
		t.Fatalf("expected deploy then mint, got %v then %v", ops[0].Kind, ops[1].Kind)
	}

	tok, ok, err := cache.GetToken("test")
	if err != nil || !ok {
		t.Fatalf("expected token test to exist, err=%v", err)
	}
	if tok.MintedSupply != 100 {
		t.Fatalf("expected minted supply 100, got %d", tok.MintedSupply)
	}

	bal, err := cache.GetBalance("test", "bc1qminter")
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if bal.AvailBalance != 100 {
		t.Fatalf("expected avail balance 100, got %d", bal.AvailBalance)
	}
}

// TestEngineMintClampsToRemainingSupply verifies a mint requesting more
// than the remaining supply is clamped rather than rejected outright.
func TestEngineMintClampsToRemainingSupply(t *testing.T) {
	cache := NewCache(memLoader{})
	eng := NewEngine(cache, Activation{Height: 0})

	reveals := []RevealEvent{
		{TxIndex: 0, InscriptionID: "a:0", ContentType: "text/plain", Content: deployContent("clmp", "100", "1000", "0")},
		{TxIndex: 1, InscriptionID: "b:0", ContentType: "text/plain", Content: mintContent("clmp", "500"), Address: "bc1qx"},
	}

	ops, err := eng.ProcessBlock(1, reveals, nil)
	if err != nil {
		t.Fatalf("process block: %v", err)
	}
	if ops[1].Amount != 100 {
		t.Fatalf("expected clamped mint of 100, got %d", ops[1].Amount)
	}
}

// TestEngineTransferThenSend covers the transfer/transfer-send half of the
// state machine and spec.md §8 property 6: avail + trans + burned equals
// minted supply at every block boundary.
func TestEngineTransferThenSend(t *testing.T) {
	cache := NewCache(memLoader{})
	eng := NewEngine(cache, Activation{Height: 0})

	reveals := []RevealEvent{
		{TxIndex: 0, InscriptionID: "a:0", ContentType: "text/plain", Content: deployContent("move", "1000", "1000", "0")},
		{TxIndex: 1, InscriptionID: "b:0", ContentType: "text/plain", Content: mintContent("move", "500"), Address: "bc1qsender"},
		{TxIndex: 2, InscriptionID: "c:0", OrdinalNumber: 42, ContentType: "text/plain", Content: transferContent("move", "300"), Address: "bc1qsender"},
	}

	if _, err := eng.ProcessBlock(1, reveals, nil); err != nil {
		t.Fatalf("process reveal block: %v", err)
	}

	senderBal, err := cache.GetBalance("move", "bc1qsender")
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if senderBal.AvailBalance != 200 || senderBal.TransBalance != 300 {
		t.Fatalf("expected avail=200 trans=300 after transfer op, got avail=%d trans=%d", senderBal.AvailBalance, senderBal.TransBalance)
	}

	movement := ordinals.Transfer{
		InscriptionID: "c:0",
		OrdinalNumber: 42,
		TxIndex:       0,
		Destination:   ordinals.Destination{Kind: ordinals.DestAddress, Address: "bc1qreceiver"},
	}

	ops, err := eng.ProcessBlock(2, nil, []ordinals.Transfer{movement})
	if err != nil {
		t.Fatalf("process transfer-send block: %v", err)
	}
	if len(ops) != 1 || ops[0].Kind != OpTransferSend {
		t.Fatalf("expected 1 transfer_send op, got %+v", ops)
	}

	senderBal, err = cache.GetBalance("move", "bc1qsender")
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if senderBal.TransBalance != 0 {
		t.Fatalf("expected sender trans balance drained to 0, got %d", senderBal.TransBalance)
	}

	receiverBal, err := cache.GetBalance("move", "bc1qreceiver")
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if receiverBal.AvailBalance != 300 {
		t.Fatalf("expected receiver avail balance 300, got %d", receiverBal.AvailBalance)
	}

	tok, _, err := cache.GetToken("move")
	if err != nil {
		t.Fatalf("get token: %v", err)
	}
	total := senderBal.AvailBalance + senderBal.TransBalance + receiverBal.AvailBalance + receiverBal.TransBalance + tok.BurnedSupply
	if total != tok.MintedSupply {
		t.Fatalf("supply invariant broken: avail+trans+burned=%d minted=%d", total, tok.MintedSupply)
	}
}

// TestEngineBurntTransferSend covers the burn branch of settleTransferSend:
// a transfer whose sat is later spent to an OP_RETURN destination burns the
// amount instead of crediting a receiver.
func TestEngineBurntTransferSend(t *testing.T) {
	cache := NewCache(memLoader{})
	eng := NewEngine(cache, Activation{Height: 0})

	reveals := []RevealEvent{
		{TxIndex: 0, InscriptionID: "a:0", ContentType: "text/plain", Content: deployContent("burn", "1000", "1000", "0")},
		{TxIndex: 1, InscriptionID: "b:0", ContentType: "text/plain", Content: mintContent("burn", "500"), Address: "bc1qs"},
		{TxIndex: 2, InscriptionID: "c:0", OrdinalNumber: 7, ContentType: "text/plain", Content: transferContent("burn", "500"), Address: "bc1qs"},
	}
	if _, err := eng.ProcessBlock(1, reveals, nil); err != nil {
		t.Fatalf("process reveal block: %v", err)
	}

	movement := ordinals.Transfer{
		InscriptionID: "c:0",
		OrdinalNumber: 7,
		TxIndex:       0,
		Destination:   ordinals.Destination{Kind: ordinals.DestBurnt},
	}
	if _, err := eng.ProcessBlock(2, nil, []ordinals.Transfer{movement}); err != nil {
		t.Fatalf("process burn block: %v", err)
	}

	tok, _, err := cache.GetToken("burn")
	if err != nil {
		t.Fatalf("get token: %v", err)
	}
	if tok.BurnedSupply != 500 {
		t.Fatalf("expected burned supply 500, got %d", tok.BurnedSupply)
	}
}
