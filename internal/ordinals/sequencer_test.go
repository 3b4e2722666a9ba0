package ordinals

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg"

	"github.com/hirosystems/ordhookd/internal/blockhash"
	"github.com/hirosystems/ordhookd/internal/compactblock"
	"github.com/hirosystems/ordhookd/internal/satoshi"
)

// fakeChain backs both satoshi.BlockStore and satoshi.HeightIndex with an
// in-memory map, mirroring internal/satoshi's own test doubles.
type fakeChain struct {
	blocks     map[uint64]*compactblock.Block
	txToHeight map[blockhash.Hash]uint64
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		blocks:     make(map[uint64]*compactblock.Block),
		txToHeight: make(map[blockhash.Hash]uint64),
	}
}

func (c *fakeChain) add(height uint64, block *compactblock.Block) {
	c.blocks[height] = block
	for _, tx := range block.Txs {
		c.txToHeight[tx.TxID] = height
	}
}

func (c *fakeChain) Get(height uint64) ([]byte, error) {
	b, ok := c.blocks[height]
	if !ok {
		return nil, satoshi.ErrMissingPredecessor
	}
	return compactblock.Encode(b), nil
}

func (c *fakeChain) HeightOf(txid blockhash.Hash) (uint64, bool, error) {
	h, ok := c.txToHeight[txid]
	return h, ok, nil
}

type fakeReinscriptionIndex struct {
	blessed map[uint64]bool
}

func (f *fakeReinscriptionIndex) HasBlessedInscription(ordinalNumber uint64) (bool, error) {
	return f.blessed[ordinalNumber], nil
}

func hashByte(b byte) blockhash.Hash {
	var h blockhash.Hash
	h[0] = b
	return h
}

func coinbaseTx(id byte, value uint64) compactblock.Tx {
	return compactblock.Tx{
		TxID:    hashByte(id),
		Inputs:  []compactblock.Input{{PrevVout: 0xffffffff}},
		Outputs: []compactblock.Output{{Value: value}},
	}
}

// TestSequenceBlessedReveal covers scenario S4: a reveal on sat ordinal 0
// gets Mythic, Legendary, Coin, and Palindrome charms, with a positive
// jubilee number and non-negative classic number.
func TestSequenceBlessedReveal(t *testing.T) {
	chain := newFakeChain()
	chain.add(0, &compactblock.Block{Height: 0, Txs: []compactblock.Tx{coinbaseTx(0x01, 5_000_000_000)}})

	tracer := satoshi.NewTracer(chain, chain, 16, 1)
	cursor := &SequenceCursor{store: &memCursorStore{}}
	reinscribed := &fakeReinscriptionIndex{blessed: map[uint64]bool{}}
	seq := NewSequencer(tracer, cursor, reinscribed, &chaincfg.MainNetParams, 824_544)

	revealTx := StdTx{
		TxID:    hashByte(0x02),
		Inputs:  []StdInput{{PrevTxID: hashByte(0x01), PrevVout: 0, Value: 5_000_000_000}},
		Outputs: []StdOutput{{Value: 5_000_000_000, PkScript: p2pkhScript(t)}},
	}
	reveal := Reveal{
		TxIndex:       1,
		InputIndex:    0,
		Tx:            revealTx,
		ContentType:   "text/plain",
		ContentBytes:  []byte("hello"),
		EnvelopeValid: true,
	}

	out, err := seq.SequenceBlock(1, []Reveal{reveal})
	if err != nil {
		t.Fatalf("sequence: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected 1 inscription, got %d", len(out))
	}
	ins := out[0]
	if ins.OrdinalNumber != 0 {
		t.Fatalf("expected ordinal 0, got %d", ins.OrdinalNumber)
	}
	if !ins.Charms.Has(CharmMythic) || !ins.Charms.Has(CharmPalindrome) || !ins.Charms.Has(CharmCoin) {
		t.Fatalf("expected Mythic+Palindrome+Coin charms, got %b", ins.Charms)
	}
	if ins.Charms.Has(CharmCursed) {
		t.Fatal("expected a blessed inscription")
	}
	if ins.ClassicNumber != 0 || ins.JubileeNumber != 0 {
		t.Fatalf("expected first inscription to take number 0, got classic=%d jubilee=%d", ins.ClassicNumber, ins.JubileeNumber)
	}
}

// TestSequenceReinscriptionIsCursed covers spec.md §8 property 5: a second
// inscription on an already-blessed sat is cursed and carries the
// Reinscription charm, regardless of jubilee activation.
func TestSequenceReinscriptionIsCursed(t *testing.T) {
	chain := newFakeChain()
	chain.add(0, &compactblock.Block{Height: 0, Txs: []compactblock.Tx{coinbaseTx(0x01, 5_000_000_000)}})

	tracer := satoshi.NewTracer(chain, chain, 16, 1)
	cursor := &SequenceCursor{store: &memCursorStore{}}
	reinscribed := &fakeReinscriptionIndex{blessed: map[uint64]bool{0: true}}
	seq := NewSequencer(tracer, cursor, reinscribed, &chaincfg.MainNetParams, 824_544)

	revealTx := StdTx{
		TxID:    hashByte(0x03),
		Inputs:  []StdInput{{PrevTxID: hashByte(0x01), PrevVout: 0, Value: 5_000_000_000}},
		Outputs: []StdOutput{{Value: 5_000_000_000, PkScript: p2pkhScript(t)}},
	}
	reveal := Reveal{TxIndex: 1, InputIndex: 0, Tx: revealTx, EnvelopeValid: true}

	out, err := seq.SequenceBlock(1, []Reveal{reveal})
	if err != nil {
		t.Fatalf("sequence: %v", err)
	}
	ins := out[0]
	if !ins.Charms.Has(CharmReinscription) {
		t.Fatal("expected Reinscription charm")
	}
	if ins.CurseType != CurseReinscription {
		t.Fatalf("expected CurseReinscription, got %v", ins.CurseType)
	}
	if ins.ClassicNumber >= 0 {
		t.Fatalf("expected negative classic number for cursed inscription, got %d", ins.ClassicNumber)
	}
}

// TestSequenceVindicatedAboveJubilee covers scenario S2: an envelope-rule
// violation above the jubilee height is vindicated (positive number,
// Vindicated charm), not cursed.
func TestSequenceVindicatedAboveJubilee(t *testing.T) {
	chain := newFakeChain()
	chain.add(0, &compactblock.Block{Height: 0, Txs: []compactblock.Tx{coinbaseTx(0x01, 5_000_000_000)}})

	tracer := satoshi.NewTracer(chain, chain, 16, 1)
	cursor := &SequenceCursor{store: &memCursorStore{}}
	reinscribed := &fakeReinscriptionIndex{blessed: map[uint64]bool{}}
	jubileeHeight := uint64(110)
	seq := NewSequencer(tracer, cursor, reinscribed, &chaincfg.MainNetParams, jubileeHeight)

	revealTx := StdTx{
		TxID:    hashByte(0x04),
		Inputs:  []StdInput{{PrevTxID: hashByte(0x01), PrevVout: 0, Value: 5_000_000_000}},
		Outputs: []StdOutput{{Value: 5_000_000_000, PkScript: p2pkhScript(t)}},
	}
	reveal := Reveal{
		TxIndex:       1,
		InputIndex:    0,
		Tx:            revealTx,
		EnvelopeValid: false,
		Curse:         CurseDuplicateField,
	}

	out, err := seq.SequenceBlock(jubileeHeight, []Reveal{reveal})
	if err != nil {
		t.Fatalf("sequence: %v", err)
	}
	ins := out[0]
	if !ins.Charms.Has(CharmVindicated) {
		t.Fatal("expected Vindicated charm above jubilee")
	}
	if ins.Charms.Has(CharmCursed) {
		t.Fatal("did not expect Cursed charm above jubilee")
	}
	if ins.ClassicNumber < 0 {
		t.Fatalf("expected non-negative classic number once vindicated, got %d", ins.ClassicNumber)
	}
}

// TestSequenceUnboundSpendsToFees covers scenario S3: a reveal whose
// pointer lands past every output defers to the unbound queue and ends up
// with the sentinel satpoint and Unbound charm.
func TestSequenceUnboundSpendsToFees(t *testing.T) {
	chain := newFakeChain()
	chain.add(0, &compactblock.Block{Height: 0, Txs: []compactblock.Tx{coinbaseTx(0x01, 8250)}})

	tracer := satoshi.NewTracer(chain, chain, 16, 1)
	cursor := &SequenceCursor{store: &memCursorStore{}}
	reinscribed := &fakeReinscriptionIndex{blessed: map[uint64]bool{}}
	seq := NewSequencer(tracer, cursor, reinscribed, &chaincfg.MainNetParams, 824_544)

	pointer := uint64(8000)
	revealTx := StdTx{
		TxID: hashByte(0x05),
		Inputs: []StdInput{
			{PrevTxID: hashByte(0x01), PrevVout: 0, Value: 8000},
			{PrevTxID: hashByte(0x01), PrevVout: 0, Value: 250},
		},
		Outputs: []StdOutput{{Value: 8000, PkScript: p2pkhScript(t)}},
	}
	reveal := Reveal{TxIndex: 1, InputIndex: 0, Tx: revealTx, EnvelopeValid: true, Pointer: &pointer}

	out, err := seq.SequenceBlock(1, []Reveal{reveal})
	if err != nil {
		t.Fatalf("sequence: %v", err)
	}
	ins := out[0]
	if !ins.SatpointPostInscription.IsUnbound() {
		t.Fatalf("expected unbound satpoint, got %+v", ins.SatpointPostInscription)
	}
	if !ins.Charms.Has(CharmUnbound) {
		t.Fatal("expected Unbound charm")
	}
	if ins.UnboundSequence == nil {
		t.Fatal("expected unbound_sequence to be assigned")
	}
}

// TestSequenceBurnedOutput covers scenario S5: a reveal whose only output
// is an OP_RETURN script is Burned with no inscriber address.
func TestSequenceBurnedOutput(t *testing.T) {
	chain := newFakeChain()
	chain.add(0, &compactblock.Block{Height: 0, Txs: []compactblock.Tx{coinbaseTx(0x01, 1000)}})

	tracer := satoshi.NewTracer(chain, chain, 16, 1)
	cursor := &SequenceCursor{store: &memCursorStore{}}
	reinscribed := &fakeReinscriptionIndex{blessed: map[uint64]bool{}}
	seq := NewSequencer(tracer, cursor, reinscribed, &chaincfg.MainNetParams, 824_544)

	opReturn := append([]byte{0x6a}, []byte("metaprotocol data")...)
	revealTx := StdTx{
		TxID:    hashByte(0x06),
		Inputs:  []StdInput{{PrevTxID: hashByte(0x01), PrevVout: 0, Value: 1000}},
		// A nonzero output value keeps compute_next_satpoint from
		// routing this straight to fees, isolating the destination-
		// decode path (OP_RETURN -> Burnt) under test here from the
		// fee-spend path covered by TestSequenceUnboundSpendsToFees.
		Outputs: []StdOutput{{Value: 1000, PkScript: opReturn}},
	}
	reveal := Reveal{TxIndex: 1, InputIndex: 0, Tx: revealTx, EnvelopeValid: true}

	out, err := seq.SequenceBlock(1, []Reveal{reveal})
	if err != nil {
		t.Fatalf("sequence: %v", err)
	}
	ins := out[0]
	if !ins.Charms.Has(CharmBurned) {
		t.Fatal("expected Burned charm for OP_RETURN destination")
	}
	if ins.InscriberAddress != "" {
		t.Fatalf("expected no inscriber address, got %q", ins.InscriberAddress)
	}
}

// p2pkhScript returns a well-formed P2PKH locking script (OP_DUP
// OP_HASH160 <20-byte hash> OP_EQUALVERIFY OP_CHECKSIG) so DestinationFor
// resolves to a real address rather than Burnt.
func p2pkhScript(t *testing.T) []byte {
	t.Helper()
	script := make([]byte, 0, 25)
	script = append(script, 0x76, 0xa9, 0x14)
	script = append(script, make([]byte, 20)...)
	script = append(script, 0x88, 0xac)
	return script
}

type memCursorStore struct {
	classic int64
	jubilee int64
	unbound uint64
}

func (m *memCursorStore) LoadCursor() (int64, int64, uint64, error) {
	return m.classic, m.jubilee, m.unbound, nil
}

func (m *memCursorStore) SaveCursor(classic, jubilee int64, unbound uint64) error {
	m.classic, m.jubilee, m.unbound = classic, jubilee, unbound
	return nil
}
