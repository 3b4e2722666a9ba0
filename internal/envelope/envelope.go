// Copyright (c) 2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package envelope extracts inscription envelopes from a reveal
// transaction's taproot script-path witness, the data-carrying convention
// spec.md §4.5 assumes but leaves to this package: an
// `OP_FALSE OP_IF "ord" <tag> <data> ... OP_ENDIF` sequence pushed inside
// the tapscript leaf, one or more per input, each becoming one
// ordinals.Reveal.
package envelope

import (
	"bytes"
	"encoding/binary"

	"github.com/btcsuite/btcd/txscript"

	"github.com/hirosystems/ordhookd/internal/ordinals"
)

// protocolID is the envelope's first data push, identifying it as an
// inscription rather than some other script-path spend.
var protocolID = []byte("ord")

// Tag values for the fields this indexer materializes (spec.md §3); odd
// tags are ignored-if-unrecognized, even tags not in this list make the
// envelope CurseUnrecognizedEvenField.
const (
	tagContentType  = 1
	tagPointer      = 2
	tagParent       = 3
	tagMetadata     = 5
	tagMetaprotocol = 7
	tagContentEnc   = 9
	tagDelegate     = 11
	tagContentBody  = 0 // the empty final push before OP_ENDIF's data, not a tag
)

// Extract scans every input of tx for taproot script-path envelopes and
// returns one ordinals.Reveal per envelope found, in (input, envelope)
// order.
func Extract(tx ordinals.StdTx) []ordinals.Reveal {
	var reveals []ordinals.Reveal
	for inputIdx, in := range tx.Inputs {
		if len(in.Witness) < 2 {
			continue // no script-path spend: key-path spend or too short to carry a script
		}
		script := in.Witness[len(in.Witness)-2] // second-to-last item is the tapscript leaf
		envelopes := extractFromScript(script)
		for envIdx, env := range envelopes {
			reveals = append(reveals, toReveal(tx, uint32(inputIdx), uint32(envIdx), env))
		}
	}
	return reveals
}

type rawEnvelope struct {
	fields   map[int][]byte
	body     []byte
	curse    ordinals.CurseType
	valid    bool
	duplTags map[int]bool
}

// extractFromScript walks script for every OP_FALSE OP_IF "ord" ... OP_ENDIF
// run, per the reference implementation's tapscript envelope grammar.
func extractFromScript(script []byte) []rawEnvelope {
	tokenizer := txscript.MakeScriptTokenizer(0, script)

	var out []rawEnvelope
	for tokenizer.Next() {
		if tokenizer.Opcode() != txscript.OP_FALSE {
			continue
		}
		if !tokenizer.Next() || tokenizer.Opcode() != txscript.OP_IF {
			continue
		}
		if !tokenizer.Next() || !bytes.Equal(tokenizer.Data(), protocolID) {
			continue
		}
		env := parseEnvelopeBody(&tokenizer)
		out = append(out, env)
	}
	return out
}

// parseEnvelopeBody consumes tag/data push pairs until OP_ENDIF (fields)
// then OP_0 followed by arbitrary pushes (the content body), detecting the
// duplicate-field, incomplete-field, and unrecognized-even-tag curses the
// reference implementation's envelope validator checks.
func parseEnvelopeBody(tok *txscript.ScriptTokenizer) rawEnvelope {
	env := rawEnvelope{fields: make(map[int][]byte), valid: true, duplTags: make(map[int]bool)}

	for tok.Next() {
		op := tok.Opcode()
		if op == txscript.OP_ENDIF {
			return env
		}
		if op == 0x00 { // OP_0 / OP_FALSE marks the start of the body pushes
			var body bytes.Buffer
			for tok.Next() && tok.Opcode() != txscript.OP_ENDIF {
				body.Write(tok.Data())
			}
			env.body = body.Bytes()
			return env
		}

		tagBytes := tok.Data()
		if !tok.Next() {
			env.valid = false
			env.curse = ordinals.CurseIncompleteField
			return env
		}
		data := tok.Data()

		tag := decodeTag(tagBytes)
		if _, exists := env.fields[tag]; exists {
			env.duplTags[tag] = true
			env.valid = false
			env.curse = ordinals.CurseDuplicateField
			continue
		}
		if tag%2 == 0 && !isRecognizedEvenTag(tag) {
			env.valid = false
			env.curse = ordinals.CurseUnrecognizedEvenField
		}
		env.fields[tag] = data
	}

	// Ran out of script before OP_ENDIF.
	env.valid = false
	env.curse = ordinals.CurseIncompleteField
	return env
}

func isRecognizedEvenTag(tag int) bool {
	switch tag {
	case tagContentType, tagPointer, tagParent, tagMetadata, tagMetaprotocol, tagContentEnc, tagDelegate:
		return true
	default:
		return false
	}
}

func decodeTag(b []byte) int {
	if len(b) == 0 {
		return 0
	}
	var buf [8]byte
	copy(buf[:], b)
	return int(binary.LittleEndian.Uint64(buf[:]))
}

func toReveal(tx ordinals.StdTx, inputIndex, envIndex uint32, env rawEnvelope) ordinals.Reveal {
	var pointer *uint64
	if raw, ok := env.fields[tagPointer]; ok {
		v := decodeTag(raw)
		p := uint64(v)
		pointer = &p
	}

	var parents []string
	if raw, ok := env.fields[tagParent]; ok {
		parents = []string{string(raw)}
	}

	return ordinals.Reveal{
		TxIndex:       tx.TxIndex,
		EnvelopeIdx:   envIndex,
		InputIndex:    inputIndex,
		Tx:            tx,
		ContentType:   string(env.fields[tagContentType]),
		ContentBytes:  env.body,
		Parents:       parents,
		Delegate:      string(env.fields[tagDelegate]),
		Metaprotocol:  string(env.fields[tagMetaprotocol]),
		Metadata:      env.fields[tagMetadata],
		Pointer:       pointer,
		EnvelopeValid: env.valid,
		Curse:         env.curse,
	}
}
