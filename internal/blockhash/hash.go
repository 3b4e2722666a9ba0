// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package blockhash defines the fixed-size hash type shared by block
// identifiers, transaction ids, and the compact block codec.
package blockhash

import (
	"encoding/hex"
	"fmt"
)

// Size is the number of bytes in a Hash.
const Size = 32

// Hash is a reversed SHA-256d digest, matching Bitcoin's convention of
// displaying hashes as big-endian hex despite storing them little-endian
// internally.
type Hash [Size]byte

// String returns the big-endian hex encoding of the hash, Bitcoin's
// conventional display order.
func (h Hash) String() string {
	var reversed Hash
	for i := 0; i < Size; i++ {
		reversed[i] = h[Size-1-i]
	}
	return hex.EncodeToString(reversed[:])
}

// IsZero reports whether the hash is the all-zero sentinel used to mark
// unbound satpoints and coinbase inputs.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// Less provides the lexicographic tie-break ordering used by the fork
// scratch pad's heaviest-path selection.
func (h Hash) Less(other Hash) bool {
	for i := 0; i < Size; i++ {
		if h[i] != other[i] {
			return h[i] < other[i]
		}
	}
	return false
}

// NewFromString parses a big-endian hex string into a Hash.
func NewFromString(s string) (Hash, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Hash{}, fmt.Errorf("malformed hash hex %q: %w", s, err)
	}
	if len(b) != Size {
		return Hash{}, fmt.Errorf("malformed hash %q: expected %d bytes, got %d", s, Size, len(b))
	}
	var h Hash
	for i := 0; i < Size; i++ {
		h[i] = b[Size-1-i]
	}
	return h, nil
}

// NewFromSlice copies a little-endian byte slice into a Hash.
func NewFromSlice(b []byte) (Hash, error) {
	if len(b) != Size {
		return Hash{}, fmt.Errorf("invalid hash length %d, expected %d", len(b), Size)
	}
	var h Hash
	copy(h[:], b)
	return h, nil
}

// Prefix8 is the 8-byte truncation of a txid used as an L2 cache key and as
// the compact block codec's header-index key. It is not a secure
// fingerprint — it is a cache key only, resolved to a full txid through the
// block store when correctness (not speed) matters.
type Prefix8 [8]byte

// Truncate returns the first 8 bytes of the hash's little-endian
// representation.
func (h Hash) Truncate() Prefix8 {
	var p Prefix8
	copy(p[:], h[:8])
	return p
}
