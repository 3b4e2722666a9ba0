// Copyright (c) 2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package satoshi

import "github.com/hirosystems/ordhookd/internal/dagconfig"

// satFromCoinbaseOffset maps a coinbase output offset (the position within
// the concatenation of a coinbase transaction's outputs, as minted at
// mintHeight) to the concrete ordinal_number, per the subsidy schedule walk
// in spec.md §4.4 step 4.
func satFromCoinbaseOffset(mintHeight uint64, offset uint64) uint64 {
	epoch := mintHeight / dagconfig.SubsidyHalvingInterval
	firstSatOfBlock := dagconfig.FirstSatOfEpoch(epoch)
	blocksIntoEpoch := mintHeight % dagconfig.SubsidyHalvingInterval
	subsidy := dagconfig.SubsidyAt(mintHeight)
	firstSatOfBlock += blocksIntoEpoch * subsidy
	return firstSatOfBlock + offset
}
