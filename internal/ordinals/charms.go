// Copyright (c) 2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package ordinals

import (
	"strconv"

	"github.com/hirosystems/ordhookd/internal/dagconfig"
)

// Charms is a bitset of aesthetic/status flags assigned to an inscription,
// per spec.md §3's glossary entry.
type Charms uint32

// Charm bits, order matches spec.md §3's listing.
const (
	CharmCoin Charms = 1 << iota
	CharmMythic
	CharmPalindrome
	CharmEpic
	CharmCursed
	CharmVindicated
	CharmBurned
	CharmUnbound
	CharmLost
	CharmReinscription
	CharmRare
	CharmUncommon
	CharmLegendary
)

// Has reports whether charm is set.
func (c Charms) Has(charm Charms) bool {
	return c&charm != 0
}

// Set returns c with charm set.
func (c Charms) Set(charm Charms) Charms {
	return c | charm
}

// satCharms buckets a sat by its position within its halving epoch and
// block, mirroring the reference rarity classification: Mythic (sat 0),
// Legendary (first sat of epoch 0), Epic (first sat of any halving
// epoch), Rare (first sat of a 2016-block difficulty-adjustment period),
// Uncommon (first sat of a block), Common otherwise. Coin is set whenever
// the sat is the first of the block it was minted in (spec.md §4.5 step
// 5).
func satCharms(sat uint64) Charms {
	var c Charms

	if sat == 0 {
		c = c.Set(CharmMythic).Set(CharmLegendary)
	}

	epoch := dagconfig.EpochOfSat(sat)
	firstOfEpoch := dagconfig.FirstSatOfEpoch(epoch)
	if sat == firstOfEpoch {
		c = c.Set(CharmEpic)
	}

	subsidy := dagconfig.SubsidyAt(blockOfEpochOffset(epoch))
	if subsidy > 0 {
		offsetInEpoch := sat - firstOfEpoch
		if offsetInEpoch%subsidy == 0 {
			c = c.Set(CharmUncommon).Set(CharmCoin)
			blockInEpoch := offsetInEpoch / subsidy
			if blockInEpoch%2016 == 0 {
				c = c.Set(CharmRare)
			}
		}
	}

	if isPalindrome(sat) {
		c = c.Set(CharmPalindrome)
	}

	return c
}

// blockOfEpochOffset returns a representative block height within the
// given halving epoch, used only to resolve that epoch's flat subsidy.
func blockOfEpochOffset(epoch uint64) uint64 {
	return epoch * dagconfig.SubsidyHalvingInterval
}

func isPalindrome(n uint64) bool {
	s := strconv.FormatUint(n, 10)
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		if s[i] != s[j] {
			return false
		}
	}
	return true
}

// SatCharms computes the intrinsic charms of a sat by its ordinal number,
// per spec.md §4.5 step 5: "Assign charms from Sat(ordinal_number).charms()
// (Mythic/Epic/Rare/Uncommon/Common, plus Palindrome ... Coin when sat is
// the first sat of its block)".
func SatCharms(ordinalNumber uint64) Charms {
	return satCharms(ordinalNumber)
}
