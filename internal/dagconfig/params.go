// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package dagconfig defines per-network parameters consumed by the fork
// scratch pad, satoshi tracer, and BRC-20 engine: subsidy schedule, jubilee
// activation heights, and BRC-20 activation heights.
package dagconfig

import "github.com/btcsuite/btcd/chaincfg"

// Network identifies one of the four Bitcoin networks this indexer can run
// against.
type Network int

// Supported networks.
const (
	Mainnet Network = iota
	Testnet
	Signet
	Regtest
)

func (n Network) String() string {
	switch n {
	case Mainnet:
		return "mainnet"
	case Testnet:
		return "testnet"
	case Signet:
		return "signet"
	case Regtest:
		return "regtest"
	default:
		return "unknown"
	}
}

// ParseNetwork parses the network names spec.md §6's [bitcoind].network key
// accepts.
func ParseNetwork(s string) (Network, error) {
	switch s {
	case "mainnet":
		return Mainnet, nil
	case "testnet":
		return Testnet, nil
	case "signet":
		return Signet, nil
	case "regtest":
		return Regtest, nil
	default:
		return 0, errUnknownNetwork(s)
	}
}

type errUnknownNetwork string

func (e errUnknownNetwork) Error() string { return "dagconfig: unknown network " + string(e) }

// MarshalText implements encoding.TextMarshaler so Network round-trips
// through TOML as its lowercase name rather than an integer.
func (n Network) MarshalText() ([]byte, error) { return []byte(n.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (n *Network) UnmarshalText(text []byte) error {
	parsed, err := ParseNetwork(string(text))
	if err != nil {
		return err
	}
	*n = parsed
	return nil
}

// SubsidyHalvingInterval is the number of blocks between each halving of the
// block subsidy, identical across all four networks.
const SubsidyHalvingInterval = 210_000

// initialSubsidy is the block reward paid to the first coinbase, in
// satoshis, before any halving.
const initialSubsidy = 50 * 100_000_000

// subsidyEpochs is the number of halvings after which the subsidy is
// considered to have reached zero (50 BTC halved 33 times underflows to 0
// well before that, but the ordinal spec fixes the cycle at 6 epochs of
// halving before the "common" pool of new sats is exhausted per the
// reference implementation's epoch table).
const subsidyEpochs = 6

// Params holds the network-specific constants this indexer needs.
type Params struct {
	Network Network

	// BTCParams is the underlying btcd chain parameters, reused for address
	// encoding/decoding and wire magic.
	BTCParams *chaincfg.Params

	// JubileeHeight is the block height at which cursed-inscription
	// numbering is vindicated rather than punished with a negative
	// classic number (spec.md §4.5).
	JubileeHeight uint64

	// BRC20ActivationHeight is the height at which BRC-20 operations for
	// 4-5 character tickers begin to be indexed.
	BRC20ActivationHeight uint64

	// BRC20SelfMintActivationHeight is the height at which self-mint
	// BRC-20 tokens (Token.self_mint) begin to be honored.
	BRC20SelfMintActivationHeight uint64

	// FirstInscriptionHeight is the pipeline's start_sequencing_at
	// threshold (spec.md §4.2): blocks below it are archived compact-only,
	// blocks at or above it are standardized and sequenced.
	FirstInscriptionHeight uint64
}

// MainnetParams are the mainnet network parameters.
var MainnetParams = Params{
	Network:                       Mainnet,
	BTCParams:                     &chaincfg.MainNetParams,
	JubileeHeight:                 824_544,
	BRC20ActivationHeight:         779_832,
	BRC20SelfMintActivationHeight: 837_090,
	FirstInscriptionHeight:        767_430,
}

// TestnetParams are the testnet3 network parameters.
var TestnetParams = Params{
	Network:                       Testnet,
	BTCParams:                     &chaincfg.TestNet3Params,
	JubileeHeight:                 2_544_192,
	BRC20ActivationHeight:         0,
	BRC20SelfMintActivationHeight: 0,
	FirstInscriptionHeight:        2_413_343,
}

// SignetParams are the signet network parameters.
var SignetParams = Params{
	Network:                       Signet,
	BTCParams:                     &chaincfg.SigNetParams,
	JubileeHeight:                 175_392,
	BRC20ActivationHeight:         0,
	BRC20SelfMintActivationHeight: 0,
	FirstInscriptionHeight:        0,
}

// RegtestParams are the regtest network parameters.
var RegtestParams = Params{
	Network:                       Regtest,
	BTCParams:                     &chaincfg.RegressionNetParams,
	JubileeHeight:                 110,
	BRC20ActivationHeight:         0,
	BRC20SelfMintActivationHeight: 0,
	FirstInscriptionHeight:        0,
}

// ForNetwork returns the Params for the given network.
func ForNetwork(n Network) *Params {
	switch n {
	case Mainnet:
		return &MainnetParams
	case Testnet:
		return &TestnetParams
	case Signet:
		return &SignetParams
	case Regtest:
		return &RegtestParams
	default:
		return &MainnetParams
	}
}

// SubsidyAt returns the coinbase subsidy, in satoshis, for a coinbase mined
// at the given height. It implements the six-epoch halving cycle used by
// the satoshi tracer's subsidy-schedule walk (spec.md §4.4 step 4).
func SubsidyAt(height uint64) uint64 {
	epoch := height / SubsidyHalvingInterval
	if epoch >= subsidyEpochs {
		return 0
	}
	return initialSubsidy >> epoch
}

// FirstSatOfEpoch returns the ordinal number of the first sat minted at the
// start of the given halving epoch.
func FirstSatOfEpoch(epoch uint64) uint64 {
	if epoch > subsidyEpochs {
		epoch = subsidyEpochs
	}
	var total uint64
	for e := uint64(0); e < epoch; e++ {
		subsidy := initialSubsidy >> e
		total += subsidy * SubsidyHalvingInterval
	}
	return total
}

// EpochOfSat returns the halving epoch that minted the given sat.
func EpochOfSat(sat uint64) uint64 {
	epoch := uint64(0)
	for epoch < subsidyEpochs && sat >= FirstSatOfEpoch(epoch+1) {
		epoch++
	}
	return epoch
}
