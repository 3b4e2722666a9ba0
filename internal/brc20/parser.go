// Copyright (c) 2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package brc20

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// envelope is the raw BRC-20 JSON payload shape carved into an
// inscription's content, per the `brc-20` metaprotocol convention: a
// `p`/`op` discriminator plus operation-specific string fields (amounts
// and limits are decimal strings, not JSON numbers, to avoid float
// precision loss).
type envelope struct {
	Protocol string `json:"p"`
	Op       string `json:"op"`
	Ticker   string `json:"tick"`
	Max      string `json:"max"`
	Limit    string `json:"lim"`
	Decimals string `json:"dec"`
	Amount   string `json:"amt"`
	SelfMint string `json:"self_mint"`
}

// ErrNotBrc20 marks content that isn't a brc-20 envelope at all; callers
// should silently skip the inscription (spec.md §7 "BRC-20 parse error:
// ignore operation, continue").
var ErrNotBrc20 = errors.New("brc20: not a brc-20 envelope")

// ErrInvalidOperation marks a recognized brc-20 envelope that fails
// protocol-level validation (bad ticker length, decimals out of range,
// zero max, malformed amount).
var ErrInvalidOperation = errors.New("brc20: invalid operation")

const maxDecimals = 18

// ParseOperation parses an inscription's raw content bytes into a
// ParsedOperation, applying the protocol-level structural validation of
// spec.md §4.8 step 1: ticker length 4-5, decimals in [0,18], amounts
// respecting the declared fixed-point scale, max > 0 for deploys.
func ParseOperation(contentType string, content []byte) (ParsedOperation, error) {
	if !strings.HasPrefix(contentType, "text/plain") && !strings.HasPrefix(contentType, "application/json") {
		return ParsedOperation{}, ErrNotBrc20
	}

	var env envelope
	if err := json.Unmarshal(content, &env); err != nil {
		return ParsedOperation{}, ErrNotBrc20
	}
	if env.Protocol != "brc-20" {
		return ParsedOperation{}, ErrNotBrc20
	}

	ticker := strings.ToLower(env.Ticker)
	if l := len([]rune(ticker)); l != 4 && l != 5 {
		return ParsedOperation{}, errors.Wrapf(ErrInvalidOperation, "ticker %q: length must be 4 or 5, got %d", env.Ticker, l)
	}

	switch env.Op {
	case "deploy":
		return parseDeploy(ticker, env)
	case "mint":
		return parseMintOrTransfer(OpMint, ticker, env)
	case "transfer":
		return parseMintOrTransfer(OpTransfer, ticker, env)
	default:
		return ParsedOperation{}, errors.Wrapf(ErrInvalidOperation, "unrecognized op %q", env.Op)
	}
}

func parseDeploy(ticker string, env envelope) (ParsedOperation, error) {
	decimals := uint8(18)
	if env.Decimals != "" {
		d, err := strconv.ParseUint(env.Decimals, 10, 8)
		if err != nil || d > maxDecimals {
			return ParsedOperation{}, errors.Wrapf(ErrInvalidOperation, "ticker %q: invalid decimals %q", ticker, env.Decimals)
		}
		decimals = uint8(d)
	}

	maxAmt, err := parseFixedPoint(env.Max, decimals)
	if err != nil || maxAmt == 0 {
		return ParsedOperation{}, errors.Wrapf(ErrInvalidOperation, "ticker %q: invalid max %q", ticker, env.Max)
	}

	limit := maxAmt
	if env.Limit != "" {
		limit, err = parseFixedPoint(env.Limit, decimals)
		if err != nil {
			return ParsedOperation{}, errors.Wrapf(ErrInvalidOperation, "ticker %q: invalid lim %q", ticker, env.Limit)
		}
	}

	return ParsedOperation{
		Kind:     OpDeploy,
		Ticker:   ticker,
		Max:      maxAmt,
		Limit:    limit,
		Decimals: decimals,
		SelfMint: env.SelfMint == "true",
	}, nil
}

// parseMintOrTransfer defers fixed-point scaling of Amount until the
// token's declared decimals are known (spec.md §4.8 step 2 resolves the
// token row before calling verify_brc20_operation); Amount here is parsed
// at full precision (18 decimals) and rescaled by the caller.
func parseMintOrTransfer(kind OperationKind, ticker string, env envelope) (ParsedOperation, error) {
	amt, err := parseFixedPoint(env.Amount, maxDecimals)
	if err != nil || amt == 0 {
		return ParsedOperation{}, errors.Wrapf(ErrInvalidOperation, "ticker %q: invalid amt %q", ticker, env.Amount)
	}
	return ParsedOperation{Kind: kind, Ticker: ticker, Amount: amt}, nil
}

// parseFixedPoint parses a decimal string into an integer scaled by
// 10^decimals, rejecting negative values, more fractional digits than
// decimals allows, and non-numeric input.
func parseFixedPoint(s string, decimals uint8) (uint64, error) {
	if s == "" {
		return 0, errors.New("brc20: empty amount")
	}
	if strings.HasPrefix(s, "-") {
		return 0, errors.New("brc20: negative amount")
	}

	whole, frac, hasFrac := strings.Cut(s, ".")
	if hasFrac && len(frac) > int(decimals) {
		return 0, errors.Errorf("brc20: %q has more fractional digits than decimals=%d allows", s, decimals)
	}
	frac = frac + strings.Repeat("0", int(decimals)-len(frac))

	wholeVal, err := strconv.ParseUint(orZero(whole), 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "brc20: parsing whole part of %q", s)
	}
	var fracVal uint64
	if frac != "" {
		fracVal, err = strconv.ParseUint(frac, 10, 64)
		if err != nil {
			return 0, errors.Wrapf(err, "brc20: parsing fractional part of %q", s)
		}
	}

	scale := uint64(math.Pow10(int(decimals)))
	if wholeVal > (math.MaxUint64-fracVal)/scale {
		return 0, errors.Errorf("brc20: %q overflows uint64 at decimals=%d", s, decimals)
	}
	return wholeVal*scale + fracVal, nil
}

func orZero(s string) string {
	if s == "" {
		return "0"
	}
	return s
}

// RescaleAmount converts an amount parsed at full (18-decimal) precision
// down to the token's actual decimals, discarding sub-token-decimal
// precision (mint/transfer amounts are always expressed at the token's
// own scale once the token is resolved).
func RescaleAmount(amount uint64, fromDecimals, toDecimals uint8) uint64 {
	if fromDecimals == toDecimals {
		return amount
	}
	if fromDecimals > toDecimals {
		div := uint64(math.Pow10(int(fromDecimals - toDecimals)))
		return amount / div
	}
	mul := uint64(math.Pow10(int(toDecimals - fromDecimals)))
	return amount * mul
}
