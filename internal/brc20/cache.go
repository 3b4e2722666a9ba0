// Copyright (c) 2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package brc20

// TokenLoader resolves a token and a balance row from durable storage on a
// cache miss.
type TokenLoader interface {
	GetToken(ticker string) (Token, bool, error)
	GetBalance(ticker, address string) (Balance, bool, error)
}

type balanceKey struct {
	ticker  string
	address string
}

// Cache is a write-through, block-scoped view over tokens and balances: a
// get consults the in-memory map first and only falls through to the
// loader on a miss, while every write lands in the map and is tracked in a
// dirty set for the next flush. This mirrors the reference indexer's
// Brc20MemoryCache, which exists so that a single block touching the same
// ticker across many operations never round-trips to Postgres more than
// once per entity (spec.md §4.8).
type Cache struct {
	loader TokenLoader

	tokens        map[string]Token
	balances      map[balanceKey]Balance
	ignored       map[string]bool // inscription ids that failed verification
	dirtyTokens   map[string]bool
	dirtyBalances map[balanceKey]bool
}

// NewCache builds an empty cache backed by loader for misses.
func NewCache(loader TokenLoader) *Cache {
	return &Cache{
		loader:        loader,
		tokens:        make(map[string]Token),
		balances:      make(map[balanceKey]Balance),
		ignored:       make(map[string]bool),
		dirtyTokens:   make(map[string]bool),
		dirtyBalances: make(map[balanceKey]bool),
	}
}

// GetToken returns the token for ticker, consulting the loader on a miss.
func (c *Cache) GetToken(ticker string) (Token, bool, error) {
	if tok, ok := c.tokens[ticker]; ok {
		return tok, true, nil
	}
	tok, ok, err := c.loader.GetToken(ticker)
	if err != nil {
		return Token{}, false, err
	}
	if ok {
		c.tokens[ticker] = tok
	}
	return tok, ok, nil
}

// PutToken installs or updates a token and marks it dirty.
func (c *Cache) PutToken(tok Token) {
	c.tokens[tok.Ticker] = tok
	c.dirtyTokens[tok.Ticker] = true
}

// GetBalance returns the (ticker, address) balance, consulting the loader
// on a miss. A miss that the loader also doesn't have yields a zero
// balance, not an error -- most addresses simply haven't touched a ticker
// yet.
func (c *Cache) GetBalance(ticker, address string) (Balance, error) {
	key := balanceKey{ticker, address}
	if bal, ok := c.balances[key]; ok {
		return bal, nil
	}
	bal, ok, err := c.loader.GetBalance(ticker, address)
	if err != nil {
		return Balance{}, err
	}
	if !ok {
		bal = Balance{Ticker: ticker, Address: address}
	}
	c.balances[key] = bal
	return bal, nil
}

// PutBalance installs or updates a balance and marks it dirty.
func (c *Cache) PutBalance(bal Balance) {
	key := balanceKey{bal.Ticker, bal.Address}
	c.balances[key] = bal
	c.dirtyBalances[key] = true
}

// Ignore marks an inscription id as having failed brc-20 verification, so
// a later transfer of the same sat doesn't mistakenly treat it as a live
// operation (mirrors the reference's ignore_inscription).
func (c *Cache) Ignore(inscriptionID string) {
	c.ignored[inscriptionID] = true
}

// IsIgnored reports whether Ignore was previously called for id.
func (c *Cache) IsIgnored(inscriptionID string) bool {
	return c.ignored[inscriptionID]
}

// DirtyTokens returns every token touched since the last Flush.
func (c *Cache) DirtyTokens() []Token {
	out := make([]Token, 0, len(c.dirtyTokens))
	for ticker := range c.dirtyTokens {
		out = append(out, c.tokens[ticker])
	}
	return out
}

// DirtyBalances returns every balance touched since the last Flush.
func (c *Cache) DirtyBalances() []Balance {
	out := make([]Balance, 0, len(c.dirtyBalances))
	for key := range c.dirtyBalances {
		out = append(out, c.balances[key])
	}
	return out
}

// Flush clears the dirty sets after the caller has persisted DirtyTokens
// and DirtyBalances. It does not evict the underlying cache entries --
// those remain valid reads for the rest of the run.
func (c *Cache) Flush() {
	c.dirtyTokens = make(map[string]bool)
	c.dirtyBalances = make(map[balanceKey]bool)
}
