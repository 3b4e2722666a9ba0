// Copyright (c) 2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package brc20db is the Postgres-backed ledger store for the BRC-20
// engine of spec.md §4.8: deployed tokens, per-address balances, and the
// append-only operation log used for rollback replay.
package brc20db

// Schema documents the DDL applied by the migrate tool's `up` target for
// the BRC-20 database; migrations/brc20/*.sql is authoritative.
const Schema = `
CREATE TABLE IF NOT EXISTS tokens (
	ticker         TEXT PRIMARY KEY,
	display_ticker TEXT NOT NULL,
	inscription_id TEXT NOT NULL,
	max_supply     NUMERIC(38,0) NOT NULL,
	mint_limit     NUMERIC(38,0) NOT NULL,
	decimals       SMALLINT NOT NULL,
	self_mint      BOOLEAN NOT NULL DEFAULT FALSE,
	minted_supply  NUMERIC(38,0) NOT NULL DEFAULT 0,
	burned_supply  NUMERIC(38,0) NOT NULL DEFAULT 0,
	block_height   BIGINT NOT NULL,
	tx_index       INT NOT NULL
);

CREATE TABLE IF NOT EXISTS balances (
	ticker        TEXT NOT NULL REFERENCES tokens (ticker),
	address       TEXT NOT NULL,
	avail_balance NUMERIC(38,0) NOT NULL DEFAULT 0,
	trans_balance NUMERIC(38,0) NOT NULL DEFAULT 0,
	PRIMARY KEY (ticker, address)
);

CREATE TABLE IF NOT EXISTS operations (
	inscription_id TEXT NOT NULL,
	operation      SMALLINT NOT NULL,
	ordinal_number NUMERIC(20,0) NOT NULL,
	ticker         TEXT NOT NULL,
	amount         NUMERIC(38,0) NOT NULL,
	address        TEXT,
	receiver       TEXT,
	block_height   BIGINT NOT NULL,
	tx_index       INT NOT NULL,
	PRIMARY KEY (inscription_id, operation)
);

CREATE INDEX IF NOT EXISTS operations_block_height_idx ON operations (block_height);
CREATE INDEX IF NOT EXISTS operations_ordinal_number_idx ON operations (ordinal_number);
`
