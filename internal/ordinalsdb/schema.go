// Copyright (c) 2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package ordinalsdb is the Postgres-backed relational store for the
// inscriptions index described in spec.md §6: inscriptions, their location
// history, current locations, the sequence cursor, parent/recursion edges,
// and the chain tip watermark.
package ordinalsdb

// Schema is the set of DDL statements applied by the migrate tool's
// `up` target for the ordinals database; the authoritative source of
// truth lives in migrations/ordinals/*.sql, this constant documents the
// shape those migrations produce for readers of this package.
const Schema = `
CREATE TABLE IF NOT EXISTS chain_tip (
	id           BOOLEAN PRIMARY KEY DEFAULT TRUE CHECK (id),
	block_height BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS sequence_counters (
	id      BOOLEAN PRIMARY KEY DEFAULT TRUE CHECK (id),
	classic BIGINT NOT NULL DEFAULT 0,
	jubilee BIGINT NOT NULL DEFAULT 0,
	unbound BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS inscriptions (
	inscription_id             TEXT PRIMARY KEY,
	number                     BIGINT NOT NULL,
	jubilee_number             BIGINT NOT NULL,
	ordinal_number             NUMERIC(20,0) NOT NULL,
	ordinal_block_height       BIGINT NOT NULL,
	ordinal_offset             NUMERIC(20,0) NOT NULL,
	block_height               BIGINT NOT NULL,
	tx_index                   INT NOT NULL,
	content_type               TEXT,
	content_length             INT,
	curse_type                 SMALLINT,
	charms                     INT NOT NULL DEFAULT 0,
	inscriber_address          TEXT,
	fee                        BIGINT NOT NULL,
	output_value               BIGINT NOT NULL,
	transfers_pre_inscription  INT NOT NULL DEFAULT 0,
	unbound_sequence           BIGINT
);

CREATE INDEX IF NOT EXISTS inscriptions_ordinal_number_idx ON inscriptions (ordinal_number);
CREATE INDEX IF NOT EXISTS inscriptions_block_height_idx ON inscriptions (block_height);

CREATE TABLE IF NOT EXISTS locations (
	inscription_id TEXT NOT NULL REFERENCES inscriptions (inscription_id),
	block_height   BIGINT NOT NULL,
	tx_index       INT NOT NULL,
	txid           BYTEA NOT NULL,
	output         INT NOT NULL,
	offset_value   NUMERIC(20,0) NOT NULL,
	address        TEXT,
	PRIMARY KEY (inscription_id, block_height, tx_index)
);

CREATE TABLE IF NOT EXISTS current_locations (
	inscription_id TEXT PRIMARY KEY REFERENCES inscriptions (inscription_id),
	ordinal_number  NUMERIC(20,0) NOT NULL,
	txid            BYTEA NOT NULL,
	output          INT NOT NULL,
	offset_value    NUMERIC(20,0) NOT NULL
);

CREATE INDEX IF NOT EXISTS current_locations_outpoint_idx ON current_locations (txid, output);

CREATE TABLE IF NOT EXISTS inscription_parents (
	inscription_id TEXT NOT NULL REFERENCES inscriptions (inscription_id),
	parent_id      TEXT NOT NULL,
	PRIMARY KEY (inscription_id, parent_id)
);

CREATE TABLE IF NOT EXISTS inscription_recursion (
	inscription_id     TEXT NOT NULL REFERENCES inscriptions (inscription_id),
	referenced_id       TEXT NOT NULL,
	PRIMARY KEY (inscription_id, referenced_id)
);
`
