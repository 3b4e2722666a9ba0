// Copyright (c) 2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package ordinalsdb

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/hirosystems/ordhookd/internal/blockhash"
	"github.com/hirosystems/ordhookd/internal/logs"
	"github.com/hirosystems/ordhookd/internal/ordinals"
)

var log = logs.Subsystem("ODBS")

// insertChunkSize caps each multi-row INSERT at 500 rows regardless of
// column count, matching spec.md §6 ("chunk inserts at <=500 rows, <=17
// columns worst case, to stay under Postgres's 65,535-parameter limit").
const insertChunkSize = 500

// Store is the Postgres-backed ordinals index. It implements
// ordinals.CursorStore, ordinals.ReinscriptionIndex, and
// ordinals.LocationIndex so the sequencer and transfer detector can be
// wired directly against it.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to Postgres using dsn and returns a ready Store. Running
// migrations is the caller's responsibility (see cmd/ordhookd's "database
// migrate" subcommand), matching the teacher's separation of schema
// bootstrap from runtime connection setup.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "ordinalsdb: connecting")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "ordinalsdb: ping")
	}
	return &Store{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// LoadCursor implements ordinals.CursorStore.
func (s *Store) LoadCursor() (classic, jubilee int64, unbound uint64, err error) {
	ctx := context.Background()
	row := s.pool.QueryRow(ctx, `SELECT classic, jubilee, unbound FROM sequence_counters WHERE id`)
	var u int64
	if err := row.Scan(&classic, &jubilee, &u); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, 0, 0, nil
		}
		return 0, 0, 0, errors.Wrap(err, "ordinalsdb: loading sequence cursor")
	}
	return classic, jubilee, uint64(u), nil
}

// SaveCursor implements ordinals.CursorStore.
func (s *Store) SaveCursor(classic, jubilee int64, unbound uint64) error {
	ctx := context.Background()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sequence_counters (id, classic, jubilee, unbound)
		VALUES (TRUE, $1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET classic = $1, jubilee = $2, unbound = $3
	`, classic, jubilee, int64(unbound))
	if err != nil {
		return errors.Wrap(err, "ordinalsdb: saving sequence cursor")
	}
	return nil
}

// HasBlessedInscription implements ordinals.ReinscriptionIndex.
func (s *Store) HasBlessedInscription(ordinalNumber uint64) (bool, error) {
	ctx := context.Background()
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM inscriptions
			WHERE ordinal_number = $1 AND curse_type IS NULL
		)
	`, ordinalNumber).Scan(&exists)
	if err != nil {
		return false, errors.Wrap(err, "ordinalsdb: checking reinscription")
	}
	return exists, nil
}

// WatchedAt implements ordinals.LocationIndex.
func (s *Store) WatchedAt(txid blockhash.Hash, vout uint32) ([]ordinals.WatchedLocation, error) {
	ctx := context.Background()
	rows, err := s.pool.Query(ctx, `
		SELECT inscription_id, ordinal_number, txid, output, offset_value
		FROM current_locations
		WHERE txid = $1 AND output = $2
	`, txid[:], vout)
	if err != nil {
		return nil, errors.Wrap(err, "ordinalsdb: querying watched locations")
	}
	defer rows.Close()

	var out []ordinals.WatchedLocation
	for rows.Next() {
		var (
			id     string
			ord    uint64
			raw    []byte
			output uint32
			offset uint64
		)
		if err := rows.Scan(&id, &ord, &raw, &output, &offset); err != nil {
			return nil, errors.Wrap(err, "ordinalsdb: scanning watched location")
		}
		h, err := blockhash.NewFromSlice(raw)
		if err != nil {
			return nil, errors.Wrap(err, "ordinalsdb: decoding txid")
		}
		out = append(out, ordinals.WatchedLocation{
			InscriptionID: id,
			OrdinalNumber: ord,
			TxID:          h,
			Vout:          output,
			Offset:        offset,
		})
	}
	return out, rows.Err()
}

// InsertInscriptions chunks rows at insertChunkSize and inserts them in a
// single transaction, matching the teacher's approach to bulk writes under
// Postgres's per-statement parameter ceiling (spec.md §6).
func (s *Store) InsertInscriptions(ctx context.Context, rows []ordinals.Inscription) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "ordinalsdb: begin tx")
	}
	defer tx.Rollback(ctx)

	for start := 0; start < len(rows); start += insertChunkSize {
		end := start + insertChunkSize
		if end > len(rows) {
			end = len(rows)
		}
		if err := insertInscriptionChunk(ctx, tx, rows[start:end]); err != nil {
			return err
		}
	}

	return errors.Wrap(tx.Commit(ctx), "ordinalsdb: commit tx")
}

func insertInscriptionChunk(ctx context.Context, tx pgx.Tx, rows []ordinals.Inscription) error {
	if len(rows) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString(`INSERT INTO inscriptions (
		inscription_id, number, jubilee_number, ordinal_number, ordinal_block_height,
		ordinal_offset, block_height, tx_index, content_type, content_length,
		curse_type, charms, inscriber_address, fee, output_value,
		transfers_pre_inscription, unbound_sequence
	) VALUES `)

	args := make([]interface{}, 0, len(rows)*17)
	for i, r := range rows {
		if i > 0 {
			sb.WriteByte(',')
		}
		base := i * 17
		fmt.Fprintf(&sb, "($%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9,
			base+10, base+11, base+12, base+13, base+14, base+15, base+16, base+17)

		var curseType interface{}
		if r.CurseType != ordinals.CurseNone {
			curseType = int(r.CurseType)
		}
		args = append(args,
			r.InscriptionID, r.ClassicNumber, r.JubileeNumber, r.OrdinalNumber, r.OrdinalBlockHeight,
			r.OrdinalOffset, r.BlockHeight, r.TxIndex, r.ContentType, r.ContentLength,
			curseType, int(r.Charms), nullableString(r.InscriberAddress), r.Fee, r.OutputValue,
			r.TransfersPre, r.UnboundSequence,
		)
	}
	sb.WriteString(` ON CONFLICT (inscription_id) DO NOTHING`)

	if _, err := tx.Exec(ctx, sb.String(), args...); err != nil {
		return errors.Wrap(err, "ordinalsdb: inserting inscription chunk")
	}
	return nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// UpsertCurrentLocation updates an inscription's current_locations row and
// appends a history row to locations, called after each transfer or reveal
// (spec.md §4.6 "update current location row").
func (s *Store) UpsertCurrentLocation(ctx context.Context, inscriptionID string, ordinalNumber uint64, blockHeight uint64, txIndex uint32, sp ordinals.Satpoint, address string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "ordinalsdb: begin tx")
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO current_locations (inscription_id, ordinal_number, txid, output, offset_value)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (inscription_id) DO UPDATE SET
			ordinal_number = $2, txid = $3, output = $4, offset_value = $5
	`, inscriptionID, ordinalNumber, sp.TxID[:], sp.Vout, sp.Offset)
	if err != nil {
		return errors.Wrap(err, "ordinalsdb: upserting current location")
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO locations (inscription_id, block_height, tx_index, txid, output, offset_value, address)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (inscription_id, block_height, tx_index) DO NOTHING
	`, inscriptionID, blockHeight, txIndex, sp.TxID[:], sp.Vout, sp.Offset, nullableString(address))
	if err != nil {
		return errors.Wrap(err, "ordinalsdb: inserting location history")
	}

	return errors.Wrap(tx.Commit(ctx), "ordinalsdb: commit tx")
}

// ChainTip returns the last block height this store has materialized.
func (s *Store) ChainTip(ctx context.Context) (uint64, bool, error) {
	var h int64
	err := s.pool.QueryRow(ctx, `SELECT block_height FROM chain_tip WHERE id`).Scan(&h)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errors.Wrap(err, "ordinalsdb: reading chain tip")
	}
	return uint64(h), true, nil
}

// SetChainTip records the last materialized block height.
func (s *Store) SetChainTip(ctx context.Context, height uint64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO chain_tip (id, block_height) VALUES (TRUE, $1)
		ON CONFLICT (id) DO UPDATE SET block_height = $1
	`, int64(height))
	return errors.Wrap(err, "ordinalsdb: setting chain tip")
}

// RollbackToHeight deletes inscriptions, locations, and current_locations
// rows materialized at or above height, and decrements the sequence
// cursor by the counts it removes (spec.md §4.9 rollback semantics).
func (s *Store) RollbackToHeight(ctx context.Context, height uint64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "ordinalsdb: begin tx")
	}
	defer tx.Rollback(ctx)

	// classicDelta is the net movement NextClassic would have made across
	// these rows: +1 per blessed assignment, -1 per cursed one (spec.md
	// §4.9: "Decrement SequenceCursor counters by the number of
	// classic/jubilee/unbound assignments at that height").
	var classicDelta, jubileeDelta int64
	var unboundDelta int64
	err = tx.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE curse_type IS NULL) - COUNT(*) FILTER (WHERE curse_type IS NOT NULL),
			COUNT(*),
			COUNT(*) FILTER (WHERE unbound_sequence IS NOT NULL)
		FROM inscriptions WHERE block_height >= $1
	`, height).Scan(&classicDelta, &jubileeDelta, &unboundDelta)
	if err != nil {
		return errors.Wrap(err, "ordinalsdb: counting rollback rows")
	}

	if _, err := tx.Exec(ctx, `DELETE FROM locations WHERE block_height >= $1`, height); err != nil {
		return errors.Wrap(err, "ordinalsdb: deleting locations")
	}
	if _, err := tx.Exec(ctx, `
		DELETE FROM current_locations WHERE inscription_id IN (
			SELECT inscription_id FROM inscriptions WHERE block_height >= $1
		)
	`, height); err != nil {
		return errors.Wrap(err, "ordinalsdb: deleting current locations")
	}
	if _, err := tx.Exec(ctx, `DELETE FROM inscriptions WHERE block_height >= $1`, height); err != nil {
		return errors.Wrap(err, "ordinalsdb: deleting inscriptions")
	}

	_, err = tx.Exec(ctx, `
		UPDATE sequence_counters SET
			classic = classic - $1,
			jubilee = jubilee - $2,
			unbound = unbound - $3
		WHERE id
	`, classicDelta, jubileeDelta, unboundDelta)
	if err != nil {
		return errors.Wrap(err, "ordinalsdb: rewinding sequence cursor")
	}

	return errors.Wrap(tx.Commit(ctx), "ordinalsdb: commit tx")
}
