// Copyright (c) 2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package brc20db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/hirosystems/ordhookd/internal/brc20"
	"github.com/hirosystems/ordhookd/internal/logs"
)

var log = logs.Subsystem("B20D")

// insertChunkSize caps every multi-row INSERT at 500 rows, the same flat
// bound internal/ordinalsdb uses, per spec.md §4.8 step 5.
const insertChunkSize = 500

// Store is the Postgres-backed BRC-20 ledger. It implements
// brc20.TokenLoader so a brc20.Cache can be backed directly by it.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to Postgres using dsn. Running migrations is the caller's
// responsibility, same as internal/ordinalsdb.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "brc20db: connecting")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "brc20db: ping")
	}
	return &Store{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// GetToken implements brc20.TokenLoader.
func (s *Store) GetToken(ticker string) (brc20.Token, bool, error) {
	ctx := context.Background()
	var tok brc20.Token
	err := s.pool.QueryRow(ctx, `
		SELECT ticker, display_ticker, inscription_id, max_supply, mint_limit,
		       decimals, self_mint, minted_supply, burned_supply, block_height, tx_index
		FROM tokens WHERE ticker = $1
	`, ticker).Scan(
		&tok.Ticker, &tok.DisplayTicker, &tok.InscriptionID, &tok.Max, &tok.Limit,
		&tok.Decimals, &tok.SelfMint, &tok.MintedSupply, &tok.BurnedSupply, &tok.BlockHeight, &tok.TxIndex,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return brc20.Token{}, false, nil
	}
	if err != nil {
		return brc20.Token{}, false, errors.Wrap(err, "brc20db: loading token")
	}
	return tok, true, nil
}

// GetBalance implements brc20.TokenLoader.
func (s *Store) GetBalance(ticker, address string) (brc20.Balance, bool, error) {
	ctx := context.Background()
	var bal brc20.Balance
	err := s.pool.QueryRow(ctx, `
		SELECT ticker, address, avail_balance, trans_balance
		FROM balances WHERE ticker = $1 AND address = $2
	`, ticker, address).Scan(&bal.Ticker, &bal.Address, &bal.AvailBalance, &bal.TransBalance)
	if errors.Is(err, pgx.ErrNoRows) {
		return brc20.Balance{}, false, nil
	}
	if err != nil {
		return brc20.Balance{}, false, errors.Wrap(err, "brc20db: loading balance")
	}
	return bal, true, nil
}

// FlushCache persists a Cache's dirty tokens, dirty balances, and the
// block's emitted operations within one transaction. Tokens and balances
// are upserted one row per statement; the operations insert is chunked at
// insertChunkSize rows (spec.md §4.8 step 5).
func (s *Store) FlushCache(ctx context.Context, cache *brc20.Cache, ops []brc20.Operation) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "brc20db: begin tx")
	}
	defer tx.Rollback(ctx)

	for _, tok := range cache.DirtyTokens() {
		if err := upsertToken(ctx, tx, tok); err != nil {
			return err
		}
	}
	for _, bal := range cache.DirtyBalances() {
		if err := upsertBalance(ctx, tx, bal); err != nil {
			return err
		}
	}
	for start := 0; start < len(ops); start += insertChunkSize {
		end := start + insertChunkSize
		if end > len(ops) {
			end = len(ops)
		}
		if err := insertOperationChunk(ctx, tx, ops[start:end]); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "brc20db: commit tx")
	}
	cache.Flush()
	return nil
}

func upsertToken(ctx context.Context, tx pgx.Tx, tok brc20.Token) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO tokens (ticker, display_ticker, inscription_id, max_supply, mint_limit,
		                     decimals, self_mint, minted_supply, burned_supply, block_height, tx_index)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (ticker) DO UPDATE SET
			minted_supply = $8, burned_supply = $9
	`, tok.Ticker, tok.DisplayTicker, tok.InscriptionID, tok.Max, tok.Limit,
		tok.Decimals, tok.SelfMint, tok.MintedSupply, tok.BurnedSupply, tok.BlockHeight, tok.TxIndex)
	return errors.Wrap(err, "brc20db: upserting token")
}

func upsertBalance(ctx context.Context, tx pgx.Tx, bal brc20.Balance) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO balances (ticker, address, avail_balance, trans_balance)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (ticker, address) DO UPDATE SET
			avail_balance = $3, trans_balance = $4
	`, bal.Ticker, bal.Address, bal.AvailBalance, bal.TransBalance)
	return errors.Wrap(err, "brc20db: upserting balance")
}

const opParamsPerRow = 9

func insertOperationChunk(ctx context.Context, tx pgx.Tx, ops []brc20.Operation) error {
	if len(ops) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString(`INSERT INTO operations (
		inscription_id, operation, ordinal_number, ticker, amount, address, receiver, block_height, tx_index
	) VALUES `)

	args := make([]interface{}, 0, len(ops)*opParamsPerRow)
	for i, op := range ops {
		if i > 0 {
			sb.WriteByte(',')
		}
		base := i * opParamsPerRow
		fmt.Fprintf(&sb, "($%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9)
		args = append(args,
			op.InscriptionID, int(op.Kind), op.OrdinalNumber, op.Ticker, op.Amount,
			nullableString(op.Address), nullableString(op.Receiver), op.BlockHeight, op.TxIndex,
		)
	}
	sb.WriteString(` ON CONFLICT (inscription_id, operation) DO NOTHING`)

	if _, err := tx.Exec(ctx, sb.String(), args...); err != nil {
		return errors.Wrap(err, "brc20db: inserting operation chunk")
	}
	return nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// RollbackToHeight reverses every operation recorded at or above height by
// replaying its inverse against balances and token supply counters, then
// deletes the operation rows themselves (spec.md §4.9 "roll back BRC-20
// balance deltas by replaying inverse operations").
func (s *Store) RollbackToHeight(ctx context.Context, height uint64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "brc20db: begin tx")
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT inscription_id, operation, ordinal_number, ticker, amount, address, receiver, block_height, tx_index
		FROM operations WHERE block_height >= $1
		ORDER BY block_height DESC, tx_index DESC
	`, height)
	if err != nil {
		return errors.Wrap(err, "brc20db: querying operations to roll back")
	}

	var reversed []brc20.Operation
	for rows.Next() {
		var op brc20.Operation
		var kind int
		var address, receiver *string
		if err := rows.Scan(&op.InscriptionID, &kind, &op.OrdinalNumber, &op.Ticker, &op.Amount,
			&address, &receiver, &op.BlockHeight, &op.TxIndex); err != nil {
			rows.Close()
			return errors.Wrap(err, "brc20db: scanning operation")
		}
		op.Kind = brc20.OperationKind(kind)
		if address != nil {
			op.Address = *address
		}
		if receiver != nil {
			op.Receiver = *receiver
		}
		reversed = append(reversed, op)
	}
	if err := rows.Err(); err != nil {
		return errors.Wrap(err, "brc20db: reading operations")
	}
	rows.Close()

	for _, op := range reversed {
		if err := reverseOperation(ctx, tx, op); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(ctx, `DELETE FROM operations WHERE block_height >= $1`, height); err != nil {
		return errors.Wrap(err, "brc20db: deleting operations")
	}
	if _, err := tx.Exec(ctx, `DELETE FROM tokens WHERE block_height >= $1`, height); err != nil {
		return errors.Wrap(err, "brc20db: deleting tokens deployed at rolled-back heights")
	}

	return errors.Wrap(tx.Commit(ctx), "brc20db: commit tx")
}

func reverseOperation(ctx context.Context, tx pgx.Tx, op brc20.Operation) error {
	switch op.Kind {
	case brc20.OpDeploy:
		return nil // the token row itself is deleted by the caller's DELETE FROM tokens
	case brc20.OpMint:
		_, err := tx.Exec(ctx, `
			UPDATE balances SET avail_balance = avail_balance - $1 WHERE ticker = $2 AND address = $3
		`, op.Amount, op.Ticker, op.Address)
		if err != nil {
			return errors.Wrap(err, "brc20db: reversing mint balance")
		}
		_, err = tx.Exec(ctx, `UPDATE tokens SET minted_supply = minted_supply - $1 WHERE ticker = $2`, op.Amount, op.Ticker)
		return errors.Wrap(err, "brc20db: reversing mint supply")
	case brc20.OpTransfer:
		_, err := tx.Exec(ctx, `
			UPDATE balances SET avail_balance = avail_balance + $1, trans_balance = trans_balance - $1
			WHERE ticker = $2 AND address = $3
		`, op.Amount, op.Ticker, op.Address)
		return errors.Wrap(err, "brc20db: reversing transfer")
	case brc20.OpTransferSend:
		return reverseTransferSend(ctx, tx, op)
	default:
		return errors.Errorf("brc20db: unrecognized operation kind %d for %s", op.Kind, op.InscriptionID)
	}
}

// reverseTransferSend undoes a settled transfer_send: credit the sender's
// trans_balance back, and undo whichever of send/return/burn happened to
// the amount (mirrors settleTransferSend's three branches in reverse).
func reverseTransferSend(ctx context.Context, tx pgx.Tx, op brc20.Operation) error {
	if _, err := tx.Exec(ctx, `
		UPDATE balances SET trans_balance = trans_balance + $1 WHERE ticker = $2 AND address = $3
	`, op.Amount, op.Ticker, op.Address); err != nil {
		return errors.Wrap(err, "brc20db: restoring sender trans balance")
	}

	switch {
	case op.Receiver == "":
		// burn case: the amount was never credited to a balance, only
		// added to the token's burned_supply.
		_, err := tx.Exec(ctx, `UPDATE tokens SET burned_supply = burned_supply - $1 WHERE ticker = $2`, op.Amount, op.Ticker)
		return errors.Wrap(err, "brc20db: reversing burn")
	case op.Receiver == op.Address:
		// spent-to-fees case: the amount had been returned to the sender's
		// own avail_balance.
		_, err := tx.Exec(ctx, `
			UPDATE balances SET avail_balance = avail_balance - $1 WHERE ticker = $2 AND address = $3
		`, op.Amount, op.Ticker, op.Address)
		return errors.Wrap(err, "brc20db: reversing fee-spend return")
	default:
		_, err := tx.Exec(ctx, `
			UPDATE balances SET avail_balance = avail_balance - $1 WHERE ticker = $2 AND address = $3
		`, op.Amount, op.Ticker, op.Receiver)
		return errors.Wrap(err, "brc20db: reversing transfer_send receiver credit")
	}
}
