// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package blockstore implements the append-only on-disk map
// height -> compact_block_bytes described in spec.md §4, §6: insert, get,
// range iteration, range delete, gap detection, and compaction.
package blockstore

import (
	"encoding/binary"

	"github.com/btcsuite/goleveldb/leveldb"
	"github.com/btcsuite/goleveldb/leveldb/filter"
	"github.com/btcsuite/goleveldb/leveldb/iterator"
	"github.com/btcsuite/goleveldb/leveldb/opt"
	"github.com/btcsuite/goleveldb/leveldb/util"
	"github.com/pkg/errors"

	"github.com/hirosystems/ordhookd/internal/blockhash"
	"github.com/hirosystems/ordhookd/internal/compactblock"
	"github.com/hirosystems/ordhookd/internal/logs"
)

var log = logs.Subsystem("BLKS")

// ErrNotFound is returned by Get when no compact block is stored at the
// requested height.
var ErrNotFound = errors.New("blockstore: height not found")

// Store is the compact block KV store. It is safe for concurrent
// read/write: writers are the archive processor and rollback, readers are
// the satoshi tracer (spec.md §5).
type Store struct {
	db *leveldb.DB
}

// Open opens (creating if necessary) a leveldb-backed store at dir.
func Open(dir string) (*Store, error) {
	opts := &opt.Options{
		Filter: filter.NewBloomFilter(10),
	}
	db, err := leveldb.OpenFile(dir, opts)
	if err != nil {
		return nil, errors.Wrapf(err, "opening block store at %s", dir)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying leveldb handle.
func (s *Store) Close() error {
	return errors.Wrap(s.db.Close(), "closing block store")
}

// Keys are prefixed by kind so the block-height keyspace and the txid
// keyspace never collide in lexicographic range scans: blockKeyPrefix keys
// are 9 bytes (prefix + big-endian height), txidKeyPrefix keys are 33
// bytes (prefix + raw txid).
const (
	blockKeyPrefix byte = 0x00
	txidKeyPrefix  byte = 0x01
)

func heightKey(height uint64) []byte {
	k := make([]byte, 9)
	k[0] = blockKeyPrefix
	binary.BigEndian.PutUint64(k[1:], height)
	return k
}

func keyHeight(k []byte) uint64 {
	return binary.BigEndian.Uint64(k[1:])
}

func txidKey(txid blockhash.Hash) []byte {
	k := make([]byte, 1+blockhash.Size)
	k[0] = txidKeyPrefix
	copy(k[1:], txid[:])
	return k
}

// Insert writes the compact block bytes for height, overwriting any
// previous value (used both for first-write and for reorg re-issue, per
// spec.md §3's block lifecycle), and indexes every contained txid against
// height so HeightOf can later resolve it (satoshi.HeightIndex).
func (s *Store) Insert(height uint64, compactBlock []byte) error {
	block, err := compactblock.Decode(compactBlock)
	if err != nil {
		return errors.Wrapf(err, "decoding block at height %d for txid index", height)
	}

	batch := new(leveldb.Batch)
	batch.Put(heightKey(height), compactBlock)
	for _, tx := range block.Txs {
		batch.Put(txidKey(tx.TxID), heightValue(height))
	}
	if err := s.db.Write(batch, nil); err != nil {
		return errors.Wrapf(err, "inserting block at height %d", height)
	}
	return nil
}

func heightValue(height uint64) []byte {
	var v [8]byte
	binary.BigEndian.PutUint64(v[:], height)
	return v[:]
}

// HeightOf implements satoshi.HeightIndex: it resolves a transaction's
// txid to the height of the block that confirmed it, using the index
// Insert maintains alongside the compact block bytes.
func (s *Store) HeightOf(txid blockhash.Hash) (uint64, bool, error) {
	v, err := s.db.Get(txidKey(txid), nil)
	if err != nil {
		if err == leveldb.ErrNotFound {
			return 0, false, nil
		}
		return 0, false, errors.Wrapf(err, "resolving height of txid %s", txid)
	}
	return binary.BigEndian.Uint64(v), true, nil
}

// Get reads the compact block bytes stored at height.
func (s *Store) Get(height uint64) ([]byte, error) {
	v, err := s.db.Get(heightKey(height), nil)
	if err != nil {
		if err == leveldb.ErrNotFound {
			return nil, errors.Wrapf(ErrNotFound, "height %d", height)
		}
		return nil, errors.Wrapf(err, "reading block at height %d", height)
	}
	return v, nil
}

// Has reports whether a compact block is stored at height.
func (s *Store) Has(height uint64) (bool, error) {
	ok, err := s.db.Has(heightKey(height), nil)
	if err != nil {
		return false, errors.Wrapf(err, "checking block at height %d", height)
	}
	return ok, nil
}

// Iter calls fn for every stored block with height in [start, end]
// inclusive, in ascending height order. fn returning an error stops
// iteration and propagates the error.
func (s *Store) Iter(start, end uint64, fn func(height uint64, compactBlock []byte) error) error {
	var it iterator.Iterator
	it = s.db.NewIterator(&util.Range{Start: heightKey(start), Limit: heightKey(end + 1)}, nil)
	defer it.Release()

	for it.Next() {
		height := keyHeight(it.Key())
		// Iterator values are only valid until the next call; copy
		// before handing to fn.
		value := append([]byte(nil), it.Value()...)
		if err := fn(height, value); err != nil {
			return err
		}
	}
	return errors.Wrap(it.Error(), "iterating block store")
}

// Delete removes every stored block with height in [start, end] inclusive,
// along with the txid index entries those blocks contributed.
func (s *Store) Delete(start, end uint64) error {
	batch := new(leveldb.Batch)
	it := s.db.NewIterator(&util.Range{Start: heightKey(start), Limit: heightKey(end + 1)}, nil)
	defer it.Release()
	for it.Next() {
		batch.Delete(append([]byte(nil), it.Key()...))
		block, err := compactblock.Decode(it.Value())
		if err != nil {
			return errors.Wrapf(err, "decoding block at height %d for txid unindex", keyHeight(it.Key()))
		}
		for _, tx := range block.Txs {
			batch.Delete(txidKey(tx.TxID))
		}
	}
	if err := it.Error(); err != nil {
		return errors.Wrap(err, "scanning for delete")
	}
	if err := s.db.Write(batch, nil); err != nil {
		return errors.Wrapf(err, "deleting heights [%d,%d]", start, end)
	}
	return nil
}

// MissingHeights scans [0, tip] and returns every height with no stored
// compact block, supporting the block store's gap-detection contract
// (spec.md §6).
func (s *Store) MissingHeights(tip uint64) ([]uint64, error) {
	var missing []uint64
	var expected uint64
	it := s.db.NewIterator(&util.Range{Start: heightKey(0), Limit: heightKey(tip + 1)}, nil)
	defer it.Release()
	for it.Next() {
		height := keyHeight(it.Key())
		for expected < height {
			missing = append(missing, expected)
			expected++
		}
		expected = height + 1
	}
	if err := it.Error(); err != nil {
		return nil, errors.Wrap(err, "scanning for missing heights")
	}
	for expected <= tip {
		missing = append(missing, expected)
		expected++
	}
	return missing, nil
}

// Compact triggers leveldb compaction over [0, upTo], reclaiming space from
// heights rolled back or overwritten by reorgs.
func (s *Store) Compact(upTo uint64) error {
	err := s.db.CompactRange(util.Range{Start: heightKey(0), Limit: heightKey(upTo + 1)})
	if err != nil {
		return errors.Wrapf(err, "compacting up to height %d", upTo)
	}
	log.Debugf("compacted block store up to height %d", upTo)
	return nil
}
