// Copyright (c) 2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package satoshi

import (
	"container/list"
	"sync"

	"github.com/hirosystems/ordhookd/internal/blockhash"
	"github.com/hirosystems/ordhookd/internal/compactblock"
)

// l2Key is the L2 cache key: (block_height, truncated txid), per spec.md
// §3's cache-ownership note and §4.4's cache discipline.
type l2Key struct {
	height uint64
	prefix blockhash.Prefix8
}

// l2Entry is the cached, never-mutated-after-insert transaction cursor.
type l2Entry struct {
	tx compactblock.Tx
}

// l2Cache is a lock-protected LRU over recently traversed transaction
// cursors. The teacher's UTXO set cache (blockdag/utxoset.go) is the
// closest analog: a read-through cache over immutable entries, evicted
// when the working set outgrows its configured capacity.
type l2Cache struct {
	mu       sync.Mutex
	capacity int
	entries  map[l2Key]*list.Element
	order    *list.List // front = most recently used
}

type l2ListItem struct {
	key   l2Key
	entry l2Entry
}

func newL2Cache(capacity int) *l2Cache {
	if capacity <= 0 {
		capacity = 1
	}
	return &l2Cache{
		capacity: capacity,
		entries:  make(map[l2Key]*list.Element),
		order:    list.New(),
	}
}

func (c *l2Cache) get(height uint64, prefix blockhash.Prefix8) (compactblock.Tx, bool) {
	key := l2Key{height: height, prefix: prefix}
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[key]
	if !ok {
		return compactblock.Tx{}, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*l2ListItem).entry.tx, true
}

func (c *l2Cache) put(height uint64, prefix blockhash.Prefix8, tx compactblock.Tx) {
	key := l2Key{height: height, prefix: prefix}
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		c.order.MoveToFront(el)
		return
	}
	el := c.order.PushFront(&l2ListItem{key: key, entry: l2Entry{tx: tx}})
	c.entries[key] = el
	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*l2ListItem).key)
	}
}

// l1Key identifies one already-resolved trace within the block currently
// being indexed: (txid, input_index, pointer), per spec.md §4.4.
type l1Key struct {
	txid       blockhash.Hash
	inputIndex uint32
	pointer    uint64
}

// l1Cache is the per-block trace result cache. It is not safe for
// concurrent use on its own: Tracer guards every access with l1mu, and
// Trace stores each result it computes, whichever goroutine calls it.
type l1Cache struct {
	entries map[l1Key]Result
}

func newL1Cache() *l1Cache {
	return &l1Cache{entries: make(map[l1Key]Result)}
}

func (c *l1Cache) get(txid blockhash.Hash, inputIndex uint32, pointer uint64) (Result, bool) {
	r, ok := c.entries[l1Key{txid: txid, inputIndex: inputIndex, pointer: pointer}]
	return r, ok
}

func (c *l1Cache) put(txid blockhash.Hash, inputIndex uint32, pointer uint64, r Result) {
	c.entries[l1Key{txid: txid, inputIndex: inputIndex, pointer: pointer}] = r
}

func (c *l1Cache) reset() {
	c.entries = make(map[l1Key]Result)
}
