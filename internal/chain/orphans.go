package chain

import (
	"container/list"
	"sync"

	"github.com/grinchain/node/internal/chaincfg"
	"github.com/grinchain/node/internal/chaintypes"
)

// orphanCache buffers blocks whose previous header is not yet known,
// keyed by that previous hash so a later arrival of the missing parent
// can retry every orphan waiting on it in one pass (spec §4.7 "Orphan").
// Oldest-first eviction bounds memory under an orphan flood.
type orphanCache struct {
	mu       sync.Mutex
	byPrev   map[chaintypes.Hash][]*chaintypes.Block
	order    *list.List // of chaintypes.Hash (block hash), oldest first
	byHash   map[chaintypes.Hash]*list.Element
	maxItems int
}

func newOrphanCache(maxItems int) *orphanCache {
	if maxItems <= 0 {
		maxItems = chaincfg.MaxOrphans
	}
	return &orphanCache{
		byPrev:   make(map[chaintypes.Hash][]*chaintypes.Block),
		order:    list.New(),
		byHash:   make(map[chaintypes.Hash]*list.Element),
		maxItems: maxItems,
	}
}

// Add buffers blk, evicting the oldest orphan if the cache is full.
func (c *orphanCache) Add(blk *chaintypes.Block) {
	c.mu.Lock()
	defer c.mu.Unlock()

	hash := blk.Hash()
	if _, exists := c.byHash[hash]; exists {
		return
	}
	if c.order.Len() >= c.maxItems {
		c.evictOldestLocked()
	}

	prev := blk.Header.PreviousHash
	c.byPrev[prev] = append(c.byPrev[prev], blk)
	c.byHash[hash] = c.order.PushBack(hash)
}

func (c *orphanCache) evictOldestLocked() {
	front := c.order.Front()
	if front == nil {
		return
	}
	hash := front.Value.(chaintypes.Hash)
	c.order.Remove(front)
	delete(c.byHash, hash)
	for prev, blocks := range c.byPrev {
		for i, b := range blocks {
			if b.Hash() == hash {
				c.byPrev[prev] = append(blocks[:i], blocks[i+1:]...)
				if len(c.byPrev[prev]) == 0 {
					delete(c.byPrev, prev)
				}
				return
			}
		}
	}
}

// TakeChildren removes and returns every orphan waiting on parentHash,
// for the caller to retry processing now that the parent is known.
func (c *orphanCache) TakeChildren(parentHash chaintypes.Hash) []*chaintypes.Block {
	c.mu.Lock()
	defer c.mu.Unlock()

	blocks := c.byPrev[parentHash]
	if len(blocks) == 0 {
		return nil
	}
	delete(c.byPrev, parentHash)
	for _, b := range blocks {
		hash := b.Hash()
		if el, ok := c.byHash[hash]; ok {
			c.order.Remove(el)
			delete(c.byHash, hash)
		}
	}
	return blocks
}

// Len reports the number of buffered orphans, for metrics.
func (c *orphanCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
