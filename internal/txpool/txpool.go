// Package txpool implements the transaction pool (spec §4.10, C10): a
// mempool of transactions eligible for block inclusion and a stempool
// holding transactions still in Dandelion's single-path "stem" phase.
// Structurally grounded on the teacher's orphanCache/BoltStore
// discipline in internal/chain (a mutex-guarded in-memory index plus
// plain value types) rather than any teacher mempool, since p2pool-go
// has no transaction relay of its own — this is domain logic built the
// way the rest of this repo builds a small concurrent index.
package txpool

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/grinchain/node/internal/chaincfg"
	"github.com/grinchain/node/internal/chaintypes"
	"github.com/grinchain/node/internal/metrics"
)

// SourceTag identifies where a pool entry came from: the node itself
// (SubmitLocal) or a peer relay (SubmitStem). No pool code branches on
// it; there is no memory-pressure eviction.
type SourceTag uint8

const (
	SourceLocal SourceTag = iota
	SourcePeer
)

// Entry is one transaction held in either pool (spec §4.10: "(tx,
// received_at, source_tag)").
type Entry struct {
	Tx         *chaintypes.Transaction
	Hash       chaintypes.Hash
	ReceivedAt time.Time
	Source     SourceTag

	// Embargo is when a stempool entry becomes eligible to fluff; zero
	// for mempool entries (spec §4.10 Dandelion monitor).
	Embargo time.Time
}

// Pool holds the mempool and stempool together: the stempool is a
// strict subset of in-flight transactions not yet broadcast, and an
// entry moves mempool<-stempool exactly once, on fluff (spec §4.10).
type Pool struct {
	log    *zap.Logger
	params chaincfg.Params

	mu       sync.Mutex
	mempool  map[chaintypes.Hash]*Entry
	stempool map[chaintypes.Hash]*Entry
}

// New builds an empty pool.
func New(params chaincfg.Params, log *zap.Logger) *Pool {
	if log == nil {
		log = zap.NewNop()
	}
	return &Pool{
		log:      log,
		params:   params,
		mempool:  make(map[chaintypes.Hash]*Entry),
		stempool: make(map[chaintypes.Hash]*Entry),
	}
}

// Has reports whether hash is already held in either pool.
func (p *Pool) Has(hash chaintypes.Hash) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.mempool[hash]; ok {
		return true
	}
	_, ok := p.stempool[hash]
	return ok
}

// addMempool inserts e directly into the mempool (bypassing stem), used
// for locally-originated transactions and for fluffed stem entries.
func (p *Pool) addMempool(e *Entry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mempool[e.Hash] = e
	metrics.MempoolSize.Set(float64(len(p.mempool)))
}

// addStem inserts e into the stempool with the given embargo deadline.
func (p *Pool) addStem(e *Entry, embargo time.Duration) {
	e.Embargo = e.ReceivedAt.Add(embargo)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stempool[e.Hash] = e
	metrics.StempoolSize.Set(float64(len(p.stempool)))
}

// Mempool returns a snapshot of every mempool entry's transaction.
func (p *Pool) Mempool() []*Entry {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Entry, 0, len(p.mempool))
	for _, e := range p.mempool {
		out = append(out, e)
	}
	return out
}

// Remove drops hash from both pools, called once its transaction is
// included in a committed block or superseded by a conflicting spend.
func (p *Pool) Remove(hash chaintypes.Hash) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.mempool, hash)
	delete(p.stempool, hash)
	metrics.MempoolSize.Set(float64(len(p.mempool)))
	metrics.StempoolSize.Set(float64(len(p.stempool)))
}

// ReconcileBlock drops every pool entry whose input set now conflicts
// with a just-committed block: any input the block itself spends, or
// any output the block itself created (a duplicate-output collision),
// invalidates a pool entry sharing that commitment (spec §4.10's
// UTXO-view admission check, applied in reverse at commit time).
func (p *Pool) ReconcileBlock(blk *chaintypes.Block) {
	spent := make(map[[33]byte]struct{}, len(blk.Inputs))
	for _, in := range blk.Inputs {
		spent[in.Commitment] = struct{}{}
	}
	created := make(map[[33]byte]struct{}, len(blk.Outputs))
	for _, out := range blk.Outputs {
		created[out.Commitment] = struct{}{}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for set := range unionSets(p.mempool, p.stempool) {
		entry := set
		conflict := false
		for _, in := range entry.Tx.Inputs {
			if _, ok := spent[in.Commitment]; ok {
				conflict = true
				break
			}
		}
		for _, out := range entry.Tx.Outputs {
			if _, ok := created[out.Commitment]; ok {
				conflict = true
				break
			}
		}
		if conflict {
			delete(p.mempool, entry.Hash)
			delete(p.stempool, entry.Hash)
		}
	}
	metrics.MempoolSize.Set(float64(len(p.mempool)))
	metrics.StempoolSize.Set(float64(len(p.stempool)))
}

func unionSets(a, b map[chaintypes.Hash]*Entry) map[*Entry]struct{} {
	out := make(map[*Entry]struct{}, len(a)+len(b))
	for _, e := range a {
		out[e] = struct{}{}
	}
	for _, e := range b {
		out[e] = struct{}{}
	}
	return out
}

// MineableSet selects a topologically-consistent, weight-bounded subset
// of the mempool for a candidate block at atHeight (spec §4.10 "Mineable
// selection"). Entries are taken greedily in descending fee order, ties
// broken by receipt time, skipping any that would exceed maxWeight or
// share a commitment with one already taken; the selected total fee is
// not guaranteed to be the largest one achievable. The result is
// cut-through ready: callers pass it straight to
// chain.ValidateBody/Extension.ApplyBlock as the block's body.
func (p *Pool) MineableSet(atHeight uint64, maxWeight uint64) []*chaintypes.Transaction {
	entries := p.Mempool()
	sort.Slice(entries, func(i, j int) bool {
		fi, fj := entries[i].Tx.Fee(), entries[j].Tx.Fee()
		if fi != fj {
			return fi > fj
		}
		return entries[i].ReceivedAt.Before(entries[j].ReceivedAt)
	})

	var selected []*chaintypes.Transaction
	var weight uint64
	seenCommit := make(map[[33]byte]struct{})
	for _, e := range entries {
		w := e.Tx.Weight()
		if weight+w > maxWeight {
			continue
		}
		conflict := false
		for _, in := range e.Tx.Inputs {
			if _, ok := seenCommit[in.Commitment]; ok {
				conflict = true
				break
			}
		}
		for _, out := range e.Tx.Outputs {
			if _, ok := seenCommit[out.Commitment]; ok {
				conflict = true
				break
			}
		}
		if conflict {
			continue
		}
		for _, in := range e.Tx.Inputs {
			seenCommit[in.Commitment] = struct{}{}
		}
		for _, out := range e.Tx.Outputs {
			seenCommit[out.Commitment] = struct{}{}
		}
		selected = append(selected, e.Tx)
		weight += w
	}
	return selected
}
