// Package chain implements the block ingestion pipeline (spec §4.7) and
// reorg/fork-choice logic (spec §4.8): the state machine that takes an
// incoming header+body pair, validates it statelessly and against the
// current UTXO set, applies it through a txhashset.Extension, and
// decides whether it becomes the new chain head.
package chain

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/grinchain/node/internal/chaincfg"
	"github.com/grinchain/node/internal/chaintypes"
	"github.com/grinchain/node/internal/store"
	"github.com/grinchain/node/internal/txhashset"
)

// genesisParent is the synthetic "before genesis" header used as the
// parent of any block whose PreviousHash is chaintypes.ZeroHash. Its
// Height is ^uint64(0) so the height-continuity check (prev.Height+1 ==
// header.Height) lands on 0 for genesis via unsigned wraparound, the
// same trick the teacher's sharechain uses for a share's "first in the
// chain" predecessor.
var genesisParent = chaintypes.BlockHeader{Height: ^uint64(0)}

// Chain drives block ingestion against a single store + txhashset pair.
// Exactly one ProcessBlock call runs at a time (mu serializes them),
// mirroring the single-writer contract store.Store and txhashset.TxHashSet
// already enforce individually.
type Chain struct {
	log     *zap.Logger
	store   *store.Store
	ths     *txhashset.TxHashSet
	params  chaincfg.Params
	dc      *DifficultyCalculator
	orphans *orphanCache

	mu sync.Mutex
}

// New builds a Chain over an already-open store and txhashset.
func New(st *store.Store, ths *txhashset.TxHashSet, params chaincfg.Params, log *zap.Logger) *Chain {
	if log == nil {
		log = zap.NewNop()
	}
	return &Chain{
		log:     log,
		store:   st,
		ths:     ths,
		params:  params,
		dc:      NewDifficultyCalculator(60*time.Second, params.BlockTimeWindow),
		orphans: newOrphanCache(chaincfg.MaxOrphans),
	}
}

// ProcessBlock runs blk through the full ingestion state machine (spec
// §4.7). A nil return means blk (and, transitively, any orphan it
// unblocked) is now part of durable state, either as the new head or as
// a recorded side branch.
func (c *Chain) ProcessBlock(blk *chaintypes.Block) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.processBlockLocked(blk)
}

func (c *Chain) processBlockLocked(blk *chaintypes.Block) error {
	hash := blk.Hash()
	if c.store.HasBlock(hash) {
		return newErr(KindUnfit, "duplicate block", ErrDuplicateBlock)
	}

	knownHeader := c.store.HasHeader(hash)
	if !knownHeader {
		prev, err := c.parentHeader(blk.Header.PreviousHash)
		if err != nil {
			c.orphans.Add(blk)
			return newErr(KindUnfit, "orphan block", ErrOrphan)
		}
		recent, err := c.recentHeaders(blk.Header.PreviousHash, c.params.BlockTimeWindow)
		if err != nil {
			return err
		}
		if err := ValidateHeader(&blk.Header, prev, c.params, recent, c.dc, time.Now()); err != nil {
			return err
		}
	}

	if err := ValidateBody(blk, c.params); err != nil {
		return err
	}

	if err := c.storeHeaderAndBody(blk, knownHeader); err != nil {
		return err
	}

	if err := c.tryAdvance(blk); err != nil {
		return err
	}

	for _, child := range c.orphans.TakeChildren(hash) {
		if err := c.processBlockLocked(child); err != nil {
			childHash := child.Hash()
			c.log.Debug("chain: orphan retry failed", zap.Error(err), zap.Binary("hash", childHash[:]))
		}
	}
	return nil
}

// parentHeader resolves prevHash to the header it names, or the
// synthetic genesis parent when prevHash is the zero sentinel.
func (c *Chain) parentHeader(prevHash chaintypes.Hash) (*chaintypes.BlockHeader, error) {
	if prevHash == chaintypes.ZeroHash {
		h := genesisParent
		return &h, nil
	}
	return c.store.GetHeader(prevHash)
}

// recentHeaders walks back up to n headers from tipHash, newest first,
// for median-timestamp and difficulty-retarget windows.
func (c *Chain) recentHeaders(tipHash chaintypes.Hash, n int) ([]*chaintypes.BlockHeader, error) {
	var out []*chaintypes.BlockHeader
	cur := tipHash
	for i := 0; i < n && cur != chaintypes.ZeroHash; i++ {
		h, err := c.store.GetHeader(cur)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				break
			}
			return nil, newErr(KindCorruption, "walk recent headers", err)
		}
		out = append(out, h)
		cur = h.PreviousHash
	}
	return out, nil
}

// storeHeaderAndBody persists blk's header (if new) and body
// unconditionally; whether it becomes the head is decided separately by
// tryAdvance, matching spec §4.7's StoreHeader step running before the
// apply-to-extension decision.
func (c *Chain) storeHeaderAndBody(blk *chaintypes.Block, knownHeader bool) error {
	batch, err := c.store.Begin()
	if err != nil {
		return newErr(KindTransient, "begin store batch", err)
	}
	if !knownHeader {
		if err := batch.PutHeader(&blk.Header); err != nil {
			_ = batch.Rollback()
			return newErr(KindTransient, "store header", err)
		}
	}
	if err := batch.PutBlock(blk); err != nil {
		_ = batch.Rollback()
		return newErr(KindTransient, "store block body", err)
	}
	if err := batch.Commit(); err != nil {
		return newErr(KindTransient, "commit header/body batch", err)
	}
	return nil
}

// reward returns the coinbase reward a block at height owes, used by
// reorgTo in reorg.go when applying each branch block's sums.
func reward(params chaincfg.Params, height uint64) uint64 { return params.RewardAt(height) }
