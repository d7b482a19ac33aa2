package chain

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/grinchain/node/internal/blocksums"
	"github.com/grinchain/node/internal/chaintypes"
	"github.com/grinchain/node/internal/store"
	"github.com/grinchain/node/internal/txhashset"
)

// ErrHorizonExceeded is returned when a reorg's common ancestor sits
// deeper than chaincfg.Params.CutThroughHorizon blocks behind the
// current head, whose pre-ancestor data may already be pruned (spec
// §4.8 step 1).
var ErrHorizonExceeded = errors.New("reorg common ancestor is beyond the cut-through horizon")

// tryAdvance decides what blk's arrival means for the chain head (spec
// §4.7 "Head update" / §4.8): the first block ever accepted becomes the
// genesis head directly; a block whose total difficulty exceeds the
// current head's triggers a (possibly zero-depth, i.e. plain linear
// extension) reorg; an equal total difficulty keeps the existing head
// (first-seen wins); a lesser one is left recorded as a side branch
// with no further txhashset work.
func (c *Chain) tryAdvance(blk *chaintypes.Block) error {
	head, err := c.store.Head()
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return newErr(KindTransient, "read head", err)
		}
		return c.reorgTo(blk)
	}

	if blk.Header.TotalDifficulty <= head.TotalDifficulty {
		return nil
	}
	return c.reorgTo(blk)
}

// reorgTo rewinds to the common ancestor of the current head and blk,
// then re-applies every block on blk's branch (including blk itself) in
// height order through the standard apply path, committing only if the
// whole branch validates (spec §4.8).
func (c *Chain) reorgTo(blk *chaintypes.Block) error {
	newTipHash := blk.Hash()
	ancestor, branchHashes, err := c.commonAncestor(newTipHash)
	if err != nil {
		return err
	}

	ancestorHeader, err := c.parentHeader(ancestor)
	if err != nil {
		return newErr(KindCorruption, "read ancestor header", err)
	}

	if head, herr := c.store.Head(); herr == nil {
		if head.Height > ancestorHeader.Height && head.Height-ancestorHeader.Height > c.params.CutThroughHorizon {
			return newErr(KindValidation, "reorg depth check", ErrHorizonExceeded)
		}
	}

	reAdd, oldBranchHeights, err := c.collectReAdd(ancestorHeader, newTipHash)
	if err != nil {
		return err
	}

	batch, err := c.store.Begin()
	if err != nil {
		return newErr(KindTransient, "begin reorg batch", err)
	}

	applyErr := c.ths.Extending(batch, c.params, func(ext *txhashset.Extension) error {
		if err := ext.Rewind(ancestorHeader, reAdd); err != nil {
			return fmt.Errorf("reorg: rewind to ancestor: %w", err)
		}
		for _, height := range oldBranchHeights {
			if err := ext.Batch().DeleteHeaderByHeight(height); err != nil {
				return fmt.Errorf("reorg: clear old header_by_height[%d]: %w", height, err)
			}
		}

		sums := blocksums.Genesis()
		if ancestorHeader.Height != genesisParent.Height {
			if s, err := ext.Batch().GetBlockSums(ancestor); err == nil {
				sums = *s
			} else if !errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("reorg: read ancestor sums: %w", err)
			}
		}

		for _, h := range branchHashes {
			branchBlk := blk
			if h != newTipHash {
				branchBlk, err = c.store.GetBlock(h)
				if err != nil {
					return fmt.Errorf("reorg: load branch block %x: %w", h[:8], err)
				}
			}

			if err := ext.ApplyBlock(branchBlk); err != nil {
				return fmt.Errorf("reorg: apply block %x: %w", h[:8], err)
			}

			sums, err = blocksums.ApplyBlock(sums, branchBlk, reward(c.params, branchBlk.Header.Height))
			if err != nil {
				return fmt.Errorf("reorg: apply block sums %x: %w", h[:8], err)
			}
			if err := blocksums.VerifyKernelSum(sums, branchBlk.Header.TotalKernelOffset); err != nil {
				return fmt.Errorf("reorg: kernel sum %x: %w", h[:8], err)
			}
			if err := ext.Batch().PutBlockSums(h, &sums); err != nil {
				return fmt.Errorf("reorg: store block sums %x: %w", h[:8], err)
			}
			if err := ext.Batch().SetHeaderByHeight(branchBlk.Header.Height, h); err != nil {
				return fmt.Errorf("reorg: index header_by_height[%d]: %w", branchBlk.Header.Height, err)
			}
		}

		newHead := chaintypes.FromHeader(&blk.Header)
		if err := ext.Batch().SetHead(newHead); err != nil {
			return fmt.Errorf("reorg: set head: %w", err)
		}
		if err := ext.Batch().SetHeaderHead(newHead); err != nil {
			return fmt.Errorf("reorg: set header head: %w", err)
		}
		// Checkpoint the block before the new tip, so a crash mid-apply
		// re-validates from a known-good state on restart (spec §4.8 step 5).
		// Genesis has no predecessor to checkpoint against.
		if blk.Header.PreviousHash != chaintypes.ZeroHash {
			prevTip := chaintypes.Tip{Hash: blk.Header.PreviousHash}
			if prevHdr, err := ext.Batch().GetHeader(blk.Header.PreviousHash); err == nil {
				prevTip = chaintypes.FromHeader(prevHdr)
			}
			if err := ext.Batch().SetCheckpoint(prevTip); err != nil {
				return fmt.Errorf("reorg: set checkpoint: %w", err)
			}
		}
		return nil
	})

	if applyErr != nil {
		c.log.Info("chain: reorg rolled back", zap.Error(applyErr))
		return applyErr
	}
	return nil
}

// commonAncestor walks back from newTipHash via stored PreviousHash
// pointers until it reaches a hash that is already the main-chain
// header at its height (or the zero sentinel, meaning the new branch
// reaches back past genesis itself). It returns that ancestor hash and
// every hash strictly after it on the new branch, height-ascending.
func (c *Chain) commonAncestor(newTipHash chaintypes.Hash) (chaintypes.Hash, []chaintypes.Hash, error) {
	var branch []chaintypes.Hash
	cur := newTipHash
	for {
		h, err := c.store.GetHeader(cur)
		if err != nil {
			return chaintypes.Hash{}, nil, newErr(KindCorruption, "walk new branch", err)
		}
		if mainHash, mErr := c.store.GetHeaderByHeight(h.Height); mErr == nil && mainHash == cur {
			reverseHashes(branch)
			return cur, branch, nil
		}
		branch = append(branch, cur)
		if h.PreviousHash == chaintypes.ZeroHash {
			reverseHashes(branch)
			return chaintypes.ZeroHash, branch, nil
		}
		cur = h.PreviousHash
	}
}

// collectReAdd gathers every output that the OLD main chain's blocks
// between ancestor (exclusive) and the current head (inclusive) spent,
// restricted to outputs created at or before the ancestor — those are
// exactly the UTXOs the rewind's bitmap truncation does not already
// restore on its own (spec §4.5 rewind, §4.8 step 2). It also returns
// the old branch's heights, so the caller can clear their
// header_by_height entries.
func (c *Chain) collectReAdd(ancestorHeader *chaintypes.BlockHeader, newTipHash chaintypes.Hash) ([]chaintypes.CommitPos, []uint64, error) {
	head, err := c.store.Head()
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, nil
		}
		return nil, nil, newErr(KindTransient, "read head for reorg", err)
	}

	var reAdd []chaintypes.CommitPos
	var heights []uint64
	for height := ancestorHeader.Height + 1; height <= head.Height; height++ {
		oldHash, err := c.store.GetHeaderByHeight(height)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return nil, nil, newErr(KindCorruption, "read old header_by_height", err)
		}
		if oldHash == newTipHash {
			continue
		}
		heights = append(heights, height)

		spent, err := c.store.GetSpentIndex(oldHash)
		if err != nil {
			return nil, nil, newErr(KindCorruption, "read old spent_index", err)
		}
		for _, cp := range spent {
			if cp.Pos <= ancestorHeader.OutputMMRSize {
				reAdd = append(reAdd, cp)
			}
		}
	}
	return reAdd, heights, nil
}

func reverseHashes(s []chaintypes.Hash) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
