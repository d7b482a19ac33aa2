// Package genesis builds and bootstraps the empty-body block every
// chain starts from. A genesis header cannot pass the normal ingestion
// pipeline's proof-of-work check (there is no predecessor to grind a
// target against), so it is written directly into the store and
// txhashset rather than run through chain.ProcessBlock, the same way
// the teacher's sharechain treats a share with a zero PrevShareHash as
// a special first case rather than a validated one.
package genesis

import (
	"fmt"
	"time"

	"github.com/grinchain/node/internal/blocksums"
	"github.com/grinchain/node/internal/chaincfg"
	"github.com/grinchain/node/internal/chaintypes"
	"github.com/grinchain/node/internal/mmr"
	"github.com/grinchain/node/internal/store"
	"github.com/grinchain/node/internal/txhashset"
)

// Block returns the canonical empty-body block for params, stamped with
// the empty bag-of-peaks root every fresh triple-MMR (and the ephemeral,
// zero-leaf UTXO bitmap MMR) starts at.
func Block(params chaincfg.Params, timestamp time.Time) *chaintypes.Block {
	emptyRoot := chaintypes.Hash(mmr.BagPeaks(0, nil))
	return &chaintypes.Block{
		Header: chaintypes.BlockHeader{
			Height:            0,
			PreviousHash:      chaintypes.ZeroHash,
			Timestamp:         timestamp.Unix(),
			TotalDifficulty:   1,
			OutputMMRSize:     0,
			RangeproofMMRSize: 0,
			KernelMMRSize:     0,
			OutputRoot:        emptyRoot,
			RangeproofRoot:    emptyRoot,
			KernelRoot:        emptyRoot,
			UTXOBitmapRoot:    emptyRoot,
			Version:           params.VersionAt(0),
		},
	}
}

// Bootstrap writes blk into st and ths as height 0 and sets every chain
// tip to it, if and only if st has no head yet. It is a no-op (and
// returns nil) on a store that already has a genesis.
func Bootstrap(st *store.Store, ths *txhashset.TxHashSet, params chaincfg.Params, blk *chaintypes.Block) error {
	if _, err := st.Head(); err == nil {
		return nil
	} else if err != store.ErrNotFound {
		return fmt.Errorf("genesis: check existing head: %w", err)
	}

	hash := blk.Hash()

	// Extending owns and commits its own batch (txhashset.go's Extending
	// doc comment), so the txhashset write and the store writes below
	// use two separate batches, the same split chain.storeHeaderAndBody
	// and chain.tryAdvance keep for every later block.
	extBatch, err := st.Begin()
	if err != nil {
		return fmt.Errorf("genesis: begin txhashset batch: %w", err)
	}
	if err := ths.Extending(extBatch, params, func(ext *txhashset.Extension) error {
		return ext.ApplyBlock(blk)
	}); err != nil {
		return fmt.Errorf("genesis: apply to txhashset: %w", err)
	}

	batch, err := st.Begin()
	if err != nil {
		return fmt.Errorf("genesis: begin store batch: %w", err)
	}
	if err := batch.PutBlock(blk); err != nil {
		batch.Rollback()
		return fmt.Errorf("genesis: put block: %w", err)
	}
	if err := batch.PutHeader(&blk.Header); err != nil {
		batch.Rollback()
		return fmt.Errorf("genesis: put header: %w", err)
	}
	if err := batch.SetHeaderByHeight(0, hash); err != nil {
		batch.Rollback()
		return fmt.Errorf("genesis: index header by height: %w", err)
	}
	sums := blocksums.Genesis()
	if err := batch.PutBlockSums(hash, &sums); err != nil {
		batch.Rollback()
		return fmt.Errorf("genesis: put block sums: %w", err)
	}

	tip := chaintypes.Tip{Hash: hash, PrevHash: chaintypes.ZeroHash, Height: 0, TotalDifficulty: blk.Header.TotalDifficulty}
	if err := batch.SetHead(tip); err != nil {
		batch.Rollback()
		return fmt.Errorf("genesis: set head: %w", err)
	}
	if err := batch.SetHeaderHead(tip); err != nil {
		batch.Rollback()
		return fmt.Errorf("genesis: set header head: %w", err)
	}
	if err := batch.SetCheckpoint(tip); err != nil {
		batch.Rollback()
		return fmt.Errorf("genesis: set checkpoint: %w", err)
	}

	return batch.Commit()
}
