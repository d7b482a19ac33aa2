package store

import (
	"fmt"

	"go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/grinchain/node/internal/chaintypes"
	"github.com/grinchain/node/internal/codec"
)

// Batch is a single writer's in-flight transaction. Every Put/Delete is
// applied to bbolt's copy-on-write page cache immediately, but stays
// invisible to readers (and to a fresh Batch) until Commit returns nil;
// Rollback discards the whole transaction (spec §4.4).
type Batch struct {
	tx  *bbolt.Tx
	log *zap.Logger
}

// Commit makes every write in the batch atomically visible.
func (b *Batch) Commit() error {
	if err := b.tx.Commit(); err != nil {
		return fmt.Errorf("store: commit batch: %w", err)
	}
	return nil
}

// Rollback discards every write in the batch.
func (b *Batch) Rollback() error {
	if err := b.tx.Rollback(); err != nil && err != bbolt.ErrTxClosed {
		return fmt.Errorf("store: rollback batch: %w", err)
	}
	return nil
}

func (b *Batch) bucket(name []byte) *bbolt.Bucket { return b.tx.Bucket(name) }

// PutBlock stores a full block body.
func (b *Batch) PutBlock(blk *chaintypes.Block) error {
	hash := blk.Hash()
	data, err := codec.Encode(codecVersion, blk)
	if err != nil {
		return fmt.Errorf("store: encode block %x: %w", hash[:8], err)
	}
	return b.bucket(bucketBlocks).Put(hash[:], data)
}

// DeleteBlock prunes a block body past the horizon (spec §4.4 item 1),
// leaving the header and index entries intact.
func (b *Batch) DeleteBlock(hash chaintypes.Hash) error {
	return b.bucket(bucketBlocks).Delete(hash[:])
}

// PutHeader stores a header, keyed by its own hash.
func (b *Batch) PutHeader(h *chaintypes.BlockHeader) error {
	hash := h.Hash()
	data, err := codec.Encode(codecVersion, h)
	if err != nil {
		return fmt.Errorf("store: encode header %x: %w", hash[:8], err)
	}
	return b.bucket(bucketHeaders).Put(hash[:], data)
}

// SetHeaderByHeight records hash as the main-chain header at height.
func (b *Batch) SetHeaderByHeight(height uint64, hash chaintypes.Hash) error {
	return b.bucket(bucketHeaderByHeight).Put(heightKey(height), hash[:])
}

// DeleteHeaderByHeight removes the main-chain index entry at height,
// used when a reorg's rewind un-mains a height (spec §4.8).
func (b *Batch) DeleteHeaderByHeight(height uint64) error {
	return b.bucket(bucketHeaderByHeight).Delete(heightKey(height))
}

// PutBlockSums stores the running homomorphic sums as of hash.
func (b *Batch) PutBlockSums(hash chaintypes.Hash, sums *chaintypes.BlockSums) error {
	data, err := codec.Encode(codecVersion, sums)
	if err != nil {
		return fmt.Errorf("store: encode block sums %x: %w", hash[:8], err)
	}
	return b.bucket(bucketBlockSums).Put(hash[:], data)
}

// AppendOutputPos appends pos to commit's version-ordered position
// history (spec §4.4 item 5 / SPEC_FULL supplement #4): newest-last.
func (b *Batch) AppendOutputPos(commit [33]byte, pos chaintypes.CommitPos) error {
	bucket := b.bucket(bucketOutputPos)
	var list commitPosList
	if raw := bucket.Get(commit[:]); raw != nil {
		if err := codec.Decode(raw, codecVersion, codec.ModeFull, &list); err != nil {
			return fmt.Errorf("store: decode output_pos %x: %w", commit[:8], err)
		}
	}
	list.Entries = append(list.Entries, pos)
	data, err := codec.Encode(codecVersion, &list)
	if err != nil {
		return fmt.Errorf("store: encode output_pos %x: %w", commit[:8], err)
	}
	return bucket.Put(commit[:], data)
}

// TrimOutputPos removes every history entry whose Pos is >= fromPos,
// undoing AppendOutputPos calls made by extensions being rewound past
// fromPos (spec §4.5 Extension.rewind).
func (b *Batch) TrimOutputPos(commit [33]byte, fromPos uint64) error {
	bucket := b.bucket(bucketOutputPos)
	raw := bucket.Get(commit[:])
	if raw == nil {
		return nil
	}
	var list commitPosList
	if err := codec.Decode(raw, codecVersion, codec.ModeFull, &list); err != nil {
		return fmt.Errorf("store: decode output_pos %x: %w", commit[:8], err)
	}
	kept := list.Entries[:0]
	for _, e := range list.Entries {
		if e.Pos < fromPos {
			kept = append(kept, e)
		}
	}
	if len(kept) == 0 {
		return bucket.Delete(commit[:])
	}
	list.Entries = kept
	data, err := codec.Encode(codecVersion, &list)
	if err != nil {
		return fmt.Errorf("store: encode output_pos %x: %w", commit[:8], err)
	}
	return bucket.Put(commit[:], data)
}

// PutSpentIndex records the outputs that the block at hash spent, so a
// later rewind can re-add them to the UTXO bitmap (spec §4.4 item 6).
func (b *Batch) PutSpentIndex(hash chaintypes.Hash, spent []chaintypes.CommitPos) error {
	list := commitPosList{Entries: spent}
	data, err := codec.Encode(codecVersion, &list)
	if err != nil {
		return fmt.Errorf("store: encode spent_index %x: %w", hash[:8], err)
	}
	return b.bucket(bucketSpentIndex).Put(hash[:], data)
}

// SetHead advances the body-chain tip.
func (b *Batch) SetHead(tip chaintypes.Tip) error { return b.putTip(metaKeyHead, tip) }

// SetHeaderHead advances the header-chain tip.
func (b *Batch) SetHeaderHead(tip chaintypes.Tip) error { return b.putTip(metaKeyHeaderHead, tip) }

// SetSyncHead advances the in-progress sync chain's tip.
func (b *Batch) SetSyncHead(tip chaintypes.Tip) error { return b.putTip(metaKeySyncHead, tip) }

// SetCheckpoint records the checkpoint used for crash recovery on
// startup (SPEC_FULL supplement #6).
func (b *Batch) SetCheckpoint(tip chaintypes.Tip) error {
	return b.putTip(metaKeyLastCheckpoint, tip)
}

func (b *Batch) putTip(key []byte, tip chaintypes.Tip) error {
	data, err := codec.Encode(codecVersion, &tip)
	if err != nil {
		return fmt.Errorf("store: encode tip %s: %w", key, err)
	}
	return b.bucket(bucketMeta).Put(key, data)
}

// --- read-through accessors, scoped to this batch's in-flight snapshot ---
// These let a writer observe its own uncommitted writes mid-batch (e.g.
// the Pipeline looking up output_pos for an input spent earlier in the
// same block being applied).

// GetHeader reads a header visible within this batch's transaction.
func (b *Batch) GetHeader(hash chaintypes.Hash) (*chaintypes.BlockHeader, error) {
	raw := b.bucket(bucketHeaders).Get(hash[:])
	if raw == nil {
		return nil, ErrNotFound
	}
	var h chaintypes.BlockHeader
	if err := codec.Decode(raw, codecVersion, codec.ModeFull, &h); err != nil {
		return nil, fmt.Errorf("store: decode header %x: %w", hash[:8], err)
	}
	return &h, nil
}

// GetOutputPos reads the newest recorded position for commit visible
// within this batch's transaction; whether it is still unspent is not
// checked here.
func (b *Batch) GetOutputPos(commit [33]byte) (*chaintypes.CommitPos, error) {
	raw := b.bucket(bucketOutputPos).Get(commit[:])
	if raw == nil {
		return nil, ErrNotFound
	}
	var list commitPosList
	if err := codec.Decode(raw, codecVersion, codec.ModeFull, &list); err != nil {
		return nil, fmt.Errorf("store: decode output_pos %x: %w", commit[:8], err)
	}
	if len(list.Entries) == 0 {
		return nil, ErrNotFound
	}
	return &list.Entries[len(list.Entries)-1], nil
}

// GetBlockSums reads block sums visible within this batch's transaction.
func (b *Batch) GetBlockSums(hash chaintypes.Hash) (*chaintypes.BlockSums, error) {
	raw := b.bucket(bucketBlockSums).Get(hash[:])
	if raw == nil {
		return nil, ErrNotFound
	}
	var sums chaintypes.BlockSums
	if err := codec.Decode(raw, codecVersion, codec.ModeFull, &sums); err != nil {
		return nil, fmt.Errorf("store: decode block sums %x: %w", hash[:8], err)
	}
	return &sums, nil
}
