package txhashset

import (
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/grinchain/node/internal/chaincfg"
	"github.com/grinchain/node/internal/chaintypes"
	"github.com/grinchain/node/internal/codec"
	"github.com/grinchain/node/internal/mmr"
	"github.com/grinchain/node/internal/store"
)

// extVersion is the codec version used for leaf payloads stored in the
// output/rangeproof data files and for kernel MMR leaves.
const extVersion = codec.Version(1)

// Extension is a single, exclusively-held writable view over a
// TxHashSet's three MMRs, UTXO bitmap and prune list (spec §4.5). It is
// only ever obtained through TxHashSet.Extending/ExtendingReadonly,
// which own committing or rolling it back.
type Extension struct {
	ths    *TxHashSet
	batch  *store.Batch
	params chaincfg.Params

	outputSizeAtStart     uint64
	rangeproofSizeAtStart uint64
	kernelSizeAtStart     uint64
	leafSnapshot          *roaring.Bitmap
}

// Batch returns the store batch this extension writes its auxiliary
// index entries (output_pos, spent_index) through.
func (e *Extension) Batch() *store.Batch { return e.batch }

// ApplyBlock applies a fully cut-through block body to the MMRs and UTXO
// bitmap, then checks the resulting sizes and roots against the block's
// own header (spec §4.5 apply_block).
func (e *Extension) ApplyBlock(blk *chaintypes.Block) error {
	height := blk.Header.Height
	spent := make([]chaintypes.CommitPos, 0, len(blk.Inputs))

	for i := range blk.Inputs {
		in := &blk.Inputs[i]
		cp, err := e.batch.GetOutputPos([33]byte(in.Commitment))
		if err != nil || !e.ths.leafSet.Contains(cp.Pos) {
			return fmt.Errorf("txhashset: input %x: %w", in.Commitment[:8], ErrAlreadySpent)
		}
		if !cp.Mature(height, e.params.CoinbaseMaturity) {
			return fmt.Errorf("txhashset: input %x: %w", in.Commitment[:8], ErrImmatureCoinbase)
		}
		e.ths.leafSet.Remove(cp.Pos)
		spent = append(spent, *cp)
	}

	for i := range blk.Outputs {
		out := &blk.Outputs[i]
		if prior, err := e.batch.GetOutputPos([33]byte(out.Commitment)); err == nil && e.ths.leafSet.Contains(prior.Pos) {
			return fmt.Errorf("txhashset: output %x: %w", out.Commitment[:8], ErrDuplicateCommitment)
		}

		ident := out.Identifier()
		identBytes, err := codec.Encode(extVersion, &ident)
		if err != nil {
			return fmt.Errorf("txhashset: encode output identifier: %w", err)
		}
		pos, err := e.ths.outputTree.Push(identBytes)
		if err != nil {
			return fmt.Errorf("txhashset: push output leaf: %w", err)
		}
		e.ths.outputData.Append(identBytes)

		rpPos, err := e.ths.rangeproofTree.Push(out.Rangeproof)
		if err != nil {
			return fmt.Errorf("txhashset: push rangeproof leaf: %w", err)
		}
		e.ths.rangeproofData.Append(out.Rangeproof)
		if rpPos != pos {
			return fmt.Errorf("txhashset: output and rangeproof mmr positions diverged (%d vs %d)", pos, rpPos)
		}

		e.ths.leafSet.Add(pos)
		cp := chaintypes.CommitPos{Pos: pos, Height: height, Features: out.Features}
		if err := e.batch.AppendOutputPos([33]byte(out.Commitment), cp); err != nil {
			return fmt.Errorf("txhashset: record output position: %w", err)
		}
	}

	for i := range blk.Kernels {
		kBytes, err := codec.Encode(extVersion, &blk.Kernels[i])
		if err != nil {
			return fmt.Errorf("txhashset: encode kernel: %w", err)
		}
		if _, err := e.ths.kernelTree.Push(kBytes); err != nil {
			return fmt.Errorf("txhashset: push kernel leaf: %w", err)
		}
		e.ths.kernelData.Append(kBytes)
	}

	if err := e.batch.PutSpentIndex(blk.Hash(), spent); err != nil {
		return fmt.Errorf("txhashset: record spent index: %w", err)
	}

	return e.Validate(&blk.Header, true)
}

// Rewind truncates the three MMRs and UTXO data files back to the sizes
// declared by header, then re-adds to the UTXO bitmap every output in
// reAdd (outputs that were spent by blocks between header and the
// extension's starting tip, gathered by the caller from spent_index;
// spec §4.5 rewind).
func (e *Extension) Rewind(header *chaintypes.BlockHeader, reAdd []chaintypes.CommitPos) error {
	if err := e.ths.outputHashes.Rewind(header.OutputMMRSize); err != nil {
		return fmt.Errorf("txhashset: rewind output hashes: %w", err)
	}
	if err := e.ths.rangeproofHashes.Rewind(header.RangeproofMMRSize); err != nil {
		return fmt.Errorf("txhashset: rewind rangeproof hashes: %w", err)
	}
	if err := e.ths.kernelHashes.Rewind(header.KernelMMRSize); err != nil {
		return fmt.Errorf("txhashset: rewind kernel hashes: %w", err)
	}

	leafCount := int64(mmr.NumLeaves(header.OutputMMRSize))
	if err := e.ths.outputData.Rewind(leafCount); err != nil {
		return fmt.Errorf("txhashset: rewind output data: %w", err)
	}
	if err := e.ths.rangeproofData.Rewind(leafCount); err != nil {
		return fmt.Errorf("txhashset: rewind rangeproof data: %w", err)
	}
	kernelLeafCount := int64(mmr.NumLeaves(header.KernelMMRSize))
	if err := e.ths.kernelData.Rewind(kernelLeafCount); err != nil {
		return fmt.Errorf("txhashset: rewind kernel data: %w", err)
	}

	reAddBitmap := roaring.New()
	for _, cp := range reAdd {
		reAddBitmap.Add(uint32(cp.Pos))
	}
	e.ths.leafSet.Rewind(header.OutputMMRSize, reAddBitmap)

	return nil
}

// Validate checks the extension's current MMR sizes and roots, and the
// UTXO bitmap's own bagged root, against header (spec §3's "the UTXO
// bitmap also has its own Merkle root committed in the header"). When
// fast is false it additionally walks every live UTXO bitmap position
// and confirms its output/rangeproof data records are present, catching
// silent data-file truncation that size/root checks alone would miss
// (spec §4.5 validate(fast)). Kernel excess-signature and rangeproof
// verification are internal/txverify's job, not this storage-layer check.
func (e *Extension) Validate(header *chaintypes.BlockHeader, fast bool) error {
	outSize, rpSize, kSize := e.ths.Sizes()
	if outSize != header.OutputMMRSize || rpSize != header.RangeproofMMRSize || kSize != header.KernelMMRSize {
		return fmt.Errorf("txhashset: %w: sizes (%d,%d,%d) != header (%d,%d,%d)",
			ErrSizeMismatch, outSize, rpSize, kSize,
			header.OutputMMRSize, header.RangeproofMMRSize, header.KernelMMRSize)
	}

	outRoot, rpRoot, kRoot, err := e.ths.Roots()
	if err != nil {
		return err
	}
	if outRoot != header.OutputRoot || rpRoot != header.RangeproofRoot || kRoot != header.KernelRoot {
		return ErrRootMismatch
	}

	bitmapRoot, err := e.ths.BitmapRoot()
	if err != nil {
		return err
	}
	if bitmapRoot != header.UTXOBitmapRoot {
		return ErrRootMismatch
	}

	if fast {
		return nil
	}

	totalLeaves := mmr.NumLeaves(outSize)
	for idx := uint64(0); idx < totalLeaves; idx++ {
		pos := mmr.LeafToPos(idx)
		if !e.ths.leafSet.Contains(pos) {
			continue
		}
		if _, err := e.ths.outputData.ReadAt(int64(idx)); err != nil {
			return fmt.Errorf("txhashset: live output at pos %d missing data record: %w", pos, err)
		}
		if _, err := e.ths.rangeproofData.ReadAt(int64(idx)); err != nil {
			return fmt.Errorf("txhashset: live output at pos %d missing rangeproof record: %w", pos, err)
		}
	}

	for idx := uint64(0); idx < mmr.NumLeaves(kSize); idx++ {
		if _, err := e.ths.kernelData.ReadAt(int64(idx)); err != nil {
			return fmt.Errorf("txhashset: kernel leaf %d missing data record: %w", idx, err)
		}
	}
	return nil
}
