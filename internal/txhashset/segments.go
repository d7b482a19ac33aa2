package txhashset

import (
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/grinchain/node/internal/chaintypes"
	"github.com/grinchain/node/internal/codec"
	"github.com/grinchain/node/internal/mmr"
)

// TreeKind identifies one of the three MMR trees for segment-addressed
// access (spec §4.9: PIBD fetches each tree independently).
type TreeKind uint8

const (
	TreeOutput TreeKind = iota
	TreeRangeproof
	TreeKernel
)

func (t *TxHashSet) treeAndHashes(kind TreeKind) (*mmr.Tree, interface {
	HashAt(pos uint64) (mmr.Hash, bool, error)
	Size() uint64
}) {
	switch kind {
	case TreeOutput:
		return t.outputTree, t.outputHashes
	case TreeRangeproof:
		return t.rangeproofTree, t.rangeproofHashes
	case TreeKernel:
		return t.kernelTree, t.kernelHashes
	default:
		panic(fmt.Sprintf("txhashset: unknown tree kind %d", kind))
	}
}

// TreeSize returns the current size (in MMR positions) of the given tree.
func (t *TxHashSet) TreeSize(kind TreeKind) uint64 {
	_, backend := t.treeAndHashes(kind)
	return backend.Size()
}

// TreeHashAt returns the hash recorded at pos in the given tree, or
// ok=false if pos has never been assigned a hash.
func (t *TxHashSet) TreeHashAt(kind TreeKind, pos uint64) (mmr.Hash, bool, error) {
	_, backend := t.treeAndHashes(kind)
	return backend.HashAt(pos)
}

// TreeRootAt computes the bagged root of the given tree at historical
// size n, used to verify a segment's proof against an archive header
// whose MMR sizes may be behind the tree's current size.
func (t *TxHashSet) TreeRootAt(kind TreeKind, n uint64) (chaintypes.Hash, error) {
	tree, _ := t.treeAndHashes(kind)
	h, err := tree.RootAt(n)
	return chaintypes.Hash(h), err
}

// OutputIdentifierAt decodes the output-MMR leaf at 0-based leaf index
// idx from the output data file.
func (t *TxHashSet) OutputIdentifierAt(idx uint64) (chaintypes.OutputIdentifier, error) {
	raw, err := t.outputData.ReadAt(int64(idx))
	if err != nil {
		return chaintypes.OutputIdentifier{}, err
	}
	var out chaintypes.OutputIdentifier
	if err := codec.Decode(raw, extVersion, codec.ModeFull, &out); err != nil {
		return chaintypes.OutputIdentifier{}, fmt.Errorf("txhashset: decode output identifier %d: %w", idx, err)
	}
	return out, nil
}

// RangeproofAt returns the raw rangeproof bytes at 0-based leaf index idx.
func (t *TxHashSet) RangeproofAt(idx uint64) ([]byte, error) {
	return t.rangeproofData.ReadAt(int64(idx))
}

// KernelAt decodes the kernel at 0-based leaf index idx from the kernel
// data file.
func (t *TxHashSet) KernelAt(idx uint64) (chaintypes.TxKernel, error) {
	raw, err := t.kernelData.ReadAt(int64(idx))
	if err != nil {
		return chaintypes.TxKernel{}, err
	}
	var k chaintypes.TxKernel
	if err := codec.Decode(raw, extVersion, codec.ModeFull, &k); err != nil {
		return chaintypes.TxKernel{}, fmt.Errorf("txhashset: decode kernel %d: %w", idx, err)
	}
	return k, nil
}

// LeafAlive reports whether the output-MMR leaf at pos is currently live
// (unspent and unpruned).
func (t *TxHashSet) LeafAlive(pos uint64) bool { return t.leafSet.Contains(pos) }

// LeafSetBitmap returns a defensive snapshot of the UTXO bitmap, used to
// build bitmap segments (spec §4.9).
func (t *TxHashSet) LeafSetBitmap() *roaring.Bitmap { return t.leafSet.Snapshot() }

// LoadSegmentData rebuilds the three MMRs, the kernel data file and the
// UTXO bitmap from fully-validated PIBD segment contents (spec §4.9's
// final assembly step). Every hash/data file must be empty when this is
// called — it is only ever used to populate a fresh TxHashSet opened for
// fast sync, never to append to a chain already being extended block by
// block. Outputs/rangeproofs/kernels are pushed strictly in ascending
// leaf order; dead (spent) output leaves are pushed via their recorded
// hash directly, since their original identifier bytes were never kept.
func (t *TxHashSet) LoadSegmentData(
	outputs map[uint64]chaintypes.OutputIdentifier,
	outputDeadHashes map[uint64]mmr.Hash,
	rangeproofs map[uint64][]byte,
	rangeproofDeadHashes map[uint64]mmr.Hash,
	kernels map[uint64]chaintypes.TxKernel,
	alive *roaring.Bitmap,
	numLeaves uint64,
) error {
	if t.outputTree.Size() != 0 || t.rangeproofTree.Size() != 0 || t.kernelTree.Size() != 0 {
		return fmt.Errorf("txhashset: LoadSegmentData requires an empty tree, got sizes (%d,%d,%d)",
			t.outputTree.Size(), t.rangeproofTree.Size(), t.kernelTree.Size())
	}

	for idx := uint64(0); idx < numLeaves; idx++ {
		if h, ok := outputDeadHashes[idx]; ok {
			if _, err := t.outputTree.PushHash(h); err != nil {
				return fmt.Errorf("txhashset: append dead output hash %d: %w", idx, err)
			}
			t.outputData.Append(nil)
		} else {
			ident, ok := outputs[idx]
			if !ok {
				return fmt.Errorf("txhashset: missing output leaf %d in assembled segments", idx)
			}
			identBytes, err := codec.Encode(extVersion, &ident)
			if err != nil {
				return fmt.Errorf("txhashset: encode output identifier %d: %w", idx, err)
			}
			if _, err := t.outputTree.Push(identBytes); err != nil {
				return fmt.Errorf("txhashset: push output leaf %d: %w", idx, err)
			}
			t.outputData.Append(identBytes)
		}

		if h, ok := rangeproofDeadHashes[idx]; ok {
			if _, err := t.rangeproofTree.PushHash(h); err != nil {
				return fmt.Errorf("txhashset: append dead rangeproof hash %d: %w", idx, err)
			}
			t.rangeproofData.Append(nil)
		} else {
			proof, ok := rangeproofs[idx]
			if !ok {
				return fmt.Errorf("txhashset: missing rangeproof leaf %d in assembled segments", idx)
			}
			if _, err := t.rangeproofTree.Push(proof); err != nil {
				return fmt.Errorf("txhashset: push rangeproof leaf %d: %w", idx, err)
			}
			t.rangeproofData.Append(proof)
		}
	}

	kernelCount := uint64(len(kernels))
	for idx := uint64(0); idx < kernelCount; idx++ {
		k, ok := kernels[idx]
		if !ok {
			return fmt.Errorf("txhashset: missing kernel leaf %d in assembled segments", idx)
		}
		kBytes, err := codec.Encode(extVersion, &k)
		if err != nil {
			return fmt.Errorf("txhashset: encode kernel %d: %w", idx, err)
		}
		if _, err := t.kernelTree.Push(kBytes); err != nil {
			return fmt.Errorf("txhashset: push kernel leaf %d: %w", idx, err)
		}
		t.kernelData.Append(kBytes)
	}

	t.leafSet.ReplaceAll(alive)
	return nil
}
