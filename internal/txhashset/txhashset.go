// Package txhashset implements the triple-MMR UTXO set described in
// spec §4.5: an output MMR, a parallel rangeproof MMR, a kernel MMR, and
// a compressed bitmap of which output-MMR leaves are still live. All
// three MMRs and the bitmap are exclusively owned by whichever single
// Extension currently holds them, mirroring the teacher's single-writer
// BoltStore discipline.
package txhashset

import (
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/grinchain/node/internal/chaincfg"
	"github.com/grinchain/node/internal/chaintypes"
	"github.com/grinchain/node/internal/mmr"
	"github.com/grinchain/node/internal/pmmrfile"
	"github.com/grinchain/node/internal/store"
)

// TxHashSet owns the durable state backing the current UTXO set.
type TxHashSet struct {
	log *zap.Logger

	outputHashes     *pmmrfile.HashFile
	outputData       *pmmrfile.DataFile
	rangeproofHashes *pmmrfile.HashFile
	rangeproofData   *pmmrfile.DataFile
	kernelHashes     *pmmrfile.HashFile
	kernelData       *pmmrfile.DataFile

	outputTree     *mmr.Tree
	rangeproofTree *mmr.Tree
	kernelTree     *mmr.Tree

	leafSet   *pmmrfile.LeafSet
	pruneList *pmmrfile.PruneList
}

// Open opens (or creates) the full set of backing files under dir.
func Open(dir string, log *zap.Logger) (*TxHashSet, error) {
	if log == nil {
		log = zap.NewNop()
	}

	outputHashes, err := pmmrfile.OpenHashFile(filepath.Join(dir, "output.hashes"))
	if err != nil {
		return nil, fmt.Errorf("txhashset: open output hash file: %w", err)
	}
	outputData, err := pmmrfile.OpenDataFile(filepath.Join(dir, "output.data"))
	if err != nil {
		return nil, fmt.Errorf("txhashset: open output data file: %w", err)
	}
	rangeproofHashes, err := pmmrfile.OpenHashFile(filepath.Join(dir, "rangeproof.hashes"))
	if err != nil {
		return nil, fmt.Errorf("txhashset: open rangeproof hash file: %w", err)
	}
	rangeproofData, err := pmmrfile.OpenDataFile(filepath.Join(dir, "rangeproof.data"))
	if err != nil {
		return nil, fmt.Errorf("txhashset: open rangeproof data file: %w", err)
	}
	kernelHashes, err := pmmrfile.OpenHashFile(filepath.Join(dir, "kernel.hashes"))
	if err != nil {
		return nil, fmt.Errorf("txhashset: open kernel hash file: %w", err)
	}
	kernelData, err := pmmrfile.OpenDataFile(filepath.Join(dir, "kernel.data"))
	if err != nil {
		return nil, fmt.Errorf("txhashset: open kernel data file: %w", err)
	}
	leafSet, err := pmmrfile.OpenLeafSet(filepath.Join(dir, "output.leafset"))
	if err != nil {
		return nil, fmt.Errorf("txhashset: open leaf set: %w", err)
	}
	pruneList, err := pmmrfile.OpenPruneList(filepath.Join(dir, "output.prunelist"))
	if err != nil {
		return nil, fmt.Errorf("txhashset: open prune list: %w", err)
	}

	ths := &TxHashSet{
		log:              log,
		outputHashes:     outputHashes,
		outputData:       outputData,
		rangeproofHashes: rangeproofHashes,
		rangeproofData:   rangeproofData,
		kernelHashes:     kernelHashes,
		kernelData:       kernelData,
		outputTree:       mmr.NewTree(outputHashes),
		rangeproofTree:   mmr.NewTree(rangeproofHashes),
		kernelTree:       mmr.NewTree(kernelHashes),
		leafSet:          leafSet,
		pruneList:        pruneList,
	}

	if err := ths.CheckIntegrity(); err != nil {
		return nil, err
	}
	return ths, nil
}

// CheckIntegrity verifies output_mmr_size == rangeproof_mmr_size and that
// the output and kernel hash files each hold a legal MMR size
// (SPEC_FULL supplement #5); a mismatch is storage corruption (spec §7),
// fatal with exit code chaincfg.ExitStoreError.
func (t *TxHashSet) CheckIntegrity() error {
	if t.outputHashes.Size() != t.rangeproofHashes.Size() {
		return fmt.Errorf("txhashset: %w: output mmr size %d != rangeproof mmr size %d",
			ErrCorruption, t.outputHashes.Size(), t.rangeproofHashes.Size())
	}
	if !mmr.IsValidMMRSize(t.outputHashes.Size()) {
		return fmt.Errorf("txhashset: %w: output mmr size %d is not a legal MMR size", ErrCorruption, t.outputHashes.Size())
	}
	if !mmr.IsValidMMRSize(t.kernelHashes.Size()) {
		return fmt.Errorf("txhashset: %w: kernel mmr size %d is not a legal MMR size", ErrCorruption, t.kernelHashes.Size())
	}
	return nil
}

// ErrCorruption tags a storage-corruption failure (spec §7).
var ErrCorruption = fmt.Errorf("storage corruption")

// Sizes returns the current (output, rangeproof, kernel) MMR sizes.
func (t *TxHashSet) Sizes() (output, rangeproof, kernel uint64) {
	return t.outputTree.Size(), t.rangeproofTree.Size(), t.kernelTree.Size()
}

// Roots returns the current bagged roots of all three MMRs.
func (t *TxHashSet) Roots() (output, rangeproof, kernel chaintypes.Hash, err error) {
	o, err := t.outputTree.Root()
	if err != nil {
		return chaintypes.Hash{}, chaintypes.Hash{}, chaintypes.Hash{}, err
	}
	r, err := t.rangeproofTree.Root()
	if err != nil {
		return chaintypes.Hash{}, chaintypes.Hash{}, chaintypes.Hash{}, err
	}
	k, err := t.kernelTree.Root()
	if err != nil {
		return chaintypes.Hash{}, chaintypes.Hash{}, chaintypes.Hash{}, err
	}
	return chaintypes.Hash(o), chaintypes.Hash(r), chaintypes.Hash(k), nil
}

// Close closes every backing file.
func (t *TxHashSet) Close() error {
	for _, c := range []interface{ Close() error }{
		t.outputHashes, t.outputData, t.rangeproofHashes, t.rangeproofData, t.kernelHashes, t.kernelData,
	} {
		if err := c.Close(); err != nil {
			return err
		}
	}
	return nil
}

// Extending opens a writable Extension over the three MMRs and the UTXO
// bitmap. If f returns nil the extension is committed: files flushed,
// batch committed, header_head advanced by the caller. If f returns an
// error the extension is rolled back: files rewound to their pre-
// extension sizes and the batch is dropped (spec §4.5).
func (t *TxHashSet) Extending(batch *store.Batch, params chaincfg.Params, f func(*Extension) error) error {
	ext := t.newExtension(batch, params)
	err := f(ext)
	if err != nil {
		t.rollback(ext)
		_ = batch.Rollback()
		return err
	}
	if err := t.commit(ext); err != nil {
		t.rollback(ext)
		_ = batch.Rollback()
		return fmt.Errorf("txhashset: commit extension: %w", err)
	}
	if err := batch.Commit(); err != nil {
		return fmt.Errorf("txhashset: commit batch: %w", err)
	}
	return nil
}

// ExtendingReadonly opens a writable Extension that is never committed,
// used for validation and candidate block assembly (spec §4.5).
func (t *TxHashSet) ExtendingReadonly(batch *store.Batch, params chaincfg.Params, f func(*Extension) error) error {
	ext := t.newExtension(batch, params)
	err := f(ext)
	t.rollback(ext)
	_ = batch.Rollback()
	return err
}

func (t *TxHashSet) newExtension(batch *store.Batch, params chaincfg.Params) *Extension {
	o, r, k := t.Sizes()
	return &Extension{
		ths:                   t,
		batch:                 batch,
		params:                params,
		outputSizeAtStart:     o,
		rangeproofSizeAtStart: r,
		kernelSizeAtStart:     k,
		leafSnapshot:          t.leafSet.Snapshot(),
	}
}

func (t *TxHashSet) commit(ext *Extension) error {
	if err := t.outputHashes.Commit(); err != nil {
		return err
	}
	if err := t.outputData.Commit(); err != nil {
		return err
	}
	if err := t.rangeproofHashes.Commit(); err != nil {
		return err
	}
	if err := t.rangeproofData.Commit(); err != nil {
		return err
	}
	if err := t.kernelHashes.Commit(); err != nil {
		return err
	}
	if err := t.kernelData.Commit(); err != nil {
		return err
	}
	if err := t.leafSet.Commit(); err != nil {
		return err
	}
	if err := t.pruneList.Commit(); err != nil {
		return err
	}
	return nil
}

func (t *TxHashSet) rollback(ext *Extension) {
	_ = t.outputHashes.Rewind(ext.outputSizeAtStart)
	_ = t.rangeproofHashes.Rewind(ext.rangeproofSizeAtStart)
	_ = t.kernelHashes.Rewind(ext.kernelSizeAtStart)
	t.outputHashes.Discard()
	t.outputData.Discard()
	t.rangeproofHashes.Discard()
	t.rangeproofData.Discard()
	t.kernelHashes.Discard()
	t.kernelData.Discard()
	t.leafSet.ReplaceAll(ext.leafSnapshot)
	t.pruneList.Discard()
}
