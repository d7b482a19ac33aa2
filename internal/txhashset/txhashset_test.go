package txhashset

import (
	"path/filepath"
	"testing"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/grinchain/node/internal/chaincfg"
	"github.com/grinchain/node/internal/chaintypes"
	"github.com/grinchain/node/internal/codec"
	"github.com/grinchain/node/internal/mmr"
	"github.com/grinchain/node/internal/pedersen"
	"github.com/grinchain/node/internal/pmmrfile"
	"github.com/grinchain/node/internal/store"
)

// memBackend is a throwaway in-memory mmr.Backend used only to precompute
// the header fields (sizes/roots) a candidate block's body would produce,
// mirroring how a miner finalizes a header after assembling a body.
type memBackend struct{ hashes []mmr.Hash }

func (m *memBackend) AppendHash(h mmr.Hash) (uint64, error) {
	m.hashes = append(m.hashes, h)
	return uint64(len(m.hashes)), nil
}

func (m *memBackend) HashAt(pos uint64) (mmr.Hash, bool, error) {
	if pos == 0 || pos > uint64(len(m.hashes)) {
		return mmr.Hash{}, false, nil
	}
	return m.hashes[pos-1], true, nil
}

func (m *memBackend) Size() uint64 { return uint64(len(m.hashes)) }

func openTestSet(t *testing.T) (*TxHashSet, *store.Store) {
	t.Helper()
	dir := t.TempDir()
	ths, err := Open(dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ths.Close() })
	st, err := store.Open(filepath.Join(dir, "chain.db"), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	return ths, st
}

func commitment(b byte) pedersen.Commitment {
	var c pedersen.Commitment
	c[0] = 0x02
	c[32] = b
	return c
}

func coinbaseBlock(height uint64, prevHash chaintypes.Hash, c pedersen.Commitment) *chaintypes.Block {
	blk := &chaintypes.Block{
		Header: chaintypes.BlockHeader{Height: height, PreviousHash: prevHash},
		Outputs: []chaintypes.Output{
			{Features: chaintypes.FeatureCoinbase, Commitment: c, Rangeproof: []byte("rangeproof-for-" + string(rune(c[32])))},
		},
		Kernels: []chaintypes.TxKernel{
			{Features: chaintypes.KernelCoinbase, Excess: c},
		},
	}
	stampHeader(blk)
	return blk
}

// stampHeader computes blk's header MMR sizes and roots as if its body
// were applied to three empty trees, without a *testing.T, for helpers
// that build blocks outside a direct test body.
func stampHeader(blk *chaintypes.Block) {
	outTree := mmr.NewTree(&memBackend{})
	rpTree := mmr.NewTree(&memBackend{})
	kTree := mmr.NewTree(&memBackend{})
	alive := roaring.New()
	for i := range blk.Outputs {
		ident := blk.Outputs[i].Identifier()
		identBytes, _ := codec.Encode(extVersion, &ident)
		pos, _ := outTree.Push(identBytes)
		alive.Add(uint32(pos))
		rpTree.Push(blk.Outputs[i].Rangeproof)
	}
	for i := range blk.Kernels {
		kBytes, _ := codec.Encode(extVersion, &blk.Kernels[i])
		kTree.Push(kBytes)
	}
	outRoot, _ := outTree.Root()
	rpRoot, _ := rpTree.Root()
	kRoot, _ := kTree.Root()
	bitmapRoot, _ := ComputeBitmapRoot(alive, mmr.NumLeaves(outTree.Size()))
	blk.Header.OutputMMRSize = outTree.Size()
	blk.Header.RangeproofMMRSize = rpTree.Size()
	blk.Header.KernelMMRSize = kTree.Size()
	blk.Header.OutputRoot = chaintypes.Hash(outRoot)
	blk.Header.RangeproofRoot = chaintypes.Hash(rpRoot)
	blk.Header.KernelRoot = chaintypes.Hash(kRoot)
	blk.Header.UTXOBitmapRoot = chaintypes.Hash(bitmapRoot)
}

// loadBackend replays a hash file's already-committed hashes into a
// memBackend so a continuation block's header fields can be computed by
// pushing on top of real prior state (MMR hashes are salted by absolute
// position, so a fresh zero-based tree would not reproduce them).
func loadBackend(t *testing.T, f *pmmrfile.HashFile) *memBackend {
	t.Helper()
	b := &memBackend{}
	size := f.Size()
	for pos := uint64(1); pos <= size; pos++ {
		h, ok, err := f.HashAt(pos)
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			t.Fatalf("missing hash at position %d", pos)
		}
		b.hashes = append(b.hashes, h)
	}
	return b
}

// stampHeaderOnTop computes the header fields blk's body would produce if
// applied on top of ths's current committed state, without mutating ths.
// The UTXO bitmap root is derived from ths's current live set with blk's
// own inputs removed (looked up by commitment through st, the same index
// Extension.ApplyBlock consults) and blk's own outputs added, mirroring
// what ApplyBlock actually does to the live set.
func stampHeaderOnTop(t *testing.T, ths *TxHashSet, st *store.Store, blk *chaintypes.Block) {
	t.Helper()
	outTree := mmr.NewTree(loadBackend(t, ths.outputHashes))
	rpTree := mmr.NewTree(loadBackend(t, ths.rangeproofHashes))
	kTree := mmr.NewTree(loadBackend(t, ths.kernelHashes))

	alive := ths.leafSet.Snapshot()
	for i := range blk.Inputs {
		cp, err := st.GetOutputPos([33]byte(blk.Inputs[i].Commitment))
		if err != nil {
			t.Fatal(err)
		}
		alive.Remove(uint32(cp.Pos))
	}

	for i := range blk.Outputs {
		ident := blk.Outputs[i].Identifier()
		identBytes, err := codec.Encode(extVersion, &ident)
		if err != nil {
			t.Fatal(err)
		}
		pos, err := outTree.Push(identBytes)
		if err != nil {
			t.Fatal(err)
		}
		alive.Add(uint32(pos))
		if _, err := rpTree.Push(blk.Outputs[i].Rangeproof); err != nil {
			t.Fatal(err)
		}
	}
	for i := range blk.Kernels {
		kBytes, err := codec.Encode(extVersion, &blk.Kernels[i])
		if err != nil {
			t.Fatal(err)
		}
		if _, err := kTree.Push(kBytes); err != nil {
			t.Fatal(err)
		}
	}

	outRoot, err := outTree.Root()
	if err != nil {
		t.Fatal(err)
	}
	rpRoot, err := rpTree.Root()
	if err != nil {
		t.Fatal(err)
	}
	kRoot, err := kTree.Root()
	if err != nil {
		t.Fatal(err)
	}
	bitmapRoot, err := ComputeBitmapRoot(alive, mmr.NumLeaves(outTree.Size()))
	if err != nil {
		t.Fatal(err)
	}

	blk.Header.OutputMMRSize = outTree.Size()
	blk.Header.RangeproofMMRSize = rpTree.Size()
	blk.Header.KernelMMRSize = kTree.Size()
	blk.Header.OutputRoot = chaintypes.Hash(outRoot)
	blk.Header.RangeproofRoot = chaintypes.Hash(rpRoot)
	blk.Header.KernelRoot = chaintypes.Hash(kRoot)
	blk.Header.UTXOBitmapRoot = chaintypes.Hash(bitmapRoot)
}

func TestOpenFreshSetPassesIntegrityCheck(t *testing.T) {
	ths, _ := openTestSet(t)
	if err := ths.CheckIntegrity(); err != nil {
		t.Fatal(err)
	}
	o, r, k := ths.Sizes()
	if o != 0 || r != 0 || k != 0 {
		t.Fatalf("expected zero sizes on a fresh set, got (%d,%d,%d)", o, r, k)
	}
}

func TestApplyBlockCommitsAndMatchesHeader(t *testing.T) {
	ths, st := openTestSet(t)
	params := chaincfg.Dev()

	blk := coinbaseBlock(1, chaintypes.ZeroHash, commitment(1))

	batch, err := st.Begin()
	if err != nil {
		t.Fatal(err)
	}
	err = ths.Extending(batch, params, func(ext *Extension) error {
		return ext.ApplyBlock(blk)
	})
	if err != nil {
		t.Fatalf("ApplyBlock: %v", err)
	}

	o, r, k := ths.Sizes()
	if o != blk.Header.OutputMMRSize || r != blk.Header.RangeproofMMRSize || k != blk.Header.KernelMMRSize {
		t.Fatalf("sizes after commit (%d,%d,%d) != header (%d,%d,%d)",
			o, r, k, blk.Header.OutputMMRSize, blk.Header.RangeproofMMRSize, blk.Header.KernelMMRSize)
	}

	cp, err := st.GetOutputPos([33]byte(blk.Outputs[0].Commitment))
	if err != nil {
		t.Fatal(err)
	}
	if !ths.leafSet.Contains(cp.Pos) {
		t.Fatal("expected coinbase output to be live in the leaf set after commit")
	}
}

func TestApplyBlockRejectsDoubleSpendWithinBlock(t *testing.T) {
	ths, st := openTestSet(t)
	params := chaincfg.Dev()

	c := commitment(2)
	blk1 := coinbaseBlock(1, chaintypes.ZeroHash, c)
	batch1, err := st.Begin()
	if err != nil {
		t.Fatal(err)
	}
	if err := ths.Extending(batch1, params, func(ext *Extension) error { return ext.ApplyBlock(blk1) }); err != nil {
		t.Fatalf("apply coinbase block: %v", err)
	}

	spend := &chaintypes.Block{
		Header:  chaintypes.BlockHeader{Height: params.CoinbaseMaturity + 1, PreviousHash: blk1.Hash()},
		Inputs:  []chaintypes.Input{{Commitment: c}, {Commitment: c}},
		Outputs: []chaintypes.Output{{Features: chaintypes.FeaturePlain, Commitment: commitment(3), Rangeproof: []byte("rp")}},
		Kernels: []chaintypes.TxKernel{{Features: chaintypes.KernelPlain}},
	}
	stampHeaderOnTop(t, ths, st, spend)

	batch2, err := st.Begin()
	if err != nil {
		t.Fatal(err)
	}
	err = ths.Extending(batch2, params, func(ext *Extension) error { return ext.ApplyBlock(spend) })
	if err == nil {
		t.Fatal("expected double spend of the same commitment within one block to be rejected")
	}
}

func TestExtendingReadonlyLeavesNoTrace(t *testing.T) {
	ths, st := openTestSet(t)
	params := chaincfg.Dev()

	blk := coinbaseBlock(1, chaintypes.ZeroHash, commitment(4))
	batch, err := st.Begin()
	if err != nil {
		t.Fatal(err)
	}
	err = ths.ExtendingReadonly(batch, params, func(ext *Extension) error {
		return ext.ApplyBlock(blk)
	})
	if err != nil {
		t.Fatalf("read-only apply: %v", err)
	}

	o, r, k := ths.Sizes()
	if o != 0 || r != 0 || k != 0 {
		t.Fatalf("expected sizes to revert to zero after a read-only extension, got (%d,%d,%d)", o, r, k)
	}
	if _, err := st.GetOutputPos([33]byte(blk.Outputs[0].Commitment)); err != store.ErrNotFound {
		t.Fatalf("expected output_pos write to be rolled back with the batch, got err=%v", err)
	}
}

func TestRewindRestoresSpentOutput(t *testing.T) {
	ths, st := openTestSet(t)
	params := chaincfg.Dev()

	c := commitment(5)
	blkA := coinbaseBlock(1, chaintypes.ZeroHash, c)
	batchA, err := st.Begin()
	if err != nil {
		t.Fatal(err)
	}
	if err := ths.Extending(batchA, params, func(ext *Extension) error { return ext.ApplyBlock(blkA) }); err != nil {
		t.Fatalf("apply block A: %v", err)
	}

	cpBeforeSpend, err := st.GetOutputPos([33]byte(c))
	if err != nil {
		t.Fatal(err)
	}

	blkB := &chaintypes.Block{
		Header:  chaintypes.BlockHeader{Height: params.CoinbaseMaturity + 1, PreviousHash: blkA.Hash()},
		Inputs:  []chaintypes.Input{{Commitment: c}},
		Outputs: []chaintypes.Output{{Features: chaintypes.FeaturePlain, Commitment: commitment(6), Rangeproof: []byte("rp-b")}},
		Kernels: []chaintypes.TxKernel{{Features: chaintypes.KernelPlain}},
	}
	stampHeaderOnTop(t, ths, st, blkB)

	batchB, err := st.Begin()
	if err != nil {
		t.Fatal(err)
	}
	if err := ths.Extending(batchB, params, func(ext *Extension) error { return ext.ApplyBlock(blkB) }); err != nil {
		t.Fatalf("apply block B: %v", err)
	}
	if ths.leafSet.Contains(cpBeforeSpend.Pos) {
		t.Fatal("expected spent output to be removed from the leaf set after block B")
	}

	spentInB, err := st.GetSpentIndex(blkB.Hash())
	if err != nil {
		t.Fatal(err)
	}

	batchR, err := st.Begin()
	if err != nil {
		t.Fatal(err)
	}
	err = ths.Extending(batchR, params, func(ext *Extension) error {
		return ext.Rewind(&blkA.Header, spentInB)
	})
	if err != nil {
		t.Fatalf("rewind: %v", err)
	}

	o, r, k := ths.Sizes()
	if o != blkA.Header.OutputMMRSize || r != blkA.Header.RangeproofMMRSize || k != blkA.Header.KernelMMRSize {
		t.Fatalf("sizes after rewind (%d,%d,%d) != block A header (%d,%d,%d)",
			o, r, k, blkA.Header.OutputMMRSize, blkA.Header.RangeproofMMRSize, blkA.Header.KernelMMRSize)
	}
	if !ths.leafSet.Contains(cpBeforeSpend.Pos) {
		t.Fatal("expected rewind to re-add the previously spent output to the leaf set")
	}
}
