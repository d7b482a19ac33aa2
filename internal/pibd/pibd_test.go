package pibd

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/grinchain/node/internal/chaincfg"
	"github.com/grinchain/node/internal/chaintypes"
	"github.com/grinchain/node/internal/codec"
	"github.com/grinchain/node/internal/mmr"
	"github.com/grinchain/node/internal/pedersen"
	"github.com/grinchain/node/internal/store"
	"github.com/grinchain/node/internal/txhashset"
)

func openTestSet(t *testing.T) *txhashset.TxHashSet {
	t.Helper()
	dir := t.TempDir()
	ths, err := txhashset.Open(dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ths.Close() })
	return ths
}

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "chain.db"), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

// buildAndApplyBlock stamps a block's MMR-size/root header fields by
// replaying its body through a throwaway in-memory tree, then commits it
// to ths/st as an Extension. It mirrors internal/txhashset's own test
// helper of the same shape (txhashset_test.go's stampHeader), kept local
// since that one is unexported.
func buildAndApplyBlock(t *testing.T, ths *txhashset.TxHashSet, st *store.Store, params chaincfg.Params, blk *chaintypes.Block) {
	t.Helper()
	outTree := mmr.NewTree(&fakeBackend{})
	rpTree := mmr.NewTree(&fakeBackend{})
	kTree := mmr.NewTree(&fakeBackend{})
	alive := roaring.New()
	for i := range blk.Outputs {
		ident := blk.Outputs[i].Identifier()
		identBytes, err := codec.Encode(1, &ident)
		if err != nil {
			t.Fatal(err)
		}
		pos, err := outTree.Push(identBytes)
		if err != nil {
			t.Fatal(err)
		}
		alive.Add(uint32(pos))
		rpTree.Push(blk.Outputs[i].Rangeproof)
	}
	for i := range blk.Kernels {
		kBytes, err := codec.Encode(1, &blk.Kernels[i])
		if err != nil {
			t.Fatal(err)
		}
		kTree.Push(kBytes)
	}
	outRoot, _ := outTree.Root()
	rpRoot, _ := rpTree.Root()
	kRoot, _ := kTree.Root()
	bitmapRoot, err := txhashset.ComputeBitmapRoot(alive, mmr.NumLeaves(outTree.Size()))
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

	batch, err := st.Begin()
	if err != nil {
		t.Fatal(err)
	}
	if err := ths.Extending(batch, params, func(ext *txhashset.Extension) error {
		return ext.ApplyBlock(blk)
	}); err != nil {
		t.Fatalf("apply block: %v", err)
	}
}

type fakeBackend struct{ hashes []mmr.Hash }

func (b *fakeBackend) AppendHash(h mmr.Hash) (uint64, error) {
	b.hashes = append(b.hashes, h)
	return uint64(len(b.hashes)), nil
}

func (b *fakeBackend) HashAt(pos uint64) (mmr.Hash, bool, error) {
	if pos == 0 || pos > uint64(len(b.hashes)) {
		return mmr.Hash{}, false, nil
	}
	return b.hashes[pos-1], true, nil
}

func (b *fakeBackend) Size() uint64 { return uint64(len(b.hashes)) }

func fakeCommitment(b byte) pedersen.Commitment {
	var c pedersen.Commitment
	c[0] = 0x02
	c[32] = b
	return c
}

// fetcherFromSegmenter adapts a Segmenter directly into a SegmentFetcher,
// standing in for the netp2p transport a real sync would use.
type fetcherFromSegmenter struct{ seg *Segmenter }

func (f fetcherFromSegmenter) FetchBitmapSegment(_ context.Context, id SegmentIdentifier) (*BitmapSegment, error) {
	return f.seg.BitmapSegment(id)
}
func (f fetcherFromSegmenter) FetchOutputSegment(_ context.Context, id SegmentIdentifier) (*OutputSegment, error) {
	return f.seg.OutputSegment(id)
}
func (f fetcherFromSegmenter) FetchRangeproofSegment(_ context.Context, id SegmentIdentifier) (*RangeproofSegment, error) {
	return f.seg.RangeproofSegment(id)
}
func (f fetcherFromSegmenter) FetchKernelSegment(_ context.Context, id SegmentIdentifier) (*KernelSegment, error) {
	return f.seg.KernelSegment(id)
}

func TestSegmenterAndDesegmenterRoundTrip(t *testing.T) {
	params := chaincfg.Dev()
	srcThs := openTestSet(t)
	srcStore := openTestStore(t)

	blk := &chaintypes.Block{
		Header: chaintypes.BlockHeader{Height: 1, PreviousHash: chaintypes.ZeroHash},
		Outputs: []chaintypes.Output{
			{Features: chaintypes.FeatureCoinbase, Commitment: fakeCommitment(1), Rangeproof: []byte("rp-1")},
			{Features: chaintypes.FeaturePlain, Commitment: fakeCommitment(2), Rangeproof: []byte("rp-2")},
		},
		Kernels: []chaintypes.TxKernel{
			{Features: chaintypes.KernelCoinbase, Excess: fakeCommitment(3), ExcessSig: []byte("sig")},
		},
	}
	buildAndApplyBlock(t, srcThs, srcStore, params, blk)

	archive := blk.Header
	seg := NewSegmenter(srcThs, &archive)
	fetcher := fetcherFromSegmenter{seg: seg}

	dstThs := openTestSet(t)
	de := NewDesegmenter(&archive, fetcher, nil)
	if err := de.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := de.Finish(dstThs); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	gotOut, err := dstThs.TreeRootAt(txhashset.TreeOutput, archive.OutputMMRSize)
	if err != nil {
		t.Fatal(err)
	}
	if gotOut != archive.OutputRoot {
		t.Fatalf("assembled output root mismatch: got %x want %x", gotOut, archive.OutputRoot)
	}
}

func TestNumSegmentsAndLeafRange(t *testing.T) {
	if got := NumSegments(2, 10); got != 3 {
		t.Fatalf("NumSegments(2,10) = %d, want 3", got)
	}
	start, end, partial := segmentLeafRange(2, 2, 10)
	if start != 8 || end != 10 || !partial {
		t.Fatalf("segmentLeafRange(2,2,10) = (%d,%d,%v), want (8,10,true)", start, end, partial)
	}
	start, end, partial = segmentLeafRange(2, 0, 10)
	if start != 0 || end != 4 || partial {
		t.Fatalf("segmentLeafRange(2,0,10) = (%d,%d,%v), want (0,4,false)", start, end, partial)
	}
}
