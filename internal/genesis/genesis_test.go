package genesis

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/grinchain/node/internal/chaincfg"
	"github.com/grinchain/node/internal/store"
	"github.com/grinchain/node/internal/txhashset"
)

func openTestSet(t *testing.T) (*txhashset.TxHashSet, *store.Store) {
	t.Helper()
	dir := t.TempDir()
	ths, err := txhashset.Open(dir, nil)
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

func TestBootstrapSetsHeadAndIsIdempotent(t *testing.T) {
	ths, st := openTestSet(t)
	params := chaincfg.Dev()
	blk := Block(params, time.Unix(1_700_000_000, 0))

	if err := Bootstrap(st, ths, params, blk); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	head, err := st.Head()
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	if head.Height != 0 || head.Hash != blk.Hash() {
		t.Fatalf("head = %+v, want genesis", head)
	}

	if !st.HasBlock(blk.Hash()) {
		t.Fatal("genesis block not stored")
	}
	if !st.HasHeader(blk.Hash()) {
		t.Fatal("genesis header not stored")
	}

	if _, err := st.GetBlockSums(blk.Hash()); err != nil {
		t.Fatalf("block sums: %v", err)
	}

	// A second bootstrap against the same store must be a no-op, not an
	// error, since a restart should not try to re-apply genesis.
	if err := Bootstrap(st, ths, params, blk); err != nil {
		t.Fatalf("second bootstrap: %v", err)
	}
	head2, err := st.Head()
	if err != nil {
		t.Fatalf("head after second bootstrap: %v", err)
	}
	if head2.Hash != head.Hash {
		t.Fatalf("second bootstrap changed head: %+v", head2)
	}
}

func TestBlockHasEmptyBagOfPeaksRoots(t *testing.T) {
	params := chaincfg.Dev()
	blk := Block(params, time.Unix(1_700_000_000, 0))

	if blk.Header.OutputRoot != blk.Header.RangeproofRoot || blk.Header.OutputRoot != blk.Header.KernelRoot ||
		blk.Header.OutputRoot != blk.Header.UTXOBitmapRoot {
		t.Fatalf("expected all four empty-tree roots to match: %+v", blk.Header)
	}
	if blk.Header.OutputMMRSize != 0 || blk.Header.RangeproofMMRSize != 0 || blk.Header.KernelMMRSize != 0 {
		t.Fatalf("expected zero MMR sizes at genesis: %+v", blk.Header)
	}
}
