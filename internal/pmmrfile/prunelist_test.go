package pmmrfile

import (
	"path/filepath"
	"testing"
)

func TestPruneListIsPrunedSelfAndDescendant(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prune_list.bin")
	pl, err := OpenPruneList(path)
	if err != nil {
		t.Fatal(err)
	}

	// Subtree rooted at position 3 (height 1) covers leaves at positions 1 and 2.
	pl.AddRoot(3)

	if !pl.IsPruned(3) {
		t.Fatal("expected root itself to be pruned")
	}
	if !pl.IsPruned(1) || !pl.IsPruned(2) {
		t.Fatal("expected descendants of a pruned root to be pruned")
	}
	if pl.IsPruned(4) {
		t.Fatal("position outside the pruned subtree should not be pruned")
	}
}

func TestPruneListShiftForAccumulates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prune_list.bin")
	pl, err := OpenPruneList(path)
	if err != nil {
		t.Fatal(err)
	}

	// Subtree root at 3 has size 3 (positions 1,2,3).
	pl.AddRoot(3)

	if shift := pl.ShiftFor(4); shift != 3 {
		t.Fatalf("expected shift of 3 past the pruned subtree, got %d", shift)
	}
	if shift := pl.ShiftFor(2); shift != 0 {
		t.Fatalf("expected no shift for a position inside the pruned subtree, got %d", shift)
	}
}

func TestPruneListCommitSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prune_list.bin")
	pl, err := OpenPruneList(path)
	if err != nil {
		t.Fatal(err)
	}
	pl.AddRoot(3)
	pl.AddRoot(7)
	if err := pl.Commit(); err != nil {
		t.Fatal(err)
	}

	reopened, err := OpenPruneList(path)
	if err != nil {
		t.Fatal(err)
	}
	roots := reopened.Roots()
	if len(roots) != 2 || roots[0] != 3 || roots[1] != 7 {
		t.Fatalf("expected roots [3 7] to survive reopen, got %v", roots)
	}
}

func TestPruneListDiscardReverts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prune_list.bin")
	pl, err := OpenPruneList(path)
	if err != nil {
		t.Fatal(err)
	}
	pl.AddRoot(3)
	if err := pl.Commit(); err != nil {
		t.Fatal(err)
	}
	pl.AddRoot(7)
	pl.Discard()

	if len(pl.Roots()) != 1 {
		t.Fatalf("expected discard to revert to 1 committed root, got %d", len(pl.Roots()))
	}
}
