package pmmrfile

import (
	"path/filepath"
	"testing"

	"github.com/RoaringBitmap/roaring/v2"
)

func TestLeafSetAddRemoveContains(t *testing.T) {
	path := filepath.Join(t.TempDir(), "leaf_set.bin")
	ls, err := OpenLeafSet(path)
	if err != nil {
		t.Fatal(err)
	}

	ls.Add(1)
	ls.Add(2)
	ls.Add(3)
	if ls.Cardinality() != 3 {
		t.Fatalf("expected 3 alive leaves, got %d", ls.Cardinality())
	}
	ls.Remove(2)
	if ls.Contains(2) {
		t.Fatal("expected position 2 to be removed")
	}
	if !ls.Contains(1) || !ls.Contains(3) {
		t.Fatal("expected positions 1 and 3 to remain alive")
	}
}

func TestLeafSetCommitSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "leaf_set.bin")
	ls, err := OpenLeafSet(path)
	if err != nil {
		t.Fatal(err)
	}
	ls.Add(10)
	ls.Add(20)
	if err := ls.Commit(); err != nil {
		t.Fatal(err)
	}

	reopened, err := OpenLeafSet(path)
	if err != nil {
		t.Fatal(err)
	}
	if reopened.Cardinality() != 2 || !reopened.Contains(10) || !reopened.Contains(20) {
		t.Fatal("committed leaf set did not survive reopen")
	}
}

func TestLeafSetDiscardRevertsToCommitted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "leaf_set.bin")
	ls, err := OpenLeafSet(path)
	if err != nil {
		t.Fatal(err)
	}
	ls.Add(1)
	if err := ls.Commit(); err != nil {
		t.Fatal(err)
	}
	ls.Add(2)
	ls.Remove(1)
	ls.Discard()

	if !ls.Contains(1) || ls.Contains(2) {
		t.Fatal("discard did not restore last committed state")
	}
}

func TestLeafSetRewindDropsAboveMaxAndReadds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "leaf_set.bin")
	ls, err := OpenLeafSet(path)
	if err != nil {
		t.Fatal(err)
	}
	ls.Add(1)
	ls.Add(5)
	ls.Add(10)

	reAdd := roaring.New()
	reAdd.Add(5)

	ls.Rewind(6, reAdd)

	if ls.Contains(10) {
		t.Fatal("expected position above rewind target to be dropped")
	}
	if !ls.Contains(1) || !ls.Contains(5) {
		t.Fatal("expected positions at/below rewind target to remain, including re-added spends")
	}
}

func TestLeafSetReplaceAll(t *testing.T) {
	path := filepath.Join(t.TempDir(), "leaf_set.bin")
	ls, err := OpenLeafSet(path)
	if err != nil {
		t.Fatal(err)
	}
	ls.Add(1)

	replacement := roaring.New()
	replacement.Add(99)
	ls.ReplaceAll(replacement)

	if ls.Contains(1) {
		t.Fatal("expected ReplaceAll to discard prior contents")
	}
	if !ls.Contains(99) {
		t.Fatal("expected ReplaceAll contents to be present")
	}
}
