package pmmrfile

import (
	"bytes"
	"fmt"
	"os"

	"github.com/RoaringBitmap/roaring/v2"
)

// LeafSet is a compact bitmap over MMR leaf positions that are currently
// alive (unspent and unpruned), backed by a croaring-compatible
// compressed bitmap as required by spec §3/§4.3. Positions are 1-based
// MMR positions, matching internal/mmr.
type LeafSet struct {
	path   string
	bitmap *roaring.Bitmap

	// committed is the last state written by Commit, restored on Discard.
	committed *roaring.Bitmap
}

// OpenLeafSet loads (or creates) the LeafSet persisted at path.
func OpenLeafSet(path string) (*LeafSet, error) {
	bm := roaring.New()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if _, err := bm.ReadFrom(bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("pmmrfile: decode leaf set %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// fresh leaf set
	default:
		return nil, fmt.Errorf("pmmrfile: read leaf set %s: %w", path, err)
	}
	return &LeafSet{path: path, bitmap: bm, committed: bm.Clone()}, nil
}

// Add marks pos as alive.
func (l *LeafSet) Add(pos uint64) { l.bitmap.Add(uint32Checked(pos)) }

// Remove marks pos as no longer alive (spent or pruned).
func (l *LeafSet) Remove(pos uint64) { l.bitmap.Remove(uint32Checked(pos)) }

// Contains reports whether pos is currently alive.
func (l *LeafSet) Contains(pos uint64) bool { return l.bitmap.Contains(uint32Checked(pos)) }

// Cardinality returns the number of alive leaves.
func (l *LeafSet) Cardinality() uint64 { return l.bitmap.GetCardinality() }

// Positions returns every alive position in ascending order.
func (l *LeafSet) Positions() []uint64 {
	out := make([]uint64, 0, l.bitmap.GetCardinality())
	it := l.bitmap.Iterator()
	for it.HasNext() {
		out = append(out, uint64(it.Next()))
	}
	return out
}

// Commit persists the current in-memory bitmap to disk.
func (l *LeafSet) Commit() error {
	data, err := l.bitmap.ToBytes()
	if err != nil {
		return fmt.Errorf("pmmrfile: serialize leaf set: %w", err)
	}
	if err := os.WriteFile(l.path, data, 0o644); err != nil {
		return fmt.Errorf("pmmrfile: write leaf set %s: %w", l.path, err)
	}
	l.committed = l.bitmap.Clone()
	return nil
}

// Discard reverts in-memory changes back to the last committed state
// (rollback path for a failed Extension, spec §4.5).
func (l *LeafSet) Discard() {
	l.bitmap = l.committed.Clone()
}

// Rewind restores the set to exactly reAdd ∪ (positions <= maxPos alive in
// the in-memory set before this rewind), matching spec §4.5's rewind: outputs
// spent between `header` and the current tip are re-added by OR-ing their
// positions back into the UTXO bitmap using the spent index.
func (l *LeafSet) Rewind(maxPos uint64, reAdd *roaring.Bitmap) {
	// Drop everything above maxPos (created after the rewind target).
	above := roaring.New()
	above.AddRange(uint64(maxPos)+1, uint64(^uint32(0))+1)
	l.bitmap.AndNot(above)
	if reAdd != nil {
		l.bitmap.Or(reAdd)
	}
}

// Snapshot returns a defensive copy of the underlying bitmap, e.g. for
// computing a Merkle root over bitmap chunks (spec §4.9 bitmap segments).
func (l *LeafSet) Snapshot() *roaring.Bitmap { return l.bitmap.Clone() }

// ReplaceAll overwrites the in-memory bitmap wholesale — used by PIBD
// assembly once all bitmap segments have been validated (spec §4.9).
func (l *LeafSet) ReplaceAll(bm *roaring.Bitmap) { l.bitmap = bm.Clone() }

func uint32Checked(pos uint64) uint32 {
	if pos > uint64(^uint32(0)) {
		panic(fmt.Sprintf("pmmrfile: leaf position %d exceeds 32-bit bitmap range", pos))
	}
	return uint32(pos)
}
