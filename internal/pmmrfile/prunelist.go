package pmmrfile

import (
	"bytes"
	"fmt"
	"os"
	"sort"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/grinchain/node/internal/mmr"
)

// PruneList tracks which MMR subtrees have been fully pruned (every leaf
// under that peak is dead) so the hash file can be physically compacted
// while readers still address nodes by their original, pre-compaction
// position (spec §4.3). It stores the positions of pruned *subtree roots*;
// a node is considered pruned if it is itself in the list or is a
// descendant of some position in the list.
type PruneList struct {
	path  string
	roots *roaring.Bitmap

	committed *roaring.Bitmap
}

// OpenPruneList loads (or creates) the prune list persisted at path.
func OpenPruneList(path string) (*PruneList, error) {
	bm := roaring.New()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if _, err := bm.ReadFrom(bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("pmmrfile: decode prune list %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// fresh prune list
	default:
		return nil, fmt.Errorf("pmmrfile: read prune list %s: %w", path, err)
	}
	return &PruneList{path: path, roots: bm, committed: bm.Clone()}, nil
}

// AddRoot records pos as the root of a fully-pruned subtree. Callers are
// responsible for only calling this once every leaf beneath pos is dead;
// PruneList does not itself track liveness (that's LeafSet's job).
func (p *PruneList) AddRoot(pos uint64) {
	p.roots.Add(uint32Checked(pos))
}

// IsPruned reports whether pos is covered by some recorded pruned
// subtree root, i.e. pos == root or pos is a descendant of a root.
func (p *PruneList) IsPruned(pos uint64) bool {
	if p.roots.Contains(uint32Checked(pos)) {
		return true
	}
	if p.roots.IsEmpty() {
		return false
	}
	maxRoot := uint64(p.roots.Maximum())
	height := mmr.Height(pos)
	cur := pos
	for h := height + 1; ; h++ {
		parent, _ := mmr.FamilyOf(cur)
		if parent > maxRoot {
			// Every ancestor from here up lies above the highest recorded
			// root, so none of them can be a pruned root.
			return false
		}
		if p.roots.Contains(uint32Checked(parent)) {
			return true
		}
		if mmr.Height(parent) != h {
			// Climbed past a peak boundary without finding a pruned
			// ancestor; pos is not under any pruned root.
			return false
		}
		cur = parent
		if h > 63 {
			// Defensive bound; an MMR this tall cannot exist in practice.
			return false
		}
	}
}

// ShiftFor returns the number of positions that precede pos in the
// compacted hash file, i.e. the count of pruned-and-removed positions
// strictly less than pos. Used to translate a logical MMR position into
// a physical offset in the compacted AppendOnlyFile.
func (p *PruneList) ShiftFor(pos uint64) uint64 {
	var shift uint64
	roots := p.sortedRoots()
	for _, root := range roots {
		if root >= pos {
			break
		}
		size := subtreeSize(root)
		// A subtree's root is its last position in postorder, so a root
		// below pos has its whole subtree below pos; since roots are
		// recorded disjoint, each such root contributes its whole subtree
		// size.
		if root < pos {
			shift += size
		}
	}
	return shift
}

// subtreeSize returns the number of MMR nodes (internal + leaves) in the
// perfect binary subtree rooted at pos.
func subtreeSize(pos uint64) uint64 {
	h := mmr.Height(pos)
	return (uint64(1) << (h + 1)) - 1
}

func (p *PruneList) sortedRoots() []uint64 {
	out := make([]uint64, 0, p.roots.GetCardinality())
	it := p.roots.Iterator()
	for it.HasNext() {
		out = append(out, uint64(it.Next()))
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Roots returns every recorded pruned subtree root, ascending.
func (p *PruneList) Roots() []uint64 { return p.sortedRoots() }

// Commit persists the current in-memory prune list to disk.
func (p *PruneList) Commit() error {
	data, err := p.roots.ToBytes()
	if err != nil {
		return fmt.Errorf("pmmrfile: serialize prune list: %w", err)
	}
	if err := os.WriteFile(p.path, data, 0o644); err != nil {
		return fmt.Errorf("pmmrfile: write prune list %s: %w", p.path, err)
	}
	p.committed = p.roots.Clone()
	return nil
}

// Discard reverts in-memory changes back to the last committed state.
func (p *PruneList) Discard() {
	p.roots = p.committed.Clone()
}
