package pibd

import (
	"fmt"

	"github.com/grinchain/node/internal/mmr"
)

// hashReader reads a committed MMR node hash by absolute position, or
// ok=false if that position has never been assigned one.
type hashReader func(pos uint64) (mmr.Hash, bool, error)

// buildProof constructs a SegmentProof for the (height, idx) segment of
// a tree of size mmrSize, reading sibling and peak hashes through
// readHash. Every position on the path from the segment's subtree root
// up to its peak, plus every other peak, is already durably stored in
// the hash file (only leaf *data* is ever pruned), so this never needs
// anything beyond point lookups (spec §4.3, §4.9).
func buildProof(readHash hashReader, height uint8, idx uint64, partial bool, mmrSize uint64) (*SegmentProof, error) {
	if partial {
		return &SegmentProof{MMRSize: mmrSize, Partial: true}, nil
	}

	rootPos := subtreeRootPos(height, idx)
	peakPositions := mmr.PeakPositions(mmrSize)
	var peakForNode uint64
	for _, pp := range peakPositions {
		if rootPos <= pp {
			peakForNode = pp
			break
		}
	}
	if peakForNode == 0 {
		return nil, fmt.Errorf("pibd: segment root position %d exceeds mmr size %d", rootPos, mmrSize)
	}

	var path []mmr.ProofStep
	cur := rootPos
	for cur != peakForNode {
		parent, sibling := mmr.FamilyOf(cur)
		h, ok, err := readHash(sibling)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("pibd: missing proof sibling hash at %d", sibling)
		}
		path = append(path, mmr.ProofStep{Hash: h, OnRight: sibling > cur})
		cur = parent
	}

	peaks := make([]mmr.Hash, len(peakPositions))
	for i, pp := range peakPositions {
		h, ok, err := readHash(pp)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("pibd: missing peak hash at %d", pp)
		}
		peaks[i] = h
	}

	return &SegmentProof{SubtreeRootPos: rootPos, Path: path, PeakHashes: peaks, MMRSize: mmrSize}, nil
}

// verifyProof checks that a subtree root hash, reconstructed by the
// caller from a segment's own leaves, folds up through proof to root.
func verifyProof(subtreeRootHash mmr.Hash, proof SegmentProof, root mmr.Hash) bool {
	if proof.Partial {
		// The trailing partial segment's subtree is never complete, so
		// it carries no standalone proof; it is only checked once every
		// segment has been assembled and the full bagged root is
		// recomputed directly (see Desegmenter.Finish).
		return true
	}
	mproof := &mmr.Proof{
		LeafPos:    proof.SubtreeRootPos,
		Path:       proof.Path,
		PeakHashes: proof.PeakHashes,
		Size:       proof.MMRSize,
	}
	return mmr.VerifyFromHash(subtreeRootHash, mproof, root)
}

// offsetBackend is a throwaway in-memory mmr.Backend whose position
// space starts at startPos instead of 1, so a caller can push only one
// segment's worth of leaves and get back the exact same node hashes the
// full tree would have stored at those positions (spec §4.2's hashes are
// salted purely by absolute position and content, never by what else is
// in the tree).
type offsetBackend struct {
	size   uint64
	hashes map[uint64]mmr.Hash
}

func newOffsetBackend(startPos uint64) *offsetBackend {
	return &offsetBackend{size: startPos - 1, hashes: make(map[uint64]mmr.Hash)}
}

func (b *offsetBackend) AppendHash(h mmr.Hash) (uint64, error) {
	b.size++
	b.hashes[b.size] = h
	return b.size, nil
}

func (b *offsetBackend) HashAt(pos uint64) (mmr.Hash, bool, error) {
	h, ok := b.hashes[pos]
	return h, ok, nil
}

func (b *offsetBackend) Size() uint64 { return b.size }

// reconstructSubtreeRoot replays a segment's leaves (alive, by content,
// or dead, by their already-known hash) through the same postorder merge
// arithmetic internal/mmr.Tree uses, anchored at the segment's true
// global position, and returns the resulting subtree root hash.
func reconstructSubtreeRoot(startLeafPos uint64, numLeaves uint64, leafAt func(i uint64) (content []byte, deadHash *mmr.Hash)) (mmr.Hash, error) {
	backend := newOffsetBackend(startLeafPos)
	tree := mmr.NewTree(backend)

	var err error
	for i := uint64(0); i < numLeaves; i++ {
		content, dead := leafAt(i)
		if dead != nil {
			_, err = tree.PushHash(*dead)
		} else {
			_, err = tree.Push(content)
		}
		if err != nil {
			return mmr.Hash{}, fmt.Errorf("pibd: reconstruct subtree leaf %d: %w", i, err)
		}
	}

	// The subtree root is the last node appended, not the last leaf.
	rootPos := backend.Size()
	h, ok, err := backend.HashAt(rootPos)
	if err != nil {
		return mmr.Hash{}, err
	}
	if !ok {
		return mmr.Hash{}, fmt.Errorf("pibd: reconstructed subtree missing root hash at %d", rootPos)
	}
	return h, nil
}
