package mmr

import "fmt"

// Backend is the storage abstraction a Tree pushes hashes into and reads
// them back from. Positions are 1-based MMR positions. Implementations
// (e.g. internal/pmmrfile) own durability; Tree owns only the arithmetic.
type Backend interface {
	// AppendHash stores the hash at the next position and returns it.
	AppendHash(h Hash) (pos uint64, err error)
	// HashAt returns the hash stored at pos, or ok=false if pruned/absent.
	HashAt(pos uint64) (h Hash, ok bool, err error)
	// Size returns the current MMR size (highest assigned position).
	Size() uint64
}

// Tree is the MMR arithmetic layer described in spec §4.2: push, peak
// path, Merkle proof and bagged root, all expressed in terms of a Backend.
type Tree struct {
	backend Backend
}

// NewTree wraps backend with MMR arithmetic.
func NewTree(backend Backend) *Tree {
	return &Tree{backend: backend}
}

// Size returns the underlying backend's current MMR size.
func (t *Tree) Size() uint64 { return t.backend.Size() }

// Push appends a leaf, inserting it and any now-determined parent nodes,
// and returns the leaf's assigned position.
func (t *Tree) Push(leaf []byte) (uint64, error) {
	size := t.backend.Size()
	leafPos := size + 1
	leafHash := HashLeaf(leafPos, leaf)
	return t.pushHash(leafPos, leafHash)
}

// PushHash appends a leaf whose hash is already known — used by PIBD
// segment assembly to place a pruned (dead) leaf back into the tree
// without its original content, which was never retained (spec §4.9).
func (t *Tree) PushHash(leafHash Hash) (uint64, error) {
	leafPos := t.backend.Size() + 1
	return t.pushHash(leafPos, leafHash)
}

func (t *Tree) pushHash(leafPos uint64, leafHash Hash) (uint64, error) {
	pos, err := t.backend.AppendHash(leafHash)
	if err != nil {
		return 0, err
	}
	if pos != leafPos {
		return 0, fmt.Errorf("mmr: backend appended at %d, expected %d", pos, leafPos)
	}

	// Merge with left siblings while the new total size still completes a
	// perfect subtree (i.e. height(pos+1) > height(pos)).
	cur := leafPos
	curHash := leafHash
	for Height(cur+1) > Height(cur) {
		_, siblingPos := FamilyOf(cur)
		siblingHash, ok, err := t.backend.HashAt(siblingPos)
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, fmt.Errorf("mmr: missing sibling hash at %d while merging %d", siblingPos, cur)
		}
		parentPos := cur + 1
		parentHash := HashInternal(parentPos, siblingHash, curHash)
		gotPos, err := t.backend.AppendHash(parentHash)
		if err != nil {
			return 0, err
		}
		if gotPos != parentPos {
			return 0, fmt.Errorf("mmr: backend appended parent at %d, expected %d", gotPos, parentPos)
		}
		cur = parentPos
		curHash = parentHash
	}

	return leafPos, nil
}

// peakHashes returns the hash of every peak of an MMR of size n.
func (t *Tree) peakHashes(n uint64) ([]Hash, error) {
	positions := PeakPositions(n)
	hashes := make([]Hash, len(positions))
	for i, pos := range positions {
		h, ok, err := t.backend.HashAt(pos)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("mmr: missing peak hash at %d", pos)
		}
		hashes[i] = h
	}
	return hashes, nil
}

// Root computes the bagged root of the MMR at its current size: the peaks
// are right-folded, innermost-first, with the size folded into the final
// hash per spec §4.2's `root(N) = h(N || h_k || bag(h_{k-1} || ... || h_1))`.
func (t *Tree) Root() (Hash, error) {
	return t.RootAt(t.backend.Size())
}

// RootAt computes the bagged root for a historical size n <= current size.
func (t *Tree) RootAt(n uint64) (Hash, error) {
	peaks, err := t.peakHashes(n)
	if err != nil {
		return Hash{}, err
	}
	return BagPeaks(n, peaks), nil
}

// BagPeaks folds a list of peak hashes (left to right) into a single root,
// salted by the MMR size n.
func BagPeaks(n uint64, peaks []Hash) Hash {
	if len(peaks) == 0 {
		return sizeHash(n)
	}
	bagged := peaks[len(peaks)-1]
	for i := len(peaks) - 2; i >= 0; i-- {
		bagged = bagPair(peaks[i], bagged)
	}
	return hashSizeAnd(n, bagged)
}

func bagPair(a, b Hash) Hash {
	return HashInternal(0, a, b)
}

func hashSizeAnd(n uint64, h Hash) Hash {
	return HashLeaf(n, h[:])
}

func sizeHash(n uint64) Hash {
	return HashLeaf(n, nil)
}

// ProofStep is one sibling hash on the path from a leaf to its peak root.
type ProofStep struct {
	Hash     Hash
	OnRight  bool // true if Hash is the right sibling of the current node
}

// Proof is an inclusion proof: the sibling path from a leaf up to its
// peak, plus the remaining peaks needed to re-bag the full root.
type Proof struct {
	LeafPos    uint64
	Path       []ProofStep
	PeakHashes []Hash // all peaks of the tree, in left-to-right order
	Size       uint64
}

// MerkleProof builds an inclusion proof for the leaf at pos against the
// MMR's current size.
func (t *Tree) MerkleProof(pos uint64) (*Proof, error) {
	size := t.backend.Size()
	if pos == 0 || pos > size {
		return nil, fmt.Errorf("mmr: position %d out of range [1,%d]", pos, size)
	}

	peakPositions := PeakPositions(size)
	var peakForLeaf uint64
	for _, pp := range peakPositions {
		if pos <= pp {
			peakForLeaf = pp
			break
		}
	}

	var path []ProofStep
	cur := pos
	for cur != peakForLeaf {
		parent, sibling := FamilyOf(cur)
		h, ok, err := t.backend.HashAt(sibling)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("mmr: missing proof sibling at %d", sibling)
		}
		onRight := sibling > cur
		path = append(path, ProofStep{Hash: h, OnRight: onRight})
		cur = parent
	}

	peaks, err := t.peakHashes(size)
	if err != nil {
		return nil, err
	}

	return &Proof{LeafPos: pos, Path: path, PeakHashes: peaks, Size: size}, nil
}

// Verify checks that leaf at proof.LeafPos hashes, via proof.Path and the
// recorded peaks, to root.
func Verify(leaf []byte, proof *Proof, root Hash) bool {
	return VerifyFromHash(HashLeaf(proof.LeafPos, leaf), proof, root)
}

// VerifyFromHash is like Verify but starts from an already-computed node
// hash rather than raw leaf content — used to verify a PIBD segment's
// proof, which is anchored at a subtree root rather than a single leaf
// (spec §4.9).
func VerifyFromHash(nodeHash Hash, proof *Proof, root Hash) bool {
	cur := nodeHash
	pos := proof.LeafPos
	for _, step := range proof.Path {
		parentPos, _ := FamilyOf(pos)
		if step.OnRight {
			cur = HashInternal(parentPos, cur, step.Hash)
		} else {
			cur = HashInternal(parentPos, step.Hash, cur)
		}
		pos = parentPos
	}

	// cur should now equal one of the recorded peaks at the position pos.
	found := false
	peakPositions := PeakPositions(proof.Size)
	for i, pp := range peakPositions {
		if pp == pos {
			if proof.PeakHashes[i] != cur {
				return false
			}
			found = true
			break
		}
	}
	if !found {
		return false
	}

	return BagPeaks(proof.Size, proof.PeakHashes) == root
}
