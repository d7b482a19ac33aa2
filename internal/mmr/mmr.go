// Package mmr implements the postorder-indexed Merkle Mountain Range
// arithmetic described in spec §4.2: a forest of perfect binary trees
// whose positions, heights, peaks and bagged root follow purely from
// 1-based position bit patterns.
package mmr

import "crypto/sha256"

// Hash is a 32-byte digest, reused for leaves, internal nodes and roots.
type Hash [32]byte

// HashFn computes the domain-separated node hash at a given position,
// mixing in the position as a salt so the same content at different tree
// shapes never collides (spec §4.2).
//
//   leaf:     h(p || L)
//   internal: h(p || left || right)
func HashLeaf(pos uint64, leaf []byte) Hash {
	h := sha256.New()
	writeUint64(h, pos)
	h.Write(leaf)
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// HashInternal computes an internal node hash from its two children.
func HashInternal(pos uint64, left, right Hash) Hash {
	h := sha256.New()
	writeUint64(h, pos)
	h.Write(left[:])
	h.Write(right[:])
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

func writeUint64(h interface{ Write([]byte) (int, error) }, v uint64) {
	var b [8]byte
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	h.Write(b[:])
}

// allOnes reports whether the binary representation of n is all 1 bits
// (i.e. n+1 is a power of two). Used to find "running ones" boundaries.
func allOnes(n uint64) bool {
	return n != 0 && n&(n+1) == 0
}

// mostSignificantPos returns 2^(bitlen(n)-1) for n > 0.
func mostSignificantPos(n uint64) uint64 {
	pos := uint64(1)
	for pos<<1 <= n {
		pos <<= 1
	}
	return pos
}

// bintreeJumpLeftSibling returns the position of the left sibling of the
// perfect subtree rooted at pos, given that subtree's height.
func bintreeJumpLeftSibling(pos, height uint64) uint64 {
	return pos - (1 << (height + 1)) + 1
}

// bintreeJumpRightSibling returns the position of the right sibling.
func bintreeJumpRightSibling(pos, height uint64) uint64 {
	return pos + (1 << (height + 1)) - 1
}

// Height returns the height of the node at 1-based position p: the count
// of trailing 1-bits after normalizing by the running-ones boundary
// structure of an MMR (spec §4.2).
func Height(pos uint64) uint64 {
	if pos == 0 {
		return 0
	}
	p := pos
	for !allOnes(p) {
		top := mostSignificantPos(p)
		p = p - (top - 1)
	}
	height := uint64(0)
	for p > 1 {
		p >>= 1
		height++
	}
	return height
}

// IsLeaf reports whether pos is a leaf node (height 0).
func IsLeaf(pos uint64) bool { return Height(pos) == 0 }

// FamilyOf returns the parent position and sibling position of pos. A
// node's postorder successor is its parent exactly when that successor
// sits one height higher (i.e. pos is the right child, and the parent
// immediately follows it); otherwise pos is the left child and the
// parent instead follows the full right subtree (spec §4.2: "parent
// arithmetic uses only shifts and adds").
func FamilyOf(pos uint64) (parent, sibling uint64) {
	height := Height(pos)
	nextHeight := Height(pos + 1)
	if nextHeight > height {
		// pos is the right child; its sibling is to the left and the
		// parent immediately follows pos.
		sibling = bintreeJumpLeftSibling(pos, height)
		parent = pos + 1
	} else {
		// pos is the left child; its sibling is the whole right subtree
		// and the parent follows that subtree.
		sibling = bintreeJumpRightSibling(pos, height)
		parent = sibling + 1
	}
	return parent, sibling
}

// PeakSizes decomposes an MMR of size n into the sizes of its perfect
// subtrees (peaks), MSB to LSB of n's "number of leaves" binary form.
// This is used both to validate that n is a legal MMR size and to locate
// peak positions.
func PeakSizes(n uint64) []uint64 {
	var sizes []uint64
	remaining := n
	for remaining > 0 {
		peakSize := peakSizeFor(remaining)
		sizes = append(sizes, peakSize)
		remaining -= peakSize
	}
	return sizes
}

// peakSizeFor returns the size (in positions) of the largest perfect
// binary subtree whose size is <= n.
func peakSizeFor(n uint64) uint64 {
	size := uint64(1)
	for (size<<1)|1 <= n {
		size = (size << 1) | 1
	}
	return size
}

// IsValidMMRSize reports whether n equals the sum of some set of perfect
// binary tree sizes, i.e. it is a legal MMR size (spec §3 header invariant).
// Each peak must be strictly smaller than the one before it.
func IsValidMMRSize(n uint64) bool {
	remaining := n
	prev := uint64(0)
	for remaining > 0 {
		peakSize := peakSizeFor(remaining)
		if prev != 0 && peakSize >= prev {
			return false
		}
		prev = peakSize
		remaining -= peakSize
	}
	return true
}

// PeakPositions returns the 1-based positions of the peaks of an MMR of
// size n, left to right.
func PeakPositions(n uint64) []uint64 {
	sizes := PeakSizes(n)
	var positions []uint64
	offset := uint64(0)
	for _, sz := range sizes {
		offset += sz
		positions = append(positions, offset)
	}
	return positions
}

// NumLeaves returns the number of leaves contained in an MMR of size n.
func NumLeaves(n uint64) uint64 {
	var leaves uint64
	for _, sz := range PeakSizes(n) {
		leaves += (sz + 1) / 2
	}
	return leaves
}

// LeafToPos converts a 0-based leaf index to its 1-based MMR position.
func LeafToPos(leafIdx uint64) uint64 {
	// Sum sizes of all perfect trees that hold leaves [0, leafIdx), then
	// add the path down to the leafIdx-th leaf within its own tree.
	var pos uint64
	remaining := leafIdx
	for {
		height := treeHeightFor(remaining)
		treeLeaves := uint64(1) << height
		if remaining < treeLeaves {
			return pos + subtreeLeafPos(remaining, height)
		}
		pos += (treeLeaves << 1) - 1
		remaining -= treeLeaves
	}
}

// treeHeightFor returns the height of the largest perfect tree whose leaf
// count is a power of two not exceeding 2^63 (bounded by usable uint64
// range for leaf counts in practice).
func treeHeightFor(remainingLeaves uint64) uint64 {
	height := uint64(0)
	for (uint64(1) << (height + 1)) <= remainingLeaves {
		height++
	}
	return height
}

// subtreeLeafPos returns the 1-based position of leaf index idx within a
// perfect subtree of the given height, using the standard recursive
// postorder construction: left subtree first, then right subtree, then
// the parent node.
func subtreeLeafPos(idx uint64, height uint64) uint64 {
	if height == 0 {
		return 1
	}
	half := uint64(1) << (height - 1)
	leftSize := (half << 1) - 1
	if idx < half {
		return subtreeLeafPos(idx, height-1)
	}
	return leftSize + subtreeLeafPos(idx-half, height-1)
}
