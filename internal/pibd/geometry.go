package pibd

import "github.com/grinchain/node/internal/mmr"

// NumSegments returns how many segments of the given height are needed
// to cover a tree with numLeaves leaves, including a final partial one
// if numLeaves isn't a multiple of 2^height.
func NumSegments(height uint8, numLeaves uint64) uint64 {
	if numLeaves == 0 {
		return 0
	}
	perSegment := uint64(1) << height
	return (numLeaves + perSegment - 1) / perSegment
}

// segmentLeafRange returns the half-open [start,end) leaf-index range
// segment (height, idx) covers against a tree of numLeaves leaves, and
// whether that range is a trailing partial segment.
func segmentLeafRange(height uint8, idx uint64, numLeaves uint64) (start, end uint64, partial bool) {
	perSegment := uint64(1) << height
	start = idx * perSegment
	end = start + perSegment
	if end > numLeaves {
		end = numLeaves
		partial = true
	}
	return start, end, partial
}

// subtreeRootPos returns the MMR position of the root of the complete
// perfect subtree spanning leaves [idx*2^height, (idx+1)*2^height). Valid
// only when that subtree is complete — i.e. not the trailing partial
// segment a tree whose leaf count isn't 2^height-aligned may have. Every
// 2^height-aligned block of leaves gets its internal root hash written
// permanently during postorder construction, regardless of whether it
// later becomes a peak or is absorbed into a larger subtree, so this
// position is always valid for a complete subtree once its leaves exist.
func subtreeRootPos(height uint8, idx uint64) uint64 {
	start := mmr.LeafToPos(idx << height)
	return start + (uint64(1)<<(height+1)) - 2
}
