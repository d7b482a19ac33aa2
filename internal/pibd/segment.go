// Package pibd implements segment-based fast sync (spec §4.9): a new
// node fetches the UTXO/rangeproof/kernel MMRs and the UTXO bitmap in
// fixed-size, independently verifiable pieces anchored to a bounded-depth
// "archive" header rather than downloading and replaying the full chain
// history. A Segmenter answers segment requests out of a local,
// steady-state TxHashSet; a Desegmenter drives the fetch-and-assemble
// side of the exchange for a syncing peer.
package pibd

import (
	"github.com/grinchain/node/internal/chaintypes"
	"github.com/grinchain/node/internal/mmr"
)

// SegmentIdentifier addresses one fixed-size piece of a tree: the 2^Height
// leaves starting at leaf index Idx*2^Height (spec §4.9).
type SegmentIdentifier struct {
	Height uint8
	Idx    uint64
}

// SegmentProof carries everything needed to fold a segment's leaves back
// up to the owning tree's bagged root without access to any other part
// of the tree: the path from the segment's subtree root to its peak, and
// the remaining peaks needed to re-bag the full root. Partial is set for
// the trailing segment of a tree whose leaf count isn't a multiple of
// 2^Height — that segment's subtree is incomplete and is verified only
// once assembly is complete and the full bagged root can be recomputed
// (a documented simplification; see DESIGN.md).
type SegmentProof struct {
	SubtreeRootPos uint64
	Path           []mmr.ProofStep
	PeakHashes     []mmr.Hash
	MMRSize        uint64
	Partial        bool
}

// DeadLeaf is a pruned or spent leaf position within a segment, carried
// by its hash alone since the original content was never retained once
// pruned (spec §4.3's data-file pruning, §4.9's segment format). LeafIdx
// is the leaf's 0-based index, letting a receiver place it within the
// segment's leaf range without inverting MMR position arithmetic.
type DeadLeaf struct {
	Pos     uint64
	LeafIdx uint64
	Hash    mmr.Hash
}

// OutputLeaf is one alive output-MMR leaf within an OutputSegment.
type OutputLeaf struct {
	Pos        uint64
	LeafIdx    uint64
	Identifier chaintypes.OutputIdentifier
}

// RangeproofLeaf is one alive rangeproof-MMR leaf within a RangeproofSegment.
type RangeproofLeaf struct {
	Pos     uint64
	LeafIdx uint64
	Proof   []byte
}

// KernelLeaf is one kernel-MMR leaf within a KernelSegment. Kernels are
// never prunable, so a KernelSegment has no dead leaves.
type KernelLeaf struct {
	Pos     uint64
	LeafIdx uint64
	Kernel  chaintypes.TxKernel
}

// OutputSegment is the response to an output-tree segment request.
type OutputSegment struct {
	ID      SegmentIdentifier
	Proof   SegmentProof
	Outputs []OutputLeaf
	Dead    []DeadLeaf
}

// RangeproofSegment is the response to a rangeproof-tree segment request.
type RangeproofSegment struct {
	ID     SegmentIdentifier
	Proof  SegmentProof
	Proofs []RangeproofLeaf
	Dead   []DeadLeaf
}

// KernelSegment is the response to a kernel-tree segment request.
type KernelSegment struct {
	ID      SegmentIdentifier
	Proof   SegmentProof
	Kernels []KernelLeaf
}

// BitmapChunk is one fixed-size, bit-packed slice of the UTXO bitmap,
// covering txhashset.BitmapChunkBits consecutive output-MMR leaf
// positions.
type BitmapChunk struct {
	Idx  uint64
	Bits []byte
}

// BitmapSegment is the response to a bitmap-tree segment request. Unlike
// the other three trees, the bitmap tree is not persisted — it is
// recomputed on demand from the UTXO bitmap snapshot by whichever side
// needs it (spec §4.9).
type BitmapSegment struct {
	ID     SegmentIdentifier
	Proof  SegmentProof
	Chunks []BitmapChunk
}
