package pibd

import (
	"fmt"

	"github.com/grinchain/node/internal/chaintypes"
	"github.com/grinchain/node/internal/mmr"
	"github.com/grinchain/node/internal/txhashset"
)

// Segmenter answers segment requests out of a local TxHashSet, pinned to
// an archive header's declared MMR sizes so a syncing peer always sees a
// self-consistent, unmoving view regardless of blocks the serving node
// accepts in the meantime (spec §4.9: "archive header N blocks behind
// tip"). The underlying TxHashSet keeps growing; Segmenter simply never
// reads past the sizes recorded at construction time.
type Segmenter struct {
	ths     *txhashset.TxHashSet
	archive *chaintypes.BlockHeader
}

// NewSegmenter pins a Segmenter to archive's declared tree sizes. archive
// must already be committed (its MMR sizes must not exceed the
// TxHashSet's current sizes).
func NewSegmenter(ths *txhashset.TxHashSet, archive *chaintypes.BlockHeader) *Segmenter {
	return &Segmenter{ths: ths, archive: archive}
}

func (s *Segmenter) readerFor(kind txhashset.TreeKind) hashReader {
	return func(pos uint64) (mmr.Hash, bool, error) { return s.ths.TreeHashAt(kind, pos) }
}

// OutputSegment answers an output-tree segment request.
func (s *Segmenter) OutputSegment(id SegmentIdentifier) (*OutputSegment, error) {
	numLeaves := mmr.NumLeaves(s.archive.OutputMMRSize)
	start, end, partial := segmentLeafRange(id.Height, id.Idx, numLeaves)
	proof, err := buildProof(s.readerFor(txhashset.TreeOutput), id.Height, id.Idx, partial, s.archive.OutputMMRSize)
	if err != nil {
		return nil, fmt.Errorf("pibd: output segment %+v: %w", id, err)
	}

	seg := &OutputSegment{ID: id, Proof: *proof}
	for leaf := start; leaf < end; leaf++ {
		pos := mmr.LeafToPos(leaf)
		if s.ths.LeafAlive(pos) {
			ident, err := s.ths.OutputIdentifierAt(leaf)
			if err != nil {
				return nil, fmt.Errorf("pibd: output leaf %d: %w", leaf, err)
			}
			seg.Outputs = append(seg.Outputs, OutputLeaf{Pos: pos, LeafIdx: leaf, Identifier: ident})
			continue
		}
		h, ok, err := s.ths.TreeHashAt(txhashset.TreeOutput, pos)
		if err != nil {
			return nil, fmt.Errorf("pibd: output leaf %d hash: %w", leaf, err)
		}
		if !ok {
			return nil, fmt.Errorf("pibd: output leaf %d has no recorded hash", leaf)
		}
		seg.Dead = append(seg.Dead, DeadLeaf{Pos: pos, LeafIdx: leaf, Hash: h})
	}
	return seg, nil
}

// RangeproofSegment answers a rangeproof-tree segment request. Dead
// (spent) positions mirror the output tree's liveness exactly, since the
// two trees are pruned in lockstep (spec §4.3).
func (s *Segmenter) RangeproofSegment(id SegmentIdentifier) (*RangeproofSegment, error) {
	numLeaves := mmr.NumLeaves(s.archive.RangeproofMMRSize)
	start, end, partial := segmentLeafRange(id.Height, id.Idx, numLeaves)
	proof, err := buildProof(s.readerFor(txhashset.TreeRangeproof), id.Height, id.Idx, partial, s.archive.RangeproofMMRSize)
	if err != nil {
		return nil, fmt.Errorf("pibd: rangeproof segment %+v: %w", id, err)
	}

	seg := &RangeproofSegment{ID: id, Proof: *proof}
	for leaf := start; leaf < end; leaf++ {
		pos := mmr.LeafToPos(leaf)
		if s.ths.LeafAlive(pos) {
			rp, err := s.ths.RangeproofAt(leaf)
			if err != nil {
				return nil, fmt.Errorf("pibd: rangeproof leaf %d: %w", leaf, err)
			}
			seg.Proofs = append(seg.Proofs, RangeproofLeaf{Pos: pos, LeafIdx: leaf, Proof: rp})
			continue
		}
		h, ok, err := s.ths.TreeHashAt(txhashset.TreeRangeproof, pos)
		if err != nil {
			return nil, fmt.Errorf("pibd: rangeproof leaf %d hash: %w", leaf, err)
		}
		if !ok {
			return nil, fmt.Errorf("pibd: rangeproof leaf %d has no recorded hash", leaf)
		}
		seg.Dead = append(seg.Dead, DeadLeaf{Pos: pos, LeafIdx: leaf, Hash: h})
	}
	return seg, nil
}

// KernelSegment answers a kernel-tree segment request. Kernels are never
// pruned, so every leaf in range is present.
func (s *Segmenter) KernelSegment(id SegmentIdentifier) (*KernelSegment, error) {
	numLeaves := mmr.NumLeaves(s.archive.KernelMMRSize)
	start, end, partial := segmentLeafRange(id.Height, id.Idx, numLeaves)
	proof, err := buildProof(s.readerFor(txhashset.TreeKernel), id.Height, id.Idx, partial, s.archive.KernelMMRSize)
	if err != nil {
		return nil, fmt.Errorf("pibd: kernel segment %+v: %w", id, err)
	}

	seg := &KernelSegment{ID: id, Proof: *proof}
	for leaf := start; leaf < end; leaf++ {
		k, err := s.ths.KernelAt(leaf)
		if err != nil {
			return nil, fmt.Errorf("pibd: kernel leaf %d: %w", leaf, err)
		}
		seg.Kernels = append(seg.Kernels, KernelLeaf{Pos: mmr.LeafToPos(leaf), LeafIdx: leaf, Kernel: k})
	}
	return seg, nil
}

// BitmapSegment answers a bitmap-tree segment request. The bitmap tree is
// never persisted (spec §4.9), so every call rebuilds the whole tree over
// all output leaves' chunks, not just the requested segment's; that cost
// grows with the number of output leaves.
func (s *Segmenter) BitmapSegment(id SegmentIdentifier) (*BitmapSegment, error) {
	numOutputLeaves := mmr.NumLeaves(s.archive.OutputMMRSize)
	numChunks := (numOutputLeaves + txhashset.BitmapChunkBits - 1) / txhashset.BitmapChunkBits

	tree, backend, err := txhashset.BitmapMMR(s.ths.LeafSetBitmap(), numOutputLeaves)
	if err != nil {
		return nil, fmt.Errorf("pibd: build bitmap mmr: %w", err)
	}
	chunks := txhashset.BitmapChunks(s.ths.LeafSetBitmap(), numOutputLeaves)

	reader := func(pos uint64) (mmr.Hash, bool, error) { return backend.HashAt(pos) }
	start, end, partial := segmentLeafRange(id.Height, id.Idx, numChunks)
	proof, err := buildProof(reader, id.Height, id.Idx, partial, tree.Size())
	if err != nil {
		return nil, fmt.Errorf("pibd: bitmap segment %+v: %w", id, err)
	}

	seg := &BitmapSegment{ID: id, Proof: *proof}
	for c := start; c < end; c++ {
		seg.Chunks = append(seg.Chunks, BitmapChunk{Idx: c, Bits: chunks[c]})
	}
	return seg, nil
}
