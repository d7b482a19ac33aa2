package txhashset

import (
	"github.com/RoaringBitmap/roaring/v2"

	"github.com/grinchain/node/internal/chaintypes"
	"github.com/grinchain/node/internal/mmr"
)

// BitmapChunkBits is the number of UTXO-bitmap bits packed into a single
// bitmap-tree leaf. internal/pibd's segment format chunks the bitmap the
// same way, so a header's UTXOBitmapRoot and a served bitmap segment's
// proof always fold up against the same tree shape.
const BitmapChunkBits = 8 * 1024

// bitmapBackend is a throwaway in-memory mmr.Backend: the bitmap tree is
// never persisted (spec §4.9), so it is rebuilt from the live leaf set
// bitmap on demand, both when stamping a header and when serving or
// verifying a bitmap segment.
type bitmapBackend struct{ hashes []mmr.Hash }

func (b *bitmapBackend) AppendHash(h mmr.Hash) (uint64, error) {
	b.hashes = append(b.hashes, h)
	return uint64(len(b.hashes)), nil
}

func (b *bitmapBackend) HashAt(pos uint64) (mmr.Hash, bool, error) {
	if pos == 0 || pos > uint64(len(b.hashes)) {
		return mmr.Hash{}, false, nil
	}
	return b.hashes[pos-1], true, nil
}

func (b *bitmapBackend) Size() uint64 { return uint64(len(b.hashes)) }

// BitmapChunks slices a UTXO bitmap snapshot into BitmapChunkBits-wide,
// byte-packed chunks covering 0-based leaf indices [0, numLeaves) of the
// output MMR (spec §4.9's bitmap segment format).
func BitmapChunks(bitmap *roaring.Bitmap, numLeaves uint64) [][]byte {
	numChunks := (numLeaves + BitmapChunkBits - 1) / BitmapChunkBits
	chunks := make([][]byte, numChunks)
	chunkBytes := BitmapChunkBits / 8
	for c := uint64(0); c < numChunks; c++ {
		buf := make([]byte, chunkBytes)
		base := c * BitmapChunkBits
		limit := base + BitmapChunkBits
		if limit > numLeaves {
			limit = numLeaves
		}
		for pos := base; pos < limit; pos++ {
			// pos is a 0-based leaf index; the bitmap holds 1-based MMR
			// positions, so bit i records liveness of the leaf at
			// position LeafToPos(i).
			if bitmap.Contains(uint32(mmr.LeafToPos(pos))) {
				buf[(pos-base)/8] |= 1 << uint((pos-base)%8)
			}
		}
		chunks[c] = buf
	}
	return chunks
}

// BitmapMMR builds the ephemeral MMR whose leaves are the bitmap's fixed-
// size chunks, returning the tree together with its backing mmr.Backend
// so callers can both read proofs and compute the root.
func BitmapMMR(bitmap *roaring.Bitmap, numLeaves uint64) (*mmr.Tree, mmr.Backend, error) {
	backend := &bitmapBackend{}
	tree := mmr.NewTree(backend)
	for _, chunk := range BitmapChunks(bitmap, numLeaves) {
		if _, err := tree.Push(chunk); err != nil {
			return nil, nil, err
		}
	}
	return tree, backend, nil
}

// ComputeBitmapRoot returns the bagged root of the bitmap MMR for a UTXO
// bitmap snapshot covering numLeaves output-MMR leaves. TxHashSet uses
// this to stamp a block header's UTXOBitmapRoot at apply time;
// internal/pibd's Segmenter uses the same function to answer bitmap
// segment requests, so a header's recorded root and a served segment's
// proof always agree.
func ComputeBitmapRoot(bitmap *roaring.Bitmap, numLeaves uint64) (mmr.Hash, error) {
	tree, _, err := BitmapMMR(bitmap, numLeaves)
	if err != nil {
		return mmr.Hash{}, err
	}
	return tree.Root()
}

// BitmapRoot returns the current bagged root of the UTXO bitmap tree,
// covering every leaf position of the current output MMR.
func (t *TxHashSet) BitmapRoot() (chaintypes.Hash, error) {
	h, err := ComputeBitmapRoot(t.leafSet.Snapshot(), mmr.NumLeaves(t.outputTree.Size()))
	if err != nil {
		return chaintypes.Hash{}, err
	}
	return chaintypes.Hash(h), nil
}
