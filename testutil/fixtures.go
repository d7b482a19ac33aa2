// Package testutil provides fixture builders shared across the chain
// engine's test suites, grounded on the same "build a block, stamp its
// header from a throwaway MMR" pattern internal/txhashset's own tests
// use to construct coinbase blocks.
package testutil

import (
	"github.com/RoaringBitmap/roaring/v2"

	"github.com/grinchain/node/internal/chaintypes"
	"github.com/grinchain/node/internal/codec"
	"github.com/grinchain/node/internal/mmr"
	"github.com/grinchain/node/internal/pedersen"
	"github.com/grinchain/node/internal/txhashset"
)

const fixtureCodecVersion = codec.Version(1)

// FakeCommitment returns a non-cryptographic, syntactically valid
// Pedersen commitment distinguished by b. Tests that only exercise
// MMR/codec/storage plumbing, not the commitment/kernel-sum identity
// itself (internal/blocksums checks that independently), use this
// instead of grinding a real curve point.
func FakeCommitment(b byte) pedersen.Commitment {
	var c pedersen.Commitment
	c[0] = 0x02
	c[32] = b
	return c
}

// fixtureBackend is a throwaway in-memory mmr.Backend used only to
// compute the header fields a candidate block's body would produce.
type fixtureBackend struct{ hashes []mmr.Hash }

func (b *fixtureBackend) AppendHash(h mmr.Hash) (uint64, error) {
	b.hashes = append(b.hashes, h)
	return uint64(len(b.hashes)), nil
}

func (b *fixtureBackend) HashAt(pos uint64) (mmr.Hash, bool, error) {
	if pos == 0 || pos > uint64(len(b.hashes)) {
		return mmr.Hash{}, false, nil
	}
	return b.hashes[pos-1], true, nil
}

func (b *fixtureBackend) Size() uint64 { return uint64(len(b.hashes)) }

// StampHeader computes blk's header MMR sizes and roots from its own
// body alone, as if it were extending three empty trees, and from a UTXO
// bitmap where every one of its own outputs is alive. It is only correct
// for a block with no committed predecessor state (a standalone fixture,
// or height 0); a continuation block on top of real chain state needs
// its predecessor's MMR and bitmap folded in instead, which is the job
// of the package under test, not this shared helper.
func StampHeader(blk *chaintypes.Block) {
	outTree := mmr.NewTree(&fixtureBackend{})
	rpTree := mmr.NewTree(&fixtureBackend{})
	kTree := mmr.NewTree(&fixtureBackend{})
	alive := roaring.New()

	for i := range blk.Outputs {
		ident := blk.Outputs[i].Identifier()
		identBytes, _ := codec.Encode(fixtureCodecVersion, &ident)
		pos, _ := outTree.Push(identBytes)
		alive.Add(uint32(pos))
		rpTree.Push(blk.Outputs[i].Rangeproof)
	}
	for i := range blk.Kernels {
		kBytes, _ := codec.Encode(fixtureCodecVersion, &blk.Kernels[i])
		kTree.Push(kBytes)
	}

	outRoot, _ := outTree.Root()
	rpRoot, _ := rpTree.Root()
	kRoot, _ := kTree.Root()
	bitmapRoot, _ := txhashset.ComputeBitmapRoot(alive, mmr.NumLeaves(outTree.Size()))
	blk.Header.OutputMMRSize = outTree.Size()
	blk.Header.RangeproofMMRSize = rpTree.Size()
	blk.Header.KernelMMRSize = kTree.Size()
	blk.Header.OutputRoot = chaintypes.Hash(outRoot)
	blk.Header.RangeproofRoot = chaintypes.Hash(rpRoot)
	blk.Header.KernelRoot = chaintypes.Hash(kRoot)
	blk.Header.UTXOBitmapRoot = chaintypes.Hash(bitmapRoot)
}

// CoinbaseBlock returns a single-output, single-kernel block paying a
// coinbase reward to commitment c, with its header already stamped via
// StampHeader.
func CoinbaseBlock(height uint64, prevHash chaintypes.Hash, c pedersen.Commitment) *chaintypes.Block {
	blk := &chaintypes.Block{
		Header: chaintypes.BlockHeader{Height: height, PreviousHash: prevHash, Version: 1},
		Outputs: []chaintypes.Output{
			{Features: chaintypes.FeatureCoinbase, Commitment: c, Rangeproof: []byte{0xaa, byte(height)}},
		},
		Kernels: []chaintypes.TxKernel{
			{Features: chaintypes.KernelCoinbase, Excess: c},
		},
	}
	StampHeader(blk)
	return blk
}
