package txpool

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"

	"github.com/grinchain/node/internal/chaincfg"
	"github.com/grinchain/node/internal/chaintypes"
	"github.com/grinchain/node/internal/codec"
	"github.com/grinchain/node/internal/mmr"
	"github.com/grinchain/node/internal/pedersen"
	"github.com/grinchain/node/internal/store"
	"github.com/grinchain/node/internal/txhashset"
	"github.com/grinchain/node/internal/txverify"
)

// memBackend is a throwaway in-memory mmr.Backend, the same shape
// internal/txhashset's own tests use to precompute header fields before
// a block is actually applied.
type memBackend struct{ hashes []mmr.Hash }

func (m *memBackend) AppendHash(h mmr.Hash) (uint64, error) {
	m.hashes = append(m.hashes, h)
	return uint64(len(m.hashes)), nil
}

func (m *memBackend) HashAt(pos uint64) (mmr.Hash, bool, error) {
	if pos == 0 || pos > uint64(len(m.hashes)) {
		return mmr.Hash{}, false, nil
	}
	return m.hashes[pos-1], true, nil
}

func (m *memBackend) Size() uint64 { return uint64(len(m.hashes)) }

func stampGenesisHeader(blk *chaintypes.Block) {
	outTree := mmr.NewTree(&memBackend{})
	rpTree := mmr.NewTree(&memBackend{})
	kTree := mmr.NewTree(&memBackend{})
	alive := roaring.New()
	for i := range blk.Outputs {
		ident := blk.Outputs[i].Identifier()
		identBytes, _ := codec.Encode(1, &ident)
		pos, _ := outTree.Push(identBytes)
		alive.Add(uint32(pos))
		rpTree.Push(blk.Outputs[i].Rangeproof)
	}
	for i := range blk.Kernels {
		kBytes, _ := codec.Encode(1, &blk.Kernels[i])
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

func blind(b byte) pedersen.BlindingFactor {
	var r pedersen.BlindingFactor
	r[0] = 0x01
	r[31] = b
	return r
}

func sign(t *testing.T, excess pedersen.Commitment, r pedersen.BlindingFactor, msg [32]byte) []byte {
	t.Helper()
	priv := secp256k1.PrivKeyFromBytes(r[:])
	sig := ecdsa.Sign(priv, msg[:])
	return sig.Serialize()
}

// setupMatureCoinbase builds a txhashset+store pair with a single
// committed coinbase block whose output is already past maturity, so a
// transaction spending it can be admitted to the pool.
func setupMatureCoinbase(t *testing.T) (*txhashset.TxHashSet, *store.Store, chaincfg.Params, pedersen.Commitment, pedersen.BlindingFactor, uint64) {
	t.Helper()
	dir := t.TempDir()
	ths, err := txhashset.Open(dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ths.Close() })
	st, err := store.Open(filepath.Join(dir, "chain.db"), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	params := chaincfg.Dev()
	const reward = 100

	rCoin := blind(1)
	coinCommit, err := pedersen.Commit(reward, rCoin)
	if err != nil {
		t.Fatal(err)
	}
	// A coinbase kernel's excess commits to 0 with the output's own
	// blinding factor, so blocksums' utxo/kernel-sum identity holds with
	// a zero total offset (spec §4.6): utxo_sum == Commit(reward,rCoin) -
	// reward*H == rCoin*G == kernel_sum.
	excess, err := pedersen.Commit(0, rCoin)
	if err != nil {
		t.Fatal(err)
	}
	msg := kernelSigMessage(chaintypes.TxKernel{Features: chaintypes.KernelCoinbase})
	sig := sign(t, excess, rCoin, msg)

	blk := &chaintypes.Block{
		Header: chaintypes.BlockHeader{Height: 1, PreviousHash: chaintypes.ZeroHash},
		Outputs: []chaintypes.Output{
			{Features: chaintypes.FeatureCoinbase, Commitment: coinCommit, Rangeproof: []byte("rp")},
		},
		Kernels: []chaintypes.TxKernel{
			{Features: chaintypes.KernelCoinbase, Excess: excess, ExcessSig: sig},
		},
	}
	stampGenesisHeader(blk)

	batch, err := st.Begin()
	if err != nil {
		t.Fatal(err)
	}
	if err := ths.Extending(batch, params, func(ext *txhashset.Extension) error {
		return ext.ApplyBlock(blk)
	}); err != nil {
		t.Fatalf("apply coinbase block: %v", err)
	}

	maturedHeight := blk.Header.Height + params.CoinbaseMaturity
	return ths, st, params, coinCommit, rCoin, maturedHeight
}

func TestAdmitAcceptsValidMatureSpend(t *testing.T) {
	ths, st, params, coinCommit, rCoin, maturedHeight := setupMatureCoinbase(t)

	rOut := blind(2)
	// The kernel pays the minimum fee Admit accepts; the output carries
	// the rest of the coinbase value.
	const fee = FeeFloor
	const spendValue = 100 - fee
	outCommit, err := pedersen.Commit(spendValue, rOut)
	if err != nil {
		t.Fatal(err)
	}
	// excess = outCommit - coinCommit + fee*H, as a commitment to 0 with
	// blinding (rOut - rCoin); represent via Negate/Add since test has no
	// scalar subtraction helper.
	negCoin, err := pedersen.Negate(coinCommit)
	if err != nil {
		t.Fatal(err)
	}
	feeH, err := pedersen.Commit(fee, pedersen.BlindingFactor{})
	if err != nil {
		t.Fatal(err)
	}
	excess, err := pedersen.Add(outCommit, negCoin, feeH)
	if err != nil {
		t.Fatal(err)
	}
	rExcess := subScalars(rOut, rCoin)
	msg := kernelSigMessage(chaintypes.TxKernel{Fee: fee})
	sig := sign(t, excess, rExcess, msg)

	tx := &chaintypes.Transaction{
		Inputs:  []chaintypes.Input{{Commitment: coinCommit}},
		Outputs: []chaintypes.Output{{Features: chaintypes.FeaturePlain, Commitment: outCommit, Rangeproof: []byte("rp2")}},
		Kernels: []chaintypes.TxKernel{{Fee: fee, Excess: excess, ExcessSig: sig}},
	}

	batch, err := st.Begin()
	if err != nil {
		t.Fatal(err)
	}
	defer batch.Rollback()
	view := ths.UTXOView(batch)

	p := New(params, nil)
	cache := txverify.New(nil)
	if err := p.Admit(tx, view, cache, maturedHeight, params); err != nil {
		t.Fatalf("Admit: %v", err)
	}
}

func TestAdmitRejectsImmatureCoinbase(t *testing.T) {
	ths, st, params, coinCommit, rCoin, _ := setupMatureCoinbase(t)

	rOut := blind(2)
	outCommit, _ := pedersen.Commit(100-FeeFloor, rOut)
	negCoin, _ := pedersen.Negate(coinCommit)
	feeH, _ := pedersen.Commit(FeeFloor, pedersen.BlindingFactor{})
	excess, _ := pedersen.Add(outCommit, negCoin, feeH)
	rExcess := subScalars(rOut, rCoin)
	msg := kernelSigMessage(chaintypes.TxKernel{Fee: FeeFloor})
	sig := sign(t, excess, rExcess, msg)

	tx := &chaintypes.Transaction{
		Inputs:  []chaintypes.Input{{Commitment: coinCommit}},
		Outputs: []chaintypes.Output{{Commitment: outCommit, Rangeproof: []byte("rp2")}},
		Kernels: []chaintypes.TxKernel{{Fee: FeeFloor, Excess: excess, ExcessSig: sig}},
	}

	batch, _ := st.Begin()
	defer batch.Rollback()
	view := ths.UTXOView(batch)

	p := New(params, nil)
	cache := txverify.New(nil)
	// Block 1 is the coinbase's birth height; spending it immediately at
	// height 2 is before params.CoinbaseMaturity confirmations have
	// elapsed (spec §4.10 S4).
	err := p.Admit(tx, view, cache, 2, params)
	if err == nil {
		t.Fatal("expected immature coinbase to be rejected")
	}
}

func subScalars(a, b pedersen.BlindingFactor) pedersen.BlindingFactor {
	var out pedersen.BlindingFactor
	borrow := 0
	for i := 31; i >= 0; i-- {
		d := int(a[i]) - int(b[i]) - borrow
		if d < 0 {
			d += 256
			borrow = 1
		} else {
			borrow = 0
		}
		out[i] = byte(d)
	}
	return out
}

func TestMineableSetMaximizesFeesWithinWeight(t *testing.T) {
	p := New(chaincfg.Dev(), nil)

	mkTx := func(fee uint64, commit byte) *chaintypes.Transaction {
		return &chaintypes.Transaction{
			Kernels: []chaintypes.TxKernel{{Fee: fee}},
			Inputs:  []chaintypes.Input{{Commitment: pedersen.Commitment{commit}}},
		}
	}

	p.addMempool(&Entry{Tx: mkTx(10, 1), Hash: chaintypes.Hash{1}, ReceivedAt: time.Now()})
	p.addMempool(&Entry{Tx: mkTx(5, 2), Hash: chaintypes.Hash{2}, ReceivedAt: time.Now()})
	p.addMempool(&Entry{Tx: mkTx(20, 3), Hash: chaintypes.Hash{3}, ReceivedAt: time.Now()})

	selected := p.MineableSet(10, 1_000_000)
	if len(selected) != 3 {
		t.Fatalf("expected all 3 non-conflicting txs selected, got %d", len(selected))
	}
	if selected[0].Fee() != 20 {
		t.Fatalf("expected highest-fee tx first, got fee %d", selected[0].Fee())
	}
}

func TestMineableSetDropsConflictingInputs(t *testing.T) {
	p := New(chaincfg.Dev(), nil)
	commit := pedersen.Commitment{9}

	tx1 := &chaintypes.Transaction{Kernels: []chaintypes.TxKernel{{Fee: 20}}, Inputs: []chaintypes.Input{{Commitment: commit}}}
	tx2 := &chaintypes.Transaction{Kernels: []chaintypes.TxKernel{{Fee: 10}}, Inputs: []chaintypes.Input{{Commitment: commit}}}

	p.addMempool(&Entry{Tx: tx1, Hash: chaintypes.Hash{1}, ReceivedAt: time.Now()})
	p.addMempool(&Entry{Tx: tx2, Hash: chaintypes.Hash{2}, ReceivedAt: time.Now()})

	selected := p.MineableSet(10, 1_000_000)
	if len(selected) != 1 {
		t.Fatalf("expected only the higher-fee conflicting tx selected, got %d", len(selected))
	}
	if selected[0].Fee() != 20 {
		t.Fatalf("expected the higher-fee tx to win the conflict, got fee %d", selected[0].Fee())
	}
}

func TestReconcileBlockDropsSpentInputs(t *testing.T) {
	p := New(chaincfg.Dev(), nil)
	commit := pedersen.Commitment{7}
	tx := &chaintypes.Transaction{Inputs: []chaintypes.Input{{Commitment: commit}}, Kernels: []chaintypes.TxKernel{{Fee: 1}}}
	hash := chaintypes.Hash{1}
	p.addMempool(&Entry{Tx: tx, Hash: hash, ReceivedAt: time.Now()})

	blk := &chaintypes.Block{Inputs: []chaintypes.Input{{Commitment: commit}}}
	p.ReconcileBlock(blk)

	if p.Has(hash) {
		t.Fatal("expected pool entry whose input was spent by the block to be dropped")
	}
}
