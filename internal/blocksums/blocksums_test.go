package blocksums

import (
	"testing"

	"github.com/grinchain/node/internal/chaintypes"
	"github.com/grinchain/node/internal/pedersen"
)

func blind(b byte) pedersen.BlindingFactor {
	var r pedersen.BlindingFactor
	r[31] = b
	r[0] = 0x01
	return r
}

func mustCommit(t *testing.T, value uint64, r pedersen.BlindingFactor) pedersen.Commitment {
	t.Helper()
	c, err := pedersen.Commit(value, r)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestGenesisVerifies(t *testing.T) {
	sums := Genesis()
	if err := VerifyKernelSum(sums, pedersen.BlindingFactor{}); err != nil {
		t.Fatalf("expected genesis sums to verify, got %v", err)
	}
}

func TestApplyChainOfCoinbaseThenTransferVerifies(t *testing.T) {
	rIn := blind(1)
	rOut := blind(2)

	inCommit := mustCommit(t, 100, rIn)
	outCommit := mustCommit(t, 60, rOut)

	// Block 0: a coinbase block minting the first output. Its kernel
	// excess commits to 0 under rIn, so the running sums land exactly on
	// rIn*G once the 100H reward is subtracted back out.
	coinbaseExcess, err := pedersen.Commit(0, rIn)
	if err != nil {
		t.Fatal(err)
	}
	block0 := &chaintypes.Block{
		Outputs: []chaintypes.Output{{Features: chaintypes.FeatureCoinbase, Commitment: inCommit}},
		Kernels: []chaintypes.TxKernel{{Features: chaintypes.KernelCoinbase, Excess: coinbaseExcess}},
	}
	sums0, err := ApplyBlock(Genesis(), block0, 100)
	if err != nil {
		t.Fatal(err)
	}
	if err := VerifyKernelSum(sums0, pedersen.BlindingFactor{}); err != nil {
		t.Fatalf("expected coinbase block to verify, got %v", err)
	}

	// Block 1: spend inCommit for a 60-value output plus a 40 fee,
	// excess = rOut - rIn so the blinding factors cancel appropriately.
	excessR := subScalars(rOut, rIn)
	excess, err := pedersen.Commit(0, excessR)
	if err != nil {
		t.Fatal(err)
	}
	block1 := &chaintypes.Block{
		Inputs:  []chaintypes.Input{{Commitment: inCommit}},
		Outputs: []chaintypes.Output{{Features: chaintypes.FeaturePlain, Commitment: outCommit}},
		Kernels: []chaintypes.TxKernel{{Features: chaintypes.KernelPlain, Fee: 40, Excess: excess}},
	}
	sums1, err := ApplyBlock(sums0, block1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := VerifyKernelSum(sums1, pedersen.BlindingFactor{}); err != nil {
		t.Fatalf("expected balanced transfer block to verify, got %v", err)
	}
}

func TestApplyBlockRejectsUnbalancedKernel(t *testing.T) {
	rIn := blind(1)
	rOut := blind(2)

	inCommit := mustCommit(t, 100, rIn)
	outCommit := mustCommit(t, 60, rOut)

	coinbaseExcess, err := pedersen.Commit(0, rIn)
	if err != nil {
		t.Fatal(err)
	}
	block0 := &chaintypes.Block{
		Outputs: []chaintypes.Output{{Features: chaintypes.FeatureCoinbase, Commitment: inCommit}},
		Kernels: []chaintypes.TxKernel{{Features: chaintypes.KernelCoinbase, Excess: coinbaseExcess}},
	}
	sums0, err := ApplyBlock(Genesis(), block0, 100)
	if err != nil {
		t.Fatal(err)
	}

	// Wrong excess: use rOut directly instead of rOut-rIn, which will not
	// satisfy the homomorphic identity.
	excess, err := pedersen.Commit(0, rOut)
	if err != nil {
		t.Fatal(err)
	}
	block1 := &chaintypes.Block{
		Inputs:  []chaintypes.Input{{Commitment: inCommit}},
		Outputs: []chaintypes.Output{{Features: chaintypes.FeaturePlain, Commitment: outCommit}},
		Kernels: []chaintypes.TxKernel{{Features: chaintypes.KernelPlain, Fee: 40, Excess: excess}},
	}
	sums1, err := ApplyBlock(sums0, block1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := VerifyKernelSum(sums1, pedersen.BlindingFactor{}); err == nil {
		t.Fatal("expected unbalanced kernel to fail verification")
	}
}

// subScalars computes a-b modulo the curve order's straightforward
// byte-wise complement, sufficient for these tests' small values.
func subScalars(a, b pedersen.BlindingFactor) pedersen.BlindingFactor {
	var out pedersen.BlindingFactor
	borrow := 0
	for i := 31; i >= 0; i-- {
		diff := int(a[i]) - int(b[i]) - borrow
		if diff < 0 {
			diff += 256
			borrow = 1
		} else {
			borrow = 0
		}
		out[i] = byte(diff)
	}
	return out
}
