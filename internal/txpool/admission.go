// Admission implements spec §4.10's ordered check pipeline: decode (the
// caller's job) -> basic validity -> kernel feature legality -> pool
// conflict check -> UTXO view check (including coinbase maturity) ->
// kernel sum identity -> kernel signature verification. Rangeproofs are
// not verified by this pipeline.
package txpool

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/grinchain/node/internal/blocksums"
	"github.com/grinchain/node/internal/chaincfg"
	"github.com/grinchain/node/internal/chaintypes"
	"github.com/grinchain/node/internal/pedersen"
	"github.com/grinchain/node/internal/txhashset"
	"github.com/grinchain/node/internal/txverify"
)

var (
	ErrEmptyTransaction     = errors.New("txpool: transaction has no kernels")
	ErrWeightTooLarge       = errors.New("txpool: transaction weight exceeds the pool floor")
	ErrFeeTooLow            = errors.New("txpool: transaction fee is below the floor")
	ErrDuplicateCommitment  = errors.New("txpool: duplicate commitment within transaction")
	ErrIllegalKernelFeature = errors.New("txpool: kernel feature is not legal at this height")
	ErrImmatureCoinbase     = errors.New("txpool: input spends a coinbase output before maturity")
	ErrConflict             = errors.New("txpool: input already spent by another pool entry or the chain")
	ErrKernelSumMismatch    = errors.New("txpool: transaction kernel sum identity does not hold")
	ErrInvalidSignature     = errors.New("txpool: kernel excess signature does not verify")
)

// FeeFloor is the minimum total fee, in atomic units, a transaction must
// pay to be admitted (spec §4.10 "fees >= floor"); it is not scaled by
// the transaction's weight.
const FeeFloor = 1

// MaxPoolWeight bounds any single transaction's weight, independent of
// chaincfg.Params.MaxBlockWeight, so one transaction can never by itself
// exceed what any block could ever include.
const MaxPoolWeight = 10_000

// Admit runs tx through the full admission pipeline against view (a
// read-only snapshot opened over the committed chain state) and the
// pool's own in-flight entries, recording a verification result in
// cache once checked so a later block inclusion need not redo it (spec
// §4.10, SPEC_FULL supplement #2). atHeight is the height a block
// extending the current tip would have.
func (p *Pool) Admit(tx *chaintypes.Transaction, view *txhashset.UTXOView, cache *txverify.Cache, atHeight uint64, params chaincfg.Params) error {
	if len(tx.Kernels) == 0 {
		return ErrEmptyTransaction
	}
	if tx.Weight() > MaxPoolWeight {
		return ErrWeightTooLarge
	}
	if tx.Fee() < FeeFloor {
		return ErrFeeTooLow
	}
	if tx.HasDuplicateCommitments() {
		return ErrDuplicateCommitment
	}

	nrdActive := params.NRDActive(atHeight)
	for i := range tx.Kernels {
		if !tx.Kernels[i].LegalAt(nrdActive) {
			return ErrIllegalKernelFeature
		}
	}

	if err := p.checkConflicts(tx); err != nil {
		return err
	}

	for _, in := range tx.Inputs {
		cp, err := view.ValidateInput(in.Commitment, atHeight, params)
		if err != nil {
			if errors.Is(err, txhashset.ErrImmatureCoinbase) {
				return ErrImmatureCoinbase
			}
			return fmt.Errorf("%w: %v", ErrConflict, err)
		}
		_ = cp
	}
	for _, out := range tx.Outputs {
		if err := view.ValidateOutput(out.Commitment); err != nil {
			return fmt.Errorf("%w: %v", ErrConflict, err)
		}
	}

	sums, err := blocksums.ApplyBlock(blocksums.Genesis(), asBlockBody(tx), 0)
	if err != nil {
		return fmt.Errorf("txpool: apply sums: %w", err)
	}
	if err := blocksums.VerifyKernelSum(sums, tx.Offset); err != nil {
		return fmt.Errorf("%w: %v", ErrKernelSumMismatch, err)
	}

	if err := p.verifySignatures(tx, cache); err != nil {
		return err
	}

	return nil
}

// checkConflicts reports ErrConflict when one of tx's inputs is also an
// input of an entry already in either in-flight pool; outputs are not
// compared here (spec §4.10: "every
// input references a live output not already spent by another pool
// entry").
func (p *Pool) checkConflicts(tx *chaintypes.Transaction) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for set := range unionSets(p.mempool, p.stempool) {
		for _, in := range tx.Inputs {
			for _, otherIn := range set.Tx.Inputs {
				if in.Commitment == otherIn.Commitment {
					return ErrConflict
				}
			}
		}
	}
	return nil
}

// verifySignatures checks every kernel's excess signature, skipping any
// pair cache already proved good (SPEC_FULL supplement #2).
func (p *Pool) verifySignatures(tx *chaintypes.Transaction, cache *txverify.Cache) error {
	for _, k := range tx.Kernels {
		msg := kernelSigMessage(k)
		if cache != nil && cache.HasKernelSig(k.Excess, msg) {
			continue
		}
		ok, err := pedersen.VerifyExcessSig(k.Excess, msg, k.ExcessSig)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
		if !ok {
			return ErrInvalidSignature
		}
		if cache != nil {
			cache.RecordKernelSig(k.Excess, msg)
		}
	}
	return nil
}

// kernelSigMessage derives the signed message for a kernel's excess
// signature from its fee and lock fields, the data a kernel's signature
// commits to once cut-through removes everything else about the
// transaction that produced it.
func kernelSigMessage(k chaintypes.TxKernel) [32]byte {
	var buf [19]byte
	buf[0] = byte(k.Features)
	putU64(buf[1:9], k.Fee)
	putU64(buf[9:17], k.LockHeight)
	buf[17] = byte(k.RelativeHeight)
	buf[18] = byte(k.RelativeHeight >> 8)
	return sha256.Sum256(buf[:])
}

func putU64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[7-i] = byte(v >> (8 * i))
	}
}

// asBlockBody adapts a standalone Transaction to the body shape
// blocksums.ApplyBlock expects, so the same Mimblewimble sum-identity
// code verifies both mined blocks and pool candidates.
func asBlockBody(tx *chaintypes.Transaction) *chaintypes.Block {
	return &chaintypes.Block{Inputs: tx.Inputs, Outputs: tx.Outputs, Kernels: tx.Kernels}
}
