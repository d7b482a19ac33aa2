package txhashset

import (
	"fmt"

	"github.com/grinchain/node/internal/chaincfg"
	"github.com/grinchain/node/internal/chaintypes"
	"github.com/grinchain/node/internal/pedersen"
	"github.com/grinchain/node/internal/store"
)

// UTXOView answers point-lookup questions against the current UTXO set
// without mutating it, the read path transaction pool validation uses
// before a transaction is ever placed in a block (spec §4.5 utxo_view,
// §4.10 C10 acceptance checks).
type UTXOView struct {
	ths   *TxHashSet
	batch *store.Batch
}

// UTXOView opens a read-only UTXO view against batch's snapshot.
func (t *TxHashSet) UTXOView(batch *store.Batch) *UTXOView {
	return &UTXOView{ths: t, batch: batch}
}

// ValidateInput reports whether commit names a currently-live, mature
// output, returning its CommitPos if so.
func (v *UTXOView) ValidateInput(commit pedersen.Commitment, atHeight uint64, params chaincfg.Params) (*chaintypes.CommitPos, error) {
	cp, err := v.batch.GetOutputPos([33]byte(commit))
	if err != nil || !v.ths.leafSet.Contains(cp.Pos) {
		return nil, fmt.Errorf("txhashset: input %x: %w", commit[:8], ErrAlreadySpent)
	}
	if !cp.Mature(atHeight, params.CoinbaseMaturity) {
		return nil, fmt.Errorf("txhashset: input %x: %w", commit[:8], ErrImmatureCoinbase)
	}
	return cp, nil
}

// ValidateOutput reports whether commit would be a legal new output,
// i.e. it does not collide with a still-live UTXO.
func (v *UTXOView) ValidateOutput(commit pedersen.Commitment) error {
	prior, err := v.batch.GetOutputPos([33]byte(commit))
	if err == nil && v.ths.leafSet.Contains(prior.Pos) {
		return fmt.Errorf("txhashset: output %x: %w", commit[:8], ErrDuplicateCommitment)
	}
	return nil
}
