package txhashset

import "errors"

// ErrAlreadySpent is returned when a block input names a commitment with
// no live entry in output_pos, or one whose output-MMR leaf has already
// been removed from the UTXO bitmap (spec §4.5 apply_block).
var ErrAlreadySpent = errors.New("txhashset: input already spent or unknown")

// ErrImmatureCoinbase is returned when a block input spends a coinbase
// output before its maturity window has elapsed (spec §4.10 S4).
var ErrImmatureCoinbase = errors.New("txhashset: coinbase output not yet mature")

// ErrDuplicateCommitment is returned when a block output's commitment
// already has a live (unspent) entry in the UTXO set.
var ErrDuplicateCommitment = errors.New("txhashset: duplicate output commitment")

// ErrSizeMismatch is returned when the MMR sizes resulting from applying
// a block's body disagree with the sizes the block's header declares.
var ErrSizeMismatch = errors.New("txhashset: mmr size mismatch against header")

// ErrRootMismatch is returned when the MMR roots resulting from applying
// a block's body disagree with the roots the block's header declares.
var ErrRootMismatch = errors.New("txhashset: mmr root mismatch against header")
