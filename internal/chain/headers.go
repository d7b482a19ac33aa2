package chain

import (
	"errors"
	"sort"
	"time"

	"github.com/grinchain/node/internal/chaincfg"
	"github.com/grinchain/node/internal/chaintypes"
)

var (
	ErrBadVersion          = errors.New("header version does not match the hard fork active at this height")
	ErrBadTimestamp        = errors.New("header timestamp is not after the median of recent headers")
	ErrFutureTimestamp     = errors.New("header timestamp is too far in the future")
	ErrBadDifficulty       = errors.New("header declares the wrong target for its height")
	ErrInvalidPoW          = errors.New("header hash does not satisfy its declared proof of work")
	ErrBadTotalDifficulty  = errors.New("header total difficulty does not equal prev total difficulty plus this block's difficulty")
	ErrDuplicateBlock      = errors.New("block already known")
	ErrOrphan              = errors.New("previous header unknown")
	ErrOversizeBlock       = errors.New("block weight exceeds the maximum")
	ErrTooHeavy            = errors.New("header declares more MMR growth over its parent than a legal block could produce")
	ErrDuplicateCommitment = errors.New("commitment appears more than once in the block")
	ErrBadCoinbaseFeature  = errors.New("coinbase output missing the coinbase feature, or plain output carries it")
	ErrIllegalKernelFeature = errors.New("kernel feature is not legal at this height")
)

// ValidateHeader checks header against prev and the trailing window of
// recent, newest-first ancestor headers (spec §4.7 "Header validation").
// recent must not include header itself.
func ValidateHeader(header, prev *chaintypes.BlockHeader, params chaincfg.Params, recent []*chaintypes.BlockHeader, dc *DifficultyCalculator, now time.Time) error {
	if header.Version != params.VersionAt(header.Height) {
		return newErr(KindValidation, "version check", ErrBadVersion)
	}
	if header.Height != prev.Height+1 {
		return newErr(KindValidation, "height continuity check", ErrBadTotalDifficulty)
	}

	if !header.ValidMMRSizes() {
		return newErr(KindCorruption, "header declares an impossible MMR size", errors.New("invalid mmr size"))
	}
	if delta, ok := header.WeightDelta(prev); !ok || delta > params.MaxBlockWeight {
		return newErr(KindValidation, "too heavy check", ErrTooHeavy)
	}

	window := recent
	if len(window) > params.BlockTimeWindow {
		window = window[:params.BlockTimeWindow]
	}
	if len(window) > 0 && header.Timestamp <= medianTimestamp(window) {
		return newErr(KindValidation, "timestamp check", ErrBadTimestamp)
	}
	if header.Timestamp > now.Add(params.MaxFutureBlockTime).Unix() {
		return newErr(KindValidation, "future timestamp check", ErrFutureTimestamp)
	}

	target := dc.NextTarget(append([]*chaintypes.BlockHeader{prev}, recent...))
	if err := VerifyPoW(header, target); err != nil {
		return err
	}

	blockDifficulty, err := BlockDifficulty(header)
	if err != nil {
		return err
	}
	if header.TotalDifficulty != prev.TotalDifficulty+blockDifficulty {
		return newErr(KindValidation, "total difficulty check", ErrBadTotalDifficulty)
	}

	return nil
}

// medianTimestamp returns the median Timestamp of headers, matching the
// "median-of-past-N" rule spec §4.7 names (Bitcoin's MTP rule,
// generalized from Bitcoin's fixed 11-header window to params.BlockTimeWindow).
func medianTimestamp(headers []*chaintypes.BlockHeader) int64 {
	ts := make([]int64, len(headers))
	for i, h := range headers {
		ts[i] = h.Timestamp
	}
	sort.Slice(ts, func(i, j int) bool { return ts[i] < ts[j] })
	return ts[len(ts)/2]
}

// ValidateBody checks a block's body against the rules spec §4.7
// "Body validation" lists that do not require consulting the UTXO set
// (those — already-spent, immature coinbase, duplicate live commitment
// — are Extension.ApplyBlock's job, since only the txhashset knows what
// is currently live).
func ValidateBody(blk *chaintypes.Block, params chaincfg.Params) error {
	if blk.Weight() > params.MaxBlockWeight {
		return newErr(KindValidation, "weight check", ErrOversizeBlock)
	}
	if blk.HasDuplicateCommitments() {
		return newErr(KindValidation, "duplicate commitment check", ErrDuplicateCommitment)
	}
	hasCoinbaseKernel := false
	for _, k := range blk.Kernels {
		if k.Features == chaintypes.KernelCoinbase {
			hasCoinbaseKernel = true
			break
		}
	}
	hasCoinbaseOutput := false
	for i := range blk.Outputs {
		if blk.Outputs[i].Features == chaintypes.FeatureCoinbase {
			hasCoinbaseOutput = true
			break
		}
	}
	if hasCoinbaseOutput != hasCoinbaseKernel {
		return newErr(KindValidation, "coinbase feature check", ErrBadCoinbaseFeature)
	}
	nrdActive := params.NRDActive(blk.Header.Height)
	for i := range blk.Kernels {
		if !blk.Kernels[i].LegalAt(nrdActive) {
			return newErr(KindValidation, "kernel feature check", ErrIllegalKernelFeature)
		}
	}
	return nil
}
