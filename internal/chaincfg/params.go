// Package chaincfg holds the consensus and operational constants consumed
// by the chain state engine. Network-specific proof-of-work parameters are
// deliberately not fixed here (spec Open Questions, §9) — callers supply a
// Params value for the network they target.
package chaincfg

import "time"

// HardFork identifies a protocol version activation height.
type HardFork struct {
	Name    string
	Height  uint64
	Version uint16
}

// Params bundles every consensus constant the core needs. A production
// binary selects one of Mainnet/Dev; tests build their own.
type Params struct {
	// CoinbaseMaturity is the minimum number of confirmations before a
	// coinbase output may be spent.
	CoinbaseMaturity uint64

	// CutThroughHorizon is the maximum reorg depth the chain will accept;
	// beyond this the old branch's data may already be pruned.
	CutThroughHorizon uint64

	// MaxBlockWeight bounds the sum of input/output/kernel weights in a
	// single block body.
	MaxBlockWeight uint64

	// HardForks is the ordered (ascending height) activation schedule.
	HardForks []HardFork

	// NRDEnabledFrom is the protocol version from which NRD
	// (relative-height-locked) kernels are a legal kernel feature.
	NRDEnabledFrom uint16

	// BlockTimeWindow is the number of historical headers used to compute
	// the median-time-past check during header validation.
	BlockTimeWindow int

	// MaxFutureBlockTime bounds how far a header's timestamp may sit ahead
	// of the local clock before it is rejected.
	MaxFutureBlockTime time.Duration
}

// Dev returns parameters suitable for local development chains: short
// maturity and horizon so test scenarios do not need hundreds of blocks.
func Dev() Params {
	return Params{
		CoinbaseMaturity:   3,
		CutThroughHorizon:  20,
		MaxBlockWeight:     40_000,
		NRDEnabledFrom:     3,
		BlockTimeWindow:    11,
		MaxFutureBlockTime: 2 * time.Hour,
		HardForks: []HardFork{
			{Name: "HF0", Height: 0, Version: 1},
			{Name: "HF1", Height: 50, Version: 2},
			{Name: "HF2", Height: 100, Version: 3},
			{Name: "HF3", Height: 150, Version: 4},
		},
	}
}

// Mainnet returns production-scale parameters. PoW difficulty-adjustment
// constants are consensus values owned by the target network's parameter
// set and are not modeled here (spec §9 Open Questions).
func Mainnet() Params {
	return Params{
		CoinbaseMaturity:   1_440,
		CutThroughHorizon:  5_760,
		MaxBlockWeight:     40_000,
		NRDEnabledFrom:     3,
		BlockTimeWindow:    11,
		MaxFutureBlockTime: 2 * time.Hour,
		HardForks: []HardFork{
			{Name: "HF0", Height: 0, Version: 1},
			{Name: "HF1", Height: 262_080, Version: 2},
			{Name: "HF2", Height: 524_160, Version: 3},
			{Name: "HF3", Height: 786_240, Version: 4},
		},
	}
}

// VersionAt returns the protocol version active at height.
func (p Params) VersionAt(height uint64) uint16 {
	v := uint16(1)
	for _, hf := range p.HardForks {
		if height >= hf.Height {
			v = hf.Version
		}
	}
	return v
}

// NRDActive reports whether NRD kernels are legal at height.
func (p Params) NRDActive(height uint64) bool {
	return p.VersionAt(height) >= p.NRDEnabledFrom
}

// Segment heights (leaves = 2^height per segment), fixed per tree per spec §4.9.
const (
	BitmapSegmentHeight      = 9
	OutputSegmentHeight      = 11
	RangeproofSegmentHeight  = 11
	KernelSegmentHeight      = 11
)

// PIBD scheduling constants (spec §4.9 / original_source pibd_params.rs).
const (
	MaxOutstandingSegmentRequests = 15
	SegmentRequestTimeout         = 60 * time.Second
	MaxCachedSegments             = 50
	TxHashsetZipFallbackTime      = 60 * time.Second
	ArchiveHeaderDepth            = 10 // blocks behind tip the archive header sits
)

// Orphan cache bound (spec §4.7).
const MaxOrphans = 256

// BaseReward is the coinbase reward paid at height 0, in the chain's
// atomic unit. Halving schedule mirrors the original implementation's
// fixed per-block issuance (spec §4.6 "reward" term; no halving is
// modeled since the reference chain this was distilled from pays a flat
// reward per block rather than Bitcoin-style halving epochs).
const BaseReward = 60_000_000_000

// RewardAt returns the coinbase reward owed to the block at height.
func (p Params) RewardAt(height uint64) uint64 {
	return BaseReward
}

// Node process exit codes (spec §6).
const (
	ExitClean              = 0
	ExitConfigError         = 1
	ExitStoreError          = 2
	ExitConsensusViolation  = 3
)
