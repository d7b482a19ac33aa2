package chain

import (
	"encoding/binary"
	"math/big"
	"time"

	"github.com/grinchain/node/internal/chaintypes"
	"github.com/grinchain/node/pkg/util"
)

// MaxTarget is the easiest legal target, the development-network
// equivalent of the teacher's sharechain.MaxShareTarget. A production
// network supplies its own PoW algorithm and maximum target as part of
// its parameter set; the exact proof system (the source's Cuckatoo
// cycle) is a consensus value this package deliberately does not fix
// (spec §9 Open Questions).
var MaxTarget = util.CompactToTarget(0x207fffff)

// headerTarget extracts the compact target a header's PoW was produced
// against, encoded as the first 4 bytes of PowPayload (big-endian
// nBits), the development stand-in for a real cycle-proof payload.
func headerTarget(h *chaintypes.BlockHeader) (*big.Int, error) {
	if len(h.PowPayload) < 4 {
		return nil, newErr(KindValidation, "pow payload too short", ErrInvalidPoW)
	}
	compact := binary.BigEndian.Uint32(h.PowPayload[:4])
	return util.CompactToTarget(compact), nil
}

// VerifyPoW checks that header's declared target matches want and that
// header's hash actually meets that target.
func VerifyPoW(h *chaintypes.BlockHeader, want *big.Int) error {
	got, err := headerTarget(h)
	if err != nil {
		return err
	}
	if got.Cmp(want) != 0 {
		return newErr(KindValidation, "header declares a target that does not match next_difficulty", ErrBadDifficulty)
	}
	if !util.HashMeetsTarget(h.Hash(), got) {
		return newErr(KindValidation, "header hash does not meet its declared target", ErrInvalidPoW)
	}
	return nil
}

// DifficultyCalculator retargets every block from a trailing window of
// prior headers, the same clamped moving-average scheme as the
// teacher's sharechain.DifficultyCalculator, generalized from shares to
// block headers and from a fixed 4x clamp per adjustment to the same
// clamp applied over the whole window.
type DifficultyCalculator struct {
	targetTime time.Duration
	window     int
}

// NewDifficultyCalculator builds a calculator targeting one block every
// targetTime, retargeting from up to window trailing headers.
func NewDifficultyCalculator(targetTime time.Duration, window int) *DifficultyCalculator {
	return &DifficultyCalculator{targetTime: targetTime, window: window}
}

// NextTarget computes the target the next header must meet, given
// recent, newest-first headers (recent[0] is the current tip).
func (dc *DifficultyCalculator) NextTarget(recent []*chaintypes.BlockHeader) *big.Int {
	if len(recent) < 2 {
		return new(big.Int).Set(MaxTarget)
	}

	window := recent
	if len(window) > dc.window {
		window = window[:dc.window]
	}

	newest := window[0]
	currentTarget, err := headerTarget(newest)
	if err != nil || currentTarget.Sign() == 0 {
		return new(big.Int).Set(MaxTarget)
	}

	// Trim the window to headers within 4x of the newest target; headers
	// from a wildly different difficulty regime (cold start, a sudden
	// hashrate change) would distort the timing average.
	upper := new(big.Int).Mul(currentTarget, big.NewInt(4))
	lower := new(big.Int).Div(currentTarget, big.NewInt(4))
	for i := 1; i < len(window); i++ {
		t, err := headerTarget(window[i])
		if err != nil || t.Sign() == 0 || t.Cmp(upper) > 0 || t.Cmp(lower) < 0 {
			window = window[:i]
			break
		}
	}
	if len(window) < 2 {
		return new(big.Int).Set(currentTarget)
	}

	oldest := window[len(window)-1]
	actualSeconds := newest.Timestamp - oldest.Timestamp
	if actualSeconds <= 0 {
		actualSeconds = 1
	}
	expectedSeconds := int64(dc.targetTime/time.Second) * int64(len(window)-1)
	if expectedSeconds <= 0 {
		expectedSeconds = 1
	}

	newTarget := new(big.Int).Mul(currentTarget, big.NewInt(actualSeconds))
	newTarget.Div(newTarget, big.NewInt(expectedSeconds))

	if newTarget.Cmp(upper) > 0 {
		newTarget = upper
	}
	if newTarget.Cmp(lower) < 0 {
		newTarget = lower
	}
	if newTarget.Cmp(MaxTarget) > 0 {
		newTarget = new(big.Int).Set(MaxTarget)
	}
	return newTarget
}

// DifficultyOf returns the difficulty a header's target represents,
// relative to MaxTarget, purely for logging/metrics.
func DifficultyOf(h *chaintypes.BlockHeader) (float64, error) {
	t, err := headerTarget(h)
	if err != nil {
		return 0, err
	}
	return util.TargetToDifficulty(t, MaxTarget), nil
}

// BlockDifficulty returns the integer difficulty header contributes to
// TotalDifficulty, floor(MaxTarget/target), so total_difficulty
// accumulates exactly (spec §4.7 "total_difficulty == prev.total_difficulty
// + difficulty") rather than drifting under float64 rounding.
func BlockDifficulty(h *chaintypes.BlockHeader) (uint64, error) {
	t, err := headerTarget(h)
	if err != nil {
		return 0, err
	}
	if t.Sign() <= 0 {
		return 0, newErr(KindValidation, "non-positive target", ErrBadDifficulty)
	}
	diff := new(big.Int).Div(MaxTarget, t)
	if !diff.IsUint64() {
		return 0, newErr(KindValidation, "difficulty overflow", ErrBadDifficulty)
	}
	return diff.Uint64(), nil
}
