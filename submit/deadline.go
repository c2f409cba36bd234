package submit

import (
	"math"

	"github.com/holiman/uint256"
)

// twoPow42 is the network-difficulty constant from §8 property 9.
const twoPow42 = 4398046511104

// DefaultBlockTimeSecs is the block interval used for netDiff, per the
// spec note that BHD's 300s figure is display-only and never feeds the
// calculation.
const DefaultBlockTimeSecs = 240

// NetDiff computes floor(floor(2^42/blockTimeSecs)/baseTarget) (§8
// property 9). The division chain runs over uint256 rather than uint64
// so a future base_target/interval combination near the uint64 ceiling
// can't silently wrap before truncating — the arithmetic the teacher's
// own difficulty code reaches for uint256 to get for free.
func NetDiff(baseTarget, blockTimeSecs uint64) uint64 {
	if baseTarget == 0 || blockTimeSecs == 0 {
		return 0
	}
	numerator := new(uint256.Int).SetUint64(twoPow42)
	interval := new(uint256.Int).SetUint64(blockTimeSecs)
	perSecond := new(uint256.Int).Div(numerator, interval)
	bt := new(uint256.Int).SetUint64(baseTarget)
	return new(uint256.Int).Div(perSecond, bt).Uint64()
}

// DynamicDeadline computes floor(720*netDiff/capacityTiB) (§8 property
// 10). Returns 0 when capacityTiB is non-positive (caller should then
// fall through to the next deadline-priority tier).
func DynamicDeadline(netDiff uint64, capacityTiB float64) uint64 {
	if capacityTiB <= 0 {
		return 0
	}
	return uint64(math.Floor(720 * float64(netDiff) / capacityTiB))
}
