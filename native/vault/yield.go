package vault

import "math/bits"

// Yield band in basis points. The dynamic yield starts at the base rate and
// grows with monthly volume and deposit tenure, capped at 12% APY.
const (
	BaseYieldBps        uint16 = 300
	MaxVolumeBonusBps   uint16 = 600
	MaxLoyaltyBonusBps  uint16 = 300
	MaxTotalYieldBps    uint16 = 1_200
	volumeBonusCeiling  uint64 = 1_000_000_000_000 // $1M/month in micro-units
	loyaltyBonusCeiling int64  = 365
)

// YieldBps maps a merchant's rolling performance to an annualized yield rate.
//
// The volume bonus ramps linearly to its cap at $1M of monthly volume and the
// loyalty bonus to its cap at 365 days deposited. Intermediate products are
// widened to 128 bits; a product that would still not fit drops that bonus
// term to zero instead of failing the caller.
func YieldBps(monthlyVolumeUSD uint64, daysDeposited int64) uint16 {
	total := uint64(BaseYieldBps) + uint64(volumeBonus(monthlyVolumeUSD)) + uint64(loyaltyBonus(daysDeposited))
	if total > uint64(MaxTotalYieldBps) {
		return MaxTotalYieldBps
	}
	return uint16(total)
}

func volumeBonus(monthlyVolumeUSD uint64) uint16 {
	if monthlyVolumeUSD >= volumeBonusCeiling {
		return MaxVolumeBonusBps
	}
	hi, lo := bits.Mul64(monthlyVolumeUSD, uint64(MaxVolumeBonusBps))
	if hi != 0 {
		return 0
	}
	bonus := lo / volumeBonusCeiling
	if bonus > uint64(MaxVolumeBonusBps) {
		return MaxVolumeBonusBps
	}
	return uint16(bonus)
}

func loyaltyBonus(daysDeposited int64) uint16 {
	if daysDeposited >= loyaltyBonusCeiling {
		return MaxLoyaltyBonusBps
	}
	if daysDeposited <= 0 {
		return 0
	}
	bonus := uint64(daysDeposited) * uint64(MaxLoyaltyBonusBps) / uint64(loyaltyBonusCeiling)
	if bonus > uint64(MaxLoyaltyBonusBps) {
		return MaxLoyaltyBonusBps
	}
	return uint16(bonus)
}
