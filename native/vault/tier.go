package vault

// Tier is the discrete performance classification of a merchant. It gates no
// engine behaviour; it exists for reporting.
type Tier uint8

const (
	TierBronze Tier = iota
	TierSilver
	TierGold
	TierPlatinum
)

func (t Tier) String() string {
	switch t {
	case TierBronze:
		return "Bronze"
	case TierSilver:
		return "Silver"
	case TierGold:
		return "Gold"
	case TierPlatinum:
		return "Platinum"
	default:
		return "Unknown"
	}
}

// Tier thresholds. Volume is expressed in USD micro-units; both the volume
// and the tenure threshold must be met jointly.
const (
	tierSilverVolume   uint64 = 10_000_000_000  // $10k/month
	tierGoldVolume     uint64 = 50_000_000_000  // $50k/month
	tierPlatinumVolume uint64 = 200_000_000_000 // $200k/month

	tierSilverDays   int64 = 90
	tierGoldDays     int64 = 180
	tierPlatinumDays int64 = 365
)

// TierFor classifies a merchant from its monthly volume and deposit tenure.
// Tiers are evaluated highest first; the first tier whose volume and tenure
// thresholds are both satisfied wins, defaulting to Bronze.
func TierFor(monthlyVolumeUSD uint64, depositedAt, now int64) Tier {
	daysDeposited := (now - depositedAt) / secondsPerDay

	switch {
	case monthlyVolumeUSD >= tierPlatinumVolume && daysDeposited >= tierPlatinumDays:
		return TierPlatinum
	case monthlyVolumeUSD >= tierGoldVolume && daysDeposited >= tierGoldDays:
		return TierGold
	case monthlyVolumeUSD >= tierSilverVolume && daysDeposited >= tierSilverDays:
		return TierSilver
	default:
		return TierBronze
	}
}
