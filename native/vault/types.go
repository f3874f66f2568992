package vault

import "fmt"

// AssetClass identifies which balance a deposit locks up: the base ledger
// currency or the fungible token standard.
type AssetClass uint8

const (
	AssetNative AssetClass = iota
	AssetToken
)

// Valid reports whether the asset class is within the supported range.
func (a AssetClass) Valid() bool {
	switch a {
	case AssetNative, AssetToken:
		return true
	default:
		return false
	}
}

func (a AssetClass) String() string {
	switch a {
	case AssetNative:
		return "native"
	case AssetToken:
		return "token"
	default:
		return fmt.Sprintf("asset(%d)", uint8(a))
	}
}

// Default registry parameters applied at initialization.
const (
	DefaultMinDepositNative uint64 = 1_000_000_000 // 1 whole unit in base denomination
	DefaultMinDepositToken  uint64 = 100_000_000   // 100 tokens at 6 decimals
	DefaultRewardShareBps   uint16 = 8_000
)

// Registry is the single global configuration record shared by every merchant
// account bound to a vault deployment. Only the authority may mutate it.
type Registry struct {
	Authority        [20]byte
	TotalDeposits    uint64
	TotalMerchants   uint32
	MinDepositNative uint64
	MinDepositToken  uint64
	RewardShareBps   uint16
	StakingEnabled   bool
}

// NewRegistry returns a registry populated with deployment defaults for the
// supplied authority.
func NewRegistry(authority [20]byte) *Registry {
	return &Registry{
		Authority:        authority,
		MinDepositNative: DefaultMinDepositNative,
		MinDepositToken:  DefaultMinDepositToken,
		RewardShareBps:   DefaultRewardShareBps,
		StakingEnabled:   true,
	}
}

// Clone returns a copy of the registry callers can mutate safely.
func (r *Registry) Clone() *Registry {
	if r == nil {
		return nil
	}
	clone := *r
	return &clone
}

// MinDeposit returns the configured minimum for the given asset class.
func (r *Registry) MinDeposit(asset AssetClass) uint64 {
	if asset == AssetToken {
		return r.MinDepositToken
	}
	return r.MinDepositNative
}

// ConfigUpdate carries optional registry overrides. Nil fields are left
// untouched.
type ConfigUpdate struct {
	MinDepositNative *uint64
	MinDepositToken  *uint64
	RewardShareBps   *uint16
	StakingEnabled   *bool
}

// MerchantAccount is the per-merchant collateral record. It is created lazily
// on first deposit and becomes a terminal historical record after withdrawal.
type MerchantAccount struct {
	Merchant [20]byte
	Vault    [32]byte
	Asset    AssetClass

	TotalDeposited uint64
	AccruedRewards uint64
	Active         bool
	DepositedAt    int64

	// Performance metrics feeding the dynamic yield.
	TotalOrdersProcessed   uint64
	TotalVolumeUSD         uint64
	CurrentMonthVolume     uint64
	LastVolumeReset        int64
	MonthlyUniqueCustomers uint32
	CurrentYieldBps        uint16
}

// Clone returns a copy of the merchant account.
func (m *MerchantAccount) Clone() *MerchantAccount {
	if m == nil {
		return nil
	}
	clone := *m
	return &clone
}

// SanitizeAccount validates invariants on a merchant account before it is
// persisted: a known asset class and a yield rate inside the engine's band.
func SanitizeAccount(m *MerchantAccount) (*MerchantAccount, error) {
	if m == nil {
		return nil, fmt.Errorf("vault: nil merchant account")
	}
	if !m.Asset.Valid() {
		return nil, fmt.Errorf("vault: invalid asset class: %d", m.Asset)
	}
	if m.CurrentYieldBps < BaseYieldBps || m.CurrentYieldBps > MaxTotalYieldBps {
		return nil, fmt.Errorf("vault: yield %d bps outside [%d, %d]", m.CurrentYieldBps, BaseYieldBps, MaxTotalYieldBps)
	}
	return m.Clone(), nil
}

// TokenAccounts carries the explicit token-holding account references required
// by token-class transfers. Native transfers carry no counterpart references
// beyond the custody account the state layer derives itself.
type TokenAccounts struct {
	Source      [20]byte
	Destination [20]byte
}

// RewardBreakdown is the result of the reward ladder, either previewed by
// CalculateRewards or applied by Withdraw.
type RewardBreakdown struct {
	DaysElapsed    uint64
	YieldBps       uint16
	AnnualReward   uint64
	DailyReward    uint64
	GrossReward    uint64
	MerchantReward uint64
}

// WithdrawalReceipt reports the terminal settlement of a merchant account.
type WithdrawalReceipt struct {
	Account *MerchantAccount
	Reward  RewardBreakdown
	Payout  uint64
}

// TierReport pairs a merchant's performance tier with its current yield.
type TierReport struct {
	Tier             Tier
	YieldBps         uint16
	MonthlyVolumeUSD uint64
}
