package vault

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
)

type depositKey struct {
	vault    [32]byte
	merchant [20]byte
}

type agentKey struct {
	vault    [32]byte
	merchant [20]byte
	agent    [20]byte
}

type mockState struct {
	registries map[[32]byte]*Registry
	deposits   map[depositKey]*MerchantAccount
	agents     map[agentKey]bool
	balances   map[AssetClass]map[[20]byte]uint64
}

func newMockState() *mockState {
	return &mockState{
		registries: make(map[[32]byte]*Registry),
		deposits:   make(map[depositKey]*MerchantAccount),
		agents:     make(map[agentKey]bool),
		balances: map[AssetClass]map[[20]byte]uint64{
			AssetNative: make(map[[20]byte]uint64),
			AssetToken:  make(map[[20]byte]uint64),
		},
	}
}

func (m *mockState) RegistryKey(authority [20]byte) [32]byte {
	var key [32]byte
	copy(key[:], authority[:])
	return key
}

func (m *mockState) VaultGet(key [32]byte) (*Registry, bool, error) {
	reg, ok := m.registries[key]
	if !ok {
		return nil, false, nil
	}
	return reg.Clone(), true, nil
}

func (m *mockState) VaultPut(key [32]byte, reg *Registry) error {
	if reg == nil {
		return fmt.Errorf("nil registry")
	}
	m.registries[key] = reg.Clone()
	return nil
}

func (m *mockState) DepositGet(vaultKey [32]byte, merchant [20]byte) (*MerchantAccount, bool, error) {
	acct, ok := m.deposits[depositKey{vaultKey, merchant}]
	if !ok {
		return nil, false, nil
	}
	return acct.Clone(), true, nil
}

func (m *mockState) DepositPut(acct *MerchantAccount) error {
	sanitized, err := SanitizeAccount(acct)
	if err != nil {
		return err
	}
	m.deposits[depositKey{sanitized.Vault, sanitized.Merchant}] = sanitized
	return nil
}

func (m *mockState) AgentAuthorized(vaultKey [32]byte, merchant, agent [20]byte) (bool, error) {
	return m.agents[agentKey{vaultKey, merchant, agent}], nil
}

func (m *mockState) AgentPut(vaultKey [32]byte, merchant, agent [20]byte) error {
	m.agents[agentKey{vaultKey, merchant, agent}] = true
	return nil
}

func (m *mockState) AgentRemove(vaultKey [32]byte, merchant, agent [20]byte) error {
	delete(m.agents, agentKey{vaultKey, merchant, agent})
	return nil
}

func (m *mockState) VaultCustodyAddress(vaultKey [32]byte, asset AssetClass) ([20]byte, error) {
	var addr [20]byte
	switch asset {
	case AssetNative:
		copy(addr[:], bytes.Repeat([]byte{0xAA}, 20))
	case AssetToken:
		copy(addr[:], bytes.Repeat([]byte{0xBB}, 20))
	default:
		return addr, fmt.Errorf("unsupported asset %d", asset)
	}
	return addr, nil
}

func (m *mockState) Transfer(asset AssetClass, from, to [20]byte, amount uint64) error {
	if amount == 0 || from == to {
		return nil
	}
	ledger := m.balances[asset]
	if ledger[from] < amount {
		return fmt.Errorf("insufficient balance")
	}
	ledger[from] -= amount
	ledger[to] += amount
	return nil
}

func newTestAddress(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

const (
	testDeposit  uint64 = 2_000_000_000
	testBankroll uint64 = 10_000_000_000
	testReserve  uint64 = 1_000_000_000
)

func newTestEngine(t *testing.T) (*Engine, *mockState, [32]byte) {
	t.Helper()
	st := newMockState()
	engine := NewEngine()
	engine.SetState(st)
	engine.SetGateway(st)
	engine.SetNowFunc(func() int64 { return 0 })

	vaultKey, _, err := engine.Initialize(newTestAddress(0x01))
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return engine, st, vaultKey
}

func fundMerchant(st *mockState, merchant [20]byte) {
	st.balances[AssetNative][merchant] = testBankroll
	st.balances[AssetToken][merchant] = testBankroll
}

func TestInitializeDefaults(t *testing.T) {
	st := newMockState()
	engine := NewEngine()
	engine.SetState(st)
	engine.SetGateway(st)

	authority := newTestAddress(0x01)
	_, reg, err := engine.Initialize(authority)
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if reg.MinDepositNative != DefaultMinDepositNative {
		t.Fatalf("min native = %d, want %d", reg.MinDepositNative, DefaultMinDepositNative)
	}
	if reg.MinDepositToken != DefaultMinDepositToken {
		t.Fatalf("min token = %d, want %d", reg.MinDepositToken, DefaultMinDepositToken)
	}
	if reg.RewardShareBps != DefaultRewardShareBps {
		t.Fatalf("reward share = %d, want %d", reg.RewardShareBps, DefaultRewardShareBps)
	}
	if !reg.StakingEnabled {
		t.Fatalf("staking should default to enabled")
	}
	if reg.TotalDeposits != 0 || reg.TotalMerchants != 0 {
		t.Fatalf("aggregates should start at zero")
	}

	if _, _, err := engine.Initialize(authority); !errors.Is(err, ErrRegistryExists) {
		t.Fatalf("second initialize: got %v, want ErrRegistryExists", err)
	}
}

func TestDepositBelowMinimum(t *testing.T) {
	engine, st, vaultKey := newTestEngine(t)
	merchant := newTestAddress(0x02)
	fundMerchant(st, merchant)

	if _, err := engine.Deposit(vaultKey, merchant, AssetNative, DefaultMinDepositNative-1, nil); !errors.Is(err, ErrInsufficientDeposit) {
		t.Fatalf("got %v, want ErrInsufficientDeposit", err)
	}
	if _, ok, _ := st.DepositGet(vaultKey, merchant); ok {
		t.Fatalf("no account should exist after a rejected deposit")
	}
	if st.balances[AssetNative][merchant] != testBankroll {
		t.Fatalf("no funds should move on a rejected deposit")
	}
}

func TestDepositCreatesActiveAccount(t *testing.T) {
	engine, st, vaultKey := newTestEngine(t)
	merchant := newTestAddress(0x02)
	fundMerchant(st, merchant)

	acct, err := engine.Deposit(vaultKey, merchant, AssetNative, testDeposit, nil)
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if !acct.Active {
		t.Fatalf("account should be active after first deposit")
	}
	if acct.TotalDeposited != testDeposit {
		t.Fatalf("total deposited = %d, want %d", acct.TotalDeposited, testDeposit)
	}
	if acct.CurrentYieldBps != BaseYieldBps {
		t.Fatalf("yield = %d, want base %d", acct.CurrentYieldBps, BaseYieldBps)
	}
	if acct.Asset != AssetNative {
		t.Fatalf("asset = %v, want native", acct.Asset)
	}

	custody, _ := st.VaultCustodyAddress(vaultKey, AssetNative)
	if st.balances[AssetNative][custody] != testDeposit {
		t.Fatalf("custody balance = %d, want %d", st.balances[AssetNative][custody], testDeposit)
	}
	reg, _, _ := st.VaultGet(vaultKey)
	if reg.TotalDeposits != testDeposit || reg.TotalMerchants != 1 {
		t.Fatalf("registry aggregates = (%d, %d), want (%d, 1)", reg.TotalDeposits, reg.TotalMerchants, testDeposit)
	}
}

func TestDepositTopUpGrowsPrincipalOnly(t *testing.T) {
	engine, st, vaultKey := newTestEngine(t)
	merchant := newTestAddress(0x02)
	fundMerchant(st, merchant)

	if _, err := engine.Deposit(vaultKey, merchant, AssetNative, testDeposit, nil); err != nil {
		t.Fatalf("first deposit: %v", err)
	}
	engine.SetNowFunc(func() int64 { return 10 * secondsPerDay })
	acct, err := engine.Deposit(vaultKey, merchant, AssetNative, DefaultMinDepositNative, nil)
	if err != nil {
		t.Fatalf("top-up: %v", err)
	}
	if acct.TotalDeposited != testDeposit+DefaultMinDepositNative {
		t.Fatalf("total deposited = %d, want %d", acct.TotalDeposited, testDeposit+DefaultMinDepositNative)
	}
	if acct.DepositedAt != 0 {
		t.Fatalf("top-up must not reset the deposit timestamp")
	}
	if acct.AccruedRewards != 0 {
		t.Fatalf("no reward accrues on top-up")
	}
}

func TestDepositTopUpAssetMismatch(t *testing.T) {
	engine, st, vaultKey := newTestEngine(t)
	merchant := newTestAddress(0x02)
	fundMerchant(st, merchant)

	if _, err := engine.Deposit(vaultKey, merchant, AssetNative, testDeposit, nil); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	custody, _ := st.VaultCustodyAddress(vaultKey, AssetToken)
	token := &TokenAccounts{Source: merchant, Destination: custody}
	if _, err := engine.Deposit(vaultKey, merchant, AssetToken, DefaultMinDepositToken, token); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("got %v, want ErrUnauthorized on asset class mismatch", err)
	}
}

func TestDepositTokenRequiresAccounts(t *testing.T) {
	engine, st, vaultKey := newTestEngine(t)
	merchant := newTestAddress(0x02)
	fundMerchant(st, merchant)

	if _, err := engine.Deposit(vaultKey, merchant, AssetToken, DefaultMinDepositToken, nil); !errors.Is(err, ErrMissingAssetAccount) {
		t.Fatalf("nil token accounts: got %v, want ErrMissingAssetAccount", err)
	}
	wrong := &TokenAccounts{Source: merchant, Destination: newTestAddress(0x99)}
	if _, err := engine.Deposit(vaultKey, merchant, AssetToken, DefaultMinDepositToken, wrong); !errors.Is(err, ErrMissingAssetAccount) {
		t.Fatalf("wrong destination: got %v, want ErrMissingAssetAccount", err)
	}

	custody, _ := st.VaultCustodyAddress(vaultKey, AssetToken)
	token := &TokenAccounts{Source: merchant, Destination: custody}
	acct, err := engine.Deposit(vaultKey, merchant, AssetToken, DefaultMinDepositToken, token)
	if err != nil {
		t.Fatalf("token deposit: %v", err)
	}
	if acct.Asset != AssetToken {
		t.Fatalf("asset = %v, want token", acct.Asset)
	}
	if st.balances[AssetToken][custody] != DefaultMinDepositToken {
		t.Fatalf("token custody balance = %d, want %d", st.balances[AssetToken][custody], DefaultMinDepositToken)
	}
}

func TestDepositOverflowAborts(t *testing.T) {
	engine, st, vaultKey := newTestEngine(t)
	merchant := newTestAddress(0x02)
	st.balances[AssetNative][merchant] = ^uint64(0)

	if _, err := engine.Deposit(vaultKey, merchant, AssetNative, ^uint64(0), nil); err != nil {
		t.Fatalf("max deposit: %v", err)
	}
	before, _, _ := st.DepositGet(vaultKey, merchant)
	st.balances[AssetNative][merchant] = testBankroll
	if _, err := engine.Deposit(vaultKey, merchant, AssetNative, DefaultMinDepositNative, nil); !errors.Is(err, ErrMathOverflow) {
		t.Fatalf("got %v, want ErrMathOverflow", err)
	}
	after, _, _ := st.DepositGet(vaultKey, merchant)
	if after.TotalDeposited != before.TotalDeposited {
		t.Fatalf("overflowing top-up must not mutate the account")
	}
}

func setupActiveMerchant(t *testing.T) (*Engine, *mockState, [32]byte, [20]byte, [20]byte) {
	t.Helper()
	engine, st, vaultKey := newTestEngine(t)
	merchant := newTestAddress(0x02)
	agent := newTestAddress(0x03)
	fundMerchant(st, merchant)

	if _, err := engine.Deposit(vaultKey, merchant, AssetNative, testDeposit, nil); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := engine.AuthorizeAgent(vaultKey, merchant, merchant, agent); err != nil {
		t.Fatalf("authorize agent: %v", err)
	}

	// Custody needs a funded reward reserve on top of the principal for
	// settlements to pay out of.
	custody, _ := st.VaultCustodyAddress(vaultKey, AssetNative)
	st.balances[AssetNative][custody] += testReserve
	return engine, st, vaultKey, merchant, agent
}

func TestRecordOrderUpdatesMetricsAndYield(t *testing.T) {
	engine, _, vaultKey, merchant, agent := setupActiveMerchant(t)

	// $50 order ten days in: no volume bonus, loyalty bonus of 8 bps.
	engine.SetNowFunc(func() int64 { return 10 * secondsPerDay })
	acct, err := engine.RecordOrder(vaultKey, agent, merchant, 50_000_000)
	if err != nil {
		t.Fatalf("record order: %v", err)
	}
	if acct.CurrentMonthVolume != 50_000_000 {
		t.Fatalf("month volume = %d, want 50e6", acct.CurrentMonthVolume)
	}
	if acct.TotalVolumeUSD != 50_000_000 || acct.TotalOrdersProcessed != 1 {
		t.Fatalf("lifetime counters = (%d, %d), want (50e6, 1)", acct.TotalVolumeUSD, acct.TotalOrdersProcessed)
	}
	if acct.MonthlyUniqueCustomers != 1 {
		t.Fatalf("unique customers = %d, want 1", acct.MonthlyUniqueCustomers)
	}
	if acct.CurrentYieldBps != 308 {
		t.Fatalf("yield = %d, want 308", acct.CurrentYieldBps)
	}
}

func TestRecordOrderUnauthorizedAgent(t *testing.T) {
	engine, _, vaultKey, merchant, _ := setupActiveMerchant(t)

	stranger := newTestAddress(0x77)
	if _, err := engine.RecordOrder(vaultKey, stranger, merchant, 50_000_000); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("got %v, want ErrUnauthorized", err)
	}
}

func TestRecordOrderRevokedAgent(t *testing.T) {
	engine, _, vaultKey, merchant, agent := setupActiveMerchant(t)

	if err := engine.RevokeAgent(vaultKey, merchant, merchant, agent); err != nil {
		t.Fatalf("revoke agent: %v", err)
	}
	if _, err := engine.RecordOrder(vaultKey, agent, merchant, 50_000_000); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("got %v, want ErrUnauthorized after revocation", err)
	}
}

func TestRecordOrderTooSmall(t *testing.T) {
	engine, st, vaultKey, merchant, agent := setupActiveMerchant(t)

	before, _, _ := st.DepositGet(vaultKey, merchant)
	if _, err := engine.RecordOrder(vaultKey, agent, merchant, 9_999_999); !errors.Is(err, ErrOrderTooSmall) {
		t.Fatalf("got %v, want ErrOrderTooSmall", err)
	}
	after, _, _ := st.DepositGet(vaultKey, merchant)
	if *after != *before {
		t.Fatalf("rejected order must not mutate the account")
	}
}

func TestRecordOrderRollingWindowReset(t *testing.T) {
	engine, _, vaultKey, merchant, agent := setupActiveMerchant(t)

	engine.SetNowFunc(func() int64 { return secondsPerDay })
	if _, err := engine.RecordOrder(vaultKey, agent, merchant, 100_000_000); err != nil {
		t.Fatalf("first order: %v", err)
	}

	engine.SetNowFunc(func() int64 { return 31 * secondsPerDay })
	acct, err := engine.RecordOrder(vaultKey, agent, merchant, 20_000_000)
	if err != nil {
		t.Fatalf("order after window: %v", err)
	}
	if acct.CurrentMonthVolume != 20_000_000 {
		t.Fatalf("month volume = %d, want the window reset to 20e6", acct.CurrentMonthVolume)
	}
	if acct.MonthlyUniqueCustomers != 1 {
		t.Fatalf("unique customers = %d, want reset to 1", acct.MonthlyUniqueCustomers)
	}
	if acct.TotalVolumeUSD != 120_000_000 || acct.TotalOrdersProcessed != 2 {
		t.Fatalf("lifetime counters must survive the reset, got (%d, %d)", acct.TotalVolumeUSD, acct.TotalOrdersProcessed)
	}
	if acct.LastVolumeReset != 31*secondsPerDay {
		t.Fatalf("last reset = %d, want %d", acct.LastVolumeReset, 31*secondsPerDay)
	}
}

func TestRecordOrderInactiveAccount(t *testing.T) {
	engine, _, vaultKey := newTestEngine(t)
	if _, err := engine.RecordOrder(vaultKey, newTestAddress(0x03), newTestAddress(0x02), 50_000_000); !errors.Is(err, ErrDepositNotActive) {
		t.Fatalf("got %v, want ErrDepositNotActive", err)
	}
}

func TestWithdrawPaysPrincipalPlusShare(t *testing.T) {
	engine, st, vaultKey, merchant, agent := setupActiveMerchant(t)

	engine.SetNowFunc(func() int64 { return 10 * secondsPerDay })
	if _, err := engine.RecordOrder(vaultKey, agent, merchant, 50_000_000); err != nil {
		t.Fatalf("record order: %v", err)
	}

	// Thirty days in at 308 bps and an 80% share:
	// annual 61,600,000 -> daily 168,767 -> gross 5,063,010 -> share 4,050,408.
	engine.SetNowFunc(func() int64 { return 30 * secondsPerDay })
	receipt, err := engine.Withdraw(vaultKey, merchant, nil)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	const wantReward uint64 = 4_050_408
	if receipt.Reward.MerchantReward != wantReward {
		t.Fatalf("merchant reward = %d, want %d", receipt.Reward.MerchantReward, wantReward)
	}
	if receipt.Payout != testDeposit+wantReward {
		t.Fatalf("payout = %d, want %d", receipt.Payout, testDeposit+wantReward)
	}
	if receipt.Account.Active {
		t.Fatalf("account must be inactive after withdrawal")
	}
	if receipt.Account.AccruedRewards != wantReward {
		t.Fatalf("accrued rewards = %d, want %d", receipt.Account.AccruedRewards, wantReward)
	}
	if receipt.Account.TotalDeposited != testDeposit {
		t.Fatalf("principal must remain as a historical record")
	}
	wantBalance := testBankroll - testDeposit + receipt.Payout
	if st.balances[AssetNative][merchant] != wantBalance {
		t.Fatalf("merchant balance = %d, want %d", st.balances[AssetNative][merchant], wantBalance)
	}

	if _, err := engine.Withdraw(vaultKey, merchant, nil); !errors.Is(err, ErrDepositNotActive) {
		t.Fatalf("second withdraw: got %v, want ErrDepositNotActive", err)
	}
}

func TestCalculateRewardsMatchesWithdraw(t *testing.T) {
	engine, _, vaultKey, merchant, agent := setupActiveMerchant(t)

	engine.SetNowFunc(func() int64 { return 10 * secondsPerDay })
	if _, err := engine.RecordOrder(vaultKey, agent, merchant, 50_000_000); err != nil {
		t.Fatalf("record order: %v", err)
	}

	engine.SetNowFunc(func() int64 { return 30 * secondsPerDay })
	preview, err := engine.CalculateRewards(vaultKey, merchant)
	if err != nil {
		t.Fatalf("calculate rewards: %v", err)
	}
	receipt, err := engine.Withdraw(vaultKey, merchant, nil)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if *preview != receipt.Reward {
		t.Fatalf("preview %+v diverges from settlement %+v", *preview, receipt.Reward)
	}

	if _, err := engine.CalculateRewards(vaultKey, merchant); !errors.Is(err, ErrDepositNotActive) {
		t.Fatalf("preview on inactive account: got %v, want ErrDepositNotActive", err)
	}
}

func TestWithdrawZeroDaysPaysPrincipalOnly(t *testing.T) {
	engine, _, vaultKey, merchant, _ := setupActiveMerchant(t)

	receipt, err := engine.Withdraw(vaultKey, merchant, nil)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if receipt.Reward.MerchantReward != 0 {
		t.Fatalf("reward = %d, want 0 for a same-day withdrawal", receipt.Reward.MerchantReward)
	}
	if receipt.Payout != testDeposit {
		t.Fatalf("payout = %d, want bare principal %d", receipt.Payout, testDeposit)
	}
}

func TestUpdateConfig(t *testing.T) {
	engine, st, vaultKey := newTestEngine(t)
	authority := newTestAddress(0x01)

	badRate := uint16(10_001)
	if _, err := engine.UpdateConfig(vaultKey, authority, ConfigUpdate{RewardShareBps: &badRate}); !errors.Is(err, ErrInvalidRate) {
		t.Fatalf("got %v, want ErrInvalidRate", err)
	}
	reg, _, _ := st.VaultGet(vaultKey)
	if reg.RewardShareBps != DefaultRewardShareBps {
		t.Fatalf("rejected update must leave the registry unchanged")
	}

	if _, err := engine.UpdateConfig(vaultKey, newTestAddress(0x55), ConfigUpdate{}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("got %v, want ErrUnauthorized for non-authority caller", err)
	}

	newMin := uint64(5_000_000_000)
	newShare := uint16(9_000)
	disabled := false
	updated, err := engine.UpdateConfig(vaultKey, authority, ConfigUpdate{
		MinDepositNative: &newMin,
		RewardShareBps:   &newShare,
		StakingEnabled:   &disabled,
	})
	if err != nil {
		t.Fatalf("update config: %v", err)
	}
	if updated.MinDepositNative != newMin || updated.RewardShareBps != newShare || updated.StakingEnabled {
		t.Fatalf("updates not applied: %+v", updated)
	}
	if updated.MinDepositToken != DefaultMinDepositToken {
		t.Fatalf("absent fields must stay untouched")
	}
}

func TestMerchantTierReport(t *testing.T) {
	engine, _, vaultKey, merchant, agent := setupActiveMerchant(t)

	engine.SetNowFunc(func() int64 { return 91 * secondsPerDay })
	if _, err := engine.RecordOrder(vaultKey, agent, merchant, 15_000_000_000); err != nil {
		t.Fatalf("record order: %v", err)
	}
	report, err := engine.MerchantTier(vaultKey, merchant)
	if err != nil {
		t.Fatalf("merchant tier: %v", err)
	}
	if report.Tier != TierSilver {
		t.Fatalf("tier = %v, want Silver at $15k volume and 91 days", report.Tier)
	}
	if report.MonthlyVolumeUSD != 15_000_000_000 {
		t.Fatalf("volume = %d, want 15e9", report.MonthlyVolumeUSD)
	}
	if report.YieldBps < BaseYieldBps || report.YieldBps > MaxTotalYieldBps {
		t.Fatalf("yield %d outside band", report.YieldBps)
	}
}

func TestAgentAuthorizationCallers(t *testing.T) {
	engine, _, vaultKey := newTestEngine(t)
	merchant := newTestAddress(0x02)
	agent := newTestAddress(0x03)
	authority := newTestAddress(0x01)

	if err := engine.AuthorizeAgent(vaultKey, newTestAddress(0x66), merchant, agent); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("stranger binding: got %v, want ErrUnauthorized", err)
	}
	if err := engine.AuthorizeAgent(vaultKey, authority, merchant, agent); err != nil {
		t.Fatalf("authority binding: %v", err)
	}
	if err := engine.RevokeAgent(vaultKey, newTestAddress(0x66), merchant, agent); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("stranger revocation: got %v, want ErrUnauthorized", err)
	}
}
