package vault

import (
	"time"

	"merchantvault/core/events"
	"merchantvault/core/types"
)

const (
	secondsPerDay int64 = 86_400
	// Rolling performance window. Volume and customer counters reset once
	// this much time has elapsed since the last reset, anchored to the reset
	// timestamp rather than calendar months.
	volumeWindowSeconds int64 = 30 * secondsPerDay

	daysPerYear uint64 = 365
	bpsDenom    uint64 = 10_000

	// Anti-gaming floor: orders below $10 do not count toward metrics.
	minOrderAmountUSD uint64 = 10_000_000
)

// TransferGateway moves custody of an asset between ledger identities. The
// engine supplies the correct direction per operation; authorization of the
// debited account is the gateway's concern.
type TransferGateway interface {
	Transfer(asset AssetClass, from, to [20]byte, amount uint64) error
}

type engineState interface {
	RegistryKey(authority [20]byte) [32]byte
	VaultGet(key [32]byte) (*Registry, bool, error)
	VaultPut(key [32]byte, reg *Registry) error
	DepositGet(vaultKey [32]byte, merchant [20]byte) (*MerchantAccount, bool, error)
	DepositPut(acct *MerchantAccount) error
	AgentAuthorized(vaultKey [32]byte, merchant, agent [20]byte) (bool, error)
	AgentPut(vaultKey [32]byte, merchant, agent [20]byte) error
	AgentRemove(vaultKey [32]byte, merchant, agent [20]byte) error
	VaultCustodyAddress(vaultKey [32]byte, asset AssetClass) ([20]byte, error)
}

type vaultEvent struct {
	evt *types.Event
}

func (e vaultEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e vaultEvent) Event() *types.Event { return e.evt }

// Engine wires the merchant vault business logic with external state, the
// transfer gateway and event emitters. Each operation is a finite computation
// that either persists every state change it makes or none of them: all
// validation and checked arithmetic happens against in-memory copies before
// the first write.
type Engine struct {
	state   engineState
	gateway TransferGateway
	emitter events.Emitter
	nowFn   func() int64
}

// NewEngine creates a vault engine with a no-op emitter. Callers can override
// the emitter via SetEmitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetGateway configures the transfer gateway used to move asset custody.
func (e *Engine) SetGateway(gateway TransferGateway) { e.gateway = gateway }

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(vaultEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) loadRegistry(key [32]byte) (*Registry, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	reg, ok, err := e.state.VaultGet(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrDepositNotActive
	}
	return reg, nil
}

func (e *Engine) loadAccount(vaultKey [32]byte, merchant [20]byte) (*MerchantAccount, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	acct, ok, err := e.state.DepositGet(vaultKey, merchant)
	if err != nil {
		return nil, err
	}
	if !ok || !acct.Active {
		return nil, ErrDepositNotActive
	}
	return acct, nil
}

// Initialize creates the global registry for the supplied authority with
// deployment defaults and returns its derived key. Fails if a registry
// already exists for the authority.
func (e *Engine) Initialize(authority [20]byte) ([32]byte, *Registry, error) {
	if e == nil || e.state == nil {
		return [32]byte{}, nil, errNilState
	}
	key := e.state.RegistryKey(authority)
	if _, ok, err := e.state.VaultGet(key); err != nil {
		return [32]byte{}, nil, err
	} else if ok {
		return [32]byte{}, nil, ErrRegistryExists
	}
	reg := NewRegistry(authority)
	if err := e.state.VaultPut(key, reg); err != nil {
		return [32]byte{}, nil, err
	}
	e.emit(NewInitializedEvent(key, reg))
	return key, reg.Clone(), nil
}

// Deposit locks collateral of the given asset class into vault custody and
// creates or tops up the merchant account. A top-up must match the account's
// existing asset class and accrues no reward of its own.
func (e *Engine) Deposit(vaultKey [32]byte, merchant [20]byte, asset AssetClass, amount uint64, token *TokenAccounts) (*MerchantAccount, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.gateway == nil {
		return nil, errNilGateway
	}
	reg, err := e.loadRegistry(vaultKey)
	if err != nil {
		return nil, err
	}
	if !asset.Valid() {
		return nil, ErrMissingAssetAccount
	}
	if amount < reg.MinDeposit(asset) {
		return nil, ErrInsufficientDeposit
	}

	acct, exists, err := e.state.DepositGet(vaultKey, merchant)
	if err != nil {
		return nil, err
	}
	active := exists && acct.Active
	if active && acct.Asset != asset {
		// Mismatched asset class on a top-up is caller misuse, never a
		// silent conversion.
		return nil, ErrUnauthorized
	}

	// Compute the full post-state before any transfer or write.
	now := e.now()
	var next *MerchantAccount
	if active {
		next = acct.Clone()
		next.TotalDeposited, err = checkedAdd64(next.TotalDeposited, amount)
		if err != nil {
			return nil, err
		}
	} else {
		next = &MerchantAccount{
			Merchant:        merchant,
			Vault:           vaultKey,
			Asset:           asset,
			TotalDeposited:  amount,
			Active:          true,
			DepositedAt:     now,
			LastVolumeReset: now,
			CurrentYieldBps: BaseYieldBps,
		}
	}
	nextReg := reg.Clone()
	nextReg.TotalDeposits, err = checkedAdd64(nextReg.TotalDeposits, amount)
	if err != nil {
		return nil, err
	}
	if !active {
		nextReg.TotalMerchants, err = checkedAdd32(nextReg.TotalMerchants, 1)
		if err != nil {
			return nil, err
		}
	}

	if err := e.transferIn(vaultKey, merchant, asset, amount, token); err != nil {
		return nil, err
	}
	if err := e.state.DepositPut(next); err != nil {
		return nil, err
	}
	if err := e.state.VaultPut(vaultKey, nextReg); err != nil {
		return nil, err
	}
	e.emit(NewDepositedEvent(next, amount))
	return next.Clone(), nil
}

// RecordOrder attributes a completed sale to a merchant, updating its rolling
// performance counters and recomputing the dynamic yield. The reporting agent
// must hold an authorization record for the merchant.
func (e *Engine) RecordOrder(vaultKey [32]byte, agent, merchant [20]byte, orderAmountUSD uint64) (*MerchantAccount, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	acct, err := e.loadAccount(vaultKey, merchant)
	if err != nil {
		return nil, err
	}
	authorized, err := e.state.AgentAuthorized(vaultKey, merchant, agent)
	if err != nil {
		return nil, err
	}
	if !authorized {
		return nil, ErrUnauthorized
	}

	now := e.now()
	next := acct.Clone()
	if now-next.LastVolumeReset >= volumeWindowSeconds {
		next.CurrentMonthVolume = 0
		next.MonthlyUniqueCustomers = 0
		next.LastVolumeReset = now
	}
	if orderAmountUSD < minOrderAmountUSD {
		return nil, ErrOrderTooSmall
	}

	if next.TotalOrdersProcessed, err = checkedAdd64(next.TotalOrdersProcessed, 1); err != nil {
		return nil, err
	}
	if next.TotalVolumeUSD, err = checkedAdd64(next.TotalVolumeUSD, orderAmountUSD); err != nil {
		return nil, err
	}
	if next.CurrentMonthVolume, err = checkedAdd64(next.CurrentMonthVolume, orderAmountUSD); err != nil {
		return nil, err
	}
	// Each call counts as one customer. There is no buyer deduplication
	// within the window.
	if next.MonthlyUniqueCustomers, err = checkedAdd32(next.MonthlyUniqueCustomers, 1); err != nil {
		return nil, err
	}
	next.CurrentYieldBps = YieldBps(next.CurrentMonthVolume, (now-next.DepositedAt)/secondsPerDay)

	if err := e.state.DepositPut(next); err != nil {
		return nil, err
	}
	e.emit(NewOrderRecordedEvent(next, agent, orderAmountUSD))
	return next.Clone(), nil
}

// Withdraw settles a merchant account: principal plus the merchant share of
// the reward computed from the stored yield over the elapsed holding period.
// The transition is terminal; the record stays behind, inactive, as history.
func (e *Engine) Withdraw(vaultKey [32]byte, merchant [20]byte, token *TokenAccounts) (*WithdrawalReceipt, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.gateway == nil {
		return nil, errNilGateway
	}
	reg, err := e.loadRegistry(vaultKey)
	if err != nil {
		return nil, err
	}
	acct, err := e.loadAccount(vaultKey, merchant)
	if err != nil {
		return nil, err
	}
	if acct.Merchant != merchant {
		return nil, ErrUnauthorized
	}

	reward, err := rewardLadder(acct, reg.RewardShareBps, e.now())
	if err != nil {
		return nil, err
	}
	payout, err := checkedAdd64(acct.TotalDeposited, reward.MerchantReward)
	if err != nil {
		return nil, err
	}

	if err := e.transferOut(vaultKey, merchant, acct.Asset, payout, token); err != nil {
		return nil, err
	}

	next := acct.Clone()
	next.Active = false
	next.AccruedRewards = reward.MerchantReward
	if err := e.state.DepositPut(next); err != nil {
		return nil, err
	}

	nextReg := reg.Clone()
	if nextReg.TotalDeposits >= acct.TotalDeposited {
		nextReg.TotalDeposits -= acct.TotalDeposited
	} else {
		nextReg.TotalDeposits = 0
	}
	if nextReg.TotalMerchants > 0 {
		nextReg.TotalMerchants--
	}
	if err := e.state.VaultPut(vaultKey, nextReg); err != nil {
		return nil, err
	}

	receipt := &WithdrawalReceipt{Account: next.Clone(), Reward: *reward, Payout: payout}
	e.emit(NewWithdrawnEvent(receipt))
	return receipt, nil
}

// UpdateConfig overwrites the registry fields present in the update. Only the
// registry authority may call it.
func (e *Engine) UpdateConfig(vaultKey [32]byte, caller [20]byte, update ConfigUpdate) (*Registry, error) {
	reg, err := e.loadRegistry(vaultKey)
	if err != nil {
		return nil, err
	}
	if caller != reg.Authority {
		return nil, ErrUnauthorized
	}
	next := reg.Clone()
	if update.MinDepositNative != nil {
		next.MinDepositNative = *update.MinDepositNative
	}
	if update.MinDepositToken != nil {
		next.MinDepositToken = *update.MinDepositToken
	}
	if update.RewardShareBps != nil {
		if *update.RewardShareBps > uint16(bpsDenom) {
			return nil, ErrInvalidRate
		}
		next.RewardShareBps = *update.RewardShareBps
	}
	if update.StakingEnabled != nil {
		next.StakingEnabled = *update.StakingEnabled
	}
	if err := e.state.VaultPut(vaultKey, next); err != nil {
		return nil, err
	}
	e.emit(NewConfigUpdatedEvent(vaultKey, next))
	return next.Clone(), nil
}

// CalculateRewards previews the reward a withdrawal at the current time would
// pay, without mutating state or moving funds.
func (e *Engine) CalculateRewards(vaultKey [32]byte, merchant [20]byte) (*RewardBreakdown, error) {
	reg, err := e.loadRegistry(vaultKey)
	if err != nil {
		return nil, err
	}
	acct, err := e.loadAccount(vaultKey, merchant)
	if err != nil {
		return nil, err
	}
	return rewardLadder(acct, reg.RewardShareBps, e.now())
}

// MerchantTier reports the merchant's performance tier together with its
// current yield. Read-only.
func (e *Engine) MerchantTier(vaultKey [32]byte, merchant [20]byte) (*TierReport, error) {
	acct, err := e.loadAccount(vaultKey, merchant)
	if err != nil {
		return nil, err
	}
	return &TierReport{
		Tier:             TierFor(acct.CurrentMonthVolume, acct.DepositedAt, e.now()),
		YieldBps:         acct.CurrentYieldBps,
		MonthlyVolumeUSD: acct.CurrentMonthVolume,
	}, nil
}

// AuthorizeAgent binds a reporting agent to a merchant. Only the merchant or
// the registry authority may create the binding.
func (e *Engine) AuthorizeAgent(vaultKey [32]byte, caller, merchant, agent [20]byte) error {
	reg, err := e.loadRegistry(vaultKey)
	if err != nil {
		return err
	}
	if caller != merchant && caller != reg.Authority {
		return ErrUnauthorized
	}
	if err := e.state.AgentPut(vaultKey, merchant, agent); err != nil {
		return err
	}
	e.emit(NewAgentAuthorizedEvent(vaultKey, merchant, agent))
	return nil
}

// RevokeAgent removes an agent binding. Only the merchant or the registry
// authority may revoke it.
func (e *Engine) RevokeAgent(vaultKey [32]byte, caller, merchant, agent [20]byte) error {
	reg, err := e.loadRegistry(vaultKey)
	if err != nil {
		return err
	}
	if caller != merchant && caller != reg.Authority {
		return ErrUnauthorized
	}
	if err := e.state.AgentRemove(vaultKey, merchant, agent); err != nil {
		return err
	}
	e.emit(NewAgentRevokedEvent(vaultKey, merchant, agent))
	return nil
}

// rewardLadder computes the withdrawal reward from the account's stored yield
// applied over the elapsed holding period. Every step floors and is checked;
// an overflow anywhere fails the whole operation.
func rewardLadder(acct *MerchantAccount, rewardShareBps uint16, now int64) (*RewardBreakdown, error) {
	days := (now - acct.DepositedAt) / secondsPerDay
	if days < 0 {
		days = 0
	}
	annual, err := checkedMul64(acct.TotalDeposited, uint64(acct.CurrentYieldBps))
	if err != nil {
		return nil, err
	}
	annual /= bpsDenom
	daily := annual / daysPerYear
	gross, err := checkedMul64(daily, uint64(days))
	if err != nil {
		return nil, err
	}
	share, err := checkedMul64(gross, uint64(rewardShareBps))
	if err != nil {
		return nil, err
	}
	share /= bpsDenom
	return &RewardBreakdown{
		DaysElapsed:    uint64(days),
		YieldBps:       acct.CurrentYieldBps,
		AnnualReward:   annual,
		DailyReward:    daily,
		GrossReward:    gross,
		MerchantReward: share,
	}, nil
}

func (e *Engine) transferIn(vaultKey [32]byte, merchant [20]byte, asset AssetClass, amount uint64, token *TokenAccounts) error {
	custody, err := e.state.VaultCustodyAddress(vaultKey, asset)
	if err != nil {
		return err
	}
	switch asset {
	case AssetNative:
		return e.gateway.Transfer(AssetNative, merchant, custody, amount)
	case AssetToken:
		if token == nil {
			return ErrMissingAssetAccount
		}
		if token.Destination != custody {
			return ErrMissingAssetAccount
		}
		return e.gateway.Transfer(AssetToken, token.Source, custody, amount)
	}
	return ErrMissingAssetAccount
}

func (e *Engine) transferOut(vaultKey [32]byte, merchant [20]byte, asset AssetClass, amount uint64, token *TokenAccounts) error {
	custody, err := e.state.VaultCustodyAddress(vaultKey, asset)
	if err != nil {
		return err
	}
	switch asset {
	case AssetNative:
		return e.gateway.Transfer(AssetNative, custody, merchant, amount)
	case AssetToken:
		// The token leg is authorized by the vault's own custody context,
		// not the merchant's.
		if token == nil {
			return ErrMissingAssetAccount
		}
		if token.Source != custody {
			return ErrMissingAssetAccount
		}
		return e.gateway.Transfer(AssetToken, custody, token.Destination, amount)
	}
	return ErrMissingAssetAccount
}
