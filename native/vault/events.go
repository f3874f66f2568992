package vault

import (
	"encoding/hex"
	"strconv"

	"merchantvault/core/types"
)

const (
	EventTypeVaultInitialized = "vault.initialized"
	EventTypeDeposited        = "vault.deposited"
	EventTypeOrderRecorded    = "vault.order_recorded"
	EventTypeWithdrawn        = "vault.withdrawn"
	EventTypeConfigUpdated    = "vault.config_updated"
	EventTypeAgentAuthorized  = "vault.agent_authorized"
	EventTypeAgentRevoked     = "vault.agent_revoked"
)

// NewInitializedEvent returns the canonical event payload for a freshly
// created registry.
func NewInitializedEvent(vaultKey [32]byte, reg *Registry) *types.Event {
	attrs := map[string]string{"vault": hex.EncodeToString(vaultKey[:])}
	if reg != nil {
		attrs["authority"] = hex.EncodeToString(reg.Authority[:])
		attrs["rewardShareBps"] = strconv.FormatUint(uint64(reg.RewardShareBps), 10)
	}
	return &types.Event{Type: EventTypeVaultInitialized, Attributes: attrs}
}

// NewDepositedEvent returns the canonical event payload for a deposit into a
// merchant account.
func NewDepositedEvent(acct *MerchantAccount, amount uint64) *types.Event {
	attrs := accountAttributes(acct)
	attrs["amount"] = strconv.FormatUint(amount, 10)
	return &types.Event{Type: EventTypeDeposited, Attributes: attrs}
}

// NewOrderRecordedEvent returns the canonical event payload emitted after a
// reported order updates merchant metrics.
func NewOrderRecordedEvent(acct *MerchantAccount, agent [20]byte, orderAmountUSD uint64) *types.Event {
	attrs := accountAttributes(acct)
	attrs["agent"] = hex.EncodeToString(agent[:])
	attrs["orderAmountUsd"] = strconv.FormatUint(orderAmountUSD, 10)
	attrs["yieldBps"] = strconv.FormatUint(uint64(acct.CurrentYieldBps), 10)
	return &types.Event{Type: EventTypeOrderRecorded, Attributes: attrs}
}

// NewWithdrawnEvent returns the canonical event payload for a terminal
// withdrawal.
func NewWithdrawnEvent(receipt *WithdrawalReceipt) *types.Event {
	attrs := make(map[string]string)
	if receipt != nil {
		attrs = accountAttributes(receipt.Account)
		attrs["payout"] = strconv.FormatUint(receipt.Payout, 10)
		attrs["reward"] = strconv.FormatUint(receipt.Reward.MerchantReward, 10)
		attrs["daysElapsed"] = strconv.FormatUint(receipt.Reward.DaysElapsed, 10)
	}
	return &types.Event{Type: EventTypeWithdrawn, Attributes: attrs}
}

// NewConfigUpdatedEvent returns the canonical event payload emitted after the
// authority mutates registry configuration.
func NewConfigUpdatedEvent(vaultKey [32]byte, reg *Registry) *types.Event {
	attrs := map[string]string{"vault": hex.EncodeToString(vaultKey[:])}
	if reg != nil {
		attrs["minDepositNative"] = strconv.FormatUint(reg.MinDepositNative, 10)
		attrs["minDepositToken"] = strconv.FormatUint(reg.MinDepositToken, 10)
		attrs["rewardShareBps"] = strconv.FormatUint(uint64(reg.RewardShareBps), 10)
		attrs["stakingEnabled"] = strconv.FormatBool(reg.StakingEnabled)
	}
	return &types.Event{Type: EventTypeConfigUpdated, Attributes: attrs}
}

// NewAgentAuthorizedEvent returns the payload emitted when a reporting agent
// is bound to a merchant.
func NewAgentAuthorizedEvent(vaultKey [32]byte, merchant, agent [20]byte) *types.Event {
	return agentEvent(EventTypeAgentAuthorized, vaultKey, merchant, agent)
}

// NewAgentRevokedEvent returns the payload emitted when an agent binding is
// removed.
func NewAgentRevokedEvent(vaultKey [32]byte, merchant, agent [20]byte) *types.Event {
	return agentEvent(EventTypeAgentRevoked, vaultKey, merchant, agent)
}

func agentEvent(eventType string, vaultKey [32]byte, merchant, agent [20]byte) *types.Event {
	return &types.Event{Type: eventType, Attributes: map[string]string{
		"vault":    hex.EncodeToString(vaultKey[:]),
		"merchant": hex.EncodeToString(merchant[:]),
		"agent":    hex.EncodeToString(agent[:]),
	}}
}

func accountAttributes(acct *MerchantAccount) map[string]string {
	attrs := make(map[string]string)
	if acct == nil {
		return attrs
	}
	attrs["vault"] = hex.EncodeToString(acct.Vault[:])
	attrs["merchant"] = hex.EncodeToString(acct.Merchant[:])
	attrs["asset"] = acct.Asset.String()
	attrs["totalDeposited"] = strconv.FormatUint(acct.TotalDeposited, 10)
	return attrs
}
