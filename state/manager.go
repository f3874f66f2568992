package state

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"

	"merchantvault/core/types"
	"merchantvault/native/vault"
	"merchantvault/storage"
)

// ErrInsufficientFunds is returned when a transfer would overdraw the debited
// ledger account.
var ErrInsufficientFunds = errors.New("state: insufficient balance")

// Manager reads and writes vault records through a key-value store using the
// deterministic key derivation in this package and RLP encoding on the wire.
// It satisfies both the vault engine's state interface and its transfer
// gateway capability.
type Manager struct {
	db storage.Database
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

func (m *Manager) put(key [32]byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return m.db.Put(key[:], encoded)
}

func (m *Manager) get(key [32]byte, out interface{}) (bool, error) {
	data, err := m.db.Get(key[:])
	if errors.Is(err, storage.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// --- Registry ---

// storedRegistry mirrors vault.Registry in RLP-friendly form.
type storedRegistry struct {
	Authority        [20]byte
	TotalDeposits    uint64
	TotalMerchants   uint32
	MinDepositNative uint64
	MinDepositToken  uint64
	RewardShareBps   uint16
	StakingEnabled   bool
}

// RegistryKey implements the engine's key derivation hook.
func (m *Manager) RegistryKey(authority [20]byte) [32]byte {
	return RegistryKey(authority)
}

// VaultGet loads the registry stored under the supplied key.
func (m *Manager) VaultGet(key [32]byte) (*vault.Registry, bool, error) {
	stored := new(storedRegistry)
	ok, err := m.get(key, stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return &vault.Registry{
		Authority:        stored.Authority,
		TotalDeposits:    stored.TotalDeposits,
		TotalMerchants:   stored.TotalMerchants,
		MinDepositNative: stored.MinDepositNative,
		MinDepositToken:  stored.MinDepositToken,
		RewardShareBps:   stored.RewardShareBps,
		StakingEnabled:   stored.StakingEnabled,
	}, true, nil
}

// VaultPut persists the registry under the supplied key.
func (m *Manager) VaultPut(key [32]byte, reg *vault.Registry) error {
	if reg == nil {
		return fmt.Errorf("state: nil registry")
	}
	return m.put(key, &storedRegistry{
		Authority:        reg.Authority,
		TotalDeposits:    reg.TotalDeposits,
		TotalMerchants:   reg.TotalMerchants,
		MinDepositNative: reg.MinDepositNative,
		MinDepositToken:  reg.MinDepositToken,
		RewardShareBps:   reg.RewardShareBps,
		StakingEnabled:   reg.StakingEnabled,
	})
}

// --- Merchant accounts ---

// storedMerchantAccount mirrors vault.MerchantAccount with timestamps widened
// to unsigned form, since RLP has no signed integer encoding.
type storedMerchantAccount struct {
	Merchant               [20]byte
	Vault                  [32]byte
	Asset                  uint8
	TotalDeposited         uint64
	AccruedRewards         uint64
	Active                 bool
	DepositedAt            uint64
	TotalOrdersProcessed   uint64
	TotalVolumeUSD         uint64
	CurrentMonthVolume     uint64
	LastVolumeReset        uint64
	MonthlyUniqueCustomers uint32
	CurrentYieldBps        uint16
}

func newStoredAccount(acct *vault.MerchantAccount) *storedMerchantAccount {
	depositedAt := acct.DepositedAt
	if depositedAt < 0 {
		depositedAt = 0
	}
	lastReset := acct.LastVolumeReset
	if lastReset < 0 {
		lastReset = 0
	}
	return &storedMerchantAccount{
		Merchant:               acct.Merchant,
		Vault:                  acct.Vault,
		Asset:                  uint8(acct.Asset),
		TotalDeposited:         acct.TotalDeposited,
		AccruedRewards:         acct.AccruedRewards,
		Active:                 acct.Active,
		DepositedAt:            uint64(depositedAt),
		TotalOrdersProcessed:   acct.TotalOrdersProcessed,
		TotalVolumeUSD:         acct.TotalVolumeUSD,
		CurrentMonthVolume:     acct.CurrentMonthVolume,
		LastVolumeReset:        uint64(lastReset),
		MonthlyUniqueCustomers: acct.MonthlyUniqueCustomers,
		CurrentYieldBps:        acct.CurrentYieldBps,
	}
}

func (s *storedMerchantAccount) toAccount() *vault.MerchantAccount {
	return &vault.MerchantAccount{
		Merchant:               s.Merchant,
		Vault:                  s.Vault,
		Asset:                  vault.AssetClass(s.Asset),
		TotalDeposited:         s.TotalDeposited,
		AccruedRewards:         s.AccruedRewards,
		Active:                 s.Active,
		DepositedAt:            int64(s.DepositedAt),
		TotalOrdersProcessed:   s.TotalOrdersProcessed,
		TotalVolumeUSD:         s.TotalVolumeUSD,
		CurrentMonthVolume:     s.CurrentMonthVolume,
		LastVolumeReset:        int64(s.LastVolumeReset),
		MonthlyUniqueCustomers: s.MonthlyUniqueCustomers,
		CurrentYieldBps:        s.CurrentYieldBps,
	}
}

// DepositGet loads the merchant account owned by the (vault, merchant) pair.
func (m *Manager) DepositGet(vaultKey [32]byte, merchant [20]byte) (*vault.MerchantAccount, bool, error) {
	stored := new(storedMerchantAccount)
	ok, err := m.get(DepositKey(vaultKey, merchant), stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return stored.toAccount(), true, nil
}

// DepositPut persists the merchant account under its derived key.
func (m *Manager) DepositPut(acct *vault.MerchantAccount) error {
	sanitized, err := vault.SanitizeAccount(acct)
	if err != nil {
		return err
	}
	return m.put(DepositKey(sanitized.Vault, sanitized.Merchant), newStoredAccount(sanitized))
}

// --- Agent authorization records ---

// AgentAuthorized reports whether the agent holds an authorization record for
// the merchant.
func (m *Manager) AgentAuthorized(vaultKey [32]byte, merchant, agent [20]byte) (bool, error) {
	key := AgentKey(vaultKey, merchant, agent)
	return m.db.Has(key[:])
}

// AgentPut stores an agent-to-merchant authorization record.
func (m *Manager) AgentPut(vaultKey [32]byte, merchant, agent [20]byte) error {
	key := AgentKey(vaultKey, merchant, agent)
	return m.db.Put(key[:], []byte{0x01})
}

// AgentRemove deletes an agent-to-merchant authorization record.
func (m *Manager) AgentRemove(vaultKey [32]byte, merchant, agent [20]byte) error {
	key := AgentKey(vaultKey, merchant, agent)
	return m.db.Delete(key[:])
}

// --- Ledger accounts and transfers ---

type storedAccount struct {
	Nonce         uint64
	BalanceNative *big.Int
	BalanceToken  *big.Int
}

// GetAccount loads the ledger balance account for an identity, returning a
// zero-balance account when none exists yet.
func (m *Manager) GetAccount(addr [20]byte) (*types.Account, error) {
	stored := new(storedAccount)
	ok, err := m.get(AccountKey(addr), stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &types.Account{BalanceNative: big.NewInt(0), BalanceToken: big.NewInt(0)}, nil
	}
	acct := &types.Account{Nonce: stored.Nonce, BalanceNative: big.NewInt(0), BalanceToken: big.NewInt(0)}
	if stored.BalanceNative != nil {
		acct.BalanceNative = stored.BalanceNative
	}
	if stored.BalanceToken != nil {
		acct.BalanceToken = stored.BalanceToken
	}
	return acct, nil
}

// PutAccount persists a ledger balance account.
func (m *Manager) PutAccount(addr [20]byte, acct *types.Account) error {
	clone := acct.Clone()
	return m.put(AccountKey(addr), &storedAccount{
		Nonce:         clone.Nonce,
		BalanceNative: clone.BalanceNative,
		BalanceToken:  clone.BalanceToken,
	})
}

// VaultCustodyAddress derives the custody identity holding the vault's funds
// for the given asset class.
func (m *Manager) VaultCustodyAddress(vaultKey [32]byte, asset vault.AssetClass) ([20]byte, error) {
	switch asset {
	case vault.AssetNative:
		return CustodyAddress(vaultKey, custodyNativePrefix), nil
	case vault.AssetToken:
		return CustodyAddress(vaultKey, custodyTokenPrefix), nil
	default:
		return [20]byte{}, fmt.Errorf("state: unsupported asset class %d", asset)
	}
}

// Transfer moves custody of an asset between ledger identities. It implements
// the vault engine's TransferGateway capability: both legs are written or,
// on any failure, neither.
func (m *Manager) Transfer(asset vault.AssetClass, from, to [20]byte, amount uint64) error {
	if amount == 0 || from == to {
		return nil
	}
	fromAcc, err := m.GetAccount(from)
	if err != nil {
		return err
	}
	toAcc, err := m.GetAccount(to)
	if err != nil {
		return err
	}
	amt := new(big.Int).SetUint64(amount)
	switch asset {
	case vault.AssetNative:
		if fromAcc.BalanceNative.Cmp(amt) < 0 {
			return ErrInsufficientFunds
		}
		fromAcc.BalanceNative = new(big.Int).Sub(fromAcc.BalanceNative, amt)
		toAcc.BalanceNative = new(big.Int).Add(toAcc.BalanceNative, amt)
	case vault.AssetToken:
		if fromAcc.BalanceToken.Cmp(amt) < 0 {
			return ErrInsufficientFunds
		}
		fromAcc.BalanceToken = new(big.Int).Sub(fromAcc.BalanceToken, amt)
		toAcc.BalanceToken = new(big.Int).Add(toAcc.BalanceToken, amt)
	default:
		return fmt.Errorf("state: unsupported asset class %d", asset)
	}
	if err := m.PutAccount(from, fromAcc); err != nil {
		return err
	}
	return m.PutAccount(to, toAcc)
}
