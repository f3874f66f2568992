package types

import "math/big"

// Account is a ledger balance record addressed by a 20-byte identity. The
// vault custody accounts and merchant wallets share this shape; the transfer
// gateway moves value between them per asset class.
type Account struct {
	Nonce         uint64   `json:"nonce"`
	BalanceNative *big.Int `json:"balanceNative"`
	BalanceToken  *big.Int `json:"balanceToken"`
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return &Account{BalanceNative: big.NewInt(0), BalanceToken: big.NewInt(0)}
	}
	clone := &Account{Nonce: a.Nonce, BalanceNative: big.NewInt(0), BalanceToken: big.NewInt(0)}
	if a.BalanceNative != nil {
		clone.BalanceNative = new(big.Int).Set(a.BalanceNative)
	}
	if a.BalanceToken != nil {
		clone.BalanceToken = new(big.Int).Set(a.BalanceToken)
	}
	return clone
}
