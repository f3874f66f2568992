package state

import ethcrypto "github.com/ethereum/go-ethereum/crypto"

// Deterministic key derivation for every vault record. Each key is the
// keccak256 hash of a namespace literal followed by the owning identities, so
// the same (namespace, vault, merchant) tuple always addresses the same slot
// regardless of which node derives it.
var (
	registryPrefix      = []byte("vault/registry/")
	depositPrefix       = []byte("vault/deposit/")
	agentPrefix         = []byte("vault/agent/")
	accountPrefix       = []byte("vault/account/")
	custodyNativePrefix = []byte("vault/custody/native/")
	custodyTokenPrefix  = []byte("vault/custody/token/")
)

func derive(prefix []byte, parts ...[]byte) [32]byte {
	buf := append([]byte(nil), prefix...)
	for _, part := range parts {
		buf = append(buf, part...)
	}
	var key [32]byte
	copy(key[:], ethcrypto.Keccak256(buf))
	return key
}

// RegistryKey derives the storage key of the registry owned by the supplied
// authority.
func RegistryKey(authority [20]byte) [32]byte {
	return derive(registryPrefix, authority[:])
}

// DepositKey derives the storage key of the merchant account owned by the
// (vault, merchant) pair.
func DepositKey(vaultKey [32]byte, merchant [20]byte) [32]byte {
	return derive(depositPrefix, vaultKey[:], merchant[:])
}

// AgentKey derives the storage key of an agent-to-merchant authorization
// record.
func AgentKey(vaultKey [32]byte, merchant, agent [20]byte) [32]byte {
	return derive(agentPrefix, vaultKey[:], merchant[:], agent[:])
}

// AccountKey derives the storage key of a ledger balance account.
func AccountKey(addr [20]byte) [32]byte {
	return derive(accountPrefix, addr[:])
}

// CustodyAddress derives the vault's own custody identity for an asset class.
// The address is the truncated hash of the vault key under the asset's
// namespace, so custody accounts can never collide with user identities that
// hold known private keys.
func CustodyAddress(vaultKey [32]byte, prefix []byte) [20]byte {
	full := derive(prefix, vaultKey[:])
	var addr [20]byte
	copy(addr[:], full[12:])
	return addr
}
