package vault

import "errors"

// Operation errors surfaced verbatim to callers. Every failure aborts the
// enclosing operation; the engine never writes partial state.
var (
	// ErrInsufficientDeposit indicates a deposit below the configured
	// per-asset minimum.
	ErrInsufficientDeposit = errors.New("vault: deposit amount below minimum requirement")
	// ErrDepositNotActive indicates the operation targets a merchant account
	// that does not exist or has already been withdrawn.
	ErrDepositNotActive = errors.New("vault: deposit is not active")
	// ErrUnauthorized indicates a caller identity mismatch against the
	// required signer.
	ErrUnauthorized = errors.New("vault: unauthorized access")
	// ErrMathOverflow indicates a checked arithmetic step failed.
	ErrMathOverflow = errors.New("vault: math overflow")
	// ErrInvalidRate indicates a configured rate outside [0, 10000] basis
	// points.
	ErrInvalidRate = errors.New("vault: invalid rate (must be <= 10000 basis points)")
	// ErrOrderTooSmall indicates an order below the anti-gaming floor.
	ErrOrderTooSmall = errors.New("vault: order amount too small (minimum $10)")
	// ErrMissingAssetAccount indicates a token-class operation invoked without
	// the required token account references.
	ErrMissingAssetAccount = errors.New("vault: missing required token account")
	// ErrRegistryExists indicates an initialize call for an authority that
	// already owns a registry.
	ErrRegistryExists = errors.New("vault: registry already initialized")
)

var (
	errNilState   = errors.New("vault engine: state not configured")
	errNilGateway = errors.New("vault engine: transfer gateway not configured")
)
