package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"merchantvault/crypto"
	"merchantvault/native/vault"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), errorResponse{Error: err.Error()})
}

// statusFor maps the vault error taxonomy onto HTTP status codes. Every error
// is terminal for the request; the engine performs no retries.
func statusFor(err error) int {
	switch {
	case errors.Is(err, vault.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, vault.ErrDepositNotActive):
		return http.StatusNotFound
	case errors.Is(err, vault.ErrRegistryExists):
		return http.StatusConflict
	case errors.Is(err, vault.ErrMathOverflow):
		return http.StatusUnprocessableEntity
	case errors.Is(err, vault.ErrInsufficientDeposit),
		errors.Is(err, vault.ErrInvalidRate),
		errors.Is(err, vault.ErrOrderTooSmall),
		errors.Is(err, vault.ErrMissingAssetAccount):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(r *http.Request, out interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func decodeIdentity(field, value string) ([20]byte, error) {
	addr, err := crypto.DecodeAddress(value)
	if err != nil {
		return [20]byte{}, fmt.Errorf("invalid %s address: %w", field, err)
	}
	return addr.Raw(), nil
}

func parseAssetClass(value string) (vault.AssetClass, error) {
	switch value {
	case "native":
		return vault.AssetNative, nil
	case "token":
		return vault.AssetToken, nil
	default:
		return 0, fmt.Errorf("unknown asset class %q", value)
	}
}

func decodeTokenAccounts(source, destination string) (*vault.TokenAccounts, error) {
	if source == "" && destination == "" {
		return nil, nil
	}
	src, err := decodeIdentity("tokenSource", source)
	if err != nil {
		return nil, err
	}
	dst, err := decodeIdentity("tokenDestination", destination)
	if err != nil {
		return nil, err
	}
	return &vault.TokenAccounts{Source: src, Destination: dst}, nil
}
