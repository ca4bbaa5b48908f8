package ledger

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	// AccountScopeHolder is a token balance owned by an address.
	AccountScopeHolder AccountScope = iota
	// AccountScopeExternal is the issuance boundary of a token: deposits
	// credit it and withdrawals debit it.
	AccountScopeExternal
)

// AccountKey is the in-memory key for balance tracking
type AccountKey struct {
	Scope  AccountScope
	Holder common.Address
	Asset  common.Address
}

// NewHolderAccountKey creates a key for an address's token balance
func NewHolderAccountKey(holder, asset common.Address) AccountKey {
	return AccountKey{Scope: AccountScopeHolder, Holder: holder, Asset: asset}
}

// NewExternalAccountKey creates a key for a token's issuance boundary
func NewExternalAccountKey(asset common.Address) AccountKey {
	return AccountKey{Scope: AccountScopeExternal, Asset: asset}
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	switch k.Scope {
	case AccountScopeHolder:
		return fmt.Sprintf("holder:%s:%s", strings.ToLower(k.Holder.Hex()), strings.ToLower(k.Asset.Hex()))
	case AccountScopeExternal:
		return fmt.Sprintf("external:issuance:%s", strings.ToLower(k.Asset.Hex()))
	}
	return "unknown"
}

// ParseAccountPath is the inverse of AccountPath.
func ParseAccountPath(path string) (AccountKey, error) {
	parts := strings.Split(path, ":")
	if len(parts) != 3 {
		return AccountKey{}, fmt.Errorf("malformed account path %q", path)
	}
	switch parts[0] {
	case "holder":
		if !common.IsHexAddress(parts[1]) || !common.IsHexAddress(parts[2]) {
			return AccountKey{}, fmt.Errorf("malformed holder account path %q", path)
		}
		return NewHolderAccountKey(common.HexToAddress(parts[1]), common.HexToAddress(parts[2])), nil
	case "external":
		if parts[1] != "issuance" || !common.IsHexAddress(parts[2]) {
			return AccountKey{}, fmt.Errorf("malformed external account path %q", path)
		}
		return NewExternalAccountKey(common.HexToAddress(parts[2])), nil
	}
	return AccountKey{}, fmt.Errorf("unknown account scope in %q", path)
}
