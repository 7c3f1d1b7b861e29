package ledger

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeUser AccountScope = iota
	AccountScopeProtocol
	AccountScopeEscrow
	AccountScopeExternal
)

// AccountSubType represents the account purpose
type AccountSubType uint8

const (
	// User sub-types
	SubTypeWallet AccountSubType = iota

	// Protocol sub-types
	SubTypeReservePool

	// Escrow sub-types
	SubTypeCollateral

	// External sub-types
	SubTypeExternalDeposits
	SubTypeExternalBurned
)

// AssetID maps asset strings to numeric IDs for performance
type AssetID uint16

var (
	assetToID = map[string]AssetID{
		"JITOSOL": 1, // Reference (reserve) asset, 9 decimals
		"VAULT":   2, // Secondary token, 6 decimals
	}
	idToAsset = map[AssetID]string{
		1: "JITOSOL",
		2: "VAULT",
	}
)

const (
	AssetJitosol AssetID = 1
	AssetVault   AssetID = 2
)

func GetAssetID(asset string) (AssetID, bool) {
	id, ok := assetToID[asset]
	return id, ok
}

func GetAssetName(id AssetID) (string, bool) {
	name, ok := idToAsset[id]
	return name, ok
}

// AccountKey is the in-memory key for balance tracking (20 bytes, cache-friendly)
type AccountKey struct {
	Scope    AccountScope
	EntityID [16]byte // UUID for users and escrow accounts, zero otherwise
	SubType  AccountSubType
	AssetID  AssetID
}

// NewWalletKey creates a key for a user wallet account
func NewWalletKey(userID uuid.UUID, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:    AccountScopeUser,
		EntityID: userID,
		SubType:  SubTypeWallet,
		AssetID:  assetID,
	}
}

// NewReservePoolKey creates the key for the protocol reserve pool.
// The pool is a singleton and only ever holds the reserve asset.
func NewReservePoolKey() AccountKey {
	return AccountKey{
		Scope:   AccountScopeProtocol,
		SubType: SubTypeReservePool,
		AssetID: AssetJitosol,
	}
}

// NewEscrowKey creates a key for a per-loan collateral escrow account
func NewEscrowKey(escrowID uuid.UUID) AccountKey {
	return AccountKey{
		Scope:    AccountScopeEscrow,
		EntityID: escrowID,
		SubType:  SubTypeCollateral,
		AssetID:  AssetVault,
	}
}

// NewExternalKey creates a key for external boundary accounts
func NewExternalKey(subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeExternal,
		SubType: subType,
		AssetID: assetID,
	}
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	assetName, _ := GetAssetName(k.AssetID)

	switch k.Scope {
	case AccountScopeUser:
		uid := uuid.UUID(k.EntityID)
		return fmt.Sprintf("user:%s:%s:%s", uid.String(), k.subTypeName(), assetName)
	case AccountScopeProtocol:
		return fmt.Sprintf("protocol:%s:%s", k.subTypeName(), assetName)
	case AccountScopeEscrow:
		eid := uuid.UUID(k.EntityID)
		return fmt.Sprintf("escrow:%s:%s:%s", eid.String(), k.subTypeName(), assetName)
	case AccountScopeExternal:
		return fmt.Sprintf("external:%s:%s", k.subTypeName(), assetName)
	}
	return "unknown"
}

// ParseAccountPath reconstructs an AccountKey from its AccountPath string.
// Used when restoring balances from a snapshot, where keys are stored as
// path strings. Returns an error for any path AccountPath cannot produce.
func ParseAccountPath(path string) (AccountKey, error) {
	parts := strings.Split(path, ":")
	if len(parts) < 3 {
		return AccountKey{}, fmt.Errorf("malformed account path: %q", path)
	}

	switch parts[0] {
	case "user":
		if len(parts) != 4 {
			return AccountKey{}, fmt.Errorf("malformed user path: %q", path)
		}
		uid, err := uuid.Parse(parts[1])
		if err != nil {
			return AccountKey{}, fmt.Errorf("user path %q: %w", path, err)
		}
		assetID, ok := GetAssetID(parts[3])
		if !ok {
			return AccountKey{}, fmt.Errorf("user path %q: unknown asset %s", path, parts[3])
		}
		return NewWalletKey(uid, assetID), nil

	case "protocol":
		if len(parts) != 3 || parts[1] != "reserve" {
			return AccountKey{}, fmt.Errorf("malformed protocol path: %q", path)
		}
		return NewReservePoolKey(), nil

	case "escrow":
		if len(parts) != 4 {
			return AccountKey{}, fmt.Errorf("malformed escrow path: %q", path)
		}
		eid, err := uuid.Parse(parts[1])
		if err != nil {
			return AccountKey{}, fmt.Errorf("escrow path %q: %w", path, err)
		}
		return NewEscrowKey(eid), nil

	case "external":
		if len(parts) != 3 {
			return AccountKey{}, fmt.Errorf("malformed external path: %q", path)
		}
		var subType AccountSubType
		switch parts[1] {
		case "deposits":
			subType = SubTypeExternalDeposits
		case "burned":
			subType = SubTypeExternalBurned
		default:
			return AccountKey{}, fmt.Errorf("external path %q: unknown sub-type %s", path, parts[1])
		}
		assetID, ok := GetAssetID(parts[2])
		if !ok {
			return AccountKey{}, fmt.Errorf("external path %q: unknown asset %s", path, parts[2])
		}
		return NewExternalKey(subType, assetID), nil
	}

	return AccountKey{}, fmt.Errorf("unknown account scope in path: %q", path)
}

func (k AccountKey) subTypeName() string {
	switch k.SubType {
	case SubTypeWallet:
		return "wallet"
	case SubTypeReservePool:
		return "reserve"
	case SubTypeCollateral:
		return "collateral"
	case SubTypeExternalDeposits:
		return "deposits"
	case SubTypeExternalBurned:
		return "burned"
	default:
		return "unknown"
	}
}
