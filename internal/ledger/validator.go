package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateBatchBalance verifies batch is balanced
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateWalletNonNegative checks a user wallet >= 0
func (v *InvariantValidator) ValidateWalletNonNegative(userID uuid.UUID, assetID AssetID) error {
	return v.tracker.ValidateNonNegative(NewWalletKey(userID, assetID))
}

// ValidateReserveNonNegative checks the reserve pool >= 0
func (v *InvariantValidator) ValidateReserveNonNegative() error {
	return v.tracker.ValidateNonNegative(NewReservePoolKey())
}

// ValidateEscrowMatchesLoan verifies an escrow account holds exactly the
// collateral the loan record says it holds
func (v *InvariantValidator) ValidateEscrowMatchesLoan(escrowID uuid.UUID, vaultLocked uint64) error {
	held := v.tracker.EscrowBalance(escrowID)
	if held != vaultLocked {
		return fmt.Errorf("escrow %s holds %d but loan records %d locked", escrowID, held, vaultLocked)
	}
	return nil
}

// ValidateLockedWithinSupply verifies total locked collateral never exceeds
// the observed vault supply (circulating supply >= 0)
func (v *InvariantValidator) ValidateLockedWithinSupply(totalLocked uint64) error {
	supply := v.tracker.MintSupply(AssetVault)
	if totalLocked > supply {
		return fmt.Errorf("total locked %d exceeds vault supply %d", totalLocked, supply)
	}
	return nil
}

// ValidateGlobalBalance verifies the system is zero-sum per asset
func (v *InvariantValidator) ValidateGlobalBalance() error {
	totals := v.tracker.ComputeGlobalBalance()

	for assetID, total := range totals {
		if total != 0 {
			assetName, _ := GetAssetName(assetID)
			return fmt.Errorf("global balance for %s is non-zero: %d", assetName, total)
		}
	}

	return nil
}
