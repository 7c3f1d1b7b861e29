package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// BalanceTracker maintains in-memory account balances plus the observed mint
// supply per asset. Balances are signed for double-entry bookkeeping: the
// external boundary accounts run negative as tokens enter the system, so the
// global sum stays zero. All interior accounts (wallets, reserve pool,
// escrows) are kept non-negative by the engine's pre-checks and invariants.
type BalanceTracker struct {
	balances map[AccountKey]int64
	supply   map[AssetID]uint64
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[AccountKey]int64),
		supply:   make(map[AssetID]uint64),
	}
}

// ApplyJournal applies a single journal entry to balances. Journal types that
// cross the mint boundary also move the supply counter: funding vault tokens
// raises observed supply, burn entries retire it permanently.
func (bt *BalanceTracker) ApplyJournal(j Journal) {
	bt.balances[j.DebitAccount] += j.Amount
	bt.balances[j.CreditAccount] -= j.Amount

	switch j.JournalType {
	case JournalTypeTokenFund:
		bt.supply[j.AssetID] += uint64(j.Amount)
	case JournalTypeRedeemBurn, JournalTypePenaltyBurn:
		bt.supply[j.AssetID] -= uint64(j.Amount)
	}
}

// ApplyBatch applies all journals in a batch
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	for _, j := range batch.Journals {
		bt.ApplyJournal(j)
	}

	return nil
}

// GetBalance returns the current signed balance for an account
func (bt *BalanceTracker) GetBalance(key AccountKey) int64 {
	return bt.balances[key]
}

// MintSupply returns the observed total supply for an asset
func (bt *BalanceTracker) MintSupply(assetID AssetID) uint64 {
	return bt.supply[assetID]
}

// WalletBalance returns a user's wallet balance as raw unsigned units.
// Interior accounts never go negative under validated batches.
func (bt *BalanceTracker) WalletBalance(userID uuid.UUID, assetID AssetID) uint64 {
	return unsignedBalance(bt.balances[NewWalletKey(userID, assetID)])
}

// ReserveBalance returns the reserve pool balance in raw reserve units
func (bt *BalanceTracker) ReserveBalance() uint64 {
	return unsignedBalance(bt.balances[NewReservePoolKey()])
}

// EscrowBalance returns the collateral held by a loan escrow account
func (bt *BalanceTracker) EscrowBalance(escrowID uuid.UUID) uint64 {
	return unsignedBalance(bt.balances[NewEscrowKey(escrowID)])
}

func unsignedBalance(v int64) uint64 {
	if v < 0 {
		return 0
	}
	return uint64(v)
}

// === Pre-checks ===

// ValidateSufficientWallet checks if a user wallet can fund a transfer
func (bt *BalanceTracker) ValidateSufficientWallet(userID uuid.UUID, assetID AssetID, required uint64) error {
	have := bt.WalletBalance(userID, assetID)
	if have < required {
		return fmt.Errorf("insufficient wallet balance: have=%d, need=%d", have, required)
	}
	return nil
}

// ValidateNonNegative checks that a specific account balance is >= 0
func (bt *BalanceTracker) ValidateNonNegative(key AccountKey) error {
	balance := bt.balances[key]
	if balance < 0 {
		return fmt.Errorf("account %s has negative balance: %d", key.AccountPath(), balance)
	}
	return nil
}

// ComputeGlobalBalance sums all account balances (should be 0 per asset for
// a zero-sum ledger)
func (bt *BalanceTracker) ComputeGlobalBalance() map[AssetID]int64 {
	totals := make(map[AssetID]int64)

	for key, balance := range bt.balances {
		totals[key.AssetID] += balance
	}

	return totals
}

// === Snapshot / restore ===

// Snapshot returns a copy of all balances (for state hashing and snapshots)
func (bt *BalanceTracker) Snapshot() map[AccountKey]int64 {
	snapshot := make(map[AccountKey]int64, len(bt.balances))
	for k, v := range bt.balances {
		snapshot[k] = v
	}
	return snapshot
}

// SupplySnapshot returns a copy of the per-asset supply counters
func (bt *BalanceTracker) SupplySnapshot() map[AssetID]uint64 {
	snapshot := make(map[AssetID]uint64, len(bt.supply))
	for k, v := range bt.supply {
		snapshot[k] = v
	}
	return snapshot
}

// RestoreBalance directly sets an account balance (snapshot restore only)
func (bt *BalanceTracker) RestoreBalance(key AccountKey, balance int64) {
	bt.balances[key] = balance
}

// RestoreSupply directly sets an asset supply counter (snapshot restore only)
func (bt *BalanceTracker) RestoreSupply(assetID AssetID, supply uint64) {
	bt.supply[assetID] = supply
}
