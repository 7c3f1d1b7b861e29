package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeTokenFund JournalType = iota
	JournalTypeReserveDeposit
	JournalTypeRedeemBurn
	JournalTypeRedeemPayout
	JournalTypeCollateralLock
	JournalTypeBorrowDisburse
	JournalTypePenaltyBurn
	JournalTypeRepayPrincipal
	JournalTypeCollateralRelease
)

// Journal represents a single double-entry journal entry
type Journal struct {
	JournalID     uuid.UUID   // Unique identifier
	BatchID       uuid.UUID   // Groups balanced entries
	EventRef      string      // Idempotency key of source event
	Sequence      int64       // Global event sequence
	DebitAccount  AccountKey  // Account receiving debit (balance increases)
	CreditAccount AccountKey  // Account receiving credit (balance decreases)
	AssetID       AssetID     // Asset being transferred
	Amount        int64       // Raw units (ALWAYS positive)
	JournalType   JournalType // Entry type
	Timestamp     int64       // Versioned input timestamp (epoch seconds)
}

// Batch represents a balanced set of journal entries. One batch corresponds
// to one engine operation: all entries commit together or not at all.
type Batch struct {
	BatchID   uuid.UUID
	EventRef  string
	Sequence  int64
	Timestamp int64
	Journals  []Journal
}

// Validate ensures the batch is well-formed.
// Each journal entry is a balanced transfer by construction (a single
// positive amount moves from credit account to debit account), so
// Σ debits == Σ credits holds per-entry. Multi-leg operations (e.g., borrow
// = collateral lock + disbursement) use multiple entries under one batch_id.
func (b *Batch) Validate() error {
	if len(b.Journals) == 0 {
		return fmt.Errorf("batch %s is empty", b.BatchID)
	}

	for _, j := range b.Journals {
		if j.Amount <= 0 {
			return fmt.Errorf("journal %s has non-positive amount: %d", j.JournalID, j.Amount)
		}

		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}

		if j.DebitAccount == j.CreditAccount {
			return fmt.Errorf("journal %s has same debit and credit account", j.JournalID)
		}

		if j.DebitAccount.AssetID != j.AssetID || j.CreditAccount.AssetID != j.AssetID {
			return fmt.Errorf("journal %s moves asset %d between mismatched accounts", j.JournalID, j.AssetID)
		}
	}

	return nil
}
