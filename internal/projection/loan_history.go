package projection

import (
	"github.com/google/uuid"
)

// LoanHistoryEntry is one loan lifecycle record: an origination, a penalty
// assessment, or a close.
type LoanHistoryEntry struct {
	Borrower        uuid.UUID
	LoanID          uint64
	EscrowID        uuid.UUID
	Kind            int32 // LoanEventOpened / LoanEventPenalized / LoanEventClosed
	VaultLocked     uint64
	JitosolBorrowed uint64
	PeriodsAssessed uint64
	PenaltyBurned   uint64
	Sequence        int64
	Timestamp       int64
}

// LoanHistoryProjection maintains queryable loan lifecycle history.
type LoanHistoryProjection struct {
	entries []LoanHistoryEntry
}

func NewLoanHistoryProjection() *LoanHistoryProjection {
	return &LoanHistoryProjection{
		entries: make([]LoanHistoryEntry, 0),
	}
}

// AddEntry records a loan lifecycle event.
func (p *LoanHistoryProjection) AddEntry(entry LoanHistoryEntry) {
	p.entries = append(p.entries, entry)
}

// QueryByBorrower returns loan history for a borrower, newest first.
func (p *LoanHistoryProjection) QueryByBorrower(borrower uuid.UUID, limit int) []LoanHistoryEntry {
	result := make([]LoanHistoryEntry, 0)

	for i := len(p.entries) - 1; i >= 0 && len(result) < limit; i-- {
		if p.entries[i].Borrower == borrower {
			result = append(result, p.entries[i])
		}
	}

	return result
}

// QueryByLoan returns the full lifecycle of a single loan, oldest first.
func (p *LoanHistoryProjection) QueryByLoan(borrower uuid.UUID, loanID uint64) []LoanHistoryEntry {
	result := make([]LoanHistoryEntry, 0)

	for _, e := range p.entries {
		if e.Borrower == borrower && e.LoanID == loanID {
			result = append(result, e)
		}
	}

	return result
}
