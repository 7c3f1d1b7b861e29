package state

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// LoanManager is the registry of open loans, keyed by (borrower, loanID).
// It also maintains a per-borrower index of open loan IDs so discovery is
// bounded by a borrower's own loan count rather than the global counter.
type LoanManager struct {
	loans      map[LoanKey]*Loan
	byBorrower map[uuid.UUID]map[uint64]struct{}
}

type LoanKey struct {
	Borrower uuid.UUID
	LoanID   uint64
}

func NewLoanManager() *LoanManager {
	return &LoanManager{
		loans:      make(map[LoanKey]*Loan),
		byBorrower: make(map[uuid.UUID]map[uint64]struct{}),
	}
}

// Get returns the open loan for (borrower, loanID), or nil.
func (lm *LoanManager) Get(borrower uuid.UUID, loanID uint64) *Loan {
	return lm.loans[LoanKey{Borrower: borrower, LoanID: loanID}]
}

// Create registers a new open loan.
func (lm *LoanManager) Create(loan *Loan) error {
	key := LoanKey{Borrower: loan.Borrower, LoanID: loan.LoanID}
	if _, exists := lm.loans[key]; exists {
		return fmt.Errorf("loan %d for borrower %s already exists", loan.LoanID, loan.Borrower)
	}

	lm.loans[key] = loan

	index := lm.byBorrower[loan.Borrower]
	if index == nil {
		index = make(map[uint64]struct{})
		lm.byBorrower[loan.Borrower] = index
	}
	index[loan.LoanID] = struct{}{}

	return nil
}

// Remove closes a loan: the record is deleted, not tombstoned.
func (lm *LoanManager) Remove(borrower uuid.UUID, loanID uint64) {
	key := LoanKey{Borrower: borrower, LoanID: loanID}
	delete(lm.loans, key)

	if index := lm.byBorrower[borrower]; index != nil {
		delete(index, loanID)
		if len(index) == 0 {
			delete(lm.byBorrower, borrower)
		}
	}
}

// ApplyAssessment commits a penalty assessment to a loan record.
func (lm *LoanManager) ApplyAssessment(loan *Loan, assessment PenaltyAssessment) {
	if assessment.Periods == 0 {
		return
	}
	loan.VaultLocked = assessment.VaultLocked
	loan.DueTime = assessment.DueTime
	loan.Version++
}

// BorrowerLoans returns a borrower's open loans ordered by loan ID.
func (lm *LoanManager) BorrowerLoans(borrower uuid.UUID) []*Loan {
	index := lm.byBorrower[borrower]
	if len(index) == 0 {
		return nil
	}

	ids := make([]uint64, 0, len(index))
	for id := range index {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	result := make([]*Loan, 0, len(ids))
	for _, id := range ids {
		result = append(result, lm.loans[LoanKey{Borrower: borrower, LoanID: id}])
	}
	return result
}

// AllLoans returns every open loan (for snapshots and invariant sweeps).
func (lm *LoanManager) AllLoans() []*Loan {
	result := make([]*Loan, 0, len(lm.loans))
	for _, loan := range lm.loans {
		result = append(result, loan)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].LoanID < result[j].LoanID })
	return result
}

// Count returns the number of open loans.
func (lm *LoanManager) Count() int {
	return len(lm.loans)
}

// Restore directly inserts a loan (snapshot restore only).
func (lm *LoanManager) Restore(loan *Loan) {
	key := LoanKey{Borrower: loan.Borrower, LoanID: loan.LoanID}
	lm.loans[key] = loan

	index := lm.byBorrower[loan.Borrower]
	if index == nil {
		index = make(map[uint64]struct{})
		lm.byBorrower[loan.Borrower] = index
	}
	index[loan.LoanID] = struct{}{}
}
