package state

import (
	fpmath "FloorVault/internal/math"

	"github.com/google/uuid"
)

// Loan is one open borrow position. A borrower may hold any number of
// concurrent loans, each with its own escrow account and identifier.
// Closed loans are removed, never tombstoned.
type Loan struct {
	Borrower uuid.UUID
	LoanID   uint64 // From ReserveState.LoanCounter, immutable
	EscrowID uuid.UUID

	// VaultLocked is the collateral currently in escrow, in raw vault
	// units. Shrinks as penalty periods burn it; never grows.
	VaultLocked uint64

	// JitosolBorrowed is the reserve amount disbursed at origination.
	// Owed back exactly: no interest accrues beyond the penalty burns.
	JitosolBorrowed uint64

	StartTime int64 // Consensus time, epoch seconds
	DueTime   int64 // StartTime + duration; extended per penalty period

	Version int64
}

// Overdue reports whether the loan has passed its due time. The boundary is
// strict: a loan touched exactly at DueTime is not yet overdue, so repayment
// at the due second incurs no penalty.
func (l *Loan) Overdue(now int64) bool {
	return now > l.DueTime
}

// PenaltyAssessment is the outcome of evaluating all penalty periods that
// elapsed since a loan was last touched. Penalties are assessed lazily, only
// when a loan is read or mutated; there are no background timers.
type PenaltyAssessment struct {
	Periods     uint64 // Full overdue periods applied
	Burned      uint64 // Total collateral burned across those periods
	VaultLocked uint64 // Locked balance after the burns
	DueTime     int64  // Due time after the extensions
}

// AssessPenalties computes the pending penalty burns for a loan at the given
// consensus time without mutating it. Each elapsed period burns
// PenaltyAmount of the then-current locked balance and pushes the due time
// forward one duration, so the penalty compounds on the shrinking balance.
func AssessPenalties(loan *Loan, now int64, params ProtocolParams) PenaltyAssessment {
	assessment := PenaltyAssessment{
		VaultLocked: loan.VaultLocked,
		DueTime:     loan.DueTime,
	}

	if params.LoanDurationSeconds == 0 {
		// Malformed params would loop forever; ValidateParams rejects this
		// upstream, so nothing is pending here.
		return assessment
	}

	for now > assessment.DueTime {
		burn := fpmath.PenaltyAmount(assessment.VaultLocked, params.PenaltyRateBps)
		assessment.VaultLocked -= burn
		assessment.Burned += burn
		assessment.DueTime += int64(params.LoanDurationSeconds)
		assessment.Periods++
	}

	return assessment
}
