package projection_test

import (
	"FloorVault/internal/projection"
	"testing"

	"github.com/google/uuid"
)

func TestLoanHistoryQueryByBorrower(t *testing.T) {
	p := projection.NewLoanHistoryProjection()
	alice := uuid.New()
	bob := uuid.New()

	p.AddEntry(projection.LoanHistoryEntry{Borrower: alice, LoanID: 1, Kind: projection.LoanEventOpened, Sequence: 10})
	p.AddEntry(projection.LoanHistoryEntry{Borrower: bob, LoanID: 1, Kind: projection.LoanEventOpened, Sequence: 11})
	p.AddEntry(projection.LoanHistoryEntry{Borrower: alice, LoanID: 1, Kind: projection.LoanEventClosed, Sequence: 12})

	got := p.QueryByBorrower(alice, 10)
	if len(got) != 2 {
		t.Fatalf("expected 2 entries for alice, got %d", len(got))
	}
	// Newest first
	if got[0].Kind != projection.LoanEventClosed {
		t.Errorf("expected close first, got kind %d", got[0].Kind)
	}
}

func TestLoanHistoryQueryByBorrower_Limit(t *testing.T) {
	p := projection.NewLoanHistoryProjection()
	alice := uuid.New()

	for i := 0; i < 5; i++ {
		p.AddEntry(projection.LoanHistoryEntry{Borrower: alice, LoanID: uint64(i), Kind: projection.LoanEventOpened})
	}

	got := p.QueryByBorrower(alice, 3)
	if len(got) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(got))
	}
}

func TestLoanHistoryQueryByLoan(t *testing.T) {
	p := projection.NewLoanHistoryProjection()
	alice := uuid.New()

	p.AddEntry(projection.LoanHistoryEntry{Borrower: alice, LoanID: 7, Kind: projection.LoanEventOpened, Sequence: 1})
	p.AddEntry(projection.LoanHistoryEntry{Borrower: alice, LoanID: 7, Kind: projection.LoanEventPenalized, Sequence: 2, PenaltyBurned: 5})
	p.AddEntry(projection.LoanHistoryEntry{Borrower: alice, LoanID: 7, Kind: projection.LoanEventClosed, Sequence: 3})
	p.AddEntry(projection.LoanHistoryEntry{Borrower: alice, LoanID: 8, Kind: projection.LoanEventOpened, Sequence: 4})

	got := p.QueryByLoan(alice, 7)
	if len(got) != 3 {
		t.Fatalf("expected 3 lifecycle entries, got %d", len(got))
	}
	// Oldest first
	if got[0].Kind != projection.LoanEventOpened || got[2].Kind != projection.LoanEventClosed {
		t.Errorf("lifecycle out of order: %v", got)
	}
}
