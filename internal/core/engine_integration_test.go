package core_test

import (
	"FloorVault/internal/core"
	"FloorVault/internal/event"
	"FloorVault/internal/ledger"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

// --- Test helpers ---

const baseTime = int64(1_700_000_000)

const thirtyDays = int64(30 * 24 * 60 * 60)

// harness wraps a DeterministicCore with per-partition source sequence
// counters so tests read like operation scripts.
type harness struct {
	core       *core.DeterministicCore
	persistCh  chan core.CoreOutput
	projCh     chan core.CoreOutput
	opsSeq     int64
	fundingSeq int64
	paramsSeq  int64
}

func newHarness() *harness {
	persistCh := make(chan core.CoreOutput, 1024)
	projCh := make(chan core.CoreOutput, 1024)
	return &harness{
		core:      core.NewDeterministicCore(0, persistCh, projCh, nil, nil),
		persistCh: persistCh,
		projCh:    projCh,
	}
}

func (h *harness) fund(t *testing.T, userID uuid.UUID, asset string, amount uint64, at int64) {
	t.Helper()
	evt := &event.TokenFunded{
		FundingID: uuid.New(),
		UserID:    userID,
		Asset:     asset,
		Amount:    amount,
		Sequence:  h.fundingSeq,
		Timestamp: time.Unix(at, 0),
	}
	h.fundingSeq++
	if err := h.core.ProcessEvent(evt); err != nil {
		t.Fatalf("fund %s %d failed: %v", asset, amount, err)
	}
}

func (h *harness) deposit(userID uuid.UUID, amount uint64, at int64) error {
	evt := &event.ReserveDeposited{
		DepositID: uuid.New(),
		UserID:    userID,
		Amount:    amount,
		Sequence:  h.opsSeq,
		Timestamp: time.Unix(at, 0),
	}
	err := h.core.ProcessEvent(evt)
	if err == nil {
		h.opsSeq++
	}
	return err
}

func (h *harness) burn(userID uuid.UUID, amount uint64, at int64) error {
	evt := &event.BurnToRedeem{
		RequestID:  uuid.New(),
		UserID:     userID,
		BurnAmount: amount,
		Sequence:   h.opsSeq,
		Timestamp:  time.Unix(at, 0),
	}
	err := h.core.ProcessEvent(evt)
	if err == nil {
		h.opsSeq++
	}
	return err
}

func (h *harness) borrow(userID uuid.UUID, amount uint64, at int64) error {
	evt := &event.BorrowRequested{
		RequestID:   uuid.New(),
		UserID:      userID,
		VaultAmount: amount,
		Sequence:    h.opsSeq,
		Timestamp:   time.Unix(at, 0),
	}
	err := h.core.ProcessEvent(evt)
	if err == nil {
		h.opsSeq++
	}
	return err
}

func (h *harness) repay(userID uuid.UUID, loanID uint64, escrowID uuid.UUID, at int64) error {
	evt := &event.RepayRequested{
		RequestID: uuid.New(),
		UserID:    userID,
		LoanID:    loanID,
		EscrowID:  escrowID,
		Sequence:  h.opsSeq,
		Timestamp: time.Unix(at, 0),
	}
	err := h.core.ProcessEvent(evt)
	if err == nil {
		h.opsSeq++
	}
	return err
}

func (h *harness) updateParams(t *testing.T, durationSeconds uint64, penaltyBps uint32, at int64) {
	t.Helper()
	evt := &event.ProtocolParamsUpdate{
		UpdateID:            uuid.New(),
		LoanDurationSeconds: durationSeconds,
		PenaltyRateBps:      penaltyBps,
		Sequence:            h.paramsSeq,
		Timestamp:           time.Unix(at, 0),
	}
	h.paramsSeq++
	if err := h.core.ProcessEvent(evt); err != nil {
		t.Fatalf("params update failed: %v", err)
	}
}

// seedVault funds a user with vault tokens and fills the reserve, leaving
// R=reserve, S=vaultSupply, floor=R/S.
func (h *harness) seedVault(t *testing.T, userID uuid.UUID, vaultSupply, reserve uint64) {
	t.Helper()
	h.fund(t, userID, "VAULT", vaultSupply, baseTime)
	h.fund(t, userID, "JITOSOL", reserve, baseTime)
	if err := h.deposit(userID, reserve, baseTime); err != nil {
		t.Fatalf("seed deposit failed: %v", err)
	}
	drainOutputs(h.persistCh)
	drainOutputs(h.projCh)
}

func (h *harness) mustLoan(t *testing.T, userID uuid.UUID, loanID uint64) (escrowID uuid.UUID, dueTime int64) {
	t.Helper()
	for _, loan := range h.core.BorrowerLoans(userID) {
		if loan.LoanID == loanID {
			return loan.EscrowID, loan.DueTime
		}
	}
	t.Fatalf("no open loan %d for borrower %s", loanID, userID)
	return uuid.Nil, 0
}

func drainOutputs(ch chan core.CoreOutput) []core.CoreOutput {
	var outputs []core.CoreOutput
	for {
		select {
		case o := <-ch:
			outputs = append(outputs, o)
		default:
			return outputs
		}
	}
}

// floorLessOrEqual compares two floor rates by cross-multiplication.
func floorLessOrEqual(aNum, aDen, bNum, bDen uint64) bool {
	return aNum*bDen <= bNum*aDen
}

// ============================================================================
// Test: Funding and Reserve Deposit
// ============================================================================

func TestTokenFunded_CreditsWallet(t *testing.T) {
	h := newHarness()
	userID := uuid.New()

	h.fund(t, userID, "VAULT", 10_000, baseTime)

	outputs := drainOutputs(h.persistCh)
	if len(outputs) != 1 {
		t.Fatalf("expected 1 output, got %d", len(outputs))
	}
	if len(outputs[0].Batch.Journals) != 1 {
		t.Fatalf("expected 1 journal, got %d", len(outputs[0].Batch.Journals))
	}

	if got := h.core.WalletBalance(userID, ledger.AssetVault); got != 10_000 {
		t.Errorf("wallet balance = %d, want 10000", got)
	}
}

func TestReserveDeposit_RaisesFloor(t *testing.T) {
	h := newHarness()
	userID := uuid.New()
	h.seedVault(t, userID, 10_000, 1_000)

	floorBefore := h.core.FloorPrice()
	if floorBefore.Num != 1_000 || floorBefore.Den != 10_000 {
		t.Fatalf("floor = %d/%d, want 1000/10000", floorBefore.Num, floorBefore.Den)
	}

	// Top up the reserve with no new supply: floor can only rise
	h.fund(t, userID, "JITOSOL", 500, baseTime)
	if err := h.deposit(userID, 500, baseTime); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}

	if got := h.core.ReserveBalance(); got != 1_500 {
		t.Errorf("reserve = %d, want 1500", got)
	}

	floorAfter := h.core.FloorPrice()
	if !floorLessOrEqual(floorBefore.Num, floorBefore.Den, floorAfter.Num, floorAfter.Den) {
		t.Errorf("floor decreased: before %d/%d, after %d/%d",
			floorBefore.Num, floorBefore.Den, floorAfter.Num, floorAfter.Den)
	}
}

func TestReserveDeposit_InsufficientBalance(t *testing.T) {
	h := newHarness()
	userID := uuid.New()
	h.fund(t, userID, "JITOSOL", 100, baseTime)

	err := h.deposit(userID, 101, baseTime)
	if !errors.Is(err, core.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}

	// Rejected op must leave no trace
	if got := h.core.ReserveBalance(); got != 0 {
		t.Errorf("reserve = %d after rejected deposit, want 0", got)
	}
	if got := h.core.WalletBalance(userID, ledger.AssetJitosol); got != 100 {
		t.Errorf("wallet = %d after rejected deposit, want 100", got)
	}
}

// ============================================================================
// Test: Burn-to-Redeem
// ============================================================================

func TestBurn_ProportionalPayout(t *testing.T) {
	h := newHarness()
	userID := uuid.New()
	h.seedVault(t, userID, 10_000, 1_000)

	// Floor 1000/10000: burning 500 pays out 50
	if err := h.burn(userID, 500, baseTime+10); err != nil {
		t.Fatalf("burn failed: %v", err)
	}

	if got := h.core.WalletBalance(userID, ledger.AssetJitosol); got != 50 {
		t.Errorf("payout = %d, want 50", got)
	}
	if got := h.core.WalletBalance(userID, ledger.AssetVault); got != 9_500 {
		t.Errorf("vault wallet = %d, want 9500", got)
	}
	if got := h.core.ReserveBalance(); got != 950 {
		t.Errorf("reserve = %d, want 950", got)
	}

	// Floor preserved exactly: 950/9500 == 1000/10000
	floor := h.core.FloorPrice()
	if floor.Num != 950 || floor.Den != 9_500 {
		t.Errorf("floor = %d/%d, want 950/9500", floor.Num, floor.Den)
	}

	outputs := drainOutputs(h.persistCh)
	if len(outputs) != 1 {
		t.Fatalf("expected 1 output, got %d", len(outputs))
	}
	if got := len(outputs[0].Batch.Journals); got != 2 {
		t.Errorf("expected 2 journals (burn + payout), got %d", got)
	}
}

func TestBurn_FloorNeverDecreases(t *testing.T) {
	h := newHarness()
	userID := uuid.New()
	// Odd reserve so the payout rounds down and strands value in the pool:
	// floor(70 * 999 / 10000) = 6, leaving R=993 against S=9930
	h.seedVault(t, userID, 10_000, 999)

	floorBefore := h.core.FloorPrice()

	if err := h.burn(userID, 70, baseTime+10); err != nil {
		t.Fatalf("burn failed: %v", err)
	}

	floorAfter := h.core.FloorPrice()
	if !floorLessOrEqual(floorBefore.Num, floorBefore.Den, floorAfter.Num, floorAfter.Den) {
		t.Errorf("floor decreased: before %d/%d, after %d/%d",
			floorBefore.Num, floorBefore.Den, floorAfter.Num, floorAfter.Den)
	}
}

func TestBurn_ZeroOutputRejected(t *testing.T) {
	h := newHarness()
	userID := uuid.New()
	h.fund(t, userID, "VAULT", 10_000, baseTime)

	// Empty reserve: any burn would pay nothing
	err := h.burn(userID, 500, baseTime+10)
	if !errors.Is(err, core.ErrZeroOutput) {
		t.Fatalf("expected ErrZeroOutput, got %v", err)
	}

	if got := h.core.WalletBalance(userID, ledger.AssetVault); got != 10_000 {
		t.Errorf("wallet = %d after rejected burn, want 10000", got)
	}
}

func TestBurn_RoundingToZeroRejected(t *testing.T) {
	h := newHarness()
	userID := uuid.New()
	h.seedVault(t, userID, 10_000, 1_000)

	// floor(1 * 1000 / 10000) = 0 — burning one unit yields nothing
	err := h.burn(userID, 1, baseTime+10)
	if !errors.Is(err, core.ErrZeroOutput) {
		t.Fatalf("expected ErrZeroOutput, got %v", err)
	}
}

func TestBurn_InsufficientBalance(t *testing.T) {
	h := newHarness()
	userID := uuid.New()
	h.seedVault(t, userID, 10_000, 1_000)

	err := h.burn(userID, 10_001, baseTime+10)
	if !errors.Is(err, core.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
}

// ============================================================================
// Test: Borrow
// ============================================================================

func TestBorrow_OpensLoanAtFloorPrice(t *testing.T) {
	h := newHarness()
	userID := uuid.New()
	h.seedVault(t, userID, 10_000, 1_000)

	if err := h.borrow(userID, 1_000, baseTime+10); err != nil {
		t.Fatalf("borrow failed: %v", err)
	}

	// 1000 vault at floor 0.1 disburses 100 JitoSOL
	if got := h.core.WalletBalance(userID, ledger.AssetJitosol); got != 100 {
		t.Errorf("disbursed = %d, want 100", got)
	}
	if got := h.core.WalletBalance(userID, ledger.AssetVault); got != 9_000 {
		t.Errorf("vault wallet = %d, want 9000", got)
	}
	if got := h.core.TotalLocked(); got != 1_000 {
		t.Errorf("total locked = %d, want 1000", got)
	}

	loans := h.core.BorrowerLoans(userID)
	if len(loans) != 1 {
		t.Fatalf("expected 1 open loan, got %d", len(loans))
	}
	loan := loans[0]
	if loan.LoanID != 0 {
		t.Errorf("loan id = %d, want 0", loan.LoanID)
	}
	if loan.VaultLocked != 1_000 || loan.JitosolBorrowed != 100 {
		t.Errorf("loan locked=%d borrowed=%d, want 1000/100", loan.VaultLocked, loan.JitosolBorrowed)
	}
	if want := baseTime + 10 + thirtyDays; loan.DueTime != want {
		t.Errorf("due time = %d, want %d", loan.DueTime, want)
	}

	// Locked collateral leaves circulating supply, so the floor is unchanged:
	// (1000-100) / (10000-1000) == 1000/10000
	floor := h.core.FloorPrice()
	if floor.Num != 900 || floor.Den != 9_000 {
		t.Errorf("floor = %d/%d, want 900/9000", floor.Num, floor.Den)
	}

	// Projection workers receive the opened-loan delta
	outputs := drainOutputs(h.persistCh)
	if len(outputs) != 1 || len(outputs[0].Loans) != 1 {
		t.Fatalf("expected 1 output with 1 loan delta")
	}
	delta := outputs[0].Loans[0]
	if delta.Kind != core.LoanDeltaOpened {
		t.Errorf("delta kind = %d, want opened", delta.Kind)
	}
	if delta.EscrowID != loan.EscrowID {
		t.Errorf("delta escrow %s != loan escrow %s", delta.EscrowID, loan.EscrowID)
	}
}

func TestBorrow_LoanIDsNeverReused(t *testing.T) {
	h := newHarness()
	userID := uuid.New()
	h.seedVault(t, userID, 10_000, 1_000)

	if err := h.borrow(userID, 1_000, baseTime+10); err != nil {
		t.Fatalf("first borrow failed: %v", err)
	}
	escrowID, _ := h.mustLoan(t, userID, 0)
	if err := h.repay(userID, 0, escrowID, baseTime+20); err != nil {
		t.Fatalf("repay failed: %v", err)
	}

	if err := h.borrow(userID, 1_000, baseTime+30); err != nil {
		t.Fatalf("second borrow failed: %v", err)
	}

	loans := h.core.BorrowerLoans(userID)
	if len(loans) != 1 || loans[0].LoanID != 1 {
		t.Fatalf("expected loan id 1 after close/reopen, got %+v", loans)
	}
}

func TestBorrow_InsufficientCollateral(t *testing.T) {
	h := newHarness()
	userID := uuid.New()
	h.seedVault(t, userID, 10_000, 1_000)

	err := h.borrow(userID, 10_001, baseTime+10)
	if !errors.Is(err, core.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if got := h.core.TotalLocked(); got != 0 {
		t.Errorf("total locked = %d after rejected borrow, want 0", got)
	}
	if len(h.core.BorrowerLoans(userID)) != 0 {
		t.Error("rejected borrow left an open loan")
	}
}

func TestBorrow_ZeroOutputRejected(t *testing.T) {
	h := newHarness()
	userID := uuid.New()
	h.fund(t, userID, "VAULT", 10_000, baseTime)

	err := h.borrow(userID, 1_000, baseTime+10)
	if !errors.Is(err, core.ErrZeroOutput) {
		t.Fatalf("expected ErrZeroOutput, got %v", err)
	}
}

// ============================================================================
// Test: Repay
// ============================================================================

func TestRepay_OnTime_ReleasesAllCollateral(t *testing.T) {
	h := newHarness()
	userID := uuid.New()
	h.seedVault(t, userID, 10_000, 1_000)

	if err := h.borrow(userID, 1_000, baseTime+10); err != nil {
		t.Fatalf("borrow failed: %v", err)
	}
	escrowID, dueTime := h.mustLoan(t, userID, 0)
	drainOutputs(h.persistCh)

	// Repay exactly at the due boundary: still on time, no penalty
	if err := h.repay(userID, 0, escrowID, dueTime); err != nil {
		t.Fatalf("repay failed: %v", err)
	}

	// Everything returns to the pre-borrow position
	if got := h.core.WalletBalance(userID, ledger.AssetVault); got != 10_000 {
		t.Errorf("vault wallet = %d, want 10000", got)
	}
	if got := h.core.WalletBalance(userID, ledger.AssetJitosol); got != 0 {
		t.Errorf("jitosol wallet = %d, want 0", got)
	}
	if got := h.core.ReserveBalance(); got != 1_000 {
		t.Errorf("reserve = %d, want 1000", got)
	}
	if got := h.core.TotalLocked(); got != 0 {
		t.Errorf("total locked = %d, want 0", got)
	}
	if len(h.core.BorrowerLoans(userID)) != 0 {
		t.Error("loan still open after repay")
	}

	outputs := drainOutputs(h.persistCh)
	if len(outputs) != 1 {
		t.Fatalf("expected 1 output, got %d", len(outputs))
	}
	// No penalty: principal + release only
	if got := len(outputs[0].Batch.Journals); got != 2 {
		t.Errorf("expected 2 journals, got %d", got)
	}
	if len(outputs[0].Loans) != 1 || outputs[0].Loans[0].Kind != core.LoanDeltaClosed {
		t.Errorf("expected single closed loan delta, got %+v", outputs[0].Loans)
	}
}

func TestRepay_OnePeriodLate_BurnsPenalty(t *testing.T) {
	h := newHarness()
	userID := uuid.New()
	h.seedVault(t, userID, 10_000, 1_000)

	if err := h.borrow(userID, 1_000, baseTime+10); err != nil {
		t.Fatalf("borrow failed: %v", err)
	}
	escrowID, dueTime := h.mustLoan(t, userID, 0)
	drainOutputs(h.persistCh)

	// One second past due: one period, penalty = floor(1000 * 10bps) = 1
	if err := h.repay(userID, 0, escrowID, dueTime+1); err != nil {
		t.Fatalf("repay failed: %v", err)
	}

	if got := h.core.WalletBalance(userID, ledger.AssetVault); got != 9_999 {
		t.Errorf("vault wallet = %d, want 9999", got)
	}
	if got := h.core.ReserveBalance(); got != 1_000 {
		t.Errorf("reserve = %d, want 1000 (exact principal)", got)
	}
	if got := h.core.TotalLocked(); got != 0 {
		t.Errorf("total locked = %d, want 0", got)
	}

	outputs := drainOutputs(h.persistCh)
	if len(outputs) != 1 {
		t.Fatalf("expected 1 output, got %d", len(outputs))
	}
	// Penalty burn + principal + release
	if got := len(outputs[0].Batch.Journals); got != 3 {
		t.Errorf("expected 3 journals, got %d", got)
	}
	if len(outputs[0].Loans) != 2 {
		t.Fatalf("expected penalized + closed deltas, got %d", len(outputs[0].Loans))
	}
	penalized := outputs[0].Loans[0]
	if penalized.Kind != core.LoanDeltaPenalized || penalized.PeriodsAssessed != 1 || penalized.PenaltyBurned != 1 {
		t.Errorf("penalized delta = %+v, want 1 period burning 1", penalized)
	}
}

func TestRepay_CompoundingPenaltyAcrossPeriods(t *testing.T) {
	h := newHarness()
	userID := uuid.New()
	// Short terms and a steep rate so compounding is visible
	h.updateParams(t, 100, 1_000, baseTime)
	h.seedVault(t, userID, 10_000, 1_000)

	if err := h.borrow(userID, 1_000, baseTime+10); err != nil {
		t.Fatalf("borrow failed: %v", err)
	}
	escrowID, dueTime := h.mustLoan(t, userID, 0)
	drainOutputs(h.persistCh)

	// Three periods late at 10% each: 100 + 90 + 81 = 271 burned
	if err := h.repay(userID, 0, escrowID, dueTime+201); err != nil {
		t.Fatalf("repay failed: %v", err)
	}

	if got := h.core.WalletBalance(userID, ledger.AssetVault); got != 9_729 {
		t.Errorf("vault wallet = %d, want 9729 (271 burned)", got)
	}

	outputs := drainOutputs(h.persistCh)
	penalized := outputs[0].Loans[0]
	if penalized.PeriodsAssessed != 3 || penalized.PenaltyBurned != 271 {
		t.Errorf("assessment = %d periods burning %d, want 3 burning 271",
			penalized.PeriodsAssessed, penalized.PenaltyBurned)
	}
}

func TestRepay_LoanNotFound(t *testing.T) {
	h := newHarness()
	userID := uuid.New()
	h.seedVault(t, userID, 10_000, 1_000)

	err := h.repay(userID, 42, uuid.New(), baseTime+10)
	if !errors.Is(err, core.ErrLoanNotFound) {
		t.Fatalf("expected ErrLoanNotFound, got %v", err)
	}
}

func TestRepay_WrongBorrower(t *testing.T) {
	h := newHarness()
	borrower := uuid.New()
	other := uuid.New()
	h.seedVault(t, borrower, 10_000, 1_000)

	if err := h.borrow(borrower, 1_000, baseTime+10); err != nil {
		t.Fatalf("borrow failed: %v", err)
	}
	escrowID, _ := h.mustLoan(t, borrower, 0)

	// Loans are keyed by (borrower, loan_id): another user cannot repay
	err := h.repay(other, 0, escrowID, baseTime+20)
	if !errors.Is(err, core.ErrLoanNotFound) {
		t.Fatalf("expected ErrLoanNotFound, got %v", err)
	}
}

func TestRepay_EscrowMismatch(t *testing.T) {
	h := newHarness()
	userID := uuid.New()
	h.seedVault(t, userID, 10_000, 1_000)

	if err := h.borrow(userID, 1_000, baseTime+10); err != nil {
		t.Fatalf("borrow failed: %v", err)
	}

	err := h.repay(userID, 0, uuid.New(), baseTime+20)
	if !errors.Is(err, core.ErrEscrowMismatch) {
		t.Fatalf("expected ErrEscrowMismatch, got %v", err)
	}

	// Loan untouched
	if len(h.core.BorrowerLoans(userID)) != 1 {
		t.Error("rejected repay closed the loan")
	}
}

func TestRepay_InsufficientPrincipal(t *testing.T) {
	h := newHarness()
	userID := uuid.New()
	h.seedVault(t, userID, 10_000, 1_000)

	if err := h.borrow(userID, 1_000, baseTime+10); err != nil {
		t.Fatalf("borrow failed: %v", err)
	}
	escrowID, _ := h.mustLoan(t, userID, 0)

	// Spend the borrowed JitoSOL (one-way reserve deposit), leaving the
	// wallet unable to cover the principal
	if err := h.deposit(userID, 100, baseTime+20); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}

	err := h.repay(userID, 0, escrowID, baseTime+30)
	if !errors.Is(err, core.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if len(h.core.BorrowerLoans(userID)) != 1 {
		t.Error("rejected repay closed the loan")
	}
}

// ============================================================================
// Test: Protocol Params
// ============================================================================

func TestParamsUpdate_AppliesToNewLoans(t *testing.T) {
	h := newHarness()
	userID := uuid.New()
	h.seedVault(t, userID, 10_000, 1_000)

	h.updateParams(t, 3_600, 50, baseTime+5)

	if err := h.borrow(userID, 1_000, baseTime+10); err != nil {
		t.Fatalf("borrow failed: %v", err)
	}
	_, dueTime := h.mustLoan(t, userID, 0)
	if want := baseTime + 10 + 3_600; dueTime != want {
		t.Errorf("due time = %d, want %d", dueTime, want)
	}
}

func TestParamsUpdate_InvalidRejected(t *testing.T) {
	h := newHarness()

	evt := &event.ProtocolParamsUpdate{
		UpdateID:            uuid.New(),
		LoanDurationSeconds: 0,
		PenaltyRateBps:      10,
		Sequence:            0,
		Timestamp:           time.Unix(baseTime, 0),
	}
	if err := h.core.ProcessEvent(evt); err == nil {
		t.Fatal("expected zero-duration params to be rejected")
	}
}

// ============================================================================
// Test: Idempotency and Sequencing
// ============================================================================

func TestDuplicateEvent_Skipped(t *testing.T) {
	h := newHarness()
	userID := uuid.New()
	h.fund(t, userID, "JITOSOL", 1_000, baseTime)

	evt := &event.ReserveDeposited{
		DepositID: uuid.New(),
		UserID:    userID,
		Amount:    400,
		Sequence:  0,
		Timestamp: time.Unix(baseTime, 0),
	}

	if err := h.core.ProcessEvent(evt); err != nil {
		t.Fatalf("first delivery failed: %v", err)
	}
	h.opsSeq++

	// Redelivery of the same event is a silent no-op
	if err := h.core.ProcessEvent(evt); err != nil {
		t.Fatalf("duplicate delivery errored: %v", err)
	}

	if got := h.core.ReserveBalance(); got != 400 {
		t.Errorf("reserve = %d after duplicate, want 400", got)
	}
}

func TestSequenceGap_Rejected(t *testing.T) {
	h := newHarness()
	userID := uuid.New()
	h.fund(t, userID, "JITOSOL", 1_000, baseTime)

	evt := &event.ReserveDeposited{
		DepositID: uuid.New(),
		UserID:    userID,
		Amount:    400,
		Sequence:  5, // expected 0
		Timestamp: time.Unix(baseTime, 0),
	}
	if err := h.core.ProcessEvent(evt); err == nil {
		t.Fatal("expected sequence gap to be rejected")
	}
	if got := h.core.ReserveBalance(); got != 0 {
		t.Errorf("reserve = %d after rejected event, want 0", got)
	}
}

func TestRejectedOp_DoesNotConsumeSequence(t *testing.T) {
	h := newHarness()
	userID := uuid.New()
	h.fund(t, userID, "JITOSOL", 100, baseTime)

	// An op that fails validation must not advance the partition cursor:
	// the upstream will re-issue the same source sequence
	overdraw := &event.ReserveDeposited{
		DepositID: uuid.New(),
		UserID:    userID,
		Amount:    500,
		Sequence:  0,
		Timestamp: time.Unix(baseTime, 0),
	}
	if err := h.core.ProcessEvent(overdraw); err == nil {
		t.Fatal("expected overdraw to fail")
	}

	if err := h.deposit(userID, 100, baseTime+1); err != nil {
		t.Fatalf("follow-up deposit at seq 0 failed: %v", err)
	}
}

// ============================================================================
// Test: Hash Chain and Determinism
// ============================================================================

func TestHashChain_LinksOutputs(t *testing.T) {
	h := newHarness()
	userID := uuid.New()

	h.fund(t, userID, "VAULT", 10_000, baseTime)
	h.fund(t, userID, "JITOSOL", 1_000, baseTime)
	if err := h.deposit(userID, 1_000, baseTime); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}

	outputs := drainOutputs(h.persistCh)
	if len(outputs) != 3 {
		t.Fatalf("expected 3 outputs, got %d", len(outputs))
	}

	for i := 1; i < len(outputs); i++ {
		prev := outputs[i-1].Envelope
		cur := outputs[i].Envelope
		if cur.PrevHash != prev.StateHash {
			t.Errorf("output %d prev_hash does not chain to output %d state_hash", i, i-1)
		}
		if cur.Sequence != prev.Sequence+1 {
			t.Errorf("sequence jumped: %d -> %d", prev.Sequence, cur.Sequence)
		}
	}
}

func TestReplay_ProducesIdenticalHashes(t *testing.T) {
	userID := uuid.New()

	run := func() [][32]byte {
		h := newHarness()
		h.fund(t, userID, "VAULT", 10_000, baseTime)
		h.fund(t, userID, "JITOSOL", 1_000, baseTime)
		if err := h.deposit(userID, 1_000, baseTime); err != nil {
			t.Fatalf("deposit failed: %v", err)
		}
		if err := h.burn(userID, 500, baseTime+10); err != nil {
			t.Fatalf("burn failed: %v", err)
		}

		var hashes [][32]byte
		for _, o := range drainOutputs(h.persistCh) {
			hashes = append(hashes, o.Envelope.StateHash)
		}
		return hashes
	}

	first := run()
	second := run()

	if len(first) != len(second) {
		t.Fatalf("replay produced %d outputs, want %d", len(second), len(first))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("hash %d differs across replays", i)
		}
	}
}

// ============================================================================
// Test: Snapshot / Restore
// ============================================================================

func TestSnapshotRestore_RoundTrips(t *testing.T) {
	h := newHarness()
	userID := uuid.New()
	h.seedVault(t, userID, 10_000, 1_000)

	if err := h.borrow(userID, 1_000, baseTime+10); err != nil {
		t.Fatalf("borrow failed: %v", err)
	}

	snap := h.core.CreateSnapshotState()

	restored := core.NewDeterministicCore(0, make(chan core.CoreOutput, 16), make(chan core.CoreOutput, 16), nil, nil)
	restored.RestoreFromSnapshot(snap)

	if got := restored.ReserveBalance(); got != h.core.ReserveBalance() {
		t.Errorf("restored reserve = %d, want %d", got, h.core.ReserveBalance())
	}
	if got := restored.TotalLocked(); got != 1_000 {
		t.Errorf("restored locked = %d, want 1000", got)
	}
	if got := restored.GetStateHash(); got != h.core.GetStateHash() {
		t.Error("restored state hash differs")
	}

	loans := restored.BorrowerLoans(userID)
	if len(loans) != 1 || loans[0].VaultLocked != 1_000 {
		t.Fatalf("restored loans = %+v, want one loan locking 1000", loans)
	}
}

// ============================================================================
// Test: Event validation
// ============================================================================

// A zero-amount event must get a typed rejection before batch generation: a
// zero journal can never balance, and an unbalanced batch is fatal.
func TestZeroAmountEventsRejected(t *testing.T) {
	h := newHarness()
	userID := uuid.New()
	h.seedVault(t, userID, 10_000, 1_000)

	fund := &event.TokenFunded{
		FundingID: uuid.New(),
		UserID:    userID,
		Asset:     "JITOSOL",
		Amount:    0,
		Sequence:  h.fundingSeq,
		Timestamp: time.Unix(baseTime+10, 0),
	}
	if err := h.core.ProcessEvent(fund); !errors.Is(err, core.ErrInvalidAmount) {
		t.Fatalf("zero funding: expected ErrInvalidAmount, got %v", err)
	}

	if err := h.deposit(userID, 0, baseTime+10); !errors.Is(err, core.ErrInvalidAmount) {
		t.Fatalf("zero deposit: expected ErrInvalidAmount, got %v", err)
	}
	if err := h.burn(userID, 0, baseTime+10); !errors.Is(err, core.ErrInvalidAmount) {
		t.Fatalf("zero burn: expected ErrInvalidAmount, got %v", err)
	}
	if err := h.borrow(userID, 0, baseTime+10); !errors.Is(err, core.ErrInvalidAmount) {
		t.Fatalf("zero borrow: expected ErrInvalidAmount, got %v", err)
	}

	// Rejections leave no trace
	if got := h.core.ReserveBalance(); got != 1_000 {
		t.Errorf("reserve = %d after rejected events, want 1000", got)
	}
	if got := h.core.WalletBalance(userID, ledger.AssetVault); got != 10_000 {
		t.Errorf("vault wallet = %d after rejected events, want 10000", got)
	}
	if outputs := drainOutputs(h.persistCh); len(outputs) != 0 {
		t.Errorf("rejected events emitted %d outputs", len(outputs))
	}
}

// ============================================================================
// Test: Replay mode
// ============================================================================

// fullEventLogDB stands in for the Postgres dedup tier against a log that
// already holds every event — the situation during startup replay.
type fullEventLogDB struct{}

func (fullEventLogDB) IsDuplicate(eventType string, idempotencyKey string) (bool, error) {
	return true, nil
}

func TestReplay_AppliesEventsAlreadyInLog(t *testing.T) {
	persistCh := make(chan core.CoreOutput, 16)
	projCh := make(chan core.CoreOutput, 16)
	c := core.NewDeterministicCore(0, persistCh, projCh, fullEventLogDB{}, nil)
	userID := uuid.New()

	c.BeginReplay()

	fund := &event.TokenFunded{
		FundingID: uuid.New(),
		UserID:    userID,
		Asset:     "JITOSOL",
		Amount:    1_000,
		Sequence:  0,
		Timestamp: time.Unix(baseTime, 0),
	}
	if err := c.ProcessEvent(fund); err != nil {
		t.Fatalf("replay funding failed: %v", err)
	}

	dep := &event.ReserveDeposited{
		DepositID: uuid.New(),
		UserID:    userID,
		Amount:    1_000,
		Sequence:  0,
		Timestamp: time.Unix(baseTime, 0),
	}
	if err := c.ProcessEvent(dep); err != nil {
		t.Fatalf("replay deposit failed: %v", err)
	}

	c.EndReplay()

	// Replayed events must apply even though the DB tier reports them as
	// persisted, and must not be re-emitted downstream
	if got := c.ReserveBalance(); got != 1_000 {
		t.Errorf("reserve after replay = %d, want 1000", got)
	}
	if got := c.GetSequence(); got != 2 {
		t.Errorf("sequence after replay = %d, want 2", got)
	}
	if outputs := drainOutputs(persistCh); len(outputs) != 0 {
		t.Errorf("replay emitted %d persistence outputs, want 0", len(outputs))
	}

	// Outside replay the DB tier is live again: a persisted key is skipped
	extra := &event.ReserveDeposited{
		DepositID: uuid.New(),
		UserID:    userID,
		Amount:    500,
		Sequence:  1,
		Timestamp: time.Unix(baseTime+10, 0),
	}
	if err := c.ProcessEvent(extra); err != nil {
		t.Fatalf("duplicate deposit should be skipped, not rejected: %v", err)
	}
	if got := c.ReserveBalance(); got != 1_000 {
		t.Errorf("reserve = %d after duplicate, want 1000", got)
	}
}

// ============================================================================
// Test: Journal sequence alignment
// ============================================================================

// Every journal row carries the sequence of the event that produced it, so
// event_log.journal joins cleanly against event_log.events. Journal-free
// params updates and snapshot restores must not shift the numbering.
func TestJournalSequenceMatchesEventLog(t *testing.T) {
	h := newHarness()
	userID := uuid.New()

	h.fund(t, userID, "VAULT", 10_000, baseTime)
	h.fund(t, userID, "JITOSOL", 1_000, baseTime)
	h.updateParams(t, uint64(thirtyDays), 500, baseTime)
	if err := h.deposit(userID, 1_000, baseTime+10); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}

	for _, o := range drainOutputs(h.persistCh) {
		if o.Batch == nil {
			continue
		}
		if o.Batch.Sequence != o.Envelope.Sequence {
			t.Errorf("batch sequence %d != envelope sequence %d", o.Batch.Sequence, o.Envelope.Sequence)
		}
		for _, j := range o.Batch.Journals {
			if j.Sequence != o.Envelope.Sequence {
				t.Errorf("journal sequence %d != envelope sequence %d", j.Sequence, o.Envelope.Sequence)
			}
		}
	}

	// Alignment survives a snapshot restore
	snap := h.core.CreateSnapshotState()
	restoredCh := make(chan core.CoreOutput, 16)
	restored := core.NewDeterministicCore(0, restoredCh, make(chan core.CoreOutput, 16), nil, nil)
	restored.RestoreFromSnapshot(snap)

	fund := &event.TokenFunded{
		FundingID: uuid.New(),
		UserID:    userID,
		Asset:     "JITOSOL",
		Amount:    250,
		Sequence:  restored.NextSourceSequence("funding"),
		Timestamp: time.Unix(baseTime+20, 0),
	}
	if err := restored.ProcessEvent(fund); err != nil {
		t.Fatalf("funding after restore failed: %v", err)
	}

	outputs := drainOutputs(restoredCh)
	if len(outputs) != 1 {
		t.Fatalf("expected 1 output after restore, got %d", len(outputs))
	}
	o := outputs[0]
	if o.Envelope.Sequence != snap.Sequence+1 {
		t.Errorf("envelope sequence %d, want %d", o.Envelope.Sequence, snap.Sequence+1)
	}
	for _, j := range o.Batch.Journals {
		if j.Sequence != o.Envelope.Sequence {
			t.Errorf("journal sequence %d != envelope sequence %d after restore", j.Sequence, o.Envelope.Sequence)
		}
	}
}
