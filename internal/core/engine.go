package core

import (
	"FloorVault/internal/event"
	"FloorVault/internal/ledger"
	fpmath "FloorVault/internal/math"
	"FloorVault/internal/observability"
	"FloorVault/internal/state"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// DeterministicCore is the single-threaded event processor
type DeterministicCore struct {
	sequence          int64
	hasher            *StateHasher
	balanceTracker    *ledger.BalanceTracker
	journalGen        *ledger.JournalGenerator
	validator         *ledger.InvariantValidator
	loanManager       *state.LoanManager
	reserve           *state.ReserveState
	idempotency       *IdempotencyChecker
	sequenceValidator *SequenceValidator
	metrics           *observability.Metrics
	replaying         bool

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

type CoreOutput struct {
	Envelope   *event.EventEnvelope
	Batch      *ledger.Batch
	StateDelta []byte
	Loans      []LoanDelta
}

// LoanDeltaKind describes how an event changed a loan record.
type LoanDeltaKind int32

const (
	LoanDeltaOpened LoanDeltaKind = iota + 1
	LoanDeltaPenalized
	LoanDeltaClosed
)

// LoanDelta carries loan lifecycle changes to the projection workers, which
// cannot reconstruct loan records from journal rows alone.
type LoanDelta struct {
	Kind            LoanDeltaKind
	Borrower        uuid.UUID
	LoanID          uint64
	EscrowID        uuid.UUID
	VaultLocked     uint64
	JitosolBorrowed uint64
	StartTime       int64
	DueTime         int64
	PeriodsAssessed uint64
	PenaltyBurned   uint64
}

// escrowNamespace seeds deterministic escrow identifiers. Escrow account
// paths feed the state digest, so escrow IDs must be derivable from the
// event alone — uuid.New() here would break replay.
var escrowNamespace = uuid.MustParse("b1f6c6de-40a3-4f2e-9c7b-5a8f1e2d3c4b")

func deriveEscrowID(requestID uuid.UUID) uuid.UUID {
	return uuid.NewSHA1(escrowNamespace, requestID[:])
}

func NewDeterministicCore(
	startSequence int64,
	persistChan, projectionChan chan<- CoreOutput,
	dbChecker DBIdempotencyChecker,
	metrics *observability.Metrics,
) *DeterministicCore {
	balanceTracker := ledger.NewBalanceTracker()
	validator := ledger.NewInvariantValidator(balanceTracker)
	journalGen := ledger.NewJournalGenerator(balanceTracker)

	// Initialize with capacity of 1M entries (configurable)
	idempotencyChecker := NewIdempotencyChecker(1_000_000, dbChecker)
	sequenceValidator := NewSequenceValidator()

	return &DeterministicCore{
		sequence:          startSequence,
		hasher:            NewStateHasher(),
		balanceTracker:    balanceTracker,
		journalGen:        journalGen,
		validator:         validator,
		loanManager:       state.NewLoanManager(),
		reserve:           state.NewReserveState(),
		idempotency:       idempotencyChecker,
		sequenceValidator: sequenceValidator,
		metrics:           metrics,
		persistChan:       persistChan,
		projectionChan:    projectionChan,
	}
}

// ProcessEvent is the main processing pipeline
func (c *DeterministicCore) ProcessEvent(evt event.Event) error {
	start := time.Now()
	eventType := evt.EventType().String()
	idempotencyKey := evt.IdempotencyKey()

	// Step 1: Idempotency check (two-tier)
	isDuplicate := c.idempotency.IsDuplicate(eventType, idempotencyKey)

	// Step 2: Sequence validation
	partition := c.getPartition(evt)
	sourceSequence := evt.SourceSequence()

	if err := c.sequenceValidator.ValidateSequence(partition, sourceSequence, idempotencyKey, isDuplicate); err != nil {
		return fmt.Errorf("sequence validation failed: %w", err)
	}

	// If duplicate, skip processing
	if isDuplicate {
		if c.metrics != nil {
			c.metrics.CoreEventsRejected.WithLabelValues(eventType, "duplicate").Inc()
		}
		return nil
	}

	// Step 3: Event dispatch. Handlers validate every precondition before
	// mutating anything — a returned error means no state changed.
	batch, loanDeltas, err := c.dispatchEvent(evt)
	if err != nil {
		// A rejected op leaves no state behind, including the partition
		// cursor: upstream re-submits under the same source sequence.
		c.sequenceValidator.SetExpectedSequence(partition, sourceSequence)
		if c.metrics != nil {
			c.metrics.CoreEventsRejected.WithLabelValues(eventType, "rejected").Inc()
		}
		return fmt.Errorf("dispatch failed: %w", err)
	}

	// Step 4: Validate and apply the batch. Param updates produce no
	// journals but still need an envelope in the event log.
	if len(batch.Journals) > 0 {
		if err := c.validator.ValidateBatchBalance(batch); err != nil {
			panic(fmt.Sprintf("FATAL: unbalanced batch: %v", err))
		}

		if err := c.balanceTracker.ApplyBatch(batch); err != nil {
			return fmt.Errorf("apply batch failed: %w", err)
		}
	}

	// Step 5: Compute state digest and extend the hash chain
	stateDigest := c.computeStateDigest(batch)
	prevHash := c.hasher.GetPrevHash()
	stateHash := c.hasher.ComputeHash(c.sequence, stateDigest)

	envelope := &event.EventEnvelope{
		Sequence:       c.sequence,
		IdempotencyKey: idempotencyKey,
		EventType:      evt.EventType(),
		Actor:          evt.Actor(),
		Timestamp:      c.getEventTimestamp(evt),
		SourceSequence: sourceSequence,
		Payload:        event.Encode(evt),
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}

	output := CoreOutput{
		Envelope:   envelope,
		Batch:      batch,
		StateDelta: stateDigest,
		Loans:      loanDeltas,
	}

	c.sequence++

	// Step 6: Post-checks
	if err := c.postCheckInvariants(evt); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated: %v", err))
	}

	// Step 7: Emit outputs. Suppressed during replay — replayed events are
	// already in the event log and projections rebuild from there.
	if !c.replaying {
		// Persistence: blocking send — the core stalls until the persistence
		// worker drains. This guarantees no event is lost.
		c.persistChan <- output

		// Projections: non-blocking send — drop on full. Projection workers
		// can rebuild from the event log if they fall behind.
		select {
		case c.projectionChan <- output:
		default:
			// Silently dropped — projection will catch up via rebuild
		}
	}

	// Step 8: Mark as processed (add to LRU)
	c.idempotency.MarkProcessed(eventType, idempotencyKey)

	// Record metrics
	if c.metrics != nil {
		c.metrics.CoreEventsApplied.WithLabelValues(eventType).Inc()
		c.metrics.CoreEventDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
		c.metrics.CoreSequence.Set(float64(c.sequence))
	}

	return nil
}

// getPartition maps an event to its upstream stream partition. Each NATS
// subject family carries an independent source sequence.
func (c *DeterministicCore) getPartition(evt event.Event) string {
	switch evt.(type) {
	case *event.TokenFunded:
		return "funding"
	case *event.ProtocolParamsUpdate:
		return "params"
	default:
		return "ops"
	}
}

// getEventTimestamp extracts the versioned timestamp from an event. The core
// MUST NOT call time.Now(): overdue checks and penalty assessment depend on
// the event timestamp being a replayable input.
func (c *DeterministicCore) getEventTimestamp(evt event.Event) time.Time {
	switch e := evt.(type) {
	case *event.TokenFunded:
		return e.Timestamp
	case *event.ReserveDeposited:
		return e.Timestamp
	case *event.BurnToRedeem:
		return e.Timestamp
	case *event.BorrowRequested:
		return e.Timestamp
	case *event.RepayRequested:
		return e.Timestamp
	case *event.ProtocolParamsUpdate:
		return e.Timestamp
	default:
		panic(fmt.Sprintf("FATAL: getEventTimestamp called with unhandled event type %T — deterministic core cannot use wall-clock time", evt))
	}
}

// computeStateDigest creates canonical bytes for state hash
func (c *DeterministicCore) computeStateDigest(batch *ledger.Batch) []byte {
	// Collect all affected accounts
	affectedAccounts := make(map[ledger.AccountKey]bool)

	if batch != nil {
		for _, j := range batch.Journals {
			affectedAccounts[j.DebitAccount] = true
			affectedAccounts[j.CreditAccount] = true
		}
	}

	// Sort accounts deterministically
	accounts := make([]ledger.AccountKey, 0, len(affectedAccounts))
	for key := range affectedAccounts {
		accounts = append(accounts, key)
	}

	// Sort by AccountPath (deterministic string ordering)
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].AccountPath() < accounts[j].AccountPath()
	})

	// Build digest
	digest := make([]byte, 0, len(accounts)*64+32)

	for _, key := range accounts {
		balance := c.balanceTracker.GetBalance(key)

		// Append account path
		path := key.AccountPath()
		digest = append(digest, byte(len(path)))
		digest = append(digest, []byte(path)...)

		// Append balance (8 bytes LE)
		digest = appendInt64LE(digest, balance)
	}

	// Append reserve state so loan mutations and param updates change the
	// hash even when the batch is empty
	digest = appendInt64LE(digest, int64(c.reserve.TotalLocked))
	digest = appendInt64LE(digest, int64(c.reserve.LoanCounter))
	digest = appendInt64LE(digest, int64(c.reserve.Params.LoanDurationSeconds))
	digest = appendInt64LE(digest, int64(c.reserve.Params.PenaltyRateBps))

	return digest
}

func appendInt64LE(buf []byte, v int64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}

// postCheckInvariants validates invariants after batch application
func (c *DeterministicCore) postCheckInvariants(evt event.Event) error {
	// Actor wallets must never go negative
	if actor := evt.Actor(); actor != uuid.Nil {
		for _, assetID := range []ledger.AssetID{ledger.AssetJitosol, ledger.AssetVault} {
			if err := c.validator.ValidateWalletNonNegative(actor, assetID); err != nil {
				return fmt.Errorf("post-check wallet: %w", err)
			}
		}
	}

	// The reserve pool never goes negative
	if err := c.validator.ValidateReserveNonNegative(); err != nil {
		return fmt.Errorf("post-check reserve: %w", err)
	}

	// Locked collateral never exceeds total supply
	if err := c.validator.ValidateLockedWithinSupply(c.reserve.TotalLocked); err != nil {
		return fmt.Errorf("post-check locked: %w", err)
	}

	// Periodic global zero-sum check across all accounts
	if c.sequence > 0 && c.sequence%1000 == 0 {
		if err := c.validator.ValidateGlobalBalance(); err != nil {
			return fmt.Errorf("post-check global (at seq %d): %w", c.sequence, err)
		}
	}

	return nil
}

func (c *DeterministicCore) handleTokenFunded(evt *event.TokenFunded) (*ledger.Batch, []LoanDelta, error) {
	if evt.Amount == 0 {
		return nil, nil, fmt.Errorf("%w: funding of 0 %s", ErrInvalidAmount, evt.Asset)
	}

	assetID, ok := ledger.GetAssetID(evt.Asset)
	if !ok {
		return nil, nil, fmt.Errorf("unknown asset: %s", evt.Asset)
	}

	batch, err := c.journalGen.GenerateTokenFunded(c.sequence, evt, assetID)
	if err != nil {
		return nil, nil, err
	}

	return batch, nil, nil
}

func (c *DeterministicCore) handleReserveDeposited(evt *event.ReserveDeposited) (*ledger.Batch, []LoanDelta, error) {
	if evt.Amount == 0 {
		return nil, nil, fmt.Errorf("%w: deposit of 0 JITOSOL", ErrInvalidAmount)
	}

	if err := c.balanceTracker.ValidateSufficientWallet(evt.UserID, ledger.AssetJitosol, evt.Amount); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInsufficientBalance, err)
	}

	batch, err := c.journalGen.GenerateReserveDeposit(c.sequence, evt)
	if err != nil {
		return nil, nil, err
	}

	return batch, nil, nil
}

// handleBurnToRedeem burns vault tokens for a proportional reserve payout.
// The payout uses the floor price computed from circulating supply, so a
// burn never moves the floor down.
func (c *DeterministicCore) handleBurnToRedeem(evt *event.BurnToRedeem) (*ledger.Batch, []LoanDelta, error) {
	if evt.BurnAmount == 0 {
		return nil, nil, fmt.Errorf("%w: burn of 0 VAULT", ErrInvalidAmount)
	}

	if err := c.balanceTracker.ValidateSufficientWallet(evt.UserID, ledger.AssetVault, evt.BurnAmount); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInsufficientBalance, err)
	}

	reserveBal := c.balanceTracker.ReserveBalance()
	circulating := c.reserve.CirculatingSupply(c.balanceTracker.MintSupply(ledger.AssetVault))

	payout, err := fpmath.ProportionalOutput(evt.BurnAmount, reserveBal, circulating)
	if err != nil {
		return nil, nil, fmt.Errorf("redeem payout: %w", err)
	}
	if payout == 0 {
		return nil, nil, fmt.Errorf("%w: burn of %d vault units", ErrZeroOutput, evt.BurnAmount)
	}

	batch, err := c.journalGen.GenerateBurnRedeem(c.sequence, evt, payout)
	if err != nil {
		return nil, nil, err
	}

	return batch, nil, nil
}

// handleBorrowRequested opens a loan: collateral moves to a fresh escrow
// and JitoSOL is disbursed at the current floor price. Locked collateral
// leaves circulating supply, so the floor is unchanged by the borrow itself.
func (c *DeterministicCore) handleBorrowRequested(evt *event.BorrowRequested) (*ledger.Batch, []LoanDelta, error) {
	if evt.VaultAmount == 0 {
		return nil, nil, fmt.Errorf("%w: borrow against 0 VAULT", ErrInvalidAmount)
	}

	if err := c.balanceTracker.ValidateSufficientWallet(evt.UserID, ledger.AssetVault, evt.VaultAmount); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInsufficientBalance, err)
	}

	reserveBal := c.balanceTracker.ReserveBalance()
	circulating := c.reserve.CirculatingSupply(c.balanceTracker.MintSupply(ledger.AssetVault))

	jitosolOut, err := fpmath.ProportionalOutput(evt.VaultAmount, reserveBal, circulating)
	if err != nil {
		return nil, nil, fmt.Errorf("borrow disbursement: %w", err)
	}
	if jitosolOut == 0 {
		return nil, nil, fmt.Errorf("%w: borrow against %d vault units", ErrZeroOutput, evt.VaultAmount)
	}

	escrowID := deriveEscrowID(evt.RequestID)

	batch, err := c.journalGen.GenerateBorrow(c.sequence, evt, escrowID, jitosolOut)
	if err != nil {
		return nil, nil, err
	}

	// All checks passed — mutate loan state. The loan counter only advances
	// on success so a rejected borrow leaves no trace.
	now := evt.Timestamp.Unix()
	loan := &state.Loan{
		Borrower:        evt.UserID,
		LoanID:          c.reserve.NextLoanID(),
		EscrowID:        escrowID,
		VaultLocked:     evt.VaultAmount,
		JitosolBorrowed: jitosolOut,
		StartTime:       now,
		DueTime:         now + int64(c.reserve.Params.LoanDurationSeconds),
	}

	if err := c.loanManager.Create(loan); err != nil {
		panic(fmt.Sprintf("FATAL: loan counter collision: %v", err))
	}
	c.reserve.TotalLocked += evt.VaultAmount

	delta := LoanDelta{
		Kind:            LoanDeltaOpened,
		Borrower:        loan.Borrower,
		LoanID:          loan.LoanID,
		EscrowID:        loan.EscrowID,
		VaultLocked:     loan.VaultLocked,
		JitosolBorrowed: loan.JitosolBorrowed,
		StartTime:       loan.StartTime,
		DueTime:         loan.DueTime,
	}

	return batch, []LoanDelta{delta}, nil
}

// handleRepayRequested closes a loan. Pending penalties are assessed lazily
// here: any periods the loan sat overdue burn collateral before the exact
// borrowed principal returns to the reserve and the remainder is released.
// The penalty burn, the principal, and the release commit as one batch.
func (c *DeterministicCore) handleRepayRequested(evt *event.RepayRequested) (*ledger.Batch, []LoanDelta, error) {
	loan := c.loanManager.Get(evt.UserID, evt.LoanID)
	if loan == nil {
		return nil, nil, fmt.Errorf("%w: borrower=%s loan_id=%d", ErrLoanNotFound, evt.UserID, evt.LoanID)
	}

	if evt.EscrowID != loan.EscrowID {
		return nil, nil, fmt.Errorf("%w: got %s, loan records %s", ErrEscrowMismatch, evt.EscrowID, loan.EscrowID)
	}

	// The escrow account must hold exactly what the loan record says
	if err := c.validator.ValidateEscrowMatchesLoan(loan.EscrowID, loan.VaultLocked); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrEscrowMismatch, err)
	}

	if err := c.balanceTracker.ValidateSufficientWallet(evt.UserID, ledger.AssetJitosol, loan.JitosolBorrowed); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInsufficientBalance, err)
	}

	assessment := state.AssessPenalties(loan, evt.Timestamp.Unix(), c.reserve.Params)

	batch, err := c.journalGen.GenerateRepay(c.sequence, evt, loan.EscrowID, assessment.Burned, loan.JitosolBorrowed, assessment.VaultLocked)
	if err != nil {
		return nil, nil, err
	}

	// All checks passed — close the loan. The full pre-assessment escrow
	// leaves TotalLocked: the burned slice retires, the rest releases.
	originalLocked := loan.VaultLocked

	deltas := make([]LoanDelta, 0, 2)
	if assessment.Periods > 0 {
		deltas = append(deltas, LoanDelta{
			Kind:            LoanDeltaPenalized,
			Borrower:        loan.Borrower,
			LoanID:          loan.LoanID,
			EscrowID:        loan.EscrowID,
			VaultLocked:     assessment.VaultLocked,
			JitosolBorrowed: loan.JitosolBorrowed,
			StartTime:       loan.StartTime,
			DueTime:         assessment.DueTime,
			PeriodsAssessed: assessment.Periods,
			PenaltyBurned:   assessment.Burned,
		})
	}
	deltas = append(deltas, LoanDelta{
		Kind:            LoanDeltaClosed,
		Borrower:        loan.Borrower,
		LoanID:          loan.LoanID,
		EscrowID:        loan.EscrowID,
		JitosolBorrowed: loan.JitosolBorrowed,
		StartTime:       loan.StartTime,
		DueTime:         assessment.DueTime,
		PenaltyBurned:   assessment.Burned,
	})

	c.loanManager.Remove(evt.UserID, evt.LoanID)
	c.reserve.TotalLocked -= originalLocked

	return batch, deltas, nil
}

// handleProtocolParamsUpdate swaps the admin parameters. Open loans keep
// their due times; the new duration and rate apply from the next penalty
// assessment onward. No journals — state-only event.
func (c *DeterministicCore) handleProtocolParamsUpdate(evt *event.ProtocolParamsUpdate) (*ledger.Batch, []LoanDelta, error) {
	params := state.ProtocolParams{
		LoanDurationSeconds: evt.LoanDurationSeconds,
		PenaltyRateBps:      evt.PenaltyRateBps,
	}

	if err := state.ValidateParams(params); err != nil {
		return nil, nil, fmt.Errorf("params update rejected: %w", err)
	}

	c.reserve.Params = params

	return &ledger.Batch{
		BatchID:   uuid.New(),
		EventRef:  evt.IdempotencyKey(),
		Sequence:  c.sequence,
		Timestamp: evt.Timestamp.Unix(),
		Journals:  []ledger.Journal{},
	}, nil, nil
}

func (c *DeterministicCore) dispatchEvent(evt event.Event) (*ledger.Batch, []LoanDelta, error) {
	switch e := evt.(type) {
	case *event.TokenFunded:
		return c.handleTokenFunded(e)
	case *event.ReserveDeposited:
		return c.handleReserveDeposited(e)
	case *event.BurnToRedeem:
		return c.handleBurnToRedeem(e)
	case *event.BorrowRequested:
		return c.handleBorrowRequested(e)
	case *event.RepayRequested:
		return c.handleRepayRequested(e)
	case *event.ProtocolParamsUpdate:
		return c.handleProtocolParamsUpdate(e)
	default:
		return nil, nil, fmt.Errorf("unknown event type: %T", evt)
	}
}

// --- Read Accessors ---

// FloorPrice returns the current floor as a reserve/circulating rate.
func (c *DeterministicCore) FloorPrice() fpmath.Rate {
	return c.reserve.FloorPrice(
		c.balanceTracker.ReserveBalance(),
		c.balanceTracker.MintSupply(ledger.AssetVault),
	)
}

// ReserveBalance returns the reserve pool balance in raw units.
func (c *DeterministicCore) ReserveBalance() uint64 {
	return c.balanceTracker.ReserveBalance()
}

// TotalLocked returns vault collateral held across all open loan escrows.
func (c *DeterministicCore) TotalLocked() uint64 {
	return c.reserve.TotalLocked
}

// Params returns the current protocol parameters.
func (c *DeterministicCore) Params() state.ProtocolParams {
	return c.reserve.Params
}

// WalletBalance returns a user's wallet balance in raw units.
func (c *DeterministicCore) WalletBalance(userID uuid.UUID, assetID ledger.AssetID) uint64 {
	return c.balanceTracker.WalletBalance(userID, assetID)
}

// BorrowerLoans returns a borrower's open loans ordered by loan ID.
func (c *DeterministicCore) BorrowerLoans(borrower uuid.UUID) []*state.Loan {
	return c.loanManager.BorrowerLoans(borrower)
}

// NextSourceSequence returns the next expected upstream sequence for a
// partition. The HTTP ops surface seeds its own counters from this after
// recovery so submitted events line up with the validator.
func (c *DeterministicCore) NextSourceSequence(partition string) int64 {
	return c.sequenceValidator.GetExpectedSequence(partition)
}

// GetSequence returns the current global sequence number.
func (c *DeterministicCore) GetSequence() int64 {
	return c.sequence
}

// GetStateHash returns the current state hash (chain tip).
func (c *DeterministicCore) GetStateHash() [32]byte {
	return c.hasher.GetPrevHash()
}

// --- Snapshot Restore & Startup Methods ---

// SnapshotState holds the serializable in-memory state for restore.
// This mirrors persistence.SnapshotData but uses typed fields.
type SnapshotState struct {
	Sequence        int64
	StateHash       [32]byte
	Balances        map[ledger.AccountKey]int64
	Supply          map[ledger.AssetID]uint64
	Loans           []*state.Loan
	TotalLocked     uint64
	Params          state.ProtocolParams
	LoanCounter     uint64
	SequenceState   map[string]int64
	IdempotencyKeys []string
}

// RestoreFromSnapshot restores the core's in-memory state from a snapshot.
// On warm restart, load the latest snapshot then replay events after it.
func (c *DeterministicCore) RestoreFromSnapshot(snap *SnapshotState) {
	// Restore sequence
	c.sequence = snap.Sequence + 1 // Next sequence to assign

	// Restore state hash chain
	c.hasher.SetPrevHash(snap.StateHash)

	// Restore balances and observed supply
	for key, balance := range snap.Balances {
		c.balanceTracker.RestoreBalance(key, balance)
	}
	for assetID, supply := range snap.Supply {
		c.balanceTracker.RestoreSupply(assetID, supply)
	}

	// Restore open loans
	for _, loan := range snap.Loans {
		c.loanManager.Restore(loan)
	}

	// Restore reserve state
	c.reserve.TotalLocked = snap.TotalLocked
	c.reserve.Params = snap.Params
	c.reserve.LoanCounter = snap.LoanCounter

	// Restore sequence validator state
	for partition, nextSeq := range snap.SequenceState {
		c.sequenceValidator.SetExpectedSequence(partition, nextSeq)
	}
}

// BeginReplay puts the core into log-replay mode: the Postgres idempotency
// tier is bypassed, since every replayed event is by definition already a
// row in the event log, and outputs are not re-emitted to the persistence
// and projection channels. Without the bypass, a restart with events past
// the last snapshot would skip every one of them and resume with stale
// in-memory state.
func (c *DeterministicCore) BeginReplay() {
	c.replaying = true
	c.idempotency.SetBypassDB(true)
}

// EndReplay returns the core to normal processing.
func (c *DeterministicCore) EndReplay() {
	c.replaying = false
	c.idempotency.SetBypassDB(false)
}

// WarmLRU loads recent idempotency keys into the LRU cache, avoiding
// cold-path DB lookups for recently processed events.
func (c *DeterministicCore) WarmLRU(keys []string) {
	c.idempotency.WarmFromKeys(keys)
}

// CreateSnapshotState captures the current in-memory state for persistence.
func (c *DeterministicCore) CreateSnapshotState() *SnapshotState {
	return &SnapshotState{
		Sequence:        c.sequence - 1, // Last processed sequence
		StateHash:       c.hasher.GetPrevHash(),
		Balances:        c.balanceTracker.Snapshot(),
		Supply:          c.balanceTracker.SupplySnapshot(),
		Loans:           c.loanManager.AllLoans(),
		TotalLocked:     c.reserve.TotalLocked,
		Params:          c.reserve.Params,
		LoanCounter:     c.reserve.LoanCounter,
		SequenceState:   c.sequenceValidator.GetAllPartitions(),
		IdempotencyKeys: c.idempotency.Keys(),
	}
}
