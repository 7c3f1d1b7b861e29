package projection

import (
	"FloorVault/internal/observability"
	"context"
	"database/sql"
	"fmt"
	"time"
)

var log = observability.NewLogger("projection")

// ProjectionOutput mirrors the data needed by projection workers.
// The orchestrator bridges between core.CoreOutput and this.
type ProjectionOutput struct {
	Sequence       int64
	EventType      string
	Actor          *string
	JournalEntries []JournalEntry
	LoanEvents     []LoanEvent
	Timestamp      int64
}

// JournalEntry is a simplified journal for projection consumption.
type JournalEntry struct {
	DebitAccount  string
	CreditAccount string
	AssetID       uint16
	Amount        int64
	JournalType   int32
}

// LoanEvent carries a loan lifecycle change. Loan records cannot be
// reconstructed from journal rows alone, so the core emits these alongside
// the batch.
type LoanEvent struct {
	Kind            int32 // mirrors core.LoanDeltaKind
	Borrower        string
	LoanID          int64
	EscrowID        string
	VaultLocked     int64
	JitosolBorrowed int64
	StartTime       int64
	DueTime         int64
	PeriodsAssessed int64
	PenaltyBurned   int64
}

// LoanEvent kinds, numerically aligned with core.LoanDeltaKind.
const (
	LoanEventOpened    int32 = 1
	LoanEventPenalized int32 = 2
	LoanEventClosed    int32 = 3
)

// ProjectionWorker updates projection tables from processed events.
// The projection channel is non-blocking with drop: if projections fall
// behind, they can be rebuilt from the event log.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan ProjectionOutput
	metrics   *observability.Metrics
	lastSeq   int64
}

func NewProjectionWorker(db *sql.DB, inputChan <-chan ProjectionOutput, metrics *observability.Metrics) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		metrics:   metrics,
	}
}

// Run starts the projection worker loop.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}

			start := time.Now()
			if err := pw.processOutput(ctx, output); err != nil {
				log.Warn().Err(err).Int64("sequence", output.Sequence).Msg("projection update failed")
				// Continue — projections are eventually consistent
				// and can be rebuilt from the event log
			}
			if pw.metrics != nil {
				pw.metrics.ProjectionUpdateDur.WithLabelValues("main").Observe(time.Since(start).Seconds())
			}

			pw.lastSeq = output.Sequence
		}
	}
}

func (pw *ProjectionWorker) processOutput(ctx context.Context, output ProjectionOutput) error {
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, j := range output.JournalEntries {
		if err := pw.updateBalanceProjection(ctx, tx, j, output.Sequence); err != nil {
			return fmt.Errorf("balance projection: %w", err)
		}
	}

	for _, le := range output.LoanEvents {
		if err := pw.updateLoanProjection(ctx, tx, le, output.Sequence); err != nil {
			return fmt.Errorf("loan projection: %w", err)
		}
	}

	// Every op that moves balances can move the floor
	if len(output.JournalEntries) > 0 {
		if err := pw.recordFloorPoint(ctx, tx, output.Sequence, output.Timestamp); err != nil {
			return fmt.Errorf("floor history: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ('main', $1, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $1, updated_at = NOW()
	`, output.Sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}

// updateBalanceProjection applies one journal entry to the balances table.
// Sign convention matches the in-memory tracker: debit increases the
// account, credit decreases it.
func (pw *ProjectionWorker) updateBalanceProjection(ctx context.Context, tx *sql.Tx, j JournalEntry, seq int64) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (account_path, asset_id)
		DO UPDATE SET balance = projections.balances.balance + $3, last_sequence = $4
	`, j.DebitAccount, j.AssetID, j.Amount, seq); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
		VALUES ($1, $2, -$3, $4)
		ON CONFLICT (account_path, asset_id)
		DO UPDATE SET balance = projections.balances.balance - $3, last_sequence = $4
	`, j.CreditAccount, j.AssetID, j.Amount, seq); err != nil {
		return err
	}

	return nil
}

func (pw *ProjectionWorker) updateLoanProjection(ctx context.Context, tx *sql.Tx, le LoanEvent, seq int64) error {
	switch le.Kind {
	case LoanEventOpened:
		_, err := tx.ExecContext(ctx, `
			INSERT INTO projections.loans
				(borrower, loan_id, escrow_id, vault_locked, jitosol_borrowed,
				 start_time, due_time, periods_assessed, penalty_burned, status, last_sequence)
			VALUES ($1, $2, $3, $4, $5, $6, $7, 0, 0, 'open', $8)
			ON CONFLICT (borrower, loan_id) DO NOTHING
		`, le.Borrower, le.LoanID, le.EscrowID, le.VaultLocked, le.JitosolBorrowed,
			le.StartTime, le.DueTime, seq)
		return err

	case LoanEventPenalized:
		_, err := tx.ExecContext(ctx, `
			UPDATE projections.loans
			SET vault_locked = $3,
			    due_time = $4,
			    periods_assessed = periods_assessed + $5,
			    penalty_burned = penalty_burned + $6,
			    last_sequence = $7
			WHERE borrower = $1 AND loan_id = $2
		`, le.Borrower, le.LoanID, le.VaultLocked, le.DueTime,
			le.PeriodsAssessed, le.PenaltyBurned, seq)
		return err

	case LoanEventClosed:
		_, err := tx.ExecContext(ctx, `
			UPDATE projections.loans
			SET vault_locked = 0, status = 'closed', last_sequence = $3
			WHERE borrower = $1 AND loan_id = $2
		`, le.Borrower, le.LoanID, seq)
		return err
	}

	return fmt.Errorf("unknown loan event kind: %d", le.Kind)
}

// recordFloorPoint appends a floor price observation derived from the
// balances projection. Reserve is the pool balance; circulating supply is
// the observed mint supply minus escrowed collateral, both reconstructed
// from the external boundary and escrow accounts.
func (pw *ProjectionWorker) recordFloorPoint(ctx context.Context, tx *sql.Tx, seq, ts int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.floor_history (sequence, reserve_balance, circulating_supply, timestamp)
		SELECT
			$1,
			COALESCE((SELECT balance FROM projections.balances
			          WHERE account_path = 'protocol:reserve:JITOSOL'), 0),
			COALESCE(-(SELECT SUM(balance) FROM projections.balances
			           WHERE account_path LIKE 'external:%' AND asset_id = 2), 0)
			- COALESCE((SELECT SUM(balance) FROM projections.balances
			            WHERE account_path LIKE 'escrow:%' AND asset_id = 2), 0),
			$2
		ON CONFLICT (sequence) DO NOTHING
	`, seq, ts)
	return err
}

// RebuildProjections rebuilds the balance projection from the event log.
// Loans and floor history refill as the core re-emits outputs during replay.
func RebuildProjections(ctx context.Context, db *sql.DB) error {
	truncateStatements := []string{
		`TRUNCATE projections.balances`,
		`TRUNCATE projections.loans`,
		`TRUNCATE projections.floor_history`,
		`DELETE FROM projections.watermark WHERE worker_id = 'main'`,
	}

	for _, stmt := range truncateStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	// Debits increase an account
	_, err := db.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
		SELECT
			debit_account AS account_path,
			asset_id,
			SUM(amount) AS balance,
			MAX(sequence) AS last_sequence
		FROM event_log.journal
		GROUP BY debit_account, asset_id
		ON CONFLICT (account_path, asset_id) DO UPDATE
			SET balance = EXCLUDED.balance, last_sequence = EXCLUDED.last_sequence
	`)
	if err != nil {
		return fmt.Errorf("rebuild debit balances: %w", err)
	}

	// Credits decrease an account
	_, err = db.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
		SELECT
			credit_account AS account_path,
			asset_id,
			-SUM(amount) AS balance,
			MAX(sequence) AS last_sequence
		FROM event_log.journal
		GROUP BY credit_account, asset_id
		ON CONFLICT (account_path, asset_id) DO UPDATE
			SET balance = projections.balances.balance + EXCLUDED.balance,
			    last_sequence = GREATEST(projections.balances.last_sequence, EXCLUDED.last_sequence)
	`)
	if err != nil {
		return fmt.Errorf("rebuild credit balances: %w", err)
	}

	log.Info().Msg("projection rebuild complete")
	return nil
}
