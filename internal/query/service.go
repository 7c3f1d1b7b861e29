package query

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	fpmath "FloorVault/internal/math"
)

// QueryService provides read-only access to projection tables. All
// responses include as_of_sequence for freshness semantics: the projection
// lags the core by whatever sits in the projection channel.
type QueryService struct {
	db *sql.DB
}

func NewQueryService(db *sql.DB) *QueryService {
	return &QueryService{db: db}
}

// GetFloor returns the current floor price ratio. The floor is reserve /
// circulating supply; a zero circulating supply means a zero floor.
func (qs *QueryService) GetFloor(ctx context.Context) (*FloorResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	reserve, circulating, err := qs.floorComponents(ctx)
	if err != nil {
		return nil, err
	}

	return &FloorResponse{
		ReserveBalance:    reserve,
		CirculatingSupply: circulating,
		FloorPriceDisplay: floorDisplay(reserve, circulating),
		AsOfSequence:      asOfSeq,
	}, nil
}

// floorDisplay converts the raw-unit ratio to a decimal JitoSOL-per-VAULT
// price for display. Raw units carry different precisions (reserve 9,
// vault 6), so both sides are scaled before dividing.
func floorDisplay(reserve, circulating int64) float64 {
	if circulating <= 0 || reserve < 0 {
		return 0
	}
	return fpmath.ToDisplay(uint64(reserve), fpmath.ReserveConfig) /
		fpmath.ToDisplay(uint64(circulating), fpmath.VaultConfig)
}

// GetReserveSummary returns the protocol-level aggregates.
func (qs *QueryService) GetReserveSummary(ctx context.Context) (*ReserveSummary, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	reserve, circulating, err := qs.floorComponents(ctx)
	if err != nil {
		return nil, err
	}

	var totalLocked sql.NullInt64
	if err := qs.db.QueryRowContext(ctx, `
		SELECT SUM(balance) FROM projections.balances
		WHERE account_path LIKE 'escrow:%' AND asset_id = 2
	`).Scan(&totalLocked); err != nil {
		return nil, err
	}

	var openLoans int64
	if err := qs.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM projections.loans WHERE status = 'open'
	`).Scan(&openLoans); err != nil {
		return nil, err
	}

	return &ReserveSummary{
		ReserveBalance:    reserve,
		CirculatingSupply: circulating,
		TotalLocked:       totalLocked.Int64,
		OpenLoans:         openLoans,
		AsOfSequence:      asOfSeq,
	}, nil
}

// GetBalance returns a user's wallet balance for a specific asset.
func (qs *QueryService) GetBalance(
	ctx context.Context,
	userID uuid.UUID,
	asset string,
) (*BalanceResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	walletPath := fmt.Sprintf("user:%s:wallet:%s", userID, asset)
	wallet, err := qs.getProjectedBalance(ctx, walletPath)
	if err != nil {
		return nil, err
	}

	// Collateral escrowed against this user's open loans
	var escrowed sql.NullInt64
	if asset == "VAULT" {
		if err := qs.db.QueryRowContext(ctx, `
			SELECT SUM(vault_locked) FROM projections.loans
			WHERE borrower = $1 AND status = 'open'
		`, userID).Scan(&escrowed); err != nil {
			return nil, err
		}
	}

	return &BalanceResponse{
		UserID:             userID,
		Asset:              asset,
		WalletBalance:      wallet,
		EscrowedCollateral: escrowed.Int64,
		AsOfSequence:       asOfSeq,
	}, nil
}

// GetLoans returns a borrower's loans, open first, then closed, newest
// first within each group.
func (qs *QueryService) GetLoans(
	ctx context.Context,
	borrower uuid.UUID,
	includeClosed bool,
) ([]LoanResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT loan_id, escrow_id, vault_locked, jitosol_borrowed,
		       start_time, due_time, periods_assessed, penalty_burned, status
		FROM projections.loans
		WHERE borrower = $1
	`
	if !includeClosed {
		query += " AND status = 'open'"
	}
	query += " ORDER BY (status != 'open'), loan_id DESC"

	rows, err := qs.db.QueryContext(ctx, query, borrower)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var loans []LoanResponse
	for rows.Next() {
		var l LoanResponse
		l.Borrower = borrower
		l.AsOfSequence = asOfSeq
		if err := rows.Scan(
			&l.LoanID, &l.EscrowID, &l.VaultLocked, &l.JitosolBorrowed,
			&l.StartTime, &l.DueTime, &l.PeriodsAssessed, &l.PenaltyBurned, &l.Status,
		); err != nil {
			return nil, err
		}
		loans = append(loans, l)
	}

	return loans, rows.Err()
}

// GetFloorHistory returns floor price observations, newest first, with
// cursor-based pagination on sequence.
func (qs *QueryService) GetFloorHistory(
	ctx context.Context,
	limit int,
	beforeSequence *int64,
) ([]FloorHistoryEntry, error) {
	query := `
		SELECT sequence, reserve_balance, circulating_supply, timestamp
		FROM projections.floor_history
	`
	args := []interface{}{}
	argIdx := 1

	if beforeSequence != nil {
		query += fmt.Sprintf(" WHERE sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []FloorHistoryEntry
	for rows.Next() {
		var h FloorHistoryEntry
		if err := rows.Scan(&h.Sequence, &h.ReserveBalance, &h.CirculatingSupply, &h.Timestamp); err != nil {
			return nil, err
		}
		history = append(history, h)
	}

	return history, rows.Err()
}

// GetJournalHistory returns journal entries touching a user's accounts,
// newest first, with cursor-based pagination on sequence.
func (qs *QueryService) GetJournalHistory(
	ctx context.Context,
	userID uuid.UUID,
	limit int,
	afterSequence *int64,
) ([]JournalHistoryEntry, error) {
	accountPrefix := fmt.Sprintf("user:%s:%%", userID)

	query := `
		SELECT journal_id, batch_id, event_ref, sequence,
		       debit_account, credit_account, asset_id, amount, journal_type, timestamp
		FROM event_log.journal
		WHERE (debit_account LIKE $1 OR credit_account LIKE $1)
	`
	args := []interface{}{accountPrefix}
	argIdx := 2

	if afterSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *afterSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []JournalHistoryEntry
	for rows.Next() {
		var e JournalHistoryEntry
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.EventRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &e.AssetID, &e.Amount,
			&e.JournalType, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity checks hash chain continuity and the global zero-sum
// balance invariant against the event log and projections.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT e1.sequence, e1.prev_hash, e2.state_hash
		FROM event_log.events e1
		LEFT JOIN event_log.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.sequence > 0 AND e1.prev_hash != COALESCE(e2.state_hash, e1.prev_hash)
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		var prevHash, expectedHash []byte
		if err := rows.Scan(&seq, &prevHash, &expectedHash); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Balances sum to zero across all accounts per asset: every unit in a
	// wallet, the reserve, or an escrow is offset by an external account.
	balanceRows, err := qs.db.QueryContext(ctx, `
		SELECT asset_id, SUM(balance) as total
		FROM projections.balances
		GROUP BY asset_id
		HAVING SUM(balance) != 0
	`)
	if err != nil {
		return nil, err
	}
	defer balanceRows.Close()

	for balanceRows.Next() {
		var assetID uint16
		var total int64
		if err := balanceRows.Scan(&assetID, &total); err != nil {
			return nil, err
		}
		report.UnbalancedAssets = append(report.UnbalancedAssets, UnbalancedAsset{
			AssetID:   assetID,
			Imbalance: total,
		})
	}
	if err := balanceRows.Err(); err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && len(report.UnbalancedAssets) == 0
	return report, nil
}

// --- helpers ---

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT COALESCE(last_sequence, 0) FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return seq, err
}

func (qs *QueryService) getProjectedBalance(ctx context.Context, accountPath string) (int64, error) {
	var balance int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT COALESCE(balance, 0) FROM projections.balances
		WHERE account_path = $1
	`, accountPath).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return balance, err
}

// floorComponents reads the reserve balance and circulating supply from the
// balances projection. Circulating = observed mint supply - escrowed, where
// supply is reconstructed from the external boundary accounts.
func (qs *QueryService) floorComponents(ctx context.Context) (reserve, circulating int64, err error) {
	var r sql.NullInt64
	if err = qs.db.QueryRowContext(ctx, `
		SELECT balance FROM projections.balances
		WHERE account_path = 'protocol:reserve:JITOSOL'
	`).Scan(&r); err != nil && err != sql.ErrNoRows {
		return 0, 0, err
	}

	var supply, escrowed sql.NullInt64
	if err = qs.db.QueryRowContext(ctx, `
		SELECT -SUM(balance) FROM projections.balances
		WHERE account_path LIKE 'external:%' AND asset_id = 2
	`).Scan(&supply); err != nil && err != sql.ErrNoRows {
		return 0, 0, err
	}

	if err = qs.db.QueryRowContext(ctx, `
		SELECT SUM(balance) FROM projections.balances
		WHERE account_path LIKE 'escrow:%' AND asset_id = 2
	`).Scan(&escrowed); err != nil && err != sql.ErrNoRows {
		return 0, 0, err
	}

	return r.Int64, supply.Int64 - escrowed.Int64, nil
}
