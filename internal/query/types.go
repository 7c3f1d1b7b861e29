package query

import "github.com/google/uuid"

// FloorResponse is the current floor price as an exact ratio of raw units.
// FloorPriceDisplay is a decimal convenience for UIs; the protocol itself
// never computes on it.
type FloorResponse struct {
	ReserveBalance    int64   `json:"reserve_balance"`
	CirculatingSupply int64   `json:"circulating_supply"`
	FloorPriceDisplay float64 `json:"floor_price_display"`
	AsOfSequence      int64   `json:"as_of_sequence"`
}

// ReserveSummary aggregates the protocol-level view.
type ReserveSummary struct {
	ReserveBalance    int64 `json:"reserve_balance"`
	CirculatingSupply int64 `json:"circulating_supply"`
	TotalLocked       int64 `json:"total_locked"`
	OpenLoans         int64 `json:"open_loans"`
	AsOfSequence      int64 `json:"as_of_sequence"`
}

// LoanResponse represents a loan for API queries.
type LoanResponse struct {
	Borrower        uuid.UUID `json:"borrower"`
	LoanID          int64     `json:"loan_id"`
	EscrowID        string    `json:"escrow_id"`
	VaultLocked     int64     `json:"vault_locked"`
	JitosolBorrowed int64     `json:"jitosol_borrowed"`
	StartTime       int64     `json:"start_time"`
	DueTime         int64     `json:"due_time"`
	PeriodsAssessed int64     `json:"periods_assessed"`
	PenaltyBurned   int64     `json:"penalty_burned"`
	Status          string    `json:"status"`
	AsOfSequence    int64     `json:"as_of_sequence"`
}

// FloorHistoryEntry is one floor price observation.
type FloorHistoryEntry struct {
	Sequence          int64 `json:"sequence"`
	ReserveBalance    int64 `json:"reserve_balance"`
	CirculatingSupply int64 `json:"circulating_supply"`
	Timestamp         int64 `json:"timestamp"`
}

// JournalHistoryEntry represents a journal entry for API queries.
type JournalHistoryEntry struct {
	JournalID     string `json:"journal_id"`
	BatchID       string `json:"batch_id"`
	EventRef      string `json:"event_ref"`
	Sequence      int64  `json:"sequence"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	AssetID       uint16 `json:"asset_id"`
	Amount        int64  `json:"amount"`
	JournalType   int32  `json:"journal_type"`
	Timestamp     int64  `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy        bool              `json:"is_healthy"`
	HashChainBreaks  []int64           `json:"hash_chain_breaks,omitempty"`
	UnbalancedAssets []UnbalancedAsset `json:"unbalanced_assets,omitempty"`
}

// UnbalancedAsset represents an asset with non-zero global balance sum.
type UnbalancedAsset struct {
	AssetID   uint16 `json:"asset_id"`
	Imbalance int64  `json:"imbalance"`
}
