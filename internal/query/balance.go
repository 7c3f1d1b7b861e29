package query

import (
	"github.com/google/uuid"
)

// BalanceResponse represents a user's wallet state for API queries.
type BalanceResponse struct {
	UserID uuid.UUID `json:"user_id"`
	Asset  string    `json:"asset"`

	// Wallet balance from journal entries
	WalletBalance int64 `json:"wallet_balance"`

	// Collateral currently escrowed against this user's open loans.
	// Only meaningful for the vault token; zero for the reserve asset.
	EscrowedCollateral int64 `json:"escrowed_collateral"`

	// Metadata
	AsOfSequence int64 `json:"as_of_sequence"` // last applied event sequence
}
