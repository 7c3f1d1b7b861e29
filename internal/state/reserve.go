package state

import (
	"fmt"

	fpmath "FloorVault/internal/math"
)

// ProtocolParams are the admin-set protocol parameters. The engine reads
// them on every loan operation but never changes them itself.
type ProtocolParams struct {
	LoanDurationSeconds uint64 // One loan term, also one penalty period
	PenaltyRateBps      uint32 // Collateral burned per overdue period, basis points
}

// DefaultParams matches the deployed protocol: 30-day terms, 0.10% penalty.
var DefaultParams = ProtocolParams{
	LoanDurationSeconds: 30 * 24 * 60 * 60,
	PenaltyRateBps:      10,
}

// ValidateParams checks that protocol parameters are within valid ranges.
func ValidateParams(p ProtocolParams) error {
	if p.LoanDurationSeconds == 0 {
		return fmt.Errorf("loan_duration_seconds must be > 0")
	}
	if p.PenaltyRateBps > fpmath.BasisPointsDenom {
		return fmt.Errorf("penalty_rate_bps must be <= %d, got %d", fpmath.BasisPointsDenom, p.PenaltyRateBps)
	}
	return nil
}

// ReserveState is the singleton protocol record threaded through every
// engine operation. The reserve balance and the vault token supply are
// observed from the token ledger rather than stored here; only the state
// the protocol itself owns lives in this struct.
type ReserveState struct {
	// TotalLocked is the vault collateral currently held across all open
	// loan escrows, in raw units.
	TotalLocked uint64

	// Params are the admin-set protocol parameters.
	Params ProtocolParams

	// LoanCounter mints loan identifiers. Strictly increasing; an ID is
	// never reused even after its loan closes.
	LoanCounter uint64
}

func NewReserveState() *ReserveState {
	return &ReserveState{
		Params: DefaultParams,
	}
}

// NextLoanID allocates the next loan identifier.
func (s *ReserveState) NextLoanID() uint64 {
	id := s.LoanCounter
	s.LoanCounter++
	return id
}

// CirculatingSupply derives the supply backing the floor price: total vault
// supply minus locked collateral. The locked ≤ supply invariant keeps this
// from underflowing; a violation would already have halted the engine.
func (s *ReserveState) CirculatingSupply(totalSupply uint64) uint64 {
	if s.TotalLocked > totalSupply {
		return 0
	}
	return totalSupply - s.TotalLocked
}

// FloorPrice computes the current floor from observed ledger inputs.
func (s *ReserveState) FloorPrice(reserveBalance, totalSupply uint64) fpmath.Rate {
	return fpmath.FloorPrice(reserveBalance, s.CirculatingSupply(totalSupply))
}
