package math

// Rate is an exact rational exchange rate between the reserve asset and the
// vault token. A zero-denominator Rate means "undefined" and values to zero:
// with no circulating supply there is nothing to price.
//
// Every payout path applies a Rate with the same floor-rounding policy
// (Apply == MulDivFloor), so quoted and executed amounts can never drift.
type Rate struct {
	Num uint64 // reserve balance
	Den uint64 // circulating supply
}

// IsZero reports whether the rate is undefined or zero-valued.
func (r Rate) IsZero() bool {
	return r.Den == 0 || r.Num == 0
}

// Apply returns floor(amount * r), the reserve-asset value of amount vault
// units at this rate. Returns 0 for an undefined rate.
func (r Rate) Apply(amount uint64) (uint64, error) {
	if r.IsZero() {
		return 0, nil
	}
	return MulDivFloor(amount, r.Num, r.Den)
}

// Display returns the rate as a float for presentation. Never used for
// accounting.
func (r Rate) Display() float64 {
	if r.Den == 0 {
		return 0
	}
	return float64(r.Num) / float64(r.Den)
}

// FloorPrice returns reserveBalance / circulatingSupply as an exact rational.
// Undefined (zero) when circulatingSupply == 0.
func FloorPrice(reserveBalance, circulatingSupply uint64) Rate {
	if circulatingSupply == 0 {
		return Rate{}
	}
	return Rate{Num: reserveBalance, Den: circulatingSupply}
}

// ProportionalOutput computes floor(amount * reserveBalance / circulatingSupply):
// the reserve payout for burning or collateralizing `amount` vault units at the
// current floor price. Rounds toward zero so the payout never exceeds the
// proportional share. Returns 0 when the reserve or circulating supply is zero.
func ProportionalOutput(amount, reserveBalance, circulatingSupply uint64) (uint64, error) {
	return FloorPrice(reserveBalance, circulatingSupply).Apply(amount)
}

// PenaltyAmount computes floor(vaultLocked * penaltyRateBps / 10000): the
// collateral burned for one elapsed penalty period. Rounds down so the charge
// never exceeds the stated rate.
func PenaltyAmount(vaultLocked uint64, penaltyRateBps uint32) uint64 {
	// rate <= 10000 keeps the result <= vaultLocked, so overflow is impossible
	out, _ := MulDivFloor(vaultLocked, uint64(penaltyRateBps), BasisPointsDenom)
	return out
}
