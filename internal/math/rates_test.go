package math_test

import (
	stdmath "math"
	"math/big"
	"testing"

	fpmath "FloorVault/internal/math"
)

// ============================================================================
// Test: ProportionalOutput
// ============================================================================

func TestProportionalOutput_BasicScenario(t *testing.T) {
	// reserve=1000, supply=10000, locked=0 -> floor 0.1; burn 500 -> 50
	out, err := fpmath.ProportionalOutput(500, 1000, 10000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != 50 {
		t.Errorf("got %d, want 50", out)
	}
}

func TestProportionalOutput_PostBorrowScenario(t *testing.T) {
	// After borrowing 500 against the state above: R=950, S=9500.
	// Burn 100 -> floor(100*950/9500) = 10.
	out, err := fpmath.ProportionalOutput(100, 950, 9500)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != 10 {
		t.Errorf("got %d, want 10", out)
	}
}

func TestProportionalOutput_RoundsTowardZero(t *testing.T) {
	// 7 * 100 / 3 = 233.33 -> 233
	out, err := fpmath.ProportionalOutput(7, 100, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != 233 {
		t.Errorf("got %d, want 233", out)
	}
}

func TestProportionalOutput_ExactWhenDivisible(t *testing.T) {
	out, err := fpmath.ProportionalOutput(250, 1000, 10000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != 25 {
		t.Errorf("got %d, want 25", out)
	}
}

func TestProportionalOutput_ZeroSupply(t *testing.T) {
	out, err := fpmath.ProportionalOutput(100, 1000, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != 0 {
		t.Errorf("zero circulating supply should pay 0, got %d", out)
	}
}

func TestProportionalOutput_ZeroReserve(t *testing.T) {
	out, err := fpmath.ProportionalOutput(100, 0, 10000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != 0 {
		t.Errorf("zero reserve should pay 0, got %d", out)
	}
}

func TestProportionalOutput_NeverExceedsProportionalShare(t *testing.T) {
	// Property: output <= amount*R/S for a sweep of awkward values.
	cases := []struct{ amount, reserve, supply uint64 }{
		{1, 1, 3},
		{999, 1000, 10007},
		{123456789, 987654321, 1000000007},
		{1 << 40, 1 << 41, (1 << 42) - 1},
	}
	for _, tc := range cases {
		out, err := fpmath.ProportionalOutput(tc.amount, tc.reserve, tc.supply)
		if err != nil {
			t.Fatalf("ProportionalOutput(%d,%d,%d): %v", tc.amount, tc.reserve, tc.supply, err)
		}
		// out * supply <= amount * reserve must hold exactly
		lhs := new(big.Int).Mul(new(big.Int).SetUint64(out), new(big.Int).SetUint64(tc.supply))
		rhs := new(big.Int).Mul(new(big.Int).SetUint64(tc.amount), new(big.Int).SetUint64(tc.reserve))
		if lhs.Cmp(rhs) > 0 {
			t.Errorf("ProportionalOutput(%d,%d,%d)=%d rounds up", tc.amount, tc.reserve, tc.supply, out)
		}
	}
}

func TestProportionalOutput_OverflowDetected(t *testing.T) {
	// amount * reserve >> supply: quotient exceeds uint64
	_, err := fpmath.ProportionalOutput(stdmath.MaxUint64, stdmath.MaxUint64, 2)
	if err != fpmath.ErrOverflow {
		t.Errorf("expected ErrOverflow, got %v", err)
	}
}

func TestProportionalOutput_WideIntermediateNoFalseOverflow(t *testing.T) {
	// amount * reserve overflows uint64 but the quotient fits
	out, err := fpmath.ProportionalOutput(stdmath.MaxUint64, 1000, 10000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := uint64(stdmath.MaxUint64 / 10)
	if out != want {
		t.Errorf("got %d, want %d", out, want)
	}
}

// ============================================================================
// Test: FloorPrice
// ============================================================================

func TestFloorPrice_Undefined(t *testing.T) {
	r := fpmath.FloorPrice(1000, 0)
	if !r.IsZero() {
		t.Error("floor price with zero circulating supply should be zero")
	}
	if r.Display() != 0 {
		t.Errorf("undefined rate should display 0, got %f", r.Display())
	}
}

func TestFloorPrice_MatchesProportionalOutput(t *testing.T) {
	// The single source of truth: applying the rate must equal
	// ProportionalOutput for the same inputs.
	r := fpmath.FloorPrice(950, 9500)
	viaRate, err := r.Apply(100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	viaFn, err := fpmath.ProportionalOutput(100, 950, 9500)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if viaRate != viaFn {
		t.Errorf("rate apply %d != proportional output %d", viaRate, viaFn)
	}
}

// ============================================================================
// Test: PenaltyAmount
// ============================================================================

func TestPenaltyAmount(t *testing.T) {
	cases := []struct {
		locked uint64
		bps    uint32
		want   uint64
	}{
		{10_000, 10, 10},       // 0.10% of 10000
		{1_000_000, 10, 1000},  // 0.10% of 1e6
		{999, 10, 0},           // rounds down to zero
		{10_000, 0, 0},         // zero rate
		{0, 10, 0},             // nothing locked
		{10_000, 10_000, 10_000}, // 100%
		{12_345, 250, 308},     // 2.5% of 12345 = 308.625
	}
	for _, tc := range cases {
		got := fpmath.PenaltyAmount(tc.locked, tc.bps)
		if got != tc.want {
			t.Errorf("PenaltyAmount(%d, %d) = %d, want %d", tc.locked, tc.bps, got, tc.want)
		}
	}
}

// ============================================================================
// Test: checked arithmetic
// ============================================================================

func TestCheckedAdd(t *testing.T) {
	if _, err := fpmath.CheckedAdd(stdmath.MaxUint64, 1); err != fpmath.ErrOverflow {
		t.Errorf("expected ErrOverflow, got %v", err)
	}
	sum, err := fpmath.CheckedAdd(1, 2)
	if err != nil || sum != 3 {
		t.Errorf("CheckedAdd(1,2) = %d, %v", sum, err)
	}
}

func TestCheckedSub(t *testing.T) {
	if _, err := fpmath.CheckedSub(1, 2); err != fpmath.ErrOverflow {
		t.Errorf("expected ErrOverflow, got %v", err)
	}
	diff, err := fpmath.CheckedSub(5, 2)
	if err != nil || diff != 3 {
		t.Errorf("CheckedSub(5,2) = %d, %v", diff, err)
	}
}
