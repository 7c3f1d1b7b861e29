package math

import (
	"errors"
	stdmath "math"
	"math/big"
	"sync"
)

// DecimalConfig defines fixed-point precision for raw token units
type DecimalConfig struct {
	DecimalPrecision int    // Number of decimal places
	Scale            uint64 // 10^DecimalPrecision
}

var (
	// Standard configs
	ReserveConfig = DecimalConfig{DecimalPrecision: 9, Scale: 1_000_000_000} // JitoSOL raw units
	VaultConfig   = DecimalConfig{DecimalPrecision: 6, Scale: 1_000_000}     // VAULT raw units
)

// BasisPointsDenom is the denominator for basis-point rates (100% = 10_000).
const BasisPointsDenom = 10_000

// ErrOverflow is returned when an arithmetic result exceeds the uint64 range.
// Financial amounts must never wrap or saturate; callers reject the operation.
var ErrOverflow = errors.New("arithmetic overflow")

// Int128 is a pooled big.Int for intermediate calculations
var int128Pool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt128() *big.Int {
	return int128Pool.Get().(*big.Int)
}

func putInt128(v *big.Int) {
	v.SetInt64(0) // Clear before returning to pool
	int128Pool.Put(v)
}

// MulDivFloor computes floor(a * b / d) using a 128-bit intermediate.
// Rounds toward zero. Returns ErrOverflow if the quotient exceeds uint64.
// Callers handle degenerate zero denominators before reaching here.
func MulDivFloor(a, b, d uint64) (uint64, error) {
	if d == 0 {
		return 0, errors.New("division by zero")
	}

	num := getInt128()
	den := getInt128()
	defer putInt128(num)
	defer putInt128(den)

	num.SetUint64(a)
	den.SetUint64(b)
	num.Mul(num, den)
	den.SetUint64(d)
	num.Quo(num, den)

	if !num.IsUint64() {
		return 0, ErrOverflow
	}
	return num.Uint64(), nil
}

// CheckedAdd returns a + b, rejecting wraparound.
func CheckedAdd(a, b uint64) (uint64, error) {
	if a > stdmath.MaxUint64-b {
		return 0, ErrOverflow
	}
	return a + b, nil
}

// CheckedSub returns a - b, rejecting underflow.
func CheckedSub(a, b uint64) (uint64, error) {
	if b > a {
		return 0, ErrOverflow
	}
	return a - b, nil
}

// ToDisplay converts raw units to a display value. Query-layer only: the
// engine never works in floating point.
func ToDisplay(amount uint64, cfg DecimalConfig) float64 {
	return float64(amount) / float64(cfg.Scale)
}
