package core

import "errors"

// Operation errors returned by the deterministic core. Callers match with
// errors.Is; the HTTP layer maps them to response codes.
var (
	// ErrInsufficientBalance means the actor's wallet cannot cover the
	// requested amount.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrZeroOutput means the proportional output rounded to zero (or the
	// reserve/supply is empty), so the operation would burn or lock tokens
	// for nothing.
	ErrZeroOutput = errors.New("computed output is zero")

	// ErrLoanNotFound means no open loan exists for the (borrower, loan_id)
	// pair.
	ErrLoanNotFound = errors.New("loan not found")

	// ErrEscrowMismatch means the escrow referenced by a repayment does not
	// match the loan record.
	ErrEscrowMismatch = errors.New("escrow does not match loan record")

	// ErrInvalidAmount means the event carries a zero amount. A zero-amount
	// journal cannot balance, so these never reach batch generation.
	ErrInvalidAmount = errors.New("amount must be positive")
)
