package event

import (
	"time"

	"github.com/google/uuid"
)

// ReserveDeposited is a one-way reserve top-up: JitoSOL moves from the
// caller's wallet into the reserve pool with no vault token minted, so the
// floor price can only rise.
type ReserveDeposited struct {
	DepositID uuid.UUID
	UserID    uuid.UUID
	Amount    uint64 // Raw reserve units
	Sequence  int64
	Timestamp time.Time
}

func (d *ReserveDeposited) IdempotencyKey() string {
	return d.DepositID.String()
}

func (d *ReserveDeposited) EventType() EventType {
	return EventTypeReserveDeposited
}

func (d *ReserveDeposited) Actor() uuid.UUID {
	return d.UserID
}

func (d *ReserveDeposited) SourceSequence() int64 {
	return d.Sequence
}

// BurnToRedeem burns vault tokens for a proportional share of the reserve.
type BurnToRedeem struct {
	RequestID  uuid.UUID
	UserID     uuid.UUID
	BurnAmount uint64 // Raw vault units
	Sequence   int64
	Timestamp  time.Time
}

func (b *BurnToRedeem) IdempotencyKey() string {
	return b.RequestID.String()
}

func (b *BurnToRedeem) EventType() EventType {
	return EventTypeBurnToRedeem
}

func (b *BurnToRedeem) Actor() uuid.UUID {
	return b.UserID
}

func (b *BurnToRedeem) SourceSequence() int64 {
	return b.Sequence
}

// BorrowRequested locks vault tokens in escrow and disburses their
// floor-price value in reserve asset.
type BorrowRequested struct {
	RequestID   uuid.UUID
	UserID      uuid.UUID
	VaultAmount uint64 // Raw vault units to lock
	Sequence    int64
	Timestamp   time.Time
}

func (b *BorrowRequested) IdempotencyKey() string {
	return b.RequestID.String()
}

func (b *BorrowRequested) EventType() EventType {
	return EventTypeBorrowRequested
}

func (b *BorrowRequested) Actor() uuid.UUID {
	return b.UserID
}

func (b *BorrowRequested) SourceSequence() int64 {
	return b.Sequence
}

// RepayRequested repays a loan in full: the exact borrowed amount returns to
// the reserve and the remaining escrowed collateral returns to the borrower.
// EscrowID must match the loan record's escrow account.
type RepayRequested struct {
	RequestID uuid.UUID
	UserID    uuid.UUID
	LoanID    uint64
	EscrowID  uuid.UUID
	Sequence  int64
	Timestamp time.Time
}

func (r *RepayRequested) IdempotencyKey() string {
	return r.RequestID.String()
}

func (r *RepayRequested) EventType() EventType {
	return EventTypeRepayRequested
}

func (r *RepayRequested) Actor() uuid.UUID {
	return r.UserID
}

func (r *RepayRequested) SourceSequence() int64 {
	return r.Sequence
}
