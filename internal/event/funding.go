package event

import (
	"time"

	"github.com/google/uuid"
)

// TokenFunded records the external token provider crediting a user wallet.
// Funding the vault token raises the observed total supply; the engine treats
// supply as a versioned input, never something it mints itself.
type TokenFunded struct {
	FundingID uuid.UUID
	UserID    uuid.UUID
	Asset     string
	Amount    uint64 // Raw units
	Sequence  int64
	Timestamp time.Time
}

func (f *TokenFunded) IdempotencyKey() string {
	return f.FundingID.String()
}

func (f *TokenFunded) EventType() EventType {
	return EventTypeTokenFunded
}

func (f *TokenFunded) Actor() uuid.UUID {
	return f.UserID
}

func (f *TokenFunded) SourceSequence() int64 {
	return f.Sequence
}
