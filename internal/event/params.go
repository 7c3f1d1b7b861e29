package event

import (
	"time"

	"github.com/google/uuid"
)

// ProtocolParamsUpdate sets the admin protocol parameters. The engine reads
// them but never changes them itself.
type ProtocolParamsUpdate struct {
	UpdateID            uuid.UUID
	LoanDurationSeconds uint64
	PenaltyRateBps      uint32
	Sequence            int64
	Timestamp           time.Time
}

func (p *ProtocolParamsUpdate) IdempotencyKey() string {
	return p.UpdateID.String()
}

func (p *ProtocolParamsUpdate) EventType() EventType {
	return EventTypeProtocolParamsUpdate
}

func (p *ProtocolParamsUpdate) Actor() uuid.UUID {
	return uuid.Nil // Global event
}

func (p *ProtocolParamsUpdate) SourceSequence() int64 {
	return p.Sequence
}
