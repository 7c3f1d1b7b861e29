package event

import (
	"time"

	"github.com/google/uuid"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeTokenFunded
	EventTypeReserveDeposited
	EventTypeBurnToRedeem
	EventTypeBorrowRequested
	EventTypeRepayRequested
	EventTypeProtocolParamsUpdate
)

// EventEnvelope wraps every event in the log
type EventEnvelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	// Event type discriminator
	EventType EventType

	// Acting identity (uuid.Nil for global/admin events)
	Actor uuid.UUID

	// Versioned input timestamp (NOT wall-clock)
	Timestamp time.Time

	// Upstream sequence for ordering validation
	SourceSequence int64

	// JSON-encoded event-specific data
	Payload []byte

	// SHA-256 of state AFTER applying this event
	StateHash [32]byte

	// Previous event's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface all event payloads must implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// EventType returns the discriminator
	EventType() EventType

	// Actor returns the acting identity (uuid.Nil for global events)
	Actor() uuid.UUID

	// SourceSequence returns upstream ordering key
	SourceSequence() int64
}

func (et EventType) String() string {
	switch et {
	case EventTypeTokenFunded:
		return "TokenFunded"
	case EventTypeReserveDeposited:
		return "ReserveDeposited"
	case EventTypeBurnToRedeem:
		return "BurnToRedeem"
	case EventTypeBorrowRequested:
		return "BorrowRequested"
	case EventTypeRepayRequested:
		return "RepayRequested"
	case EventTypeProtocolParamsUpdate:
		return "ProtocolParamsUpdate"
	default:
		return "Unknown"
	}
}
