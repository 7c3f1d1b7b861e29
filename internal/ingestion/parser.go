package ingestion

import (
	"encoding/json"
	"fmt"
	"time"

	"FloorVault/internal/event"

	"github.com/google/uuid"
)

// ParseRawEvent converts a RawEvent (JSON bytes + event type string) into a
// typed event.Event. The ingestion shell validates, parses, and converts raw
// events before sending them to the deterministic core.
func ParseRawEvent(raw RawEvent, eventType string) (event.Event, error) {
	switch eventType {
	case "TokenFunded":
		return parseTokenFunded(raw.Data)
	case "ReserveDeposited":
		return parseReserveDeposited(raw.Data)
	case "BurnToRedeem":
		return parseBurnToRedeem(raw.Data)
	case "BorrowRequested":
		return parseBorrowRequested(raw.Data)
	case "RepayRequested":
		return parseRepayRequested(raw.Data)
	case "ProtocolParamsUpdate":
		return parseProtocolParamsUpdate(raw.Data)
	default:
		return nil, fmt.Errorf("unknown event type: %s", eventType)
	}
}

// --- JSON wire formats ---
// These structs represent the JSON payloads received from NATS.
// Field names use snake_case to match upstream producers.

type tokenFundedJSON struct {
	FundingID   string `json:"funding_id"`
	UserID      string `json:"user_id"`
	Asset       string `json:"asset"`
	Amount      uint64 `json:"amount"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseTokenFunded(data []byte) (*event.TokenFunded, error) {
	var j tokenFundedJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse TokenFunded: %w", err)
	}
	fundingID, err := uuid.Parse(j.FundingID)
	if err != nil {
		return nil, fmt.Errorf("parse funding_id: %w", err)
	}
	userID, err := uuid.Parse(j.UserID)
	if err != nil {
		return nil, fmt.Errorf("parse user_id: %w", err)
	}

	return &event.TokenFunded{
		FundingID: fundingID,
		UserID:    userID,
		Asset:     j.Asset,
		Amount:    j.Amount,
		Sequence:  j.Sequence,
		Timestamp: time.UnixMicro(j.TimestampUs),
	}, nil
}

type reserveDepositedJSON struct {
	DepositID   string `json:"deposit_id"`
	UserID      string `json:"user_id"`
	Amount      uint64 `json:"amount"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseReserveDeposited(data []byte) (*event.ReserveDeposited, error) {
	var j reserveDepositedJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse ReserveDeposited: %w", err)
	}
	depositID, err := uuid.Parse(j.DepositID)
	if err != nil {
		return nil, fmt.Errorf("parse deposit_id: %w", err)
	}
	userID, err := uuid.Parse(j.UserID)
	if err != nil {
		return nil, fmt.Errorf("parse user_id: %w", err)
	}

	return &event.ReserveDeposited{
		DepositID: depositID,
		UserID:    userID,
		Amount:    j.Amount,
		Sequence:  j.Sequence,
		Timestamp: time.UnixMicro(j.TimestampUs),
	}, nil
}

type burnToRedeemJSON struct {
	RequestID   string `json:"request_id"`
	UserID      string `json:"user_id"`
	BurnAmount  uint64 `json:"burn_amount"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseBurnToRedeem(data []byte) (*event.BurnToRedeem, error) {
	var j burnToRedeemJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse BurnToRedeem: %w", err)
	}
	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	userID, err := uuid.Parse(j.UserID)
	if err != nil {
		return nil, fmt.Errorf("parse user_id: %w", err)
	}

	return &event.BurnToRedeem{
		RequestID:  requestID,
		UserID:     userID,
		BurnAmount: j.BurnAmount,
		Sequence:   j.Sequence,
		Timestamp:  time.UnixMicro(j.TimestampUs),
	}, nil
}

type borrowRequestedJSON struct {
	RequestID   string `json:"request_id"`
	UserID      string `json:"user_id"`
	VaultAmount uint64 `json:"vault_amount"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseBorrowRequested(data []byte) (*event.BorrowRequested, error) {
	var j borrowRequestedJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse BorrowRequested: %w", err)
	}
	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	userID, err := uuid.Parse(j.UserID)
	if err != nil {
		return nil, fmt.Errorf("parse user_id: %w", err)
	}

	return &event.BorrowRequested{
		RequestID:   requestID,
		UserID:      userID,
		VaultAmount: j.VaultAmount,
		Sequence:    j.Sequence,
		Timestamp:   time.UnixMicro(j.TimestampUs),
	}, nil
}

type repayRequestedJSON struct {
	RequestID   string `json:"request_id"`
	UserID      string `json:"user_id"`
	LoanID      uint64 `json:"loan_id"`
	EscrowID    string `json:"escrow_id"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseRepayRequested(data []byte) (*event.RepayRequested, error) {
	var j repayRequestedJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse RepayRequested: %w", err)
	}
	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	userID, err := uuid.Parse(j.UserID)
	if err != nil {
		return nil, fmt.Errorf("parse user_id: %w", err)
	}
	escrowID, err := uuid.Parse(j.EscrowID)
	if err != nil {
		return nil, fmt.Errorf("parse escrow_id: %w", err)
	}

	return &event.RepayRequested{
		RequestID: requestID,
		UserID:    userID,
		LoanID:    j.LoanID,
		EscrowID:  escrowID,
		Sequence:  j.Sequence,
		Timestamp: time.UnixMicro(j.TimestampUs),
	}, nil
}

type protocolParamsUpdateJSON struct {
	UpdateID            string `json:"update_id"`
	LoanDurationSeconds uint64 `json:"loan_duration_seconds"`
	PenaltyRateBps      uint32 `json:"penalty_rate_bps"`
	Sequence            int64  `json:"sequence"`
	TimestampUs         int64  `json:"timestamp_us"`
}

func parseProtocolParamsUpdate(data []byte) (*event.ProtocolParamsUpdate, error) {
	var j protocolParamsUpdateJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse ProtocolParamsUpdate: %w", err)
	}
	updateID, err := uuid.Parse(j.UpdateID)
	if err != nil {
		return nil, fmt.Errorf("parse update_id: %w", err)
	}

	return &event.ProtocolParamsUpdate{
		UpdateID:            updateID,
		LoanDurationSeconds: j.LoanDurationSeconds,
		PenaltyRateBps:      j.PenaltyRateBps,
		Sequence:            j.Sequence,
		Timestamp:           time.UnixMicro(j.TimestampUs),
	}, nil
}
