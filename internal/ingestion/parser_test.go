package ingestion_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"

	"FloorVault/internal/event"
	"FloorVault/internal/ingestion"
)

func rawFromJSON(t *testing.T, v interface{}) ingestion.RawEvent {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return ingestion.RawEvent{
		Subject:   "test",
		Data:      data,
		Timestamp: time.Now(),
		AckFunc:   func() {},
		NakFunc:   func() {},
	}
}

func TestParseTokenFunded(t *testing.T) {
	payload := map[string]interface{}{
		"funding_id":   "550e8400-e29b-41d4-a716-446655440000",
		"user_id":      "660e8400-e29b-41d4-a716-446655440001",
		"asset":        "VAULT",
		"amount":       uint64(1_000_000_000),
		"sequence":     int64(7),
		"timestamp_us": int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "TokenFunded")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	tf, ok := evt.(*event.TokenFunded)
	if !ok {
		t.Fatalf("expected *event.TokenFunded, got %T", evt)
	}

	if tf.Asset != "VAULT" {
		t.Errorf("asset: got %s, want VAULT", tf.Asset)
	}
	if tf.Amount != 1_000_000_000 {
		t.Errorf("amount: got %d, want 1_000_000_000", tf.Amount)
	}
	if tf.Sequence != 7 {
		t.Errorf("sequence: got %d, want 7", tf.Sequence)
	}
	if tf.IdempotencyKey() != "550e8400-e29b-41d4-a716-446655440000" {
		t.Errorf("idempotency key: got %s", tf.IdempotencyKey())
	}
	if tf.EventType() != event.EventTypeTokenFunded {
		t.Errorf("event type: got %v, want TokenFunded", tf.EventType())
	}
}

func TestParseReserveDeposited(t *testing.T) {
	payload := map[string]interface{}{
		"deposit_id":   "550e8400-e29b-41d4-a716-446655440000",
		"user_id":      "660e8400-e29b-41d4-a716-446655440001",
		"amount":       uint64(500_000),
		"sequence":     int64(1),
		"timestamp_us": int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "ReserveDeposited")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	dep, ok := evt.(*event.ReserveDeposited)
	if !ok {
		t.Fatalf("expected *event.ReserveDeposited, got %T", evt)
	}

	if dep.Amount != 500_000 {
		t.Errorf("amount: got %d, want 500_000", dep.Amount)
	}
	if dep.Timestamp.UnixMicro() != 1700000000000000 {
		t.Errorf("timestamp: got %d", dep.Timestamp.UnixMicro())
	}
}

func TestParseBurnToRedeem(t *testing.T) {
	payload := map[string]interface{}{
		"request_id":   "550e8400-e29b-41d4-a716-446655440000",
		"user_id":      "660e8400-e29b-41d4-a716-446655440001",
		"burn_amount":  uint64(250_000),
		"sequence":     int64(3),
		"timestamp_us": int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "BurnToRedeem")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	burn, ok := evt.(*event.BurnToRedeem)
	if !ok {
		t.Fatalf("expected *event.BurnToRedeem, got %T", evt)
	}

	if burn.BurnAmount != 250_000 {
		t.Errorf("burn_amount: got %d, want 250_000", burn.BurnAmount)
	}
	if burn.UserID.String() != "660e8400-e29b-41d4-a716-446655440001" {
		t.Errorf("user_id: got %s", burn.UserID)
	}
}

func TestParseBorrowRequested(t *testing.T) {
	payload := map[string]interface{}{
		"request_id":   "550e8400-e29b-41d4-a716-446655440000",
		"user_id":      "660e8400-e29b-41d4-a716-446655440001",
		"vault_amount": uint64(100_000),
		"sequence":     int64(9),
		"timestamp_us": int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "BorrowRequested")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	borrow, ok := evt.(*event.BorrowRequested)
	if !ok {
		t.Fatalf("expected *event.BorrowRequested, got %T", evt)
	}

	if borrow.VaultAmount != 100_000 {
		t.Errorf("vault_amount: got %d, want 100_000", borrow.VaultAmount)
	}
	if borrow.SourceSequence() != 9 {
		t.Errorf("source sequence: got %d, want 9", borrow.SourceSequence())
	}
}

func TestParseRepayRequested(t *testing.T) {
	payload := map[string]interface{}{
		"request_id":   "550e8400-e29b-41d4-a716-446655440000",
		"user_id":      "660e8400-e29b-41d4-a716-446655440001",
		"loan_id":      uint64(12),
		"escrow_id":    "770e8400-e29b-41d4-a716-446655440002",
		"sequence":     int64(15),
		"timestamp_us": int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "RepayRequested")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	repay, ok := evt.(*event.RepayRequested)
	if !ok {
		t.Fatalf("expected *event.RepayRequested, got %T", evt)
	}

	if repay.LoanID != 12 {
		t.Errorf("loan_id: got %d, want 12", repay.LoanID)
	}
	if repay.EscrowID.String() != "770e8400-e29b-41d4-a716-446655440002" {
		t.Errorf("escrow_id: got %s", repay.EscrowID)
	}
}

func TestParseProtocolParamsUpdate(t *testing.T) {
	payload := map[string]interface{}{
		"update_id":             "550e8400-e29b-41d4-a716-446655440000",
		"loan_duration_seconds": uint64(1209600),
		"penalty_rate_bps":      uint32(25),
		"sequence":              int64(2),
		"timestamp_us":          int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "ProtocolParamsUpdate")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	params, ok := evt.(*event.ProtocolParamsUpdate)
	if !ok {
		t.Fatalf("expected *event.ProtocolParamsUpdate, got %T", evt)
	}

	if params.LoanDurationSeconds != 1209600 {
		t.Errorf("loan_duration_seconds: got %d, want 1209600", params.LoanDurationSeconds)
	}
	if params.PenaltyRateBps != 25 {
		t.Errorf("penalty_rate_bps: got %d, want 25", params.PenaltyRateBps)
	}
	if params.Actor().String() != "00000000-0000-0000-0000-000000000000" {
		t.Errorf("params update should have nil actor, got %s", params.Actor())
	}
}

func TestEncodeParseRoundTrip(t *testing.T) {
	original := &event.BorrowRequested{
		RequestID:   mustUUID(t, "550e8400-e29b-41d4-a716-446655440000"),
		UserID:      mustUUID(t, "660e8400-e29b-41d4-a716-446655440001"),
		VaultAmount: 42_000,
		Sequence:    5,
		Timestamp:   time.UnixMicro(1700000000000000),
	}

	raw := ingestion.RawEvent{Subject: "replay", Data: event.Encode(original)}
	parsed, err := ingestion.ParseRawEvent(raw, "BorrowRequested")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	borrow, ok := parsed.(*event.BorrowRequested)
	if !ok {
		t.Fatalf("expected *event.BorrowRequested, got %T", parsed)
	}
	if *borrow != *original {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", borrow, original)
	}
}

func mustUUID(t *testing.T, s string) uuid.UUID {
	t.Helper()
	id, err := uuid.Parse(s)
	if err != nil {
		t.Fatalf("parse uuid: %v", err)
	}
	return id
}

func TestParseUnknownEventType(t *testing.T) {
	raw := rawFromJSON(t, map[string]interface{}{})
	if _, err := ingestion.ParseRawEvent(raw, "SomethingElse"); err == nil {
		t.Fatal("expected error for unknown event type")
	}
}

func TestParseInvalidJSON(t *testing.T) {
	raw := ingestion.RawEvent{
		Subject: "test",
		Data:    []byte("{not json"),
	}
	if _, err := ingestion.ParseRawEvent(raw, "BurnToRedeem"); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestParseInvalidUUID(t *testing.T) {
	payload := map[string]interface{}{
		"request_id":   "not-a-uuid",
		"user_id":      "660e8400-e29b-41d4-a716-446655440001",
		"burn_amount":  uint64(1),
		"sequence":     int64(1),
		"timestamp_us": int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	if _, err := ingestion.ParseRawEvent(raw, "BurnToRedeem"); err == nil {
		t.Fatal("expected error for invalid request_id UUID")
	}
}
