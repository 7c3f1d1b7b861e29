package ingestion

import (
	"context"
	"errors"
	"sync"
	"time"

	"FloorVault/internal/event"

	"github.com/google/uuid"
)

// ErrInvalidAmount rejects zero-amount submissions before they reach the
// core.
var ErrInvalidAmount = errors.New("amount must be positive")

// Submission carries an event into the core loop together with a reply
// channel. The ingestion loop processes the event synchronously and sends
// the core's verdict back, so an HTTP caller learns whether its operation
// was accepted before the response is written.
type Submission struct {
	Event event.Event
	Reply chan error
}

// SequenceSource exposes the next expected source sequence per partition.
// Implemented by the deterministic core; the ops service seeds its own
// counters from it after recovery so HTTP-submitted events continue each
// partition's sequence without gaps.
type SequenceSource interface {
	NextSourceSequence(partition string) int64
}

// OpsService is the HTTP-facing operation surface. It assigns source
// sequences, builds typed events, and submits them synchronously to the
// core. Submissions within a partition are serialized under a mutex: the
// core validates exactly-next sequences, so two concurrent submissions with
// the same number would reject one of them spuriously.
type OpsService struct {
	submitChan chan<- Submission
	partitions map[string]*partitionCounter
}

type partitionCounter struct {
	mu   sync.Mutex
	next int64
}

func NewOpsService(submitChan chan<- Submission, seqs SequenceSource) *OpsService {
	partitions := make(map[string]*partitionCounter)
	for _, p := range []string{"funding", "ops", "params"} {
		partitions[p] = &partitionCounter{next: seqs.NextSourceSequence(p)}
	}
	return &OpsService{
		submitChan: submitChan,
		partitions: partitions,
	}
}

// submit sends the event to the core loop and waits for its verdict. The
// partition counter advances only on acceptance: the core rolls its cursor
// back when it rejects an event, and the counter must stay aligned with it.
func (s *OpsService) submit(ctx context.Context, partition string, build func(seq int64) event.Event) error {
	pc := s.partitions[partition]
	pc.mu.Lock()
	defer pc.mu.Unlock()

	sub := Submission{
		Event: build(pc.next),
		Reply: make(chan error, 1),
	}

	select {
	case s.submitChan <- sub:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-sub.Reply:
		if err != nil {
			return err
		}
		pc.next++
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SubmitFunding records the token provider crediting a user wallet.
func (s *OpsService) SubmitFunding(ctx context.Context, userID uuid.UUID, asset string, amount uint64) (uuid.UUID, error) {
	if amount == 0 {
		return uuid.Nil, ErrInvalidAmount
	}
	fundingID := uuid.New()
	err := s.submit(ctx, "funding", func(seq int64) event.Event {
		return &event.TokenFunded{
			FundingID: fundingID,
			UserID:    userID,
			Asset:     asset,
			Amount:    amount,
			Sequence:  seq,
			Timestamp: time.Now(),
		}
	})
	return fundingID, err
}

// SubmitDeposit submits a one-way reserve deposit.
func (s *OpsService) SubmitDeposit(ctx context.Context, userID uuid.UUID, amount uint64) (uuid.UUID, error) {
	if amount == 0 {
		return uuid.Nil, ErrInvalidAmount
	}
	depositID := uuid.New()
	err := s.submit(ctx, "ops", func(seq int64) event.Event {
		return &event.ReserveDeposited{
			DepositID: depositID,
			UserID:    userID,
			Amount:    amount,
			Sequence:  seq,
			Timestamp: time.Now(),
		}
	})
	return depositID, err
}

// SubmitBurn submits a burn-to-redeem request.
func (s *OpsService) SubmitBurn(ctx context.Context, userID uuid.UUID, burnAmount uint64) (uuid.UUID, error) {
	if burnAmount == 0 {
		return uuid.Nil, ErrInvalidAmount
	}
	requestID := uuid.New()
	err := s.submit(ctx, "ops", func(seq int64) event.Event {
		return &event.BurnToRedeem{
			RequestID:  requestID,
			UserID:     userID,
			BurnAmount: burnAmount,
			Sequence:   seq,
			Timestamp:  time.Now(),
		}
	})
	return requestID, err
}

// SubmitBorrow submits a borrow-against-collateral request.
func (s *OpsService) SubmitBorrow(ctx context.Context, userID uuid.UUID, vaultAmount uint64) (uuid.UUID, error) {
	if vaultAmount == 0 {
		return uuid.Nil, ErrInvalidAmount
	}
	requestID := uuid.New()
	err := s.submit(ctx, "ops", func(seq int64) event.Event {
		return &event.BorrowRequested{
			RequestID:   requestID,
			UserID:      userID,
			VaultAmount: vaultAmount,
			Sequence:    seq,
			Timestamp:   time.Now(),
		}
	})
	return requestID, err
}

// SubmitRepay submits a full loan repayment.
func (s *OpsService) SubmitRepay(ctx context.Context, userID uuid.UUID, loanID uint64, escrowID uuid.UUID) (uuid.UUID, error) {
	requestID := uuid.New()
	err := s.submit(ctx, "ops", func(seq int64) event.Event {
		return &event.RepayRequested{
			RequestID: requestID,
			UserID:    userID,
			LoanID:    loanID,
			EscrowID:  escrowID,
			Sequence:  seq,
			Timestamp: time.Now(),
		}
	})
	return requestID, err
}

// SubmitParams submits an admin protocol parameter update.
func (s *OpsService) SubmitParams(ctx context.Context, loanDurationSeconds uint64, penaltyRateBps uint32) (uuid.UUID, error) {
	updateID := uuid.New()
	err := s.submit(ctx, "params", func(seq int64) event.Event {
		return &event.ProtocolParamsUpdate{
			UpdateID:            updateID,
			LoanDurationSeconds: loanDurationSeconds,
			PenaltyRateBps:      penaltyRateBps,
			Sequence:            seq,
			Timestamp:           time.Now(),
		}
	})
	return updateID, err
}
