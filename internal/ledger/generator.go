package ledger

import (
	"fmt"
	"math"

	"FloorVault/internal/event"

	"github.com/google/uuid"
)

// JournalGenerator creates balanced journal batches from events. The caller
// passes the sequence of the owning event, so journal rows never drift from
// the event log.
type JournalGenerator struct {
	balanceTracker *BalanceTracker // For pre-checks
}

func NewJournalGenerator(tracker *BalanceTracker) *JournalGenerator {
	return &JournalGenerator{
		balanceTracker: tracker,
	}
}

// toJournalAmount converts a raw uint64 amount into the signed journal
// representation, rejecting values that cannot round-trip.
func toJournalAmount(amount uint64) (int64, error) {
	if amount > math.MaxInt64 {
		return 0, fmt.Errorf("amount %d exceeds journal range", amount)
	}
	return int64(amount), nil
}

func (jg *JournalGenerator) newBatch(seq int64, eventRef string, timestamp int64) *Batch {
	return &Batch{
		BatchID:   uuid.New(),
		EventRef:  eventRef,
		Sequence:  seq,
		Timestamp: timestamp,
		Journals:  make([]Journal, 0, 3),
	}
}

func (jg *JournalGenerator) appendJournal(
	b *Batch,
	debit, credit AccountKey,
	assetID AssetID,
	amount uint64,
	jt JournalType,
) error {
	signed, err := toJournalAmount(amount)
	if err != nil {
		return err
	}
	b.Journals = append(b.Journals, Journal{
		JournalID:     uuid.New(),
		BatchID:       b.BatchID,
		EventRef:      b.EventRef,
		Sequence:      b.Sequence,
		DebitAccount:  debit,
		CreditAccount: credit,
		AssetID:       assetID,
		Amount:        signed,
		JournalType:   jt,
		Timestamp:     b.Timestamp,
	})
	return nil
}

// GenerateTokenFunded creates journals for an external wallet funding.
// Moves funds: external:deposits → user:wallet. Funding the vault token
// raises the observed mint supply on apply.
func (jg *JournalGenerator) GenerateTokenFunded(seq int64, evt *event.TokenFunded, assetID AssetID) (*Batch, error) {
	batch := jg.newBatch(seq, evt.FundingID.String(), evt.Timestamp.Unix())

	err := jg.appendJournal(batch,
		NewWalletKey(evt.UserID, assetID),
		NewExternalKey(SubTypeExternalDeposits, assetID),
		assetID, evt.Amount, JournalTypeTokenFund)
	if err != nil {
		return nil, err
	}

	return batch, nil
}

// GenerateReserveDeposit creates journals for a one-way reserve top-up.
// Moves funds: user:wallet(JITOSOL) → protocol:reserve.
func (jg *JournalGenerator) GenerateReserveDeposit(seq int64, evt *event.ReserveDeposited) (*Batch, error) {
	if err := jg.balanceTracker.ValidateSufficientWallet(evt.UserID, AssetJitosol, evt.Amount); err != nil {
		return nil, fmt.Errorf("deposit pre-check failed: %w", err)
	}

	batch := jg.newBatch(seq, evt.DepositID.String(), evt.Timestamp.Unix())

	err := jg.appendJournal(batch,
		NewReservePoolKey(),
		NewWalletKey(evt.UserID, AssetJitosol),
		AssetJitosol, evt.Amount, JournalTypeReserveDeposit)
	if err != nil {
		return nil, err
	}

	return batch, nil
}

// GenerateBurnRedeem creates journals for a burn-to-redeem:
//  1. user:wallet(VAULT) → external:burned — the burn, retiring supply
//  2. protocol:reserve → user:wallet(JITOSOL) — the proportional payout
func (jg *JournalGenerator) GenerateBurnRedeem(seq int64, evt *event.BurnToRedeem, payout uint64) (*Batch, error) {
	if err := jg.balanceTracker.ValidateSufficientWallet(evt.UserID, AssetVault, evt.BurnAmount); err != nil {
		return nil, fmt.Errorf("burn pre-check failed: %w", err)
	}

	batch := jg.newBatch(seq, evt.RequestID.String(), evt.Timestamp.Unix())

	err := jg.appendJournal(batch,
		NewExternalKey(SubTypeExternalBurned, AssetVault),
		NewWalletKey(evt.UserID, AssetVault),
		AssetVault, evt.BurnAmount, JournalTypeRedeemBurn)
	if err != nil {
		return nil, err
	}

	err = jg.appendJournal(batch,
		NewWalletKey(evt.UserID, AssetJitosol),
		NewReservePoolKey(),
		AssetJitosol, payout, JournalTypeRedeemPayout)
	if err != nil {
		return nil, err
	}

	return batch, nil
}

// GenerateBorrow creates journals for opening a loan:
//  1. user:wallet(VAULT) → escrow:collateral — lock collateral
//  2. protocol:reserve → user:wallet(JITOSOL) — disburse at floor price
func (jg *JournalGenerator) GenerateBorrow(
	seq int64,
	evt *event.BorrowRequested,
	escrowID uuid.UUID,
	jitosolOut uint64,
) (*Batch, error) {
	if err := jg.balanceTracker.ValidateSufficientWallet(evt.UserID, AssetVault, evt.VaultAmount); err != nil {
		return nil, fmt.Errorf("borrow pre-check failed: %w", err)
	}

	batch := jg.newBatch(seq, evt.RequestID.String(), evt.Timestamp.Unix())

	err := jg.appendJournal(batch,
		NewEscrowKey(escrowID),
		NewWalletKey(evt.UserID, AssetVault),
		AssetVault, evt.VaultAmount, JournalTypeCollateralLock)
	if err != nil {
		return nil, err
	}

	err = jg.appendJournal(batch,
		NewWalletKey(evt.UserID, AssetJitosol),
		NewReservePoolKey(),
		AssetJitosol, jitosolOut, JournalTypeBorrowDisburse)
	if err != nil {
		return nil, err
	}

	return batch, nil
}

// GenerateRepay creates journals for closing a loan:
//  1. escrow:collateral → external:burned — pending penalty burn, if any
//  2. user:wallet(JITOSOL) → protocol:reserve — the exact borrowed amount
//  3. escrow:collateral → user:wallet(VAULT) — remaining collateral release
//
// The penalty burn and the release share one batch with the principal: a
// repayment either fully commits or leaves no trace.
func (jg *JournalGenerator) GenerateRepay(
	seq int64,
	evt *event.RepayRequested,
	escrowID uuid.UUID,
	penaltyBurn uint64,
	principal uint64,
	collateralOut uint64,
) (*Batch, error) {
	if err := jg.balanceTracker.ValidateSufficientWallet(evt.UserID, AssetJitosol, principal); err != nil {
		return nil, fmt.Errorf("repay pre-check failed: %w", err)
	}

	batch := jg.newBatch(seq, evt.RequestID.String(), evt.Timestamp.Unix())

	if penaltyBurn > 0 {
		err := jg.appendJournal(batch,
			NewExternalKey(SubTypeExternalBurned, AssetVault),
			NewEscrowKey(escrowID),
			AssetVault, penaltyBurn, JournalTypePenaltyBurn)
		if err != nil {
			return nil, err
		}
	}

	err := jg.appendJournal(batch,
		NewReservePoolKey(),
		NewWalletKey(evt.UserID, AssetJitosol),
		AssetJitosol, principal, JournalTypeRepayPrincipal)
	if err != nil {
		return nil, err
	}

	if collateralOut > 0 {
		err := jg.appendJournal(batch,
			NewWalletKey(evt.UserID, AssetVault),
			NewEscrowKey(escrowID),
			AssetVault, collateralOut, JournalTypeCollateralRelease)
		if err != nil {
			return nil, err
		}
	}

	return batch, nil
}
