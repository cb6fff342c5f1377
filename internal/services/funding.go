package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"campuschain/internal/core"
	"campuschain/internal/ledger"
	"campuschain/internal/log"

	"github.com/google/uuid"
)

// FundingStore is what guardian funding reads and writes.
type FundingStore interface {
	GetPrincipal(ctx context.Context, id string) (core.Principal, error)
	IsGuardianOf(ctx context.Context, guardianID, spenderID string) (bool, error)
	RecordFunding(ctx context.Context, f core.Funding) error
	InsertPendingFunding(ctx context.Context, f core.Funding) error
}

// FundingService moves tokens from the treasury to a spender on behalf of a
// linked guardian.
type FundingService struct {
	store      FundingStore
	signer     Signer
	ledger     ledger.Client
	treasuryID string
	assetID    uint64
	locks      *keyedMutex
	now        func() time.Time
	logger     *log.Logger
}

func NewFundingService(store FundingStore, signer Signer, client ledger.Client, treasuryID string, assetID uint64) *FundingService {
	return &FundingService{
		store:      store,
		signer:     signer,
		ledger:     client,
		treasuryID: treasuryID,
		assetID:    assetID,
		locks:      newKeyedMutex(),
		now:        time.Now,
		logger:     log.WithComponent(log.ComponentFunding),
	}
}

// Fund transfers amount from the treasury to spenderID. The returned
// funding carries the ledger transfer id even when the error wraps
// core.ErrUnconfirmed; such a funding is kept pending until the reconciler
// finds it in treasury history.
func (s *FundingService) Fund(ctx context.Context, guardianID, spenderID string, amount core.Money) (*core.Funding, error) {
	if err := amount.Validate(); err != nil {
		return nil, fmt.Errorf("%w: amount must be positive", core.ErrInvalidRequest)
	}
	linked, err := s.store.IsGuardianOf(ctx, guardianID, spenderID)
	if err != nil {
		return nil, fmt.Errorf("check guardianship: %w", err)
	}
	if !linked {
		return nil, core.ErrForbidden
	}

	spender, err := s.store.GetPrincipal(ctx, spenderID)
	if err != nil {
		return nil, fmt.Errorf("load spender: %w", err)
	}
	treasury, err := s.store.GetPrincipal(ctx, s.treasuryID)
	if err != nil {
		return nil, fmt.Errorf("load treasury: %w", err)
	}
	if spender.Address == "" || treasury.Address == "" {
		return nil, fmt.Errorf("%w: spender and treasury need custodial addresses", core.ErrInvalidRequest)
	}

	// Treasury spends are serialized like any other sender's.
	unlock := s.locks.Lock(treasury.ID)
	defer unlock()

	balance, err := s.ledger.Balance(ctx, treasury.Address, s.assetID)
	if err != nil {
		return nil, fmt.Errorf("%w: read treasury balance: %v", core.ErrLedgerUnavailable, err)
	}
	if balance < amount.Units {
		return nil, fmt.Errorf("%w: treasury holds %d", core.ErrInsufficientFunds, balance)
	}

	payload := ledger.Transfer{
		Sender:   treasury.Address,
		Receiver: spender.Address,
		AssetID:  s.assetID,
		Amount:   amount.Units,
		Lease:    uuid.NewString(),
	}
	signed, err := signTransfer(ctx, s.ledger, s.signer, treasury.ID, payload)
	if err != nil {
		return nil, err
	}

	funding := &core.Funding{
		ID:         uuid.NewString(),
		GuardianID: guardianID,
		SpenderID:  spenderID,
		Amount:     amount,
		TransferID: signed.ID(),
	}

	conf, err := s.ledger.Submit(ctx, signed)
	switch {
	case err == nil:
		funding.ConfirmedAt = conf.ConfirmedAt
		if err := s.store.RecordFunding(context.WithoutCancel(ctx), *funding); err != nil {
			return funding, fmt.Errorf("record funding: %w", err)
		}
		s.logger.InfoContext(ctx, "Spender funded",
			log.FieldOperation, log.OpFund,
			log.FieldGuardianID, guardianID,
			log.FieldSpenderID, spenderID,
			log.FieldTransferID, funding.TransferID,
			log.FieldAmount, amount.Units)
		return funding, nil
	case errors.Is(err, ledger.ErrRejected):
		return nil, fmt.Errorf("%w: %v", core.ErrSubmissionFailed, err)
	case errors.Is(err, ledger.ErrUnavailable):
		return nil, fmt.Errorf("%w: %v", core.ErrLedgerUnavailable, err)
	default:
		s.logger.WarnContext(ctx, "Funding outcome unknown",
			log.FieldSpenderID, spenderID,
			log.FieldTransferID, funding.TransferID,
			log.FieldError, err.Error())
		funding.CreatedAt = s.now().UTC()
		if perr := s.store.InsertPendingFunding(context.WithoutCancel(ctx), *funding); perr != nil {
			return funding, fmt.Errorf("funding %s: %w (pending row not stored: %v)", funding.TransferID, core.ErrUnconfirmed, perr)
		}
		return funding, fmt.Errorf("funding %s: %w", funding.TransferID, core.ErrUnconfirmed)
	}
}
