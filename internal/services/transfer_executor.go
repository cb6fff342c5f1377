package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"campuschain/internal/core"
	"campuschain/internal/ledger"
	"campuschain/internal/log"

	"github.com/google/uuid"
)

// SpendRequest asks to move Amount from a spender to a registered merchant,
// labelled with Category.
type SpendRequest struct {
	SpenderID  string
	MerchantID string
	Amount     core.Money
	Category   core.Category
}

// PrincipalStore resolves principals and their custodial addresses.
type PrincipalStore interface {
	GetPrincipal(ctx context.Context, id string) (core.Principal, error)
}

// MerchantLookup resolves registered merchants by principal id.
type MerchantLookup interface {
	GetMerchant(ctx context.Context, principalID string) (core.Merchant, error)
}

// TransferWriter persists pending and failed detail rows.
type TransferWriter interface {
	InsertTransfer(ctx context.Context, t core.Transfer) error
}

// Signer produces signatures with a principal's custodial key.
type Signer interface {
	Sign(ctx context.Context, principalID string, payload []byte) ([]byte, error)
}

// signTransfer builds payload against the ledger's current parameters and
// signs it with principalID's custodial key.
func signTransfer(ctx context.Context, client ledger.Client, signer Signer, principalID string, payload ledger.Transfer) (ledger.SignedTransfer, error) {
	txn, err := ledger.Prepare(ctx, client, payload)
	switch {
	case errors.Is(err, ledger.ErrUnavailable):
		return ledger.SignedTransfer{}, fmt.Errorf("%w: %v", core.ErrLedgerUnavailable, err)
	case err != nil:
		return ledger.SignedTransfer{}, fmt.Errorf("%w: %v", core.ErrInvalidRequest, err)
	}
	signed, err := ledger.Sign(txn, func(p []byte) ([]byte, error) {
		return signer.Sign(ctx, principalID, p)
	})
	if err != nil {
		return ledger.SignedTransfer{}, fmt.Errorf("sign transfer: %w", err)
	}
	return signed, nil
}

// PendingNotifier announces transfers whose outcome is still unknown.
type PendingNotifier interface {
	PublishTransferPending(ctx context.Context, transferID, spenderID string) error
}

type TransferExecutor struct {
	principals PrincipalStore
	merchants  MerchantLookup
	transfers  TransferWriter
	signer     Signer
	ledger     ledger.Client
	aggregator Aggregator
	notifier   PendingNotifier
	assetID    uint64

	locks  *keyedMutex
	now    func() time.Time
	logger *log.Logger
}

// ExecutorDeps groups the collaborators of a TransferExecutor. Notifier is
// optional.
type ExecutorDeps struct {
	Principals PrincipalStore
	Merchants  MerchantLookup
	Transfers  TransferWriter
	Signer     Signer
	Ledger     ledger.Client
	Aggregator Aggregator
	Notifier   PendingNotifier
	AssetID    uint64
}

func NewTransferExecutor(deps ExecutorDeps) *TransferExecutor {
	return &TransferExecutor{
		principals: deps.Principals,
		merchants:  deps.Merchants,
		transfers:  deps.Transfers,
		signer:     deps.Signer,
		ledger:     deps.Ledger,
		aggregator: deps.Aggregator,
		notifier:   deps.Notifier,
		assetID:    deps.AssetID,
		locks:      newKeyedMutex(),
		now:        time.Now,
		logger:     log.WithComponent(log.ComponentExecutor),
	}
}

// Execute performs one spend end to end.
//
// Concurrent spends of the same spender are serialized from the balance check
// until the outcome is recorded, so two requests can never both pass the check
// against the same funds. A signed transfer is submitted exactly once: when
// the outcome is unknown the transfer is returned as pending together with an
// error wrapping core.ErrUnconfirmed, and the reconciler settles it later.
func (e *TransferExecutor) Execute(ctx context.Context, req SpendRequest) (*core.Transfer, error) {
	category, err := e.validate(req)
	if err != nil {
		return nil, err
	}

	unlock := e.locks.Lock(req.SpenderID)
	defer unlock()

	spender, err := e.principals.GetPrincipal(ctx, req.SpenderID)
	if err != nil {
		return nil, fmt.Errorf("load spender: %w", err)
	}
	if spender.Role != core.RoleSpender || spender.Address == "" {
		return nil, fmt.Errorf("%w: %s is not a custodial spender", core.ErrInvalidRequest, spender.ID)
	}

	balance, err := e.ledger.Balance(ctx, spender.Address, e.assetID)
	if err != nil {
		return nil, fmt.Errorf("%w: read balance: %v", core.ErrLedgerUnavailable, err)
	}
	if balance < req.Amount.Units {
		return nil, fmt.Errorf("%w: balance %d, requested %d", core.ErrInsufficientFunds, balance, req.Amount.Units)
	}

	merchant, err := e.merchants.GetMerchant(ctx, req.MerchantID)
	if errors.Is(err, core.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", core.ErrUnknownMerchant, req.MerchantID)
	}
	if err != nil {
		return nil, fmt.Errorf("load merchant: %w", err)
	}

	payload := ledger.Transfer{
		Sender:   spender.Address,
		Receiver: merchant.Address,
		AssetID:  e.assetID,
		Amount:   req.Amount.Units,
		Note:     ledger.CategoryNote(string(category)),
		Lease:    uuid.NewString(),
	}
	signed, err := signTransfer(ctx, e.ledger, e.signer, spender.ID, payload)
	if err != nil {
		return nil, err
	}

	record := core.Transfer{
		ID:          uuid.NewString(),
		TransferID:  signed.ID(),
		SpenderID:   spender.ID,
		Destination: merchant.Address,
		MerchantID:  merchant.PrincipalID,
		Amount:      req.Amount,
		Category:    category,
		Origin:      core.OriginExecutor,
		CreatedAt:   e.now().UTC(),
	}

	start := time.Now()
	conf, err := e.ledger.Submit(ctx, signed)
	fields := log.NewFields().
		WithOperation(log.OpSubmit).
		WithTransfer(record.SpenderID, record.TransferID, record.Amount.Units, string(record.Category))
	fields[log.FieldDuration] = time.Since(start).Milliseconds()

	// From here on the transfer may exist on the ledger. Local bookkeeping
	// must finish even if the caller has gone away.
	bookCtx := context.WithoutCancel(ctx)

	switch {
	case err == nil:
		record.Status = core.StatusConfirmed
		record.Round = conf.Round
		record.ConfirmedAt = conf.ConfirmedAt
		if _, aggErr := e.aggregator.Record(bookCtx, record); aggErr != nil {
			// The ledger has it; the reconciler will replay it into storage.
			e.logger.ErrorContext(ctx, "Confirmed transfer not recorded locally", fields.WithError(aggErr).ToSlice()...)
		}
		e.logger.InfoContext(ctx, "Transfer confirmed", fields.ToSlice()...)
		return &record, nil

	case errors.Is(err, ledger.ErrRejected):
		record.Status = core.StatusFailed
		if insErr := e.transfers.InsertTransfer(bookCtx, record); insErr != nil {
			e.logger.ErrorContext(ctx, "Failed to persist rejected transfer", fields.WithError(insErr).ToSlice()...)
		}
		e.logger.WarnContext(ctx, "Transfer rejected by ledger", fields.WithError(err).ToSlice()...)
		return nil, fmt.Errorf("%w: %v", core.ErrSubmissionFailed, err)

	case errors.Is(err, ledger.ErrUnavailable):
		e.logger.WarnContext(ctx, "Ledger unavailable, nothing submitted", fields.WithError(err).ToSlice()...)
		return nil, fmt.Errorf("%w: %v", core.ErrLedgerUnavailable, err)

	default:
		record.Status = core.StatusPending
		if insErr := e.transfers.InsertTransfer(bookCtx, record); insErr != nil {
			e.logger.ErrorContext(ctx, "Failed to persist pending transfer", fields.WithError(insErr).ToSlice()...)
		}
		if e.notifier != nil {
			if pubErr := e.notifier.PublishTransferPending(bookCtx, record.TransferID, record.SpenderID); pubErr != nil {
				e.logger.WarnContext(ctx, "Pending notice not published", fields.WithError(pubErr).ToSlice()...)
			}
		}
		e.logger.WarnContext(ctx, "Transfer outcome unknown", fields.WithError(err).ToSlice()...)
		return &record, fmt.Errorf("transfer %s: %w", record.TransferID, core.ErrUnconfirmed)
	}
}

func (e *TransferExecutor) validate(req SpendRequest) (core.Category, error) {
	if strings.TrimSpace(req.SpenderID) == "" || strings.TrimSpace(req.MerchantID) == "" {
		return "", fmt.Errorf("%w: spender and merchant are required", core.ErrInvalidRequest)
	}
	if err := req.Amount.Validate(); err != nil {
		return "", fmt.Errorf("%w: amount must be positive", core.ErrInvalidRequest)
	}
	category, ok := core.ParseCategory(string(req.Category))
	if !ok {
		return "", fmt.Errorf("%w: unrecognized category %q", core.ErrInvalidRequest, req.Category)
	}
	return category, nil
}
