package services

import (
	"context"
	"fmt"

	"campuschain/internal/core"
	"campuschain/internal/log"
)

// Aggregator records a confirmed transfer in the detail log and the running
// category totals. Recording the same transfer twice changes nothing and
// reports applied=false.
type Aggregator interface {
	Record(ctx context.Context, t core.Transfer) (applied bool, err error)
}

// ConfirmedStore is the storage both reconciliation modes write through.
type ConfirmedStore interface {
	ApplyConfirmed(ctx context.Context, t core.Transfer) (bool, error)
}

// SyncAggregator is the synchronous mode: the executor calls it right after
// the ledger confirms.
type SyncAggregator struct {
	store  ConfirmedStore
	logger *log.Logger
}

func NewSyncAggregator(store ConfirmedStore) *SyncAggregator {
	return &SyncAggregator{
		store:  store,
		logger: log.WithComponent(log.ComponentAggregator),
	}
}

func (a *SyncAggregator) Record(ctx context.Context, t core.Transfer) (bool, error) {
	if t.Status != core.StatusConfirmed {
		return false, fmt.Errorf("%w: only confirmed transfers are aggregated, got %s", core.ErrInvalidRequest, t.Status)
	}
	applied, err := a.store.ApplyConfirmed(ctx, t)
	if err != nil {
		a.logger.ErrorContext(ctx, "Failed to aggregate transfer",
			log.NewFields().
				WithOperation(log.OpAggregate).
				WithTransfer(t.SpenderID, t.TransferID, t.Amount.Units, string(t.Category)).
				WithError(err).
				ToSlice()...)
		return false, fmt.Errorf("aggregate transfer %s: %w", t.TransferID, err)
	}
	a.logger.DebugContext(ctx, "Transfer aggregated",
		log.FieldTransferID, t.TransferID,
		log.FieldMonth, t.Month().String(),
		"applied", applied)
	return applied, nil
}
