package worker

import (
	"context"
	"fmt"

	"campuschain/internal/amqp"
	"campuschain/internal/log"
	"campuschain/internal/services"
)

// Reconciler is the part of services.Reconciler the worker drives.
type Reconciler interface {
	ReconcileSpender(ctx context.Context, spenderID string) (services.CycleResult, error)
	ResolvePending(ctx context.Context) (services.CycleResult, error)
}

// PendingWorker settles transfers announced as pending over AMQP. Notices
// only speed things up: the periodic reconcile cycle settles the same
// transfers when a notice is lost.
type PendingWorker struct {
	reconciler Reconciler
	logger     *log.Logger
}

func NewPendingWorker(reconciler Reconciler) *PendingWorker {
	return &PendingWorker{
		reconciler: reconciler,
		logger:     log.WithComponent(log.ComponentWorker),
	}
}

// HandlePendingMessage replays the history of the spender named in msg.
// Returning an error makes the consumer requeue the notice.
func (w *PendingWorker) HandlePendingMessage(ctx context.Context, msg *amqp.TransferPendingMessage) error {
	w.logger.InfoContext(ctx, "Processing pending notice",
		log.FieldTransferID, msg.TransferID,
		log.FieldSpenderID, msg.SpenderID)

	res, err := w.reconciler.ReconcileSpender(ctx, msg.SpenderID)
	if err != nil {
		return fmt.Errorf("reconcile spender %s: %w", msg.SpenderID, err)
	}

	w.logger.InfoContext(ctx, "Pending notice handled",
		log.FieldTransferID, msg.TransferID,
		log.FieldSpenderID, msg.SpenderID,
		"applied", res.Applied,
		"expired", res.Expired)
	return nil
}

// StartupCheck settles whatever was left pending while the worker was down.
func (w *PendingWorker) StartupCheck(ctx context.Context) error {
	res, err := w.reconciler.ResolvePending(ctx)
	if err != nil {
		return fmt.Errorf("resolve pending on startup: %w", err)
	}
	if res.Spenders == 0 {
		w.logger.InfoContext(ctx, "No pending transfers found on startup")
		return nil
	}
	w.logger.InfoContext(ctx, "Startup pending check completed",
		log.FieldOperation, log.OpStartup,
		"spenders", res.Spenders,
		"applied", res.Applied,
		"expired", res.Expired,
		"failed", res.Failed)
	return nil
}
