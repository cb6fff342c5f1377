package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"campuschain/internal/category"
	"campuschain/internal/core"
	"campuschain/internal/ledger"
	"campuschain/internal/log"

	"golang.org/x/sync/errgroup"
)

// ReconcilerConfig holds configuration for the reconciler
type ReconcilerConfig struct {
	// Interval is how often a full cycle runs (default: 30s)
	Interval time.Duration

	// Concurrency bounds how many spenders are replayed at once (default: 4)
	Concurrency int

	// PendingExpiry is how long a pending transfer may stay unseen in history
	// before it is marked failed (default: 1h)
	PendingExpiry time.Duration

	AssetID uint64

	// TreasuryID names the principal whose history settles pending funding.
	TreasuryID string
}

// DefaultReconcilerConfig returns sensible defaults
func DefaultReconcilerConfig() ReconcilerConfig {
	return ReconcilerConfig{
		Interval:      30 * time.Second,
		Concurrency:   4,
		PendingExpiry: time.Hour,
	}
}

// ReconcilerStore is what the reconciler reads and writes locally.
type ReconcilerStore interface {
	ConfirmedStore
	GetPrincipal(ctx context.Context, id string) (core.Principal, error)
	TrackedSpenders(ctx context.Context) ([]core.Principal, error)
	ListMerchants(ctx context.Context) ([]core.Merchant, error)
	IsProcessed(ctx context.Context, transferID string) (bool, error)
	PendingTransfers(ctx context.Context) ([]core.Transfer, error)
	MarkFailed(ctx context.Context, transferID string) (bool, error)
	PendingFunding(ctx context.Context) ([]core.Funding, error)
	SettleFunding(ctx context.Context, transferID string, confirmedAt time.Time) (bool, error)
	ExpireFunding(ctx context.Context, transferID string) (bool, error)
}

// CycleResult summarizes one reconciliation pass.
type CycleResult struct {
	Spenders int
	Failed   int
	Applied  int
	Skipped  int
	Expired  int
}

// Reconciler is the asynchronous aggregation mode. It replays each tracked
// spender's ledger history and applies every confirmed transfer it has not
// seen, so a missed cycle is caught up by the next one. It also settles
// transfers the executor left pending.
type Reconciler struct {
	store  ReconcilerStore
	ledger ledger.Client
	config ReconcilerConfig
	now    func() time.Time
	logger *log.Logger

	// Lifecycle management
	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewReconciler(store ReconcilerStore, client ledger.Client, config ReconcilerConfig) *Reconciler {
	defaults := DefaultReconcilerConfig()
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	if config.Concurrency <= 0 {
		config.Concurrency = defaults.Concurrency
	}
	if config.PendingExpiry <= 0 {
		config.PendingExpiry = defaults.PendingExpiry
	}
	return &Reconciler{
		store:  store,
		ledger: client,
		config: config,
		now:    time.Now,
		logger: log.WithComponent(log.ComponentReconciler),
	}
}

// Start begins the reconciliation loop. Returns an error if already running.
func (r *Reconciler) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("reconciler is already running")
	}
	r.running = true
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})
	r.mu.Unlock()

	go r.runLoop(ctx)

	r.logger.InfoContext(ctx, "Reconciler started",
		"interval", r.config.Interval,
		"concurrency", r.config.Concurrency)
	return nil
}

// Stop signals the loop and waits for the current cycle to finish.
func (r *Reconciler) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	stopCh, doneCh := r.stopCh, r.doneCh
	r.mu.Unlock()

	close(stopCh)

	select {
	case <-doneCh:
		r.logger.InfoContext(ctx, "Reconciler stopped gracefully")
	case <-ctx.Done():
		r.logger.WarnContext(ctx, "Reconciler stop timed out")
		return ctx.Err()
	}

	r.mu.Lock()
	r.running = false
	r.mu.Unlock()
	return nil
}

func (r *Reconciler) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *Reconciler) runLoop(ctx context.Context) {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	// Catch up immediately on startup
	r.runLogged(ctx)

	for {
		select {
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runLogged(ctx)
		}
	}
}

func (r *Reconciler) runLogged(ctx context.Context) {
	start := time.Now()
	res, err := r.RunCycle(ctx)
	if err != nil {
		r.logger.ErrorContext(ctx, "Reconcile cycle failed", log.FieldError, err.Error())
		return
	}
	r.logger.InfoContext(ctx, "Reconcile cycle finished",
		log.FieldOperation, log.OpReconcile,
		"spenders", res.Spenders,
		"failed", res.Failed,
		"applied", res.Applied,
		"expired", res.Expired,
		log.FieldDuration, time.Since(start).Milliseconds())
}

// RunCycle replays every tracked spender once, then settles pending funding
// from treasury history. Errors of one spender are logged and counted and
// never stop the others; only a failure to list the spenders fails the cycle.
func (r *Reconciler) RunCycle(ctx context.Context) (CycleResult, error) {
	spenders, err := r.store.TrackedSpenders(ctx)
	if err != nil {
		return CycleResult{}, fmt.Errorf("list tracked spenders: %w", err)
	}
	res, err := r.reconcileAll(ctx, spenders)
	if err != nil {
		return res, err
	}
	r.settleFunding(ctx, &res)
	return res, nil
}

// ResolvePending replays only the spenders that have pending transfers.
func (r *Reconciler) ResolvePending(ctx context.Context) (CycleResult, error) {
	pending, err := r.store.PendingTransfers(ctx)
	if err != nil {
		return CycleResult{}, fmt.Errorf("list pending transfers: %w", err)
	}
	seen := make(map[string]bool)
	var spenders []core.Principal
	for _, t := range pending {
		if seen[t.SpenderID] {
			continue
		}
		seen[t.SpenderID] = true
		p, err := r.store.GetPrincipal(ctx, t.SpenderID)
		if err != nil {
			r.logger.WarnContext(ctx, "Pending transfer of unknown spender",
				log.FieldSpenderID, t.SpenderID, log.FieldError, err.Error())
			continue
		}
		spenders = append(spenders, p)
	}
	res, err := r.reconcileAll(ctx, spenders)
	if err != nil {
		return res, err
	}
	r.settleFunding(ctx, &res)
	return res, nil
}

// ReconcileSpender replays a single spender, e.g. on a pending notice.
func (r *Reconciler) ReconcileSpender(ctx context.Context, spenderID string) (CycleResult, error) {
	p, err := r.store.GetPrincipal(ctx, spenderID)
	if err != nil {
		return CycleResult{}, fmt.Errorf("load spender: %w", err)
	}
	res, err := r.reconcileAll(ctx, []core.Principal{p})
	if err == nil && res.Failed > 0 {
		err = fmt.Errorf("reconcile spender %s failed", spenderID)
	}
	return res, err
}

type registrySnapshot struct {
	categories  category.MapRegistry
	merchantIDs map[string]string
}

func (r *Reconciler) snapshot(ctx context.Context) (registrySnapshot, error) {
	merchants, err := r.store.ListMerchants(ctx)
	if err != nil {
		return registrySnapshot{}, fmt.Errorf("list merchants: %w", err)
	}
	snap := registrySnapshot{
		categories:  make(category.MapRegistry, len(merchants)),
		merchantIDs: make(map[string]string, len(merchants)),
	}
	for _, m := range merchants {
		snap.categories[m.Address] = m.Category
		snap.merchantIDs[m.Address] = m.PrincipalID
	}
	return snap, nil
}

func (r *Reconciler) reconcileAll(ctx context.Context, spenders []core.Principal) (CycleResult, error) {
	snap, err := r.snapshot(ctx)
	if err != nil {
		return CycleResult{}, err
	}
	pending, err := r.store.PendingTransfers(ctx)
	if err != nil {
		return CycleResult{}, fmt.Errorf("list pending transfers: %w", err)
	}
	pendingBySpender := make(map[string][]core.Transfer)
	for _, t := range pending {
		pendingBySpender[t.SpenderID] = append(pendingBySpender[t.SpenderID], t)
	}

	var (
		failed, applied, skipped, expired atomic.Int64
		g                                 errgroup.Group
	)
	g.SetLimit(r.config.Concurrency)

	for _, spender := range spenders {
		g.Go(func() error {
			a, s, err := r.replay(ctx, spender, snap)
			applied.Add(int64(a))
			skipped.Add(int64(s))
			if err != nil {
				failed.Add(1)
				r.logger.ErrorContext(ctx, "Spender reconciliation failed",
					log.FieldOperation, log.OpReconcile,
					log.FieldSpenderID, spender.ID,
					log.FieldError, err.Error())
				return nil
			}
			// Expiry only trusts a history that was read in full.
			expired.Add(int64(r.expire(ctx, pendingBySpender[spender.ID])))
			return nil
		})
	}
	_ = g.Wait()

	return CycleResult{
		Spenders: len(spenders),
		Failed:   int(failed.Load()),
		Applied:  int(applied.Load()),
		Skipped:  int(skipped.Load()),
		Expired:  int(expired.Load()),
	}, nil
}

// replay applies the unseen confirmed transfers of one spender.
func (r *Reconciler) replay(ctx context.Context, spender core.Principal, snap registrySnapshot) (applied, skipped int, err error) {
	if spender.Address == "" {
		return 0, 0, nil
	}
	for raw, err := range r.ledger.HistoryFrom(ctx, spender.Address, r.config.AssetID) {
		if err != nil {
			return applied, skipped, fmt.Errorf("read history: %w", err)
		}
		// Zero amount transfers carry no value, e.g. asset opt-ins.
		if raw.Amount <= 0 {
			skipped++
			continue
		}
		done, err := r.store.IsProcessed(ctx, raw.TransferID)
		if err != nil {
			return applied, skipped, err
		}
		if done {
			continue
		}

		confirmedAt := raw.ConfirmedAt
		if confirmedAt.IsZero() {
			confirmedAt = r.now()
		}
		t := core.Transfer{
			TransferID:  raw.TransferID,
			SpenderID:   spender.ID,
			Destination: raw.Receiver,
			MerchantID:  snap.merchantIDs[raw.Receiver],
			Amount:      core.Money{Units: raw.Amount},
			Category:    category.Resolve(raw, snap.categories),
			Status:      core.StatusConfirmed,
			Origin:      core.OriginLedger,
			Round:       raw.Round,
			ConfirmedAt: confirmedAt.UTC(),
		}
		ok, err := r.store.ApplyConfirmed(ctx, t)
		if err != nil {
			return applied, skipped, fmt.Errorf("apply %s: %w", raw.TransferID, err)
		}
		if ok {
			applied++
			r.logger.DebugContext(ctx, "Applied transfer from history",
				log.NewFields().
					WithOperation(log.OpReconcile).
					WithTransfer(t.SpenderID, t.TransferID, t.Amount.Units, string(t.Category)).
					ToSlice()...)
		}
	}
	return applied, skipped, nil
}

// expire marks pending transfers that are older than PendingExpiry as
// failed. Called after a full replay, so anything confirmed is already
// promoted and MarkFailed leaves it alone.
func (r *Reconciler) expire(ctx context.Context, pending []core.Transfer) int {
	cutoff := r.now().Add(-r.config.PendingExpiry)
	n := 0
	for _, t := range pending {
		if !t.CreatedAt.Before(cutoff) {
			continue
		}
		changed, err := r.store.MarkFailed(ctx, t.TransferID)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				r.logger.ErrorContext(ctx, "Failed to expire pending transfer",
					log.FieldTransferID, t.TransferID, log.FieldError, err.Error())
			}
			continue
		}
		if changed {
			n++
			r.logger.WarnContext(ctx, "Pending transfer expired",
				log.FieldOperation, log.OpResolve,
				log.FieldSpenderID, t.SpenderID,
				log.FieldTransferID, t.TransferID)
		}
	}
	return n
}

// settleFunding moves pending funding found in treasury history into the
// funding log and expires what stayed unseen past PendingExpiry. A funding
// transaction past its validity window can no longer confirm, so expiry is
// final.
func (r *Reconciler) settleFunding(ctx context.Context, res *CycleResult) {
	pending, err := r.store.PendingFunding(ctx)
	if err != nil {
		res.Failed++
		r.logger.ErrorContext(ctx, "Failed to list pending funding", log.FieldError, err.Error())
		return
	}
	if len(pending) == 0 {
		return
	}
	if err := r.replayTreasury(ctx, pending, res); err != nil {
		res.Failed++
		r.logger.ErrorContext(ctx, "Funding reconciliation failed",
			log.FieldOperation, log.OpReconcile,
			log.FieldError, err.Error())
	}
}

func (r *Reconciler) replayTreasury(ctx context.Context, pending []core.Funding, res *CycleResult) error {
	treasury, err := r.store.GetPrincipal(ctx, r.config.TreasuryID)
	if err != nil {
		return fmt.Errorf("load treasury: %w", err)
	}
	if treasury.Address == "" {
		return fmt.Errorf("treasury %s has no address", treasury.ID)
	}

	waiting := make(map[string]core.Funding, len(pending))
	for _, f := range pending {
		waiting[f.TransferID] = f
	}
	for raw, err := range r.ledger.HistoryFrom(ctx, treasury.Address, r.config.AssetID) {
		if err != nil {
			return fmt.Errorf("read treasury history: %w", err)
		}
		f, ok := waiting[raw.TransferID]
		if !ok {
			continue
		}
		confirmedAt := raw.ConfirmedAt
		if confirmedAt.IsZero() {
			confirmedAt = r.now()
		}
		settled, err := r.store.SettleFunding(ctx, raw.TransferID, confirmedAt.UTC())
		if err != nil {
			return fmt.Errorf("settle funding %s: %w", raw.TransferID, err)
		}
		delete(waiting, raw.TransferID)
		if settled {
			res.Applied++
			r.logger.InfoContext(ctx, "Pending funding confirmed",
				log.FieldOperation, log.OpResolve,
				log.FieldSpenderID, f.SpenderID,
				log.FieldTransferID, raw.TransferID,
				log.FieldAmount, f.Amount.Units)
		}
		if len(waiting) == 0 {
			return nil
		}
	}

	// History was read in full, so whatever is still waiting is unseen.
	cutoff := r.now().Add(-r.config.PendingExpiry)
	for id, f := range waiting {
		if !f.CreatedAt.Before(cutoff) {
			continue
		}
		expired, err := r.store.ExpireFunding(ctx, id)
		if err != nil {
			return fmt.Errorf("expire funding %s: %w", id, err)
		}
		if expired {
			res.Expired++
			r.logger.WarnContext(ctx, "Pending funding expired",
				log.FieldOperation, log.OpResolve,
				log.FieldSpenderID, f.SpenderID,
				log.FieldTransferID, id)
		}
	}
	return nil
}
