package services

import (
	"context"
	"errors"
	"fmt"

	"campuschain/internal/core"
	"campuschain/internal/ledger"
	"campuschain/internal/log"
)

// PrivacyStore is the read side the gate needs.
type PrivacyStore interface {
	GetPrincipal(ctx context.Context, id string) (core.Principal, error)
	IsGuardianOf(ctx context.Context, guardianID, spenderID string) (bool, error)
	ListDetail(ctx context.Context, spenderID string) ([]core.Transfer, error)
	ListDetailForMerchant(ctx context.Context, spenderID, merchantID string) ([]core.Transfer, error)
	CategoryTotals(ctx context.Context, spenderID string, month core.Month) ([]core.CategoryTotal, error)
	SumFunded(ctx context.Context, spenderID string, month core.Month) (int64, error)
}

// PrivacyGate is the only read path over spending data. Spenders see their
// own itemized log, merchants see the rows paid to them, guardians see the
// category aggregate of the spenders they are linked to and nothing else.
type PrivacyGate struct {
	store   PrivacyStore
	ledger  ledger.Client
	assetID uint64
	logger  *log.Logger
}

func NewPrivacyGate(store PrivacyStore, client ledger.Client, assetID uint64) *PrivacyGate {
	return &PrivacyGate{
		store:   store,
		ledger:  client,
		assetID: assetID,
		logger:  log.WithComponent(log.ComponentPrivacy),
	}
}

// ReadDetail returns the itemized log of spenderID as visible to callerID.
func (g *PrivacyGate) ReadDetail(ctx context.Context, callerID, spenderID string) ([]core.DetailEntry, error) {
	caller, err := g.caller(ctx, callerID)
	if err != nil {
		return nil, err
	}

	var rows []core.Transfer
	switch {
	case caller.ID == spenderID && caller.Role == core.RoleSpender:
		rows, err = g.store.ListDetail(ctx, spenderID)
	case caller.Role == core.RoleMerchant:
		rows, err = g.store.ListDetailForMerchant(ctx, spenderID, caller.ID)
	default:
		g.deny(ctx, "detail", callerID, spenderID)
		return nil, core.ErrForbidden
	}
	if err != nil {
		return nil, fmt.Errorf("read detail: %w", err)
	}

	entries := make([]core.DetailEntry, 0, len(rows))
	for _, t := range rows {
		entries = append(entries, core.NewDetailEntry(t))
	}
	return entries, nil
}

// ReadAggregate returns the month summary of spenderID. Only the spender and
// linked guardians may read it; everyone else gets core.ErrForbidden, never
// an empty view.
func (g *PrivacyGate) ReadAggregate(ctx context.Context, callerID, spenderID string, month core.Month) (core.AggregateView, error) {
	if err := month.Validate(); err != nil {
		return core.AggregateView{}, fmt.Errorf("%w: %v", core.ErrInvalidRequest, err)
	}
	caller, err := g.caller(ctx, callerID)
	if err != nil {
		return core.AggregateView{}, err
	}

	allowed := caller.ID == spenderID && caller.Role == core.RoleSpender
	if !allowed && caller.Role == core.RoleGuardian {
		allowed, err = g.store.IsGuardianOf(ctx, caller.ID, spenderID)
		if err != nil {
			return core.AggregateView{}, fmt.Errorf("check guardianship: %w", err)
		}
	}
	if !allowed {
		g.deny(ctx, "aggregate", callerID, spenderID)
		return core.AggregateView{}, core.ErrForbidden
	}

	spender, err := g.store.GetPrincipal(ctx, spenderID)
	if err != nil {
		return core.AggregateView{}, fmt.Errorf("load spender: %w", err)
	}
	totals, err := g.store.CategoryTotals(ctx, spenderID, month)
	if err != nil {
		return core.AggregateView{}, fmt.Errorf("read category totals: %w", err)
	}
	funded, err := g.store.SumFunded(ctx, spenderID, month)
	if err != nil {
		return core.AggregateView{}, fmt.Errorf("read funding: %w", err)
	}

	view := core.AggregateView{
		Month:       month.String(),
		Breakdown:   make(map[core.Category]int64, len(totals)+3),
		TotalFunded: funded,
	}
	for _, c := range core.SpendCategories() {
		view.Breakdown[c] = 0
	}
	for _, ct := range totals {
		view.Breakdown[ct.Category] += ct.Amount.Units
		view.TotalSpent += ct.Amount.Units
	}

	if spender.Address != "" {
		balance, err := g.ledger.Balance(ctx, spender.Address, g.assetID)
		if err != nil {
			return core.AggregateView{}, fmt.Errorf("%w: read balance: %v", core.ErrLedgerUnavailable, err)
		}
		view.Balance = balance
	}
	return view, nil
}

// caller resolves the requesting principal. Unknown callers are forbidden
// rather than not found so that probing reveals nothing.
func (g *PrivacyGate) caller(ctx context.Context, callerID string) (core.Principal, error) {
	p, err := g.store.GetPrincipal(ctx, callerID)
	if errors.Is(err, core.ErrNotFound) {
		return core.Principal{}, core.ErrForbidden
	}
	if err != nil {
		return core.Principal{}, fmt.Errorf("load caller: %w", err)
	}
	return p, nil
}

func (g *PrivacyGate) deny(ctx context.Context, view, callerID, spenderID string) {
	g.logger.WarnContext(ctx, "Read denied",
		log.FieldOperation, log.OpRead,
		"view", view,
		log.FieldPrincipalID, callerID,
		log.FieldSpenderID, spenderID)
}
