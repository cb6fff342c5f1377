package core

import "time"

// AggregateView is the guardian-facing summary for one spender and month.
// It carries category totals only: no transfer ids, counterparties or
// timestamps may ever be added here.
type AggregateView struct {
	Month       string             `json:"month"`
	Breakdown   map[Category]int64 `json:"breakdown"`
	TotalFunded int64              `json:"totalFunded"`
	TotalSpent  int64              `json:"totalSpent"`
	Balance     int64              `json:"balance"`
}

// DetailEntry is one line of the spender-facing transaction log.
type DetailEntry struct {
	TransferID   string         `json:"transferId"`
	Amount       int64          `json:"amount"`
	Category     Category       `json:"category"`
	Counterparty string         `json:"counterparty,omitempty"`
	Status       TransferStatus `json:"status"`
	ConfirmedAt  *time.Time     `json:"confirmedAt,omitempty"`
}

// NewDetailEntry projects a stored transfer onto the detail API shape.
func NewDetailEntry(t Transfer) DetailEntry {
	e := DetailEntry{
		TransferID:   t.TransferID,
		Amount:       t.Amount.Units,
		Category:     t.Category,
		Counterparty: t.Destination,
		Status:       t.Status,
	}
	if t.MerchantID != "" {
		e.Counterparty = t.MerchantID
	}
	if !t.ConfirmedAt.IsZero() {
		at := t.ConfirmedAt.UTC()
		e.ConfirmedAt = &at
	}
	return e
}
