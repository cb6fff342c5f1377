// Package report exports guardian-facing monthly summaries. Only aggregate
// figures ever leave through here.
package report

import (
	"context"
	"fmt"

	"campuschain/internal/core"
	"campuschain/internal/log"
)

// RowWriter appends rows to an external sheet.
type RowWriter interface {
	AppendRows(ctx context.Context, rows [][]string) error
}

// AggregateReader is the privacy gate's aggregate read.
type AggregateReader interface {
	ReadAggregate(ctx context.Context, callerID, spenderID string, month core.Month) (core.AggregateView, error)
}

// Exporter turns an aggregate view into report rows.
type Exporter struct {
	reader   AggregateReader
	writer   RowWriter
	currency string
	logger   *log.Logger
}

func NewExporter(reader AggregateReader, writer RowWriter, currency string) *Exporter {
	if currency == "" {
		currency = core.DefaultCurrency
	}
	return &Exporter{
		reader:   reader,
		writer:   writer,
		currency: currency,
		logger:   log.WithComponent(log.ComponentReport),
	}
}

// Export writes the month summary of spenderID as seen by callerID and
// returns the number of rows written. The read goes through the privacy
// gate, so a caller who may not see the aggregate exports nothing.
func (e *Exporter) Export(ctx context.Context, callerID, spenderID string, month core.Month) (int, error) {
	view, err := e.reader.ReadAggregate(ctx, callerID, spenderID, month)
	if err != nil {
		return 0, err
	}
	rows := Rows(spenderID, view, e.currency)
	if err := e.writer.AppendRows(ctx, rows); err != nil {
		return 0, fmt.Errorf("append report rows: %w", err)
	}
	e.logger.InfoContext(ctx, "Report exported",
		log.FieldOperation, log.OpExport,
		log.FieldPrincipalID, callerID,
		log.FieldSpenderID, spenderID,
		log.FieldMonth, view.Month,
		"rows", len(rows))
	return len(rows), nil
}

// Rows lays out view as (month, spender, line, amount) rows: one per spend
// category, uncategorized when non zero, then the totals.
func Rows(spenderID string, view core.AggregateView, currency string) [][]string {
	row := func(label string, units int64) []string {
		return []string{view.Month, spenderID, label, core.Money{Units: units}.Display(currency)}
	}

	var rows [][]string
	for _, c := range core.SpendCategories() {
		rows = append(rows, row(string(c), view.Breakdown[c]))
	}
	if n := view.Breakdown[core.CategoryUncategorized]; n != 0 {
		rows = append(rows, row(string(core.CategoryUncategorized), n))
	}
	rows = append(rows,
		row("total spent", view.TotalSpent),
		row("total funded", view.TotalFunded),
		row("balance", view.Balance),
	)
	return rows
}
