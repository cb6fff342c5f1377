package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"campuschain/internal/core"

	"github.com/google/uuid"
)

// CategoryTotals returns the running aggregate rows of a spender for month.
func (r *SQLiteRepository) CategoryTotals(ctx context.Context, spenderID string, month core.Month) ([]core.CategoryTotal, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT category, amount FROM category_totals
		 WHERE spender_id = ? AND month = ? ORDER BY category`,
		spenderID, month.String())
	if err != nil {
		return nil, fmt.Errorf("query category totals: %w", err)
	}
	defer rows.Close()

	var out []core.CategoryTotal
	for rows.Next() {
		var (
			category string
			amount   int64
		)
		if err := rows.Scan(&category, &amount); err != nil {
			return nil, fmt.Errorf("scan category total: %w", err)
		}
		out = append(out, core.CategoryTotal{
			SpenderID: spenderID,
			Category:  core.Category(category),
			Month:     month,
			Amount:    core.Money{Units: amount},
		})
	}
	return out, rows.Err()
}

// SumConfirmed adds up the confirmed detail rows of a spender within month.
// It must always equal the sum of CategoryTotals for the same pair.
func (r *SQLiteRepository) SumConfirmed(ctx context.Context, spenderID string, month core.Month) (int64, error) {
	start, end := month.Bounds()
	var sum int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM transfers
		 WHERE spender_id = ? AND status = ? AND confirmed_at >= ? AND confirmed_at < ?`,
		spenderID, string(core.StatusConfirmed), toNanos(start), toNanos(end)).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("sum confirmed transfers: %w", err)
	}
	return sum, nil
}

// RecordFunding appends a confirmed funding transfer. Recording the same
// ledger transfer twice is a no-op.
func (r *SQLiteRepository) RecordFunding(ctx context.Context, f core.Funding) error {
	if err := f.Amount.Validate(); err != nil {
		return fmt.Errorf("%w: %v", core.ErrInvalidRequest, err)
	}
	if f.TransferID == "" || f.ConfirmedAt.IsZero() {
		return fmt.Errorf("%w: funding needs a confirmed transfer", core.ErrInvalidRequest)
	}
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO funding (id, guardian_id, spender_id, amount, transfer_id, confirmed_at)
		 VALUES (?, ?, ?, ?, ?, ?) ON CONFLICT(transfer_id) DO NOTHING`,
		f.ID, f.GuardianID, f.SpenderID, f.Amount.Units, f.TransferID, toNanos(f.ConfirmedAt))
	if err != nil {
		return fmt.Errorf("record funding: %w", err)
	}
	return nil
}

// InsertPendingFunding remembers a funding transfer whose confirmation was
// not observed. Inserting the same transfer twice is a no-op.
func (r *SQLiteRepository) InsertPendingFunding(ctx context.Context, f core.Funding) error {
	if err := f.Amount.Validate(); err != nil {
		return fmt.Errorf("%w: %v", core.ErrInvalidRequest, err)
	}
	if f.TransferID == "" {
		return fmt.Errorf("%w: pending funding needs a transfer id", core.ErrInvalidRequest)
	}
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO pending_funding (transfer_id, id, guardian_id, spender_id, amount, created_at)
		 VALUES (?, ?, ?, ?, ?, ?) ON CONFLICT(transfer_id) DO NOTHING`,
		f.TransferID, f.ID, f.GuardianID, f.SpenderID, f.Amount.Units, toNanos(f.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert pending funding: %w", err)
	}
	return nil
}

// PendingFunding lists funding transfers still awaiting confirmation, oldest
// first.
func (r *SQLiteRepository) PendingFunding(ctx context.Context) ([]core.Funding, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, guardian_id, spender_id, amount, transfer_id, created_at
		 FROM pending_funding WHERE status = 'pending' ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("query pending funding: %w", err)
	}
	defer rows.Close()

	var out []core.Funding
	for rows.Next() {
		var (
			f         core.Funding
			amount    int64
			createdAt int64
		)
		if err := rows.Scan(&f.ID, &f.GuardianID, &f.SpenderID, &amount, &f.TransferID, &createdAt); err != nil {
			return nil, fmt.Errorf("scan pending funding: %w", err)
		}
		f.Amount = core.Money{Units: amount}
		f.CreatedAt = fromNanos(createdAt)
		out = append(out, f)
	}
	return out, rows.Err()
}

// SettleFunding moves a pending funding transfer into funding as confirmed at
// confirmedAt. It reports false when the transfer was not pending.
func (r *SQLiteRepository) SettleFunding(ctx context.Context, transferID string, confirmedAt time.Time) (bool, error) {
	settled := false
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		var (
			f      core.Funding
			amount int64
		)
		err := tx.QueryRowContext(ctx,
			`SELECT id, guardian_id, spender_id, amount FROM pending_funding
			 WHERE transfer_id = ? AND status = 'pending'`, transferID).
			Scan(&f.ID, &f.GuardianID, &f.SpenderID, &amount)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("load pending funding: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO funding (id, guardian_id, spender_id, amount, transfer_id, confirmed_at)
			 VALUES (?, ?, ?, ?, ?, ?) ON CONFLICT(transfer_id) DO NOTHING`,
			f.ID, f.GuardianID, f.SpenderID, amount, transferID, toNanos(confirmedAt)); err != nil {
			return fmt.Errorf("record funding: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM pending_funding WHERE transfer_id = ?`, transferID); err != nil {
			return fmt.Errorf("delete pending funding: %w", err)
		}
		settled = true
		return nil
	})
	return settled, err
}

// ExpireFunding marks a pending funding transfer failed. It reports false
// when the transfer was not pending.
func (r *SQLiteRepository) ExpireFunding(ctx context.Context, transferID string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE pending_funding SET status = 'failed' WHERE transfer_id = ? AND status = 'pending'`,
		transferID)
	if err != nil {
		return false, fmt.Errorf("expire pending funding: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("expire pending funding: %w", err)
	}
	return n > 0, nil
}

// SumFunded totals the funding a spender received within month.
func (r *SQLiteRepository) SumFunded(ctx context.Context, spenderID string, month core.Month) (int64, error) {
	start, end := month.Bounds()
	var sum int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM funding
		 WHERE spender_id = ? AND confirmed_at >= ? AND confirmed_at < ?`,
		spenderID, toNanos(start), toNanos(end)).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("sum funding: %w", err)
	}
	return sum, nil
}
