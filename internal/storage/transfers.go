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

const transferColumns = `id, transfer_id, spender_id, destination, merchant_id, amount, category,
	status, origin, round, confirmed_at, created_at`

// ApplyConfirmed records t as a confirmed transfer and adds its amount to the
// spender's category total for the month of t.ConfirmedAt, atomically.
//
// The external transfer id is the idempotency key: a row that is already
// confirmed is left untouched and applied is false. A pending or failed row
// with the same id is promoted. Both reconciliation paths go through here.
func (r *SQLiteRepository) ApplyConfirmed(ctx context.Context, t core.Transfer) (applied bool, err error) {
	if t.TransferID == "" || t.SpenderID == "" {
		return false, fmt.Errorf("%w: transfer and spender ids are required", core.ErrInvalidRequest)
	}
	if err := t.Amount.Validate(); err != nil {
		return false, fmt.Errorf("%w: %v", core.ErrInvalidRequest, err)
	}
	if !t.Category.IsKnown() {
		return false, fmt.Errorf("%w: category %q", core.ErrInvalidRequest, t.Category)
	}
	if t.ConfirmedAt.IsZero() {
		return false, fmt.Errorf("%w: confirmed transfer without confirmation time", core.ErrInvalidRequest)
	}

	now := r.now()
	err = r.withTx(ctx, func(tx *sql.Tx) error {
		var status string
		err := tx.QueryRowContext(ctx,
			`SELECT status FROM transfers WHERE transfer_id = ?`, t.TransferID).Scan(&status)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			id := t.ID
			if id == "" {
				id = uuid.NewString()
			}
			created := t.CreatedAt
			if created.IsZero() {
				created = now
			}
			origin := t.Origin
			if origin == "" {
				origin = core.OriginLedger
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO transfers (`+transferColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				id, t.TransferID, t.SpenderID, t.Destination, nullString(t.MerchantID), t.Amount.Units,
				string(t.Category), string(core.StatusConfirmed), string(origin), int64(t.Round),
				toNanos(t.ConfirmedAt), toNanos(created)); err != nil {
				return fmt.Errorf("insert confirmed transfer: %w", err)
			}
		case err != nil:
			return fmt.Errorf("look up transfer: %w", err)
		case core.TransferStatus(status) == core.StatusConfirmed:
			applied = false
			return r.markProcessed(ctx, tx, t.TransferID, now)
		default:
			if _, err := tx.ExecContext(ctx,
				`UPDATE transfers SET status = ?, amount = ?, category = ?, round = ?, confirmed_at = ?
				 WHERE transfer_id = ?`,
				string(core.StatusConfirmed), t.Amount.Units, string(t.Category), int64(t.Round),
				toNanos(t.ConfirmedAt), t.TransferID); err != nil {
				return fmt.Errorf("promote transfer: %w", err)
			}
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO category_totals (spender_id, category, month, amount) VALUES (?, ?, ?, ?)
			 ON CONFLICT(spender_id, category, month) DO UPDATE SET amount = amount + excluded.amount`,
			t.SpenderID, string(t.Category), t.Month().String(), t.Amount.Units); err != nil {
			return fmt.Errorf("increment category total: %w", err)
		}
		applied = true
		return r.markProcessed(ctx, tx, t.TransferID, now)
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

func (r *SQLiteRepository) markProcessed(ctx context.Context, tx *sql.Tx, transferID string, at time.Time) error {
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO processed_transfers (transfer_id, processed_at) VALUES (?, ?)
		 ON CONFLICT(transfer_id) DO NOTHING`, transferID, toNanos(at)); err != nil {
		return fmt.Errorf("mark processed: %w", err)
	}
	return nil
}

// InsertTransfer stores a pending or failed detail row. A row with the same
// external id is kept as is; the ledger outcome only moves forward through
// ApplyConfirmed and MarkFailed.
func (r *SQLiteRepository) InsertTransfer(ctx context.Context, t core.Transfer) error {
	if t.Status == core.StatusConfirmed {
		return fmt.Errorf("%w: confirmed transfers go through ApplyConfirmed", core.ErrInvalidRequest)
	}
	if t.TransferID == "" || t.SpenderID == "" {
		return fmt.Errorf("%w: transfer and spender ids are required", core.ErrInvalidRequest)
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = r.now()
	}
	if t.Origin == "" {
		t.Origin = core.OriginExecutor
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO transfers (`+transferColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(transfer_id) DO NOTHING`,
		t.ID, t.TransferID, t.SpenderID, t.Destination, nullString(t.MerchantID), t.Amount.Units,
		string(t.Category), string(t.Status), string(t.Origin), int64(t.Round), nullNanos(t.ConfirmedAt),
		toNanos(t.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert %s transfer: %w", t.Status, err)
	}
	return nil
}

// MarkFailed moves a pending transfer to failed. Other states are left alone
// and reported as not changed.
func (r *SQLiteRepository) MarkFailed(ctx context.Context, transferID string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE transfers SET status = ? WHERE transfer_id = ? AND status = ?`,
		string(core.StatusFailed), transferID, string(core.StatusPending))
	if err != nil {
		return false, fmt.Errorf("mark transfer failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark transfer failed: %w", err)
	}
	return n > 0, nil
}

// GetTransfer returns core.ErrNotFound for unknown external ids.
func (r *SQLiteRepository) GetTransfer(ctx context.Context, transferID string) (core.Transfer, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+transferColumns+` FROM transfers WHERE transfer_id = ?`, transferID)
	t, err := scanTransfer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Transfer{}, fmt.Errorf("transfer %s: %w", transferID, core.ErrNotFound)
	}
	if err != nil {
		return core.Transfer{}, fmt.Errorf("get transfer: %w", err)
	}
	return t, nil
}

// ListDetail returns every detail row of a spender, ordered by ledger
// confirmation. Rows without a confirmation follow, oldest first.
func (r *SQLiteRepository) ListDetail(ctx context.Context, spenderID string) ([]core.Transfer, error) {
	return r.queryTransfers(ctx,
		`SELECT `+transferColumns+` FROM transfers WHERE spender_id = ?
		 ORDER BY confirmed_at IS NULL, confirmed_at, round, created_at`, spenderID)
}

// ListDetailForMerchant returns only the rows a spender paid to merchantID.
func (r *SQLiteRepository) ListDetailForMerchant(ctx context.Context, spenderID, merchantID string) ([]core.Transfer, error) {
	return r.queryTransfers(ctx,
		`SELECT `+transferColumns+` FROM transfers WHERE spender_id = ? AND merchant_id = ?
		 ORDER BY confirmed_at IS NULL, confirmed_at, round, created_at`, spenderID, merchantID)
}

// PendingTransfers lists rows whose ledger outcome is still unknown.
func (r *SQLiteRepository) PendingTransfers(ctx context.Context) ([]core.Transfer, error) {
	return r.queryTransfers(ctx,
		`SELECT `+transferColumns+` FROM transfers WHERE status = ? ORDER BY created_at`,
		string(core.StatusPending))
}

// IsProcessed reports whether transferID has already been through
// ApplyConfirmed.
func (r *SQLiteRepository) IsProcessed(ctx context.Context, transferID string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx,
		`SELECT 1 FROM processed_transfers WHERE transfer_id = ?`, transferID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check processed mark: %w", err)
	}
	return true, nil
}

func (r *SQLiteRepository) queryTransfers(ctx context.Context, query string, args ...any) ([]core.Transfer, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transfers: %w", err)
	}
	defer rows.Close()

	var out []core.Transfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transfer: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTransfer(s rowScanner) (core.Transfer, error) {
	var (
		t           core.Transfer
		merchantID  sql.NullString
		category    string
		status      string
		origin      string
		round       int64
		confirmedAt sql.NullInt64
		createdAt   int64
	)
	if err := s.Scan(&t.ID, &t.TransferID, &t.SpenderID, &t.Destination, &merchantID, &t.Amount.Units,
		&category, &status, &origin, &round, &confirmedAt, &createdAt); err != nil {
		return core.Transfer{}, err
	}
	t.MerchantID = merchantID.String
	t.Category = core.Category(category)
	t.Status = core.TransferStatus(status)
	t.Origin = core.TransferOrigin(origin)
	t.Round = uint64(round)
	if confirmedAt.Valid {
		t.ConfirmedAt = fromNanos(confirmedAt.Int64)
	}
	t.CreatedAt = fromNanos(createdAt)
	return t, nil
}
