package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"campuschain/internal/core"
)

// CreatePrincipal registers a new principal. The id must be unused.
func (r *SQLiteRepository) CreatePrincipal(ctx context.Context, p core.Principal) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("%w: %v", core.ErrInvalidRequest, err)
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = r.now()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO principals (id, role, display_name, address, created_at) VALUES (?, ?, ?, ?, ?)`,
		p.ID, string(p.Role), p.DisplayName, nullString(p.Address), toNanos(p.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert principal %s: %w", p.ID, err)
	}
	return nil
}

// GetPrincipal returns core.ErrNotFound for unknown ids.
func (r *SQLiteRepository) GetPrincipal(ctx context.Context, id string) (core.Principal, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, role, display_name, address, created_at FROM principals WHERE id = ?`, id)
	p, err := scanPrincipal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Principal{}, fmt.Errorf("principal %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.Principal{}, fmt.Errorf("get principal %s: %w", id, err)
	}
	return p, nil
}

// TrackedSpenders lists spenders that hold a custodial address, i.e. the
// accounts whose ledger history the reconciler replays.
func (r *SQLiteRepository) TrackedSpenders(ctx context.Context) ([]core.Principal, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, role, display_name, address, created_at FROM principals
		 WHERE role = ? AND address IS NOT NULL ORDER BY id`, string(core.RoleSpender))
	if err != nil {
		return nil, fmt.Errorf("list tracked spenders: %w", err)
	}
	defer rows.Close()

	var out []core.Principal
	for rows.Next() {
		p, err := scanPrincipal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan spender: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// LinkGuardian records that guardianID may read spenderID's aggregates.
// Linking twice is a no-op.
func (r *SQLiteRepository) LinkGuardian(ctx context.Context, guardianID, spenderID string) error {
	guardian, err := r.GetPrincipal(ctx, guardianID)
	if err != nil {
		return err
	}
	spender, err := r.GetPrincipal(ctx, spenderID)
	if err != nil {
		return err
	}
	if guardian.Role != core.RoleGuardian || spender.Role != core.RoleSpender {
		return fmt.Errorf("%w: %s cannot guard %s", core.ErrInvalidRequest, guardian.Role, spender.Role)
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO guardianships (guardian_id, spender_id, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(guardian_id, spender_id) DO NOTHING`,
		guardianID, spenderID, toNanos(r.now()))
	if err != nil {
		return fmt.Errorf("link guardian %s to %s: %w", guardianID, spenderID, err)
	}
	return nil
}

func (r *SQLiteRepository) IsGuardianOf(ctx context.Context, guardianID, spenderID string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx,
		`SELECT 1 FROM guardianships WHERE guardian_id = ? AND spender_id = ?`,
		guardianID, spenderID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check guardianship: %w", err)
	}
	return true, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPrincipal(s rowScanner) (core.Principal, error) {
	var (
		p         core.Principal
		role      string
		address   sql.NullString
		createdAt int64
	)
	if err := s.Scan(&p.ID, &role, &p.DisplayName, &address, &createdAt); err != nil {
		return core.Principal{}, err
	}
	p.Role = core.Role(role)
	p.Address = address.String
	p.CreatedAt = fromNanos(createdAt)
	return p, nil
}
