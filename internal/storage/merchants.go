package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"campuschain/internal/core"
)

// CreateMerchant adds a registry entry for an existing merchant principal.
func (r *SQLiteRepository) CreateMerchant(ctx context.Context, m core.Merchant) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("%w: %v", core.ErrInvalidRequest, err)
	}
	p, err := r.GetPrincipal(ctx, m.PrincipalID)
	if err != nil {
		return err
	}
	if p.Role != core.RoleMerchant {
		return fmt.Errorf("%w: principal %s is a %s", core.ErrInvalidRequest, p.ID, p.Role)
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO merchants (principal_id, name, category, address) VALUES (?, ?, ?, ?)`,
		m.PrincipalID, m.Name, string(m.Category), m.Address)
	if err != nil {
		return fmt.Errorf("insert merchant %s: %w", m.PrincipalID, err)
	}
	return nil
}

// GetMerchant returns core.ErrNotFound when principalID is not a registered
// merchant.
func (r *SQLiteRepository) GetMerchant(ctx context.Context, principalID string) (core.Merchant, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT principal_id, name, category, address FROM merchants WHERE principal_id = ?`, principalID)
	m, err := scanMerchant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Merchant{}, fmt.Errorf("merchant %s: %w", principalID, core.ErrNotFound)
	}
	if err != nil {
		return core.Merchant{}, fmt.Errorf("get merchant %s: %w", principalID, err)
	}
	return m, nil
}

// MerchantByAddress looks a merchant up by its receiving address.
func (r *SQLiteRepository) MerchantByAddress(ctx context.Context, address string) (core.Merchant, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT principal_id, name, category, address FROM merchants WHERE address = ?`, address)
	m, err := scanMerchant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Merchant{}, fmt.Errorf("merchant at %s: %w", address, core.ErrNotFound)
	}
	if err != nil {
		return core.Merchant{}, fmt.Errorf("get merchant by address: %w", err)
	}
	return m, nil
}

func (r *SQLiteRepository) ListMerchants(ctx context.Context) ([]core.Merchant, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT principal_id, name, category, address FROM merchants ORDER BY principal_id`)
	if err != nil {
		return nil, fmt.Errorf("list merchants: %w", err)
	}
	defer rows.Close()

	var out []core.Merchant
	for rows.Next() {
		m, err := scanMerchant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan merchant: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanMerchant(s rowScanner) (core.Merchant, error) {
	var (
		m        core.Merchant
		category string
	)
	if err := s.Scan(&m.PrincipalID, &m.Name, &category, &m.Address); err != nil {
		return core.Merchant{}, err
	}
	m.Category = core.Category(category)
	return m, nil
}
