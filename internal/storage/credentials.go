package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"campuschain/internal/core"
)

// CredentialRecord is a vault credential at rest. Sealed is ciphertext only.
type CredentialRecord struct {
	PrincipalID string
	Address     string
	Sealed      []byte
	CreatedAt   time.Time
}

// InsertCredential stores rec, refusing to replace an existing credential.
func (r *SQLiteRepository) InsertCredential(ctx context.Context, rec CredentialRecord) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		var one int
		err := tx.QueryRowContext(ctx,
			`SELECT 1 FROM credentials WHERE principal_id = ?`, rec.PrincipalID).Scan(&one)
		if err == nil {
			return fmt.Errorf("principal %s: %w", rec.PrincipalID, core.ErrCredentialExists)
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("check credential: %w", err)
		}
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = r.now()
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO credentials (principal_id, address, sealed, created_at) VALUES (?, ?, ?, ?)`,
			rec.PrincipalID, rec.Address, rec.Sealed, toNanos(rec.CreatedAt)); err != nil {
			return fmt.Errorf("insert credential: %w", err)
		}
		return nil
	})
}

// GetCredential returns core.ErrNotFound when no credential exists.
func (r *SQLiteRepository) GetCredential(ctx context.Context, principalID string) (CredentialRecord, error) {
	var (
		rec       CredentialRecord
		createdAt int64
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT principal_id, address, sealed, created_at FROM credentials WHERE principal_id = ?`,
		principalID).Scan(&rec.PrincipalID, &rec.Address, &rec.Sealed, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return CredentialRecord{}, fmt.Errorf("credential for %s: %w", principalID, core.ErrNotFound)
	}
	if err != nil {
		return CredentialRecord{}, fmt.Errorf("get credential: %w", err)
	}
	rec.CreatedAt = fromNanos(createdAt)
	return rec, nil
}
