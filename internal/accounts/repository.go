package accounts

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-school/backend/internal/models"
)

const accountColumns = `id, email, external_id, max_concurrent, in_use, active, last_acquired_at, created_at, updated_at`

// Repository handles host account persistence. Counter mutations are single
// SQL statements so concurrent session starts and ends cannot exceed the cap
// or leak a lease, even across multiple server instances.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a host accounts repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanAccount(row pgx.Row) (*models.HostAccount, error) {
	var a models.HostAccount
	err := row.Scan(&a.ID, &a.Email, &a.ExternalID, &a.MaxConcurrent, &a.InUse,
		&a.Active, &a.LastAcquiredAt, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// AcquireOne atomically claims capacity on the least-recently-acquired active
// account. SKIP LOCKED keeps concurrent acquirers from serializing on the
// same candidate row.
func (r *Repository) AcquireOne(ctx context.Context) (*models.HostAccount, error) {
	q := `UPDATE host_accounts
		SET in_use = in_use + 1, last_acquired_at = NOW(), updated_at = NOW()
		WHERE id = (
			SELECT id FROM host_accounts
			WHERE active AND in_use < max_concurrent
			ORDER BY last_acquired_at ASC NULLS FIRST
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + accountColumns
	acct, err := scanAccount(r.pool.QueryRow(ctx, q))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPoolExhausted
		}
		return nil, fmt.Errorf("acquire account: %w", err)
	}
	return acct, nil
}

// ReleaseOne atomically returns capacity, floored at zero.
func (r *Repository) ReleaseOne(ctx context.Context, id uuid.UUID) error {
	const q = `UPDATE host_accounts
		SET in_use = GREATEST(in_use - 1, 0), updated_at = NOW()
		WHERE id = $1`
	_, err := r.pool.Exec(ctx, q, id)
	if err != nil {
		return fmt.Errorf("release account: %w", err)
	}
	return nil
}

// SetInUse overwrites the counter from provider-reported truth (reconciler
// only), clamped to the account's cap.
func (r *Repository) SetInUse(ctx context.Context, id uuid.UUID, inUse int) error {
	const q = `UPDATE host_accounts
		SET in_use = LEAST(GREATEST($2, 0), max_concurrent), updated_at = NOW()
		WHERE id = $1`
	_, err := r.pool.Exec(ctx, q, id, inUse)
	if err != nil {
		return fmt.Errorf("set in_use: %w", err)
	}
	return nil
}

// ListActive returns all active accounts.
func (r *Repository) ListActive(ctx context.Context) ([]models.HostAccount, error) {
	q := `SELECT ` + accountColumns + ` FROM host_accounts WHERE active ORDER BY email`
	return r.list(ctx, q)
}

// List returns all accounts, active or not.
func (r *Repository) List(ctx context.Context) ([]models.HostAccount, error) {
	q := `SELECT ` + accountColumns + ` FROM host_accounts ORDER BY email`
	return r.list(ctx, q)
}

func (r *Repository) list(ctx context.Context, q string, args ...any) ([]models.HostAccount, error) {
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.HostAccount
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// Create provisions a new account in the pool.
func (r *Repository) Create(ctx context.Context, email, externalID string, maxConcurrent int) (*models.HostAccount, error) {
	q := `INSERT INTO host_accounts (id, email, external_id, max_concurrent)
		VALUES (gen_random_uuid(), $1, $2, $3)
		RETURNING ` + accountColumns
	acct, err := scanAccount(r.pool.QueryRow(ctx, q, email, externalID, maxConcurrent))
	if err != nil {
		return nil, fmt.Errorf("create account: %w", err)
	}
	return acct, nil
}

// SetActive activates or retires an account. Retired accounts keep their
// rows; sessions referencing them stay resolvable.
func (r *Repository) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	const q = `UPDATE host_accounts SET active = $2, updated_at = NOW() WHERE id = $1`
	tag, err := r.pool.Exec(ctx, q, id, active)
	if err != nil {
		return fmt.Errorf("set active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("account %s not found", id)
	}
	return nil
}
