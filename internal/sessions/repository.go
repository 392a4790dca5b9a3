package sessions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-school/backend/internal/models"
)

var (
	ErrNotFound     = errors.New("sessions: not found")
	ErrAlreadyEnded = errors.New("sessions: already ended")
)

const sessionColumns = `id, external_id, host_account_id, topic, started_at, ended_at, created_at`

// Repository persists class sessions.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create records a started session holding a lease on hostAccountID.
func (r *Repository) Create(ctx context.Context, externalID string, hostAccountID uuid.UUID, topic string) (*models.ClassSession, error) {
	const q = `INSERT INTO class_sessions (id, external_id, host_account_id, topic, started_at)
		VALUES (gen_random_uuid(), $1, $2, $3, NOW())
		RETURNING ` + sessionColumns
	return r.scanOne(r.pool.QueryRow(ctx, q, externalID, hostAccountID, topic))
}

// End stamps ended_at exactly once. A second call returns ErrAlreadyEnded so
// the caller does not release the account lease twice.
func (r *Repository) End(ctx context.Context, id uuid.UUID) (*models.ClassSession, error) {
	const q = `UPDATE class_sessions SET ended_at = NOW()
		WHERE id = $1 AND ended_at IS NULL
		RETURNING ` + sessionColumns
	sess, err := r.scanOne(r.pool.QueryRow(ctx, q, id))
	if err == nil {
		return sess, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if _, getErr := r.GetByID(ctx, id); getErr == nil {
		return nil, ErrAlreadyEnded
	}
	return nil, ErrNotFound
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.ClassSession, error) {
	q := `SELECT ` + sessionColumns + ` FROM class_sessions WHERE id = $1`
	return r.scanOne(r.pool.QueryRow(ctx, q, id))
}

// ListEndedSince returns sessions that ended at or after the cutoff, oldest
// first. The recording poller scans these.
func (r *Repository) ListEndedSince(ctx context.Context, since time.Time) ([]models.ClassSession, error) {
	q := `SELECT ` + sessionColumns + ` FROM class_sessions
		WHERE ended_at IS NOT NULL AND ended_at >= $1
		ORDER BY ended_at ASC`
	rows, err := r.pool.Query(ctx, q, since)
	if err != nil {
		return nil, fmt.Errorf("list ended sessions: %w", err)
	}
	defer rows.Close()

	var out []models.ClassSession
	for rows.Next() {
		var s models.ClassSession
		if err := rows.Scan(&s.ID, &s.ExternalID, &s.HostAccountID, &s.Topic,
			&s.StartedAt, &s.EndedAt, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *Repository) scanOne(row pgx.Row) (*models.ClassSession, error) {
	var s models.ClassSession
	err := row.Scan(&s.ID, &s.ExternalID, &s.HostAccountID, &s.Topic,
		&s.StartedAt, &s.EndedAt, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	return &s, nil
}
