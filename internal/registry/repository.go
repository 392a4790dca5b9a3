package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-school/backend/internal/models"
)

var (
	// ErrNotFound is returned when an entry id does not exist.
	ErrNotFound = errors.New("registry: entry not found")
	// ErrStaleEntry is returned when a versioned write loses the race: the
	// row moved on and the caller must discard its result.
	ErrStaleEntry = errors.New("registry: entry changed concurrently")
)

const entryColumns = `id, session_id, source_artifact_id, artifact_kind, status, storage_provider,
	duration_seconds, byte_size, source_download_url, playback_url, download_url,
	durable_object_id, last_error, attempts, version, created_at, updated_at, deleted_at`

// Repository persists recording entries. Every status write is a
// compare-and-set on (id, version, expected status); a write that matches no
// row reports ErrStaleEntry so the caller discards instead of overwriting.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a recording registry repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanEntry(row pgx.Row) (*models.RecordingEntry, error) {
	var e models.RecordingEntry
	err := row.Scan(&e.ID, &e.SessionID, &e.SourceArtifactID, &e.ArtifactKind, &e.Status,
		&e.StorageProvider, &e.DurationSeconds, &e.ByteSize, &e.SourceDownloadURL,
		&e.PlaybackURL, &e.DownloadURL, &e.DurableObjectID, &e.LastError,
		&e.Attempts, &e.Version, &e.CreatedAt, &e.UpdatedAt, &e.DeletedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// Upsert inserts the entry unless (session_id, source_artifact_id) already
// exists. On re-delivery of a known artifact the existing row is loaded into e
// and created=false is reported, so the caller can see what state it is in.
func (r *Repository) Upsert(ctx context.Context, e *models.RecordingEntry) (created bool, err error) {
	const q = `INSERT INTO recording_entries
		(id, session_id, source_artifact_id, artifact_kind, status, storage_provider,
		 duration_seconds, byte_size, source_download_url)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (session_id, source_artifact_id) DO NOTHING
		RETURNING id, version, created_at, updated_at`
	err = r.pool.QueryRow(ctx, q, e.SessionID, e.SourceArtifactID, e.ArtifactKind,
		e.Status, e.StorageProvider, e.DurationSeconds, e.ByteSize, e.SourceDownloadURL).
		Scan(&e.ID, &e.Version, &e.CreatedAt, &e.UpdatedAt)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return false, fmt.Errorf("upsert entry: %w", err)
	}
	sel := `SELECT ` + entryColumns + ` FROM recording_entries WHERE session_id = $1 AND source_artifact_id = $2`
	existing, err := scanEntry(r.pool.QueryRow(ctx, sel, e.SessionID, e.SourceArtifactID))
	if err != nil {
		return false, fmt.Errorf("load existing entry: %w", err)
	}
	*e = *existing
	return false, nil
}

// GetByID returns an entry by id.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.RecordingEntry, error) {
	q := `SELECT ` + entryColumns + ` FROM recording_entries WHERE id = $1`
	e, err := scanEntry(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return e, nil
}

// ListBySession returns all entries for a session, newest first.
func (r *Repository) ListBySession(ctx context.Context, sessionID string) ([]models.RecordingEntry, error) {
	q := `SELECT ` + entryColumns + ` FROM recording_entries WHERE session_id = $1 ORDER BY created_at DESC`
	return r.list(ctx, q, sessionID)
}

// ListByStatus returns up to limit entries in the given status, oldest first.
func (r *Repository) ListByStatus(ctx context.Context, status models.RecordingStatus, limit int) ([]models.RecordingEntry, error) {
	q := `SELECT ` + entryColumns + ` FROM recording_entries WHERE status = $1 ORDER BY created_at ASC LIMIT $2`
	return r.list(ctx, q, status, limit)
}

func (r *Repository) list(ctx context.Context, q string, args ...any) ([]models.RecordingEntry, error) {
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.RecordingEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// MarkProcessing claims the entry for a migration worker. Succeeds only from
// a claimable status at the expected version; returns the new version.
func (r *Repository) MarkProcessing(ctx context.Context, id uuid.UUID, version int) (int, error) {
	const q = `UPDATE recording_entries
		SET status = $3, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $2 AND status IN ($4, $5)
		RETURNING version`
	var newVersion int
	err := r.pool.QueryRow(ctx, q, id, version,
		models.RecordingStatusProcessing, models.RecordingStatusPending, models.RecordingStatusError).
		Scan(&newVersion)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrStaleEntry
		}
		return 0, fmt.Errorf("mark processing: %w", err)
	}
	return newVersion, nil
}

// MarkReady persists the migration result and the ready status in one
// statement, so a crash cannot leave a ready row without its durable fields.
func (r *Repository) MarkReady(ctx context.Context, id uuid.UUID, version int,
	durableObjectID, playbackURL, downloadURL string, durationSeconds int, byteSize int64) error {
	const q = `UPDATE recording_entries
		SET status = $3, storage_provider = $4, durable_object_id = $5,
		    playback_url = $6, download_url = $7, duration_seconds = $8, byte_size = $9,
		    last_error = '', version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $2 AND status = $10`
	tag, err := r.pool.Exec(ctx, q, id, version,
		models.RecordingStatusReady, models.StorageProviderDurable,
		durableObjectID, playbackURL, downloadURL, durationSeconds, byteSize,
		models.RecordingStatusProcessing)
	if err != nil {
		return fmt.Errorf("mark ready: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleEntry
	}
	return nil
}

// MarkError records a failed attempt and returns the attempt count so the
// worker can decide between scheduling a retry and freezing the entry.
func (r *Repository) MarkError(ctx context.Context, id uuid.UUID, version int, message string) (attempts int, err error) {
	const q = `UPDATE recording_entries
		SET status = $3, last_error = $4, attempts = attempts + 1,
		    version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $2 AND status = $5
		RETURNING attempts`
	err = r.pool.QueryRow(ctx, q, id, version,
		models.RecordingStatusError, message, models.RecordingStatusProcessing).
		Scan(&attempts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrStaleEntry
		}
		return 0, fmt.Errorf("mark error: %w", err)
	}
	return attempts, nil
}

// MarkDeleted records the reaper's terminal transition after the source copy
// is confirmed gone.
func (r *Repository) MarkDeleted(ctx context.Context, id uuid.UUID, version int) error {
	const q = `UPDATE recording_entries
		SET status = $3, deleted_at = NOW(), version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $2 AND status = $4`
	tag, err := r.pool.Exec(ctx, q, id, version,
		models.RecordingStatusDeleted, models.RecordingStatusReady)
	if err != nil {
		return fmt.Errorf("mark deleted: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleEntry
	}
	return nil
}

// MarkArchived moves a ready entry to the archived terminal state.
func (r *Repository) MarkArchived(ctx context.Context, id uuid.UUID, version int) error {
	const q = `UPDATE recording_entries
		SET status = $3, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $2 AND status = $4`
	tag, err := r.pool.Exec(ctx, q, id, version,
		models.RecordingStatusArchived, models.RecordingStatusReady)
	if err != nil {
		return fmt.Errorf("mark archived: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleEntry
	}
	return nil
}

// ResetForRetry is the operator recovery path: a frozen error entry goes back
// to pending with its attempt counter cleared.
func (r *Repository) ResetForRetry(ctx context.Context, id uuid.UUID) (*models.RecordingEntry, error) {
	q := `UPDATE recording_entries
		SET status = $2, attempts = 0, last_error = '', version = version + 1, updated_at = NOW()
		WHERE id = $1 AND status = $3
		RETURNING ` + entryColumns
	e, err := scanEntry(r.pool.QueryRow(ctx, q, id, models.RecordingStatusPending, models.RecordingStatusError))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("reset for retry: %w", err)
	}
	return e, nil
}
