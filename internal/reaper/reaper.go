package reaper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/meridian-school/backend/internal/events"
	"github.com/meridian-school/backend/internal/models"
	"github.com/meridian-school/backend/internal/provider"
	"github.com/meridian-school/backend/internal/registry"
	"github.com/meridian-school/backend/pkg/storage"
)

// Registry is the slice of the recording registry the reaper needs.
type Registry interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.RecordingEntry, error)
	ListByStatus(ctx context.Context, status models.RecordingStatus, limit int) ([]models.RecordingEntry, error)
	MarkDeleted(ctx context.Context, id uuid.UUID, version int) error
}

// DurableStore verifies the migrated copy before the source is touched.
type DurableStore interface {
	GetObjectMeta(ctx context.Context, key string) (storage.ObjectMeta, error)
}

// SourceStore owns the provider-side artifact.
type SourceStore interface {
	ResolveArtifact(ctx context.Context, artifactID string) (bool, error)
	DeleteArtifact(ctx context.Context, artifactID string) error
}

// EventSink receives reap outcome notifications.
type EventSink interface {
	Publish(ctx context.Context, ev events.Event)
}

// Reaper deletes source-side copies of recordings whose durable copy has been
// verified. Source deletion is irreversible, so every safety check re-runs at
// reap time against live state; a failed check aborts that entry and the sweep
// moves on.
type Reaper struct {
	registry Registry
	durable  DurableStore
	source   SourceStore
	events   EventSink
	interval time.Duration
	limit    int
	logger   *zap.Logger
}

func New(reg Registry, durable DurableStore, source SourceStore, sink EventSink,
	interval time.Duration, limit int, logger *zap.Logger) *Reaper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if limit <= 0 {
		limit = 50
	}
	return &Reaper{
		registry: reg,
		durable:  durable,
		source:   source,
		events:   sink,
		interval: interval,
		limit:    limit,
		logger:   logger,
	}
}

// Sweep reaps up to the configured limit of ready entries. It returns how many
// source copies were deleted and how many candidates were aborted; per-entry
// failures never stop the sweep.
func (r *Reaper) Sweep(ctx context.Context) (deleted, aborted int, err error) {
	entries, err := r.registry.ListByStatus(ctx, models.RecordingStatusReady, r.limit)
	if err != nil {
		return 0, 0, fmt.Errorf("list ready entries: %w", err)
	}
	for i := range entries {
		if ctx.Err() != nil {
			return deleted, aborted, ctx.Err()
		}
		// The snapshot ages while earlier entries are processed; re-read so
		// the safety checks see the entry's state at deletion time.
		entry, getErr := r.registry.GetByID(ctx, entries[i].ID)
		if getErr != nil {
			r.logger.Warn("reap candidate no longer loadable",
				zap.String("entry_id", entries[i].ID.String()), zap.Error(getErr))
			aborted++
			continue
		}
		if reapErr := r.reap(ctx, entry); reapErr != nil {
			aborted++
			continue
		}
		deleted++
	}
	return deleted, aborted, nil
}

// ReapOne reaps a single entry by id, re-reading it first so the checks run
// against current state rather than whatever the caller last saw.
func (r *Reaper) ReapOne(ctx context.Context, id uuid.UUID) error {
	entry, err := r.registry.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return err
		}
		return fmt.Errorf("load entry: %w", err)
	}
	return r.reap(ctx, entry)
}

func (r *Reaper) reap(ctx context.Context, entry *models.RecordingEntry) error {
	log := r.logger.With(
		zap.String("entry_id", entry.ID.String()),
		zap.String("session_id", entry.SessionID),
		zap.String("source_artifact_id", entry.SourceArtifactID))

	if err := r.verify(ctx, entry); err != nil {
		log.Warn("reap aborted, source copy retained", zap.Error(err))
		r.events.Publish(ctx, events.Event{
			Type:      events.TypeReaperAborted,
			EntryID:   entry.ID,
			SessionID: entry.SessionID,
			Reason:    err.Error(),
		})
		return err
	}

	if err := r.source.DeleteArtifact(ctx, entry.SourceArtifactID); err != nil {
		// The artifact resolved during verify, so a 404 here means another
		// actor removed it in between. That is the end state this pass
		// wanted, unlike an unresolvable artifact at verify time, which
		// aborts because nothing has been deleted yet.
		if !errors.Is(err, provider.ErrArtifactNotFound) {
			log.Warn("reap aborted, source delete failed", zap.Error(err))
			r.events.Publish(ctx, events.Event{
				Type:      events.TypeReaperAborted,
				EntryID:   entry.ID,
				SessionID: entry.SessionID,
				Reason:    err.Error(),
			})
			return err
		}
	}

	if err := r.registry.MarkDeleted(ctx, entry.ID, entry.Version); err != nil {
		// The source copy is gone either way; surface the inconsistency
		// loudly for operator triage instead of silently retrying.
		log.Error("source deleted but entry not marked, needs operator attention", zap.Error(err))
		return err
	}

	log.Info("source copy reaped")
	r.events.Publish(ctx, events.Event{
		Type:      events.TypeReaperDeleted,
		EntryID:   entry.ID,
		SessionID: entry.SessionID,
	})
	return nil
}

// verify runs every safety check against live state. Any doubt aborts.
func (r *Reaper) verify(ctx context.Context, entry *models.RecordingEntry) error {
	if entry.Status != models.RecordingStatusReady {
		return fmt.Errorf("entry status %s, want %s", entry.Status, models.RecordingStatusReady)
	}
	if entry.DurableObjectID == "" {
		return errors.New("entry has no durable object id")
	}

	meta, err := r.durable.GetObjectMeta(ctx, entry.DurableObjectID)
	if err != nil {
		return fmt.Errorf("verify durable object: %w", err)
	}
	if !meta.Exists {
		return fmt.Errorf("durable object %s missing", entry.DurableObjectID)
	}
	if meta.Size <= 0 {
		return fmt.Errorf("durable object %s is empty", entry.DurableObjectID)
	}

	exists, err := r.source.ResolveArtifact(ctx, entry.SourceArtifactID)
	if err != nil {
		return fmt.Errorf("resolve source artifact: %w", err)
	}
	if !exists {
		return fmt.Errorf("source artifact %s no longer resolvable", entry.SourceArtifactID)
	}
	return nil
}

// Run sweeps on the configured interval until ctx is done. A non-positive
// interval disables scheduled sweeps; operator-triggered sweeps still work.
func (r *Reaper) Run(ctx context.Context) {
	if r.interval <= 0 {
		r.logger.Info("scheduled reaper sweeps disabled")
		return
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reaper stopping")
			return
		case <-ticker.C:
			deleted, aborted, err := r.Sweep(ctx)
			if err != nil {
				r.logger.Error("reaper sweep failed", zap.Error(err))
				continue
			}
			if deleted > 0 || aborted > 0 {
				r.logger.Info("reaper sweep finished",
					zap.Int("deleted", deleted), zap.Int("aborted", aborted))
			}
		}
	}
}
