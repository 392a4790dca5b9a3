package ingest

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/meridian-school/backend/internal/models"
	"github.com/meridian-school/backend/internal/provider"
	"github.com/meridian-school/backend/pkg/queue"
)

// Registry is the slice of the recording registry ingestion needs.
type Registry interface {
	Upsert(ctx context.Context, e *models.RecordingEntry) (created bool, err error)
}

// TaskQueue schedules migration work for newly registered entries.
type TaskQueue interface {
	EnqueueMigration(ctx context.Context, payload queue.MigrationPayload) error
}

// Ingestor registers recording artifacts and enqueues migration tasks. The
// same path serves webhook deliveries and poll results, so duplicate
// notifications collapse on the (session, artifact) key. An artifact whose
// entry is still pending gets its task scheduled again, so an entry stranded
// by a failed enqueue heals on the next delivery or poll; the worker's claim
// check drops the extra tasks.
type Ingestor struct {
	registry Registry
	queue    TaskQueue
	logger   *zap.Logger
}

func NewIngestor(reg Registry, q TaskQueue, logger *zap.Logger) *Ingestor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ingestor{registry: reg, queue: q, logger: logger}
}

// IngestArtifacts registers each artifact under sessionID and returns how many
// were newly created. Artifacts whose entry already moved past pending are
// skipped silently; still-pending ones are enqueued again.
func (i *Ingestor) IngestArtifacts(ctx context.Context, sessionID string, artifacts []provider.ArtifactMeta) (int, error) {
	created := 0
	for _, art := range artifacts {
		if art.ID == "" {
			i.logger.Warn("skipping artifact without id", zap.String("session_id", sessionID))
			continue
		}
		entry := &models.RecordingEntry{
			SessionID:         sessionID,
			SourceArtifactID:  art.ID,
			ArtifactKind:      models.NormalizeArtifactKind(art.Kind),
			Status:            models.RecordingStatusPending,
			StorageProvider:   models.StorageProviderSource,
			DurationSeconds:   art.DurationSeconds,
			ByteSize:          art.ByteSize,
			SourceDownloadURL: art.DownloadURL,
		}
		isNew, err := i.registry.Upsert(ctx, entry)
		if err != nil {
			return created, fmt.Errorf("register artifact %s: %w", art.ID, err)
		}
		if !isNew && entry.Status != models.RecordingStatusPending {
			continue
		}
		if isNew {
			created++
		}
		payload := queue.MigrationPayload{EntryID: entry.ID, SessionID: sessionID}
		if err := i.queue.EnqueueMigration(ctx, payload); err != nil {
			// The row exists; the next delivery or poll re-enqueues it.
			i.logger.Error("enqueue migration failed, entry left pending",
				zap.String("entry_id", entry.ID.String()), zap.Error(err))
			return created, fmt.Errorf("enqueue migration for %s: %w", art.ID, err)
		}
		if !isNew {
			i.logger.Info("migration re-enqueued for pending entry",
				zap.String("entry_id", entry.ID.String()),
				zap.String("artifact_id", art.ID))
			continue
		}
		i.logger.Info("recording artifact registered",
			zap.String("session_id", sessionID),
			zap.String("artifact_id", art.ID),
			zap.String("kind", entry.ArtifactKind))
	}
	return created, nil
}
