package migrate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/meridian-school/backend/internal/events"
	"github.com/meridian-school/backend/internal/models"
	"github.com/meridian-school/backend/internal/registry"
	"github.com/meridian-school/backend/pkg/queue"
	"github.com/meridian-school/backend/pkg/storage"
)

// Registry is the slice of the recording registry the worker needs. All
// writes are versioned; ErrStaleEntry means another worker advanced the row
// and this one must discard its result.
type Registry interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.RecordingEntry, error)
	MarkProcessing(ctx context.Context, id uuid.UUID, version int) (int, error)
	MarkReady(ctx context.Context, id uuid.UUID, version int,
		durableObjectID, playbackURL, downloadURL string, durationSeconds int, byteSize int64) error
	MarkError(ctx context.Context, id uuid.UUID, version int, message string) (int, error)
}

// Source fetches artifact byte streams from the conferencing provider.
type Source interface {
	FetchArtifactStream(ctx context.Context, downloadURL string) (io.ReadCloser, int64, error)
}

// Storage is the durable side of the migration.
type Storage interface {
	Upload(ctx context.Context, key, contentType string, body io.Reader, contentLength int64) (string, error)
	EnsureAccessPolicy(ctx context.Context, key string) error
	PlaybackURL(ctx context.Context, key string) (string, error)
	DownloadURL(ctx context.Context, key string) (string, error)
	DeleteObject(ctx context.Context, key string) error
}

// TaskQueue schedules migration tasks.
type TaskQueue interface {
	Dequeue(ctx context.Context) (*queue.Job, error)
	Retry(ctx context.Context, job *queue.Job, delay time.Duration) error
	PushDLQ(ctx context.Context, raw []byte) error
}

// EventSink receives terminal-failure notifications.
type EventSink interface {
	Publish(ctx context.Context, ev events.Event)
}

// Processor executes migration tasks: claim the entry, stream the artifact
// from the source provider into durable storage, persist the result. It
// never deletes the source copy; that is the reaper's job alone.
type Processor struct {
	registry Registry
	source   Source
	storage  Storage
	queue    TaskQueue
	events   EventSink
	policy   RetryPolicy
	logger   *zap.Logger
}

// NewProcessor creates a migration processor.
func NewProcessor(reg Registry, src Source, st Storage, q TaskQueue, sink EventSink, policy RetryPolicy, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{registry: reg, source: src, storage: st, queue: q, events: sink, policy: policy, logger: logger}
}

// countingReader tracks bytes streamed through the upload, the fallback size
// when the provider does not report one.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// Process executes one migration task. Returned errors are transient
// infrastructure failures; domain failures are handled internally through
// the retry policy.
func (p *Processor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeMigration {
		p.logger.Warn("unknown job type, moving to DLQ", zap.String("type", string(job.Type)))
		return p.queue.PushDLQ(ctx, job.Payload)
	}
	var payload queue.MigrationPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		p.logger.Warn("invalid task payload, moving to DLQ", zap.Error(err))
		return p.queue.PushDLQ(ctx, job.Payload)
	}
	log := p.logger.With(zap.String("entry_id", payload.EntryID.String()), zap.String("job_id", job.ID))

	entry, err := p.registry.GetByID(ctx, payload.EntryID)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			log.Warn("entry missing, dropping task")
			return nil
		}
		return p.requeue(ctx, job, fmt.Errorf("load entry: %w", err))
	}

	if !entry.Status.Claimable() {
		log.Debug("entry not claimable, dropping task", zap.String("status", string(entry.Status)))
		return nil
	}
	if entry.Status == models.RecordingStatusError && p.policy.Exhausted(entry.Attempts) {
		log.Debug("entry frozen after max attempts, dropping task", zap.Int("attempts", entry.Attempts))
		return nil
	}

	version, err := p.registry.MarkProcessing(ctx, entry.ID, entry.Version)
	if err != nil {
		if errors.Is(err, registry.ErrStaleEntry) {
			log.Info("lost claim race, dropping task")
			return nil
		}
		return p.requeue(ctx, job, fmt.Errorf("claim entry: %w", err))
	}

	if err := p.migrate(ctx, entry, version, log); err != nil {
		p.fail(ctx, job, entry, version, err, log)
	}
	return nil
}

// migrate streams the artifact into durable storage and persists the result
// atomically with the ready transition.
func (p *Processor) migrate(ctx context.Context, entry *models.RecordingEntry, version int, log *zap.Logger) error {
	stream, reportedLen, err := p.source.FetchArtifactStream(ctx, entry.SourceDownloadURL)
	if err != nil {
		return fmt.Errorf("fetch source stream: %w", err)
	}
	defer stream.Close()

	key := storage.RecordingKey(entry.SessionID, entry.ID.String(), entry.ArtifactKind)
	counting := &countingReader{r: stream}

	// Prefer provider-reported size; the upload manager handles unknown
	// lengths by multipart-streaming.
	length := entry.ByteSize
	if length <= 0 {
		length = reportedLen
	}
	objectID, err := p.storage.Upload(ctx, key, storage.ContentTypeForKind(entry.ArtifactKind), counting, length)
	if err != nil {
		return fmt.Errorf("durable upload: %w", err)
	}
	if err := p.storage.EnsureAccessPolicy(ctx, objectID); err != nil {
		return fmt.Errorf("access policy: %w", err)
	}
	playbackURL, err := p.storage.PlaybackURL(ctx, objectID)
	if err != nil {
		return fmt.Errorf("playback url: %w", err)
	}
	downloadURL, err := p.storage.DownloadURL(ctx, objectID)
	if err != nil {
		return fmt.Errorf("download url: %w", err)
	}

	size := entry.ByteSize
	if size <= 0 {
		size = reportedLen
	}
	if size <= 0 {
		size = counting.n // locally observed stream length
	}

	err = p.registry.MarkReady(ctx, entry.ID, version, objectID, playbackURL, downloadURL, entry.DurationSeconds, size)
	if err != nil {
		if errors.Is(err, registry.ErrStaleEntry) {
			log.Info("entry changed concurrently, discarding migration result")
			// The winner's upload landed on the same key, so only remove
			// this one when the keys differ.
			if winner, getErr := p.registry.GetByID(ctx, entry.ID); getErr == nil && winner.DurableObjectID != objectID {
				if delErr := p.storage.DeleteObject(ctx, objectID); delErr != nil {
					log.Warn("orphaned upload cleanup failed", zap.Error(delErr))
				}
			}
			return nil
		}
		return fmt.Errorf("persist ready: %w", err)
	}
	log.Info("migration completed",
		zap.String("durable_object_id", objectID), zap.Int64("byte_size", size))
	return nil
}

// fail records the error and either schedules a retry or freezes the entry.
func (p *Processor) fail(ctx context.Context, job *queue.Job, entry *models.RecordingEntry, version int, cause error, log *zap.Logger) {
	log.Error("migration attempt failed", zap.Error(cause))
	attempts, err := p.registry.MarkError(ctx, entry.ID, version, cause.Error())
	if err != nil {
		if errors.Is(err, registry.ErrStaleEntry) {
			log.Info("entry changed concurrently, dropping failure")
			return
		}
		log.Error("record migration error failed", zap.Error(err))
		return
	}
	if p.policy.Exhausted(attempts) {
		log.Error("migration attempts exhausted, entry frozen for operator triage",
			zap.Int("attempts", attempts))
		p.events.Publish(ctx, events.Event{
			Type:      events.TypeMigrationTerminal,
			EntryID:   entry.ID,
			SessionID: entry.SessionID,
			Reason:    cause.Error(),
		})
		return
	}
	if err := p.queue.Retry(ctx, job, p.policy.Delay(attempts)); err != nil {
		log.Error("retry enqueue failed", zap.Error(err))
	}
}

// requeue handles transient infrastructure failures before an entry is
// claimed; the task itself backs off without touching the row.
func (p *Processor) requeue(ctx context.Context, job *queue.Job, cause error) error {
	if job.Attempt+1 >= p.policy.MaxAttempts {
		p.logger.Error("task retries exhausted", zap.String("job_id", job.ID), zap.Error(cause))
		return p.queue.PushDLQ(ctx, job.Payload)
	}
	if err := p.queue.Retry(ctx, job, p.policy.Delay(job.Attempt+1)); err != nil {
		return fmt.Errorf("requeue after %v: %w", cause, err)
	}
	return cause
}

// Run consumes tasks until ctx is done. Start one goroutine per worker slot.
func (p *Processor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("migration worker stopping")
			return
		default:
		}

		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}
		if job == nil {
			continue
		}
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("task failed", zap.String("job_id", job.ID), zap.Error(err))
		}
	}
}
