package registry

import (
	"context"
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/meridian-school/backend/internal/models"
	"github.com/meridian-school/backend/pkg/queue"
	"github.com/meridian-school/backend/pkg/response"
)

const defaultListLimit = 100

// AdminStore is the registry persistence the operator endpoints need.
type AdminStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.RecordingEntry, error)
	ListByStatus(ctx context.Context, status models.RecordingStatus, limit int) ([]models.RecordingEntry, error)
	ResetForRetry(ctx context.Context, id uuid.UUID) (*models.RecordingEntry, error)
	MarkArchived(ctx context.Context, id uuid.UUID, version int) error
}

// TaskQueue re-enqueues migration work for retried entries.
type TaskQueue interface {
	EnqueueMigration(ctx context.Context, payload queue.MigrationPayload) error
}

// Reaping exposes the reaper's operator entry points.
type Reaping interface {
	ReapOne(ctx context.Context, id uuid.UUID) error
	Sweep(ctx context.Context) (deleted, aborted int, err error)
}

// Polling exposes the ingest poller's operator entry point.
type Polling interface {
	PollOnce(ctx context.Context) (int, error)
}

// Handler serves the operator recording endpoints.
type Handler struct {
	store  AdminStore
	queue  TaskQueue
	reaper Reaping
	poller Polling
	logger *zap.Logger
}

func NewHandler(store AdminStore, q TaskQueue, reaper Reaping, poller Polling, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: store, queue: q, reaper: reaper, poller: poller, logger: logger}
}

// List returns entries in a given status, oldest first. Status defaults to
// error so a bare call surfaces the triage backlog.
func (h *Handler) List(c *gin.Context) {
	status := models.RecordingStatus(c.DefaultQuery("status", string(models.RecordingStatusError)))
	if !status.Valid() {
		response.BadRequest(c, "unknown status")
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultListLimit)))
	if err != nil || limit <= 0 {
		response.BadRequest(c, "invalid limit")
		return
	}
	entries, err := h.store.ListByStatus(c.Request.Context(), status, limit)
	if err != nil {
		h.logger.Error("list entries failed", zap.Error(err))
		response.Internal(c, "failed to list entries")
		return
	}
	response.OK(c, entries)
}

// Get returns one entry.
func (h *Handler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid entry id")
		return
	}
	entry, err := h.store.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			response.NotFound(c, "entry not found")
			return
		}
		h.logger.Error("get entry failed", zap.Error(err))
		response.Internal(c, "failed to load entry")
		return
	}
	response.OK(c, entry)
}

// Retry unfreezes a terminally failed entry: attempts back to zero, status
// back to pending, and a fresh migration task on the queue. A pending entry
// skips the reset and just gets the task, which recovers entries whose
// original enqueue never landed.
func (h *Handler) Retry(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid entry id")
		return
	}
	entry, err := h.store.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			response.NotFound(c, "entry not found")
			return
		}
		h.logger.Error("get entry failed", zap.Error(err))
		response.Internal(c, "failed to load entry")
		return
	}
	switch entry.Status {
	case models.RecordingStatusError:
		entry, err = h.store.ResetForRetry(c.Request.Context(), id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				response.Conflict(c, "entry changed concurrently, reload and retry")
				return
			}
			h.logger.Error("reset entry failed", zap.Error(err))
			response.Internal(c, "failed to reset entry")
			return
		}
	case models.RecordingStatusPending:
		// no reset needed, the entry just lost its task
	default:
		response.Conflict(c, "entry not in error or pending status")
		return
	}
	payload := queue.MigrationPayload{EntryID: entry.ID, SessionID: entry.SessionID}
	if err := h.queue.EnqueueMigration(c.Request.Context(), payload); err != nil {
		h.logger.Error("enqueue after reset failed",
			zap.String("entry_id", entry.ID.String()), zap.Error(err))
		response.Internal(c, "entry reset but enqueue failed, retry again")
		return
	}
	h.logger.Info("entry reset for retry", zap.String("entry_id", entry.ID.String()))
	response.OK(c, entry)
}

// Archive retires a ready entry. The durable copy stays; the entry just
// leaves the active catalog and the reaper's candidate set.
func (h *Handler) Archive(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid entry id")
		return
	}
	entry, err := h.store.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			response.NotFound(c, "entry not found")
			return
		}
		h.logger.Error("get entry failed", zap.Error(err))
		response.Internal(c, "failed to load entry")
		return
	}
	if err := h.store.MarkArchived(c.Request.Context(), entry.ID, entry.Version); err != nil {
		if errors.Is(err, ErrStaleEntry) {
			response.Conflict(c, "entry changed or not ready, reload and retry")
			return
		}
		h.logger.Error("archive entry failed", zap.Error(err))
		response.Internal(c, "failed to archive entry")
		return
	}
	response.OK(c, gin.H{"id": id, "archived": true})
}

// Reap runs the full safety-check-then-delete sequence for one entry.
func (h *Handler) Reap(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid entry id")
		return
	}
	if err := h.reaper.ReapOne(c.Request.Context(), id); err != nil {
		if errors.Is(err, ErrNotFound) {
			response.NotFound(c, "entry not found")
			return
		}
		// Aborted checks are a refusal, not a server fault.
		response.Conflict(c, err.Error())
		return
	}
	response.OK(c, gin.H{"id": id, "reaped": true})
}

// Sweep runs one reaper pass over all ready entries.
func (h *Handler) Sweep(c *gin.Context) {
	deleted, aborted, err := h.reaper.Sweep(c.Request.Context())
	if err != nil {
		h.logger.Error("sweep failed", zap.Error(err))
		response.Internal(c, "sweep failed")
		return
	}
	response.OK(c, gin.H{"deleted": deleted, "aborted": aborted})
}

// Poll runs one ingest poll cycle over recently ended sessions.
func (h *Handler) Poll(c *gin.Context) {
	created, err := h.poller.PollOnce(c.Request.Context())
	if err != nil {
		h.logger.Error("poll failed", zap.Error(err))
		response.Internal(c, "poll failed")
		return
	}
	response.OK(c, gin.H{"created": created})
}

// Routes mounts the operator recording endpoints on the given group.
func (h *Handler) Routes(g *gin.RouterGroup) {
	g.GET("/recordings", h.List)
	g.GET("/recordings/:id", h.Get)
	g.POST("/recordings/:id/retry", h.Retry)
	g.POST("/recordings/:id/archive", h.Archive)
	g.POST("/recordings/:id/reap", h.Reap)
	g.POST("/reaper/sweep", h.Sweep)
	g.POST("/ingest/poll", h.Poll)
}
