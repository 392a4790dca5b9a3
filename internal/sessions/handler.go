package sessions

import (
	"context"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/meridian-school/backend/internal/accounts"
	"github.com/meridian-school/backend/internal/models"
	"github.com/meridian-school/backend/pkg/response"
)

// Store is the session persistence the handler needs.
type Store interface {
	Create(ctx context.Context, externalID string, hostAccountID uuid.UUID, topic string) (*models.ClassSession, error)
	End(ctx context.Context, id uuid.UUID) (*models.ClassSession, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.ClassSession, error)
	ListEndedSince(ctx context.Context, since time.Time) ([]models.ClassSession, error)
}

// Leaser hands out and returns host account leases.
type Leaser interface {
	Acquire(ctx context.Context) (*models.HostAccount, error)
	Release(ctx context.Context, id uuid.UUID) error
}

// RecordingLister lists registry entries for a session.
type RecordingLister interface {
	ListBySession(ctx context.Context, sessionID string) ([]models.RecordingEntry, error)
}

// Handler serves the session lifecycle endpoints.
type Handler struct {
	store      Store
	leaser     Leaser
	recordings RecordingLister
	logger     *zap.Logger
}

func NewHandler(store Store, leaser Leaser, recordings RecordingLister, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: store, leaser: leaser, recordings: recordings, logger: logger}
}

type startRequest struct {
	ExternalID string `json:"external_id" binding:"required"`
	Topic      string `json:"topic"`
}

type startResponse struct {
	Session     *models.ClassSession `json:"session"`
	HostEmail   string               `json:"host_email"`
	HostAccount uuid.UUID            `json:"host_account_id"`
}

// Start leases a host account for a new class session. When every account is
// at capacity the caller gets a 503 and should retry later; nothing queues.
func (h *Handler) Start(c *gin.Context) {
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "external_id is required")
		return
	}

	acct, err := h.leaser.Acquire(c.Request.Context())
	if err != nil {
		if errors.Is(err, accounts.ErrPoolExhausted) {
			response.ServiceUnavailable(c, "no conferencing capacity, try again later")
			return
		}
		h.logger.Error("acquire account failed", zap.Error(err))
		response.Internal(c, "failed to start session")
		return
	}

	sess, err := h.store.Create(c.Request.Context(), req.ExternalID, acct.ID, req.Topic)
	if err != nil {
		// Give the lease back so the failed start does not leak capacity.
		if relErr := h.leaser.Release(c.Request.Context(), acct.ID); relErr != nil {
			h.logger.Error("release after failed create", zap.Error(relErr))
		}
		h.logger.Error("create session failed", zap.Error(err))
		response.Internal(c, "failed to start session")
		return
	}

	response.Created(c, startResponse{Session: sess, HostEmail: acct.Email, HostAccount: acct.ID})
}

// End stamps the session ended and returns its lease. Ending twice is a
// conflict, not a second release.
func (h *Handler) End(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}

	sess, err := h.store.End(c.Request.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			response.NotFound(c, "session not found")
		case errors.Is(err, ErrAlreadyEnded):
			response.Conflict(c, "session already ended")
		default:
			h.logger.Error("end session failed", zap.Error(err))
			response.Internal(c, "failed to end session")
		}
		return
	}

	if err := h.leaser.Release(c.Request.Context(), sess.HostAccountID); err != nil {
		// The reconciler will repair the counter; the session is ended.
		h.logger.Error("release lease failed", zap.String("account_id",
			sess.HostAccountID.String()), zap.Error(err))
	}

	response.OK(c, sess)
}

// Get returns one session.
func (h *Handler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	sess, err := h.store.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			response.NotFound(c, "session not found")
			return
		}
		h.logger.Error("get session failed", zap.Error(err))
		response.Internal(c, "failed to load session")
		return
	}
	response.OK(c, sess)
}

// Recordings lists the registry entries for a session, keyed by the
// provider-side external id.
func (h *Handler) Recordings(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	sess, err := h.store.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			response.NotFound(c, "session not found")
			return
		}
		h.logger.Error("get session failed", zap.Error(err))
		response.Internal(c, "failed to load session")
		return
	}
	entries, err := h.recordings.ListBySession(c.Request.Context(), sess.ExternalID)
	if err != nil {
		h.logger.Error("list recordings failed", zap.Error(err))
		response.Internal(c, "failed to list recordings")
		return
	}
	response.OK(c, gin.H{"session": sess, "recordings": entries})
}

// Routes mounts the session endpoints on the given group.
func (h *Handler) Routes(g *gin.RouterGroup) {
	g.POST("/sessions", h.Start)
	g.GET("/sessions/:id", h.Get)
	g.POST("/sessions/:id/end", h.End)
	g.GET("/sessions/:id/recordings", h.Recordings)
}
