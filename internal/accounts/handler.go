package accounts

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/meridian-school/backend/internal/models"
	"github.com/meridian-school/backend/pkg/response"
)

// AdminStore is the account persistence the operator endpoints need.
type AdminStore interface {
	List(ctx context.Context) ([]models.HostAccount, error)
	Create(ctx context.Context, email, externalID string, maxConcurrent int) (*models.HostAccount, error)
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
}

// Reconciling triggers an immediate drift repair.
type Reconciling interface {
	ReconcileOnce(ctx context.Context) error
}

// Handler serves the operator account endpoints.
type Handler struct {
	store      AdminStore
	reconciler Reconciling
	logger     *zap.Logger
}

func NewHandler(store AdminStore, reconciler Reconciling, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: store, reconciler: reconciler, logger: logger}
}

// List returns the whole pool, including deactivated accounts.
func (h *Handler) List(c *gin.Context) {
	accts, err := h.store.List(c.Request.Context())
	if err != nil {
		h.logger.Error("list accounts failed", zap.Error(err))
		response.Internal(c, "failed to list accounts")
		return
	}
	response.OK(c, accts)
}

type createRequest struct {
	Email         string `json:"email" binding:"required,email"`
	ExternalID    string `json:"external_id" binding:"required"`
	MaxConcurrent int    `json:"max_concurrent"`
}

// Create adds a host account to the pool.
func (h *Handler) Create(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "email and external_id are required")
		return
	}
	if req.MaxConcurrent <= 0 {
		req.MaxConcurrent = 1
	}
	acct, err := h.store.Create(c.Request.Context(), req.Email, req.ExternalID, req.MaxConcurrent)
	if err != nil {
		h.logger.Error("create account failed", zap.Error(err))
		response.Internal(c, "failed to create account")
		return
	}
	response.Created(c, acct)
}

type activeRequest struct {
	Active *bool `json:"active" binding:"required"`
}

// SetActive activates or deactivates an account. Deactivation stops new
// leases; in-flight sessions run to completion.
func (h *Handler) SetActive(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid account id")
		return
	}
	var req activeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "active is required")
		return
	}
	if err := h.store.SetActive(c.Request.Context(), id, *req.Active); err != nil {
		h.logger.Error("set account active failed", zap.Error(err))
		response.Internal(c, "failed to update account")
		return
	}
	response.OK(c, gin.H{"id": id, "active": *req.Active})
}

// Reconcile runs one drift-repair pass right now.
func (h *Handler) Reconcile(c *gin.Context) {
	if err := h.reconciler.ReconcileOnce(c.Request.Context()); err != nil {
		h.logger.Error("reconcile failed", zap.Error(err))
		response.Internal(c, "reconcile failed")
		return
	}
	response.OK(c, gin.H{"reconciled": true})
}

// Routes mounts the operator account endpoints on the given group.
func (h *Handler) Routes(g *gin.RouterGroup) {
	g.GET("/accounts", h.List)
	g.POST("/accounts", h.Create)
	g.PATCH("/accounts/:id/active", h.SetActive)
	g.POST("/pool/reconcile", h.Reconcile)
}
