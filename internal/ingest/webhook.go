package ingest

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/meridian-school/backend/internal/provider"
	"github.com/meridian-school/backend/pkg/response"
)

const signatureHeader = "X-Webhook-Signature"

// WebhookHandler receives recording-completed notifications from the
// conferencing provider.
type WebhookHandler struct {
	ingestor *Ingestor
	secret   []byte
	logger   *zap.Logger
}

func NewWebhookHandler(ingestor *Ingestor, secret string, logger *zap.Logger) *WebhookHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookHandler{ingestor: ingestor, secret: []byte(secret), logger: logger}
}

type webhookPayload struct {
	SessionID string                  `json:"session_id"`
	Artifacts []provider.ArtifactMeta `json:"artifacts"`
}

// HandleRecordingCompleted verifies the HMAC signature over the raw body
// before anything else; an invalid signature changes no state.
func (h *WebhookHandler) HandleRecordingCompleted(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		response.BadRequest(c, "unreadable body")
		return
	}
	if !h.verifySignature(body, c.GetHeader(signatureHeader)) {
		h.logger.Warn("webhook signature mismatch", zap.String("remote", c.ClientIP()))
		response.Unauthorized(c, "invalid signature")
		return
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		response.BadRequest(c, "invalid payload")
		return
	}
	if payload.SessionID == "" {
		response.BadRequest(c, "session_id is required")
		return
	}

	created, err := h.ingestor.IngestArtifacts(c.Request.Context(), payload.SessionID, payload.Artifacts)
	if err != nil {
		h.logger.Error("webhook ingest failed",
			zap.String("session_id", payload.SessionID), zap.Error(err))
		response.Internal(c, "ingest failed")
		return
	}
	response.OK(c, gin.H{"received": len(payload.Artifacts), "created": created})
}

func (h *WebhookHandler) verifySignature(body []byte, signature string) bool {
	if signature == "" || len(h.secret) == 0 {
		return false
	}
	mac := hmac.New(sha256.New, h.secret)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
