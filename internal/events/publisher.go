package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Channel is the Redis pub/sub channel the notification layer subscribes to.
const Channel = "recordings:events"

// Event types published by the pipeline.
const (
	TypeMigrationTerminal = "migration.terminal_error"
	TypeReaperAborted     = "reaper.aborted"
	TypeReaperDeleted     = "reaper.deleted"
)

const publishTimeout = 5 * time.Second

// Event is a state-change notification for downstream consumers. The
// persisted entry status stays the source of truth; events are advisory.
type Event struct {
	Type      string    `json:"type"`
	EntryID   uuid.UUID `json:"entry_id"`
	SessionID string    `json:"session_id"`
	Reason    string    `json:"reason,omitempty"`
	At        int64     `json:"at"`
}

// Publisher emits pipeline events over Redis pub/sub.
type Publisher struct {
	client *redis.Client
	logger *zap.Logger
}

// NewPublisher creates an event publisher.
func NewPublisher(client *redis.Client, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{client: client, logger: logger}
}

// Publish sends the event; a publish failure is logged, never propagated,
// so notification problems cannot stall the pipeline.
func (p *Publisher) Publish(ctx context.Context, ev Event) {
	ev.At = time.Now().Unix()
	body, err := json.Marshal(ev)
	if err != nil {
		p.logger.Warn("event marshal failed", zap.Error(err))
		return
	}
	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := p.client.Publish(pubCtx, Channel, body).Err(); err != nil {
		p.logger.Warn("event publish failed",
			zap.String("type", ev.Type), zap.String("entry_id", ev.EntryID.String()), zap.Error(err))
		return
	}
	p.logger.Debug("event published", zap.String("type", ev.Type), zap.String("entry_id", ev.EntryID.String()))
}
