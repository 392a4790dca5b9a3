package ingest

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/meridian-school/backend/internal/models"
	"github.com/meridian-school/backend/internal/provider"
)

// SessionLister yields sessions whose recordings may not have been delivered.
type SessionLister interface {
	ListEndedSince(ctx context.Context, since time.Time) ([]models.ClassSession, error)
}

// ArtifactLister queries the provider for a session's recording artifacts.
type ArtifactLister interface {
	ListRecordingArtifacts(ctx context.Context, sessionExternalID string) ([]provider.ArtifactMeta, error)
}

// Poller backstops webhook delivery: it re-lists recordings for recently
// ended sessions on an interval and pushes them through the same idempotent
// ingest path, so a session whose webhook was lost still gets migrated.
type Poller struct {
	sessions SessionLister
	source   ArtifactLister
	ingestor *Ingestor
	interval time.Duration
	window   time.Duration
	logger   *zap.Logger
}

func NewPoller(sessions SessionLister, source ArtifactLister, ingestor *Ingestor,
	interval, window time.Duration, logger *zap.Logger) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{
		sessions: sessions,
		source:   source,
		ingestor: ingestor,
		interval: interval,
		window:   window,
		logger:   logger,
	}
}

// PollOnce scans the trailing window and returns how many entries it created.
// A single session's failure is logged and skipped; the scan continues.
func (p *Poller) PollOnce(ctx context.Context) (int, error) {
	since := time.Now().Add(-p.window)
	sessions, err := p.sessions.ListEndedSince(ctx, since)
	if err != nil {
		return 0, fmt.Errorf("list ended sessions: %w", err)
	}

	created := 0
	for _, sess := range sessions {
		if ctx.Err() != nil {
			return created, ctx.Err()
		}
		artifacts, err := p.source.ListRecordingArtifacts(ctx, sess.ExternalID)
		if err != nil {
			p.logger.Warn("poll: provider listing failed",
				zap.String("session_external_id", sess.ExternalID), zap.Error(err))
			continue
		}
		if len(artifacts) == 0 {
			continue
		}
		n, err := p.ingestor.IngestArtifacts(ctx, sess.ExternalID, artifacts)
		created += n
		if err != nil {
			p.logger.Warn("poll: ingest failed",
				zap.String("session_external_id", sess.ExternalID), zap.Error(err))
		}
	}
	return created, nil
}

// Run polls on the configured interval until ctx is done. A non-positive
// interval disables polling.
func (p *Poller) Run(ctx context.Context) {
	if p.interval <= 0 {
		p.logger.Info("recording poller disabled")
		return
	}
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("recording poller stopping")
			return
		case <-ticker.C:
			created, err := p.PollOnce(ctx)
			if err != nil {
				p.logger.Error("poll cycle failed", zap.Error(err))
				continue
			}
			if created > 0 {
				p.logger.Info("poll cycle registered entries", zap.Int("created", created))
			}
		}
	}
}
