package accounts

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/meridian-school/backend/internal/models"
)

// ReconcileStore lists accounts and overwrites their counters.
type ReconcileStore interface {
	ListActive(ctx context.Context) ([]models.HostAccount, error)
	SetInUse(ctx context.Context, id uuid.UUID, inUse int) error
}

// LiveSessionCounter asks the provider how many sessions a host is running.
type LiveSessionCounter interface {
	CountLiveSessions(ctx context.Context, hostEmail string) (int, error)
}

// Reconciler periodically rewrites in_use from provider-reported truth. This
// corrects drift from sessions that crashed without releasing their lease.
// It is a best-effort sweep, not a real-time guarantee.
type Reconciler struct {
	store    ReconcileStore
	provider LiveSessionCounter
	interval time.Duration
	logger   *zap.Logger
}

// NewReconciler creates an account pool reconciler.
func NewReconciler(store ReconcileStore, provider LiveSessionCounter, interval time.Duration, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{store: store, provider: provider, interval: interval, logger: logger}
}

// Run sweeps on the configured interval until ctx is done.
func (r *Reconciler) Run(ctx context.Context) {
	if r.interval <= 0 {
		r.logger.Info("account reconciler disabled")
		return
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("account reconciler stopping")
			return
		case <-ticker.C:
			if err := r.ReconcileOnce(ctx); err != nil {
				r.logger.Warn("account reconcile failed", zap.Error(err))
			}
		}
	}
}

// ReconcileOnce rewrites every active account's counter. A provider failure
// on one account skips that account and continues; the stored counter is
// left untouched rather than guessed.
func (r *Reconciler) ReconcileOnce(ctx context.Context) error {
	accts, err := r.store.ListActive(ctx)
	if err != nil {
		return err
	}
	for _, acct := range accts {
		live, err := r.provider.CountLiveSessions(ctx, acct.Email)
		if err != nil {
			r.logger.Warn("live session count failed",
				zap.String("account_id", acct.ID.String()), zap.Error(err))
			continue
		}
		if live == acct.InUse {
			continue
		}
		if err := r.store.SetInUse(ctx, acct.ID, live); err != nil {
			r.logger.Warn("counter rewrite failed",
				zap.String("account_id", acct.ID.String()), zap.Error(err))
			continue
		}
		r.logger.Info("account counter reconciled",
			zap.String("account_id", acct.ID.String()),
			zap.Int("was", acct.InUse), zap.Int("now", live))
	}
	return nil
}
