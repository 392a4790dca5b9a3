package accounts

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/meridian-school/backend/internal/models"
)

// ErrPoolExhausted means no active account has spare capacity. Callers
// surface a "try later" condition; they must not block waiting for capacity.
var ErrPoolExhausted = errors.New("accounts: pool exhausted")

// Store is the persistence contract the allocator needs. AcquireOne and
// ReleaseOne must each be a single atomic operation on one account row.
type Store interface {
	AcquireOne(ctx context.Context) (*models.HostAccount, error)
	ReleaseOne(ctx context.Context, id uuid.UUID) error
}

// Allocator hands out and returns leases on conferencing host accounts.
type Allocator struct {
	store  Store
	logger *zap.Logger
}

// NewAllocator creates an account pool allocator.
func NewAllocator(store Store, logger *zap.Logger) *Allocator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Allocator{store: store, logger: logger}
}

// Acquire leases the least-recently-used active account with spare capacity.
// Returns ErrPoolExhausted when every account is at its cap.
func (a *Allocator) Acquire(ctx context.Context) (*models.HostAccount, error) {
	acct, err := a.store.AcquireOne(ctx)
	if err != nil {
		if errors.Is(err, ErrPoolExhausted) {
			a.logger.Warn("account pool exhausted")
		}
		return nil, err
	}
	a.logger.Info("account lease acquired",
		zap.String("account_id", acct.ID.String()),
		zap.Int("in_use", acct.InUse), zap.Int("cap", acct.MaxConcurrent))
	return acct, nil
}

// Release returns a lease. The decrement is floored at zero in the store, so
// a double release cannot drive the counter negative.
func (a *Allocator) Release(ctx context.Context, id uuid.UUID) error {
	if err := a.store.ReleaseOne(ctx, id); err != nil {
		return err
	}
	a.logger.Info("account lease released", zap.String("account_id", id.String()))
	return nil
}
