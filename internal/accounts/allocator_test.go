package accounts

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-school/backend/internal/models"
)

// fakeStore mirrors the repository's atomicity contract in memory: each
// acquire/release is one mutation under the lock, never read-modify-write
// across calls.
type fakeStore struct {
	mu       sync.Mutex
	accounts []*models.HostAccount
}

func newFakeStore(caps ...int) *fakeStore {
	s := &fakeStore{}
	for _, c := range caps {
		s.accounts = append(s.accounts, &models.HostAccount{
			ID:            uuid.New(),
			MaxConcurrent: c,
			Active:        true,
		})
	}
	return s
}

func (s *fakeStore) AcquireOne(_ context.Context) (*models.HostAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var pick *models.HostAccount
	for _, a := range s.accounts {
		if !a.Active || a.InUse >= a.MaxConcurrent {
			continue
		}
		if pick == nil || olderLease(a, pick) {
			pick = a
		}
	}
	if pick == nil {
		return nil, ErrPoolExhausted
	}
	pick.InUse++
	now := time.Now()
	pick.LastAcquiredAt = &now
	cp := *pick
	return &cp, nil
}

func olderLease(a, b *models.HostAccount) bool {
	if a.LastAcquiredAt == nil {
		return true
	}
	if b.LastAcquiredAt == nil {
		return false
	}
	return a.LastAcquiredAt.Before(*b.LastAcquiredAt)
}

func (s *fakeStore) ReleaseOne(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.accounts {
		if a.ID == id && a.InUse > 0 {
			a.InUse--
		}
	}
	return nil
}

func (s *fakeStore) invariantHolds() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.accounts {
		if a.InUse < 0 || a.InUse > a.MaxConcurrent {
			return false
		}
	}
	return true
}

func (s *fakeStore) totalInUse() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, a := range s.accounts {
		total += a.InUse
	}
	return total
}

func TestAcquireExhaustedPoolNoMutation(t *testing.T) {
	store := newFakeStore(1, 1)
	alloc := NewAllocator(store, nil)
	ctx := context.Background()

	first, err := alloc.Acquire(ctx)
	require.NoError(t, err)
	second, err := alloc.Acquire(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID, "LRU should spread load across accounts")

	_, err = alloc.Acquire(ctx)
	assert.ErrorIs(t, err, ErrPoolExhausted)
	assert.Equal(t, 2, store.totalInUse(), "failed acquire must not mutate any account")
}

func TestReleaseFlooredAtZero(t *testing.T) {
	store := newFakeStore(2)
	alloc := NewAllocator(store, nil)
	ctx := context.Background()

	acct, err := alloc.Acquire(ctx)
	require.NoError(t, err)
	require.NoError(t, alloc.Release(ctx, acct.ID))
	// Double release is defensive: counter stays at zero.
	require.NoError(t, alloc.Release(ctx, acct.ID))
	assert.Equal(t, 0, store.totalInUse())
	assert.True(t, store.invariantHolds())
}

func TestConcurrentAcquireReleaseInvariant(t *testing.T) {
	store := newFakeStore(1, 2, 3)
	alloc := NewAllocator(store, nil)
	ctx := context.Background()

	const goroutines = 16
	const opsPerGoroutine = 200

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			var held []uuid.UUID
			for i := 0; i < opsPerGoroutine; i++ {
				if len(held) > 0 && rng.Intn(2) == 0 {
					idx := rng.Intn(len(held))
					_ = alloc.Release(ctx, held[idx])
					held = append(held[:idx], held[idx+1:]...)
				} else {
					acct, err := alloc.Acquire(ctx)
					if err == nil {
						held = append(held, acct.ID)
					}
				}
				if !store.invariantHolds() {
					t.Error("invariant violated: in_use out of [0, cap]")
					return
				}
			}
			for _, id := range held {
				_ = alloc.Release(ctx, id)
			}
		}(int64(g))
	}
	wg.Wait()

	assert.True(t, store.invariantHolds())
	assert.Equal(t, 0, store.totalInUse(), "all leases released at the end")
}
