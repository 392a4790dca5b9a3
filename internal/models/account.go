package models

import (
	"time"

	"github.com/google/uuid"
)

// HostAccount is one third-party conferencing account in the pool. InUse is
// mutated only through the allocator's atomic SQL, never read-modify-write.
// Retired accounts are deactivated, not deleted.
type HostAccount struct {
	ID             uuid.UUID  `json:"id"`
	Email          string     `json:"email"`
	ExternalID     string     `json:"external_id,omitempty"`
	MaxConcurrent  int        `json:"max_concurrent"`
	InUse          int        `json:"in_use"`
	Active         bool       `json:"active"`
	LastAcquiredAt *time.Time `json:"last_acquired_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}
