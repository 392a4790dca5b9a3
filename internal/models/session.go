package models

import (
	"time"

	"github.com/google/uuid"
)

// ClassSession is a live lesson occupying one host account lease for its
// duration. ExternalID is the provider-side meeting id; recording artifacts
// reference it, not our row id.
type ClassSession struct {
	ID            uuid.UUID  `json:"id"`
	ExternalID    string     `json:"external_id"`
	HostAccountID uuid.UUID  `json:"host_account_id"`
	Topic         string     `json:"topic,omitempty"`
	StartedAt     time.Time  `json:"started_at"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}
