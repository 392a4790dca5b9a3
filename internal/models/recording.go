package models

import (
	"time"

	"github.com/google/uuid"
)

// RecordingStatus is the lifecycle state of a recording entry.
type RecordingStatus string

const (
	// RecordingStatusPending means the artifact is known but not yet migrated.
	RecordingStatusPending RecordingStatus = "pending"
	// RecordingStatusProcessing means a migration worker holds the entry.
	RecordingStatusProcessing RecordingStatus = "processing"
	// RecordingStatusReady means the durable copy exists and is playable.
	RecordingStatusReady RecordingStatus = "ready"
	// RecordingStatusArchived means the entry was archived after migration.
	RecordingStatusArchived RecordingStatus = "archived"
	// RecordingStatusError means the last migration attempt failed.
	RecordingStatusError RecordingStatus = "error"
	// RecordingStatusDeleted means the source copy is confirmed removed.
	RecordingStatusDeleted RecordingStatus = "deleted"
)

// transitions defines the only legal forward moves. error -> pending is the
// retry path; ready -> deleted belongs to the reaper alone.
var transitions = map[RecordingStatus][]RecordingStatus{
	RecordingStatusPending:    {RecordingStatusProcessing},
	RecordingStatusProcessing: {RecordingStatusReady, RecordingStatusError},
	RecordingStatusReady:      {RecordingStatusArchived, RecordingStatusDeleted},
	RecordingStatusError:      {RecordingStatusPending, RecordingStatusProcessing},
	RecordingStatusArchived:   nil,
	RecordingStatusDeleted:    nil,
}

// Valid reports whether s is a known status.
func (s RecordingStatus) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Terminal reports whether no further transition is legal from s.
func (s RecordingStatus) Terminal() bool {
	next, ok := transitions[s]
	return ok && len(next) == 0
}

// CanTransition reports whether s -> to is a legal move.
func (s RecordingStatus) CanTransition(to RecordingStatus) bool {
	for _, n := range transitions[s] {
		if n == to {
			return true
		}
	}
	return false
}

// Claimable reports whether a migration worker may take the entry.
func (s RecordingStatus) Claimable() bool {
	return s == RecordingStatusPending || s == RecordingStatusError
}

// Artifact kinds classify the physical file produced by a session.
const (
	ArtifactKindVideo      = "video"
	ArtifactKindAudio      = "audio"
	ArtifactKindTranscript = "transcript"
)

// NormalizeArtifactKind maps provider file types onto our kinds.
func NormalizeArtifactKind(kind string) string {
	switch kind {
	case ArtifactKindAudio, "audio_only", "m4a":
		return ArtifactKindAudio
	case ArtifactKindTranscript, "timeline", "chat", "cc", "vtt":
		return ArtifactKindTranscript
	default:
		return ArtifactKindVideo
	}
}

// StorageProvider identifies where the playable copy currently lives.
const (
	StorageProviderSource  = "source"
	StorageProviderDurable = "durable"
)

// RecordingEntry is one row per physical artifact produced by a class session.
// (session_id, source_artifact_id) is unique so webhook re-delivery cannot
// create duplicates. Version backs optimistic locking on status writes.
type RecordingEntry struct {
	ID                uuid.UUID       `json:"id"`
	SessionID         string          `json:"session_id"`
	SourceArtifactID  string          `json:"source_artifact_id"`
	ArtifactKind      string          `json:"artifact_kind"`
	Status            RecordingStatus `json:"status"`
	StorageProvider   string          `json:"storage_provider"`
	DurationSeconds   int             `json:"duration_seconds"`
	ByteSize          int64           `json:"byte_size"`
	SourceDownloadURL string          `json:"source_download_url,omitempty"`
	PlaybackURL       string          `json:"playback_url,omitempty"`
	DownloadURL       string          `json:"download_url,omitempty"`
	DurableObjectID   string          `json:"durable_object_id,omitempty"`
	LastError         string          `json:"last_error,omitempty"`
	Attempts          int             `json:"attempts"`
	Version           int             `json:"version"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
	DeletedAt         *time.Time      `json:"deleted_at,omitempty"`
}
