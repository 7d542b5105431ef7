package models

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle state of a transcode job.
type JobStatus string

const (
	JobStatusUploading  JobStatus = "uploading"
	JobStatusProcessing JobStatus = "processing"
	JobStatusPending    JobStatus = "pending"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether no further automatic transition happens from s.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// validTransitions lists, per target status, the statuses a job may move from.
// Deletion is allowed from any state and is not modelled here.
var validTransitions = map[JobStatus][]JobStatus{
	JobStatusProcessing: {JobStatusUploading, JobStatusPending},
	JobStatusCompleted:  {JobStatusProcessing},
	JobStatusFailed:     {JobStatusProcessing, JobStatusPending},
	JobStatusPending:    {JobStatusCompleted, JobStatusFailed},
}

// AllowedFrom returns the statuses from which a job may transition to target.
func AllowedFrom(target JobStatus) []JobStatus {
	from := validTransitions[target]
	out := make([]JobStatus, len(from))
	copy(out, from)
	return out
}

// CanTransition reports whether from -> to is a legal transition.
func CanTransition(from, to JobStatus) bool {
	for _, s := range validTransitions[to] {
		if s == from {
			return true
		}
	}
	return false
}

// Job is one request to convert a source video to a target profile.
// The client polls GET /api/v1/jobs/{id} until status is completed or failed.
type Job struct {
	ID               uuid.UUID `db:"id"                json:"id"`
	OwnerID          string    `db:"owner_id"          json:"owner_id"`
	OriginalFilename string    `db:"original_filename" json:"original_filename"`
	ContentType      string    `db:"content_type"      json:"content_type"`
	SourceLocator    string    `db:"source_locator"    json:"source_locator"`
	Profile          Profile   `db:"profile"           json:"profile"`
	Status           JobStatus `db:"status"            json:"status"`
	Progress         int       `db:"progress"          json:"progress"`
	OutputLocator    *string   `db:"output_locator"    json:"output_locator,omitempty"`
	SizeBytes        *int64    `db:"size_bytes"        json:"size_bytes,omitempty"`
	DurationSeconds  *float64  `db:"duration_seconds"  json:"duration_seconds,omitempty"`
	ErrorMessage     *string   `db:"error_message"     json:"error_message,omitempty"`
	CreatedAt        time.Time `db:"created_at"        json:"created_at"`
	UpdatedAt        time.Time `db:"updated_at"        json:"updated_at"`
}
