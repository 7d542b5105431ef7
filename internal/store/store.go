package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/clipforge/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// ErrConflict is returned when a conditional update matched the row but not
// the expected status.
var ErrConflict = errors.New("job status changed concurrently")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error

	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	ListJobsByOwner(ctx context.Context, ownerID string) ([]*models.Job, error)
	ListAllJobs(ctx context.Context) ([]*models.Job, error)
	ListStalledJobs(ctx context.Context, updatedBefore time.Time) ([]*models.Job, error)
	UpdateJobStatus(ctx context.Context, id uuid.UUID, status models.JobStatus, opts ...JobUpdateOption) error
	UpdateJobProgress(ctx context.Context, id uuid.UUID, progress int) error
	DeleteJob(ctx context.Context, id uuid.UUID) error
}

type jobUpdateParams struct {
	FromStatuses  []models.JobStatus
	UpdatedBefore *time.Time
	Progress      *int
	OutputLocator *string
	ClearOutput   bool
	SizeBytes     *int64
	Duration      *float64
	Profile       *models.Profile
	ErrorMessage  *string
	ClearError    bool
}

type JobUpdateOption func(*jobUpdateParams)

// FromStatus makes the update conditional: it only applies while the stored
// status is one of statuses. Otherwise UpdateJobStatus returns ErrConflict.
func FromStatus(statuses ...models.JobStatus) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.FromStatuses = append(p.FromStatuses, statuses...)
	}
}

// UpdatedBefore further guards the update on updated_at being older than t.
// A job that reported progress since it was read no longer matches.
func UpdatedBefore(t time.Time) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.UpdatedBefore = &t
	}
}

func WithProgress(progress int) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.Progress = &progress
	}
}

func WithOutputLocator(locator string) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.OutputLocator = &locator
		p.ClearOutput = false
	}
}

func ClearOutputLocator() JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.OutputLocator = nil
		p.ClearOutput = true
	}
}

func WithSourceInfo(sizeBytes int64, durationSeconds float64) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.SizeBytes = &sizeBytes
		p.Duration = &durationSeconds
	}
}

func WithProfile(profile models.Profile) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.Profile = &profile
	}
}

func WithErrorMessage(msg string) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.ErrorMessage = &msg
		p.ClearError = false
	}
}

func ClearErrorMessage() JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.ErrorMessage = nil
		p.ClearError = true
	}
}

func applyOptions(opts []JobUpdateOption) *jobUpdateParams {
	params := &jobUpdateParams{}
	for _, opt := range opts {
		opt(params)
	}
	return params
}

func statusStrings(statuses []models.JobStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
