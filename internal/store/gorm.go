package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/kiranshivaraju/clipforge/pkg/models"
)

// GormStore implements Store on GORM. It backs the SQLite development mode.
type GormStore struct {
	db *gorm.DB
}

type jobRecord struct {
	ID               string `gorm:"primaryKey;size:36"`
	OwnerID          string `gorm:"index:idx_jobs_owner_created,priority:1;not null"`
	OriginalFilename string `gorm:"not null"`
	ContentType      string `gorm:"not null"`
	SourceLocator    string `gorm:"not null"`
	Profile          string `gorm:"size:16;not null"`
	Status           string `gorm:"index:idx_jobs_status_updated,priority:1;size:20;not null"`
	Progress         int    `gorm:"not null"`
	OutputLocator    *string
	SizeBytes        *int64
	DurationSeconds  *float64
	ErrorMessage     *string   `gorm:"type:text"`
	CreatedAt        time.Time `gorm:"index:idx_jobs_owner_created,priority:2"`
	UpdatedAt        time.Time `gorm:"index:idx_jobs_status_updated,priority:2"`
}

func (jobRecord) TableName() string { return "jobs" }

type apiKeyRecord struct {
	ID         string `gorm:"primaryKey;size:36"`
	OwnerID    string `gorm:"not null"`
	Name       string `gorm:"not null"`
	KeyHash    string `gorm:"uniqueIndex;not null"`
	KeyPrefix  string `gorm:"index;not null"`
	Scopes     string // comma separated
	LastUsedAt *time.Time
	DeletedAt  *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (apiKeyRecord) TableName() string { return "api_keys" }

// OpenSQLite opens a SQLite database at path. SQLite allows a single writer,
// so the pool is capped at one connection.
func OpenSQLite(path string) (*gorm.DB, error) {
	dsn := path
	if path != ":memory:" && !strings.Contains(path, "?") {
		dsn = path + "?_busy_timeout=5000"
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sqlite handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Migrate creates the necessary tables.
func (s *GormStore) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&apiKeyRecord{}, &jobRecord{})
}

// Close releases the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// --- API Keys ---

func (s *GormStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	var recs []apiKeyRecord
	err := s.db.WithContext(ctx).
		Where("key_prefix = ? AND deleted_at IS NULL", prefix).
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	keys := make([]*models.APIKey, 0, len(recs))
	for i := range recs {
		k, err := recs[i].toModel()
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, nil
}

func (s *GormStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	now := time.Now().UTC()
	err := s.db.WithContext(ctx).Model(&apiKeyRecord{}).
		Where("id = ?", id.String()).
		Updates(map[string]any{"last_used_at": now, "updated_at": now}).Error
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *GormStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	rec := apiKeyRecord{
		ID:        key.ID.String(),
		OwnerID:   key.OwnerID,
		Name:      key.Name,
		KeyHash:   key.KeyHash,
		KeyPrefix: key.KeyPrefix,
		Scopes:    strings.Join(key.Scopes, ","),
		CreatedAt: key.CreatedAt,
		UpdatedAt: key.UpdatedAt,
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

func (r *apiKeyRecord) toModel() (*models.APIKey, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return nil, fmt.Errorf("parse api key id: %w", err)
	}
	scopes := []string{}
	if r.Scopes != "" {
		scopes = strings.Split(r.Scopes, ",")
	}
	return &models.APIKey{
		ID:         id,
		OwnerID:    r.OwnerID,
		Name:       r.Name,
		KeyHash:    r.KeyHash,
		KeyPrefix:  r.KeyPrefix,
		Scopes:     scopes,
		LastUsedAt: r.LastUsedAt,
		DeletedAt:  r.DeletedAt,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}, nil
}

// --- Jobs ---

func (s *GormStore) CreateJob(ctx context.Context, job *models.Job) error {
	rec := jobRecord{
		ID:               job.ID.String(),
		OwnerID:          job.OwnerID,
		OriginalFilename: job.OriginalFilename,
		ContentType:      job.ContentType,
		SourceLocator:    job.SourceLocator,
		Profile:          string(job.Profile),
		Status:           string(job.Status),
		Progress:         job.Progress,
		CreatedAt:        job.CreatedAt,
		UpdatedAt:        job.UpdatedAt,
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *GormStore) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	var rec jobRecord
	err := s.db.WithContext(ctx).Where("id = ?", id.String()).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return rec.toModel()
}

func (s *GormStore) ListJobsByOwner(ctx context.Context, ownerID string) ([]*models.Job, error) {
	return s.findJobs(s.db.WithContext(ctx).Where("owner_id = ?", ownerID).Order("created_at DESC"), "list jobs by owner")
}

func (s *GormStore) ListAllJobs(ctx context.Context) ([]*models.Job, error) {
	return s.findJobs(s.db.WithContext(ctx).Order("created_at DESC"), "list all jobs")
}

func (s *GormStore) ListStalledJobs(ctx context.Context, updatedBefore time.Time) ([]*models.Job, error) {
	return s.findJobs(s.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", string(models.JobStatusProcessing), updatedBefore.UTC()).
		Order("updated_at"), "list stalled jobs")
}

func (s *GormStore) findJobs(q *gorm.DB, op string) ([]*models.Job, error) {
	var recs []jobRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	jobs := make([]*models.Job, 0, len(recs))
	for i := range recs {
		j, err := recs[i].toModel()
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

func (s *GormStore) UpdateJobStatus(ctx context.Context, id uuid.UUID, status models.JobStatus, opts ...JobUpdateOption) error {
	params := applyOptions(opts)

	updates := map[string]any{
		"status":     string(status),
		"updated_at": time.Now().UTC(),
	}
	if params.Progress != nil {
		updates["progress"] = *params.Progress
	}
	if params.OutputLocator != nil {
		updates["output_locator"] = *params.OutputLocator
	} else if params.ClearOutput {
		updates["output_locator"] = nil
	}
	if params.SizeBytes != nil {
		updates["size_bytes"] = *params.SizeBytes
	}
	if params.Duration != nil {
		updates["duration_seconds"] = *params.Duration
	}
	if params.Profile != nil {
		updates["profile"] = string(*params.Profile)
	}
	if params.ErrorMessage != nil {
		updates["error_message"] = *params.ErrorMessage
	} else if params.ClearError {
		updates["error_message"] = nil
	}

	q := s.db.WithContext(ctx).Model(&jobRecord{}).Where("id = ?", id.String())
	if len(params.FromStatuses) > 0 {
		q = q.Where("status IN ?", statusStrings(params.FromStatuses))
	}
	if params.UpdatedBefore != nil {
		q = q.Where("updated_at < ?", params.UpdatedBefore.UTC())
	}
	res := q.Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("update job status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return s.missOrConflict(ctx, id)
	}
	return nil
}

func (s *GormStore) UpdateJobProgress(ctx context.Context, id uuid.UUID, progress int) error {
	res := s.db.WithContext(ctx).Model(&jobRecord{}).
		Where("id = ? AND status = ?", id.String(), string(models.JobStatusProcessing)).
		Updates(map[string]any{"progress": progress, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return fmt.Errorf("update job progress: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return s.missOrConflict(ctx, id)
	}
	return nil
}

func (s *GormStore) DeleteJob(ctx context.Context, id uuid.UUID) error {
	res := s.db.WithContext(ctx).Where("id = ?", id.String()).Delete(&jobRecord{})
	if res.Error != nil {
		return fmt.Errorf("delete job: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) missOrConflict(ctx context.Context, id uuid.UUID) error {
	var rec jobRecord
	err := s.db.WithContext(ctx).Select("status").Where("id = ?", id.String()).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get job status: %w", err)
	}
	return fmt.Errorf("%w: job is %s", ErrConflict, rec.Status)
}

func (r *jobRecord) toModel() (*models.Job, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return nil, fmt.Errorf("parse job id: %w", err)
	}
	return &models.Job{
		ID:               id,
		OwnerID:          r.OwnerID,
		OriginalFilename: r.OriginalFilename,
		ContentType:      r.ContentType,
		SourceLocator:    r.SourceLocator,
		Profile:          models.Profile(r.Profile),
		Status:           models.JobStatus(r.Status),
		Progress:         r.Progress,
		OutputLocator:    r.OutputLocator,
		SizeBytes:        r.SizeBytes,
		DurationSeconds:  r.DurationSeconds,
		ErrorMessage:     r.ErrorMessage,
		CreatedAt:        r.CreatedAt.UTC(),
		UpdatedAt:        r.UpdatedAt.UTC(),
	}, nil
}

var _ Store = (*GormStore)(nil)
