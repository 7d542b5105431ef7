// Package jobs owns the job lifecycle: the upload handshake, detached
// transcode runs, re-runs, deletion, and the cached read side.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kiranshivaraju/clipforge/internal/cache"
	"github.com/kiranshivaraju/clipforge/internal/objectstore"
	"github.com/kiranshivaraju/clipforge/internal/retry"
	"github.com/kiranshivaraju/clipforge/internal/store"
	"github.com/kiranshivaraju/clipforge/pkg/models"
)

const sourcePrefix = "videos"

// Download file types accepted by RequestDownloadURL.
const (
	FileOriginal   = "original"
	FileTranscoded = "transcoded"
)

var (
	errInterrupted = errors.New("interrupted")
	errStalled     = errors.New("stalled")
	errDeleted     = errors.New("job deleted")
	errSuperseded  = errors.New("superseded by a newer run")
)

// JobStore is the persistence the orchestrator needs. Status updates are
// conditional through store.FromStatus.
type JobStore interface {
	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	ListJobsByOwner(ctx context.Context, ownerID string) ([]*models.Job, error)
	ListAllJobs(ctx context.Context) ([]*models.Job, error)
	ListStalledJobs(ctx context.Context, updatedBefore time.Time) ([]*models.Job, error)
	UpdateJobStatus(ctx context.Context, id uuid.UUID, status models.JobStatus, opts ...store.JobUpdateOption) error
	UpdateJobProgress(ctx context.Context, id uuid.UUID, progress int) error
	DeleteJob(ctx context.Context, id uuid.UUID) error
}

// Options tunes the orchestrator. Zero values fall back to defaults.
type Options struct {
	UploadURLTTL   time.Duration
	DownloadURLTTL time.Duration
	JobCacheTTL    time.Duration
	ListCacheTTL   time.Duration
	// StallTimeout enables SweepStalled when positive.
	StallTimeout time.Duration
	Retry        retry.Config
}

func (o Options) withDefaults() Options {
	if o.UploadURLTTL <= 0 {
		o.UploadURLTTL = time.Hour
	}
	if o.DownloadURLTTL <= 0 {
		o.DownloadURLTTL = time.Hour
	}
	if o.JobCacheTTL <= 0 {
		o.JobCacheTTL = 30 * time.Second
	}
	if o.ListCacheTTL <= 0 {
		o.ListCacheTTL = 45 * time.Second
	}
	if o.Retry.MaxAttempts == 0 {
		o.Retry = retry.Default()
	}
	return o
}

// UploadSlot is returned by RequestUploadSlot.
type UploadSlot struct {
	JobID      uuid.UUID `json:"job_id"`
	UploadURL  string    `json:"upload_url"`
	StorageKey string    `json:"storage_key"`
	ExpiresIn  int       `json:"expires_in"`
}

// DownloadURL is a signed read URL for one of a job's blobs.
type DownloadURL struct {
	URL       string `json:"download_url"`
	ExpiresIn int    `json:"expires_in"`
	FileType  string `json:"file_type"`
}

// Orchestrator drives jobs through the state machine. Transcode runs are
// detached from the request and derive from the orchestrator's base context.
type Orchestrator struct {
	store   JobStore
	objects objectstore.Store
	engine  models.TranscodingEngine
	prober  models.Prober
	cache   *jobCache
	opts    Options
	now     func() time.Time

	baseCtx context.Context
	stop    context.CancelCauseFunc

	mu     sync.Mutex
	active map[uuid.UUID]*activeRun
	closed bool
	wg     sync.WaitGroup
}

// NewOrchestrator wires the orchestrator. objects, engine and prober may be
// nil; operations that need them then fail with ErrNotConfigured.
func NewOrchestrator(st JobStore, objects objectstore.Store, engine models.TranscodingEngine, prober models.Prober, c cache.Cache, opts Options) *Orchestrator {
	opts = opts.withDefaults()
	if c == nil {
		c = cache.NopCache{}
	}
	ctx, stop := context.WithCancelCause(context.Background())
	return &Orchestrator{
		store:   st,
		objects: objects,
		engine:  engine,
		prober:  prober,
		cache:   &jobCache{c: c, itemTTL: opts.JobCacheTTL, listTTL: opts.ListCacheTTL},
		opts:    opts,
		now:     func() time.Time { return time.Now().UTC() },
		baseCtx: ctx,
		stop:    stop,
		active:  make(map[uuid.UUID]*activeRun),
	}
}

// RequestUploadSlot validates the upload, creates a job in uploading and
// returns a signed PUT URL bound to contentType.
func (o *Orchestrator) RequestUploadSlot(ctx context.Context, ownerID, filename, contentType, profile string) (*UploadSlot, error) {
	if o.objects == nil {
		return nil, fmt.Errorf("%w: object storage is not configured", ErrNotConfigured)
	}
	mediaType, err := validateUpload(filename, contentType)
	if err != nil {
		return nil, err
	}
	p, err := models.ParseProfile(profile)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	key := objectstore.GenerateKey(filename, sourcePrefix)
	var uploadURL string
	err = retry.Do(ctx, o.opts.Retry, func() error {
		var err error
		uploadURL, err = o.objects.PresignPut(ctx, key, mediaType, o.opts.UploadURLTTL)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: signing upload URL: %v", ErrUpstream, err)
	}

	now := o.now()
	job := &models.Job{
		ID:               uuid.New(),
		OwnerID:          ownerID,
		OriginalFilename: filename,
		ContentType:      mediaType,
		SourceLocator:    o.objects.Locator(key),
		Profile:          p,
		Status:           models.JobStatusUploading,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := o.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("creating job: %w", err)
	}
	o.cache.invalidate(ctx, job.ID, ownerID)

	slog.Info("upload slot issued", "job_id", job.ID, "owner_id", ownerID, "profile", p)
	return &UploadSlot{
		JobID:      job.ID,
		UploadURL:  uploadURL,
		StorageKey: key,
		ExpiresIn:  int(o.opts.UploadURLTTL / time.Second),
	}, nil
}

// ConfirmUpload verifies the uploaded object, records its size and duration,
// moves the job to processing and starts the transcode without waiting for it.
func (o *Orchestrator) ConfirmUpload(ctx context.Context, ownerID string, jobID uuid.UUID, storageKey string) (*models.VideoInfo, error) {
	if o.objects == nil || o.engine == nil || o.prober == nil {
		return nil, fmt.Errorf("%w: transcoding is not configured", ErrNotConfigured)
	}

	job, err := o.ownedJob(ctx, ownerID, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != models.JobStatusUploading {
		return nil, fmt.Errorf("%w: job is %s, not uploading", ErrConflict, job.Status)
	}
	key, err := o.objects.KeyFromLocator(job.SourceLocator)
	if err != nil {
		return nil, fmt.Errorf("job source locator: %w", err)
	}
	if storageKey != key {
		return nil, fmt.Errorf("%w: no upload for this job at %q", ErrNotFound, storageKey)
	}

	var exists bool
	err = retry.Do(ctx, o.opts.Retry, func() error {
		var err error
		exists, err = o.objects.Exists(ctx, key)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: checking upload: %v", ErrUpstream, err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: upload not found at %q", ErrNotFound, key)
	}

	var md *objectstore.Metadata
	err = retry.Do(ctx, o.opts.Retry, func() error {
		var err error
		md, err = o.objects.Metadata(ctx, key)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: reading upload metadata: %v", ErrUpstream, err)
	}

	probeURL, err := o.signGet(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("%w: signing probe URL: %v", ErrUpstream, err)
	}
	info, err := o.prober.Probe(ctx, probeURL)
	if err != nil {
		return nil, fmt.Errorf("%w: probing upload: %v", ErrUpstream, err)
	}
	info.SizeBytes = md.Size

	err = o.store.UpdateJobStatus(ctx, job.ID, models.JobStatusProcessing,
		store.FromStatus(models.JobStatusUploading),
		store.WithSourceInfo(info.SizeBytes, info.DurationSeconds),
		store.WithProgress(0),
		store.ClearErrorMessage())
	if err != nil {
		return nil, storeErr(err, "claiming job")
	}
	o.cache.invalidate(ctx, job.ID, job.OwnerID)

	job.Status = models.JobStatusProcessing
	job.SizeBytes = &info.SizeBytes
	job.DurationSeconds = &info.DurationSeconds
	o.start(job, false)

	slog.Info("upload confirmed", "job_id", job.ID, "size", info.SizeBytes, "duration", info.DurationSeconds)
	return info, nil
}

// Rerun moves a terminal job back to pending with a new profile and starts a
// fresh transcode. An empty profile keeps the job's current one.
func (o *Orchestrator) Rerun(ctx context.Context, ownerID string, jobID uuid.UUID, profile string) (*models.Job, error) {
	if o.objects == nil || o.engine == nil {
		return nil, fmt.Errorf("%w: transcoding is not configured", ErrNotConfigured)
	}

	job, err := o.ownedJob(ctx, ownerID, jobID)
	if err != nil {
		return nil, err
	}
	p := job.Profile
	if profile != "" {
		if p, err = models.ParseProfile(profile); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
	}
	if !models.CanTransition(job.Status, models.JobStatusPending) {
		return nil, fmt.Errorf("%w: job is %s", ErrConflict, job.Status)
	}

	err = o.store.UpdateJobStatus(ctx, job.ID, models.JobStatusPending,
		store.FromStatus(models.AllowedFrom(models.JobStatusPending)...),
		store.WithProgress(0),
		store.WithProfile(p),
		store.ClearOutputLocator(),
		store.ClearErrorMessage())
	if err != nil {
		return nil, storeErr(err, "resetting job")
	}
	o.cache.invalidate(ctx, job.ID, job.OwnerID)

	if job.OutputLocator != nil {
		o.deleteBlob(ctx, job.ID, *job.OutputLocator)
	}

	job.Status = models.JobStatusPending
	job.Profile = p
	job.Progress = 0
	job.OutputLocator = nil
	job.ErrorMessage = nil
	job.UpdatedAt = o.now()
	o.start(job, true)

	slog.Info("job re-run requested", "job_id", job.ID, "profile", p)
	return job, nil
}

// DeleteJob removes the job's blobs best-effort, then the record. A running
// transcode is cancelled once the record is gone; if the record delete fails
// the run carries on and settles the job itself.
func (o *Orchestrator) DeleteJob(ctx context.Context, ownerID string, jobID uuid.UUID) error {
	job, err := o.ownedJob(ctx, ownerID, jobID)
	if err != nil {
		return err
	}

	if o.objects != nil {
		o.deleteBlob(ctx, job.ID, job.SourceLocator)
		if job.OutputLocator != nil {
			o.deleteBlob(ctx, job.ID, *job.OutputLocator)
		}
	}

	if err := o.store.DeleteJob(ctx, job.ID); err != nil {
		return storeErr(err, "deleting job")
	}
	o.cancelRun(job.ID, errDeleted)
	o.cache.invalidate(ctx, job.ID, job.OwnerID)

	slog.Info("job deleted", "job_id", job.ID)
	return nil
}

// RequestDownloadURL signs a GET URL for the original upload or the
// transcoded output.
func (o *Orchestrator) RequestDownloadURL(ctx context.Context, ownerID string, jobID uuid.UUID, fileType string) (*DownloadURL, error) {
	if o.objects == nil {
		return nil, fmt.Errorf("%w: object storage is not configured", ErrNotConfigured)
	}
	if fileType == "" {
		fileType = FileOriginal
	}
	if fileType != FileOriginal && fileType != FileTranscoded {
		return nil, fmt.Errorf("%w: fileType must be %q or %q", ErrValidation, FileOriginal, FileTranscoded)
	}

	job, err := o.ownedJob(ctx, ownerID, jobID)
	if err != nil {
		return nil, err
	}

	locator := job.SourceLocator
	if fileType == FileTranscoded {
		if job.OutputLocator == nil {
			return nil, fmt.Errorf("%w: job has no transcoded output", ErrNotFound)
		}
		locator = *job.OutputLocator
	}
	key, err := o.objects.KeyFromLocator(locator)
	if err != nil {
		return nil, fmt.Errorf("job locator: %w", err)
	}

	url, err := o.signGet(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("%w: signing download URL: %v", ErrUpstream, err)
	}
	return &DownloadURL{
		URL:       url,
		ExpiresIn: int(o.opts.DownloadURLTTL / time.Second),
		FileType:  fileType,
	}, nil
}

// Shutdown stops accepting runs, cancels in-flight transcodes and waits for
// them to record their outcome or for ctx to expire.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()

	o.stop(errInterrupted)

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for transcodes: %w", ctx.Err())
	}
}

// Active returns the number of transcodes running in this process.
func (o *Orchestrator) Active() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.active)
}

func (o *Orchestrator) ownedJob(ctx context.Context, ownerID string, jobID uuid.UUID) (*models.Job, error) {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, notFound(jobID)
		}
		return nil, fmt.Errorf("loading job: %w", err)
	}
	if job.OwnerID != ownerID {
		return nil, notFound(jobID)
	}
	return job, nil
}

func (o *Orchestrator) signGet(ctx context.Context, key string) (string, error) {
	var url string
	err := retry.Do(ctx, o.opts.Retry, func() error {
		var err error
		url, err = o.objects.PresignGet(ctx, key, o.opts.DownloadURLTTL)
		return err
	})
	return url, err
}

func (o *Orchestrator) deleteBlob(ctx context.Context, jobID uuid.UUID, locator string) {
	key, err := o.objects.KeyFromLocator(locator)
	if err != nil {
		slog.Warn("skipping blob delete", "job_id", jobID, "locator", locator, "error", err)
		return
	}
	if err := o.objects.Delete(ctx, key); err != nil {
		slog.Warn("blob delete failed", "job_id", jobID, "key", key, "error", err)
	}
}

func (o *Orchestrator) cancelRun(jobID uuid.UUID, cause error) bool {
	o.mu.Lock()
	run, ok := o.active[jobID]
	o.mu.Unlock()
	if ok {
		run.cancel(cause)
	}
	return ok
}
