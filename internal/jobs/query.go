package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kiranshivaraju/clipforge/internal/cache"
	"github.com/kiranshivaraju/clipforge/internal/objectstore"
	"github.com/kiranshivaraju/clipforge/internal/store"
	"github.com/kiranshivaraju/clipforge/pkg/models"
)

// JobView is a job as returned to clients, with signed download URLs when
// object storage is available.
type JobView struct {
	models.Job
	DownloadURL           string `json:"download_url,omitempty"`
	TranscodedDownloadURL string `json:"transcoded_download_url,omitempty"`
}

// QueryService serves job reads through the cache.
type QueryService struct {
	store   JobStore
	objects objectstore.Store
	cache   *jobCache
	urlTTL  time.Duration
}

// NewQueryService creates a QueryService. objects may be nil; views then
// carry no URLs.
func NewQueryService(st JobStore, objects objectstore.Store, c cache.Cache, opts Options) *QueryService {
	opts = opts.withDefaults()
	if c == nil {
		c = cache.NopCache{}
	}
	return &QueryService{
		store:   st,
		objects: objects,
		cache:   &jobCache{c: c, itemTTL: opts.JobCacheTTL, listTTL: opts.ListCacheTTL},
		urlTTL:  opts.DownloadURLTTL,
	}
}

// ListJobs returns the owner's jobs, newest first.
func (q *QueryService) ListJobs(ctx context.Context, ownerID string) ([]JobView, error) {
	if views, ok := q.cache.getList(ctx, ownerID); ok {
		return views, nil
	}

	jobs, err := q.store.ListJobsByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	views := q.views(ctx, jobs)
	q.cache.setList(ctx, ownerID, views)
	return views, nil
}

// GetJob returns one job owned by ownerID. Jobs owned by anyone else read as
// not found, cached or not.
func (q *QueryService) GetJob(ctx context.Context, ownerID string, jobID uuid.UUID) (*JobView, error) {
	if v, ok := q.cache.getItem(ctx, jobID); ok {
		if v.OwnerID != ownerID {
			return nil, notFound(jobID)
		}
		return v, nil
	}

	job, err := q.store.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, notFound(jobID)
		}
		return nil, fmt.Errorf("loading job: %w", err)
	}
	v := q.view(ctx, job)
	q.cache.setItem(ctx, &v)
	if job.OwnerID != ownerID {
		return nil, notFound(jobID)
	}
	return &v, nil
}

// ListAllJobs returns every job across owners. It is not cached.
func (q *QueryService) ListAllJobs(ctx context.Context) ([]JobView, error) {
	jobs, err := q.store.ListAllJobs(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing all jobs: %w", err)
	}
	return q.views(ctx, jobs), nil
}

func (q *QueryService) views(ctx context.Context, jobs []*models.Job) []JobView {
	out := make([]JobView, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, q.view(ctx, j))
	}
	return out
}

// view signs URLs best-effort. A signing failure drops that job's URLs only.
func (q *QueryService) view(ctx context.Context, job *models.Job) JobView {
	v := JobView{Job: *job}
	if q.objects == nil {
		return v
	}

	src, err := q.sign(ctx, job.SourceLocator)
	if err != nil {
		slog.Warn("signing download URL failed", "job_id", job.ID, "error", err)
		return v
	}
	v.DownloadURL = src

	if job.OutputLocator != nil {
		out, err := q.sign(ctx, *job.OutputLocator)
		if err != nil {
			slog.Warn("signing download URL failed", "job_id", job.ID, "error", err)
			v.DownloadURL = ""
			return v
		}
		v.TranscodedDownloadURL = out
	}
	return v
}

func (q *QueryService) sign(ctx context.Context, locator string) (string, error) {
	key, err := q.objects.KeyFromLocator(locator)
	if err != nil {
		return "", err
	}
	return q.objects.PresignGet(ctx, key, q.urlTTL)
}
