package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/kiranshivaraju/clipforge/internal/cache"
	"github.com/kiranshivaraju/clipforge/internal/objectstore"
	"github.com/kiranshivaraju/clipforge/internal/retry"
	"github.com/kiranshivaraju/clipforge/internal/store"
	"github.com/kiranshivaraju/clipforge/pkg/models"
)

// --- Object store ---

type fakeObjects struct {
	mu          sync.Mutex
	objects     map[string]int64
	deleted     []string
	existsErr   error
	signErr     error
	failSignFor map[string]bool
	existsCalls int
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{objects: map[string]int64{}, failSignFor: map[string]bool{}}
}

func (f *fakeObjects) put(key string, size int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = size
}

func (f *fakeObjects) has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[key]
	return ok
}

func (f *fakeObjects) deletedKeys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

func (f *fakeObjects) PresignPut(_ context.Context, key, contentType string, _ time.Duration) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.signErr != nil {
		return "", f.signErr
	}
	return "https://media.example/" + key + "?X-Amz-Signature=put&ct=" + contentType, nil
}

func (f *fakeObjects) PresignGet(_ context.Context, key string, _ time.Duration) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.signErr != nil || f.failSignFor[key] {
		return "", errors.New("signer unavailable")
	}
	return "https://media.example/" + key + "?X-Amz-Signature=get", nil
}

func (f *fakeObjects) Exists(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.existsCalls++
	if f.existsErr != nil {
		return false, f.existsErr
	}
	_, ok := f.objects[key]
	return ok, nil
}

func (f *fakeObjects) Metadata(_ context.Context, key string) (*objectstore.Metadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	size, ok := f.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", objectstore.ErrNotFound, key)
	}
	return &objectstore.Metadata{Size: size, ContentType: "video/mp4"}, nil
}

func (f *fakeObjects) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, key)
	delete(f.objects, key)
	return nil
}

func (f *fakeObjects) Upload(_ context.Context, key string, body io.ReadSeeker, size int64, _ string) (string, error) {
	f.put(key, size)
	return f.Locator(key), nil
}

func (f *fakeObjects) Locator(key string) string {
	return objectstore.Locator("media", key)
}

func (f *fakeObjects) KeyFromLocator(locator string) (string, error) {
	_, key, err := objectstore.ParseLocator(locator)
	return key, err
}

// --- Engine and prober ---

type runFunc func(ctx context.Context, req models.TranscodeRequest, onProgress models.ProgressFunc) (models.TranscodeResult, error)

type fakeEngine struct {
	mu    sync.Mutex
	calls []models.TranscodeRequest
	run   runFunc
}

func (e *fakeEngine) Transcode(ctx context.Context, req models.TranscodeRequest, onProgress models.ProgressFunc) (models.TranscodeResult, error) {
	e.mu.Lock()
	e.calls = append(e.calls, req)
	run := e.run
	e.mu.Unlock()
	return run(ctx, req, onProgress)
}

func (e *fakeEngine) Name() string { return "fake" }

func (e *fakeEngine) setRun(run runFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.run = run
}

func (e *fakeEngine) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

func (e *fakeEngine) lastCall() models.TranscodeRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[len(e.calls)-1]
}

// succeedWith reports each progress value, then returns output.
func succeedWith(output string, progress ...int) runFunc {
	return func(_ context.Context, _ models.TranscodeRequest, onProgress models.ProgressFunc) (models.TranscodeResult, error) {
		for _, p := range progress {
			onProgress(p)
		}
		return models.TranscodeResult{OutputLocator: output}, nil
	}
}

func failWith(err error) runFunc {
	return func(context.Context, models.TranscodeRequest, models.ProgressFunc) (models.TranscodeResult, error) {
		return models.TranscodeResult{}, err
	}
}

// blockUntilCanceled behaves like an engine that honours cancellation.
func blockUntilCanceled(started chan<- struct{}) runFunc {
	return func(ctx context.Context, _ models.TranscodeRequest, _ models.ProgressFunc) (models.TranscodeResult, error) {
		if started != nil {
			started <- struct{}{}
		}
		<-ctx.Done()
		return models.TranscodeResult{}, ctx.Err()
	}
}

// gated ignores cancellation and finishes with output once release closes.
func gated(started chan<- struct{}, release <-chan struct{}, output string) runFunc {
	return func(context.Context, models.TranscodeRequest, models.ProgressFunc) (models.TranscodeResult, error) {
		if started != nil {
			started <- struct{}{}
		}
		<-release
		return models.TranscodeResult{OutputLocator: output}, nil
	}
}

type fakeProber struct {
	mu   sync.Mutex
	info models.VideoInfo
	err  error
	urls []string
}

func (p *fakeProber) Probe(_ context.Context, url string) (*models.VideoInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.urls = append(p.urls, url)
	if p.err != nil {
		return nil, p.err
	}
	info := p.info
	return &info, nil
}

func (p *fakeProber) setErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// --- Cache ---

type mapCache struct {
	mu   sync.Mutex
	data map[string][]byte
	fail bool
}

func newMapCache() *mapCache { return &mapCache{data: map[string][]byte{}} }

func (c *mapCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("cache down")
	}
	c.data[key] = value
	return nil
}

func (c *mapCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return nil, false, errors.New("cache down")
	}
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *mapCache) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("cache down")
	}
	for _, k := range keys {
		delete(c.data, k)
	}
	return nil
}

func (c *mapCache) Ping(context.Context) error { return nil }

func (c *mapCache) IncrWithExpiry(context.Context, string, time.Duration) (int64, error) {
	return 0, cache.ErrDisabled
}

func (c *mapCache) has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.data[key]
	return ok
}

func (c *mapCache) setFail(fail bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fail = fail
}

// --- Harness ---

type harness struct {
	orch    *Orchestrator
	query   *QueryService
	store   *store.GormStore
	objects *fakeObjects
	engine  *fakeEngine
	prober  *fakeProber
	cache   *mapCache
}

var fastRetry = retry.Config{
	MaxAttempts:       3,
	InitialBackoff:    time.Millisecond,
	MaxBackoff:        5 * time.Millisecond,
	BackoffMultiplier: 2.0,
}

func newHarness(t *testing.T, opts ...func(*Options)) *harness {
	t.Helper()

	db, err := store.OpenSQLite(":memory:")
	require.NoError(t, err)
	st := store.NewGormStore(db)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })

	o := Options{Retry: fastRetry}
	for _, fn := range opts {
		fn(&o)
	}

	h := &harness{
		store:   st,
		objects: newFakeObjects(),
		engine:  &fakeEngine{run: succeedWith("s3://media/transcoded/out.mp4")},
		prober:  &fakeProber{info: models.VideoInfo{DurationSeconds: 12.5, Width: 1920, Height: 1080}},
		cache:   newMapCache(),
	}
	h.orch = NewOrchestrator(st, h.objects, h.engine, h.prober, h.cache, o)
	h.query = NewQueryService(st, h.objects, h.cache, o)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.orch.Shutdown(ctx)
	})
	return h
}

func (h *harness) slot(t *testing.T, owner string) *UploadSlot {
	t.Helper()
	s, err := h.orch.RequestUploadSlot(context.Background(), owner, "clip.mp4", "video/mp4", "720p")
	require.NoError(t, err)
	return s
}

// uploadAndConfirm simulates the client PUT and confirms it.
func (h *harness) uploadAndConfirm(t *testing.T, owner string, s *UploadSlot) {
	t.Helper()
	h.objects.put(s.StorageKey, 1048576)
	_, err := h.orch.ConfirmUpload(context.Background(), owner, s.JobID, s.StorageKey)
	require.NoError(t, err)
}

func (h *harness) job(t *testing.T, id uuid.UUID) *models.Job {
	t.Helper()
	j, err := h.store.GetJob(context.Background(), id)
	require.NoError(t, err)
	return j
}

func (h *harness) waitStatus(t *testing.T, id uuid.UUID, status models.JobStatus) *models.Job {
	t.Helper()
	var last *models.Job
	require.Eventually(t, func() bool {
		j, err := h.store.GetJob(context.Background(), id)
		if err != nil {
			return false
		}
		last = j
		return j.Status == status
	}, 5*time.Second, 5*time.Millisecond, "job %s never reached %s", id, status)
	return last
}

func (h *harness) waitIdle(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool { return h.orch.Active() == 0 }, 5*time.Second, 5*time.Millisecond)
}
