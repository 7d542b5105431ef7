package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kiranshivaraju/clipforge/internal/retry"
	"github.com/kiranshivaraju/clipforge/internal/store"
	"github.com/kiranshivaraju/clipforge/pkg/models"
)

const (
	terminalWriteTimeout = 15 * time.Second
	maxErrorMessage      = 2000
)

// activeRun is one in-process transcode. done closes when the run has
// recorded its outcome.
type activeRun struct {
	cancel context.CancelCauseFunc
	done   chan struct{}
}

// start registers and launches a detached run. With claim set the run first
// moves the job from pending to processing. Runs for the same job never
// overlap: a lingering run is cancelled and awaited first. The run works on
// its own copy of job; callers keep theirs.
func (o *Orchestrator) start(j *models.Job, claim bool) {
	runJob := *j
	job := &runJob

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		ctx, cancel := context.WithTimeout(context.Background(), terminalWriteTimeout)
		defer cancel()
		o.fail(ctx, job, errInterrupted.Error(), job.Status)
		return
	}
	prev := o.active[job.ID]
	ctx, cancel := context.WithCancelCause(o.baseCtx)
	run := &activeRun{cancel: cancel, done: make(chan struct{})}
	o.active[job.ID] = run
	o.wg.Add(1)
	o.mu.Unlock()

	go o.runTranscode(ctx, run, prev, job, claim)
}

func (o *Orchestrator) release(jobID uuid.UUID, run *activeRun) {
	o.mu.Lock()
	if o.active[jobID] == run {
		delete(o.active, jobID)
	}
	o.mu.Unlock()
	run.cancel(nil)
	close(run.done)
}

// runTranscode invokes the engine and records the outcome. It recovers from
// panics and always leaves the job completed or failed unless the job was
// deleted or taken over meanwhile.
func (o *Orchestrator) runTranscode(ctx context.Context, run, prev *activeRun, job *models.Job, claim bool) {
	defer o.wg.Done()
	defer o.release(job.ID, run)

	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in runTranscode", "error", r, "job_id", job.ID)
			wctx, cancel := context.WithTimeout(context.Background(), terminalWriteTimeout)
			defer cancel()
			o.fail(wctx, job, fmt.Sprintf("panic: %v", r), models.JobStatusProcessing, models.JobStatusPending)
		}
	}()

	if prev != nil {
		prev.cancel(errSuperseded)
		select {
		case <-prev.done:
		case <-ctx.Done():
		}
	}

	if claim {
		if ctx.Err() != nil {
			o.abandon(ctx, job, models.JobStatusPending)
			return
		}
		err := o.store.UpdateJobStatus(ctx, job.ID, models.JobStatusProcessing,
			store.FromStatus(models.JobStatusPending),
			store.WithProgress(0))
		if errors.Is(err, store.ErrConflict) || errors.Is(err, store.ErrNotFound) {
			slog.Info("job no longer pending, skipping run", "job_id", job.ID, "error", err)
			return
		}
		if err != nil {
			slog.Error("claiming pending job failed", "job_id", job.ID, "error", err)
			wctx, cancel := o.writeContext(ctx)
			defer cancel()
			o.fail(wctx, job, fmt.Sprintf("claiming job: %v", err), models.JobStatusPending)
			return
		}
		job.Status = models.JobStatusProcessing
		o.cache.invalidate(ctx, job.ID, job.OwnerID)
	}

	req := models.TranscodeRequest{
		JobID:         job.ID,
		SourceLocator: job.SourceLocator,
		Profile:       job.Profile,
	}
	if job.DurationSeconds != nil {
		req.DurationSeconds = *job.DurationSeconds
	}

	slog.Info("transcode started", "job_id", job.ID, "engine", o.engine.Name(), "profile", job.Profile)
	started := time.Now()

	res, err := o.engine.Transcode(ctx, req, func(percent int) {
		o.recordProgress(ctx, job, percent)
	})
	if err != nil {
		if ctx.Err() != nil {
			o.abandon(ctx, job, models.JobStatusProcessing)
			return
		}
		slog.Error("transcode failed", "job_id", job.ID, "error", err)
		wctx, cancel := o.writeContext(ctx)
		defer cancel()
		o.fail(wctx, job, err.Error(), models.JobStatusProcessing)
		return
	}

	wctx, cancel := o.writeContext(ctx)
	defer cancel()
	o.complete(wctx, job, res.OutputLocator)
	slog.Info("transcode completed", "job_id", job.ID, "output", res.OutputLocator,
		"elapsed", time.Since(started).Round(time.Millisecond))
}

// abandon handles a run whose context was cancelled. Only shutdown leaves a
// failure to record; stall sweeps and deletes have already settled the row.
func (o *Orchestrator) abandon(ctx context.Context, job *models.Job, from models.JobStatus) {
	cause := context.Cause(ctx)
	slog.Warn("transcode cancelled", "job_id", job.ID, "cause", cause)
	if !errors.Is(cause, errInterrupted) {
		return
	}
	wctx, cancel := o.writeContext(ctx)
	defer cancel()
	o.fail(wctx, job, errInterrupted.Error(), from)
}

// recordProgress persists one progress report. Reports are last-write-wins
// and are dropped once the job has left processing.
func (o *Orchestrator) recordProgress(ctx context.Context, job *models.Job, percent int) {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	if err := o.store.UpdateJobProgress(ctx, job.ID, percent); err != nil {
		if errors.Is(err, store.ErrConflict) || errors.Is(err, store.ErrNotFound) || ctx.Err() != nil {
			slog.Debug("progress report dropped", "job_id", job.ID, "progress", percent, "error", err)
			return
		}
		slog.Warn("progress write failed", "job_id", job.ID, "progress", percent, "error", err)
		return
	}
	o.cache.invalidate(ctx, job.ID, job.OwnerID)
	slog.Debug("transcode progress", "job_id", job.ID, "progress", percent)
}

// complete records the output. If the job was deleted or moved on while the
// engine ran, the output is orphaned and removed.
func (o *Orchestrator) complete(ctx context.Context, job *models.Job, outputLocator string) {
	err := o.terminalWrite(ctx, job.ID, models.JobStatusCompleted,
		store.FromStatus(models.JobStatusProcessing),
		store.WithProgress(100),
		store.WithOutputLocator(outputLocator),
		store.ClearErrorMessage())
	if errors.Is(err, store.ErrConflict) || errors.Is(err, store.ErrNotFound) {
		slog.Info("discarding output of superseded run", "job_id", job.ID, "output", outputLocator, "error", err)
		o.deleteBlob(ctx, job.ID, outputLocator)
	} else if err != nil {
		slog.Error("recording completion failed", "job_id", job.ID, "error", err)
	}
	o.cache.invalidate(ctx, job.ID, job.OwnerID)
}

// fail moves the job to failed if it is still in one of from.
func (o *Orchestrator) fail(ctx context.Context, job *models.Job, msg string, from ...models.JobStatus) {
	err := o.terminalWrite(ctx, job.ID, models.JobStatusFailed,
		store.FromStatus(from...),
		store.WithErrorMessage(truncate(msg, maxErrorMessage)),
		store.ClearOutputLocator())
	if errors.Is(err, store.ErrConflict) || errors.Is(err, store.ErrNotFound) {
		slog.Debug("failure not recorded", "job_id", job.ID, "error", err)
	} else if err != nil {
		slog.Error("recording failure failed", "job_id", job.ID, "error", err)
	}
	o.cache.invalidate(ctx, job.ID, job.OwnerID)
}

// terminalWrite retries transient store errors. Conflicts and misses are
// final.
func (o *Orchestrator) terminalWrite(ctx context.Context, id uuid.UUID, status models.JobStatus, opts ...store.JobUpdateOption) error {
	return retry.Do(ctx, o.opts.Retry, func() error {
		err := o.store.UpdateJobStatus(ctx, id, status, opts...)
		if errors.Is(err, store.ErrConflict) || errors.Is(err, store.ErrNotFound) {
			return retry.Permanent(err)
		}
		return err
	})
}

// writeContext detaches from run cancellation so outcomes are recorded even
// during shutdown.
func (o *Orchestrator) writeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), terminalWriteTimeout)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
