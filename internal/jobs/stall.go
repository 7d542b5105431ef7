package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/kiranshivaraju/clipforge/internal/store"
	"github.com/kiranshivaraju/clipforge/pkg/models"
)

const sweepTimeout = 30 * time.Second

// SweepStalled fails processing jobs that have not reported progress within
// the stall timeout and cancels their local runs. It returns the number of
// jobs failed. A zero stall timeout disables the sweep.
func (o *Orchestrator) SweepStalled(ctx context.Context) (int, error) {
	if o.opts.StallTimeout <= 0 {
		return 0, nil
	}
	cutoff := o.now().Add(-o.opts.StallTimeout)
	stalled, err := o.store.ListStalledJobs(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("listing stalled jobs: %w", err)
	}

	msg := fmt.Sprintf("stalled: no progress for %s", o.opts.StallTimeout)
	failed := 0
	for _, job := range stalled {
		err := o.store.UpdateJobStatus(ctx, job.ID, models.JobStatusFailed,
			store.FromStatus(models.JobStatusProcessing),
			store.UpdatedBefore(cutoff),
			store.WithErrorMessage(msg),
			store.ClearOutputLocator())
		if errors.Is(err, store.ErrConflict) || errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			slog.Warn("failing stalled job", "job_id", job.ID, "error", err)
			continue
		}
		failed++
		o.cache.invalidate(ctx, job.ID, job.OwnerID)
		o.cancelRun(job.ID, errStalled)
		slog.Warn("stalled job failed", "job_id", job.ID, "last_update", job.UpdatedAt)
	}
	return failed, nil
}

// StallWatchdog runs SweepStalled on a cron schedule.
type StallWatchdog struct {
	cron *cron.Cron
	orch *Orchestrator
}

// NewStallWatchdog parses schedule (standard cron or @every) and registers
// the sweep. Overlapping sweeps are skipped.
func NewStallWatchdog(o *Orchestrator, schedule string) (*StallWatchdog, error) {
	c := cron.New(cron.WithChain(
		cron.Recover(cron.DiscardLogger),
		cron.SkipIfStillRunning(cron.DiscardLogger),
	))
	w := &StallWatchdog{cron: c, orch: o}
	if _, err := c.AddFunc(schedule, w.sweep); err != nil {
		return nil, fmt.Errorf("parsing sweep schedule %q: %w", schedule, err)
	}
	return w, nil
}

func (w *StallWatchdog) Start() {
	w.cron.Start()
}

// Stop halts the schedule and waits for a running sweep, bounded by ctx.
func (w *StallWatchdog) Stop(ctx context.Context) {
	select {
	case <-w.cron.Stop().Done():
	case <-ctx.Done():
	}
}

func (w *StallWatchdog) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()
	n, err := w.orch.SweepStalled(ctx)
	if err != nil {
		slog.Error("stall sweep failed", "error", err)
		return
	}
	if n > 0 {
		slog.Info("stall sweep", "failed", n)
	}
}
