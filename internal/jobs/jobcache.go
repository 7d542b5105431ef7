package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kiranshivaraju/clipforge/internal/cache"
)

// jobCache is the best-effort read-through layer for job views. Backend
// errors read as misses; write and delete errors are logged and dropped.
type jobCache struct {
	c       cache.Cache
	itemTTL time.Duration
	listTTL time.Duration
}

func (jc *jobCache) getItem(ctx context.Context, id uuid.UUID) (*JobView, bool) {
	var v JobView
	if !jc.get(ctx, cache.JobKey(id), &v) {
		return nil, false
	}
	return &v, true
}

func (jc *jobCache) setItem(ctx context.Context, v *JobView) {
	jc.set(ctx, cache.JobKey(v.ID), v, jc.itemTTL)
}

func (jc *jobCache) getList(ctx context.Context, ownerID string) ([]JobView, bool) {
	var v []JobView
	if !jc.get(ctx, cache.JobListKey(ownerID), &v) {
		return nil, false
	}
	return v, true
}

func (jc *jobCache) setList(ctx context.Context, ownerID string, v []JobView) {
	jc.set(ctx, cache.JobListKey(ownerID), v, jc.listTTL)
}

// invalidate drops the item key and the owner's list key.
func (jc *jobCache) invalidate(ctx context.Context, id uuid.UUID, ownerID string) {
	if err := jc.c.Delete(ctx, cache.JobKey(id), cache.JobListKey(ownerID)); err != nil {
		slog.Debug("cache invalidate failed", "job_id", id, "error", err)
	}
}

func (jc *jobCache) get(ctx context.Context, key string, dst any) bool {
	data, ok, err := jc.c.Get(ctx, key)
	if err != nil {
		slog.Debug("cache get failed", "key", key, "error", err)
		return false
	}
	if !ok {
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		slog.Debug("cache entry undecodable", "key", key, "error", err)
		return false
	}
	return true
}

func (jc *jobCache) set(ctx context.Context, key string, v any, ttl time.Duration) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Debug("cache encode failed", "key", key, "error", err)
		return
	}
	if err := jc.c.Set(ctx, key, data, cache.Jitter(ttl)); err != nil {
		slog.Debug("cache set failed", "key", key, "error", err)
	}
}
