package objectstore

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/kiranshivaraju/clipforge/internal/cache"
)

// HeadTTL is how long HEAD metadata stays cached.
const HeadTTL = 10 * time.Minute

// CachedStore caches Metadata lookups in front of another Store. Only hits
// are cached, so a missing object is always re-checked.
type CachedStore struct {
	Store
	cache cache.Cache
}

func NewCachedStore(inner Store, c cache.Cache) *CachedStore {
	return &CachedStore{Store: inner, cache: c}
}

func (s *CachedStore) Metadata(ctx context.Context, key string) (*Metadata, error) {
	ck := cache.ObjectHeadKey(key)
	if data, ok, err := s.cache.Get(ctx, ck); err == nil && ok {
		var md Metadata
		if err := json.Unmarshal(data, &md); err == nil {
			return &md, nil
		}
	}

	md, err := s.Store.Metadata(ctx, key)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(md); err == nil {
		if err := s.cache.Set(ctx, ck, data, cache.Jitter(HeadTTL)); err != nil {
			slog.Debug("head cache set failed", "key", key, "error", err)
		}
	}
	return md, nil
}

func (s *CachedStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.Metadata(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *CachedStore) Delete(ctx context.Context, key string) error {
	if err := s.cache.Delete(ctx, cache.ObjectHeadKey(key)); err != nil {
		slog.Debug("head cache delete failed", "key", key, "error", err)
	}
	return s.Store.Delete(ctx, key)
}

func (s *CachedStore) Upload(ctx context.Context, key string, body io.ReadSeeker, size int64, contentType string) (string, error) {
	if err := s.cache.Delete(ctx, cache.ObjectHeadKey(key)); err != nil {
		slog.Debug("head cache delete failed", "key", key, "error", err)
	}
	return s.Store.Upload(ctx, key, body, size, contentType)
}

var _ Store = (*CachedStore)(nil)
