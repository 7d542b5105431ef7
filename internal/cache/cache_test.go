package cache_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/clipforge/internal/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// startRedis runs one Redis container for the whole test and returns a
// connected cache.
func startRedis(t *testing.T) *cache.RedisCache {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, container.Terminate(ctx)) })

	endpoint, err := container.PortEndpoint(ctx, "6379/tcp", "redis")
	require.NoError(t, err)

	rc, err := cache.NewRedisCache(endpoint)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rc.Close() })
	require.NoError(t, rc.Ping(ctx))
	return rc
}

func TestRedisCache(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := startRedis(t)
	ctx := context.Background()

	t.Run("job item round trip", func(t *testing.T) {
		key := cache.JobKey(uuid.New())
		view := []byte(`{"id":"x","status":"processing","progress":40}`)
		require.NoError(t, rc.Set(ctx, key, view, 10*time.Second))

		got, found, err := rc.Get(ctx, key)
		require.NoError(t, err)
		assert.True(t, found)
		assert.JSONEq(t, string(view), string(got))
	})

	t.Run("miss", func(t *testing.T) {
		got, found, err := rc.Get(ctx, cache.JobKey(uuid.New()))
		require.NoError(t, err)
		assert.False(t, found)
		assert.Nil(t, got)
	})

	t.Run("entry expires", func(t *testing.T) {
		key := cache.JobListKey("expiring-" + uuid.NewString())
		require.NoError(t, rc.Set(ctx, key, []byte("[]"), time.Second))

		assert.Eventually(t, func() bool {
			_, found, err := rc.Get(ctx, key)
			return err == nil && !found
		}, 5*time.Second, 100*time.Millisecond)
	})

	t.Run("mutation invalidates item and owner list together", func(t *testing.T) {
		item := cache.JobKey(uuid.New())
		list := cache.JobListKey("owner-" + uuid.NewString())
		require.NoError(t, rc.Set(ctx, item, []byte("a"), 10*time.Second))
		require.NoError(t, rc.Set(ctx, list, []byte("b"), 10*time.Second))

		require.NoError(t, rc.Delete(ctx, item, list))

		for _, k := range []string{item, list} {
			_, found, err := rc.Get(ctx, k)
			require.NoError(t, err)
			assert.False(t, found, k)
		}
	})

	t.Run("delete of absent keys and of nothing", func(t *testing.T) {
		assert.NoError(t, rc.Delete(ctx, "does:not:exist"))
		assert.NoError(t, rc.Delete(ctx))
	})

	t.Run("rate counter increments atomically", func(t *testing.T) {
		key := cache.RateLimitKey("cf_" + uuid.NewString()[:5])

		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := rc.IncrWithExpiry(ctx, key, 10*time.Second)
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		n, err := rc.IncrWithExpiry(ctx, key, 10*time.Second)
		require.NoError(t, err)
		assert.Equal(t, int64(21), n)
	})

	t.Run("rate window resets after expiry", func(t *testing.T) {
		key := cache.RateLimitKey("cf_" + uuid.NewString()[:5])
		_, err := rc.IncrWithExpiry(ctx, key, time.Second)
		require.NoError(t, err)

		assert.Eventually(t, func() bool {
			_, found, err := rc.Get(ctx, key)
			return err == nil && !found
		}, 5*time.Second, 100*time.Millisecond)

		n, err := rc.IncrWithExpiry(ctx, key, 10*time.Second)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})
}

func TestRedisCache_BackendDown(t *testing.T) {
	rc, err := cache.NewRedisCache("redis://127.0.0.1:1")
	require.NoError(t, err)
	defer rc.Close()
	ctx := context.Background()

	_, found, err := rc.Get(ctx, "any")
	assert.Error(t, err)
	assert.False(t, found)
	assert.Error(t, rc.Ping(ctx))
}

func TestNewRedisCache_BadURL(t *testing.T) {
	_, err := cache.NewRedisCache("memcached://localhost:11211")
	assert.Error(t, err)
}

func TestKeys(t *testing.T) {
	jobID := uuid.MustParse("22222222-2222-2222-2222-222222222222")

	tests := []struct {
		got  string
		want string
	}{
		{cache.JobKey(jobID), "jobs:item:22222222-2222-2222-2222-222222222222"},
		{cache.JobListKey("alice"), "jobs:list:alice"},
		{cache.ObjectHeadKey("videos/1-abc-clip.mp4"), "s3:head:videos/1-abc-clip.mp4"},
		{cache.RateLimitKey("cf_abcd1"), "ratelimit:cf_abcd1"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.got)
	}

	// The same identifier must land in distinct namespaces.
	id := jobID.String()
	seen := map[string]bool{
		cache.JobKey(jobID): true, cache.JobListKey(id): true,
		cache.ObjectHeadKey(id): true, cache.RateLimitKey(id): true,
	}
	assert.Len(t, seen, 4)
}

func TestJitter(t *testing.T) {
	for _, ttl := range []time.Duration{30 * time.Second, 45 * time.Second, 10 * time.Minute} {
		t.Run(fmt.Sprint(ttl), func(t *testing.T) {
			lo, hi := ttl-ttl/10, ttl+ttl/10
			seen := map[time.Duration]bool{}
			for i := 0; i < 500; i++ {
				d := cache.Jitter(ttl)
				assert.GreaterOrEqual(t, d, lo)
				assert.LessOrEqual(t, d, hi)
				seen[d] = true
			}
			assert.Greater(t, len(seen), 1)
		})
	}
	assert.Equal(t, time.Second, cache.Jitter(100*time.Millisecond))
}

func TestNopCache(t *testing.T) {
	var c cache.Cache = cache.NopCache{}
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	val, found, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, val)
	assert.NoError(t, c.Delete(ctx, "k"))
	assert.NoError(t, c.Ping(ctx))

	_, err = c.IncrWithExpiry(ctx, "k", time.Minute)
	assert.ErrorIs(t, err, cache.ErrDisabled)
}
