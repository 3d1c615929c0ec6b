package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type entry struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

func backends(t *testing.T) map[string]Service {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	mem := NewMemoryCache(WithMemoryCleanup(time.Minute))
	t.Cleanup(func() { _ = mem.Close() })

	return map[string]Service{
		"memory": mem,
		"redis":  NewRedisCacheFromClient(client, "test"),
	}
}

func TestService_TypedRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, c := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, c.Set(ctx, "k", entry{Name: "BTC", Score: 0.4}, time.Minute))

			var got entry
			require.NoError(t, c.Get(ctx, "k", &got))
			assert.Equal(t, entry{Name: "BTC", Score: 0.4}, got)

			var s string
			require.NoError(t, c.Set(ctx, "s", "raw", 0))
			require.NoError(t, c.Get(ctx, "s", &s))
			assert.Equal(t, "raw", s)

			assert.ErrorIs(t, c.Get(ctx, "missing", &got), ErrCacheMiss)
		})
	}
}

func TestService_SetNXAndLock(t *testing.T) {
	ctx := context.Background()
	for name, c := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ok, err := c.SetNX(ctx, "claim", entry{Name: "a"}, time.Minute)
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = c.SetNX(ctx, "claim", entry{Name: "b"}, time.Minute)
			require.NoError(t, err)
			assert.False(t, ok)

			var got entry
			require.NoError(t, c.Get(ctx, "claim", &got))
			assert.Equal(t, "a", got.Name)

			locked, err := c.TryLock(ctx, "lock", time.Minute)
			require.NoError(t, err)
			assert.True(t, locked)
			locked, err = c.TryLock(ctx, "lock", time.Minute)
			require.NoError(t, err)
			assert.False(t, locked)
			require.NoError(t, c.Unlock(ctx, "lock"))
			locked, err = c.TryLock(ctx, "lock", time.Minute)
			require.NoError(t, err)
			assert.True(t, locked)
		})
	}
}

func TestService_Delete(t *testing.T) {
	ctx := context.Background()
	for name, c := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, c.Set(ctx, "a", entry{Name: "a"}, 0))
			require.NoError(t, c.Set(ctx, "b", entry{Name: "b"}, 0))
			require.NoError(t, c.Delete(ctx, "a", "b", "never-set"))
			require.NoError(t, c.Delete(ctx))

			var got entry
			assert.ErrorIs(t, c.Get(ctx, "a", &got), ErrCacheMiss)
			assert.ErrorIs(t, c.Get(ctx, "b", &got), ErrCacheMiss)
		})
	}
}

func TestRedisCache_UnlockKeepsForeignLock(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	first := NewRedisCacheFromClient(client, "test")
	second := NewRedisCacheFromClient(client, "test")

	ok, err := first.TryLock(ctx, "scheduler:risk", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, second.Unlock(ctx, "scheduler:risk"))
	ok, err = second.TryLock(ctx, "scheduler:risk", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "lock released by an instance that never held it")

	require.NoError(t, first.Unlock(ctx, "scheduler:risk"))
	assert.False(t, mr.Exists("test:lock:scheduler:risk"))

	// an expired lock taken over elsewhere survives the late unlock
	ok, err = first.TryLock(ctx, "scheduler:risk", time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	mr.FastForward(2 * time.Second)
	ok, err = second.TryLock(ctx, "scheduler:risk", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, first.Unlock(ctx, "scheduler:risk"))
	assert.True(t, mr.Exists("test:lock:scheduler:risk"))
}

func TestMemoryCache_LockIsSeparateFromValues(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache()
	defer mc.Close()

	require.NoError(t, mc.Set(ctx, "job", "value", 0))
	ok, err := mc.TryLock(ctx, "job", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, mc.Unlock(ctx, "job"))

	var s string
	require.NoError(t, mc.Get(ctx, "job", &s))
	assert.Equal(t, "value", s)
}

func TestMemoryCache_Expiry(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache()
	defer mc.Close()

	require.NoError(t, mc.Set(ctx, "k", "v", 10*time.Millisecond))
	time.Sleep(20 * time.Millisecond)

	var s string
	assert.ErrorIs(t, mc.Get(ctx, "k", &s), ErrCacheMiss)

	ok, err := mc.SetNX(ctx, "k", "w", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryCache_EvictsLRU(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache(WithMemoryMaxSize(2))
	defer mc.Close()

	require.NoError(t, mc.Set(ctx, "a", "1", 0))
	time.Sleep(time.Millisecond)
	require.NoError(t, mc.Set(ctx, "b", "2", 0))
	time.Sleep(time.Millisecond)
	var s string
	require.NoError(t, mc.Get(ctx, "a", &s))
	time.Sleep(time.Millisecond)
	require.NoError(t, mc.Set(ctx, "c", "3", 0))

	assert.ErrorIs(t, mc.Get(ctx, "b", &s), ErrCacheMiss)
	require.NoError(t, mc.Get(ctx, "a", &s))
}
