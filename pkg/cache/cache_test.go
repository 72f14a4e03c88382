package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func countingLoader(calls *atomic.Int64) Loader[string, int] {
	return func(ctx context.Context, key string) (int, error) {
		calls.Add(1)
		return len(key), nil
	}
}

func TestCache_ReadThrough(t *testing.T) {
	var calls atomic.Int64
	c := New(Config{MaxEntries: 10, TTL: time.Minute}, countingLoader(&calls))
	ctx := context.Background()

	v, err := c.Get(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, 3, v)

	v, err = c.Get(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, 3, v)

	assert.Equal(t, int64(1), calls.Load())
	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.ItemCount)
	assert.InDelta(t, 0.5, stats.HitRate, 0.001)
}

func TestCache_Invalidate(t *testing.T) {
	var calls atomic.Int64
	c := New(Config{MaxEntries: 10, TTL: time.Minute}, countingLoader(&calls))
	ctx := context.Background()

	_, _ = c.Get(ctx, "k")
	c.Invalidate("k")
	_, _ = c.Get(ctx, "k")
	assert.Equal(t, int64(2), calls.Load())

	c.Purge()
	assert.Equal(t, int64(0), c.Stats().ItemCount)
}

func TestCache_Expiry(t *testing.T) {
	var calls atomic.Int64
	c := New(Config{MaxEntries: 10, TTL: 20 * time.Millisecond}, countingLoader(&calls))
	ctx := context.Background()

	_, _ = c.Get(ctx, "k")
	time.Sleep(60 * time.Millisecond)
	_, _ = c.Get(ctx, "k")
	assert.Equal(t, int64(2), calls.Load())
}

func TestCache_ErrorsNotCached(t *testing.T) {
	var calls atomic.Int64
	boom := errors.New("boom")
	c := New(Config{MaxEntries: 10, TTL: time.Minute}, func(ctx context.Context, key string) (int, error) {
		calls.Add(1)
		return 0, boom
	})

	_, err := c.Get(context.Background(), "k")
	assert.ErrorIs(t, err, boom)
	_, err = c.Get(context.Background(), "k")
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int64(2), calls.Load())
	assert.Equal(t, int64(0), c.Stats().ItemCount)
}

func TestCache_ZeroTTLDisablesCaching(t *testing.T) {
	var calls atomic.Int64
	c := New(Config{MaxEntries: 10}, countingLoader(&calls))

	_, _ = c.Get(context.Background(), "k")
	_, _ = c.Get(context.Background(), "k")
	assert.Equal(t, int64(2), calls.Load())
	assert.Equal(t, int64(0), c.Stats().Hits)
}

func TestCache_EvictsBeyondMaxEntries(t *testing.T) {
	var calls atomic.Int64
	c := New(Config{MaxEntries: 2, TTL: time.Minute}, countingLoader(&calls))
	ctx := context.Background()

	_, _ = c.Get(ctx, "a")
	_, _ = c.Get(ctx, "bb")
	_, _ = c.Get(ctx, "ccc")
	assert.Equal(t, int64(2), c.Stats().ItemCount)

	_, _ = c.Get(ctx, "a")
	assert.Equal(t, int64(4), calls.Load())
}
