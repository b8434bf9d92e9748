package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestBuckets_DeniesAfterCapacity(t *testing.T) {
	clock := newFakeClock()
	b := NewBuckets(time.Minute, WithClock(clock.Now))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		d, err := b.Admit(ctx, "demo", 2)
		require.NoError(t, err)
		assert.True(t, d.Allowed, "request %d", i+1)
	}

	d, err := b.Admit(ctx, "demo", 2)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
	assert.Equal(t, 30*time.Second, d.RetryAfter)
}

func TestBuckets_RefillsAtQuotaPerWindow(t *testing.T) {
	clock := newFakeClock()
	b := NewBuckets(time.Minute, WithClock(clock.Now))
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, _ = b.Admit(ctx, "t", 4)
	}
	d, _ := b.Admit(ctx, "t", 4)
	require.False(t, d.Allowed)

	// quota 4 per minute refills one token every 15s
	clock.Advance(14 * time.Second)
	d, _ = b.Admit(ctx, "t", 4)
	assert.False(t, d.Allowed)

	clock.Advance(2 * time.Second)
	d, _ = b.Admit(ctx, "t", 4)
	assert.True(t, d.Allowed)
	d, _ = b.Admit(ctx, "t", 4)
	assert.False(t, d.Allowed)
}

func TestBuckets_NeverExceedsCapacityWithinWindow(t *testing.T) {
	for _, quota := range []int{1, 3, 10, 60} {
		t.Run(fmt.Sprintf("quota=%d", quota), func(t *testing.T) {
			clock := newFakeClock()
			b := NewBuckets(time.Minute, WithClock(clock.Now))
			ctx := context.Background()

			for {
				d, _ := b.Admit(ctx, "t", quota)
				if !d.Allowed {
					break
				}
			}

			admitted := 0
			step := 250 * time.Millisecond
			for elapsed := time.Duration(0); elapsed < time.Minute; elapsed += step {
				clock.Advance(step)
				for {
					d, _ := b.Admit(ctx, "t", quota)
					if !d.Allowed {
						break
					}
					admitted++
				}
			}
			assert.LessOrEqual(t, admitted, quota)
		})
	}
}

func TestBuckets_TokensCappedAtCapacity(t *testing.T) {
	clock := newFakeClock()
	b := NewBuckets(time.Minute, WithClock(clock.Now))
	ctx := context.Background()

	_, _ = b.Admit(ctx, "t", 3)
	clock.Advance(time.Hour)

	st, err := b.Status(ctx, "t", 3)
	require.NoError(t, err)
	assert.Equal(t, 3, st.Remaining)
}

func TestBuckets_ConcurrentAdmissionsDoNotOverspend(t *testing.T) {
	clock := newFakeClock()
	b := NewBuckets(time.Minute, WithClock(clock.Now))
	ctx := context.Background()

	const quota = 25
	var allowed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, _ := b.Admit(ctx, "hot", quota)
			if d.Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(quota), allowed.Load())
}

func TestBuckets_TenantsAreIsolated(t *testing.T) {
	clock := newFakeClock()
	b := NewBuckets(time.Minute, WithClock(clock.Now))
	ctx := context.Background()

	d, _ := b.Admit(ctx, "a", 1)
	require.True(t, d.Allowed)
	d, _ = b.Admit(ctx, "a", 1)
	require.False(t, d.Allowed)

	d, _ = b.Admit(ctx, "b", 1)
	assert.True(t, d.Allowed)
	assert.Equal(t, 2, b.Len())
}

func TestBuckets_UnlimitedQuota(t *testing.T) {
	b := NewBuckets(time.Minute)
	for i := 0; i < 100; i++ {
		d, err := b.Admit(context.Background(), "free", 0)
		require.NoError(t, err)
		require.True(t, d.Allowed)
		require.True(t, d.Unlimited())
	}
	assert.Equal(t, 0, b.Len())
}

func TestBuckets_QuotaChangeReplacesBucket(t *testing.T) {
	clock := newFakeClock()
	b := NewBuckets(time.Minute, WithClock(clock.Now))
	ctx := context.Background()

	d, _ := b.Admit(ctx, "t", 1)
	require.True(t, d.Allowed)
	d, _ = b.Admit(ctx, "t", 1)
	require.False(t, d.Allowed)

	d, _ = b.Admit(ctx, "t", 5)
	assert.True(t, d.Allowed)
	assert.Equal(t, 5, d.Limit)
}

func TestBucketKey(t *testing.T) {
	assert.Equal(t, "ratelimit:tenant:demo", bucketKey("demo"))
}
