package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"staybook/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryPropertyLocker(t *testing.T) {
	locker := NewMemoryPropertyLocker(30 * time.Millisecond)
	ctx := context.Background()

	lease, err := locker.Lock(ctx, 1)
	require.NoError(t, err)

	_, err = locker.Lock(ctx, 1)
	assert.ErrorIs(t, err, domain.ErrConcurrentConflict)

	other, err := locker.Lock(ctx, 2)
	require.NoError(t, err)
	require.NoError(t, other.Release(ctx))

	require.NoError(t, lease.Release(ctx))
	// double release is a no-op
	require.NoError(t, lease.Release(ctx))

	again, err := locker.Lock(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}

func TestMemoryPropertyLocker_ContextCancel(t *testing.T) {
	locker := NewMemoryPropertyLocker(time.Second)
	lease, err := locker.Lock(context.Background(), 1)
	require.NoError(t, err)
	defer lease.Release(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = locker.Lock(ctx, 1)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryPropertyLocker_MutualExclusion(t *testing.T) {
	locker := NewMemoryPropertyLocker(5 * time.Second)
	ctx := context.Background()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lease, err := locker.Lock(ctx, 7)
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			_ = lease.Release(ctx)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside)
	assert.Zero(t, locker.held())
}

func TestMemoryPropertyLocker_IdleSlotsAreDropped(t *testing.T) {
	locker := NewMemoryPropertyLocker(20 * time.Millisecond)
	ctx := context.Background()

	for id := int64(1); id <= 100; id++ {
		lease, err := locker.Lock(ctx, id)
		require.NoError(t, err)
		require.NoError(t, lease.Release(ctx))
	}
	assert.Zero(t, locker.held())

	lease, err := locker.Lock(ctx, 1)
	require.NoError(t, err)
	_, err = locker.Lock(ctx, 1)
	assert.ErrorIs(t, err, domain.ErrConcurrentConflict)
	assert.Equal(t, 1, locker.held())

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = locker.Lock(cancelled, 1)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, locker.held())

	require.NoError(t, lease.Release(ctx))
	require.NoError(t, lease.Release(ctx))
	assert.Zero(t, locker.held())
}
