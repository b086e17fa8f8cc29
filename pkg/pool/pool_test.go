package pool_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/habedi/sessync/pkg/pool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_Run(t *testing.T) {
	items := []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	var count atomic.Int64

	errs := pool.Run(context.Background(), items, 3, func(ctx context.Context, item int) error {
		count.Add(1)
		time.Sleep(5 * time.Millisecond)
		return nil
	})

	assert.Empty(t, errs)
	assert.Equal(t, int64(len(items)), count.Load())
}

func TestPool_CollectsErrors(t *testing.T) {
	expectedErr := errors.New("worker failed")

	errs := pool.Run(context.Background(), []int{1, 2, 3, 4}, 2, func(ctx context.Context, item int) error {
		if item%2 == 0 {
			return expectedErr
		}
		return nil
	})

	require.Len(t, errs, 2)
	assert.ErrorIs(t, errs[0], expectedErr)
	assert.ErrorIs(t, errs[1], expectedErr)
}

func TestPool_SingleWorkerKeepsOrder(t *testing.T) {
	items := make([]int, 50)
	for i := range items {
		items[i] = i
	}
	var mu sync.Mutex
	var seen []int

	pool.Run(context.Background(), items, 1, func(ctx context.Context, item int) error {
		mu.Lock()
		seen = append(seen, item)
		mu.Unlock()
		return nil
	})

	assert.Equal(t, items, seen)
}

func TestPool_WorkerCountIsClamped(t *testing.T) {
	for _, workers := range []int{-3, 0, 1000} {
		var count atomic.Int64
		errs := pool.Run(context.Background(), []string{"a", "b", "c"}, workers, func(ctx context.Context, item string) error {
			count.Add(1)
			return nil
		})
		assert.Empty(t, errs)
		assert.Equal(t, int64(3), count.Load(), "workers=%d", workers)
	}
}

func TestPool_EmptyItems(t *testing.T) {
	called := false
	errs := pool.Run(context.Background(), []int{}, 5, func(ctx context.Context, item int) error {
		called = true
		return nil
	})
	assert.Empty(t, errs)
	assert.False(t, called)
}

func TestPool_ContextCancellation(t *testing.T) {
	items := make([]int, 200)
	for i := range items {
		items[i] = i
	}
	var processed atomic.Int64
	ctx, cancel := context.WithCancel(context.Background())

	pool.Run(ctx, items, 4, func(ctx context.Context, item int) error {
		processed.Add(1)
		if item == 0 {
			cancel()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Millisecond):
		}
		return nil
	})

	assert.Less(t, processed.Load(), int64(len(items)), "pool should stop starting items after cancellation")
}
