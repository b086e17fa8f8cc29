// Package pool runs a function over a slice with a fixed number of goroutines.
package pool

import (
	"context"
	"sync"
)

// WorkerFunc processes one item.
type WorkerFunc[T any] func(ctx context.Context, item T) error

// Run feeds items to numWorkers goroutines in slice order and waits for them.
// With a single worker items are processed strictly in order. Once ctx is
// done no further items are started. The returned slice holds the non-nil
// errors in completion order.
func Run[T any](ctx context.Context, items []T, numWorkers int, workerFunc WorkerFunc[T]) []error {
	if len(items) == 0 {
		return nil
	}
	if numWorkers < 1 {
		numWorkers = 1
	}
	if numWorkers > len(items) {
		numWorkers = len(items)
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	tasks := make(chan T)

	wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go func() {
			defer wg.Done()
			for item := range tasks {
				if ctx.Err() != nil {
					continue
				}
				if err := workerFunc(ctx, item); err != nil {
					mu.Lock()
					errs = append(errs, err)
					mu.Unlock()
				}
			}
		}()
	}

feed:
	for _, item := range items {
		select {
		case tasks <- item:
		case <-ctx.Done():
			break feed
		}
	}
	close(tasks)
	wg.Wait()
	return errs
}
