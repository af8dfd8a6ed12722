package webdav

import (
	"context"
	"sync"
)

// BatchResult is one item's outcome from a bounded-parallel batch. A
// failure in one item never aborts the others; callers inspect Err on
// each result individually, the same way the underlying sync/async client
// surfaces a per-item error rather than unwinding the whole batch.
type BatchResult[T any] struct {
	Value T
	Err   error
}

// RunBatch runs fn once per item in inputs, bounded to at most
// maxConcurrency goroutines at a time, and returns one BatchResult per
// input in the same order as inputs — regardless of which goroutine
// finishes first. A maxConcurrency of 0 or less means unbounded. A
// buffered channel of size maxConcurrency acts as the counting
// semaphore.
func RunBatch[I, O any](ctx context.Context, inputs []I, maxConcurrency int, fn func(context.Context, I) (O, error)) []BatchResult[O] {
	results := make([]BatchResult[O], len(inputs))
	if len(inputs) == 0 {
		return results
	}

	width := maxConcurrency
	if width <= 0 || width > len(inputs) {
		width = len(inputs)
	}
	sem := make(chan struct{}, width)

	var wg sync.WaitGroup
	for i, item := range inputs {
		select {
		case <-ctx.Done():
			results[i] = BatchResult[O]{Err: ctx.Err()}
			continue
		default:
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(i int, item I) {
			defer wg.Done()
			defer func() { <-sem }()

			value, err := fn(ctx, item)
			results[i] = BatchResult[O]{Value: value, Err: err}
		}(i, item)
	}
	wg.Wait()

	return results
}
