package ratelimit

import (
	"context"
	"sync"
)

// BatchProgress reports the completion of one item in a batch.
type BatchProgress struct {
	// Index of the item that just finished.
	Index int
	// Completed counts items finished so far, including this one.
	Completed int
	Total     int
	// Err is nil when the item succeeded.
	Err error
}

// ProgressFunc receives BatchProgress updates as batch items finish. It is
// called from worker goroutines and must be safe for concurrent use.
type ProgressFunc func(BatchProgress)

// BatchResult collects a batch's successes and per-index failures.
type BatchResult[R any] struct {
	// Results is index-aligned with the submitted items; entries whose
	// index appears in Errors hold the zero value.
	Results []R
	// Errors holds failures keyed by item index.
	Errors map[int]error
}

// Failed reports how many items failed.
func (r BatchResult[R]) Failed() int {
	return len(r.Errors)
}

// Succeeded reports how many items completed without error.
func (r BatchResult[R]) Succeeded() int {
	return len(r.Results) - len(r.Errors)
}

// BatchExecutor fans a homogeneous item set through a shared executor,
// reporting per-item progress and collecting both successful results and
// per-index errors. Unlike ExecuteAll it never fails fast: every item gets
// its chance regardless of sibling failures.
type BatchExecutor[T, R any] struct {
	ex         Executor
	fn         func(context.Context, T) (R, error)
	onProgress ProgressFunc
}

// NewBatchExecutor creates a BatchExecutor running fn for each item through
// ex. onProgress may be nil when no progress reporting is wanted.
func NewBatchExecutor[T, R any](
	ex Executor,
	fn func(context.Context, T) (R, error),
	onProgress ProgressFunc,
) *BatchExecutor[T, R] {
	return &BatchExecutor[T, R]{
		ex:         ex,
		fn:         fn,
		onProgress: onProgress,
	}
}

// Execute runs the batch and blocks until every item has settled.
func (b *BatchExecutor[T, R]) Execute(ctx context.Context, items []T) BatchResult[R] {
	results := make([]R, len(items))
	errs := make(map[int]error)

	var mu sync.Mutex
	completed := 0

	var wg sync.WaitGroup
	wg.Add(len(items))
	for i, item := range items {
		go func() {
			defer wg.Done()

			value, err := Execute(ctx, b.ex, func(ctx context.Context) (R, error) {
				return b.fn(ctx, item)
			})

			mu.Lock()
			if err != nil {
				errs[i] = err
			} else {
				results[i] = value
			}
			completed++
			done := completed
			mu.Unlock()

			if b.onProgress != nil {
				b.onProgress(BatchProgress{
					Index:     i,
					Completed: done,
					Total:     len(items),
					Err:       err,
				})
			}
		}()
	}
	wg.Wait()

	return BatchResult[R]{Results: results, Errors: errs}
}
