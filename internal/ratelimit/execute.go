package ratelimit

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Execute runs fn through the executor and returns its typed result.
func Execute[T any](ctx context.Context, ex Executor, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	value, err := ex.Do(ctx, func(ctx context.Context) (any, error) {
		return fn(ctx)
	})
	if err != nil {
		return zero, err
	}
	if value == nil {
		return zero, nil
	}

	result, ok := value.(T)
	if !ok {
		return zero, fmt.Errorf("unexpected result type %T", value)
	}
	return result, nil
}

// ExecuteAll fans ops through one executor and waits for all of them,
// failing fast: the first error cancels the remaining waits and is
// returned. On success the results are index-aligned with ops.
func ExecuteAll[T any](ctx context.Context, ex Executor, ops []func(context.Context) (T, error)) ([]T, error) {
	results := make([]T, len(ops))

	g, gctx := errgroup.WithContext(ctx)
	for i, op := range ops {
		g.Go(func() error {
			value, err := Execute(gctx, ex, op)
			if err != nil {
				return err
			}
			results[i] = value
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return results, nil
}

// Settled is the per-item outcome of ExecuteAllSettled.
type Settled[T any] struct {
	Value T
	Err   error
}

// ExecuteAllSettled fans ops through one executor and waits for every one
// of them regardless of failures, returning the per-item outcomes
// index-aligned with ops.
func ExecuteAllSettled[T any](ctx context.Context, ex Executor, ops []func(context.Context) (T, error)) []Settled[T] {
	settled := make([]Settled[T], len(ops))

	var wg sync.WaitGroup
	wg.Add(len(ops))
	for i, op := range ops {
		go func() {
			defer wg.Done()
			value, err := Execute(ctx, ex, op)
			settled[i] = Settled[T]{Value: value, Err: err}
		}()
	}
	wg.Wait()

	return settled
}
