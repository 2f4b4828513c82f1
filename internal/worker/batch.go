package worker

import (
	"context"
	"fmt"
)

// indexedJob runs fn for one item and remembers its position
type indexedJob[T, R any] struct {
	index int
	item  T
	fn    func(context.Context, T) R
}

func (j *indexedJob[T, R]) Execute(ctx context.Context) Result {
	return &indexedResult[R]{index: j.index, value: j.fn(ctx, j.item)}
}

type indexedResult[R any] struct {
	index int
	value R
}

func (r *indexedResult[R]) GetError() error { return nil }

// Map runs fn over items with at most concurrency calls in flight and
// returns one output per item in input order. fn must not panic; a panic is
// reported through onPanic (which may be nil) and the slot keeps R's zero value.
func Map[T, R any](ctx context.Context, concurrency int, items []T, fn func(context.Context, T) R, onPanic func(item T, err error)) []R {
	out := make([]R, len(items))
	if len(items) == 0 {
		return out
	}
	if concurrency > len(items) {
		concurrency = len(items)
	}

	pool := NewPool(ctx, concurrency)
	pool.Start()

	panicked := make([]bool, len(items))
	for i := range items {
		i := i
		job := &indexedJob[T, R]{index: i, item: items[i], fn: func(ctx context.Context, item T) (r R) {
			defer func() {
				if rec := recover(); rec != nil {
					panicked[i] = true
					if onPanic != nil {
						onPanic(item, fmt.Errorf("panic: %v", rec))
					}
				}
			}()
			return fn(ctx, item)
		}}
		if !pool.Submit(job) {
			break
		}
	}

	for _, res := range pool.Wait() {
		if ir, ok := res.(*indexedResult[R]); ok && !panicked[ir.index] {
			out[ir.index] = ir.value
		}
	}
	return out
}
