package jobs

import (
	"context"
	"sync"
)

// Result is the outcome of one unit of work.
type Result[T any] struct {
	Item T
	Err  error
}

// Outcome aggregates a batch of results.
type Outcome struct {
	Total    int
	Failed   int
	FirstErr error
}

// OK reports whether every unit succeeded.
func (o Outcome) OK() bool { return o.Failed == 0 }

// Map runs fn over items with at most workers goroutines pulling from one
// shared queue. Results are returned in input order. Once ctx is done,
// workers stop taking new items and untaken items fail with ctx.Err().
func Map[T any](ctx context.Context, items []T, workers int, fn func(ctx context.Context, item T) error) []Result[T] {
	results := make([]Result[T], len(items))
	for i, item := range items {
		results[i].Item = item
	}
	if len(items) == 0 {
		return results
	}
	if workers <= 0 {
		workers = 1
	}
	if workers > len(items) {
		workers = len(items)
	}

	queue := make(chan int, len(items))
	for i := range items {
		queue <- i
	}
	close(queue)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range queue {
				if err := ctx.Err(); err != nil {
					results[i].Err = err
					continue
				}
				results[i].Err = fn(ctx, items[i])
			}
		}()
	}
	wg.Wait()
	return results
}

// Summarize counts failures in results.
func Summarize[T any](results []Result[T]) Outcome {
	out := Outcome{Total: len(results)}
	for _, r := range results {
		if r.Err == nil {
			continue
		}
		out.Failed++
		if out.FirstErr == nil {
			out.FirstErr = r.Err
		}
	}
	return out
}
