// Package worker bounds outbound work: a fixed-size pool for batches of
// independent tasks, per-host request pacing, and line-oriented id lists.
package worker

import (
	"context"
	"fmt"
	"sync"
)

// Task computes the value for one index of a batch
type Task[T any] func(ctx context.Context, index int) (T, error)

// Outcome is the result of the task at Index
type Outcome[T any] struct {
	Index int
	Value T
	Err   error
}

// Pool bounds how many tasks of a batch run at once
type Pool struct {
	size int
}

// NewPool creates a pool of size workers; a non-positive size means one
func NewPool(size int) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{size: size}
}

// Run calls task for every index in 0..n-1 and returns n outcomes in index
// order, whatever order the tasks finish in. A failing or panicking task
// only fails its own outcome. Indexes not started before ctx ends carry
// ctx's error.
func Run[T any](ctx context.Context, p *Pool, n int, task Task[T]) []Outcome[T] {
	out := make([]Outcome[T], n)
	if n <= 0 {
		return out
	}

	workers := p.size
	if workers > n {
		workers = n
	}

	next := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range next {
				out[i] = runOne(ctx, i, task)
			}
		}()
	}

	for i := 0; i < n; i++ {
		next <- i
	}
	close(next)
	wg.Wait()
	return out
}

func runOne[T any](ctx context.Context, i int, task Task[T]) (o Outcome[T]) {
	o.Index = i
	if err := ctx.Err(); err != nil {
		o.Err = fmt.Errorf("not started: %w", err)
		return o
	}
	defer func() {
		if r := recover(); r != nil {
			var zero T
			o.Value = zero
			o.Err = fmt.Errorf("task %d panicked: %v", i, r)
		}
	}()
	o.Value, o.Err = task(ctx, i)
	return o
}
