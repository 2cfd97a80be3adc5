package backend

import (
	"context"
	"runtime"
	"sync"
)

// cpuWorkers returns the pool size for CPU-bound work.
func cpuWorkers(requested int) int {
	if requested > 0 {
		return requested
	}
	n := runtime.NumCPU()
	if n < 1 {
		return 1
	}
	return n
}

// runIndexed calls fn(i) for every i in [0, n) on a bounded pool of workers.
// The feeder stops handing out indexes once ctx is done; indexes already taken
// run to completion. fn must only write to state owned by index i.
func runIndexed(ctx context.Context, n, workers int, fn func(i int)) error {
	if n <= 0 {
		return ctx.Err()
	}
	workers = cpuWorkers(workers)
	if workers > n {
		workers = n
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := range jobs {
				fn(i)
			}
		}()
	}

	// feeder
	func() {
		defer close(jobs)
		for i := 0; i < n; i++ {
			select {
			case <-ctx.Done():
				return
			case jobs <- i:
			}
		}
	}()

	wg.Wait()
	return ctx.Err()
}
