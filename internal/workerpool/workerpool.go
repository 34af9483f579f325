// Package workerpool provides a small WaitGroup-based worker pool
// (one goroutine per contiguous chunk, no channels) for the data-parallel inner loops of C6 and C7 (spec §5, scope
// 2): per-read Gibbs E-step sampling and per-species Bayes-factor
// mini-EM evaluations. Each task is embarrassingly parallel and owns
// its own RNG; results are reduced by the caller after Run returns.
package workerpool

import (
	"runtime"
	"sync"
)

// Run partitions [0, n) into contiguous chunks and runs fn(start, end)
// across workers goroutines, blocking until every chunk completes.
// workers <= 0 defaults to runtime.NumCPU().
func Run(n, workers int, fn func(start, end int)) {
	if n <= 0 {
		return
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > n {
		workers = n
	}

	chunk := (n + workers - 1) / workers
	var wg sync.WaitGroup
	for start := 0; start < n; start += chunk {
		end := start + chunk
		if end > n {
			end = n
		}
		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			fn(s, e)
		}(start, end)
	}
	wg.Wait()
}

// RunIndexed runs fn(i) for every i in [0, n) across a worker pool,
// useful when tasks are independent single units of work (e.g. one
// mini-EM holdout per candidate taxon) rather than contiguous ranges.
func RunIndexed(n, workers int, fn func(i int)) {
	Run(n, workers, func(start, end int) {
		for i := start; i < end; i++ {
			fn(i)
		}
	})
}
