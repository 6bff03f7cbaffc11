// Package parallel splits an index range into contiguous bands across
// worker goroutines and combines per-band partial sums. The band-local
// accumulate plus post-join combine keeps the reduction free of shared
// mutable state.
package parallel

import (
	"runtime"
	"sync"
)

// DefaultWorkers returns the worker count used when none is given.
func DefaultWorkers() int { return runtime.NumCPU() }

// SumBands partitions [lo, hi) into at most workers contiguous bands,
// runs f on each band concurrently and returns the sum of the band
// results. Bands are summed in band order, so the result is deterministic
// for a fixed worker count. A workers value below 1 falls back to
// DefaultWorkers.
func SumBands(lo, hi, workers int, f func(lo, hi int) float32) float32 {
	n := hi - lo
	if n <= 0 {
		return 0
	}
	if workers < 1 {
		workers = DefaultWorkers()
	}
	if workers > n {
		workers = n
	}
	if workers == 1 {
		return f(lo, hi)
	}

	band := (n + workers - 1) / workers
	partials := make([]float32, workers)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		s := lo + w*band
		e := min(s+band, hi)
		if s >= e {
			break
		}
		wg.Add(1)
		go func(w, s, e int) {
			defer wg.Done()
			partials[w] = f(s, e)
		}(w, s, e)
	}
	wg.Wait()

	var total float32
	for _, p := range partials {
		total += p
	}
	return total
}
