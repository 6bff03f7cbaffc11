package parallel

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSumBandsCoversRangeExactlyOnce(t *testing.T) {
	for _, workers := range []int{1, 2, 3, 7, 64} {
		var visited [100]int32
		got := SumBands(10, 90, workers, func(lo, hi int) float32 {
			var sum float32
			for i := lo; i < hi; i++ {
				atomic.AddInt32(&visited[i], 1)
				sum += float32(i)
			}
			return sum
		})
		// 10 + 11 + ... + 89
		assert.Equal(t, float32(3960), got, "workers=%d", workers)
		for i, n := range visited {
			inRange := i >= 10 && i < 90
			if inRange && n != 1 {
				t.Fatalf("workers=%d: index %d visited %d times", workers, i, n)
			}
			if !inRange && n != 0 {
				t.Fatalf("workers=%d: index %d outside range visited", workers, i)
			}
		}
	}
}

func TestSumBandsEmptyRange(t *testing.T) {
	called := false
	got := SumBands(5, 5, 4, func(lo, hi int) float32 {
		called = true
		return 1
	})
	assert.Zero(t, got)
	assert.False(t, called)
}

func TestSumBandsDeterministicForFixedWorkers(t *testing.T) {
	f := func(lo, hi int) float32 {
		var sum float32
		for i := lo; i < hi; i++ {
			sum += 1.0 / float32(i+1)
		}
		return sum
	}
	first := SumBands(0, 1000, 4, f)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, SumBands(0, 1000, 4, f))
	}
}

func TestSumBandsWorkerFallbacks(t *testing.T) {
	f := func(lo, hi int) float32 { return float32(hi - lo) }
	// More workers than items, and a non-positive count.
	assert.Equal(t, float32(3), SumBands(0, 3, 16, f))
	assert.Equal(t, float32(3), SumBands(0, 3, 0, f))
	assert.Equal(t, float32(3), SumBands(0, 3, -1, f))
}
