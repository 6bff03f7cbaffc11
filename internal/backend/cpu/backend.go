// Package cpu implements the solver backend on host memory. It runs the
// same three-queue pipeline as the device backend — compute, copy and
// reset queues linked by per-slot events — which makes it the reference
// implementation for the pipeline's ordering contract and the target for
// the solver's property tests.
package cpu

import (
	"github.com/hpcresearch-ht/jacobi/internal/exec"
	"github.com/hpcresearch-ht/jacobi/internal/grid"
	"github.com/hpcresearch-ht/jacobi/internal/parallel"
)

// slot is one residual accumulator: a "device" scalar written by the
// compute stage, a host mirror filled by the drain stage, and the three
// completion events ordering the stages.
type slot struct {
	value  float32
	mirror float32

	writeDone *exec.Event
	copyDone  *exec.Event
	resetDone *exec.Event
}

// CPUBackend implements solver.Backend on host memory.
type CPUBackend struct {
	nx, ny  int
	pair    *grid.Pair
	slots   [2]*slot
	workers int

	compute *exec.Queue
	copy    *exec.Queue
	reset   *exec.Queue
}

// New creates a CPU backend for an nx × ny grid.
func New(nx, ny int) *CPUBackend {
	b := &CPUBackend{
		nx:      nx,
		ny:      ny,
		pair:    grid.NewPair(nx, ny),
		workers: parallel.DefaultWorkers(),
		compute: exec.NewQueue("compute"),
		copy:    exec.NewQueue("copy"),
		reset:   exec.NewQueue("reset"),
	}
	for i := range b.slots {
		b.slots[i] = &slot{
			// Seeded non-zero so a norm read that precedes the first
			// completed drain does not compare as converged.
			mirror:    1.0,
			writeDone: exec.NewEvent(),
			copyDone:  exec.NewEvent(),
			resetDone: exec.NewEvent(),
		}
	}
	return b
}

// Name returns the backend name.
func (b *CPUBackend) Name() string { return "CPU" }

// InitBoundaries writes the sine profile into columns 0 and nx-1 of both
// buffers.
func (b *CPUBackend) InitBoundaries() error {
	b.pair.InitBoundaries()
	return nil
}

// Stencil enqueues one relaxation sweep into slot parity, gated on the
// slot's last reset. The grid roles are captured at submit time, so a
// following Swap cannot retarget an in-flight sweep.
func (b *CPUBackend) Stencil(parity int) {
	s := b.slots[parity]
	cur, next := b.pair.Current(), b.pair.Next()
	b.compute.Submit([]*exec.Event{s.resetDone}, s.writeDone, func() {
		s.value += b.sweep(cur, next)
	})
}

// sweep runs one Jacobi pass over the interior of cur into next and
// returns the sum of squared residuals. The interior rows are split into
// contiguous bands across workers with band-local partial sums — the host
// analogue of the block-then-global reduction on the device.
func (b *CPUBackend) sweep(cur, next *grid.Grid) float32 {
	nx := b.nx
	iyStart, iyEnd := grid.InteriorRows(b.ny)

	return parallel.SumBands(iyStart, iyEnd, b.workers, func(lo, hi int) float32 {
		var sum float32
		for iy := lo; iy < hi; iy++ {
			for ix := 1; ix < nx-1; ix++ {
				newVal := 0.25 * (cur.At(ix+1, iy) + cur.At(ix-1, iy) +
					cur.At(ix, iy+1) + cur.At(ix, iy-1))
				next.Set(ix, iy, newVal)

				// Vertical wrap-around: the first and last interior
				// rows are replicated into the opposite ghost rows.
				if iy == iyStart {
					next.Set(ix, iyEnd, newVal)
				}
				if iy == iyEnd-1 {
					next.Set(ix, iyStart-1, newVal)
				}

				residue := newVal - cur.At(ix, iy)
				sum += residue * residue
			}
		}
		return sum
	})
}

// Drain enqueues a copy of slot parity's value to its mirror, ordered
// after the slot's write-done, and returns the copy-done event.
func (b *CPUBackend) Drain(parity int) *exec.Event {
	s := b.slots[parity]
	b.copy.Submit([]*exec.Event{s.writeDone}, s.copyDone, func() {
		s.mirror = s.value
	})
	return s.copyDone
}

// Mirror returns slot parity's host mirror.
func (b *CPUBackend) Mirror(parity int) float32 { return b.slots[parity].mirror }

// Reset zeroes slot parity's mirror now and enqueues zeroing of its value,
// ordered after the slot's last drain.
func (b *CPUBackend) Reset(parity int) {
	s := b.slots[parity]
	s.mirror = 0
	b.reset.Submit([]*exec.Event{s.copyDone}, s.resetDone, func() {
		s.value = 0
	})
}

// Swap exchanges the current/next grid roles.
func (b *CPUBackend) Swap() { b.pair.Swap() }

// Synchronize blocks until all three queues have drained.
func (b *CPUBackend) Synchronize() error {
	b.compute.Sync()
	b.copy.Sync()
	b.reset.Sync()
	return nil
}

// ReadGrid returns host copies of the current and next buffers.
func (b *CPUBackend) ReadGrid() (current, next []float32, err error) {
	if err := b.Synchronize(); err != nil {
		return nil, nil, err
	}
	current = append([]float32(nil), b.pair.Current().Data()...)
	next = append([]float32(nil), b.pair.Next().Data()...)
	return current, next, nil
}

// Release stops the queues after draining them.
func (b *CPUBackend) Release() {
	b.compute.Close()
	b.copy.Close()
	b.reset.Close()
}
