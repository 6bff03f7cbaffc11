package solver

import "github.com/hpcresearch-ht/jacobi/internal/exec"

// Backend is the device contract the iteration driver runs against. A
// backend owns two grid buffers with rotating current/next roles and two
// residual accumulator slots selected by parity. Stencil, Drain and Reset
// enqueue work on the backend's compute, copy and reset queues and return
// immediately; the only blocking operations a driver performs are waits on
// the events Drain returns, and Synchronize.
type Backend interface {
	// Name identifies the backend for result reporting.
	Name() string

	// InitBoundaries synchronously writes the fixed boundary profile into
	// both grid buffers. Idempotent.
	InitBoundaries() error

	// Stencil enqueues one relaxation sweep reading the current grid,
	// writing the next grid, and accumulating the squared residual into
	// slot parity. The sweep is gated on the slot's last reset and records
	// the slot's write-done event on completion.
	Stencil(parity int)

	// Drain enqueues a copy of slot parity's device value to its host
	// mirror, ordered after the slot's write-done. The returned event is
	// recorded when the mirror holds the value.
	Drain(parity int) *exec.Event

	// Mirror returns the host mirror of slot parity. The caller must have
	// waited on the event returned by the matching Drain.
	Mirror(parity int) float32

	// Reset zeroes slot parity's mirror immediately and enqueues zeroing
	// of its device value, ordered after the slot's last drain. The slot's
	// reset-done event is recorded on completion.
	Reset(parity int)

	// Swap exchanges the current/next grid roles. O(1), no data copied.
	Swap()

	// Synchronize blocks until all enqueued work has completed on the
	// device.
	Synchronize() error

	// ReadGrid returns host copies of the current and next grid buffers.
	// It synchronizes first. Intended for verification, not for the loop.
	ReadGrid() (current, next []float32, err error)

	// Release frees all backend resources.
	Release()
}
