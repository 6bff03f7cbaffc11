// Package solver drives the double-buffered Jacobi relaxation loop over a
// compute backend. The driver owns the iteration state machine and the
// two-slot convergence pipeline: while the kernel for iteration i writes
// its residual into one accumulator slot, the norm of iteration i-1 is
// drained from the other slot, so the host-visible convergence check never
// stalls the device.
package solver

import (
	"math"
	"time"

	"github.com/hpcresearch-ht/jacobi/internal/exec"
)

// State is the iteration driver's lifecycle state.
type State int

const (
	// Running means the loop is active.
	Running State = iota
	// Converged means the residual norm dropped below the tolerance.
	Converged
	// MaxIterReached means the iteration cap was hit first.
	MaxIterReached
	// Drained means the terminal device synchronization has completed.
	Drained
)

func (s State) String() string {
	switch s {
	case Running:
		return "Running"
	case Converged:
		return "Converged"
	case MaxIterReached:
		return "MaxIterReached"
	case Drained:
		return "Drained"
	default:
		return "Unknown"
	}
}

// Result reports the outcome of a solve.
type Result struct {
	// State is Converged or MaxIterReached.
	State State
	// Iters is the number of completed iterations (buffer swaps).
	Iters int
	// Norm is the last residual L2 norm read back from the device.
	Norm float64
	// Elapsed is the wall time of the solve.
	Elapsed time.Duration
}

// Solver runs the iteration loop against a backend.
type Solver struct {
	cfg     Config
	backend Backend
	state   State

	// copyDone[p] is the event of slot p's most recent drain; nil until
	// the slot has been drained once. Waiting on it is the single
	// host/device rendezvous point per iteration.
	copyDone [2]*exec.Event
}

// New validates cfg and returns a solver bound to backend.
func New(cfg Config, backend Backend) (*Solver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Tol == 0 {
		cfg.Tol = DefaultTol
	}
	return &Solver{cfg: cfg, backend: backend, state: Running}, nil
}

// State returns the driver's current lifecycle state.
func (s *Solver) State() State { return s.state }

// Run initializes the boundaries and executes the loop to termination.
//
// Per pass, with prev = iter%2 and curr = (iter+1)%2: the compute stage
// for slot curr is issued (gated on that slot's reset from two iterations
// prior), its drain is enqueued, and the host then blocks only on the
// drain of slot prev — the previous iteration's norm — before deciding,
// resetting prev, swapping the grid roles and advancing. The compute of
// iteration i+1 is therefore already issued before the host has read the
// norm of iteration i.
func (s *Solver) Run() (Result, error) {
	start := time.Now()

	if err := s.backend.InitBoundaries(); err != nil {
		return Result{}, err
	}

	// The mirrors are seeded with 1.0, so the norm read before the first
	// real drain completes compares as not converged.
	norm := 1.0
	aboveTol := true
	iter := 0

	for aboveTol && iter < s.cfg.IterMax {
		prev := iter % 2
		curr := (iter + 1) % 2

		s.backend.Stencil(curr)

		// NCCheck is validated to 1: every pass is a check iteration.
		s.copyDone[curr] = s.backend.Drain(curr)

		if s.copyDone[prev] != nil {
			s.copyDone[prev].Wait()
		}
		norm = math.Sqrt(float64(s.backend.Mirror(prev)))
		aboveTol = norm > s.cfg.Tol

		if s.cfg.Progress != nil && iter%100 == 0 {
			s.cfg.Progress(iter, norm)
		}

		s.backend.Reset(prev)

		s.backend.Swap()
		iter++
	}

	if aboveTol {
		s.state = MaxIterReached
	} else {
		s.state = Converged
	}
	outcome := s.state

	err := s.backend.Synchronize()
	s.state = Drained

	return Result{
		State:   outcome,
		Iters:   iter,
		Norm:    norm,
		Elapsed: time.Since(start),
	}, err
}
