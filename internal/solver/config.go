package solver

import (
	"errors"
	"fmt"
)

// DefaultTol is the convergence threshold compared against the L2 norm of
// the per-iteration residual.
const DefaultTol = 1.0e-8

// ErrUnsupportedCadence is returned when the convergence-check cadence is
// anything other than 1. The two-slot pipeline reads the previous check's
// norm while the current one is in flight, which only lines up when every
// iteration is a check iteration.
var ErrUnsupportedCadence = errors.New("solver: only nccheck = 1 is supported")

// Config holds the run parameters for a solve.
type Config struct {
	// Nx and Ny are the grid width and height.
	Nx, Ny int
	// IterMax caps the number of iterations.
	IterMax int
	// NCCheck is the convergence-check cadence. Only 1 is supported.
	NCCheck int
	// Tol is the convergence threshold; DefaultTol if zero.
	Tol float64
	// Progress, if set, is invoked every 100 iterations with the most
	// recently read norm. The norm lags the loop by one check period.
	Progress func(iter int, norm float64)
}

// Validate checks the configuration. It must be called, and must pass,
// before any device resource is touched.
func (c *Config) Validate() error {
	if c.NCCheck != 1 {
		return ErrUnsupportedCadence
	}
	if c.Nx < 3 || c.Ny < 3 {
		return fmt.Errorf("solver: %d x %d grid has no interior", c.Nx, c.Ny)
	}
	if c.IterMax < 0 {
		return fmt.Errorf("solver: negative iteration cap %d", c.IterMax)
	}
	return nil
}
