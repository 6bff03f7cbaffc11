// Command jacobi approximates the steady state of a 2D Laplace equation
// by Jacobi relaxation on a single device, overlapping the host-visible
// convergence check with the next iteration's compute.
//
// Usage:
//
//	jacobi -nx 7168 -ny 7168 -niter 1000
//	jacobi -nx 1024 -ny 1024 -csv
//
// Results are printed to stdout; diagnostics go to stderr. The exit
// status is non-zero only for configuration errors.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/hpcresearch-ht/jacobi/internal/backend/cpu"
	"github.com/hpcresearch-ht/jacobi/internal/backend/webgpu"
	"github.com/hpcresearch-ht/jacobi/internal/solver"
)

func main() {
	niter := flag.Int("niter", 1000, "maximum iteration count")
	nccheck := flag.Int("nccheck", 1, "convergence-check cadence (only 1 is supported)")
	nx := flag.Int("nx", 7168, "grid width")
	ny := flag.Int("ny", 7168, "grid height")
	csv := flag.Bool("csv", false, "print a single machine-readable result line")
	flag.Parse()

	cfg := solver.Config{
		Nx:      *nx,
		Ny:      *ny,
		IterMax: *niter,
		NCCheck: *nccheck,
		Tol:     solver.DefaultTol,
	}
	// Validated before any device resource is touched.
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	backend, label, tag := selectBackend(*nx, *ny)
	defer backend.Release()

	if !*csv {
		fmt.Printf("Jacobi relaxation: %d iterations on %d x %d mesh with norm check every %d iterations\n",
			*niter, *ny, *nx, *nccheck)
		cfg.Progress = func(iter int, norm float64) {
			fmt.Printf("%5d, %0.6f\n", iter, norm)
		}
	}

	s, err := solver.New(cfg, backend)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	res, err := s.Run()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if *csv {
		fmt.Printf("%s, %d, %d, %d, %d, %f\n", tag, *nx, *ny, *niter, *nccheck, res.Elapsed.Seconds())
	} else {
		fmt.Printf("%dx%d: 1 %s: %8.4f s\n", *ny, *nx, label, res.Elapsed.Seconds())
	}
}

// selectBackend prefers the GPU and falls back to the host backend when no
// adapter or native library is available.
func selectBackend(nx, ny int) (solver.Backend, string, string) {
	if webgpu.IsAvailable() {
		gb, err := webgpu.New(nx, ny)
		if err == nil {
			return gb, "GPU", "single_gpu"
		}
		log.Printf("webgpu backend unavailable: %v; falling back to CPU", err)
	} else {
		log.Printf("no WebGPU adapter found; falling back to CPU")
	}
	return cpu.New(nx, ny), "CPU", "single_cpu"
}
