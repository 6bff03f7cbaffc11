// Package grid provides the dense double-buffered field storage for the
// Jacobi solver: a flat row-major float32 grid, a pair of grids bound to
// rotating current/next roles, and the fixed Dirichlet boundary profile.
package grid

import "math"

// Grid is a dense nx × ny field of float32 values stored row-major and
// addressed [iy*nx + ix].
type Grid struct {
	nx, ny int
	data   []float32
}

// New returns a zero-filled nx × ny grid.
func New(nx, ny int) *Grid {
	return &Grid{nx: nx, ny: ny, data: make([]float32, nx*ny)}
}

// Nx returns the grid width.
func (g *Grid) Nx() int { return g.nx }

// Ny returns the grid height.
func (g *Grid) Ny() int { return g.ny }

// At returns the value at column ix, row iy.
func (g *Grid) At(ix, iy int) float32 { return g.data[iy*g.nx+ix] }

// Set writes v at column ix, row iy.
func (g *Grid) Set(ix, iy int, v float32) { g.data[iy*g.nx+ix] = v }

// Row returns the backing slice for row iy.
func (g *Grid) Row(iy int) []float32 { return g.data[iy*g.nx : (iy+1)*g.nx] }

// Data returns the full backing slice.
func (g *Grid) Data() []float32 { return g.data }

// InteriorRows returns the half-open interior row range [iyStart, iyEnd)
// for a grid of height ny. Rows iyStart-1 and iyEnd are the ghost rows of
// the vertical wrap-around.
func InteriorRows(ny int) (iyStart, iyEnd int) { return 1, ny - 1 }

// BoundaryProfile is the fixed Dirichlet value for row iy on a grid of
// height ny: sin(2π·iy/(ny-1)).
func BoundaryProfile(iy, ny int) float32 {
	return float32(math.Sin(2.0 * math.Pi * float64(iy) / float64(ny-1)))
}

// ApplyBoundary writes the boundary profile into columns 0 and nx-1 of
// every row. Re-applying it is a no-op.
func ApplyBoundary(g *Grid) {
	for iy := 0; iy < g.ny; iy++ {
		y0 := BoundaryProfile(iy, g.ny)
		g.Set(0, iy, y0)
		g.Set(g.nx-1, iy, y0)
	}
}

// Pair binds two same-shape grids to the roles current and next. Swap
// exchanges the role bindings; the underlying storage never moves.
type Pair struct {
	a, b *Grid
	flip bool
}

// NewPair returns a pair of zero-filled nx × ny grids.
func NewPair(nx, ny int) *Pair {
	return &Pair{a: New(nx, ny), b: New(nx, ny)}
}

// Current returns the grid currently bound to the read role.
func (p *Pair) Current() *Grid {
	if p.flip {
		return p.b
	}
	return p.a
}

// Next returns the grid currently bound to the write role.
func (p *Pair) Next() *Grid {
	if p.flip {
		return p.a
	}
	return p.b
}

// Swap exchanges the current/next role bindings in O(1).
func (p *Pair) Swap() { p.flip = !p.flip }

// InitBoundaries applies the boundary profile to both grids.
func (p *Pair) InitBoundaries() {
	ApplyBoundary(p.a)
	ApplyBoundary(p.b)
}
