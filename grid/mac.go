package grid

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/flip/components"
	"github.com/pthm-cable/flip/parallel"
)

// CellTypes classifies every cell as fluid, solid or empty.
type CellTypes struct {
	Dims
	Kinds []components.Kind
}

// NewCellTypes allocates a field of empty cells.
func NewCellTypes(d Dims) *CellTypes {
	return &CellTypes{Dims: d, Kinds: make([]components.Kind, d.Cells())}
}

// At returns the kind of cell (i, j, k). Panics outside the grid.
func (c *CellTypes) At(i, j, k int) components.Kind {
	if !c.Contains(i, j, k) {
		panic(fmt.Errorf("%w: cell (%d, %d, %d) outside %v", ErrIndexOutOfBounds, i, j, k, c.Dims))
	}
	return c.Kinds[c.Idx(i, j, k)]
}

// Set stores the kind of cell (i, j, k). Panics outside the grid.
func (c *CellTypes) Set(i, j, k int, kind components.Kind) {
	if !c.Contains(i, j, k) {
		panic(fmt.Errorf("%w: cell (%d, %d, %d) outside %v", ErrIndexOutOfBounds, i, j, k, c.Dims))
	}
	c.Kinds[c.Idx(i, j, k)] = kind
}

// KindOr returns the kind of (i, j, k), or outside for coordinates beyond the grid.
func (c *CellTypes) KindOr(i, j, k int, outside components.Kind) components.Kind {
	if !c.Contains(i, j, k) {
		return outside
	}
	return c.Kinds[c.Idx(i, j, k)]
}

// Reset marks every cell empty.
func (c *CellTypes) Reset() {
	for i := range c.Kinds {
		c.Kinds[i] = components.Empty
	}
}

// Count returns how many cells have the given kind.
func (c *CellTypes) Count(kind components.Kind) int {
	n := 0
	for _, k := range c.Kinds {
		if k == kind {
			n++
		}
	}
	return n
}

// Faces groups the three staggered velocity components.
type Faces struct {
	U, V, W *Field
}

// Clone deep-copies all three components.
func (f Faces) Clone() Faces {
	return Faces{U: f.U.Clone(), V: f.V.Clone(), W: f.W.Clone()}
}

// Sample interpolates the face velocities at normalized position p.
// h is the cell width. U samples sit at (i, j+½, k+½)·h and so on.
func (f Faces) Sample(p r3.Vec, h float64) r3.Vec {
	x, y, z := p.X/h, p.Y/h, p.Z/h
	return r3.Vec{
		X: f.U.Interpolate(x, y-0.5, z-0.5),
		Y: f.V.Interpolate(x-0.5, y, z-0.5),
		Z: f.W.Interpolate(x-0.5, y-0.5, z),
	}
}

// MAC is a staggered grid: velocity components on cell faces, divergence and
// pressure at cell centres, and a cell type per cell.
type MAC struct {
	Dims
	U, V, W *Field // Face velocities, one extra sample along their own axis
	D       *Field // Divergence
	P       *Field // Pressure, scaled by dt/ρ
	A       *CellTypes
}

// NewMAC allocates a zeroed grid.
func NewMAC(d Dims) *MAC {
	return &MAC{
		Dims: d,
		U:    NewField(d.X+1, d.Y, d.Z),
		V:    NewField(d.X, d.Y+1, d.Z),
		W:    NewField(d.X, d.Y, d.Z+1),
		D:    NewField(d.X, d.Y, d.Z),
		P:    NewField(d.X, d.Y, d.Z),
		A:    NewCellTypes(d),
	}
}

// Faces returns the velocity components.
func (g *MAC) Faces() Faces {
	return Faces{U: g.U, V: g.V, W: g.W}
}

// Velocity interpolates the grid velocity at normalized position p.
func (g *MAC) Velocity(p r3.Vec) r3.Vec {
	return g.Faces().Sample(p, g.H())
}

// Divergence returns the finite-difference divergence of cell (i, j, k).
func (g *MAC) Divergence(i, j, k int) float64 {
	u, v, w := g.U, g.V, g.W
	return (u.Data[u.Idx(i+1, j, k)] - u.Data[u.Idx(i, j, k)] +
		v.Data[v.Idx(i, j+1, k)] - v.Data[v.Idx(i, j, k)] +
		w.Data[w.Idx(i, j, k+1)] - w.Data[w.Idx(i, j, k)]) / g.H()
}

// ComputeDivergence fills D for every cell, parallel over z slabs.
func (g *MAC) ComputeDivergence(pool *parallel.Pool) {
	pool.Run(g.Z, func(k0, k1, _ int) {
		for k := k0; k < k1; k++ {
			for j := 0; j < g.Y; j++ {
				for i := 0; i < g.X; i++ {
					g.D.Data[g.D.Idx(i, j, k)] = g.Divergence(i, j, k)
				}
			}
		}
	})
}

// MaxDivergence returns the largest |divergence| over cells of the given kind,
// recomputed from the current face velocities.
func (g *MAC) MaxDivergence(kind components.Kind) float64 {
	m := 0.0
	for k := 0; k < g.Z; k++ {
		for j := 0; j < g.Y; j++ {
			for i := 0; i < g.X; i++ {
				if g.A.Kinds[g.Idx(i, j, k)] != kind {
					continue
				}
				d := g.Divergence(i, j, k)
				if d < 0 {
					d = -d
				}
				m = max(m, d)
			}
		}
	}
	return m
}
