// Package grid provides the dense cell and face fields of the staggered
// (MAC) velocity grid.
package grid

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// ErrIndexOutOfBounds is returned (or wrapped in a panic) when a cell
// coordinate lies outside a field's resolution.
var ErrIndexOutOfBounds = errors.New("index out of bounds")

// Dims is a grid resolution in cells along x, y and z.
type Dims struct {
	X, Y, Z int
}

// NewDims converts a config resolution triple.
func NewDims(res [3]int) Dims {
	return Dims{X: res[0], Y: res[1], Z: res[2]}
}

// Valid returns true if every axis has at least one cell.
func (d Dims) Valid() bool {
	return d.X > 0 && d.Y > 0 && d.Z > 0
}

// Max returns the largest axis resolution.
func (d Dims) Max() int {
	return max(d.X, d.Y, d.Z)
}

// H returns the uniform cell width in normalized units.
func (d Dims) H() float64 {
	return 1 / float64(d.Max())
}

// Cells returns the total number of cells.
func (d Dims) Cells() int {
	return d.X * d.Y * d.Z
}

// Contains returns true if (i, j, k) is a valid cell.
func (d Dims) Contains(i, j, k int) bool {
	return i >= 0 && j >= 0 && k >= 0 && i < d.X && j < d.Y && k < d.Z
}

// Idx returns the flat index of cell (i, j, k), x fastest.
func (d Dims) Idx(i, j, k int) int {
	return i + d.X*(j+d.Y*k)
}

// Coords returns the cell coordinates of a flat index.
func (d Dims) Coords(idx int) (i, j, k int) {
	area := d.X * d.Y
	return idx % d.X, (idx % area) / d.X, idx / area
}

// Clamp clamps a cell coordinate into the grid.
func (d Dims) Clamp(i, j, k int) (int, int, int) {
	return clampInt(i, 0, d.X-1), clampInt(j, 0, d.Y-1), clampInt(k, 0, d.Z-1)
}

// CellOf returns the cell containing normalized position p, clamped per axis.
// Non-finite coordinates map to 0.
func (d Dims) CellOf(p r3.Vec) (i, j, k int) {
	s := float64(d.Max())
	return cellCoord(p.X*s, d.X), cellCoord(p.Y*s, d.Y), cellCoord(p.Z*s, d.Z)
}

// CellCenter returns the normalized position of the centre of cell (i, j, k).
func (d Dims) CellCenter(i, j, k int) r3.Vec {
	h := d.H()
	return r3.Vec{X: (float64(i) + 0.5) * h, Y: (float64(j) + 0.5) * h, Z: (float64(k) + 0.5) * h}
}

// Extent returns the upper corner of the simulated box in normalized units.
func (d Dims) Extent() r3.Vec {
	h := d.H()
	return r3.Vec{X: float64(d.X) * h, Y: float64(d.Y) * h, Z: float64(d.Z) * h}
}

func (d Dims) String() string {
	return fmt.Sprintf("%dx%dx%d", d.X, d.Y, d.Z)
}

func cellCoord(x float64, n int) int {
	if math.IsNaN(x) {
		return 0
	}
	if x <= 0 {
		return 0
	}
	if x >= float64(n-1) {
		return n - 1
	}
	return int(x)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
