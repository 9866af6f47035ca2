package systems

import (
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/flip/components"
	"github.com/pthm-cable/flip/grid"
	"github.com/pthm-cable/flip/levelset"
)

// Index buckets particles by grid cell for O(1) neighbour lookups.
// It is rebuilt from scratch by Sort every step.
type Index struct {
	dims  grid.Dims
	start []int32 // start[c]..start[c+1] is cell c's range in items
	items []int32 // particle indices grouped by cell
	cell  []int32 // cell of each particle, -1 when skipped
}

// NewIndex creates an empty index over the grid resolution.
func NewIndex(d grid.Dims) *Index {
	return &Index{
		dims:  d,
		start: make([]int32, d.Cells()+1),
	}
}

// Dims returns the grid resolution.
func (x *Index) Dims() grid.Dims { return x.dims }

// Len returns the number of indexed particles.
func (x *Index) Len() int { return len(x.items) }

// Sort rebuilds the cell mapping for ps with a counting sort. Invalid
// particles are left out.
func (x *Index) Sort(ps []Particle) {
	ncells := x.dims.Cells()
	for c := range x.start {
		x.start[c] = 0
	}
	if cap(x.cell) < len(ps) {
		x.cell = make([]int32, len(ps))
	}
	x.cell = x.cell[:len(ps)]

	// Count particles per cell, shifted by one for the prefix sum
	n := 0
	for p := range ps {
		if ps[p].Invalid {
			x.cell[p] = -1
			continue
		}
		c := int32(x.CellIndex(ps[p].Pos))
		x.cell[p] = c
		x.start[c+1]++
		n++
	}
	for c := 0; c < ncells; c++ {
		x.start[c+1] += x.start[c]
	}

	if cap(x.items) < n {
		x.items = make([]int32, n)
	}
	x.items = x.items[:n]

	// Scatter, using a moving cursor per cell
	cursor := make([]int32, ncells)
	copy(cursor, x.start[:ncells])
	for p, c := range x.cell {
		if c < 0 {
			continue
		}
		x.items[cursor[c]] = int32(p)
		cursor[c]++
	}
}

// CellOf returns the clamped cell of a normalized position.
func (x *Index) CellOf(p r3.Vec) (i, j, k int) {
	return x.dims.CellOf(p)
}

// CellIndex returns the flat index of the cell containing p.
func (x *Index) CellIndex(p r3.Vec) int {
	return x.dims.Idx(x.dims.CellOf(p))
}

// Cell returns the particles sorted into cell (i, j, k). The slice aliases
// the index and is valid until the next Sort.
func (x *Index) Cell(i, j, k int) []int32 {
	if !x.dims.Contains(i, j, k) {
		return nil
	}
	c := x.dims.Idx(i, j, k)
	return x.items[x.start[c]:x.start[c+1]]
}

// CellNeighbors appends to dst every particle in the cells of the box
// [i−r, i+r] × [j−r, j+r] × [k−r, k+r], clipped to the grid, and returns the
// extended slice. Each particle appears once. Reuse dst across calls to avoid
// allocations.
func (x *Index) CellNeighbors(dst []int32, i, j, k, r int) []int32 {
	if len(x.items) == 0 {
		return dst
	}
	i0, j0, k0 := max(i-r, 0), max(j-r, 0), max(k-r, 0)
	i1, j1, k1 := min(i+r, x.dims.X-1), min(j+r, x.dims.Y-1), min(k+r, x.dims.Z-1)
	for kk := k0; kk <= k1; kk++ {
		for jj := j0; jj <= j1; jj++ {
			// Cells along x are contiguous in items
			lo := x.start[x.dims.Idx(i0, jj, kk)]
			hi := x.start[x.dims.Idx(i1, jj, kk)+1]
			dst = append(dst, x.items[lo:hi]...)
		}
	}
	return dst
}

// MarkCellTypes classifies every cell. Cells start EMPTY; wall cells within
// walls of the domain boundary, cells whose centre lies inside the static
// solid and cells holding a solid particle become SOLID; any other cell
// holding a fluid particle becomes FLUID. ps must be the slice last passed
// to Sort; solid may be nil.
func (x *Index) MarkCellTypes(ps []Particle, types *grid.CellTypes, solid *levelset.LevelSet, walls int) {
	types.Reset()
	d := x.dims

	for k := 0; k < d.Z; k++ {
		for j := 0; j < d.Y; j++ {
			for i := 0; i < d.X; i++ {
				if isWall(d, i, j, k, walls) {
					types.Kinds[d.Idx(i, j, k)] = components.Solid
					continue
				}
				if solid == nil {
					continue
				}
				if v, err := solid.Cell(i, j, k); err == nil && v < 0 {
					types.Kinds[d.Idx(i, j, k)] = components.Solid
				}
			}
		}
	}

	for p, c := range x.cell {
		if c >= 0 && ps[p].Kind == components.Solid {
			types.Kinds[c] = components.Solid
		}
	}
	for p, c := range x.cell {
		if c >= 0 && ps[p].Kind == components.Fluid && types.Kinds[c] == components.Empty {
			types.Kinds[c] = components.Fluid
		}
	}
}

// isWall returns true for cells within walls cells of the domain boundary.
func isWall(d grid.Dims, i, j, k, walls int) bool {
	return i < walls || j < walls || k < walls ||
		i >= d.X-walls || j >= d.Y-walls || k >= d.Z-walls
}
