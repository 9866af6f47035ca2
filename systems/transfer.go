package systems

import (
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/flip/components"
	"github.com/pthm-cable/flip/grid"
	"github.com/pthm-cable/flip/parallel"
)

// SplatRadius is the splat kernel radius in cells.
const SplatRadius = 1.4

// splatCells is the neighbour box half-width searched for each face.
const splatCells = 2

// Splat replaces the grid face velocities with kernel-weighted averages of
// nearby fluid particle velocities. Faces with no fluid particle in range
// are set to 0. idx must be sorted for ps.
func Splat(ps []Particle, idx *Index, g *grid.MAC, pool *parallel.Pool) {
	h := g.H()
	scratch := make([][]int32, pool.Workers())

	// Face (i, j, k) of axis a sits at cell corner (i, j, k) shifted by half a
	// cell along the two other axes.
	splatAxis(ps, idx, g.U, 0, r3.Vec{X: 0, Y: 0.5, Z: 0.5}, h, scratch, pool)
	splatAxis(ps, idx, g.V, 1, r3.Vec{X: 0.5, Y: 0, Z: 0.5}, h, scratch, pool)
	splatAxis(ps, idx, g.W, 2, r3.Vec{X: 0.5, Y: 0.5, Z: 0}, h, scratch, pool)
}

func splatAxis(ps []Particle, idx *Index, f *grid.Field, axis int, offset r3.Vec, h float64, scratch [][]int32, pool *parallel.Pool) {
	re := SplatRadius * h
	d := idx.Dims()

	pool.Run(f.Z, func(k0, k1, worker int) {
		buf := scratch[worker]
		for k := k0; k < k1; k++ {
			for j := 0; j < f.Y; j++ {
				for i := 0; i < f.X; i++ {
					at := r3.Vec{
						X: (float64(i) + offset.X) * h,
						Y: (float64(j) + offset.Y) * h,
						Z: (float64(k) + offset.Z) * h,
					}
					ci, cj, ck := d.Clamp(i, j, k)
					buf = idx.CellNeighbors(buf[:0], ci, cj, ck, splatCells)

					sum, wsum := 0.0, 0.0
					for _, m := range buf {
						p := &ps[m]
						if !p.Active() {
							continue
						}
						w := p.Mass * Sharp(r3.Norm2(r3.Sub(p.Pos, at)), re)
						sum += w * component(p.Vel, axis)
						wsum += w
					}
					v := 0.0
					if wsum > 0 {
						v = sum / wsum
					}
					f.Data[f.Idx(i, j, k)] = v
				}
			}
		}
		scratch[worker] = buf
	})
}

// EnforceBoundaryVelocity zeroes every face on the domain boundary and every
// face touching a SOLID cell.
func EnforceBoundaryVelocity(g *grid.MAC) {
	a := g.A
	solid := func(i, j, k int) bool {
		return a.KindOr(i, j, k, components.Solid) == components.Solid
	}

	for k := 0; k < g.U.Z; k++ {
		for j := 0; j < g.U.Y; j++ {
			for i := 0; i < g.U.X; i++ {
				if solid(i-1, j, k) || solid(i, j, k) {
					g.U.Data[g.U.Idx(i, j, k)] = 0
				}
			}
		}
	}
	for k := 0; k < g.V.Z; k++ {
		for j := 0; j < g.V.Y; j++ {
			for i := 0; i < g.V.X; i++ {
				if solid(i, j-1, k) || solid(i, j, k) {
					g.V.Data[g.V.Idx(i, j, k)] = 0
				}
			}
		}
	}
	for k := 0; k < g.W.Z; k++ {
		for j := 0; j < g.W.Y; j++ {
			for i := 0; i < g.W.X; i++ {
				if solid(i, j, k-1) || solid(i, j, k) {
					g.W.Data[g.W.Idx(i, j, k)] = 0
				}
			}
		}
	}
}

// Gather transfers the projected grid velocity back to fluid particles with
// a FLIP/PIC blend. prev holds the face velocities before projection; ratio
// 1 is pure FLIP and 0 pure PIC.
func Gather(ps []Particle, g *grid.MAC, prev grid.Faces, ratio float64, pool *parallel.Pool) {
	h := g.H()
	cur := g.Faces()

	pool.Run(len(ps), func(start, end, _ int) {
		for n := start; n < end; n++ {
			p := &ps[n]
			if !p.Active() {
				continue
			}
			pic := cur.Sample(p.Pos, h)
			flip := r3.Add(p.Vel, r3.Sub(pic, prev.Sample(p.Pos, h)))
			p.Vel = r3.Add(r3.Scale(ratio, flip), r3.Scale(1-ratio, pic))
		}
	})
}

func component(v r3.Vec, axis int) float64 {
	switch axis {
	case 0:
		return v.X
	case 1:
		return v.Y
	default:
		return v.Z
	}
}
