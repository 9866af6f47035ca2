package systems

import (
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/flip/components"
	"github.com/pthm-cable/flip/grid"
	"github.com/pthm-cable/flip/parallel"
)

// CalibrationSide is the number of lattice particles per axis used to
// measure the reference density.
const CalibrationSide = 10

// DensityRadius returns the smoothing radius of the density kernel.
func DensityRadius(d grid.Dims, density float64) float64 {
	return 4 * density / float64(d.Max())
}

// ComputeDensity sets every particle's density to its mass-weighted kernel
// sum over non-solid neighbours in the surrounding 3×3×3 cells, divided by
// maxDensity. Solid particles get exactly 1. A particle with no neighbours
// gets 0. idx must be sorted for ps.
func ComputeDensity(ps []Particle, idx *Index, density, maxDensity float64, pool *parallel.Pool) {
	radius := DensityRadius(idx.Dims(), density)
	scratch := make([][]int32, pool.Workers())

	pool.Run(len(ps), func(start, end, worker int) {
		buf := scratch[worker]
		for n := start; n < end; n++ {
			p := &ps[n]
			if p.Kind == components.Solid {
				p.Density = 1
				continue
			}
			if p.Invalid {
				continue
			}

			i, j, k := idx.CellOf(p.Pos)
			buf = idx.CellNeighbors(buf[:0], i, j, k, 1)
			sum := 0.0
			for _, m := range buf {
				q := &ps[m]
				if q.Kind == components.Solid {
					continue
				}
				sum += q.Mass * Smooth(r3.Norm2(r3.Sub(q.Pos, p.Pos)), radius)
			}
			p.Density = sum / maxDensity
		}
		scratch[worker] = buf
	})
}

// CalibrationLattice returns the synthetic particle block used to measure
// the reference density: CalibrationSide³ unit-mass fluid particles spaced
// density/maxd apart.
func CalibrationLattice(d grid.Dims, density float64) []Particle {
	spacing := density / float64(d.Max())
	ps := make([]Particle, 0, CalibrationSide*CalibrationSide*CalibrationSide)
	for i := 0; i < CalibrationSide; i++ {
		for j := 0; j < CalibrationSide; j++ {
			for k := 0; k < CalibrationSide; k++ {
				ps = append(ps, Particle{
					Pos: r3.Vec{
						X: (float64(i) + 0.5) * spacing,
						Y: (float64(j) + 0.5) * spacing,
						Z: (float64(k) + 0.5) * spacing,
					},
					Mass: 1,
					Kind: components.Fluid,
				})
			}
		}
	}
	return ps
}

// MaxRawDensity sorts ps, estimates unnormalized densities and returns the
// largest one.
func MaxRawDensity(ps []Particle, d grid.Dims, density float64, pool *parallel.Pool) float64 {
	idx := NewIndex(d)
	idx.Sort(ps)
	ComputeDensity(ps, idx, density, 1, pool)

	best := 0.0
	for n := range ps {
		best = max(best, ps[n].Density)
	}
	return best
}

// CalibrateDensity returns the reference density for a resolution and
// particle density: the largest raw density in a calibration lattice.
func CalibrateDensity(d grid.Dims, density float64, pool *parallel.Pool) float64 {
	return MaxRawDensity(CalibrationLattice(d, density), d, density, pool)
}
