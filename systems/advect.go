package systems

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/flip/grid"
	"github.com/pthm-cable/flip/levelset"
	"github.com/pthm-cable/flip/parallel"
)

// wallMargin keeps advected particles strictly inside the open box so they
// never sort into a wall cell by rounding.
const wallMargin = 1e-4

// Advect moves fluid particles through the grid velocity field with a
// midpoint (RK2) step and clamps them into the box inside the walls.
// Particles whose position or velocity stops being finite are marked
// invalid; the count of those is returned.
func Advect(ps []Particle, g *grid.MAC, dt float64, walls int, pool *parallel.Pool) int {
	h := g.H()
	faces := g.Faces()
	ext := g.Extent()
	lo := float64(walls)*h + wallMargin*h
	hi := r3.Sub(ext, r3.Vec{X: lo, Y: lo, Z: lo})

	bad := make([]int, pool.Workers())
	pool.Run(len(ps), func(start, end, worker int) {
		for n := start; n < end; n++ {
			p := &ps[n]
			if !p.Active() {
				continue
			}
			mid := r3.Add(p.Pos, r3.Scale(0.5*dt, faces.Sample(p.Pos, h)))
			next := r3.Add(p.Pos, r3.Scale(dt, faces.Sample(mid, h)))
			if !finite(next) || !finite(p.Vel) {
				p.Invalid = true
				bad[worker]++
				continue
			}
			p.Pos = r3.Vec{
				X: clampf(next.X, lo, hi.X),
				Y: clampf(next.Y, lo, hi.Y),
				Z: clampf(next.Z, lo, hi.Z),
			}
		}
	})

	total := 0
	for _, b := range bad {
		total += b
	}
	return total
}

// PushOutOfSolids projects fluid particles that ended up inside the static
// solid back onto its surface and returns how many reached it (φ ≥ −tol).
// Particles that did not get there keep their last iterate and are reported
// through a wrapped levelset.ErrProjectionIncomplete alongside the count.
// A solid without a surface moves nothing.
func PushOutOfSolids(ps []Particle, solid *levelset.LevelSet, iters int, tol float64) (int, error) {
	if solid == nil {
		return 0, nil
	}
	var inside []int
	var pts []r3.Vec
	for n := range ps {
		if ps[n].Active() && solid.SampleWorld(ps[n].Pos) < 0 {
			inside = append(inside, n)
			pts = append(pts, ps[n].Pos)
		}
	}
	if len(inside) == 0 {
		return 0, nil
	}
	err := solid.ProjectPointsToSurface(pts, iters, tol)
	if errors.Is(err, levelset.ErrDegenerateSurface) {
		return 0, err
	}

	pushed := 0
	for m, n := range inside {
		ps[n].Pos = pts[m]
		if solid.SampleWorld(pts[m]) >= -tol {
			pushed++
		}
	}
	return pushed, err
}

func finite(v r3.Vec) bool {
	return !math.IsNaN(v.X+v.Y+v.Z) && !math.IsInf(v.X+v.Y+v.Z, 0)
}

func clampf(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
