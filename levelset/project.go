package levelset

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// ErrProjectionIncomplete is returned when some points did not reach the
// surface within the iteration budget. Those points are left at their last
// iterate.
var ErrProjectionIncomplete = errors.New("points did not reach the surface")

// ProjectPointsToSurface moves each normalized point along the field gradient
// until the interpolated value is within tol of zero, using at most iters
// Newton steps per point. Points are kept inside the volume.
//
// Outside the narrow band the field is flat. A point there first jumps to the
// nearest band voxel on the other side of the surface and continues from it.
//
// A field without a zero crossing returns ErrDegenerateSurface and leaves
// every point untouched. Points still off the surface after iters steps are
// counted in a wrapped ErrProjectionIncomplete.
func (ls *LevelSet) ProjectPointsToSurface(points []r3.Vec, iters int, tol float64) error {
	if !ls.HasSurface() {
		return ErrDegenerateSurface
	}
	hi := r3.Vec{X: float64(ls.dims.X - 1), Y: float64(ls.dims.Y - 1), Z: float64(ls.dims.Z - 1)}

	var band *bandVoxels
	missed := 0
	for n, p := range points {
		q := ls.ToIndex(p)
		jumped := false
		for it := 0; it < iters; it++ {
			phi := ls.Sample(q)
			if math.Abs(phi) < tol {
				break
			}
			g := ls.Gradient(q)
			g2 := r3.Norm2(g)
			if g2 < 1e-12 {
				if jumped {
					break
				}
				if band == nil {
					band = ls.collectBand()
				}
				target, ok := band.nearest(q, phi < 0)
				if !ok {
					break
				}
				q, jumped = target, true
				continue
			}
			q = r3.Sub(q, r3.Scale(phi/g2, g))
			q = r3.Vec{X: clamp(q.X, 0, hi.X), Y: clamp(q.Y, 0, hi.Y), Z: clamp(q.Z, 0, hi.Z)}
		}
		if math.Abs(ls.Sample(q)) >= tol {
			missed++
		}
		points[n] = ls.ToWorld(q)
	}
	if missed > 0 {
		return fmt.Errorf("%w: %d of %d", ErrProjectionIncomplete, missed, len(points))
	}
	return nil
}

// bandVoxels holds the index positions of active voxels strictly inside the
// narrow band, split by sign.
type bandVoxels struct {
	inside, outside []r3.Vec
}

func (ls *LevelSet) collectBand() *bandVoxels {
	ls.mu.RLock()
	defer ls.mu.RUnlock()

	b := &bandVoxels{}
	for origin, l := range ls.leaves {
		for off := 0; off < LeafSize; off++ {
			if !l.mask.GetBit(off) {
				continue
			}
			x, y, z := offsetCoord(origin, off)
			if !ls.dims.Contains(x, y, z) {
				continue
			}
			v := l.values[off]
			if v <= -ls.background || v >= ls.background {
				continue
			}
			q := r3.Vec{X: float64(x), Y: float64(y), Z: float64(z)}
			if v < 0 {
				b.inside = append(b.inside, q)
			} else {
				b.outside = append(b.outside, q)
			}
		}
	}
	return b
}

// nearest returns the closest band voxel on the opposite side of the surface
// from a point that is inside (or outside) the enclosed region.
func (b *bandVoxels) nearest(q r3.Vec, inside bool) (r3.Vec, bool) {
	candidates := b.inside
	if inside {
		candidates = b.outside
	}
	best, bestD := r3.Vec{}, math.Inf(1)
	for _, c := range candidates {
		if d := r3.Norm2(r3.Sub(c, q)); d < bestD {
			best, bestD = c, d
		}
	}
	return best, !math.IsInf(bestD, 1)
}
