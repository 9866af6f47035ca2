package levelset

import (
	"math"
	"sort"

	"github.com/deadsy/sdfx/sdf"
	v3 "github.com/deadsy/sdfx/vec/v3"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/flip/grid"
	"github.com/pthm-cable/flip/parallel"
)

// ParticleSource exposes a particle cloud to FromParticles.
// Positions are normalized domain positions.
type ParticleSource interface {
	Len() int
	Particle(n int) (pos, vel r3.Vec, valid bool)
}

// ParticleOptions controls particle rasterization.
type ParticleOptions struct {
	Radius   float64 // Sphere radius in voxels
	Band     float64 // Narrow band half-width in voxels, also the background
	Velocity bool    // Attach the velocity of the nearest particle to each voxel
}

// FromParticles builds the union of one sphere per valid particle.
// Invalid particles contribute nothing. Workers rasterize disjoint particle
// ranges into private volumes that are then merged by minimum.
func FromParticles(src ParticleSource, dims grid.Dims, scale float64, opts ParticleOptions, pool *parallel.Pool) *LevelSet {
	ls := New(dims, scale, opts.Band)
	n := src.Len()
	if n == 0 {
		return ls
	}

	partials := make([]*LevelSet, pool.Workers())
	pool.Run(n, func(start, end, worker int) {
		part := partials[worker]
		if part == nil {
			part = New(dims, scale, opts.Band)
			part.hasVel = opts.Velocity
			partials[worker] = part
		}
		for p := start; p < end; p++ {
			pos, vel, valid := src.Particle(p)
			if !valid {
				continue
			}
			part.rasterSphere(part.ToIndex(pos), vel, opts)
		}
	})

	for _, part := range partials {
		if part != nil {
			ls.mergeLeaves(part.leaves, part.background, part.hasVel)
		}
	}
	return ls
}

// rasterSphere writes min(|x − c| − r) over the band around c.
// The volume must not be shared yet.
func (ls *LevelSet) rasterSphere(c r3.Vec, vel r3.Vec, opts ParticleOptions) {
	reach := opts.Radius + opts.Band
	i0, j0, k0 := ls.clampVoxel(c.X-reach, c.Y-reach, c.Z-reach, math.Ceil)
	i1, j1, k1 := ls.clampVoxel(c.X+reach, c.Y+reach, c.Z+reach, math.Floor)
	band := float32(opts.Band)
	v := [3]float32{float32(vel.X), float32(vel.Y), float32(vel.Z)}

	for k := k0; k <= k1; k++ {
		for j := j0; j <= j1; j++ {
			for i := i0; i <= i1; i++ {
				dx, dy, dz := float64(i)-c.X, float64(j)-c.Y, float64(k)-c.Z
				d := float32(math.Sqrt(dx*dx+dy*dy+dz*dz) - opts.Radius)
				if d >= band {
					continue
				}
				l := ls.touch(leafOrigin(i, j, k))
				off := leafOffset(i, j, k)
				if l.mask.GetBit(off) && l.values[off] <= d {
					continue
				}
				l.values[off] = max(d, -band)
				l.mask.SetBit(off)
				if opts.Velocity {
					if l.vel == nil {
						l.vel = new([LeafSize][3]float32)
					}
					l.vel[off] = v
				}
			}
		}
	}
}

// FromMesh builds a narrow-band signed distance field from a closed triangle
// mesh given in normalized coordinates. Distances are exact to the nearest
// triangle inside the band; the sign comes from ray parity along x, so
// interior voxels beyond the band are stored at −band.
func FromMesh(tris [][3]r3.Vec, dims grid.Dims, scale, band float64) *LevelSet {
	ls := New(dims, scale, band)
	if len(tris) == 0 {
		return ls
	}

	idx := make([][3]r3.Vec, len(tris))
	for t, tri := range tris {
		for c := range tri {
			idx[t][c] = ls.ToIndex(tri[c])
		}
	}

	// Unsigned distance inside the band
	dist := make([]float64, dims.Cells())
	for i := range dist {
		dist[i] = band
	}
	for _, tri := range idx {
		lo := r3.Vec{X: min(tri[0].X, tri[1].X, tri[2].X), Y: min(tri[0].Y, tri[1].Y, tri[2].Y), Z: min(tri[0].Z, tri[1].Z, tri[2].Z)}
		hi := r3.Vec{X: max(tri[0].X, tri[1].X, tri[2].X), Y: max(tri[0].Y, tri[1].Y, tri[2].Y), Z: max(tri[0].Z, tri[1].Z, tri[2].Z)}
		i0, j0, k0 := ls.clampVoxel(lo.X-band, lo.Y-band, lo.Z-band, math.Ceil)
		i1, j1, k1 := ls.clampVoxel(hi.X+band, hi.Y+band, hi.Z+band, math.Floor)
		for k := k0; k <= k1; k++ {
			for j := j0; j <= j1; j++ {
				for i := i0; i <= i1; i++ {
					p := r3.Vec{X: float64(i), Y: float64(j), Z: float64(k)}
					d := r3.Norm(r3.Sub(p, closestPointOnTriangle(p, tri[0], tri[1], tri[2])))
					if at := dims.Idx(i, j, k); d < dist[at] {
						dist[at] = d
					}
				}
			}
		}
	}

	// Inside/outside by counting crossings of a ray along +x per row.
	// The ray is nudged off the lattice so it never runs through mesh edges
	// that happen to lie on integer coordinates.
	const nudgeY, nudgeZ = 1.0316e-4, 2.7183e-5
	crossings := make([]float64, 0, 16)
	for k := 0; k < dims.Z; k++ {
		for j := 0; j < dims.Y; j++ {
			y, z := float64(j)+nudgeY, float64(k)+nudgeZ
			crossings = crossings[:0]
			for _, tri := range idx {
				if x, ok := rayCrossX(y, z, tri); ok {
					crossings = append(crossings, x)
				}
			}
			sort.Float64s(crossings)

			next := 0
			for i := 0; i < dims.X; i++ {
				for next < len(crossings) && crossings[next] < float64(i) {
					next++
				}
				inside := next%2 == 1
				d := dist[dims.Idx(i, j, k)]
				if inside {
					ls.store(i, j, k, float32(-d))
				} else if d < band {
					ls.store(i, j, k, float32(d))
				}
			}
		}
	}
	return ls
}

// FromSDF samples an sdfx shape, given in normalized coordinates, at every
// voxel centre. Values are converted to voxel units and clamped to the band.
func FromSDF(s sdf.SDF3, dims grid.Dims, scale, band float64) *LevelSet {
	ls := New(dims, scale, band)

	// Only visit voxels near the shape's bounding box
	bb := s.BoundingBox()
	lo := ls.ToIndex(r3.Vec{X: bb.Min.X, Y: bb.Min.Y, Z: bb.Min.Z})
	hi := ls.ToIndex(r3.Vec{X: bb.Max.X, Y: bb.Max.Y, Z: bb.Max.Z})
	i0, j0, k0 := ls.clampVoxel(lo.X-band, lo.Y-band, lo.Z-band, math.Ceil)
	i1, j1, k1 := ls.clampVoxel(hi.X+band, hi.Y+band, hi.Z+band, math.Floor)

	for k := k0; k <= k1; k++ {
		for j := j0; j <= j1; j++ {
			for i := i0; i <= i1; i++ {
				p := ls.ToWorld(r3.Vec{X: float64(i), Y: float64(j), Z: float64(k)})
				d := s.Evaluate(v3.Vec{X: p.X, Y: p.Y, Z: p.Z}) * scale
				if d >= band {
					continue
				}
				ls.store(i, j, k, float32(max(d, -band)))
			}
		}
	}
	return ls
}

// store writes an active voxel without locking. Builders only.
func (ls *LevelSet) store(i, j, k int, v float32) {
	l := ls.touch(leafOrigin(i, j, k))
	off := leafOffset(i, j, k)
	l.values[off] = v
	l.mask.SetBit(off)
}

// clampVoxel rounds an index-space point with round and clamps it into the volume.
func (ls *LevelSet) clampVoxel(x, y, z float64, round func(float64) float64) (int, int, int) {
	c := func(v float64, n int) int {
		r := round(v)
		if r < 0 {
			return 0
		}
		if r > float64(n-1) {
			return n - 1
		}
		return int(r)
	}
	return c(x, ls.dims.X), c(y, ls.dims.Y), c(z, ls.dims.Z)
}

// rayCrossX intersects the line {(x, y, z) : x ∈ ℝ} with a triangle and
// returns the x of the crossing.
func rayCrossX(y, z float64, tri [3]r3.Vec) (float64, bool) {
	a, b, c := tri[0], tri[1], tri[2]
	// Barycentric coordinates in the yz projection
	det := (b.Y-a.Y)*(c.Z-a.Z) - (c.Y-a.Y)*(b.Z-a.Z)
	if det == 0 {
		return 0, false
	}
	u := ((y-a.Y)*(c.Z-a.Z) - (c.Y-a.Y)*(z-a.Z)) / det
	v := ((b.Y-a.Y)*(z-a.Z) - (y-a.Y)*(b.Z-a.Z)) / det
	if u < 0 || v < 0 || u+v > 1 {
		return 0, false
	}
	return a.X + u*(b.X-a.X) + v*(c.X-a.X), true
}

// closestPointOnTriangle returns the point of triangle abc nearest to p.
func closestPointOnTriangle(p, a, b, c r3.Vec) r3.Vec {
	ab, ac, ap := r3.Sub(b, a), r3.Sub(c, a), r3.Sub(p, a)
	d1, d2 := r3.Dot(ab, ap), r3.Dot(ac, ap)
	if d1 <= 0 && d2 <= 0 {
		return a
	}

	bp := r3.Sub(p, b)
	d3, d4 := r3.Dot(ab, bp), r3.Dot(ac, bp)
	if d3 >= 0 && d4 <= d3 {
		return b
	}

	vc := d1*d4 - d3*d2
	if vc <= 0 && d1 >= 0 && d3 <= 0 {
		return r3.Add(a, r3.Scale(d1/(d1-d3), ab))
	}

	cp := r3.Sub(p, c)
	d5, d6 := r3.Dot(ab, cp), r3.Dot(ac, cp)
	if d6 >= 0 && d5 <= d6 {
		return c
	}

	vb := d5*d2 - d1*d6
	if vb <= 0 && d2 >= 0 && d6 <= 0 {
		return r3.Add(a, r3.Scale(d2/(d2-d6), ac))
	}

	va := d3*d6 - d5*d4
	if va <= 0 && d4-d3 >= 0 && d5-d6 >= 0 {
		return r3.Add(b, r3.Scale((d4-d3)/((d4-d3)+(d5-d6)), r3.Sub(c, b)))
	}

	denom := 1 / (va + vb + vc)
	v := vb * denom
	w := vc * denom
	return r3.Add(a, r3.Add(r3.Scale(v, ab), r3.Scale(w, ac)))
}
