// Package levelset implements a sparse signed distance volume: 8³ voxel leaves
// allocated only where the field is known, with a positive background value
// everywhere else. Values are negative inside, positive outside and measured
// in voxel units.
//
// The volume lives in index space. Voxel (i, j, k) sits at the centre of
// simulation cell (i, j, k); a normalized domain position p maps to index
// coordinate p·scale − 0.5 where scale is the largest grid resolution.
package levelset

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/flip/grid"
)

var (
	// ErrIndexOutOfBounds is returned by direct voxel access outside the volume.
	ErrIndexOutOfBounds = grid.ErrIndexOutOfBounds

	// ErrDegenerateSurface is returned when the field has no zero crossing.
	// Callers can recover: projections leave points unchanged and mesh
	// extraction produces an empty mesh.
	ErrDegenerateSurface = errors.New("level set has no zero crossing")

	// ErrMismatch is returned when combining volumes of different shape.
	ErrMismatch = errors.New("level set dimensions differ")
)

// LevelSet is a sparse signed distance field over a fixed voxel box.
//
// Voxel data is guarded by a read/write lock: Sample and Cell take the read
// side and can run concurrently with each other. Writers (SetCell, Merge)
// first take setMu, so they queue among themselves and only hold the write
// side of mu while touching voxels.
type LevelSet struct {
	dims       grid.Dims
	scale      float64
	background float32

	mu     sync.RWMutex
	setMu  sync.Mutex
	leaves map[Coord]*leaf
	hasVel bool
}

// New creates an empty volume (every voxel at background) covering dims voxels.
// scale converts normalized positions to index space; background must be
// positive and is usually the narrow band width.
func New(dims grid.Dims, scale float64, background float64) *LevelSet {
	return &LevelSet{
		dims:       dims,
		scale:      scale,
		background: float32(math.Abs(background)),
		leaves:     make(map[Coord]*leaf),
	}
}

// Dims returns the voxel resolution.
func (ls *LevelSet) Dims() grid.Dims { return ls.dims }

// Scale returns the normalized-to-index scale factor.
func (ls *LevelSet) Scale() float64 { return ls.scale }

// Background returns the value of inactive voxels.
func (ls *LevelSet) Background() float64 { return float64(ls.background) }

// HasVelocity reports whether per-voxel velocities were attached.
func (ls *LevelSet) HasVelocity() bool { return ls.hasVel }

// ToIndex maps a normalized position to index space.
func (ls *LevelSet) ToIndex(p r3.Vec) r3.Vec {
	return r3.Vec{X: p.X*ls.scale - 0.5, Y: p.Y*ls.scale - 0.5, Z: p.Z*ls.scale - 0.5}
}

// ToWorld maps an index-space point to a normalized position.
func (ls *LevelSet) ToWorld(q r3.Vec) r3.Vec {
	return r3.Vec{X: (q.X + 0.5) / ls.scale, Y: (q.Y + 0.5) / ls.scale, Z: (q.Z + 0.5) / ls.scale}
}

// LeafCount returns the number of allocated leaves.
func (ls *LevelSet) LeafCount() int {
	ls.mu.RLock()
	defer ls.mu.RUnlock()
	return len(ls.leaves)
}

// ActiveVoxels returns the number of voxels holding an explicit value.
func (ls *LevelSet) ActiveVoxels() int {
	ls.mu.RLock()
	defer ls.mu.RUnlock()
	n := 0
	for _, l := range ls.leaves {
		n += l.mask.CountOn()
	}
	return n
}

// Cell returns the value of voxel (i, j, k).
func (ls *LevelSet) Cell(i, j, k int) (float64, error) {
	if !ls.dims.Contains(i, j, k) {
		return 0, ls.boundsError(i, j, k)
	}
	ls.mu.RLock()
	v := ls.value(i, j, k)
	ls.mu.RUnlock()
	return float64(v), nil
}

// SetCell stores v at voxel (i, j, k) and marks it active.
func (ls *LevelSet) SetCell(i, j, k int, v float64) error {
	if !ls.dims.Contains(i, j, k) {
		return ls.boundsError(i, j, k)
	}
	ls.setMu.Lock()
	defer ls.setMu.Unlock()
	ls.mu.Lock()
	defer ls.mu.Unlock()

	l := ls.touch(leafOrigin(i, j, k))
	off := leafOffset(i, j, k)
	l.values[off] = float32(v)
	l.mask.SetBit(off)
	return nil
}

// Sample interpolates the field trilinearly at index-space point q.
// Points outside the volume take the value of the nearest voxel.
func (ls *LevelSet) Sample(q r3.Vec) float64 {
	i0, j0, k0, fx, fy, fz := ls.corner(q)
	i1, j1, k1 := min(i0+1, ls.dims.X-1), min(j0+1, ls.dims.Y-1), min(k0+1, ls.dims.Z-1)

	ls.mu.RLock()
	c000 := float64(ls.value(i0, j0, k0))
	c100 := float64(ls.value(i1, j0, k0))
	c010 := float64(ls.value(i0, j1, k0))
	c110 := float64(ls.value(i1, j1, k0))
	c001 := float64(ls.value(i0, j0, k1))
	c101 := float64(ls.value(i1, j0, k1))
	c011 := float64(ls.value(i0, j1, k1))
	c111 := float64(ls.value(i1, j1, k1))
	ls.mu.RUnlock()

	c00 := c000 + (c100-c000)*fx
	c10 := c010 + (c110-c010)*fx
	c01 := c001 + (c101-c001)*fx
	c11 := c011 + (c111-c011)*fx
	c0 := c00 + (c10-c00)*fy
	c1 := c01 + (c11-c01)*fy
	return c0 + (c1-c0)*fz
}

// SampleWorld interpolates the field at a normalized domain position.
func (ls *LevelSet) SampleWorld(p r3.Vec) float64 {
	return ls.Sample(ls.ToIndex(p))
}

// SampleVelocity interpolates the attached velocity at index-space point q.
// Inactive voxels and volumes without velocities contribute zero.
func (ls *LevelSet) SampleVelocity(q r3.Vec) r3.Vec {
	if !ls.hasVel {
		return r3.Vec{}
	}
	i0, j0, k0, fx, fy, fz := ls.corner(q)

	ls.mu.RLock()
	defer ls.mu.RUnlock()

	var out r3.Vec
	for c := 0; c < 8; c++ {
		di, dj, dk := c&1, (c>>1)&1, (c>>2)&1
		i, j, k := min(i0+di, ls.dims.X-1), min(j0+dj, ls.dims.Y-1), min(k0+dk, ls.dims.Z-1)
		w := weight(fx, di) * weight(fy, dj) * weight(fz, dk)
		if w == 0 {
			continue
		}
		l, ok := ls.leaves[leafOrigin(i, j, k)]
		if !ok || l.vel == nil {
			continue
		}
		off := leafOffset(i, j, k)
		if !l.mask.GetBit(off) {
			continue
		}
		v := l.vel[off]
		out = r3.Add(out, r3.Scale(w, r3.Vec{X: float64(v[0]), Y: float64(v[1]), Z: float64(v[2])}))
	}
	return out
}

// Gradient returns the central-difference gradient of the interpolated field.
func (ls *LevelSet) Gradient(q r3.Vec) r3.Vec {
	const step = 1e-3
	return r3.Gradient(q, r3.Vec{X: step, Y: step, Z: step}, ls.Sample)
}

// Range returns the smallest and largest voxel values, counting the
// background if any voxel is inactive.
func (ls *LevelSet) Range() (lo, hi float64) {
	ls.mu.RLock()
	defer ls.mu.RUnlock()

	lo, hi = math.Inf(1), math.Inf(-1)
	active := 0
	for origin, l := range ls.leaves {
		for off := 0; off < LeafSize; off++ {
			if !l.mask.GetBit(off) {
				continue
			}
			// Leaves on the upper edge can hold voxels past the volume
			if x, y, z := offsetCoord(origin, off); !ls.dims.Contains(x, y, z) {
				continue
			}
			v := float64(l.values[off])
			lo, hi = math.Min(lo, v), math.Max(hi, v)
			active++
		}
	}
	if active < ls.dims.Cells() {
		bg := float64(ls.background)
		lo, hi = math.Min(lo, bg), math.Max(hi, bg)
	}
	return lo, hi
}

// HasSurface reports whether the field crosses zero somewhere.
func (ls *LevelSet) HasSurface() bool {
	lo, hi := ls.Range()
	return lo < 0 && hi > 0
}

// Merge replaces every voxel with the minimum of itself and other's voxel,
// the union of the two enclosed regions. Velocities follow the smaller value.
func (ls *LevelSet) Merge(other *LevelSet) error {
	if other == ls {
		return nil
	}
	if ls.dims != other.dims || ls.scale != other.scale {
		return fmt.Errorf("%w: merging %v into %v", ErrMismatch, other.dims, ls.dims)
	}

	other.mu.RLock()
	defer other.mu.RUnlock()
	ls.mergeLeaves(other.leaves, other.background, other.hasVel)
	return nil
}

// mergeLeaves folds a leaf table into ls by voxelwise minimum.
func (ls *LevelSet) mergeLeaves(src map[Coord]*leaf, srcBackground float32, srcVel bool) {
	ls.setMu.Lock()
	defer ls.setMu.Unlock()
	ls.mu.Lock()
	defer ls.mu.Unlock()

	dstBackground := ls.background
	newBackground := min(dstBackground, srcBackground)

	// Voxels active only here compete with the source background
	if srcBackground < dstBackground {
		for origin, l := range ls.leaves {
			if _, shared := src[origin]; shared {
				continue
			}
			for off := 0; off < LeafSize; off++ {
				if l.mask.GetBit(off) && srcBackground < l.values[off] {
					l.values[off] = srcBackground
				}
			}
		}
	}

	for origin, sl := range src {
		dl, ok := ls.leaves[origin]
		if !ok {
			dl = &leaf{}
			ls.leaves[origin] = dl
		}
		if srcVel && dl.vel == nil {
			dl.vel = new([LeafSize][3]float32)
		}
		for off := 0; off < LeafSize; off++ {
			sActive, dActive := sl.mask.GetBit(off), dl.mask.GetBit(off)
			if !sActive && !dActive {
				continue
			}
			sv, dv := srcBackground, dstBackground
			if sActive {
				sv = sl.values[off]
			}
			if dActive {
				dv = dl.values[off]
			}
			if sv < dv {
				dl.values[off] = sv
				if sl.vel != nil && dl.vel != nil {
					dl.vel[off] = sl.vel[off]
				}
			} else {
				dl.values[off] = dv
			}
			dl.mask.SetBit(off)
		}
	}

	ls.background = newBackground
	ls.hasVel = ls.hasVel || srcVel
}

// Copy returns a deep clone.
func (ls *LevelSet) Copy() *LevelSet {
	ls.mu.RLock()
	defer ls.mu.RUnlock()

	c := New(ls.dims, ls.scale, float64(ls.background))
	c.hasVel = ls.hasVel
	for origin, l := range ls.leaves {
		c.leaves[origin] = l.clone()
	}
	return c
}

// value reads a voxel. Caller holds mu.
func (ls *LevelSet) value(i, j, k int) float32 {
	l, ok := ls.leaves[leafOrigin(i, j, k)]
	if !ok {
		return ls.background
	}
	off := leafOffset(i, j, k)
	if !l.mask.GetBit(off) {
		return ls.background
	}
	return l.values[off]
}

// touch returns the leaf at origin, allocating it. Caller holds mu for writing.
func (ls *LevelSet) touch(origin Coord) *leaf {
	l, ok := ls.leaves[origin]
	if !ok {
		l = &leaf{}
		ls.leaves[origin] = l
	}
	return l
}

// corner clamps q into the volume and splits it into the lower voxel and the
// fractional offsets.
func (ls *LevelSet) corner(q r3.Vec) (i, j, k int, fx, fy, fz float64) {
	x := clamp(q.X, 0, float64(ls.dims.X-1))
	y := clamp(q.Y, 0, float64(ls.dims.Y-1))
	z := clamp(q.Z, 0, float64(ls.dims.Z-1))
	i, j, k = int(x), int(y), int(z)
	return i, j, k, x - float64(i), y - float64(j), z - float64(k)
}

func (ls *LevelSet) boundsError(i, j, k int) error {
	return fmt.Errorf("%w: voxel (%d, %d, %d) outside %v", ErrIndexOutOfBounds, i, j, k, ls.dims)
}

func weight(f float64, d int) float64 {
	if d == 0 {
		return 1 - f
	}
	return f
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) || v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
