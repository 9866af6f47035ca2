package grid

import (
	"fmt"
	"math"
)

// Field is a dense scalar field over a box of samples.
// Face fields are Fields with one extra sample along their axis.
type Field struct {
	Dims
	Data []float64
}

// NewField allocates a zeroed field.
func NewField(nx, ny, nz int) *Field {
	d := Dims{X: nx, Y: ny, Z: nz}
	return &Field{Dims: d, Data: make([]float64, d.Cells())}
}

// At returns the sample at (i, j, k).
// Panics with an error wrapping ErrIndexOutOfBounds outside the field.
func (f *Field) At(i, j, k int) float64 {
	if !f.Contains(i, j, k) {
		panic(f.boundsError(i, j, k))
	}
	return f.Data[f.Idx(i, j, k)]
}

// Set stores v at (i, j, k).
// Panics with an error wrapping ErrIndexOutOfBounds outside the field.
func (f *Field) Set(i, j, k int, v float64) {
	if !f.Contains(i, j, k) {
		panic(f.boundsError(i, j, k))
	}
	f.Data[f.Idx(i, j, k)] = v
}

// Lookup is At with an error return instead of a panic.
func (f *Field) Lookup(i, j, k int) (float64, error) {
	if !f.Contains(i, j, k) {
		return 0, f.boundsError(i, j, k)
	}
	return f.Data[f.Idx(i, j, k)], nil
}

// Store is Set with an error return instead of a panic.
func (f *Field) Store(i, j, k int, v float64) error {
	if !f.Contains(i, j, k) {
		return f.boundsError(i, j, k)
	}
	f.Data[f.Idx(i, j, k)] = v
	return nil
}

// Fill sets every sample to v.
func (f *Field) Fill(v float64) {
	for i := range f.Data {
		f.Data[i] = v
	}
}

// CopyFrom copies src into f. The dimensions must match.
func (f *Field) CopyFrom(src *Field) {
	if f.Dims != src.Dims {
		panic(fmt.Sprintf("grid: copying %v field into %v field", src.Dims, f.Dims))
	}
	copy(f.Data, src.Data)
}

// Clone returns a deep copy.
func (f *Field) Clone() *Field {
	c := NewField(f.X, f.Y, f.Z)
	copy(c.Data, f.Data)
	return c
}

// MaxAbs returns the largest absolute sample.
func (f *Field) MaxAbs() float64 {
	m := 0.0
	for _, v := range f.Data {
		m = math.Max(m, math.Abs(v))
	}
	return m
}

// Interpolate samples the field trilinearly at fractional sample coordinates
// (x, y, z), clamping to the edge samples outside the field.
func (f *Field) Interpolate(x, y, z float64) float64 {
	x = clampFloat(x, 0, float64(f.X-1))
	y = clampFloat(y, 0, float64(f.Y-1))
	z = clampFloat(z, 0, float64(f.Z-1))

	i0, j0, k0 := int(x), int(y), int(z)
	i1, j1, k1 := min(i0+1, f.X-1), min(j0+1, f.Y-1), min(k0+1, f.Z-1)
	fx, fy, fz := x-float64(i0), y-float64(j0), z-float64(k0)

	d := f.Data
	c00 := lerp(d[f.Idx(i0, j0, k0)], d[f.Idx(i1, j0, k0)], fx)
	c10 := lerp(d[f.Idx(i0, j1, k0)], d[f.Idx(i1, j1, k0)], fx)
	c01 := lerp(d[f.Idx(i0, j0, k1)], d[f.Idx(i1, j0, k1)], fx)
	c11 := lerp(d[f.Idx(i0, j1, k1)], d[f.Idx(i1, j1, k1)], fx)
	return lerp(lerp(c00, c10, fy), lerp(c01, c11, fy), fz)
}

func (f *Field) boundsError(i, j, k int) error {
	return fmt.Errorf("%w: (%d, %d, %d) outside %v", ErrIndexOutOfBounds, i, j, k, f.Dims)
}

func lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}

func clampFloat(v, lo, hi float64) float64 {
	if math.IsNaN(v) || v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
