package grid

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/flip/components"
	"github.com/pthm-cable/flip/parallel"
)

func TestDimsCellOf(t *testing.T) {
	d := Dims{X: 8, Y: 4, Z: 8}

	tests := []struct {
		name    string
		p       r3.Vec
		i, j, k int
	}{
		{"origin", r3.Vec{}, 0, 0, 0},
		{"interior", r3.Vec{X: 0.26, Y: 0.13, Z: 0.9}, 2, 1, 7},
		{"beyond y extent clamps", r3.Vec{X: 0.5, Y: 0.8, Z: 0.5}, 4, 3, 4},
		{"negative clamps", r3.Vec{X: -0.3, Y: -1, Z: -0.01}, 0, 0, 0},
		{"upper face clamps", r3.Vec{X: 1, Y: 1, Z: 1}, 7, 3, 7},
		{"nan maps to zero", r3.Vec{X: math.NaN(), Y: 0.2, Z: 0.2}, 0, 1, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			i, j, k := d.CellOf(tt.p)
			if i != tt.i || j != tt.j || k != tt.k {
				t.Errorf("CellOf(%v) = (%d,%d,%d), want (%d,%d,%d)", tt.p, i, j, k, tt.i, tt.j, tt.k)
			}
		})
	}
}

func TestFieldBounds(t *testing.T) {
	f := NewField(4, 3, 2)

	if err := f.Store(3, 2, 1, 5); err != nil {
		t.Fatalf("Store inside field failed: %v", err)
	}
	if v, err := f.Lookup(3, 2, 1); err != nil || v != 5 {
		t.Errorf("Lookup = %v, %v; want 5, nil", v, err)
	}

	for _, c := range [][3]int{{4, 0, 0}, {0, 3, 0}, {0, 0, 2}, {-1, 0, 0}} {
		if _, err := f.Lookup(c[0], c[1], c[2]); !errors.Is(err, ErrIndexOutOfBounds) {
			t.Errorf("Lookup%v: expected ErrIndexOutOfBounds, got %v", c, err)
		}
		if err := f.Store(c[0], c[1], c[2], 1); !errors.Is(err, ErrIndexOutOfBounds) {
			t.Errorf("Store%v: expected ErrIndexOutOfBounds, got %v", c, err)
		}
	}

	defer func() {
		r := recover()
		err, ok := r.(error)
		if !ok || !errors.Is(err, ErrIndexOutOfBounds) {
			t.Errorf("At out of bounds should panic with ErrIndexOutOfBounds, got %v", r)
		}
	}()
	f.At(0, 0, 5)
}

func TestFieldInterpolate(t *testing.T) {
	f := NewField(3, 3, 3)
	for k := 0; k < 3; k++ {
		for j := 0; j < 3; j++ {
			for i := 0; i < 3; i++ {
				f.Set(i, j, k, float64(i)+2*float64(j)-float64(k))
			}
		}
	}

	// Trilinear interpolation reproduces a linear function exactly
	got := f.Interpolate(0.5, 1.25, 1.75)
	want := 0.5 + 2*1.25 - 1.75
	if math.Abs(got-want) > 1e-12 {
		t.Errorf("Interpolate = %v, want %v", got, want)
	}

	// Outside the field the edge value is used
	if got := f.Interpolate(-3, 0, 0); got != 0 {
		t.Errorf("clamped Interpolate = %v, want 0", got)
	}
}

func TestUniformVelocityHasZeroDivergence(t *testing.T) {
	g := NewMAC(Dims{X: 4, Y: 4, Z: 4})
	g.U.Fill(1.3)
	g.V.Fill(-0.7)
	g.W.Fill(2.25)

	g.ComputeDivergence(parallel.NewPool(2, 1))

	for idx, d := range g.D.Data {
		if d != 0 {
			i, j, k := g.Coords(idx)
			t.Fatalf("divergence at (%d,%d,%d) = %v, want exactly 0", i, j, k, d)
		}
	}
}

func TestDivergenceMatchesHandComputed(t *testing.T) {
	g := NewMAC(Dims{X: 4, Y: 4, Z: 4})
	h := g.H()

	// u = 0.5 i, v = j², w = -k
	for k := 0; k < 4; k++ {
		for j := 0; j < 4; j++ {
			for i := 0; i < 5; i++ {
				g.U.Set(i, j, k, 0.5*float64(i))
			}
		}
	}
	for k := 0; k < 4; k++ {
		for j := 0; j < 5; j++ {
			for i := 0; i < 4; i++ {
				g.V.Set(i, j, k, float64(j*j))
			}
		}
	}
	for k := 0; k < 5; k++ {
		for j := 0; j < 4; j++ {
			for i := 0; i < 4; i++ {
				g.W.Set(i, j, k, -float64(k))
			}
		}
	}

	g.ComputeDivergence(nil)

	tests := []struct {
		i, j, k int
	}{
		{0, 0, 0}, {1, 2, 3}, {3, 3, 0}, {2, 1, 2},
	}
	for _, tt := range tests {
		// (u[i+1]-u[i]) + (v[j+1]-v[j]) + (w[k+1]-w[k]) = 0.5 + (2j+1) - 1
		want := (0.5 + float64(2*tt.j+1) - 1) / h
		got := g.D.At(tt.i, tt.j, tt.k)
		if math.Abs(got-want) > 1e-12 {
			t.Errorf("D(%d,%d,%d) = %v, want %v", tt.i, tt.j, tt.k, got, want)
		}
	}
}

func TestFacesSampleUniform(t *testing.T) {
	g := NewMAC(Dims{X: 6, Y: 6, Z: 6})
	g.U.Fill(1)
	g.V.Fill(-2)
	g.W.Fill(0.5)

	v := g.Velocity(r3.Vec{X: 0.31, Y: 0.72, Z: 0.05})
	if v != (r3.Vec{X: 1, Y: -2, Z: 0.5}) {
		t.Errorf("Velocity = %v, want (1,-2,0.5)", v)
	}
}

func TestCellTypesCount(t *testing.T) {
	c := NewCellTypes(Dims{X: 2, Y: 2, Z: 2})
	c.Set(0, 0, 0, components.Solid)
	c.Set(1, 1, 1, components.Fluid)
	c.Set(1, 0, 1, components.Fluid)

	if n := c.Count(components.Fluid); n != 2 {
		t.Errorf("fluid count = %d, want 2", n)
	}
	if n := c.Count(components.Empty); n != 5 {
		t.Errorf("empty count = %d, want 5", n)
	}
	if k := c.KindOr(-1, 0, 0, components.Solid); k != components.Solid {
		t.Errorf("KindOr outside = %v, want solid", k)
	}

	c.Reset()
	if n := c.Count(components.Empty); n != 8 {
		t.Errorf("after Reset empty count = %d, want 8", n)
	}
}
