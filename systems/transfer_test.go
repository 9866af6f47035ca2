package systems

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/flip/components"
	"github.com/pthm-cable/flip/grid"
	"github.com/pthm-cable/flip/levelset"
	"github.com/pthm-cable/flip/mesh"
)

func TestSplatUniformVelocity(t *testing.T) {
	d := grid.Dims{X: 6, Y: 6, Z: 6}
	vel := r3.Vec{X: 1, Y: 2, Z: 3}
	var ps []Particle
	for k := 1; k < 5; k++ {
		for j := 1; j < 5; j++ {
			for i := 1; i < 5; i++ {
				ps = append(ps, Particle{Pos: d.CellCenter(i, j, k), Vel: vel, Mass: 1, Kind: components.Fluid})
			}
		}
	}
	// Solid particles never splat
	ps = append(ps, Particle{Pos: d.CellCenter(3, 3, 3), Vel: r3.Vec{X: 100}, Mass: 1, Kind: components.Solid})

	idx := NewIndex(d)
	idx.Sort(ps)
	g := grid.NewMAC(d)
	g.U.Fill(-9)
	Splat(ps, idx, g, nil)

	tests := []struct {
		name    string
		f       *grid.Field
		i, j, k int
		want    float64
	}{
		{"u interior", g.U, 3, 3, 3, 1},
		{"v interior", g.V, 2, 3, 4, 2},
		{"w interior", g.W, 4, 2, 3, 3},
		{"u fluid edge", g.U, 1, 2, 2, 1},
		{"u far corner", g.U, 0, 0, 0, 0},
		{"w far corner", g.W, 5, 5, 6, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.f.At(tt.i, tt.j, tt.k); math.Abs(got-tt.want) > 1e-12 {
				t.Errorf("face (%d,%d,%d) = %v, want %v", tt.i, tt.j, tt.k, got, tt.want)
			}
		})
	}
}

func TestEnforceBoundaryVelocity(t *testing.T) {
	d := grid.Dims{X: 4, Y: 4, Z: 4}
	g := grid.NewMAC(d)
	g.U.Fill(1)
	g.V.Fill(1)
	g.W.Fill(1)
	g.A.Set(1, 2, 1, components.Solid)
	g.A.Set(2, 2, 2, components.Fluid)

	EnforceBoundaryVelocity(g)

	solid := func(i, j, k int) bool {
		return g.A.KindOr(i, j, k, components.Solid) == components.Solid
	}
	check := func(name string, f *grid.Field, di, dj, dk int) {
		for k := 0; k < f.Z; k++ {
			for j := 0; j < f.Y; j++ {
				for i := 0; i < f.X; i++ {
					a, b := solid(i-di, j-dj, k-dk), solid(i, j, k)
					got := f.At(i, j, k)
					if (a || b) && got != 0 {
						t.Errorf("%s face (%d,%d,%d) next to solid = %v", name, i, j, k, got)
					}
					if !a && !b && got != 1 {
						t.Errorf("%s interior face (%d,%d,%d) changed to %v", name, i, j, k, got)
					}
				}
			}
		}
	}
	check("u", g.U, 1, 0, 0)
	check("v", g.V, 0, 1, 0)
	check("w", g.W, 0, 0, 1)

	// Spot checks on the faces of the solid cell
	for _, v := range []float64{g.U.At(1, 2, 1), g.U.At(2, 2, 1), g.V.At(1, 2, 1), g.V.At(1, 3, 1), g.W.At(1, 2, 2)} {
		if v != 0 {
			t.Errorf("solid cell face = %v, want 0", v)
		}
	}
	if g.U.At(2, 1, 1) != 1 {
		t.Errorf("face between open cells = %v, want 1", g.U.At(2, 1, 1))
	}
}

func TestGatherBlend(t *testing.T) {
	d := grid.Dims{X: 4, Y: 4, Z: 4}
	g := grid.NewMAC(d)
	prev := g.Faces().Clone()
	prev.U.Fill(1)
	g.U.Fill(2)

	tests := []struct {
		ratio float64
		want  float64
	}{
		{1, 6},
		{0, 2},
		{0.95, 0.95*6 + 0.05*2},
	}
	for _, tt := range tests {
		ps := []Particle{
			{Pos: r3.Vec{X: 0.4, Y: 0.6, Z: 0.3}, Vel: r3.Vec{X: 5}, Kind: components.Fluid},
			{Pos: r3.Vec{X: 0.4, Y: 0.6, Z: 0.3}, Vel: r3.Vec{X: 5}, Kind: components.Solid},
		}
		Gather(ps, g, prev, tt.ratio, nil)
		if math.Abs(ps[0].Vel.X-tt.want) > 1e-12 || ps[0].Vel.Y != 0 || ps[0].Vel.Z != 0 {
			t.Errorf("ratio %v: velocity %v, want (%v, 0, 0)", tt.ratio, ps[0].Vel, tt.want)
		}
		if ps[1].Vel.X != 5 {
			t.Errorf("ratio %v: solid particle velocity changed to %v", tt.ratio, ps[1].Vel)
		}
	}
}

func TestApplyExternalForces(t *testing.T) {
	ps := []Particle{
		{Kind: components.Fluid, Vel: r3.Vec{X: 1}},
		{Kind: components.Solid},
		{Kind: components.Fluid, Invalid: true},
	}
	ApplyExternalForces(ps, r3.Vec{Y: -9.8}, 0.01, nil)

	if ps[0].Vel != (r3.Vec{X: 1, Y: -9.8 * 0.01}) {
		t.Errorf("fluid velocity = %v", ps[0].Vel)
	}
	if ps[1].Vel != (r3.Vec{}) || ps[2].Vel != (r3.Vec{}) {
		t.Errorf("solid or invalid particle accelerated: %v, %v", ps[1].Vel, ps[2].Vel)
	}
}

func TestAdvect(t *testing.T) {
	d := grid.Dims{X: 8, Y: 8, Z: 8}
	g := grid.NewMAC(d)
	g.U.Fill(1)
	h := d.H()

	ps := []Particle{
		{Pos: r3.Vec{X: 0.5, Y: 0.5, Z: 0.5}, Kind: components.Fluid},
		{Pos: r3.Vec{X: 1 - 1.05*h, Y: 0.5, Z: 0.5}, Kind: components.Fluid},
		{Pos: r3.Vec{X: 0.5, Y: 0.5, Z: 0.5}, Vel: r3.Vec{X: math.NaN()}, Kind: components.Fluid},
		{Pos: r3.Vec{X: 0.3, Y: 0.5, Z: 0.5}, Kind: components.Solid},
	}
	bad := Advect(ps, g, 0.01, 1, nil)

	if bad != 1 || !ps[2].Invalid {
		t.Errorf("Advect flagged %d particles, want the NaN one", bad)
	}
	if math.Abs(ps[0].Pos.X-0.51) > 1e-12 || ps[0].Pos.Y != 0.5 {
		t.Errorf("moved to %v, want x=0.51", ps[0].Pos)
	}
	// Clamped short of the wall cell
	if ps[1].Pos.X >= 1-h || ps[1].Pos.X <= 1-1.05*h {
		t.Errorf("wall clamp gave x=%v", ps[1].Pos.X)
	}
	if i, _, _ := d.CellOf(ps[1].Pos); i != d.X-2 {
		t.Errorf("clamped particle in cell %d, want %d", i, d.X-2)
	}
	if ps[3].Pos.X != 0.3 {
		t.Errorf("solid particle moved to %v", ps[3].Pos)
	}
}

func TestPushOutOfSolids(t *testing.T) {
	d := grid.Dims{X: 16, Y: 16, Z: 16}
	solid := levelset.New(d, 16, 20)
	for k := 0; k < 16; k++ {
		for j := 0; j < 16; j++ {
			for i := 0; i < 16; i++ {
				if err := solid.SetCell(i, j, k, float64(i)-5.3); err != nil {
					t.Fatal(err)
				}
			}
		}
	}

	ps := []Particle{
		{Pos: solid.ToWorld(r3.Vec{X: 2, Y: 7, Z: 7}), Kind: components.Fluid},
		{Pos: solid.ToWorld(r3.Vec{X: 9, Y: 7, Z: 7}), Kind: components.Fluid},
	}
	outside := ps[1].Pos

	n, err := PushOutOfSolids(ps, solid, 20, 1e-5)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("moved %d particles, want 1", n)
	}
	if phi := solid.SampleWorld(ps[0].Pos); math.Abs(phi) > 1e-3 {
		t.Errorf("projected particle at phi=%v", phi)
	}
	if ps[1].Pos != outside {
		t.Errorf("outside particle moved to %v", ps[1].Pos)
	}
}

func TestPushOutOfNarrowBandSolid(t *testing.T) {
	d := grid.Dims{X: 32, Y: 32, Z: 32}
	box := mesh.Box(r3.Vec{X: 0.2, Y: 0.2, Z: 0.2}, r3.Vec{X: 0.8, Y: 0.8, Z: 0.8})
	solid := levelset.FromMesh(box.Triangles(), d, 32, 3)

	ps := []Particle{
		{Pos: r3.Vec{X: 0.5, Y: 0.5, Z: 0.5}, Kind: components.Fluid},  // Deep inside, flat field
		{Pos: r3.Vec{X: 0.23, Y: 0.5, Z: 0.5}, Kind: components.Fluid}, // Inside the band
		{Pos: r3.Vec{X: 0.9, Y: 0.5, Z: 0.5}, Kind: components.Fluid},  // Outside
	}
	outside := ps[2].Pos

	n, err := PushOutOfSolids(ps, solid, 20, 1e-5)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("pushed %d particles, want 2", n)
	}
	for _, p := range ps[:2] {
		if phi := solid.SampleWorld(p.Pos); phi < -1e-5 || phi > 1e-3 {
			t.Errorf("particle at %v left with phi=%v", p.Pos, phi)
		}
	}
	if ps[2].Pos != outside {
		t.Errorf("outside particle moved to %v", ps[2].Pos)
	}
}

func TestPushOutCountsOnlyArrivals(t *testing.T) {
	d := grid.Dims{X: 32, Y: 32, Z: 32}
	box := mesh.Box(r3.Vec{X: 0.2, Y: 0.2, Z: 0.2}, r3.Vec{X: 0.8, Y: 0.8, Z: 0.8})
	solid := levelset.FromMesh(box.Triangles(), d, 32, 3)

	// No iteration budget: the particle stays inside
	ps := []Particle{{Pos: r3.Vec{X: 0.5, Y: 0.5, Z: 0.5}, Kind: components.Fluid}}
	n, err := PushOutOfSolids(ps, solid, 0, 1e-5)
	if !errors.Is(err, levelset.ErrProjectionIncomplete) {
		t.Errorf("err = %v, want ErrProjectionIncomplete", err)
	}
	if n != 0 {
		t.Errorf("pushed %d particles, want 0", n)
	}
	if phi := solid.SampleWorld(ps[0].Pos); phi >= 0 {
		t.Errorf("particle reported outside, phi=%v", phi)
	}
}
