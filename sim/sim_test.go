package sim

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/flip/components"
	"github.com/pthm-cable/flip/config"
	"github.com/pthm-cable/flip/grid"
	"github.com/pthm-cable/flip/levelset"
	"github.com/pthm-cable/flip/scene"
	"github.com/pthm-cable/flip/systems"
	"github.com/pthm-cable/flip/telemetry"
)

// fixedScene hands out a fixed particle list.
type fixedScene struct {
	ps            []systems.Particle
	liquid, solid *levelset.LevelSet
}

func (f *fixedScene) GenerateParticles(grid.Dims, float64) []systems.Particle {
	return slices.Clone(f.ps)
}
func (f *fixedScene) LiquidLevelSet() *levelset.LevelSet { return f.liquid }
func (f *fixedScene) SolidLevelSet() *levelset.LevelSet  { return f.solid }

func testConfig(t *testing.T, res int) *config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.Domain.Resolution = [3]int{res, res, res}
	cfg.Parallel.Workers = 2
	cfg.Telemetry.LogEvery = 0
	cfg.Telemetry.PerfWindow = 2
	cfg.Export.MeshCells = 0
	cfg.ComputeDerived()
	return cfg
}

const block = `[Scene]
Seed = 3

[LiquidBox "block"]
X = 0.3
Y = 0.3
Z = 0.3
XWidth = 0.4
YWidth = 0.4
ZWidth = 0.4
`

func newBlock(t *testing.T, cfg *config.Config) *Sim {
	t.Helper()
	f, err := scene.Parse(block)
	require.NoError(t, err)
	sc, err := scene.Build(f, grid.NewDims(cfg.Domain.Resolution), cfg.LevelSet.BandWidth)
	require.NoError(t, err)
	s, err := New(cfg, sc)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*config.Config)
	}{
		{"zero resolution", func(c *config.Config) { c.Domain.Resolution[1] = 0 }},
		{"negative resolution", func(c *config.Config) { c.Domain.Resolution[2] = -4 }},
		{"zero density", func(c *config.Config) { c.Domain.Density = 0 }},
		{"negative step", func(c *config.Config) { c.Sim.StepSize = -0.1 }},
		{"flip ratio", func(c *config.Config) { c.Sim.FlipRatio = 1.5 }},
		{"solver iterations", func(c *config.Config) { c.Solver.MaxIterations = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Defaults()
			tt.modify(cfg)
			_, err := New(cfg, &fixedScene{})
			assert.True(t, errors.Is(err, config.ErrInvalidConfiguration), "got %v", err)
		})
	}

	_, err := New(nil, &fixedScene{})
	assert.True(t, errors.Is(err, config.ErrInvalidConfiguration))
	_, err = New(config.Defaults(), nil)
	assert.True(t, errors.Is(err, config.ErrInvalidConfiguration))
}

func TestLifecycleErrors(t *testing.T) {
	s, err := New(testConfig(t, 8), &fixedScene{})
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Step()
	assert.True(t, errors.Is(err, ErrNotInitialized))
	assert.Equal(t, 0, s.Timestep())

	require.NoError(t, s.Init())
	assert.True(t, errors.Is(s.Init(), ErrAlreadyInitialized))
}

func TestInitRemovesFluidInSolidCells(t *testing.T) {
	cfg := testConfig(t, 8)
	d := grid.NewDims(cfg.Domain.Resolution)
	solid := levelset.New(d, 8, 3)
	require.NoError(t, solid.SetCell(4, 4, 4, -1))

	sc := &fixedScene{
		solid: solid,
		ps: []systems.Particle{
			{Pos: d.CellCenter(0, 3, 3), Mass: 1, Kind: components.Fluid}, // Wall
			{Pos: d.CellCenter(4, 4, 4), Mass: 1, Kind: components.Fluid}, // Static solid
			{Pos: d.CellCenter(2, 3, 3), Mass: 1, Kind: components.Fluid},
			{Pos: d.CellCenter(0, 5, 5), Mass: 1, Kind: components.Solid},
		},
	}
	s, err := New(cfg, sc)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Init())

	ps := s.Particles()
	require.Len(t, ps, 2)
	kinds := []components.Kind{ps[0].Kind, ps[1].Kind}
	assert.ElementsMatch(t, []components.Kind{components.Fluid, components.Solid}, kinds)
	for _, p := range ps {
		if p.Kind == components.Fluid {
			assert.Equal(t, d.CellCenter(2, 3, 3), p.Pos)
		}
	}
	assert.Greater(t, s.MaxDensity(), 0.0)
}

func TestIsCellFluid(t *testing.T) {
	d := grid.Dims{X: 4, Y: 4, Z: 4}
	liquid := levelset.New(d, 4, 3)
	solid := levelset.New(d, 4, 3)
	require.NoError(t, liquid.SetCell(1, 1, 1, -1))
	require.NoError(t, liquid.SetCell(2, 1, 1, -1))
	require.NoError(t, solid.SetCell(2, 1, 1, -0.5))

	cfg := testConfig(t, 4)
	s, err := New(cfg, &fixedScene{liquid: liquid, solid: solid})
	require.NoError(t, err)
	defer s.Close()

	assert.True(t, s.IsCellFluid(1, 1, 1))
	assert.False(t, s.IsCellFluid(2, 1, 1), "liquid inside solid")
	assert.False(t, s.IsCellFluid(3, 3, 3), "air")
	assert.False(t, s.IsCellFluid(9, 0, 0), "out of range")
}

func TestStepsKeepFluidDivergenceFree(t *testing.T) {
	cfg := testConfig(t, 12)
	s := newBlock(t, cfg)
	require.NoError(t, s.Init())

	meanY := func() float64 {
		sum, n := 0.0, 0
		for _, p := range s.Particles() {
			if p.Kind == components.Fluid {
				sum += p.Pos.Y
				n++
			}
		}
		return sum / float64(n)
	}

	start := len(s.Particles())
	require.Greater(t, start, 0)
	y0 := meanY()

	for step := 1; step <= 3; step++ {
		stats, err := s.Step()
		require.NoError(t, err)

		assert.Equal(t, step, stats.Step)
		assert.True(t, stats.Converged)
		assert.Greater(t, stats.FluidCells, 0)
		assert.LessOrEqual(t, stats.DivergenceAfter, 1e-6*math.Max(1, stats.DivergenceBefore))
		assert.Equal(t, start, stats.Particles)
		assert.Zero(t, stats.Removed)
		assert.Greater(t, stats.DensityP50, 0.0)
	}
	assert.Equal(t, 3, s.Timestep())
	assert.Less(t, meanY(), y0, "block should fall")

	liquid := s.LiquidLevelSet()
	require.NotNil(t, liquid)
	assert.True(t, liquid.HasSurface())
	assert.True(t, liquid.HasVelocity())

	// Every face touching a solid cell is still zero
	g := s.Grid()
	for j := 0; j < g.Y; j++ {
		for k := 0; k < g.Z; k++ {
			assert.Zero(t, g.U.At(0, j, k))
			assert.Zero(t, g.U.At(1, j, k))
		}
	}
}

func TestStepWithoutAdvection(t *testing.T) {
	cfg := testConfig(t, 10)
	cfg.Sim.Advect = false
	s := newBlock(t, cfg)
	require.NoError(t, s.Init())

	before := s.Particles()
	_, err := s.Step()
	require.NoError(t, err)

	// Positions stay put; fluid velocities pick up gravity
	after := s.Particles()
	pos := map[r3.Vec]bool{}
	for _, p := range before {
		pos[p.Pos] = true
	}
	for _, p := range after {
		assert.True(t, pos[p.Pos], "particle moved to %v", p.Pos)
		if p.Kind == components.Fluid {
			assert.InDelta(t, cfg.Sim.Gravity[1]*cfg.Sim.StepSize, p.Vel.Y, 1e-12)
		}
	}
}

func TestStepWritesOutput(t *testing.T) {
	cfg := testConfig(t, 10)
	cfg.Export.Every = 2
	cfg.ComputeDerived()
	s := newBlock(t, cfg)

	dir := t.TempDir()
	om, err := telemetry.NewOutputManager(dir)
	require.NoError(t, err)
	s.SetOutput(om)
	s.SetMetrics(true)

	require.NoError(t, s.Init())
	for i := 0; i < 2; i++ {
		_, err := s.Step()
		require.NoError(t, err)
	}
	require.NoError(t, om.Close())

	for _, name := range []string{"steps.csv", "perf.csv", "liquid_00002.obj", "liquid_00002.flvs"} {
		info, err := os.Stat(filepath.Join(dir, name))
		if assert.NoError(t, err, name) {
			assert.Greater(t, info.Size(), int64(0), name)
		}
	}
	_, err = os.Stat(filepath.Join(dir, "liquid_00001.obj"))
	assert.True(t, os.IsNotExist(err))

	back, err := levelset.LoadVolume(filepath.Join(dir, "liquid_00002.flvs"))
	require.NoError(t, err)
	assert.Equal(t, s.LiquidLevelSet().ActiveVoxels(), back.ActiveVoxels())
}

func TestExportBeforeStep(t *testing.T) {
	s, err := New(testConfig(t, 8), &fixedScene{})
	require.NoError(t, err)
	defer s.Close()
	assert.True(t, errors.Is(s.ExportSurface(filepath.Join(t.TempDir(), "x")), ErrNotInitialized))
}
