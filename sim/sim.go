// Package sim drives the FLIP simulation: it owns the particle store, the
// spatial index and the MAC grid, and runs the per-step pipeline over them.
package sim

import (
	"errors"
	"fmt"
	"log/slog"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/flip/components"
	"github.com/pthm-cable/flip/config"
	"github.com/pthm-cable/flip/grid"
	"github.com/pthm-cable/flip/levelset"
	"github.com/pthm-cable/flip/parallel"
	"github.com/pthm-cable/flip/solver"
	"github.com/pthm-cable/flip/systems"
	"github.com/pthm-cable/flip/telemetry"
)

var (
	// ErrNotInitialized is returned by Step before Init.
	ErrNotInitialized = errors.New("simulation not initialized")
	// ErrAlreadyInitialized is returned by a second Init.
	ErrAlreadyInitialized = errors.New("simulation already initialized")
)

// surfaceTolerance is the |φ| at which surface projection stops.
const surfaceTolerance = 1e-5

// extrapolateLayers is how many face layers of air get velocity from the
// fluid before the transfer back to particles.
const extrapolateLayers = 2

// Scene supplies the initial particles and the static liquid and solid
// level sets. Level sets must use the simulation's dims with scale maxd.
type Scene interface {
	GenerateParticles(dims grid.Dims, density float64) []systems.Particle
	LiquidLevelSet() *levelset.LevelSet
	SolidLevelSet() *levelset.LevelSet
}

// Sim is one simulation run.
type Sim struct {
	cfg   *config.Config
	scene Scene
	dims  grid.Dims
	pool  *parallel.Pool

	store     *Store
	index     *systems.Index
	grid      *grid.MAC
	prev      grid.Faces // Face velocities before projection, for the FLIP delta
	liquid    *levelset.LevelSet
	particles []systems.Particle // Working snapshot, reused across steps

	solverOpts solver.Options
	maxDensity float64
	timestep   int
	ready      bool

	// Telemetry
	perf      *telemetry.PerfCollector
	output    *telemetry.OutputManager
	bookmarks *telemetry.BookmarkDetector
	metrics   bool
}

// New validates cfg and allocates a simulation for scene. The scene is
// borrowed, not copied.
func New(cfg *config.Config, scene Scene) (*Sim, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: nil config", config.ErrInvalidConfiguration)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if scene == nil {
		return nil, fmt.Errorf("%w: nil scene", config.ErrInvalidConfiguration)
	}
	cfg.ComputeDerived()

	dims := grid.NewDims(cfg.Domain.Resolution)
	g := grid.NewMAC(dims)
	s := &Sim{
		cfg:   cfg,
		scene: scene,
		dims:  dims,
		pool:  parallel.NewPool(cfg.Parallel.Workers, cfg.Parallel.Threshold),
		store: NewStore(),
		index: systems.NewIndex(dims),
		grid:  g,
		prev:  g.Faces().Clone(),
		solverOpts: solver.Options{
			MaxIterations: cfg.Solver.MaxIterations,
			Tolerance:     cfg.Solver.Tolerance,
			MICTuning:     cfg.Solver.MICTuning,
			MICSafety:     cfg.Solver.MICSafety,
			MinTheta:      cfg.Solver.MinTheta,
			Subcell:       cfg.Sim.Subcell,
		},
		perf:      telemetry.NewPerfCollector(cfg.Telemetry.PerfWindow),
		bookmarks: telemetry.NewBookmarkDetector(cfg.Telemetry.PerfWindow, dims.H()/cfg.Sim.StepSize),
	}
	return s, nil
}

// SetOutput routes step, perf and bookmark records and surface exports to om.
// A nil om disables file output.
func (s *Sim) SetOutput(om *telemetry.OutputManager) { s.output = om }

// SetMetrics turns publishing to the Prometheus collectors on or off.
func (s *Sim) SetMetrics(on bool) { s.metrics = on }

// Init calibrates the reference density, seeds particles from the scene and
// drops non-solid particles that start inside a solid cell.
func (s *Sim) Init() error {
	if s.ready {
		return ErrAlreadyInitialized
	}
	cfg := s.cfg

	s.maxDensity = systems.CalibrateDensity(s.dims, cfg.Domain.Density, s.pool)
	slog.Debug("calibrated density", "max_density", s.maxDensity)

	ps := s.scene.GenerateParticles(s.dims, cfg.Domain.Density)
	s.index.Sort(ps)
	s.index.MarkCellTypes(ps, s.grid.A, s.scene.SolidLevelSet(), cfg.Sim.WallThickness)

	kept := ps[:0]
	stuck := 0
	for _, p := range ps {
		if p.Kind != components.Solid && s.grid.A.At(s.dims.CellOf(p.Pos)) == components.Solid {
			stuck++
			continue
		}
		kept = append(kept, p)
	}
	s.store.AddAll(kept)

	s.ready = true
	slog.Info("initialized",
		"dims", s.dims.String(),
		"particles", s.store.Len(),
		"removed_in_solids", stuck,
		"max_density", s.maxDensity,
	)
	return nil
}

// Step advances the simulation by one step. A pressure solve that hits its
// iteration cap is logged and the step still completes.
func (s *Sim) Step() (telemetry.StepStats, error) {
	if !s.ready {
		return telemetry.StepStats{}, ErrNotInitialized
	}
	s.timestep++
	cfg := s.cfg
	dt := cfg.Sim.StepSize
	solid := s.scene.SolidLevelSet()

	s.perf.StartStep()
	ps := s.store.Snapshot(s.particles)
	s.particles = ps

	s.perf.StartPhase(telemetry.PhaseSort)
	s.index.Sort(ps)
	s.index.MarkCellTypes(ps, s.grid.A, solid, cfg.Sim.WallThickness)

	s.perf.StartPhase(telemetry.PhaseDensity)
	systems.ComputeDensity(ps, s.index, cfg.Domain.Density, s.maxDensity, s.pool)

	s.perf.StartPhase(telemetry.PhaseForces)
	g := cfg.Sim.Gravity
	systems.ApplyExternalForces(ps, r3.Vec{X: g[0], Y: g[1], Z: g[2]}, dt, s.pool)

	s.perf.StartPhase(telemetry.PhaseSplat)
	systems.Splat(ps, s.index, s.grid, s.pool)

	s.perf.StartPhase(telemetry.PhaseBoundary)
	systems.EnforceBoundaryVelocity(s.grid)
	s.prev.U.CopyFrom(s.grid.U)
	s.prev.V.CopyFrom(s.grid.V)
	s.prev.W.CopyFrom(s.grid.W)

	stats := telemetry.StepStats{Step: s.timestep, SimTime: float64(s.timestep) * dt}
	if err := s.project(ps, &stats); err != nil {
		return stats, fmt.Errorf("step %d: %w", s.timestep, err)
	}

	if cfg.Sim.Advect {
		s.perf.StartPhase(telemetry.PhaseGather)
		systems.ExtrapolateVelocity(s.grid.Faces(), s.grid.A, extrapolateLayers)
		systems.ExtrapolateVelocity(s.prev, s.grid.A, extrapolateLayers)
		systems.Gather(ps, s.grid, s.prev, cfg.Sim.FlipRatio, s.pool)

		s.perf.StartPhase(telemetry.PhaseAdvect)
		systems.Advect(ps, s.grid, dt, cfg.Sim.WallThickness, s.pool)
		pushed, err := systems.PushOutOfSolids(ps, solid, cfg.LevelSet.ProjectIters, surfaceTolerance)
		if err != nil {
			slog.Warn("solid push-out incomplete", "step", s.timestep, "pushed", pushed, "error", err)
		}
		stats.PushedOut = pushed
	}

	s.store.Apply(ps)
	stats.Removed = s.store.RemoveInvalid()
	stats.StepUS = s.perf.EndStep().Microseconds()

	s.summarize(ps, &stats)
	s.recordTelemetry(stats)
	return stats, nil
}

// Timestep returns the number of completed steps.
func (s *Sim) Timestep() int { return s.timestep }

// MaxDensity returns the calibrated reference density, 0 before Init.
func (s *Sim) MaxDensity() float64 { return s.maxDensity }

// Dims returns the grid resolution.
func (s *Sim) Dims() grid.Dims { return s.dims }

// Config returns the configuration the simulation was built with.
func (s *Sim) Config() *config.Config { return s.cfg }

// Particles returns a snapshot of the current particles.
func (s *Sim) Particles() []systems.Particle {
	return s.store.Snapshot(nil)
}

// Grid returns the MAC grid. It reflects the state after the last step.
func (s *Sim) Grid() *grid.MAC { return s.grid }

// Scene returns the borrowed scene.
func (s *Sim) Scene() Scene { return s.scene }

// LiquidLevelSet returns the liquid surface rebuilt from particles in the
// last step, nil before the first step.
func (s *Sim) LiquidLevelSet() *levelset.LevelSet { return s.liquid }

// IsCellFluid reports whether cell (i, j, k) is inside the scene's liquid and
// outside its solid. Out-of-range cells are not fluid.
func (s *Sim) IsCellFluid(i, j, k int) bool {
	liquid, solid := s.scene.LiquidLevelSet(), s.scene.SolidLevelSet()
	if liquid == nil {
		return false
	}
	lv, err := liquid.Cell(i, j, k)
	if err != nil || lv >= 0 {
		return false
	}
	if solid == nil {
		return true
	}
	sv, err := solid.Cell(i, j, k)
	return err == nil && sv >= 0
}

// Perf returns the step timing collector.
func (s *Sim) Perf() *telemetry.PerfCollector { return s.perf }

// Close stops the worker pool.
func (s *Sim) Close() {
	s.pool.Close()
}
