package sim

import (
	"errors"
	"log/slog"

	"github.com/pthm-cable/flip/components"
	"github.com/pthm-cable/flip/levelset"
	"github.com/pthm-cable/flip/solver"
	"github.com/pthm-cable/flip/systems"
	"github.com/pthm-cable/flip/telemetry"
)

// project makes the grid velocity divergence free over fluid cells: compute
// divergence, rebuild the liquid level set from particles, solve for
// pressure and subtract its gradient.
func (s *Sim) project(ps []systems.Particle, stats *telemetry.StepStats) error {
	cfg := s.cfg

	s.perf.StartPhase(telemetry.PhaseDivergence)
	s.grid.ComputeDivergence(s.pool)
	stats.DivergenceBefore = s.grid.MaxDivergence(components.Fluid)

	s.perf.StartPhase(telemetry.PhaseLevelSet)
	s.liquid = levelset.FromParticles(systems.Liquid(ps), s.dims, float64(s.dims.Max()), levelset.ParticleOptions{
		Radius:   cfg.LevelSet.ParticleRadius,
		Band:     cfg.LevelSet.BandWidth,
		Velocity: true,
	}, s.pool)
	stats.LiquidVoxels = s.liquid.ActiveVoxels()

	s.perf.StartPhase(telemetry.PhaseSolve)
	res, err := solver.Project(s.grid, s.liquid, s.solverOpts)
	stats.FluidCells = res.Cells
	stats.SolverIters = res.Iterations
	stats.SolverResidual = res.Residual
	stats.Converged = err == nil
	switch {
	case errors.Is(err, solver.ErrNotConverged):
		slog.Warn("pressure solve did not converge",
			"step", s.timestep,
			"cells", res.Cells,
			"iterations", res.Iterations,
			"residual", res.Residual,
		)
	case err != nil:
		return err
	}
	stats.DivergenceAfter = s.grid.MaxDivergence(components.Fluid)

	slog.Debug("projected",
		"step", s.timestep,
		"cells", res.Cells,
		"iterations", res.Iterations,
		"div_before", stats.DivergenceBefore,
		"div_after", stats.DivergenceAfter,
	)
	return nil
}
