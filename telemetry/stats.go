package telemetry

import (
	"log/slog"
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// StepStats summarizes one simulation step.
type StepStats struct {
	Step    int     `csv:"step"`
	SimTime float64 `csv:"sim_time"`

	// Population at step end
	Particles  int `csv:"particles"`
	Fluid      int `csv:"fluid"`
	FluidCells int `csv:"fluid_cells"`
	Removed    int `csv:"removed"`    // Invalid particles dropped this step
	PushedOut  int `csv:"pushed_out"` // Particles projected out of solids

	// Pressure solve
	SolverIters      int     `csv:"solver_iters"`
	SolverResidual   float64 `csv:"solver_residual"`
	Converged        bool    `csv:"converged"`
	DivergenceBefore float64 `csv:"div_before"` // Max |div| over fluid cells
	DivergenceAfter  float64 `csv:"div_after"`

	// Normalized density distribution over fluid particles
	DensityMean float64 `csv:"density_mean"`
	DensityP10  float64 `csv:"density_p10"`
	DensityP50  float64 `csv:"density_p50"`
	DensityP90  float64 `csv:"density_p90"`

	// Particle speed
	SpeedMean float64 `csv:"speed_mean"`
	SpeedMax  float64 `csv:"speed_max"`

	LiquidVoxels int   `csv:"liquid_voxels"`
	StepUS       int64 `csv:"step_us"`
}

// Percentile calculates the p-th percentile of a sorted slice.
// p should be in [0, 1]. Returns 0 if slice is empty.
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[n-1]
	}

	// Linear interpolation
	idx := p * float64(n-1)
	lo := int(idx)
	hi := lo + 1
	if hi >= n {
		return sorted[n-1]
	}

	frac := idx - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// Distribution calculates mean and percentiles of values. values is not modified.
func Distribution(values []float64) (mean, p10, p50, p90 float64) {
	if len(values) == 0 {
		return 0, 0, 0, 0
	}
	mean = stat.Mean(values, nil)

	sorted := slices.Clone(values)
	slices.Sort(sorted)

	p10 = Percentile(sorted, 0.10)
	p50 = Percentile(sorted, 0.50)
	p90 = Percentile(sorted, 0.90)
	return mean, p10, p50, p90
}

// MeanMax returns the mean and maximum of values, zeros when empty.
func MeanMax(values []float64) (mean, maxv float64) {
	if len(values) == 0 {
		return 0, 0
	}
	return stat.Mean(values, nil), floats.Max(values)
}

// LogValue implements slog.LogValuer for structured logging.
func (s StepStats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("step", s.Step),
		slog.Float64("sim_time", s.SimTime),
		slog.Int("particles", s.Particles),
		slog.Int("fluid", s.Fluid),
		slog.Int("fluid_cells", s.FluidCells),
		slog.Int("removed", s.Removed),
		slog.Int("pushed_out", s.PushedOut),
		slog.Int("solver_iters", s.SolverIters),
		slog.Float64("solver_residual", s.SolverResidual),
		slog.Bool("converged", s.Converged),
		slog.Float64("div_before", s.DivergenceBefore),
		slog.Float64("div_after", s.DivergenceAfter),
		slog.Float64("density_mean", s.DensityMean),
		slog.Float64("density_p10", s.DensityP10),
		slog.Float64("density_p50", s.DensityP50),
		slog.Float64("density_p90", s.DensityP90),
		slog.Float64("speed_mean", s.SpeedMean),
		slog.Float64("speed_max", s.SpeedMax),
		slog.Int("liquid_voxels", s.LiquidVoxels),
		slog.Int64("step_us", s.StepUS),
	)
}

// LogStats logs the step stats using slog.
func (s StepStats) LogStats() {
	slog.Info("step",
		"step", s.Step,
		"sim_time", s.SimTime,
		"particles", s.Particles,
		"fluid_cells", s.FluidCells,
		"removed", s.Removed,
		"solver_iters", s.SolverIters,
		"solver_residual", s.SolverResidual,
		"converged", s.Converged,
		"div_after", s.DivergenceAfter,
		"density_p50", s.DensityP50,
		"speed_max", s.SpeedMax,
		"step_us", s.StepUS,
	)
}
