package sim

import (
	"log/slog"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/flip/components"
	"github.com/pthm-cable/flip/systems"
	"github.com/pthm-cable/flip/telemetry"
)

// summarize fills the particle-derived fields of stats from the step's
// working snapshot.
func (s *Sim) summarize(ps []systems.Particle, stats *telemetry.StepStats) {
	densities := make([]float64, 0, len(ps))
	speeds := make([]float64, 0, len(ps))
	for n := range ps {
		p := &ps[n]
		if p.Invalid {
			continue
		}
		stats.Particles++
		if p.Kind != components.Fluid {
			continue
		}
		stats.Fluid++
		densities = append(densities, p.Density)
		speeds = append(speeds, r3.Norm(p.Vel))
	}
	stats.DensityMean, stats.DensityP10, stats.DensityP50, stats.DensityP90 = telemetry.Distribution(densities)
	stats.SpeedMean, stats.SpeedMax = telemetry.MeanMax(speeds)
}

// recordTelemetry logs, writes and publishes one step's stats and flushes
// the perf window when it fills.
func (s *Sim) recordTelemetry(stats telemetry.StepStats) {
	cfg := s.cfg

	if cfg.Telemetry.LogEvery > 0 && s.timestep%cfg.Telemetry.LogEvery == 0 {
		stats.LogStats()
	}
	if err := s.output.WriteStep(stats); err != nil {
		slog.Error("failed to write step stats", "error", err)
	}

	for _, b := range s.bookmarks.Check(stats) {
		b.LogBookmark()
		if err := s.output.WriteBookmark(b); err != nil {
			slog.Error("failed to write bookmark", "error", err)
		}
	}

	if cfg.Telemetry.PerfWindow > 0 && s.timestep%cfg.Telemetry.PerfWindow == 0 {
		perfStats := s.perf.Stats()
		perfStats.LogStats()
		if err := s.output.WritePerf(perfStats, s.timestep); err != nil {
			slog.Error("failed to write perf stats", "error", err)
		}
		if s.metrics {
			telemetry.RecordPerf(perfStats)
		}
	}

	if s.metrics {
		telemetry.RecordStep(stats)
	}

	if every := cfg.Export.Every; every > 0 && s.output != nil && s.timestep%every == 0 {
		if err := s.ExportSurface(s.output.FrameBase(s.timestep)); err != nil {
			slog.Error("failed to export surface", "step", s.timestep, "error", err)
		}
	}
}
