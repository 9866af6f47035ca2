package telemetry

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	stepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "flip_step_duration_seconds",
		Help:    "Wall time of one simulation step",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})

	phaseDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "flip_phase_duration_seconds",
		Help:    "Average wall time of a step phase over the perf window",
		Buckets: []float64{0.0001, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
	}, []string{"phase"}) // Bounded: the Phases list

	particleCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "flip_particles",
		Help: "Current number of particles",
	})

	fluidCells = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "flip_fluid_cells",
		Help: "Grid cells marked fluid in the last step",
	})

	solverIterations = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "flip_solver_iterations",
		Help:    "Conjugate gradient iterations per pressure solve",
		Buckets: prometheus.ExponentialBuckets(1, 2, 11),
	})

	solverResidual = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "flip_solver_residual",
		Help: "Relative residual of the last pressure solve",
	})

	solverFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flip_solver_not_converged_total",
		Help: "Pressure solves that hit the iteration cap",
	})

	removedParticles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flip_removed_particles_total",
		Help: "Particles dropped for non-finite state",
	})
)

// RecordStep publishes one step's stats to the Prometheus collectors.
func RecordStep(s StepStats) {
	stepDuration.Observe(float64(s.StepUS) / 1e6)
	particleCount.Set(float64(s.Particles))
	fluidCells.Set(float64(s.FluidCells))
	if s.FluidCells > 0 {
		solverIterations.Observe(float64(s.SolverIters))
		solverResidual.Set(s.SolverResidual)
	}
	if !s.Converged {
		solverFailures.Inc()
	}
	removedParticles.Add(float64(s.Removed))
}

// RecordPerf publishes the per-phase averages of a perf window.
func RecordPerf(s PerfStats) {
	for phase, d := range s.PhaseAvg {
		phaseDuration.WithLabelValues(phase).Observe(d.Seconds())
	}
}

// ServeMetrics starts an HTTP server exposing /metrics on addr in the
// background. Shut it down with Close.
func ServeMetrics(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		slog.Info("metrics server starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", "error", err)
		}
	}()
	return srv
}
