// Package config provides configuration loading and access for the simulation.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// ErrInvalidConfiguration is returned when a configuration value makes the
// simulation impossible to construct.
var ErrInvalidConfiguration = errors.New("invalid configuration")

// Config holds all simulation configuration parameters.
type Config struct {
	Domain    DomainConfig    `yaml:"domain"`
	Sim       SimConfig       `yaml:"sim"`
	Solver    SolverConfig    `yaml:"solver"`
	LevelSet  LevelSetConfig  `yaml:"levelset"`
	Parallel  ParallelConfig  `yaml:"parallel"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Export    ExportConfig    `yaml:"export"`

	// Derived values computed after loading
	Derived DerivedConfig `yaml:"-"`
}

// DomainConfig describes the simulated box.
type DomainConfig struct {
	Resolution [3]int  `yaml:"resolution"` // Cells along x, y, z
	Density    float64 `yaml:"density"`    // Particle spacing in cells (0.5 = two particles per cell edge)
}

// SimConfig holds per-step pipeline parameters.
type SimConfig struct {
	StepSize      float64    `yaml:"step_size"`
	Gravity       [3]float64 `yaml:"gravity"`
	Subcell       bool       `yaml:"subcell"`        // Ghost-fluid free surface in the pressure solve
	FlipRatio     float64    `yaml:"flip_ratio"`     // 1 = pure FLIP, 0 = pure PIC
	Advect        bool       `yaml:"advect"`         // Gather and advect after projection
	WallThickness int        `yaml:"wall_thickness"` // Boundary cells marked solid
}

// SolverConfig holds pressure solve parameters.
type SolverConfig struct {
	MaxIterations int     `yaml:"max_iterations"`
	Tolerance     float64 `yaml:"tolerance"`  // Relative to the largest right-hand side entry
	MICTuning     float64 `yaml:"mic_tuning"` // Modified incomplete Cholesky blend factor
	MICSafety     float64 `yaml:"mic_safety"` // Pivot floor as a fraction of the diagonal
	MinTheta      float64 `yaml:"min_theta"`  // Clamp for subcell surface fractions
}

// LevelSetConfig holds level-set construction parameters.
type LevelSetConfig struct {
	ParticleRadius float64 `yaml:"particle_radius"` // Sphere radius per particle, in voxels
	BandWidth      float64 `yaml:"band_width"`      // Narrow band half-width, in voxels
	ProjectIters   int     `yaml:"project_iters"`   // Newton iterations for surface projection
}

// ParallelConfig holds worker pool parameters.
type ParallelConfig struct {
	Workers   int `yaml:"workers"`   // 0 = GOMAXPROCS
	Threshold int `yaml:"threshold"` // Below this many items run single-threaded
}

// TelemetryConfig holds telemetry parameters.
type TelemetryConfig struct {
	PerfWindow int `yaml:"perf_window"` // Steps averaged by the perf collector
	LogEvery   int `yaml:"log_every"`   // Log step stats every N steps (0 = never)
}

// ExportConfig holds surface export parameters.
type ExportConfig struct {
	Every     int    `yaml:"every"`      // Export every N steps (0 = never)
	MeshCells int    `yaml:"mesh_cells"` // Marching cubes cells along the longest axis (0 = 2x resolution)
	Format    string `yaml:"format"`     // "obj" or "stl"
	Volume    bool   `yaml:"volume"`     // Also write the sparse volume
}

// DerivedConfig holds values computed from other config fields.
type DerivedConfig struct {
	MaxDim   int     // Largest resolution component
	CellSize float64 // 1 / MaxDim
}

// global holds the loaded configuration.
var global *Config

// Init loads configuration from the given path, or uses embedded defaults if path is empty.
// Must be called before Cfg().
func Init(path string) error {
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	global = cfg
	return nil
}

// Cfg returns the global configuration. Panics if Init was not called.
func Cfg() *Config {
	if global == nil {
		panic("config: Cfg() called before Init()")
	}
	return global
}

// Defaults returns a fresh copy of the embedded defaults.
func Defaults() *Config {
	cfg, err := Load("")
	if err != nil {
		panic(fmt.Sprintf("config: embedded defaults are broken: %v", err))
	}
	return cfg
}

// DefaultsYAML returns the embedded defaults file.
func DefaultsYAML() []byte {
	return defaultsYAML
}

// Load loads configuration from a YAML file, merging with embedded defaults.
// If path is empty, only embedded defaults are used.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded defaults: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Unmarshal into same struct - only overwrites fields present in file
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.ComputeDerived()

	return cfg, nil
}

// Validate reports the first value that makes the configuration unusable.
// The returned error wraps ErrInvalidConfiguration.
func (c *Config) Validate() error {
	for axis, n := range c.Domain.Resolution {
		if n <= 0 {
			return fmt.Errorf("%w: domain.resolution[%d] = %d, must be positive",
				ErrInvalidConfiguration, axis, n)
		}
	}
	if c.Domain.Density <= 0 {
		return fmt.Errorf("%w: domain.density = %g, must be positive",
			ErrInvalidConfiguration, c.Domain.Density)
	}
	if c.Sim.StepSize <= 0 {
		return fmt.Errorf("%w: sim.step_size = %g, must be positive",
			ErrInvalidConfiguration, c.Sim.StepSize)
	}
	if c.Sim.FlipRatio < 0 || c.Sim.FlipRatio > 1 {
		return fmt.Errorf("%w: sim.flip_ratio = %g, must be in [0, 1]",
			ErrInvalidConfiguration, c.Sim.FlipRatio)
	}
	if c.Sim.WallThickness < 0 {
		return fmt.Errorf("%w: sim.wall_thickness = %d, must not be negative",
			ErrInvalidConfiguration, c.Sim.WallThickness)
	}
	if c.Solver.MaxIterations <= 0 {
		return fmt.Errorf("%w: solver.max_iterations = %d, must be positive",
			ErrInvalidConfiguration, c.Solver.MaxIterations)
	}
	if c.Solver.Tolerance <= 0 {
		return fmt.Errorf("%w: solver.tolerance = %g, must be positive",
			ErrInvalidConfiguration, c.Solver.Tolerance)
	}
	if c.LevelSet.BandWidth <= 0 {
		return fmt.Errorf("%w: levelset.band_width = %g, must be positive",
			ErrInvalidConfiguration, c.LevelSet.BandWidth)
	}
	switch c.Export.Format {
	case "", "obj", "stl":
	default:
		return fmt.Errorf("%w: export.format = %q, want obj or stl",
			ErrInvalidConfiguration, c.Export.Format)
	}
	return nil
}

// ComputeDerived calculates values derived from loaded config.
// Call it again after changing Domain.Resolution in code.
func (c *Config) ComputeDerived() {
	maxd := 0
	for _, n := range c.Domain.Resolution {
		maxd = max(maxd, n)
	}
	c.Derived.MaxDim = maxd
	if maxd > 0 {
		c.Derived.CellSize = 1 / float64(maxd)
	}
	if c.Export.MeshCells == 0 {
		c.Export.MeshCells = 2 * maxd
	}
	if c.Export.Format == "" {
		c.Export.Format = "obj"
	}
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
