package telemetry

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm-cable/flip/config"
)

func TestOutputManagerDisabled(t *testing.T) {
	om, err := NewOutputManager("")
	require.NoError(t, err)
	assert.Nil(t, om)

	// Every method is a no-op on nil
	assert.NoError(t, om.WriteStep(StepStats{}))
	assert.NoError(t, om.WritePerf(PerfStats{}, 1))
	assert.NoError(t, om.WriteBookmark(Bookmark{}))
	assert.NoError(t, om.WriteConfig(nil))
	assert.Equal(t, "", om.Path("x"))
	assert.Equal(t, "", om.FrameBase(3))
	assert.NoError(t, om.Close())
}

func TestOutputManagerWritesCSV(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "run")
	om, err := NewOutputManager(dir)
	require.NoError(t, err)

	require.NoError(t, om.WriteConfig(config.Defaults()))
	for step := 1; step <= 3; step++ {
		require.NoError(t, om.WriteStep(StepStats{Step: step, Particles: 10 * step, Converged: true}))
	}
	require.NoError(t, om.WritePerf(PerfStats{PhasePct: map[string]float64{PhaseSolve: 50}}, 3))
	require.NoError(t, om.WriteBookmark(Bookmark{Type: BookmarkSolverStalled, Step: 2, Description: "stalled"}))
	require.NoError(t, om.Close())

	data, err := os.ReadFile(filepath.Join(dir, "steps.csv"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 4, "header plus one row per step")
	assert.True(t, strings.HasPrefix(lines[0], "step,sim_time,particles"))
	assert.True(t, strings.HasPrefix(lines[3], "3,0,30"))

	data, err = os.ReadFile(filepath.Join(dir, "perf.csv"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "solve_pct")

	data, err = os.ReadFile(filepath.Join(dir, "bookmarks.csv"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "solver_stalled,2,stalled")

	_, err = os.Stat(filepath.Join(dir, "config.yaml"))
	assert.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "liquid.obj"), om.Path("liquid.obj"))
}

func TestOutputManagerFramePaths(t *testing.T) {
	dir := t.TempDir()
	om, err := NewOutputManager(dir)
	require.NoError(t, err)
	defer om.Close()

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"first step", om.FrameBase(1), "liquid_00001"},
		{"padded", om.FrameBase(240), "liquid_00240"},
		{"wide", om.FrameBase(123456), "liquid_123456"},
		{"final", om.FinalBase(), "liquid_final"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, filepath.Join(dir, tt.want), tt.got)
		})
	}
}

func TestOutputManagerCloseReportsErrors(t *testing.T) {
	om, err := NewOutputManager(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, om.steps.f.Close())
	assert.Error(t, om.Close(), "closing an already closed log")
}
