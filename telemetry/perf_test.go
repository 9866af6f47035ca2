package telemetry

import (
	"math"
	"testing"
	"time"
)

func TestPerfCollector_BasicTiming(t *testing.T) {
	pc := NewPerfCollector(10)

	// Simulate a few steps
	for i := 0; i < 5; i++ {
		pc.StartStep()
		pc.StartPhase(PhaseSort)
		time.Sleep(100 * time.Microsecond)
		pc.StartPhase(PhaseSolve)
		time.Sleep(200 * time.Microsecond)
		pc.EndStep()
	}

	stats := pc.Stats()

	// Verify we got timing data
	if stats.AvgStepDuration <= 0 {
		t.Error("expected positive average step duration")
	}

	if _, ok := stats.PhaseAvg[PhaseSort]; !ok {
		t.Error("expected sort phase to be tracked")
	}

	if _, ok := stats.PhaseAvg[PhaseSolve]; !ok {
		t.Error("expected solve phase to be tracked")
	}
}

func TestPerfCollector_RollingWindow(t *testing.T) {
	pc := NewPerfCollector(5) // Small window

	// Fill window completely
	for i := 0; i < 10; i++ {
		pc.StartStep()
		pc.StartPhase(PhaseSort)
		time.Sleep(10 * time.Microsecond)
		pc.EndStep()
	}

	stats := pc.Stats()

	if stats.AvgStepDuration <= 0 {
		t.Error("expected positive average step duration after window filled")
	}

	if stats.StepsPerSecond <= 0 {
		t.Error("expected positive steps per second")
	}
}

// fakeClock advances only when told to.
type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func TestPerfCollector_PhasePercentages(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	pc := NewPerfCollector(10)
	pc.now = clock.Now

	// Simulate with uneven phase durations
	for i := 0; i < 5; i++ {
		pc.StartStep()
		pc.StartPhase("fast")
		clock.Advance(10 * time.Microsecond)
		pc.StartPhase("slow")
		clock.Advance(490 * time.Microsecond)
		pc.EndStep()
	}

	stats := pc.Stats()

	if stats.AvgStepDuration != 500*time.Microsecond {
		t.Errorf("avg step = %v, want 500µs", stats.AvgStepDuration)
	}
	if got := stats.PhaseAvg["slow"]; got != 490*time.Microsecond {
		t.Errorf("slow phase avg = %v, want 490µs", got)
	}

	tests := []struct {
		phase string
		want  float64
	}{
		{"fast", 2},
		{"slow", 98},
	}
	for _, tt := range tests {
		if got := stats.PhasePct[tt.phase]; math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("%s phase = %v%%, want %v%%", tt.phase, got, tt.want)
		}
	}
}

func TestPerfCollector_EmptyStats(t *testing.T) {
	pc := NewPerfCollector(10)

	stats := pc.Stats()

	// Empty collector should return zero values without panicking
	if stats.AvgStepDuration != 0 {
		t.Error("expected zero avg step duration for empty collector")
	}

	if stats.PhaseAvg == nil {
		t.Error("expected non-nil PhaseAvg map")
	}

	if stats.PhasePct == nil {
		t.Error("expected non-nil PhasePct map")
	}
}

func TestPerfCollector_NilIsNoop(t *testing.T) {
	var pc *PerfCollector
	pc.StartStep()
	pc.StartPhase(PhaseAdvect)
	if d := pc.EndStep(); d != 0 {
		t.Errorf("nil collector returned %v", d)
	}
	if stats := pc.Stats(); stats.PhasePct == nil {
		t.Error("expected non-nil PhasePct map")
	}
}

func TestPerfStatsToCSV(t *testing.T) {
	s := PerfStats{
		AvgStepDuration: 2 * time.Millisecond,
		PhasePct:        map[string]float64{PhaseSolve: 40, PhaseLevelSet: 25},
	}
	row := s.ToCSV(7)
	if row.Step != 7 || row.AvgStepUS != 2000 {
		t.Errorf("row = %+v", row)
	}
	if row.SolvePct != 40 || row.LevelSetPct != 25 || row.SortPct != 0 {
		t.Errorf("phase columns = %+v", row)
	}
}
