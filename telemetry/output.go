package telemetry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gocarina/gocsv"

	"github.com/pthm-cable/flip/config"
)

// Run directory layout.
const (
	stepsLog     = "steps.csv"
	perfLog      = "perf.csv"
	bookmarksLog = "bookmarks.csv"
	configFile   = "config.yaml"
	framePrefix  = "liquid_"
	finalFrame   = "liquid_final"
)

// csvLog appends records to one CSV file, writing the header with the
// first record only.
type csvLog struct {
	f      *os.File
	header bool
}

func openLog(dir, name string) (*csvLog, error) {
	f, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", name, err)
	}
	return &csvLog{f: f}, nil
}

func (l *csvLog) append(records any) error {
	if l.header {
		return gocsv.MarshalWithoutHeaders(records, l.f)
	}
	if err := gocsv.Marshal(records, l.f); err != nil {
		return err
	}
	l.header = true
	return nil
}

// OutputManager owns a run directory: the step, perf and bookmark logs, the
// config snapshot and the paths of exported surfaces. A nil *OutputManager
// is valid and writes nothing.
type OutputManager struct {
	dir       string
	steps     *csvLog
	perf      *csvLog
	bookmarks *csvLog
}

// NewOutputManager creates dir and its logs. It returns nil for an empty dir.
func NewOutputManager(dir string) (*OutputManager, error) {
	if dir == "" {
		return nil, nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	om := &OutputManager{dir: dir}
	for _, l := range []struct {
		name string
		dst  **csvLog
	}{
		{stepsLog, &om.steps},
		{perfLog, &om.perf},
		{bookmarksLog, &om.bookmarks},
	} {
		log, err := openLog(dir, l.name)
		if err != nil {
			om.Close()
			return nil, err
		}
		*l.dst = log
	}
	return om, nil
}

// WriteConfig snapshots cfg into the run directory.
func (om *OutputManager) WriteConfig(cfg *config.Config) error {
	if om == nil {
		return nil
	}
	return cfg.WriteYAML(filepath.Join(om.dir, configFile))
}

// WriteStep appends one row to the step log.
func (om *OutputManager) WriteStep(stats StepStats) error {
	if om == nil {
		return nil
	}
	if err := om.steps.append([]StepStats{stats}); err != nil {
		return fmt.Errorf("writing step stats: %w", err)
	}
	return nil
}

// WritePerf appends the window ending at step to the perf log.
func (om *OutputManager) WritePerf(stats PerfStats, step int) error {
	if om == nil {
		return nil
	}
	if err := om.perf.append([]PerfStatsCSV{stats.ToCSV(step)}); err != nil {
		return fmt.Errorf("writing perf: %w", err)
	}
	return nil
}

// WriteBookmark appends b to the bookmark log.
func (om *OutputManager) WriteBookmark(b Bookmark) error {
	if om == nil {
		return nil
	}
	if err := om.bookmarks.append([]Bookmark{b}); err != nil {
		return fmt.Errorf("writing bookmark: %w", err)
	}
	return nil
}

// Path returns name inside the run directory, or "" when output is disabled.
func (om *OutputManager) Path(name string) string {
	if om == nil {
		return ""
	}
	return filepath.Join(om.dir, name)
}

// FrameBase is the extensionless path of the surface exported after step.
func (om *OutputManager) FrameBase(step int) string {
	return om.Path(fmt.Sprintf("%s%05d", framePrefix, step))
}

// FinalBase is the extensionless path of the surface exported when the run
// ends.
func (om *OutputManager) FinalBase() string {
	return om.Path(finalFrame)
}

// Close closes every log and returns the joined errors.
func (om *OutputManager) Close() error {
	if om == nil {
		return nil
	}
	var errs []error
	for _, l := range []*csvLog{om.steps, om.perf, om.bookmarks} {
		if l != nil {
			errs = append(errs, l.f.Close())
		}
	}
	return errors.Join(errs...)
}
