package telemetry

import (
	"fmt"
	"log/slog"
)

// BookmarkType identifies the type of bookmark.
type BookmarkType string

const (
	BookmarkSolverStalled   BookmarkType = "solver_stalled"
	BookmarkDivergenceSpike BookmarkType = "divergence_spike"
	BookmarkParticleLoss    BookmarkType = "particle_loss"
	BookmarkCFLExceeded     BookmarkType = "cfl_exceeded"
	BookmarkVolumeLoss      BookmarkType = "volume_loss"
)

// Bookmark represents an automatically flagged step.
type Bookmark struct {
	Type        BookmarkType `csv:"type"`
	Step        int          `csv:"step"`
	Description string       `csv:"description"`
}

// LogBookmark logs the bookmark using slog.
func (b Bookmark) LogBookmark() {
	slog.Warn("bookmark",
		"type", string(b.Type),
		"step", b.Step,
		"description", b.Description,
	)
}

// BookmarkDetector flags steps where the simulation misbehaves.
type BookmarkDetector struct {
	// Rolling history (circular buffer)
	history     []StepStats
	historySize int
	historyIdx  int
	historyFull bool

	cflSpeed       float64 // Speed that crosses one cell per step
	peakFluidCells int     // Largest fluid cell count seen so far
}

// NewBookmarkDetector creates a detector with the given history size.
// cflSpeed is h/dt; steps whose fastest particle exceeds it are flagged.
// Zero disables that check.
func NewBookmarkDetector(historySize int, cflSpeed float64) *BookmarkDetector {
	if historySize < 3 {
		historySize = 3 // minimum for a meaningful rolling average
	}
	return &BookmarkDetector{
		history:     make([]StepStats, historySize),
		historySize: historySize,
		cflSpeed:    cflSpeed,
	}
}

// Check analyzes the latest stats and returns any triggered bookmarks.
func (bd *BookmarkDetector) Check(stats StepStats) []Bookmark {
	var bookmarks []Bookmark

	if !stats.Converged {
		bookmarks = append(bookmarks, Bookmark{
			Type:        BookmarkSolverStalled,
			Step:        stats.Step,
			Description: fmt.Sprintf("Pressure solve stopped at %d iterations, residual %.3g", stats.SolverIters, stats.SolverResidual),
		})
	}

	if b := bd.checkDivergenceSpike(stats); b != nil {
		bookmarks = append(bookmarks, *b)
	}

	// Particle loss: more than 1% removed in one step
	if stats.Removed > 0 && stats.Removed*100 > stats.Particles+stats.Removed {
		bookmarks = append(bookmarks, Bookmark{
			Type:        BookmarkParticleLoss,
			Step:        stats.Step,
			Description: fmt.Sprintf("Removed %d of %d particles", stats.Removed, stats.Particles+stats.Removed),
		})
	}

	if bd.cflSpeed > 0 && stats.SpeedMax > bd.cflSpeed {
		bookmarks = append(bookmarks, Bookmark{
			Type:        BookmarkCFLExceeded,
			Step:        stats.Step,
			Description: fmt.Sprintf("Max speed %.3g crosses %.1f cells per step", stats.SpeedMax, stats.SpeedMax/bd.cflSpeed),
		})
	}

	if b := bd.checkVolumeLoss(stats); b != nil {
		bookmarks = append(bookmarks, *b)
	}

	bd.addToHistory(stats)
	if stats.FluidCells > bd.peakFluidCells {
		bd.peakFluidCells = stats.FluidCells
	}

	return bookmarks
}

func (bd *BookmarkDetector) addToHistory(stats StepStats) {
	bd.history[bd.historyIdx] = stats
	bd.historyIdx = (bd.historyIdx + 1) % bd.historySize
	if bd.historyIdx == 0 {
		bd.historyFull = true
	}
}

func (bd *BookmarkDetector) getHistory() []StepStats {
	if bd.historyFull {
		return bd.history
	}
	return bd.history[:bd.historyIdx]
}

// checkDivergenceSpike flags a post-projection divergence more than 10x the
// rolling average.
func (bd *BookmarkDetector) checkDivergenceSpike(stats StepStats) *Bookmark {
	history := bd.getHistory()
	if len(history) < 3 {
		return nil
	}

	var sum float64
	for _, h := range history {
		sum += h.DivergenceAfter
	}
	avg := sum / float64(len(history))
	if avg <= 0 {
		return nil
	}

	if stats.DivergenceAfter > avg*10 {
		return &Bookmark{
			Type:        BookmarkDivergenceSpike,
			Step:        stats.Step,
			Description: fmt.Sprintf("Divergence %.3g is %.1fx average (%.3g)", stats.DivergenceAfter, stats.DivergenceAfter/avg, avg),
		}
	}
	return nil
}

// checkVolumeLoss flags a fluid cell count more than 30% below its peak.
func (bd *BookmarkDetector) checkVolumeLoss(stats StepStats) *Bookmark {
	if bd.peakFluidCells == 0 {
		return nil
	}
	if float64(stats.FluidCells) < float64(bd.peakFluidCells)*0.7 {
		return &Bookmark{
			Type:        BookmarkVolumeLoss,
			Step:        stats.Step,
			Description: fmt.Sprintf("Fluid cells %d dropped from peak %d", stats.FluidCells, bd.peakFluidCells),
		}
	}
	return nil
}
