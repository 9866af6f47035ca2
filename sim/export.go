package sim

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/pthm-cable/flip/levelset"
)

// ExportSurface writes the current liquid surface to base plus the configured
// mesh extension and, when enabled, the sparse volume to base+".flvs".
// A liquid without a surface still produces an empty mesh file.
func (s *Sim) ExportSurface(base string) error {
	if s.liquid == nil {
		return fmt.Errorf("export %s: %w", base, ErrNotInitialized)
	}
	cfg := s.cfg

	meshPath := base + "." + cfg.Export.Format
	err := s.liquid.WriteMesh(meshPath, cfg.Export.MeshCells)
	switch {
	case errors.Is(err, levelset.ErrDegenerateSurface):
		slog.Warn("liquid has no surface, wrote empty mesh", "path", meshPath)
	case err != nil:
		return fmt.Errorf("export mesh: %w", err)
	}

	if cfg.Export.Volume {
		if err := s.liquid.SaveVolume(base + ".flvs"); err != nil {
			return fmt.Errorf("export volume: %w", err)
		}
	}

	slog.Debug("exported surface", "step", s.timestep, "base", base)
	return nil
}
