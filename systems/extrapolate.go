package systems

import (
	"github.com/pthm-cable/flip/components"
	"github.com/pthm-cable/flip/grid"
)

// ExtrapolateVelocity fills face velocities in air next to the fluid, one
// layer of faces per pass, with the mean of already known neighbours along
// the same component. Faces between two fluid cells or a fluid and an air
// cell are known. Faces touching a solid or the domain wall are never
// written. Faces more than layers away from the fluid keep their values.
func ExtrapolateVelocity(f grid.Faces, types *grid.CellTypes, layers int) {
	extrapolateAxis(f.U, types, 1, 0, 0, layers)
	extrapolateAxis(f.V, types, 0, 1, 0, layers)
	extrapolateAxis(f.W, types, 0, 0, 1, layers)
}

const (
	faceUnknown uint8 = iota
	faceKnown
	faceFixed
)

type faceUpdate struct {
	idx int
	v   float64
}

func extrapolateAxis(f *grid.Field, types *grid.CellTypes, di, dj, dk, layers int) {
	state := make([]uint8, len(f.Data))
	for k := 0; k < f.Z; k++ {
		for j := 0; j < f.Y; j++ {
			for i := 0; i < f.X; i++ {
				a := types.KindOr(i-di, j-dj, k-dk, components.Solid)
				b := types.KindOr(i, j, k, components.Solid)
				switch {
				case a == components.Solid || b == components.Solid:
					state[f.Idx(i, j, k)] = faceFixed
				case a == components.Fluid || b == components.Fluid:
					state[f.Idx(i, j, k)] = faceKnown
				}
			}
		}
	}

	var updates []faceUpdate
	for layer := 0; layer < layers; layer++ {
		updates = updates[:0]
		for k := 0; k < f.Z; k++ {
			for j := 0; j < f.Y; j++ {
				for i := 0; i < f.X; i++ {
					idx := f.Idx(i, j, k)
					if state[idx] != faceUnknown {
						continue
					}
					sum, n := 0.0, 0
					for _, o := range neighbours6 {
						x, y, z := i+o[0], j+o[1], k+o[2]
						if !f.Contains(x, y, z) {
							continue
						}
						if nidx := f.Idx(x, y, z); state[nidx] == faceKnown {
							sum += f.Data[nidx]
							n++
						}
					}
					if n > 0 {
						updates = append(updates, faceUpdate{idx: idx, v: sum / float64(n)})
					}
				}
			}
		}
		if len(updates) == 0 {
			return
		}
		for _, u := range updates {
			f.Data[u.idx] = u.v
			state[u.idx] = faceKnown
		}
	}
}

var neighbours6 = [6][3]int{
	{-1, 0, 0}, {1, 0, 0},
	{0, -1, 0}, {0, 1, 0},
	{0, 0, -1}, {0, 0, 1},
}
