package systems

import (
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/flip/parallel"
)

// ApplyExternalForces accelerates fluid particles by a uniform acceleration
// over one timestep.
func ApplyExternalForces(ps []Particle, accel r3.Vec, dt float64, pool *parallel.Pool) {
	dv := r3.Scale(dt, accel)
	pool.Run(len(ps), func(start, end, _ int) {
		for n := start; n < end; n++ {
			if ps[n].Active() {
				ps[n].Vel = r3.Add(ps[n].Vel, dv)
			}
		}
	})
}
