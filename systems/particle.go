// Package systems provides the per-step particle and grid passes of the
// simulation: spatial sorting, density estimation, forces, particle/grid
// transfers and advection.
package systems

import (
	"github.com/mlange-42/ark/ecs"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/flip/components"
)

// Particle is a flat working copy of one particle entity. Passes operate on
// a []Particle snapshot taken from the store at the start of a step and
// written back at the end.
type Particle struct {
	Entity  ecs.Entity
	Pos     r3.Vec // Normalized domain position
	Vel     r3.Vec
	Mass    float64
	Density float64
	Kind    components.Kind
	Invalid bool
}

// Active returns true for valid fluid particles, the ones that move.
func (p *Particle) Active() bool {
	return p.Kind == components.Fluid && !p.Invalid
}

// Liquid adapts a particle slice to the level set builder. Only active fluid
// particles contribute to the liquid surface.
type Liquid []Particle

// Len returns the number of particles.
func (l Liquid) Len() int { return len(l) }

// Particle returns the position, velocity and contribution flag of particle n.
func (l Liquid) Particle(n int) (pos, vel r3.Vec, valid bool) {
	p := &l[n]
	return p.Pos, p.Vel, p.Active()
}
