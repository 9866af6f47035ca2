package sim

import (
	"github.com/mlange-42/ark/ecs"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/flip/components"
	"github.com/pthm-cable/flip/systems"
)

// Store owns the particle entities.
type Store struct {
	world *ecs.World

	// Entity mapper for creating particles with all components
	mapper *ecs.Map4[
		components.Position,
		components.Velocity,
		components.Body,
		components.Material,
	]

	// Filter for iterating all particles
	filter *ecs.Filter4[
		components.Position,
		components.Velocity,
		components.Body,
		components.Material,
	]

	count int
}

// NewStore creates an empty particle store.
func NewStore() *Store {
	world := ecs.NewWorld()
	return &Store{
		world: world,
		mapper: ecs.NewMap4[
			components.Position,
			components.Velocity,
			components.Body,
			components.Material,
		](world),
		filter: ecs.NewFilter4[
			components.Position,
			components.Velocity,
			components.Body,
			components.Material,
		](world),
	}
}

// Len returns the number of live particles.
func (s *Store) Len() int { return s.count }

// Add creates an entity for p and returns it.
func (s *Store) Add(p systems.Particle) ecs.Entity {
	pos := components.Position{X: p.Pos.X, Y: p.Pos.Y, Z: p.Pos.Z}
	vel := components.Velocity{X: p.Vel.X, Y: p.Vel.Y, Z: p.Vel.Z}
	body := components.Body{Mass: p.Mass, Density: p.Density}
	mat := components.Material{Kind: p.Kind, Invalid: p.Invalid}
	s.count++
	return s.mapper.NewEntity(&pos, &vel, &body, &mat)
}

// AddAll adds every particle in ps.
func (s *Store) AddAll(ps []systems.Particle) {
	for n := range ps {
		ps[n].Entity = s.Add(ps[n])
	}
}

// Snapshot appends a working copy of every particle to dst and returns it.
func (s *Store) Snapshot(dst []systems.Particle) []systems.Particle {
	dst = dst[:0]
	query := s.filter.Query()
	for query.Next() {
		pos, vel, body, mat := query.Get()
		dst = append(dst, systems.Particle{
			Entity:  query.Entity(),
			Pos:     r3.Vec{X: pos.X, Y: pos.Y, Z: pos.Z},
			Vel:     r3.Vec{X: vel.X, Y: vel.Y, Z: vel.Z},
			Mass:    body.Mass,
			Density: body.Density,
			Kind:    mat.Kind,
			Invalid: mat.Invalid,
		})
	}
	return dst
}

// Apply writes the working copies back to their entities.
func (s *Store) Apply(ps []systems.Particle) {
	for n := range ps {
		p := &ps[n]
		pos, vel, body, mat := s.mapper.Get(p.Entity)
		pos.X, pos.Y, pos.Z = p.Pos.X, p.Pos.Y, p.Pos.Z
		vel.X, vel.Y, vel.Z = p.Vel.X, p.Vel.Y, p.Vel.Z
		body.Mass, body.Density = p.Mass, p.Density
		mat.Kind, mat.Invalid = p.Kind, p.Invalid
	}
}

// RemoveInvalid deletes every particle flagged invalid and returns how many
// were removed.
func (s *Store) RemoveInvalid() int {
	return s.removeWhere(func(mat *components.Material) bool { return mat.Invalid })
}

func (s *Store) removeWhere(drop func(mat *components.Material) bool) int {
	// Collect first, entities cannot be removed while a query is open
	var doomed []ecs.Entity
	query := s.filter.Query()
	for query.Next() {
		_, _, _, mat := query.Get()
		if drop(mat) {
			doomed = append(doomed, query.Entity())
		}
	}
	for _, e := range doomed {
		s.world.RemoveEntity(e)
	}
	s.count -= len(doomed)
	return len(doomed)
}
