package components

// Position is a particle position in the normalized unit domain.
type Position struct {
	X, Y, Z float64
}

// Velocity is a particle velocity in domain units per second.
type Velocity struct {
	X, Y, Z float64
}
