// Package components defines ECS components for simulation particles.
package components

// Kind classifies particles and grid cells.
type Kind uint8

const (
	Empty Kind = iota // Air, nothing occupies the cell
	Fluid
	Solid
)

// String returns the lowercase name of the kind.
func (k Kind) String() string {
	switch k {
	case Empty:
		return "empty"
	case Fluid:
		return "fluid"
	case Solid:
		return "solid"
	default:
		return "unknown"
	}
}

// Material tags what a particle is and whether it is pending removal.
type Material struct {
	Kind    Kind
	Invalid bool // Set by any pass that finds the particle unusable; removed at step end
}
