package components

// Body holds the mass properties of a particle.
type Body struct {
	Mass    float64
	Density float64 // Normalized by the calibrated reference density
}
