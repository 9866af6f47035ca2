package systems

// Smooth is the density kernel max(1 − r²/h², 0).
func Smooth(r2, h float64) float64 {
	return max(1-r2/(h*h), 0)
}

// Sharp is the splat kernel max(re²/r² − 1, 0). r² is floored at 1e-5 so a
// particle sitting on a sample point gets a large but finite weight.
func Sharp(r2, re float64) float64 {
	return max(re*re/max(r2, 1e-5)-1, 0)
}
