package optimizer

import (
	"math"

	"github.com/tsawler/go-audio-detector/layers"
)

// ClipGradNorm rescales gradients in place so their combined L2 norm does
// not exceed maxNorm. It returns the norm measured before clipping.
func ClipGradNorm(params []*layers.Parameter, maxNorm float64) float64 {
	var sum float64
	for _, p := range params {
		for _, g := range p.GradData() {
			sum += g * g
		}
	}
	total := math.Sqrt(sum)

	coef := maxNorm / (total + 1e-6)
	if coef < 1 {
		for _, p := range params {
			p.Grad.Scale(coef, p.Grad)
		}
	}
	return total
}
