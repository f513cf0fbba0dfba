package layers

import (
	"gonum.org/v1/gonum/mat"
)

// MeanOverTime averages a sequence of (batch, H) matrices into one.
func MeanOverTime(hs []*mat.Dense) *mat.Dense {
	r, c := hs[0].Dims()
	out := mat.NewDense(r, c, nil)
	for _, h := range hs {
		out.Add(out, h)
	}
	out.Scale(1/float64(len(hs)), out)
	return out
}

// MeanOverTimeBackward spreads the pooled gradient evenly over steps.
func MeanOverTimeBackward(d *mat.Dense, steps int) []*mat.Dense {
	r, c := d.Dims()
	share := mat.NewDense(r, c, nil)
	share.Scale(1/float64(steps), d)
	out := make([]*mat.Dense, steps)
	for t := range out {
		out[t] = share
	}
	return out
}
