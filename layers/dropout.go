package layers

import (
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// dropout zeroes activations with probability rate and rescales the
// survivors by 1/(1-rate), so evaluation mode is the identity.
type dropout struct {
	rate  float64
	masks [][]float64
}

func (d *dropout) forward(xs []*mat.Dense, train bool, rng *rand.Rand) []*mat.Dense {
	if !train || d.rate == 0 {
		d.masks = nil
		return xs
	}

	scale := 1 / (1 - d.rate)
	d.masks = make([][]float64, len(xs))
	out := make([]*mat.Dense, len(xs))
	for t, x := range xs {
		r, c := x.Dims()
		src := contiguous(x)
		mask := make([]float64, r*c)
		data := make([]float64, r*c)
		for k := range mask {
			if rng.Float64() >= d.rate {
				mask[k] = scale
				data[k] = src[k] * scale
			}
		}
		d.masks[t] = mask
		out[t] = mat.NewDense(r, c, data)
	}
	return out
}

func (d *dropout) backward(grads []*mat.Dense) []*mat.Dense {
	if d.masks == nil {
		return grads
	}
	out := make([]*mat.Dense, len(grads))
	for t, g := range grads {
		r, c := g.Dims()
		src := contiguous(g)
		data := make([]float64, r*c)
		for k, m := range d.masks[t] {
			data[k] = src[k] * m
		}
		out[t] = mat.NewDense(r, c, data)
	}
	d.masks = nil
	return out
}
