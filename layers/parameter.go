package layers

import (
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Parameter is a trainable tensor and its accumulated gradient. Biases are
// stored as 1×n matrices so every parameter shares one representation.
type Parameter struct {
	Name  string
	Shape []int
	Value *mat.Dense
	Grad  *mat.Dense
}

func newParameter(name string, shape []int) *Parameter {
	rows, cols := 1, shape[0]
	if len(shape) == 2 {
		rows, cols = shape[0], shape[1]
	}
	return &Parameter{
		Name:  name,
		Shape: append([]int(nil), shape...),
		Value: mat.NewDense(rows, cols, nil),
		Grad:  mat.NewDense(rows, cols, nil),
	}
}

// Data exposes the contiguous backing slice of the value matrix.
func (p *Parameter) Data() []float64 {
	return p.Value.RawMatrix().Data
}

// GradData exposes the contiguous backing slice of the gradient matrix.
func (p *Parameter) GradData() []float64 {
	return p.Grad.RawMatrix().Data
}

// ZeroGrad clears the accumulated gradient.
func (p *Parameter) ZeroGrad() {
	p.Grad.Zero()
}

// Size returns the number of scalar values in the parameter.
func (p *Parameter) Size() int {
	return shapeSize(p.Shape)
}

func (p *Parameter) initUniform(rng *rand.Rand, bound float64) {
	data := p.Data()
	for i := range data {
		data[i] = (rng.Float64()*2 - 1) * bound
	}
}
