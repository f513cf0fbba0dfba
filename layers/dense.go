package layers

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Linear is a fully connected layer computing x·Wᵀ + b.
type Linear struct {
	InputSize  int
	OutputSize int
	Weight     *Parameter // [out, in]
	Bias       *Parameter // [out]

	input *mat.Dense
}

// NewLinear creates a linear layer with weights and bias drawn from
// U(-1/√in, 1/√in).
func NewLinear(prefix string, inputSize, outputSize int, rng *rand.Rand) (*Linear, error) {
	if inputSize <= 0 || outputSize <= 0 {
		return nil, fmt.Errorf("invalid linear dimensions: in=%d out=%d", inputSize, outputSize)
	}
	l := &Linear{
		InputSize:  inputSize,
		OutputSize: outputSize,
		Weight:     newParameter(prefix+".weight", []int{outputSize, inputSize}),
		Bias:       newParameter(prefix+".bias", []int{outputSize}),
	}
	bound := 1 / math.Sqrt(float64(inputSize))
	l.Weight.initUniform(rng, bound)
	l.Bias.initUniform(rng, bound)
	return l, nil
}

// Parameters returns weight and bias.
func (l *Linear) Parameters() []*Parameter {
	return []*Parameter{l.Weight, l.Bias}
}

// Forward maps a (batch, in) matrix to (batch, out).
func (l *Linear) Forward(x *mat.Dense, train bool) (*mat.Dense, error) {
	batch, in := x.Dims()
	if in != l.InputSize {
		return nil, fmt.Errorf("linear expects %d inputs, got %d", l.InputSize, in)
	}
	out := mat.NewDense(batch, l.OutputSize, nil)
	out.Mul(x, l.Weight.Value.T())
	bias := l.Bias.Data()
	data := out.RawMatrix().Data
	for b := 0; b < batch; b++ {
		for j, v := range bias {
			data[b*l.OutputSize+j] += v
		}
	}
	if train {
		l.input = x
	} else {
		l.input = nil
	}
	return out, nil
}

// Backward accumulates parameter gradients and returns the input gradient.
func (l *Linear) Backward(dout *mat.Dense) (*mat.Dense, error) {
	if l.input == nil {
		return nil, fmt.Errorf("linear backward called without a training forward pass")
	}
	batch, _ := dout.Dims()

	gw := mat.NewDense(l.OutputSize, l.InputSize, nil)
	gw.Mul(dout.T(), l.input)
	l.Weight.Grad.Add(l.Weight.Grad, gw)

	gb := l.Bias.GradData()
	d := contiguous(dout)
	for b := 0; b < batch; b++ {
		for j := range gb {
			gb[j] += d[b*l.OutputSize+j]
		}
	}

	dx := mat.NewDense(batch, l.InputSize, nil)
	dx.Mul(dout, l.Weight.Value)
	l.input = nil
	return dx, nil
}
