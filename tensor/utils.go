package tensor

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Dim returns the number of dimensions.
func (t *Tensor) Dim() int {
	return len(t.Shape)
}

// Numel returns the total number of elements.
func (t *Tensor) Numel() int {
	return t.NumElems
}

// Clone returns a deep copy of the tensor.
func (t *Tensor) Clone() *Tensor {
	data := make([]float32, len(t.Data))
	copy(data, t.Data)
	shape := make([]int, len(t.Shape))
	copy(shape, t.Shape)
	return &Tensor{
		Shape:    shape,
		Strides:  calculateStrides(shape),
		Data:     data,
		NumElems: t.NumElems,
	}
}

// At returns the element at the given indices.
func (t *Tensor) At(indices ...int) (float32, error) {
	if len(indices) != len(t.Shape) {
		return 0, fmt.Errorf("%w: got %d indices for %d-d tensor", ErrShapeMismatch, len(indices), len(t.Shape))
	}

	offset := 0
	for i, idx := range indices {
		if idx < 0 || idx >= t.Shape[i] {
			return 0, fmt.Errorf("index %d out of bounds for dimension %d with size %d", idx, i, t.Shape[i])
		}
		offset += idx * t.Strides[i]
	}
	return t.Data[offset], nil
}

// SequenceDims validates that t is a (batch, time, features) tensor and
// returns its three dimensions.
func (t *Tensor) SequenceDims() (batch, steps, features int, err error) {
	if len(t.Shape) != 3 {
		return 0, 0, 0, fmt.Errorf("%w: expected (batch, time, features), got %v", ErrShapeMismatch, t.Shape)
	}
	return t.Shape[0], t.Shape[1], t.Shape[2], nil
}

// TimeStep returns the (batch, features) slice of a sequence batch at time
// step step, widened to float64 for the linear algebra kernels.
func (t *Tensor) TimeStep(step int) (*mat.Dense, error) {
	batch, steps, features, err := t.SequenceDims()
	if err != nil {
		return nil, err
	}
	if step < 0 || step >= steps {
		return nil, fmt.Errorf("time step %d out of range for sequence of length %d", step, steps)
	}
	out := make([]float64, batch*features)
	for b := 0; b < batch; b++ {
		src := t.Data[b*steps*features+step*features : b*steps*features+(step+1)*features]
		dst := out[b*features : (b+1)*features]
		for f, v := range src {
			dst[f] = float64(v)
		}
	}
	return mat.NewDense(batch, features, out), nil
}

// TimeSteps splits a sequence batch into one matrix per time step.
func (t *Tensor) TimeSteps() ([]*mat.Dense, error) {
	_, steps, _, err := t.SequenceDims()
	if err != nil {
		return nil, err
	}
	xs := make([]*mat.Dense, steps)
	for s := range xs {
		if xs[s], err = t.TimeStep(s); err != nil {
			return nil, err
		}
	}
	return xs, nil
}
