package tensor

import (
	"fmt"
)

// NewTensor wraps data in a tensor of the given shape. The data slice is
// used directly, not copied.
func NewTensor(shape []int, data []float32) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}

	numElems := calculateNumElements(shape)
	if len(data) != numElems {
		return nil, fmt.Errorf("data length %d does not match tensor size %d", len(data), numElems)
	}

	s := make([]int, len(shape))
	copy(s, shape)

	return &Tensor{
		Shape:    s,
		Strides:  calculateStrides(s),
		Data:     data,
		NumElems: numElems,
	}, nil
}

// Zeros returns a zero-filled tensor.
func Zeros(shape []int) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}
	return NewTensor(shape, make([]float32, calculateNumElements(shape)))
}

// FromRows builds a (len(rows), len(rows[0])) tensor, e.g. one sample's
// (time, features) matrix.
func FromRows(rows [][]float32) (*Tensor, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("cannot build tensor from zero rows")
	}
	cols := len(rows[0])
	data := make([]float32, 0, len(rows)*cols)
	for i, row := range rows {
		if len(row) != cols {
			return nil, fmt.Errorf("%w: row %d has %d columns, expected %d", ErrShapeMismatch, i, len(row), cols)
		}
		data = append(data, row...)
	}
	return NewTensor([]int{len(rows), cols}, data)
}

// Stack concatenates same-shaped tensors along a new leading dimension.
func Stack(items []*Tensor) (*Tensor, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("cannot stack zero tensors")
	}

	inner := items[0].Shape
	data := make([]float32, 0, len(items)*items[0].NumElems)
	for i, item := range items {
		if !sameShape(item.Shape, inner) {
			return nil, fmt.Errorf("%w: item %d has shape %v, expected %v", ErrShapeMismatch, i, item.Shape, inner)
		}
		data = append(data, item.Data...)
	}

	shape := append([]int{len(items)}, inner...)
	return NewTensor(shape, data)
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
