package training

import (
	"fmt"
	"math/rand"

	"github.com/tsawler/go-audio-detector/tensor"
)

// SubsetDataset exposes a selection of an underlying dataset's samples.
type SubsetDataset struct {
	originalDataset Dataset
	indices         []int
}

// NewSubsetDataset creates a new SubsetDataset that wraps an existing dataset
// and limits the number of samples it exposes.
func NewSubsetDataset(original Dataset, limit int) (*SubsetDataset, error) {
	if limit < 0 {
		return nil, fmt.Errorf("limit cannot be negative")
	}
	if limit > original.Len() {
		limit = original.Len() // Adjust limit if it's greater than the original dataset's length
	}
	indices := make([]int, limit)
	for i := range indices {
		indices[i] = i
	}
	return &SubsetDataset{originalDataset: original, indices: indices}, nil
}

// Len returns the number of samples in the subset
func (sd *SubsetDataset) Len() int {
	return len(sd.indices)
}

// Get returns the idx-th selected sample of the original dataset.
func (sd *SubsetDataset) Get(idx int) (*tensor.Tensor, float32, error) {
	if idx < 0 || idx >= len(sd.indices) {
		return nil, 0, fmt.Errorf("index out of bounds for subset: %d (size: %d)", idx, len(sd.indices))
	}
	return sd.originalDataset.Get(sd.indices[idx])
}

// HasLabels defers to the original dataset.
func (sd *SubsetDataset) HasLabels() bool {
	return datasetHasLabels(sd.originalDataset)
}

// Labels returns the subset's labels in order.
func (sd *SubsetDataset) Labels() ([]float32, error) {
	labels := make([]float32, len(sd.indices))
	for i := range sd.indices {
		_, label, err := sd.Get(i)
		if err != nil {
			return nil, err
		}
		labels[i] = label
	}
	return labels, nil
}

// RandomSplit partitions ds into non-overlapping subsets of the given
// fractions after a seeded shuffle. Fractions must be positive and sum to
// 1; rounding leftovers go to the last subset.
func RandomSplit(ds Dataset, fractions []float64, seed int64) ([]*SubsetDataset, error) {
	if len(fractions) == 0 {
		return nil, fmt.Errorf("no split fractions given")
	}
	var total float64
	for _, f := range fractions {
		if f <= 0 {
			return nil, fmt.Errorf("split fractions must be positive, got %g", f)
		}
		total += f
	}
	if total < 0.999 || total > 1.001 {
		return nil, fmt.Errorf("split fractions sum to %g, want 1", total)
	}

	perm := rand.New(rand.NewSource(seed)).Perm(ds.Len())
	splits := make([]*SubsetDataset, len(fractions))
	start := 0
	for i, f := range fractions {
		end := start + int(f*float64(len(perm)))
		if i == len(fractions)-1 || end > len(perm) {
			end = len(perm)
		}
		splits[i] = &SubsetDataset{originalDataset: ds, indices: perm[start:end]}
		start = end
	}
	return splits, nil
}
