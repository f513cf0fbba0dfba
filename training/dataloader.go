package training

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"

	"github.com/tsawler/go-audio-detector/tensor"
)

// ErrEmptyLoader is returned when a pass over a loader yields no batches.
var ErrEmptyLoader = errors.New("training: loader produced no batches")

// Dataset interface defines methods that all datasets must implement
type Dataset interface {
	// Len returns the total number of samples
	Len() int
	// Get returns one (time, features) sequence and its label
	Get(idx int) (sample *tensor.Tensor, label float32, err error)
}

// labeled is implemented by datasets that can say whether their labels
// are meaningful. Datasets without it are assumed labeled.
type labeled interface {
	HasLabels() bool
}

func datasetHasLabels(ds Dataset) bool {
	if l, ok := ds.(labeled); ok {
		return l.HasLabels()
	}
	return true
}

// Batch is a (B, T, F) feature tensor with one label per sample. Labels is
// nil for unlabeled data.
type Batch struct {
	Features *tensor.Tensor
	Labels   []float32
}

// Size returns the number of samples in the batch.
func (b *Batch) Size() int {
	return b.Features.Shape[0]
}

// BatchIterator is a finite, restartable sequence of batches. Next returns
// a nil batch once the pass is exhausted.
type BatchIterator interface {
	Reset()
	Next() (*Batch, error)
	Len() int
}

// DataLoader provides batching and optional seeded shuffling over a Dataset
type DataLoader struct {
	dataset   Dataset
	batchSize int
	shuffle   bool
	rng       *rand.Rand
	indices   []int
	position  int
	mutex     sync.Mutex
}

// NewDataLoader creates a new DataLoader. With shuffle set the order is
// redrawn from seed on every Reset.
func NewDataLoader(dataset Dataset, batchSize int, shuffle bool, seed int64) (*DataLoader, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}

	datasetLen := dataset.Len()
	indices := make([]int, datasetLen)
	for i := range indices {
		indices[i] = i
	}

	dl := &DataLoader{
		dataset:   dataset,
		batchSize: batchSize,
		shuffle:   shuffle,
		rng:       rand.New(rand.NewSource(seed)),
		indices:   indices,
	}
	dl.Reset()
	return dl, nil
}

// Len returns the number of batches in an epoch
func (dl *DataLoader) Len() int {
	return (dl.dataset.Len() + dl.batchSize - 1) / dl.batchSize
}

// Reset resets the data loader for a new epoch
func (dl *DataLoader) Reset() {
	dl.mutex.Lock()
	defer dl.mutex.Unlock()

	dl.position = 0
	if dl.shuffle {
		dl.rng.Shuffle(len(dl.indices), func(i, j int) {
			dl.indices[i], dl.indices[j] = dl.indices[j], dl.indices[i]
		})
	}
}

// Next returns the next batch or nil if epoch is complete
func (dl *DataLoader) Next() (*Batch, error) {
	dl.mutex.Lock()
	defer dl.mutex.Unlock()

	if dl.position >= len(dl.indices) {
		return nil, nil // End of epoch
	}

	batchEnd := dl.position + dl.batchSize
	if batchEnd > len(dl.indices) {
		batchEnd = len(dl.indices)
	}
	batchIndices := dl.indices[dl.position:batchEnd]
	dl.position = batchEnd

	batch, err := dl.loadBatch(batchIndices)
	if err != nil {
		return nil, fmt.Errorf("failed to load batch: %w", err)
	}
	return batch, nil
}

// HasNext returns true if there are more batches in the current epoch
func (dl *DataLoader) HasNext() bool {
	dl.mutex.Lock()
	defer dl.mutex.Unlock()
	return dl.position < len(dl.indices)
}

// loadBatch stacks the samples at indices into one batch tensor
func (dl *DataLoader) loadBatch(indices []int) (*Batch, error) {
	samples := make([]*tensor.Tensor, len(indices))
	labels := make([]float32, len(indices))
	for i, idx := range indices {
		sample, label, err := dl.dataset.Get(idx)
		if err != nil {
			return nil, fmt.Errorf("failed to load sample %d: %w", idx, err)
		}
		samples[i] = sample
		labels[i] = label
	}

	features, err := tensor.Stack(samples)
	if err != nil {
		return nil, err
	}
	batch := &Batch{Features: features}
	if datasetHasLabels(dl.dataset) {
		batch.Labels = labels
	}
	return batch, nil
}

// InMemoryDataset holds (time, features) sequences and their labels
type InMemoryDataset struct {
	samples []*tensor.Tensor
	labels  []float32
}

// NewInMemoryDataset creates a dataset. Pass nil labels for unlabeled data.
func NewInMemoryDataset(samples []*tensor.Tensor, labels []float32) (*InMemoryDataset, error) {
	if labels != nil && len(samples) != len(labels) {
		return nil, fmt.Errorf("samples and labels must have the same length: got %d and %d", len(samples), len(labels))
	}
	for i, s := range samples {
		if s.Dim() != 2 {
			return nil, fmt.Errorf("%w: sample %d has shape %v, expected (time, features)", tensor.ErrShapeMismatch, i, s.Shape)
		}
	}
	return &InMemoryDataset{samples: samples, labels: labels}, nil
}

// Len returns the number of samples in the dataset
func (ds *InMemoryDataset) Len() int {
	return len(ds.samples)
}

// Get returns a sample at the given index
func (ds *InMemoryDataset) Get(idx int) (*tensor.Tensor, float32, error) {
	if idx < 0 || idx >= len(ds.samples) {
		return nil, 0, fmt.Errorf("index %d out of range [0, %d)", idx, len(ds.samples))
	}
	var label float32
	if ds.labels != nil {
		label = ds.labels[idx]
	}
	return ds.samples[idx], label, nil
}

// HasLabels reports whether the dataset was built with labels.
func (ds *InMemoryDataset) HasLabels() bool {
	return ds.labels != nil
}

// Labels returns the labels in dataset order, or nil.
func (ds *InMemoryDataset) Labels() []float32 {
	return ds.labels
}
