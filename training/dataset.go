package training

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"os"

	"github.com/tsawler/go-audio-detector/tensor"
)

// SyntheticDataset generates labeled feature sequences on demand. Label 1
// sequences carry a small periodic component and a mean shift the model
// can learn to detect. Samples are reproducible from the seed and index.
type SyntheticDataset struct {
	size     int
	steps    int
	features int
	seed     int64
	posRatio float64
}

// NewSyntheticDataset creates a dataset of size sequences with the given
// shape. posRatio is the share of label 1 samples.
func NewSyntheticDataset(size, steps, features int, posRatio float64, seed int64) (*SyntheticDataset, error) {
	if size <= 0 || steps <= 0 || features <= 0 {
		return nil, fmt.Errorf("invalid synthetic dataset shape: size=%d steps=%d features=%d", size, steps, features)
	}
	if posRatio <= 0 || posRatio >= 1 {
		return nil, fmt.Errorf("positive ratio must be in (0, 1), got %g", posRatio)
	}
	return &SyntheticDataset{size: size, steps: steps, features: features, seed: seed, posRatio: posRatio}, nil
}

// Len returns the size of the dataset
func (sd *SyntheticDataset) Len() int {
	return sd.size
}

// Get generates the sample at idx
func (sd *SyntheticDataset) Get(idx int) (*tensor.Tensor, float32, error) {
	if idx < 0 || idx >= sd.size {
		return nil, 0, fmt.Errorf("index %d out of range [0, %d)", idx, sd.size)
	}

	rng := rand.New(rand.NewSource(sd.seed*1_000_003 + int64(idx)))
	var label float32
	if rng.Float64() < sd.posRatio {
		label = 1
	}

	data := make([]float32, sd.steps*sd.features)
	phase := rng.Float64() * 2 * math.Pi
	for t := 0; t < sd.steps; t++ {
		for f := 0; f < sd.features; f++ {
			v := rng.NormFloat64()
			if label == 1 {
				v += 0.6 + 0.8*math.Sin(phase+float64(t)*0.7+float64(f))
			}
			data[t*sd.features+f] = float32(v)
		}
	}

	sample, err := tensor.NewTensor([]int{sd.steps, sd.features}, data)
	if err != nil {
		return nil, 0, err
	}
	return sample, label, nil
}

type jsonSample struct {
	Features [][]float32 `json:"features"`
	Label    *float32    `json:"label,omitempty"`
}

type jsonDataset struct {
	Samples []jsonSample `json:"samples"`
}

// LoadJSONDataset reads {"samples": [{"features": [[...], ...], "label": 0|1}]}.
// Either every sample has a label or none does.
func LoadJSONDataset(path string) (*InMemoryDataset, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset: %w", err)
	}
	var doc jsonDataset
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse dataset %s: %w", path, err)
	}
	if len(doc.Samples) == 0 {
		return nil, fmt.Errorf("dataset %s has no samples", path)
	}

	samples := make([]*tensor.Tensor, len(doc.Samples))
	var labels []float32
	if doc.Samples[0].Label != nil {
		labels = make([]float32, len(doc.Samples))
	}
	for i, s := range doc.Samples {
		samples[i], err = tensor.FromRows(s.Features)
		if err != nil {
			return nil, fmt.Errorf("sample %d: %w", i, err)
		}
		if (s.Label != nil) != (labels != nil) {
			return nil, fmt.Errorf("sample %d: labels must be given for all samples or none", i)
		}
		if labels != nil {
			if *s.Label != 0 && *s.Label != 1 {
				return nil, fmt.Errorf("sample %d: label must be 0 or 1, got %g", i, *s.Label)
			}
			labels[i] = *s.Label
		}
	}
	return NewInMemoryDataset(samples, labels)
}
