package training

import (
	"math"
)

// ReduceLROnPlateauScheduler reduces LR when a metric has stopped improving.
// It follows the usual plateau rules: relative threshold, cooldown after a
// reduction, a floor at MinLR, and reductions smaller than Eps ignored.
type ReduceLROnPlateauScheduler struct {
	Factor    float64 // Factor by which the learning rate will be reduced
	Patience  int     // Number of bad epochs tolerated before reducing
	Threshold float64 // Relative threshold for measuring the new optimum
	Mode      string  // One of "min" or "max"
	Cooldown  int
	MinLR     float64
	Eps       float64

	bestMetric      float64
	badEpochs       int
	cooldownCounter int
}

// NewReduceLROnPlateauScheduler creates a plateau-based scheduler
func NewReduceLROnPlateauScheduler(factor float64, patience int, threshold float64, mode string) *ReduceLROnPlateauScheduler {
	if factor <= 0 || factor >= 1 {
		factor = 0.1
	}
	if patience < 0 {
		patience = 10
	}
	if threshold < 0 {
		threshold = 1e-4
	}
	if mode != "min" && mode != "max" {
		mode = "min" // Default: minimize loss
	}

	s := &ReduceLROnPlateauScheduler{
		Factor:    factor,
		Patience:  patience,
		Threshold: threshold,
		Mode:      mode,
		Eps:       1e-8,
	}
	s.bestMetric = s.worst()
	return s
}

func (s *ReduceLROnPlateauScheduler) worst() float64 {
	if s.Mode == "max" {
		return math.Inf(-1)
	}
	return math.Inf(1)
}

func (s *ReduceLROnPlateauScheduler) isBetter(metric float64) bool {
	if s.Mode == "max" {
		return metric > s.bestMetric*(1+s.Threshold)
	}
	return metric < s.bestMetric*(1-s.Threshold)
}

// Step is called once per epoch with the validation metric and returns the
// learning rate to use from now on.
func (s *ReduceLROnPlateauScheduler) Step(metric float64, currentLR float64) float64 {
	if s.isBetter(metric) {
		s.bestMetric = metric
		s.badEpochs = 0
	} else {
		s.badEpochs++
	}

	if s.cooldownCounter > 0 {
		s.cooldownCounter--
		s.badEpochs = 0
	}

	if s.badEpochs > s.Patience {
		newLR := math.Max(currentLR*s.Factor, s.MinLR)
		s.cooldownCounter = s.Cooldown
		s.badEpochs = 0
		if currentLR-newLR > s.Eps {
			return newLR
		}
	}
	return currentLR
}

// BestMetric returns the best metric seen so far.
func (s *ReduceLROnPlateauScheduler) BestMetric() float64 {
	return s.bestMetric
}

// BadEpochs returns the number of consecutive epochs without improvement.
func (s *ReduceLROnPlateauScheduler) BadEpochs() int {
	return s.badEpochs
}

func (s *ReduceLROnPlateauScheduler) GetName() string {
	return "ReduceLROnPlateau"
}
