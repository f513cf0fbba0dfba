package training

import (
	"fmt"
	"math"

	"github.com/tsawler/go-audio-detector/layers"
)

// Loss maps logits and targets to a scalar, and back to per-logit gradients.
type Loss interface {
	Forward(logits []float64, targets []float32) (float64, error)
	Backward(logits []float64, targets []float32) ([]float64, error)
}

// BCEWithLogitsLoss is binary cross-entropy on raw logits with a weight
// on the positive class and mean reduction.
type BCEWithLogitsLoss struct {
	PosWeight float64
}

// NewBCEWithLogitsLoss creates the loss. A posWeight of 1 is the
// unweighted loss.
func NewBCEWithLogitsLoss(posWeight float64) *BCEWithLogitsLoss {
	return &BCEWithLogitsLoss{PosWeight: posWeight}
}

// Forward computes
//
//	mean((1-y)·x + (1+(pw-1)·y)·(log(1+e^{-|x|}) + max(-x, 0)))
//
// which never overflows for large |x|.
func (l *BCEWithLogitsLoss) Forward(logits []float64, targets []float32) (float64, error) {
	if err := checkLossInputs(logits, targets); err != nil {
		return 0, err
	}
	var sum float64
	for i, x := range logits {
		y := float64(targets[i])
		weight := 1 + (l.PosWeight-1)*y
		sum += (1-y)*x + weight*(math.Log1p(math.Exp(-math.Abs(x)))+math.Max(-x, 0))
	}
	return sum / float64(len(logits)), nil
}

// Backward returns dLoss/dx for each logit:
// ((1-y) - (1+(pw-1)·y)·(1-σ(x))) / N.
func (l *BCEWithLogitsLoss) Backward(logits []float64, targets []float32) ([]float64, error) {
	if err := checkLossInputs(logits, targets); err != nil {
		return nil, err
	}
	n := float64(len(logits))
	grads := make([]float64, len(logits))
	for i, x := range logits {
		y := float64(targets[i])
		weight := 1 + (l.PosWeight-1)*y
		grads[i] = ((1 - y) - weight*(1-layers.Sigmoid(x))) / n
	}
	return grads, nil
}

func checkLossInputs(logits []float64, targets []float32) error {
	if len(logits) == 0 {
		return fmt.Errorf("loss needs at least one logit")
	}
	if len(logits) != len(targets) {
		return fmt.Errorf("got %d logits but %d targets", len(logits), len(targets))
	}
	return nil
}
