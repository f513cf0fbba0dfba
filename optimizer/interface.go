package optimizer

import (
	"fmt"

	"github.com/tsawler/go-audio-detector/checkpoints"
	"github.com/tsawler/go-audio-detector/layers"
)

// Optimizer updates a fixed set of parameters from their accumulated
// gradients. The parameter set is bound at construction.
type Optimizer interface {
	// Step applies one update. It fails when a gradient no longer matches
	// its parameter's shape.
	Step() error

	// ZeroGrad clears the gradients of every bound parameter
	ZeroGrad()

	// GetState extracts optimizer state for checkpointing
	GetState() (*OptimizerState, error)

	// LoadState restores optimizer state from a checkpoint
	LoadState(state *OptimizerState) error

	// GetStepCount returns the current optimization step number
	GetStepCount() uint64

	// LearningRate returns the learning rate used by the next Step
	LearningRate() float64

	// UpdateLearningRate updates the learning rate
	UpdateLearningRate(lr float64)
}

// OptimizerState is the serializable optimizer state stored in checkpoints.
type OptimizerState = checkpoints.OptimizerState

// OptimizerTensor is one named moment buffer inside an OptimizerState.
type OptimizerTensor = checkpoints.OptimizerTensor

func zeroGrad(params []*layers.Parameter) {
	for _, p := range params {
		p.ZeroGrad()
	}
}

// checkGradients verifies every gradient still has its parameter's shape.
func checkGradients(params []*layers.Parameter) error {
	for _, p := range params {
		vr, vc := p.Value.Dims()
		gr, gc := p.Grad.Dims()
		if vr != gr || vc != gc {
			return fmt.Errorf("gradient for %s has shape (%d,%d), parameter has (%d,%d)", p.Name, gr, gc, vr, vc)
		}
	}
	return nil
}

// validateStateType ensures the state type matches the optimizer
func validateStateType(optimizerType string, state *OptimizerState) error {
	if state == nil {
		return fmt.Errorf("optimizer state is nil")
	}
	if state.Type != optimizerType {
		return fmt.Errorf("state type mismatch: expected %s, got %s", optimizerType, state.Type)
	}
	return nil
}
