package optimizer

import (
	"fmt"
	"math"

	"github.com/tsawler/go-audio-detector/checkpoints"
	"github.com/tsawler/go-audio-detector/layers"
)

// AdamOptimizerState implements Adam with bias-corrected moment estimates.
type AdamOptimizerState struct {
	// Hyperparameters
	LR          float64
	Beta1       float64 // Momentum decay (typically 0.9)
	Beta2       float64 // Variance decay (typically 0.999)
	Epsilon     float64 // Small constant to prevent division by zero (typically 1e-8)
	WeightDecay float64 // L2 regularization coefficient

	params   []*layers.Parameter
	momentum [][]float64 // First moment per parameter
	variance [][]float64 // Second moment per parameter

	// Step tracking for bias correction
	StepCount uint64
}

// AdamConfig holds configuration for Adam optimizer
type AdamConfig struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64
	WeightDecay  float64
}

// DefaultAdamConfig returns default Adam optimizer configuration
func DefaultAdamConfig() AdamConfig {
	return AdamConfig{
		LearningRate: 0.001,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
		WeightDecay:  0.0,
	}
}

// NewAdamOptimizer binds an Adam optimizer to params. Moments start at zero.
func NewAdamOptimizer(config AdamConfig, params []*layers.Parameter) (*AdamOptimizerState, error) {
	if len(params) == 0 {
		return nil, fmt.Errorf("no parameters provided")
	}
	if config.LearningRate < 0 {
		return nil, fmt.Errorf("invalid learning rate: %g", config.LearningRate)
	}
	if config.Beta1 < 0 || config.Beta1 >= 1 || config.Beta2 < 0 || config.Beta2 >= 1 {
		return nil, fmt.Errorf("invalid beta parameters: (%g, %g)", config.Beta1, config.Beta2)
	}

	adam := &AdamOptimizerState{
		LR:          config.LearningRate,
		Beta1:       config.Beta1,
		Beta2:       config.Beta2,
		Epsilon:     config.Epsilon,
		WeightDecay: config.WeightDecay,
		params:      params,
		momentum:    make([][]float64, len(params)),
		variance:    make([][]float64, len(params)),
	}
	for i, p := range params {
		adam.momentum[i] = make([]float64, p.Size())
		adam.variance[i] = make([]float64, p.Size())
	}
	return adam, nil
}

// Step performs one Adam update over all bound parameters
func (adam *AdamOptimizerState) Step() error {
	if err := checkGradients(adam.params); err != nil {
		return fmt.Errorf("Adam step failed: %w", err)
	}

	adam.StepCount++
	t := float64(adam.StepCount)
	bias1 := 1 - math.Pow(adam.Beta1, t)
	bias2 := 1 - math.Pow(adam.Beta2, t)
	stepSize := adam.LR / bias1
	sqrtBias2 := math.Sqrt(bias2)

	for i, p := range adam.params {
		w := p.Data()
		g := p.GradData()
		m := adam.momentum[i]
		v := adam.variance[i]
		for k := range w {
			grad := g[k]
			if adam.WeightDecay != 0 {
				grad += adam.WeightDecay * w[k]
			}
			m[k] = adam.Beta1*m[k] + (1-adam.Beta1)*grad
			v[k] = adam.Beta2*v[k] + (1-adam.Beta2)*grad*grad
			w[k] -= stepSize * m[k] / (math.Sqrt(v[k])/sqrtBias2 + adam.Epsilon)
		}
	}
	return nil
}

// ZeroGrad clears all bound gradients
func (adam *AdamOptimizerState) ZeroGrad() {
	zeroGrad(adam.params)
}

// GetState exports moments and hyperparameters
func (adam *AdamOptimizerState) GetState() (*OptimizerState, error) {
	state := &OptimizerState{
		Type: "Adam",
		Parameters: map[string]interface{}{
			"learning_rate": adam.LR,
			"beta1":         adam.Beta1,
			"beta2":         adam.Beta2,
			"epsilon":       adam.Epsilon,
			"weight_decay":  adam.WeightDecay,
			"step_count":    float64(adam.StepCount),
		},
		StateData: make([]checkpoints.OptimizerTensor, 0, 2*len(adam.params)),
	}
	for i, p := range adam.params {
		state.StateData = append(state.StateData,
			extractBufferState(adam.momentum[i], p.Shape, fmt.Sprintf("momentum_%d", i), "momentum"),
			extractBufferState(adam.variance[i], p.Shape, fmt.Sprintf("variance_%d", i), "variance"),
		)
	}
	return state, nil
}

// LoadState restores moments and hyperparameters from a checkpoint
func (adam *AdamOptimizerState) LoadState(state *OptimizerState) error {
	if err := validateStateType("Adam", state); err != nil {
		return err
	}
	if len(state.StateData) != 2*len(adam.params) {
		return fmt.Errorf("expected %d state tensors, got %d", 2*len(adam.params), len(state.StateData))
	}

	for _, st := range state.StateData {
		idx := extractBufferIndex(st.Name)
		if idx < 0 || idx >= len(adam.params) {
			return fmt.Errorf("state tensor %s does not map to a parameter", st.Name)
		}
		var err error
		switch st.StateType {
		case "momentum":
			err = restoreBufferState(adam.momentum[idx], st.Data, st.Name)
		case "variance":
			err = restoreBufferState(adam.variance[idx], st.Data, st.Name)
		default:
			err = fmt.Errorf("unknown Adam state type %q", st.StateType)
		}
		if err != nil {
			return err
		}
	}

	adam.LR = extractFloatParam(state.Parameters, "learning_rate", adam.LR)
	adam.Beta1 = extractFloatParam(state.Parameters, "beta1", adam.Beta1)
	adam.Beta2 = extractFloatParam(state.Parameters, "beta2", adam.Beta2)
	adam.Epsilon = extractFloatParam(state.Parameters, "epsilon", adam.Epsilon)
	adam.WeightDecay = extractFloatParam(state.Parameters, "weight_decay", adam.WeightDecay)
	adam.StepCount = extractUint64Param(state.Parameters, "step_count", adam.StepCount)
	return nil
}

// GetStepCount returns the number of updates applied so far
func (adam *AdamOptimizerState) GetStepCount() uint64 {
	return adam.StepCount
}

// LearningRate returns the current learning rate
func (adam *AdamOptimizerState) LearningRate() float64 {
	return adam.LR
}

// UpdateLearningRate updates the learning rate
func (adam *AdamOptimizerState) UpdateLearningRate(lr float64) {
	adam.LR = lr
}

// extractBufferIndex extracts the buffer index from state tensor names like "momentum_0", "variance_1"
func extractBufferIndex(name string) int {
	var idx int
	lastUnderscoreIdx := -1
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '_' {
			lastUnderscoreIdx = i
			break
		}
	}

	if lastUnderscoreIdx == -1 {
		return -1
	}

	if n, err := fmt.Sscanf(name[lastUnderscoreIdx+1:], "%d", &idx); n == 1 && err == nil {
		return idx
	}
	return -1
}
