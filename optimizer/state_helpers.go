package optimizer

import (
	"fmt"

	"github.com/tsawler/go-audio-detector/checkpoints"
)

// extractBufferState copies one state buffer into a checkpoint tensor
func extractBufferState(buffer []float64, shape []int, name string, stateType string) checkpoints.OptimizerTensor {
	data := make([]float32, len(buffer))
	for i, v := range buffer {
		data[i] = float32(v)
	}
	return checkpoints.OptimizerTensor{
		Name:      name,
		Shape:     append([]int(nil), shape...),
		Data:      data,
		StateType: stateType,
	}
}

// restoreBufferState copies checkpoint data back into a state buffer
func restoreBufferState(buffer []float64, data []float32, name string) error {
	if len(data) != len(buffer) {
		return fmt.Errorf("data size mismatch for %s: expected %d elements, got %d",
			name, len(buffer), len(data))
	}
	for i, v := range data {
		buffer[i] = float64(v)
	}
	return nil
}

// extractFloatParam reads a float parameter from the state map
func extractFloatParam(params map[string]interface{}, key string, defaultValue float64) float64 {
	if val, ok := params[key].(float64); ok {
		return val
	}
	return defaultValue
}

// extractUint64Param reads a counter from the state map. JSON numbers
// decode as float64.
func extractUint64Param(params map[string]interface{}, key string, defaultValue uint64) uint64 {
	switch val := params[key].(type) {
	case float64:
		return uint64(val)
	case uint64:
		return val
	}
	return defaultValue
}
