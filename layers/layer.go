package layers

import (
	"fmt"
)

// LayerType represents the type of neural network layer
type LayerType int

const (
	LSTM LayerType = iota
	Dense
	MeanPool
	Dropout
)

func (lt LayerType) String() string {
	switch lt {
	case LSTM:
		return "LSTM"
	case Dense:
		return "Dense"
	case MeanPool:
		return "MeanPool"
	case Dropout:
		return "Dropout"
	default:
		return "Unknown"
	}
}

// DynamicDim marks a shape dimension (batch, time) that is only known at run time.
const DynamicDim = -1

// LayerSpec describes one layer. It carries configuration only; the
// executable layers live alongside it in this package.
type LayerSpec struct {
	Type       LayerType              `json:"type"`
	Name       string                 `json:"name"`
	Parameters map[string]interface{} `json:"parameters"`

	// Shape information (computed during model compilation)
	InputShape  []int `json:"input_shape,omitempty"`
	OutputShape []int `json:"output_shape,omitempty"`

	// Parameter metadata (computed during model compilation)
	ParameterShapes [][]int `json:"parameter_shapes,omitempty"`
	ParameterCount  int64   `json:"parameter_count,omitempty"`
}

// ModelSpec defines a complete model as a list of layer specs
type ModelSpec struct {
	Layers []LayerSpec `json:"layers"`

	TotalParameters int64   `json:"total_parameters"`
	ParameterShapes [][]int `json:"parameter_shapes"`
	InputShape      []int   `json:"input_shape"`
	OutputShape     []int   `json:"output_shape"`
	Compiled        bool    `json:"compiled"`
}

// ModelBuilder assembles a ModelSpec layer by layer
type ModelBuilder struct {
	layers     []LayerSpec
	inputShape []int
}

// NewModelBuilder creates a builder for (batch, time, features) input with
// the given feature size.
func NewModelBuilder(featureSize int) *ModelBuilder {
	return &ModelBuilder{
		inputShape: []int{DynamicDim, DynamicDim, featureSize},
	}
}

// AddLSTM adds a stacked LSTM with dropout applied between recurrent layers
func (mb *ModelBuilder) AddLSTM(hiddenSize, numLayers int, dropout float64, name string) *ModelBuilder {
	mb.layers = append(mb.layers, LayerSpec{
		Type: LSTM,
		Name: name,
		Parameters: map[string]interface{}{
			"hidden_size": hiddenSize,
			"num_layers":  numLayers,
			"dropout":     dropout,
		},
	})
	return mb
}

// AddMeanPool averages the sequence over the time dimension
func (mb *ModelBuilder) AddMeanPool(name string) *ModelBuilder {
	mb.layers = append(mb.layers, LayerSpec{
		Type:       MeanPool,
		Name:       name,
		Parameters: map[string]interface{}{"dim": 1},
	})
	return mb
}

// AddDense adds a fully connected layer with bias
func (mb *ModelBuilder) AddDense(outputSize int, name string) *ModelBuilder {
	mb.layers = append(mb.layers, LayerSpec{
		Type: Dense,
		Name: name,
		Parameters: map[string]interface{}{
			"output_size": outputSize,
			"use_bias":    true,
		},
	})
	return mb
}

// Compile resolves shapes and parameter counts for every layer
func (mb *ModelBuilder) Compile() (*ModelSpec, error) {
	if len(mb.layers) == 0 {
		return nil, fmt.Errorf("cannot compile empty model")
	}

	model := &ModelSpec{
		Layers:     make([]LayerSpec, len(mb.layers)),
		InputShape: mb.inputShape,
	}
	copy(model.Layers, mb.layers)

	currentShape := mb.inputShape
	var allParameterShapes [][]int
	totalParams := int64(0)

	for i := range model.Layers {
		layer := &model.Layers[i]
		layer.InputShape = append([]int(nil), currentShape...)

		outputShape, paramShapes, paramCount, err := computeLayerInfo(layer, currentShape)
		if err != nil {
			return nil, fmt.Errorf("failed to compute layer %d (%s) info: %w", i, layer.Name, err)
		}

		layer.OutputShape = outputShape
		layer.ParameterShapes = paramShapes
		layer.ParameterCount = paramCount

		allParameterShapes = append(allParameterShapes, paramShapes...)
		totalParams += paramCount
		currentShape = outputShape
	}

	model.OutputShape = currentShape
	model.ParameterShapes = allParameterShapes
	model.TotalParameters = totalParams
	model.Compiled = true

	return model, nil
}

func computeLayerInfo(layer *LayerSpec, inputShape []int) ([]int, [][]int, int64, error) {
	switch layer.Type {
	case LSTM:
		return computeLSTMInfo(layer, inputShape)
	case MeanPool:
		if len(inputShape) != 3 {
			return nil, nil, 0, fmt.Errorf("mean pooling requires 3D input, got %v", inputShape)
		}
		return []int{inputShape[0], inputShape[2]}, nil, 0, nil
	case Dense:
		return computeDenseInfo(layer, inputShape)
	default:
		return nil, nil, 0, fmt.Errorf("unsupported layer type: %s", layer.Type)
	}
}

func computeLSTMInfo(layer *LayerSpec, inputShape []int) ([]int, [][]int, int64, error) {
	if len(inputShape) != 3 {
		return nil, nil, 0, fmt.Errorf("LSTM requires (batch, time, features) input, got %v", inputShape)
	}
	hidden := GetIntParam(layer.Parameters, "hidden_size", 0)
	numLayers := GetIntParam(layer.Parameters, "num_layers", 0)
	if hidden <= 0 || numLayers <= 0 {
		return nil, nil, 0, fmt.Errorf("hidden_size and num_layers must be positive")
	}
	layer.Parameters["input_size"] = inputShape[2]

	var shapes [][]int
	count := int64(0)
	in := inputShape[2]
	for l := 0; l < numLayers; l++ {
		layerShapes := [][]int{
			{4 * hidden, in},
			{4 * hidden, hidden},
			{4 * hidden},
			{4 * hidden},
		}
		for _, s := range layerShapes {
			shapes = append(shapes, s)
			count += int64(shapeSize(s))
		}
		in = hidden
	}
	return []int{inputShape[0], inputShape[1], hidden}, shapes, count, nil
}

func computeDenseInfo(layer *LayerSpec, inputShape []int) ([]int, [][]int, int64, error) {
	if len(inputShape) != 2 {
		return nil, nil, 0, fmt.Errorf("dense layer requires 2D input, got %v", inputShape)
	}
	outputSize := GetIntParam(layer.Parameters, "output_size", 0)
	if outputSize <= 0 {
		return nil, nil, 0, fmt.Errorf("missing output_size parameter")
	}
	inputSize := inputShape[1]
	layer.Parameters["input_size"] = inputSize

	shapes := [][]int{{outputSize, inputSize}, {outputSize}}
	return []int{inputShape[0], outputSize}, shapes, int64(outputSize*inputSize + outputSize), nil
}

// Summary returns a human-readable model summary
func (ms *ModelSpec) Summary() string {
	if !ms.Compiled {
		return "Model not compiled"
	}

	summary := "Model Summary:\n"
	summary += fmt.Sprintf("Input Shape: %v\n", ms.InputShape)
	summary += fmt.Sprintf("Output Shape: %v\n", ms.OutputShape)
	summary += fmt.Sprintf("Total Parameters: %d\n", ms.TotalParameters)
	summary += fmt.Sprintf("Layers: %d\n\n", len(ms.Layers))

	for i, layer := range ms.Layers {
		summary += fmt.Sprintf("Layer %d: %s (%s)\n", i+1, layer.Name, layer.Type.String())
		summary += fmt.Sprintf("  Input:  %v\n", layer.InputShape)
		summary += fmt.Sprintf("  Output: %v\n", layer.OutputShape)
		summary += fmt.Sprintf("  Params: %d\n", layer.ParameterCount)
		if len(layer.Parameters) > 0 {
			summary += fmt.Sprintf("  Config: %v\n", layer.Parameters)
		}
		summary += "\n"
	}

	return summary
}

// GetIntParam reads an integer layer parameter. Values decoded from JSON
// arrive as float64 and are accepted too.
func GetIntParam(params map[string]interface{}, key string, defaultValue int) int {
	switch v := params[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return defaultValue
}

// GetFloatParam reads a floating point layer parameter
func GetFloatParam(params map[string]interface{}, key string, defaultValue float64) float64 {
	switch v := params[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	}
	return defaultValue
}

func shapeSize(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}
