package engine

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/tsawler/go-audio-detector/checkpoints"
	"github.com/tsawler/go-audio-detector/layers"
	"github.com/tsawler/go-audio-detector/tensor"
	"gonum.org/v1/gonum/mat"
)

// ModelConfig describes the sequence classifier the engine builds.
type ModelConfig struct {
	InputSize  int
	HiddenSize int
	NumLayers  int
	Dropout    float64
	Seed       int64
	Device     Device
}

// DefaultModelConfig returns the detector architecture: 8 input features,
// two recurrent layers of 16 units and dropout 0.48 between them.
func DefaultModelConfig() ModelConfig {
	return ModelConfig{
		InputSize:  8,
		HiddenSize: 16,
		NumLayers:  2,
		Dropout:    0.48,
		Seed:       42,
		Device:     CPU,
	}
}

// ModelEngine owns the classifier's parameters and executes its forward
// and backward passes: LSTM stack, mean over time, linear head.
type ModelEngine struct {
	config    ModelConfig
	modelSpec *layers.ModelSpec
	encoder   *layers.LSTMStack
	head      *layers.Linear
	params    []*layers.Parameter
	training  bool

	// set by a training-mode Forward, consumed by Backward
	steps int
}

// NewModelEngine compiles the architecture description and initializes all
// parameters from config.Seed.
func NewModelEngine(config ModelConfig) (*ModelEngine, error) {
	if config.Device == "" {
		config.Device = CPU
	}
	if config.Device != CPU {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDevice, config.Device)
	}

	spec, err := layers.NewModelBuilder(config.InputSize).
		AddLSTM(config.HiddenSize, config.NumLayers, config.Dropout, "lstm").
		AddMeanPool("mean_pool").
		AddDense(1, "output_layer").
		Compile()
	if err != nil {
		return nil, fmt.Errorf("model compilation failed: %w", err)
	}

	rng := rand.New(rand.NewSource(config.Seed))
	encoder, err := layers.NewLSTMStack("lstm", config.InputSize, config.HiddenSize, config.NumLayers, config.Dropout, rng)
	if err != nil {
		return nil, fmt.Errorf("failed to build encoder: %w", err)
	}
	head, err := layers.NewLinear("output_layer", config.HiddenSize, 1, rng)
	if err != nil {
		return nil, fmt.Errorf("failed to build output layer: %w", err)
	}

	me := &ModelEngine{
		config:    config,
		modelSpec: spec,
		encoder:   encoder,
		head:      head,
		training:  true,
	}
	me.params = append(encoder.Parameters(), head.Parameters()...)

	if len(me.params) != len(spec.ParameterShapes) {
		return nil, fmt.Errorf("model has %d parameters but spec describes %d", len(me.params), len(spec.ParameterShapes))
	}
	return me, nil
}

// Train switches to training mode (dropout active, activations cached).
func (me *ModelEngine) Train() { me.training = true }

// Eval switches to evaluation mode.
func (me *ModelEngine) Eval() { me.training = false }

// IsTraining reports the current mode.
func (me *ModelEngine) IsTraining() bool { return me.training }

// Forward maps a (B, T, F) batch to exactly B logits.
func (me *ModelEngine) Forward(batch *tensor.Tensor) ([]float64, error) {
	b, _, f, err := batch.SequenceDims()
	if err != nil {
		return nil, err
	}
	if f != me.config.InputSize {
		return nil, fmt.Errorf("%w: model expects %d features, got %d", tensor.ErrShapeMismatch, me.config.InputSize, f)
	}
	xs, err := batch.TimeSteps()
	if err != nil {
		return nil, err
	}

	hs, err := me.encoder.Forward(xs, me.training)
	if err != nil {
		return nil, fmt.Errorf("encoder forward failed: %w", err)
	}
	out, err := me.head.Forward(layers.MeanOverTime(hs), me.training)
	if err != nil {
		return nil, fmt.Errorf("output layer forward failed: %w", err)
	}

	if me.training {
		me.steps = len(xs)
	} else {
		me.steps = 0
	}

	logits := make([]float64, b)
	for i := range logits {
		logits[i] = out.At(i, 0)
	}
	return logits, nil
}

// Backward accumulates parameter gradients given the loss gradient for each
// logit of the last training-mode Forward.
func (me *ModelEngine) Backward(dlogits []float64) error {
	if me.steps == 0 {
		return fmt.Errorf("backward called without a training forward pass")
	}
	steps := me.steps
	me.steps = 0

	dpooled, err := me.head.Backward(mat.NewDense(len(dlogits), 1, append([]float64(nil), dlogits...)))
	if err != nil {
		return err
	}
	if _, err := me.encoder.Backward(layers.MeanOverTimeBackward(dpooled, steps)); err != nil {
		return fmt.Errorf("encoder backward failed: %w", err)
	}
	return nil
}

// Parameters returns every trainable parameter in state-dict order.
func (me *ModelEngine) Parameters() []*layers.Parameter {
	return me.params
}

// ZeroGrad clears all parameter gradients.
func (me *ModelEngine) ZeroGrad() {
	for _, p := range me.params {
		p.ZeroGrad()
	}
}

// GetModelSpec returns the compiled architecture description.
func (me *ModelEngine) GetModelSpec() *layers.ModelSpec {
	return me.modelSpec
}

// GetModelSummary returns a human-readable architecture summary.
func (me *ModelEngine) GetModelSummary() string {
	return me.modelSpec.Summary()
}

// Config returns the configuration the engine was built with.
func (me *ModelEngine) Config() ModelConfig {
	return me.config
}

// ExportWeights copies every parameter into float32 checkpoint tensors.
func (me *ModelEngine) ExportWeights() []checkpoints.WeightTensor {
	weights := make([]checkpoints.WeightTensor, len(me.params))
	for i, p := range me.params {
		src := p.Data()
		data := make([]float32, len(src))
		for k, v := range src {
			data[k] = float32(v)
		}
		weights[i] = checkpoints.WeightTensor{
			Name:  p.Name,
			Shape: append([]int(nil), p.Shape...),
			Data:  data,
			Layer: layerOf(p.Name),
			Type:  kindOf(p.Name),
		}
	}
	return weights
}

// LoadWeights replaces parameter values by name. Every parameter must be
// present with a matching shape; unknown tensors are rejected.
func (me *ModelEngine) LoadWeights(weights []checkpoints.WeightTensor) error {
	byName := make(map[string]checkpoints.WeightTensor, len(weights))
	for _, w := range weights {
		byName[w.Name] = w
	}
	if len(byName) != len(me.params) {
		return fmt.Errorf("checkpoint has %d weight tensors, model has %d parameters", len(byName), len(me.params))
	}

	for _, p := range me.params {
		w, ok := byName[p.Name]
		if !ok {
			return fmt.Errorf("checkpoint is missing parameter %s", p.Name)
		}
		if !sameShape(w.Shape, p.Shape) || len(w.Data) != p.Size() {
			return fmt.Errorf("%w: parameter %s has shape %v, checkpoint has %v",
				tensor.ErrShapeMismatch, p.Name, p.Shape, w.Shape)
		}
	}
	for _, p := range me.params {
		dst := p.Data()
		for k, v := range byName[p.Name].Data {
			dst[k] = float64(v)
		}
	}
	return nil
}

func layerOf(name string) string {
	if i := strings.IndexByte(name, '.'); i >= 0 {
		return name[:i]
	}
	return name
}

func kindOf(name string) string {
	if strings.Contains(name, ".bias") {
		return "bias"
	}
	return "weight"
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
