package checkpoints

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tsawler/go-audio-detector/layers"
)

// ErrUnsupportedFormat is returned for an unknown checkpoint format.
var ErrUnsupportedFormat = errors.New("checkpoints: unsupported format")

const (
	frameworkName    = "go-audio-detector"
	frameworkVersion = "1.0.0"
)

// CheckpointFormat defines the serialization format
type CheckpointFormat int

const (
	FormatONNX CheckpointFormat = iota
	FormatJSON
)

func (cf CheckpointFormat) String() string {
	switch cf {
	case FormatJSON:
		return "JSON"
	case FormatONNX:
		return "ONNX"
	default:
		return "Unknown"
	}
}

// ParseFormat maps "onnx" or "json" (any case) to a CheckpointFormat.
func ParseFormat(name string) (CheckpointFormat, error) {
	switch strings.ToLower(name) {
	case "", "onnx":
		return FormatONNX, nil
	case "json":
		return FormatJSON, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedFormat, name)
	}
}

// Checkpoint is a snapshot of model weights plus the training state that
// produced them.
type Checkpoint struct {
	ModelSpec *layers.ModelSpec `json:"model_spec"`
	Weights   []WeightTensor    `json:"weights"`

	TrainingState TrainingState `json:"training_state"`

	// Optional; nil when only weights were requested
	OptimizerState *OptimizerState `json:"optimizer_state,omitempty"`

	Metadata CheckpointMetadata `json:"metadata"`
}

// WeightTensor is one named parameter tensor.
type WeightTensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
	Layer string    `json:"layer"`
	Type  string    `json:"type"` // "weight" or "bias"
}

// TrainingState captures training progress at the time of the snapshot
type TrainingState struct {
	Epoch        int     `json:"epoch"`
	Step         int     `json:"step"`
	LearningRate float64 `json:"learning_rate"`
	BestLoss     float64 `json:"best_loss"`
	TrainLoss    float64 `json:"train_loss"`
	RunID        string  `json:"run_id,omitempty"`
}

// OptimizerState captures optimizer moments and hyperparameters
type OptimizerState struct {
	Type       string                 `json:"type"`
	Parameters map[string]interface{} `json:"parameters"`
	StateData  []OptimizerTensor      `json:"state_data"`
}

// OptimizerTensor is one optimizer state buffer, e.g. Adam's "m_3".
type OptimizerTensor struct {
	Name      string    `json:"name"`
	Shape     []int     `json:"shape"`
	Data      []float32 `json:"data"`
	StateType string    `json:"state_type"`
}

// CheckpointMetadata contains checkpoint metadata
type CheckpointMetadata struct {
	Version     string    `json:"version"`
	Framework   string    `json:"framework"`
	CreatedAt   time.Time `json:"created_at"`
	Description string    `json:"description,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
}

// Validate checks that every weight carries as many values as its shape implies.
func (c *Checkpoint) Validate() error {
	for _, w := range c.Weights {
		if err := w.validate(); err != nil {
			return err
		}
	}
	return nil
}

func (w WeightTensor) validate() error {
	if w.Name == "" {
		return fmt.Errorf("weight tensor has no name")
	}
	n := 1
	for _, d := range w.Shape {
		n *= d
	}
	if len(w.Shape) == 0 || n != len(w.Data) {
		return fmt.Errorf("weight %s: shape %v does not match %d values", w.Name, w.Shape, len(w.Data))
	}
	return nil
}

// CheckpointSaver saves and loads checkpoints in one format
type CheckpointSaver struct {
	format CheckpointFormat
}

// NewCheckpointSaver creates a new checkpoint saver for the specified format
func NewCheckpointSaver(format CheckpointFormat) *CheckpointSaver {
	return &CheckpointSaver{format: format}
}

// Format returns the saver's serialization format.
func (cs *CheckpointSaver) Format() CheckpointFormat {
	return cs.format
}

// SaveCheckpoint writes checkpoint to path, replacing any previous file.
// The data is written to a temporary file in the same directory and
// renamed into place, so readers never observe a partial checkpoint.
func (cs *CheckpointSaver) SaveCheckpoint(checkpoint *Checkpoint, path string) error {
	if err := checkpoint.Validate(); err != nil {
		return fmt.Errorf("invalid checkpoint: %w", err)
	}
	if checkpoint.Metadata.Framework == "" {
		checkpoint.Metadata.Framework = frameworkName
		checkpoint.Metadata.Version = frameworkVersion
		checkpoint.Metadata.CreatedAt = time.Now()
	}

	var (
		data []byte
		err  error
	)
	switch cs.format {
	case FormatJSON:
		data, err = json.MarshalIndent(checkpoint, "", "  ")
	case FormatONNX:
		data, err = NewONNXExporter().Marshal(checkpoint)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, cs.format)
	}
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}

	return writeFileAtomic(path, data)
}

// LoadCheckpoint reads a checkpoint written by SaveCheckpoint
func (cs *CheckpointSaver) LoadCheckpoint(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint file: %w", err)
	}

	var checkpoint *Checkpoint
	switch cs.format {
	case FormatJSON:
		checkpoint = &Checkpoint{}
		err = json.Unmarshal(data, checkpoint)
	case FormatONNX:
		checkpoint, err = NewONNXImporter().Unmarshal(data)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, cs.format)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %w", err)
	}
	if err := checkpoint.Validate(); err != nil {
		return nil, fmt.Errorf("invalid checkpoint: %w", err)
	}
	return checkpoint, nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create checkpoint file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close checkpoint: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("failed to set checkpoint permissions: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to move checkpoint into place: %w", err)
	}
	return nil
}
