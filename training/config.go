package training

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/tsawler/go-audio-detector/checkpoints"
	"github.com/tsawler/go-audio-detector/engine"
)

// Config holds everything a ModelTrainer needs. Zero values are not
// meaningful; start from DefaultConfig.
type Config struct {
	// Model
	InputSize  int     `json:"input_size"`
	HiddenSize int     `json:"hidden_size"`
	NumLayers  int     `json:"num_layers"`
	Dropout    float64 `json:"dropout"`
	Device     string  `json:"device"`
	Seed       int64   `json:"seed"`

	// Optimization
	LearningRate float64 `json:"learning_rate"`
	WeightDecay  float64 `json:"weight_decay"`
	PosWeight    float64 `json:"pos_weight"`
	MaxGradNorm  float64 `json:"max_grad_norm"`

	// ReduceLROnPlateau
	SchedulerFactor    float64 `json:"scheduler_factor"`
	SchedulerPatience  int     `json:"scheduler_patience"`
	SchedulerThreshold float64 `json:"scheduler_threshold"`

	// Early stopping
	Patience  int `json:"patience"`
	MaxEpochs int `json:"max_epochs"`

	// Artifacts
	CheckpointPath   string `json:"checkpoint_path"`
	CheckpointFormat string `json:"checkpoint_format"`
	ROCPlotPath      string `json:"roc_plot_path"`

	ShowProgress bool `json:"show_progress"`

	// Not serialized
	Logger         *logrus.Logger `json:"-"`
	ProgressWriter io.Writer      `json:"-"`
	Recorder       EpochRecorder  `json:"-"`
}

// DefaultConfig returns the detector's training configuration.
func DefaultConfig() Config {
	return Config{
		InputSize:          8,
		HiddenSize:         16,
		NumLayers:          2,
		Dropout:            0.48,
		Device:             "cpu",
		Seed:               42,
		LearningRate:       1e-3,
		PosWeight:          400.0 / 250.0,
		MaxGradNorm:        1.0,
		SchedulerFactor:    0.42,
		SchedulerPatience:  2,
		SchedulerThreshold: 1e-4,
		Patience:           5,
		MaxEpochs:          15,
		CheckpointPath:     "best_model.ckpt",
		CheckpointFormat:   "onnx",
		ROCPlotPath:        "roc_curve.png",
		ShowProgress:       true,
	}
}

// LoadConfig reads a JSON config file. Fields absent from the file keep
// their DefaultConfig values.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch {
	case c.InputSize <= 0:
		return fmt.Errorf("input_size must be positive, got %d", c.InputSize)
	case c.HiddenSize <= 0:
		return fmt.Errorf("hidden_size must be positive, got %d", c.HiddenSize)
	case c.NumLayers <= 0:
		return fmt.Errorf("num_layers must be positive, got %d", c.NumLayers)
	case c.Dropout < 0 || c.Dropout >= 1:
		return fmt.Errorf("dropout must be in [0, 1), got %g", c.Dropout)
	case c.LearningRate <= 0:
		return fmt.Errorf("learning_rate must be positive, got %g", c.LearningRate)
	case c.PosWeight <= 0:
		return fmt.Errorf("pos_weight must be positive, got %g", c.PosWeight)
	case c.MaxGradNorm <= 0:
		return fmt.Errorf("max_grad_norm must be positive, got %g", c.MaxGradNorm)
	case c.SchedulerFactor <= 0 || c.SchedulerFactor >= 1:
		return fmt.Errorf("scheduler_factor must be in (0, 1), got %g", c.SchedulerFactor)
	case c.SchedulerPatience < 0:
		return fmt.Errorf("scheduler_patience must not be negative, got %d", c.SchedulerPatience)
	case c.MaxEpochs < 0:
		return fmt.Errorf("max_epochs must not be negative, got %d", c.MaxEpochs)
	case c.CheckpointPath == "":
		return fmt.Errorf("checkpoint_path is required")
	}
	if _, err := engine.ParseDevice(c.Device); err != nil {
		return err
	}
	if _, err := checkpoints.ParseFormat(c.CheckpointFormat); err != nil {
		return err
	}
	return nil
}

func (c Config) logger() *logrus.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return logrus.New()
}

func (c Config) modelConfig() (engine.ModelConfig, error) {
	device, err := engine.ParseDevice(c.Device)
	if err != nil {
		return engine.ModelConfig{}, err
	}
	return engine.ModelConfig{
		InputSize:  c.InputSize,
		HiddenSize: c.HiddenSize,
		NumLayers:  c.NumLayers,
		Dropout:    c.Dropout,
		Seed:       c.Seed,
		Device:     device,
	}, nil
}
