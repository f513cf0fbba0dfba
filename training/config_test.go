package training

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.InputSize != 8 || cfg.HiddenSize != 16 || cfg.NumLayers != 2 {
		t.Errorf("unexpected architecture: %d/%d/%d", cfg.InputSize, cfg.HiddenSize, cfg.NumLayers)
	}
	if cfg.Dropout != 0.48 || cfg.LearningRate != 1e-3 || cfg.PosWeight != 1.6 {
		t.Errorf("unexpected hyperparameters: dropout=%g lr=%g pos_weight=%g", cfg.Dropout, cfg.LearningRate, cfg.PosWeight)
	}
	if cfg.SchedulerFactor != 0.42 || cfg.SchedulerPatience != 2 {
		t.Errorf("unexpected scheduler settings: %g/%d", cfg.SchedulerFactor, cfg.SchedulerPatience)
	}
	if cfg.Patience != 5 || cfg.MaxEpochs != 15 || cfg.CheckpointPath != "best_model.ckpt" || cfg.ROCPlotPath != "roc_curve.png" {
		t.Errorf("unexpected run settings: %+v", cfg)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"input size", func(c *Config) { c.InputSize = 0 }},
		{"hidden size", func(c *Config) { c.HiddenSize = -1 }},
		{"layers", func(c *Config) { c.NumLayers = 0 }},
		{"dropout", func(c *Config) { c.Dropout = 1 }},
		{"learning rate", func(c *Config) { c.LearningRate = 0 }},
		{"pos weight", func(c *Config) { c.PosWeight = 0 }},
		{"grad norm", func(c *Config) { c.MaxGradNorm = 0 }},
		{"factor", func(c *Config) { c.SchedulerFactor = 1 }},
		{"scheduler patience", func(c *Config) { c.SchedulerPatience = -1 }},
		{"max epochs", func(c *Config) { c.MaxEpochs = -1 }},
		{"checkpoint path", func(c *Config) { c.CheckpointPath = "" }},
		{"device", func(c *Config) { c.Device = "cuda" }},
		{"format", func(c *Config) { c.CheckpointFormat = "pickle" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoadConfigKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{"hidden_size": 32, "max_epochs": 3, "checkpoint_format": "json"}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.HiddenSize != 32 || cfg.MaxEpochs != 3 || cfg.CheckpointFormat != "json" {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if cfg.InputSize != 8 || cfg.Dropout != 0.48 {
		t.Errorf("defaults lost: input=%d dropout=%g", cfg.InputSize, cfg.Dropout)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	dir := t.TempDir()
	if _, err := LoadConfig(filepath.Join(dir, "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}

	bad := filepath.Join(dir, "bad.json")
	os.WriteFile(bad, []byte(`{"dropout": 1.5}`), 0o644)
	if _, err := LoadConfig(bad); err == nil {
		t.Error("expected validation error")
	}

	garbage := filepath.Join(dir, "garbage.json")
	os.WriteFile(garbage, []byte(`not json`), 0o644)
	if _, err := LoadConfig(garbage); err == nil {
		t.Error("expected parse error")
	}
}
