package checkpoints

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/tsawler/go-audio-detector/layers"
)

func sampleCheckpoint(t *testing.T) *Checkpoint {
	t.Helper()

	spec, err := layers.NewModelBuilder(2).
		AddLSTM(3, 1, 0, "lstm").
		AddMeanPool("mean").
		AddDense(1, "output_layer").
		Compile()
	if err != nil {
		t.Fatalf("Compile() error: %v", err)
	}

	return &Checkpoint{
		ModelSpec: spec,
		Weights: []WeightTensor{
			{Name: "lstm.weight_ih_l0", Shape: []int{12, 2}, Data: seq(24, 0.5), Layer: "lstm", Type: "weight"},
			{Name: "output_layer.weight", Shape: []int{1, 3}, Data: []float32{0.1, -0.2, 0.3}, Layer: "output_layer", Type: "weight"},
			{Name: "output_layer.bias", Shape: []int{1}, Data: []float32{-1.5}, Layer: "output_layer", Type: "bias"},
		},
		TrainingState: TrainingState{
			Epoch:        4,
			Step:         120,
			LearningRate: 0.00042,
			BestLoss:     0.3125,
			TrainLoss:    0.41,
			RunID:        "run-1",
		},
		Metadata: CheckpointMetadata{Description: "test checkpoint"},
	}
}

func seq(n int, scale float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(i) * scale
	}
	return out
}

func TestCheckpointFormatString(t *testing.T) {
	tests := []struct {
		format CheckpointFormat
		want   string
	}{
		{FormatONNX, "ONNX"},
		{FormatJSON, "JSON"},
		{CheckpointFormat(9), "Unknown"},
	}
	for _, tt := range tests {
		if got := tt.format.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestParseFormat(t *testing.T) {
	if f, err := ParseFormat("JSON"); err != nil || f != FormatJSON {
		t.Errorf("ParseFormat(JSON) = %v, %v", f, err)
	}
	if f, err := ParseFormat(""); err != nil || f != FormatONNX {
		t.Errorf("ParseFormat(\"\") = %v, %v", f, err)
	}
	if _, err := ParseFormat("pickle"); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestCheckpointRoundTrip(t *testing.T) {
	for _, format := range []CheckpointFormat{FormatONNX, FormatJSON} {
		t.Run(format.String(), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "best_model.ckpt")
			saver := NewCheckpointSaver(format)
			original := sampleCheckpoint(t)

			if err := saver.SaveCheckpoint(original, path); err != nil {
				t.Fatalf("SaveCheckpoint() error: %v", err)
			}
			loaded, err := saver.LoadCheckpoint(path)
			if err != nil {
				t.Fatalf("LoadCheckpoint() error: %v", err)
			}

			if len(loaded.Weights) != len(original.Weights) {
				t.Fatalf("got %d weights, want %d", len(loaded.Weights), len(original.Weights))
			}
			for i, w := range loaded.Weights {
				o := original.Weights[i]
				if w.Name != o.Name || w.Layer != o.Layer || w.Type != o.Type {
					t.Errorf("weight %d metadata = %+v, want %+v", i, w, o)
				}
				if len(w.Shape) != len(o.Shape) {
					t.Fatalf("weight %s shape = %v, want %v", w.Name, w.Shape, o.Shape)
				}
				for j := range w.Data {
					if w.Data[j] != o.Data[j] {
						t.Fatalf("weight %s[%d] = %v, want %v", w.Name, j, w.Data[j], o.Data[j])
					}
				}
			}

			if loaded.TrainingState != original.TrainingState {
				t.Errorf("TrainingState = %+v, want %+v", loaded.TrainingState, original.TrainingState)
			}
			if loaded.ModelSpec == nil || loaded.ModelSpec.TotalParameters != original.ModelSpec.TotalParameters {
				t.Errorf("model spec not preserved")
			}
			if loaded.Metadata.Framework != frameworkName {
				t.Errorf("Framework = %q, want %q", loaded.Metadata.Framework, frameworkName)
			}
		})
	}
}

func TestONNXOptimizerStateRoundTrip(t *testing.T) {
	checkpoint := sampleCheckpoint(t)
	checkpoint.OptimizerState = &OptimizerState{
		Type:       "Adam",
		Parameters: map[string]interface{}{"learning_rate": 0.001, "step_count": float64(7)},
		StateData: []OptimizerTensor{
			{Name: "m_0", Shape: []int{3}, Data: []float32{1, 2, 3}, StateType: "m"},
			{Name: "v_0", Shape: []int{3}, Data: []float32{4, 5, 6}, StateType: "v"},
		},
	}

	data, err := NewONNXExporter().Marshal(checkpoint)
	if err != nil {
		t.Fatal(err)
	}
	loaded, err := NewONNXImporter().Unmarshal(data)
	if err != nil {
		t.Fatal(err)
	}

	if loaded.OptimizerState == nil {
		t.Fatal("optimizer state lost")
	}
	if loaded.OptimizerState.Type != "Adam" {
		t.Errorf("Type = %q, want Adam", loaded.OptimizerState.Type)
	}
	if got := loaded.OptimizerState.Parameters["step_count"]; got != float64(7) {
		t.Errorf("step_count = %v, want 7", got)
	}
	if len(loaded.OptimizerState.StateData) != 2 || loaded.OptimizerState.StateData[1].Data[2] != 6 {
		t.Errorf("state data = %+v", loaded.OptimizerState.StateData)
	}
	if len(loaded.Weights) != 3 {
		t.Errorf("optimizer tensors leaked into weights: %d weights", len(loaded.Weights))
	}
}

func TestSaveOverwritesSingleSlot(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "best_model.ckpt")
	saver := NewCheckpointSaver(FormatONNX)

	first := sampleCheckpoint(t)
	if err := saver.SaveCheckpoint(first, path); err != nil {
		t.Fatal(err)
	}
	second := sampleCheckpoint(t)
	second.TrainingState.Epoch = 9
	second.Weights[2].Data[0] = 7
	if err := saver.SaveCheckpoint(second, path); err != nil {
		t.Fatal(err)
	}

	loaded, err := saver.LoadCheckpoint(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.TrainingState.Epoch != 9 || loaded.Weights[2].Data[0] != 7 {
		t.Errorf("second save did not replace the first")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("expected only the checkpoint in %s, found %d entries", dir, len(entries))
	}
}

func TestSaveRejectsInconsistentWeights(t *testing.T) {
	checkpoint := sampleCheckpoint(t)
	checkpoint.Weights[0].Shape = []int{5, 5}
	path := filepath.Join(t.TempDir(), "bad.ckpt")
	if err := NewCheckpointSaver(FormatJSON).SaveCheckpoint(checkpoint, path); err == nil {
		t.Error("expected validation error")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("invalid checkpoint should not be written")
	}
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()
	if _, err := NewCheckpointSaver(FormatONNX).LoadCheckpoint(filepath.Join(dir, "missing.ckpt")); err == nil {
		t.Error("expected error for missing file")
	}

	garbage := filepath.Join(dir, "garbage.ckpt")
	if err := os.WriteFile(garbage, []byte{0xff, 0xff, 0xff}, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewCheckpointSaver(FormatONNX).LoadCheckpoint(garbage); err == nil {
		t.Error("expected error for malformed ONNX data")
	}
	if _, err := NewCheckpointSaver(FormatJSON).LoadCheckpoint(garbage); err == nil {
		t.Error("expected error for malformed JSON data")
	}
}

func TestUnsupportedCheckpointFormat(t *testing.T) {
	saver := NewCheckpointSaver(CheckpointFormat(42))
	err := saver.SaveCheckpoint(sampleCheckpoint(t), filepath.Join(t.TempDir(), "x"))
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("expected ErrUnsupportedFormat, got %v", err)
	}
}
