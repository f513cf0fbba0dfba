package engine

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/tsawler/go-audio-detector/tensor"
)

func randomBatch(t *testing.T, rng *rand.Rand, batch, steps, features int) *tensor.Tensor {
	t.Helper()
	data := make([]float32, batch*steps*features)
	for i := range data {
		data[i] = float32(rng.NormFloat64())
	}
	x, err := tensor.NewTensor([]int{batch, steps, features}, data)
	if err != nil {
		t.Fatal(err)
	}
	return x
}

func newTestEngine(t *testing.T) *ModelEngine {
	t.Helper()
	me, err := NewModelEngine(DefaultModelConfig())
	if err != nil {
		t.Fatalf("NewModelEngine() error: %v", err)
	}
	return me
}

func TestForwardReturnsOneLogitPerSample(t *testing.T) {
	me := newTestEngine(t)
	rng := rand.New(rand.NewSource(1))

	tests := []struct {
		batch, steps int
	}{
		{1, 1},
		{1, 20},
		{4, 7},
		{32, 3},
	}
	for _, mode := range []string{"train", "eval"} {
		if mode == "train" {
			me.Train()
		} else {
			me.Eval()
		}
		for _, tt := range tests {
			logits, err := me.Forward(randomBatch(t, rng, tt.batch, tt.steps, 8))
			if err != nil {
				t.Fatalf("%s (%d,%d): %v", mode, tt.batch, tt.steps, err)
			}
			if len(logits) != tt.batch {
				t.Errorf("%s (%d,%d): got %d logits", mode, tt.batch, tt.steps, len(logits))
			}
		}
	}
}

func TestForwardRejectsWrongFeatureSize(t *testing.T) {
	me := newTestEngine(t)
	_, err := me.Forward(randomBatch(t, rand.New(rand.NewSource(1)), 2, 3, 5))
	if !errors.Is(err, tensor.ErrShapeMismatch) {
		t.Errorf("expected ErrShapeMismatch, got %v", err)
	}
}

func TestEvalIsDeterministic(t *testing.T) {
	me := newTestEngine(t)
	me.Eval()
	x := randomBatch(t, rand.New(rand.NewSource(5)), 3, 6, 8)
	a, err := me.Forward(x)
	if err != nil {
		t.Fatal(err)
	}
	b, err := me.Forward(x)
	if err != nil {
		t.Fatal(err)
	}
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("logit %d changed between evaluation passes: %v vs %v", i, a[i], b[i])
		}
	}
}

func TestSeedReproducesInitialization(t *testing.T) {
	a := newTestEngine(t).ExportWeights()
	b := newTestEngine(t).ExportWeights()
	for i := range a {
		for k := range a[i].Data {
			if a[i].Data[k] != b[i].Data[k] {
				t.Fatalf("%s differs between engines with the same seed", a[i].Name)
			}
		}
	}
}

func TestBackwardRequiresTrainingForward(t *testing.T) {
	me := newTestEngine(t)
	if err := me.Backward([]float64{1}); err == nil {
		t.Error("expected error without forward pass")
	}

	me.Eval()
	if _, err := me.Forward(randomBatch(t, rand.New(rand.NewSource(1)), 1, 2, 8)); err != nil {
		t.Fatal(err)
	}
	if err := me.Backward([]float64{1}); err == nil {
		t.Error("expected error after evaluation forward pass")
	}
}

func TestBackwardProducesGradients(t *testing.T) {
	me := newTestEngine(t)
	me.Train()
	if _, err := me.Forward(randomBatch(t, rand.New(rand.NewSource(2)), 4, 5, 8)); err != nil {
		t.Fatal(err)
	}
	if err := me.Backward([]float64{0.1, -0.2, 0.3, -0.4}); err != nil {
		t.Fatal(err)
	}
	for _, p := range me.Parameters() {
		var sum float64
		for _, g := range p.GradData() {
			sum += math.Abs(g)
		}
		if sum == 0 {
			t.Errorf("%s received no gradient", p.Name)
		}
	}

	me.ZeroGrad()
	for _, p := range me.Parameters() {
		for _, g := range p.GradData() {
			if g != 0 {
				t.Fatalf("%s gradient not cleared", p.Name)
			}
		}
	}
}

func TestWeightsRoundTrip(t *testing.T) {
	src := newTestEngine(t)
	cfg := DefaultModelConfig()
	cfg.Seed = 99
	dst, err := NewModelEngine(cfg)
	if err != nil {
		t.Fatal(err)
	}

	weights := src.ExportWeights()
	if len(weights) != 10 {
		t.Fatalf("exported %d tensors, want 10", len(weights))
	}
	if weights[0].Layer != "lstm" || weights[9].Name != "output_layer.bias" || weights[9].Type != "bias" {
		t.Errorf("unexpected tensor metadata: %+v / %+v", weights[0], weights[9])
	}
	if err := dst.LoadWeights(weights); err != nil {
		t.Fatal(err)
	}

	x := randomBatch(t, rand.New(rand.NewSource(3)), 2, 4, 8)
	src.Eval()
	dst.Eval()
	a, _ := src.Forward(x)
	b, _ := dst.Forward(x)
	for i := range a {
		if math.Abs(a[i]-b[i]) > 1e-5 {
			t.Errorf("logit %d = %v after load, want %v", i, b[i], a[i])
		}
	}
}

func TestLoadWeightsRejectsMismatch(t *testing.T) {
	me := newTestEngine(t)
	weights := me.ExportWeights()

	if err := me.LoadWeights(weights[:9]); err == nil {
		t.Error("expected error for missing tensor")
	}

	bad := me.ExportWeights()
	bad[9].Shape = []int{2}
	bad[9].Data = []float32{1, 2}
	if err := me.LoadWeights(bad); !errors.Is(err, tensor.ErrShapeMismatch) {
		t.Errorf("expected ErrShapeMismatch, got %v", err)
	}
}

func TestNewModelEngineRejectsUnsupportedDevice(t *testing.T) {
	cfg := DefaultModelConfig()
	cfg.Device = Device("metal")
	if _, err := NewModelEngine(cfg); !errors.Is(err, ErrUnsupportedDevice) {
		t.Errorf("expected ErrUnsupportedDevice, got %v", err)
	}
}

func TestModelSummary(t *testing.T) {
	me := newTestEngine(t)
	if got := me.GetModelSpec().TotalParameters; got != 3857 {
		t.Errorf("TotalParameters = %d, want 3857", got)
	}
	if me.GetModelSummary() == "" {
		t.Error("empty summary")
	}
}
