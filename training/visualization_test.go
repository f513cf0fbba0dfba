package training

import (
	"bytes"
	"encoding/json"
	"image/color"
	"os"
	"path/filepath"
	"testing"
)

var pngMagic = []byte("\x89PNG")

func assertPNG(t *testing.T, path string) {
	t.Helper()
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("plot not written: %v", err)
	}
	if !bytes.HasPrefix(raw, pngMagic) {
		t.Errorf("%s is not a PNG file", path)
	}
}

func sampleRecords() []EpochRecord {
	return []EpochRecord{
		{Epoch: 1, TrainLoss: 0.9, ValLoss: 0.8, LearningRate: 1e-3, Improved: true},
		{Epoch: 2, TrainLoss: 0.7, ValLoss: 0.75, LearningRate: 1e-3, Improved: true},
		{Epoch: 3, TrainLoss: 0.6, ValLoss: 0.78, LearningRate: 4.2e-4},
	}
}

func TestVisualizationCollectorRecords(t *testing.T) {
	vc := NewVisualizationCollector("AudioDetector")
	if !vc.IsEnabled() {
		t.Fatal("new collector should be enabled")
	}
	for _, r := range sampleRecords() {
		vc.RecordEpoch(r)
	}

	curves := vc.GenerateTrainingCurvesPlot()
	if curves.PlotType != TrainingCurves || len(curves.Series) != 2 {
		t.Fatalf("unexpected training curves: %+v", curves)
	}
	if got := curves.Series[1].Data[2]; got.X != 3 || got.Y != 0.78 {
		t.Errorf("validation point = %+v", got)
	}

	lr := vc.GenerateLearningRatePlot()
	if got := lr.Series[0].Data[2].Y; got != 4.2e-4 {
		t.Errorf("learning rate at epoch 3 = %g", got)
	}

	vc.Disable()
	vc.RecordEpoch(EpochRecord{Epoch: 4})
	if n := len(vc.GenerateTrainingCurvesPlot().Series[0].Data); n != 3 {
		t.Errorf("disabled collector recorded an epoch: %d points", n)
	}
}

func TestGenerateROCCurvePlot(t *testing.T) {
	vc := NewVisualizationCollector("AudioDetector")
	if _, err := vc.GenerateROCCurvePlot(); err == nil {
		t.Error("expected error before any ROC curve is recorded")
	}

	curve, err := ComputeROC([]float32{0, 0, 1, 1}, []float32{0.1, 0.4, 0.35, 0.8})
	if err != nil {
		t.Fatal(err)
	}
	vc.RecordROCData(curve, curve.AUC())

	data, err := vc.GenerateROCCurvePlot()
	if err != nil {
		t.Fatal(err)
	}
	if data.Series[0].Name != "ROC curve (area = 0.75)" {
		t.Errorf("curve label = %q", data.Series[0].Name)
	}
	chance := data.Series[1]
	if !chance.Style.Dashed || !chance.Style.NoLegend || chance.Style.Color != "#000080" {
		t.Errorf("chance diagonal style = %+v", chance.Style)
	}
	if data.Config.LegendPosition != "lower right" || data.Config.YRange[1] != 1.05 {
		t.Errorf("unexpected config: %+v", data.Config)
	}
	if data.ModelName != "AudioDetector" {
		t.Errorf("ModelName = %q", data.ModelName)
	}
}

func TestRenderROCCurve(t *testing.T) {
	curve, err := ComputeROC([]float32{0, 1, 0, 1, 1}, []float32{0.2, 0.9, 0.6, 0.4, 0.7})
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "roc_curve.png")
	if err := RenderROCCurve(curve, curve.AUC(), path); err != nil {
		t.Fatal(err)
	}
	assertPNG(t, path)

	// Rendering again replaces the file.
	if err := RenderROCCurve(curve, curve.AUC(), path); err != nil {
		t.Fatal(err)
	}
	assertPNG(t, path)
}

func TestRenderTrainingCurves(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "loss.png")
	if err := RenderTrainingCurves(sampleRecords(), path); err != nil {
		t.Fatal(err)
	}
	assertPNG(t, path)

	if err := RenderTrainingCurves(nil, filepath.Join(dir, "empty.png")); err == nil {
		t.Error("expected error with no epochs")
	}
}

func TestRenderPlotRejectsBadColor(t *testing.T) {
	data := PlotData{
		Title:  "bad",
		Series: []SeriesData{{Name: "x", Data: []DataPoint{{0, 0}, {1, 1}}, Style: SeriesStyle{Color: "orange"}}},
	}
	if err := RenderPlot(data, filepath.Join(t.TempDir(), "bad.png")); err == nil {
		t.Error("expected color parse error")
	}
}

func TestSavePlotData(t *testing.T) {
	vc := NewVisualizationCollector("AudioDetector")
	for _, r := range sampleRecords() {
		vc.RecordEpoch(r)
	}
	path := filepath.Join(t.TempDir(), "curves.json")
	if err := SavePlotData(vc.GenerateTrainingCurvesPlot(), path); err != nil {
		t.Fatal(err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var decoded PlotData
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.PlotType != TrainingCurves || len(decoded.Series[0].Data) != 3 {
		t.Errorf("decoded plot data = %+v", decoded)
	}
}

func TestParseHexColor(t *testing.T) {
	tests := []struct {
		in      string
		want    color.RGBA
		wantErr bool
	}{
		{"#ff8c00", color.RGBA{R: 0xff, G: 0x8c, B: 0x00, A: 0xff}, false},
		{"#000080", color.RGBA{B: 0x80, A: 0xff}, false},
		{"", color.RGBA{A: 0xff}, false},
		{"ff8c00", color.RGBA{}, true},
		{"#zzzzzz", color.RGBA{}, true},
	}
	for _, tt := range tests {
		got, err := parseHexColor(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseHexColor(%q) error = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("parseHexColor(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
