package training

import (
	"errors"
	"math"
	"testing"
)

func TestComputeROCKnownCurve(t *testing.T) {
	yTrue := []float32{0, 0, 1, 1}
	yProb := []float32{0.1, 0.4, 0.35, 0.8}

	curve, err := ComputeROC(yTrue, yProb)
	if err != nil {
		t.Fatal(err)
	}

	wantFPR := []float64{0, 0, 0.5, 0.5, 1}
	wantTPR := []float64{0, 0.5, 0.5, 1, 1}
	if len(curve.FPR) != len(wantFPR) {
		t.Fatalf("got %d points, want %d: fpr=%v tpr=%v", len(curve.FPR), len(wantFPR), curve.FPR, curve.TPR)
	}
	for i := range wantFPR {
		if math.Abs(curve.FPR[i]-wantFPR[i]) > 1e-12 || math.Abs(curve.TPR[i]-wantTPR[i]) > 1e-12 {
			t.Errorf("point %d = (%v, %v), want (%v, %v)", i, curve.FPR[i], curve.TPR[i], wantFPR[i], wantTPR[i])
		}
	}
	if !math.IsInf(curve.Thresholds[0], 1) {
		t.Errorf("first threshold = %v, want +Inf", curve.Thresholds[0])
	}
	for i := 1; i < len(curve.Thresholds); i++ {
		if curve.Thresholds[i] >= curve.Thresholds[i-1] {
			t.Errorf("thresholds not descending: %v", curve.Thresholds)
		}
	}
	if auc := curve.AUC(); math.Abs(auc-0.75) > 1e-12 {
		t.Errorf("AUC = %v, want 0.75", auc)
	}
}

func TestAUCProperties(t *testing.T) {
	yTrue := []float32{0, 1, 0, 1, 1, 0, 0, 1}
	tests := []struct {
		name  string
		yProb []float32
		want  float64
	}{
		{"perfect separator", []float32{0.1, 0.9, 0.2, 0.8, 0.7, 0.3, 0.05, 0.95}, 1},
		{"inverted separator", []float32{0.9, 0.1, 0.8, 0.2, 0.3, 0.7, 0.95, 0.05}, 0},
		{"constant predictor", []float32{0.5, 0.5, 0.5, 0.5, 0.5, 0.5, 0.5, 0.5}, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CalculateAUCROC(yTrue, tt.yProb)
			if err != nil {
				t.Fatal(err)
			}
			if math.Abs(got-tt.want) > 1e-12 {
				t.Errorf("AUC = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAUCInvariantUnderMonotoneTransform(t *testing.T) {
	yTrue := []float32{0, 1, 1, 0, 1, 0, 1, 0, 0, 1}
	yProb := []float32{0.2, 0.6, 0.4, 0.5, 0.9, 0.1, 0.3, 0.7, 0.25, 0.8}

	base, err := CalculateAUCROC(yTrue, yProb)
	if err != nil {
		t.Fatal(err)
	}
	transformed := make([]float32, len(yProb))
	for i, p := range yProb {
		transformed[i] = float32(math.Exp(3 * float64(p)))
	}
	got, err := CalculateAUCROC(yTrue, transformed)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(got-base) > 1e-12 {
		t.Errorf("AUC changed under monotone transform: %v vs %v", got, base)
	}
}

func TestComputeROCErrors(t *testing.T) {
	if _, err := ComputeROC([]float32{0, 1}, []float32{0.5}); err == nil {
		t.Error("expected length mismatch error")
	}
	if _, err := ComputeROC(nil, nil); err == nil {
		t.Error("expected empty input error")
	}
	if _, err := ComputeROC([]float32{1, 1, 1}, []float32{0.2, 0.4, 0.9}); !errors.Is(err, ErrSingleClass) {
		t.Errorf("expected ErrSingleClass, got %v", err)
	}
	if _, err := ComputeROC([]float32{0, 1}, []float32{float32(math.NaN()), 0.4}); err == nil {
		t.Error("expected NaN score error")
	}
}

func TestBinaryReport(t *testing.T) {
	yTrue := []float32{1, 1, 1, 0, 0, 0, 0, 1}
	yProb := []float32{0.9, 0.6, 0.4, 0.2, 0.7, 0.5, 0.1, 0.8}

	report, err := NewBinaryReport(yTrue, yProb)
	if err != nil {
		t.Fatal(err)
	}
	// 0.5 is not above the threshold, so that sample counts as negative.
	cm := report.Confusion
	if cm.TruePositives != 3 || cm.FalseNegatives != 1 || cm.FalsePositives != 1 || cm.TrueNegatives != 3 {
		t.Fatalf("confusion = %+v", cm)
	}
	checks := []struct {
		name      string
		got, want float64
	}{
		{"accuracy", report.Accuracy, 0.75},
		{"precision", report.Precision, 0.75},
		{"recall", report.Recall, 0.75},
		{"f1", report.F1, 0.75},
		{"specificity", report.Specificity, 0.75},
	}
	for _, c := range checks {
		if math.Abs(c.got-c.want) > 1e-12 {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
	if report.String() == "" {
		t.Error("empty report string")
	}
}

func TestConfusionMatrixZeroDenominators(t *testing.T) {
	cm, err := NewConfusionMatrix([]float32{0, 0}, []float32{0.1, 0.2}, 0.5)
	if err != nil {
		t.Fatal(err)
	}
	for _, m := range []MetricType{Precision, Recall, F1Score} {
		if got := cm.GetMetric(m); got != 0 {
			t.Errorf("%s = %v, want 0", m, got)
		}
	}
	if cm.GetMetric(Specificity) != 1 || cm.GetMetric(NPV) != 1 {
		t.Error("specificity and NPV should be 1 with only true negatives")
	}
	if MetricType(42).String() != "Unknown(42)" {
		t.Errorf("unexpected name %q", MetricType(42).String())
	}
}
