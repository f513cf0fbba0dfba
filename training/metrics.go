package training

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/stat"
)

// ErrSingleClass is returned when the labels contain only one class, which
// leaves the ROC curve undefined.
var ErrSingleClass = errors.New("training: labels contain a single class")

// MetricType represents binary classification metrics
type MetricType int

const (
	Accuracy MetricType = iota
	Precision
	Recall
	F1Score
	Specificity
	NPV // Negative Predictive Value
)

func (mt MetricType) String() string {
	switch mt {
	case Accuracy:
		return "Accuracy"
	case Precision:
		return "Precision"
	case Recall:
		return "Recall"
	case F1Score:
		return "F1Score"
	case Specificity:
		return "Specificity"
	case NPV:
		return "NPV"
	default:
		return fmt.Sprintf("Unknown(%d)", int(mt))
	}
}

// ConfusionMatrix counts binary decisions against true labels.
type ConfusionMatrix struct {
	TruePositives  int
	FalsePositives int
	TrueNegatives  int
	FalseNegatives int
}

// NewConfusionMatrix builds the matrix for decisions made by thresholding
// probabilities strictly above threshold.
func NewConfusionMatrix(yTrue, yProb []float32, threshold float32) (*ConfusionMatrix, error) {
	if len(yTrue) != len(yProb) {
		return nil, fmt.Errorf("got %d labels but %d scores", len(yTrue), len(yProb))
	}
	cm := &ConfusionMatrix{}
	for i, label := range yTrue {
		predicted := yProb[i] > threshold
		actual := label > 0.5
		switch {
		case predicted && actual:
			cm.TruePositives++
		case predicted && !actual:
			cm.FalsePositives++
		case !predicted && actual:
			cm.FalseNegatives++
		default:
			cm.TrueNegatives++
		}
	}
	return cm, nil
}

// Total returns the number of samples counted.
func (cm *ConfusionMatrix) Total() int {
	return cm.TruePositives + cm.FalsePositives + cm.TrueNegatives + cm.FalseNegatives
}

// GetMetric returns the requested metric, or 0 when its denominator is 0.
func (cm *ConfusionMatrix) GetMetric(metric MetricType) float64 {
	switch metric {
	case Accuracy:
		return ratio(cm.TruePositives+cm.TrueNegatives, cm.Total())
	case Precision:
		return ratio(cm.TruePositives, cm.TruePositives+cm.FalsePositives)
	case Recall:
		return ratio(cm.TruePositives, cm.TruePositives+cm.FalseNegatives)
	case F1Score:
		p, r := cm.GetMetric(Precision), cm.GetMetric(Recall)
		if p+r == 0 {
			return 0
		}
		return 2 * p * r / (p + r)
	case Specificity:
		return ratio(cm.TrueNegatives, cm.TrueNegatives+cm.FalsePositives)
	case NPV:
		return ratio(cm.TrueNegatives, cm.TrueNegatives+cm.FalseNegatives)
	default:
		return 0
	}
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

// BinaryReport summarizes decisions at the 0.5 threshold.
type BinaryReport struct {
	Accuracy    float64
	Precision   float64
	Recall      float64
	F1          float64
	Specificity float64
	Confusion   ConfusionMatrix
}

// NewBinaryReport computes the report from labels and probabilities.
func NewBinaryReport(yTrue, yProb []float32) (*BinaryReport, error) {
	cm, err := NewConfusionMatrix(yTrue, yProb, 0.5)
	if err != nil {
		return nil, err
	}
	return &BinaryReport{
		Accuracy:    cm.GetMetric(Accuracy),
		Precision:   cm.GetMetric(Precision),
		Recall:      cm.GetMetric(Recall),
		F1:          cm.GetMetric(F1Score),
		Specificity: cm.GetMetric(Specificity),
		Confusion:   *cm,
	}, nil
}

func (r *BinaryReport) String() string {
	return fmt.Sprintf("accuracy=%.4f precision=%.4f recall=%.4f f1=%.4f specificity=%.4f (tp=%d fp=%d tn=%d fn=%d)",
		r.Accuracy, r.Precision, r.Recall, r.F1, r.Specificity,
		r.Confusion.TruePositives, r.Confusion.FalsePositives, r.Confusion.TrueNegatives, r.Confusion.FalseNegatives)
}

// ROCPoint represents a point on the ROC curve
type ROCPoint struct {
	Threshold float64
	TPR       float64 // True Positive Rate (Recall)
	FPR       float64 // False Positive Rate (1 - Specificity)
}

// ROCCurve holds every operating point implied by the distinct scores.
// FPR and TPR ascend from 0 to 1; Thresholds descend from +Inf.
type ROCCurve struct {
	FPR        []float64
	TPR        []float64
	Thresholds []float64
}

// ComputeROC computes the ROC curve of yProb against binary labels yTrue.
func ComputeROC(yTrue, yProb []float32) (*ROCCurve, error) {
	if len(yTrue) != len(yProb) {
		return nil, fmt.Errorf("got %d labels but %d scores", len(yTrue), len(yProb))
	}
	if len(yTrue) == 0 {
		return nil, fmt.Errorf("cannot compute ROC of empty input")
	}

	type scored struct {
		score    float64
		positive bool
	}
	pairs := make([]scored, len(yProb))
	positives := 0
	for i, p := range yProb {
		if math.IsNaN(float64(p)) {
			return nil, fmt.Errorf("score %d is NaN", i)
		}
		pairs[i] = scored{score: float64(p), positive: yTrue[i] > 0.5}
		if pairs[i].positive {
			positives++
		}
	}
	if positives == 0 || positives == len(pairs) {
		return nil, ErrSingleClass
	}

	// stat.ROC requires scores in ascending order.
	sort.SliceStable(pairs, func(i, j int) bool { return pairs[i].score < pairs[j].score })
	y := make([]float64, len(pairs))
	classes := make([]bool, len(pairs))
	for i, p := range pairs {
		y[i] = p.score
		classes[i] = p.positive
	}

	tpr, fpr, thresholds := stat.ROC(nil, y, classes, nil)
	return &ROCCurve{FPR: fpr, TPR: tpr, Thresholds: thresholds}, nil
}

// AUC integrates the curve with the trapezoidal rule.
func (c *ROCCurve) AUC() float64 {
	return integrate.Trapezoidal(c.FPR, c.TPR)
}

// Points returns the curve as threshold-annotated points.
func (c *ROCCurve) Points() []ROCPoint {
	points := make([]ROCPoint, len(c.FPR))
	for i := range points {
		points[i] = ROCPoint{Threshold: c.Thresholds[i], TPR: c.TPR[i], FPR: c.FPR[i]}
	}
	return points
}

// CalculateAUCROC computes the area under the ROC curve in one call.
func CalculateAUCROC(yTrue, yProb []float32) (float64, error) {
	curve, err := ComputeROC(yTrue, yProb)
	if err != nil {
		return 0, err
	}
	return curve.AUC(), nil
}
