package training

import (
	"encoding/json"
	"fmt"
	"image/color"
	"os"
	"strconv"
	"strings"
	"time"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// PlotType represents different types of plots that can be generated
type PlotType string

const (
	TrainingCurves       PlotType = "training_curves"
	LearningRateSchedule PlotType = "learning_rate_schedule"
	ROCCurvePlot         PlotType = "roc_curve"
)

// PlotData is a renderer-independent description of one plot. It can be
// written as JSON or rendered to PNG with RenderPlot.
type PlotData struct {
	PlotType  PlotType  `json:"plot_type"`
	Title     string    `json:"title"`
	Timestamp time.Time `json:"timestamp"`
	ModelName string    `json:"model_name"`

	Series []SeriesData `json:"series"`
	Config PlotConfig   `json:"config"`

	Metrics map[string]interface{} `json:"metrics,omitempty"`
}

// SeriesData represents a single line in a plot
type SeriesData struct {
	Name  string      `json:"name"`
	Data  []DataPoint `json:"data"`
	Style SeriesStyle `json:"style"`
}

// SeriesStyle controls how a series is drawn
type SeriesStyle struct {
	Color     string  `json:"color"` // "#rrggbb"
	LineWidth float64 `json:"line_width"`
	Dashed    bool    `json:"dashed,omitempty"`
	// Hidden from the legend
	NoLegend bool `json:"no_legend,omitempty"`
}

// DataPoint represents a single data point
type DataPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// PlotConfig contains plot-specific configuration
type PlotConfig struct {
	XAxisLabel string `json:"x_axis_label"`
	YAxisLabel string `json:"y_axis_label"`
	// Optional fixed axis ranges as [min, max]
	XRange []float64 `json:"x_range,omitempty"`
	YRange []float64 `json:"y_range,omitempty"`
	// "lower right" (default), "upper right", "lower left" or "upper left"
	LegendPosition string  `json:"legend_position,omitempty"`
	WidthInches    float64 `json:"width_inches"`
	HeightInches   float64 `json:"height_inches"`
}

// VisualizationCollector accumulates per-epoch metrics and the last ROC
// curve of a training run for plotting.
type VisualizationCollector struct {
	modelName string
	enabled   bool

	epochs         []int
	trainingLoss   []float64
	validationLoss []float64
	learningRates  []float64

	roc *ROCCurve
	auc float64
}

// NewVisualizationCollector creates a new, enabled visualization collector
func NewVisualizationCollector(modelName string) *VisualizationCollector {
	return &VisualizationCollector{modelName: modelName, enabled: true}
}

// Enable enables visualization data collection
func (vc *VisualizationCollector) Enable() {
	vc.enabled = true
}

// Disable disables visualization data collection
func (vc *VisualizationCollector) Disable() {
	vc.enabled = false
}

// IsEnabled returns whether visualization is enabled
func (vc *VisualizationCollector) IsEnabled() bool {
	return vc.enabled
}

// RecordEpoch records epoch-level metrics
func (vc *VisualizationCollector) RecordEpoch(record EpochRecord) {
	if !vc.enabled {
		return
	}
	vc.epochs = append(vc.epochs, record.Epoch)
	vc.trainingLoss = append(vc.trainingLoss, record.TrainLoss)
	vc.validationLoss = append(vc.validationLoss, record.ValLoss)
	vc.learningRates = append(vc.learningRates, record.LearningRate)
}

// RecordROCData records the most recent ROC curve
func (vc *VisualizationCollector) RecordROCData(curve *ROCCurve, auc float64) {
	if !vc.enabled {
		return
	}
	vc.roc = curve
	vc.auc = auc
}

// GenerateTrainingCurvesPlot describes train and validation loss per epoch
func (vc *VisualizationCollector) GenerateTrainingCurvesPlot() PlotData {
	train := make([]DataPoint, len(vc.epochs))
	val := make([]DataPoint, len(vc.epochs))
	for i, e := range vc.epochs {
		train[i] = DataPoint{X: float64(e), Y: vc.trainingLoss[i]}
		val[i] = DataPoint{X: float64(e), Y: vc.validationLoss[i]}
	}
	return PlotData{
		PlotType:  TrainingCurves,
		Title:     "Training and Validation Loss",
		Timestamp: time.Now(),
		ModelName: vc.modelName,
		Series: []SeriesData{
			{Name: "Training Loss", Data: train, Style: SeriesStyle{Color: "#ff6b6b", LineWidth: 2}},
			{Name: "Validation Loss", Data: val, Style: SeriesStyle{Color: "#4ecdc4", LineWidth: 2}},
		},
		Config: PlotConfig{
			XAxisLabel:     "Epoch",
			YAxisLabel:     "Loss",
			LegendPosition: "upper right",
			WidthInches:    8,
			HeightInches:   5,
		},
	}
}

// GenerateLearningRatePlot describes the learning rate in effect per epoch
func (vc *VisualizationCollector) GenerateLearningRatePlot() PlotData {
	points := make([]DataPoint, len(vc.epochs))
	for i, e := range vc.epochs {
		points[i] = DataPoint{X: float64(e), Y: vc.learningRates[i]}
	}
	return PlotData{
		PlotType:  LearningRateSchedule,
		Title:     "Learning Rate Schedule",
		Timestamp: time.Now(),
		ModelName: vc.modelName,
		Series: []SeriesData{
			{Name: "Learning Rate", Data: points, Style: SeriesStyle{Color: "#45b7d1", LineWidth: 2}},
		},
		Config: PlotConfig{
			XAxisLabel:     "Epoch",
			YAxisLabel:     "Learning Rate",
			LegendPosition: "upper right",
			WidthInches:    8,
			HeightInches:   5,
		},
	}
}

// GenerateROCCurvePlot describes the recorded ROC curve. It fails when no
// curve has been recorded.
func (vc *VisualizationCollector) GenerateROCCurvePlot() (PlotData, error) {
	if vc.roc == nil {
		return PlotData{}, fmt.Errorf("no ROC curve recorded")
	}
	data := rocPlotData(vc.roc, vc.auc)
	data.ModelName = vc.modelName
	return data, nil
}

func rocPlotData(curve *ROCCurve, auc float64) PlotData {
	points := make([]DataPoint, len(curve.FPR))
	for i := range points {
		points[i] = DataPoint{X: curve.FPR[i], Y: curve.TPR[i]}
	}
	return PlotData{
		PlotType:  ROCCurvePlot,
		Title:     "Receiver Operating Characteristic",
		Timestamp: time.Now(),
		Series: []SeriesData{
			{
				Name:  fmt.Sprintf("ROC curve (area = %0.2f)", auc),
				Data:  points,
				Style: SeriesStyle{Color: "#ff8c00", LineWidth: 2},
			},
			{
				Name:  "chance",
				Data:  []DataPoint{{X: 0, Y: 0}, {X: 1, Y: 1}},
				Style: SeriesStyle{Color: "#000080", LineWidth: 2, Dashed: true, NoLegend: true},
			},
		},
		Metrics: map[string]interface{}{"auc": auc},
		Config: PlotConfig{
			XAxisLabel:     "False Positive Rate",
			YAxisLabel:     "True Positive Rate",
			XRange:         []float64{0, 1},
			YRange:         []float64{0, 1.05},
			LegendPosition: "lower right",
			WidthInches:    6,
			HeightInches:   6,
		},
	}
}

// RenderROCCurve draws the ROC curve with its chance diagonal to a PNG,
// replacing any existing file.
func RenderROCCurve(curve *ROCCurve, auc float64, path string) error {
	return RenderPlot(rocPlotData(curve, auc), path)
}

// RenderTrainingCurves draws train and validation loss per epoch.
func RenderTrainingCurves(records []EpochRecord, path string) error {
	if len(records) == 0 {
		return fmt.Errorf("no epochs to plot")
	}
	vc := NewVisualizationCollector("")
	for _, r := range records {
		vc.RecordEpoch(r)
	}
	return RenderPlot(vc.GenerateTrainingCurvesPlot(), path)
}

// RenderPlot renders data with gonum/plot. The image format follows the
// file extension.
func RenderPlot(data PlotData, path string) error {
	p := plot.New()
	p.Title.Text = data.Title
	p.X.Label.Text = data.Config.XAxisLabel
	p.Y.Label.Text = data.Config.YAxisLabel
	if r := data.Config.XRange; len(r) == 2 {
		p.X.Min, p.X.Max = r[0], r[1]
	}
	if r := data.Config.YRange; len(r) == 2 {
		p.Y.Min, p.Y.Max = r[0], r[1]
	}
	p.Legend.Top = strings.HasPrefix(data.Config.LegendPosition, "upper")
	p.Legend.Left = strings.HasSuffix(data.Config.LegendPosition, "left")

	for _, s := range data.Series {
		xys := make(plotter.XYs, len(s.Data))
		for i, pt := range s.Data {
			xys[i].X, xys[i].Y = pt.X, pt.Y
		}
		line, err := plotter.NewLine(xys)
		if err != nil {
			return fmt.Errorf("series %q: %w", s.Name, err)
		}
		c, err := parseHexColor(s.Style.Color)
		if err != nil {
			return fmt.Errorf("series %q: %w", s.Name, err)
		}
		line.LineStyle.Color = c
		if s.Style.LineWidth > 0 {
			line.LineStyle.Width = vg.Points(s.Style.LineWidth)
		}
		if s.Style.Dashed {
			line.LineStyle.Dashes = []vg.Length{vg.Points(6), vg.Points(4)}
		}
		p.Add(line)
		if !s.Style.NoLegend {
			p.Legend.Add(s.Name, line)
		}
	}

	w, h := data.Config.WidthInches, data.Config.HeightInches
	if w <= 0 || h <= 0 {
		w, h = 6, 6
	}
	if err := p.Save(vg.Length(w)*vg.Inch, vg.Length(h)*vg.Inch, path); err != nil {
		return fmt.Errorf("failed to save plot %s: %w", path, err)
	}
	return nil
}

// SavePlotData writes data as indented JSON
func SavePlotData(data PlotData, path string) error {
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode plot data: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("failed to write plot data: %w", err)
	}
	return nil
}

func parseHexColor(s string) (color.RGBA, error) {
	if s == "" {
		return color.RGBA{A: 255}, nil
	}
	if len(s) != 7 || s[0] != '#' {
		return color.RGBA{}, fmt.Errorf("invalid color %q", s)
	}
	v, err := strconv.ParseUint(s[1:], 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("invalid color %q: %w", s, err)
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 255}, nil
}
