package training

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/tsawler/go-audio-detector/layers"
)

func TestProgressBar(t *testing.T) {
	var buf bytes.Buffer
	pb := NewProgressBar(&buf, "Epoch 1/15 (Training)", 4)
	for i := 1; i <= 4; i++ {
		pb.Update(i, map[string]float64{"loss": 0.5, "acc": 0.25})
	}
	pb.Finish()

	out := buf.String()
	for _, want := range []string{"Epoch 1/15 (Training)", "100%", "4/4", "acc=0.2500, loss=0.5000"} {
		if !strings.Contains(out, want) {
			t.Errorf("progress output missing %q:\n%s", want, out)
		}
	}
	if !strings.HasSuffix(out, "\n") {
		t.Error("Finish() should end the line")
	}
}

func TestProgressBarZeroTotal(t *testing.T) {
	var buf bytes.Buffer
	pb := NewProgressBar(&buf, "Predicting", 0)
	pb.Finish()
	if !strings.Contains(buf.String(), "100%") {
		t.Errorf("empty progress bar should render as complete: %q", buf.String())
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "00:00"},
		{59 * time.Second, "00:59"},
		{125 * time.Second, "02:05"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestFormatParameterCount(t *testing.T) {
	tests := []struct {
		count int64
		want  string
	}{
		{17, "17"},
		{3857, "3.9K"},
		{2500000, "2.5M"},
	}
	for _, tt := range tests {
		if got := formatParameterCount(tt.count); got != tt.want {
			t.Errorf("formatParameterCount(%d) = %q, want %q", tt.count, got, tt.want)
		}
	}
}

func TestModelArchitecturePrinting(t *testing.T) {
	spec, err := layers.NewModelBuilder(8).
		AddLSTM(16, 2, 0.48, "lstm").
		AddMeanPool("mean").
		AddDense(1, "output_layer").
		Compile()
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	NewModelArchitecturePrinter("AudioDetector").PrintArchitecture(&buf, spec)
	out := buf.String()
	for _, want := range []string{
		"AudioDetector(",
		"(lstm): LSTM(8, 16, num_layers=2, batch_first=True, dropout=0.48)",
		"(output_layer): Linear(in_features=16, out_features=1, bias=True)",
		"Total parameters: 3.9K",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("architecture missing %q:\n%s", want, out)
		}
	}
}
