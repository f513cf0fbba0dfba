package training

import (
	"math"
	"testing"
)

func TestReduceLROnPlateauReducesAfterPatience(t *testing.T) {
	s := NewReduceLROnPlateauScheduler(0.42, 2, 1e-4, "min")
	lr := 1e-3

	// The first metric always improves on +Inf; the next three do not.
	wantLRs := []float64{1e-3, 1e-3, 1e-3, 4.2e-4}
	for i, want := range wantLRs {
		lr = s.Step(1.0, lr)
		if math.Abs(lr-want) > 1e-15 {
			t.Fatalf("step %d: lr = %g, want %g", i+1, lr, want)
		}
	}
	if s.BadEpochs() != 0 {
		t.Errorf("bad epochs not reset after reduction: %d", s.BadEpochs())
	}

	// Three more flat epochs reduce again.
	for i := 0; i < 3; i++ {
		lr = s.Step(1.0, lr)
	}
	if math.Abs(lr-4.2e-4*0.42) > 1e-15 {
		t.Errorf("second reduction lr = %g, want %g", lr, 4.2e-4*0.42)
	}
}

func TestReduceLROnPlateauRelativeThreshold(t *testing.T) {
	s := NewReduceLROnPlateauScheduler(0.5, 0, 1e-4, "min")
	lr := s.Step(1.0, 1.0)
	if lr != 1.0 {
		t.Fatalf("first step changed lr to %g", lr)
	}
	// 0.99995 is not below 1.0*(1-1e-4), so it counts as a bad epoch and
	// patience 0 reduces immediately.
	lr = s.Step(0.99995, lr)
	if lr != 0.5 {
		t.Errorf("lr = %g, want 0.5", lr)
	}
	if s.BestMetric() != 1.0 {
		t.Errorf("best = %g, want 1.0", s.BestMetric())
	}

	lr = s.Step(0.9, lr)
	if lr != 0.5 || s.BestMetric() != 0.9 {
		t.Errorf("improvement not recorded: lr=%g best=%g", lr, s.BestMetric())
	}
}

func TestReduceLROnPlateauIgnoresTinyReductions(t *testing.T) {
	s := NewReduceLROnPlateauScheduler(0.5, 0, 1e-4, "min")
	lr := s.Step(1.0, 1e-8)
	lr = s.Step(2.0, lr)
	if lr != 1e-8 {
		t.Errorf("lr = %g, want unchanged 1e-8", lr)
	}
}

func TestReduceLROnPlateauMaxMode(t *testing.T) {
	s := NewReduceLROnPlateauScheduler(0.1, 1, 1e-4, "max")
	lr := 1.0
	for _, m := range []float64{0.5, 0.6, 0.6, 0.6} {
		lr = s.Step(m, lr)
	}
	if math.Abs(lr-0.1) > 1e-15 {
		t.Errorf("lr = %g, want 0.1", lr)
	}
}

func TestNewReduceLROnPlateauDefaults(t *testing.T) {
	s := NewReduceLROnPlateauScheduler(2, -1, -1, "sideways")
	if s.Factor != 0.1 || s.Patience != 10 || s.Threshold != 1e-4 || s.Mode != "min" {
		t.Errorf("unexpected defaults: %+v", s)
	}
	if s.GetName() != "ReduceLROnPlateau" {
		t.Errorf("GetName() = %q", s.GetName())
	}
}
