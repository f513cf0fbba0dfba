package training

import "math"

// EarlyStopping tracks the best validation loss and counts down the
// epochs left without improvement. With patience <= 0 the counter never
// reaches zero and training only ends at the epoch bound.
type EarlyStopping struct {
	Patience int

	best    float64
	counter int
	stopped bool
}

// NewEarlyStopping starts with an infinite best loss.
func NewEarlyStopping(patience int) *EarlyStopping {
	return &EarlyStopping{
		Patience: patience,
		best:     math.Inf(1),
		counter:  patience,
	}
}

// Observe records one epoch's validation loss. It reports whether the
// loss strictly improved on the best so far, i.e. whether a checkpoint
// should be written.
func (es *EarlyStopping) Observe(valLoss float64) (improved bool) {
	if valLoss < es.best {
		es.best = valLoss
		es.counter = es.Patience
		return true
	}
	es.counter--
	if es.counter == 0 {
		es.stopped = true
	}
	return false
}

// ShouldStop reports whether the countdown has hit zero.
func (es *EarlyStopping) ShouldStop() bool {
	return es.stopped
}

// Best returns the lowest validation loss observed.
func (es *EarlyStopping) Best() float64 {
	return es.best
}

// Remaining returns the countdown value.
func (es *EarlyStopping) Remaining() int {
	return es.counter
}
