package scheduler

import (
	"context"
	"fmt"
)

// unitsPerExport is what one accepted job occupies: the export itself and
// the watchdog supervising it
const unitsPerExport = 2

// RunningCounter reports how many jobs are currently RUNNING
type RunningCounter interface {
	CountRunning(ctx context.Context) (int, error)
}

// AdmissionController gates new exports on the number of running jobs
type AdmissionController struct {
	counter RunningCounter
}

// NewAdmissionController creates a new admission controller
func NewAdmissionController(counter RunningCounter) *AdmissionController {
	return &AdmissionController{counter: counter}
}

// HasCapacity reports whether one more export plus its watchdog fits into
// maxConcurrent units
func (a *AdmissionController) HasCapacity(ctx context.Context, maxConcurrent int) (bool, error) {
	running, err := a.counter.CountRunning(ctx)
	if err != nil {
		return false, fmt.Errorf("count running jobs: %w", err)
	}
	return maxConcurrent-unitsPerExport*running >= unitsPerExport, nil
}
