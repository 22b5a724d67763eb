package monitoring

import (
	"sync"
	"time"

	"orka-vector-api/core/executor"
)

// ExportTracker keeps in-process statistics about supervised exports
type ExportTracker struct {
	mu       sync.RWMutex
	started  map[int64]time.Time
	outcomes map[executor.Outcome]int
	total    time.Duration
	finished int
	now      func() time.Time
}

// NewExportTracker creates a new export tracker
func NewExportTracker() *ExportTracker {
	return &ExportTracker{
		started:  make(map[int64]time.Time),
		outcomes: make(map[executor.Outcome]int),
		now:      time.Now,
	}
}

// ExportStarted starts timing a job
func (et *ExportTracker) ExportStarted(jobID int64) {
	et.mu.Lock()
	defer et.mu.Unlock()

	et.started[jobID] = et.now()
}

// ExportFinished stops timing a job and records how it ended
func (et *ExportTracker) ExportFinished(jobID int64, outcome executor.Outcome) {
	et.mu.Lock()
	defer et.mu.Unlock()

	if start, ok := et.started[jobID]; ok {
		et.total += et.now().Sub(start)
		et.finished++
		delete(et.started, jobID)
	}
	et.outcomes[outcome]++
}

// ExportStats is a snapshot of the tracker
type ExportStats struct {
	Running  int
	Outcomes map[executor.Outcome]int
	Finished int
	Duration time.Duration
}

// Stats returns a snapshot
func (et *ExportTracker) Stats() ExportStats {
	et.mu.RLock()
	defer et.mu.RUnlock()

	outcomes := make(map[executor.Outcome]int, len(et.outcomes))
	for o, n := range et.outcomes {
		outcomes[o] = n
	}
	return ExportStats{
		Running:  len(et.started),
		Outcomes: outcomes,
		Finished: et.finished,
		Duration: et.total,
	}
}
