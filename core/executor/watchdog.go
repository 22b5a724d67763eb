package executor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"orka-vector-api/core/models"
)

// Outcome is how a supervised export ended
type Outcome string

const (
	OutcomeCompleted Outcome = "COMPLETED"
	OutcomeFailed    Outcome = "FAILED"
	OutcomeTimedOut  Outcome = "TIMED_OUT"
)

// Status maps an outcome to the terminal job status it is reported as
func (o Outcome) Status() models.JobStatus {
	switch o {
	case OutcomeCompleted:
		return models.JobStatusCreated
	case OutcomeFailed:
		return models.JobStatusError
	case OutcomeTimedOut:
		return models.JobStatusTimeout
	default:
		panic(fmt.Sprintf("unknown export outcome %q", string(o)))
	}
}

// Exporter runs the export for one job
type Exporter interface {
	Run(ctx context.Context, dataID string, bbox models.BBox, layers []string) error
}

const defaultReportTimeout = 30 * time.Second

// ExportWatchdog supervises one export with a deadline and always reports
// a terminal status for the job afterwards
type ExportWatchdog struct {
	engine        Exporter
	reporter      StatusReporter
	timeout       time.Duration
	reportTimeout time.Duration
}

// NewExportWatchdog creates a watchdog. A timeout <= 0 disables the deadline.
func NewExportWatchdog(engine Exporter, reporter StatusReporter, timeout time.Duration) *ExportWatchdog {
	return &ExportWatchdog{
		engine:        engine,
		reporter:      reporter,
		timeout:       timeout,
		reportTimeout: defaultReportTimeout,
	}
}

// Run exports job and reports the result. When the deadline passes the
// export is asked to stop and Run waits for it to actually return before
// reporting TIMEOUT, so no engine work outlives the call.
func (w *ExportWatchdog) Run(ctx context.Context, job *models.Job) (outcome Outcome) {
	outcome = OutcomeFailed
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Watchdog for job %d panicked: %v", job.ID, r)
			outcome = OutcomeFailed
		}
		w.report(job.ID, outcome)
	}()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("export panicked: %v", r)
			}
		}()
		done <- w.engine.Run(runCtx, job.DataID, job.BBox, job.Layers)
	}()

	var deadline <-chan time.Time
	if w.timeout > 0 {
		timer := time.NewTimer(w.timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	select {
	case err := <-done:
		if err != nil {
			// includes ErrExportCancelled when ctx itself was cancelled
			log.Printf("Export for job %d failed: %v", job.ID, err)
			return OutcomeFailed
		}
		return OutcomeCompleted
	case <-deadline:
		log.Printf("Export for job %d exceeded %s, waiting for current layer", job.ID, w.timeout)
		cancel()
		if err := <-done; err != nil && !errors.Is(err, models.ErrExportCancelled) {
			log.Printf("Export for job %d ended after timeout: %v", job.ID, err)
		}
		return OutcomeTimedOut
	}
}

func (w *ExportWatchdog) report(jobID int64, outcome Outcome) {
	ctx, cancel := context.WithTimeout(context.Background(), w.reportTimeout)
	defer cancel()

	status := outcome.Status()
	if err := w.reporter.Report(ctx, jobID, status); err != nil {
		log.Printf("Failed to report status %s for job %d: %v", status, jobID, err)
	}
}
