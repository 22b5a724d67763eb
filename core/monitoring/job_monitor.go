package monitoring

import (
	"context"
	"log"
	"time"

	"orka-vector-api/core/models"
)

const staleBatchSize = 100

// StaleJobStore is what the monitor needs from the job store
type StaleJobStore interface {
	ListStale(ctx context.Context, status models.JobStatus, cutoff time.Time, afterID int64, limit int) ([]*models.Job, error)
	Update(ctx context.Context, jobID int64, patch models.JobPatch) error
}

// ActivityChecker tells whether a job is supervised by this process
type ActivityChecker interface {
	IsActive(jobID int64) bool
}

// JobMonitor moves RUNNING jobs that nobody supervises anymore to ERROR.
// These are left behind when a process dies mid-export.
type JobMonitor struct {
	store      StaleJobStore
	active     ActivityChecker
	staleAfter time.Duration
	interval   time.Duration
	batchSize  int
	now        func() time.Time
}

// NewJobMonitor creates a new job monitor
func NewJobMonitor(store StaleJobStore, active ActivityChecker, staleAfter, interval time.Duration) *JobMonitor {
	if interval <= 0 {
		interval = time.Minute
	}
	return &JobMonitor{
		store:      store,
		active:     active,
		staleAfter: staleAfter,
		interval:   interval,
		batchSize:  staleBatchSize,
		now:        time.Now,
	}
}

// Start starts the job monitoring loop
func (jm *JobMonitor) Start(ctx context.Context) {
	ticker := time.NewTicker(jm.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := jm.Sweep(ctx); err != nil {
				log.Printf("Stale job sweep failed: %v", err)
			}
		}
	}
}

// Sweep marks stale RUNNING jobs as ERROR and returns how many it changed
func (jm *JobMonitor) Sweep(ctx context.Context) (int, error) {
	if jm.staleAfter <= 0 {
		return 0, nil
	}

	cutoff := jm.now().Add(-jm.staleAfter)
	swept := 0
	var after int64
	for {
		jobs, err := jm.store.ListStale(ctx, models.JobStatusRunning, cutoff, after, jm.batchSize)
		if err != nil {
			return swept, err
		}

		for _, job := range jobs {
			after = job.ID
			if jm.active.IsActive(job.ID) {
				continue
			}

			status := models.JobStatusError
			if err := jm.store.Update(ctx, job.ID, models.JobPatch{Status: &status}); err != nil {
				log.Printf("Failed to mark stale job %d as ERROR: %v", job.ID, err)
				continue
			}
			log.Printf("Job %d was RUNNING since %s without a supervisor, marked ERROR", job.ID, job.UpdatedAt.Format(time.RFC3339))
			swept++
		}

		if len(jobs) < jm.batchSize {
			return swept, nil
		}
		if err := ctx.Err(); err != nil {
			return swept, err
		}
	}
}
