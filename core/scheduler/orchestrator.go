package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"orka-vector-api/core/executor"
	"orka-vector-api/core/models"

	"github.com/google/uuid"
)

// JobStore is the persistence the orchestrator works against
type JobStore interface {
	RunningCounter
	Create(ctx context.Context, bbox models.BBox, dataID string, layers []string) (int64, error)
	Update(ctx context.Context, jobID int64, patch models.JobPatch) error
	Get(ctx context.Context, jobID int64) (*models.Job, error)
	Delete(ctx context.Context, jobID int64) (bool, error)
}

// LayerCatalog resolves requested layer names
type LayerCatalog interface {
	Select(requested []string) ([]models.LayerDefinition, error)
}

// Supervisor runs one export to a terminal status
type Supervisor interface {
	Run(ctx context.Context, job *models.Job) executor.Outcome
}

// ArtifactRemover deletes a job's artifact, treating a missing file as done
type ArtifactRemover interface {
	Remove(dataID string) error
}

// ExportObserver is told when supervised exports start and end
type ExportObserver interface {
	ExportStarted(jobID int64)
	ExportFinished(jobID int64, outcome executor.Outcome)
}

type noopObserver struct{}

func (noopObserver) ExportStarted(int64)                    {}
func (noopObserver) ExportFinished(int64, executor.Outcome) {}

// Limits holds the admission settings
type Limits struct {
	MaxThreads int
	MaxAreaKm2 float64
}

// Orchestrator accepts export jobs and runs them in the background
type Orchestrator struct {
	store     JobStore
	admission *AdmissionController
	bboxes    *BBoxValidator
	layers    LayerCatalog
	watchdog  Supervisor
	artifacts ArtifactRemover
	observer  ExportObserver
	limits    Limits
	newDataID func() string

	// serialises check->create->RUNNING so one process cannot overshoot
	admitMu sync.Mutex
	closing bool

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup

	activeMu sync.Mutex
	active   map[int64]*activeExport
}

// activeExport is a running export's handle: cancel asks it to stop, done is
// closed once its supervisor has returned and reported.
type activeExport struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// NewOrchestrator creates a new orchestrator
func NewOrchestrator(
	store JobStore,
	areas AreaCalculator,
	layers LayerCatalog,
	watchdog Supervisor,
	artifacts ArtifactRemover,
	limits Limits,
) *Orchestrator {
	ctx, stop := context.WithCancel(context.Background())
	return &Orchestrator{
		store:     store,
		admission: NewAdmissionController(store),
		bboxes:    NewBBoxValidator(areas),
		layers:    layers,
		watchdog:  watchdog,
		artifacts: artifacts,
		observer:  noopObserver{},
		limits:    limits,
		newDataID: uuid.NewString,
		baseCtx:   ctx,
		stop:      stop,
		active:    make(map[int64]*activeExport),
	}
}

// SetObserver registers an observer for export start and end. Exports
// already running keep reporting to the observer they started with.
func (o *Orchestrator) SetObserver(obs ExportObserver) {
	if obs == nil {
		obs = noopObserver{}
	}
	o.activeMu.Lock()
	o.observer = obs
	o.activeMu.Unlock()
}

func reject(reason models.Rejection, err error) error {
	return &models.RejectionError{Reason: reason, Err: err}
}

// Submit validates a request, admits it and starts the export in the
// background. Refusals are returned as *models.RejectionError and leave no
// job behind.
func (o *Orchestrator) Submit(ctx context.Context, bboxValues []float64, layers []string) (int64, error) {
	bbox, err := models.BBoxFromSlice(bboxValues)
	if err != nil {
		return 0, reject(models.RejectBBoxInvalid, err)
	}
	if layers != nil {
		if len(layers) == 0 {
			return 0, reject(models.RejectLayersInvalid, errors.New("empty layer list"))
		}
		if _, err := o.layers.Select(layers); err != nil {
			return 0, reject(models.RejectLayersInvalid, err)
		}
	}

	allowed, err := o.bboxes.AreaAllowed(ctx, bbox, o.limits.MaxAreaKm2)
	if err != nil {
		return 0, err
	}
	if !allowed {
		return 0, reject(models.RejectBBoxTooBig, nil)
	}

	o.admitMu.Lock()
	defer o.admitMu.Unlock()

	if o.closing {
		return 0, reject(models.RejectNoThreadsAvailable, errors.New("shutting down"))
	}
	ok, err := o.admission.HasCapacity(ctx, o.limits.MaxThreads)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, reject(models.RejectNoThreadsAvailable, nil)
	}

	dataID := o.newDataID()
	jobID, err := o.store.Create(ctx, bbox, dataID, layers)
	if err != nil {
		return 0, fmt.Errorf("create job: %w", err)
	}

	running := models.JobStatusRunning
	if err := o.store.Update(ctx, jobID, models.JobPatch{Status: &running}); err != nil {
		o.markFailed(jobID)
		return 0, fmt.Errorf("start job %d: %w", jobID, err)
	}

	job := &models.Job{
		ID:     jobID,
		BBox:   bbox,
		DataID: dataID,
		Layers: layers,
		Status: models.JobStatusRunning,
	}
	o.launch(job)

	log.Printf("Job %d accepted (data %s)", jobID, dataID)
	return jobID, nil
}

// markFailed moves a job that could not be launched to ERROR
func (o *Orchestrator) markFailed(jobID int64) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	status := models.JobStatusError
	if err := o.store.Update(ctx, jobID, models.JobPatch{Status: &status}); err != nil {
		log.Printf("Failed to mark job %d as ERROR: %v", jobID, err)
	}
}

func (o *Orchestrator) launch(job *models.Job) {
	runCtx, cancel := context.WithCancel(o.baseCtx)
	export := &activeExport{cancel: cancel, done: make(chan struct{})}

	o.activeMu.Lock()
	o.active[job.ID] = export
	observer := o.observer
	o.activeMu.Unlock()
	observer.ExportStarted(job.ID)

	o.wg.Add(1)
	go func() {
		outcome := executor.OutcomeFailed
		defer o.wg.Done()
		defer func() {
			o.activeMu.Lock()
			delete(o.active, job.ID)
			o.activeMu.Unlock()
			cancel()
			close(export.done)
			observer.ExportFinished(job.ID, outcome)
		}()
		defer func() {
			if r := recover(); r != nil {
				log.Printf("Supervisor for job %d panicked: %v", job.ID, r)
				o.markFailed(job.ID)
			}
		}()

		outcome = o.watchdog.Run(runCtx, job)
		log.Printf("Job %d finished: %s", job.ID, outcome)
	}()
}

// IsActive reports whether this process is supervising jobID
func (o *Orchestrator) IsActive(jobID int64) bool {
	o.activeMu.Lock()
	defer o.activeMu.Unlock()
	_, ok := o.active[jobID]
	return ok
}

// ActiveCount returns the number of exports supervised by this process
func (o *Orchestrator) ActiveCount() int {
	o.activeMu.Lock()
	defer o.activeMu.Unlock()
	return len(o.active)
}

// Get returns the stored job
func (o *Orchestrator) Get(ctx context.Context, jobID int64) (*models.Job, error) {
	return o.store.Get(ctx, jobID)
}

// Update applies a status patch, as sent by the completion callback
func (o *Orchestrator) Update(ctx context.Context, jobID int64, patch models.JobPatch) error {
	return o.store.Update(ctx, jobID, patch)
}

// Delete removes a job's artifact and then its record. An unknown job
// returns false without touching the filesystem. A running export is
// cancelled and waited for first, so it cannot write the artifact again
// after it is gone. If the artifact cannot be removed the record is kept.
func (o *Orchestrator) Delete(ctx context.Context, jobID int64) (bool, error) {
	// held so a job between Create and launch is seen with its export
	o.admitMu.Lock()
	job, err := o.store.Get(ctx, jobID)
	var export *activeExport
	if err == nil {
		o.activeMu.Lock()
		export = o.active[jobID]
		o.activeMu.Unlock()
	}
	o.admitMu.Unlock()

	if errors.Is(err, models.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if export != nil {
		log.Printf("Cancelling export of job %d before delete", jobID)
		export.cancel()
		select {
		case <-export.done:
		case <-ctx.Done():
			return false, fmt.Errorf("waiting for export of job %d: %w", jobID, ctx.Err())
		}
	}

	if err := o.artifacts.Remove(job.DataID); err != nil {
		return false, err
	}
	return o.store.Delete(ctx, jobID)
}

// Limits returns the configured admission limits
func (o *Orchestrator) Limits() Limits {
	return o.limits
}

// Shutdown refuses further submissions and waits for running exports. If
// ctx expires first the exports are cancelled at their next layer boundary
// and Shutdown still waits for them to report before returning ctx's error.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.admitMu.Lock()
	o.closing = true
	o.admitMu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		o.stop()
		return nil
	case <-ctx.Done():
		log.Printf("Cancelling %d running exports", o.ActiveCount())
		o.stop()
		<-done
		return ctx.Err()
	}
}
