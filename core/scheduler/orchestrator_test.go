package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"orka-vector-api/core/executor"
	"orka-vector-api/core/layers"
	"orka-vector-api/core/models"
)

type memoryStore struct {
	mu        sync.Mutex
	nextID    int64
	jobs      map[int64]*models.Job
	failOnRun bool
}

func newMemoryStore() *memoryStore {
	return &memoryStore{jobs: make(map[int64]*models.Job)}
}

func (s *memoryStore) Create(_ context.Context, bbox models.BBox, dataID string, layers []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.jobs[s.nextID] = &models.Job{ID: s.nextID, BBox: bbox, DataID: dataID, Layers: layers, Status: models.JobStatusInit}
	return s.nextID, nil
}

func (s *memoryStore) Update(_ context.Context, id int64, patch models.JobPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return models.ErrNotFound
	}
	if s.failOnRun && *patch.Status == models.JobStatusRunning {
		return errors.New("connection reset")
	}
	job.Status = *patch.Status
	return nil
}

func (s *memoryStore) Get(_ context.Context, id int64) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %d: %w", id, models.ErrNotFound)
	}
	cp := *job
	return &cp, nil
}

func (s *memoryStore) Delete(_ context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return false, nil
	}
	delete(s.jobs, id)
	return true, nil
}

func (s *memoryStore) CountRunning(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, j := range s.jobs {
		if j.Status == models.JobStatusRunning {
			n++
		}
	}
	return n, nil
}

func (s *memoryStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

func (s *memoryStore) status(id int64) models.JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[id].Status
}

type fixedArea float64

func (a fixedArea) AreaOf(context.Context, models.BBox) (float64, error) { return float64(a), nil }

// blockingSupervisor holds every export until release is closed, then
// reports CREATED through the store. A cancelled export reports ERROR.
type blockingSupervisor struct {
	store   *memoryStore
	release chan struct{}
	started chan int64

	mu       sync.Mutex
	finished map[int64]bool
}

func (b *blockingSupervisor) Run(ctx context.Context, job *models.Job) executor.Outcome {
	b.started <- job.ID
	status, outcome := models.JobStatusCreated, executor.OutcomeCompleted
	select {
	case <-b.release:
	case <-ctx.Done():
		status, outcome = models.JobStatusError, executor.OutcomeFailed
	}
	_ = b.store.Update(context.Background(), job.ID, models.JobPatch{Status: &status})

	b.mu.Lock()
	b.finished[job.ID] = true
	b.mu.Unlock()
	return outcome
}

func (b *blockingSupervisor) isFinished(id int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.finished[id]
}

type recordingArtifacts struct {
	mu       sync.Mutex
	removed  []string
	err      error
	onRemove func(dataID string)
}

func (r *recordingArtifacts) Remove(dataID string) error {
	if r.onRemove != nil {
		r.onRemove(dataID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed = append(r.removed, dataID)
	return r.err
}

type harness struct {
	orch      *Orchestrator
	store     *memoryStore
	sup       *blockingSupervisor
	artifacts *recordingArtifacts
}

func newHarness(t *testing.T, area float64, limits Limits) *harness {
	t.Helper()
	reg, err := layers.NewRegistry([]models.LayerDefinition{
		{Name: "roads", Schema: "osm", Table: "roads", SRID: 3857},
		{Name: "water", Schema: "osm", Table: "water", SRID: 3857},
	})
	if err != nil {
		t.Fatal(err)
	}
	store := newMemoryStore()
	sup := &blockingSupervisor{
		store:    store,
		release:  make(chan struct{}),
		started:  make(chan int64, 16),
		finished: make(map[int64]bool),
	}
	artifacts := &recordingArtifacts{}

	h := &harness{
		orch:      NewOrchestrator(store, fixedArea(area), reg, sup, artifacts, limits),
		store:     store,
		sup:       sup,
		artifacts: artifacts,
	}
	t.Cleanup(func() {
		select {
		case <-sup.release:
		default:
			close(sup.release)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		h.orch.Shutdown(ctx)
	})
	return h
}

func rejection(err error) models.Rejection {
	var rej *models.RejectionError
	if errors.As(err, &rej) {
		return rej.Reason
	}
	return ""
}

var okBBox = []float64{7.0, 50.0, 7.1, 50.1}

func TestSubmitRejections(t *testing.T) {
	cases := []struct {
		name   string
		area   float64
		bbox   []float64
		layers []string
		want   models.Rejection
	}{
		{"short bbox", 1, []float64{1, 2, 3}, nil, models.RejectBBoxInvalid},
		{"long bbox", 1, []float64{1, 2, 3, 4, 5}, nil, models.RejectBBoxInvalid},
		{"nan bbox", 1, []float64{math.NaN(), 0, 1, 1}, nil, models.RejectBBoxInvalid},
		{"empty layers", 1, okBBox, []string{}, models.RejectLayersInvalid},
		{"unknown layer", 1, okBBox, []string{"roads", "rails"}, models.RejectLayersInvalid},
		{"too big", 250, okBBox, nil, models.RejectBBoxTooBig},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, tc.area, Limits{MaxThreads: 4, MaxAreaKm2: 100})

			_, err := h.orch.Submit(context.Background(), tc.bbox, tc.layers)
			if got := rejection(err); got != tc.want {
				t.Fatalf("rejection = %q (%v), want %s", got, err, tc.want)
			}
			if h.store.count() != 0 {
				t.Error("rejected submission created a job")
			}
		})
	}
}

func TestSubmitNoThreadsAvailable(t *testing.T) {
	h := newHarness(t, 1, Limits{MaxThreads: 4, MaxAreaKm2: 100})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := h.orch.Submit(ctx, okBBox, nil); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}
	_, err := h.orch.Submit(ctx, okBBox, nil)
	if got := rejection(err); got != models.RejectNoThreadsAvailable {
		t.Fatalf("rejection = %q (%v)", got, err)
	}
	if h.store.count() != 2 {
		t.Errorf("jobs = %d, want 2", h.store.count())
	}
}

func TestSubmitRunsInBackground(t *testing.T) {
	h := newHarness(t, 1, Limits{MaxThreads: 4, MaxAreaKm2: 100})
	ctx := context.Background()

	id, err := h.orch.Submit(ctx, okBBox, []string{"water"})
	if err != nil {
		t.Fatal(err)
	}

	select {
	case started := <-h.sup.started:
		if started != id {
			t.Fatalf("started job %d, want %d", started, id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("export was not launched")
	}

	if got := h.store.status(id); got != models.JobStatusRunning {
		t.Errorf("status = %s, want RUNNING", got)
	}
	if !h.orch.IsActive(id) {
		t.Error("job should be active")
	}

	close(h.sup.release)
	sctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := h.orch.Shutdown(sctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	if h.orch.IsActive(id) {
		t.Error("job should no longer be active")
	}
	if got := h.store.status(id); got != models.JobStatusCreated {
		t.Errorf("status = %s, want CREATED", got)
	}
}

func TestSubmitMarksErrorWhenStartFails(t *testing.T) {
	h := newHarness(t, 1, Limits{MaxThreads: 4, MaxAreaKm2: 100})
	h.store.failOnRun = true

	if _, err := h.orch.Submit(context.Background(), okBBox, nil); err == nil {
		t.Fatal("expected error")
	}
	if h.store.count() != 1 || h.store.status(1) != models.JobStatusError {
		t.Fatalf("job should exist in ERROR, got %d jobs", h.store.count())
	}
	select {
	case <-h.sup.started:
		t.Fatal("export must not start")
	default:
	}
}

func TestConcurrentSubmitsRespectCeiling(t *testing.T) {
	h := newHarness(t, 1, Limits{MaxThreads: 4, MaxAreaKm2: 0})

	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted, refused := 0, 0
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.orch.Submit(context.Background(), okBBox, nil)
			mu.Lock()
			defer mu.Unlock()
			switch rejection(err) {
			case "":
				if err != nil {
					t.Errorf("submit: %v", err)
				}
				accepted++
			case models.RejectNoThreadsAvailable:
				refused++
			default:
				t.Errorf("unexpected: %v", err)
			}
		}()
	}
	wg.Wait()

	if accepted != 2 || refused != 10 {
		t.Errorf("accepted %d, refused %d; want 2 and 10", accepted, refused)
	}
}

func TestDelete(t *testing.T) {
	h := newHarness(t, 1, Limits{MaxThreads: 4, MaxAreaKm2: 100})
	ctx := context.Background()

	ok, err := h.orch.Delete(ctx, 77)
	if err != nil || ok {
		t.Fatalf("delete missing = %v, %v", ok, err)
	}
	if len(h.artifacts.removed) != 0 {
		t.Fatal("missing job must not touch artifacts")
	}

	id, err := h.orch.Submit(ctx, okBBox, nil)
	if err != nil {
		t.Fatal(err)
	}
	job, _ := h.store.Get(ctx, id)

	ok, err = h.orch.Delete(ctx, id)
	if err != nil || !ok {
		t.Fatalf("delete = %v, %v", ok, err)
	}
	if len(h.artifacts.removed) != 1 || h.artifacts.removed[0] != job.DataID {
		t.Errorf("removed = %v", h.artifacts.removed)
	}
	if h.store.count() != 0 {
		t.Error("record still present")
	}
}

func TestDeleteKeepsRecordWhenArtifactRemovalFails(t *testing.T) {
	h := newHarness(t, 1, Limits{MaxThreads: 4, MaxAreaKm2: 100})
	ctx := context.Background()

	id, err := h.orch.Submit(ctx, okBBox, nil)
	if err != nil {
		t.Fatal(err)
	}
	h.artifacts.err = errors.New("permission denied")

	ok, err := h.orch.Delete(ctx, id)
	if err == nil || ok {
		t.Fatalf("delete = %v, %v", ok, err)
	}
	if h.store.count() != 1 {
		t.Error("record should be kept")
	}
}

func TestDeleteRunningJobStopsExportBeforeRemovingArtifact(t *testing.T) {
	h := newHarness(t, 1, Limits{MaxThreads: 4, MaxAreaKm2: 100})
	ctx := context.Background()

	id, err := h.orch.Submit(ctx, okBBox, nil)
	if err != nil {
		t.Fatal(err)
	}
	<-h.sup.started

	var finishedAtRemoval, activeAtRemoval bool
	h.artifacts.onRemove = func(string) {
		finishedAtRemoval = h.sup.isFinished(id)
		activeAtRemoval = h.orch.IsActive(id)
	}

	dctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	ok, err := h.orch.Delete(dctx, id)
	if err != nil || !ok {
		t.Fatalf("delete = %v, %v", ok, err)
	}
	if !finishedAtRemoval || activeAtRemoval {
		t.Error("artifact removed while the export was still running")
	}
	if h.store.count() != 0 {
		t.Error("record still present")
	}
	if h.orch.ActiveCount() != 0 {
		t.Errorf("active = %d, want 0", h.orch.ActiveCount())
	}
}

func TestDeleteGivesUpWhenExportDoesNotStop(t *testing.T) {
	reg, err := layers.NewRegistry([]models.LayerDefinition{{Name: "roads", Schema: "osm", Table: "roads", SRID: 3857}})
	if err != nil {
		t.Fatal(err)
	}
	store := newMemoryStore()
	stuck := &stuckSupervisor{started: make(chan struct{}), release: make(chan struct{})}
	artifacts := &recordingArtifacts{}
	orch := NewOrchestrator(store, fixedArea(1), reg, stuck, artifacts, Limits{MaxThreads: 4})
	defer func() {
		close(stuck.release)
		orch.Shutdown(context.Background())
	}()

	id, err := orch.Submit(context.Background(), okBBox, nil)
	if err != nil {
		t.Fatal(err)
	}
	<-stuck.started

	dctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	ok, err := orch.Delete(dctx, id)
	if !errors.Is(err, context.DeadlineExceeded) || ok {
		t.Fatalf("delete = %v, %v; want deadline error", ok, err)
	}
	if len(artifacts.removed) != 0 || store.count() != 1 {
		t.Error("neither artifact nor record may be removed")
	}
}

// stuckSupervisor ignores cancellation until release is closed
type stuckSupervisor struct {
	started chan struct{}
	release chan struct{}
}

func (s *stuckSupervisor) Run(context.Context, *models.Job) executor.Outcome {
	close(s.started)
	<-s.release
	return executor.OutcomeFailed
}

type countingObserver struct {
	mu               sync.Mutex
	started, stopped int
}

func (c *countingObserver) ExportStarted(int64) {
	c.mu.Lock()
	c.started++
	c.mu.Unlock()
}

func (c *countingObserver) ExportFinished(int64, executor.Outcome) {
	c.mu.Lock()
	c.stopped++
	c.mu.Unlock()
}

func TestSetObserverWhileSubmitting(t *testing.T) {
	h := newHarness(t, 1, Limits{MaxThreads: 40, MaxAreaKm2: 100})
	obs := &countingObserver{}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = h.orch.Submit(context.Background(), okBBox, nil)
		}()
	}
	h.orch.SetObserver(obs)
	wg.Wait()

	close(h.sup.release)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.orch.Shutdown(ctx); err != nil {
		t.Fatal(err)
	}

	obs.mu.Lock()
	defer obs.mu.Unlock()
	if obs.started != obs.stopped {
		t.Errorf("observer saw %d starts and %d finishes", obs.started, obs.stopped)
	}
}

func TestSubmitRefusedAfterShutdown(t *testing.T) {
	h := newHarness(t, 1, Limits{MaxThreads: 4, MaxAreaKm2: 100})
	close(h.sup.release)

	if err := h.orch.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	_, err := h.orch.Submit(context.Background(), okBBox, nil)
	if got := rejection(err); got != models.RejectNoThreadsAvailable {
		t.Fatalf("rejection = %q (%v)", got, err)
	}
	if h.store.count() != 0 {
		t.Error("job created after shutdown")
	}
}
