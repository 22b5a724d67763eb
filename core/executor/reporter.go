package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"orka-vector-api/core/models"
)

// StatusReporter writes a job's final status back
type StatusReporter interface {
	Report(ctx context.Context, jobID int64, status models.JobStatus) error
}

// JobUpdater is the store side of StoreReporter
type JobUpdater interface {
	Update(ctx context.Context, jobID int64, patch models.JobPatch) error
}

// StoreReporter writes statuses directly into the job store
type StoreReporter struct {
	store JobUpdater
}

// NewStoreReporter creates a reporter on top of the job store
func NewStoreReporter(store JobUpdater) *StoreReporter {
	return &StoreReporter{store: store}
}

// Report updates the job status in the store
func (r *StoreReporter) Report(ctx context.Context, jobID int64, status models.JobStatus) error {
	return r.store.Update(ctx, jobID, models.JobPatch{Status: &status})
}

// HTTPReporter sends the completion callback PUT {base}/jobs/{id}
type HTTPReporter struct {
	baseURL string
	client  *http.Client
}

// NewHTTPReporter creates a callback reporter. baseURL is the API root the
// jobs resource hangs off.
func NewHTTPReporter(baseURL string, client *http.Client) *HTTPReporter {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPReporter{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

type statusUpdate struct {
	Status models.JobStatus `json:"status"`
}

// Report sends {"status": status} for jobID
func (r *HTTPReporter) Report(ctx context.Context, jobID int64, status models.JobStatus) error {
	body, err := json.Marshal(statusUpdate{Status: status})
	if err != nil {
		return err
	}

	url := r.baseURL + "/jobs/" + strconv.FormatInt(jobID, 10)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("status callback for job %d: %w", jobID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status callback for job %d: %s: %s", jobID, resp.Status, strings.TrimSpace(string(msg)))
	}
	return nil
}

// FallbackReporter reports through primary and, when that fails, writes the
// status through fallback instead. The callback endpoint can be gone while
// the server drains its exports, the job store cannot.
type FallbackReporter struct {
	primary  StatusReporter
	fallback StatusReporter
}

// NewFallbackReporter creates a reporter that tries primary first
func NewFallbackReporter(primary, fallback StatusReporter) *FallbackReporter {
	return &FallbackReporter{primary: primary, fallback: fallback}
}

// Report sends status through primary, then fallback on error
func (r *FallbackReporter) Report(ctx context.Context, jobID int64, status models.JobStatus) error {
	err := r.primary.Report(ctx, jobID, status)
	if err == nil {
		return nil
	}
	log.Printf("Reporting %s for job %d failed, writing it directly: %v", status, jobID, err)
	if ferr := r.fallback.Report(ctx, jobID, status); ferr != nil {
		return fmt.Errorf("%w (direct write: %v)", err, ferr)
	}
	return nil
}
