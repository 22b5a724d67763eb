package models

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidProperties = errors.New("invalid properties")
	// ErrInvalidConfiguration is returned for unusable configuration. Rejected
	// identifiers carry ErrInvalidProperties as well.
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrInvalidTransition    = errors.New("invalid status transition")
	ErrExportCancelled      = errors.New("export cancelled")
)

// Job represents a requested vector extract for one bounding box
type Job struct {
	ID        int64
	BBox      BBox
	DataID    string
	Layers    []string // nil means all configured layers
	Status    JobStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// JobStatus represents the lifecycle state of a job
type JobStatus string

const (
	JobStatusInit    JobStatus = "INIT"
	JobStatusRunning JobStatus = "RUNNING"
	JobStatusCreated JobStatus = "CREATED"
	JobStatusError   JobStatus = "ERROR"
	JobStatusTimeout JobStatus = "TIMEOUT"
)

// ParseJobStatus converts a stored or requested value into a known status
func ParseJobStatus(s string) (JobStatus, error) {
	switch JobStatus(s) {
	case JobStatusInit, JobStatusRunning, JobStatusCreated, JobStatusError, JobStatusTimeout:
		return JobStatus(s), nil
	default:
		return "", fmt.Errorf("%w: unknown status %q", ErrInvalidProperties, s)
	}
}

// IsTerminal reports whether no automatic transition leaves this status
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCreated, JobStatusError, JobStatusTimeout:
		return true
	case JobStatusInit, JobStatusRunning:
		return false
	default:
		panic(fmt.Sprintf("unknown job status %q", string(s)))
	}
}

// BBox holds minX, minY, maxX, maxY in EPSG:4326
type BBox [4]float64

func (b BBox) MinX() float64 { return b[0] }
func (b BBox) MinY() float64 { return b[1] }
func (b BBox) MaxX() float64 { return b[2] }
func (b BBox) MaxY() float64 { return b[3] }

// BBoxFromSlice checks the shape of a requested bounding box
func BBoxFromSlice(values []float64) (BBox, error) {
	var b BBox
	if len(values) != 4 {
		return b, fmt.Errorf("%w: bbox needs 4 values, got %d", ErrInvalidProperties, len(values))
	}
	copy(b[:], values)
	return b, b.Validate()
}

// Validate rejects non-finite values and inverted extents
func (b BBox) Validate() error {
	for _, v := range b {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: bbox contains a non-finite value", ErrInvalidProperties)
		}
	}
	if b.MinX() >= b.MaxX() || b.MinY() >= b.MaxY() {
		return fmt.Errorf("%w: bbox min must be below max", ErrInvalidProperties)
	}
	return nil
}

// Rejection is the machine-readable reason a submission was refused
type Rejection string

const (
	RejectBBoxInvalid        Rejection = "BBOX_INVALID"
	RejectBBoxTooBig         Rejection = "BBOX_TOO_BIG"
	RejectLayersInvalid      Rejection = "LAYERS_INVALID"
	RejectNoThreadsAvailable Rejection = "NO_THREADS_AVAILABLE"
)

// RejectionError carries a Rejection through an error return
type RejectionError struct {
	Reason Rejection
	Err    error
}

func (e *RejectionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return string(e.Reason)
}

func (e *RejectionError) Unwrap() error { return e.Err }

// JobPatch is used for partial updates. Only the status is mutable.
type JobPatch struct {
	Status *JobStatus
}
