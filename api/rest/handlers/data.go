package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"

	"orka-vector-api/core/models"

	"github.com/gorilla/mux"
)

// DataIDLookup finds the job owning an artifact token
type DataIDLookup interface {
	GetIDByDataID(ctx context.Context, dataID string) (int64, bool, error)
	Get(ctx context.Context, jobID int64) (*models.Job, error)
}

// ArtifactOpener opens finished artifacts
type ArtifactOpener interface {
	Open(dataID string) (*os.File, error)
}

// DataHandler serves finished GeoPackages
type DataHandler struct {
	jobs      DataIDLookup
	artifacts ArtifactOpener
}

// NewDataHandler creates a new data handler
func NewDataHandler(jobs DataIDLookup, artifacts ArtifactOpener) *DataHandler {
	return &DataHandler{jobs: jobs, artifacts: artifacts}
}

// GetData handles GET /data/{data_id}. Anything but a CREATED job with its
// artifact on disk is a 404.
func (h *DataHandler) GetData(w http.ResponseWriter, r *http.Request) {
	dataID := mux.Vars(r)["data_id"]

	jobID, ok, err := h.jobs.GetIDByDataID(r.Context(), dataID)
	if errors.Is(err, models.ErrInvalidProperties) || (err == nil && !ok) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		log.Printf("Failed to look up data %s: %v", dataID, err)
		http.Error(w, "Failed to look up data", http.StatusInternalServerError)
		return
	}

	job, err := h.jobs.Get(r.Context(), jobID)
	if err != nil || job.Status != models.JobStatusCreated {
		http.NotFound(w, r)
		return
	}

	f, err := h.artifacts.Open(dataID)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			log.Printf("Failed to open artifact %s: %v", dataID, err)
		}
		http.NotFound(w, r)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		http.Error(w, "Failed to read artifact", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/geopackage+sqlite3")
	w.Header().Set("Content-Disposition", `attachment; filename="`+dataID+`.gpkg"`)
	http.ServeContent(w, r, dataID+".gpkg", info.ModTime(), f)
}
