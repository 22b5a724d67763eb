package routes

import (
	"orka-vector-api/api/rest/handlers"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/mux"
)

// Dependencies are the components the API is served from
type Dependencies struct {
	Jobs      handlers.JobService
	Data      handlers.DataIDLookup
	Artifacts handlers.ArtifactOpener
	Metrics   handlers.MetricsSource
}

// SetupRoutes configures all API routes
func SetupRoutes(r *mux.Router, deps Dependencies) {
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)

	jobHandler := handlers.NewJobHandler(deps.Jobs)
	dataHandler := handlers.NewDataHandler(deps.Data, deps.Artifacts)
	var status handlers.StatusHandler

	r.HandleFunc("/status", status.GetStatus).Methods("GET")
	r.HandleFunc("/health", status.Health).Methods("GET")
	r.Handle("/metrics", handlers.MetricsHandler(deps.Metrics)).Methods("GET")

	// Job endpoints
	r.HandleFunc("/jobs", jobHandler.SubmitJob).Methods("POST")
	r.HandleFunc("/jobs/{id}", jobHandler.GetJob).Methods("GET")
	r.HandleFunc("/jobs/{id}", jobHandler.UpdateJob).Methods("PUT")
	r.HandleFunc("/jobs/{id}", jobHandler.DeleteJob).Methods("DELETE")

	// Artifact download
	r.HandleFunc("/data/{data_id}", dataHandler.GetData).Methods("GET")
}
