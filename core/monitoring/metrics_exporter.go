package monitoring

import (
	"context"
	"fmt"

	"orka-vector-api/core/executor"
	"orka-vector-api/core/models"
)

// StatusCounter groups stored jobs by status
type StatusCounter interface {
	CountByStatus(ctx context.Context) (map[models.JobStatus]int, error)
}

var (
	allStatuses = []models.JobStatus{
		models.JobStatusInit,
		models.JobStatusRunning,
		models.JobStatusCreated,
		models.JobStatusError,
		models.JobStatusTimeout,
	}
	allOutcomes = []executor.Outcome{
		executor.OutcomeCompleted,
		executor.OutcomeFailed,
		executor.OutcomeTimedOut,
	}
)

// MetricsExporter exports metrics for Prometheus
type MetricsExporter struct {
	store      StatusCounter
	tracker    *ExportTracker
	maxThreads int
}

// NewMetricsExporter creates a new metrics exporter
func NewMetricsExporter(store StatusCounter, tracker *ExportTracker, maxThreads int) *MetricsExporter {
	return &MetricsExporter{
		store:      store,
		tracker:    tracker,
		maxThreads: maxThreads,
	}
}

// GetPrometheusMetrics returns metrics in Prometheus text format
func (me *MetricsExporter) GetPrometheusMetrics(ctx context.Context) (string, error) {
	counts, err := me.store.CountByStatus(ctx)
	if err != nil {
		return "", err
	}
	stats := me.tracker.Stats()

	var metrics string

	metrics += "# HELP orka_jobs Stored jobs per status\n"
	metrics += "# TYPE orka_jobs gauge\n"
	for _, s := range allStatuses {
		metrics += fmt.Sprintf("orka_jobs{status=\"%s\"} %d\n", s, counts[s])
	}

	metrics += "# HELP orka_exports_running Exports supervised by this process\n"
	metrics += "# TYPE orka_exports_running gauge\n"
	metrics += fmt.Sprintf("orka_exports_running %d\n", stats.Running)

	metrics += "# HELP orka_max_threads Configured concurrency ceiling\n"
	metrics += "# TYPE orka_max_threads gauge\n"
	metrics += fmt.Sprintf("orka_max_threads %d\n", me.maxThreads)

	metrics += "# HELP orka_export_outcomes_total Finished exports per outcome\n"
	metrics += "# TYPE orka_export_outcomes_total counter\n"
	for _, o := range allOutcomes {
		metrics += fmt.Sprintf("orka_export_outcomes_total{outcome=\"%s\"} %d\n", o, stats.Outcomes[o])
	}

	metrics += "# HELP orka_export_duration_seconds Time spent in finished exports\n"
	metrics += "# TYPE orka_export_duration_seconds summary\n"
	metrics += fmt.Sprintf("orka_export_duration_seconds_sum %.3f\n", stats.Duration.Seconds())
	metrics += fmt.Sprintf("orka_export_duration_seconds_count %d\n", stats.Finished)

	return metrics, nil
}
