package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Job metrics
	JobsSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orcaops_jobs_submitted_total",
			Help: "Total number of jobs admitted by JobManager",
		},
		[]string{"workspace_id"},
	)

	JobsDenied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orcaops_jobs_denied_total",
			Help: "Total number of jobs rejected during admission",
		},
		[]string{"workspace_id", "reason"},
	)

	JobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orcaops_jobs_completed_total",
			Help: "Total number of jobs that reached a terminal status",
		},
		[]string{"workspace_id", "status"},
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orcaops_job_duration_seconds",
			Help:    "Wall-clock time from start to terminal status for a job",
			Buckets: prometheus.ExponentialBuckets(1, 2, 15), // 1s to 16384s (~4.5 hours)
		},
		[]string{"workspace_id", "status"},
	)

	// Quota metrics
	QuotaRunningJobs = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "orcaops_quota_running_jobs",
			Help: "Current number of running jobs per workspace",
		},
		[]string{"workspace_id"},
	)

	QuotaRunningSandboxes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "orcaops_quota_running_sandboxes",
			Help: "Current number of running sandboxes per workspace",
		},
		[]string{"workspace_id"},
	)

	// Workflow metrics
	WorkflowsSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orcaops_workflows_submitted_total",
			Help: "Total number of workflows submitted",
		},
		[]string{"workspace_id"},
	)

	WorkflowsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orcaops_workflows_completed_total",
			Help: "Total number of workflows that reached a terminal status",
		},
		[]string{"workspace_id", "status"},
	)

	// Runtime driver metrics
	RuntimeExecRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orcaops_runtime_exec_retries_total",
			Help: "Total number of retried runtime driver operations",
		},
		[]string{"operation"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordJobSubmitted records a successful admission.
func RecordJobSubmitted(workspaceID string) {
	JobsSubmitted.WithLabelValues(workspaceID).Inc()
}

// RecordJobDenied records an admission-time rejection.
func RecordJobDenied(workspaceID, reason string) {
	JobsDenied.WithLabelValues(workspaceID, reason).Inc()
}

// RecordJobTerminal records a job's terminal status and duration.
func RecordJobTerminal(workspaceID, status string, durationSeconds float64) {
	JobsCompleted.WithLabelValues(workspaceID, status).Inc()
	JobDuration.WithLabelValues(workspaceID, status).Observe(durationSeconds)
}

// SetQuotaUsage sets the current quota gauges for a workspace.
func SetQuotaUsage(workspaceID string, runningJobs, runningSandboxes int) {
	QuotaRunningJobs.WithLabelValues(workspaceID).Set(float64(runningJobs))
	QuotaRunningSandboxes.WithLabelValues(workspaceID).Set(float64(runningSandboxes))
}

// RecordWorkflowSubmitted records a workflow submission.
func RecordWorkflowSubmitted(workspaceID string) {
	WorkflowsSubmitted.WithLabelValues(workspaceID).Inc()
}

// RecordWorkflowTerminal records a workflow's terminal status.
func RecordWorkflowTerminal(workspaceID, status string) {
	WorkflowsCompleted.WithLabelValues(workspaceID, status).Inc()
}

// RecordRuntimeExecRetry records a retried runtime driver operation.
func RecordRuntimeExecRetry(operation string) {
	RuntimeExecRetries.WithLabelValues(operation).Inc()
}
