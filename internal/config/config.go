package config

import (
	"os"
	"path/filepath"

	"github.com/catalystcommunity/app-utils-go/env"
)

func defaultArtifactRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".orcaops/artifacts"
	}
	return filepath.Join(home, ".orcaops", "artifacts")
}

var (
	// ArtifactRoot is where RunStore and AuditSink write their output:
	// <root>/<job_id>/..., <root>/workflows/..., <root>/audit/... (spec §6).
	ArtifactRoot = env.GetEnvOrDefault("ORCAOPS_ARTIFACT_ROOT", defaultArtifactRoot())

	// RuntimeBackend selects the Driver implementation: "docker" or "fake".
	RuntimeBackend = env.GetEnvOrDefault("ORCAOPS_RUNTIME_BACKEND", "docker")

	// DefaultStepTimeoutSeconds bounds a Command when its own timeout_s is
	// unset; 0 means no timeout.
	DefaultStepTimeoutSeconds = env.GetEnvAsIntOrDefault("ORCAOPS_DEFAULT_STEP_TIMEOUT_SECONDS", "0")

	// DefaultMaxConcurrentJobs and DefaultMaxConcurrentSandboxes seed a
	// Workspace's ResourceLimits when it declares none of its own; 0
	// means unlimited.
	DefaultMaxConcurrentJobs      = env.GetEnvAsIntOrDefault("ORCAOPS_DEFAULT_MAX_CONCURRENT_JOBS", "0")
	DefaultMaxConcurrentSandboxes = env.GetEnvAsIntOrDefault("ORCAOPS_DEFAULT_MAX_CONCURRENT_SANDBOXES", "0")

	// RunRetentionDays bounds how long RunRecords (by created_at, whatever
	// their status) are kept by RunStore.Cleanup before their directory is
	// removed.
	RunRetentionDays = env.GetEnvAsIntOrDefault("ORCAOPS_RUN_RETENTION_DAYS", "30")

	// MetricsAddr is the listen address for the Prometheus /metrics endpoint.
	MetricsAddr = env.GetEnvOrDefault("ORCAOPS_METRICS_ADDR", ":9090")

	// RequireImageDigest is the process-wide default for
	// SecurityPolicy.ImagePolicy.RequireDigest when no policy file overrides it.
	RequireImageDigest = env.GetEnvAsBoolOrDefault("ORCAOPS_REQUIRE_IMAGE_DIGEST", "false")
)
