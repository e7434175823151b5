// Package main implements the orcaops CLI: a thin urfave/cli/v2 adapter
// over the in-process JobManager and WorkflowEngine. There is no daemon
// behind it — every invocation builds its own JobManager/Engine wired to
// the same on-disk RunStore/WorkflowStore/AuditSink, submits (or reads),
// and for run/workflow-run blocks until the job or workflow reaches a
// terminal state before exiting.
package main

import (
	"fmt"
	"os"

	"github.com/catalystcommunity/app-utils-go/logging"
	"gopkg.in/yaml.v3"

	"github.com/orcaops/orcaops/internal/audit"
	"github.com/orcaops/orcaops/internal/config"
	"github.com/orcaops/orcaops/internal/jobmanager"
	"github.com/orcaops/orcaops/internal/models"
	"github.com/orcaops/orcaops/internal/quota"
	"github.com/orcaops/orcaops/internal/runtime"
	"github.com/orcaops/orcaops/internal/store"
	"github.com/orcaops/orcaops/internal/workflows"
)

// singleWorkspace resolves every workspace ID to the same workspace: an
// empty policy overlay and the limits from config defaults. It
// exists because the CLI is a single-tenant adapter; multi-tenant
// workspace lookup is a property of the coordinator this spec excludes.
type singleWorkspace struct {
	workspace *models.Workspace
}

func (r singleWorkspace) Get(workspaceID string) (*models.Workspace, error) {
	ws := *r.workspace
	ws.ID = workspaceID
	return &ws, nil
}

// loadSecurityPolicy reads a SecurityPolicy from ORCAOPS_POLICY_FILE, if
// set, otherwise returns a permissive default seeded from config.
func loadSecurityPolicy() (models.SecurityPolicy, error) {
	var policy models.SecurityPolicy
	policy.ImagePolicy.RequireDigest = config.RequireImageDigest

	path := os.Getenv("ORCAOPS_POLICY_FILE")
	if path == "" {
		return policy, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return policy, fmt.Errorf("failed to read policy file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return policy, fmt.Errorf("failed to parse policy file %s: %w", path, err)
	}
	return policy, nil
}

func defaultWorkspace() *models.Workspace {
	return &models.Workspace{
		Limits: models.ResourceLimits{
			MaxConcurrentJobs:      config.DefaultMaxConcurrentJobs,
			MaxConcurrentSandboxes: config.DefaultMaxConcurrentSandboxes,
		},
	}
}

// buildJobManager wires a JobManager the same way an embedding
// application would: policy, single-workspace resolver, a fresh quota
// tracker, the filesystem RunStore/AuditSink rooted at config.ArtifactRoot,
// and the configured runtime Driver.
func buildJobManager() (*jobmanager.JobManager, error) {
	policy, err := loadSecurityPolicy()
	if err != nil {
		return nil, err
	}

	driver, err := runtime.New(config.RuntimeBackend)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize runtime driver: %w", err)
	}

	st := store.New(config.ArtifactRoot)
	auditSink := audit.New(config.ArtifactRoot)
	tracker := quota.New()
	resolver := singleWorkspace{workspace: defaultWorkspace()}

	return jobmanager.New(policy, resolver, tracker, st, auditSink, driver), nil
}

func buildEngine(jm *jobmanager.JobManager) *workflows.Engine {
	return workflows.New(jm, store.NewWorkflowStore(config.ArtifactRoot), audit.New(config.ArtifactRoot))
}

func fatal(err error) {
	logging.Log.WithError(err).Error("command failed")
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}
