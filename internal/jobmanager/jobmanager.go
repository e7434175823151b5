// Package jobmanager implements JobManager: the admission pipeline and
// in-process registry that sits in front of JobRunner. Submit never lets
// a job touch the runtime driver before it clears policy and quota
// (spec §4.5); every other method is a thin, concurrency-safe view over
// the registry and the durable RunStore.
package jobmanager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/catalystcommunity/app-utils-go/logging"
	"github.com/google/uuid"

	"github.com/orcaops/orcaops/internal/audit"
	"github.com/orcaops/orcaops/internal/metrics"
	"github.com/orcaops/orcaops/internal/models"
	"github.com/orcaops/orcaops/internal/policy"
	"github.com/orcaops/orcaops/internal/quota"
	"github.com/orcaops/orcaops/internal/runtime"
	"github.com/orcaops/orcaops/internal/store"
	"github.com/orcaops/orcaops/internal/worker"
)

// forceRemoveTimeout bounds how long Cancel waits for the sandbox's
// container to be force-removed before giving up and persisting the
// CANCELLED record anyway.
const forceRemoveTimeout = 30 * time.Second

// WorkspaceResolver looks up the Workspace (limits, settings) a job
// belongs to. JobManager only reads it; workspace lifecycle lives
// elsewhere.
type WorkspaceResolver interface {
	Get(workspaceID string) (*models.Workspace, error)
}

// jobEntry is the registry's per-job bookkeeping: the cancellation token
// JobManager hands to the running worker goroutine, and the latest
// in-memory RunRecord for readers that don't want to hit the store.
type jobEntry struct {
	mu        sync.Mutex
	cancel    context.CancelFunc
	cancelled bool
	record    *models.RunRecord
}

// JobManager owns admission (policy + quota) and the registry of
// in-flight jobs. It is safe for concurrent use.
type JobManager struct {
	policy     models.SecurityPolicy
	workspaces WorkspaceResolver
	quota      *quota.Tracker
	store      *store.Store
	audit      *audit.Sink
	runner     *worker.Runner
	driver     runtime.Driver

	mu       sync.Mutex
	registry map[string]*jobEntry
}

// New creates a JobManager. securityPolicy is the process-wide baseline
// policy; per-workspace WorkspaceSettings overlay it (spec §4.1).
func New(securityPolicy models.SecurityPolicy, workspaces WorkspaceResolver, tracker *quota.Tracker, st *store.Store, auditSink *audit.Sink, driver runtime.Driver) *JobManager {
	return &JobManager{
		policy:     securityPolicy,
		workspaces: workspaces,
		quota:      tracker,
		store:      st,
		audit:      auditSink,
		runner:     worker.New(driver, st),
		driver:     driver,
		registry:   make(map[string]*jobEntry),
	}
}

// AdmissionError is returned by Submit when a job is rejected before any
// sandbox is created. It carries enough detail for the caller to decide
// whether retrying makes sense.
type AdmissionError struct {
	Reason     string
	Violations []models.Violation
}

func (e *AdmissionError) Error() string {
	if len(e.Violations) == 0 {
		return e.Reason
	}
	return fmt.Sprintf("%s: %d violation(s)", e.Reason, len(e.Violations))
}

// Submit runs spec through the admission pipeline and, if accepted,
// starts executing it in a background goroutine. It returns immediately
// with the job's initial QUEUED RunRecord; callers poll Get for status.
func (m *JobManager) Submit(spec models.JobSpec) (*models.RunRecord, error) {
	if spec.JobID == "" {
		spec.JobID = uuid.NewString()
	}

	m.mu.Lock()
	if _, exists := m.registry[spec.JobID]; exists {
		m.mu.Unlock()
		return nil, &AdmissionError{Reason: fmt.Sprintf("job_id %s already submitted", spec.JobID)}
	}
	m.mu.Unlock()

	workspace, err := m.workspaces.Get(spec.WorkspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace %s: %w", spec.WorkspaceID, err)
	}

	var settings *models.WorkspaceSettings
	var limits models.ResourceLimits
	if workspace != nil {
		settings = &workspace.Settings
		limits = workspace.Limits
	}

	result := policy.Validate(m.policy, settings, spec)
	if !result.Allowed {
		m.audit.Record(audit.Event{
			WorkspaceID: spec.WorkspaceID,
			Action:      audit.ActionPolicyViolation,
			Subject:     spec.JobID,
			Outcome:     audit.OutcomeDenied,
			Details:     map[string]interface{}{"violations": result.Violations},
		})
		metrics.RecordJobDenied(spec.WorkspaceID, "policy violation")
		return nil, &AdmissionError{Reason: "policy violation", Violations: result.Violations}
	}

	allowed, reason := m.quota.CheckAndReserveJob(spec.WorkspaceID, spec.JobID, limits)
	if !allowed {
		m.audit.Record(audit.Event{
			WorkspaceID: spec.WorkspaceID,
			Action:      audit.ActionQuotaDenied,
			Subject:     spec.JobID,
			Outcome:     audit.OutcomeDenied,
			Details:     map[string]interface{}{"reason": reason},
		})
		metrics.RecordJobDenied(spec.WorkspaceID, reason)
		return nil, &AdmissionError{Reason: reason}
	}
	usage := m.quota.GetUsage(spec.WorkspaceID)
	metrics.SetQuotaUsage(spec.WorkspaceID, usage.CurrentRunningJobs, usage.CurrentRunningSandboxes)

	spec = injectSecurityOpts(spec, m.policy.ContainerSecurity)

	record := &models.RunRecord{
		JobID:    spec.JobID,
		Status:   models.JobQueued,
		ImageRef: spec.Sandbox.Image,
	}
	if err := m.store.Put(record); err != nil {
		logging.Log.WithError(err).WithField("job_id", spec.JobID).Warn("failed to persist initial run record")
	}

	ctx, cancel := context.WithCancel(context.Background())
	entry := &jobEntry{cancel: cancel, record: record}

	m.mu.Lock()
	m.registry[spec.JobID] = entry
	m.mu.Unlock()

	m.audit.Record(audit.Event{
		WorkspaceID: spec.WorkspaceID,
		Action:      audit.ActionJobSubmitted,
		Subject:     spec.JobID,
		Outcome:     audit.OutcomeAllowed,
	})
	metrics.RecordJobSubmitted(spec.WorkspaceID)

	go m.execute(ctx, spec, entry)

	return record.Clone(), nil
}

// execute drives the job to completion and guarantees the quota
// reservation is released exactly once, regardless of how the job ends.
func (m *JobManager) execute(ctx context.Context, spec models.JobSpec, entry *jobEntry) {
	defer func() {
		m.quota.OnJobEnd(spec.WorkspaceID, spec.JobID)
		usage := m.quota.GetUsage(spec.WorkspaceID)
		metrics.SetQuotaUsage(spec.WorkspaceID, usage.CurrentRunningJobs, usage.CurrentRunningSandboxes)
	}()

	final := m.runner.Run(ctx, spec)

	entry.mu.Lock()
	if entry.cancelled {
		// Cancel() always wins over whatever terminal status the runner
		// itself settled on (spec §7 cancellation->CANCELLED mapping),
		// since a force-removed container can make the runner observe an
		// ordinary exec failure rather than its own cancellation.
		final.Status = models.JobCancelled
		final.Error = "job cancelled by user"
		if final.FinishedAt == nil {
			finished := time.Now().UTC()
			final.FinishedAt = &finished
		}
	}
	entry.record = final
	entry.mu.Unlock()

	if err := m.store.Put(final); err != nil {
		logging.Log.WithError(err).WithField("job_id", spec.JobID).Warn("failed to persist final run record")
	}

	m.audit.Record(audit.Event{
		WorkspaceID: spec.WorkspaceID,
		Action:      audit.ActionJobTerminal,
		Subject:     spec.JobID,
		Outcome:     terminalOutcome(final.Status),
		Details:     map[string]interface{}{"status": final.Status},
	})

	duration := 0.0
	if final.StartedAt != nil && final.FinishedAt != nil {
		duration = final.FinishedAt.Sub(*final.StartedAt).Seconds()
	}
	metrics.RecordJobTerminal(spec.WorkspaceID, string(final.Status), duration)
}

// Get returns the most current view of a job: the in-memory record if
// the job is still registered, otherwise whatever the store has on disk.
func (m *JobManager) Get(jobID string) (*models.RunRecord, error) {
	m.mu.Lock()
	entry, ok := m.registry[jobID]
	m.mu.Unlock()

	if ok {
		entry.mu.Lock()
		defer entry.mu.Unlock()
		return entry.record.Clone(), nil
	}

	return m.store.Get(jobID)
}

// List delegates to the store; running jobs not yet checkpointed with
// their latest step will show their last-persisted state.
func (m *JobManager) List(filter store.Filter, page store.Page) ([]*models.RunRecord, error) {
	return m.store.List(filter, page)
}

// Cancel requests cancellation of jobID: it flips the job's RunRecord to
// CANCELLED (if not already terminal), fires the cooperative cancellation
// token so JobRunner stops issuing further commands, force-removes the
// sandbox if the registry's record carries a SandboxID, and persists the
// record. The registry's record gains a SandboxID only when Runner.Run
// returns, so for a job still running Cancel removes no container itself;
// the runner's own deferred cleanup removes it once the token fires. It
// mirrors the ground-truth job_manager.cancel_job:
// ok reports whether jobID is known at all, not whether this call is the
// one that cancelled it; a second Cancel of an already-cancelled job
// still returns (true, <the same CANCELLED record>), making the call
// idempotent (spec §7 testable property 4).
func (m *JobManager) Cancel(jobID string) (bool, *models.RunRecord, error) {
	m.mu.Lock()
	entry, ok := m.registry[jobID]
	m.mu.Unlock()
	if !ok {
		return false, nil, nil
	}

	entry.mu.Lock()
	entry.cancelled = true
	var sandboxID string
	if entry.record != nil {
		if !entry.record.Status.IsTerminal() {
			entry.record.Status = models.JobCancelled
			entry.record.Error = "job cancelled by user"
			finished := time.Now().UTC()
			entry.record.FinishedAt = &finished
		}
		sandboxID = entry.record.SandboxID
	}
	record := entry.record.Clone()
	entry.mu.Unlock()

	// The cooperative token: context.CancelFunc is safe to call more than
	// once, so a repeated Cancel is a cheap no-op here.
	entry.cancel()

	if sandboxID != "" {
		removeCtx, cancelRemove := context.WithTimeout(context.Background(), forceRemoveTimeout)
		if err := m.driver.Remove(removeCtx, sandboxID, true); err != nil {
			logging.Log.WithError(err).WithField("job_id", jobID).WithField("sandbox_id", sandboxID).
				Warn("failed to force-remove sandbox on cancel")
		}
		cancelRemove()
	}

	if record != nil {
		if err := m.store.Put(record); err != nil {
			logging.Log.WithError(err).WithField("job_id", jobID).Warn("failed to persist cancelled run record")
		}
	}

	return true, record, nil
}

// GetArtifact returns the local path of a persisted artifact.
func (m *JobManager) GetArtifact(jobID, name string) (string, bool, error) {
	return m.store.GetArtifact(jobID, name)
}

// ListArtifacts returns the names of artifacts persisted for a job.
func (m *JobManager) ListArtifacts(jobID string) ([]string, error) {
	return m.store.ListArtifacts(jobID)
}

func terminalOutcome(status models.JobStatus) audit.Outcome {
	if status == models.JobSuccess {
		return audit.OutcomeAllowed
	}
	return audit.OutcomeError
}

// injectSecurityOpts flattens a ContainerSecurity policy into the string
// form DockerDriver.Create expects under metadata["_security_opts"]
// (spec §4.5 step 4, mirrored by worker.SecurityOptsMetadataKey).
func injectSecurityOpts(spec models.JobSpec, sec models.ContainerSecurity) models.JobSpec {
	var opts []string
	for _, capName := range sec.CapDrop {
		opts = append(opts, "cap-drop:"+capName)
	}
	opts = append(opts, sec.SecurityOpt...)
	if sec.ReadOnly {
		opts = append(opts, "read-only")
	}
	if len(opts) == 0 {
		return spec
	}

	if spec.Metadata == nil {
		spec.Metadata = make(map[string]interface{})
	}
	spec.Metadata[worker.SecurityOptsMetadataKey] = opts
	return spec
}
