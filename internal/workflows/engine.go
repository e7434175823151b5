package workflows

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/catalystcommunity/app-utils-go/logging"
	"github.com/google/uuid"

	"github.com/orcaops/orcaops/internal/audit"
	"github.com/orcaops/orcaops/internal/jobmanager"
	"github.com/orcaops/orcaops/internal/metrics"
	"github.com/orcaops/orcaops/internal/models"
	"github.com/orcaops/orcaops/internal/store"
)

// pollInterval is how often the scheduling loop re-checks child job
// status and re-evaluates the ready set. Workflows have no latency
// budget in the spec, so a short fixed interval keeps tests fast
// without busy-looping.
const pollInterval = 50 * time.Millisecond

// badTerminalStatuses are the job statuses that, absent continue_on_error,
// cause a dependent to be SKIPPED rather than scheduled (spec §4.6 step 2).
var badTerminalStatuses = map[models.JobStatus]struct{}{
	models.JobFailed:    {},
	models.JobCancelled: {},
	models.JobTimeout:   {},
	models.JobError:     {},
}

type workflowEntry struct {
	mu        sync.Mutex
	cancel    context.CancelFunc
	record    *models.WorkflowRecord
	cancelled bool
}

// Engine is WorkflowEngine: it validates WorkflowSpecs, runs one
// scheduling goroutine per submitted workflow, and submits each ready
// job into the shared JobManager admission pipeline (spec §4.6).
type Engine struct {
	jobs  *jobmanager.JobManager
	store *store.WorkflowStore
	audit *audit.Sink

	mu        sync.Mutex
	instances map[string]*workflowEntry
}

// New creates an Engine that submits child jobs through jobs and
// persists WorkflowRecords through st.
func New(jobs *jobmanager.JobManager, st *store.WorkflowStore, auditSink *audit.Sink) *Engine {
	return &Engine{
		jobs:      jobs,
		store:     st,
		audit:     auditSink,
		instances: make(map[string]*workflowEntry),
	}
}

// Submit validates spec's DAG and, if valid, starts scheduling it in the
// background. It returns immediately with the workflow's initial RUNNING
// record; callers poll Get for progress.
func (e *Engine) Submit(spec models.WorkflowSpec, workflowID, workspaceID, triggeredBy string) (*models.WorkflowRecord, error) {
	if workflowID == "" {
		workflowID = uuid.NewString()
	}

	if err := ValidateDAG(spec); err != nil {
		return nil, fmt.Errorf("invalid workflow spec: %w", err)
	}

	now := time.Now().UTC()
	record := &models.WorkflowRecord{
		WorkflowID:  workflowID,
		SpecName:    spec.Name,
		Status:      models.WorkflowRunning,
		JobStatuses: make(map[string]models.JobStatusEntry, len(spec.Jobs)),
		CreatedAt:   now,
		StartedAt:   &now,
		TriggeredBy: triggeredBy,
	}
	for name := range spec.Jobs {
		record.JobStatuses[name] = models.JobStatusEntry{Status: models.WFJobPending}
	}

	if err := e.store.Put(record); err != nil {
		logging.Log.WithError(err).WithField("workflow_id", workflowID).Warn("failed to persist initial workflow record")
	}

	ctx, cancel := context.WithCancel(context.Background())
	entry := &workflowEntry{cancel: cancel, record: record}

	e.mu.Lock()
	e.instances[workflowID] = entry
	e.mu.Unlock()

	e.audit.Record(audit.Event{
		WorkspaceID: workspaceID,
		Action:      audit.ActionWorkflowSubmitted,
		Subject:     workflowID,
		Outcome:     audit.OutcomeAllowed,
	})
	metrics.RecordWorkflowSubmitted(workspaceID)

	go e.run(ctx, spec, workflowID, workspaceID, entry)

	return record.Clone(), nil
}

// run is the dedicated scheduling worker for one workflow instance. It
// loops computing the ready set, submitting jobs, and observing their
// terminal status until every job is terminal or the workflow is
// cancelled (spec §4.6 step 2).
func (e *Engine) run(ctx context.Context, spec models.WorkflowSpec, workflowID, workspaceID string, entry *workflowEntry) {
	names := sortedJobNames(spec)
	submittedJobIDs := make(map[string]string, len(names))

	for {
		entry.mu.Lock()
		select {
		case <-ctx.Done():
			entry.cancelled = true
		default:
		}
		cancelled := entry.cancelled
		record := entry.record

		if cancelled {
			e.cancelRemainingChildren(record, submittedJobIDs)
		}

		allTerminal := true
		for _, name := range names {
			jobEntry := record.JobStatuses[name]
			if jobEntry.Status.IsTerminal() {
				continue
			}
			allTerminal = false

			node := spec.Jobs[name]

			if jobID, ok := submittedJobIDs[name]; ok {
				e.refreshChildStatus(record, name, jobID)
				continue
			}

			if cancelled {
				continue
			}

			depsTerminal, depsClean := dependencyState(node.DependsOn, record.JobStatuses)
			if !depsTerminal {
				continue
			}
			if !depsClean && !node.ContinueOnError {
				finishAsSkipped(record, name)
				continue
			}
			if !evalWhen(node.When, record.JobStatuses) {
				finishAsSkipped(record, name)
				continue
			}

			jobID := fmt.Sprintf("wf-%s-%s", workflowID, name)
			submittedJobIDs[name] = jobID
			e.submitChild(record, workspaceID, jobID, name, node)
		}

		if allTerminal {
			e.finish(record, workspaceID, cancelled)
			entry.mu.Unlock()
			return
		}
		entry.mu.Unlock()

		select {
		case <-ctx.Done():
		case <-time.After(pollInterval):
		}
	}
}

// submitChild submits one ready job's JobSpec into JobManager and
// records the outcome. A submission-time admission failure (policy or
// quota) is recorded as an immediate ERROR for that job, not a panic or
// a dropped workflow — the scheduling loop treats it like any other
// terminal child.
func (e *Engine) submitChild(record *models.WorkflowRecord, workspaceID, jobID, name string, node models.JobNode) {
	commands := make([]models.Command, 0, len(node.Commands))
	for _, c := range node.Commands {
		commands = append(commands, models.Command{Command: c})
	}

	spec := models.JobSpec{
		JobID:       jobID,
		WorkspaceID: workspaceID,
		Sandbox: models.Sandbox{
			Image: node.Image,
			Env:   node.Env,
		},
		Commands:  commands,
		Artifacts: node.Artifacts,
	}

	now := time.Now().UTC()
	if _, err := e.jobs.Submit(spec); err != nil {
		logging.Log.WithError(err).WithField("job_name", name).WithField("job_id", jobID).Warn("child job submission was rejected")
		record.JobStatuses[name] = models.JobStatusEntry{
			Status:     models.WorkflowJobStatus(models.JobError),
			JobID:      jobID,
			StartedAt:  &now,
			FinishedAt: &now,
			Error:      err.Error(),
		}
		return
	}

	record.JobStatuses[name] = models.JobStatusEntry{
		Status:    models.WorkflowJobStatus(models.JobRunning),
		JobID:     jobID,
		StartedAt: &now,
	}
}

// refreshChildStatus pulls the latest RunRecord for an already-submitted
// job and mirrors its status into the workflow record.
func (e *Engine) refreshChildStatus(record *models.WorkflowRecord, name, jobID string) {
	runRecord, err := e.jobs.Get(jobID)
	if err != nil || runRecord == nil {
		return
	}

	entry := record.JobStatuses[name]
	entry.Status = models.WorkflowJobStatus(runRecord.Status)
	if runRecord.Status.IsTerminal() {
		entry.FinishedAt = runRecord.FinishedAt
		entry.Error = runRecord.Error
	}
	record.JobStatuses[name] = entry
}

// cancelRemainingChildren propagates workflow cancellation to every
// submitted child job that hasn't reached a terminal state yet (spec
// §4.6 cancellation semantics).
func (e *Engine) cancelRemainingChildren(record *models.WorkflowRecord, submittedJobIDs map[string]string) {
	for name, jobID := range submittedJobIDs {
		entry := record.JobStatuses[name]
		if entry.Status.IsTerminal() {
			continue
		}
		if _, _, err := e.jobs.Cancel(jobID); err != nil {
			logging.Log.WithError(err).WithField("job_id", jobID).Warn("failed to cancel child job")
		}
	}
}

// finish aggregates the workflow's terminal status, persists it, and
// emits the terminal audit event.
func (e *Engine) finish(record *models.WorkflowRecord, workspaceID string, cancelled bool) {
	record.Status = aggregateStatus(record.JobStatuses, cancelled)
	finished := time.Now().UTC()
	record.FinishedAt = &finished

	if err := e.store.Put(record); err != nil {
		logging.Log.WithError(err).WithField("workflow_id", record.WorkflowID).Warn("failed to persist final workflow record")
	}

	e.audit.Record(audit.Event{
		WorkspaceID: workspaceID,
		Action:      audit.ActionWorkflowTerminal,
		Subject:     record.WorkflowID,
		Outcome:     terminalWorkflowOutcome(record.Status),
		Details:     map[string]interface{}{"status": record.Status},
	})
	metrics.RecordWorkflowTerminal(workspaceID, string(record.Status))
}

func terminalWorkflowOutcome(status models.WorkflowStatus) audit.Outcome {
	switch status {
	case models.WorkflowSuccess, models.WorkflowPartialSuccess:
		return audit.OutcomeAllowed
	default:
		return audit.OutcomeError
	}
}

// dependencyState reports whether every dependency has reached a
// terminal state, and whether all of them terminated cleanly (i.e. none
// in a bad-terminal status).
func dependencyState(dependsOn []string, statuses map[string]models.JobStatusEntry) (allTerminal, allClean bool) {
	allTerminal, allClean = true, true
	for _, dep := range dependsOn {
		entry, ok := statuses[dep]
		if !ok || !entry.Status.IsTerminal() {
			allTerminal = false
			continue
		}
		if entry.Status == models.WFJobSkipped {
			allClean = false
			continue
		}
		if _, bad := badTerminalStatuses[models.JobStatus(entry.Status)]; bad {
			allClean = false
		}
	}
	return allTerminal, allClean
}

func finishAsSkipped(record *models.WorkflowRecord, name string) {
	now := time.Now().UTC()
	record.JobStatuses[name] = models.JobStatusEntry{
		Status:     models.WFJobSkipped,
		StartedAt:  &now,
		FinishedAt: &now,
	}
}

// aggregateStatus implements spec §4.6 step 3's status rollup.
func aggregateStatus(statuses map[string]models.JobStatusEntry, cancelled bool) models.WorkflowStatus {
	if cancelled {
		return models.WorkflowCancelled
	}

	var anySuccess, anyFailure bool
	for _, entry := range statuses {
		switch {
		case entry.Status == models.WorkflowJobStatus(models.JobSuccess):
			anySuccess = true
		case entry.Status == models.WFJobSkipped:
			// neither success nor failure for aggregation purposes
		default:
			anyFailure = true
		}
	}

	switch {
	case anyFailure && anySuccess:
		return models.WorkflowPartialSuccess
	case anyFailure:
		return models.WorkflowFailed
	default:
		return models.WorkflowSuccess
	}
}

func sortedJobNames(spec models.WorkflowSpec) []string {
	names := make([]string, 0, len(spec.Jobs))
	for name := range spec.Jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Get returns the most current view of a workflow.
func (e *Engine) Get(workflowID string) (*models.WorkflowRecord, error) {
	e.mu.Lock()
	entry, ok := e.instances[workflowID]
	e.mu.Unlock()

	if ok {
		entry.mu.Lock()
		defer entry.mu.Unlock()
		return entry.record.Clone(), nil
	}

	return e.store.Get(workflowID)
}

// List returns every known workflow, newest first.
func (e *Engine) List() ([]*models.WorkflowRecord, error) {
	return e.store.List()
}

// Cancel requests cancellation of workflowID and all of its non-terminal
// children. Idempotent: cancelling an unknown or already-terminal
// workflow is a no-op.
func (e *Engine) Cancel(workflowID string) error {
	e.mu.Lock()
	entry, ok := e.instances[workflowID]
	e.mu.Unlock()
	if !ok {
		return nil
	}

	entry.mu.Lock()
	alreadyTerminal := entry.record != nil && isWorkflowTerminal(entry.record.Status)
	entry.mu.Unlock()
	if alreadyTerminal {
		return nil
	}

	entry.cancel()
	return nil
}

func isWorkflowTerminal(status models.WorkflowStatus) bool {
	switch status {
	case models.WorkflowSuccess, models.WorkflowFailed, models.WorkflowPartialSuccess, models.WorkflowCancelled:
		return true
	default:
		return false
	}
}
