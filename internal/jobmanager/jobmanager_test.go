package jobmanager

import (
	"testing"
	"time"

	"github.com/orcaops/orcaops/internal/audit"
	"github.com/orcaops/orcaops/internal/models"
	"github.com/orcaops/orcaops/internal/quota"
	"github.com/orcaops/orcaops/internal/runtime"
	"github.com/orcaops/orcaops/internal/store"
)

type staticWorkspaces struct {
	workspaces map[string]*models.Workspace
}

func (s *staticWorkspaces) Get(workspaceID string) (*models.Workspace, error) {
	return s.workspaces[workspaceID], nil
}

func newTestManager(t *testing.T, policyOverride *models.SecurityPolicy, workspaces map[string]*models.Workspace) *JobManager {
	t.Helper()
	p := models.SecurityPolicy{}
	if policyOverride != nil {
		p = *policyOverride
	}
	return New(
		p,
		&staticWorkspaces{workspaces: workspaces},
		quota.New(),
		store.New(t.TempDir()),
		audit.New(t.TempDir()),
		runtime.NewFakeDriver(),
	)
}

func waitForTerminal(t *testing.T, m *JobManager, jobID string) *models.RunRecord {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		record, err := m.Get(jobID)
		if err != nil {
			t.Fatal(err)
		}
		if record != nil && record.Status.IsTerminal() {
			return record
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s did not reach a terminal state in time", jobID)
	return nil
}

func TestSubmit_AdmitsAndRunsToSuccess(t *testing.T) {
	m := newTestManager(t, nil, nil)

	spec := models.JobSpec{
		JobID:   "job-ok",
		Sandbox: models.Sandbox{Image: "alpine:latest"},
		Commands: []models.Command{
			{Command: "echo hi"},
		},
	}

	record, err := m.Submit(spec)
	if err != nil {
		t.Fatalf("unexpected admission error: %v", err)
	}
	if record.Status != models.JobQueued {
		t.Fatalf("expected QUEUED immediately after submit, got %s", record.Status)
	}

	final := waitForTerminal(t, m, "job-ok")
	if final.Status != models.JobSuccess {
		t.Fatalf("expected SUCCESS, got %s", final.Status)
	}
}

func TestSubmit_DuplicateJobIDIsRejected(t *testing.T) {
	m := newTestManager(t, nil, nil)

	spec := models.JobSpec{
		JobID:    "job-dup",
		Sandbox:  models.Sandbox{Image: "alpine:latest"},
		Commands: []models.Command{{Command: "echo hi"}},
	}

	if _, err := m.Submit(spec); err != nil {
		t.Fatalf("unexpected error on first submit: %v", err)
	}
	if _, err := m.Submit(spec); err == nil {
		t.Fatal("expected an error submitting a duplicate job_id")
	}
}

func TestSubmit_PolicyViolationDeniesWithoutReservingQuota(t *testing.T) {
	p := models.SecurityPolicy{
		ImagePolicy: models.ImagePolicy{
			BlockedImages: []string{"evil/*"},
		},
	}
	m := newTestManager(t, &p, nil)

	spec := models.JobSpec{
		JobID:    "job-blocked",
		Sandbox:  models.Sandbox{Image: "evil/miner"},
		Commands: []models.Command{{Command: "echo hi"}},
	}

	_, err := m.Submit(spec)
	if err == nil {
		t.Fatal("expected policy violation error")
	}
	admissionErr, ok := err.(*AdmissionError)
	if !ok {
		t.Fatalf("expected *AdmissionError, got %T", err)
	}
	if len(admissionErr.Violations) == 0 {
		t.Fatal("expected at least one violation")
	}

	usage := m.quota.GetUsage("")
	if usage.CurrentRunningJobs != 0 {
		t.Fatalf("policy-denied job must not reserve quota, got %d running", usage.CurrentRunningJobs)
	}
}

func TestSubmit_QuotaDenialRejectsOverLimitJobs(t *testing.T) {
	workspace := &models.Workspace{
		ID:     "ws-1",
		Limits: models.ResourceLimits{MaxConcurrentJobs: 1},
	}
	m := newTestManager(t, nil, map[string]*models.Workspace{"ws-1": workspace})

	spec1 := models.JobSpec{
		JobID:       "job-a",
		WorkspaceID: "ws-1",
		Sandbox:     models.Sandbox{Image: "alpine:latest"},
		Commands:    []models.Command{{Command: "sleep 2"}},
	}
	spec2 := models.JobSpec{
		JobID:       "job-b",
		WorkspaceID: "ws-1",
		Sandbox:     models.Sandbox{Image: "alpine:latest"},
		Commands:    []models.Command{{Command: "echo hi"}},
	}

	if _, err := m.Submit(spec1); err != nil {
		t.Fatalf("unexpected error admitting first job: %v", err)
	}
	if _, err := m.Submit(spec2); err == nil {
		t.Fatal("expected second job to be denied by the concurrent job limit")
	}
}

func TestCancel_UnknownJobIsANoOp(t *testing.T) {
	m := newTestManager(t, nil, nil)
	ok, record, err := m.Cancel("no-such-job")
	if err != nil {
		t.Fatalf("expected cancelling an unknown job to be a no-op, got %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for an unknown job")
	}
	if record != nil {
		t.Fatalf("expected a nil record for an unknown job, got %+v", record)
	}
}

func TestCancel_FlipsRunningJobToCancelledAndIsIdempotent(t *testing.T) {
	m := newTestManager(t, nil, nil)

	spec := models.JobSpec{
		JobID:   "job-cancel",
		Sandbox: models.Sandbox{Image: "alpine:latest"},
		Commands: []models.Command{
			{Command: "sleep 5"},
		},
	}
	if _, err := m.Submit(spec); err != nil {
		t.Fatalf("unexpected error admitting job: %v", err)
	}

	ok, record, err := m.Cancel("job-cancel")
	if err != nil {
		t.Fatalf("unexpected error cancelling job: %v", err)
	}
	if !ok {
		t.Fatal("expected ok=true for a known job")
	}
	if record.Status != models.JobCancelled {
		t.Fatalf("expected CANCELLED, got %s", record.Status)
	}

	final := waitForTerminal(t, m, "job-cancel")
	if final.Status != models.JobCancelled {
		t.Fatalf("expected job to settle as CANCELLED, got %s", final.Status)
	}

	ok2, record2, err := m.Cancel("job-cancel")
	if err != nil {
		t.Fatalf("unexpected error on repeat cancel: %v", err)
	}
	if !ok2 {
		t.Fatal("expected ok=true on a repeat cancel of a known job")
	}
	if record2.Status != models.JobCancelled {
		t.Fatalf("expected repeat cancel to still report CANCELLED, got %s", record2.Status)
	}
}

func TestSubmit_QuotaIsReleasedAfterJobCompletes(t *testing.T) {
	workspace := &models.Workspace{
		ID:     "ws-2",
		Limits: models.ResourceLimits{MaxConcurrentJobs: 1},
	}
	m := newTestManager(t, nil, map[string]*models.Workspace{"ws-2": workspace})

	spec := models.JobSpec{
		JobID:       "job-release",
		WorkspaceID: "ws-2",
		Sandbox:     models.Sandbox{Image: "alpine:latest"},
		Commands:    []models.Command{{Command: "echo hi"}},
	}

	if _, err := m.Submit(spec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitForTerminal(t, m, "job-release")

	usage := m.quota.GetUsage("ws-2")
	if usage.CurrentRunningJobs != 0 {
		t.Fatalf("expected quota to be released after completion, got %d running", usage.CurrentRunningJobs)
	}

	spec.JobID = "job-release-2"
	if _, err := m.Submit(spec); err != nil {
		t.Fatalf("expected quota slot to be free for a second job, got error: %v", err)
	}
}
