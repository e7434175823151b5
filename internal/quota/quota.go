// Package quota implements QuotaTracker: a thread-safe, per-workspace
// accountant of running jobs, running sandboxes, and daily job counts.
// A single mutex guards all state; critical sections are kept short so
// that check_limits and on_job_start can be called back-to-back by the
// caller without holding the lock across unrelated work (spec §4.2, §5).
package quota

import (
	"sync"
	"time"

	"github.com/orcaops/orcaops/internal/models"
)

// Kind distinguishes the resource being checked/reserved.
type Kind int

const (
	KindJob Kind = iota
	KindSandbox
)

type workspaceState struct {
	runningJobs     map[string]struct{}
	runningSandboxes map[string]struct{}
	dailyCounts     map[string]int // YYYY-MM-DD (UTC) -> count
}

func newWorkspaceState() *workspaceState {
	return &workspaceState{
		runningJobs:      make(map[string]struct{}),
		runningSandboxes: make(map[string]struct{}),
		dailyCounts:      make(map[string]int),
	}
}

// Tracker is the process-wide quota accountant, keyed by workspace ID.
type Tracker struct {
	mu         sync.Mutex
	workspaces map[string]*workspaceState
	now        func() time.Time // overridable for tests
}

// New creates an empty Tracker.
func New() *Tracker {
	return &Tracker{
		workspaces: make(map[string]*workspaceState),
		now:        time.Now,
	}
}

func (t *Tracker) state(workspace string) *workspaceState {
	ws, ok := t.workspaces[workspace]
	if !ok {
		ws = newWorkspaceState()
		t.workspaces[workspace] = ws
	}
	return ws
}

func (t *Tracker) today() string {
	return t.now().UTC().Format("2006-01-02")
}

// CheckLimits compares current usage against limits and returns the first
// violation reason, or ("", true) if the workspace has headroom.
func (t *Tracker) CheckLimits(workspace string, limits models.ResourceLimits, kind Kind) (allowed bool, reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.checkLimitsLocked(workspace, limits, kind)
}

func (t *Tracker) checkLimitsLocked(workspace string, limits models.ResourceLimits, kind Kind) (bool, string) {
	ws := t.state(workspace)

	switch kind {
	case KindJob:
		if limits.MaxConcurrentJobs > 0 && len(ws.runningJobs) >= limits.MaxConcurrentJobs {
			return false, "Concurrent job limit reached"
		}
		if limits.DailyJobLimit != nil {
			if ws.dailyCounts[t.today()] >= *limits.DailyJobLimit {
				return false, "Daily job limit reached"
			}
		}
	case KindSandbox:
		if limits.MaxConcurrentSandboxes > 0 && len(ws.runningSandboxes) >= limits.MaxConcurrentSandboxes {
			return false, "Concurrent sandbox limit reached"
		}
	}
	return true, ""
}

// CheckAndReserveJob atomically composes CheckLimits(KindJob) followed by
// OnJobStart so that two concurrent submits cannot both observe N-1
// running jobs and both reserve slot N (spec §4.5 step 3).
func (t *Tracker) CheckAndReserveJob(workspace, jobID string, limits models.ResourceLimits) (allowed bool, reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	allowed, reason = t.checkLimitsLocked(workspace, limits, KindJob)
	if !allowed {
		return false, reason
	}

	ws := t.state(workspace)
	ws.runningJobs[jobID] = struct{}{}
	ws.dailyCounts[t.today()]++
	return true, ""
}

// OnJobStart records a job as running and increments today's bucket,
// independent of when (or whether) the job later ends.
func (t *Tracker) OnJobStart(workspace, jobID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ws := t.state(workspace)
	ws.runningJobs[jobID] = struct{}{}
	ws.dailyCounts[t.today()]++
}

// OnJobEnd discards jobID from the running set. It is idempotent: calling
// it for an absent job is a harmless no-op, tolerant of spurious or
// duplicate release calls.
func (t *Tracker) OnJobEnd(workspace, jobID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ws := t.state(workspace)
	delete(ws.runningJobs, jobID)
}

// OnSandboxStart mirrors OnJobStart for sandboxes.
func (t *Tracker) OnSandboxStart(workspace, sandboxID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ws := t.state(workspace)
	ws.runningSandboxes[sandboxID] = struct{}{}
}

// OnSandboxEnd mirrors OnJobEnd for sandboxes.
func (t *Tracker) OnSandboxEnd(workspace, sandboxID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ws := t.state(workspace)
	delete(ws.runningSandboxes, sandboxID)
}

// GetUsage returns a point-in-time snapshot of a workspace's accounting.
func (t *Tracker) GetUsage(workspace string) models.UsageSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	ws := t.state(workspace)
	return models.UsageSnapshot{
		CurrentRunningJobs:      len(ws.runningJobs),
		CurrentRunningSandboxes: len(ws.runningSandboxes),
		JobsToday:               ws.dailyCounts[t.today()],
	}
}
