// Package audit implements AuditSink: an append-only JSONL event log,
// one file per UTC calendar day, under <root>/audit/YYYY-MM-DD.log
// (spec §6). Writers are serialized by a mutex; a failure to write an
// audit event is logged but never blocks the admission pipeline.
package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/catalystcommunity/app-utils-go/logging"
)

// Outcome is the result recorded against an audit event's subject.
type Outcome string

const (
	OutcomeAllowed Outcome = "allowed"
	OutcomeDenied  Outcome = "denied"
	OutcomeError   Outcome = "error"
)

// Known action names, per spec §6.
const (
	ActionPolicyViolation   = "policy.violation"
	ActionQuotaDenied       = "quota.denied"
	ActionJobSubmitted      = "job.submitted"
	ActionJobTerminal       = "job.terminal"
	ActionWorkflowSubmitted = "workflow.submitted"
	ActionWorkflowTerminal  = "workflow.terminal"
)

// Event is one structured admission/lifecycle audit record.
type Event struct {
	Timestamp   time.Time              `json:"ts"`
	Actor       string                 `json:"actor,omitempty"`
	WorkspaceID string                 `json:"workspace_id,omitempty"`
	Action      string                 `json:"action"`
	Subject     string                 `json:"subject"`
	Outcome     Outcome                `json:"outcome"`
	Details     map[string]interface{} `json:"details,omitempty"`
}

// Sink appends Events to a per-day JSONL file under root/audit.
type Sink struct {
	mu   sync.Mutex
	root string
	now  func() time.Time
}

// New creates a Sink rooted at <root>/audit.
func New(root string) *Sink {
	return &Sink{root: filepath.Join(root, "audit"), now: time.Now}
}

// Record appends ev (stamping Timestamp if zero) to today's log file.
// Write failures are logged and swallowed: audit is best-effort and must
// never block or fail the admission pipeline it observes.
func (s *Sink) Record(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = s.now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.root, 0o755); err != nil {
		logging.Log.WithError(err).WithField("action", ev.Action).Warn("failed to create audit directory")
		return
	}

	path := filepath.Join(s.root, ev.Timestamp.Format("2006-01-02")+".log")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		logging.Log.WithError(err).WithField("action", ev.Action).Warn("failed to open audit log")
		return
	}
	defer f.Close()

	data, err := json.Marshal(ev)
	if err != nil {
		logging.Log.WithError(err).WithField("action", ev.Action).Warn("failed to marshal audit event")
		return
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		logging.Log.WithError(err).WithField("action", ev.Action).Warn("failed to write audit event")
	}
}
