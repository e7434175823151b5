package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestRecord_AppendsJSONLToDailyFile(t *testing.T) {
	dir := t.TempDir()
	sink := New(dir)
	sink.now = func() time.Time { return time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC) }

	sink.Record(Event{Action: ActionPolicyViolation, Subject: "j1", Outcome: OutcomeDenied})
	sink.Record(Event{Action: ActionJobSubmitted, Subject: "j2", Outcome: OutcomeAllowed})

	path := filepath.Join(dir, "audit", "2026-07-30.log")
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("expected audit log file to exist: %v", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	var events []Event
	for scanner.Scan() {
		var ev Event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			t.Fatalf("failed to unmarshal audit line: %v", err)
		}
		events = append(events, ev)
	}

	if len(events) != 2 {
		t.Fatalf("expected 2 audit lines, got %d", len(events))
	}
	if events[0].Action != ActionPolicyViolation || events[0].Outcome != OutcomeDenied {
		t.Fatalf("unexpected first event: %+v", events[0])
	}
	if events[1].Action != ActionJobSubmitted || events[1].Outcome != OutcomeAllowed {
		t.Fatalf("unexpected second event: %+v", events[1])
	}
}
