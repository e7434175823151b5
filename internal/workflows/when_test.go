package workflows

import (
	"testing"

	"github.com/orcaops/orcaops/internal/models"
)

func TestEvalWhen_AbsentExpressionIsAlwaysTrue(t *testing.T) {
	if !evalWhen("", map[string]models.JobStatusEntry{}) {
		t.Fatal("expected absent condition to evaluate true")
	}
}

func TestEvalWhen_MatchesUpstreamStatus(t *testing.T) {
	statuses := map[string]models.JobStatusEntry{
		"build": {Status: models.WorkflowJobStatus(models.JobSuccess)},
	}

	if !evalWhen(`build == "SUCCESS"`, statuses) {
		t.Fatal("expected the clause to match")
	}
	if evalWhen(`build == "FAILED"`, statuses) {
		t.Fatal("expected the clause not to match")
	}
}

func TestEvalWhen_UnknownJobIsFalse(t *testing.T) {
	if evalWhen(`nope == "SUCCESS"`, map[string]models.JobStatusEntry{}) {
		t.Fatal("expected a clause referencing an unknown job to be false")
	}
}
