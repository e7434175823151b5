package workflows

import (
	"strings"

	"github.com/orcaops/orcaops/internal/models"
)

// evalWhen decides whether a job's "when" expression holds given the
// current per-job statuses of the workflow. An absent expression is
// always true (spec §4.6). The supported grammar is deliberately small:
// one or more clauses of the form `<job_name> == "<STATUS>"` joined by
// "&&", each referencing an upstream job's terminal status. A clause
// naming a job that hasn't run yet (or doesn't exist) is false.
func evalWhen(expr string, statuses map[string]models.JobStatusEntry) bool {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return true
	}

	for _, clause := range strings.Split(expr, "&&") {
		if !evalClause(clause, statuses) {
			return false
		}
	}
	return true
}

func evalClause(clause string, statuses map[string]models.JobStatusEntry) bool {
	parts := strings.SplitN(clause, "==", 2)
	if len(parts) != 2 {
		return false
	}

	jobName := strings.TrimSpace(parts[0])
	wantStatus := strings.Trim(strings.TrimSpace(parts[1]), `"'`)

	entry, ok := statuses[jobName]
	if !ok {
		return false
	}
	return string(entry.Status) == wantStatus
}
