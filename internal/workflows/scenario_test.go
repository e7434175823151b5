package workflows

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orcaops/orcaops/internal/models"
)

// TestScenario_FanOutAndDependentSkip covers spec.md §8 S5 (independent
// fan-out children both succeed) and S6 (a dependent job is skipped when
// its upstream fails) as a single end-to-end scenario, asserting the
// whole JobStatuses map shape at once — the multi-field comparison
// testify's require/assert pair is built for.
func TestScenario_FanOutAndDependentSkip(t *testing.T) {
	e := newTestEngine(t)

	fanOut := models.WorkflowSpec{
		Name: "scenario-fan-out",
		Jobs: map[string]models.JobNode{
			"build":  {Image: "alpine:latest", Commands: []string{"echo build"}},
			"test_a": {Image: "alpine:latest", Commands: []string{"echo test_a"}, DependsOn: []string{"build"}},
			"test_b": {Image: "alpine:latest", Commands: []string{"echo test_b"}, DependsOn: []string{"build"}},
		},
	}
	initial, err := e.Submit(fanOut, "wf-scenario-fan-out", "", "")
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowRunning, initial.Status)

	final := waitForWorkflowTerminal(t, e, "wf-scenario-fan-out")
	require.Equal(t, models.WorkflowSuccess, final.Status)
	for _, name := range []string{"build", "test_a", "test_b"} {
		assert.Equal(t, models.WorkflowJobStatus(models.JobSuccess), final.JobStatuses[name].Status, "job %s", name)
	}

	skipChain := models.WorkflowSpec{
		Name: "scenario-skip-chain",
		Jobs: map[string]models.JobNode{
			"build": {Image: "alpine:latest", Commands: []string{"exit 1"}},
			"test":  {Image: "alpine:latest", Commands: []string{"echo test"}, DependsOn: []string{"build"}},
		},
	}
	_, err = e.Submit(skipChain, "wf-scenario-skip-chain", "", "")
	require.NoError(t, err)

	finalSkip := waitForWorkflowTerminal(t, e, "wf-scenario-skip-chain")
	require.Equal(t, models.WorkflowFailed, finalSkip.Status)
	assert.Equal(t, models.WorkflowJobStatus(models.JobFailed), finalSkip.JobStatuses["build"].Status)
	assert.Equal(t, models.WFJobSkipped, finalSkip.JobStatuses["test"].Status)
}
