// Package workflows implements WorkflowEngine: DAG validation and the
// dependency-gated scheduling loop that submits a workflow's jobs into
// JobManager as their dependencies clear (spec §4.6).
package workflows

import (
	"fmt"

	"github.com/orcaops/orcaops/internal/models"
)

// ValidateDAG checks that every depends_on reference points at a
// declared job and that the dependency graph is acyclic. Job name
// uniqueness is enforced for free by WorkflowSpec.Jobs being a map.
func ValidateDAG(spec models.WorkflowSpec) error {
	for name, node := range spec.Jobs {
		for _, dep := range node.DependsOn {
			if _, ok := spec.Jobs[dep]; !ok {
				return fmt.Errorf("job %q depends on undeclared job %q", name, dep)
			}
		}
	}

	if _, err := topologicalOrder(spec); err != nil {
		return err
	}
	return nil
}

// topologicalOrder returns a valid execution order, or an error if the
// graph contains a cycle. Kahn's algorithm, grounded on the same
// dependency-count bookkeeping used elsewhere in the pack for readiness
// checks.
func topologicalOrder(spec models.WorkflowSpec) ([]string, error) {
	inDegree := make(map[string]int, len(spec.Jobs))
	dependents := make(map[string][]string, len(spec.Jobs))

	for name, node := range spec.Jobs {
		inDegree[name] += 0
		for _, dep := range node.DependsOn {
			inDegree[name]++
			dependents[dep] = append(dependents[dep], name)
		}
	}

	var queue []string
	for name, degree := range inDegree {
		if degree == 0 {
			queue = append(queue, name)
		}
	}

	var order []string
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		order = append(order, next)

		for _, dependent := range dependents[next] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(order) != len(spec.Jobs) {
		return nil, fmt.Errorf("workflow %q has a cycle in its job dependency graph", spec.Name)
	}
	return order, nil
}
