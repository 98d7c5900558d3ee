// Package validation provides static dependency validation for template
// sets. The validator is pure: it never touches the cache, the worker
// pool, or any renderer.
package validation

import (
	"fmt"
	"sort"

	"github.com/stencilkit/stencil/internal/types"
)

// DependencyReport is the outcome of validating a template set's
// dependency structure. Any circular or missing dependency is fatal for
// the whole batch.
type DependencyReport struct {
	// CircularDependencies lists each detected cycle as the ordered
	// sequence of template IDs forming it, closed on the starting ID.
	CircularDependencies [][]string
	// MissingDependencies lists dependency IDs that do not resolve to
	// any template in the set, sorted and de-duplicated.
	MissingDependencies []string
	// ValidationErrors carries human-readable descriptions of every
	// structural problem found.
	ValidationErrors []string
}

// Valid reports whether the set is structurally sound.
func (r *DependencyReport) Valid() bool {
	return len(r.CircularDependencies) == 0 &&
		len(r.MissingDependencies) == 0 &&
		len(r.ValidationErrors) == 0
}

// DependencyValidator statically checks template sets before scheduling.
type DependencyValidator struct{}

// NewDependencyValidator creates a validator.
func NewDependencyValidator() *DependencyValidator {
	return &DependencyValidator{}
}

// ValidateDependencies builds the dependency graph for the template set
// and reports cycles and unresolved references. Cycle detection and
// missing-reference detection are independent: a dangling reference does
// not mask a cycle elsewhere.
func (v *DependencyValidator) ValidateDependencies(templates []*types.Template) *DependencyReport {
	report := &DependencyReport{}

	graph := make(map[string][]string, len(templates))
	registered := make(map[string]bool, len(templates))
	for _, tmpl := range templates {
		registered[tmpl.ID] = true
	}

	missing := make(map[string]bool)
	for _, tmpl := range templates {
		deps := make([]string, 0, len(tmpl.DependsOn))
		for _, dep := range tmpl.DependsOn {
			if !registered[dep] {
				missing[dep] = true
				report.ValidationErrors = append(report.ValidationErrors,
					fmt.Sprintf("template %q depends on unregistered template %q", tmpl.ID, dep))
				continue
			}
			// Unresolved edges are excluded from the graph so cycle
			// detection only walks real templates.
			deps = append(deps, dep)
		}
		graph[tmpl.ID] = deps
	}

	for dep := range missing {
		report.MissingDependencies = append(report.MissingDependencies, dep)
	}
	sort.Strings(report.MissingDependencies)

	report.CircularDependencies = detectCycles(graph)
	for _, cycle := range report.CircularDependencies {
		report.ValidationErrors = append(report.ValidationErrors,
			fmt.Sprintf("circular dependency: %v", cycle))
	}

	return report
}

// detectCycles runs a depth-first traversal with a recursion stack; a
// back-edge to a node on the stack yields the cycle as the ordered slice
// of IDs from that node back to itself.
func detectCycles(graph map[string][]string) [][]string {
	var cycles [][]string

	visited := make(map[string]bool, len(graph))
	onStack := make(map[string]bool, len(graph))

	// Deterministic traversal order keeps reported cycles stable.
	roots := make([]string, 0, len(graph))
	for id := range graph {
		roots = append(roots, id)
	}
	sort.Strings(roots)

	var path []string
	var dfs func(node string) []string
	dfs = func(node string) []string {
		visited[node] = true
		onStack[node] = true
		path = append(path, node)

		for _, dep := range graph[node] {
			if !visited[dep] {
				if cycle := dfs(dep); cycle != nil {
					return cycle
				}
			} else if onStack[dep] {
				return extractCycle(path, dep)
			}
		}

		onStack[node] = false
		path = path[:len(path)-1]
		return nil
	}

	for _, root := range roots {
		if visited[root] {
			continue
		}
		path = path[:0]
		if cycle := dfs(root); cycle != nil {
			cycles = append(cycles, cycle)
			// Reset the stack markers left behind by the aborted
			// traversal so remaining roots get a clean walk.
			for k := range onStack {
				onStack[k] = false
			}
		}
	}

	return cycles
}

// extractCycle slices the current DFS path from the first occurrence of
// start and closes the cycle on it, e.g. path [a b c] with back-edge to b
// yields [b c b].
func extractCycle(path []string, start string) []string {
	for i, id := range path {
		if id == start {
			cycle := make([]string, 0, len(path)-i+1)
			cycle = append(cycle, path[i:]...)
			cycle = append(cycle, start)
			return cycle
		}
	}
	return nil
}
