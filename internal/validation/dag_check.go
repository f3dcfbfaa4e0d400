package validation

import (
	"fmt"
	"sort"

	"github.com/rendis/dataflow/pkg/schema"
)

// validateGraph performs graph analysis on the connections: cycle detection
// (Kahn's algorithm) and a warning for nodes not wired to anything.
func validateGraph(p *schema.Pipeline) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	nodeIDs := make(map[string]bool, len(p.Nodes))
	for _, n := range p.Nodes {
		nodeIDs[n.ID] = true
	}

	// edges[id] = dependencies of id, reverse[id] = dependents of id.
	edges := make(map[string][]string, len(p.Nodes))
	reverse := make(map[string][]string, len(p.Nodes))
	connected := make(map[string]bool, len(p.Nodes))
	seen := make(map[[2]string]bool, len(p.Connections))

	for _, c := range p.Connections {
		if !nodeIDs[c.Source] || !nodeIDs[c.Target] {
			continue // dangling refs already reported by semantic
		}
		connected[c.Source] = true
		connected[c.Target] = true
		key := [2]string{c.Source, c.Target}
		if seen[key] {
			continue
		}
		seen[key] = true
		edges[c.Target] = append(edges[c.Target], c.Source)
		reverse[c.Source] = append(reverse[c.Source], c.Target)
	}

	inDegree := make(map[string]int, len(nodeIDs))
	for id := range nodeIDs {
		inDegree[id] = len(edges[id])
	}

	queue := make([]string, 0, len(nodeIDs))
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}
	sort.Strings(queue)

	visited := 0
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		visited++
		for _, dep := range reverse[node] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	if visited != len(nodeIDs) {
		var stuck []string
		for id, deg := range inDegree {
			if deg > 0 {
				stuck = append(stuck, id)
			}
		}
		sort.Strings(stuck)
		result.AddError("connections", schema.ErrCodeCircularDependency,
			fmt.Sprintf("pipeline contains a dependency cycle through %v", stuck))
		return result
	}

	if len(p.Nodes) > 1 {
		for i, n := range p.Nodes {
			if !connected[n.ID] {
				result.AddWarning(fmt.Sprintf("nodes[%d]", i), schema.ErrCodeValidation,
					fmt.Sprintf("node %q is not connected to any other node", n.ID))
			}
		}
	}

	return result
}
