package engine

import (
	"fmt"

	"github.com/rendis/dataflow/pkg/schema"
)

// GraphNode is a node of the dependency graph with its adjacency.
type GraphNode struct {
	Node         schema.NodeInstance
	Dependencies []string // upstream node IDs, deduplicated
	Dependents   []string // downstream node IDs, deduplicated
	// Inputs maps a target handle to the node feeding it.
	Inputs map[string]string
	Level  int
}

// Graph is the in-memory dependency graph of a pipeline.
// Built from nodes and connections, used by the Engine to order dispatch.
type Graph struct {
	Nodes  map[string]*GraphNode
	Order  []string   // topological order, ties broken by node input order
	Roots  []string   // nodes with no dependencies
	Levels [][]string // nodes grouped by depth, for layout and diagnostics
	Cycles [][]string
	index  []string // node IDs in input order
}

// BuildGraph validates the structure of a pipeline, rejects cycles and
// computes a topological order and levels.
func BuildGraph(nodes []schema.NodeInstance, connections []schema.Connection) (*Graph, error) {
	g := &Graph{
		Nodes: make(map[string]*GraphNode, len(nodes)),
		index: make([]string, 0, len(nodes)),
	}

	for i, n := range nodes {
		if n.ID == "" {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "node at index %d has empty ID", i)
		}
		if _, exists := g.Nodes[n.ID]; exists {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "duplicate node ID: %s", n.ID)
		}
		g.Nodes[n.ID] = &GraphNode{Node: n, Inputs: make(map[string]string)}
		g.index = append(g.index, n.ID)
	}

	for i, c := range connections {
		src, ok := g.Nodes[c.Source]
		if !ok {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "connection %s references non-existent source node: %s", connectionName(c, i), c.Source)
		}
		dst, ok := g.Nodes[c.Target]
		if !ok {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "connection %s references non-existent target node: %s", connectionName(c, i), c.Target)
		}

		handle := c.InputHandle()
		if prev, taken := dst.Inputs[handle]; taken {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"handle %q of node %s already receives %s", handle, c.Target, prev).
				WithNode(c.Target)
		}
		dst.Inputs[handle] = c.Source

		dst.Dependencies = appendUnique(dst.Dependencies, c.Source)
		src.Dependents = appendUnique(src.Dependents, c.Target)
	}

	g.Cycles = g.findCycles()
	if len(g.Cycles) > 0 {
		return nil, cycleError(g.Cycles)
	}

	order, err := g.topoSort()
	if err != nil {
		return nil, err
	}
	g.Order = order

	for _, id := range g.Order {
		n := g.Nodes[id]
		if len(n.Dependencies) == 0 {
			g.Roots = append(g.Roots, id)
		}
	}
	g.Levels = g.computeLevels()

	return g, nil
}

// topoSort runs a depth-first search in node input order, emitting each node
// after all of its dependencies.
func (g *Graph) topoSort() ([]string, error) {
	order := make([]string, 0, len(g.Nodes))
	visited := make(map[string]bool, len(g.Nodes))
	visiting := make(map[string]bool)

	var visit func(id string) error
	visit = func(id string) error {
		if visiting[id] {
			return schema.NewErrorf(schema.ErrCodeCircularDependency, "circular dependency detected at node %s", id).
				WithNode(id).
				WithDetails(map[string]any{"node_ids": []string{id}})
		}
		if visited[id] {
			return nil
		}
		visiting[id] = true
		for _, dep := range g.Nodes[id].Dependencies {
			if err := visit(dep); err != nil {
				return err
			}
		}
		delete(visiting, id)
		visited[id] = true
		order = append(order, id)
		return nil
	}

	for _, id := range g.index {
		if err := visit(id); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// findCycles walks dependents from every unvisited node and records the
// stack slice each time a node already on the stack is reached again.
func (g *Graph) findCycles() [][]string {
	var cycles [][]string
	visited := make(map[string]bool, len(g.Nodes))
	onStack := make(map[string]int)
	var stack []string

	var walk func(id string)
	walk = func(id string) {
		visited[id] = true
		onStack[id] = len(stack)
		stack = append(stack, id)

		for _, next := range g.Nodes[id].Dependents {
			if pos, ok := onStack[next]; ok {
				cycle := make([]string, len(stack)-pos)
				copy(cycle, stack[pos:])
				cycles = append(cycles, cycle)
				continue
			}
			if !visited[next] {
				walk(next)
			}
		}

		stack = stack[:len(stack)-1]
		delete(onStack, id)
	}

	for _, id := range g.index {
		if !visited[id] {
			walk(id)
		}
	}
	return cycles
}

// computeLevels assigns max(level of dependencies)+1 to every node.
func (g *Graph) computeLevels() [][]string {
	maxLevel := 0
	for _, id := range g.Order {
		n := g.Nodes[id]
		level := 0
		for _, dep := range n.Dependencies {
			if l := g.Nodes[dep].Level + 1; l > level {
				level = l
			}
		}
		n.Level = level
		if level > maxLevel {
			maxLevel = level
		}
	}

	if len(g.Order) == 0 {
		return nil
	}
	levels := make([][]string, maxLevel+1)
	for _, id := range g.Order {
		l := g.Nodes[id].Level
		levels[l] = append(levels[l], id)
	}
	return levels
}

// Ancestors returns every transitive dependency of id in topological order.
func (g *Graph) Ancestors(id string) []string {
	if _, ok := g.Nodes[id]; !ok {
		return nil
	}

	needed := make(map[string]bool)
	var mark func(string)
	mark = func(n string) {
		for _, dep := range g.Nodes[n].Dependencies {
			if !needed[dep] {
				needed[dep] = true
				mark(dep)
			}
		}
	}
	mark(id)

	out := make([]string, 0, len(needed))
	for _, n := range g.Order {
		if needed[n] {
			out = append(out, n)
		}
	}
	return out
}

// NodeIDs returns the node IDs in input order.
func (g *Graph) NodeIDs() []string {
	out := make([]string, len(g.index))
	copy(out, g.index)
	return out
}

func cycleError(cycles [][]string) *schema.DataflowError {
	seen := make(map[string]bool)
	var ids []string
	for _, c := range cycles {
		for _, id := range c {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	return schema.NewErrorf(schema.ErrCodeCircularDependency,
		"graph contains %d cycle(s) involving nodes %v", len(cycles), ids).
		WithDetails(map[string]any{"cycles": cycles, "node_ids": ids})
}

func connectionName(c schema.Connection, i int) string {
	if c.ID != "" {
		return c.ID
	}
	return fmt.Sprintf("#%d", i)
}

func appendUnique(s []string, v string) []string {
	for _, existing := range s {
		if existing == v {
			return s
		}
	}
	return append(s, v)
}
