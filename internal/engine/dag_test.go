package engine

import (
	"errors"
	"reflect"
	"testing"

	"github.com/rendis/dataflow/pkg/schema"
)

// --- helpers ---

func node(id string) schema.NodeInstance {
	return schema.NodeInstance{ID: id, Type: "stub"}
}

func nodes(ids ...string) []schema.NodeInstance {
	out := make([]schema.NodeInstance, len(ids))
	for i, id := range ids {
		out[i] = node(id)
	}
	return out
}

func edge(source, target string) schema.Connection {
	return schema.Connection{Source: source, Target: target}
}

func edgeTo(source, target, handle string) schema.Connection {
	return schema.Connection{Source: source, Target: target, TargetHandle: handle}
}

// indexOf returns the position of each node in the topological order.
func indexOf(g *Graph) map[string]int {
	m := make(map[string]int, len(g.Order))
	for i, s := range g.Order {
		m[s] = i
	}
	return m
}

func dataflowErr(t *testing.T, err error) *schema.DataflowError {
	t.Helper()
	var de *schema.DataflowError
	if !errors.As(err, &de) {
		t.Fatalf("expected DataflowError, got %T: %v", err, err)
	}
	return de
}

// --- graph structure tests ---

func TestBuildGraph_LinearChain(t *testing.T) {
	g, err := BuildGraph(nodes("a", "b", "c"), []schema.Connection{edge("a", "b"), edge("b", "c")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !reflect.DeepEqual(g.Order, []string{"a", "b", "c"}) {
		t.Errorf("incorrect topological order: %v", g.Order)
	}
	if !reflect.DeepEqual(g.Roots, []string{"a"}) {
		t.Errorf("expected roots=[a], got %v", g.Roots)
	}
	if len(g.Levels) != 3 {
		t.Errorf("expected 3 levels, got %d", len(g.Levels))
	}
	if g.Nodes["c"].Level != 2 {
		t.Errorf("expected c at level 2, got %d", g.Nodes["c"].Level)
	}
}

func TestBuildGraph_Diamond(t *testing.T) {
	g, err := BuildGraph(nodes("d", "b", "c", "a"), []schema.Connection{
		edge("a", "b"), edge("a", "c"), edge("b", "d"), edge("c", "d"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	idx := indexOf(g)
	if idx["a"] >= idx["b"] || idx["a"] >= idx["c"] {
		t.Errorf("a must come before b and c: %v", g.Order)
	}
	if idx["b"] >= idx["d"] || idx["c"] >= idx["d"] {
		t.Errorf("b and c must come before d: %v", g.Order)
	}
	if !reflect.DeepEqual(g.Levels, [][]string{{"a"}, {"b", "c"}, {"d"}}) {
		t.Errorf("unexpected levels: %v", g.Levels)
	}
	if !reflect.DeepEqual(g.Nodes["d"].Dependencies, []string{"b", "c"}) {
		t.Errorf("unexpected dependencies of d: %v", g.Nodes["d"].Dependencies)
	}
}

func TestBuildGraph_InputOrderBreaksTies(t *testing.T) {
	g, err := BuildGraph(nodes("z", "y", "x"), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(g.Order, []string{"z", "y", "x"}) {
		t.Errorf("expected input order, got %v", g.Order)
	}
	if !reflect.DeepEqual(g.Roots, []string{"z", "y", "x"}) {
		t.Errorf("isolated nodes are roots, got %v", g.Roots)
	}
	if len(g.Levels) != 1 {
		t.Errorf("isolated nodes share level 0, got %v", g.Levels)
	}
}

func TestBuildGraph_Empty(t *testing.T) {
	g, err := BuildGraph(nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(g.Order) != 0 || len(g.Levels) != 0 {
		t.Errorf("expected empty graph, got order=%v levels=%v", g.Order, g.Levels)
	}
}

func TestBuildGraph_DuplicateConnectionsDeduplicated(t *testing.T) {
	g, err := BuildGraph(nodes("a", "m"), []schema.Connection{
		edgeTo("a", "m", "left"), edgeTo("a", "m", "right"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(g.Nodes["m"].Dependencies) != 1 || len(g.Nodes["a"].Dependents) != 1 {
		t.Errorf("expected deduplicated adjacency, got deps=%v dependents=%v",
			g.Nodes["m"].Dependencies, g.Nodes["a"].Dependents)
	}
	want := map[string]string{"left": "a", "right": "a"}
	if !reflect.DeepEqual(g.Nodes["m"].Inputs, want) {
		t.Errorf("unexpected inputs: %v", g.Nodes["m"].Inputs)
	}
}

func TestBuildGraph_DefaultHandle(t *testing.T) {
	g, err := BuildGraph(nodes("a", "b"), []schema.Connection{edge("a", "b")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if g.Nodes["b"].Inputs[schema.DefaultHandle] != "a" {
		t.Errorf("expected a on the default handle, got %v", g.Nodes["b"].Inputs)
	}
}

// --- structural errors ---

func TestBuildGraph_StructuralErrors(t *testing.T) {
	tests := []struct {
		name        string
		nodes       []schema.NodeInstance
		connections []schema.Connection
	}{
		{"empty id", []schema.NodeInstance{{Type: "stub"}}, nil},
		{"duplicate id", nodes("a", "a"), nil},
		{"unknown source", nodes("a"), []schema.Connection{edge("ghost", "a")}},
		{"unknown target", nodes("a"), []schema.Connection{edge("a", "ghost")}},
		{"handle taken twice", nodes("a", "b", "c"), []schema.Connection{edge("a", "c"), edge("b", "c")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildGraph(tt.nodes, tt.connections)
			if err == nil {
				t.Fatal("expected error")
			}
			if de := dataflowErr(t, err); de.Code != schema.ErrCodeValidation {
				t.Errorf("expected %s, got %s", schema.ErrCodeValidation, de.Code)
			}
		})
	}
}

// --- cycles ---

func TestBuildGraph_SimpleCycle(t *testing.T) {
	_, err := BuildGraph(nodes("a", "b", "c"), []schema.Connection{
		edge("a", "b"), edge("b", "c"), edge("c", "a"),
	})
	if err == nil {
		t.Fatal("expected cycle error")
	}

	de := dataflowErr(t, err)
	if de.Code != schema.ErrCodeCircularDependency {
		t.Fatalf("expected %s, got %s", schema.ErrCodeCircularDependency, de.Code)
	}
	cycles := de.Details["cycles"].([][]string)
	if !reflect.DeepEqual(cycles, [][]string{{"a", "b", "c"}}) {
		t.Errorf("unexpected cycles: %v", cycles)
	}
	if !reflect.DeepEqual(de.Details["node_ids"], []string{"a", "b", "c"}) {
		t.Errorf("unexpected node ids: %v", de.Details["node_ids"])
	}
}

func TestBuildGraph_SelfLoop(t *testing.T) {
	_, err := BuildGraph(nodes("a"), []schema.Connection{edge("a", "a")})
	if err == nil {
		t.Fatal("expected cycle error for self-loop")
	}

	de := dataflowErr(t, err)
	if de.Code != schema.ErrCodeCircularDependency {
		t.Fatalf("expected %s, got %s", schema.ErrCodeCircularDependency, de.Code)
	}
	if !reflect.DeepEqual(de.Details["cycles"], [][]string{{"a"}}) {
		t.Errorf("self-loop must be a 1-node cycle: %v", de.Details["cycles"])
	}
}

func TestBuildGraph_ReportsEveryCycle(t *testing.T) {
	// Two disjoint cycles plus an acyclic tail.
	_, err := BuildGraph(nodes("a", "b", "c", "d", "e"), []schema.Connection{
		edge("a", "b"), edge("b", "a"),
		edge("c", "d"), edge("d", "c"),
		edgeTo("d", "e", "input"),
	})
	if err == nil {
		t.Fatal("expected cycle error")
	}

	cycles := dataflowErr(t, err).Details["cycles"].([][]string)
	if !reflect.DeepEqual(cycles, [][]string{{"a", "b"}, {"c", "d"}}) {
		t.Errorf("expected both cycles, got %v", cycles)
	}
}

func TestBuildGraph_CycleBehindAcyclicPrefix(t *testing.T) {
	_, err := BuildGraph(nodes("root", "x", "y"), []schema.Connection{
		edge("root", "x"), edgeTo("x", "y", "input"), edgeTo("y", "x", "other"),
	})
	if err == nil {
		t.Fatal("expected cycle error")
	}
	cycles := dataflowErr(t, err).Details["cycles"].([][]string)
	if !reflect.DeepEqual(cycles, [][]string{{"x", "y"}}) {
		t.Errorf("unexpected cycles: %v", cycles)
	}
}

// --- ancestors ---

func TestGraph_Ancestors(t *testing.T) {
	g, err := BuildGraph(nodes("a", "b", "c", "d", "e"), []schema.Connection{
		edge("a", "b"), edge("b", "d"), edgeTo("c", "d", "right"), edge("a", "e"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := g.Ancestors("d"); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Errorf("unexpected ancestors of d: %v", got)
	}
	if got := g.Ancestors("a"); len(got) != 0 {
		t.Errorf("root has no ancestors, got %v", got)
	}
	if got := g.Ancestors("ghost"); got != nil {
		t.Errorf("unknown node has no ancestors, got %v", got)
	}
}
