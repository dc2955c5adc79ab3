package engine

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestBuildGraph_Empty(t *testing.T) {
	_, err := BuildGraph(nil)
	if !errors.Is(err, ErrEmptyDAG) {
		t.Errorf("expected ErrEmptyDAG, got %v", err)
	}
}

func TestBuildGraph_Single(t *testing.T) {
	g, err := BuildGraph([]NodeDef{{ID: "counter4", ModuleKind: "module"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if g.Size() != 1 {
		t.Errorf("expected 1 node, got %d", g.Size())
	}
	if len(g.Order) != 1 || g.Order[0] != "counter4" {
		t.Errorf("unexpected order: %v", g.Order)
	}
}

func TestBuildGraph_DuplicateID(t *testing.T) {
	_, err := BuildGraph([]NodeDef{{ID: "a"}, {ID: "a"}})
	if !errors.Is(err, ErrDuplicateNodeID) {
		t.Errorf("expected ErrDuplicateNodeID, got %v", err)
	}
}

func TestBuildGraph_MissingDep(t *testing.T) {
	_, err := BuildGraph([]NodeDef{{ID: "a", Deps: []string{"ghost"}}})
	if !errors.Is(err, ErrMissingDependency) {
		t.Errorf("expected ErrMissingDependency, got %v", err)
	}
}

func TestBuildGraph_SelfDep(t *testing.T) {
	_, err := BuildGraph([]NodeDef{{ID: "a", Deps: []string{"a"}}})
	if !errors.Is(err, ErrSelfDependency) {
		t.Errorf("expected ErrSelfDependency, got %v", err)
	}
}

func TestBuildGraph_Cycle(t *testing.T) {
	_, err := BuildGraph([]NodeDef{
		{ID: "a", Deps: []string{"b"}},
		{ID: "b", Deps: []string{"a"}},
	})
	if !errors.Is(err, ErrCyclicDependency) {
		t.Errorf("expected ErrCyclicDependency, got %v", err)
	}
}

func TestBuildGraph_TopologicalOrder(t *testing.T) {
	g, err := BuildGraph([]NodeDef{
		{ID: "alu", Deps: []string{"adder", "shifter"}},
		{ID: "adder"},
		{ID: "shifter"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	pos := make(map[string]int)
	for i, id := range g.Order {
		pos[id] = i
	}
	if pos["alu"] < pos["adder"] || pos["alu"] < pos["shifter"] {
		t.Errorf("alu must come after its deps, order: %v", g.Order)
	}
}

func TestReadyNodes(t *testing.T) {
	g, err := BuildGraph([]NodeDef{
		{ID: "adder"},
		{ID: "shifter"},
		{ID: "alu", Deps: []string{"adder", "shifter"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ready := g.ReadyNodes(nil, nil)
	if len(ready) != 2 {
		t.Fatalf("expected 2 ready roots, got %v", ready)
	}

	// alu stays blocked until every dep is done.
	ready = g.ReadyNodes(map[string]bool{"adder": true}, nil)
	for _, id := range ready {
		if id == "alu" {
			t.Error("alu should not be ready with shifter pending")
		}
	}

	ready = g.ReadyNodes(map[string]bool{"adder": true, "shifter": true}, nil)
	if len(ready) != 1 || ready[0] != "alu" {
		t.Errorf("expected [alu], got %v", ready)
	}

	// Busy nodes are not re-dispatched.
	ready = g.ReadyNodes(map[string]bool{"adder": true, "shifter": true}, map[string]bool{"alu": true})
	if len(ready) != 0 {
		t.Errorf("expected no ready nodes, got %v", ready)
	}
}

func writePlanFixture(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()

	design := `{
		"design_context_hash": "abc123",
		"standard_library": {"fifo": "lib/fifo.sv"},
		"nodes": {
			"counter4": {
				"rtl_file": "rtl/counter4.sv",
				"testbench_file": "rtl/counter4_tb.sv",
				"interface": {"signals": [
					{"name": "clk", "direction": "input", "width": 1},
					{"name": "rst_n", "direction": "input", "width": 1},
					{"name": "count", "direction": "output", "width": 4}
				]},
				"clocking": {"clk": {"freq_hz": 100000000, "reset": "rst_n", "reset_active_low": true}},
				"coverage_goals": {"line": 0.9}
			}
		}
	}`
	dag := `{"nodes": [{"id": "counter4", "type": "module", "deps": [], "state": "PENDING", "artifacts": {}, "metrics": {}}]}`

	designPath := filepath.Join(dir, "design_context.json")
	dagPath := filepath.Join(dir, "dag.json")
	if err := os.WriteFile(designPath, []byte(design), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(dagPath, []byte(dag), 0o644); err != nil {
		t.Fatal(err)
	}
	return designPath, dagPath
}

func TestLoadPlan(t *testing.T) {
	designPath, dagPath := writePlanFixture(t)

	plan, err := LoadPlan(designPath, dagPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if plan.Design.DesignContextHash != "abc123" {
		t.Errorf("unexpected hash: %s", plan.Design.DesignContextHash)
	}
	if plan.Graph.Size() != 1 {
		t.Errorf("expected 1 node, got %d", plan.Graph.Size())
	}

	node := plan.Design.Nodes["counter4"]
	if len(node.Interface.Signals) != 3 {
		t.Errorf("expected 3 signals, got %d", len(node.Interface.Signals))
	}
	if !node.Clocking.Clk.ResetActiveLow {
		t.Error("reset should be active low")
	}
}

func TestLoadPlan_MissingDesignEntry(t *testing.T) {
	designPath, _ := writePlanFixture(t)
	dir := t.TempDir()
	dagPath := filepath.Join(dir, "dag.json")
	dag := `{"nodes": [{"id": "counter4", "deps": []}, {"id": "uart_tx", "deps": []}]}`
	if err := os.WriteFile(dagPath, []byte(dag), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := LoadPlan(designPath, dagPath)
	if !errors.Is(err, ErrMissingDesignEntry) {
		t.Errorf("expected ErrMissingDesignEntry, got %v", err)
	}
}

func TestDesignContext_Paths(t *testing.T) {
	dc := &DesignContext{Nodes: map[string]DesignNode{
		"counter4": {
			RTLFile:   "rtl/counter4.sv",
			Interface: contractsInterface(),
		},
	}}

	rtl := dc.RTLPath("/artifacts/generated", "counter4")
	if rtl != "/artifacts/generated/rtl/counter4.sv" {
		t.Errorf("unexpected rtl path: %s", rtl)
	}

	// Testbench path is derived when testbench_file is absent.
	tb := dc.TestbenchPath("/artifacts/generated", "counter4")
	if tb != "/artifacts/generated/rtl/counter4_tb.sv" {
		t.Errorf("unexpected tb path: %s", tb)
	}

	if dc.RTLPath("/artifacts", "ghost") != "" {
		t.Error("unknown node should yield empty path")
	}
}
