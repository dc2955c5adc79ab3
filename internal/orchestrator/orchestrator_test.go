package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Fabrica/internal/builder"
	"github.com/shaiso/Fabrica/internal/contracts"
	"github.com/shaiso/Fabrica/internal/engine"
	"github.com/shaiso/Fabrica/internal/lifecycle"
	"github.com/shaiso/Fabrica/internal/memory"
)

// fakePublisher records published tasks instead of a broker.
type fakePublisher struct {
	mu        sync.Mutex
	published []*contracts.TaskMessage
	failures  int // how many upcoming publishes fail
}

func (f *fakePublisher) PublishTask(_ context.Context, task *contracts.TaskMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return errors.New("publish confirmation failed: broker unavailable")
	}
	f.published = append(f.published, task)
	return nil
}

func (f *fakePublisher) last() *contracts.TaskMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.published) == 0 {
		return nil
	}
	return f.published[len(f.published)-1]
}

func (f *fakePublisher) snapshot() []*contracts.TaskMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*contracts.TaskMessage(nil), f.published...)
}

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

type testEnv struct {
	loop          *Loop
	pub           *fakePublisher
	mem           *memory.Store
	artifactsRoot string
}

func counterDesign() *engine.DesignContext {
	return &engine.DesignContext{
		DesignContextHash: "h1",
		Nodes: map[string]engine.DesignNode{
			"counter4": counterDesignNode(),
		},
	}
}

func counterDesignNode() engine.DesignNode {
	return engine.DesignNode{
		RTLFile:       "rtl/counter4.sv",
		TestbenchFile: "rtl/counter4_tb.sv",
		Interface: contracts.Interface{Signals: []contracts.Signal{
			{Name: "clk", Direction: "input", Width: 1},
			{Name: "rst_n", Direction: "input", Width: 1},
			{Name: "en", Direction: "input", Width: 1},
			{Name: "count", Direction: "output", Width: 4},
		}},
		Clocking: contracts.Clocking{Clk: contracts.Clock{FreqHz: 100e6, Reset: "rst_n", ResetActiveLow: true}},
	}
}

func newTestEnv(t *testing.T, design *engine.DesignContext, dagNodes []engine.NodeDef) *testEnv {
	t.Helper()

	graph, err := engine.BuildGraph(dagNodes)
	if err != nil {
		t.Fatal(err)
	}
	plan := &engine.Plan{Design: design, Graph: graph}

	artifactsRoot := t.TempDir()
	mem, err := memory.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	pub := &fakePublisher{}
	loop := New(Config{
		Plan:          plan,
		Memory:        mem,
		ArtifactsRoot: artifactsRoot,
		Builder:       builder.New(design, artifactsRoot, mem),
		Publisher:     pub,
	})

	return &testEnv{loop: loop, pub: pub, mem: mem, artifactsRoot: artifactsRoot}
}

func newCounterEnv(t *testing.T) *testEnv {
	return newTestEnv(t, counterDesign(), []engine.NodeDef{{ID: "counter4", ModuleKind: "module"}})
}

const counterRTL = `
module counter4 (
    input  logic       clk,
    input  logic       rst_n,
    input  logic       en,
    output logic [3:0] count
);
    always_ff @(posedge clk or negedge rst_n) begin
        if (!rst_n) count <= '0;
        else if (en) count <= count + 1'b1;
    end
endmodule
`

const counterTB = `
module counter4_tb;
    logic clk, rst_n, en;
    logic [3:0] count;
    counter4 dut (.clk(clk), .rst_n(rst_n), .en(en), .count(count));
    always #5 clk = ~clk;
    initial begin
        clk = 0;
        rst_n = 0;
        en = 0;
        #20 rst_n = 1;
        #10 en = 1;
        #200 $finish;
    end
endmodule
`

// writeArtifact writes a file at a worker write target.
func (e *testEnv) writeArtifact(t *testing.T, rel, content string) string {
	t.Helper()
	path := filepath.Join(e.artifactsRoot, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// submit feeds a result and applies it with a tick.
func (e *testEnv) submit(t *testing.T, result *contracts.ResultMessage) error {
	t.Helper()
	reply := e.loop.Submit(result)
	e.loop.Tick(context.Background())
	select {
	case err := <-reply:
		return err
	case <-time.After(time.Second):
		t.Fatal("result was not applied")
		return nil
	}
}

// succeed answers the last published task with SUCCESS.
func (e *testEnv) succeed(t *testing.T, mutate func(*contracts.ResultMessage)) {
	t.Helper()
	task := e.pub.last()
	if task == nil {
		t.Fatal("no published task to answer")
	}
	result := contracts.NewResult(task, contracts.StatusSuccess, "stage passed")
	if mutate != nil {
		mutate(result)
	}
	if err := e.submit(t, result); err != nil {
		t.Fatalf("apply result for %s: %v", task.TaskKind, err)
	}
}

// fail answers the last published task with FAILURE.
func (e *testEnv) fail(t *testing.T, logOutput string) {
	t.Helper()
	task := e.pub.last()
	if task == nil {
		t.Fatal("no published task to answer")
	}
	result := contracts.NewResult(task, contracts.StatusFailure, logOutput)
	if err := e.submit(t, result); err != nil {
		t.Fatalf("apply failure: %v", err)
	}
}

func (e *testEnv) node(t *testing.T, id string) lifecycle.Node {
	t.Helper()
	node, ok := e.loop.Node(id)
	if !ok {
		t.Fatalf("unknown node %s", id)
	}
	return node
}

// runHappyStages drives counter4 through impl, lint, tb and dispatches sim.
func (e *testEnv) runHappyStages(t *testing.T) {
	t.Helper()
	ctx := context.Background()

	e.loop.Tick(ctx) // dispatch impl
	rtlPath := e.writeArtifact(t, "rtl/counter4.sv", counterRTL)
	e.succeed(t, func(r *contracts.ResultMessage) { r.ArtifactsPath = rtlPath })

	e.loop.Tick(ctx) // dispatch lint
	e.succeed(t, nil)

	e.loop.Tick(ctx) // dispatch tb
	tbPath := e.writeArtifact(t, "rtl/counter4_tb.sv", counterTB)
	e.succeed(t, func(r *contracts.ResultMessage) { r.ArtifactsPath = tbPath })

	e.loop.Tick(ctx) // dispatch sim
}

// --- Scenario 1: happy path, single node counter4 ---

func TestHappyPath_SingleNode(t *testing.T) {
	e := newCounterEnv(t)
	ctx := context.Background()

	e.runHappyStages(t)
	e.succeed(t, nil) // sim

	e.loop.Tick(ctx) // dispatch distill
	dataset := e.writeArtifact(t, "distill/counter4.json", `{"log_excerpt":"ok"}`)
	e.succeed(t, func(r *contracts.ResultMessage) {
		r.DistilledDataset = &contracts.DistilledDataset{DataPath: dataset, OriginalDataSize: 10, DistilledDataSize: 5}
	})

	e.loop.Tick(ctx) // dispatch reflect
	e.succeed(t, func(r *contracts.ResultMessage) {
		r.ReflectionInsights = &contracts.ReflectionInsights{Summary: "clean run"}
	})

	node := e.node(t, "counter4")
	if node.State != lifecycle.StateDone {
		t.Fatalf("expected DONE, got %s", node.State)
	}

	// Six stage dirs, each with a SUCCESS result.
	for _, stage := range lifecycle.Stages() {
		result, ok, err := e.mem.LastResult("counter4", string(stage))
		if err != nil || !ok {
			t.Fatalf("stage %s: missing result (%v)", stage, err)
		}
		if result.Status != contracts.StatusSuccess {
			t.Errorf("stage %s: expected SUCCESS, got %s", stage, result.Status)
		}
	}

	// Exactly one attempt everywhere.
	for stage, n := range node.Attempts {
		if n != 1 {
			t.Errorf("stage %s: expected 1 attempt, got %d", stage, n)
		}
	}

	// Every published task belongs to one lineage.
	for _, task := range e.pub.published {
		if task.CorrelationID != e.pub.published[0].CorrelationID {
			t.Error("correlation_id must be stable across the node lineage")
		}
	}

	if len(e.pub.published) != 6 {
		t.Errorf("expected 6 published tasks, got %d", len(e.pub.published))
	}
}

// --- Scenario 2: schema poison pill is rejected before the broker ---

func TestPoisonPill_RejectedAtValidationBoundary(t *testing.T) {
	e := newCounterEnv(t)

	e.loop.buildTask = func(_ context.Context, node *lifecycle.Node, _ lifecycle.Stage) (*contracts.TaskMessage, error) {
		return &contracts.TaskMessage{
			TaskID:        uuid.New(),
			CorrelationID: node.CorrelationID,
			CreatedAt:     time.Now().UTC(),
			Priority:      contracts.PriorityMedium,
			EntityType:    contracts.EntityReasoning,
			TaskKind:      contracts.KindLinter, // mismatch
			Context:       contracts.TaskContext{NodeID: node.ID},
		}, nil
	}

	e.loop.Tick(context.Background())

	if len(e.pub.published) != 0 {
		t.Fatal("poisoned task must never reach the broker")
	}

	node := e.node(t, "counter4")
	if node.State != lifecycle.StateFailed {
		t.Fatalf("expected FAILED, got %s", node.State)
	}
	if node.FailureReason != contracts.ReasonEntityKindMismatch {
		t.Errorf("expected %s, got %s", contracts.ReasonEntityKindMismatch, node.FailureReason)
	}
}

// --- Scenario 3: transient simulator failure consumes the single retry ---

func TestTransientSimFailure_RetriesOnce(t *testing.T) {
	e := newCounterEnv(t)

	e.runHappyStages(t)
	e.fail(t, "connection reset by peer during simulation")

	node := e.node(t, "counter4")
	if node.State != lifecycle.StateSimulating {
		t.Fatalf("expected SIMULATING after retry, got %s", node.State)
	}
	if node.Attempts[lifecycle.StageSimulation] != 2 {
		t.Fatalf("expected attempts[sim]=2, got %d", node.Attempts[lifecycle.StageSimulation])
	}

	// Retry must carry a fresh task_id.
	tasks := e.pub.published
	if tasks[len(tasks)-1].TaskID == tasks[len(tasks)-2].TaskID {
		t.Error("retry must use a new task_id")
	}

	e.succeed(t, nil) // retried sim succeeds

	node = e.node(t, "counter4")
	if node.State != lifecycle.StateDistilling {
		t.Errorf("expected DISTILLING after sim success, got %s", node.State)
	}
	if node.RepairCycles != 0 {
		t.Errorf("transient retry must not open a repair cycle, got %d", node.RepairCycles)
	}
}

// --- Scenario 4: terminal interface mismatch, no retry ---

func TestInterfaceMismatch_Terminal(t *testing.T) {
	design := counterDesign()
	e := newTestEnv(t, design, []engine.NodeDef{
		{ID: "counter4", ModuleKind: "module"},
		{ID: "counter_bank", ModuleKind: "module", Deps: []string{"counter4"}},
	})
	bank := counterDesignNode()
	bank.RTLFile = "rtl/counter_bank.sv"
	design.Nodes["counter_bank"] = bank

	ctx := context.Background()
	e.loop.Tick(ctx) // dispatch impl for counter4

	// Agent emitted RTL missing the output port.
	e.writeArtifact(t, "rtl/counter4.sv", `
module counter4 (
    input logic clk,
    input logic rst_n,
    input logic en
);
endmodule
`)
	task := e.pub.last()
	result := contracts.NewResult(task, contracts.StatusSuccess, "implementation done")
	result.ArtifactsPath = filepath.Join(e.artifactsRoot, "rtl/counter4.sv")
	if err := e.submit(t, result); err != nil {
		t.Fatalf("apply: %v", err)
	}

	node := e.node(t, "counter4")
	if node.State != lifecycle.StateFailed {
		t.Fatalf("expected FAILED, got %s", node.State)
	}
	if node.FailureReason != "postcondition/interface_mismatch" {
		t.Errorf("unexpected reason: %s", node.FailureReason)
	}
	if node.Attempts[lifecycle.StageImplementation] != 1 {
		t.Errorf("postcondition failure must not retry, attempts=%d", node.Attempts[lifecycle.StageImplementation])
	}

	// result.json preserved, marker written.
	if _, ok, _ := e.mem.LastResult("counter4", "impl"); !ok {
		t.Error("result.json must be preserved")
	}
	marker := filepath.Join(e.mem.StageDir("counter4", "impl"), "interface_mismatch.txt")
	if _, err := os.Stat(marker); err != nil {
		t.Errorf("interface mismatch marker missing: %v", err)
	}

	// Dependents are never enqueued and the run stalls.
	published := len(e.pub.published)
	e.loop.Tick(ctx)
	if len(e.pub.published) != published {
		t.Error("dependent node must never be enqueued")
	}
	if done, err := e.loop.finished(); !done || !errors.Is(err, ErrRunStalled) {
		t.Errorf("expected stalled run, done=%v err=%v", done, err)
	}
}

// --- Scenario 5: lint deadline, one retry, second timeout fails ---

func TestLintTimeout_RetryThenFail(t *testing.T) {
	e := newCounterEnv(t)
	ctx := context.Background()

	current := time.Now()
	e.loop.now = func() time.Time { return current }

	e.loop.Tick(ctx) // dispatch impl
	rtlPath := e.writeArtifact(t, "rtl/counter4.sv", counterRTL)
	e.succeed(t, func(r *contracts.ResultMessage) { r.ArtifactsPath = rtlPath })

	e.loop.Tick(ctx) // dispatch lint
	firstLintTask := e.pub.last()

	// 61 seconds pass with no result.
	current = current.Add(61 * time.Second)
	e.loop.Tick(ctx)

	node := e.node(t, "counter4")
	if node.Attempts[lifecycle.StageLint] != 2 {
		t.Fatalf("expected lint retry, attempts=%d", node.Attempts[lifecycle.StageLint])
	}
	if node.Timeouts[lifecycle.StageLint] != 1 {
		t.Fatalf("expected 1 synthesized timeout, got %d", node.Timeouts[lifecycle.StageLint])
	}

	// The late result of the superseded task is unknown → DLQ.
	late := contracts.NewResult(firstLintTask, contracts.StatusSuccess, "late lint log")
	if err := e.submit(t, late); !errors.Is(err, ErrUnknownTask) {
		t.Errorf("late result must be unknown, got %v", err)
	}

	// Second deadline expires → terminal.
	current = current.Add(61 * time.Second)
	e.loop.Tick(ctx)

	node = e.node(t, "counter4")
	if node.State != lifecycle.StateFailed {
		t.Fatalf("expected FAILED after second timeout, got %s", node.State)
	}
	if node.FailedStage != lifecycle.StageLint {
		t.Errorf("unexpected failed stage: %s", node.FailedStage)
	}
	if node.FailureReason != lifecycle.FingerprintTimeout {
		t.Errorf("unexpected reason: %s", node.FailureReason)
	}
	if node.Attempts[lifecycle.StageLint] != 2 {
		t.Errorf("single retry is the hard bound, attempts=%d", node.Attempts[lifecycle.StageLint])
	}
}

// --- Scenario 6: restart mid-stage ---

func TestRestart_MidStage(t *testing.T) {
	e := newCounterEnv(t)
	ctx := context.Background()

	// impl and lint succeed; tb is published and then the process dies.
	e.loop.Tick(ctx)
	rtlPath := e.writeArtifact(t, "rtl/counter4.sv", counterRTL)
	e.succeed(t, func(r *contracts.ResultMessage) { r.ArtifactsPath = rtlPath })
	e.loop.Tick(ctx) // lint
	e.succeed(t, nil)
	e.loop.Tick(ctx) // tb dispatched, no result ever arrives
	oldTask := e.pub.last()
	if oldTask.TaskKind != contracts.KindTestbench {
		t.Fatalf("expected in-flight testbench, got %s", oldTask.TaskKind)
	}

	// New orchestrator over the same task memory.
	pub2 := &fakePublisher{}
	loop2 := New(Config{
		Plan:          e.loop.plan,
		Memory:        e.mem,
		ArtifactsRoot: e.artifactsRoot,
		Builder:       builder.New(e.loop.plan.Design, e.artifactsRoot, e.mem),
		Publisher:     pub2,
	})
	if err := loop2.Restore(); err != nil {
		t.Fatalf("restore: %v", err)
	}

	node, _ := loop2.Node("counter4")
	if node.State != lifecycle.StateTestbenching {
		t.Fatalf("expected TESTBENCHING after restore, got %s", node.State)
	}
	if node.InFlight != nil {
		t.Fatal("no in_flight may survive a restart")
	}
	if node.Attempts[lifecycle.StageTestbench] != 1 {
		t.Errorf("published attempt must be counted, got %d", node.Attempts[lifecycle.StageTestbench])
	}

	// Completed stages are not re-published; tb is, with a fresh task_id.
	loop2.Tick(ctx)
	if len(pub2.published) != 1 {
		t.Fatalf("only the unfinished stage may be re-published, got %d", len(pub2.published))
	}
	republished := pub2.published[0]
	if republished.TaskKind != contracts.KindTestbench {
		t.Errorf("expected testbench, got %s", republished.TaskKind)
	}
	if republished.TaskID == oldTask.TaskID {
		t.Error("re-publish must use a new task_id")
	}

	node, _ = loop2.Node("counter4")
	if node.Attempts[lifecycle.StageTestbench] != 2 {
		t.Errorf("expected attempts[tb]=2 after re-publish, got %d", node.Attempts[lifecycle.StageTestbench])
	}

	// The old worker's eventual result is unknown to the new loop.
	late := contracts.NewResult(oldTask, contracts.StatusSuccess, "late tb log")
	reply := loop2.Submit(late)
	loop2.Tick(ctx)
	if err := <-reply; !errors.Is(err, ErrUnknownTask) {
		t.Errorf("old result must be nacked as unknown, got %v", err)
	}
}

// --- Repair cycle: sim failure → distill → reflect → debug → sim ---

func TestRepairCycle(t *testing.T) {
	e := newCounterEnv(t)
	ctx := context.Background()

	e.runHappyStages(t)

	// Non-transient sim failure on attempt 1: assertion mismatch.
	e.fail(t, "assertion failed: count stuck at 0")
	// Unknown fingerprint on first attempt consumes the stage retry.
	node := e.node(t, "counter4")
	if node.Attempts[lifecycle.StageSimulation] != 2 {
		t.Fatalf("expected retried sim, attempts=%d", node.Attempts[lifecycle.StageSimulation])
	}

	// Identical failure again → repair cycle instead of FAILED.
	e.fail(t, "assertion failed: count stuck at 0")

	node = e.node(t, "counter4")
	if node.State != lifecycle.StateDistilling {
		t.Fatalf("expected DISTILLING (repair), got %s", node.State)
	}
	if !node.InRepair || node.RepairCycles != 1 {
		t.Fatalf("expected open repair cycle, in_repair=%v cycles=%d", node.InRepair, node.RepairCycles)
	}

	e.loop.Tick(ctx) // dispatch distill
	dataset := e.writeArtifact(t, "distill/counter4.json", `{"focus":"reset"}`)
	e.succeed(t, func(r *contracts.ResultMessage) {
		r.DistilledDataset = &contracts.DistilledDataset{DataPath: dataset, OriginalDataSize: 50, DistilledDataSize: 10}
	})

	e.loop.Tick(ctx) // dispatch reflect
	e.succeed(t, func(r *contracts.ResultMessage) {
		r.ReflectionInsights = &contracts.ReflectionInsights{Summary: "enable gated by reset"}
	})

	node = e.node(t, "counter4")
	if node.State != lifecycle.StateDebugging {
		t.Fatalf("reflect in repair must open debug, got %s", node.State)
	}

	e.loop.Tick(ctx) // dispatch debug
	debugTask := e.pub.last()
	if debugTask.TaskKind != contracts.KindDebug {
		t.Fatalf("expected debug task, got %s", debugTask.TaskKind)
	}
	if debugTask.Priority != contracts.PriorityHigh {
		t.Errorf("debug should be high priority, got %d", debugTask.Priority)
	}
	if debugTask.Context.ReflectionInsights == nil {
		t.Error("debug context must carry reflection insights")
	}
	if debugTask.Context.FailureSignature == "" {
		t.Error("debug context must carry the failure signature")
	}

	e.succeed(t, nil) // debug rewrites RTL (file already matches)

	node = e.node(t, "counter4")
	if node.State != lifecycle.StateSimulating {
		t.Fatalf("debug success must re-open simulation, got %s", node.State)
	}
	if node.InRepair {
		t.Error("repair cycle must close when debug succeeds")
	}

	e.loop.Tick(ctx) // dispatch sim again
	e.succeed(t, nil)

	node = e.node(t, "counter4")
	if node.State != lifecycle.StateDistilling {
		t.Errorf("sim success continues the happy path, got %s", node.State)
	}
}

// --- Transport failure exhausts publish retries ---

func TestPublishFailure_ExhaustsRetries(t *testing.T) {
	e := newCounterEnv(t)
	e.pub.failures = 100

	e.loop.Tick(context.Background())

	node := e.node(t, "counter4")
	if node.State != lifecycle.StateFailed {
		t.Fatalf("expected FAILED after publish retries, got %s", node.State)
	}
	if node.FailureReason != "transport/publish_failed" {
		t.Errorf("unexpected reason: %s", node.FailureReason)
	}
}

// --- Dependencies gate dispatch ---

func TestDependencyGating(t *testing.T) {
	design := counterDesign()
	bank := counterDesignNode()
	bank.RTLFile = "rtl/counter_bank.sv"
	design.Nodes["counter_bank"] = bank

	e := newTestEnv(t, design, []engine.NodeDef{
		{ID: "counter4", ModuleKind: "module"},
		{ID: "counter_bank", ModuleKind: "module", Deps: []string{"counter4"}},
	})

	e.loop.Tick(context.Background())

	// Only the root node may be dispatched.
	if len(e.pub.published) != 1 {
		t.Fatalf("expected 1 published task, got %d", len(e.pub.published))
	}
	if e.pub.published[0].Context.NodeID != "counter4" {
		t.Errorf("root node must go first, got %s", e.pub.published[0].Context.NodeID)
	}

	dep := e.node(t, "counter_bank")
	if dep.State != lifecycle.StatePending {
		t.Errorf("dependent must stay PENDING, got %s", dep.State)
	}
}

// --- ESCALATED is terminal and flagged ---

func TestEscalatedResult_Terminal(t *testing.T) {
	e := newCounterEnv(t)

	e.loop.Tick(context.Background())
	task := e.pub.last()
	result := contracts.NewResult(task, contracts.StatusEscalated, "needs human review")
	if err := e.submit(t, result); err != nil {
		t.Fatalf("apply: %v", err)
	}

	node := e.node(t, "counter4")
	if node.State != lifecycle.StateFailed {
		t.Fatalf("expected FAILED, got %s", node.State)
	}
	if !node.Escalated {
		t.Error("escalated flag must be set")
	}
	if node.Attempts[lifecycle.StageImplementation] != 1 {
		t.Error("ESCALATED must never retry")
	}
}

// --- At most one applied result per task_id ---

func TestDuplicateResult_Rejected(t *testing.T) {
	e := newCounterEnv(t)

	e.loop.Tick(context.Background())
	task := e.pub.last()
	rtlPath := e.writeArtifact(t, "rtl/counter4.sv", counterRTL)

	first := contracts.NewResult(task, contracts.StatusSuccess, "done")
	first.ArtifactsPath = rtlPath
	if err := e.submit(t, first); err != nil {
		t.Fatalf("first apply: %v", err)
	}

	duplicate := contracts.NewResult(task, contracts.StatusSuccess, "done again")
	if err := e.submit(t, duplicate); !errors.Is(err, ErrUnknownTask) {
		t.Errorf("duplicate must be unknown, got %v", err)
	}
}

// --- Run drives a full DAG to completion ---

func TestRun_CompletesDAG(t *testing.T) {
	e := newCounterEnv(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Test-side worker: answers every published task until the run ends.
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		answered := make(map[uuid.UUID]bool)
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			default:
			}

			var task *contracts.TaskMessage
			for _, cand := range e.pub.snapshot() {
				if !answered[cand.TaskID] {
					task = cand
					break
				}
			}
			if task == nil {
				time.Sleep(5 * time.Millisecond)
				continue
			}
			answered[task.TaskID] = true

			result := contracts.NewResult(task, contracts.StatusSuccess, fmt.Sprintf("%s passed", task.TaskKind))
			switch task.TaskKind {
			case contracts.KindImplementation:
				result.ArtifactsPath = e.writeArtifact(t, "rtl/counter4.sv", counterRTL)
			case contracts.KindTestbench:
				result.ArtifactsPath = e.writeArtifact(t, "rtl/counter4_tb.sv", counterTB)
			case contracts.KindDistiller:
				path := e.writeArtifact(t, "distill/counter4.json", `{"ok":true}`)
				result.DistilledDataset = &contracts.DistilledDataset{DataPath: path, OriginalDataSize: 10, DistilledDataSize: 2}
			case contracts.KindReflection:
				result.ReflectionInsights = &contracts.ReflectionInsights{Summary: "clean"}
			}

			reply := e.loop.Submit(result)
			select {
			case <-reply:
			case <-ctx.Done():
				return
			}
		}
	}()

	summary, err := e.loop.Run(ctx)
	close(stop)
	<-done

	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !summary.Done() {
		t.Fatalf("expected all nodes DONE: %+v", summary.Nodes)
	}
	if summary.Nodes[0].NodeID != "counter4" {
		t.Errorf("unexpected summary node: %+v", summary.Nodes[0])
	}
}
