package worker

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/Fabrica/internal/contracts"
	"github.com/shaiso/Fabrica/internal/mq"
)

func lintTask(t *testing.T, rtlPath string) *contracts.TaskMessage {
	t.Helper()
	task, err := contracts.NewTaskMessage(uuid.New(), contracts.PriorityMedium, contracts.KindLinter,
		contracts.TaskContext{NodeID: "counter4", RTLPath: rtlPath})
	if err != nil {
		t.Fatal(err)
	}
	return task
}

func TestRegistry_Defaults(t *testing.T) {
	r := NewRegistry()

	for _, kind := range []contracts.TaskKind{contracts.KindLinter, contracts.KindDistiller, contracts.KindSimulator} {
		if _, err := r.Get(kind); err != nil {
			t.Errorf("%s: expected executor, got %v", kind, err)
		}
	}

	if _, err := r.Get(contracts.KindImplementation); !errors.Is(err, ErrUnknownKind) {
		t.Errorf("reasoning kinds have no local executor, got %v", err)
	}
}

func TestLintExecutor_MockPass(t *testing.T) {
	dir := t.TempDir()
	rtlPath := filepath.Join(dir, "counter4.sv")
	if err := os.WriteFile(rtlPath, []byte("module counter4;\nendmodule\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	// Empty verilator path forces mock mode.
	e := &LintExecutor{}
	result, err := e.Execute(context.Background(), lintTask(t, rtlPath))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != contracts.StatusSuccess {
		t.Errorf("expected SUCCESS, got %s: %s", result.Status, result.LogOutput)
	}
	if result.ArtifactsPath != rtlPath {
		t.Errorf("artifact path should be the lint target: %s", result.ArtifactsPath)
	}
	if result.LogOutput == "" {
		t.Error("log output is required")
	}
}

func TestLintExecutor_MockFail(t *testing.T) {
	dir := t.TempDir()
	rtlPath := filepath.Join(dir, "broken.sv")
	if err := os.WriteFile(rtlPath, []byte("// empty\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	e := &LintExecutor{}
	result, err := e.Execute(context.Background(), lintTask(t, rtlPath))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != contracts.StatusFailure {
		t.Errorf("expected FAILURE, got %s", result.Status)
	}
}

func TestLintExecutor_MissingRTLIsFailureResult(t *testing.T) {
	e := &LintExecutor{}
	result, err := e.Execute(context.Background(), lintTask(t, filepath.Join(t.TempDir(), "absent.sv")))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != contracts.StatusFailure {
		t.Errorf("expected FAILURE, got %s", result.Status)
	}
	if !strings.Contains(result.LogOutput, "RTL missing") {
		t.Errorf("log should name the missing file: %s", result.LogOutput)
	}
}

func TestSimExecutor_MockPass(t *testing.T) {
	dir := t.TempDir()
	rtlPath := filepath.Join(dir, "counter4.sv")
	if err := os.WriteFile(rtlPath, []byte("module counter4;\nendmodule\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	task, err := contracts.NewTaskMessage(uuid.New(), contracts.PriorityMedium, contracts.KindSimulator,
		contracts.TaskContext{NodeID: "counter4", RTLPath: rtlPath})
	if err != nil {
		t.Fatal(err)
	}

	e := &SimExecutor{} // no tools found, mock mode
	result, execErr := e.Execute(context.Background(), task)
	if execErr != nil {
		t.Fatalf("unexpected error: %v", execErr)
	}
	if result.Status != contracts.StatusSuccess {
		t.Errorf("expected SUCCESS, got %s", result.Status)
	}
}

func TestSimExecutor_MissingRTLIsInputError(t *testing.T) {
	task, err := contracts.NewTaskMessage(uuid.New(), contracts.PriorityMedium, contracts.KindSimulator,
		contracts.TaskContext{NodeID: "counter4", RTLPath: filepath.Join(t.TempDir(), "absent.sv")})
	if err != nil {
		t.Fatal(err)
	}

	e := &SimExecutor{}
	if _, execErr := e.Execute(context.Background(), task); !errors.Is(execErr, ErrTaskInput) {
		t.Errorf("expected ErrTaskInput, got %v", execErr)
	}
}

func TestDistillExecutor(t *testing.T) {
	dir := t.TempDir()
	simLog := filepath.Join(dir, "log.txt")
	logText := "time=0 reset asserted\nassertion failed: count stuck\n"
	if err := os.WriteFile(simLog, []byte(logText), 0o644); err != nil {
		t.Fatal(err)
	}
	outPath := filepath.Join(dir, "distilled.json")

	task, err := contracts.NewTaskMessage(uuid.New(), contracts.PriorityMedium, contracts.KindDistiller,
		contracts.TaskContext{
			NodeID:     "counter4",
			ToolConfig: map[string]string{"sim_log": simLog, "dataset_out": outPath},
		})
	if err != nil {
		t.Fatal(err)
	}

	e := &DistillExecutor{}
	result, execErr := e.Execute(context.Background(), task)
	if execErr != nil {
		t.Fatalf("unexpected error: %v", execErr)
	}

	if result.Status != contracts.StatusSuccess {
		t.Fatalf("expected SUCCESS, got %s", result.Status)
	}
	if result.DistilledDataset == nil {
		t.Fatal("distilled dataset descriptor is required")
	}
	if result.DistilledDataset.DataPath != outPath {
		t.Errorf("unexpected dataset path: %s", result.DistilledDataset.DataPath)
	}
	if result.DistilledDataset.OriginalDataSize != len(logText) {
		t.Errorf("unexpected original size: %d", result.DistilledDataset.OriginalDataSize)
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("dataset not written: %v", err)
	}
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		t.Fatalf("dataset is not valid json: %v", err)
	}
	if payload["node_id"] != "counter4" {
		t.Errorf("unexpected node_id: %v", payload["node_id"])
	}

	// Focus areas picked from the log text.
	found := false
	for _, area := range result.DistilledDataset.FailureFocusAreas {
		if area == "assertions" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected assertions focus area, got %v", result.DistilledDataset.FailureFocusAreas)
	}
}

func TestDistillExecutor_MissingLogIsInputError(t *testing.T) {
	task, err := contracts.NewTaskMessage(uuid.New(), contracts.PriorityMedium, contracts.KindDistiller,
		contracts.TaskContext{
			NodeID:     "counter4",
			ToolConfig: map[string]string{"sim_log": filepath.Join(t.TempDir(), "absent.txt")},
		})
	if err != nil {
		t.Fatal(err)
	}

	e := &DistillExecutor{}
	if _, execErr := e.Execute(context.Background(), task); !errors.Is(execErr, ErrTaskInput) {
		t.Errorf("expected ErrTaskInput, got %v", execErr)
	}
}

// --- Worker handler protocol ---

// fakeResultPublisher records worker publishes.
type fakeResultPublisher struct {
	results     []*contracts.ResultMessage
	republished []amqp.Table
}

func (f *fakeResultPublisher) PublishResult(_ context.Context, result *contracts.ResultMessage) error {
	f.results = append(f.results, result)
	return nil
}

func (f *fakeResultPublisher) Republish(_ context.Context, _ string, _ []byte, headers amqp.Table) error {
	next := amqp.Table{}
	for k, v := range headers {
		next[k] = v
	}
	next[mq.HeaderRetryCount] = mq.RetryCount(headers) + 1
	f.republished = append(f.republished, next)
	return nil
}

// transientExecutor always fails with a transient error.
type transientExecutor struct{}

func (transientExecutor) Execute(context.Context, *contracts.TaskMessage) (*contracts.ResultMessage, error) {
	return nil, ErrTransient
}

func newTestWorker(pub *fakeResultPublisher, registry *Registry) *Worker {
	return New(Config{
		Publisher: pub,
		Queue:     mq.QueueProcessTasks,
		Registry:  registry,
	})
}

func delivery(t *testing.T, task *contracts.TaskMessage, headers amqp.Table) *mq.Delivery {
	t.Helper()
	body, err := json.Marshal(task)
	if err != nil {
		t.Fatal(err)
	}
	return &mq.Delivery{Body: body, Headers: headers}
}

func TestHandleTask_PublishesResult(t *testing.T) {
	dir := t.TempDir()
	rtlPath := filepath.Join(dir, "counter4.sv")
	if err := os.WriteFile(rtlPath, []byte("module counter4;\nendmodule\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	registry := &Registry{executors: map[contracts.TaskKind]Executor{
		contracts.KindLinter: &LintExecutor{},
	}}
	pub := &fakeResultPublisher{}
	w := newTestWorker(pub, registry)

	task := lintTask(t, rtlPath)
	if err := w.handleTask(context.Background(), delivery(t, task, nil)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(pub.results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(pub.results))
	}
	if pub.results[0].TaskID != task.TaskID {
		t.Error("result must echo the task_id")
	}
	if pub.results[0].CorrelationID != task.CorrelationID {
		t.Error("result must echo the correlation_id")
	}
}

func TestHandleTask_MalformedToDLQ(t *testing.T) {
	pub := &fakeResultPublisher{}
	w := newTestWorker(pub, NewRegistry())

	err := w.handleTask(context.Background(), &mq.Delivery{Body: []byte("{broken")})
	if !errors.Is(err, mq.ErrRejectToDLQ) {
		t.Errorf("expected ErrRejectToDLQ, got %v", err)
	}
	if len(pub.results) != 0 {
		t.Error("malformed task must not produce a result")
	}
}

func TestHandleTask_TransientRepublishesOnce(t *testing.T) {
	registry := &Registry{executors: map[contracts.TaskKind]Executor{
		contracts.KindLinter: transientExecutor{},
	}}
	pub := &fakeResultPublisher{}
	w := newTestWorker(pub, registry)

	task := lintTask(t, "unused.sv")

	// First delivery: republished with x-retry-count=1.
	if err := w.handleTask(context.Background(), delivery(t, task, nil)); err != nil {
		t.Fatalf("first delivery should ack after republish: %v", err)
	}
	if len(pub.republished) != 1 {
		t.Fatalf("expected 1 republish, got %d", len(pub.republished))
	}
	if got := mq.RetryCount(pub.republished[0]); got != 1 {
		t.Errorf("expected retry count 1, got %d", got)
	}

	// Second delivery (retry budget spent) goes to DLQ.
	err := w.handleTask(context.Background(), delivery(t, task, pub.republished[0]))
	if !errors.Is(err, mq.ErrRejectToDLQ) {
		t.Errorf("expected ErrRejectToDLQ after retry budget, got %v", err)
	}
	if len(pub.republished) != 1 {
		t.Errorf("no second republish allowed, got %d", len(pub.republished))
	}
}

func TestHandleTask_InputErrorToDLQ(t *testing.T) {
	registry := &Registry{executors: map[contracts.TaskKind]Executor{
		contracts.KindSimulator: NewSimExecutor(),
	}}
	pub := &fakeResultPublisher{}
	w := newTestWorker(pub, registry)

	task, err := contracts.NewTaskMessage(uuid.New(), contracts.PriorityMedium, contracts.KindSimulator,
		contracts.TaskContext{NodeID: "counter4", RTLPath: filepath.Join(t.TempDir(), "absent.sv")})
	if err != nil {
		t.Fatal(err)
	}

	herr := w.handleTask(context.Background(), delivery(t, task, nil))
	if !errors.Is(herr, mq.ErrRejectToDLQ) {
		t.Errorf("expected ErrRejectToDLQ, got %v", herr)
	}
}

func TestHandleTask_ForeignKindToDLQ(t *testing.T) {
	registry := &Registry{executors: map[contracts.TaskKind]Executor{}}
	pub := &fakeResultPublisher{}
	w := newTestWorker(pub, registry)

	task := lintTask(t, "x.sv")
	err := w.handleTask(context.Background(), delivery(t, task, nil))
	if !errors.Is(err, mq.ErrRejectToDLQ) {
		t.Errorf("expected ErrRejectToDLQ, got %v", err)
	}
}
