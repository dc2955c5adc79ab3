package lifecycle

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NodeState — состояние жизненного цикла узла.
type NodeState string

const (
	StatePending      NodeState = "PENDING"
	StateImplementing NodeState = "IMPLEMENTING"
	StateLinting      NodeState = "LINTING"
	StateTestbenching NodeState = "TESTBENCHING"
	StateSimulating   NodeState = "SIMULATING"
	StateDistilling   NodeState = "DISTILLING"
	StateReflecting   NodeState = "REFLECTING"
	StateDebugging    NodeState = "DEBUGGING"
	StateDone         NodeState = "DONE"
	StateFailed       NodeState = "FAILED"
)

// IsTerminal возвращает true для финального состояния.
func (s NodeState) IsTerminal() bool {
	return s == StateDone || s == StateFailed
}

// stageStates — соответствие стадии и нетерминального состояния.
var stageStates = map[Stage]NodeState{
	StageImplementation: StateImplementing,
	StageLint:           StateLinting,
	StageTestbench:      StateTestbenching,
	StageSimulation:     StateSimulating,
	StageDistill:        StateDistilling,
	StageReflect:        StateReflecting,
	StageDebug:          StateDebugging,
}

// StateFor возвращает состояние, соответствующее выполняемой стадии.
func StateFor(stage Stage) NodeState {
	return stageStates[stage]
}

// StageFor возвращает стадию, выполняемую в данном состоянии.
func StageFor(state NodeState) (Stage, bool) {
	for stage, st := range stageStates {
		if st == state {
			return stage, true
		}
	}
	return "", false
}

// allowedTransitions — допустимые переходы между состояниями.
// Повтор стадии (retry) не является переходом: состояние не меняется.
var allowedTransitions = map[NodeState]map[NodeState]bool{
	StatePending:      {StateImplementing: true, StateFailed: true},
	StateImplementing: {StateLinting: true, StateFailed: true},
	StateLinting:      {StateTestbenching: true, StateFailed: true},
	StateTestbenching: {StateSimulating: true, StateFailed: true},
	StateSimulating:   {StateDistilling: true, StateFailed: true},
	StateDistilling:   {StateReflecting: true, StateFailed: true},
	StateReflecting:   {StateDone: true, StateDebugging: true, StateFailed: true},
	StateDebugging:    {StateSimulating: true, StateFailed: true},
}

// InFlight — опубликованная и не завершённая стадия узла.
type InFlight struct {
	Stage    Stage
	TaskID   uuid.UUID
	Deadline time.Time
}

// Node — изменяемое состояние выполнения одного узла DAG.
//
// Мутируется исключительно циклом оркестратора (single writer).
type Node struct {
	ID string

	// CorrelationID стабилен для всех задач линии этого узла.
	CorrelationID uuid.UUID

	State NodeState

	// Attempts — число опубликованных попыток по стадиям.
	Attempts map[Stage]int

	// Timeouts — число локально синтезированных таймаутов по стадиям.
	Timeouts map[Stage]int

	// InRepair — узел находится в цикле ремонта
	// (distill → reflect → debug → sim после сбоя симуляции).
	InRepair bool

	// RepairCycles — число начатых циклов ремонта.
	RepairCycles int

	InFlight *InFlight

	// Artifacts — канонические пути артефактов завершённых стадий.
	Artifacts map[Stage]string

	// Logs — пути логов завершённых стадий.
	Logs map[Stage]string

	// Терминальная диагностика.
	FailedStage   Stage
	FailureReason string
	Escalated     bool

	// lastFingerprint — отпечаток последнего сбоя по стадиям,
	// для правила «второй идентичный сбой — терминален».
	lastFingerprint map[Stage]string
}

// NewNode создаёт узел в состоянии PENDING со свежим correlation id.
func NewNode(id string) *Node {
	return &Node{
		ID:              id,
		CorrelationID:   uuid.New(),
		State:           StatePending,
		Attempts:        make(map[Stage]int),
		Timeouts:        make(map[Stage]int),
		Artifacts:       make(map[Stage]string),
		Logs:            make(map[Stage]string),
		lastFingerprint: make(map[Stage]string),
	}
}

// Transition переводит узел в новое состояние.
// Недопустимый переход — ошибка программирования оркестратора.
func (n *Node) Transition(to NodeState) error {
	if !allowedTransitions[n.State][to] {
		return fmt.Errorf("%w: %s: %s -> %s", ErrIllegalTransition, n.ID, n.State, to)
	}
	n.State = to
	return nil
}

// Fail переводит узел в FAILED с диагностикой.
func (n *Node) Fail(stage Stage, reason string) {
	n.State = StateFailed
	n.FailedStage = stage
	n.FailureReason = reason
	n.InFlight = nil
}

// MarkInFlight фиксирует опубликованную стадию и её дедлайн.
// Счётчик попыток стадии увеличивается на единицу.
func (n *Node) MarkInFlight(stage Stage, taskID uuid.UUID, deadline time.Time) {
	n.Attempts[stage]++
	n.InFlight = &InFlight{Stage: stage, TaskID: taskID, Deadline: deadline}
}

// ClearInFlight снимает отметку о выполняемой стадии.
func (n *Node) ClearInFlight() {
	n.InFlight = nil
}

// RecordFingerprint запоминает отпечаток сбоя стадии и возвращает true,
// если такой же отпечаток уже наблюдался (идентичный повторный сбой).
func (n *Node) RecordFingerprint(stage Stage, fingerprint string) bool {
	prev, seen := n.lastFingerprint[stage]
	n.lastFingerprint[stage] = fingerprint
	return seen && prev == fingerprint
}

// BeginRepair открывает цикл ремонта после сбоя симуляции.
func (n *Node) BeginRepair() {
	n.InRepair = true
	n.RepairCycles++
}

// EndRepair закрывает цикл ремонта (debug вернул узел в симуляцию).
func (n *Node) EndRepair() {
	n.InRepair = false
}
