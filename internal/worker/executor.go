package worker

import (
	"context"
	"fmt"

	"github.com/shaiso/Fabrica/internal/contracts"
)

// Executor — исполнитель задач одной роли.
//
// Инфраструктурные ошибки возвращаются через error (ErrTaskInput,
// ErrTransient); логический сбой инструмента — это ResultMessage
// со статусом FAILURE.
type Executor interface {
	Execute(ctx context.Context, task *contracts.TaskMessage) (*contracts.ResultMessage, error)
}

// Registry — реестр исполнителей по роли задачи.
type Registry struct {
	executors map[contracts.TaskKind]Executor
}

// NewRegistry создаёт реестр с детерминированными исполнителями
// по умолчанию: LINTER, DISTILLER, SIMULATOR.
func NewRegistry() *Registry {
	r := &Registry{executors: make(map[contracts.TaskKind]Executor)}
	r.Register(contracts.KindLinter, NewLintExecutor())
	r.Register(contracts.KindDistiller, &DistillExecutor{})
	r.Register(contracts.KindSimulator, NewSimExecutor())
	return r
}

// Register добавляет исполнителя для роли.
func (r *Registry) Register(kind contracts.TaskKind, executor Executor) {
	r.executors[kind] = executor
}

// Get возвращает исполнителя для роли.
func (r *Registry) Get(kind contracts.TaskKind) (Executor, error) {
	executor, ok := r.executors[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	return executor, nil
}
