package worker

import "errors"

// Ошибки воркера.
var (
	// ErrTaskInput — невосстановимая ошибка входных данных задачи
	// (отсутствующий файл, нет node_id). Задача уходит в DLQ.
	ErrTaskInput = errors.New("task input error")

	// ErrTransient — преходящий сбой; задача переиздаётся один раз.
	ErrTransient = errors.New("transient execution error")

	// ErrUnknownKind — нет исполнителя для данной роли.
	ErrUnknownKind = errors.New("no executor for task kind")
)
