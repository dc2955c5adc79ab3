package orchestrator

import "errors"

// Ошибки оркестратора.
var (
	// ErrUnknownTask — результат с неизвестным task_id (нет in-flight
	// стадии с таким идентификатором). Сообщение уходит в DLQ.
	ErrUnknownTask = errors.New("unknown task_id")

	// ErrRunFailed — прогон завершён, но хотя бы один узел FAILED.
	ErrRunFailed = errors.New("run finished with failed nodes")

	// ErrRunStalled — прогресс невозможен: нет in-flight стадий и нет
	// готовых узлов, но не все узлы терминальны (зависимости упали).
	ErrRunStalled = errors.New("run stalled: no recoverable path")

	// ErrDispatchFailed — публикация стадии не удалась после всех
	// повторов publish.
	ErrDispatchFailed = errors.New("stage dispatch failed")
)
