package contracts

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Ошибки валидации конвертов.
var (
	// ErrUnknownEntityType — неизвестный класс исполнителя.
	ErrUnknownEntityType = errors.New("unknown entity type")

	// ErrUnknownTaskKind — неизвестная роль исполнителя.
	ErrUnknownTaskKind = errors.New("unknown task kind")

	// ErrUnknownStatus — неизвестный статус результата.
	ErrUnknownStatus = errors.New("unknown task status")

	// ErrUnknownPriority — приоритет вне диапазона 1–3.
	ErrUnknownPriority = errors.New("priority out of range")

	// ErrEntityKindMismatch — роль не принадлежит классу исполнителя.
	ErrEntityKindMismatch = errors.New("task kind does not match entity type")

	// ErrMissingTaskID — отсутствует task_id.
	ErrMissingTaskID = errors.New("missing task_id")

	// ErrMissingCorrelationID — отсутствует correlation_id.
	ErrMissingCorrelationID = errors.New("missing correlation_id")

	// ErrMissingNodeID — контекст без node_id.
	ErrMissingNodeID = errors.New("missing node_id in context")

	// ErrEmptyLogOutput — успешный результат без лога.
	ErrEmptyLogOutput = errors.New("empty log_output")
)

// Канонические причины отказа. Попадают в причину терминального
// состояния узла и в заголовки DLQ.
const (
	ReasonUnknownEntity      = "validation/unknown_entity_type"
	ReasonUnknownKind        = "validation/unknown_task_kind"
	ReasonUnknownStatus      = "validation/unknown_status"
	ReasonUnknownPriority    = "validation/unknown_priority"
	ReasonEntityKindMismatch = "validation/entity_kind_mismatch"
	ReasonMissingTaskID      = "validation/missing_task_id"
	ReasonMissingCorrelation = "validation/missing_correlation_id"
	ReasonMissingNodeID      = "validation/missing_node_id"
	ReasonEmptyLog           = "validation/empty_log_output"
)

// ValidationError — нарушение инварианта конверта.
// Никогда не ретраится; сообщение с такой ошибкой не публикуется
// (publish-граница) либо отправляется в DLQ (consume-граница).
type ValidationError struct {
	Field   string // поле, вызвавшее ошибку
	Value   string // фактическое значение
	Reason  string // каноническая причина (Reason*-константа)
	Err     error  // базовая ошибка
}

// Error реализует интерфейс error.
func (e *ValidationError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("%s: %s=%q", e.Reason, e.Field, e.Value)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Field)
}

// Unwrap возвращает базовую ошибку.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError создаёт новую ошибку валидации.
func NewValidationError(field, value, reason string, err error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Reason: reason, Err: err}
}

// ValidateTask проверяет конверт задачи перед публикацией.
//
// Отклоняет неизвестные значения словарей, отсутствующие обязательные
// поля и несоответствие entity/kind (например, REASONING с ролью LINTER).
// Отклонение происходит до любой операции с брокером.
func ValidateTask(task *TaskMessage) error {
	if task.TaskID == uuid.Nil {
		return NewValidationError("task_id", "", ReasonMissingTaskID, ErrMissingTaskID)
	}
	if task.CorrelationID == uuid.Nil {
		return NewValidationError("correlation_id", "", ReasonMissingCorrelation, ErrMissingCorrelationID)
	}
	if !task.EntityType.Valid() {
		return NewValidationError("entity_type", string(task.EntityType), ReasonUnknownEntity, ErrUnknownEntityType)
	}
	if !task.TaskKind.Valid() {
		return NewValidationError("task_kind", string(task.TaskKind), ReasonUnknownKind, ErrUnknownTaskKind)
	}
	if !task.Priority.Valid() {
		return NewValidationError("priority", fmt.Sprintf("%d", task.Priority), ReasonUnknownPriority, ErrUnknownPriority)
	}

	entity, _ := task.TaskKind.Entity()
	if entity != task.EntityType {
		return NewValidationError("task_kind",
			fmt.Sprintf("%s/%s", task.EntityType, task.TaskKind),
			ReasonEntityKindMismatch, ErrEntityKindMismatch)
	}

	if task.Context.NodeID == "" {
		return NewValidationError("context.node_id", "", ReasonMissingNodeID, ErrMissingNodeID)
	}

	return nil
}

// ValidateResult проверяет конверт результата на consume-границе.
//
// Отклоняет неизвестный статус, отсутствующие идентификаторы и пустой
// log_output при status=SUCCESS.
func ValidateResult(result *ResultMessage) error {
	if result.TaskID == uuid.Nil {
		return NewValidationError("task_id", "", ReasonMissingTaskID, ErrMissingTaskID)
	}
	if result.CorrelationID == uuid.Nil {
		return NewValidationError("correlation_id", "", ReasonMissingCorrelation, ErrMissingCorrelationID)
	}
	if !result.Status.Valid() {
		return NewValidationError("status", string(result.Status), ReasonUnknownStatus, ErrUnknownStatus)
	}
	if result.Status == StatusSuccess && result.LogOutput == "" {
		return NewValidationError("log_output", "", ReasonEmptyLog, ErrEmptyLogOutput)
	}
	return nil
}
