package lifecycle

import "errors"

// Ошибки жизненного цикла.
var (
	// ErrIllegalTransition — недопустимый переход состояния узла.
	ErrIllegalTransition = errors.New("illegal node state transition")

	// ErrPostcondition — нарушено постусловие стадии.
	ErrPostcondition = errors.New("stage postcondition violated")

	// ErrInterfaceMismatch — артефакт не соответствует интерфейсу модуля.
	// Терминальная ошибка: ретраи не помогут.
	ErrInterfaceMismatch = errors.New("artifact does not match module interface")
)
