package lifecycle

import (
	"strings"

	"github.com/shaiso/Fabrica/internal/contracts"
)

// Decision — решение классификатора по сбою стадии.
type Decision string

const (
	// DecisionRetryOnce — переиздать стадию один раз с новым task_id.
	DecisionRetryOnce Decision = "retry_once"

	// DecisionRejectToDLQ — сообщение в DLQ; узел терминально падает.
	DecisionRejectToDLQ Decision = "reject_to_dlq"

	// DecisionTerminalFail — узел терминально падает без публикации в DLQ.
	DecisionTerminalFail Decision = "terminal_fail"
)

// Канонические отпечатки сбоев.
const (
	FingerprintSchemaMismatch    = "schema/mismatch"
	FingerprintInterfaceMismatch = "interface/mismatch"
	FingerprintMissingFile       = "input/missing_file"
	FingerprintToolInvocation    = "tool/invocation"
	FingerprintToolTransient     = "tool/transient"
	FingerprintTimeout           = "timeout"
	FingerprintUnknown           = "unknown"
)

// Classifier решает судьбу сбоя: retry, DLQ или терминальный отказ.
//
// Классификатор никогда не разрешает более одного повтора на стадию —
// ограниченность попыток является жёстким свойством ядра.
type Classifier struct {
	// transientTokens — подстроки лога, указывающие на преходящий сбой.
	transientTokens []string

	// markers — подстроки лога → канонический отпечаток.
	markers []fingerprintMarker
}

type fingerprintMarker struct {
	token       string
	fingerprint string
}

// NewClassifier создаёт классификатор с таксономией по умолчанию.
func NewClassifier() *Classifier {
	return &Classifier{
		transientTokens: []string{
			"timeout",
			"timed out",
			"temporar",
			"connection reset",
			"connection aborted",
			"connection refused",
			"rate limit",
			"service unavailable",
		},
		markers: []fingerprintMarker{
			{"schema mismatch", FingerprintSchemaMismatch},
			{"schema validation", FingerprintSchemaMismatch},
			{"interface mismatch", FingerprintInterfaceMismatch},
			{"port mismatch", FingerprintInterfaceMismatch},
			{"missing port", FingerprintInterfaceMismatch},
			{"no such file", FingerprintMissingFile},
			{"file not found", FingerprintMissingFile},
			{"missing input", FingerprintMissingFile},
			{"rtl missing", FingerprintMissingFile},
			{"command not found", FingerprintToolInvocation},
			{"cannot execute", FingerprintToolInvocation},
			{"tool invocation", FingerprintToolInvocation},
			{"deadline exceeded", FingerprintTimeout},
		},
	}
}

// Fingerprint сводит лог сбоя к каноническому отпечатку.
func (c *Classifier) Fingerprint(logOutput string) string {
	text := strings.ToLower(logOutput)

	for _, m := range c.markers {
		if strings.Contains(text, m.token) {
			return m.fingerprint
		}
	}
	for _, token := range c.transientTokens {
		if strings.Contains(text, token) {
			return FingerprintToolTransient
		}
	}
	return FingerprintUnknown
}

// Classify решает судьбу сбоя стадии.
//
// attempt — номер только что отказавшей попытки (с 1).
// identicalRepeat — тот же отпечаток уже наблюдался на этой стадии.
//
// Политика:
//   - ESCALATED — терминально, без повтора.
//   - schema/interface mismatch — в DLQ, терминально.
//   - отсутствующий входной файл — в DLQ.
//   - преходящий сбой или таймаут на первой попытке — один повтор;
//     на второй — терминально.
//   - повторный идентичный сбой — терминально.
func (c *Classifier) Classify(status contracts.TaskStatus, fingerprint string, attempt int, identicalRepeat bool) Decision {
	if status == contracts.StatusEscalated {
		return DecisionTerminalFail
	}

	switch fingerprint {
	case FingerprintSchemaMismatch, FingerprintInterfaceMismatch:
		return DecisionRejectToDLQ
	case FingerprintMissingFile:
		return DecisionRejectToDLQ
	}

	if identicalRepeat || attempt >= 2 {
		return DecisionTerminalFail
	}

	return DecisionRetryOnce
}
