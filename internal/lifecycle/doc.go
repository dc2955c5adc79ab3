// Package lifecycle реализует постадийный жизненный цикл узла DAG.
//
// Структура:
//   - stage.go      — стадии, их роли, дедлайны и порядок
//   - state.go      — состояния узла, допустимые переходы, учёт попыток
//   - classifier.go — классификация сбоев: retry / DLQ / terminal
//   - postcheck.go  — постусловия стадий (артефакты, интерфейсы, логи)
//
// Жизненный цикл узла:
//
//	PENDING → IMPLEMENTING → LINTING → TESTBENCHING → SIMULATING
//	        → DISTILLING → REFLECTING → DONE
//
// Терминальный сбой — FAILED. После сбоя симуляции допускается цикл
// ремонта DISTILLING → REFLECTING → DEBUGGING → SIMULATING; два
// неудачных цикла ремонта переводят узел в FAILED.
//
// На каждую стадию узла допускается не более одного повтора —
// ограниченность попыток является жёстким свойством ядра.
package lifecycle
