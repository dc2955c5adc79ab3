// Package worker — детерминированные исполнители задач.
//
// Worker потребляет одну из очередей задач (process_tasks или
// simulation_tasks), выполняет инструмент и публикует ResultMessage
// в очередь results. Reasoning-агенты (LLM) — внешние коллабораторы
// и в этот пакет не входят.
//
// Исполнители:
//   - LintExecutor    — verilator --lint-only (mock, если инструмент отсутствует)
//   - SimExecutor     — iverilog + vvp (mock, если инструменты отсутствуют)
//   - DistillExecutor — дистилляция логов симуляции в компактный датасет
//
// Протокол сбоев:
//   - некорректный вход (нет файла, нет node_id) → nack(requeue=false), DLQ
//   - транзиентный сбой → переиздание с заголовком x-retry-count,
//     не более одного повтора; затем DLQ
//   - логический сбой инструмента → ResultMessage со статусом FAILURE
//
// Workers масштабируются горизонтально: несколько экземпляров могут
// потреблять одну очередь.
package worker
