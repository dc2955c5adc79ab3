// Package telemetry — структурированное логирование и метрики.
//
// Структура:
//   - logging.go — настройка slog (LOG_LEVEL, LOG_FORMAT), With*-хелперы
//   - metrics.go — счётчики и датчики Prometheus
//
// Metrics передаётся компонентам явно через Config — глобальных
// синглтонов наблюдаемости нет.
package telemetry
