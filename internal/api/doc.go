// Package api — read-only статусная поверхность оркестратора.
//
// Обработчики монтируются в HTTP mux сервиса рядом с /healthz и
// /metrics:
//   - GET /status — сводка прогона: состояние узлов, попытки, DLQ
//
// Поверхность только для чтения: управление прогоном идёт через
// план на файловой системе и брокер.
package api
