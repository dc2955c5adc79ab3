// Package repo — персистентный ledger прогонов в PostgreSQL.
//
// Таблицы:
//   - runs          — прогоны (план, статус, итоговая сводка)
//   - task_attempts — опубликованные попытки стадий и их исходы
//   - schedules     — расписания регрессионных прогонов
//
// Ledger — сквозная запись для аудита и статусных запросов; источником
// истины для рестарта остаётся Task Memory.
package repo
