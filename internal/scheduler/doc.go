// Package scheduler запускает регрессионные прогоны по расписанию.
//
// Scheduler тикает раз в интервал, находит due schedules (enabled,
// next_due_at <= now), запускает прогон через внедрённый RunStarter и
// вычисляет следующий срок (cron-выражение или интервал, с учётом
// timezone). Ошибки одного расписания не блокируют остальные.
package scheduler
