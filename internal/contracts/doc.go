// Package contracts определяет типизированные конверты сообщений между
// оркестратором и исполнителями (агентами и детерминированными воркерами).
//
// Структура:
//   - enums.go    — контролируемые словари (EntityType, TaskPriority, TaskKind, TaskStatus)
//   - message.go  — TaskMessage и контекст задачи
//   - result.go   — ResultMessage и аналитические полезные нагрузки
//   - validate.go — валидация на границах publish и consume
//
// Все сообщения сериализуются в JSON. Неизвестные поля при чтении
// игнорируются (аддитивная эволюция схемы), известные поля стабильны.
package contracts
