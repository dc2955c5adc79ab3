// Package cli — команды инструмента fabrica.
//
// Команды работают локально с планом и Task Memory:
//   - plan     — валидация и просмотр design_context.json / dag.json
//   - memory   — просмотр попыток стадий в Task Memory
//   - topology — печать топологии брокера
package cli
