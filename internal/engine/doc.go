// Package engine загружает и валидирует план прогона: design context и DAG.
//
// Входы создаются планировщиком и неизменяемы на время прогона:
//   - design_context.json — интерфейсы, тактирование и целевые пути модулей
//   - dag.json            — узлы и рёбра зависимостей
//
// Структура:
//   - design.go — design context (интерфейсы, clocking, целевые пути)
//   - dag.go    — граф зависимостей, проверка циклов, готовые узлы
//
// Изменяемое состояние выполнения узлов живёт не здесь, а у оркестратора;
// engine отдаёт только неизменяемую структуру графа.
package engine
