// Package memory реализует Task Memory — сквозное файловое хранилище
// артефактов и логов по узлам и стадиям.
//
// Раскладка:
//
//	<root>/<node_id>/<stage>/task.json      — конверт опубликованной задачи
//	<root>/<node_id>/<stage>/result.json    — конверт результата
//	<root>/<node_id>/<stage>/log.txt        — лог выполнения
//	<root>/<node_id>/<stage>/artifact.*     — копия артефакта стадии
//	<root>/specs/                           — замороженные спецификации (passthrough)
//
// Хранилище append-only: повтор стадии пишет соседние файлы попытки
// (task.2.json, result.2.json, log.2.txt). Записи атомарны на уровне
// файла (запись во временный файл + rename), поэтому читатель видит
// либо прежнюю, либо новую версию — никогда рваную запись.
//
// Единственный писатель — оркестратор.
package memory
