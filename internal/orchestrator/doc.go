// Package orchestrator — управляющий цикл прогона: единственный
// писатель состояния выполнения DAG.
//
// Один тик цикла:
//  1. Неблокирующе выгребает готовые результаты из канала consumer'а
//  2. Для каждого результата: находит (node, stage) по task_id,
//     валидирует конверт, пишет в Task Memory, применяет переход
//  3. Сканирует DAG: узлы с завершёнными зависимостями и без
//     in-flight стадии получают следующую стадию (build + publish)
//  4. Проверяет истёкшие дедлайны и синтезирует локальные таймауты
//
// Завершение: все узлы DONE (успех); узел FAILED без пути
// восстановления и дальнейший прогресс невозможен (отказ); внешний
// дедлайн.
//
// Consume идёт на фоновой I/O горутине и передаёт результаты в цикл
// через канал. Publish выполняется синхронно из горутины цикла (с
// ограниченными повторами): тик ждёт завершения публикации.
package orchestrator
