// Package builder детерминированно строит контекст исходящих задач.
//
// Builder чист относительно снимка (design context, Task Memory, стадия):
// одинаковые входы дают побайтно одинаковый payload с точностью до
// task_id и created_at конверта.
//
// Форма контекста дискриминирована по стадии:
//   - impl        — интерфейс, clocking, rtl_path, spec_summary, coverage
//   - tb          — + testbench_path, test_plan, путь готового RTL
//   - lint/sim    — конкретные пути артефактов и конфигурация инструмента
//   - distill     — путь лога симуляции
//   - reflect     — указатели на дистиллят и лог симуляции
//   - debug       — упавший RTL, testbench, выводы рефлексии, сигнатура сбоя
//
// Детерминированные стадии никогда не получают LLM-поля.
package builder
