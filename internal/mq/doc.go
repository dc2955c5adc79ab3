// Package mq предоставляет инфраструктуру для работы с RabbitMQ.
//
// Структура:
//   - connection.go — управление соединением (reconnect, graceful shutdown)
//   - topology.go   — объявление exchanges, queues, bindings
//   - publisher.go  — публикация задач и результатов с подтверждениями
//   - consumer.go   — потребление сообщений с ручным ack/nack
//
// Топология:
//
//	tasks_exchange (direct)
//	├── agent_tasks      [routing: REASONING, x-max-priority=3]
//	├── process_tasks    [routing: LIGHT_DETERMINISTIC]
//	└── simulation_tasks [routing: HEAVY_DETERMINISTIC]
//
//	results — единственный потребитель: оркестратор
//
//	tasks_dlx (fanout)
//	└── dead_letter_queue
//
// У каждой очереди задач (и у results) dead-letter exchange — tasks_dlx:
// nack с requeue=false отправляет сообщение в dead_letter_queue.
package mq
