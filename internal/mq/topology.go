package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/Fabrica/internal/contracts"
)

// Exchange — тип для имени обменника.
type Exchange string

// Queue — тип для имени очереди.
type Queue string

// Exchanges — имена обменников.
const (
	ExchangeTasks Exchange = "tasks_exchange"
	ExchangeDLX   Exchange = "tasks_dlx"
)

// Queues — имена очередей.
const (
	QueueAgentTasks      Queue = "agent_tasks"
	QueueProcessTasks    Queue = "process_tasks"
	QueueSimulationTasks Queue = "simulation_tasks"
	QueueResults         Queue = "results"
	QueueDeadLetter      Queue = "dead_letter_queue"
)

// RoutingKeyResults — ключ маршрутизации результатов.
// Ключи задач равны значениям EntityType.
const RoutingKeyResults = "RESULTS"

// maxTaskPriority — x-max-priority очереди agent_tasks.
const maxTaskPriority = 3

// SetupTopology объявляет топологию. Идемпотентно: повторный запуск
// приводит брокер к тому же состоянию, что и первый.
func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		if err := declareExchanges(ch); err != nil {
			return err
		}
		if err := declareQueues(ch); err != nil {
			return err
		}
		return bindQueues(ch)
	})
}

// declareExchanges создаёт обменники.
func declareExchanges(ch *amqp.Channel) error {
	exchanges := []struct {
		name Exchange
		kind string
	}{
		{ExchangeTasks, "direct"},
		{ExchangeDLX, "fanout"},
	}

	for _, ex := range exchanges {
		err := ch.ExchangeDeclare(
			string(ex.name), // name
			ex.kind,         // type
			true,            // durable
			false,           // auto-deleted
			false,           // internal
			false,           // no-wait
			nil,             // arguments
		)
		if err != nil {
			return fmt.Errorf("declare exchange %s: %w", ex.name, err)
		}
	}

	return nil
}

// declareQueues создаёт очереди.
func declareQueues(ch *amqp.Channel) error {
	// Очереди задач: dead-letter exchange для nack(requeue=false).
	dlxArgs := amqp.Table{
		"x-dead-letter-exchange": string(ExchangeDLX),
	}

	// agent_tasks дополнительно приоритетная (1–3).
	agentArgs := amqp.Table{
		"x-dead-letter-exchange": string(ExchangeDLX),
		"x-max-priority":         int32(maxTaskPriority),
	}

	queues := []struct {
		name Queue
		args amqp.Table
	}{
		{QueueAgentTasks, agentArgs},
		{QueueProcessTasks, dlxArgs},
		{QueueSimulationTasks, dlxArgs},

		// results тоже с DLX: некорректный результат уходит в DLQ.
		{QueueResults, dlxArgs},

		// Сама DLQ — без аргументов.
		{QueueDeadLetter, nil},
	}

	for _, q := range queues {
		_, err := ch.QueueDeclare(
			string(q.name), // name
			true,           // durable
			false,          // delete when unused
			false,          // exclusive
			false,          // no-wait
			q.args,         // arguments
		)
		if err != nil {
			return fmt.Errorf("declare queue %s: %w", q.name, err)
		}
	}

	return nil
}

// bindQueues привязывает очереди к обменникам.
// Ключ маршрутизации каждой очереди задач равен её EntityType.
func bindQueues(ch *amqp.Channel) error {
	bindings := []struct {
		queue      Queue
		routingKey string
		exchange   Exchange
	}{
		{QueueAgentTasks, contracts.EntityReasoning.RoutingKey(), ExchangeTasks},
		{QueueProcessTasks, contracts.EntityLightDeterministic.RoutingKey(), ExchangeTasks},
		{QueueSimulationTasks, contracts.EntityHeavyDeterministic.RoutingKey(), ExchangeTasks},
		{QueueResults, RoutingKeyResults, ExchangeTasks},

		// fanout: ключ игнорируется.
		{QueueDeadLetter, "", ExchangeDLX},
	}

	for _, b := range bindings {
		err := ch.QueueBind(
			string(b.queue),    // queue name
			b.routingKey,       // routing key
			string(b.exchange), // exchange
			false,              // no-wait
			nil,                // arguments
		)
		if err != nil {
			return fmt.Errorf("bind queue %s to %s: %w", b.queue, b.exchange, err)
		}
	}

	return nil
}

// QueueFor возвращает очередь задач для класса исполнителя.
func QueueFor(entity contracts.EntityType) Queue {
	switch entity {
	case contracts.EntityReasoning:
		return QueueAgentTasks
	case contracts.EntityLightDeterministic:
		return QueueProcessTasks
	case contracts.EntityHeavyDeterministic:
		return QueueSimulationTasks
	default:
		return ""
	}
}

// TopologyInfo возвращает описание топологии для логирования.
func TopologyInfo() string {
	return `
  Fabrica RabbitMQ Topology:

    tasks_exchange (direct)
    ├── agent_tasks      [routing: REASONING, x-max-priority=3]
    │       Consumer: reasoning agents
    ├── process_tasks    [routing: LIGHT_DETERMINISTIC]
    │       Consumer: lint / distill workers
    ├── simulation_tasks [routing: HEAVY_DETERMINISTIC]
    │       Consumer: simulation workers
    └── results          [routing: RESULTS]
            Consumer: Orchestrator

    tasks_dlx (fanout)
    └── dead_letter_queue
            Manual processing
  `
}
