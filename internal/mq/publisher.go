package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/Fabrica/internal/contracts"
)

// ErrPublishConfirm — брокер не подтвердил публикацию в срок.
// Транзиентная ошибка доставки: оркестратор переиздаёт с ограничением
// числа попыток.
var ErrPublishConfirm = errors.New("publish confirmation failed")

// Заголовки сообщений.
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderFailureReason = "x-failure-reason"
	HeaderTaskID        = "x-task-id"
	HeaderCorrelationID = "x-correlation-id"
)

// defaultConfirmTimeout — ожидание подтверждения публикации.
const defaultConfirmTimeout = 5 * time.Second

// Publisher публикует задачи и результаты в RabbitMQ.
type Publisher struct {
	conn           *Connection
	logger         *slog.Logger
	confirmTimeout time.Duration
}

// NewPublisher создаёт новый Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	return &Publisher{
		conn:           conn,
		logger:         logger,
		confirmTimeout: defaultConfirmTimeout,
	}
}

// PublishTask публикует задачу в tasks_exchange.
//
// Ключ маршрутизации — EntityType задачи; приоритет — из конверта;
// доставка persistent. Ожидает подтверждения брокера: по таймауту
// возвращает ErrPublishConfirm.
func (p *Publisher) PublishTask(ctx context.Context, task *contracts.TaskMessage) error {
	body, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}

	return p.publish(ctx, ExchangeTasks, task.EntityType.RoutingKey(), amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent, // сообщение переживёт рестарт RabbitMQ
		Priority:     uint8(task.Priority),
		MessageId:    task.TaskID.String(),
		Timestamp:    task.CreatedAt,
		Body:         body,
		Headers: amqp.Table{
			HeaderTaskID:        task.TaskID.String(),
			HeaderCorrelationID: task.CorrelationID.String(),
		},
	})
}

// PublishResult публикует результат в очередь results.
// Используется воркерами.
func (p *Publisher) PublishResult(ctx context.Context, result *contracts.ResultMessage) error {
	body, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	return p.publish(ctx, ExchangeTasks, RoutingKeyResults, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    result.TaskID.String(),
		Timestamp:    result.CompletedAt,
		Body:         body,
		Headers: amqp.Table{
			HeaderTaskID:        result.TaskID.String(),
			HeaderCorrelationID: result.CorrelationID.String(),
		},
	})
}

// Republish переиздаёт сырое сообщение с увеличенным счётчиком retry.
// Используется воркерами для транзиентных сбоев.
func (p *Publisher) Republish(ctx context.Context, routingKey string, body []byte, headers amqp.Table) error {
	next := amqp.Table{}
	for k, v := range headers {
		next[k] = v
	}
	next[HeaderRetryCount] = RetryCount(headers) + 1

	return p.publish(ctx, ExchangeTasks, routingKey, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
		Headers:      next,
	})
}

// publish отправляет сообщение и ждёт подтверждения брокера.
func (p *Publisher) publish(ctx context.Context, exchange Exchange, routingKey string, msg amqp.Publishing) error {
	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		confirm, err := ch.PublishWithDeferredConfirmWithContext(
			ctx,
			string(exchange),
			routingKey,
			false, // mandatory
			false, // immediate
			msg,
		)
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
		}

		confirmCtx, cancel := context.WithTimeout(ctx, p.confirmTimeout)
		defer cancel()

		acked, err := confirm.WaitContext(confirmCtx)
		if err != nil {
			return fmt.Errorf("%w: %s/%s: %v", ErrPublishConfirm, exchange, routingKey, err)
		}
		if !acked {
			return fmt.Errorf("%w: %s/%s: broker nacked", ErrPublishConfirm, exchange, routingKey)
		}

		p.logger.Debug("published message",
			"exchange", exchange,
			"routing_key", routingKey,
			"message_id", msg.MessageId,
		)

		return nil
	})
}

// RetryCount извлекает счётчик retry из заголовков.
func RetryCount(headers amqp.Table) int32 {
	if headers == nil {
		return 0
	}
	switch v := headers[HeaderRetryCount].(type) {
	case int32:
		return v
	case int64:
		return int32(v)
	case int:
		return int32(v)
	default:
		return 0
	}
}
