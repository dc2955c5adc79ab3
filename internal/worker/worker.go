package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/Fabrica/internal/contracts"
	"github.com/shaiso/Fabrica/internal/mq"
)

// defaultMaxRetries — сколько раз транзиентная задача переиздаётся.
const defaultMaxRetries = 1

// ResultPublisher — публикация результатов и переиздание задач.
// Реализуется mq.Publisher; в тестах подменяется фейком.
type ResultPublisher interface {
	PublishResult(ctx context.Context, result *contracts.ResultMessage) error
	Republish(ctx context.Context, routingKey string, body []byte, headers amqp.Table) error
}

// Worker потребляет очередь задач и выполняет их исполнителями.
type Worker struct {
	conn      *mq.Connection
	publisher ResultPublisher
	registry  *Registry
	queue     mq.Queue

	maxRetries int32

	consumer *mq.Consumer

	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// Config — конфигурация Worker.
type Config struct {
	Conn      *mq.Connection
	Publisher ResultPublisher

	// Queue — очередь задач (process_tasks или simulation_tasks).
	Queue mq.Queue

	// Registry — реестр исполнителей (default: NewRegistry()).
	Registry *Registry

	// MaxRetries — повторы транзиентных сбоев (default: 1).
	MaxRetries int

	Logger *slog.Logger
}

// New создаёт новый Worker.
func New(cfg Config) *Worker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	registry := cfg.Registry
	if registry == nil {
		registry = NewRegistry()
	}

	maxRetries := int32(cfg.MaxRetries)
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}

	return &Worker{
		conn:       cfg.Conn,
		publisher:  cfg.Publisher,
		registry:   registry,
		queue:      cfg.Queue,
		maxRetries: maxRetries,
		logger:     logger.With("queue", string(cfg.Queue)),
	}
}

// Start запускает потребление задач.
func (w *Worker) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	w.cancelFunc = cancel

	w.consumer = mq.NewConsumer(w.conn, w.logger, mq.ConsumerConfig{
		Queue:    w.queue,
		Handler:  w.handleTask,
		Prefetch: 1,
	})

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		if err := w.consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.logger.Error("task consumer error", "error", err)
		}
	}()

	w.logger.Info("worker started")
	return nil
}

// Stop останавливает Worker.
func (w *Worker) Stop() {
	w.logger.Info("stopping worker...")

	if w.cancelFunc != nil {
		w.cancelFunc()
	}
	if w.consumer != nil {
		w.consumer.Stop()
	}
	w.wg.Wait()

	w.logger.Info("worker stopped")
}

// handleTask обрабатывает одну задачу из очереди.
//
// Протокол сбоев (§ doc.go): вход → DLQ; транзиент → переиздание с
// x-retry-count, затем DLQ; логический сбой → FAILURE-результат.
func (w *Worker) handleTask(ctx context.Context, d *mq.Delivery) error {
	var task contracts.TaskMessage
	if err := json.Unmarshal(d.Body, &task); err != nil {
		return fmt.Errorf("%w: malformed task: %v", mq.ErrRejectToDLQ, err)
	}
	if err := contracts.ValidateTask(&task); err != nil {
		return fmt.Errorf("%w: %v", mq.ErrRejectToDLQ, err)
	}

	executor, err := w.registry.Get(task.TaskKind)
	if err != nil {
		// Роль, которую этот пул не исполняет и исполнить не сможет.
		return fmt.Errorf("%w: %v", mq.ErrRejectToDLQ, err)
	}

	logger := w.logger.With("task_id", task.TaskID, "kind", task.TaskKind, "node_id", task.Context.NodeID)
	logger.Info("task started", "retry", mq.RetryCount(d.Headers))

	result, execErr := executor.Execute(ctx, &task)

	switch {
	case execErr == nil:
		// Исход (успех или логический сбой) — в конверте результата.

	case errors.Is(execErr, ErrTaskInput):
		logger.Warn("task input error, rejecting to DLQ", "error", execErr)
		return fmt.Errorf("%w: %v", mq.ErrRejectToDLQ, execErr)

	case errors.Is(execErr, ErrTransient):
		if mq.RetryCount(d.Headers) < w.maxRetries {
			logger.Warn("transient failure, republishing", "error", execErr)
			if err := w.publisher.Republish(ctx, task.EntityType.RoutingKey(), d.Body, d.Headers); err != nil {
				return fmt.Errorf("republish: %w", err)
			}
			return nil // исходное сообщение ack
		}
		logger.Warn("transient retries exhausted, rejecting to DLQ", "error", execErr)
		return fmt.Errorf("%w: %v", mq.ErrRejectToDLQ, execErr)

	default:
		// Неожиданная инфраструктурная ошибка — репортуем как FAILURE.
		result = contracts.NewResult(&task, contracts.StatusFailure,
			fmt.Sprintf("unhandled execution error: %v", execErr))
	}

	if err := w.publisher.PublishResult(ctx, result); err != nil {
		// Результат не доставлен: вернуть задачу нельзя (requeue
		// запрещён), оркестратор синтезирует таймаут стадии.
		return fmt.Errorf("publish result: %w", err)
	}

	logger.Info("task finished", "status", result.Status)
	return nil
}
