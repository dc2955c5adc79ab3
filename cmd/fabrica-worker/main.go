// Fabrica Worker — детерминированный исполнитель задач.
//
// Worker потребляет одну из очередей задач и выполняет инструменты:
//   - process_tasks    — lint (verilator) и дистилляция логов
//   - simulation_tasks — симуляция (iverilog + vvp)
//
// Результаты публикуются в очередь results для оркестратора.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/Fabrica/internal/contracts"
	"github.com/shaiso/Fabrica/internal/mq"
	"github.com/shaiso/Fabrica/internal/telemetry"
	"github.com/shaiso/Fabrica/internal/worker"
)

func main() {
	logger := telemetry.SetupLogger()
	logger.Info("starting fabrica-worker")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Очередь определяет пул: process (default) или simulation.
	queue := mq.QueueProcessTasks
	registry := worker.NewRegistry()
	switch os.Getenv("WORKER_QUEUE") {
	case "simulation":
		queue = mq.QueueSimulationTasks
	case "process", "":
	default:
		logger.Error("unknown WORKER_QUEUE", "value", os.Getenv("WORKER_QUEUE"))
		os.Exit(1)
	}

	// RabbitMQ
	mqURL := os.Getenv("RABBITMQ_URL")
	if mqURL == "" {
		mqURL = mq.DefaultURL()
	}
	mqConn, err := mq.NewConnection(mqURL, logger)
	if err != nil {
		logger.Error("failed to connect to RabbitMQ", "error", err)
		os.Exit(1)
	}
	defer mqConn.Close()

	if err := mq.SetupTopology(ctx, mqConn); err != nil {
		logger.Error("failed to setup topology", "error", err)
		os.Exit(1)
	}

	w := worker.New(worker.Config{
		Conn:      mqConn,
		Publisher: mq.NewPublisher(mqConn, logger),
		Queue:     queue,
		Registry:  registry,
		Logger:    logger,
	})

	if err := w.Start(ctx); err != nil {
		logger.Error("failed to start worker", "error", err)
		os.Exit(1)
	}

	logger.Info("worker consuming",
		"queue", queue,
		"kinds", contracts.KindsFor(entityFor(queue)),
	)

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	port := ":8084"
	if v := os.Getenv("WORKER_PORT"); v != "" {
		port = ":" + v
	}
	go func() {
		logger.Info("listening", "addr", port)
		if err := http.ListenAndServe(port, mux); err != nil {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()

	w.Stop()
	logger.Info("fabrica-worker stopped")
}

// entityFor возвращает класс исполнителя очереди.
func entityFor(queue mq.Queue) contracts.EntityType {
	if queue == mq.QueueSimulationTasks {
		return contracts.EntityHeavyDeterministic
	}
	return contracts.EntityLightDeterministic
}
