// Fabrica Orchestrator — управляющая плоскость прогона.
//
// Orchestrator:
//   - Загружает замороженный план (design_context.json + dag.json)
//   - Публикует задачи стадий в очереди брокера по EntityType
//   - Потребляет результаты, продвигает машину состояний узлов
//   - Персистирует артефакты и логи в Task Memory
//   - Маршрутизирует невосстановимые сбои в DLQ
package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/Fabrica/internal/api"
	"github.com/shaiso/Fabrica/internal/builder"
	"github.com/shaiso/Fabrica/internal/engine"
	"github.com/shaiso/Fabrica/internal/lifecycle"
	"github.com/shaiso/Fabrica/internal/memory"
	"github.com/shaiso/Fabrica/internal/mq"
	"github.com/shaiso/Fabrica/internal/orchestrator"
	"github.com/shaiso/Fabrica/internal/repo"
	"github.com/shaiso/Fabrica/internal/telemetry"
)

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting fabrica-orchestrator")

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	planDir := envOr("PLAN_DIR", "artifacts/generated")
	artifactsRoot := envOr("ARTIFACTS_ROOT", "artifacts/generated")
	taskMemoryRoot := envOr("TASK_MEMORY_ROOT", "artifacts/task_memory")

	// План прогона
	plan, err := engine.LoadPlan(
		planDir+"/design_context.json",
		planDir+"/dag.json",
	)
	if err != nil {
		logger.Error("failed to load plan", "plan_dir", planDir, "error", err)
		os.Exit(1)
	}
	logger.Info("plan loaded", "nodes", plan.Graph.Size(), "hash", plan.Design.DesignContextHash)

	// Task Memory
	store, err := memory.NewStore(taskMemoryRoot)
	if err != nil {
		logger.Error("failed to open task memory", "error", err)
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
	publisher := mq.NewPublisher(mqConn, logger)

	// Ledger (опционально: без БД работаем в degraded-режиме)
	var ledger orchestrator.Ledger
	var runRepo *repo.RunRepo
	pool, err := repo.NewPool(ctx)
	if err != nil {
		logger.Warn("database not available, running without ledger", "error", err)
	} else {
		defer pool.Close()
		runRepo = repo.NewRunRepo(pool)
		ledger = repo.NewAttemptRepo(pool)
		logger.Info("database connected")
	}

	metrics := telemetry.NewMetrics(nil)

	loop := orchestrator.New(orchestrator.Config{
		Plan:          plan,
		Memory:        store,
		ArtifactsRoot: artifactsRoot,
		Builder:       builder.New(plan.Design, artifactsRoot, store),
		Publisher:     publisher,
		StageTimeouts: stageTimeoutsFromEnv(),
		Metrics:       metrics,
		Ledger:        ledger,
		Logger:        logger,
	})

	// Восстанавливаемся из Task Memory после возможного рестарта.
	if err := loop.Restore(); err != nil {
		logger.Error("failed to restore state", "error", err)
		os.Exit(1)
	}

	// Запись прогона в ledger
	if runRepo != nil {
		now := time.Now()
		run := &repo.Run{
			ID:                loop.RunID(),
			DesignContextHash: plan.Design.DesignContextHash,
			PlanDir:           planDir,
			Status:            repo.RunStatusRunning,
			StartedAt:         &now,
			CreatedAt:         now,
		}
		if err := runRepo.Create(ctx, run); err != nil {
			logger.Warn("failed to record run", "error", err)
		}
	}

	// Consumer результатов (единственный потребитель results)
	prefetch, _ := strconv.Atoi(envOr("RESULTS_PREFETCH", "8"))
	consumer := mq.NewConsumer(mqConn, logger, mq.ConsumerConfig{
		Queue:    mq.QueueResults,
		Handler:  loop.HandleResult,
		Prefetch: prefetch,
	})
	go func() {
		if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("results consumer error", "error", err)
		}
	}()
	defer consumer.Stop()

	// HTTP mux: /healthz + /metrics + /status
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/status", api.StatusHandler(api.SummaryFunc(func() any {
		return loop.Summary()
	})))

	port := ":8083"
	if v := os.Getenv("ORCH_PORT"); v != "" {
		port = ":" + v
	}
	go func() {
		logger.Info("listening", "addr", port)
		if err := http.ListenAndServe(port, mux); err != nil {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	// Прогон
	summary, runErr := loop.Run(ctx)

	// Финализируем запись прогона
	if runRepo != nil {
		status := repo.RunStatusSucceeded
		errText := ""
		switch {
		case errors.Is(runErr, orchestrator.ErrRunStalled):
			status = repo.RunStatusStalled
			errText = runErr.Error()
		case runErr != nil:
			status = repo.RunStatusFailed
			errText = runErr.Error()
		}
		encoded, _ := json.Marshal(summary)
		if err := runRepo.Finish(context.Background(), loop.RunID(), status, encoded, errText); err != nil {
			logger.Warn("failed to finish run record", "error", err)
		}
	}

	if runErr != nil {
		logger.Error("run finished with errors", "error", runErr)
		os.Exit(1)
	}
	logger.Info("run finished: all nodes done")
}

// envOr возвращает значение переменной окружения или default.
func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// stageTimeoutsFromEnv читает переопределения дедлайнов стадий:
// STAGE_TIMEOUT_IMPL, STAGE_TIMEOUT_LINT, ... (в секундах).
func stageTimeoutsFromEnv() map[lifecycle.Stage]time.Duration {
	overrides := make(map[lifecycle.Stage]time.Duration)

	vars := map[string]lifecycle.Stage{
		"STAGE_TIMEOUT_IMPL":    lifecycle.StageImplementation,
		"STAGE_TIMEOUT_LINT":    lifecycle.StageLint,
		"STAGE_TIMEOUT_TB":      lifecycle.StageTestbench,
		"STAGE_TIMEOUT_SIM":     lifecycle.StageSimulation,
		"STAGE_TIMEOUT_DISTILL": lifecycle.StageDistill,
		"STAGE_TIMEOUT_REFLECT": lifecycle.StageReflect,
		"STAGE_TIMEOUT_DEBUG":   lifecycle.StageDebug,
	}
	for name, stage := range vars {
		if v := os.Getenv(name); v != "" {
			if sec, err := strconv.Atoi(v); err == nil && sec > 0 {
				overrides[stage] = time.Duration(sec) * time.Second
			}
		}
	}

	if len(overrides) == 0 {
		return nil
	}
	return overrides
}
