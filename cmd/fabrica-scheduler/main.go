// Fabrica Scheduler — регрессионные прогоны по расписанию.
//
// Scheduler находит due schedules в БД и последовательно запускает
// оркестрацию соответствующих планов. Прогоны выполняются по одному:
// очередь results имеет единственного потребителя, поэтому авторитет
// над прогоном всегда у одного экземпляра цикла.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Fabrica/internal/builder"
	"github.com/shaiso/Fabrica/internal/engine"
	"github.com/shaiso/Fabrica/internal/memory"
	"github.com/shaiso/Fabrica/internal/mq"
	"github.com/shaiso/Fabrica/internal/orchestrator"
	"github.com/shaiso/Fabrica/internal/repo"
	"github.com/shaiso/Fabrica/internal/scheduler"
	"github.com/shaiso/Fabrica/internal/telemetry"
)

// scheduledRun — запуск, ожидающий последовательного исполнения.
type scheduledRun struct {
	runID   uuid.UUID
	planDir string
}

func main() {
	logger := telemetry.SetupLogger()
	logger.Info("starting fabrica-scheduler")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// DB
	pool, err := repo.NewPool(ctx)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("database connected")

	scheduleRepo := repo.NewScheduleRepo(pool)
	runRepo := repo.NewRunRepo(pool)
	attemptRepo := repo.NewAttemptRepo(pool)

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

	taskMemoryRoot := os.Getenv("TASK_MEMORY_ROOT")
	if taskMemoryRoot == "" {
		taskMemoryRoot = "artifacts/task_memory"
	}

	// Последовательный исполнитель прогонов.
	runQueue := make(chan scheduledRun, 16)
	runner := &runRunner{
		mqConn:         mqConn,
		runRepo:        runRepo,
		attemptRepo:    attemptRepo,
		taskMemoryRoot: taskMemoryRoot,
		logger:         logger,
	}
	go runner.process(ctx, runQueue)

	// Starter: фиксирует прогон и ставит его в очередь исполнения.
	starter := func(ctx context.Context, planDir string) (uuid.UUID, error) {
		runID := uuid.New()
		now := time.Now()
		run := &repo.Run{
			ID:        runID,
			PlanDir:   planDir,
			Status:    repo.RunStatusPending,
			CreatedAt: now,
		}
		if err := runRepo.Create(ctx, run); err != nil {
			return uuid.Nil, err
		}

		select {
		case runQueue <- scheduledRun{runID: runID, planDir: planDir}:
			return runID, nil
		case <-ctx.Done():
			return uuid.Nil, ctx.Err()
		}
	}

	sched := scheduler.New(scheduler.Config{
		Schedules: scheduleRepo,
		Start:     starter,
		Logger:    logger,
	})

	interval := time.Minute
	if v := os.Getenv("SCHEDULER_INTERVAL_SEC"); v != "" {
		if sec, err := strconv.Atoi(v); err == nil && sec > 0 {
			interval = time.Duration(sec) * time.Second
		}
	}

	if err := sched.RunLoop(ctx, interval); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("scheduler loop error", "error", err)
		os.Exit(1)
	}

	logger.Info("fabrica-scheduler stopped")
}

// runRunner последовательно исполняет запланированные прогоны.
type runRunner struct {
	mqConn         *mq.Connection
	runRepo        *repo.RunRepo
	attemptRepo    *repo.AttemptRepo
	taskMemoryRoot string
	logger         *slog.Logger
}

func (r *runRunner) process(ctx context.Context, queue <-chan scheduledRun) {
	for {
		select {
		case <-ctx.Done():
			return
		case sr := <-queue:
			r.execute(ctx, sr)
		}
	}
}

// execute выполняет один прогон плана целиком.
func (r *runRunner) execute(ctx context.Context, sr scheduledRun) {
	logger := telemetry.WithRunID(r.logger, sr.runID.String())
	logger.Info("scheduled run starting", "plan_dir", sr.planDir)

	plan, err := engine.LoadPlan(
		filepath.Join(sr.planDir, "design_context.json"),
		filepath.Join(sr.planDir, "dag.json"),
	)
	if err != nil {
		r.finish(sr.runID, repo.RunStatusFailed, nil, err)
		return
	}

	// У каждого прогона своя Task Memory.
	store, err := memory.NewStore(filepath.Join(r.taskMemoryRoot, sr.runID.String()))
	if err != nil {
		r.finish(sr.runID, repo.RunStatusFailed, nil, err)
		return
	}

	artifactsRoot := sr.planDir

	loop := orchestrator.New(orchestrator.Config{
		Plan:          plan,
		Memory:        store,
		ArtifactsRoot: artifactsRoot,
		Builder:       builder.New(plan.Design, artifactsRoot, store),
		Publisher:     mq.NewPublisher(r.mqConn, logger),
		RunID:         sr.runID,
		Ledger:        r.attemptRepo,
		Logger:        logger,
	})

	consumer := mq.NewConsumer(r.mqConn, logger, mq.ConsumerConfig{
		Queue:    mq.QueueResults,
		Handler:  loop.HandleResult,
		Prefetch: 8,
	})
	runCtx, stop := context.WithCancel(ctx)
	go func() {
		if err := consumer.Start(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("results consumer error", "error", err)
		}
	}()

	summary, runErr := loop.Run(runCtx)
	stop()
	consumer.Stop()

	status := repo.RunStatusSucceeded
	switch {
	case errors.Is(runErr, orchestrator.ErrRunStalled):
		status = repo.RunStatusStalled
	case runErr != nil:
		status = repo.RunStatusFailed
	}
	r.finish(sr.runID, status, summary, runErr)
}

func (r *runRunner) finish(runID uuid.UUID, status string, summary *orchestrator.RunSummary, runErr error) {
	errText := ""
	if runErr != nil {
		errText = runErr.Error()
	}
	var encoded json.RawMessage
	if summary != nil {
		encoded, _ = json.Marshal(summary)
	}

	if err := r.runRepo.Finish(context.Background(), runID, status, encoded, errText); err != nil {
		r.logger.Warn("failed to finish run record", "run_id", runID, "error", err)
	}
	r.logger.Info("scheduled run finished", "run_id", runID, "status", status)
}
