package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Fabrica/internal/repo"
)

// defaultBatchSize — количество расписаний за один тик.
const defaultBatchSize = 100

// ScheduleSource — доступ к расписаниям.
// Реализуется repo.ScheduleRepo; в тестах подменяется фейком.
type ScheduleSource interface {
	ListDue(ctx context.Context, now time.Time, limit int) ([]repo.Schedule, error)
	MarkTriggered(ctx context.Context, id uuid.UUID, runID uuid.UUID, nextDue time.Time) error
}

// RunStarter запускает прогон плана и возвращает его run_id.
type RunStarter func(ctx context.Context, planDir string) (uuid.UUID, error)

// Scheduler — планировщик регрессионных прогонов.
type Scheduler struct {
	schedules ScheduleSource
	start     RunStarter
	logger    *slog.Logger
	batchSize int
}

// Config — конфигурация Scheduler.
type Config struct {
	Schedules ScheduleSource
	Start     RunStarter
	Logger    *slog.Logger
	BatchSize int // количество расписаний за один тик (default: 100)
}

// New создаёт новый Scheduler.
func New(cfg Config) *Scheduler {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		schedules: cfg.Schedules,
		start:     cfg.Start,
		logger:    logger,
		batchSize: batchSize,
	}
}

// Tick выполняет один тик планировщика.
//
// 1. Находит due schedules (enabled=true, next_due_at <= now)
// 2. Для каждого запускает прогон через RunStarter
// 3. Вычисляет и сохраняет следующий срок
//
// Ошибки одного schedule не блокируют обработку остальных.
func (s *Scheduler) Tick(ctx context.Context) error {
	now := time.Now()

	schedules, err := s.schedules.ListDue(ctx, now, s.batchSize)
	if err != nil {
		return fmt.Errorf("list due schedules: %w", err)
	}

	if len(schedules) == 0 {
		return nil
	}

	s.logger.Debug("found due schedules", "count", len(schedules))

	var triggered int
	for i := range schedules {
		sched := &schedules[i]

		if err := s.trigger(ctx, sched, now); err != nil {
			s.logger.Error("failed to trigger schedule",
				"schedule_id", sched.ID,
				"plan_dir", sched.PlanDir,
				"error", err,
			)
			continue
		}
		triggered++
	}

	s.logger.Info("scheduler tick", "due", len(schedules), "triggered", triggered)
	return nil
}

// trigger запускает прогон одного расписания.
func (s *Scheduler) trigger(ctx context.Context, sched *repo.Schedule, now time.Time) error {
	runID, err := s.start(ctx, sched.PlanDir)
	if err != nil {
		return fmt.Errorf("start run: %w", err)
	}

	nextDue, err := CalculateNextDue(sched, now)
	if err != nil {
		return fmt.Errorf("calculate next due: %w", err)
	}

	if err := s.schedules.MarkTriggered(ctx, sched.ID, runID, nextDue); err != nil {
		return fmt.Errorf("mark triggered: %w", err)
	}

	s.logger.Info("scheduled run started",
		"schedule_id", sched.ID,
		"run_id", runID,
		"plan_dir", sched.PlanDir,
		"next_due_at", nextDue,
	)
	return nil
}

// RunLoop тикает до отмены контекста.
func (s *Scheduler) RunLoop(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Первый тик сразу при старте.
	if err := s.Tick(ctx); err != nil {
		s.logger.Error("scheduler tick failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil {
				s.logger.Error("scheduler tick failed", "error", err)
			}
		}
	}
}
