package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Schedule — расписание регрессионных прогонов плана.
type Schedule struct {
	ID uuid.UUID `json:"id"`

	// PlanDir — каталог с design_context.json и dag.json.
	PlanDir string `json:"plan_dir"`

	// Name — имя расписания для удобства.
	Name string `json:"name,omitempty"`

	// CronExpr — cron-выражение ("минуты часы дни месяцы дни_недели").
	// Если задан CronExpr, IntervalSec игнорируется.
	CronExpr string `json:"cron_expr,omitempty"`

	// IntervalSec — интервал в секундах, если CronExpr не задан.
	IntervalSec int `json:"interval_sec,omitempty"`

	// Timezone — часовой пояс вычисления времени (default: UTC).
	Timezone string `json:"timezone"`

	Enabled bool `json:"enabled"`

	// NextDueAt — время следующего запуска.
	NextDueAt *time.Time `json:"next_due_at,omitempty"`

	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	LastRunID *uuid.UUID `json:"last_run_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// IsCron возвращает true, если расписание задано cron-выражением.
func (s *Schedule) IsCron() bool {
	return s.CronExpr != ""
}

// IsInterval возвращает true, если расписание задано интервалом.
func (s *Schedule) IsInterval() bool {
	return s.IntervalSec > 0
}

// ScheduleRepo — репозиторий для работы с schedules.
type ScheduleRepo struct {
	pool *pgxpool.Pool
}

// NewScheduleRepo создаёт новый ScheduleRepo.
func NewScheduleRepo(pool *pgxpool.Pool) *ScheduleRepo {
	return &ScheduleRepo{pool: pool}
}

// Create создаёт новый schedule.
func (r *ScheduleRepo) Create(ctx context.Context, schedule *Schedule) error {
	query := `
		INSERT INTO schedules (id, plan_dir, name, cron_expr, interval_sec, timezone,
		                       enabled, next_due_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.pool.Exec(ctx, query,
		schedule.ID,
		schedule.PlanDir,
		schedule.Name,
		schedule.CronExpr,
		schedule.IntervalSec,
		schedule.Timezone,
		schedule.Enabled,
		schedule.NextDueAt,
		schedule.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert schedule: %w", err)
	}
	return nil
}

// ListDue возвращает активные расписания с next_due_at <= now.
func (r *ScheduleRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]Schedule, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, plan_dir, name, cron_expr, interval_sec, timezone, enabled,
		       next_due_at, last_run_at, last_run_id, created_at
		FROM schedules
		WHERE enabled = true AND next_due_at IS NOT NULL AND next_due_at <= $1
		ORDER BY next_due_at ASC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due schedules: %w", err)
	}
	defer rows.Close()

	var schedules []Schedule
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, *sched)
	}
	return schedules, rows.Err()
}

// MarkTriggered фиксирует запуск и следующий срок расписания.
func (r *ScheduleRepo) MarkTriggered(ctx context.Context, id uuid.UUID, runID uuid.UUID, nextDue time.Time) error {
	query := `
		UPDATE schedules
		SET last_run_at = $2, last_run_id = $3, next_due_at = $4
		WHERE id = $1
	`
	tag, err := r.pool.Exec(ctx, query, id, time.Now(), runID, nextDue)
	if err != nil {
		return fmt.Errorf("mark schedule triggered: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: schedule %s", ErrNotFound, id)
	}
	return nil
}

// GetByID возвращает schedule по ID.
func (r *ScheduleRepo) GetByID(ctx context.Context, id uuid.UUID) (*Schedule, error) {
	query := `
		SELECT id, plan_dir, name, cron_expr, interval_sec, timezone, enabled,
		       next_due_at, last_run_at, last_run_id, created_at
		FROM schedules
		WHERE id = $1
	`
	sched, err := scanSchedule(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return sched, nil
}

func scanSchedule(row pgx.Row) (*Schedule, error) {
	var s Schedule
	err := row.Scan(
		&s.ID,
		&s.PlanDir,
		&s.Name,
		&s.CronExpr,
		&s.IntervalSec,
		&s.Timezone,
		&s.Enabled,
		&s.NextDueAt,
		&s.LastRunAt,
		&s.LastRunID,
		&s.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan schedule: %w", err)
	}
	return &s, nil
}
