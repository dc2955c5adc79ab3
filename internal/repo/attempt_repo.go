package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TaskAttempt — одна опубликованная попытка стадии и её исход.
type TaskAttempt struct {
	TaskID  uuid.UUID `json:"task_id"`
	RunID   uuid.UUID `json:"run_id"`
	NodeID  string    `json:"node_id"`
	Stage   string    `json:"stage"`
	Attempt int       `json:"attempt"`

	// Status пуст, пока результат не применён.
	Status string `json:"status,omitempty"`

	// ResultPath — путь result.json в Task Memory.
	ResultPath string `json:"result_path,omitempty"`

	PublishedAt time.Time  `json:"published_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// AttemptRepo — репозиторий попыток стадий.
//
// Реализует orchestrator.Ledger: сквозная запись каждой публикации
// и каждого применённого результата.
type AttemptRepo struct {
	pool *pgxpool.Pool
}

// NewAttemptRepo создаёт новый AttemptRepo.
func NewAttemptRepo(pool *pgxpool.Pool) *AttemptRepo {
	return &AttemptRepo{pool: pool}
}

// RecordAttempt записывает публикацию попытки стадии.
func (r *AttemptRepo) RecordAttempt(ctx context.Context, runID uuid.UUID, nodeID, stage string, attempt int, taskID uuid.UUID) error {
	query := `
		INSERT INTO task_attempts (task_id, run_id, node_id, stage, attempt, published_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.pool.Exec(ctx, query, taskID, runID, nodeID, stage, attempt, time.Now())
	if err != nil {
		return fmt.Errorf("insert task attempt: %w", err)
	}
	return nil
}

// RecordOutcome записывает применённый исход попытки.
func (r *AttemptRepo) RecordOutcome(ctx context.Context, runID uuid.UUID, taskID uuid.UUID, status, resultPath string) error {
	query := `
		UPDATE task_attempts
		SET status = $3, result_path = $4, completed_at = $5
		WHERE task_id = $1 AND run_id = $2
	`
	tag, err := r.pool.Exec(ctx, query, taskID, runID, status, resultPath, time.Now())
	if err != nil {
		return fmt.Errorf("update task attempt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: attempt %s", ErrNotFound, taskID)
	}
	return nil
}

// ListByRun возвращает попытки прогона в порядке публикации.
func (r *AttemptRepo) ListByRun(ctx context.Context, runID uuid.UUID) ([]TaskAttempt, error) {
	query := `
		SELECT task_id, run_id, node_id, stage, attempt, status, result_path,
		       published_at, completed_at
		FROM task_attempts
		WHERE run_id = $1
		ORDER BY published_at ASC
	`
	rows, err := r.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	defer rows.Close()

	var attempts []TaskAttempt
	for rows.Next() {
		attempt, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, *attempt)
	}
	return attempts, rows.Err()
}

func scanAttempt(row pgx.Row) (*TaskAttempt, error) {
	var a TaskAttempt
	var status, resultPath *string
	err := row.Scan(
		&a.TaskID,
		&a.RunID,
		&a.NodeID,
		&a.Stage,
		&a.Attempt,
		&status,
		&resultPath,
		&a.PublishedAt,
		&a.CompletedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan attempt: %w", err)
	}
	if status != nil {
		a.Status = *status
	}
	if resultPath != nil {
		a.ResultPath = *resultPath
	}
	return &a, nil
}
