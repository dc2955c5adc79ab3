package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Run — запись прогона в ledger.
type Run struct {
	ID uuid.UUID `json:"id"`

	// DesignContextHash — хэш плана, который выполнялся.
	DesignContextHash string `json:"design_context_hash"`

	// PlanDir — каталог с design_context.json и dag.json.
	PlanDir string `json:"plan_dir"`

	// Status — PENDING / RUNNING / SUCCEEDED / FAILED / STALLED.
	Status string `json:"status"`

	// Summary — итоговая сводка по узлам (JSON).
	Summary json.RawMessage `json:"summary,omitempty"`

	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	Error string `json:"error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Статусы прогона.
const (
	RunStatusPending   = "PENDING"
	RunStatusRunning   = "RUNNING"
	RunStatusSucceeded = "SUCCEEDED"
	RunStatusFailed    = "FAILED"
	RunStatusStalled   = "STALLED"
)

// RunRepo — репозиторий для работы с runs.
type RunRepo struct {
	pool *pgxpool.Pool
}

// NewRunRepo создаёт новый RunRepo.
func NewRunRepo(pool *pgxpool.Pool) *RunRepo {
	return &RunRepo{pool: pool}
}

// Create создаёт запись прогона.
func (r *RunRepo) Create(ctx context.Context, run *Run) error {
	query := `
		INSERT INTO runs (id, design_context_hash, plan_dir, status, started_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.pool.Exec(ctx, query,
		run.ID,
		run.DesignContextHash,
		run.PlanDir,
		run.Status,
		run.StartedAt,
		run.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// Finish записывает терминальный статус и сводку прогона.
func (r *RunRepo) Finish(ctx context.Context, id uuid.UUID, status string, summary json.RawMessage, errText string) error {
	query := `
		UPDATE runs
		SET status = $2, summary = $3, error = $4, finished_at = $5
		WHERE id = $1
	`
	tag, err := r.pool.Exec(ctx, query, id, status, summary, errText, time.Now())
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: run %s", ErrNotFound, id)
	}
	return nil
}

// GetByID возвращает прогон по ID.
func (r *RunRepo) GetByID(ctx context.Context, id uuid.UUID) (*Run, error) {
	query := `
		SELECT id, design_context_hash, plan_dir, status, summary,
		       started_at, finished_at, error, created_at
		FROM runs
		WHERE id = $1
	`
	return scanRun(r.pool.QueryRow(ctx, query, id))
}

// ListRecent возвращает последние прогоны.
func (r *RunRepo) ListRecent(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT id, design_context_hash, plan_dir, status, summary,
		       started_at, finished_at, error, created_at
		FROM runs
		ORDER BY created_at DESC
		LIMIT $1
	`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRunFromRows(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

func scanRun(row pgx.Row) (*Run, error) {
	var run Run
	var errText *string
	err := row.Scan(
		&run.ID,
		&run.DesignContextHash,
		&run.PlanDir,
		&run.Status,
		&run.Summary,
		&run.StartedAt,
		&run.FinishedAt,
		&errText,
		&run.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}
	if errText != nil {
		run.Error = *errText
	}
	return &run, nil
}

func scanRunFromRows(rows pgx.Rows) (*Run, error) {
	return scanRun(rows)
}
