package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/marketagent/internal/domain"
)

const defaultListLimit = 50

// OutcomeRepo — журнал итогов обработки tasks.
type OutcomeRepo struct {
	pool    *pgxpool.Pool
	agentID string
}

// NewOutcomeRepo создаёт новый OutcomeRepo для экземпляра агента.
func NewOutcomeRepo(pool *pgxpool.Pool, agentID string) *OutcomeRepo {
	return &OutcomeRepo{pool: pool, agentID: agentID}
}

// Create сохраняет итог.
func (r *OutcomeRepo) Create(ctx context.Context, outcome domain.Outcome) error {
	statusCode := 0
	if outcome.Result != nil {
		statusCode = outcome.Result.StatusCode
	}

	query := `
		INSERT INTO task_outcomes (agent_id, task_id, status, kind, error, status_code, attempts, duration_ms, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.pool.Exec(ctx, query,
		r.agentID,
		outcome.TaskID,
		outcome.Status,
		outcome.Kind,
		outcome.Error,
		statusCode,
		outcome.Attempts,
		outcome.Duration.Milliseconds(),
		outcome.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert outcome: %w", err)
	}
	return nil
}

// PublishOutcome сохраняет итог (агент вызывает его наравне с публикацией в RabbitMQ).
func (r *OutcomeRepo) PublishOutcome(ctx context.Context, outcome domain.Outcome) error {
	return r.Create(ctx, outcome)
}

// ListRecent возвращает последние итоги этого агента, новые первыми.
func (r *OutcomeRepo) ListRecent(ctx context.Context, limit int) ([]domain.Outcome, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	query := `
		SELECT task_id, status, kind, error, status_code, attempts, duration_ms, finished_at
		FROM task_outcomes
		WHERE agent_id = $1
		ORDER BY finished_at DESC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, r.agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("list outcomes: %w", err)
	}
	defer rows.Close()

	var outcomes []domain.Outcome
	for rows.Next() {
		outcome, err := scanOutcome(rows)
		if err != nil {
			return nil, err
		}
		outcomes = append(outcomes, *outcome)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outcomes: %w", err)
	}
	return outcomes, nil
}

// GetLatest возвращает последний итог для task.
func (r *OutcomeRepo) GetLatest(ctx context.Context, taskID string) (*domain.Outcome, error) {
	query := `
		SELECT task_id, status, kind, error, status_code, attempts, duration_ms, finished_at
		FROM task_outcomes
		WHERE agent_id = $1 AND task_id = $2
		ORDER BY finished_at DESC
		LIMIT 1
	`
	rows, err := r.pool.Query(ctx, query, r.agentID, taskID)
	if err != nil {
		return nil, fmt.Errorf("get outcome: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("get outcome: %w", err)
		}
		return nil, ErrNotFound
	}
	return scanOutcome(rows)
}

func scanOutcome(rows pgx.Rows) (*domain.Outcome, error) {
	var (
		outcome    domain.Outcome
		statusCode int
		durationMs int64
	)
	err := rows.Scan(
		&outcome.TaskID,
		&outcome.Status,
		&outcome.Kind,
		&outcome.Error,
		&statusCode,
		&outcome.Attempts,
		&durationMs,
		&outcome.FinishedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan outcome: %w", err)
	}

	outcome.Duration = time.Duration(durationMs) * time.Millisecond
	if statusCode > 0 {
		outcome.Result = &domain.ExecutionResult{StatusCode: statusCode}
	}
	return &outcome, nil
}
