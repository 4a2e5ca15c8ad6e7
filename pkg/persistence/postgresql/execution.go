package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dukex/followup/pkg/models"
	"github.com/dukex/followup/pkg/persistence"
)

// ExecutionRepository stores each execution as a JSONB document plus the columns its queries filter on.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewExecutionRepository(db *sql.DB, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{db: db, logger: logger}
}

// Create relies on the partial unique index over in-flight statuses for atomic duplicate suppression.
func (r *ExecutionRepository) Create(ctx context.Context, execution *models.Execution) error {
	execution.Version = 1

	document, err := json.Marshal(execution)
	if err != nil {
		return fmt.Errorf("failed to marshal execution %s: %w", execution.ID, err)
	}

	query := `
		INSERT INTO executions (
			id, workflow_id, entity_type, entity_id, status, next_scheduled_at,
			completed_at, version, document, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err = r.db.ExecContext(ctx, query,
		execution.ID,
		execution.WorkflowID,
		string(execution.EntityType),
		execution.EntityID,
		string(execution.Status),
		execution.NextScheduledAt,
		execution.CompletedAt,
		execution.Version,
		document,
		execution.CreatedAt,
		execution.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, inflightIndex) {
			return persistence.NewExecutionError("Create", execution.ID, persistence.ErrDuplicateExecution)
		}

		return fmt.Errorf("failed to insert execution %s: %w", execution.ID, err)
	}

	return nil
}

// Save is a compare-and-set on the version column.
func (r *ExecutionRepository) Save(ctx context.Context, execution *models.Execution) error {
	expected := execution.Version
	execution.Version = expected + 1

	document, err := json.Marshal(execution)
	if err != nil {
		execution.Version = expected

		return fmt.Errorf("failed to marshal execution %s: %w", execution.ID, err)
	}

	query := `
		UPDATE executions SET
			status = $3
		  , next_scheduled_at = $4
		  , completed_at = $5
		  , version = $6
		  , document = $7
		  , updated_at = $8
		WHERE id = $1 AND version = $2
	`

	result, err := r.db.ExecContext(ctx, query,
		execution.ID,
		expected,
		string(execution.Status),
		execution.NextScheduledAt,
		execution.CompletedAt,
		execution.Version,
		document,
		execution.UpdatedAt,
	)
	if err != nil {
		execution.Version = expected

		if isUniqueViolation(err, inflightIndex) {
			return persistence.NewExecutionError("Save", execution.ID, persistence.ErrDuplicateExecution)
		}

		return fmt.Errorf("failed to update execution %s: %w", execution.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		execution.Version = expected

		return fmt.Errorf("failed to read affected rows for execution %s: %w", execution.ID, err)
	}

	if affected == 1 {
		return nil
	}

	execution.Version = expected

	var exists bool

	err = r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM executions WHERE id = $1)`, execution.ID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check execution %s: %w", execution.ID, err)
	}

	if !exists {
		return persistence.NewExecutionError("Save", execution.ID, persistence.ErrExecutionNotFound)
	}

	return persistence.NewExecutionError("Save", execution.ID, persistence.ErrConcurrentUpdate)
}

func (r *ExecutionRepository) GetByID(ctx context.Context, id string) (*models.Execution, error) {
	row := r.db.QueryRowContext(ctx, `SELECT document, version FROM executions WHERE id = $1`, id)

	execution, err := scanExecution(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewExecutionError("GetByID", id, persistence.ErrExecutionNotFound)
		}

		return nil, fmt.Errorf("failed to load execution %s: %w", id, err)
	}

	return execution, nil
}

func (r *ExecutionRepository) FindInflight(ctx context.Context, workflowID, entityID string) (*models.Execution, error) {
	query := `
		SELECT document, version FROM executions
		WHERE workflow_id = $1 AND entity_id = $2 AND status IN ('pending', 'running', 'retrying')
		LIMIT 1
	`

	return r.optional(ctx, query, workflowID, entityID)
}

func (r *ExecutionRepository) LatestTerminal(ctx context.Context, workflowID, entityID string) (*models.Execution, error) {
	query := `
		SELECT document, version FROM executions
		WHERE workflow_id = $1 AND entity_id = $2
		  AND status IN ('completed', 'failed', 'cancelled')
		  AND completed_at IS NOT NULL
		ORDER BY completed_at DESC
		LIMIT 1
	`

	return r.optional(ctx, query, workflowID, entityID)
}

func (r *ExecutionRepository) optional(ctx context.Context, query string, args ...any) (*models.Execution, error) {
	execution, err := scanExecution(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to query execution: %w", err)
	}

	return execution, nil
}

func (r *ExecutionRepository) Count(ctx context.Context, workflowID, entityID string) (int, error) {
	var count int

	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM executions WHERE workflow_id = $1 AND entity_id = $2`,
		workflowID, entityID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count executions: %w", err)
	}

	return count, nil
}

func (r *ExecutionRepository) Due(ctx context.Context, now time.Time, limit int) ([]*models.Execution, error) {
	query := `
		SELECT document, version FROM executions
		WHERE status IN ('pending', 'retrying') AND next_scheduled_at <= $1
		ORDER BY next_scheduled_at ASC
		LIMIT $2
	`

	return r.many(ctx, query, now, nullableLimit(limit))
}

func (r *ExecutionRepository) Stalled(ctx context.Context, updatedBefore time.Time, limit int) ([]*models.Execution, error) {
	query := `
		SELECT document, version FROM executions
		WHERE status = 'running' AND updated_at < $1
		ORDER BY updated_at ASC
		LIMIT $2
	`

	return r.many(ctx, query, updatedBefore, nullableLimit(limit))
}

func (r *ExecutionRepository) List(ctx context.Context, opts persistence.ListExecutionsOptions) ([]*models.Execution, error) {
	var (
		conditions []string
		args       []any
	)

	add := func(column, value string) {
		if value == "" {
			return
		}

		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	add("workflow_id", opts.WorkflowID)
	add("entity_id", opts.EntityID)
	add("status", string(opts.Status))

	query := `SELECT document, version FROM executions`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	args = append(args, nullableLimit(opts.Limit))
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))

	return r.many(ctx, query, args...)
}

func (r *ExecutionRepository) many(ctx context.Context, query string, args ...any) ([]*models.Execution, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	executions := make([]*models.Execution, 0)

	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		executions = append(executions, execution)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	return executions, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanExecution(row scanner) (*models.Execution, error) {
	var (
		document []byte
		version  int64
	)

	err := row.Scan(&document, &version)
	if err != nil {
		return nil, err
	}

	var execution models.Execution

	err = json.Unmarshal(document, &execution)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution: %w", err)
	}

	execution.Version = version

	return &execution, nil
}

// nullableLimit maps a non-positive limit to NULL, which PostgreSQL treats as no limit.
func nullableLimit(limit int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(limit), Valid: limit > 0}
}
