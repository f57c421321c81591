package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"image-pipeline/internal/domain"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/wb-go/wbf/dbpg"
	"github.com/wb-go/wbf/retry"
)

const taskColumns = `id, user_id, image_id, options, state, error_message,
		       reprocessed_from, created_at, updated_at, started_at, completed_at`

type TasksRepository struct {
	db      *dbpg.DB
	retries retry.Strategy
}

func NewTasksRepository(db *dbpg.DB, retries retry.Strategy) *TasksRepository {
	return &TasksRepository{
		db:      db,
		retries: retries,
	}
}

func (r *TasksRepository) Create(ctx context.Context, task *domain.ProcessingTask) error {
	query := `
		INSERT INTO processing_tasks (
			id, user_id, image_id, options, state, error_message,
			reprocessed_from, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	opts, err := json.Marshal(task.Options)
	if err != nil {
		return fmt.Errorf("failed to marshal options: %w", err)
	}

	_, err = r.db.ExecWithRetry(ctx, r.retries, query,
		task.ID,
		task.UserID,
		task.ImageID,
		opts,
		task.State,
		task.ErrorMessage,
		nullString(task.ReprocessedFrom),
		task.CreatedAt,
		task.UpdatedAt,
	)
	if err != nil {
		return &domain.StorageError{Op: "create task", Path: task.ID, Err: err}
	}

	return nil
}

func (r *TasksRepository) GetByID(ctx context.Context, id, userID string) (*domain.ProcessingTask, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, domain.ErrTaskNotFound
	}

	query := `SELECT ` + taskColumns + ` FROM processing_tasks WHERE id = $1 AND user_id = $2`

	row, err := r.db.QueryRowWithRetry(ctx, r.retries, query, id, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query task: %w", err)
	}

	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan task: %w", err)
	}

	return task, nil
}

func (r *TasksRepository) ListByFilter(ctx context.Context, userID string, filter domain.TaskFilter, page, limit int) ([]domain.ProcessingTask, int, error) {
	query, countQuery, args := buildListQuery(userID, filter, page, limit)

	row, err := r.db.QueryRowWithRetry(ctx, r.retries, countQuery, args[:len(args)-2]...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count tasks: %w", err)
	}
	var total int
	if err := row.Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to scan count: %w", err)
	}

	rows, err := r.db.QueryWithRetry(ctx, r.retries, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	tasks := make([]domain.ProcessingTask, 0, limit)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, *task)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating tasks: %w", err)
	}

	return tasks, total, nil
}

// buildListQuery returns the page query, the matching count query and the
// arguments. The count query uses every argument except the trailing
// LIMIT and OFFSET.
func buildListQuery(userID string, filter domain.TaskFilter, page, limit int) (string, string, []any) {
	where := []string{"user_id = $1"}
	args := []any{userID}

	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, fmt.Sprintf("state = $%d", len(args)))
	}
	if filter.DateFrom != nil {
		args = append(args, *filter.DateFrom)
		where = append(where, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if filter.DateTo != nil {
		args = append(args, *filter.DateTo)
		where = append(where, fmt.Sprintf("created_at <= $%d", len(args)))
	}

	cond := strings.Join(where, " AND ")
	countQuery := "SELECT COUNT(*) FROM processing_tasks WHERE " + cond

	args = append(args, limit, (page-1)*limit)
	query := fmt.Sprintf("SELECT %s FROM processing_tasks WHERE %s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d",
		taskColumns, cond, len(args)-1, len(args))

	return query, countQuery, args
}

func (r *TasksRepository) UpdateStatus(ctx context.Context, id string, status domain.TaskState, errMsg string) error {
	query := `
		UPDATE processing_tasks
		SET state = $1,
		    error_message = CASE WHEN $2 = '' THEN error_message ELSE $2 END,
		    updated_at = $3,
		    started_at = CASE WHEN $1 = 'processing' THEN $3 ELSE started_at END,
		    completed_at = CASE WHEN $1 IN ('completed', 'failed', 'cancelled') THEN $3 ELSE completed_at END
		WHERE id = $4 AND state = ANY($5)
	`

	result, err := r.db.ExecWithRetry(ctx, r.retries, query,
		status, errMsg, time.Now().UTC(), id, pq.Array(stateStrings(domain.AllowedSources(status))))
	if err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}

	if affected == 0 {
		return r.conflictOrMissing(ctx, id, status)
	}

	return nil
}

// Complete stores the result, moves the task from processing to completed
// and bumps the owner's usage counter in one transaction.
func (r *TasksRepository) Complete(ctx context.Context, res *domain.ProcessingResult) error {
	metadata, err := domain.MarshalMetadata(res.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if res.CreatedAt.IsZero() {
		res.CreatedAt = time.Now().UTC()
	}

	tx, err := r.db.Master.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	updated, err := tx.ExecContext(ctx, `
		UPDATE processing_tasks
		SET state = 'completed', updated_at = $1, completed_at = $1
		WHERE id = $2 AND state = 'processing'
	`, res.CreatedAt, res.TaskID)
	if err != nil {
		return fmt.Errorf("failed to complete task: %w", err)
	}
	affected, err := updated.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		tx.Rollback()
		return r.conflictOrMissing(ctx, res.TaskID, domain.StateCompleted)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO processing_results (
			id, task_id, image_id, user_id, output_path, original_size, size,
			width, height, format, processing_time_ms, file_size_reduction,
			metadata, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`,
		res.ID,
		res.TaskID,
		res.ImageID,
		res.UserID,
		res.OutputPath,
		res.OriginalSize,
		res.Size,
		res.Width,
		res.Height,
		res.Format,
		res.ProcessingTimeMs,
		res.FileSizeReduction,
		metadata,
		res.CreatedAt,
	)
	if err != nil {
		return &domain.StorageError{Op: "save result", Path: res.TaskID, Err: err}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO user_usage (user_id, images_processed, updated_at)
		VALUES ($1, 1, $2)
		ON CONFLICT (user_id) DO UPDATE
		SET images_processed = user_usage.images_processed + 1, updated_at = EXCLUDED.updated_at
	`, res.UserID, res.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to update usage: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit completion: %w", err)
	}

	return nil
}

func (r *TasksRepository) Delete(ctx context.Context, id, userID string) error {
	if _, err := uuid.Parse(id); err != nil {
		return domain.ErrTaskNotFound
	}

	query := `DELETE FROM processing_tasks WHERE id = $1 AND user_id = $2 AND state <> 'processing'`

	result, err := r.db.ExecWithRetry(ctx, r.retries, query, id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}

	if affected == 0 {
		task, err := r.GetByID(ctx, id, userID)
		if err != nil {
			return err
		}
		return &domain.ConflictError{TaskID: id, From: task.State, Reason: "task is processing"}
	}

	return nil
}

func (r *TasksRepository) CountByStatus(ctx context.Context, userID string, failedSince time.Time) (domain.StatusCounts, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE state = 'pending'),
			COUNT(*) FILTER (WHERE state = 'processing'),
			COUNT(*) FILTER (WHERE state = 'completed'),
			COUNT(*) FILTER (WHERE state = 'failed' AND updated_at >= $2),
			COUNT(*) FILTER (WHERE state = 'cancelled')
		FROM processing_tasks
		WHERE ($1 = '' OR user_id = $1)
	`

	var c domain.StatusCounts
	row, err := r.db.QueryRowWithRetry(ctx, r.retries, query, userID, failedSince)
	if err != nil {
		return c, fmt.Errorf("failed to count tasks: %w", err)
	}

	if err := row.Scan(&c.Pending, &c.Processing, &c.Completed, &c.Failed, &c.Cancelled); err != nil {
		return c, fmt.Errorf("failed to scan counts: %w", err)
	}

	return c, nil
}

func (r *TasksRepository) GetResult(ctx context.Context, taskID, userID string) (*domain.ProcessingResult, error) {
	if _, err := uuid.Parse(taskID); err != nil {
		return nil, domain.ErrResultNotFound
	}

	query := `
		SELECT id, task_id, image_id, user_id, output_path, original_size, size,
		       width, height, format, processing_time_ms, file_size_reduction,
		       metadata, created_at
		FROM processing_results
		WHERE task_id = $1 AND user_id = $2
	`

	row, err := r.db.QueryRowWithRetry(ctx, r.retries, query, taskID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query result: %w", err)
	}

	var (
		res      domain.ProcessingResult
		metadata []byte
	)
	err = row.Scan(
		&res.ID,
		&res.TaskID,
		&res.ImageID,
		&res.UserID,
		&res.OutputPath,
		&res.OriginalSize,
		&res.Size,
		&res.Width,
		&res.Height,
		&res.Format,
		&res.ProcessingTimeMs,
		&res.FileSizeReduction,
		&metadata,
		&res.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrResultNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan result: %w", err)
	}

	if res.Metadata, err = domain.UnmarshalMetadata(metadata); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}

	return &res, nil
}

func (r *TasksRepository) ListStatsRecords(ctx context.Context, userID string) ([]domain.StatsRecord, error) {
	query := `
		SELECT t.state, COALESCE(r.format, ''), COALESCE(r.processing_time_ms, 0),
		       COALESCE(r.file_size_reduction, 0), t.created_at, t.completed_at
		FROM processing_tasks t
		LEFT JOIN processing_results r ON r.task_id = t.id
		WHERE t.user_id = $1
	`

	rows, err := r.db.QueryWithRetry(ctx, r.retries, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query stats records: %w", err)
	}
	defer rows.Close()

	var records []domain.StatsRecord
	for rows.Next() {
		var (
			rec       domain.StatsRecord
			completed sql.NullTime
		)
		if err := rows.Scan(&rec.State, &rec.Format, &rec.ProcessingTimeMs, &rec.FileSizeReduction, &rec.CreatedAt, &completed); err != nil {
			return nil, fmt.Errorf("failed to scan stats record: %w", err)
		}
		if completed.Valid {
			rec.CompletedAt = &completed.Time
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stats records: %w", err)
	}

	return records, nil
}

func (r *TasksRepository) ListByState(ctx context.Context, state domain.TaskState, updatedBefore time.Time) ([]domain.ProcessingTask, error) {
	query := `SELECT ` + taskColumns + ` FROM processing_tasks
		WHERE state = $1 AND updated_at < $2
		ORDER BY created_at`

	rows, err := r.db.QueryWithRetry(ctx, r.retries, query, state, updatedBefore)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks by state: %w", err)
	}
	defer rows.Close()

	var tasks []domain.ProcessingTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, *task)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}

	return tasks, nil
}

func (r *TasksRepository) conflictOrMissing(ctx context.Context, id string, target domain.TaskState) error {
	row, err := r.db.QueryRowWithRetry(ctx, r.retries, `SELECT state FROM processing_tasks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to query task state: %w", err)
	}

	var current domain.TaskState
	if err := row.Scan(&current); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrTaskNotFound
		}
		return fmt.Errorf("failed to scan task state: %w", err)
	}

	return &domain.ConflictError{TaskID: id, From: current, To: target}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(s scanner) (*domain.ProcessingTask, error) {
	var (
		task        domain.ProcessingTask
		options     []byte
		reprocessed sql.NullString
		started     sql.NullTime
		completed   sql.NullTime
	)

	err := s.Scan(
		&task.ID,
		&task.UserID,
		&task.ImageID,
		&options,
		&task.State,
		&task.ErrorMessage,
		&reprocessed,
		&task.CreatedAt,
		&task.UpdatedAt,
		&started,
		&completed,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(options, &task.Options); err != nil {
		return nil, fmt.Errorf("failed to decode options: %w", err)
	}
	task.ReprocessedFrom = reprocessed.String
	if started.Valid {
		task.StartedAt = &started.Time
	}
	if completed.Valid {
		task.CompletedAt = &completed.Time
	}

	return &task, nil
}

func stateStrings(states []domain.TaskState) []string {
	out := make([]string, len(states))
	for i, s := range states {
		out[i] = string(s)
	}
	return out
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
