package task

import (
	"context"
	"fmt"
	"time"

	"image-pipeline/internal/domain"
)

func (m *Manager) GetTask(ctx context.Context, id, userID string) (*domain.ProcessingTask, error) {
	return m.tasks.GetByID(ctx, id, userID)
}

// History returns one page of the caller's tasks, newest first, and the
// total number of matches.
func (m *Manager) History(ctx context.Context, userID string, filter domain.TaskFilter, page, limit int) ([]domain.ProcessingTask, int, error) {
	page, limit = domain.NormalizePage(page, limit)
	if filter.DateFrom != nil && filter.DateTo != nil && filter.DateFrom.After(*filter.DateTo) {
		return nil, 0, domain.NewValidationError("dateFrom", "must not be after dateTo")
	}

	tasks, total, err := m.tasks.ListByFilter(ctx, userID, filter, page, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list tasks: %w", err)
	}
	return tasks, total, nil
}

// Result is a completed task's output with a temporary download link.
type Result struct {
	*domain.ProcessingResult
	URL string
}

func (m *Manager) GetResult(ctx context.Context, id, userID string) (*Result, error) {
	task, err := m.tasks.GetByID(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if task.State != domain.StateCompleted {
		return nil, domain.ErrResultNotFound
	}

	res, err := m.tasks.GetResult(ctx, id, userID)
	if err != nil {
		return nil, err
	}

	url, err := m.objects.PresignedURL(ctx, res.OutputPath, m.cfg.PresignExpiry)
	if err != nil {
		m.logger.Warn().Err(err).Str("task_id", id).Msg("Failed to presign result URL")
	}

	return &Result{ProcessingResult: res, URL: url}, nil
}

// Cancel moves a pending or processing task to cancelled and interrupts a
// running execution in this process.
func (m *Manager) Cancel(ctx context.Context, id, userID string) (*domain.ProcessingTask, error) {
	task, err := m.tasks.GetByID(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if task.State.Terminal() {
		return nil, cancelConflict(task)
	}

	if err := m.tasks.UpdateStatus(ctx, id, domain.StateCancelled, domain.MessageCancelled); err != nil {
		if !domain.IsConflict(err) {
			return nil, fmt.Errorf("failed to cancel task: %w", err)
		}
		current, getErr := m.tasks.GetByID(ctx, id, userID)
		if getErr != nil {
			return nil, getErr
		}
		return nil, cancelConflict(current)
	}

	m.interrupt(id, errCancelledByUser)
	m.invalidateStats(ctx, userID)

	m.logger.Info().Str("task_id", id).Str("from", string(task.State)).Msg("Task cancelled")
	return m.tasks.GetByID(ctx, id, userID)
}

func cancelConflict(task *domain.ProcessingTask) error {
	reason := fmt.Sprintf("task already %s", task.State)
	return &domain.ConflictError{TaskID: task.ID, From: task.State, To: domain.StateCancelled, Reason: reason}
}

// Delete removes a task that is not processing, along with its result and
// output object. Object removal is best effort.
func (m *Manager) Delete(ctx context.Context, id, userID string) error {
	task, err := m.tasks.GetByID(ctx, id, userID)
	if err != nil {
		return err
	}
	if task.State == domain.StateProcessing {
		return &domain.ConflictError{TaskID: id, From: task.State, Reason: "cannot delete a task that is currently processing"}
	}

	var outputPath string
	if task.State == domain.StateCompleted {
		if res, err := m.tasks.GetResult(ctx, id, userID); err == nil {
			outputPath = res.OutputPath
		}
	}

	if err := m.tasks.Delete(ctx, id, userID); err != nil {
		return err
	}

	if outputPath != "" {
		m.discard(ctx, outputPath)
	}
	m.invalidateStats(ctx, userID)

	m.logger.Info().Str("task_id", id).Msg("Task deleted")
	return nil
}

// Await polls until the task is terminal or ctx ends. On ctx end it returns
// the last state seen together with the context error.
func (m *Manager) Await(ctx context.Context, id, userID string) (*domain.ProcessingTask, error) {
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		task, err := m.tasks.GetByID(ctx, id, userID)
		if err != nil {
			return nil, err
		}
		if task.State.Terminal() {
			return task, nil
		}

		select {
		case <-ctx.Done():
			return task, ctx.Err()
		case <-ticker.C:
		}
	}
}
