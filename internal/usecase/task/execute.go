package task

import (
	"context"
	"errors"
	"fmt"
	"time"

	"image-pipeline/internal/broker"
	"image-pipeline/internal/domain"

	"github.com/google/uuid"
)

// HandleMessage decodes a queue message and executes the task it names.
func (m *Manager) HandleMessage(ctx context.Context, msg broker.Message) error {
	dm, err := broker.DecodeDispatch(msg)
	if err != nil {
		return err
	}
	return m.Execute(ctx, dm)
}

// Execute runs a dispatched task. Task level failures are recorded on the
// task and Execute returns nil; only unexpected store errors are returned.
//
// Cancelling ctx does not interrupt a task: once received it runs until it
// finishes or hits the dispatch timeout, so a shutting down consumer drains
// in-flight work. Only Cancel and FailStuck stop it early.
func (m *Manager) Execute(ctx context.Context, msg domain.DispatchMessage) error {
	ctx = context.WithoutCancel(ctx)

	task, err := m.tasks.GetByID(ctx, msg.TaskID, msg.UserID)
	if errors.Is(err, domain.ErrTaskNotFound) {
		m.logger.Info().Str("task_id", msg.TaskID).Msg("Task deleted before dispatch, dropping")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load task: %w", err)
	}

	if err := m.tasks.UpdateStatus(ctx, task.ID, domain.StateProcessing, ""); err != nil {
		if domain.IsConflict(err) || errors.Is(err, domain.ErrTaskNotFound) {
			m.logger.Info().Str("task_id", task.ID).Str("state", string(task.State)).Msg("Task no longer pending, dropping")
			return nil
		}
		return fmt.Errorf("failed to start task: %w", err)
	}
	m.invalidateStats(ctx, task.UserID)

	taskCtx, cancel := context.WithCancelCause(ctx)
	m.register(task.ID, cancel)
	defer func() {
		m.unregister(task.ID)
		cancel(nil)
	}()

	m.logger.Info().
		Str("task_id", task.ID).
		Str("image_id", task.ImageID).
		Msg("Processing task started")

	m.run(taskCtx, task)
	return nil
}

func (m *Manager) run(taskCtx context.Context, task *domain.ProcessingTask) {
	// Status writes must outlive the deadline and the cancellation.
	store := context.WithoutCancel(taskCtx)

	execCtx, cancelExec := context.WithTimeout(taskCtx, m.cfg.DispatchTimeout)
	defer cancelExec()

	img, err := m.images.GetByID(execCtx, task.ImageID, task.UserID)
	if err != nil {
		m.fail(store, task, err.Error())
		return
	}

	input, err := m.objects.Get(execCtx, img.StoragePath)
	if err != nil {
		if m.abandoned(taskCtx, task) {
			return
		}
		m.fail(store, task, err.Error())
		return
	}

	output, metrics, err := m.engine.Execute(execCtx, input, task.Options)
	if err != nil {
		if m.abandoned(taskCtx, task) {
			return
		}
		if errors.Is(err, context.DeadlineExceeded) {
			m.fail(store, task, fmt.Sprintf(domain.MessageTimedOutFmt, m.cfg.DispatchTimeout))
			return
		}
		m.fail(store, task, err.Error())
		return
	}
	if m.abandoned(taskCtx, task) {
		return
	}

	path := domain.ProcessedPath(img.ID, task.ID, metrics.Format)
	if err := m.objects.Put(execCtx, path, output, metrics.Format.ContentType()); err != nil {
		if m.abandoned(taskCtx, task) {
			return
		}
		m.fail(store, task, err.Error())
		return
	}

	originalSize := int64(len(input))
	resultSize := int64(len(output))
	result := &domain.ProcessingResult{
		ID:                uuid.New().String(),
		TaskID:            task.ID,
		ImageID:           img.ID,
		UserID:            task.UserID,
		OutputPath:        path,
		OriginalSize:      originalSize,
		Size:              resultSize,
		Width:             metrics.Width,
		Height:            metrics.Height,
		Format:            metrics.Format,
		ProcessingTimeMs:  metrics.Duration.Milliseconds(),
		FileSizeReduction: domain.FileSizeReduction(originalSize, resultSize),
		Metadata:          metrics.Metadata,
		CreatedAt:         m.now(),
	}

	if err := m.tasks.Complete(store, result); err != nil {
		m.discard(store, path)
		if domain.IsConflict(err) {
			m.logger.Info().Str("task_id", task.ID).Msg("Task left processing during execution, result discarded")
			return
		}
		m.logger.Error().Err(err).Str("task_id", task.ID).Msg("Failed to save result")
		m.fail(store, task, "failed to save result: "+err.Error())
		return
	}

	m.invalidateStats(store, task.UserID)

	m.logger.Info().
		Str("task_id", task.ID).
		Str("format", string(result.Format)).
		Int64("processing_time_ms", result.ProcessingTimeMs).
		Float64("file_size_reduction", result.FileSizeReduction).
		Msg("Task completed")
}

// abandoned reports whether the task was cancelled by the user or by the
// stuck monitor. Those paths already recorded the terminal state.
func (m *Manager) abandoned(taskCtx context.Context, task *domain.ProcessingTask) bool {
	cause := context.Cause(taskCtx)
	if errors.Is(cause, errCancelledByUser) || errors.Is(cause, errStuck) {
		m.logger.Info().Str("task_id", task.ID).Err(cause).Msg("Execution abandoned")
		return true
	}
	return false
}

func (m *Manager) discard(ctx context.Context, path string) {
	if err := m.objects.Delete(ctx, path); err != nil {
		m.logger.Warn().Err(err).Str("path", path).Msg("Failed to remove discarded output")
	}
}

// FailStuck fails tasks that have been processing longer than the
// configured threshold and returns how many it failed.
func (m *Manager) FailStuck(ctx context.Context) (int, error) {
	stuck, err := m.tasks.ListByState(ctx, domain.StateProcessing, m.now().Add(-m.cfg.StuckAfter))
	if err != nil {
		return 0, fmt.Errorf("failed to list processing tasks: %w", err)
	}

	failed := 0
	for i := range stuck {
		task := &stuck[i]
		if err := m.tasks.UpdateStatus(ctx, task.ID, domain.StateFailed, domain.MessageStuckTimeout); err != nil {
			if !domain.IsConflict(err) {
				m.logger.Error().Err(err).Str("task_id", task.ID).Msg("Failed to fail stuck task")
			}
			continue
		}
		m.interrupt(task.ID, errStuck)
		m.invalidateStats(ctx, task.UserID)
		failed++
	}

	return failed, nil
}

// RecoverPending republishes tasks left pending by a previous process. The
// in-memory queue does not survive restarts.
func (m *Manager) RecoverPending(ctx context.Context) (int, error) {
	pending, err := m.tasks.ListByState(ctx, domain.StatePending, m.now().Add(time.Nanosecond))
	if err != nil {
		return 0, fmt.Errorf("failed to list pending tasks: %w", err)
	}

	requeued := 0
	for i := range pending {
		if err := m.publish(ctx, &pending[i]); err != nil {
			continue
		}
		requeued++
	}

	if len(pending) > 0 {
		m.logger.Info().Int("pending", len(pending)).Int("requeued", requeued).Msg("Recovered pending tasks")
	}
	return requeued, nil
}
