package task

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"image-pipeline/internal/domain"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/wb-go/wbf/zlog"
)

type Config struct {
	DispatchTimeout time.Duration
	StuckAfter      time.Duration
	PresignExpiry   time.Duration
	PollInterval    time.Duration
}

// Manager owns every task state transition.
type Manager struct {
	tasks      taskStore
	images     imageStore
	objects    objectStore
	dispatcher dispatcher
	engine     transformEngine
	stats      statsInvalidator
	validate   *validator.Validate
	logger     *zlog.Zerolog
	cfg        Config
	now        func() time.Time

	mu      sync.Mutex
	running map[string]context.CancelCauseFunc
}

func NewManager(
	tasks taskStore,
	images imageStore,
	objects objectStore,
	dispatcher dispatcher,
	engine transformEngine,
	stats statsInvalidator,
	cfg Config,
	logger *zlog.Zerolog,
) *Manager {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 200 * time.Millisecond
	}
	return &Manager{
		tasks:      tasks,
		images:     images,
		objects:    objects,
		dispatcher: dispatcher,
		engine:     engine,
		stats:      stats,
		validate:   validator.New(),
		logger:     logger,
		cfg:        cfg,
		now:        func() time.Time { return time.Now().UTC() },
		running:    make(map[string]context.CancelCauseFunc),
	}
}

type BatchItem struct {
	ImageID    string
	Operations []domain.Operation
}

type BatchResult struct {
	Index  int
	TaskID string
	Err    error
}

// Submit validates opts, checks the image belongs to userID, stores a
// pending task and publishes it. It does not wait for processing.
func (m *Manager) Submit(ctx context.Context, userID, imageID string, opts domain.ProcessingOptions) (*domain.ProcessingTask, error) {
	return m.submit(ctx, userID, imageID, opts, "")
}

// SubmitBatch submits every item on its own; one failing item does not
// affect the others. Results keep the request order.
func (m *Manager) SubmitBatch(ctx context.Context, userID string, items []BatchItem) []BatchResult {
	results := make([]BatchResult, len(items))
	for i, item := range items {
		results[i].Index = i

		opts, err := domain.OptionsFromOperations(item.Operations)
		if err != nil {
			results[i].Err = err
			continue
		}

		task, err := m.Submit(ctx, userID, item.ImageID, opts)
		if err != nil {
			results[i].Err = err
			continue
		}
		results[i].TaskID = task.ID
	}

	m.logger.Info().Str("user_id", userID).Int("items", len(items)).Msg("Batch submitted")
	return results
}

// Reprocess starts a new task for the same image. The original task is not
// modified. A nil opts reuses the original options.
func (m *Manager) Reprocess(ctx context.Context, id, userID string, opts *domain.ProcessingOptions) (*domain.ProcessingTask, error) {
	original, err := m.tasks.GetByID(ctx, id, userID)
	if err != nil {
		return nil, err
	}

	// Not atomic with the submit below: the original may start processing
	// in between. Reprocess never writes to the original.
	if original.State == domain.StateProcessing {
		return nil, &domain.ConflictError{
			TaskID: id,
			From:   original.State,
			Reason: "cannot reprocess a task that is currently processing",
		}
	}

	options := original.Options
	if opts != nil {
		options = *opts
	}

	return m.submit(ctx, userID, original.ImageID, options, original.ID)
}

func (m *Manager) submit(ctx context.Context, userID, imageID string, opts domain.ProcessingOptions, reprocessedFrom string) (*domain.ProcessingTask, error) {
	if imageID == "" {
		return nil, domain.NewValidationError("imageId", "is required")
	}
	if err := m.validateOptions(opts); err != nil {
		return nil, err
	}

	if _, err := m.images.GetByID(ctx, imageID, userID); err != nil {
		return nil, err
	}

	now := m.now()
	task := &domain.ProcessingTask{
		ID:              uuid.New().String(),
		UserID:          userID,
		ImageID:         imageID,
		Options:         opts,
		State:           domain.StatePending,
		ReprocessedFrom: reprocessedFrom,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := m.tasks.Create(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	if err := m.publish(ctx, task); err != nil {
		return nil, err
	}
	m.invalidateStats(ctx, userID)

	m.logger.Info().
		Str("task_id", task.ID).
		Str("image_id", imageID).
		Str("user_id", userID).
		Int("stages", len(opts.Stages())).
		Msg("Task submitted")

	return task, nil
}

// publish hands the task to the queue. When that fails the task is marked
// failed so it does not sit in pending forever.
func (m *Manager) publish(ctx context.Context, task *domain.ProcessingTask) error {
	err := m.dispatcher.Publish(ctx, domain.DispatchMessage{TaskID: task.ID, UserID: task.UserID})
	if err == nil {
		return nil
	}

	msg := "failed to dispatch task: " + err.Error()
	if errors.Is(err, domain.ErrQueueFull) {
		msg = domain.MessageQueueFull
	}

	m.logger.Error().Err(err).Str("task_id", task.ID).Msg("Failed to dispatch task")
	m.fail(context.WithoutCancel(ctx), task, msg)

	return fmt.Errorf("failed to dispatch task %s: %w", task.ID, err)
}

func (m *Manager) validateOptions(opts domain.ProcessingOptions) error {
	if opts.Empty() {
		return domain.NewValidationError("operations", "at least one enabled operation is required")
	}
	if err := m.validate.Struct(opts); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			reason := "failed on " + fe.Tag()
			if fe.Param() != "" {
				reason += "=" + fe.Param()
			}
			return domain.NewValidationError(fieldPath(fe.Namespace()), reason)
		}
		return domain.NewValidationError("options", err.Error())
	}
	return opts.Check()
}

// fieldPath turns "ProcessingOptions.Crop.Width" into "crop.width".
func fieldPath(ns string) string {
	parts := strings.Split(ns, ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	for i, p := range parts {
		if p != "" {
			parts[i] = strings.ToLower(p[:1]) + p[1:]
		}
	}
	return strings.Join(parts, ".")
}

// fail moves task to failed, ignoring a conflict with a concurrent terminal
// transition.
func (m *Manager) fail(ctx context.Context, task *domain.ProcessingTask, msg string) {
	err := m.tasks.UpdateStatus(ctx, task.ID, domain.StateFailed, msg)
	if err != nil {
		if domain.IsConflict(err) {
			m.logger.Debug().Str("task_id", task.ID).Msg("Task already terminal, failure not recorded")
			return
		}
		m.logger.Error().Err(err).Str("task_id", task.ID).Msg("Failed to mark task failed")
		return
	}

	m.logger.Warn().Str("task_id", task.ID).Str("reason", msg).Msg("Task failed")
	m.invalidateStats(ctx, task.UserID)
}

func (m *Manager) invalidateStats(ctx context.Context, userID string) {
	if m.stats == nil {
		return
	}
	if err := m.stats.Invalidate(ctx, userID); err != nil {
		m.logger.Warn().Err(err).Str("user_id", userID).Msg("Failed to invalidate stats cache")
	}
}

func (m *Manager) register(id string, cancel context.CancelCauseFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running[id] = cancel
}

func (m *Manager) unregister(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.running, id)
}

// interrupt cancels an in-flight execution of id in this process, if any.
func (m *Manager) interrupt(id string, cause error) {
	m.mu.Lock()
	cancel, ok := m.running[id]
	m.mu.Unlock()
	if ok {
		cancel(cause)
	}
}
