package task

import (
	"context"
	"time"

	"image-pipeline/internal/domain"
	"image-pipeline/internal/usecase/processor"
)

type taskStore interface {
	Create(ctx context.Context, task *domain.ProcessingTask) error
	GetByID(ctx context.Context, id, userID string) (*domain.ProcessingTask, error)
	ListByFilter(ctx context.Context, userID string, filter domain.TaskFilter, page, limit int) ([]domain.ProcessingTask, int, error)
	UpdateStatus(ctx context.Context, id string, status domain.TaskState, errMsg string) error
	Complete(ctx context.Context, result *domain.ProcessingResult) error
	Delete(ctx context.Context, id, userID string) error
	GetResult(ctx context.Context, taskID, userID string) (*domain.ProcessingResult, error)
	ListByState(ctx context.Context, state domain.TaskState, updatedBefore time.Time) ([]domain.ProcessingTask, error)
}

type imageStore interface {
	GetByID(ctx context.Context, id, userID string) (*domain.Image, error)
}

type objectStore interface {
	Get(ctx context.Context, path string) ([]byte, error)
	Put(ctx context.Context, path string, data []byte, contentType string) error
	Delete(ctx context.Context, path string) error
	PresignedURL(ctx context.Context, path string, expiry time.Duration) (string, error)
}

type dispatcher interface {
	Publish(ctx context.Context, msg domain.DispatchMessage) error
}

type transformEngine interface {
	Execute(ctx context.Context, input []byte, opts domain.ProcessingOptions) ([]byte, processor.Metrics, error)
}

type statsInvalidator interface {
	Invalidate(ctx context.Context, userID string) error
}
