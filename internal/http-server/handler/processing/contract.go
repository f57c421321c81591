package processing

import (
	"context"

	"image-pipeline/internal/domain"
	task_uc "image-pipeline/internal/usecase/task"
)

type taskUsecase interface {
	Submit(ctx context.Context, userID, imageID string, opts domain.ProcessingOptions) (*domain.ProcessingTask, error)
	SubmitBatch(ctx context.Context, userID string, items []task_uc.BatchItem) []task_uc.BatchResult
	Reprocess(ctx context.Context, id, userID string, opts *domain.ProcessingOptions) (*domain.ProcessingTask, error)
	GetTask(ctx context.Context, id, userID string) (*domain.ProcessingTask, error)
	Await(ctx context.Context, id, userID string) (*domain.ProcessingTask, error)
	History(ctx context.Context, userID string, filter domain.TaskFilter, page, limit int) ([]domain.ProcessingTask, int, error)
	GetResult(ctx context.Context, id, userID string) (*task_uc.Result, error)
	Cancel(ctx context.Context, id, userID string) (*domain.ProcessingTask, error)
	Delete(ctx context.Context, id, userID string) error
}

type queueUsecase interface {
	Status(ctx context.Context, userID, role string, global bool) (domain.QueueStatus, error)
}

type statsUsecase interface {
	Stats(ctx context.Context, userID string) (*domain.Stats, error)
}
