package app

import (
	"context"
	"time"

	"image-pipeline/internal/domain"
)

// taskRepository is satisfied by both the postgres and the memory task stores.
type taskRepository interface {
	Create(ctx context.Context, task *domain.ProcessingTask) error
	GetByID(ctx context.Context, id, userID string) (*domain.ProcessingTask, error)
	ListByFilter(ctx context.Context, userID string, filter domain.TaskFilter, page, limit int) ([]domain.ProcessingTask, int, error)
	UpdateStatus(ctx context.Context, id string, status domain.TaskState, errMsg string) error
	Complete(ctx context.Context, result *domain.ProcessingResult) error
	Delete(ctx context.Context, id, userID string) error
	GetResult(ctx context.Context, taskID, userID string) (*domain.ProcessingResult, error)
	ListByState(ctx context.Context, state domain.TaskState, updatedBefore time.Time) ([]domain.ProcessingTask, error)
	CountByStatus(ctx context.Context, userID string, failedSince time.Time) (domain.StatusCounts, error)
	ListStatsRecords(ctx context.Context, userID string) ([]domain.StatsRecord, error)
}

type imageRepository interface {
	GetByID(ctx context.Context, id, userID string) (*domain.Image, error)
}

type objectRepository interface {
	Get(ctx context.Context, path string) ([]byte, error)
	Put(ctx context.Context, path string, data []byte, contentType string) error
	Delete(ctx context.Context, path string) error
	PresignedURL(ctx context.Context, path string, expiry time.Duration) (string, error)
}
