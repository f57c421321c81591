package queue

import (
	"context"
	"time"

	"image-pipeline/internal/domain"
)

type statusCounter interface {
	CountByStatus(ctx context.Context, userID string, failedSince time.Time) (domain.StatusCounts, error)
}
