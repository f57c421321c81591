package stats

import (
	"context"

	"image-pipeline/internal/domain"
)

type recordSource interface {
	ListStatsRecords(ctx context.Context, userID string) ([]domain.StatsRecord, error)
}

type statsCache interface {
	Get(ctx context.Context, userID string) (*domain.Stats, bool, error)
	Set(ctx context.Context, userID string, stats *domain.Stats) error
	Invalidate(ctx context.Context, userID string) error
}
