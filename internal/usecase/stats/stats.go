package stats

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"image-pipeline/internal/domain"

	"github.com/wb-go/wbf/zlog"
)

const dayLayout = "2006-01-02"

var statusOrder = []domain.TaskState{
	domain.StatePending,
	domain.StateProcessing,
	domain.StateCompleted,
	domain.StateFailed,
	domain.StateCancelled,
}

// Aggregator computes per-user statistics from task records. The cache is
// optional; its errors are logged and never fail a request.
type Aggregator struct {
	records recordSource
	cache   statsCache
	logger  *zlog.Zerolog
	now     func() time.Time
}

func NewAggregator(records recordSource, cache statsCache, logger *zlog.Zerolog) *Aggregator {
	return &Aggregator{
		records: records,
		cache:   cache,
		logger:  logger,
		now:     time.Now,
	}
}

func (a *Aggregator) Stats(ctx context.Context, userID string) (*domain.Stats, error) {
	if a.cache != nil {
		cached, ok, err := a.cache.Get(ctx, userID)
		if err != nil {
			a.logger.Warn().Err(err).Str("user_id", userID).Msg("Stats cache read failed")
		}
		if ok {
			return cached, nil
		}
	}

	records, err := a.records.ListStatsRecords(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load stats records: %w", err)
	}

	stats := Compute(records, a.now())

	if a.cache != nil {
		if err := a.cache.Set(ctx, userID, stats); err != nil {
			a.logger.Warn().Err(err).Str("user_id", userID).Msg("Stats cache write failed")
		}
	}

	return stats, nil
}

// Invalidate drops the cached snapshot for userID.
func (a *Aggregator) Invalidate(ctx context.Context, userID string) error {
	if a.cache == nil {
		return nil
	}
	return a.cache.Invalidate(ctx, userID)
}

// Compute aggregates records. Averages cover completed tasks only; the daily
// history holds the StatsHistoryDays UTC days ending on now, oldest first.
func Compute(records []domain.StatsRecord, now time.Time) *domain.Stats {
	byStatus := make(map[domain.TaskState]int, len(statusOrder))
	byFormat := make(map[domain.ImageFormat]int)

	today := now.UTC().Truncate(24 * time.Hour)
	first := today.AddDate(0, 0, -(domain.StatsHistoryDays - 1))
	daily := make(map[string]int, domain.StatsHistoryDays)

	var (
		completed    int
		totalTime    int64
		totalReduced float64
	)

	for _, r := range records {
		byStatus[r.State]++
		if r.State != domain.StateCompleted {
			continue
		}

		completed++
		totalTime += r.ProcessingTimeMs
		totalReduced += r.FileSizeReduction
		if r.Format != "" {
			byFormat[r.Format]++
		}

		day := r.CreatedAt
		if r.CompletedAt != nil {
			day = *r.CompletedAt
		}
		day = day.UTC().Truncate(24 * time.Hour)
		if !day.Before(first) && !day.After(today) {
			daily[day.Format(dayLayout)]++
		}
	}

	stats := &domain.Stats{
		TotalProcessed:  completed,
		StatusBreakdown: make([]domain.StatusBucket, 0, len(statusOrder)),
		FormatBreakdown: make([]domain.FormatBucket, 0, len(byFormat)),
		DailyHistory:    make([]domain.DailyBucket, 0, domain.StatsHistoryDays),
	}
	if completed > 0 {
		stats.AverageProcessingTime = round2(float64(totalTime) / float64(completed))
		stats.AverageFileSizeReduction = round2(totalReduced / float64(completed))
	}

	for _, st := range statusOrder {
		stats.StatusBreakdown = append(stats.StatusBreakdown, domain.StatusBucket{Status: st, Count: byStatus[st]})
	}

	for f, n := range byFormat {
		stats.FormatBreakdown = append(stats.FormatBreakdown, domain.FormatBucket{Format: f, Count: n})
	}
	sort.Slice(stats.FormatBreakdown, func(i, j int) bool {
		a, b := stats.FormatBreakdown[i], stats.FormatBreakdown[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Format < b.Format
	})

	for d := first; !d.After(today); d = d.AddDate(0, 0, 1) {
		key := d.Format(dayLayout)
		stats.DailyHistory = append(stats.DailyHistory, domain.DailyBucket{Date: key, Count: daily[key]})
	}

	return stats
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
