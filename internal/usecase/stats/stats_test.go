package stats

import (
	"context"
	"errors"
	"testing"
	"time"

	"image-pipeline/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wb-go/wbf/zlog"
)

func testLogger() *zlog.Zerolog {
	zlog.Init()
	return &zlog.Logger
}

func at(t time.Time) *time.Time { return &t }

func TestCompute(t *testing.T) {
	now := time.Date(2026, 3, 15, 18, 0, 0, 0, time.UTC)
	records := []domain.StatsRecord{
		{State: domain.StateCompleted, Format: domain.FormatJPG, ProcessingTimeMs: 100, FileSizeReduction: 50, CompletedAt: at(now.Add(-time.Hour))},
		{State: domain.StateCompleted, Format: domain.FormatJPG, ProcessingTimeMs: 200, FileSizeReduction: 20, CompletedAt: at(now.AddDate(0, 0, -29))},
		{State: domain.StateCompleted, Format: domain.FormatPNG, ProcessingTimeMs: 301, FileSizeReduction: -10, CompletedAt: at(now.AddDate(0, 0, -40))},
		{State: domain.StateFailed, CreatedAt: now},
		{State: domain.StatePending, CreatedAt: now},
	}

	s := Compute(records, now)

	assert.Equal(t, 3, s.TotalProcessed)
	assert.Equal(t, 200.33, s.AverageProcessingTime)
	assert.Equal(t, 20.0, s.AverageFileSizeReduction)

	assert.Equal(t, []domain.StatusBucket{
		{Status: domain.StatePending, Count: 1},
		{Status: domain.StateProcessing, Count: 0},
		{Status: domain.StateCompleted, Count: 3},
		{Status: domain.StateFailed, Count: 1},
		{Status: domain.StateCancelled, Count: 0},
	}, s.StatusBreakdown)

	assert.Equal(t, []domain.FormatBucket{
		{Format: domain.FormatJPG, Count: 2},
		{Format: domain.FormatPNG, Count: 1},
	}, s.FormatBreakdown)

	require.Len(t, s.DailyHistory, domain.StatsHistoryDays)
	assert.Equal(t, "2026-02-14", s.DailyHistory[0].Date)
	assert.Equal(t, 1, s.DailyHistory[0].Count)
	assert.Equal(t, "2026-03-15", s.DailyHistory[29].Date)
	assert.Equal(t, 1, s.DailyHistory[29].Count)

	var sum int
	for _, d := range s.DailyHistory {
		sum += d.Count
	}
	assert.Equal(t, 2, sum)
}

func TestComputeEmpty(t *testing.T) {
	s := Compute(nil, time.Now())

	assert.Zero(t, s.TotalProcessed)
	assert.Zero(t, s.AverageProcessingTime)
	assert.Empty(t, s.FormatBreakdown)
	assert.Len(t, s.StatusBreakdown, 5)
	assert.Len(t, s.DailyHistory, domain.StatsHistoryDays)
}

type fakeRecords struct {
	calls   int
	records []domain.StatsRecord
}

func (f *fakeRecords) ListStatsRecords(context.Context, string) ([]domain.StatsRecord, error) {
	f.calls++
	return f.records, nil
}

type mapCache struct {
	data   map[string]*domain.Stats
	getErr error
}

func (c *mapCache) Get(_ context.Context, userID string) (*domain.Stats, bool, error) {
	if c.getErr != nil {
		return nil, false, c.getErr
	}
	s, ok := c.data[userID]
	return s, ok, nil
}

func (c *mapCache) Set(_ context.Context, userID string, s *domain.Stats) error {
	c.data[userID] = s
	return nil
}

func (c *mapCache) Invalidate(_ context.Context, userID string) error {
	delete(c.data, userID)
	return nil
}

func TestAggregatorUsesCache(t *testing.T) {
	src := &fakeRecords{records: []domain.StatsRecord{{State: domain.StateCompleted, ProcessingTimeMs: 10}}}
	cache := &mapCache{data: map[string]*domain.Stats{}}
	a := NewAggregator(src, cache, testLogger())
	ctx := context.Background()

	first, err := a.Stats(ctx, "alice")
	require.NoError(t, err)
	second, err := a.Stats(ctx, "alice")
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, src.calls)

	require.NoError(t, a.Invalidate(ctx, "alice"))
	_, err = a.Stats(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls)
}

func TestAggregatorIgnoresCacheErrors(t *testing.T) {
	src := &fakeRecords{}
	a := NewAggregator(src, &mapCache{data: map[string]*domain.Stats{}, getErr: errors.New("redis down")}, testLogger())

	s, err := a.Stats(context.Background(), "alice")
	require.NoError(t, err)
	assert.NotNil(t, s)

	noCache := NewAggregator(src, nil, testLogger())
	_, err = noCache.Stats(context.Background(), "alice")
	require.NoError(t, err)
	assert.NoError(t, noCache.Invalidate(context.Background(), "alice"))
}
