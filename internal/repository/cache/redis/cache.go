package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"image-pipeline/internal/config"
	"image-pipeline/internal/domain"

	"github.com/redis/go-redis/v9"
)

const statsKeyPrefix = "stats:"

// StatsCache keeps per-user statistics snapshots as JSON.
type StatsCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewStatsCache(client *redis.Client, ttl time.Duration) *StatsCache {
	return &StatsCache{
		client: client,
		ttl:    ttl,
	}
}

// NewClient connects to the configured Redis and checks it answers.
func NewClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return client, nil
}

// Get returns the cached stats and whether they were present.
func (c *StatsCache) Get(ctx context.Context, userID string) (*domain.Stats, bool, error) {
	data, err := c.client.Get(ctx, statsKeyPrefix+userID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get stats: %w", err)
	}

	var stats domain.Stats
	if err := json.Unmarshal(data, &stats); err != nil {
		return nil, false, fmt.Errorf("failed to decode cached stats: %w", err)
	}

	return &stats, true, nil
}

func (c *StatsCache) Set(ctx context.Context, userID string, stats *domain.Stats) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("failed to encode stats: %w", err)
	}

	return c.client.Set(ctx, statsKeyPrefix+userID, data, c.ttl).Err()
}

func (c *StatsCache) Invalidate(ctx context.Context, userID string) error {
	return c.client.Del(ctx, statsKeyPrefix+userID).Err()
}
