package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redisv9 "github.com/redis/go-redis/v9"

	"github.com/DafisNadhifSaputra/D-notebook-ai/internal/rag"
)

// MetricsCache mirrors the latest per-user retrieval metrics snapshot to
// Redis so dashboards can read counters without touching the serving process.
type MetricsCache struct {
	client *redisv9.Client
	ttl    time.Duration
}

func NewMetricsCache(client *redisv9.Client, ttl time.Duration) *MetricsCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &MetricsCache{client: client, ttl: ttl}
}

func (c *MetricsCache) SetSnapshot(ctx context.Context, userID uint, snapshot rag.Snapshot) error {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal metrics snapshot failed: %w", err)
	}
	if err := c.client.Set(ctx, c.key(userID), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set metrics snapshot failed: %w", err)
	}
	return nil
}

func (c *MetricsCache) GetSnapshot(ctx context.Context, userID uint) (*rag.Snapshot, error) {
	raw, err := c.client.Get(ctx, c.key(userID)).Result()
	if err == redisv9.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get metrics snapshot failed: %w", err)
	}
	var snapshot rag.Snapshot
	if err := json.Unmarshal([]byte(raw), &snapshot); err != nil {
		return nil, fmt.Errorf("unmarshal metrics snapshot failed: %w", err)
	}
	return &snapshot, nil
}

func (c *MetricsCache) key(userID uint) string {
	return fmt.Sprintf("rag:metrics:%d", userID)
}
