package storagesql

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/grafana/sentinel/pkg/model"
	"github.com/grafana/sentinel/pkg/store"
)

// CachedMetricRepo wraps a store.MetricRepository with a short-lived
// Redis read-through cache for the GET /metrics collaborator query, so
// repeated dashboard polling of a hot window doesn't re-scan the
// time-partitioned table on every request. Writes go straight to the
// underlying repository and invalidate nothing; TTL bounds staleness.
type CachedMetricRepo struct {
	store.MetricRepository
	rdb *redis.Client
	ttl time.Duration
}

// NewCachedMetricRepo wraps repo with a Redis client. ttl <= 0 uses 5s,
// matching the shortest window a dashboard would reasonably poll at.
func NewCachedMetricRepo(repo store.MetricRepository, rdb *redis.Client, ttl time.Duration) *CachedMetricRepo {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &CachedMetricRepo{MetricRepository: repo, rdb: rdb, ttl: ttl}
}

func (c *CachedMetricRepo) Query(ctx context.Context, service string, start, end time.Time) ([]model.MetricSample, error) {
	key := fmt.Sprintf("sentinel:metrics:%s:%d:%d", service, start.Unix(), end.Unix())

	if raw, err := c.rdb.Get(ctx, key).Bytes(); err == nil {
		var samples []model.MetricSample
		if jsonErr := json.Unmarshal(raw, &samples); jsonErr == nil {
			return samples, nil
		}
	}

	samples, err := c.MetricRepository.Query(ctx, service, start, end)
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(samples); err == nil {
		c.rdb.Set(ctx, key, raw, c.ttl)
	}
	return samples, nil
}
