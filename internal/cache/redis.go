package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/geovision/geovision-backend/internal/logger"
	"github.com/geovision/geovision-backend/internal/models"
)

// redisStore is the backing tier: results survive process restarts until
// their TTL expires. Failures are logged and treated as misses, never
// propagated to a request.
type redisStore struct {
	client *redis.Client
	ttl    time.Duration
	log    *slog.Logger
}

func openRedis(rawURL string, ttl time.Duration) (*redisStore, error) {
	opt, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &redisStore{client: client, ttl: ttl, log: logger.L()}, nil
}

func (s *redisStore) Get(ctx context.Context, key string) (*models.AnalysisResult, bool) {
	raw, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.log.Warn("redis cache read failed", "key", key, "err", err)
		}
		return nil, false
	}
	var res models.AnalysisResult
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		s.log.Warn("redis cache entry is not decodable, ignoring", "key", key, "err", err)
		return nil, false
	}
	return &res, true
}

func (s *redisStore) Put(ctx context.Context, key string, res *models.AnalysisResult) {
	raw, err := json.Marshal(res)
	if err != nil {
		s.log.Warn("redis cache encode failed", "key", key, "err", err)
		return
	}
	if err := s.client.Set(ctx, key, raw, s.ttl).Err(); err != nil {
		s.log.Warn("redis cache write failed", "key", key, "err", err)
	}
}
