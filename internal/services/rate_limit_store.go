package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"parley/internal/models"

	"github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
)

// RateLimitStore is the TTL key-value store behind the rate limiter
type RateLimitStore interface {
	// Get returns nil, nil when the key is absent or expired
	Get(ctx context.Context, key string) (*models.RateLimitRecord, error)
	Set(ctx context.Context, key string, record models.RateLimitRecord, ttl time.Duration) error
}

// RedisRateLimitStore keeps windows in Redis so every replica shares them
type RedisRateLimitStore struct {
	redis *RedisService
}

// NewRedisRateLimitStore creates a Redis-backed store
func NewRedisRateLimitStore(redis *RedisService) *RedisRateLimitStore {
	return &RedisRateLimitStore{redis: redis}
}

func (s *RedisRateLimitStore) Get(ctx context.Context, key string) (*models.RateLimitRecord, error) {
	raw, err := s.redis.Get(ctx, key)
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var record models.RateLimitRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return nil, fmt.Errorf("corrupt rate limit record %s: %w", key, err)
	}
	return &record, nil
}

func (s *RedisRateLimitStore) Set(ctx context.Context, key string, record models.RateLimitRecord, ttl time.Duration) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, key, data, ttl)
}

// MemoryRateLimitStore keeps windows in process memory (single node)
type MemoryRateLimitStore struct {
	cache *cache.Cache
}

// NewMemoryRateLimitStore creates an in-memory store
func NewMemoryRateLimitStore() *MemoryRateLimitStore {
	return &MemoryRateLimitStore{
		cache: cache.New(time.Minute, 5*time.Minute),
	}
}

func (s *MemoryRateLimitStore) Get(ctx context.Context, key string) (*models.RateLimitRecord, error) {
	value, found := s.cache.Get(key)
	if !found {
		return nil, nil
	}
	record := value.(models.RateLimitRecord)
	return &record, nil
}

func (s *MemoryRateLimitStore) Set(ctx context.Context, key string, record models.RateLimitRecord, ttl time.Duration) error {
	s.cache.Set(key, record, ttl)
	return nil
}
