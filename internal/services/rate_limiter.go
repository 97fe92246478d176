package services

import (
	"context"
	"fmt"
	"time"

	"parley/internal/models"
)

const minRateLimitTTL = time.Second

// RateLimiter is a fixed-window counter keyed by caller identity.
//
// The read and the write are separate store calls, so two concurrent requests
// for one key can both observe the same count and under-count by one. Callers
// that need an exact bound must use an atomic store primitive instead.
type RateLimiter struct {
	store RateLimitStore
	now   func() time.Time
}

// NewRateLimiter creates a limiter over the given store
func NewRateLimiter(store RateLimitStore) *RateLimiter {
	return &RateLimiter{store: store, now: time.Now}
}

// RateLimitKey namespaces an identity in the store
func RateLimitKey(identity string) string {
	return "rate:" + identity
}

// Allow records one request for key and reports whether it fits the window.
// Store failures are returned wrapped in ErrRateLimitStore; the caller decides
// whether to fail open or closed.
func (l *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	allowed, _, err := l.AllowWithReset(ctx, key, limit, window)
	return allowed, err
}

// AllowWithReset is Allow that also returns the end of the current window
func (l *RateLimiter) AllowWithReset(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Time, error) {
	storeKey := RateLimitKey(key)
	now := l.now()
	nowMs := now.UnixMilli()

	record, err := l.store.Get(ctx, storeKey)
	if err != nil {
		return false, time.Time{}, fmt.Errorf("%w: %v", ErrRateLimitStore, err)
	}

	var next models.RateLimitRecord
	switch {
	case record == nil || nowMs >= record.WindowEnd:
		next = models.RateLimitRecord{Count: 1, WindowEnd: now.Add(window).UnixMilli()}
	case record.Count < limit:
		next = models.RateLimitRecord{Count: record.Count + 1, WindowEnd: record.WindowEnd}
	default:
		return false, time.UnixMilli(record.WindowEnd), nil
	}

	ttl := time.Duration(next.WindowEnd-nowMs) * time.Millisecond
	if ttl < minRateLimitTTL {
		ttl = minRateLimitTTL
	}

	if err := l.store.Set(ctx, storeKey, next, ttl); err != nil {
		return false, time.Time{}, fmt.Errorf("%w: %v", ErrRateLimitStore, err)
	}

	return true, time.UnixMilli(next.WindowEnd), nil
}
