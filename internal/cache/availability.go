package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/akorchagin/eventdesk/internal/domain/event"
	"github.com/redis/go-redis/v9"
)

// AvailabilityCache keeps the computed seat counts in Redis for a short TTL.
// It is a read-side accelerator only: admission always recounts inside the
// database transaction, so a stale or unavailable cache can never oversell.
type AvailabilityCache struct {
	rdb *redis.Client
	ttl time.Duration
	log *slog.Logger
}

func NewAvailabilityCache(rdb *redis.Client, ttl time.Duration, log *slog.Logger) *AvailabilityCache {
	if ttl <= 0 {
		ttl = 3 * time.Second
	}

	return &AvailabilityCache{rdb: rdb, ttl: ttl, log: log}
}

func availabilityKey(eventID string) string {
	return "availability:" + eventID
}

// Get treats every Redis failure as a miss.
func (c *AvailabilityCache) Get(ctx context.Context, eventID string) (event.Availability, bool) {
	var av event.Availability

	if c == nil || c.rdb == nil {
		return av, false
	}

	raw, err := c.rdb.Get(ctx, availabilityKey(eventID)).Bytes()

	if err != nil {
		if err != redis.Nil {
			c.log.Debug("availability cache read failed", "error", err)
		}
		return av, false
	}

	if err := json.Unmarshal(raw, &av); err != nil {
		return av, false
	}

	return av, true
}

func (c *AvailabilityCache) Set(ctx context.Context, av event.Availability) {
	if c == nil || c.rdb == nil {
		return
	}

	raw, err := json.Marshal(av)

	if err != nil {
		return
	}

	if err := c.rdb.Set(ctx, availabilityKey(av.EventID), raw, c.ttl).Err(); err != nil {
		c.log.Debug("availability cache write failed", "error", err)
	}
}

// Invalidate drops the cached counts after any admission-path mutation.
func (c *AvailabilityCache) Invalidate(ctx context.Context, eventID string) {
	if c == nil || c.rdb == nil {
		return
	}

	if err := c.rdb.Del(ctx, availabilityKey(eventID)).Err(); err != nil {
		c.log.Debug("availability cache invalidate failed", "error", err)
	}
}
