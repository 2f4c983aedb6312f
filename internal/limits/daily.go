package limits

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var incrWithTTLScript = redis.NewScript(`
local c = redis.call("INCR", KEYS[1])
if c == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[1])
end
return c
`)

// DailyLimiter counts uses per user per UTC day in redis. A limit of zero or
// less disables the check.
type DailyLimiter struct {
	redis *redis.Client
	name  string
}

func NewDailyLimiter(rdb *redis.Client, name string) *DailyLimiter {
	return &DailyLimiter{redis: rdb, name: name}
}

func (l *DailyLimiter) Allow(ctx context.Context, userID int64, limit int64, now time.Time) (allowed bool, used int64, err error) {
	if limit <= 0 {
		return true, 0, nil
	}
	day := now.UTC().Truncate(24 * time.Hour)
	ttl := int64(day.Add(24 * time.Hour).Sub(now.UTC()).Seconds())
	if ttl < 1 {
		ttl = 1
	}

	key := fmt.Sprintf("snailbot:limit:%s:%d:%s", l.name, userID, day.Format("20060102"))
	used, err = incrWithTTLScript.Run(ctx, l.redis, []string{key}, ttl).Int64()
	if err != nil {
		return false, 0, fmt.Errorf("daily limit script: %w", err)
	}
	return used <= limit, used, nil
}

// UpdateDeduplicator drops telegram updates that were already seen, which
// happens after reconnects and on webhook retries.
type UpdateDeduplicator struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewUpdateDeduplicator(rdb *redis.Client, ttl time.Duration) *UpdateDeduplicator {
	return &UpdateDeduplicator{redis: rdb, ttl: ttl}
}

func (d *UpdateDeduplicator) MarkFirst(ctx context.Context, updateID int64) (bool, error) {
	key := fmt.Sprintf("snailbot:update:%d", updateID)
	ok, err := d.redis.SetNX(ctx, key, "1", d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedupe setnx: %w", err)
	}
	return ok, nil
}
