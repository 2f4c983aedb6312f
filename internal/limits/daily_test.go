package limits

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

func TestDailyLimiterAllow(t *testing.T) {
	rdb := newTestRedis(t)
	l := NewDailyLimiter(rdb, "draw")
	now := time.Date(2026, 2, 13, 10, 0, 0, 0, time.UTC)

	for i := int64(1); i <= 2; i++ {
		allowed, used, err := l.Allow(context.Background(), 1, 2, now)
		if err != nil {
			t.Fatalf("allow#%d: %v", i, err)
		}
		if !allowed || used != i {
			t.Fatalf("expected call %d allowed with used=%d, got allowed=%v used=%d", i, i, allowed, used)
		}
	}

	allowed, used, err := l.Allow(context.Background(), 1, 2, now)
	if err != nil {
		t.Fatalf("allow#3: %v", err)
	}
	if allowed || used != 3 {
		t.Fatalf("expected third call denied with used=3, got allowed=%v used=%d", allowed, used)
	}

	// A different user has a fresh budget.
	allowed, used, err = l.Allow(context.Background(), 2, 2, now)
	if err != nil {
		t.Fatalf("other user: %v", err)
	}
	if !allowed || used != 1 {
		t.Fatalf("expected other user allowed with used=1, got allowed=%v used=%d", allowed, used)
	}
}

func TestDailyLimiterZeroLimitDisables(t *testing.T) {
	rdb := newTestRedis(t)
	l := NewDailyLimiter(rdb, "draw")
	now := time.Date(2026, 2, 13, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		allowed, used, err := l.Allow(context.Background(), 1, 0, now)
		if err != nil {
			t.Fatalf("allow: %v", err)
		}
		if !allowed || used != 0 {
			t.Fatalf("expected disabled limiter to always allow, got allowed=%v used=%d", allowed, used)
		}
	}
}

func TestDailyLimiterResetsNextDay(t *testing.T) {
	rdb := newTestRedis(t)
	l := NewDailyLimiter(rdb, "draw")
	day1 := time.Date(2026, 2, 13, 23, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 2, 14, 1, 0, 0, 0, time.UTC)

	if _, _, err := l.Allow(context.Background(), 1, 1, day1); err != nil {
		t.Fatalf("day1: %v", err)
	}
	allowed, used, err := l.Allow(context.Background(), 1, 1, day2)
	if err != nil {
		t.Fatalf("day2: %v", err)
	}
	if !allowed || used != 1 {
		t.Fatalf("expected fresh budget on next day, got allowed=%v used=%d", allowed, used)
	}
}

func TestUpdateDeduplicator(t *testing.T) {
	rdb := newTestRedis(t)
	d := NewUpdateDeduplicator(rdb, time.Hour)

	first, err := d.MarkFirst(context.Background(), 555)
	if err != nil {
		t.Fatalf("first mark: %v", err)
	}
	if !first {
		t.Fatalf("expected first sighting to return true")
	}

	again, err := d.MarkFirst(context.Background(), 555)
	if err != nil {
		t.Fatalf("second mark: %v", err)
	}
	if again {
		t.Fatalf("expected repeat sighting to return false")
	}

	other, err := d.MarkFirst(context.Background(), 556)
	if err != nil {
		t.Fatalf("other mark: %v", err)
	}
	if !other {
		t.Fatalf("expected unrelated update to return true")
	}
}
