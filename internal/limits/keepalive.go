package limits

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Keepalive pings redis and refreshes a short-lived marker key so serverless
// redis providers do not idle the connection between bursts of traffic.
type Keepalive struct {
	redis *redis.Client
	key   string
}

func NewKeepalive(rdb *redis.Client) *Keepalive {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return &Keepalive{redis: rdb, key: "snailbot:keepalive:" + host}
}

func (k *Keepalive) Run(ctx context.Context) error {
	if err := k.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("keepalive ping: %w", err)
	}
	stamp := strconv.FormatInt(time.Now().Unix(), 10)
	if err := k.redis.Set(ctx, k.key, stamp, time.Hour).Err(); err != nil {
		return fmt.Errorf("keepalive write: %w", err)
	}
	return nil
}
