// Package ratelimit counts requests per caller in fixed windows kept in
// Redis. The check runs before a search starts; an exhausted window
// rejects the request outright.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/yurei/config"
)

var ErrLimitExceeded = errors.New("rate limit exceeded")

// Decision describes the caller's window after counting one request.
type Decision struct {
	Limit     int64
	Remaining int64
	Reset     time.Time
}

type Limiter struct {
	rdb    redis.Cmdable
	limit  int64
	window time.Duration
	prefix string
	now    func() time.Time
}

func New(rdb redis.Cmdable, cfg config.RateLimitConfig) *Limiter {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "yurei_rate_limit"
	}
	window := cfg.Window
	if window < time.Millisecond {
		window = 30 * 24 * time.Hour
	}
	limit := cfg.Limit
	if limit <= 0 {
		limit = 3
	}
	return &Limiter{rdb: rdb, limit: limit, window: window, prefix: prefix, now: time.Now}
}

// Allow counts one request for identity. When the window is exhausted it
// returns the decision together with ErrLimitExceeded.
func (l *Limiter) Allow(ctx context.Context, identity string) (Decision, error) {
	now := l.now()
	bucket := now.UnixMilli() / l.window.Milliseconds()
	reset := time.UnixMilli((bucket + 1) * l.window.Milliseconds())
	key := l.prefix + ":" + identity + ":" + strconv.FormatInt(bucket, 10)

	var incr *redis.IntCmd
	_, err := l.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.PExpire(ctx, key, reset.Sub(now))
		return nil
	})
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit: count %s: %w", identity, err)
	}

	d := Decision{Limit: l.limit, Remaining: l.limit - incr.Val(), Reset: reset}
	if d.Remaining < 0 {
		d.Remaining = 0
		return d, ErrLimitExceeded
	}
	return d, nil
}
