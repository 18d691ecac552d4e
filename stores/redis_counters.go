package stores

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/oarkflow/verdict"
)

// RedisRateCounter maintains per-key request counters in Redis, windowed by
// key expiry. Callers bump the counter before authorizing and copy current
// values into the request environment, where rate conditions in context
// rules read them.
type RedisRateCounter struct {
	client *redis.Client
	keyFmt string
	window time.Duration
}

func NewRedisRateCounter(client *redis.Client, window time.Duration) *RedisRateCounter {
	if window <= 0 {
		window = time.Minute
	}
	return &RedisRateCounter{client: client, keyFmt: "ratectr:%s", window: window}
}

func (r *RedisRateCounter) key(counter string) string {
	return fmt.Sprintf(r.keyFmt, counter)
}

// Incr bumps the counter and returns its new value. The window expiry is
// set on first increment only, so the window is fixed, not sliding.
func (r *RedisRateCounter) Incr(ctx context.Context, counter string) (int64, error) {
	pipe := r.client.TxPipeline()
	incr := pipe.Incr(ctx, r.key(counter))
	pipe.ExpireNX(ctx, r.key(counter), r.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// Value reads the counter without bumping it. Missing keys read as zero.
func (r *RedisRateCounter) Value(ctx context.Context, counter string) (int64, error) {
	n, err := r.client.Get(ctx, r.key(counter)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return n, err
}

// Reset clears the counter.
func (r *RedisRateCounter) Reset(ctx context.Context, counter string) error {
	return r.client.Del(ctx, r.key(counter)).Err()
}

// Fill copies current counter values into the environment, where rate
// conditions read them during evaluation.
func (r *RedisRateCounter) Fill(ctx context.Context, env *verdict.Environment, counters ...string) error {
	if env.Counters == nil {
		env.Counters = make(map[string]int64, len(counters))
	}
	for _, c := range counters {
		n, err := r.Value(ctx, c)
		if err != nil {
			return err
		}
		env.Counters[c] = n
	}
	return nil
}
