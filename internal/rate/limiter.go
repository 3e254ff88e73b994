// Package rate implementa limitación de requests por ventana fija para los
// endpoints OAuth del gateway. El driver redis comparte el contador entre
// réplicas; el de memoria es el fallback de proceso único cuando no hay
// redis configurado.
package rate

import (
	"context"
	"strconv"
	"strings"
	"time"

	rdb "github.com/redis/go-redis/v9"
)

// Result es el veredicto del limiter para una clave.
type Result struct {
	Allowed     bool
	Remaining   int64
	RetryAfter  time.Duration
	WindowTTL   time.Duration
	CurrentHits int64
}

// Limiter decide si una clave puede seguir pegando en la ventana actual.
type Limiter interface {
	Allow(ctx context.Context, key string) (Result, error)
}

// RedisLimiter cuenta hits por ventana fija con INCR + EXPIRE. La clave
// incluye el inicio de la ventana, así las ventanas viejas expiran solas.
type RedisLimiter struct {
	client *rdb.Client
	prefix string
	max    int64
	window time.Duration
}

func NewRedisLimiter(client *rdb.Client, prefix string, max int, window time.Duration) *RedisLimiter {
	if prefix == "" {
		prefix = "rl:"
	}
	if max <= 0 {
		max = 60
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RedisLimiter{client: client, prefix: prefix, max: int64(max), window: window}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (Result, error) {
	winStart := time.Now().UTC().Truncate(l.window)
	redisKey := l.prefix + strings.ReplaceAll(key, " ", "_") + ":" + strconv.FormatInt(winStart.Unix(), 10)

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	ttl := pipe.TTL(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return Result{}, err
	}

	// El primer hit de la ventana fija el expiry.
	if incr.Val() == 1 {
		_ = l.client.Expire(ctx, redisKey, l.window).Err()
		ttl = l.client.TTL(ctx, redisKey)
	}

	return verdict(incr.Val(), l.max, ttl.Val(), l.window), nil
}

// verdict arma el Result común a ambos drivers.
func verdict(hits, max int64, windowTTL, window time.Duration) Result {
	remaining := max - hits
	if remaining < 0 {
		remaining = 0
	}
	res := Result{
		Allowed:     hits <= max,
		Remaining:   remaining,
		CurrentHits: hits,
		WindowTTL:   windowTTL,
	}
	if !res.Allowed {
		res.RetryAfter = windowTTL
		if res.RetryAfter <= 0 {
			res.RetryAfter = window
		}
	}
	return res
}
