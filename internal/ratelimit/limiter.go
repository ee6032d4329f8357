package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// tokenBucket refills capacity tokens at rate per second and takes one per call.
// KEYS[1] bucket key; ARGV: capacity, rate, now (ms). Returns 1 when allowed.
var tokenBucket = redis.NewScript(`
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local bucket = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(bucket[1])
local ts = tonumber(bucket[2])
if tokens == nil then
	tokens = capacity
	ts = now
end

local elapsed = math.max(0, now - ts) / 1000
tokens = math.min(capacity, tokens + elapsed * rate)

local allowed = 0
if tokens >= 1 then
	tokens = tokens - 1
	allowed = 1
end

redis.call("HSET", KEYS[1], "tokens", tostring(tokens), "ts", tostring(now))
redis.call("PEXPIRE", KEYS[1], math.ceil(capacity / rate * 1000) + 1000)
return allowed
`)

// Config holds token bucket settings.
type Config struct {
	Capacity   int     // burst size
	RefillRate float64 // tokens per second
	Prefix     string
}

// DefaultConfig allows a burst of 10 then one request per second.
func DefaultConfig() Config {
	return Config{Capacity: 10, RefillRate: 1, Prefix: "userhub:ratelimit"}
}

// Limiter decides whether a request identified by key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// RedisLimiter is a token bucket shared by all instances through Redis.
type RedisLimiter struct {
	client redis.Scripter
	cfg    Config
	now    func() time.Time
}

func NewRedisLimiter(client redis.Scripter, cfg Config) *RedisLimiter {
	def := DefaultConfig()
	if cfg.Capacity <= 0 {
		cfg.Capacity = def.Capacity
	}
	if cfg.RefillRate <= 0 {
		cfg.RefillRate = def.RefillRate
	}
	if cfg.Prefix == "" {
		cfg.Prefix = def.Prefix
	}
	return &RedisLimiter{client: client, cfg: cfg, now: time.Now}
}

func (l *RedisLimiter) Key(key string) string {
	return fmt.Sprintf("%s:%s", l.cfg.Prefix, key)
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	res, err := tokenBucket.Run(ctx, l.client, []string{l.Key(key)},
		l.cfg.Capacity,
		l.cfg.RefillRate,
		l.now().UnixMilli(),
	).Int64()
	if err != nil {
		return false, fmt.Errorf("run token bucket: %w", err)
	}
	return res == 1, nil
}

// Connect opens a Redis client and checks it answers PING.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return client, nil
}
