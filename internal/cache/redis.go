package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// raiseScript keeps the larger of the stored and proposed value for every key.
// ARGV[1] is the TTL in milliseconds, ARGV[i+1] the value for KEYS[i].
var raiseScript = redis.NewScript(`
local ttl = ARGV[1]
for i, key in ipairs(KEYS) do
	local proposed = tonumber(ARGV[i + 1])
	local current = tonumber(redis.call('GET', key) or '0') or 0
	if proposed > current then
		redis.call('SET', key, ARGV[i + 1], 'PX', ttl)
	else
		redis.call('PEXPIRE', key, ttl)
	end
end
return 1
`)

// Redis is a Store shared between processes through a Redis server.
type Redis struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

var _ Store = (*Redis)(nil)

// NewRedis parses redisURL, checks the connection and returns a Store whose keys
// are namespaced under prefix.
func NewRedis(ctx context.Context, redisURL, prefix string, ttl time.Duration) (*Redis, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("cache: parse redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("%w: redis ping: %v", ErrUnavailable, err)
	}
	return NewRedisClient(rdb, prefix, ttl), nil
}

// NewRedisClient wraps an existing client. Closing the Store closes the client.
func NewRedisClient(rdb *redis.Client, prefix string, ttl time.Duration) *Redis {
	return &Redis{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (r *Redis) key(k string) string { return r.prefix + k }

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := r.rdb.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: redis get: %v", ErrUnavailable, err)
	}
	return b, true, nil
}

func (r *Redis) GetMany(ctx context.Context, keys []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = r.key(k)
	}
	vals, err := r.rdb.MGet(ctx, full...).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: redis mget: %v", ErrUnavailable, err)
	}
	for i, v := range vals {
		if s, ok := v.(string); ok {
			out[keys[i]] = []byte(s)
		}
	}
	return out, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte) error {
	if err := r.rdb.Set(ctx, r.key(key), value, r.ttl).Err(); err != nil {
		return fmt.Errorf("%w: redis set: %v", ErrUnavailable, err)
	}
	return nil
}

func (r *Redis) SetMany(ctx context.Context, items map[string][]byte) error {
	if len(items) == 0 {
		return nil
	}
	pipe := r.rdb.Pipeline()
	for k, v := range items {
		pipe.Set(ctx, r.key(k), v, r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: redis pipeline set: %v", ErrUnavailable, err)
	}
	return nil
}

func (r *Redis) Raise(ctx context.Context, items map[string]int64) error {
	if len(items) == 0 {
		return nil
	}
	keys := make([]string, 0, len(items))
	args := make([]any, 0, len(items)+1)
	args = append(args, strconv.FormatInt(r.ttl.Milliseconds(), 10))
	for k, v := range items {
		keys = append(keys, r.key(k))
		args = append(args, strconv.FormatInt(v, 10))
	}
	if err := raiseScript.Run(ctx, r.rdb, keys, args...).Err(); err != nil {
		return fmt.Errorf("%w: redis raise: %v", ErrUnavailable, err)
	}
	return nil
}

func (r *Redis) Close() error { return r.rdb.Close() }
