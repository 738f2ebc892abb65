package ratelimit

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

var tokenBucketScript = redis.NewScript(`
	local key = KEYS[1]
	local capacity = tonumber(ARGV[1])
	local rate = tonumber(ARGV[2])
	local now = tonumber(ARGV[3])
	local requested = tonumber(ARGV[4])

	local info = redis.call("HMGET", key, "tokens", "last_refill")
	local tokens = tonumber(info[1])
	local last_refill = tonumber(info[2])

	if tokens == nil then
		tokens = capacity
		last_refill = now
	end

	local delta = math.max(0, now - last_refill)
	local filled_tokens = math.min(capacity, tokens + (delta / 1000 * rate))

	local allowed = 0
	if filled_tokens >= requested then
		filled_tokens = filled_tokens - requested
		allowed = 1
		redis.call("HMSET", key, "tokens", filled_tokens, "last_refill", now)
		redis.call("EXPIRE", key, math.ceil(capacity / rate) * 2)
	end

	return allowed
`)

// Redis shares buckets between instances through a Lua token bucket.
type Redis struct {
	client   redis.UniversalClient
	settings Settings
	prefix   string
	now      func() time.Time
}

func NewRedis(client redis.UniversalClient, s Settings) *Redis {
	return &Redis{client: client, settings: s, prefix: "rate_limit:", now: time.Now}
}

func (l *Redis) Allow(ctx context.Context, key string) (bool, error) {
	keys := []string{l.prefix + key}
	args := []interface{}{l.settings.Burst, l.settings.perSecond(), l.now().UnixMilli(), 1}

	res, err := tokenBucketScript.Run(ctx, l.client, keys, args...).Int64()
	if err != nil {
		return false, errors.Wrap(err, "run token bucket script")
	}
	return res == 1, nil
}
