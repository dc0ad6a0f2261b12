package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingScript trims the window, records the hit only if it fits, and returns
// {allowed, count, oldest score}. Rejected hits are not recorded, so a client that keeps
// retrying does not extend its own lockout. Scores are microseconds passed as strings.
var slidingScript = redis.NewScript(`
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", ARGV[2])
local count = redis.call("ZCARD", KEYS[1])
local allowed = 0
if count < tonumber(ARGV[3]) then
  redis.call("ZADD", KEYS[1], ARGV[1], ARGV[4])
  count = count + 1
  allowed = 1
end
redis.call("PEXPIRE", KEYS[1], ARGV[5])
local oldest = redis.call("ZRANGE", KEYS[1], 0, 0, "WITHSCORES")
return {allowed, count, oldest[2] or ARGV[1]}
`)

// SlidingWindow limits over a rolling window using one Redis sorted set per key.
type SlidingWindow struct {
	Client redis.UniversalClient
	Prefix string
}

// Allow implements Backend. The reset time is when the oldest hit leaves the window.
func (l SlidingWindow) Allow(ctx context.Context, key string, window time.Duration, max int) (bool, int, time.Time, error) {
	now := time.Now()
	if l.Client == nil || max <= 0 || window <= 0 {
		return true, max, now.Add(window), nil
	}
	nowMicros := now.UnixMicro()
	res, err := slidingScript.Run(ctx, l.Client, []string{l.Prefix + key},
		strconv.FormatInt(nowMicros, 10),
		strconv.FormatInt(nowMicros-window.Microseconds(), 10),
		max,
		uuid.NewString(),
		window.Milliseconds(),
	).Slice()
	if err != nil {
		return false, 0, time.Time{}, fmt.Errorf("sliding window %s: %w", key, err)
	}
	if len(res) != 3 {
		return false, 0, time.Time{}, fmt.Errorf("sliding window %s: unexpected reply %v", key, res)
	}
	allowed, _ := res[0].(int64)
	count, _ := res[1].(int64)
	oldest, err := strconv.ParseFloat(fmt.Sprint(res[2]), 64)
	if err != nil {
		oldest = float64(nowMicros)
	}
	remaining := max - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return allowed == 1, remaining, time.UnixMicro(int64(oldest)).Add(window), nil
}
