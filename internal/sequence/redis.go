package sequence

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// FloorFunc reports the highest counter value already spent.
type FloorFunc func(ctx context.Context) (int64, error)

// RedisCounter advances a counter with INCR.
type RedisCounter struct {
	client redis.Cmdable
	key    string
	floor  FloorFunc
}

// NewRedisCounter constructs a counter stored under key.
func NewRedisCounter(client redis.Cmdable, key string) *RedisCounter {
	if key == "" {
		key = "sequence:" + BookingCounter
	}
	return &RedisCounter{client: client, key: key}
}

// SetFloor makes Increment reseed the counter from floor when the key has been
// lost, instead of restarting the sequence at 1.
func (c *RedisCounter) SetFloor(floor FloorFunc) {
	c.floor = floor
}

var incrExistingScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	return false
end
return redis.call("INCR", KEYS[1])
`)

var raiseScript = redis.NewScript(`
local current = tonumber(redis.call("GET", KEYS[1]) or "0")
if current < tonumber(ARGV[1]) then
	redis.call("SET", KEYS[1], ARGV[1])
end
return 1
`)

// Increment implements Counter.
func (c *RedisCounter) Increment(ctx context.Context) (int64, error) {
	if c == nil || c.client == nil {
		return 0, fmt.Errorf("sequence: redis counter not initialised")
	}
	if c.floor == nil {
		return c.incr(ctx)
	}

	value, err := incrExistingScript.Run(ctx, c.client, []string{c.key}).Int64()
	if !errors.Is(err, redis.Nil) {
		if err != nil {
			return 0, fmt.Errorf("incr %s: %w", c.key, err)
		}
		return value, nil
	}

	floor, err := c.floor(ctx)
	if err != nil {
		return 0, fmt.Errorf("reseed %s: %w", c.key, err)
	}
	if err := c.Seed(ctx, floor); err != nil {
		return 0, err
	}
	return c.incr(ctx)
}

func (c *RedisCounter) incr(ctx context.Context) (int64, error) {
	value, err := c.client.Incr(ctx, c.key).Result()
	if err != nil {
		return 0, fmt.Errorf("incr %s: %w", c.key, err)
	}
	return value, nil
}

// Seed raises the counter to floor. It never lowers an existing value.
func (c *RedisCounter) Seed(ctx context.Context, floor int64) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("sequence: redis counter not initialised")
	}
	if err := raiseScript.Run(ctx, c.client, []string{c.key}, floor).Err(); err != nil {
		return fmt.Errorf("seed %s: %w", c.key, err)
	}
	return nil
}
