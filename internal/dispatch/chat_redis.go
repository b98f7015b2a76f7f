package dispatch

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// RedisChat stores ride chat history as a Redis list per ride.
type RedisChat struct {
	client *redis.Client
}

func NewRedisChat(addr, password string) *RedisChat {
	return &RedisChat{client: redis.NewClient(&redis.Options{Addr: addr, Password: password})}
}

func chatKey(rideID string) string { return "ride:chat:" + rideID }

func (c *RedisChat) Append(ctx context.Context, rideID, from, text string) error {
	return c.client.RPush(ctx, chatKey(rideID), from+": "+text).Err()
}

// History returns up to limit most recent messages, oldest first.
func (c *RedisChat) History(ctx context.Context, rideID string, limit int64) ([]string, error) {
	return c.client.LRange(ctx, chatKey(rideID), -limit, -1).Result()
}

func (c *RedisChat) Clear(ctx context.Context, rideID string) error {
	return c.client.Del(ctx, chatKey(rideID)).Err()
}

func (c *RedisChat) Close() error { return c.client.Close() }
