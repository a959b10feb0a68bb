package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Logger interface for logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// Client wraps redis.Client with the queue operations the agent needs
type Client struct {
	redis  *redis.Client
	logger Logger
}

// NewClient creates a new Redis client wrapper
func NewClient(redisClient *redis.Client, logger Logger) *Client {
	return &Client{
		redis:  redisClient,
		logger: logger,
	}
}

// GetUnderlying returns the underlying redis.Client for advanced operations
func (c *Client) GetUnderlying() *redis.Client {
	return c.redis
}

// Ping checks connectivity
func (c *Client) Ping(ctx context.Context) error {
	if err := c.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// PopOldest right-pops the oldest element from a list. Returns ("", false, nil)
// when the list is empty. The pop is atomic, so a given element is delivered
// to at most one consumer.
func (c *Client) PopOldest(ctx context.Context, queue string) (string, bool, error) {
	val, err := c.redis.RPop(ctx, queue).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		c.logger.Error("redis RPOP failed", "queue", queue, "error", err)
		return "", false, fmt.Errorf("failed to pop from %s: %w", queue, err)
	}
	c.logger.Debug("redis RPOP", "queue", queue)
	return val, true, nil
}

// Push left-pushes an element onto a list (used for test enqueue)
func (c *Client) Push(ctx context.Context, queue, value string) error {
	if err := c.redis.LPush(ctx, queue, value).Err(); err != nil {
		c.logger.Error("redis LPUSH failed", "queue", queue, "error", err)
		return fmt.Errorf("failed to push to %s: %w", queue, err)
	}
	c.logger.Debug("redis LPUSH", "queue", queue)
	return nil
}

// QueueLength returns the number of pending elements in a list
func (c *Client) QueueLength(ctx context.Context, queue string) (int64, error) {
	n, err := c.redis.LLen(ctx, queue).Result()
	if err != nil {
		c.logger.Error("redis LLEN failed", "queue", queue, "error", err)
		return 0, fmt.Errorf("failed to get length of %s: %w", queue, err)
	}
	return n, nil
}

// Close closes the underlying connection
func (c *Client) Close() error {
	return c.redis.Close()
}
