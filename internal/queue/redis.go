// Package queue is the work queue between capture and the evaluation worker,
// backed by a Redis list.
package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultKey is the list key interactions are pushed to.
const DefaultKey = "request"

// Client pushes payloads onto the tail of a Redis list and pops them from the
// head. A popped payload is gone from Redis; delivery is at most once.
type Client struct {
	rdb *redis.Client
	key string
}

// Open connects to the Redis server at url (redis://host:port/db) and
// verifies the connection.
func Open(ctx context.Context, url, key string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	c := New(redis.NewClient(opts), key)
	if err := c.Ping(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// New wraps an existing client. An empty key selects DefaultKey.
func New(rdb *redis.Client, key string) *Client {
	if key == "" {
		key = DefaultKey
	}
	return &Client{rdb: rdb, key: key}
}

// Key returns the list key.
func (c *Client) Key() string { return c.key }

// Enqueue appends payload to the queue.
func (c *Client) Enqueue(ctx context.Context, payload []byte) error {
	if err := c.rdb.LPush(ctx, c.key, payload).Err(); err != nil {
		return fmt.Errorf("lpush %s: %w", c.key, err)
	}
	return nil
}

// DequeueOne pops the oldest payload. It returns ok=false without error when
// the queue is empty; it never blocks.
func (c *Client) DequeueOne(ctx context.Context) ([]byte, bool, error) {
	b, err := c.rdb.RPop(ctx, c.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("rpop %s: %w", c.key, err)
	}
	return b, true, nil
}

// Len returns the number of queued payloads.
func (c *Client) Len(ctx context.Context) (int64, error) {
	n, err := c.rdb.LLen(ctx, c.key).Result()
	if err != nil {
		return 0, fmt.Errorf("llen %s: %w", c.key, err)
	}
	return n, nil
}

// Ping checks that Redis is reachable.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("pinging redis: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}
