package redisclient

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const nudgeKey = "aivent:jobs:nudge"

// Client is a thin wrapper used to wake workers up the moment a job commits,
// instead of waiting out the poll interval. Redis is a latency optimization
// only: the queue of record is postgres, and a lost nudge just means the next
// poll tick picks the job up.
type Client struct {
	redisdb *redis.Client
}

type Config struct {
	Addr     string
	Password string
	DB       int
}

func New(cfg Config) *Client {
	redisdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  -1, // blocking reads manage their own deadline
		WriteTimeout: 2 * time.Second,
	})

	return &Client{redisdb: redisdb}
}

func (c *Client) Ping(ctx context.Context) error {
	return c.redisdb.Ping(ctx).Err()
}

func (c *Client) Close() error {
	return c.redisdb.Close()
}

// Nudge signals that at least one job became runnable. Best effort.
func (c *Client) Nudge(ctx context.Context) error {
	return c.redisdb.LPush(ctx, nudgeKey, "1").Err()
}

// WaitNudge blocks up to maxWait for a nudge. Returns true when one arrived.
func (c *Client) WaitNudge(ctx context.Context, maxWait time.Duration) (bool, error) {
	res, err := c.redisdb.BLPop(ctx, maxWait, nudgeKey).Result()

	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}

	return len(res) > 0, nil
}
