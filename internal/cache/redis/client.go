// Package redis implements the cache, lock and signal bus interfaces of the
// engine using go-redis/v9. Every key is namespaced under "perparb:".
package redis

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "perparb:"

// connectTimeout bounds the startup ping.
const connectTimeout = 5 * time.Second

// ClientConfig holds connection parameters for the Redis client.
type ClientConfig struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	TLSEnabled bool
}

func (cfg ClientConfig) options() *redis.Options {
	opts := &redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MaxRetries:   cfg.MaxRetries,
		ClientName:   "perparb",
		DialTimeout:  connectTimeout,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
	if cfg.TLSEnabled {
		host := cfg.Addr
		if i := strings.LastIndex(host, ":"); i > 0 {
			host = host[:i]
		}
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12, ServerName: host}
	}
	return opts
}

// Client owns the go-redis connection pool shared by the quote cache, lock
// manager, rate limiter and signal bus.
type Client struct {
	rdb *redis.Client
}

// New connects and pings the server, failing fast when it is unreachable.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	rdb := redis.NewClient(cfg.options())

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: connect %s: %w", cfg.Addr, err)
	}
	return &Client{rdb: rdb}, nil
}

// Ping satisfies the health check.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping: %w", err)
	}
	return nil
}

func (c *Client) Close() error { return c.rdb.Close() }

// Underlying exposes the pool to the sibling stores.
func (c *Client) Underlying() *redis.Client { return c.rdb }
