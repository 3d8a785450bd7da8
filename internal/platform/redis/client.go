// Package redis owns the connection to the redis catalog backend and the
// pool gauges exported for it.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	"relaypool/internal/platform/config"
)

var (
	redisPoolHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relaypool_redis_pool_hits_total",
		Help: "Number of times a connection was found in the pool",
	})
	redisPoolMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relaypool_redis_pool_misses_total",
		Help: "Number of times a connection was not found in the pool",
	})
	redisPoolTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relaypool_redis_pool_timeouts_total",
		Help: "Number of times a connection was not obtained due to timeout",
	})
	redisPoolTotalConns = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relaypool_redis_pool_total_conns",
		Help: "Number of total connections in the pool",
	})
	redisPoolIdleConns = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relaypool_redis_pool_idle_conns",
		Help: "Number of idle connections in the pool",
	})
	redisPoolStaleConns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relaypool_redis_pool_stale_conns_total",
		Help: "Number of stale connections removed from the pool",
	})
)

// Client wraps go-redis with the health probe and pool-stats export the
// server wires up. The embedded client is used directly by the catalog
// store.
type Client struct {
	*redis.Client
	lastStats *redis.PoolStats
}

// New connects and pings. The URL is required; the caller decides whether
// redis is in play, not this package.
func New(cfg config.Redis) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("redis URL not configured")
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns
	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close() //nolint:errcheck // best-effort cleanup on init failure
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{Client: client}, nil
}

// Health reports whether redis answers a ping. Registered with the
// readiness probe when the redis backend is active.
func (c *Client) Health(ctx context.Context) error {
	return c.Ping(ctx).Err()
}

func (c *Client) Close() error {
	return c.Client.Close()
}

// RecordPoolStats exports the current pool statistics. The server calls
// this from its stats ticker; counters receive deltas against the previous
// sample so restarts do not double-count.
func (c *Client) RecordPoolStats() {
	stats := c.PoolStats()

	redisPoolTotalConns.Set(float64(stats.TotalConns))
	redisPoolIdleConns.Set(float64(stats.IdleConns))

	var last redis.PoolStats
	if c.lastStats != nil {
		last = *c.lastStats
	}
	addDelta(redisPoolHits, stats.Hits, last.Hits)
	addDelta(redisPoolMisses, stats.Misses, last.Misses)
	addDelta(redisPoolTimeouts, stats.Timeouts, last.Timeouts)
	addDelta(redisPoolStaleConns, stats.StaleConns, last.StaleConns)

	c.lastStats = stats
}

func addDelta(counter prometheus.Counter, current, last uint32) {
	if current > last {
		counter.Add(float64(current - last))
	}
}
