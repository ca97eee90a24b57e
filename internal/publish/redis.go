package publish

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"marketpulse/internal/domain"
)

// RedisConfig holds connection parameters and key names for RedisPublisher.
type RedisConfig struct {
	Addr       string
	Password   string
	DB         int
	TLSEnabled bool
	Key        string        // string key holding the latest snapshot map
	Channel    string        // pub/sub channel notified on every publish
	TTL        time.Duration // 0 keeps the key forever
}

// RedisPublisher stores the latest snapshot map under a key and announces
// it on a channel.
type RedisPublisher struct {
	rdb     *redis.Client
	key     string
	channel string
	ttl     time.Duration
}

// NewRedisPublisher connects to Redis and pings it before returning.
func NewRedisPublisher(ctx context.Context, cfg RedisConfig) (*RedisPublisher, error) {
	opts := &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return newRedisPublisher(rdb, cfg), nil
}

func newRedisPublisher(rdb *redis.Client, cfg RedisConfig) *RedisPublisher {
	p := &RedisPublisher{rdb: rdb, key: cfg.Key, channel: cfg.Channel, ttl: cfg.TTL}
	if p.key == "" {
		p.key = "marketpulse:snapshot"
	}
	if p.channel == "" {
		p.channel = "marketpulse:snapshots"
	}
	return p
}

// Name returns the publisher identifier.
func (p *RedisPublisher) Name() string { return "redis" }

// Publish writes the map and notifies subscribers in one transaction.
func (p *RedisPublisher) Publish(ctx context.Context, snaps map[string]domain.Snapshot) error {
	data, err := encode(snaps)
	if err != nil {
		return err
	}

	pipe := p.rdb.TxPipeline()
	pipe.Set(ctx, p.key, data, p.ttl)
	pipe.Publish(ctx, p.channel, data)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: publish snapshots: %w", err)
	}
	return nil
}

// Close closes the Redis connection pool.
func (p *RedisPublisher) Close() error {
	return p.rdb.Close()
}
